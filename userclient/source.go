package userclient

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gotd/td/telegram/query"
	"github.com/gotd/td/tg"

	"github.com/arclbx/tgindex/database"
	"github.com/arclbx/tgindex/ingest"
	"github.com/arclbx/tgindex/types"
	"github.com/arclbx/tgindex/utils"
)

// historyBatchSize is the page size of one MessagesGetHistory request.
const historyBatchSize = 100

// Source exposes the user session as the pipeline's message source.
func (u *UserClient) Source() ingest.MessageSource {
	return &telegramSource{client: u}
}

type telegramSource struct {
	client *UserClient
}

func (s *telegramSource) ResolveChat(ctx context.Context, ref string) (*ingest.ChatMeta, error) {
	ref = strings.TrimSpace(ref)
	for _, prefix := range []string{"https://t.me/", "http://t.me/", "t.me/"} {
		ref = strings.TrimPrefix(ref, prefix)
	}

	if rawID, err := strconv.ParseInt(ref, 10, 64); err == nil {
		chatID := types.ShareID(rawID)
		peer := s.client.TClient.PeerStorage.GetInputPeerById(chatID)
		if peer == nil {
			return nil, fmt.Errorf("peer %d not found in storage", chatID)
		}
		if _, empty := peer.(*tg.InputPeerEmpty); empty {
			return nil, fmt.Errorf("peer %d not found in storage", chatID)
		}
		meta := &ingest.ChatMeta{ID: chatID, Kind: peerKind(peer)}
		if database.Ready() {
			if info, err := database.GetChatInfo(ctx, chatID); err == nil {
				meta.Title = info.Title
				meta.Username = info.Username
			}
		}
		return meta, nil
	}

	username := strings.TrimPrefix(ref, "@")
	effChat, err := s.client.GetContext().ResolveUsername(username)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", username, err)
	}
	meta := &ingest.ChatMeta{
		ID:       types.ShareID(effChat.GetID()),
		Username: username,
		Kind:     peerKind(effChat.GetInputPeer()),
	}
	if titled, ok := any(effChat).(interface{ GetTitle() string }); ok {
		meta.Title = titled.GetTitle()
	} else if named, ok := any(effChat).(interface{ GetFirstName() string }); ok {
		meta.Title = named.GetFirstName()
	}
	return meta, nil
}

// IterHistory pages the chat history through the query builder, which
// yields newest first, then replays the kept window oldest first so the
// batch's last document is also its newest.
func (s *telegramSource) IterHistory(ctx context.Context, chatID int64, minID, maxID int, fn func(ingest.RawMessage) error) error {
	peer := s.client.TClient.PeerStorage.GetInputPeerById(chatID)
	if peer == nil {
		return fmt.Errorf("peer %d not found in storage", chatID)
	}

	iter := query.Messages(s.client.TClient.API()).
		GetHistory(peer).
		BatchSize(historyBatchSize).
		Iter()

	var window []ingest.RawMessage
	for iter.Next(ctx) {
		msg, ok := iter.Value().Msg.(*tg.Message)
		if !ok {
			continue
		}
		if msg.ID <= minID {
			// History descends, everything past this point is older.
			break
		}
		if maxID > 0 && msg.ID > maxID {
			continue
		}
		window = append(window, rawMessageFrom(msg))
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate history of chat %d: %w", chatID, err)
	}
	log.FromContext(ctx).Debug("Fetched history window", "chat_id", chatID, "messages", len(window))

	for i := len(window) - 1; i >= 0; i-- {
		if err := fn(window[i]); err != nil {
			return err
		}
	}
	return nil
}

func rawMessageFrom(msg *tg.Message) ingest.RawMessage {
	raw := ingest.RawMessage{
		ID:             msg.ID,
		Text:           msg.Message,
		Timestamp:      time.Unix(int64(msg.Date), 0),
		AttachmentName: utils.AttachmentName(msg.Media),
	}
	if author, ok := msg.GetPostAuthor(); ok {
		raw.Sender = author
	}
	return raw
}

func peerKind(peer tg.InputPeerClass) database.ChatKind {
	switch peer.(type) {
	case *tg.InputPeerUser, *tg.InputPeerSelf:
		return database.ChatKindPrivate
	case *tg.InputPeerChat:
		return database.ChatKindGroup
	case *tg.InputPeerChannel:
		return database.ChatKindChannel
	}
	return database.ChatKindUnknown
}
