package userclient

import (
	"fmt"
	"strings"
	"time"

	"github.com/celestix/gotgproto/dispatcher"
	"github.com/celestix/gotgproto/dispatcher/handlers"
	"github.com/celestix/gotgproto/dispatcher/handlers/filters"
	"github.com/celestix/gotgproto/ext"
	"github.com/charmbracelet/log"
	"github.com/gotd/td/tg"

	"github.com/arclbx/tgindex/ingest"
	"github.com/arclbx/tgindex/types"
	"github.com/arclbx/tgindex/utils"
)

// StartWatch wires the live update feed into the pipeline. Message
// creations go through the dispatcher's message handler; every other
// update type is routed by dispatchUpdate, one case per type.
func (u *UserClient) StartWatch(p *ingest.Pipeline) {
	disp := u.TClient.Dispatcher
	disp.AddHandlerToGroup(handlers.NewAnyUpdate(func(ectx *ext.Context, upd *ext.Update) error {
		if err := dispatchUpdate(ectx, p, upd.UpdateClass); err != nil {
			log.FromContext(ectx).Error("Failed to apply update",
				"update", fmt.Sprintf("%T", upd.UpdateClass), "error", err)
		}
		return dispatcher.SkipCurrentGroup
	}), 1)
	disp.AddHandlerToGroup(handlers.NewMessage(filters.Message.All, func(ectx *ext.Context, upd *ext.Update) error {
		if err := handleNewMessage(ectx, p, upd); err != nil {
			log.FromContext(ectx).Error("Failed to ingest message", "error", err)
		}
		return dispatcher.SkipCurrentGroup
	}), 2)
}

// dispatchUpdate maps raw update types onto pipeline operations. Update
// types with no entry are dropped here instead of being probed one by one
// downstream.
func dispatchUpdate(ectx *ext.Context, p *ingest.Pipeline, upd tg.UpdateClass) error {
	switch upd.(type) {
	case *tg.UpdateEditMessage, *tg.UpdateEditChannelMessage:
		return handleEdit(ectx, p, upd)
	case *tg.UpdateDeleteChannelMessages:
		return handleChannelDelete(ectx, p, upd)
	}
	return nil
}

func handleNewMessage(ectx *ext.Context, p *ingest.Pipeline, upd *ext.Update) error {
	if upd.EffectiveMessage == nil || upd.EffectiveMessage.Message == nil {
		return nil
	}
	if upd.EffectiveMessage.IsService {
		return nil
	}
	msg := upd.EffectiveMessage.Message
	chatID := types.ShareID(upd.EffectiveChat().GetID())
	if chatID == 0 {
		return nil
	}
	return p.IngestNew(ectx, types.Document{
		Content:        msg.Message,
		Locator:        types.Locator(chatID, msg.ID),
		ChatID:         chatID,
		Timestamp:      time.Unix(int64(msg.Date), 0),
		Sender:         senderName(ectx, upd, msg),
		AttachmentName: utils.AttachmentName(msg.Media),
	})
}

func handleEdit(ectx *ext.Context, p *ingest.Pipeline, upd tg.UpdateClass) error {
	var msgClass tg.MessageClass
	switch u := upd.(type) {
	case *tg.UpdateEditMessage:
		msgClass = u.Message
	case *tg.UpdateEditChannelMessage:
		msgClass = u.Message
	default:
		return nil
	}
	msg, ok := msgClass.(*tg.Message)
	if !ok {
		return nil
	}
	chatID := peerShareID(msg.GetPeerID())
	if chatID == 0 {
		return nil
	}
	return p.IngestEdit(ectx, chatID, msg.ID, msg.Message)
}

func handleChannelDelete(ectx *ext.Context, p *ingest.Pipeline, upd tg.UpdateClass) error {
	update, ok := upd.(*tg.UpdateDeleteChannelMessages)
	if !ok {
		return nil
	}
	// Plain-chat deletes (UpdateDeleteMessages) carry no peer, so there is
	// no chat to scope the locators to; those are left in the index.
	return p.IngestDelete(ectx, types.ShareID(update.GetChannelID()), update.GetMessages())
}

func peerShareID(peer tg.PeerClass) int64 {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return p.UserID
	case *tg.PeerChat:
		return p.ChatID
	case *tg.PeerChannel:
		return p.ChannelID
	}
	return 0
}

// senderName resolves the display name of the message author from the
// update's entity maps, caching per author id.
func senderName(ectx *ext.Context, upd *ext.Update, msg *tg.Message) string {
	if msg.Out {
		return strings.TrimSpace(ectx.Self.FirstName + " " + ectx.Self.LastName)
	}
	if author, ok := msg.GetPostAuthor(); ok && author != "" {
		return author
	}
	if upd.Entities == nil {
		return ""
	}
	fromPeer := msg.FromID
	if fromPeer == nil {
		fromPeer = msg.GetPeerID()
	}
	switch from := fromPeer.(type) {
	case *tg.PeerUser:
		if name, ok := utils.CachedName(from.UserID); ok {
			return name
		}
		if user, ok := upd.Entities.Users[from.UserID]; ok {
			name := strings.TrimSpace(user.FirstName + " " + user.LastName)
			utils.CacheName(from.UserID, name)
			return name
		}
	case *tg.PeerChannel:
		if name, ok := utils.CachedName(from.ChannelID); ok {
			return name
		}
		if channel, ok := upd.Entities.Channels[from.ChannelID]; ok {
			utils.CacheName(from.ChannelID, channel.Title)
			return channel.Title
		}
	case *tg.PeerChat:
		if chat, ok := upd.Entities.Chats[from.ChatID]; ok {
			return chat.Title
		}
	}
	return ""
}
