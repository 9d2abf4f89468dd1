package service

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/arclbx/tgindex/database"
	"github.com/arclbx/tgindex/types"
)

const previewRunes = 80

// NewestSummary is the abbreviated form of a chat's newest document.
type NewestSummary struct {
	Locator   string    `json:"locator"`
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender,omitempty"`
	Preview   string    `json:"preview"`
}

// ChatStatus is one monitored chat's slice of the status report. When the
// per-chat queries fail the entry is kept with Unavailable set, so one bad
// chat never takes down the whole report.
type ChatStatus struct {
	ChatID      int64          `json:"chat_id"`
	Title       string         `json:"title,omitempty"`
	Count       uint64         `json:"count"`
	Newest      *NewestSummary `json:"newest,omitempty"`
	Unavailable bool           `json:"unavailable,omitempty"`
}

type StatusReport struct {
	TotalDocuments uint64       `json:"total_documents"`
	MonitoredChats []ChatStatus `json:"monitored_chats"`
	ExcludedChats  []int64      `json:"excluded_chats"`
}

// Status assembles the full archive status. The total count is mandatory;
// each per-chat section degrades independently.
func (s *Service) Status(ctx context.Context) (*StatusReport, error) {
	total, err := s.eng.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}

	report := &StatusReport{
		TotalDocuments: total,
		MonitoredChats: make([]ChatStatus, 0),
		ExcludedChats:  s.state.ExcludedChats(),
	}
	for _, chatID := range s.state.MonitoredChats() {
		report.MonitoredChats = append(report.MonitoredChats, s.chatStatus(ctx, chatID))
	}
	return report, nil
}

func (s *Service) chatStatus(ctx context.Context, chatID int64) ChatStatus {
	status := ChatStatus{ChatID: chatID}
	if database.Ready() {
		if info, err := database.GetChatInfo(ctx, chatID); err == nil {
			status.Title = info.DisplayName()
		}
	}

	count, err := s.eng.CountChat(ctx, chatID)
	if err != nil {
		log.FromContext(ctx).Warn("Chat status unavailable", "chat_id", chatID, "error", err)
		status.Unavailable = true
		return status
	}
	status.Count = count

	newest, ok := s.state.Newest(chatID)
	if !ok {
		// Cache miss after a delete or a restart: refill from the index.
		fromIndex, err := s.eng.NewestInChat(ctx, chatID)
		if err != nil {
			log.FromContext(ctx).Warn("Chat status unavailable", "chat_id", chatID, "error", err)
			status.Unavailable = true
			return status
		}
		if fromIndex == nil {
			return status
		}
		newest = *fromIndex
		s.state.ObserveNewest(chatID, newest)
	}
	status.Newest = &NewestSummary{
		Locator:   newest.Locator,
		Timestamp: newest.Timestamp,
		Sender:    newest.Sender,
		Preview:   preview(&newest),
	}
	return status
}

func preview(doc *types.Document) string {
	text := doc.Content
	if text == "" {
		text = doc.AttachmentName
	}
	runes := []rune(text)
	if len(runes) > previewRunes {
		return string(runes[:previewRunes]) + "..."
	}
	return text
}
