// Package ingest feeds the index: real-time message events, history
// backfill, and the startup reconciliation that rebuilds monitoring state
// from the index itself.
package ingest

import (
	"context"
	"time"

	"github.com/arclbx/tgindex/database"
)

// ChatMeta is what a source knows about a chat after resolution. ID is
// always the canonical share id.
type ChatMeta struct {
	ID       int64
	Title    string
	Username string
	Kind     database.ChatKind
}

// RawMessage is one message as fetched from a source, before it becomes an
// index document.
type RawMessage struct {
	ID             int
	Text           string
	Timestamp      time.Time
	Sender         string
	AttachmentName string
}

// MessageSource resolves chat references and iterates chat history. The
// live implementation sits on the Telegram client; tests use a fake.
type MessageSource interface {
	// ResolveChat accepts a numeric id, an @username or a t.me link and
	// returns the chat's metadata.
	ResolveChat(ctx context.Context, ref string) (*ChatMeta, error)

	// IterHistory walks messages with id in (minID, maxID], oldest first,
	// calling fn for each. maxID 0 means no upper bound. A non-nil error
	// from fn stops the walk and is returned as is.
	IterHistory(ctx context.Context, chatID int64, minID, maxID int, fn func(RawMessage) error) error
}
