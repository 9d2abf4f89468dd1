package types

import (
	"fmt"
	"time"
)

// Document is one archived message as stored in the index.
type Document struct {
	// The message text, empty if the message only carries a file.
	Content string `json:"content"`
	// Unique stable key of the source message, e.g. https://t.me/c/12345/678
	Locator string `json:"locator"`
	// Canonical share id of the owning chat.
	ChatID    int64     `json:"chat_id"`
	Timestamp time.Time `json:"timestamp"`
	// Display name of the sender, empty if unknown.
	Sender string `json:"sender"`
	// Filename of the attached file, empty if none.
	AttachmentName string `json:"attachment_name"`
}

func (d *Document) HasAttachment() bool {
	return d.AttachmentName != ""
}

// Indexable reports whether the document carries anything worth indexing.
// Messages with neither text nor an attachment name never reach the index.
func (d *Document) Indexable() bool {
	return d.Content != "" || d.AttachmentName != ""
}

// Locator builds the canonical locator for a message in a chat.
func Locator(chatID int64, messageID int) string {
	return fmt.Sprintf("https://t.me/c/%d/%d", chatID, messageID)
}

// ShareID normalizes a raw peer id to the canonical chat id, so that the
// same logical chat always maps to one numeric form regardless of whether
// the protocol referenced it as a bare peer id or a bot-API style marked id.
func ShareID(rawID int64) int64 {
	if rawID >= 0 {
		return rawID
	}
	id := -rawID
	// marked channel ids carry a -100 prefix
	if id > 1_000_000_000_000 {
		id -= 1_000_000_000_000
	}
	return id
}

// SearchHit is one search result entry: the stored document plus a
// highlighted excerpt of its content (or attachment name).
type SearchHit struct {
	Document
	// HTML-safe excerpt with matched terms wrapped in <b> tags.
	Highlighted string `json:"highlighted"`
}

// SearchResult is one page of ranked hits.
type SearchResult struct {
	Hits       []SearchHit `json:"hits"`
	TotalHits  uint64      `json:"total_hits"`
	Page       int         `json:"page"`
	IsLastPage bool        `json:"is_last_page"`
}

// AttachmentFilter narrows a search by attachment presence.
type AttachmentFilter string

const (
	AttachmentAll  AttachmentFilter = "all"
	AttachmentNone AttachmentFilter = "text_only"
	AttachmentOnly AttachmentFilter = "attachment_only"
)

func (f AttachmentFilter) Valid() bool {
	switch f {
	case AttachmentAll, AttachmentNone, AttachmentOnly, "":
		return true
	}
	return false
}

// SearchRequest describes one paginated query against the index.
type SearchRequest struct {
	Query string `json:"q"`
	// Restrict to these chats; empty means unrestricted.
	ChatIDs    []int64          `json:"chat_ids,omitempty"`
	Attachment AttachmentFilter `json:"attachment,omitempty"`
	// 1-indexed.
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}
