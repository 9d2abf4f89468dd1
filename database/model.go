package database

type ChatKind int

const (
	ChatKindUnknown ChatKind = iota
	ChatKindPrivate
	ChatKindGroup
	ChatKindChannel
)

func (k ChatKind) String() string {
	switch k {
	case ChatKindPrivate:
		return "private"
	case ChatKindGroup:
		return "group"
	case ChatKindChannel:
		return "channel"
	}
	return "unknown"
}

// ChatInfo is the metadata snapshot of a chat, refreshed whenever the chat
// is resolved through the client.
type ChatInfo struct {
	// Canonical share id.
	ChatID   int64    `gorm:"primaryKey" json:"chat_id"`
	Title    string   `json:"title"`
	Username string   `json:"username"`
	Kind     ChatKind `json:"kind"`
}

// DisplayName prefers the title, then the username, then the bare id form.
func (c *ChatInfo) DisplayName() string {
	if c.Title != "" {
		return c.Title
	}
	if c.Username != "" {
		return "@" + c.Username
	}
	return ""
}
