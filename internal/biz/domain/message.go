package domain

import "time"

// Group represents a chat group the tracker archives messages from.
// Groups are created as placeholders the first time an unknown external
// group id shows up in a webhook payload.
type Group struct {
	ID         int64
	ExternalID string
	Name       string
	CreatedAt  time.Time
}

// RawMessage is an archived inbound chat message. The external id is
// globally unique: re-delivery of the same message must be a no-op.
// Rows are never deleted; only the processed flag, processing error and
// downloaded media path are mutated after insert.
type RawMessage struct {
	ID          int64
	ExternalID  string
	GroupID     int64
	SenderName  string
	SenderPhone string
	Body        string
	MediaType   string // empty when the message carries no media
	MediaURL    string
	MediaPath   string // local path once the media fetch succeeded
	IsForwarded bool
	IsReply     bool
	ReceivedAt  time.Time

	Processed       bool
	ProcessingError string
}

// HasMedia reports whether the message carries media metadata.
func (m *RawMessage) HasMedia() bool {
	return m.MediaURL != ""
}

// NeedsMediaFetch reports whether the media download is still outstanding.
func (m *RawMessage) NeedsMediaFetch() bool {
	return m.HasMedia() && m.MediaPath == ""
}
