package model

import "time"

type MessageType string

const (
	MessageTypeText       MessageType = "text"
	MessageTypeAttachment MessageType = "attachment"
	MessageTypeCallStart  MessageType = "call_start"
	MessageTypeCallEnd    MessageType = "call_end"
	MessageTypeSystem     MessageType = "system"
)

type MessageStatus string

const (
	MessageStatusSent MessageStatus = "sent"
)

// Message is immutable after creation except for soft delete.
type Message struct {
	ID        string        `json:"id"`
	ChatID    string        `json:"chat_id"`
	SenderID  string        `json:"sender_id"`
	Type      MessageType   `json:"type"`
	Content   *string       `json:"content"`
	ReplyToID *string       `json:"reply_to_id,omitempty"`
	Status    MessageStatus `json:"status"`
	DeletedAt *time.Time    `json:"deleted_at,omitempty"`
	CreatedAt time.Time     `json:"created_at"`

	Sender      *RosterMember       `json:"sender,omitempty"`
	Attachments []MessageAttachment `json:"attachments,omitempty"`
	ReplyTo     *Message            `json:"reply_to,omitempty"`
	// ReadStatus is populated on fetch for the caller's own messages only.
	ReadStatus *ReadStatusView `json:"read_status,omitempty"`
}

// MessageAttachment carries file metadata only; the URL is an opaque pointer.
type MessageAttachment struct {
	ID           string    `json:"id"`
	MessageID    string    `json:"message_id"`
	FileName     string    `json:"file_name"`
	FileURL      string    `json:"file_url"`
	FileType     string    `json:"file_type"`
	FileSize     int64     `json:"file_size"`
	ThumbnailURL *string   `json:"thumbnail_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// MessageReadStatus tracks delivery and read per (message, user).
// Both timestamps are write-once: set at most once, never moved.
type MessageReadStatus struct {
	MessageID   string     `json:"message_id"`
	UserID      string     `json:"user_id"`
	DeliveredAt *time.Time `json:"delivered_at"`
	ReadAt      *time.Time `json:"read_at"`
}

// ReadStatusView is the per-message receipt echo returned to senders.
type ReadStatusView struct {
	DeliveredAt *time.Time `json:"delivered_at"`
	ReadAt      *time.Time `json:"read_at"`
}

// MessagePage is a paginated message listing in chronological order.
type MessagePage struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	Limit    int       `json:"limit"`
}
