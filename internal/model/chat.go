package model

import "time"

type ChatType string

const (
	ChatTypeDirect ChatType = "direct"
	ChatTypeGroup  ChatType = "group"
)

type ChatStatus string

const (
	ChatStatusActive   ChatStatus = "active"
	ChatStatusArchived ChatStatus = "archived"
	ChatStatusDeleted  ChatStatus = "deleted"
)

type MemberRole string

const (
	// RoleOwner is only meaningful for group chats.
	RoleOwner  MemberRole = "owner"
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
)

type MemberStatus string

const (
	MemberStatusActive  MemberStatus = "active"
	MemberStatusLeft    MemberStatus = "left"
	MemberStatusRemoved MemberStatus = "removed"
)

type Chat struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	Type           ChatType   `json:"type"`
	Name           string     `json:"name,omitempty"`
	Description    string     `json:"description,omitempty"`
	Status         ChatStatus `json:"status"`
	CreatedBy      string     `json:"created_by"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty"`
	LastMessageID  *string    `json:"last_message_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ChatMember rows are never deleted, only status-transitioned.
// UnreadCount is a server-owned counter mutated atomically at the store.
type ChatMember struct {
	ChatID               string       `json:"chat_id"`
	UserID               string       `json:"user_id"`
	Role                 MemberRole   `json:"role"`
	Status               MemberStatus `json:"status"`
	UnreadCount          int          `json:"unread_count"`
	LastReadAt           *time.Time   `json:"last_read_at,omitempty"`
	NotificationsEnabled bool         `json:"notifications_enabled"`
	JoinedAt             time.Time    `json:"joined_at"`
}

// ChatDetail is the REST response shape for a single chat.
type ChatDetail struct {
	Chat        Chat         `json:"chat"`
	Members     []ChatMember `json:"members"`
	LastMessage *Message     `json:"last_message,omitempty"`
	UnreadCount int          `json:"unread_count"`
}

// ChatPage is a paginated chat listing.
type ChatPage struct {
	Chats []Chat `json:"chats"`
	Total int    `json:"total"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
}
