package service

import (
	"context"
	"time"

	"github.com/orgchat/internal/model"
	"github.com/orgchat/internal/notify"
	"github.com/orgchat/internal/platform"
	"github.com/orgchat/internal/repository"
)

// ChatStore is the persistence surface for chats and memberships.
type ChatStore interface {
	CreateDirect(ctx context.Context, orgID, userA, userB string) (*model.Chat, bool, error)
	CreateGroup(ctx context.Context, c *model.Chat, memberIDs []string) error
	GetByID(ctx context.Context, orgID, chatID string) (*model.Chat, error)
	UpdateChat(ctx context.Context, chatID, name, description string) error
	SetStatus(ctx context.Context, chatID string, status model.ChatStatus) error
	SetLastMessage(ctx context.Context, chatID, messageID string, at time.Time) error
	GetMember(ctx context.Context, chatID, userID string) (*model.ChatMember, error)
	GetMembers(ctx context.Context, chatID string) ([]model.ChatMember, error)
	GetActiveMemberIDs(ctx context.Context, chatID string) ([]string, error)
	AddMembers(ctx context.Context, chatID string, userIDs []string) error
	SetMemberStatus(ctx context.Context, chatID, userID string, status model.MemberStatus) error
	IncrementUnread(ctx context.Context, chatID, senderID string) error
	ResetUnread(ctx context.Context, chatID, userID string, at time.Time) error
	List(ctx context.Context, orgID, userID string, q repository.ListQuery) ([]model.Chat, int, error)
}

// MessageStore persists messages and attachments.
type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, chatID, messageID string) (*model.Message, error)
	ListPage(ctx context.Context, chatID string, page, limit int, beforeMessageID string) (*model.MessagePage, error)
	SoftDelete(ctx context.Context, chatID, messageID, senderID string) error
	SenderIDs(ctx context.Context, messageIDs []string, recipientID string) ([]string, error)
}

// ReceiptStore records delivery and read receipts, write-once per timestamp.
type ReceiptStore interface {
	MarkDelivered(ctx context.Context, messageIDs []string, userID string, at time.Time) error
	MarkRead(ctx context.Context, messageIDs []string, userID string, at time.Time) error
	Statuses(ctx context.Context, messageIDs []string) (map[string][]model.MessageReadStatus, error)
}

// Directory resolves org membership and member profiles via the platform.
type Directory interface {
	VerifyMember(ctx context.Context, orgID, userID string) (*model.OrgMember, error)
	ResolveMembers(ctx context.Context, orgID string, userIDs []string) ([]model.RosterMember, error)
}

// Notifier is the notification fan-out after a message or membership change.
type Notifier interface {
	DispatchMessage(ctx context.Context, ev notify.MessageEvent)
	DispatchMemberAdded(ctx context.Context, chat *model.Chat, actor model.RosterMember, addedIDs []string)
	DispatchIncomingCall(ctx context.Context, chat *model.Chat, caller model.RosterMember, calleeID string)
}

// Auditor records chat management actions; fire and forget.
type Auditor interface {
	Audit(ctx context.Context, ev platform.AuditEvent)
}

// Tickets opens moderation tickets from flagged messages.
type Tickets interface {
	CreateTicket(ctx context.Context, req platform.TicketRequest) (string, error)
}

// Broadcaster is the narrow realtime surface the orchestrator publishes to.
// Failures are the broadcaster's problem; callers treat it as best effort.
type Broadcaster interface {
	BroadcastToChat(chatID, event string, payload any)
	EmitToUser(userID, event string, payload any)
}
