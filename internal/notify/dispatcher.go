// Package notify routes message notifications to the platform service:
// mention notifications immediately, everything else as grouped unread
// counters keyed by (recipient, chat, sender).
package notify

import (
	"context"
	"sync"
	"unicode/utf8"

	"github.com/orgchat/internal/logger"
	"github.com/orgchat/internal/model"
	"github.com/orgchat/internal/platform"
)

// Sink is the platform surface the dispatcher needs.
type Sink interface {
	Notify(ctx context.Context, n platform.Notification)
	NotifyGroupedUnread(ctx context.Context, g platform.GroupedUnread) error
}

// Dispatcher fans notifications out after a message is stored. All failures
// are logged and swallowed: a dead notification service must not fail sends.
type Dispatcher struct {
	sink Sink

	mu    sync.Mutex
	locks map[groupKey]*sync.Mutex
}

type groupKey struct {
	recipientID string
	chatID      string
	senderID    string
}

func NewDispatcher(sink Sink) *Dispatcher {
	return &Dispatcher{
		sink:  sink,
		locks: make(map[groupKey]*sync.Mutex),
	}
}

// MessageEvent describes one stored message and its audience.
type MessageEvent struct {
	Chat         *model.Chat
	Message      *model.Message
	Sender       model.RosterMember
	RecipientIDs []string
	// MentionedIDs is the deduplicated mention list; a subset of recipients.
	MentionedIDs []string
	// MutedIDs are members with notifications disabled for this chat.
	MutedIDs []string
}

const previewLimit = 120

// DispatchMessage notifies every recipient. Mentioned users get an immediate
// notification; the rest get their grouped unread entry for this chat and
// sender created or incremented. Muted members are skipped entirely.
func (d *Dispatcher) DispatchMessage(ctx context.Context, ev MessageEvent) {
	mentioned := make(map[string]bool, len(ev.MentionedIDs))
	for _, id := range ev.MentionedIDs {
		mentioned[id] = true
	}
	muted := make(map[string]bool, len(ev.MutedIDs))
	for _, id := range ev.MutedIDs {
		muted[id] = true
	}

	preview := messagePreview(ev.Message)
	for _, recipientID := range ev.RecipientIDs {
		if recipientID == ev.Message.SenderID || muted[recipientID] {
			continue
		}
		if mentioned[recipientID] {
			d.sink.Notify(ctx, platform.Notification{
				RecipientID: recipientID,
				Type:        "chat.mention",
				Title:       ev.Sender.FullName(),
				Body:        preview,
				Data: map[string]string{
					"chat_id":    ev.Chat.ID,
					"message_id": ev.Message.ID,
					"sender_id":  ev.Message.SenderID,
				},
			})
			continue
		}
		d.dispatchGrouped(ctx, recipientID, ev, preview)
	}
}

func (d *Dispatcher) dispatchGrouped(ctx context.Context, recipientID string, ev MessageEvent, preview string) {
	key := groupKey{recipientID: recipientID, chatID: ev.Chat.ID, senderID: ev.Message.SenderID}
	lock := d.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	err := d.sink.NotifyGroupedUnread(ctx, platform.GroupedUnread{
		RecipientID: recipientID,
		ChatID:      ev.Chat.ID,
		ChatName:    ev.Chat.Name,
		SenderID:    ev.Message.SenderID,
		SenderName:  ev.Sender.FullName(),
		Preview:     preview,
	})
	if err != nil {
		logger.Errorf("notify grouped (chat %s, recipient %s): %v", ev.Chat.ID, recipientID, err)
	}
}

// lockFor returns the mutex serializing grouped updates for one key, so two
// concurrent messages from the same sender cannot race the create-or-increment
// into duplicate notifications.
func (d *Dispatcher) lockFor(key groupKey) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	lock, ok := d.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[key] = lock
	}
	return lock
}

// DispatchMemberAdded notifies users who were just added to a group chat.
func (d *Dispatcher) DispatchMemberAdded(ctx context.Context, chat *model.Chat, actor model.RosterMember, addedIDs []string) {
	for _, id := range addedIDs {
		if id == actor.UserID {
			continue
		}
		d.sink.Notify(ctx, platform.Notification{
			RecipientID: id,
			Type:        "chat.member_added",
			Title:       chat.Name,
			Body:        actor.FullName() + " added you to the chat",
			Data: map[string]string{
				"chat_id":  chat.ID,
				"actor_id": actor.UserID,
			},
		})
	}
}

// DispatchIncomingCall notifies the callee about a ringing call, so a user
// without an open socket still sees it.
func (d *Dispatcher) DispatchIncomingCall(ctx context.Context, chat *model.Chat, caller model.RosterMember, calleeID string) {
	d.sink.Notify(ctx, platform.Notification{
		RecipientID: calleeID,
		Type:        "call.incoming",
		Title:       caller.FullName(),
		Body:        "Incoming call",
		Data: map[string]string{
			"chat_id":   chat.ID,
			"caller_id": caller.UserID,
		},
	})
}

func messagePreview(m *model.Message) string {
	switch m.Type {
	case model.MessageTypeAttachment:
		if len(m.Attachments) > 0 {
			return m.Attachments[0].FileName
		}
		return "Attachment"
	case model.MessageTypeCallStart:
		return "Call started"
	case model.MessageTypeCallEnd:
		return "Call ended"
	}
	if m.Content == nil {
		return ""
	}
	s := *m.Content
	if utf8.RuneCountInString(s) <= previewLimit {
		return s
	}
	runes := []rune(s)
	return string(runes[:previewLimit]) + "…"
}
