package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/orgchat/internal/logger"
	"github.com/orgchat/internal/mention"
	"github.com/orgchat/internal/model"
	"github.com/orgchat/internal/notify"
	"github.com/orgchat/internal/platform"
	"github.com/orgchat/internal/repository"
)

type SendMessageRequest struct {
	Content     string                    `json:"content"`
	Type        model.MessageType         `json:"type"`
	ReplyToID   string                    `json:"reply_to_id"`
	Attachments []model.MessageAttachment `json:"attachments"`
}

// MessagePayload is the broadcast shape of message:new.
type MessagePayload struct {
	ChatID  string         `json:"chat_id"`
	Message *model.Message `json:"message"`
}

// SendMessage persists the message, updates chat activity, resolves
// mentions, bumps unread counters, dispatches notifications and broadcasts
// to the chat room. The persisted message is the unit of success: everything
// after the store writes is best effort.
func (s *ChatService) SendMessage(ctx context.Context, orgID, chatID, senderID string, req SendMessageRequest) (*model.Message, error) {
	chat, _, err := s.memberChat(ctx, orgID, chatID, senderID)
	if err != nil {
		return nil, err
	}
	if chat.Status != model.ChatStatusActive {
		return nil, accessDenied("chat is not active")
	}

	content := strings.TrimSpace(req.Content)
	if content == "" && len(req.Attachments) == 0 {
		return nil, invalidRequest("message requires content or attachments")
	}
	msgType := req.Type
	if msgType == "" {
		msgType = model.MessageTypeText
		if content == "" {
			msgType = model.MessageTypeAttachment
		}
	}

	var replyToID *string
	if req.ReplyToID != "" {
		replied, err := s.messages.GetByID(ctx, chatID, req.ReplyToID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, notFound("reply target not found")
			}
			return nil, err
		}
		replyToID = &replied.ID
	}

	now := time.Now().UTC()
	msg := &model.Message{
		ID:          uuid.New().String(),
		ChatID:      chatID,
		SenderID:    senderID,
		Type:        msgType,
		Status:      model.MessageStatusSent,
		ReplyToID:   replyToID,
		Attachments: req.Attachments,
		CreatedAt:   now,
	}
	if content != "" {
		msg.Content = &content
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}
	if err := s.chats.SetLastMessage(ctx, chatID, msg.ID, now); err != nil {
		return nil, fmt.Errorf("set last message: %w", err)
	}
	if err := s.chats.IncrementUnread(ctx, chatID, senderID); err != nil {
		return nil, fmt.Errorf("increment unread: %w", err)
	}

	members, err := s.chats.GetMembers(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("chat members: %w", err)
	}
	activeIDs := make([]string, 0, len(members))
	mutedIDs := make([]string, 0)
	for _, m := range members {
		if m.Status != model.MemberStatusActive {
			continue
		}
		activeIDs = append(activeIDs, m.UserID)
		if !m.NotificationsEnabled {
			mutedIDs = append(mutedIDs, m.UserID)
		}
	}

	roster, err := s.directory.ResolveMembers(ctx, orgID, activeIDs)
	if err != nil {
		// Mentions and notifications degrade; the message is already stored.
		logger.Errorf("resolve roster for chat %s: %v", chatID, err)
		roster = nil
	}

	var sender model.RosterMember
	rosterNoSender := make([]model.RosterMember, 0, len(roster))
	for _, m := range roster {
		if m.UserID == senderID {
			sender = m
			continue
		}
		rosterNoSender = append(rosterNoSender, m)
	}
	if sender.UserID == "" {
		sender = model.RosterMember{UserID: senderID}
	}
	msg.Sender = &sender

	mentionedIDs := mention.Resolve(content, rosterNoSender)

	s.notifier.DispatchMessage(ctx, notify.MessageEvent{
		Chat:         chat,
		Message:      msg,
		Sender:       sender,
		RecipientIDs: activeIDs,
		MentionedIDs: mentionedIDs,
		MutedIDs:     mutedIDs,
	})

	if msg.ReplyToID != nil {
		if replied, err := s.messages.GetByID(ctx, chatID, *msg.ReplyToID); err == nil {
			msg.ReplyTo = replied
		}
	}

	s.broadcaster.BroadcastToChat(chatID, "message:new", MessagePayload{ChatID: chatID, Message: msg})
	return msg, nil
}

type GetMessagesRequest struct {
	Page            int
	Limit           int
	BeforeMessageID string
}

// ReadPayload is the shape of message:read events to the sender's room.
type ReadPayload struct {
	ChatID     string    `json:"chat_id"`
	MessageIDs []string  `json:"message_ids"`
	ReadBy     string    `json:"read_by"`
	ReadAt     time.Time `json:"read_at"`
}

// GetMessages returns one chronological page of a chat's history. Opening a
// chat implies reading it: the caller's unread counter resets, last_read_at
// advances and every returned message is marked read. This side effect is
// part of the contract, not an incident.
func (s *ChatService) GetMessages(ctx context.Context, orgID, chatID, userID string, req GetMessagesRequest) (*model.MessagePage, error) {
	if req.Page < 1 || req.Limit < 1 || req.Limit > 100 {
		return nil, invalidRequest("bad pagination")
	}
	_, _, err := s.memberChat(ctx, orgID, chatID, userID)
	if err != nil {
		return nil, err
	}

	page, err := s.messages.ListPage(ctx, chatID, req.Page, req.Limit, req.BeforeMessageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFound("message not found")
		}
		return nil, fmt.Errorf("list messages: %w", err)
	}

	now := time.Now().UTC()
	if err := s.chats.ResetUnread(ctx, chatID, userID, now); err != nil {
		return nil, fmt.Errorf("reset unread: %w", err)
	}

	ids := make([]string, 0, len(page.Messages))
	bySender := make(map[string][]string)
	for _, m := range page.Messages {
		ids = append(ids, m.ID)
		if m.SenderID != userID {
			bySender[m.SenderID] = append(bySender[m.SenderID], m.ID)
		}
	}
	if err := s.receipts.MarkRead(ctx, ids, userID, now); err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	for senderID, msgIDs := range bySender {
		s.broadcaster.EmitToUser(senderID, "message:read", ReadPayload{
			ChatID: chatID, MessageIDs: msgIDs, ReadBy: userID, ReadAt: now,
		})
	}

	if err := s.hydrateSendersAndReceipts(ctx, orgID, userID, page.Messages); err != nil {
		logger.Errorf("hydrate messages for chat %s: %v", chatID, err)
	}
	return page, nil
}

// hydrateSendersAndReceipts fills sender profiles for all messages and the
// read-status echo on the caller's own messages.
func (s *ChatService) hydrateSendersAndReceipts(ctx context.Context, orgID, userID string, messages []model.Message) error {
	if len(messages) == 0 {
		return nil
	}
	senderSet := make(map[string]bool)
	ownIDs := make([]string, 0)
	for i := range messages {
		senderSet[messages[i].SenderID] = true
		if messages[i].SenderID == userID {
			ownIDs = append(ownIDs, messages[i].ID)
		}
	}
	senderIDs := make([]string, 0, len(senderSet))
	for id := range senderSet {
		senderIDs = append(senderIDs, id)
	}

	roster, err := s.directory.ResolveMembers(ctx, orgID, senderIDs)
	if err != nil {
		return err
	}
	profiles := make(map[string]model.RosterMember, len(roster))
	for _, m := range roster {
		profiles[m.UserID] = m
	}

	var statuses map[string][]model.MessageReadStatus
	if len(ownIDs) > 0 {
		statuses, err = s.receipts.Statuses(ctx, ownIDs)
		if err != nil {
			return err
		}
	}

	for i := range messages {
		m := &messages[i]
		if p, ok := profiles[m.SenderID]; ok {
			profile := p
			m.Sender = &profile
		}
		if m.SenderID != userID {
			continue
		}
		// Direct chats have one recipient row; in groups any recipient's
		// receipt stands in for the message.
		for _, st := range statuses[m.ID] {
			if m.ReadStatus == nil {
				m.ReadStatus = &model.ReadStatusView{}
			}
			if m.ReadStatus.DeliveredAt == nil {
				m.ReadStatus.DeliveredAt = st.DeliveredAt
			}
			if m.ReadStatus.ReadAt == nil {
				m.ReadStatus.ReadAt = st.ReadAt
			}
		}
	}
	return nil
}

// DeliveredPayload is the shape of message:delivered events.
type DeliveredPayload struct {
	MessageIDs  []string  `json:"message_ids"`
	DeliveredTo string    `json:"delivered_to"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// MarkDelivered records delivery acks from a client and echoes them to each
// sender's personal room. Idempotent; duplicate acks are absorbed by the
// store.
func (s *ChatService) MarkDelivered(ctx context.Context, userID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	if err := s.receipts.MarkDelivered(ctx, messageIDs, userID, now); err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	senders, err := s.messages.SenderIDs(ctx, messageIDs, userID)
	if err != nil {
		logger.Errorf("delivered echo: %v", err)
		return nil
	}
	for _, senderID := range senders {
		if senderID == userID {
			continue
		}
		s.broadcaster.EmitToUser(senderID, "message:delivered", DeliveredPayload{
			MessageIDs: messageIDs, DeliveredTo: userID, DeliveredAt: now,
		})
	}
	return nil
}

// MarkRead records read acks for chat messages and echoes a read event to
// each sender's personal room only, never the whole chat.
func (s *ChatService) MarkRead(ctx context.Context, orgID, chatID, userID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	_, _, err := s.memberChat(ctx, orgID, chatID, userID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := s.receipts.MarkRead(ctx, messageIDs, userID, now); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	senders, err := s.messages.SenderIDs(ctx, messageIDs, userID)
	if err != nil {
		logger.Errorf("read echo: %v", err)
		return nil
	}
	for _, senderID := range senders {
		if senderID == userID {
			continue
		}
		s.broadcaster.EmitToUser(senderID, "message:read", ReadPayload{
			ChatID: chatID, MessageIDs: messageIDs, ReadBy: userID, ReadAt: now,
		})
	}
	return nil
}

// DeleteMessage soft-deletes a message. The sender may always delete their
// own; in groups, owners and admins may delete anyone's.
func (s *ChatService) DeleteMessage(ctx context.Context, orgID, chatID, userID, messageID string) error {
	chat, member, err := s.memberChat(ctx, orgID, chatID, userID)
	if err != nil {
		return err
	}
	msg, err := s.messages.GetByID(ctx, chatID, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return notFound("message not found")
		}
		return err
	}
	if msg.SenderID != userID {
		isModerator := chat.Type == model.ChatTypeGroup &&
			(member.Role == model.RoleOwner || member.Role == model.RoleAdmin)
		if !isModerator {
			return accessDenied("only the sender may delete this message")
		}
	}
	if err := s.messages.SoftDelete(ctx, chatID, messageID, msg.SenderID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return notFound("message not found")
		}
		return fmt.Errorf("delete message: %w", err)
	}

	s.broadcaster.BroadcastToChat(chatID, "message:deleted", map[string]string{
		"chat_id": chatID, "message_id": messageID,
	})
	s.auditor.Audit(ctx, platform.AuditEvent{
		OrganizationID: orgID, ActorID: userID,
		Action: "chat.message_deleted", TargetID: messageID,
		Details: map[string]string{"chat_id": chatID},
	})
	return nil
}

// NotifyIncomingCall pushes a call.incoming notification to the callee.
// Called by the gateway once a call starts ringing; the ring itself already
// went out over the socket, so every failure here is only logged.
func (s *ChatService) NotifyIncomingCall(ctx context.Context, orgID, chatID, callerID, calleeID string) {
	chat, err := s.chats.GetByID(ctx, orgID, chatID)
	if err != nil {
		logger.Errorf("notify incoming call: chat %s: %v", chatID, err)
		return
	}
	caller := model.RosterMember{UserID: callerID}
	if roster, err := s.directory.ResolveMembers(ctx, orgID, []string{callerID}); err != nil {
		logger.Errorf("notify incoming call: resolve caller %s: %v", callerID, err)
	} else if len(roster) > 0 {
		caller = roster[0]
	}
	s.notifier.DispatchIncomingCall(ctx, chat, caller, calleeID)
}
