// Package service holds the chat orchestrator: chat lifecycle, message
// fan-out and receipt handling over the stores, the organization directory
// and the realtime broadcaster.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/orgchat/internal/access"
	"github.com/orgchat/internal/logger"
	"github.com/orgchat/internal/model"
	"github.com/orgchat/internal/platform"
	"github.com/orgchat/internal/repository"
)

type ChatService struct {
	chats     ChatStore
	messages  MessageStore
	receipts  ReceiptStore
	directory Directory
	notifier  Notifier
	auditor   Auditor
	tickets   Tickets
	// broadcaster is injected at startup; all calls are best effort.
	broadcaster Broadcaster
}

func NewChatService(
	chats ChatStore,
	messages MessageStore,
	receipts ReceiptStore,
	directory Directory,
	notifier Notifier,
	auditor Auditor,
	tickets Tickets,
	broadcaster Broadcaster,
) *ChatService {
	return &ChatService{
		chats:       chats,
		messages:    messages,
		receipts:    receipts,
		directory:   directory,
		notifier:    notifier,
		auditor:     auditor,
		tickets:     tickets,
		broadcaster: broadcaster,
	}
}

// AttachBroadcaster wires the realtime gateway in after construction; the
// gateway checks memberships and records receipts through this service, so
// neither can be built first with the other inside. Pass nil to NewChatService
// and attach before serving requests.
func (s *ChatService) AttachBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

type CreateChatRequest struct {
	Type        model.ChatType `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	MemberIDs   []string       `json:"member_ids"`
}

// CreateChat creates a direct or group chat. Direct chats are deduplicated
// per pair: the existing chat comes back instead of a new one.
func (s *ChatService) CreateChat(ctx context.Context, orgID, userID string, req CreateChatRequest) (*model.ChatDetail, error) {
	actor, err := s.directory.VerifyMember(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, platform.ErrNotMember) {
			return nil, accessDenied("not an organization member")
		}
		return nil, err
	}

	switch req.Type {
	case model.ChatTypeDirect:
		return s.createDirect(ctx, orgID, actor, req)
	case model.ChatTypeGroup:
		return s.createGroup(ctx, orgID, actor, req)
	default:
		return nil, invalidRequest("type must be direct or group")
	}
}

func (s *ChatService) createDirect(ctx context.Context, orgID string, actor *model.OrgMember, req CreateChatRequest) (*model.ChatDetail, error) {
	if len(req.MemberIDs) != 1 {
		return nil, invalidRequest("direct chat requires exactly one member id")
	}
	peerID := req.MemberIDs[0]
	if peerID == actor.UserID {
		return nil, invalidRequest("cannot create a chat with yourself")
	}
	if _, err := s.directory.VerifyMember(ctx, orgID, peerID); err != nil {
		if errors.Is(err, platform.ErrNotMember) {
			return nil, invalidRequest("member is not part of the organization")
		}
		return nil, err
	}

	chat, created, err := s.chats.CreateDirect(ctx, orgID, actor.UserID, peerID)
	if err != nil {
		return nil, fmt.Errorf("create direct chat: %w", err)
	}

	if created {
		s.broadcaster.EmitToUser(peerID, "chat:new", chat)
		s.notifier.DispatchMemberAdded(ctx, chat, actor.RosterMember, []string{peerID})
		s.auditor.Audit(ctx, platform.AuditEvent{
			OrganizationID: orgID, ActorID: actor.UserID,
			Action: "chat.created", TargetID: chat.ID,
			Details: map[string]string{"type": string(chat.Type)},
		})
	}
	return s.chatDetail(ctx, chat, actor.UserID)
}

func (s *ChatService) createGroup(ctx context.Context, orgID string, actor *model.OrgMember, req CreateChatRequest) (*model.ChatDetail, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, invalidRequest("group chat requires a name")
	}
	if !access.HasCapability(*actor, access.CapCreateGroup) {
		return nil, accessDenied("no permission to create group chats")
	}
	memberIDs, err := dedupeIDs(req.MemberIDs)
	if err != nil {
		return nil, err
	}
	if err := s.verifyOrgMembers(ctx, orgID, memberIDs); err != nil {
		return nil, err
	}

	chat := &model.Chat{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		Type:           model.ChatTypeGroup,
		Name:           name,
		Description:    strings.TrimSpace(req.Description),
		Status:         model.ChatStatusActive,
		CreatedBy:      actor.UserID,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.chats.CreateGroup(ctx, chat, memberIDs); err != nil {
		return nil, fmt.Errorf("create group chat: %w", err)
	}

	for _, id := range memberIDs {
		if id != actor.UserID {
			s.broadcaster.EmitToUser(id, "chat:new", chat)
		}
	}
	s.notifier.DispatchMemberAdded(ctx, chat, actor.RosterMember, memberIDs)
	s.auditor.Audit(ctx, platform.AuditEvent{
		OrganizationID: orgID, ActorID: actor.UserID,
		Action: "chat.created", TargetID: chat.ID,
		Details: map[string]string{"type": "group", "name": name},
	})
	return s.chatDetail(ctx, chat, actor.UserID)
}

// verifyOrgMembers fails with InvalidRequest when any id is not an active
// organization member.
func (s *ChatService) verifyOrgMembers(ctx context.Context, orgID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	resolved, err := s.directory.ResolveMembers(ctx, orgID, userIDs)
	if err != nil {
		return fmt.Errorf("resolve members: %w", err)
	}
	known := make(map[string]bool, len(resolved))
	for _, m := range resolved {
		known[m.UserID] = true
	}
	for _, id := range userIDs {
		if !known[id] {
			return invalidRequest("member " + id + " is not part of the organization")
		}
	}
	return nil
}

func dedupeIDs(ids []string) ([]string, error) {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			return nil, invalidRequest("empty member id")
		}
		if seen[id] {
			return nil, invalidRequest("duplicate member id " + id)
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

type ListChatsRequest struct {
	Type   model.ChatType
	Status model.ChatStatus
	Search string
	Page   int
	Limit  int
}

// ListChats returns the caller's chats ordered by activity.
func (s *ChatService) ListChats(ctx context.Context, orgID, userID string, req ListChatsRequest) (*model.ChatPage, error) {
	if req.Page < 1 || req.Limit < 1 || req.Limit > 100 {
		return nil, invalidRequest("bad pagination")
	}
	chats, total, err := s.chats.List(ctx, orgID, userID, repository.ListQuery{
		Type: req.Type, Status: req.Status, Search: req.Search,
		Page: req.Page, Limit: req.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return &model.ChatPage{Chats: chats, Total: total, Page: req.Page, Limit: req.Limit}, nil
}

// GetChat returns the chat with members and the caller's unread counter.
// Only members see a chat; outsiders get NotFound, same as cross-org ids.
func (s *ChatService) GetChat(ctx context.Context, orgID, chatID, userID string) (*model.ChatDetail, error) {
	chat, _, err := s.memberChat(ctx, orgID, chatID, userID)
	if err != nil {
		return nil, err
	}
	return s.chatDetail(ctx, chat, userID)
}

func (s *ChatService) chatDetail(ctx context.Context, chat *model.Chat, userID string) (*model.ChatDetail, error) {
	members, err := s.chats.GetMembers(ctx, chat.ID)
	if err != nil {
		return nil, fmt.Errorf("chat members: %w", err)
	}
	detail := &model.ChatDetail{Chat: *chat, Members: members}
	for _, m := range members {
		if m.UserID == userID {
			detail.UnreadCount = m.UnreadCount
		}
	}
	if chat.LastMessageID != nil {
		if msg, err := s.messages.GetByID(ctx, chat.ID, *chat.LastMessageID); err == nil {
			detail.LastMessage = msg
		}
	}
	return detail, nil
}

// memberChat loads the chat and verifies the caller is an active member.
func (s *ChatService) memberChat(ctx context.Context, orgID, chatID, userID string) (*model.Chat, *model.ChatMember, error) {
	chat, err := s.chats.GetByID(ctx, orgID, chatID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, notFound("chat not found")
		}
		return nil, nil, err
	}
	member, err := s.chats.GetMember(ctx, chatID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, accessDenied("not a chat member")
		}
		return nil, nil, err
	}
	if member.Status != model.MemberStatusActive {
		return nil, nil, accessDenied("not a chat member")
	}
	return chat, member, nil
}

// IsActiveMember is the room-join and call-offer access check used by the
// realtime gateway.
func (s *ChatService) IsActiveMember(ctx context.Context, chatID, userID string) bool {
	member, err := s.chats.GetMember(ctx, chatID, userID)
	if err != nil {
		return false
	}
	return member.Status == model.MemberStatusActive
}

// adminChat is memberChat plus the group-only owner/admin requirement used
// by management operations.
func (s *ChatService) adminChat(ctx context.Context, orgID, chatID, userID string) (*model.Chat, *model.ChatMember, error) {
	chat, member, err := s.memberChat(ctx, orgID, chatID, userID)
	if err != nil {
		return nil, nil, err
	}
	if chat.Type != model.ChatTypeGroup {
		return nil, nil, invalidRequest("operation applies to group chats only")
	}
	if member.Role != model.RoleOwner && member.Role != model.RoleAdmin {
		return nil, nil, accessDenied("owner or admin role required")
	}
	return chat, member, nil
}

type UpdateChatRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// UpdateChat edits group metadata; owner/admin only.
func (s *ChatService) UpdateChat(ctx context.Context, orgID, chatID, userID string, req UpdateChatRequest) (*model.ChatDetail, error) {
	chat, _, err := s.adminChat(ctx, orgID, chatID, userID)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, invalidRequest("group chat requires a name")
	}
	if err := s.chats.UpdateChat(ctx, chatID, name, strings.TrimSpace(req.Description)); err != nil {
		return nil, fmt.Errorf("update chat: %w", err)
	}
	chat.Name = name
	chat.Description = strings.TrimSpace(req.Description)
	s.auditor.Audit(ctx, platform.AuditEvent{
		OrganizationID: orgID, ActorID: userID,
		Action: "chat.updated", TargetID: chatID,
		Details: map[string]string{"name": name},
	})
	return s.chatDetail(ctx, chat, userID)
}

// ArchiveChat toggles the archived status. Owner/admin only, groups only.
func (s *ChatService) ArchiveChat(ctx context.Context, orgID, chatID, userID string, archive bool) error {
	chat, _, err := s.adminChat(ctx, orgID, chatID, userID)
	if err != nil {
		return err
	}
	status := model.ChatStatusActive
	action := "chat.unarchived"
	if archive {
		status = model.ChatStatusArchived
		action = "chat.archived"
	}
	if chat.Status == model.ChatStatusDeleted {
		return notFound("chat not found")
	}
	if err := s.chats.SetStatus(ctx, chatID, status); err != nil {
		return fmt.Errorf("archive chat: %w", err)
	}
	s.auditor.Audit(ctx, platform.AuditEvent{
		OrganizationID: orgID, ActorID: userID, Action: action, TargetID: chatID,
	})
	return nil
}

// DeleteChat soft-deletes a group chat. The rows stay for history.
func (s *ChatService) DeleteChat(ctx context.Context, orgID, chatID, userID string) error {
	_, _, err := s.adminChat(ctx, orgID, chatID, userID)
	if err != nil {
		return err
	}
	if err := s.chats.SetStatus(ctx, chatID, model.ChatStatusDeleted); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	s.auditor.Audit(ctx, platform.AuditEvent{
		OrganizationID: orgID, ActorID: userID, Action: "chat.deleted", TargetID: chatID,
	})
	return nil
}

// AddMembers adds organization members to a group chat. Previously removed
// members are re-activated. The actor's org membership is re-checked, so a
// user dropped from the org cannot keep managing chats. Besides the chat
// owner and admins, org members holding the manage-members capability may
// add people too.
func (s *ChatService) AddMembers(ctx context.Context, orgID, chatID, userID string, memberIDs []string) (*model.ChatDetail, error) {
	actor, err := s.directory.VerifyMember(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, platform.ErrNotMember) {
			return nil, accessDenied("not an organization member")
		}
		return nil, err
	}
	chat, member, err := s.memberChat(ctx, orgID, chatID, userID)
	if err != nil {
		return nil, err
	}
	if chat.Type != model.ChatTypeGroup {
		return nil, invalidRequest("operation applies to group chats only")
	}
	if member.Role != model.RoleOwner && member.Role != model.RoleAdmin &&
		!access.HasCapability(*actor, access.CapManageMembers) {
		return nil, accessDenied("owner or admin role required")
	}
	ids, err := dedupeIDs(memberIDs)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, invalidRequest("no member ids")
	}
	if err := s.verifyOrgMembers(ctx, orgID, ids); err != nil {
		return nil, err
	}
	if err := s.chats.AddMembers(ctx, chatID, ids); err != nil {
		return nil, fmt.Errorf("add members: %w", err)
	}

	for _, id := range ids {
		s.broadcaster.EmitToUser(id, "chat:new", chat)
	}
	s.notifier.DispatchMemberAdded(ctx, chat, actor.RosterMember, ids)
	s.auditor.Audit(ctx, platform.AuditEvent{
		OrganizationID: orgID, ActorID: userID,
		Action: "chat.members_added", TargetID: chatID,
		Details: map[string]string{"count": fmt.Sprint(len(ids))},
	})
	return s.chatDetail(ctx, chat, userID)
}

// RemoveMember removes a member from a group chat. The owner is never
// removable.
func (s *ChatService) RemoveMember(ctx context.Context, orgID, chatID, userID, targetID string) error {
	if _, err := s.directory.VerifyMember(ctx, orgID, userID); err != nil {
		if errors.Is(err, platform.ErrNotMember) {
			return accessDenied("not an organization member")
		}
		return err
	}
	_, _, err := s.adminChat(ctx, orgID, chatID, userID)
	if err != nil {
		return err
	}
	target, err := s.chats.GetMember(ctx, chatID, targetID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return notFound("member not found")
		}
		return err
	}
	if target.Role == model.RoleOwner {
		return accessDenied("the owner cannot be removed")
	}
	if target.Status != model.MemberStatusActive {
		return notFound("member not found")
	}
	if err := s.chats.SetMemberStatus(ctx, chatID, targetID, model.MemberStatusRemoved); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	s.auditor.Audit(ctx, platform.AuditEvent{
		OrganizationID: orgID, ActorID: userID,
		Action: "chat.member_removed", TargetID: chatID,
		Details: map[string]string{"member_id": targetID},
	})
	return nil
}

// Leave lets a member leave a group chat. The owner cannot leave without
// deleting the chat; that rule is intentional.
func (s *ChatService) Leave(ctx context.Context, orgID, chatID, userID string) error {
	chat, member, err := s.memberChat(ctx, orgID, chatID, userID)
	if err != nil {
		return err
	}
	if chat.Type != model.ChatTypeGroup {
		return invalidRequest("operation applies to group chats only")
	}
	if member.Role == model.RoleOwner {
		return accessDenied("the owner cannot leave the chat; delete it instead")
	}
	if err := s.chats.SetMemberStatus(ctx, chatID, userID, model.MemberStatusLeft); err != nil {
		return fmt.Errorf("leave chat: %w", err)
	}
	s.auditor.Audit(ctx, platform.AuditEvent{
		OrganizationID: orgID, ActorID: userID, Action: "chat.left", TargetID: chatID,
	})
	return nil
}

type FlagMessageRequest struct {
	MessageID string `json:"message_id"`
	Reason    string `json:"reason"`
}

// FlagMessage forwards a flagged message to the ticket collaborator. The
// ticket service owns everything after that.
func (s *ChatService) FlagMessage(ctx context.Context, orgID, chatID, userID string, req FlagMessageRequest) (string, error) {
	if strings.TrimSpace(req.Reason) == "" {
		return "", invalidRequest("flag requires a reason")
	}
	_, _, err := s.memberChat(ctx, orgID, chatID, userID)
	if err != nil {
		return "", err
	}
	msg, err := s.messages.GetByID(ctx, chatID, req.MessageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", notFound("message not found")
		}
		return "", err
	}

	excerpt := ""
	if msg.Content != nil {
		excerpt = *msg.Content
	}
	ticketID, err := s.tickets.CreateTicket(ctx, platform.TicketRequest{
		OrganizationID: orgID,
		ReporterID:     userID,
		ChatID:         chatID,
		MessageID:      msg.ID,
		Reason:         req.Reason,
		Excerpt:        excerpt,
	})
	if err != nil {
		return "", fmt.Errorf("flag message: %w", err)
	}
	s.auditor.Audit(ctx, platform.AuditEvent{
		OrganizationID: orgID, ActorID: userID,
		Action: "chat.message_flagged", TargetID: msg.ID,
		Details: map[string]string{"chat_id": chatID, "ticket_id": ticketID},
	})
	logger.Infof("message %s flagged in chat %s, ticket %s", msg.ID, chatID, ticketID)
	return ticketID, nil
}
