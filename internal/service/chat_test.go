package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orgchat/internal/model"
	"github.com/orgchat/internal/notify"
	"github.com/orgchat/internal/platform"
	"github.com/orgchat/internal/repository"
)

// fakeChatStore keeps chats and memberships in maps; enough to drive the
// orchestrator without a database.
type fakeChatStore struct {
	mu      sync.Mutex
	chats   map[string]*model.Chat
	members map[string]map[string]*model.ChatMember

	incrementCalls []string
	resetCalls     []string
}

func newFakeChatStore() *fakeChatStore {
	return &fakeChatStore{
		chats:   make(map[string]*model.Chat),
		members: make(map[string]map[string]*model.ChatMember),
	}
}

func (f *fakeChatStore) addChat(c *model.Chat, members ...*model.ChatMember) {
	f.chats[c.ID] = c
	f.members[c.ID] = make(map[string]*model.ChatMember)
	for _, m := range members {
		m.ChatID = c.ID
		f.members[c.ID][m.UserID] = m
	}
}

func (f *fakeChatStore) CreateDirect(_ context.Context, orgID, userA, userB string) (*model.Chat, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.chats {
		if c.OrganizationID != orgID || c.Type != model.ChatTypeDirect {
			continue
		}
		ms := f.members[c.ID]
		if ms[userA] != nil && ms[userB] != nil {
			return c, false, nil
		}
	}
	c := &model.Chat{
		ID: "direct-" + userA + "-" + userB, OrganizationID: orgID,
		Type: model.ChatTypeDirect, Status: model.ChatStatusActive,
		CreatedBy: userA, CreatedAt: time.Now().UTC(),
	}
	f.chats[c.ID] = c
	f.members[c.ID] = map[string]*model.ChatMember{
		userA: {ChatID: c.ID, UserID: userA, Role: model.RoleMember, Status: model.MemberStatusActive, NotificationsEnabled: true},
		userB: {ChatID: c.ID, UserID: userB, Role: model.RoleMember, Status: model.MemberStatusActive, NotificationsEnabled: true},
	}
	return c, true, nil
}

func (f *fakeChatStore) CreateGroup(_ context.Context, c *model.Chat, memberIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats[c.ID] = c
	ms := map[string]*model.ChatMember{
		c.CreatedBy: {ChatID: c.ID, UserID: c.CreatedBy, Role: model.RoleOwner, Status: model.MemberStatusActive, NotificationsEnabled: true},
	}
	for _, id := range memberIDs {
		if id == c.CreatedBy {
			continue
		}
		ms[id] = &model.ChatMember{ChatID: c.ID, UserID: id, Role: model.RoleMember, Status: model.MemberStatusActive, NotificationsEnabled: true}
	}
	f.members[c.ID] = ms
	return nil
}

func (f *fakeChatStore) GetByID(_ context.Context, orgID, chatID string) (*model.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chats[chatID]
	if !ok || c.OrganizationID != orgID {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

func (f *fakeChatStore) UpdateChat(_ context.Context, chatID, name, description string) error {
	f.chats[chatID].Name = name
	f.chats[chatID].Description = description
	return nil
}

func (f *fakeChatStore) SetStatus(_ context.Context, chatID string, status model.ChatStatus) error {
	f.chats[chatID].Status = status
	return nil
}

func (f *fakeChatStore) SetLastMessage(_ context.Context, chatID, messageID string, at time.Time) error {
	c := f.chats[chatID]
	c.LastMessageAt = &at
	c.LastMessageID = &messageID
	return nil
}

func (f *fakeChatStore) GetMember(_ context.Context, chatID, userID string) (*model.ChatMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[chatID][userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return m, nil
}

func (f *fakeChatStore) GetMembers(_ context.Context, chatID string) ([]model.ChatMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.ChatMember, 0, len(f.members[chatID]))
	for _, m := range f.members[chatID] {
		out = append(out, *m)
	}
	return out, nil
}

func (f *fakeChatStore) GetActiveMemberIDs(_ context.Context, chatID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, m := range f.members[chatID] {
		if m.Status == model.MemberStatusActive {
			ids = append(ids, m.UserID)
		}
	}
	return ids, nil
}

func (f *fakeChatStore) AddMembers(_ context.Context, chatID string, userIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range userIDs {
		if m, ok := f.members[chatID][id]; ok {
			m.Status = model.MemberStatusActive
			continue
		}
		f.members[chatID][id] = &model.ChatMember{
			ChatID: chatID, UserID: id, Role: model.RoleMember,
			Status: model.MemberStatusActive, NotificationsEnabled: true,
		}
	}
	return nil
}

func (f *fakeChatStore) SetMemberStatus(_ context.Context, chatID, userID string, status model.MemberStatus) error {
	f.members[chatID][userID].Status = status
	return nil
}

func (f *fakeChatStore) IncrementUnread(_ context.Context, chatID, senderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incrementCalls = append(f.incrementCalls, chatID)
	for _, m := range f.members[chatID] {
		if m.UserID != senderID && m.Status == model.MemberStatusActive {
			m.UnreadCount++
		}
	}
	return nil
}

func (f *fakeChatStore) ResetUnread(_ context.Context, chatID, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetCalls = append(f.resetCalls, chatID+"/"+userID)
	m := f.members[chatID][userID]
	m.UnreadCount = 0
	m.LastReadAt = &at
	return nil
}

func (f *fakeChatStore) List(_ context.Context, orgID, userID string, q repository.ListQuery) ([]model.Chat, int, error) {
	var out []model.Chat
	for _, c := range f.chats {
		if c.OrganizationID == orgID && f.members[c.ID][userID] != nil {
			out = append(out, *c)
		}
	}
	return out, len(out), nil
}

type fakeMessageStore struct {
	mu       sync.Mutex
	messages map[string]*model.Message
	order    []string
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{messages: make(map[string]*model.Message)}
}

func (f *fakeMessageStore) Create(_ context.Context, m *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *m
	f.messages[m.ID] = &cp
	f.order = append(f.order, m.ID)
	return nil
}

func (f *fakeMessageStore) GetByID(_ context.Context, chatID, messageID string) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[messageID]
	if !ok || m.ChatID != chatID {
		return nil, repository.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMessageStore) ListPage(_ context.Context, chatID string, page, limit int, _ string) (*model.MessagePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Message
	for _, id := range f.order {
		if m := f.messages[id]; m.ChatID == chatID && m.DeletedAt == nil {
			out = append(out, *m)
		}
	}
	return &model.MessagePage{Messages: out, Total: len(out), Page: page, Limit: limit}, nil
}

func (f *fakeMessageStore) SoftDelete(_ context.Context, chatID, messageID, senderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[messageID]
	if !ok || m.ChatID != chatID || m.SenderID != senderID || m.DeletedAt != nil {
		return repository.ErrNotFound
	}
	now := time.Now().UTC()
	m.DeletedAt = &now
	return nil
}

func (f *fakeMessageStore) SenderIDs(_ context.Context, messageIDs []string, _ string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, id := range messageIDs {
		if m, ok := f.messages[id]; ok && !seen[m.SenderID] {
			seen[m.SenderID] = true
			out = append(out, m.SenderID)
		}
	}
	return out, nil
}

type fakeReceiptStore struct {
	mu        sync.Mutex
	readCalls [][]string
	readBy    []string
}

func (f *fakeReceiptStore) MarkDelivered(_ context.Context, _ []string, _ string, _ time.Time) error {
	return nil
}

func (f *fakeReceiptStore) MarkRead(_ context.Context, ids []string, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readCalls = append(f.readCalls, ids)
	f.readBy = append(f.readBy, userID)
	return nil
}

func (f *fakeReceiptStore) Statuses(_ context.Context, _ []string) (map[string][]model.MessageReadStatus, error) {
	return map[string][]model.MessageReadStatus{}, nil
}

// fakeDirectory knows a fixed org roster.
type fakeDirectory struct {
	orgID  string
	roster map[string]model.OrgMember
}

func (f *fakeDirectory) VerifyMember(_ context.Context, orgID, userID string) (*model.OrgMember, error) {
	m, ok := f.roster[userID]
	if !ok || orgID != f.orgID {
		return nil, platform.ErrNotMember
	}
	return &m, nil
}

func (f *fakeDirectory) ResolveMembers(_ context.Context, orgID string, userIDs []string) ([]model.RosterMember, error) {
	var out []model.RosterMember
	for _, id := range userIDs {
		if m, ok := f.roster[id]; ok {
			out = append(out, m.RosterMember)
		}
	}
	return out, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []notify.MessageEvent
	added    [][]string
	calls    []string
}

func (f *fakeNotifier) DispatchMessage(_ context.Context, ev notify.MessageEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, ev)
}

func (f *fakeNotifier) DispatchMemberAdded(_ context.Context, _ *model.Chat, _ model.RosterMember, addedIDs []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, addedIDs)
}

func (f *fakeNotifier) DispatchIncomingCall(_ context.Context, _ *model.Chat, caller model.RosterMember, calleeID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, caller.UserID+">"+calleeID)
}

type fakeAuditor struct {
	mu     sync.Mutex
	events []platform.AuditEvent
}

func (f *fakeAuditor) Audit(_ context.Context, ev platform.AuditEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

type fakeTickets struct {
	requests []platform.TicketRequest
}

func (f *fakeTickets) CreateTicket(_ context.Context, req platform.TicketRequest) (string, error) {
	f.requests = append(f.requests, req)
	return "ticket-1", nil
}

type emitted struct {
	target  string
	event   string
	payload any
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	toChat []emitted
	toUser []emitted
}

func (f *fakeBroadcaster) BroadcastToChat(chatID, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toChat = append(f.toChat, emitted{target: chatID, event: event, payload: payload})
}

func (f *fakeBroadcaster) EmitToUser(userID, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toUser = append(f.toUser, emitted{target: userID, event: event, payload: payload})
}

type fixture struct {
	svc       *ChatService
	chats     *fakeChatStore
	messages  *fakeMessageStore
	receipts  *fakeReceiptStore
	dir       *fakeDirectory
	notifier  *fakeNotifier
	auditor   *fakeAuditor
	tickets   *fakeTickets
	broadcast *fakeBroadcaster
}

const orgID = "org-1"

func orgMember(id, first, last, role string, perms ...string) model.OrgMember {
	return model.OrgMember{
		UserID: id, OrganizationID: orgID, Role: role, Permissions: perms,
		RosterMember: model.RosterMember{
			UserID: id, Email: id + "@corp.test", FirstName: first, LastName: last,
		},
	}
}

func newFixture() *fixture {
	f := &fixture{
		chats:     newFakeChatStore(),
		messages:  newFakeMessageStore(),
		receipts:  &fakeReceiptStore{},
		notifier:  &fakeNotifier{},
		auditor:   &fakeAuditor{},
		tickets:   &fakeTickets{},
		broadcast: &fakeBroadcaster{},
	}
	f.dir = &fakeDirectory{orgID: orgID, roster: map[string]model.OrgMember{
		"ann":  orgMember("ann", "Ann", "Lee", "owner"),
		"john": orgMember("john", "John", "Smith", "member"),
		"kate": orgMember("kate", "Kate", "Brown", "member", "chat.create_group"),
	}}
	f.svc = NewChatService(f.chats, f.messages, f.receipts, f.dir, f.notifier, f.auditor, f.tickets, f.broadcast)
	return f
}

func (f *fixture) seedGroup(owner string, members ...string) *model.Chat {
	c := &model.Chat{
		ID: "group-1", OrganizationID: orgID, Type: model.ChatTypeGroup,
		Name: "Team", Status: model.ChatStatusActive, CreatedBy: owner,
		CreatedAt: time.Now().UTC(),
	}
	ms := []*model.ChatMember{
		{UserID: owner, Role: model.RoleOwner, Status: model.MemberStatusActive, NotificationsEnabled: true},
	}
	for _, id := range members {
		ms = append(ms, &model.ChatMember{UserID: id, Role: model.RoleMember, Status: model.MemberStatusActive, NotificationsEnabled: true})
	}
	f.chats.addChat(c, ms...)
	return c
}

func requireKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	var sErr *Error
	require.ErrorAs(t, err, &sErr)
	require.Equal(t, kind, sErr.Kind)
}

func TestCreateDirectChatValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.CreateChat(ctx, orgID, "ann", CreateChatRequest{Type: model.ChatTypeDirect})
	requireKind(t, err, KindInvalidRequest)

	_, err = f.svc.CreateChat(ctx, orgID, "ann", CreateChatRequest{
		Type: model.ChatTypeDirect, MemberIDs: []string{"ann"},
	})
	requireKind(t, err, KindInvalidRequest)

	_, err = f.svc.CreateChat(ctx, orgID, "ann", CreateChatRequest{
		Type: model.ChatTypeDirect, MemberIDs: []string{"stranger"},
	})
	requireKind(t, err, KindInvalidRequest)

	_, err = f.svc.CreateChat(ctx, orgID, "stranger", CreateChatRequest{
		Type: model.ChatTypeDirect, MemberIDs: []string{"ann"},
	})
	requireKind(t, err, KindAccessDenied)
}

func TestCreateDirectChatDedupes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.svc.CreateChat(ctx, orgID, "ann", CreateChatRequest{
		Type: model.ChatTypeDirect, MemberIDs: []string{"john"},
	})
	require.NoError(t, err)
	require.Len(t, first.Members, 2)

	second, err := f.svc.CreateChat(ctx, orgID, "john", CreateChatRequest{
		Type: model.ChatTypeDirect, MemberIDs: []string{"ann"},
	})
	require.NoError(t, err)
	require.Equal(t, first.Chat.ID, second.Chat.ID)

	// Only the first creation announces the chat to the peer.
	require.Len(t, f.broadcast.toUser, 1)
	require.Equal(t, "john", f.broadcast.toUser[0].target)
	require.Equal(t, "chat:new", f.broadcast.toUser[0].event)
}

func TestCreateGroupChatRules(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.CreateChat(ctx, orgID, "kate", CreateChatRequest{
		Type: model.ChatTypeGroup, MemberIDs: []string{"john"},
	})
	requireKind(t, err, KindInvalidRequest)

	// john has neither org ownership nor the group-create permission.
	_, err = f.svc.CreateChat(ctx, orgID, "john", CreateChatRequest{
		Type: model.ChatTypeGroup, Name: "Team", MemberIDs: []string{"kate"},
	})
	requireKind(t, err, KindAccessDenied)

	_, err = f.svc.CreateChat(ctx, orgID, "kate", CreateChatRequest{
		Type: model.ChatTypeGroup, Name: "Team", MemberIDs: []string{"john", "john"},
	})
	requireKind(t, err, KindInvalidRequest)

	detail, err := f.svc.CreateChat(ctx, orgID, "kate", CreateChatRequest{
		Type: model.ChatTypeGroup, Name: "Team", MemberIDs: []string{"john", "ann"},
	})
	require.NoError(t, err)
	require.Len(t, detail.Members, 3)
	for _, m := range detail.Members {
		if m.UserID == "kate" {
			require.Equal(t, model.RoleOwner, m.Role)
		}
	}
	require.Len(t, f.notifier.added, 1)
}

func TestSendMessageFlow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seedGroup("ann", "john", "kate")

	msg, err := f.svc.SendMessage(ctx, orgID, "group-1", "ann", SendMessageRequest{Content: "hello @john"})
	require.NoError(t, err)
	require.NotNil(t, msg.Content)
	require.Equal(t, model.MessageTypeText, msg.Type)
	require.NotNil(t, msg.Sender)
	require.Equal(t, "Ann", msg.Sender.FirstName)

	// Counter fan-out happened once, at the store.
	require.Equal(t, []string{"group-1"}, f.chats.incrementCalls)
	john, _ := f.chats.GetMember(ctx, "group-1", "john")
	require.Equal(t, 1, john.UnreadCount)
	ann, _ := f.chats.GetMember(ctx, "group-1", "ann")
	require.Equal(t, 0, ann.UnreadCount)

	// John was mentioned by first name; kate goes down the grouped path.
	require.Len(t, f.notifier.messages, 1)
	ev := f.notifier.messages[0]
	require.Equal(t, []string{"john"}, ev.MentionedIDs)
	require.ElementsMatch(t, []string{"ann", "john", "kate"}, ev.RecipientIDs)

	// Broadcast goes out after persistence, fully hydrated.
	require.Len(t, f.broadcast.toChat, 1)
	require.Equal(t, "group-1", f.broadcast.toChat[0].target)
	require.Equal(t, "message:new", f.broadcast.toChat[0].event)
	payload, ok := f.broadcast.toChat[0].payload.(MessagePayload)
	require.True(t, ok)
	require.Equal(t, msg.ID, payload.Message.ID)

	chat, _ := f.chats.GetByID(ctx, orgID, "group-1")
	require.NotNil(t, chat.LastMessageID)
	require.Equal(t, msg.ID, *chat.LastMessageID)
}

func TestSendMessageRequiresActiveMembership(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seedGroup("ann", "john")

	_, err := f.svc.SendMessage(ctx, orgID, "group-1", "kate", SendMessageRequest{Content: "hi"})
	requireKind(t, err, KindAccessDenied)

	require.NoError(t, f.chats.SetMemberStatus(ctx, "group-1", "john", model.MemberStatusLeft))
	_, err = f.svc.SendMessage(ctx, orgID, "group-1", "john", SendMessageRequest{Content: "hi"})
	requireKind(t, err, KindAccessDenied)

	_, err = f.svc.SendMessage(ctx, orgID, "group-1", "ann", SendMessageRequest{})
	requireKind(t, err, KindInvalidRequest)

	require.Empty(t, f.broadcast.toChat, "nothing is broadcast before a successful persist")
}

func TestSendMessageReplyTargetMustExist(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seedGroup("ann", "john")

	_, err := f.svc.SendMessage(ctx, orgID, "group-1", "ann", SendMessageRequest{
		Content: "re", ReplyToID: "missing",
	})
	requireKind(t, err, KindNotFound)

	first, err := f.svc.SendMessage(ctx, orgID, "group-1", "ann", SendMessageRequest{Content: "original"})
	require.NoError(t, err)

	reply, err := f.svc.SendMessage(ctx, orgID, "group-1", "john", SendMessageRequest{
		Content: "re", ReplyToID: first.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyTo)
	require.Equal(t, first.ID, reply.ReplyTo.ID)
}

func TestGetMessagesMarksRead(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seedGroup("ann", "john")

	for i := 0; i < 3; i++ {
		_, err := f.svc.SendMessage(ctx, orgID, "group-1", "ann", SendMessageRequest{Content: "hi"})
		require.NoError(t, err)
	}
	john, _ := f.chats.GetMember(ctx, "group-1", "john")
	require.Equal(t, 3, john.UnreadCount)

	page, err := f.svc.GetMessages(ctx, orgID, "group-1", "john", GetMessagesRequest{Page: 1, Limit: 50})
	require.NoError(t, err)
	require.Len(t, page.Messages, 3)

	// Fetching the chat reads it: counter reset, receipts written, read
	// event echoed to the sender's personal room.
	john, _ = f.chats.GetMember(ctx, "group-1", "john")
	require.Equal(t, 0, john.UnreadCount)
	require.NotNil(t, john.LastReadAt)
	require.Equal(t, []string{"group-1/john"}, f.chats.resetCalls)
	require.Len(t, f.receipts.readCalls, 1)
	require.Len(t, f.receipts.readCalls[0], 3)
	require.Equal(t, "john", f.receipts.readBy[0])

	var readEvents []emitted
	for _, e := range f.broadcast.toUser {
		if e.event == "message:read" {
			readEvents = append(readEvents, e)
		}
	}
	require.Len(t, readEvents, 1)
	require.Equal(t, "ann", readEvents[0].target)

	_, err = f.svc.GetMessages(ctx, orgID, "group-1", "john", GetMessagesRequest{Page: 0, Limit: 50})
	requireKind(t, err, KindInvalidRequest)
}

func TestMarkDeliveredEchoesToSender(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seedGroup("ann", "john")

	msg, err := f.svc.SendMessage(ctx, orgID, "group-1", "ann", SendMessageRequest{Content: "hi"})
	require.NoError(t, err)
	f.broadcast.toUser = nil

	require.NoError(t, f.svc.MarkDelivered(ctx, "john", []string{msg.ID}))
	require.Len(t, f.broadcast.toUser, 1)
	require.Equal(t, "ann", f.broadcast.toUser[0].target)
	require.Equal(t, "message:delivered", f.broadcast.toUser[0].event)

	// Own acks produce no echo.
	f.broadcast.toUser = nil
	require.NoError(t, f.svc.MarkDelivered(ctx, "ann", []string{msg.ID}))
	require.Empty(t, f.broadcast.toUser)
}

func TestMembershipRules(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seedGroup("ann", "john", "kate")

	// Only owner/admin may manage members.
	_, err := f.svc.AddMembers(ctx, orgID, "group-1", "john", []string{"kate"})
	requireKind(t, err, KindAccessDenied)

	err = f.svc.RemoveMember(ctx, orgID, "group-1", "ann", "ann")
	requireKind(t, err, KindAccessDenied)

	require.NoError(t, f.svc.RemoveMember(ctx, orgID, "group-1", "ann", "john"))
	m, _ := f.chats.GetMember(ctx, "group-1", "john")
	require.Equal(t, model.MemberStatusRemoved, m.Status)

	// Re-adding reactivates the same row.
	_, err = f.svc.AddMembers(ctx, orgID, "group-1", "ann", []string{"john"})
	require.NoError(t, err)
	m, _ = f.chats.GetMember(ctx, "group-1", "john")
	require.Equal(t, model.MemberStatusActive, m.Status)

	err = f.svc.Leave(ctx, orgID, "group-1", "ann")
	requireKind(t, err, KindAccessDenied)

	require.NoError(t, f.svc.Leave(ctx, orgID, "group-1", "kate"))
	m, _ = f.chats.GetMember(ctx, "group-1", "kate")
	require.Equal(t, model.MemberStatusLeft, m.Status)
}

func TestManageMembersCapability(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seedGroup("ann", "john", "kate")
	f.dir.roster["kate"] = orgMember("kate", "Kate", "Brown", "member", "chat.manage_members")
	f.dir.roster["mike"] = orgMember("mike", "Mike", "Gray", "member")

	// A plain chat member with the org capability may manage the roster.
	_, err := f.svc.AddMembers(ctx, orgID, "group-1", "kate", []string{"mike"})
	require.NoError(t, err)
	m, _ := f.chats.GetMember(ctx, "group-1", "mike")
	require.Equal(t, model.MemberStatusActive, m.Status)
}

func TestNotifyIncomingCall(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seedGroup("ann", "john")

	f.svc.NotifyIncomingCall(ctx, orgID, "group-1", "ann", "john")
	require.Equal(t, []string{"ann>john"}, f.notifier.calls)

	// Unknown chat produces nothing instead of an error.
	f.svc.NotifyIncomingCall(ctx, orgID, "missing", "ann", "john")
	require.Len(t, f.notifier.calls, 1)
}

func TestGroupOnlyOperations(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	detail, err := f.svc.CreateChat(ctx, orgID, "ann", CreateChatRequest{
		Type: model.ChatTypeDirect, MemberIDs: []string{"john"},
	})
	require.NoError(t, err)

	_, err = f.svc.UpdateChat(ctx, orgID, detail.Chat.ID, "ann", UpdateChatRequest{Name: "x"})
	requireKind(t, err, KindInvalidRequest)

	err = f.svc.Leave(ctx, orgID, detail.Chat.ID, "john")
	requireKind(t, err, KindInvalidRequest)
}

func TestDeleteMessagePermissions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seedGroup("ann", "john", "kate")

	msg, err := f.svc.SendMessage(ctx, orgID, "group-1", "john", SendMessageRequest{Content: "oops"})
	require.NoError(t, err)

	err = f.svc.DeleteMessage(ctx, orgID, "group-1", "kate", msg.ID)
	requireKind(t, err, KindAccessDenied)

	// Group owner may moderate.
	require.NoError(t, f.svc.DeleteMessage(ctx, orgID, "group-1", "ann", msg.ID))

	var deleted []emitted
	for _, e := range f.broadcast.toChat {
		if e.event == "message:deleted" {
			deleted = append(deleted, e)
		}
	}
	require.Len(t, deleted, 1)
}

func TestFlagMessageCreatesTicket(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seedGroup("ann", "john")

	msg, err := f.svc.SendMessage(ctx, orgID, "group-1", "ann", SendMessageRequest{Content: "spam"})
	require.NoError(t, err)

	_, err = f.svc.FlagMessage(ctx, orgID, "group-1", "john", FlagMessageRequest{MessageID: msg.ID})
	requireKind(t, err, KindInvalidRequest)

	ticketID, err := f.svc.FlagMessage(ctx, orgID, "group-1", "john", FlagMessageRequest{
		MessageID: msg.ID, Reason: "spam",
	})
	require.NoError(t, err)
	require.Equal(t, "ticket-1", ticketID)
	require.Len(t, f.tickets.requests, 1)
	require.Equal(t, "spam", f.tickets.requests[0].Excerpt)
}

func TestArchiveToggle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seedGroup("ann", "john")

	require.NoError(t, f.svc.ArchiveChat(ctx, orgID, "group-1", "ann", true))
	chat, _ := f.chats.GetByID(ctx, orgID, "group-1")
	require.Equal(t, model.ChatStatusArchived, chat.Status)

	// Archived chats reject new messages.
	_, err := f.svc.SendMessage(ctx, orgID, "group-1", "ann", SendMessageRequest{Content: "hi"})
	requireKind(t, err, KindAccessDenied)

	require.NoError(t, f.svc.ArchiveChat(ctx, orgID, "group-1", "ann", false))
	chat, _ = f.chats.GetByID(ctx, orgID, "group-1")
	require.Equal(t, model.ChatStatusActive, chat.Status)
}
