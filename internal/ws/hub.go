// Package ws is the realtime gateway: one hub per process holds every
// authenticated socket, chat rooms joined via chat:join, a personal room
// per user and an organization room for presence. Delivery is best effort
// in send order; clients dedupe and re-sort by created_at, and must re-join
// rooms after a reconnect.
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/orgchat/internal/call"
	"github.com/orgchat/internal/logger"
	"github.com/orgchat/internal/storage"
)

const presenceTTL = 90 * time.Second

// Receipts turns client delivery/read acks into receipt upserts.
type Receipts interface {
	MarkDelivered(ctx context.Context, userID string, messageIDs []string) error
	MarkRead(ctx context.Context, orgID, chatID, userID string, messageIDs []string) error
}

// Memberships answers the room-join access check.
type Memberships interface {
	IsActiveMember(ctx context.Context, chatID, userID string) bool
}

// CallNotifier pushes a call.incoming notification when a call starts
// ringing, so callees without an open socket still learn about it.
type CallNotifier interface {
	NotifyIncomingCall(ctx context.Context, orgID, chatID, callerID, calleeID string)
}

type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{} // userID -> sockets
	rooms    map[string]map[*Client]struct{} // chatID -> joined sockets
	orgs     map[string]map[*Client]struct{} // orgID -> sockets
	total    int
	maxConns int

	receipts     Receipts
	memberships  Memberships
	presence     storage.PresenceStore
	relay        *call.Relay
	callNotifier CallNotifier

	register     chan *Client
	unregister   chan *Client
	presenceJobs chan presenceJob
	presenceWG   sync.WaitGroup
	done         chan struct{}
}

// presenceJob is one online/offline transition queued for the presence
// worker. Jobs keep the order the hub loop observed the transitions in.
type presenceJob struct {
	orgID  string
	userID string
	online bool
}

func NewHub(receipts Receipts, memberships Memberships, presence storage.PresenceStore, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:      make(map[string]map[*Client]struct{}),
		rooms:        make(map[string]map[*Client]struct{}),
		orgs:         make(map[string]map[*Client]struct{}),
		maxConns:     maxConns,
		receipts:     receipts,
		memberships:  memberships,
		presence:     presence,
		register:     make(chan *Client, 64),
		unregister:   make(chan *Client, 64),
		presenceJobs: make(chan presenceJob, 1024),
		done:         make(chan struct{}),
	}
}

// AttachRelay wires the call relay in after construction; the relay emits
// through the hub, so neither can be built first with the other inside.
func (h *Hub) AttachRelay(r *call.Relay) {
	h.relay = r
}

// AttachCallNotifier is optional; without it ringing calls produce no
// notification, only the call:incoming socket event.
func (h *Hub) AttachCallNotifier(n CallNotifier) {
	h.callNotifier = n
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	h.presenceWG.Add(1)
	go h.presenceWorker()
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.rooms = make(map[string]map[*Client]struct{})
	h.orgs = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}

	// The hub loop has exited, nothing enqueues anymore; flush the worker.
	close(h.presenceJobs)
	h.presenceWG.Wait()
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	firstSocket := len(h.clients[c.userID]) == 0
	h.clients[c.userID][c] = struct{}{}
	if _, ok := h.orgs[c.orgID]; !ok {
		h.orgs[c.orgID] = make(map[*Client]struct{})
	}
	h.orgs[c.orgID][c] = struct{}{}
	h.total++
	h.mu.Unlock()

	if firstSocket {
		h.queuePresence(c.orgID, c.userID, true)
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	lastSocket := len(clients) == 0
	if lastSocket {
		delete(h.clients, c.userID)
	}
	for room := range c.rooms {
		delete(h.rooms[room], c)
		if len(h.rooms[room]) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(h.orgs[c.orgID], c)
	if len(h.orgs[c.orgID]) == 0 {
		delete(h.orgs, c.orgID)
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()

	if lastSocket {
		h.queuePresence(c.orgID, c.userID, false)
		if h.relay != nil {
			h.relay.EndAllFor(c.userID)
		}
	}
}

// queuePresence hands an online/offline transition to the presence worker.
// The hub loop must never wait on the presence store, so a full queue drops
// the update; the TTL expires stale online entries on its own.
func (h *Hub) queuePresence(orgID, userID string, online bool) {
	select {
	case h.presenceJobs <- presenceJob{orgID: orgID, userID: userID, online: online}:
	default:
		logger.Errorf("ws presence queue full, dropping update user=%s online=%t", userID, online)
	}
}

// presenceWorker applies queued transitions one at a time, in arrival
// order, and emits the user:online/offline event after the store write.
func (h *Hub) presenceWorker() {
	defer h.presenceWG.Done()
	for job := range h.presenceJobs {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		var err error
		if job.online {
			err = h.presence.SetOnline(ctx, job.orgID, job.userID, presenceTTL)
		} else {
			err = h.presence.SetOffline(ctx, job.orgID, job.userID)
		}
		cancel()
		if err != nil {
			logger.Errorf("ws presence update user=%s online=%t: %v", job.userID, job.online, err)
		}
		h.broadcastPresence(job.orgID, job.userID, job.online)
	}
}

// touchPresence refreshes the presence TTL; called from the ping ticker.
func (h *Hub) touchPresence(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := h.presence.Refresh(ctx, c.orgID, c.userID, presenceTTL); err != nil {
		logger.Errorf("ws refresh presence user=%s: %v", c.userID, err)
	}
}

func (h *Hub) broadcastPresence(orgID, userID string, online bool) {
	evType := EventUserOffline
	if online {
		evType = EventUserOnline
	}
	out := OutgoingMessage{Type: evType, Payload: PresencePayload{UserID: userID, Online: online}}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.orgs[orgID]))
	for c := range h.orgs[orgID] {
		if c.userID != userID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, out)
	}
}

// HandleMessage dispatches one incoming client event.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Type {
	case EventChatJoin:
		h.handleJoin(ctx, c, msg.Payload)
	case EventChatLeave:
		h.handleLeave(c, msg.Payload)
	case EventDelivered:
		h.handleDelivered(ctx, c, msg.Payload)
	case EventRead:
		h.handleRead(ctx, c, msg.Payload)
	case EventTyping:
		h.handleTyping(c, msg.Payload)
	case EventCallOffer:
		h.handleCallOffer(ctx, c, msg.Payload)
	case EventCallAnswer:
		h.handleCallAnswer(c, msg.Payload)
	case EventCallICE:
		h.handleCallICE(c, msg.Payload)
	case EventCallEnd:
		h.handleCallEnd(c, msg.Payload, false)
	case EventCallReject:
		h.handleCallEnd(c, msg.Payload, true)
	default:
		h.sendError(c, "unknown event type")
	}
}

func (h *Hub) handleJoin(ctx context.Context, c *Client, raw json.RawMessage) {
	var p joinPayload
	if json.Unmarshal(raw, &p) != nil || p.ChatID == "" {
		h.sendError(c, "chat_id required")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if !h.memberships.IsActiveMember(ctx, p.ChatID, c.userID) {
		h.sendError(c, "not a chat member")
		return
	}

	h.mu.Lock()
	if _, ok := h.rooms[p.ChatID]; !ok {
		h.rooms[p.ChatID] = make(map[*Client]struct{})
	}
	h.rooms[p.ChatID][c] = struct{}{}
	c.rooms[p.ChatID] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) handleLeave(c *Client, raw json.RawMessage) {
	var p joinPayload
	if json.Unmarshal(raw, &p) != nil || p.ChatID == "" {
		return
	}
	h.mu.Lock()
	delete(c.rooms, p.ChatID)
	if room, ok := h.rooms[p.ChatID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, p.ChatID)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) handleDelivered(ctx context.Context, c *Client, raw json.RawMessage) {
	var p deliveredPayload
	if json.Unmarshal(raw, &p) != nil || len(p.MessageIDs) == 0 {
		h.sendError(c, "message_ids required")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.receipts.MarkDelivered(ctx, c.userID, p.MessageIDs); err != nil {
		logger.Errorf("ws delivered ack user=%s: %v", c.userID, err)
	}
}

func (h *Hub) handleRead(ctx context.Context, c *Client, raw json.RawMessage) {
	var p readPayload
	if json.Unmarshal(raw, &p) != nil || p.ChatID == "" || len(p.MessageIDs) == 0 {
		h.sendError(c, "chat_id and message_ids required")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.receipts.MarkRead(ctx, c.orgID, p.ChatID, c.userID, p.MessageIDs); err != nil {
		logger.Errorf("ws read ack user=%s: %v", c.userID, err)
		h.sendError(c, "failed to mark read")
	}
}

// handleTyping relays the indicator to the chat room minus the typist.
// Never persisted, never queued for offline members.
func (h *Hub) handleTyping(c *Client, raw json.RawMessage) {
	var p typingPayload
	if json.Unmarshal(raw, &p) != nil || p.ChatID == "" {
		return
	}
	h.mu.RLock()
	if _, joined := c.rooms[p.ChatID]; !joined {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(h.rooms[p.ChatID]))
	for member := range h.rooms[p.ChatID] {
		if member.userID != c.userID {
			targets = append(targets, member)
		}
	}
	h.mu.RUnlock()

	out := OutgoingMessage{Type: EventTyping, Payload: TypingPayload{ChatID: p.ChatID, UserID: c.userID}}
	for _, t := range targets {
		h.sendToClient(t, out)
	}
}

func (h *Hub) handleCallOffer(ctx context.Context, c *Client, raw json.RawMessage) {
	var p callOfferPayload
	if json.Unmarshal(raw, &p) != nil || p.ChatID == "" || p.CalleeID == "" {
		h.sendError(c, "chat_id and callee_id required")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.relay.Offer(ctx, p.ChatID, c.userID, p.CalleeID, p.CallType, p.SDP); err != nil {
		h.sendError(c, err.Error())
		return
	}
	if h.callNotifier != nil {
		h.callNotifier.NotifyIncomingCall(ctx, c.orgID, p.ChatID, c.userID, p.CalleeID)
	}
}

func (h *Hub) handleCallAnswer(c *Client, raw json.RawMessage) {
	var p callAnswerPayload
	if json.Unmarshal(raw, &p) != nil || p.ChatID == "" || p.CallerID == "" {
		h.sendError(c, "chat_id and caller_id required")
		return
	}
	if err := h.relay.Answer(p.ChatID, c.userID, p.CallerID, p.SDP); err != nil {
		h.sendError(c, err.Error())
	}
}

func (h *Hub) handleCallICE(c *Client, raw json.RawMessage) {
	var p callICEPayload
	if json.Unmarshal(raw, &p) != nil || p.ChatID == "" || p.PeerID == "" {
		return
	}
	// Candidates race call teardown; a missing session is not an error
	// worth reporting to the client.
	if err := h.relay.Candidate(p.ChatID, c.userID, p.PeerID, p.Candidate); err != nil {
		logger.Infof("ws ice dropped chat=%s user=%s: %v", p.ChatID, c.userID, err)
	}
}

func (h *Hub) handleCallEnd(c *Client, raw json.RawMessage, reject bool) {
	var p callEndPayload
	if json.Unmarshal(raw, &p) != nil || p.ChatID == "" || p.PeerID == "" {
		h.sendError(c, "chat_id and peer_id required")
		return
	}
	var err error
	if reject {
		err = h.relay.Reject(p.ChatID, c.userID, p.PeerID)
	} else {
		err = h.relay.End(p.ChatID, c.userID, p.PeerID)
	}
	if err != nil {
		h.sendError(c, err.Error())
	}
}

// BroadcastToChat sends an event to every socket joined to the chat room.
// Members without a joined socket get nothing; they catch up over REST.
func (h *Hub) BroadcastToChat(chatID, event string, payload any) {
	defer logger.DeferLogDuration("ws.BroadcastToChat", time.Now())()
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[chatID]))
	for c := range h.rooms[chatID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	out := OutgoingMessage{Type: EventType(event), Payload: payload}
	for _, c := range targets {
		h.sendToClient(c, out)
	}
}

// EmitToUser sends an event to every socket of one user (their personal
// room), regardless of joined chat rooms.
func (h *Hub) EmitToUser(userID, event string, payload any) {
	h.mu.RLock()
	clients, ok := h.clients[userID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	out := OutgoingMessage{Type: EventType(event), Payload: payload}
	for _, c := range targets {
		h.sendToClient(c, out)
	}
}

func (h *Hub) sendError(c *Client, msg string) {
	h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: ErrorPayload{Message: msg}})
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
