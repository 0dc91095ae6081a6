package ws

import "encoding/json"

type EventType string

// Client -> server events.
const (
	EventChatJoin     EventType = "chat:join"
	EventChatLeave    EventType = "chat:leave"
	EventDelivered    EventType = "message:delivered"
	EventRead         EventType = "message:read"
	EventTyping       EventType = "message:typing"
	EventCallOffer    EventType = "call:offer"
	EventCallAnswer   EventType = "call:answer"
	EventCallICE      EventType = "call:ice-candidate"
	EventCallEnd      EventType = "call:end"
	EventCallReject   EventType = "call:reject"
)

// Server -> client events. Delivery is best effort and in send order;
// clients must dedupe and re-sort by created_at.
const (
	EventChatNew        EventType = "chat:new"
	EventMessageNew     EventType = "message:new"
	EventMessageDeleted EventType = "message:deleted"
	EventUserOnline     EventType = "user:online"
	EventUserOffline    EventType = "user:offline"
	EventCallIncoming   EventType = "call:incoming"
	EventCallRejected   EventType = "call:rejected"
	EventCallEnded      EventType = "call:ended"
	EventError          EventType = "error"
)

// IncomingMessage is the envelope clients send. Payload shape depends on
// the event type.
type IncomingMessage struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// OutgoingMessage is the envelope the server sends.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

type joinPayload struct {
	ChatID string `json:"chat_id"`
}

type deliveredPayload struct {
	MessageIDs []string `json:"message_ids"`
}

type readPayload struct {
	ChatID     string   `json:"chat_id"`
	MessageIDs []string `json:"message_ids"`
}

type typingPayload struct {
	ChatID string `json:"chat_id"`
}

// TypingPayload is relayed to the chat room, never persisted.
type TypingPayload struct {
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id"`
}

// PresencePayload announces online/offline transitions to the organization.
type PresencePayload struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

// ErrorPayload carries a human-readable failure; the connection stays open.
type ErrorPayload struct {
	Message string `json:"message"`
}

type callOfferPayload struct {
	ChatID   string          `json:"chat_id"`
	CalleeID string          `json:"callee_id"`
	CallType string          `json:"call_type"`
	SDP      json.RawMessage `json:"sdp"`
}

type callAnswerPayload struct {
	ChatID   string          `json:"chat_id"`
	CallerID string          `json:"caller_id"`
	SDP      json.RawMessage `json:"sdp"`
}

type callICEPayload struct {
	ChatID    string          `json:"chat_id"`
	PeerID    string          `json:"peer_id"`
	Candidate json.RawMessage `json:"candidate"`
}

type callEndPayload struct {
	ChatID string `json:"chat_id"`
	PeerID string `json:"peer_id"`
}
