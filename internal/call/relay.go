// Package call relays WebRTC signaling between two chat members. Nothing is
// persisted: a call attempt lives only in the relay session and dies with it.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/orgchat/internal/logger"
)

// State of one call attempt.
type State string

const (
	StateRinging   State = "ringing"
	StateConnected State = "connected"
)

var (
	ErrNotMembers  = errors.New("both parties must be chat members")
	ErrNoSession   = errors.New("no active call session")
	ErrSelfCall    = errors.New("cannot call yourself")
	ErrAlreadyBusy = errors.New("call already in progress")
)

// Emitter delivers an event to a user's personal room.
type Emitter interface {
	EmitToUser(userID, event string, payload any)
}

// MembershipChecker reports whether the user is an active member of the chat.
type MembershipChecker interface {
	IsActiveMember(ctx context.Context, chatID, userID string) bool
}

type sessionKey struct {
	chatID   string
	callerID string
	calleeID string
}

type session struct {
	key       sessionKey
	state     State
	callType  string
	startedAt time.Time
}

// peerOf returns the counterparty, or "" when the user is not in the session.
func (s *session) peerOf(userID string) string {
	switch userID {
	case s.key.callerID:
		return s.key.calleeID
	case s.key.calleeID:
		return s.key.callerID
	}
	return ""
}

// Relay holds in-memory call sessions keyed by (chat, caller, callee).
// Sessions have no idle timeout; an abandoned ringing call is cleaned up
// when either party disconnects or ends it.
type Relay struct {
	mu       sync.Mutex
	sessions map[sessionKey]*session

	emitter Emitter
	members MembershipChecker
}

func NewRelay(emitter Emitter, members MembershipChecker) *Relay {
	return &Relay{
		sessions: make(map[sessionKey]*session),
		emitter:  emitter,
		members:  members,
	}
}

// OfferPayload is the call:incoming event sent to the callee.
type OfferPayload struct {
	ChatID   string          `json:"chat_id"`
	CallerID string          `json:"caller_id"`
	CallType string          `json:"call_type"`
	SDP      json.RawMessage `json:"sdp"`
}

// Offer starts a call attempt and forwards the SDP offer to the callee's
// personal room. Membership of both parties is checked here and only here.
func (r *Relay) Offer(ctx context.Context, chatID, callerID, calleeID, callType string, sdp json.RawMessage) error {
	if callerID == calleeID {
		return ErrSelfCall
	}
	if !r.members.IsActiveMember(ctx, chatID, callerID) || !r.members.IsActiveMember(ctx, chatID, calleeID) {
		return ErrNotMembers
	}

	key := sessionKey{chatID: chatID, callerID: callerID, calleeID: calleeID}
	r.mu.Lock()
	if _, exists := r.sessions[key]; exists {
		r.mu.Unlock()
		return ErrAlreadyBusy
	}
	r.sessions[key] = &session{key: key, state: StateRinging, callType: callType, startedAt: time.Now()}
	r.mu.Unlock()

	r.emitter.EmitToUser(calleeID, "call:incoming", OfferPayload{
		ChatID: chatID, CallerID: callerID, CallType: callType, SDP: sdp,
	})
	logger.Infof("call ringing chat=%s caller=%s callee=%s type=%s", chatID, callerID, calleeID, callType)
	return nil
}

// AnswerPayload is the call:answer event forwarded to the caller.
type AnswerPayload struct {
	ChatID   string          `json:"chat_id"`
	CalleeID string          `json:"callee_id"`
	SDP      json.RawMessage `json:"sdp"`
}

// Answer forwards the callee's SDP answer to the caller and marks the call
// connected.
func (r *Relay) Answer(chatID, calleeID, callerID string, sdp json.RawMessage) error {
	key := sessionKey{chatID: chatID, callerID: callerID, calleeID: calleeID}
	r.mu.Lock()
	s, ok := r.sessions[key]
	if !ok || s.state != StateRinging {
		r.mu.Unlock()
		return ErrNoSession
	}
	s.state = StateConnected
	r.mu.Unlock()

	r.emitter.EmitToUser(callerID, "call:answer", AnswerPayload{
		ChatID: chatID, CalleeID: calleeID, SDP: sdp,
	})
	logger.Infof("call connected chat=%s caller=%s callee=%s", chatID, callerID, calleeID)
	return nil
}

// CandidatePayload is the call:ice-candidate event relayed between parties.
type CandidatePayload struct {
	ChatID    string          `json:"chat_id"`
	FromID    string          `json:"from_id"`
	Candidate json.RawMessage `json:"candidate"`
}

// Candidate relays an ICE candidate to the counterparty. ICE exchange is not
// state-gated: candidates flow while any session between the parties exists.
func (r *Relay) Candidate(chatID, fromID, peerID string, candidate json.RawMessage) error {
	s := r.find(chatID, fromID, peerID)
	if s == nil {
		return ErrNoSession
	}
	target := s.peerOf(fromID)
	if target == "" {
		return ErrNoSession
	}
	r.emitter.EmitToUser(target, "call:ice-candidate", CandidatePayload{
		ChatID: chatID, FromID: fromID, Candidate: candidate,
	})
	return nil
}

// EndPayload is the call:ended / call:rejected event.
type EndPayload struct {
	ChatID string `json:"chat_id"`
	ByID   string `json:"by_id"`
}

// End terminates the session and notifies the counterparty with call:ended.
func (r *Relay) End(chatID, fromID, peerID string) error {
	return r.finish(chatID, fromID, peerID, "call:ended")
}

// Reject declines a ringing call; the caller receives call:rejected.
func (r *Relay) Reject(chatID, fromID, peerID string) error {
	return r.finish(chatID, fromID, peerID, "call:rejected")
}

func (r *Relay) finish(chatID, fromID, peerID, event string) error {
	r.mu.Lock()
	s := r.findLocked(chatID, fromID, peerID)
	if s == nil {
		r.mu.Unlock()
		return ErrNoSession
	}
	delete(r.sessions, s.key)
	r.mu.Unlock()

	target := s.peerOf(fromID)
	r.emitter.EmitToUser(target, event, EndPayload{ChatID: chatID, ByID: fromID})
	logger.Infof("call %s chat=%s by=%s", event, chatID, fromID)
	return nil
}

// EndAllFor force-ends every session the user participates in, notifying
// each counterparty. Called when the user's last socket disconnects.
func (r *Relay) EndAllFor(userID string) {
	r.mu.Lock()
	var ended []*session
	for key, s := range r.sessions {
		if key.callerID == userID || key.calleeID == userID {
			ended = append(ended, s)
			delete(r.sessions, key)
		}
	}
	r.mu.Unlock()

	for _, s := range ended {
		peer := s.peerOf(userID)
		r.emitter.EmitToUser(peer, "call:ended", EndPayload{ChatID: s.key.chatID, ByID: userID})
		logger.Infof("call force-ended chat=%s user=%s", s.key.chatID, userID)
	}
}

// ActiveSessions returns the number of live sessions; used by tests and the
// health endpoint.
func (r *Relay) ActiveSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// find locates the session between two users in a chat regardless of which
// side initiated it.
func (r *Relay) find(chatID, a, b string) *session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findLocked(chatID, a, b)
}

func (r *Relay) findLocked(chatID, a, b string) *session {
	if s, ok := r.sessions[sessionKey{chatID: chatID, callerID: a, calleeID: b}]; ok {
		return s
	}
	if s, ok := r.sessions[sessionKey{chatID: chatID, callerID: b, calleeID: a}]; ok {
		return s
	}
	return nil
}
