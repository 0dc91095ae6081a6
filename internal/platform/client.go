// Package platform is the HTTP client for the company platform service,
// which owns users, organizations, roles, notifications, audit and tickets.
// The chat service never stores that data itself.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/orgchat/internal/logger"
	"github.com/orgchat/internal/model"
)

// ErrNotMember is returned when the platform does not know the user as an
// active member of the organization.
var ErrNotMember = errors.New("not an organization member")

// Client talks to the platform service. An empty baseURL makes all
// side-effect methods no-ops and lookups fail; production always sets it.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, serviceToken string) *Client {
	if baseURL == "" {
		return &Client{}
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   serviceToken,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden:
		return ErrNotMember
	case resp.StatusCode >= 300:
		return fmt.Errorf("platform %s %s: %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// VerifyMember returns the user's membership in the organization, including
// org role and permission slugs. ErrNotMember when the membership is missing
// or inactive.
func (c *Client) VerifyMember(ctx context.Context, orgID, userID string) (*model.OrgMember, error) {
	if c.baseURL == "" {
		return nil, ErrNotMember
	}
	var m model.OrgMember
	if err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/api/organizations/%s/members/%s", orgID, userID), nil, &m); err != nil {
		if errors.Is(err, ErrNotMember) {
			return nil, ErrNotMember
		}
		return nil, fmt.Errorf("platform.VerifyMember: %w", err)
	}
	return &m, nil
}

// ResolveMembers returns the profiles of the given users within the
// organization; users outside the org are silently absent from the result.
// With no ids it returns the full organization roster.
func (c *Client) ResolveMembers(ctx context.Context, orgID string, userIDs []string) ([]model.RosterMember, error) {
	if c.baseURL == "" {
		return nil, errors.New("platform.ResolveMembers: no platform URL configured")
	}
	var resp struct {
		Members []model.RosterMember `json:"members"`
	}
	payload := map[string]any{"user_ids": userIDs}
	if err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/organizations/%s/members/resolve", orgID), payload, &resp); err != nil {
		return nil, fmt.Errorf("platform.ResolveMembers: %w", err)
	}
	return resp.Members, nil
}

// Notification is an immediate, stand-alone notification (mentions, member
// additions, incoming calls).
type Notification struct {
	RecipientID string            `json:"recipient_id"`
	Type        string            `json:"type"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
}

// Notify delivers one notification. Failures are logged, not returned:
// notification delivery never blocks or fails chat operations.
func (c *Client) Notify(ctx context.Context, n Notification) {
	if c.baseURL == "" {
		return
	}
	if err := c.do(ctx, http.MethodPost, "/api/notifications", n, nil); err != nil {
		logger.Errorf("platform notify: %v", err)
	}
}

// GroupedUnread identifies one grouped unread-message notification. The
// platform keeps a single notification per key and increments its counter.
type GroupedUnread struct {
	RecipientID string `json:"recipient_id"`
	ChatID      string `json:"chat_id"`
	ChatName    string `json:"chat_name,omitempty"`
	SenderID    string `json:"sender_id"`
	SenderName  string `json:"sender_name,omitempty"`
	Preview     string `json:"preview,omitempty"`
}

// NotifyGroupedUnread creates or increments the grouped notification keyed by
// (recipient, chat, sender). The error matters to callers that serialize
// updates per key.
func (c *Client) NotifyGroupedUnread(ctx context.Context, g GroupedUnread) error {
	if c.baseURL == "" {
		return nil
	}
	if err := c.do(ctx, http.MethodPost, "/api/notifications/grouped", g, nil); err != nil {
		return fmt.Errorf("platform.NotifyGroupedUnread: %w", err)
	}
	return nil
}

// AuditEvent is a fire-and-forget audit record of a chat management action.
type AuditEvent struct {
	OrganizationID string            `json:"organization_id"`
	ActorID        string            `json:"actor_id"`
	Action         string            `json:"action"`
	TargetID       string            `json:"target_id,omitempty"`
	Details        map[string]string `json:"details,omitempty"`
}

// Audit records the event. Best effort: failures are logged and dropped.
func (c *Client) Audit(ctx context.Context, ev AuditEvent) {
	if c.baseURL == "" {
		return
	}
	if err := c.do(ctx, http.MethodPost, "/api/audit/events", ev, nil); err != nil {
		logger.Errorf("platform audit %s: %v", ev.Action, err)
	}
}

// TicketRequest asks the platform to open a moderation ticket from a flagged
// message thread.
type TicketRequest struct {
	OrganizationID string `json:"organization_id"`
	ReporterID     string `json:"reporter_id"`
	ChatID         string `json:"chat_id"`
	MessageID      string `json:"message_id"`
	Reason         string `json:"reason"`
	Excerpt        string `json:"excerpt,omitempty"`
}

// CreateTicket opens the ticket and returns its id.
func (c *Client) CreateTicket(ctx context.Context, req TicketRequest) (string, error) {
	if c.baseURL == "" {
		return "", errors.New("platform.CreateTicket: no platform URL configured")
	}
	var resp struct {
		TicketID string `json:"ticket_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/tickets", req, &resp); err != nil {
		return "", fmt.Errorf("platform.CreateTicket: %w", err)
	}
	return resp.TicketID, nil
}
