// Package memory is the in-process PresenceStore used by -dev mode and
// tests. Single node only.
package memory

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	expiresAt time.Time
}

type Client struct {
	mu   sync.Mutex
	data map[string]entry
}

func New() *Client {
	return &Client{data: make(map[string]entry)}
}

func (c *Client) Close() error { return nil }

func key(orgID, userID string) string {
	return orgID + ":" + userID
}

func (c *Client) SetOnline(_ context.Context, orgID, userID string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key(orgID, userID)] = entry{expiresAt: time.Now().Add(ttl)}
	return nil
}

func (c *Client) Refresh(_ context.Context, orgID, userID string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key(orgID, userID)
	if e, ok := c.data[k]; ok && e.expiresAt.After(time.Now()) {
		c.data[k] = entry{expiresAt: time.Now().Add(ttl)}
	}
	return nil
}

func (c *Client) SetOffline(_ context.Context, orgID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key(orgID, userID))
	return nil
}

func (c *Client) IsOnline(_ context.Context, orgID, userID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data[key(orgID, userID)]
	return ok && e.expiresAt.After(time.Now()), nil
}

func (c *Client) OnlineUsers(_ context.Context, orgID string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	prefix := orgID + ":"
	var users []string
	for k, e := range c.data {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix && e.expiresAt.After(now) {
			users = append(users, k[len(prefix):])
		}
	}
	return users, nil
}
