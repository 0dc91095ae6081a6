package storage

import (
	"context"
	"time"
)

// PresenceStore tracks which users are online per organization.
// Implementations: redis.Client, memory.Client (for -dev without Redis).
// Entries carry a TTL and are refreshed by the gateway while sockets live,
// so a crashed node's presence decays on its own.
type PresenceStore interface {
	SetOnline(ctx context.Context, orgID, userID string, ttl time.Duration) error
	Refresh(ctx context.Context, orgID, userID string, ttl time.Duration) error
	SetOffline(ctx context.Context, orgID, userID string) error
	IsOnline(ctx context.Context, orgID, userID string) (bool, error)
	OnlineUsers(ctx context.Context, orgID string) ([]string, error)
	Close() error
}
