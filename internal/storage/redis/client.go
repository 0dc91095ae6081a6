package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func presenceKey(orgID, userID string) string {
	return "presence:" + orgID + ":" + userID
}

// SetOnline marks the user online with a TTL; the gateway refreshes it while
// the socket is alive.
func (c *Client) SetOnline(ctx context.Context, orgID, userID string, ttl time.Duration) error {
	return c.cli.Set(ctx, presenceKey(orgID, userID), "1", ttl).Err()
}

// Refresh extends the presence TTL without recreating a missing key.
func (c *Client) Refresh(ctx context.Context, orgID, userID string, ttl time.Duration) error {
	return c.cli.Expire(ctx, presenceKey(orgID, userID), ttl).Err()
}

func (c *Client) SetOffline(ctx context.Context, orgID, userID string) error {
	return c.cli.Del(ctx, presenceKey(orgID, userID)).Err()
}

func (c *Client) IsOnline(ctx context.Context, orgID, userID string) (bool, error) {
	n, err := c.cli.Exists(ctx, presenceKey(orgID, userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// OnlineUsers scans presence keys of the organization. SCAN, not KEYS, so a
// large org does not block Redis.
func (c *Client) OnlineUsers(ctx context.Context, orgID string) ([]string, error) {
	prefix := "presence:" + orgID + ":"
	var users []string
	iter := c.cli.Scan(ctx, 0, prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		users = append(users, iter.Val()[len(prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return users, nil
}
