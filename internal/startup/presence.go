package startup

import (
	"context"
	"os"
	"time"

	"github.com/orgchat/internal/logger"
	"github.com/orgchat/internal/storage"
	"github.com/orgchat/internal/storage/memory"
	redisstorage "github.com/orgchat/internal/storage/redis"
)

// PresenceStore returns the presence backend: Redis when a URL is configured
// (with connection retries), otherwise the in-memory store. The in-memory
// store only tracks presence on a single node.
func PresenceStore(redisURL string, maxWait time.Duration) storage.PresenceStore {
	if redisURL == "" {
		logger.Info("presence: REDIS_URL not set, using in-memory store")
		return memory.New()
	}
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := redisstorage.New(ctx, redisURL)
		cancel()
		if err != nil {
			if time.Now().After(deadline) {
				logger.Errorf("redis (gave up after %v): %v", maxWait, err)
				os.Exit(1)
			}
			logger.Errorf("redis connect failed, retry in %v: %v", backoff, err)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		return client
	}
}
