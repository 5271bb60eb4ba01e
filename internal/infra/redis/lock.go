// File: internal/infra/redis/lock.go
package redis

import (
	"context"
	"time"

	"document-ai-indexing/internal/domain"
	"document-ai-indexing/internal/domain/ports/adapter"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Ensure interface compliance:
var _ adapter.WorkspaceLocker = (*RedisLocker)(nil)

// RedisLocker implements workspace mutual exclusion on a single Redis
// key per workspace (SETNX with TTL, token-checked unlock).
type RedisLocker struct {
	cli *redis.Client
}

func NewLocker(c *Client) *RedisLocker {
	return &RedisLocker{cli: c.cli}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := l.cli.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.ErrJobAlreadyRunning
	}
	return token, nil
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	_, err := luaUnlock.Run(ctx, l.cli, []string{key}, token).Result()
	return err
}

var luaRefresh = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end`)

// Refresh extends the TTL of a held lock. A long job refreshes its lock
// periodically so the TTL only expires for genuinely dead holders.
func (l *RedisLocker) Refresh(ctx context.Context, key, token string, ttl time.Duration) error {
	_, err := luaRefresh.Run(ctx, l.cli, []string{key}, token, ttl.Milliseconds()).Result()
	return err
}
