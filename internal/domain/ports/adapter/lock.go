package adapter

import (
	"context"
	"time"
)

// WorkspaceLocker provides mutual exclusion for indexing runs. The
// orchestrator takes the workspace lock before creating or resuming a
// job and holds it for the run's lifetime, so two instances can never
// drive the same workspace concurrently. The TTL bounds how long a
// crashed holder blocks a workspace.
type WorkspaceLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
	Refresh(ctx context.Context, key, token string, ttl time.Duration) error
}
