package coordination

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrLockHeld is returned by WithLock when another owner holds the lock.
var ErrLockHeld = errors.New("lock held by another instance")

// WithLock acquires key, runs fn, and releases key on every exit path,
// panics included. On success the lock is marked completed before release.
func (c *Client) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	if !c.AcquireLock(ctx, key, ttl) {
		return ErrLockHeld
	}
	defer c.ReleaseLock(ctx, key)

	if err := fn(ctx); err != nil {
		return err
	}
	c.MarkCompleted(ctx, key)
	return nil
}
