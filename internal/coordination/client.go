// Package coordination is the cross-instance source of truth for "has event X
// been started" and "who currently owns incident Y". It wraps a store.Store
// with TTL bookkeeping and a single fail-open policy.
package coordination

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/PratikDhanave/incident-bot/internal/models"
	"github.com/PratikDhanave/incident-bot/internal/store"
)

const (
	DefaultEventTTL = 24 * time.Hour
	DefaultLockTTL  = 5 * time.Minute

	defaultCallTimeout = 5 * time.Second
)

// Client performs event record and lock operations against a shared store.
type Client struct {
	store       store.Store
	policy      Policy
	instance    string
	eventTTL    time.Duration
	lockTTL     time.Duration
	callTimeout time.Duration
	now         func() time.Time
	log         *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithPolicy sets the degradation policy.
func WithPolicy(p Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithInstanceID sets the owner identity written into records.
func WithInstanceID(id string) Option {
	return func(c *Client) {
		if id != "" {
			c.instance = id
		}
	}
}

// WithEventTTL sets the lifetime of event records.
func WithEventTTL(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.eventTTL = d
		}
	}
}

// WithLockTTL sets the default lock lifetime used when AcquireLock gets ttl <= 0.
func WithLockTTL(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.lockTTL = d
		}
	}
}

// WithCallTimeout bounds each store call.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

func NewClient(st store.Store, opts ...Option) *Client {
	c := &Client{
		store:       st,
		instance:    uuid.NewString(),
		eventTTL:    DefaultEventTTL,
		lockTTL:     DefaultLockTTL,
		callTimeout: defaultCallTimeout,
		now:         time.Now,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "coordination", "instance", c.instance)
	return c
}

// InstanceID returns the owner identity of this client.
func (c *Client) InstanceID() string {
	return c.instance
}

// LockTTL returns the default lock lifetime.
func (c *Client) LockTTL() time.Duration {
	return c.lockTTL
}

// EventAlreadyProcessed reports whether a live event record exists for token.
// Absent, expired and unreadable records all mean "not processed".
func (c *Client) EventAlreadyProcessed(ctx context.Context, token string) bool {
	return c.MarkerSet(ctx, models.EventKey(token))
}

// MarkEventProcessed upserts the event record with a fresh expiry. Call it
// before the first externally visible side effect.
func (c *Client) MarkEventProcessed(ctx context.Context, token string) {
	c.SetMarker(ctx, models.EventKey(token), c.eventTTL)
}

// ForgetEvent deletes the event record so a redelivery is treated as new.
func (c *Client) ForgetEvent(ctx context.Context, token string) {
	c.ClearMarker(ctx, models.EventKey(token))
}

// MarkerSet reports whether a live marker record exists at key. Event records
// and enrichment step markers share this shape.
func (c *Client) MarkerSet(ctx context.Context, key string) bool {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	rec, err := c.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return false
	}
	if err != nil {
		return c.policy.seenOnError(c.log, key, err)
	}
	return rec.Live(c.now())
}

// SetMarker writes a processed marker at key living for ttl.
func (c *Client) SetMarker(ctx context.Context, key string, ttl time.Duration) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	now := c.now()
	err := c.store.Put(ctx, models.Record{
		Key:            key,
		Kind:           models.KindEvent,
		Status:         models.StatusProcessed,
		Owner:          c.instance,
		CreatedAt:      now.Unix(),
		UpdatedAt:      now.Unix(),
		ExpirationTime: now.Add(ttl).Unix(),
	})
	c.policy.writeFailed(c.log, "mark_processed", key, err)
}

// ClearMarker deletes the marker at key.
func (c *Client) ClearMarker(ctx context.Context, key string) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	c.policy.writeFailed(c.log, "forget", key, c.store.Delete(ctx, key))
}

// AcquireLock is a non-blocking try-lock: one conditional write that succeeds
// when no record exists for key or the existing one has expired. A live lock
// held by anyone yields false immediately. ttl <= 0 uses the default lock TTL.
func (c *Client) AcquireLock(ctx context.Context, key string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = c.lockTTL
	}
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	now := c.now()
	err := c.store.PutIfAbsentOrExpired(ctx, models.Record{
		Key:            key,
		Kind:           models.KindLock,
		Status:         models.StatusProcessing,
		Owner:          c.instance,
		CreatedAt:      now.Unix(),
		UpdatedAt:      now.Unix(),
		ExpirationTime: now.Add(ttl).Unix(),
	}, now)
	granted := c.policy.lockGranted(c.log, key, err)
	if err == nil {
		c.log.Debug("lock acquired", "lock_key", key, "ttl", ttl)
	} else if errors.Is(err, store.ErrConflict) {
		c.log.Info("lock held elsewhere", "lock_key", key)
	}
	return granted
}

// MarkCompleted flips an existing lock record owned by this instance to
// completed without releasing it.
func (c *Client) MarkCompleted(ctx context.Context, key string) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	rec, err := c.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		c.log.Warn("mark completed on missing lock", "lock_key", key)
		return
	}
	if err != nil {
		c.policy.writeFailed(c.log, "mark_completed", key, err)
		return
	}
	if rec.Owner != c.instance {
		c.log.Warn("mark completed on lock owned elsewhere", "lock_key", key, "owner", rec.Owner)
		return
	}
	rec.Status = models.StatusCompleted
	rec.UpdatedAt = c.now().Unix()
	c.policy.writeFailed(c.log, "mark_completed", key, c.store.Put(ctx, rec))
}

// ReleaseLock deletes the lock record. Releasing an absent lock is fine; if
// the delete fails the record's own expiry bounds the damage.
func (c *Client) ReleaseLock(ctx context.Context, key string) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	c.policy.writeFailed(c.log, "release_lock", key, c.store.Delete(ctx, key))
}

// Lookup returns the raw record at key for status reporting. found is false
// for an absent key.
func (c *Client) Lookup(ctx context.Context, key string) (rec models.Record, found bool, err error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	rec, err = c.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return models.Record{}, false, nil
	}
	if err != nil {
		return models.Record{}, false, err
	}
	return rec, true, nil
}

// Now returns the client's clock reading.
func (c *Client) Now() time.Time {
	return c.now()
}

// Store calls outlive a cancelled request so release and rollback still run.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(ctx), c.callTimeout)
}
