// Package store provides the shared key-value backends behind the
// coordination layer. Backends only persist and compare records; expiry is
// interpreted by the caller through the now argument and the record's
// expiration_time attribute.
package store

import (
	"context"
	"time"

	"github.com/PratikDhanave/incident-bot/internal/models"
)

// Error is a sentinel store error.
type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	// ErrNotFound is returned by Get when no record exists for the key.
	ErrNotFound = Error("coordination record not found")
	// ErrConflict is returned by PutIfAbsentOrExpired when a live record exists.
	ErrConflict = Error("live coordination record exists")
	// ErrUnavailable wraps transport failures: the store could not be reached.
	ErrUnavailable = Error("coordination store unavailable")
	// ErrTableMissing means the store answered but the table does not exist.
	ErrTableMissing = Error("coordination table missing")
)

const operationTimeout = 5 * time.Second

// Store is a key-value table keyed by a single string partition key.
type Store interface {
	// Get returns the record for key or ErrNotFound.
	Get(ctx context.Context, key string) (models.Record, error)
	// PutIfAbsentOrExpired writes rec only when no record exists for rec.Key
	// or the existing one has expiration_time <= now. It is a single atomic
	// conditional write; a live record yields ErrConflict.
	PutIfAbsentOrExpired(ctx context.Context, rec models.Record, now time.Time) error
	// Put writes rec unconditionally.
	Put(ctx context.Context, rec models.Record) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Ping checks reachability.
	Ping(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, operationTimeout)
}
