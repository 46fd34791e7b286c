package store

import (
	"context"
	"sync"
	"time"

	"github.com/PratikDhanave/incident-bot/internal/models"
)

// MemoryStore keeps records in process memory. It is shared only by callers
// holding the same instance, which makes it suitable for single-instance
// deployments and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]models.Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]models.Record{}}
}

func (m *MemoryStore) Get(_ context.Context, key string) (models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return models.Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) PutIfAbsentOrExpired(_ context.Context, rec models.Record, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.records[rec.Key]; ok && cur.Live(now) {
		return ErrConflict
	}
	m.records[rec.Key] = rec
	return nil
}

func (m *MemoryStore) Put(_ context.Context, rec models.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Key] = rec
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

// Len returns the number of stored records, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// UnreachableStore fails every call with ErrUnavailable. It stands in for a
// backend that could not be opened at boot so the service still starts and
// runs uncoordinated.
type UnreachableStore struct {
	Reason error
}

func (u UnreachableStore) err() error {
	if u.Reason == nil {
		return ErrUnavailable
	}
	return wrapUnavailable(u.Reason)
}

func (u UnreachableStore) Get(context.Context, string) (models.Record, error) {
	return models.Record{}, u.err()
}

func (u UnreachableStore) PutIfAbsentOrExpired(context.Context, models.Record, time.Time) error {
	return u.err()
}

func (u UnreachableStore) Put(context.Context, models.Record) error { return u.err() }

func (u UnreachableStore) Delete(context.Context, string) error { return u.err() }

func (u UnreachableStore) Ping(context.Context) error { return u.err() }

func (u UnreachableStore) Close() error { return nil }
