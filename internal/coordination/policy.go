package coordination

import (
	"log/slog"

	"github.com/pkg/errors"

	"github.com/PratikDhanave/incident-bot/internal/store"
)

// Policy decides what a coordination call returns when the store cannot
// answer. Every store call in this package goes through it.
//
// The default is fail open: an unreachable store or missing table lets the
// workflow proceed uncoordinated, and duplicates become possible. Setting
// LockFailClosed makes AcquireLock refuse instead, trading availability of
// the workflow for a strict at-most-once start.
type Policy struct {
	LockFailClosed bool
}

// lockGranted maps an acquire error to the acquire result.
func (p Policy) lockGranted(log *slog.Logger, key string, err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, store.ErrConflict) {
		return false
	}
	p.degraded(log, "acquire_lock", key, err)
	return !p.LockFailClosed
}

// seenOnError is the answer to "already processed?" when the read failed.
// Unreachable means not processed.
func (p Policy) seenOnError(log *slog.Logger, key string, err error) bool {
	p.degraded(log, "event_already_processed", key, err)
	return false
}

// writeFailed absorbs a failed write. Writes are best effort: a lost marker
// weakens deduplication but must never abort the workflow.
func (p Policy) writeFailed(log *slog.Logger, op, key string, err error) {
	if err == nil {
		return
	}
	p.degraded(log, op, key, err)
}

func (p Policy) degraded(log *slog.Logger, op, key string, err error) {
	if store.IsDegraded(err) {
		log.Warn("coordination store degraded, continuing without coordination",
			"op", op, "key", key, "fail_closed", p.LockFailClosed && op == "acquire_lock", "error", err)
		return
	}
	log.Error("coordination store call failed, continuing without coordination",
		"op", op, "key", key, "fail_closed", p.LockFailClosed && op == "acquire_lock", "error", err)
}
