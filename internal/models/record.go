package models

import "time"

// RecordKind distinguishes the two record flavours sharing one keyspace.
type RecordKind string

const (
	KindEvent RecordKind = "event"
	KindLock  RecordKind = "lock"
)

// Record statuses.
const (
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
	StatusCompleted  = "completed"
)

// Key prefixes sharing the coordination keyspace.
const (
	EventKeyPrefix   = "event-"
	LockKeyPrefix    = "lock-"
	EnrichKeyPrefix  = "enrich-"
	CommandKeyPrefix = "cmd-"
)

// EventKey returns the coordination key for a fingerprint.
func EventKey(token string) string {
	return EventKeyPrefix + token
}

// LockKey returns the incident lock key for a ticket.
func LockKey(ticketKey string) string {
	return LockKeyPrefix + ticketKey
}

// EnrichKey returns the idempotency marker key of an enrichment step.
func EnrichKey(step, ticketKey string) string {
	return EnrichKeyPrefix + step + "-" + ticketKey
}

// CommandLockKey returns the lock key serializing a command for a ticket.
func CommandLockKey(command, ticketKey string) string {
	return CommandKeyPrefix + command + "-" + ticketKey
}

// Record is one coordination record. ExpirationTime is a unix timestamp in
// seconds interpreted by the client, never by store-native TTL, so an expired
// record stays distinguishable from an absent one.
type Record struct {
	Key            string     `json:"pk"`
	Kind           RecordKind `json:"kind"`
	Status         string     `json:"status"`
	Owner          string     `json:"owner"`
	CreatedAt      int64      `json:"created_at"`
	UpdatedAt      int64      `json:"updated_at"`
	ExpirationTime int64      `json:"expiration_time"`
}

// Live reports whether the record has not yet expired at now.
func (r Record) Live(now time.Time) bool {
	return r.ExpirationTime > now.Unix()
}

// Expiry returns ExpirationTime as a time.
func (r Record) Expiry() time.Time {
	return time.Unix(r.ExpirationTime, 0).UTC()
}
