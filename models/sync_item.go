// ABOUTME: Sync ledger item model and its enums
// ABOUTME: Field names match the persisted ledger contract consumed by external tooling
package models

import (
	"fmt"
	"time"
)

// EntityType identifies the kind of entity a ledger item refers to.
type EntityType string

const (
	EntityVisit    EntityType = "VISIT"
	EntityProspect EntityType = "PROSPECT"
)

// Operation is the mutation a ledger item replays against the remote store.
type Operation string

const (
	OpCreate Operation = "CREATE"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Status is the ledger item lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSyncing   Status = "SYNCING"
	StatusFailed    Status = "FAILED"
	StatusCompleted Status = "COMPLETED"
)

// Priority orders eligible ledger items; higher runs first.
type Priority int

const (
	PriorityLow    Priority = -1
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 1
)

// DefaultMaxAttempts is the retry budget for a ledger item.
const DefaultMaxAttempts = 5

// SyncItem is one pending mutation awaiting delivery to the remote store.
// Timestamps are unix milliseconds.
type SyncItem struct {
	ID            int64      `json:"id" yaml:"id"`
	EntityType    EntityType `json:"entityType" yaml:"entityType"`
	EntityID      string     `json:"entityId" yaml:"entityId"`
	Operation     Operation  `json:"operation" yaml:"operation"`
	DataJSON      string     `json:"dataJson" yaml:"dataJson"`
	Status        Status     `json:"status" yaml:"status"`
	Priority      Priority   `json:"priority" yaml:"priority"`
	Attempts      int        `json:"attempts" yaml:"attempts"`
	MaxAttempts   int        `json:"maxAttempts" yaml:"maxAttempts"`
	LastAttemptAt *int64     `json:"lastAttemptAt" yaml:"lastAttemptAt"`
	ErrorMessage  *string    `json:"errorMessage" yaml:"errorMessage"`
	CreatedAt     int64      `json:"createdAt" yaml:"createdAt"`
	UpdatedAt     int64      `json:"updatedAt" yaml:"updatedAt"`
	ScheduledAt   *int64     `json:"scheduledAt" yaml:"scheduledAt"`
}

// Terminal reports whether the item is no longer eligible for delivery.
func (s Status) Terminal() bool {
	return s == StatusCompleted
}

// ParseEntityType validates a persisted entity type string.
func ParseEntityType(s string) (EntityType, error) {
	switch EntityType(s) {
	case EntityVisit, EntityProspect:
		return EntityType(s), nil
	}
	return "", fmt.Errorf("unknown entity type %q", s)
}

// ParseOperation validates a persisted operation string.
func ParseOperation(s string) (Operation, error) {
	switch Operation(s) {
	case OpCreate, OpUpdate, OpDelete:
		return Operation(s), nil
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

// ParsePriority maps a flag value onto a Priority.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "high":
		return PriorityHigh, nil
	case "", "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", s)
}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// MergeOperations returns the intent that remains when next supersedes a
// still-pending prev for the same entity. A CREATE followed by an UPDATE
// stays a CREATE carrying the newer snapshot.
func MergeOperations(prev, next Operation) Operation {
	if prev == OpCreate && next == OpUpdate {
		return OpCreate
	}
	return next
}

// CacheEntry is a time-boxed snapshot of a remote read.
type CacheEntry struct {
	Key       string    `json:"key"`
	Data      []byte    `json:"data"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IsStale   bool      `json:"is_stale"`
}

// Expired reports whether the entry is past its validity window at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}
