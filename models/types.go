// ABOUTME: Data models for field CRM entities and their sync bookkeeping
// ABOUTME: Defines Visit, Prospect, SyncMeta, and the Record interface shared by stores and repositories
package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncMeta tracks delivery of a locally recorded entity to the remote store.
type SyncMeta struct {
	Synced          bool       `json:"synced"`
	SyncAttempts    int        `json:"sync_attempts"`
	LastSyncAttempt *time.Time `json:"last_sync_attempt,omitempty"`
	LastSyncError   *string    `json:"last_sync_error,omitempty"`
}

// Record is implemented by every entity kind the sync engine can carry.
type Record interface {
	RecordID() string
	SetRecordID(id string)
	Owner() string
	Entity() EntityType
	Meta() *SyncMeta
	// Touch stamps a modification at t, filling CreatedAt on first write.
	Touch(t time.Time)
}

// Visit is a field visit or check-in performed by a sales rep.
type Visit struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	ProspectID string    `json:"prospect_id,omitempty"`
	Kind       string    `json:"kind"`
	Notes      string    `json:"notes,omitempty"`
	Latitude   float64   `json:"latitude,omitempty"`
	Longitude  float64   `json:"longitude,omitempty"`
	VisitedAt  time.Time `json:"visited_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	SyncMeta `json:"-"`
}

// Prospect is a potential customer tracked by a sales rep.
type Prospect struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Company   string    `json:"company,omitempty"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Stage     string    `json:"stage"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	SyncMeta `json:"-"`
}

// Visit kinds.
const (
	VisitKindVisit   = "visit"
	VisitKindCheckIn = "check_in"
)

// Prospect stages.
const (
	StageNew       = "new"
	StageContacted = "contacted"
	StageQualified = "qualified"
	StageWon       = "won"
	StageLost      = "lost"
)

func (v *Visit) RecordID() string { return v.ID }
func (v *Visit) SetRecordID(id string) { v.ID = id }
func (v *Visit) Owner() string { return v.OwnerID }
func (v *Visit) Entity() EntityType { return EntityVisit }
func (v *Visit) Meta() *SyncMeta { return &v.SyncMeta }

func (p *Prospect) RecordID() string { return p.ID }
func (p *Prospect) SetRecordID(id string) { p.ID = id }
func (p *Prospect) Owner() string { return p.OwnerID }
func (p *Prospect) Entity() EntityType { return EntityProspect }
func (p *Prospect) Meta() *SyncMeta { return &p.SyncMeta }

func (v *Visit) Touch(t time.Time) {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = t
	}
	if v.VisitedAt.IsZero() {
		v.VisitedAt = t
	}
	v.UpdatedAt = t
}

func (p *Prospect) Touch(t time.Time) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = t
	}
	p.UpdatedAt = t
}

// NewID returns a fresh globally unique record id. Callers assign it once at
// creation time so retried writes stay idempotent.
func NewID() string {
	return uuid.NewString()
}

// ValidVisitKind reports whether kind is a known visit kind.
func ValidVisitKind(kind string) bool {
	return kind == VisitKindVisit || kind == VisitKindCheckIn
}

// ValidStage reports whether stage is a known prospect stage.
func ValidStage(stage string) bool {
	switch stage {
	case StageNew, StageContacted, StageQualified, StageWon, StageLost:
		return true
	}
	return false
}

// Millis converts t to unix milliseconds, the storage format for all timestamps.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts unix milliseconds back to a UTC time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
