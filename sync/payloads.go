// ABOUTME: Self-contained JSON snapshots carried by sync ledger items
// ABOUTME: Encodes records at enqueue time and decodes them into typed payloads at dispatch time

package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/harperreed/fieldsync/models"
	"github.com/harperreed/fieldsync/remote"
)

// ErrSerialization marks a ledger snapshot that cannot be turned back into a
// payload. Such items are dead-lettered rather than retried.
var ErrSerialization = errors.New("payload serialization failed")

// Payload is a decoded ledger snapshot ready to send to the remote store.
type Payload interface {
	Collection() string
	DocID() string
	Document() (json.RawMessage, error)
}

// VisitPayload is the remote document for a visit.
type VisitPayload struct {
	ID         string  `json:"id"`
	OwnerID    string  `json:"owner_id"`
	ProspectID string  `json:"prospect_id,omitempty"`
	Kind       string  `json:"kind"`
	Notes      string  `json:"notes,omitempty"`
	Latitude   float64 `json:"latitude,omitempty"`
	Longitude  float64 `json:"longitude,omitempty"`
	VisitedAt  string  `json:"visited_at"` // RFC3339 timestamp
	CreatedAt  string  `json:"created_at"` // RFC3339 timestamp
	UpdatedAt  string  `json:"updated_at"` // RFC3339 timestamp
}

// ProspectPayload is the remote document for a prospect.
type ProspectPayload struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	Name      string `json:"name"`
	Company   string `json:"company,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Stage     string `json:"stage"`
	Notes     string `json:"notes,omitempty"`
	CreatedAt string `json:"created_at"` // RFC3339 timestamp
	UpdatedAt string `json:"updated_at"` // RFC3339 timestamp
}

func (p *VisitPayload) Collection() string { return remote.CollectionVisits }
func (p *VisitPayload) DocID() string { return p.ID }
func (p *VisitPayload) Document() (json.RawMessage, error) {
	return json.Marshal(p)
}

func (p *ProspectPayload) Collection() string { return remote.CollectionProspects }
func (p *ProspectPayload) DocID() string { return p.ID }
func (p *ProspectPayload) Document() (json.RawMessage, error) {
	return json.Marshal(p)
}

func NewVisitPayload(v *models.Visit) *VisitPayload {
	return &VisitPayload{
		ID:         v.ID,
		OwnerID:    v.OwnerID,
		ProspectID: v.ProspectID,
		Kind:       v.Kind,
		Notes:      v.Notes,
		Latitude:   v.Latitude,
		Longitude:  v.Longitude,
		VisitedAt:  v.VisitedAt.UTC().Format(time.RFC3339Nano),
		CreatedAt:  v.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:  v.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func NewProspectPayload(p *models.Prospect) *ProspectPayload {
	return &ProspectPayload{
		ID:        p.ID,
		OwnerID:   p.OwnerID,
		Name:      p.Name,
		Company:   p.Company,
		Email:     p.Email,
		Phone:     p.Phone,
		Stage:     p.Stage,
		Notes:     p.Notes,
		CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt: p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Visit converts the payload back into a model. The sync metadata is left
// zero.
func (p *VisitPayload) Visit() (*models.Visit, error) {
	v := &models.Visit{
		ID:         p.ID,
		OwnerID:    p.OwnerID,
		ProspectID: p.ProspectID,
		Kind:       p.Kind,
		Notes:      p.Notes,
		Latitude:   p.Latitude,
		Longitude:  p.Longitude,
	}
	var err error
	if v.VisitedAt, err = parseTime(p.VisitedAt); err != nil {
		return nil, err
	}
	if v.CreatedAt, err = parseTime(p.CreatedAt); err != nil {
		return nil, err
	}
	if v.UpdatedAt, err = parseTime(p.UpdatedAt); err != nil {
		return nil, err
	}
	return v, nil
}

// Prospect converts the payload back into a model.
func (p *ProspectPayload) Prospect() (*models.Prospect, error) {
	out := &models.Prospect{
		ID:      p.ID,
		OwnerID: p.OwnerID,
		Name:    p.Name,
		Company: p.Company,
		Email:   p.Email,
		Phone:   p.Phone,
		Stage:   p.Stage,
		Notes:   p.Notes,
	}
	var err error
	if out.CreatedAt, err = parseTime(p.CreatedAt); err != nil {
		return nil, err
	}
	if out.UpdatedAt, err = parseTime(p.UpdatedAt); err != nil {
		return nil, err
	}
	return out, nil
}

// EncodeSnapshot serializes a record into the ledger's dataJson column.
func EncodeSnapshot(rec models.Record) (string, error) {
	var payload Payload
	switch r := rec.(type) {
	case *models.Visit:
		payload = NewVisitPayload(r)
	case *models.Prospect:
		payload = NewProspectPayload(r)
	default:
		return "", fmt.Errorf("%w: unsupported record %T", ErrSerialization, rec)
	}
	doc, err := payload.Document()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return string(doc), nil
}

// DecodePayload rebuilds the typed payload captured in a ledger item. The
// snapshot must describe the same entity the item points at.
func DecodePayload(item models.SyncItem) (Payload, error) {
	var payload Payload
	switch item.EntityType {
	case models.EntityVisit:
		payload = &VisitPayload{}
	case models.EntityProspect:
		payload = &ProspectPayload{}
	default:
		return nil, fmt.Errorf("%w: unknown entity type %q", ErrSerialization, item.EntityType)
	}

	if err := json.Unmarshal([]byte(item.DataJSON), payload); err != nil {
		return nil, fmt.Errorf("%w: item %d: %v", ErrSerialization, item.ID, err)
	}
	if payload.DocID() != item.EntityID {
		return nil, fmt.Errorf("%w: item %d: snapshot id %q does not match entity %q",
			ErrSerialization, item.ID, payload.DocID(), item.EntityID)
	}
	return payload, nil
}

// DecodeVisit parses a remote visit document.
func DecodeVisit(doc json.RawMessage) (*models.Visit, error) {
	var p VisitPayload
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return p.Visit()
}

// DecodeProspect parses a remote prospect document.
func DecodeProspect(doc json.RawMessage) (*models.Prospect, error) {
	var p ProspectPayload
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return p.Prospect()
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrSerialization, s)
	}
	return t.UTC(), nil
}
