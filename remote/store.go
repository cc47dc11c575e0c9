// ABOUTME: Remote Store contract consumed by the sync engine
// ABOUTME: Idempotent upsert and delete by (collection, id), filtered queries, and error classification
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Collections used by the sync engine.
const (
	CollectionVisits    = "visits"
	CollectionProspects = "prospects"
	CollectionMetrics   = "metrics"
)

// Query selects documents from a collection.
type Query struct {
	// Filter matches top-level document fields by exact value.
	Filter  map[string]string
	OrderBy string
	Desc    bool
	Limit   int
}

// Store is the authoritative remote persistence. Upsert must be idempotent by
// (collection, id) and Delete of a missing id must succeed.
type Store interface {
	Upsert(ctx context.Context, collection, id string, doc json.RawMessage) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, collection string, q Query) ([]json.RawMessage, error)
}

// Kind separates failures worth retrying from those that never will succeed.
type Kind int

const (
	Transient Kind = iota
	Permanent
)

func (k Kind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "transient"
}

// Error is a classified Remote Store failure.
type Error struct {
	Kind       Kind
	Op         string
	Collection string
	ID         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	target := e.Collection
	if e.ID != "" {
		target += "/" + e.ID
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote %s %s: %s error (status %d): %v", e.Op, target, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("remote %s %s: %s error: %v", e.Op, target, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err is a remote failure that retrying cannot
// fix. Unclassified errors are treated as transient.
func IsPermanent(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == Permanent
}

// KindForStatus classifies an HTTP status code.
func KindForStatus(code int) Kind {
	switch {
	case code == 408 || code == 429:
		return Transient
	case code >= 400 && code < 500:
		return Permanent
	default:
		return Transient
	}
}
