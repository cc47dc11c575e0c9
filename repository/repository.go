// ABOUTME: Repository façade deciding per call between the remote store and the local ledger path
// ABOUTME: Writes never fail on remote errors; reads fall back to the Local Store when degraded
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/charmbracelet/log"

	"github.com/harperreed/fieldsync/db"
	"github.com/harperreed/fieldsync/models"
	"github.com/harperreed/fieldsync/remote"
	"github.com/harperreed/fieldsync/sync"
)

// LocalStore is the Local Store contract for one entity kind.
type LocalStore[T models.Record] interface {
	Insert(ctx context.Context, rec T) error
	GetByID(ctx context.Context, id string) (T, error)
	GetByOwner(ctx context.Context, ownerID string) iter.Seq2[T, error]
	GetUnsynced(ctx context.Context) ([]T, error)
	Delete(ctx context.Context, id string) error
}

// Connectivity is the synchronous reachability check used on every call.
type Connectivity interface {
	IsConnected() bool
}

// Options tune a repository.
type Options struct {
	MaxAttempts int
	CallTimeout time.Duration
}

// Repository is the façade for one entity kind.
type Repository[T models.Record] struct {
	local      LocalStore[T]
	ledger     *db.Ledger
	remote     remote.Store
	monitor    Connectivity
	entity     models.EntityType
	collection string
	decode     func(json.RawMessage) (T, error)
	opts       Options
	logger     *log.Logger
	now        func() time.Time
}

// NewVisitRepository builds the visit façade.
func NewVisitRepository(store *db.VisitStore, ledger *db.Ledger, rs remote.Store, monitor Connectivity, opts Options, logger *log.Logger) *Repository[*models.Visit] {
	return newRepository[*models.Visit](store, ledger, rs, monitor, models.EntityVisit, remote.CollectionVisits, sync.DecodeVisit, opts, logger)
}

// NewProspectRepository builds the prospect façade.
func NewProspectRepository(store *db.ProspectStore, ledger *db.Ledger, rs remote.Store, monitor Connectivity, opts Options, logger *log.Logger) *Repository[*models.Prospect] {
	return newRepository[*models.Prospect](store, ledger, rs, monitor, models.EntityProspect, remote.CollectionProspects, sync.DecodeProspect, opts, logger)
}

func newRepository[T models.Record](local LocalStore[T], ledger *db.Ledger, rs remote.Store, monitor Connectivity,
	entity models.EntityType, collection string, decode func(json.RawMessage) (T, error), opts Options, logger *log.Logger) *Repository[T] {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = models.DefaultMaxAttempts
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	return &Repository[T]{
		local:      local,
		ledger:     ledger,
		remote:     rs,
		monitor:    monitor,
		entity:     entity,
		collection: collection,
		decode:     decode,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// SetClock replaces the repository's time source.
func (r *Repository[T]) SetClock(now func() time.Time) {
	r.now = now
}

// Create records a new entity. An empty id is assigned here and is the
// idempotency key for every later delivery attempt.
func (r *Repository[T]) Create(ctx context.Context, rec T, priority models.Priority) error {
	if rec.RecordID() == "" {
		rec.SetRecordID(models.NewID())
	}
	return r.write(ctx, rec, models.OpCreate, priority)
}

// Update replaces an existing entity. Returns db.ErrNotFound if unknown.
func (r *Repository[T]) Update(ctx context.Context, rec T, priority models.Priority) error {
	existing, err := r.local.GetByID(ctx, rec.RecordID())
	if err != nil {
		return err
	}
	if isNil(existing) {
		return fmt.Errorf("update %s %s: %w", r.entity, rec.RecordID(), db.ErrNotFound)
	}
	return r.write(ctx, rec, models.OpUpdate, priority)
}

// Delete removes an entity locally and from the remote store. Returns
// db.ErrNotFound if unknown.
func (r *Repository[T]) Delete(ctx context.Context, id string, priority models.Priority) error {
	existing, err := r.local.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if isNil(existing) {
		return fmt.Errorf("delete %s %s: %w", r.entity, id, db.ErrNotFound)
	}
	return r.write(ctx, existing, models.OpDelete, priority)
}

// Get reads one entity from the Local Store, or nil if absent.
func (r *Repository[T]) Get(ctx context.Context, id string) (T, error) {
	return r.local.GetByID(ctx, id)
}

// List returns the owner's entities. When connected the remote view is merged
// into the Local Store first; when offline or the remote read fails the local
// contents are returned as they are.
func (r *Repository[T]) List(ctx context.Context, ownerID string) ([]T, error) {
	if r.monitor.IsConnected() {
		callCtx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
		docs, err := r.remote.Query(callCtx, r.collection, remote.Query{Filter: map[string]string{"owner_id": ownerID}})
		cancel()
		if err != nil {
			r.logger.Warn("remote read failed, serving local data", "entity", r.entity, "owner", ownerID, "err", err)
		} else if err := r.merge(ctx, ownerID, docs); err != nil {
			return nil, err
		}
	}
	return r.collect(ctx, ownerID)
}

// RequeueOrphans enqueues unsynced records that have no ledger item and no
// recorded failure. Those can only come from a crash between the local write
// and the enqueue.
func (r *Repository[T]) RequeueOrphans(ctx context.Context) (int, error) {
	unsynced, err := r.local.GetUnsynced(ctx)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, rec := range unsynced {
		if rec.Meta().LastSyncError != nil {
			continue
		}
		pending, err := r.ledger.HasUndelivered(ctx, r.entity, rec.RecordID())
		if err != nil {
			return requeued, err
		}
		if pending {
			continue
		}
		if err := r.enqueue(ctx, rec, models.OpUpdate, models.PriorityNormal); err != nil {
			return requeued, err
		}
		requeued++
	}
	if requeued > 0 {
		r.logger.Warn("requeued records missing from the ledger", "entity", r.entity, "count", requeued)
	}
	return requeued, nil
}

func (r *Repository[T]) write(ctx context.Context, rec T, op models.Operation, priority models.Priority) error {
	meta := rec.Meta()
	if op != models.OpDelete {
		rec.Touch(r.now().UTC())
	}

	if r.monitor.IsConnected() {
		delivered, err := r.tryRemote(ctx, rec, op)
		if err != nil {
			return err
		}
		if delivered {
			if op == models.OpDelete {
				return r.local.Delete(ctx, rec.RecordID())
			}
			now := r.now().UTC()
			meta.Synced = true
			meta.LastSyncAttempt = &now
			meta.LastSyncError = nil
			return r.local.Insert(ctx, rec)
		}
	}

	meta.Synced = false
	if op == models.OpDelete {
		// The DELETE is queued before the row goes, so a crash in between
		// leaves a row the worker still removes on delivery.
		if err := r.enqueue(ctx, rec, op, priority); err != nil {
			return err
		}
		return r.local.Delete(ctx, rec.RecordID())
	}
	if err := r.local.Insert(ctx, rec); err != nil {
		return err
	}
	return r.enqueue(ctx, rec, op, priority)
}

// tryRemote attempts the direct remote write. It reports false, with a nil
// error, whenever the caller should fall back to the ledger. Local storage
// failures and records that cannot be serialized are returned.
func (r *Repository[T]) tryRemote(ctx context.Context, rec T, op models.Operation) (bool, error) {
	// An undelivered earlier change must land first, so this one queues behind it.
	pending, err := r.ledger.HasUndelivered(ctx, r.entity, rec.RecordID())
	if err != nil {
		return false, err
	}
	if pending {
		return false, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
	defer cancel()

	if op == models.OpDelete {
		err = r.remote.Delete(callCtx, r.collection, rec.RecordID())
	} else {
		var data string
		data, err = sync.EncodeSnapshot(rec)
		if err != nil {
			return false, fmt.Errorf("encode %s %s: %w", r.entity, rec.RecordID(), err)
		}
		err = r.remote.Upsert(callCtx, r.collection, rec.RecordID(), json.RawMessage(data))
	}
	if err != nil {
		r.logger.Info("remote write failed, queueing", "entity", r.entity, "entity_id", rec.RecordID(), "op", op, "err", err)
		return false, nil
	}
	return true, nil
}

func (r *Repository[T]) enqueue(ctx context.Context, rec T, op models.Operation, priority models.Priority) error {
	data, err := sync.EncodeSnapshot(rec)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", r.entity, rec.RecordID(), err)
	}
	id, err := r.ledger.Enqueue(ctx, &models.SyncItem{
		EntityType:  r.entity,
		EntityID:    rec.RecordID(),
		Operation:   op,
		DataJSON:    data,
		Priority:    priority,
		MaxAttempts: r.opts.MaxAttempts,
	})
	if err != nil {
		return err
	}
	r.logger.Debug("queued for sync", "item", id, "entity", r.entity, "entity_id", rec.RecordID(), "op", op)
	return nil
}

// merge writes the remote view of an owner's entities into the Local Store.
// Local changes that have not been delivered win over the remote copy, and
// synced local rows the remote no longer has are dropped.
func (r *Repository[T]) merge(ctx context.Context, ownerID string, docs []json.RawMessage) error {
	undelivered, err := r.ledger.OpenEntityIDs(ctx, r.entity)
	if err != nil {
		return err
	}
	current, err := r.collect(ctx, ownerID)
	if err != nil {
		return err
	}
	byID := make(map[string]T, len(current))
	for _, rec := range current {
		byID[rec.RecordID()] = rec
	}

	now := r.now().UTC()
	seen := make(map[string]bool, len(docs))
	for _, doc := range docs {
		rec, err := r.decode(doc)
		if err != nil {
			r.logger.Warn("skipping undecodable remote document", "entity", r.entity, "err", err)
			continue
		}
		id := rec.RecordID()
		seen[id] = true
		if undelivered[id] {
			continue
		}
		if existing, ok := byID[id]; ok && !existing.Meta().Synced {
			continue
		}
		meta := rec.Meta()
		meta.Synced = true
		meta.LastSyncAttempt = &now
		if err := r.local.Insert(ctx, rec); err != nil {
			return err
		}
	}

	for id, rec := range byID {
		if !seen[id] && rec.Meta().Synced && !undelivered[id] {
			if err := r.local.Delete(ctx, id); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Repository[T]) collect(ctx context.Context, ownerID string) ([]T, error) {
	var out []T
	for rec, err := range r.local.GetByOwner(ctx, ownerID) {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func isNil[T models.Record](rec T) bool {
	var zero T
	return any(rec) == any(zero)
}

// IsLocalFailure reports whether err came from the Local Store.
func IsLocalFailure(err error) bool {
	return db.IsStorageError(err) || errors.Is(err, db.ErrNotFound)
}
