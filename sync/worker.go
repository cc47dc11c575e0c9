// ABOUTME: Sync worker that drains eligible ledger items into the remote store
// ABOUTME: One RunOnce pass claims, dispatches, and settles items, then performs housekeeping

package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/harperreed/fieldsync/db"
	"github.com/harperreed/fieldsync/models"
	"github.com/harperreed/fieldsync/remote"
)

// ServiceName keys the worker's row in the run-state table.
const ServiceName = "remote"

// Result is the outcome of a single run.
type Result string

const (
	ResultSuccess       Result = "SUCCESS"
	ResultRequiresRetry Result = "REQUIRES_RETRY"
)

// RunReport summarizes one RunOnce pass.
type RunReport struct {
	Result       Result
	Offline      bool
	Cancelled    bool
	Attempted    int
	Succeeded    int
	Failed       int
	DeadLettered int
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Connectivity is the reachability check the worker requires before a run.
type Connectivity interface {
	IsConnected() bool
}

// LocalRecords is the slice of a Local Store the worker updates after delivery.
type LocalRecords interface {
	MarkSynced(ctx context.Context, id string, ts time.Time) error
	IncrementSyncAttempt(ctx context.Context, id string, ts time.Time, syncErr string) error
	Delete(ctx context.Context, id string) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time, onlySynced bool) (int64, error)
}

// WorkerConfig holds run policy.
type WorkerConfig struct {
	Backoff            Backoff
	CallTimeout        time.Duration
	CompletedRetention time.Duration
	RecordRetention    time.Duration
	// LeaseTimeout is how long a run may go without renewing its lease
	// before another process treats it as dead.
	LeaseTimeout time.Duration
}

// DefaultWorkerConfig returns the standard retention and retry policy.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Backoff:            Backoff{Base: DefaultBackoffBase, Cap: DefaultBackoffCap},
		CallTimeout:        30 * time.Second,
		CompletedRetention: 7 * 24 * time.Hour,
		RecordRetention:    90 * 24 * time.Hour,
		LeaseTimeout:       10 * time.Minute,
	}
}

// Worker replays ledger items against the remote store.
type Worker struct {
	db      *sql.DB
	ledger  *db.Ledger
	remote  remote.Store
	monitor Connectivity
	locals  map[models.EntityType]LocalRecords
	cfg     WorkerConfig
	logger  *log.Logger
	now     func() time.Time
	// holder identifies this worker in the run lease.
	holder string
}

func NewWorker(appDB *sql.DB, ledger *db.Ledger, store remote.Store, monitor Connectivity, cfg WorkerConfig, logger *log.Logger) *Worker {
	return &Worker{
		db:      appDB,
		ledger:  ledger,
		remote:  store,
		monitor: monitor,
		locals: map[models.EntityType]LocalRecords{
			models.EntityVisit:    db.NewVisitStore(appDB),
			models.EntityProspect: db.NewProspectStore(appDB),
		},
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		holder: models.NewID(),
	}
}

// SetClock replaces the worker's time source.
func (w *Worker) SetClock(now func() time.Time) {
	w.now = now
}

// RunOnce performs one pass over the eligible items. Remote failures are
// absorbed into ledger state; only local storage failures are returned.
// Cancelling ctx stops the pass after returning any in-flight item to PENDING.
func (w *Worker) RunOnce(ctx context.Context) (RunReport, error) {
	report := RunReport{StartedAt: w.now()}

	if !w.monitor.IsConnected() {
		report.Result = ResultRequiresRetry
		report.Offline = true
		report.FinishedAt = report.StartedAt
		w.logger.Debug("skipping run while offline")
		return report, nil
	}

	if w.cfg.LeaseTimeout <= 0 {
		w.cfg.LeaseTimeout = DefaultWorkerConfig().LeaseTimeout
	}
	if err := db.StartRun(ctx, w.db, ServiceName, w.holder, report.StartedAt, w.cfg.LeaseTimeout); err != nil {
		if errors.Is(err, db.ErrRunHeld) {
			report.Result = ResultRequiresRetry
			report.FinishedAt = report.StartedAt
			w.logger.Debug("another process is running sync")
			return report, ErrRunInProgress
		}
		return report, err
	}

	err := w.drain(ctx, &report)
	// Bookkeeping must land even when the run was cancelled.
	bookCtx := context.WithoutCancel(ctx)

	if err == nil && !report.Cancelled {
		err = w.housekeeping(bookCtx, &report)
	}

	report.FinishedAt = w.now()
	switch {
	case report.Cancelled, report.Failed > 0 && report.Succeeded == 0:
		report.Result = ResultRequiresRetry
	default:
		report.Result = ResultSuccess
	}

	var errMsg *string
	if err != nil {
		report.Result = ResultRequiresRetry
		msg := err.Error()
		errMsg = &msg
	}
	counts := db.RunCounts{
		Attempted:    report.Attempted,
		Succeeded:    report.Succeeded,
		Failed:       report.Failed,
		DeadLettered: report.DeadLettered,
	}
	if ferr := db.FinishRun(bookCtx, w.db, ServiceName, w.holder, string(report.Result), counts, errMsg, report.FinishedAt); ferr != nil && err == nil {
		err = ferr
	}

	w.logger.Info("sync run finished",
		"result", report.Result,
		"attempted", report.Attempted,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"dead_lettered", report.DeadLettered,
		"duration", report.FinishedAt.Sub(report.StartedAt))
	return report, err
}

func (w *Worker) drain(ctx context.Context, report *RunReport) error {
	// Holding the lease means no other run is in flight, so anything still
	// SYNCING was stranded by a crash.
	if n, err := w.ledger.ResetAllSyncing(ctx); err != nil {
		if ctx.Err() != nil {
			report.Cancelled = true
			return nil
		}
		return err
	} else if n > 0 {
		w.logger.Warn("recovered items left syncing by an earlier run", "count", n)
	}

	items, err := w.ledger.GetEligible(ctx, w.now())
	if err != nil {
		if ctx.Err() != nil {
			report.Cancelled = true
			return nil
		}
		return err
	}

	for _, item := range items {
		if ctx.Err() != nil {
			report.Cancelled = true
			return nil
		}

		if err := db.RenewRun(ctx, w.db, ServiceName, w.holder, w.now()); err != nil {
			if ctx.Err() != nil {
				report.Cancelled = true
				return nil
			}
			return err
		}

		if item.Attempts >= item.MaxAttempts {
			if err := w.ledger.Delete(ctx, item.ID); err != nil {
				return err
			}
			report.DeadLettered++
			w.logger.Warn("dead-lettered exhausted item", "item", item.ID, "entity", item.EntityType, "entity_id", item.EntityID, "attempts", item.Attempts)
			continue
		}

		claimed, err := w.ledger.Claim(ctx, item.ID)
		if err != nil {
			if ctx.Err() != nil {
				report.Cancelled = true
				return nil
			}
			if errors.Is(err, db.ErrInvalidTransition) || errors.Is(err, db.ErrNotFound) {
				w.logger.Debug("item no longer claimable", "item", item.ID)
				continue
			}
			return err
		}
		report.Attempted++

		// The claimed row carries any snapshot that superseded the listed one.
		if err := w.process(ctx, *claimed, report); err != nil {
			return err
		}
	}
	return nil
}

// process delivers one claimed item and settles its ledger and local state.
// Only the remote call observes cancellation; settlement always completes.
func (w *Worker) process(ctx context.Context, item models.SyncItem, report *RunReport) error {
	logger := w.logger.With("item", item.ID, "entity", item.EntityType, "entity_id", item.EntityID, "op", item.Operation)
	local := w.locals[item.EntityType]
	settleCtx := context.WithoutCancel(ctx)

	payload, err := DecodePayload(item)
	if err != nil {
		report.Failed++
		report.DeadLettered++
		logger.Error("dropping undecodable item", "err", err)
		return w.deadLetter(settleCtx, item, local, err)
	}

	sendErr := w.send(ctx, item.Operation, payload)
	if sendErr == nil {
		report.Succeeded++
		logger.Debug("delivered")
		return w.settleSuccess(settleCtx, item, local)
	}

	if ctx.Err() != nil {
		report.Cancelled = true
		logger.Info("run cancelled mid-delivery, releasing item")
		return w.ledger.ReleaseSyncing(settleCtx, item.ID)
	}

	report.Failed++
	if remote.IsPermanent(sendErr) {
		report.DeadLettered++
		logger.Error("remote rejected item permanently", "err", sendErr)
		return w.deadLetter(settleCtx, item, local, sendErr)
	}

	now := w.now()
	next := w.cfg.Backoff.NextRetryAt(now, item.Attempts)
	if err := w.ledger.MarkFailed(settleCtx, item.ID, sendErr.Error(), next, now); err != nil {
		return err
	}
	if local != nil {
		if err := local.IncrementSyncAttempt(settleCtx, item.EntityID, now, sendErr.Error()); err != nil && !errors.Is(err, db.ErrNotFound) {
			return err
		}
	}
	logger.Warn("delivery failed", "err", sendErr, "attempts", item.Attempts+1, "next_retry", next)
	return nil
}

func (w *Worker) send(ctx context.Context, op models.Operation, payload Payload) error {
	callCtx := ctx
	if w.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, w.cfg.CallTimeout)
		defer cancel()
	}

	switch op {
	case models.OpCreate, models.OpUpdate:
		doc, err := payload.Document()
		if err != nil {
			return &remote.Error{Kind: remote.Permanent, Op: "upsert", Collection: payload.Collection(), ID: payload.DocID(),
				Err: fmt.Errorf("%w: %v", ErrSerialization, err)}
		}
		return w.remote.Upsert(callCtx, payload.Collection(), payload.DocID(), doc)
	case models.OpDelete:
		return w.remote.Delete(callCtx, payload.Collection(), payload.DocID())
	default:
		return &remote.Error{Kind: remote.Permanent, Op: string(op), Collection: payload.Collection(), ID: payload.DocID(),
			Err: fmt.Errorf("unknown operation %q", op)}
	}
}

func (w *Worker) settleSuccess(ctx context.Context, item models.SyncItem, local LocalRecords) error {
	now := w.now()
	if err := w.ledger.MarkCompleted(ctx, item.ID, now); err != nil {
		return err
	}
	if local == nil {
		return nil
	}

	if item.Operation == models.OpDelete {
		return local.Delete(ctx, item.EntityID)
	}

	// A newer edit queued while this one was in flight is still undelivered.
	newer, err := w.ledger.HasOpen(ctx, item.EntityType, item.EntityID)
	if err != nil {
		return err
	}
	if newer {
		return nil
	}
	if err := local.MarkSynced(ctx, item.EntityID, now); err != nil && !errors.Is(err, db.ErrNotFound) {
		return err
	}
	return nil
}

func (w *Worker) deadLetter(ctx context.Context, item models.SyncItem, local LocalRecords, cause error) error {
	if err := w.ledger.Delete(ctx, item.ID); err != nil {
		return err
	}
	if local == nil {
		return nil
	}
	err := local.IncrementSyncAttempt(ctx, item.EntityID, w.now(), cause.Error())
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return err
	}
	return nil
}

func (w *Worker) housekeeping(ctx context.Context, report *RunReport) error {
	now := w.now()

	completed, err := w.ledger.DeleteCompletedOlderThan(ctx, now.Add(-w.cfg.CompletedRetention))
	if err != nil {
		return err
	}
	exceeded, err := w.ledger.DeleteExceededAttempts(ctx)
	if err != nil {
		return err
	}
	report.DeadLettered += int(exceeded)
	if exceeded > 0 {
		w.logger.Warn("dead-lettered items that exhausted retries", "count", exceeded)
	}

	var records int64
	for _, local := range w.locals {
		n, err := local.DeleteOlderThan(ctx, now.Add(-w.cfg.RecordRetention), true)
		if err != nil {
			return err
		}
		records += n
	}

	if completed > 0 || records > 0 {
		w.logger.Debug("housekeeping", "completed_removed", completed, "records_removed", records)
	}
	return nil
}
