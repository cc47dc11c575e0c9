// ABOUTME: Tests for the Sync Ledger
// ABOUTME: Covers supersede, eligibility ordering, transitions, stuck sweeps, and housekeeping
package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/fieldsync/models"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func setupLedger(t *testing.T) (*Ledger, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)}
	l := NewLedger(setupTestDB(t))
	l.SetClock(clock.Now)
	return l, clock
}

func visitItem(id string, op models.Operation, data string) *models.SyncItem {
	return &models.SyncItem{EntityType: models.EntityVisit, EntityID: id, Operation: op, DataJSON: data}
}

func TestEnqueueDefaults(t *testing.T) {
	ctx := context.Background()
	l, clock := setupLedger(t)

	id, err := l.Enqueue(ctx, visitItem("v1", models.OpCreate, `{"id":"v1"}`))
	require.NoError(t, err)

	item, err := l.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, models.StatusPending, item.Status)
	assert.Equal(t, 0, item.Attempts)
	assert.Equal(t, models.DefaultMaxAttempts, item.MaxAttempts)
	assert.Equal(t, models.Millis(clock.now), item.CreatedAt)
	assert.Nil(t, item.ScheduledAt)
	assert.Nil(t, item.LastAttemptAt)
}

func TestEnqueueSupersedes(t *testing.T) {
	ctx := context.Background()
	l, clock := setupLedger(t)

	first, err := l.Enqueue(ctx, visitItem("v1", models.OpCreate, `{"notes":"a"}`))
	require.NoError(t, err)

	clock.Advance(time.Second)
	second, err := l.Enqueue(ctx, visitItem("v1", models.OpUpdate, `{"notes":"b"}`))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	items, err := l.List(ctx, ListFilter{EntityID: "v1"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.OpCreate, items[0].Operation, "create then update stays a create")
	assert.Equal(t, `{"notes":"b"}`, items[0].DataJSON)

	_, err = l.Enqueue(ctx, visitItem("v1", models.OpDelete, `{}`))
	require.NoError(t, err)
	items, err = l.List(ctx, ListFilter{EntityID: "v1"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.OpDelete, items[0].Operation)
}

func TestEnqueueSupersedeKeepsAttemptsAndClearsSchedule(t *testing.T) {
	ctx := context.Background()
	l, clock := setupLedger(t)

	id, err := l.Enqueue(ctx, visitItem("v1", models.OpCreate, `{}`))
	require.NoError(t, err)
	require.NoError(t, l.MarkSyncing(ctx, id))
	require.NoError(t, l.MarkFailed(ctx, id, "boom", clock.now.Add(time.Hour), clock.now))

	_, err = l.Enqueue(ctx, visitItem("v1", models.OpUpdate, `{"fixed":true}`))
	require.NoError(t, err)

	item, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, item.Status)
	assert.Equal(t, 1, item.Attempts)
	assert.Nil(t, item.ScheduledAt)

	eligible, err := l.GetEligible(ctx, clock.now)
	require.NoError(t, err)
	assert.Len(t, eligible, 1)
}

func TestEnqueueWhileSyncingAddsRow(t *testing.T) {
	ctx := context.Background()
	l, clock := setupLedger(t)

	id, err := l.Enqueue(ctx, visitItem("v1", models.OpCreate, `{"v":1}`))
	require.NoError(t, err)
	require.NoError(t, l.MarkSyncing(ctx, id))

	newer, err := l.Enqueue(ctx, visitItem("v1", models.OpUpdate, `{"v":2}`))
	require.NoError(t, err)
	assert.NotEqual(t, id, newer)

	// The in-flight snapshot is untouched.
	item, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, item.DataJSON)

	// Failing the superseded in-flight item drops it.
	require.NoError(t, l.MarkFailed(ctx, id, "boom", clock.now, clock.now))
	item, err = l.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, item)

	count, err := l.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestGetEligibleOrdering(t *testing.T) {
	ctx := context.Background()
	l, clock := setupLedger(t)

	low := visitItem("low", models.OpCreate, `{}`)
	low.Priority = models.PriorityLow
	normal := visitItem("normal", models.OpCreate, `{}`)
	high := visitItem("high", models.OpCreate, `{}`)
	high.Priority = models.PriorityHigh

	// Equal createdAt for all three.
	for _, it := range []*models.SyncItem{low, normal, high} {
		_, err := l.Enqueue(ctx, it)
		require.NoError(t, err)
	}

	clock.Advance(-time.Minute)
	older := visitItem("older-normal", models.OpCreate, `{}`)
	_, err := l.Enqueue(ctx, older)
	require.NoError(t, err)
	clock.Advance(time.Minute)

	items, err := l.GetEligible(ctx, clock.now)
	require.NoError(t, err)
	var order []string
	for _, it := range items {
		order = append(order, it.EntityID)
	}
	assert.Equal(t, []string{"high", "older-normal", "normal", "low"}, order)
}

func TestGetEligibleRespectsSchedule(t *testing.T) {
	ctx := context.Background()
	l, clock := setupLedger(t)

	id, err := l.Enqueue(ctx, visitItem("v1", models.OpCreate, `{}`))
	require.NoError(t, err)
	require.NoError(t, l.MarkSyncing(ctx, id))

	items, err := l.GetEligible(ctx, clock.now)
	require.NoError(t, err)
	assert.Empty(t, items, "syncing items are not eligible")

	retryAt := clock.now.Add(4 * time.Second)
	require.NoError(t, l.MarkFailed(ctx, id, "timeout", retryAt, clock.now))

	items, err = l.GetEligible(ctx, clock.now)
	require.NoError(t, err)
	assert.Empty(t, items)

	items, err = l.GetEligible(ctx, retryAt)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.StatusFailed, items[0].Status)
	assert.Equal(t, 1, items[0].Attempts)
	require.NotNil(t, items[0].ErrorMessage)
	assert.Equal(t, "timeout", *items[0].ErrorMessage)
}

func TestTransitionsAreGuarded(t *testing.T) {
	ctx := context.Background()
	l, clock := setupLedger(t)

	id, err := l.Enqueue(ctx, visitItem("v1", models.OpCreate, `{}`))
	require.NoError(t, err)

	assert.ErrorIs(t, l.MarkCompleted(ctx, id, clock.now), ErrInvalidTransition)
	assert.ErrorIs(t, l.MarkFailed(ctx, id, "x", clock.now, clock.now), ErrInvalidTransition)

	require.NoError(t, l.MarkSyncing(ctx, id))
	assert.ErrorIs(t, l.MarkSyncing(ctx, id), ErrInvalidTransition)

	require.NoError(t, l.MarkCompleted(ctx, id, clock.now))
	assert.ErrorIs(t, l.MarkSyncing(ctx, id), ErrInvalidTransition)
	assert.ErrorIs(t, l.MarkSyncing(ctx, 9999), ErrNotFound)
}

func TestClaimReturnsCurrentSnapshot(t *testing.T) {
	ctx := context.Background()
	l, clock := setupLedger(t)

	id, err := l.Enqueue(ctx, visitItem("v1", models.OpCreate, `{"notes":"old"}`))
	require.NoError(t, err)
	listed, err := l.GetEligible(ctx, clock.now)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	// Superseded between listing and claiming.
	_, err = l.Enqueue(ctx, visitItem("v1", models.OpUpdate, `{"notes":"new"}`))
	require.NoError(t, err)

	claimed, err := l.Claim(ctx, listed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, id, claimed.ID)
	assert.Equal(t, models.StatusSyncing, claimed.Status)
	assert.Equal(t, `{"notes":"new"}`, claimed.DataJSON)
	require.NotNil(t, claimed.LastAttemptAt)

	_, err = l.Claim(ctx, id)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = l.Claim(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResetAllSyncing(t *testing.T) {
	ctx := context.Background()
	l, _ := setupLedger(t)

	id, err := l.Enqueue(ctx, visitItem("v1", models.OpCreate, `{}`))
	require.NoError(t, err)
	require.NoError(t, l.MarkSyncing(ctx, id))

	n, err := l.ResetAllSyncing(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	item, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, item.Status)
}

func TestResetStuckSyncing(t *testing.T) {
	ctx := context.Background()
	l, clock := setupLedger(t)

	stuck, err := l.Enqueue(ctx, visitItem("stuck", models.OpCreate, `{}`))
	require.NoError(t, err)
	require.NoError(t, l.MarkSyncing(ctx, stuck))

	clock.Advance(20 * time.Minute)
	recent, err := l.Enqueue(ctx, visitItem("recent", models.OpCreate, `{}`))
	require.NoError(t, err)
	require.NoError(t, l.MarkSyncing(ctx, recent))

	n, err := l.ResetStuckSyncing(ctx, clock.now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	item, err := l.Get(ctx, stuck)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, item.Status)
	assert.Equal(t, 0, item.Attempts, "a reset does not count as an attempt")

	item, err = l.Get(ctx, recent)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSyncing, item.Status)
}

func TestResetStuckSyncingDropsSuperseded(t *testing.T) {
	ctx := context.Background()
	l, clock := setupLedger(t)

	id, err := l.Enqueue(ctx, visitItem("v1", models.OpCreate, `{"v":1}`))
	require.NoError(t, err)
	require.NoError(t, l.MarkSyncing(ctx, id))
	_, err = l.Enqueue(ctx, visitItem("v1", models.OpUpdate, `{"v":2}`))
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = l.ResetStuckSyncing(ctx, clock.now)
	require.NoError(t, err)

	items, err := l.List(ctx, ListFilter{EntityID: "v1"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, `{"v":2}`, items[0].DataJSON)
}

func TestReleaseSyncing(t *testing.T) {
	ctx := context.Background()
	l, _ := setupLedger(t)

	id, err := l.Enqueue(ctx, visitItem("v1", models.OpCreate, `{}`))
	require.NoError(t, err)
	require.NoError(t, l.MarkSyncing(ctx, id))
	require.NoError(t, l.ReleaseSyncing(ctx, id))

	item, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, item.Status)
}

func TestHousekeeping(t *testing.T) {
	ctx := context.Background()
	l, clock := setupLedger(t)

	done, err := l.Enqueue(ctx, visitItem("done", models.OpCreate, `{}`))
	require.NoError(t, err)
	require.NoError(t, l.MarkSyncing(ctx, done))
	require.NoError(t, l.MarkCompleted(ctx, done, clock.now))

	exhausted := visitItem("exhausted", models.OpCreate, `{}`)
	exhausted.MaxAttempts = 1
	dead, err := l.Enqueue(ctx, exhausted)
	require.NoError(t, err)
	require.NoError(t, l.MarkSyncing(ctx, dead))
	require.NoError(t, l.MarkFailed(ctx, dead, "boom", clock.now, clock.now))

	n, err := l.DeleteCompletedOlderThan(ctx, clock.now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "cutoff is exclusive")

	clock.Advance(8 * 24 * time.Hour)
	n, err = l.DeleteCompletedOlderThan(ctx, clock.now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = l.DeleteExceededAttempts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stats, err := l.Stats(ctx)
	require.NoError(t, err)
	for status, count := range stats {
		assert.Zero(t, count, status)
	}
}

func TestRetryGrantsOneMoreAttempt(t *testing.T) {
	ctx := context.Background()
	l, clock := setupLedger(t)

	it := visitItem("v1", models.OpCreate, `{}`)
	it.MaxAttempts = 1
	id, err := l.Enqueue(ctx, it)
	require.NoError(t, err)
	require.NoError(t, l.MarkSyncing(ctx, id))
	require.NoError(t, l.MarkFailed(ctx, id, "boom", clock.now.Add(time.Hour), clock.now))

	require.NoError(t, l.Retry(ctx, id))
	item, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, item.Status)
	assert.Equal(t, 2, item.MaxAttempts)
	assert.Nil(t, item.ScheduledAt)

	assert.ErrorIs(t, l.Retry(ctx, id), ErrInvalidTransition)
}

func TestOpenEntityLookups(t *testing.T) {
	ctx := context.Background()
	l, clock := setupLedger(t)

	_, err := l.Enqueue(ctx, visitItem("open", models.OpCreate, `{}`))
	require.NoError(t, err)
	inflight, err := l.Enqueue(ctx, visitItem("inflight", models.OpCreate, `{}`))
	require.NoError(t, err)
	require.NoError(t, l.MarkSyncing(ctx, inflight))
	done, err := l.Enqueue(ctx, visitItem("done", models.OpCreate, `{}`))
	require.NoError(t, err)
	require.NoError(t, l.MarkSyncing(ctx, done))
	require.NoError(t, l.MarkCompleted(ctx, done, clock.now))

	has, err := l.HasOpen(ctx, models.EntityVisit, "open")
	require.NoError(t, err)
	assert.True(t, has)
	has, err = l.HasOpen(ctx, models.EntityVisit, "inflight")
	require.NoError(t, err)
	assert.False(t, has)
	has, err = l.HasOpen(ctx, models.EntityProspect, "open")
	require.NoError(t, err)
	assert.False(t, has)

	has, err = l.HasUndelivered(ctx, models.EntityVisit, "inflight")
	require.NoError(t, err)
	assert.True(t, has)
	has, err = l.HasUndelivered(ctx, models.EntityVisit, "done")
	require.NoError(t, err)
	assert.False(t, has)

	ids, err := l.OpenEntityIDs(ctx, models.EntityVisit)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"open": true, "inflight": true}, ids)
}
