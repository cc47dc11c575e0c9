// ABOUTME: Tests for the visit and prospect Local Stores
// ABOUTME: Covers upsert semantics, lazy owner iteration, sync markers, and retention sweeps
package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/fieldsync/models"
)

func TestVisitInsertIsUpsert(t *testing.T) {
	ctx := context.Background()
	store := NewVisitStore(setupTestDB(t))

	v := &models.Visit{ID: "v1", OwnerID: "rep-1", Notes: "first"}
	require.NoError(t, store.Insert(ctx, v))
	assert.Equal(t, models.VisitKindVisit, v.Kind)

	v.Notes = "second"
	require.NoError(t, store.Insert(ctx, v))

	got, err := store.GetByID(ctx, "v1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "second", got.Notes)
	assert.False(t, got.Synced)
}

func TestVisitGetByIDMissing(t *testing.T) {
	store := NewVisitStore(setupTestDB(t))

	got, err := store.GetByID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestVisitUpdateMissing(t *testing.T) {
	store := NewVisitStore(setupTestDB(t))

	err := store.Update(context.Background(), &models.Visit{ID: "ghost", OwnerID: "rep-1"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVisitGetByOwner(t *testing.T) {
	ctx := context.Background()
	store := NewVisitStore(setupTestDB(t))

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Insert(ctx, &models.Visit{
			ID: id, OwnerID: "rep-1", VisitedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, store.Insert(ctx, &models.Visit{ID: "other", OwnerID: "rep-2"}))

	var ids []string
	for v, err := range store.GetByOwner(ctx, "rep-1") {
		require.NoError(t, err)
		ids = append(ids, v.ID)
	}
	assert.Equal(t, []string{"c", "b", "a"}, ids)

	// Stopping early must release the connection for the next query.
	for range store.GetByOwner(ctx, "rep-1") {
		break
	}
	_, err := store.GetByID(ctx, "a")
	require.NoError(t, err)
}

func TestMarkSyncedAndIncrementAttempt(t *testing.T) {
	ctx := context.Background()
	store := NewVisitStore(setupTestDB(t))
	require.NoError(t, store.Insert(ctx, &models.Visit{ID: "v1", OwnerID: "rep-1"}))

	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.IncrementSyncAttempt(ctx, "v1", ts, "timeout"))
	require.NoError(t, store.IncrementSyncAttempt(ctx, "v1", ts.Add(time.Second), "timeout"))

	got, err := store.GetByID(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.SyncAttempts)
	require.NotNil(t, got.LastSyncError)
	assert.Equal(t, "timeout", *got.LastSyncError)

	require.NoError(t, store.MarkSynced(ctx, "v1", ts.Add(time.Minute)))
	got, err = store.GetByID(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, got.Synced)
	assert.Nil(t, got.LastSyncError)
	require.NotNil(t, got.LastSyncAttempt)
	assert.True(t, ts.Add(time.Minute).Equal(*got.LastSyncAttempt))

	assert.ErrorIs(t, store.MarkSynced(ctx, "missing", ts), ErrNotFound)
}

func TestGetUnsynced(t *testing.T) {
	ctx := context.Background()
	store := NewProspectStore(setupTestDB(t))

	require.NoError(t, store.Insert(ctx, &models.Prospect{ID: "p1", OwnerID: "rep-1", Name: "Acme"}))
	synced := &models.Prospect{ID: "p2", OwnerID: "rep-1", Name: "Globex"}
	synced.Synced = true
	require.NoError(t, store.Insert(ctx, synced))

	unsynced, err := store.GetUnsynced(ctx)
	require.NoError(t, err)
	require.Len(t, unsynced, 1)
	assert.Equal(t, "p1", unsynced[0].ID)
	assert.Equal(t, models.StageNew, unsynced[0].Stage)

	n, err := store.CountUnsynced(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDeleteOlderThan(t *testing.T) {
	ctx := context.Background()
	store := NewProspectStore(setupTestDB(t))

	old := time.Now().Add(-100 * 24 * time.Hour)
	oldSynced := &models.Prospect{ID: "old-synced", OwnerID: "rep-1", Name: "A", CreatedAt: old, UpdatedAt: old}
	oldSynced.Synced = true
	oldPending := &models.Prospect{ID: "old-pending", OwnerID: "rep-1", Name: "B", CreatedAt: old, UpdatedAt: old}
	fresh := &models.Prospect{ID: "fresh", OwnerID: "rep-1", Name: "C"}
	fresh.Synced = true

	for _, p := range []*models.Prospect{oldSynced, oldPending, fresh} {
		require.NoError(t, store.Insert(ctx, p))
	}

	n, err := store.DeleteOlderThan(ctx, time.Now().Add(-90*24*time.Hour), true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.GetByID(ctx, "old-pending")
	require.NoError(t, err)
	assert.NotNil(t, got, "unsynced records survive the synced-only sweep")

	n, err = store.DeleteOlderThan(ctx, time.Now().Add(-90*24*time.Hour), false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestProspectDelete(t *testing.T) {
	ctx := context.Background()
	store := NewProspectStore(setupTestDB(t))
	require.NoError(t, store.Insert(ctx, &models.Prospect{ID: "p1", OwnerID: "rep-1", Name: "Acme"}))

	require.NoError(t, store.Delete(ctx, "p1"))
	require.NoError(t, store.Delete(ctx, "p1"))

	got, err := store.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, got)
}
