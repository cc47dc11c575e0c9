// ABOUTME: Tests for sync run-state persistence
// ABOUTME: Verifies start/finish bookkeeping, the error status, and the cross-process run lease
package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStateLifecycle(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	state, err := GetRunState(ctx, db, "remote")
	require.NoError(t, err)
	assert.Nil(t, state)

	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, StartRun(ctx, db, "remote", "a", start, time.Minute))

	state, err = GetRunState(ctx, db, "remote")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, RunSyncing, state.Status)
	assert.Nil(t, state.LastSyncTime)

	counts := RunCounts{Attempted: 3, Succeeded: 2, Failed: 1}
	require.NoError(t, FinishRun(ctx, db, "remote", "a", "SUCCESS", counts, nil, start.Add(time.Second)))

	state, err = GetRunState(ctx, db, "remote")
	require.NoError(t, err)
	assert.Equal(t, RunIdle, state.Status)
	assert.Equal(t, 3, state.Attempted)
	assert.Equal(t, 2, state.Succeeded)
	require.NotNil(t, state.LastSyncResult)
	assert.Equal(t, "SUCCESS", *state.LastSyncResult)
	require.NotNil(t, state.LastSyncTime)
	assert.True(t, start.Add(time.Second).Equal(*state.LastSyncTime))
}

func TestFinishRunWithError(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	msg := "ledger unavailable"
	require.NoError(t, StartRun(ctx, db, "remote", "a", time.Now(), time.Minute))
	require.NoError(t, FinishRun(ctx, db, "remote", "a", "REQUIRES_RETRY", RunCounts{}, &msg, time.Now()))

	state, err := GetRunState(ctx, db, "remote")
	require.NoError(t, err)
	assert.Equal(t, RunError, state.Status)
	require.NotNil(t, state.ErrorMessage)
	assert.Equal(t, msg, *state.ErrorMessage)

	require.NoError(t, StartRun(ctx, db, "remote", "b", time.Now(), time.Minute))
	state, err = GetRunState(ctx, db, "remote")
	require.NoError(t, err)
	assert.Nil(t, state.ErrorMessage, "starting a run clears the previous error")
}

func TestRunLeaseExcludesOtherHolders(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, StartRun(ctx, db, "remote", "a", start, time.Minute))
	assert.ErrorIs(t, StartRun(ctx, db, "remote", "b", start.Add(30*time.Second), time.Minute), ErrRunHeld)
	assert.ErrorIs(t, FinishRun(ctx, db, "remote", "b", "SUCCESS", RunCounts{}, nil, start), ErrRunHeld)

	// Renewal keeps the lease alive past the original window.
	require.NoError(t, RenewRun(ctx, db, "remote", "a", start.Add(50*time.Second)))
	assert.ErrorIs(t, StartRun(ctx, db, "remote", "b", start.Add(90*time.Second), time.Minute), ErrRunHeld)

	require.NoError(t, FinishRun(ctx, db, "remote", "a", "SUCCESS", RunCounts{}, nil, start.Add(time.Minute)))
	require.NoError(t, StartRun(ctx, db, "remote", "b", start.Add(61*time.Second), time.Minute))
}

func TestRunLeaseLapseIsTakenOver(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, StartRun(ctx, db, "remote", "a", start, time.Minute))
	require.NoError(t, StartRun(ctx, db, "remote", "b", start.Add(2*time.Minute), time.Minute))

	assert.ErrorIs(t, RenewRun(ctx, db, "remote", "a", start.Add(2*time.Minute)), ErrRunHeld)
	assert.ErrorIs(t, FinishRun(ctx, db, "remote", "a", "SUCCESS", RunCounts{}, nil, start), ErrRunHeld)

	state, err := GetRunState(ctx, db, "remote")
	require.NoError(t, err)
	assert.Equal(t, RunSyncing, state.Status)
}
