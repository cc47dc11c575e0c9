// ABOUTME: Tests for the MCP tool, resource, and prompt handlers
// ABOUTME: Drives handlers against a real SQLite ledger with an in-memory remote store
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/fieldsync/cache"
	"github.com/harperreed/fieldsync/db"
	"github.com/harperreed/fieldsync/models"
	"github.com/harperreed/fieldsync/remote"
	"github.com/harperreed/fieldsync/repository"
	"github.com/harperreed/fieldsync/sync"
)

type toggleNet struct {
	up atomic.Bool
}

func (n *toggleNet) IsConnected() bool { return n.up.Load() }

type workerRunner struct {
	worker  *sync.Worker
	running bool
	busy    bool
}

func (r *workerRunner) RunNow(ctx context.Context) (sync.RunReport, error) {
	if r.busy {
		return sync.RunReport{}, sync.ErrRunInProgress
	}
	return r.worker.RunOnce(ctx)
}

func (r *workerRunner) Running() bool { return r.running }

type fixture struct {
	ledger    *db.Ledger
	remote    *remote.MemoryStore
	net       *toggleNet
	runner    *workerRunner
	visits    *VisitHandlers
	prospects *ProspectHandlers
	sync      *SyncHandlers
	resources *ResourceHandlers
	prompts   *PromptHandlers
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	appDB, err := db.OpenDatabase(filepath.Join(t.TempDir(), "fieldsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = appDB.Close() })

	logger := log.New(io.Discard)
	f := &fixture{
		ledger: db.NewLedger(appDB),
		remote: remote.NewMemoryStore(),
		net:    &toggleNet{},
	}
	visitRepo := repository.NewVisitRepository(db.NewVisitStore(appDB), f.ledger, f.remote, f.net, repository.Options{}, logger)
	prospectRepo := repository.NewProspectRepository(db.NewProspectStore(appDB), f.ledger, f.remote, f.net, repository.Options{}, logger)
	f.runner = &workerRunner{worker: sync.NewWorker(appDB, f.ledger, f.remote, f.net, sync.DefaultWorkerConfig(), logger)}

	f.visits = NewVisitHandlers(visitRepo, "rep-1")
	f.prospects = NewProspectHandlers(prospectRepo, "rep-1")
	f.sync = NewSyncHandlers(appDB, f.ledger, f.net, f.runner)
	f.resources = NewResourceHandlers(appDB, f.ledger, f.net)
	f.prompts = NewPromptHandlers(prospectRepo, visitRepo, f.ledger)
	return f
}

func TestAddVisitOfflineQueues(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)

	_, out, err := f.visits.AddVisit(ctx, nil, AddVisitInput{Kind: models.VisitKindCheckIn, Notes: "lobby", Priority: "high"})
	require.NoError(t, err)
	assert.NotEmpty(t, out.ID)
	assert.Equal(t, "rep-1", out.OwnerID)
	assert.False(t, out.Synced)

	_, status, err := f.sync.SyncStatus(ctx, nil, SyncStatusInput{})
	require.NoError(t, err)
	assert.False(t, status.Connected)
	assert.Equal(t, 1, status.Pending)
	assert.Equal(t, 1, status.Counts["PENDING"])
	assert.Nil(t, status.LastRun)
}

func TestAddVisitValidation(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)

	_, _, err := f.visits.AddVisit(ctx, nil, AddVisitInput{Kind: "drive-by"})
	assert.Error(t, err)

	_, _, err = f.visits.AddVisit(ctx, nil, AddVisitInput{Priority: "urgent"})
	assert.Error(t, err)
}

func TestListVisitsFiltersByProspect(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)

	for _, p := range []string{"p1", "p2", "p1"} {
		_, _, err := f.visits.AddVisit(ctx, nil, AddVisitInput{ProspectID: p})
		require.NoError(t, err)
	}

	_, out, err := f.visits.ListVisits(ctx, nil, ListVisitsInput{ProspectID: "p1"})
	require.NoError(t, err)
	assert.Len(t, out.Visits, 2)

	_, out, err = f.visits.ListVisits(ctx, nil, ListVisitsInput{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, out.Visits, 1)

	_, out, err = f.visits.ListVisits(ctx, nil, ListVisitsInput{OwnerID: "someone-else"})
	require.NoError(t, err)
	assert.Empty(t, out.Visits)
}

func TestProspectLifecycle(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)

	_, _, err := f.prospects.AddProspect(ctx, nil, AddProspectInput{})
	assert.Error(t, err, "name is required")

	_, created, err := f.prospects.AddProspect(ctx, nil, AddProspectInput{Name: "Dana Reyes", Company: "Acme"})
	require.NoError(t, err)
	assert.Equal(t, models.StageNew, created.Stage)

	_, updated, err := f.prospects.UpdateProspect(ctx, nil, UpdateProspectInput{ID: created.ID, Stage: models.StageQualified})
	require.NoError(t, err)
	assert.Equal(t, models.StageQualified, updated.Stage)
	assert.Equal(t, "Acme", updated.Company)

	_, _, err = f.prospects.UpdateProspect(ctx, nil, UpdateProspectInput{ID: created.ID, Stage: "bogus"})
	assert.Error(t, err)

	_, _, err = f.prospects.UpdateProspect(ctx, nil, UpdateProspectInput{ID: "missing"})
	assert.Error(t, err)

	_, list, err := f.prospects.ListProspects(ctx, nil, ListProspectsInput{Query: "acme"})
	require.NoError(t, err)
	require.Len(t, list.Prospects, 1)

	_, list, err = f.prospects.ListProspects(ctx, nil, ListProspectsInput{Stage: models.StageWon})
	require.NoError(t, err)
	assert.Empty(t, list.Prospects)

	// Create then update while offline collapses into one queued create.
	items, err := f.ledger.List(ctx, db.ListFilter{EntityID: created.ID})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.OpCreate, items[0].Operation)
}

func TestSyncNowDelivers(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)

	_, visit, err := f.visits.AddVisit(ctx, nil, AddVisitInput{Notes: "queued"})
	require.NoError(t, err)

	_, out, err := f.sync.SyncNow(ctx, nil, SyncNowInput{})
	require.NoError(t, err)
	assert.True(t, out.Started)
	assert.Equal(t, "offline, nothing was sent", out.Message)

	f.net.up.Store(true)
	_, out, err = f.sync.SyncNow(ctx, nil, SyncNowInput{})
	require.NoError(t, err)
	assert.Equal(t, string(sync.ResultSuccess), out.Result)
	assert.Equal(t, 1, out.Succeeded)

	_, ok := f.remote.Get(remote.CollectionVisits, visit.ID)
	assert.True(t, ok)

	_, status, err := f.sync.SyncStatus(ctx, nil, SyncStatusInput{})
	require.NoError(t, err)
	assert.Zero(t, status.Pending)
	require.NotNil(t, status.LastRun)
	require.NotNil(t, status.LastRun.Result)
	assert.Equal(t, "SUCCESS", *status.LastRun.Result)
}

func TestSyncNowWhileRunning(t *testing.T) {
	f := setupFixture(t)
	f.runner.busy = true

	_, out, err := f.sync.SyncNow(context.Background(), nil, SyncNowInput{})
	require.NoError(t, err)
	assert.False(t, out.Started)
}

func TestRetrySyncItem(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)

	_, _, err := f.sync.RetrySyncItem(ctx, nil, RetrySyncItemInput{})
	assert.Error(t, err)

	_, _, err = f.visits.AddVisit(ctx, nil, AddVisitInput{})
	require.NoError(t, err)

	f.net.up.Store(true)
	f.remote.FailNext(1, nil)
	_, _, err = f.sync.SyncNow(ctx, nil, SyncNowInput{})
	require.NoError(t, err)

	failed, err := f.ledger.List(ctx, db.ListFilter{Status: models.StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)

	_, out, err := f.sync.RetrySyncItem(ctx, nil, RetrySyncItemInput{ID: failed[0].ID})
	require.NoError(t, err)
	assert.Equal(t, "PENDING", out.Status)
}

func TestReadResources(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)

	_, _, err := f.visits.AddVisit(ctx, nil, AddVisitInput{Notes: "resource"})
	require.NoError(t, err)

	res, err := f.resources.ReadResource(ctx, &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: "fieldsync://ledger"}})
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)

	var items []models.SyncItem
	require.NoError(t, json.Unmarshal([]byte(res.Contents[0].Text), &items))
	require.Len(t, items, 1)

	res, err = f.resources.ReadResource(ctx, &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{
		URI: "fieldsync://ledger/" + jsonInt(items[0].ID),
	}})
	require.NoError(t, err)
	assert.Contains(t, res.Contents[0].Text, `"entityType": "VISIT"`)

	res, err = f.resources.ReadResource(ctx, &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: "fieldsync://status"}})
	require.NoError(t, err)
	assert.Contains(t, res.Contents[0].Text, `"pending": 1`)

	_, err = f.resources.ReadResource(ctx, &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: "fieldsync://ledger/999"}})
	assert.Error(t, err)

	_, err = f.resources.ReadResource(ctx, &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: "crm://contacts"}})
	assert.Error(t, err)
}

func TestProspectBriefingPrompt(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)

	_, prospect, err := f.prospects.AddProspect(ctx, nil, AddProspectInput{Name: "Dana Reyes", Company: "Acme"})
	require.NoError(t, err)
	_, _, err = f.visits.AddVisit(ctx, nil, AddVisitInput{ProspectID: prospect.ID, Notes: "asked about pricing"})
	require.NoError(t, err)

	result, err := f.prompts.GetPrompt(ctx, &mcp.GetPromptRequest{Params: &mcp.GetPromptParams{
		Name:      "prospect-briefing",
		Arguments: map[string]string{"prospect_id": prospect.ID},
	}})
	require.NoError(t, err)
	require.Len(t, result.Messages, 1)

	text := result.Messages[0].Content.(*mcp.TextContent).Text
	assert.Contains(t, text, "Dana Reyes")
	assert.Contains(t, text, "asked about pricing")

	_, err = f.prompts.GetPrompt(ctx, &mcp.GetPromptRequest{Params: &mcp.GetPromptParams{Name: "prospect-briefing"}})
	assert.Error(t, err)
}

func TestSyncTriagePrompt(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)

	result, err := f.prompts.GetPrompt(ctx, &mcp.GetPromptRequest{Params: &mcp.GetPromptParams{Name: "sync-triage"}})
	require.NoError(t, err)
	assert.Contains(t, result.Messages[0].Content.(*mcp.TextContent).Text, "no failing sync items")

	_, _, err = f.visits.AddVisit(ctx, nil, AddVisitInput{})
	require.NoError(t, err)
	f.net.up.Store(true)
	f.remote.FailNext(1, nil)
	_, _, err = f.sync.SyncNow(ctx, nil, SyncNowInput{})
	require.NoError(t, err)

	result, err = f.prompts.GetPrompt(ctx, &mcp.GetPromptRequest{Params: &mcp.GetPromptParams{Name: "sync-triage"}})
	require.NoError(t, err)
	assert.Contains(t, result.Messages[0].Content.(*mcp.TextContent).Text, "injected failure")

	_, err = f.prompts.GetPrompt(ctx, &mcp.GetPromptRequest{Params: &mcp.GetPromptParams{Name: "nope"}})
	assert.Error(t, err)
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestGetMetrics(t *testing.T) {
	ctx := context.Background()
	c, err := cache.Open(cache.Options{InMemory: true, TTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	store := remote.NewMemoryStore()
	net := &toggleNet{}
	h := NewMetricsHandlers(repository.NewMetricsService(c, store, net, time.Second, log.New(io.Discard)), "rep-1")

	_, out, err := h.GetMetrics(ctx, nil, GetMetricsInput{})
	require.NoError(t, err)
	assert.False(t, out.Available)

	require.NoError(t, store.Upsert(ctx, remote.CollectionMetrics, "m1", json.RawMessage(`{"id":"m1","owner_id":"rep-1","visits":3}`)))
	net.up.Store(true)

	_, out, err = h.GetMetrics(ctx, nil, GetMetricsInput{})
	require.NoError(t, err)
	assert.True(t, out.Available)
	assert.False(t, out.Stale)
	assert.Equal(t, "rep-1", out.Metrics["owner_id"])
	assert.EqualValues(t, 3, out.Metrics["visits"])
}
