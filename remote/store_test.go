// ABOUTME: Tests for Remote Store adapters and error classification
// ABOUTME: Exercises the HTTP adapter against httptest and the in-memory store's fault injection
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindForStatus(t *testing.T) {
	tests := map[int]Kind{
		400: Permanent,
		404: Permanent,
		409: Permanent,
		422: Permanent,
		408: Transient,
		429: Transient,
		500: Transient,
		503: Transient,
	}
	for code, want := range tests {
		assert.Equal(t, want, KindForStatus(code), code)
	}
}

func TestIsPermanent(t *testing.T) {
	perm := &Error{Kind: Permanent, Op: "upsert", Err: errors.New("bad")}
	assert.True(t, IsPermanent(perm))
	assert.True(t, IsPermanent(errors.Join(errors.New("ctx"), perm)))
	assert.False(t, IsPermanent(&Error{Kind: Transient, Err: errors.New("slow")}))
	assert.False(t, IsPermanent(errors.New("plain")))
}

// fakeAPI is a tiny document API used to exercise HTTPStore.
type fakeAPI struct {
	mu     sync.Mutex
	docs   map[string]json.RawMessage
	status int
	auth   string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = r.Header.Get("Authorization")

	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte("forced"))
		return
	}

	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.docs[r.URL.Path] = body
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		if _, ok := f.docs[r.URL.Path]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(f.docs, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		var docs []json.RawMessage
		for _, d := range f.docs {
			docs = append(docs, d)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"documents": docs})
	}
}

func (f *fakeAPI) setStatus(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = code
}

func (f *fakeAPI) snapshot() (int, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs), f.auth
}

func setupHTTP(t *testing.T) (*HTTPStore, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{docs: make(map[string]json.RawMessage)}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return NewHTTPStore(context.Background(), srv.URL, "secret", 5*time.Second), api
}

func TestHTTPStoreUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, api := setupHTTP(t)

	doc := json.RawMessage(`{"id":"v1","notes":"hello"}`)
	require.NoError(t, store.Upsert(ctx, CollectionVisits, "v1", doc))
	require.NoError(t, store.Upsert(ctx, CollectionVisits, "v1", doc))

	count, auth := api.snapshot()
	assert.Equal(t, 1, count)
	assert.Equal(t, "Bearer secret", auth)

	docs, err := store.Query(ctx, CollectionVisits, Query{Filter: map[string]string{"owner_id": "rep-1"}})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.JSONEq(t, string(doc), string(docs[0]))
}

func TestHTTPStoreDeleteMissingSucceeds(t *testing.T) {
	store, _ := setupHTTP(t)
	assert.NoError(t, store.Delete(context.Background(), CollectionVisits, "ghost"))
}

func TestHTTPStoreClassifiesStatus(t *testing.T) {
	ctx := context.Background()
	store, api := setupHTTP(t)

	api.setStatus(http.StatusUnprocessableEntity)
	err := store.Upsert(ctx, CollectionVisits, "v1", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.True(t, IsPermanent(err))

	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 422, re.StatusCode)
	assert.Equal(t, "v1", re.ID)

	api.setStatus(http.StatusServiceUnavailable)
	err = store.Upsert(ctx, CollectionVisits, "v1", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestHTTPStoreUnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	store := NewHTTPStore(context.Background(), url, "", time.Second)
	err := store.Upsert(context.Background(), CollectionVisits, "v1", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestMemoryStoreFailNext(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	m.FailNext(2, nil)

	doc := json.RawMessage(`{"id":"v1"}`)
	assert.Error(t, m.Upsert(ctx, CollectionVisits, "v1", doc))
	assert.Error(t, m.Upsert(ctx, CollectionVisits, "v1", doc))
	require.NoError(t, m.Upsert(ctx, CollectionVisits, "v1", doc))
	require.NoError(t, m.Upsert(ctx, CollectionVisits, "v1", doc))

	assert.Equal(t, 1, m.Len(CollectionVisits))
	assert.Equal(t, 4, m.Calls())
}

func TestMemoryStoreQuery(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	for _, d := range []string{
		`{"id":"a","owner_id":"rep-1","n":2}`,
		`{"id":"b","owner_id":"rep-2","n":1}`,
		`{"id":"c","owner_id":"rep-1","n":3}`,
	} {
		var probe struct{ ID string }
		require.NoError(t, json.Unmarshal([]byte(d), &probe))
		require.NoError(t, m.Upsert(ctx, CollectionVisits, probe.ID, json.RawMessage(d)))
	}

	docs, err := m.Query(ctx, CollectionVisits, Query{
		Filter:  map[string]string{"owner_id": "rep-1"},
		OrderBy: "id",
		Desc:    true,
		Limit:   1,
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Contains(t, string(docs[0]), `"id":"c"`)
}
