// ABOUTME: In-memory Remote Store with fault injection
// ABOUTME: Backs the memory remote kind and stands in for the network in tests
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
)

// MemoryStore keeps documents in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	docs     map[string]map[string]json.RawMessage
	failNext int
	failErr  error
	calls    int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]map[string]json.RawMessage)}
}

// FailNext makes the next n calls return err.
func (m *MemoryStore) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.failErr = err
}

// Calls is the number of operations attempted, including failed ones.
func (m *MemoryStore) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Get returns a stored document.
func (m *MemoryStore) Get(collection, id string) (json.RawMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[collection][id]
	return doc, ok
}

// Len is the number of documents in collection.
func (m *MemoryStore) Len(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs[collection])
}

func (m *MemoryStore) Upsert(ctx context.Context, collection, id string, doc json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx); err != nil {
		return err
	}
	if m.docs[collection] == nil {
		m.docs[collection] = make(map[string]json.RawMessage)
	}
	m.docs[collection][id] = append(json.RawMessage(nil), doc...)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx); err != nil {
		return err
	}
	delete(m.docs[collection], id)
	return nil
}

func (m *MemoryStore) Query(ctx context.Context, collection string, q Query) ([]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx); err != nil {
		return nil, err
	}

	type row struct {
		doc    json.RawMessage
		fields map[string]any
	}
	var rows []row
	for _, doc := range m.docs[collection] {
		var fields map[string]any
		if err := json.Unmarshal(doc, &fields); err != nil {
			continue
		}
		if matches(fields, q.Filter) {
			rows = append(rows, row{doc: doc, fields: fields})
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		key := q.OrderBy
		if key == "" {
			key = "id"
		}
		a, b := toString(rows[i].fields[key]), toString(rows[j].fields[key])
		if q.Desc {
			return a > b
		}
		return a < b
	})
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}

	out := make([]json.RawMessage, len(rows))
	for i, r := range rows {
		out[i] = append(json.RawMessage(nil), r.doc...)
	}
	return out, nil
}

func (m *MemoryStore) begin(ctx context.Context) error {
	m.calls++
	if err := ctx.Err(); err != nil {
		return &Error{Kind: Transient, Op: "call", Err: err}
	}
	if m.failNext > 0 {
		m.failNext--
		if m.failErr == nil {
			return &Error{Kind: Transient, Op: "call", Err: errors.New("injected failure")}
		}
		return m.failErr
	}
	return nil
}

func matches(fields map[string]any, filter map[string]string) bool {
	for k, v := range filter {
		if toString(fields[k]) != v {
			return false
		}
	}
	return true
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}
