// ABOUTME: Connectivity Monitor tracking network reachability and link kind
// ABOUTME: Publishes state changes to subscribers and answers IsConnected synchronously
package connectivity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// Kind classifies an available network link.
type Kind string

const (
	KindUnmetered Kind = "unmetered"
	KindMetered   Kind = "metered"
	KindOther     Kind = "other"
)

// State is either Unavailable (Available false) or Available with a Kind.
type State struct {
	Available bool
	Kind      Kind
}

// Unavailable is the offline state.
var Unavailable = State{}

// Available returns the online state for a link kind.
func Available(kind Kind) State {
	return State{Available: true, Kind: kind}
}

func (s State) String() string {
	if !s.Available {
		return "unavailable"
	}
	return "available(" + string(s.Kind) + ")"
}

// Prober reports the current reachability.
type Prober interface {
	Probe(ctx context.Context) State
}

// Monitor holds the latest connectivity state.
type Monitor struct {
	prober Prober
	logger *log.Logger

	current atomic.Value // State

	mu     sync.Mutex
	nextID int
	subs   map[int]chan State
}

// NewMonitor probes immediately so IsConnected is accurate before the first
// change notification arrives.
func NewMonitor(ctx context.Context, prober Prober, logger *log.Logger) *Monitor {
	m := &Monitor{
		prober: prober,
		logger: logger,
		subs:   make(map[int]chan State),
	}
	state := prober.Probe(ctx)
	m.current.Store(state)
	logger.Debug("initial connectivity", "state", state)
	return m
}

// State returns the latest known state.
func (m *Monitor) State() State {
	return m.current.Load().(State)
}

// IsConnected is a synchronous snapshot of reachability.
func (m *Monitor) IsConnected() bool {
	return m.State().Available
}

// Subscribe returns a channel that receives every state change. The channel
// holds only the latest undelivered state. Call the returned func to stop.
func (m *Monitor) Subscribe() (<-chan State, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan State, 1)
	m.subs[id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
}

// Update applies a reachability change reported by the platform. Repeated
// identical states are not republished.
func (m *Monitor) Update(state State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.current.Swap(state).(State)
	if prev == state {
		return
	}
	m.logger.Info("connectivity changed", "from", prev, "to", state)

	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- state
	}
}

// Refresh probes once and applies the result.
func (m *Monitor) Refresh(ctx context.Context) State {
	state := m.prober.Probe(ctx)
	m.Update(state)
	return state
}

// Watch re-probes every interval until ctx is done.
func (m *Monitor) Watch(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Refresh(ctx)
		}
	}
}
