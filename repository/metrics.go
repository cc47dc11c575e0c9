// ABOUTME: Metrics read path backed by the time-boxed snapshot cache
// ABOUTME: Fresh cache first, then the remote store, then an explicitly requested stale snapshot
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"

	"github.com/harperreed/fieldsync/cache"
	"github.com/harperreed/fieldsync/models"
	"github.com/harperreed/fieldsync/remote"
)

// ErrNoMetrics is returned when neither the remote store nor the cache can
// supply a snapshot.
var ErrNoMetrics = errors.New("no metrics available")

// MetricsService serves per-owner metrics snapshots.
type MetricsService struct {
	cache   *cache.Cache
	remote  remote.Store
	monitor Connectivity
	timeout time.Duration
	logger  *log.Logger
}

func NewMetricsService(c *cache.Cache, rs remote.Store, monitor Connectivity, timeout time.Duration, logger *log.Logger) *MetricsService {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MetricsService{cache: c, remote: rs, monitor: monitor, timeout: timeout, logger: logger}
}

func metricsKey(ownerID string) string {
	return "metrics:" + ownerID
}

// Get returns the owner's metrics. An expired or invalidated snapshot is only
// returned when allowStale is set, and then with IsStale true.
func (s *MetricsService) Get(ctx context.Context, ownerID string, allowStale bool) (*models.CacheEntry, error) {
	key := metricsKey(ownerID)

	entry, err := s.cache.Get(key)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		return nil, err
	}

	if entry, err := s.Refresh(ctx, ownerID); err == nil {
		return entry, nil
	} else if !errors.Is(err, ErrNoMetrics) {
		s.logger.Warn("metrics refresh failed", "owner", ownerID, "err", err)
	}

	if !allowStale {
		return nil, ErrNoMetrics
	}
	entry, err = s.cache.GetAllowStale(key)
	if errors.Is(err, cache.ErrMiss) {
		return nil, ErrNoMetrics
	}
	if err != nil {
		return nil, err
	}
	entry.IsStale = true
	return entry, nil
}

// Refresh fetches the owner's metrics from the remote store and replaces the
// cached snapshot.
func (s *MetricsService) Refresh(ctx context.Context, ownerID string) (*models.CacheEntry, error) {
	if !s.monitor.IsConnected() {
		return nil, ErrNoMetrics
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	docs, err := s.remote.Query(callCtx, remote.CollectionMetrics, remote.Query{
		Filter: map[string]string{"owner_id": ownerID},
		Limit:  1,
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNoMetrics
	}
	return s.cache.Put(metricsKey(ownerID), docs[0])
}

// Invalidate marks the owner's cached metrics stale.
func (s *MetricsService) Invalidate(ownerID string) error {
	return s.cache.Invalidate(metricsKey(ownerID))
}
