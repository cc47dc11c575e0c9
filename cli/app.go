// ABOUTME: Wires configuration, storage, connectivity, and the sync engine for CLI commands
// ABOUTME: One App per process invocation; every component is constructed here and injected
package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"

	"github.com/harperreed/fieldsync/cache"
	"github.com/harperreed/fieldsync/config"
	"github.com/harperreed/fieldsync/connectivity"
	"github.com/harperreed/fieldsync/db"
	"github.com/harperreed/fieldsync/logging"
	"github.com/harperreed/fieldsync/models"
	"github.com/harperreed/fieldsync/remote"
	"github.com/harperreed/fieldsync/repository"
	"github.com/harperreed/fieldsync/sync"
)

// App holds the process-wide components.
type App struct {
	Config *config.Config
	Loader *config.Loader
	Logs   *logging.Tree

	DB        *sql.DB
	Ledger    *db.Ledger
	Monitor   *connectivity.Monitor
	Remote    remote.Store
	Visits    *repository.Repository[*models.Visit]
	Prospects *repository.Repository[*models.Prospect]
	Worker    *sync.Worker
	Scheduler *sync.Scheduler

	cache     *cache.Cache
	logCloser io.Closer
}

// OpenApp loads configuration from opts and constructs every component.
func OpenApp(ctx context.Context, opts *RootOptions) (*App, error) {
	loader := config.NewLoader(opts.ConfigPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, opts)

	root, closer, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, err
	}
	tree := logging.NewTree(root)

	database, err := db.OpenDatabase(cfg.DBPath)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	app := &App{
		Config:    cfg,
		Loader:    loader,
		Logs:      tree,
		DB:        database,
		Ledger:    db.NewLedger(database),
		logCloser: closer,
	}
	app.Monitor = connectivity.NewMonitor(ctx, newProber(cfg), tree.Component("connectivity"))
	app.Remote = newRemote(ctx, cfg)

	repoOpts := repository.Options{MaxAttempts: cfg.Sync.MaxAttempts, CallTimeout: cfg.Remote.Timeout}
	repoLog := tree.Component("repository")
	app.Visits = repository.NewVisitRepository(db.NewVisitStore(database), app.Ledger, app.Remote, app.Monitor, repoOpts, repoLog)
	app.Prospects = repository.NewProspectRepository(db.NewProspectStore(database), app.Ledger, app.Remote, app.Monitor, repoOpts, repoLog)

	app.Worker = sync.NewWorker(database, app.Ledger, app.Remote, app.Monitor, sync.WorkerConfig{
		Backoff:            sync.Backoff{Base: cfg.Sync.BackoffBase, Cap: cfg.Sync.BackoffCap},
		CallTimeout:        cfg.Remote.Timeout,
		CompletedRetention: cfg.Sync.CompletedRetention,
		RecordRetention:    cfg.Sync.RecordRetention,
		LeaseTimeout:       cfg.Sync.StuckAfter,
	}, tree.Component("sync"))

	app.Scheduler = sync.NewScheduler(app.Worker, app.Ledger, app.Monitor, sync.SchedulerConfig{
		Interval:         cfg.Sync.Interval,
		MaxBackoffFactor: sync.DefaultSchedulerConfig().MaxBackoffFactor,
	}, tree.Component("scheduler"))

	return app, nil
}

func applyOverrides(cfg *config.Config, opts *RootOptions) {
	if opts.DBPath != "" {
		cfg.DBPath = opts.DBPath
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
}

// newProber picks how reachability is decided. Without a remote there is
// nothing to reach, so the device stays offline and every write queues.
func newProber(cfg *config.Config) connectivity.Prober {
	if !cfg.RemoteConfigured() {
		return connectivity.StaticProber{State: connectivity.Unavailable}
	}
	address := cfg.Probe.Address
	if address == "" && cfg.Remote.Kind == config.RemoteHTTP {
		address = hostPort(cfg.Remote.URL)
	}
	if address == "" {
		return connectivity.StaticProber{State: connectivity.Available(connectivity.KindOther)}
	}
	return &connectivity.DialProber{Address: address, Timeout: cfg.Remote.Timeout}
}

func hostPort(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	if port := u.Port(); port != "" {
		return net.JoinHostPort(u.Hostname(), port)
	}
	if u.Scheme == "http" {
		return net.JoinHostPort(u.Hostname(), "80")
	}
	return net.JoinHostPort(u.Hostname(), "443")
}

func newRemote(ctx context.Context, cfg *config.Config) remote.Store {
	if cfg.Remote.Kind == config.RemoteMemory {
		return remote.NewMemoryStore()
	}
	return remote.NewHTTPStore(ctx, cfg.Remote.URL, cfg.Remote.Token, cfg.Remote.Timeout)
}

// Metrics opens the metrics cache on first use. The cache directory is
// locked by badger, so only commands that read metrics open it.
func (a *App) Metrics() (*repository.MetricsService, error) {
	if a.cache == nil {
		c, err := cache.Open(cache.Options{
			Dir:            a.Config.CacheDir,
			TTL:            a.Config.Cache.TTL,
			StaleRetention: a.Config.Cache.StaleRetention,
			Logger:         logging.Badger{Logger: a.Logs.Component("cache")},
		})
		if err != nil {
			return nil, err
		}
		a.cache = c
	}
	return repository.NewMetricsService(a.cache, a.Remote, a.Monitor, a.Config.Remote.Timeout, a.Logs.Component("metrics")), nil
}

// OwnerID resolves the owner for a command, preferring an explicit flag.
func (a *App) OwnerID(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if a.Config.OwnerID != "" {
		return a.Config.OwnerID, nil
	}
	return "", errors.New("no owner configured\nHint: run 'fieldsync init --owner <id>' or pass --owner")
}

// RequeueOrphans repairs records written locally whose ledger item was lost.
func (a *App) RequeueOrphans(ctx context.Context) error {
	if _, err := a.Visits.RequeueOrphans(ctx); err != nil {
		return fmt.Errorf("failed to requeue visits: %w", err)
	}
	if _, err := a.Prospects.RequeueOrphans(ctx); err != nil {
		return fmt.Errorf("failed to requeue prospects: %w", err)
	}
	return nil
}

// Status reads the current sync status.
func (a *App) Status(ctx context.Context) (sync.Status, error) {
	return sync.CollectStatus(ctx, a.DB, a.Ledger, a.Monitor, a.Scheduler.Running())
}

// Close releases everything OpenApp acquired.
func (a *App) Close() error {
	var errs []error
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	errs = append(errs, a.DB.Close(), a.logCloser.Close())
	return errors.Join(errs...)
}
