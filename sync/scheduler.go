// ABOUTME: Scheduler that decides when the sync worker runs
// ABOUTME: Periodic while items are pending, immediate on reconnect or request, and never concurrent

package sync

import (
	"context"
	"errors"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/harperreed/fieldsync/connectivity"
)

// ErrRunInProgress is returned by RunNow while another run holds the worker,
// in this process or another one sharing the database.
var ErrRunInProgress = errors.New("sync run already in progress")

// Runner performs a single sync pass.
type Runner interface {
	RunOnce(ctx context.Context) (RunReport, error)
}

// Queue is the ledger view the scheduler needs.
type Queue interface {
	PendingCount(ctx context.Context) (int, error)
}

// StateSource publishes connectivity changes.
type StateSource interface {
	IsConnected() bool
	Subscribe() (<-chan connectivity.State, func())
}

// SchedulerConfig holds trigger policy.
type SchedulerConfig struct {
	Interval time.Duration
	// MaxBackoffFactor bounds how far repeated RequiresRetry results stretch
	// the interval.
	MaxBackoffFactor int
}

// DefaultSchedulerConfig returns the standard trigger policy.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{Interval: 15 * time.Minute, MaxBackoffFactor: 4}
}

type runOutcome struct {
	report RunReport
	err    error
}

// Scheduler owns run triggering for one ledger.
type Scheduler struct {
	runner  Runner
	queue   Queue
	monitor StateSource
	cfg     SchedulerConfig
	logger  *log.Logger

	// runMu serializes every run, scheduled or manual.
	runMu   gosync.Mutex
	trigger chan struct{}
	running atomic.Bool
	factor  int

	lastMu   gosync.Mutex
	last     *RunReport
	onReport func(RunReport)
}

func NewScheduler(runner Runner, queue Queue, monitor StateSource, cfg SchedulerConfig, logger *log.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSchedulerConfig().Interval
	}
	if cfg.MaxBackoffFactor < 1 {
		cfg.MaxBackoffFactor = 1
	}
	return &Scheduler{
		runner:  runner,
		queue:   queue,
		monitor: monitor,
		cfg:     cfg,
		logger:  logger,
		trigger: make(chan struct{}, 1),
		factor:  1,
	}
}

// OnReport registers a callback invoked after every completed run.
func (s *Scheduler) OnReport(fn func(RunReport)) {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	s.onReport = fn
}

// Trigger requests a run as soon as possible. Requests made while a run is
// in progress coalesce into a single follow-up run.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Running reports whether a run is executing.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// LastReport returns the most recent run report, if any.
func (s *Scheduler) LastReport() (RunReport, bool) {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	if s.last == nil {
		return RunReport{}, false
	}
	return *s.last, true
}

// RunNow executes a run on the caller's goroutine. It fails fast with
// ErrRunInProgress instead of queueing behind another run.
func (s *Scheduler) RunNow(ctx context.Context) (RunReport, error) {
	if !s.runMu.TryLock() {
		return RunReport{}, ErrRunInProgress
	}
	defer s.runMu.Unlock()
	return s.execute(ctx)
}

// Run drives scheduled runs until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	states, unsubscribe := s.monitor.Subscribe()
	defer unsubscribe()

	var (
		cancelRun context.CancelFunc
		done      = make(chan runOutcome, 1)
		rerun     bool
		online    = s.monitor.IsConnected()
	)

	start := func(reason string) {
		if cancelRun != nil {
			rerun = true
			return
		}
		s.logger.Debug("starting sync run", "reason", reason)
		var runCtx context.Context
		runCtx, cancelRun = context.WithCancel(ctx)
		go func() {
			s.runMu.Lock()
			defer s.runMu.Unlock()
			report, err := s.execute(runCtx)
			done <- runOutcome{report: report, err: err}
		}()
	}

	timer := time.NewTimer(s.interval())
	defer timer.Stop()

	if online && s.hasPending(ctx) {
		start("startup")
	}

	for {
		select {
		case <-ctx.Done():
			if cancelRun != nil {
				cancelRun()
				<-done
			}
			return nil

		case state, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			wasOnline := online
			online = state.Available
			switch {
			case online && !wasOnline:
				start("connectivity restored")
			case !online && cancelRun != nil:
				s.logger.Info("connectivity lost, cancelling sync run")
				cancelRun()
			}

		case <-s.trigger:
			start("requested")

		case <-timer.C:
			if online && s.hasPending(ctx) {
				start("interval")
			}
			timer.Reset(s.interval())

		case outcome := <-done:
			cancelRun()
			cancelRun = nil
			s.adjustInterval(outcome)
			timer.Reset(s.interval())
			switch {
			case errors.Is(outcome.err, ErrRunInProgress):
				s.logger.Debug("sync run skipped, another process holds it")
			case outcome.err != nil:
				s.logger.Error("sync run failed", "err", outcome.err)
			}
			if rerun {
				rerun = false
				start("coalesced request")
			}
		}
	}
}

func (s *Scheduler) execute(ctx context.Context) (RunReport, error) {
	s.running.Store(true)
	defer s.running.Store(false)

	report, err := s.runner.RunOnce(ctx)
	if errors.Is(err, ErrRunInProgress) {
		return report, err
	}

	s.lastMu.Lock()
	s.last = &report
	fn := s.onReport
	s.lastMu.Unlock()
	if fn != nil {
		fn(report)
	}
	return report, err
}

// adjustInterval doubles the wait after runs that need a retry, up to the
// configured factor, and resets it after a successful run.
func (s *Scheduler) adjustInterval(outcome runOutcome) {
	if outcome.report.Cancelled || outcome.report.Offline || errors.Is(outcome.err, ErrRunInProgress) {
		return
	}
	if outcome.err != nil || outcome.report.Result == ResultRequiresRetry {
		s.factor = min(s.factor*2, s.cfg.MaxBackoffFactor)
		return
	}
	s.factor = 1
}

func (s *Scheduler) interval() time.Duration {
	return s.cfg.Interval * time.Duration(s.factor)
}

func (s *Scheduler) hasPending(ctx context.Context) bool {
	n, err := s.queue.PendingCount(ctx)
	if err != nil {
		s.logger.Error("failed to count pending items", "err", err)
		return false
	}
	return n > 0
}
