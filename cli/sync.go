// ABOUTME: Sync CLI commands
// ABOUTME: One-shot runs, status (TUI or plain), the background daemon, and stuck-item recovery
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/harperreed/fieldsync/config"
	"github.com/harperreed/fieldsync/models"
	"github.com/harperreed/fieldsync/sync"
	"github.com/harperreed/fieldsync/tui"
)

// NewSyncCommand creates the sync command group.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Deliver queued changes to the server",
	}
	cmd.AddCommand(newSyncRunCommand(opts))
	cmd.AddCommand(newSyncStatusCommand(opts))
	cmd.AddCommand(newSyncDaemonCommand(opts))
	cmd.AddCommand(newSyncResetStuckCommand(opts))
	return cmd
}

func newSyncRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one sync pass now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				if err := app.RequeueOrphans(ctx); err != nil {
					return err
				}
				app.Monitor.Refresh(ctx)
				report, err := app.Scheduler.RunNow(ctx)
				if errors.Is(err, sync.ErrRunInProgress) {
					fmt.Fprintln(cmd.OutOrStdout(), "⚠ Another sync run is in progress")
					return nil
				}
				if err != nil {
					return fmt.Errorf("sync failed: %w", err)
				}
				printReport(cmd.OutOrStdout(), report)
				return nil
			})
		},
	}
}

func printReport(w io.Writer, report sync.RunReport) {
	switch {
	case report.Offline:
		fmt.Fprintln(w, "⚠ Offline, nothing was sent")
	case report.Cancelled:
		fmt.Fprintln(w, "⚠ Run cancelled")
	case report.Attempted == 0 && report.DeadLettered == 0:
		fmt.Fprintln(w, "✓ Nothing to sync")
	default:
		fmt.Fprintf(w, "✓ Delivered %d of %d", report.Succeeded, report.Attempted)
		if report.Failed > 0 {
			fmt.Fprintf(w, ", %d failed", report.Failed)
		}
		if report.DeadLettered > 0 {
			fmt.Fprintf(w, ", %d dropped", report.DeadLettered)
		}
		fmt.Fprintf(w, " (%s)\n", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	}
	if report.Result == sync.ResultRequiresRetry && !report.Offline {
		fmt.Fprintln(w, "  Remaining items will be retried")
	}
}

func newSyncStatusCommand(opts *RootOptions) *cobra.Command {
	var plain bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sync status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				if plain || !term.IsTerminal(int(os.Stdout.Fd())) {
					app.Monitor.Refresh(ctx)
					status, err := app.Status(ctx)
					if err != nil {
						return err
					}
					printStatus(cmd.OutOrStdout(), status)
					return nil
				}
				return runStatusTUI(ctx, app)
			})
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "print once instead of opening the dashboard")
	return cmd
}

func runStatusTUI(ctx context.Context, app *App) error {
	// Log lines would tear the dashboard.
	if app.Config.Log.File == "" {
		_ = app.Logs.SetLevel("error")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		_ = app.Monitor.Watch(ctx, app.Config.Probe.Interval)
	}()

	model := tui.NewModel(ctx, app.Status, app.Scheduler)
	_, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

func printStatus(w io.Writer, status sync.Status) {
	state := "offline"
	if status.Connected {
		state = "online"
	}
	fmt.Fprintf(w, "Network:  %s\n", state)
	fmt.Fprintf(w, "Pending:  %d\n", status.Pending)
	for _, s := range []models.Status{models.StatusPending, models.StatusSyncing, models.StatusFailed, models.StatusCompleted} {
		fmt.Fprintf(w, "  %-10s %d\n", s, status.Counts[s])
	}

	run := status.LastRun
	if run == nil {
		fmt.Fprintln(w, "Last run: never")
		return
	}
	result := "-"
	if run.LastSyncResult != nil {
		result = *run.LastSyncResult
	}
	when := "-"
	if run.LastSyncTime != nil {
		when = run.LastSyncTime.Local().Format("2006-01-02 15:04:05")
	}
	fmt.Fprintf(w, "Last run: %s at %s (%d/%d delivered)\n", result, when, run.Succeeded, run.Attempted)
	if run.ErrorMessage != nil {
		fmt.Fprintf(w, "Error:    %s\n", *run.ErrorMessage)
	}
}

func newSyncDaemonCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Watch connectivity and sync in the background until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				return runDaemon(ctx, app)
			})
		},
	}
}

// runDaemon drives the connectivity monitor and the scheduler together until
// ctx is cancelled.
func runDaemon(ctx context.Context, app *App) error {
	logger := app.Logs.Component("daemon")

	if err := app.RequeueOrphans(ctx); err != nil {
		return err
	}

	app.Scheduler.OnReport(func(report sync.RunReport) {
		if report.Offline {
			return
		}
		logger.Info("run complete", "result", report.Result, "delivered", report.Succeeded, "attempted", report.Attempted)
	})

	app.Loader.Watch(func(cfg *config.Config) {
		if err := app.Logs.SetLevel(cfg.Log.Level); err != nil {
			logger.Warn("ignoring config change", "err", err)
			return
		}
		logger.Info("config reloaded", "log_level", cfg.Log.Level)
	}, func(err error) {
		logger.Warn("config reload failed", "err", err)
	})

	logger.Info("sync daemon started", "interval", app.Config.Sync.Interval, "probe_interval", app.Config.Probe.Interval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.Monitor.Watch(gctx, app.Config.Probe.Interval)
	})
	g.Go(func() error {
		return app.Scheduler.Run(gctx)
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("sync daemon stopped")
	return err
}

func newSyncResetStuckCommand(opts *RootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "reset-stuck",
		Short: "Return items stuck in SYNCING to PENDING",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				age := olderThan
				if !cmd.Flags().Changed("older-than") {
					age = app.Config.Sync.StuckAfter
				}
				n, err := app.Ledger.ResetStuckSyncing(ctx, time.Now().Add(-age))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Reset %d stuck item(s)\n", n)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "only items syncing longer than this (default: sync.stuck_after)")
	return cmd
}
