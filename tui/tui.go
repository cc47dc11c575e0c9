// ABOUTME: Terminal User Interface using bubbletea framework
// ABOUTME: Full-screen sync status screen with manual sync and refresh
package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/harperreed/fieldsync/sync"
)

// refreshInterval is how often the screen re-reads status on its own.
const refreshInterval = 2 * time.Second

// StatusFunc reads the current sync status.
type StatusFunc func(ctx context.Context) (sync.Status, error)

// Runner starts a sync pass on demand.
type Runner interface {
	RunNow(ctx context.Context) (sync.RunReport, error)
}

type statusMsg struct {
	status sync.Status
	err    error
}

type runDoneMsg struct {
	report sync.RunReport
	err    error
}

type tickMsg time.Time

// Model is the main bubbletea model
type Model struct {
	ctx    context.Context
	status StatusFunc
	runner Runner

	current  sync.Status
	loaded   bool
	err      error
	syncing  bool
	messages []string
	spinner  spinner.Model

	width  int
	height int
	now    func() time.Time
}

// NewModel creates a new TUI model
func NewModel(ctx context.Context, status StatusFunc, runner Runner) Model {
	return Model{
		ctx:     ctx,
		status:  status,
		runner:  runner,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(syncingStyle)),
		width:   80,
		height:  24,
		now:     time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), tick())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case statusMsg:
		m.err = msg.err
		if msg.err == nil {
			m.current = msg.status
			m.loaded = true
		}
		return m, nil
	case runDoneMsg:
		m.syncing = false
		m.addMessage(describeRun(msg.report, msg.err))
		return m, m.refresh()
	case tickMsg:
		return m, tea.Batch(m.refresh(), tick())
	case spinner.TickMsg:
		if !m.syncing {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	return m.renderStatusView()
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "r":
		return m, m.refresh()
	case "s":
		if m.syncing {
			return m, nil
		}
		m.syncing = true
		m.addMessage("Starting sync...")
		return m, tea.Batch(m.runSync(), m.spinner.Tick)
	}
	return m, nil
}

func (m Model) refresh() tea.Cmd {
	return func() tea.Msg {
		status, err := m.status(m.ctx)
		return statusMsg{status: status, err: err}
	}
}

func (m Model) runSync() tea.Cmd {
	return func() tea.Msg {
		report, err := m.runner.RunNow(m.ctx)
		return runDoneMsg{report: report, err: err}
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// addMessage adds a message to the activity log.
func (m *Model) addMessage(msg string) {
	timestamp := m.now().Format("15:04:05")
	m.messages = append(m.messages, fmt.Sprintf("[%s] %s", timestamp, msg))
	if len(m.messages) > 20 {
		m.messages = m.messages[len(m.messages)-20:]
	}
}

func describeRun(report sync.RunReport, err error) string {
	switch {
	case errors.Is(err, sync.ErrRunInProgress):
		return "A sync run is already in progress"
	case err != nil:
		return fmt.Sprintf("✗ Sync failed: %v", err)
	case report.Offline:
		return "✗ Offline, nothing was sent"
	case report.Cancelled:
		return "✗ Sync cancelled"
	case report.Result == sync.ResultSuccess:
		return fmt.Sprintf("✓ Sync completed: %d delivered, %d failed, %d dropped",
			report.Succeeded, report.Failed, report.DeadLettered)
	default:
		return fmt.Sprintf("✗ Sync needs retry: %d delivered, %d failed, %d dropped",
			report.Succeeded, report.Failed, report.DeadLettered)
	}
}
