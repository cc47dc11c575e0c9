// ABOUTME: Rendering for the sync status screen
// ABOUTME: Shows connectivity, ledger counts, the last run, and recent activity
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/harperreed/fieldsync/db"
	"github.com/harperreed/fieldsync/models"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			Underline(true)

	labelStyle = lipgloss.NewStyle().
			Bold(true).
			Width(14)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	syncingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	messageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginTop(1)
)

var statusOrder = []models.Status{
	models.StatusPending,
	models.StatusSyncing,
	models.StatusFailed,
	models.StatusCompleted,
}

func (m Model) renderStatusView() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("Field Sync"))
	s.WriteString("\n\n")

	if m.err != nil {
		s.WriteString(errorStyle.Render("Error: " + m.err.Error()))
		s.WriteString("\n\n")
	}
	if !m.loaded {
		s.WriteString(messageStyle.Render("Loading status..."))
		s.WriteString("\n\n")
		s.WriteString(m.renderHelp())
		return s.String()
	}

	st := m.current
	s.WriteString(labelStyle.Render("Network"))
	if st.Connected {
		s.WriteString(okStyle.Render("● online"))
	} else {
		s.WriteString(errorStyle.Render("○ offline"))
	}
	s.WriteString("\n")

	s.WriteString(labelStyle.Render("Pending"))
	s.WriteString(fmt.Sprintf("%d", st.Pending))
	s.WriteString("\n")

	s.WriteString(labelStyle.Render("Sync"))
	switch {
	case m.syncing || st.Running:
		s.WriteString(m.spinner.View() + syncingStyle.Render(" Syncing..."))
	default:
		s.WriteString(m.renderLastRun(st.LastRun))
	}
	s.WriteString("\n\n")

	s.WriteString(headerStyle.Render("Ledger"))
	s.WriteString("\n\n")
	s.WriteString(m.renderCountsTable())
	s.WriteString("\n\n")

	if len(m.messages) > 0 {
		s.WriteString(headerStyle.Render("Recent Activity"))
		s.WriteString("\n\n")
		start := 0
		if len(m.messages) > 5 {
			start = len(m.messages) - 5
		}
		for _, msg := range m.messages[start:] {
			s.WriteString(messageStyle.Render("  " + msg))
			s.WriteString("\n")
		}
	}

	s.WriteString(m.renderHelp())
	return s.String()
}

func (m Model) renderLastRun(run *db.RunState) string {
	if run == nil || run.LastSyncTime == nil {
		return messageStyle.Render("Not synced yet")
	}
	if run.Status == db.RunError {
		msg := "✗ Error"
		if run.ErrorMessage != nil {
			msg += ": " + *run.ErrorMessage
		}
		return errorStyle.Render(msg)
	}

	result := "unknown"
	if run.LastSyncResult != nil {
		result = strings.ToLower(*run.LastSyncResult)
	}
	line := fmt.Sprintf("✓ %s • %d/%d delivered • %s",
		result, run.Succeeded, run.Attempted, formatTimeSince(*run.LastSyncTime, m.now()))
	return okStyle.Render(line)
}

func (m Model) renderCountsTable() string {
	columns := []table.Column{
		{Title: "Status", Width: 12},
		{Title: "Items", Width: 8},
	}

	var rows []table.Row
	for _, status := range statusOrder {
		rows = append(rows, table.Row{
			string(status),
			fmt.Sprintf("%d", m.current.Counts[status]),
		})
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithHeight(len(rows)+1),
	)
	return t.View()
}

func (m Model) renderHelp() string {
	help := []string{
		"s: Sync now",
		"r: Refresh",
		"q: Quit",
	}
	return helpStyle.Render(strings.Join(help, " • "))
}

// formatTimeSince formats a time duration in a human-readable way.
func formatTimeSince(t, now time.Time) string {
	duration := now.Sub(t)

	switch {
	case duration < time.Minute:
		return "just now"
	case duration < time.Hour:
		minutes := int(duration.Minutes())
		if minutes == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", minutes)
	case duration < 24*time.Hour:
		hours := int(duration.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	default:
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}
