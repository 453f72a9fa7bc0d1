package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"dlqwatch/pkg/protocol"
	"dlqwatch/pkg/store"
)

// tickMsg triggers a periodic data refresh.
type tickMsg time.Time

// snapshotMsg carries one database read; err is set when the database is
// missing or unreadable (the monitor may simply not have run yet).
type snapshotMsg struct {
	snapshot *Snapshot
	err      error
}

var (
	styleTitle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	styleMuted  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	styleGood   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleBad    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleBorder = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
)

// tickCmd returns a command that sends a tickMsg after 2 seconds.
func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchCmd returns a command that reads the runtime database.
func fetchCmd(dbPath string) tea.Cmd {
	return func() tea.Msg {
		snap, err := fetchSnapshot(context.Background(), dbPath)
		return snapshotMsg{snapshot: snap, err: err}
	}
}

// Model is the Bubble Tea model for the dlqwatch dashboard.
type Model struct {
	dbPath  string
	spin    spinner.Model
	tbl     table.Model
	metrics *store.MetricsSummary
	loaded  bool
	err     error
	width   int
	height  int
}

func newModel() Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	tbl := table.New(
		table.WithColumns([]table.Column{
			{Title: "Investigation", Width: 34},
			{Title: "Queue", Width: 24},
			{Title: "Status", Width: 16},
			{Title: "Progress", Width: 8},
			{Title: "Started", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(12),
	)

	return Model{dbPath: defaultDBPath(), spin: sp, tbl: tbl}
}

// Init starts the spinner, the refresh ticker, and the first fetch.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, fetchCmd(m.dbPath), tickCmd())
}

// Update handles input, resize, ticks, and fetched snapshots.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		return m, tea.Batch(fetchCmd(m.dbPath), tickCmd())

	case snapshotMsg:
		m.loaded = true
		m.err = msg.err
		if msg.snapshot != nil {
			m.metrics = msg.snapshot.Metrics
			m.tbl.SetRows(investigationRows(msg.snapshot.Active))
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.tbl, cmd = m.tbl.Update(msg)
	return m, cmd
}

// investigationRows converts active investigations into table rows.
func investigationRows(active []*protocol.Investigation) []table.Row {
	rows := make([]table.Row, 0, len(active))
	for _, inv := range active {
		rows = append(rows, table.Row{
			inv.ID,
			inv.QueueID,
			string(inv.Status),
			fmt.Sprintf("%d%%", inv.ProgressPercent),
			inv.StartedAt.Local().Format("15:04:05"),
		})
	}
	return rows
}

// headerLine summarizes the last 24 hours of outcomes.
func headerLine(m *store.MetricsSummary) string {
	if m == nil {
		return styleMuted.Render("no data yet")
	}
	return fmt.Sprintf("%s active  %s  %s  %s",
		styleTitle.Render(fmt.Sprintf("%d", m.Active)),
		styleGood.Render(fmt.Sprintf("%d completed", m.Completed)),
		styleBad.Render(fmt.Sprintf("%d failed", m.Failed+m.TimedOut)),
		styleMuted.Render(fmt.Sprintf("%.0f%% success (24h)", m.SuccessRate)),
	)
}

// View renders the dashboard.
func (m Model) View() string {
	title := styleTitle.Render("dlqwatch") + styleMuted.Render("  dead-letter queue investigations")

	if !m.loaded {
		return fmt.Sprintf("%s\n\n %s loading...\n", title, m.spin.View())
	}
	if m.err != nil {
		return fmt.Sprintf("%s\n\n%s\n%s\n", title,
			styleMuted.Render("no runtime database found; is the monitor running?"),
			styleMuted.Render(m.err.Error()))
	}

	body := styleBorder.Render(m.tbl.View())
	footer := styleMuted.Render("q quit · arrows navigate · refreshes every 2s")
	return fmt.Sprintf("%s\n%s\n\n%s\n\n%s\n", title, headerLine(m.metrics), body, footer)
}
