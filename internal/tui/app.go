// Package tui provides the operator dashboard for Hiveplane.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/hiveplane/hiveplane/internal/models"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	tabStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Padding(0, 1)

	activeTabStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	safeStyle     = lipgloss.NewStyle().Foreground(successColor)
	warningStyle  = lipgloss.NewStyle().Foreground(warningColor)
	dangerStyle   = lipgloss.NewStyle().Foreground(errorColor)
	criticalStyle = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
)

// refreshInterval drives the dashboard auto-refresh.
const refreshInterval = 3 * time.Second

var tabNames = []string{"AGENTS", "TASKS", "SOULS", "TRANSFERS"}

// App is the dashboard application model.
type App struct {
	client *Client

	tab     int
	tables  []table.Model
	spinner spinner.Model

	agents  []models.Agent
	tasks   []models.Task
	dash    *models.Dashboard
	claims  []models.Claim
	chat    []models.ChatMessage
	loading bool
	online  bool
	message string
	width   int
	height  int
}

// New creates the dashboard bound to the daemon's API address.
func New(apiAddr string) *App {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(primaryColor)

	tables := []table.Model{
		newTable([]table.Column{
			{Title: "Agent", Width: 24},
			{Title: "Status", Width: 10},
			{Title: "Working On", Width: 36},
			{Title: "Last Seen", Width: 20},
		}),
		newTable([]table.Column{
			{Title: "Title", Width: 36},
			{Title: "Status", Width: 12},
			{Title: "Assignee", Width: 20},
			{Title: "Priority", Width: 10},
		}),
		newTable([]table.Column{
			{Title: "Soul", Width: 20},
			{Title: "Body", Width: 14},
			{Title: "Tokens", Width: 12},
			{Title: "Budget", Width: 10},
			{Title: "Burn/min", Width: 10},
			{Title: "ETA", Width: 8},
		}),
		newTable([]table.Column{
			{Title: "Transfer", Width: 14},
			{Title: "Soul", Width: 20},
			{Title: "Status", Width: 12},
			{Title: "Reason", Width: 28},
		}),
	}

	return &App{
		client:  NewClient(apiAddr),
		tables:  tables,
		spinner: sp,
		loading: true,
	}
}

func newTable(cols []table.Column) table.Model {
	t := table.New(
		table.WithColumns(cols),
		table.WithHeight(14),
		table.WithFocused(true),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).Foreground(primaryColor)
	styles.Selected = styles.Selected.Background(primaryColor).Foreground(fgColor)
	t.SetStyles(styles)
	return t
}

// Run starts the dashboard.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, a.refresh(), tick())
}

type refreshedMsg struct {
	agents []models.Agent
	tasks  []models.Task
	dash   *models.Dashboard
	claims []models.Claim
	chat   []models.ChatMessage
	err    error
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) refresh() tea.Cmd {
	return func() tea.Msg {
		var msg refreshedMsg
		if msg.agents, msg.err = a.client.ListAgents(); msg.err != nil {
			return msg
		}
		if msg.tasks, msg.err = a.client.ListTasks(""); msg.err != nil {
			return msg
		}
		if msg.dash, msg.err = a.client.Dashboard(); msg.err != nil {
			return msg
		}
		if msg.claims, msg.err = a.client.ListClaims(); msg.err != nil {
			return msg
		}
		msg.chat, msg.err = a.client.RecentChat(5)
		return msg
	}
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return a, tea.Quit
		case "tab", "right", "l":
			a.tab = (a.tab + 1) % len(tabNames)
			return a, nil
		case "shift+tab", "left", "h":
			a.tab = (a.tab + len(tabNames) - 1) % len(tabNames)
			return a, nil
		case "r":
			a.loading = true
			return a, a.refresh()
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		for i := range a.tables {
			a.tables[i].SetHeight(msg.Height - 10)
		}
		return a, nil

	case tickMsg:
		return a, tea.Batch(a.refresh(), tick())

	case refreshedMsg:
		a.loading = false
		if msg.err != nil {
			a.online = false
			a.message = msg.err.Error()
			return a, nil
		}
		a.online = true
		a.message = ""
		a.agents = msg.agents
		a.tasks = msg.tasks
		a.dash = msg.dash
		a.claims = msg.claims
		a.chat = msg.chat
		a.populate()
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}

	var cmd tea.Cmd
	a.tables[a.tab], cmd = a.tables[a.tab].Update(msg)
	return a, cmd
}

func (a *App) populate() {
	agentRows := make([]table.Row, len(a.agents))
	for i, ag := range a.agents {
		agentRows[i] = table.Row{ag.ID, string(ag.Status), ag.WorkingOn, ag.LastSeen.Local().Format("15:04:05 Jan 2")}
	}
	a.tables[0].SetRows(agentRows)

	taskRows := make([]table.Row, len(a.tasks))
	for i, t := range a.tasks {
		taskRows[i] = table.Row{t.Title, string(t.Status), t.Assignee, t.Priority}
	}
	a.tables[1].SetRows(taskRows)

	if a.dash != nil {
		soulRows := make([]table.Row, len(a.dash.Souls))
		for i, ov := range a.dash.Souls {
			row := table.Row{ov.Soul.Name, "-", "-", "-", "-", "-"}
			if ov.Body != nil {
				eta := "-"
				if ov.Body.EstimatedMinutesToLimit != nil {
					eta = fmt.Sprintf("%dm", *ov.Body.EstimatedMinutesToLimit)
				}
				row = table.Row{
					ov.Soul.Name,
					string(ov.Body.Status),
					fmt.Sprintf("%d", ov.Body.CurrentTokens),
					string(ov.Body.TokenStatus),
					fmt.Sprintf("%.0f", ov.Body.TokenBurnRate),
					eta,
				}
			}
			soulRows[i] = row
		}
		a.tables[2].SetRows(soulRows)

		transferRows := make([]table.Row, len(a.dash.ActiveTransfers))
		for i, tr := range a.dash.ActiveTransfers {
			transferRows[i] = table.Row{shortID(tr.TransferID), tr.SoulID, string(tr.Status), tr.Reason}
		}
		a.tables[3].SetRows(transferRows)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// View implements tea.Model.
func (a *App) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Hiveplane"))
	b.WriteString("  ")
	for i, name := range tabNames {
		if i == a.tab {
			b.WriteString(activeTabStyle.Render(name))
		} else {
			b.WriteString(tabStyle.Render(name))
		}
	}
	b.WriteString("\n\n")

	if a.loading {
		b.WriteString(a.spinner.View() + " Loading...\n")
	} else {
		b.WriteString(a.tables[a.tab].View())
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(a.statusBar())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("tab: switch • r: refresh • q: quit"))
	return b.String()
}

func (a *App) statusBar() string {
	daemon := dangerStyle.Render("daemon offline")
	if a.online {
		daemon = safeStyle.Render("daemon online")
	}
	parts := []string{daemon, fmt.Sprintf("%d agents", len(a.agents)), fmt.Sprintf("%d claims", len(a.claims))}
	if a.dash != nil {
		parts = append(parts, fmt.Sprintf("%d bodies (%d terminated)", a.dash.BodyCount, a.dash.TerminatedCount))
	}
	if len(a.chat) > 0 {
		last := a.chat[len(a.chat)-1]
		parts = append(parts, fmt.Sprintf("chat: %s: %s", last.Author, truncate(last.Text, 40)))
	}
	if a.message != "" {
		parts = append(parts, warningStyle.Render(truncate(a.message, 60)))
	}
	return statusBarStyle.Render(strings.Join(parts, " │ "))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
