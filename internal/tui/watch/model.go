package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/agentbridge/internal/events"
)

const eventLogSize = 50

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	health      HealthState
	requests    map[string]*RequestState
	eventLog    []events.Event
	lastEventID int64

	activity Activity
	theme    Theme
	table    table.Model

	hubEvents chan events.Event
	lastError string
}

// New creates a watch model for the ops API at apiURL.
func New(apiURL, apiKey string) *Model {
	return &Model{
		apiURL:    apiURL,
		apiKey:    apiKey,
		requests:  make(map[string]*RequestState),
		eventLog:  make([]events.Event, 0, eventLogSize),
		hubEvents: make(chan events.Event, 100),
		theme:     NewDefaultTheme(),
		table:     newRequestTable(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.apiKey, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(m.width - 8)
		if h := m.height/2 - 6; h > 3 {
			m.table.SetHeight(h)
		}

	case tickMsg:
		m.activity.Prune(time.Now())
		m.table.SetRows(requestRows(m.requests, time.Time(msg)))
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		m.applyEvent(events.Event(msg))
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.apply(msg)
		m.lastError = ""
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.apiKey, m.lastEventID, m.hubEvents)

	case errMsg:
		m.health.Connected = false
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *Model) applyEvent(e events.Event) {
	if e.ID > m.lastEventID {
		m.lastEventID = e.ID
	}
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > eventLogSize {
		m.eventLog = m.eventLog[:eventLogSize]
	}
	m.activity.Record(time.Now())
	m.health.Connected = true
	m.lastError = ""

	updateRequestState(m.requests, e)
	m.table.SetRows(requestRows(m.requests, time.Now()))
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to agentbridge..."
	}

	parts := []string{
		renderHeader(m.health, m.activity, m.theme, m.width),
		renderRequests(m.table, len(m.requests), m.theme, m.width),
		renderEventStream(m.eventLog, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.Failed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, m.theme.Dim.Render(" [q] Quit • [↑/↓] Scroll requests"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

// Run starts the TUI and blocks until the user quits.
func Run(apiURL, apiKey string) error {
	_, err := tea.NewProgram(New(apiURL, apiKey)).Run()
	return err
}
