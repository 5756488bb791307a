package watch

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/herald/internal/events"
	"github.com/mattjoyce/herald/internal/queue"
)

// Model is the main BubbleTea model for the watch TUI. It streams the
// engine's event hub over the API SSE endpoint and polls queue stats.
type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	stats     queue.Stats
	connected bool
	lastStats time.Time

	eventLog []events.Event
	counters map[string]int

	spinner spinner.Model

	hubEvents chan events.Event

	lastError string
}

// New creates a new watch TUI model.
func New(apiURL, apiKey string) *Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &Model{
		apiURL:    apiURL,
		apiKey:    apiKey,
		eventLog:  make([]events.Event, 0),
		counters:  make(map[string]int),
		spinner:   sp,
		hubEvents: make(chan events.Event, 100),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.apiKey, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchStats(m.apiURL, m.apiKey) },
		m.spinner.Tick,
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

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		e := events.Event(msg)

		// Event log is newest first.
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > 50 {
			m.eventLog = m.eventLog[:50]
		}

		m.counters[e.Type]++
		m.connected = true
		m.lastError = ""

		return m, receiveNextEvent(m.hubEvents)

	case statsMsg:
		m.stats = queue.Stats(msg)
		m.connected = true
		m.lastStats = time.Now()
		m.lastError = ""

		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchStats(m.apiURL, m.apiKey)
		})

	case sseDisconnectedMsg:
		m.connected = false
		m.lastError = "SSE disconnected, reconnecting..."
		// The receiveNextEvent goroutine is still waiting on the channel
		// and picks up events from the new subscription.
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.apiKey, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchStats(m.apiURL, m.apiKey)
		})
	}

	return m, nil
}
