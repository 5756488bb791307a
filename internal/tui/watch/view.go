package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/herald/internal/events"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	statusOK = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	statusBad = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)
)

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to herald..."
	}

	header := m.renderHeader()
	stats := m.renderStats()
	counters := m.renderCounters()
	stream := m.renderEventStream()

	var errBar string
	if m.lastError != "" {
		errBar = statusBad.Render(fmt.Sprintf(" ! %s", m.lastError))
	}

	help := dimStyle.Render(" [q] Quit")

	parts := []string{header, stats, counters, stream}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

func (m Model) renderHeader() string {
	conn := statusBad.Render("disconnected")
	if m.connected {
		conn = statusOK.Render("connected")
	}
	return lipgloss.JoinHorizontal(lipgloss.Center,
		m.spinner.View(),
		titleStyle.Render(" herald watch "),
		dimStyle.Render(m.apiURL+" "),
		conn,
	)
}

func (m Model) renderStats() string {
	line := fmt.Sprintf("queue  total %d  pending %d  sent %d  failed %d",
		m.stats.Total, m.stats.Pending, m.stats.Sent, m.stats.Failed)
	return boxStyle.Width(m.width - 6).Render(line)
}

func (m Model) renderCounters() string {
	if len(m.counters) == 0 {
		return boxStyle.Width(m.width - 6).Render(dimStyle.Render("no events yet"))
	}

	types := make([]string, 0, len(m.counters))
	for t := range m.counters {
		types = append(types, t)
	}
	sort.Strings(types)

	var b strings.Builder
	for i, t := range types {
		if i > 0 {
			b.WriteString("  ")
		}
		fmt.Fprintf(&b, "%s %d", t, m.counters[t])
	}
	return boxStyle.Width(m.width - 6).Render(b.String())
}

func (m Model) renderEventStream() string {
	rows := m.height - 14
	if rows < 3 {
		rows = 3
	}
	if rows > len(m.eventLog) {
		rows = len(m.eventLog)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("events"))
	b.WriteString("\n")
	for i := 0; i < rows; i++ {
		e := m.eventLog[i]
		b.WriteString(fmt.Sprintf("%s  %-22s %s\n",
			dimStyle.Render(e.At.Format("15:04:05")),
			e.Type,
			summarize(e)))
	}
	if len(m.eventLog) == 0 {
		b.WriteString(dimStyle.Render("waiting for activity..."))
	}
	return boxStyle.Width(m.width - 6).Render(strings.TrimRight(b.String(), "\n"))
}

// summarize pulls the identifying fields out of an event payload.
func summarize(e events.Event) string {
	var data map[string]any
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return ""
	}

	var parts []string
	for _, key := range []string{"rule_id", "item_id", "user_id", "trigger", "retry_count", "evicted", "sent", "failed"} {
		if v, ok := data[key]; ok {
			parts = append(parts, fmt.Sprintf("%s=%v", key, v))
		}
	}
	return dimStyle.Render(strings.Join(parts, " "))
}
