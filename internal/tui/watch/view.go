package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/botpanel/internal/events"
)

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to panel..."
	}

	parts := []string{
		m.renderHeader(),
		m.theme.Border.Width(max(m.width-6, 20)).Render(m.rules.View()),
		m.renderEvents(),
	}
	if m.notice != "" {
		parts = append(parts, m.theme.Highlight.Render(" "+m.notice))
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(" ! "+m.lastError))
	}
	parts = append(parts, m.theme.Dim.Render(" [q] quit  [s] start  [x] stop  [R] restart  [r] refresh  [↑/↓] rules"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

func (m Model) renderHeader() string {
	title := m.theme.Title.Render("BOTPANEL WATCH")

	var state string
	switch {
	case m.status == nil:
		state = m.spinner.View() + m.theme.StatusPending.Render(" waiting for panel")
	case m.status.Bot.Running:
		state = m.theme.StatusOK.Render(fmt.Sprintf("RUNNING pid %d", m.status.Bot.PID))
	default:
		state = m.theme.StatusFailed.Render("STOPPED")
	}

	var stats string
	if m.status != nil {
		token := "no token"
		if m.status.TokenSet {
			token = "token set"
		}
		stats = m.theme.Dim.Render(fmt.Sprintf("rules %d (%d active)  %s  polled %s",
			m.status.Rules, m.status.ActiveRules, token, m.lastPoll.Format("15:04:05")))
	}

	stream := m.theme.StatusFailed.Render("events offline")
	if m.connected {
		stream = m.theme.StatusOK.Render("events live")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		" "+state+"  "+stream,
		" "+stats,
	)
}

func (m Model) renderEvents() string {
	var b strings.Builder
	b.WriteString(m.theme.Header.Render("Recent events"))
	b.WriteString("\n")
	if len(m.eventLog) == 0 {
		b.WriteString(m.theme.Dim.Render("  none yet"))
		return b.String()
	}
	for _, e := range m.eventLog {
		fmt.Fprintf(&b, "  %s %s %s\n",
			m.theme.Dim.Render(e.At.Local().Format(time.TimeOnly)),
			eventStyle(m.theme, e.Type).Render(fmt.Sprintf("%-20s", e.Type)),
			string(e.Data),
		)
	}
	return strings.TrimRight(b.String(), "\n")
}

func eventStyle(t Theme, typ string) lipgloss.Style {
	switch typ {
	case events.BotControlFailed, events.BotExited:
		return t.StatusFailed
	case events.BotStarted, events.BotRestarted:
		return t.StatusOK
	case events.BotStopped:
		return t.StatusPending
	default:
		return t.Highlight
	}
}
