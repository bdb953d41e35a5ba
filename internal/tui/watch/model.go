package watch

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/botpanel/internal/api"
	"github.com/mattjoyce/botpanel/internal/events"
)

const (
	pollInterval      = 2 * time.Second
	reconnectInterval = 3 * time.Second
	maxEvents         = 20
)

// --- Message types ---

type statusMsg api.StatusResponse

type rulesMsg struct {
	list    api.RuleListResponse
	changed bool
}

type controlMsg api.ControlResponse

type eventMsg events.Event

type pollMsg struct{}

type errMsg struct{ err error }

func (e errMsg) Error() string { return e.err.Error() }

type sseDisconnectedMsg struct{ err error }
type reconnectMsg struct{}

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	client *Client
	ctx    context.Context
	cancel context.CancelFunc

	width  int
	height int

	status    *api.StatusResponse
	rules     table.Model
	ruleCount int
	eventLog  []events.Event
	lastID    int64
	connected bool
	lastPoll  time.Time

	spinner spinner.Model
	theme   Theme

	hubEvents chan events.Event
	lastError string
	notice    string
}

// New creates a watch model for the panel at apiURL.
func New(apiURL, token string) Model {
	theme := NewDefaultTheme()
	ctx, cancel := context.WithCancel(context.Background())

	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ID", Width: 5},
			{Title: "On", Width: 3},
			{Title: "Trigger", Width: 20},
			{Title: "Response", Width: 30},
			{Title: "Scope", Width: 16},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
	)
	t.SetStyles(theme.Table)

	return Model{
		client:    NewClient(apiURL, token),
		ctx:       ctx,
		cancel:    cancel,
		rules:     t,
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(theme.Spinner)),
		theme:     theme,
		hubEvents: make(chan events.Event, 100),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.subscribe(),
		receiveNextEvent(m.hubEvents),
		m.fetchStatus(),
		m.fetchRules(),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.cancel()
			return m, tea.Quit
		case "s":
			return m, m.control("start")
		case "x":
			return m, m.control("stop")
		case "R":
			return m, m.control("restart")
		case "r":
			return m, tea.Batch(m.fetchStatus(), m.fetchRules())
		}
		var cmd tea.Cmd
		m.rules, cmd = m.rules.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case pollMsg:
		return m, tea.Batch(m.fetchStatus(), m.fetchRules())

	case statusMsg:
		st := api.StatusResponse(msg)
		m.status = &st
		m.lastPoll = time.Now()
		m.lastError = ""
		return m, tea.Tick(pollInterval, func(time.Time) tea.Msg { return pollMsg{} })

	case rulesMsg:
		if msg.changed {
			m.rules.SetRows(ruleRows(msg.list))
			m.ruleCount = msg.list.Count
		}
		return m, nil

	case controlMsg:
		m.notice = fmt.Sprintf("%s: %s", msg.Action, msg.Message)
		return m, m.fetchStatus()

	case eventMsg:
		e := events.Event(msg)
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEvents {
			m.eventLog = m.eventLog[:maxEvents]
		}
		// Follow the stream's ids even when they go backwards after a
		// panel restart.
		m.lastID = e.ID
		m.connected = true
		return m, receiveNextEvent(m.hubEvents)

	case sseDisconnectedMsg:
		m.connected = false
		if m.ctx.Err() != nil {
			return m, nil
		}
		if msg.err != nil {
			m.lastError = "event stream: " + msg.err.Error()
		}
		return m, tea.Tick(reconnectInterval, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, m.subscribe()

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(pollInterval, func(time.Time) tea.Msg { return pollMsg{} })
	}

	return m, nil
}

// --- Commands ---

func (m Model) fetchStatus() tea.Cmd {
	return func() tea.Msg {
		st, err := m.client.Status(m.ctx)
		if err != nil {
			return errMsg{err}
		}
		return statusMsg(st)
	}
}

func (m Model) fetchRules() tea.Cmd {
	return func() tea.Msg {
		list, changed, err := m.client.Rules(m.ctx)
		if err != nil {
			return errMsg{err}
		}
		return rulesMsg{list: list, changed: changed}
	}
}

func (m Model) control(action string) tea.Cmd {
	return func() tea.Msg {
		res, err := m.client.Control(m.ctx, action)
		if err != nil {
			return errMsg{err}
		}
		return controlMsg(res)
	}
}

// subscribe streams events into hubEvents until the connection drops.
func (m Model) subscribe() tea.Cmd {
	lastID := m.lastID
	return func() tea.Msg {
		err := m.client.Stream(m.ctx, lastID, func(e events.Event) {
			select {
			case m.hubEvents <- e:
			case <-m.ctx.Done():
			}
		})
		return sseDisconnectedMsg{err: err}
	}
}

func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

func ruleRows(list api.RuleListResponse) []table.Row {
	rows := make([]table.Row, 0, len(list.Rules))
	for _, r := range list.Rules {
		on := "no"
		if r.Enabled {
			on = "yes"
		}
		scope := "any"
		if r.AllowedChannels != "" || r.AllowedUsers != "" {
			scope = "c:" + r.AllowedChannels + " u:" + r.AllowedUsers
		}
		rows = append(rows, table.Row{strconv.FormatInt(r.ID, 10), on, r.Trigger, r.Response, scope})
	}
	return rows
}
