package bot

import (
	"context"
	"sync"

	"github.com/mattjoyce/botpanel/internal/rules"
)

type fakeMessage struct {
	author  string
	bot     bool
	self    bool
	channel string
	content string
	sendErr error

	mu   sync.Mutex
	sent []string
}

func (m *fakeMessage) AuthorID() string  { return m.author }
func (m *fakeMessage) AuthorIsBot() bool { return m.bot }
func (m *fakeMessage) IsSelf() bool      { return m.self }
func (m *fakeMessage) ChannelID() string { return m.channel }
func (m *fakeMessage) Content() string   { return m.content }

func (m *fakeMessage) Send(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, text)
	return m.sendErr
}

func (m *fakeMessage) replies() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

type staticRules struct {
	set   rules.Set
	calls int
}

func (s *staticRules) Get(context.Context) rules.Set {
	s.calls++
	return s.set
}

type recordingHandler struct {
	seen []Message
}

func (h *recordingHandler) HandleMessage(_ context.Context, m Message) {
	h.seen = append(h.seen, m)
}

func rule(id int64, trigger, response string, channels, users string) rules.Rule {
	return rules.Rule{
		ID:              id,
		Trigger:         trigger,
		Response:        response,
		AllowedChannels: rules.ParseIDList(channels),
		AllowedUsers:    rules.ParseIDList(users),
	}
}
