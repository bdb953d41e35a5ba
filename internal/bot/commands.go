package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/botpanel/internal/log"
)

// DefaultPrefix marks a message as a command.
const DefaultPrefix = "!"

// CommandFunc answers a command. An empty reply sends nothing.
type CommandFunc func(ctx context.Context, m Message, args []string) (string, error)

// CommandRouter runs prefix commands such as "!uptime". Unknown commands are
// ignored.
type CommandRouter struct {
	prefix string
	logger *slog.Logger

	mu       sync.RWMutex
	commands map[string]CommandFunc
}

func NewCommandRouter(prefix string) *CommandRouter {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultPrefix
	}
	return &CommandRouter{
		prefix:   prefix,
		logger:   log.WithComponent("commands"),
		commands: make(map[string]CommandFunc),
	}
}

// Register adds or replaces a command. Names are matched case-sensitively.
func (c *CommandRouter) Register(name string, fn CommandFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands[name] = fn
}

// Commands returns the registered command names, sorted.
func (c *CommandRouter) Commands() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *CommandRouter) HandleMessage(ctx context.Context, m Message) {
	if m.IsSelf() || m.AuthorIsBot() {
		return
	}
	content := strings.TrimSpace(m.Content())
	if !strings.HasPrefix(content, c.prefix) {
		return
	}
	fields := strings.Fields(strings.TrimPrefix(content, c.prefix))
	if len(fields) == 0 {
		return
	}

	c.mu.RLock()
	fn, ok := c.commands[fields[0]]
	c.mu.RUnlock()
	if !ok {
		return
	}

	logger := c.logger.With("command", fields[0], "channel_id", m.ChannelID())
	reply, err := fn(ctx, m, fields[1:])
	if err != nil {
		logger.Error("command failed", "error", err)
		return
	}
	if reply == "" {
		return
	}
	if err := m.Send(ctx, reply); err != nil {
		logger.Error("command reply failed", "error", err)
	}
}

// RulesCommand lists the triggers the caller can use in the current channel.
func RulesCommand(p RuleProvider) CommandFunc {
	return func(ctx context.Context, m Message, _ []string) (string, error) {
		var triggers []string
		for _, r := range p.Get(ctx).Rules {
			if r.Allows(m.ChannelID(), m.AuthorID()) {
				triggers = append(triggers, r.Trigger)
			}
		}
		if len(triggers) == 0 {
			return "No commands are available here.", nil
		}
		return "Available commands: " + strings.Join(triggers, ", "), nil
	}
}

// UptimeCommand reports how long the worker has been running.
func UptimeCommand(started time.Time, now func() time.Time) CommandFunc {
	if now == nil {
		now = time.Now
	}
	return func(context.Context, Message, []string) (string, error) {
		up := now().Sub(started).Truncate(time.Second)
		return fmt.Sprintf("Up for %s.", up), nil
	}
}
