package bot

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mattjoyce/botpanel/internal/log"
	"github.com/mattjoyce/botpanel/internal/rules"
)

// RuleProvider returns the current active rule set.
type RuleProvider interface {
	Get(ctx context.Context) rules.Set
}

// Dispatcher answers messages whose content exactly equals a rule trigger.
type Dispatcher struct {
	rules  RuleProvider
	next   Handler
	logger *slog.Logger
}

// NewDispatcher returns a Dispatcher that consults p for rules and then hands
// every message to next, matched or not. next may be nil.
func NewDispatcher(p RuleProvider, next Handler, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = log.WithComponent("dispatcher")
	}
	return &Dispatcher{rules: p, next: next, logger: logger}
}

func (d *Dispatcher) HandleMessage(ctx context.Context, m Message) {
	if m.IsSelf() || m.AuthorIsBot() {
		return
	}
	if strings.TrimSpace(m.Content()) == "" {
		return
	}

	if r, ok := d.Match(d.rules.Get(ctx), m); ok {
		logger := d.logger.With(
			slog.Int64("rule_id", r.ID),
			slog.String("channel_id", m.ChannelID()),
			slog.String("user_id", m.AuthorID()),
		)
		if err := m.Send(ctx, r.Response); err != nil {
			logger.Error("rule reply failed", "error", err)
		} else {
			logger.Debug("rule fired", "trigger", r.Trigger)
		}
	}

	if d.next != nil {
		d.next.HandleMessage(ctx, m)
	}
}

// Match returns the first rule, in stored order, whose trigger equals the
// trimmed content and whose allow-lists admit the message. A rule whose
// trigger matches but whose scope does not is skipped and the scan goes on.
func (d *Dispatcher) Match(set rules.Set, m Message) (rules.Rule, bool) {
	content := strings.TrimSpace(m.Content())
	if content == "" {
		return rules.Rule{}, false
	}
	for _, r := range set.Rules {
		if r.Trigger != content {
			continue
		}
		if !r.Allows(m.ChannelID(), m.AuthorID()) {
			continue
		}
		return r, true
	}
	return rules.Rule{}, false
}
