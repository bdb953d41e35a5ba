package rules

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/botpanel/internal/log"
	"github.com/mattjoyce/botpanel/internal/state"
)

// DefaultTTL bounds how stale the active set may get without a reload signal.
const DefaultTTL = 30 * time.Second

// Source lists every stored rule in match order.
type Source interface {
	ListRules(ctx context.Context) ([]state.RuleRecord, error)
}

// Signal is the cross-process "rules changed" marker.
type Signal interface {
	IsSet() bool
	Clear() error
}

// Stats describes cache activity.
type Stats struct {
	Reloads      int
	Failures     int
	SignalClears int
	LoadedAt     time.Time
	Rules        int
	Digest       string
}

// Cache holds the active rule set and reloads it on access when it is older
// than the TTL or the reload signal is set. There is no background timer.
type Cache struct {
	src    Source
	sig    Signal
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu     sync.Mutex
	set    Set
	loaded bool
	stats  Stats
}

type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCache returns a stale cache; the first Get loads from src.
func NewCache(src Source, sig Signal, opts ...Option) *Cache {
	c := &Cache{
		src:    src,
		sig:    sig,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: log.WithComponent("rules"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NeedsReload reports whether the next Get will hit the source.
func (c *Cache) NeedsReload() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.needsReloadLocked()
}

func (c *Cache) needsReloadLocked() bool {
	if !c.loaded {
		return true
	}
	if c.now().Sub(c.set.LoadedAt) > c.ttl {
		return true
	}
	return c.signalSet()
}

func (c *Cache) signalSet() bool {
	return c.sig != nil && c.sig.IsSet()
}

// Get returns the active set, reloading first when needed. A failed reload
// leaves the previous set in place and is retried on the next call.
func (c *Cache) Get(ctx context.Context) Set {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.needsReloadLocked() {
		return c.set
	}

	signalled := c.signalSet()
	records, err := c.src.ListRules(ctx)
	if err != nil {
		c.stats.Failures++
		c.logger.Warn("rule reload failed; keeping previous rules",
			"error", err,
			"rules", c.set.Len(),
			"loaded_at", c.set.LoadedAt,
		)
		return c.set
	}

	prev := c.set.Digest
	c.set = Build(records, c.now())
	c.loaded = true
	c.stats.Reloads++

	if signalled {
		if err := c.sig.Clear(); err != nil {
			c.logger.Debug("reload flag clear failed", "error", err)
		} else {
			c.stats.SignalClears++
		}
	}

	c.logger.Debug("rules reloaded",
		"rules", c.set.Len(),
		"changed", prev != c.set.Digest,
		"signalled", signalled,
	)
	return c.set
}

// Stats returns a snapshot of cache activity.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.LoadedAt = c.set.LoadedAt
	s.Rules = c.set.Len()
	s.Digest = c.set.Digest
	return s
}
