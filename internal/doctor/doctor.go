// Package doctor validates botpanel configuration beyond what loading
// requires, and reports problems an operator would otherwise hit at runtime.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/botpanel/internal/auth"
	"github.com/mattjoyce/botpanel/internal/config"
	"github.com/mattjoyce/botpanel/internal/storage"
)

// minCacheTTL is the shortest TTL that does not turn every message into a
// database read.
const minCacheTTL = 5 * time.Second

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg *config.Config

	lookPath   func(string) (string, error)
	executable func() (string, error)
	checkFS    func(path, what string) error
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{
		cfg:        cfg,
		lookPath:   exec.LookPath,
		executable: os.Executable,
		checkFS:    storage.CheckLocalFilesystem,
	}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateState(r)
	d.validatePanel(r)
	d.validateAuth(r)
	d.validateBot(r)
	d.validateTimings(r)
	d.validateSharedPaths(r)
	d.warnDeprecatedSyntax(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateState checks the database location.
func (d *Doctor) validateState(r *Result) {
	if d.cfg.State.Path == "" {
		d.addError(r, "state", "state.path", "state.path is required")
		return
	}
	if err := d.checkFS(d.cfg.State.Path, "database"); err != nil && !errors.Is(err, storage.ErrDetectUnsupported) {
		d.addWarning(r, "state", "state.path", err.Error())
	}
}

// validatePanel checks the HTTP listener.
func (d *Doctor) validatePanel(r *Result) {
	listen := d.cfg.Panel.Listen
	if listen == "" {
		d.addError(r, "panel", "panel.listen", "panel.listen is required")
		return
	}
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		d.addError(r, "panel", "panel.listen", fmt.Sprintf("invalid listen address %q: %v", listen, err))
		return
	}
	if port == "" {
		d.addError(r, "panel", "panel.listen", "panel.listen must include a port")
	}
	if !isLoopback(host) && !d.authConfigured() {
		d.addError(r, "panel", "panel.listen",
			fmt.Sprintf("panel listens on %q without authentication", listen))
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (d *Doctor) authConfigured() bool {
	return d.cfg.Panel.Auth.APIKey != "" || len(d.cfg.Panel.Auth.Tokens) > 0
}

// validateAuth checks bearer tokens and their scopes.
func (d *Doctor) validateAuth(r *Result) {
	if !d.authConfigured() {
		d.addWarning(r, "auth", "panel.auth", "no authentication configured; every protected endpoint will return 401")
		return
	}

	seen := make(map[string]int)
	for i, tok := range d.cfg.Panel.Auth.Tokens {
		field := fmt.Sprintf("panel.auth.tokens[%d]", i)
		if prev, dup := seen[tok.Token]; dup && tok.Token != "" {
			d.addError(r, "auth", field+".token", fmt.Sprintf("token duplicates panel.auth.tokens[%d]", prev))
		}
		seen[tok.Token] = i
		if tok.Token != "" && tok.Token == d.cfg.Panel.Auth.APIKey {
			d.addError(r, "auth", field+".token", "token duplicates panel.auth.api_key")
		}
		for j, scope := range tok.Scopes {
			if !auth.Known(strings.TrimSpace(scope)) {
				d.addError(r, "auth", fmt.Sprintf("%s.scopes[%d]", field, j),
					fmt.Sprintf("unknown scope %q", scope))
			}
		}
	}
}

// validateBot checks the worker binary and command prefix.
func (d *Doctor) validateBot(r *Result) {
	bin := d.cfg.Bot.Binary
	if bin == "" {
		if _, err := d.executable(); err != nil {
			d.addError(r, "bot", "bot.binary", fmt.Sprintf("cannot resolve own executable: %v", err))
		}
	} else if _, err := d.lookPath(bin); err != nil {
		d.addError(r, "bot", "bot.binary", fmt.Sprintf("bot binary %q not found: %v", bin, err))
	}

	prefix := d.cfg.Bot.CommandPrefix
	if prefix != "" && strings.TrimSpace(prefix) != prefix {
		d.addError(r, "bot", "bot.command_prefix", "command_prefix must not contain surrounding whitespace")
	}
}

// validateTimings checks cache and supervisor durations.
func (d *Doctor) validateTimings(r *Result) {
	b := d.cfg.Bot
	if b.CacheTTL <= 0 {
		d.addError(r, "timings", "bot.cache_ttl", "cache_ttl must be positive")
	} else if b.CacheTTL < minCacheTTL {
		d.addWarning(r, "timings", "bot.cache_ttl",
			fmt.Sprintf("cache_ttl %s is very short; every message may hit the database", b.CacheTTL))
	}
	for field, v := range map[string]time.Duration{
		"bot.start_grace":  b.StartGrace,
		"bot.stop_timeout": b.StopTimeout,
		"bot.stop_poll":    b.StopPoll,
	} {
		if v <= 0 {
			d.addError(r, "timings", field, "must be positive")
		}
	}
	if b.StopTimeout > 0 && b.StopPoll > 0 && b.StopTimeout <= b.StopPoll {
		d.addError(r, "timings", "bot.stop_timeout",
			fmt.Sprintf("stop_timeout (%s) must exceed stop_poll (%s)", b.StopTimeout, b.StopPoll))
	}
}

// validateSharedPaths checks that the files the panel and worker share do
// not collide.
func (d *Doctor) validateSharedPaths(r *Result) {
	paths := []struct{ field, path string }{
		{"state.path", d.cfg.State.Path},
		{"bot.pid_file", d.cfg.Bot.PIDFile},
		{"bot.reload_flag", d.cfg.Bot.ReloadFlag},
		{"panel.lock_path", d.cfg.Panel.LockPath},
	}
	owner := make(map[string]string)
	for _, p := range paths {
		if p.path == "" {
			continue
		}
		if !filepath.IsAbs(p.path) {
			d.addWarning(r, "paths", p.field,
				fmt.Sprintf("%s is relative to the working directory; the panel and CLI commands run elsewhere will not share it", p.path))
		}
		clean := filepath.Clean(p.path)
		if other, ok := owner[clean]; ok {
			d.addError(r, "paths", p.field, fmt.Sprintf("same file as %s (%s)", other, p.path))
			continue
		}
		owner[clean] = p.field
	}
}

// warnDeprecatedSyntax warns about legacy config patterns.
func (d *Doctor) warnDeprecatedSyntax(r *Result) {
	a := d.cfg.Panel.Auth
	if a.APIKey != "" && len(a.Tokens) > 0 {
		d.addWarning(r, "deprecated", "panel.auth",
			"both api_key and tokens configured; prefer tokens array only")
	}
	if a.APIKey != "" && len(a.Tokens) == 0 {
		d.addWarning(r, "deprecated", "panel.auth.api_key",
			"legacy api_key grants full access; migrate to tokens array with scopes")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
