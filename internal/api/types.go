package api

import (
	"github.com/mattjoyce/botpanel/internal/state"
	"github.com/mattjoyce/botpanel/internal/supervisor"
)

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	BotRunning    bool   `json:"bot_running"`
	Rules         int    `json:"rules"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Bot         supervisor.Status `json:"bot"`
	TokenSet    bool              `json:"token_set"`
	Rules       int               `json:"rules"`
	ActiveRules int               `json:"active_rules"`
}

// ControlResponse is returned by POST /control/{action}.
type ControlResponse struct {
	Action  string `json:"action"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Running bool   `json:"running"`
}

// SettingsResponse never carries the token itself.
type SettingsResponse struct {
	TokenSet  bool   `json:"token_set"`
	TokenHint string `json:"token_hint,omitempty"`
	// RestartRequired is set after a token change while the bot is running.
	RestartRequired bool `json:"restart_required,omitempty"`
}

// SetTokenRequest is the body for PUT /settings/token.
type SetTokenRequest struct {
	Token string `json:"token"`
}

// RuleRequest is the body for POST /rules and PUT /rules/{id}. Enabled
// defaults to true when omitted.
type RuleRequest struct {
	Trigger         string `json:"trigger"`
	Response        string `json:"response"`
	AllowedChannels string `json:"allowed_channels"`
	AllowedUsers    string `json:"allowed_users"`
	Enabled         *bool  `json:"enabled,omitempty"`
}

// RuleListResponse is returned by GET /rules, newest first.
type RuleListResponse struct {
	Rules []state.RuleRecord `json:"rules"`
	Count int                `json:"count"`
}

// RuleMutationResponse is returned by rule create and update.
type RuleMutationResponse struct {
	Rule state.RuleRecord `json:"rule"`
	// ReloadSignalled is false when the worker could not be notified; it
	// will still pick the change up within its cache TTL.
	ReloadSignalled bool `json:"reload_signalled"`
}
