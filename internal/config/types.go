package config

import "time"

// Environment variables the supervisor hands to the worker it spawns. They
// take precedence over the paths in the config file.
const (
	EnvConfigDir  = "BOTPANEL_CONFIG_DIR"
	EnvDBPath     = "BOTPANEL_DB_PATH"
	EnvPIDFile    = "BOTPANEL_PID_FILE"
	EnvReloadFlag = "BOTPANEL_RELOAD_FLAG"
	EnvLaunchID   = "BOTPANEL_LAUNCH_ID"
)

// Config represents the complete botpanel configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	State   StateConfig   `yaml:"state"`
	Panel   PanelConfig   `yaml:"panel"`
	Bot     BotConfig     `yaml:"bot"`

	// SourcePath is the file the config was loaded from, empty for defaults.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// StateConfig defines where the settings and rule tables live.
type StateConfig struct {
	Path string `yaml:"path"`
}

// PanelConfig defines the control panel HTTP server.
type PanelConfig struct {
	Listen   string        `yaml:"listen"`
	LockPath string        `yaml:"lock_path"`
	Auth     APIAuthConfig `yaml:"auth"`
	// ControlRate limits start/stop/restart requests per second.
	ControlRate  float64 `yaml:"control_rate"`
	ControlBurst int     `yaml:"control_burst"`
}

// APIAuthConfig defines panel authentication settings.
type APIAuthConfig struct {
	// APIKey is the admin bearer token (all scopes).
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// BotConfig defines the worker process and how the supervisor drives it.
type BotConfig struct {
	// Binary is the executable started by the supervisor. Empty means the
	// running botpanel executable.
	Binary        string `yaml:"binary"`
	PIDFile       string `yaml:"pid_file"`
	ReloadFlag    string `yaml:"reload_flag"`
	CommandPrefix string `yaml:"command_prefix"`

	CacheTTL    time.Duration `yaml:"cache_ttl"`
	StartGrace  time.Duration `yaml:"start_grace"`
	StopTimeout time.Duration `yaml:"stop_timeout"`
	StopPoll    time.Duration `yaml:"stop_poll"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "botpanel",
			LogLevel:  "info",
			LogFormat: "json",
		},
		State: StateConfig{
			Path: "./data/panel.db",
		},
		Panel: PanelConfig{
			Listen:       "127.0.0.1:5000",
			LockPath:     "./data/panel.lock",
			ControlRate:  1,
			ControlBurst: 3,
		},
		Bot: BotConfig{
			PIDFile:       "./data/bot.pid",
			ReloadFlag:    "./data/reload.flag",
			CommandPrefix: "!",
			CacheTTL:      30 * time.Second,
			StartGrace:    1 * time.Second,
			StopTimeout:   4 * time.Second,
			StopPoll:      200 * time.Millisecond,
		},
	}
}
