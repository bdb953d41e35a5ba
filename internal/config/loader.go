package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file or a directory holding
// config.yaml. Missing fields take their defaults and the worker environment
// overrides are applied last.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = absPath

	cfg = applyConfigDefaults(cfg)
	ResolvePaths(cfg, filepath.Dir(absPath))
	ApplyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configPath when given, otherwise tries discovery and
// finally falls back to built-in defaults.
func LoadOrDefault(configPath string) (*Config, error) {
	if configPath == "" {
		discovered, err := DiscoverConfigDir()
		if err != nil {
			cfg := Defaults()
			if dir, err := DefaultConfigDir(); err == nil {
				ResolvePaths(cfg, dir)
			}
			ApplyEnv(cfg)
			return cfg, nil
		}
		configPath = discovered
	}
	return Load(configPath)
}

// ResolvePaths anchors relative state, lock, PID and reload-flag paths at
// baseDir. The panel, the worker it spawns and one-off CLI commands may run
// from different working directories and must still agree on these files.
func ResolvePaths(cfg *Config, baseDir string) {
	for _, p := range []*string{
		&cfg.State.Path,
		&cfg.Panel.LockPath,
		&cfg.Bot.PIDFile,
		&cfg.Bot.ReloadFlag,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(baseDir, *p)
		}
	}
}

// ApplyEnv overrides shared file locations from the environment. The
// supervisor uses these to point the worker at its own files.
func ApplyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvDBPath)); v != "" {
		cfg.State.Path = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPIDFile)); v != "" {
		cfg.Bot.PIDFile = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvReloadFlag)); v != "" {
		cfg.Bot.ReloadFlag = v
	}
}

// loadConfigFile loads and parses a single config file.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}

	if cfg.Panel.Listen == "" {
		cfg.Panel.Listen = defaults.Panel.Listen
	}
	if cfg.Panel.LockPath == "" {
		cfg.Panel.LockPath = defaults.Panel.LockPath
	}
	if cfg.Panel.ControlRate == 0 {
		cfg.Panel.ControlRate = defaults.Panel.ControlRate
	}
	if cfg.Panel.ControlBurst == 0 {
		cfg.Panel.ControlBurst = defaults.Panel.ControlBurst
	}

	if cfg.Bot.PIDFile == "" {
		cfg.Bot.PIDFile = defaults.Bot.PIDFile
	}
	if cfg.Bot.ReloadFlag == "" {
		cfg.Bot.ReloadFlag = defaults.Bot.ReloadFlag
	}
	if cfg.Bot.CommandPrefix == "" {
		cfg.Bot.CommandPrefix = defaults.Bot.CommandPrefix
	}
	if cfg.Bot.CacheTTL == 0 {
		cfg.Bot.CacheTTL = defaults.Bot.CacheTTL
	}
	if cfg.Bot.StartGrace == 0 {
		cfg.Bot.StartGrace = defaults.Bot.StartGrace
	}
	if cfg.Bot.StopTimeout == 0 {
		cfg.Bot.StopTimeout = defaults.Bot.StopTimeout
	}
	if cfg.Bot.StopPoll == 0 {
		cfg.Bot.StopPoll = defaults.Bot.StopPoll
	}

	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Unset variables are left in place so validation can report them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	switch strings.ToLower(cfg.Service.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if cfg.Bot.PIDFile == "" {
		return fmt.Errorf("bot.pid_file is required")
	}
	if cfg.Bot.ReloadFlag == "" {
		return fmt.Errorf("bot.reload_flag is required")
	}
	if filepath.Clean(cfg.Bot.PIDFile) == filepath.Clean(cfg.Bot.ReloadFlag) {
		return fmt.Errorf("bot.pid_file and bot.reload_flag must be different files")
	}

	if cfg.Bot.CacheTTL < 0 {
		return fmt.Errorf("bot.cache_ttl must be positive")
	}
	if cfg.Bot.StartGrace < 0 || cfg.Bot.StopTimeout < 0 || cfg.Bot.StopPoll < 0 {
		return fmt.Errorf("bot supervisor timings must be positive")
	}
	if cfg.Bot.StopPoll > cfg.Bot.StopTimeout {
		return fmt.Errorf("bot.stop_poll (%s) must not exceed bot.stop_timeout (%s)", cfg.Bot.StopPoll, cfg.Bot.StopTimeout)
	}
	if cfg.Panel.ControlRate < 0 || cfg.Panel.ControlBurst < 0 {
		return fmt.Errorf("panel.control_rate and panel.control_burst must not be negative")
	}

	if err := checkUnresolved("panel.auth.api_key", cfg.Panel.Auth.APIKey); err != nil {
		return err
	}
	for i, tok := range cfg.Panel.Auth.Tokens {
		field := fmt.Sprintf("panel.auth.tokens[%d].token", i)
		if tok.Token == "" {
			return fmt.Errorf("%s is required", field)
		}
		if err := checkUnresolved(field, tok.Token); err != nil {
			return err
		}
		if len(tok.Scopes) == 0 {
			return fmt.Errorf("panel.auth.tokens[%d].scopes must not be empty", i)
		}
	}
	return nil
}

func checkUnresolved(field, value string) error {
	matches := envVarPattern.FindStringSubmatch(value)
	if len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}
