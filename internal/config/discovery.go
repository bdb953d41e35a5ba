package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DiscoverConfigDir finds the config by checking standard locations.
// Priority order: $BOTPANEL_CONFIG_DIR, ~/.config/botpanel, /etc/botpanel, ./config.yaml
func DiscoverConfigDir() (string, error) {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		if hasConfig(dir) {
			return dir, nil
		}
	}

	if userConfigDir, err := DefaultConfigDir(); err == nil {
		if hasConfig(userConfigDir) {
			return userConfigDir, nil
		}
	}

	systemConfigDir := "/etc/botpanel"
	if hasConfig(systemConfigDir) {
		return systemConfigDir, nil
	}

	if fileExists("./config.yaml") {
		return "./config.yaml", nil
	}

	return "", fmt.Errorf("no config found (checked: $%s, ~/.config/botpanel, /etc/botpanel, ./config.yaml)", EnvConfigDir)
}

// DefaultConfigDir is ~/.config/botpanel. Without a config file the default
// data paths live under it.
func DefaultConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "botpanel"), nil
}

func hasConfig(dir string) bool {
	return dirExists(dir) && fileExists(filepath.Join(dir, "config.yaml"))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
