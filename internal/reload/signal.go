// Package reload implements the "configuration changed" marker shared by the
// panel and the bot. The marker is a zero-length file; only its presence is
// meaningful.
package reload

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Signal is a reload marker at a fixed path.
type Signal struct {
	path string
}

func New(path string) *Signal {
	return &Signal{path: path}
}

func (s *Signal) Path() string { return s.path }

// Set creates the marker. Setting an already-set signal is a no-op.
func (s *Signal) Set() error {
	if s.path == "" {
		return fmt.Errorf("reload flag path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create reload flag directory: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("touch reload flag: %w", err)
	}
	return f.Close()
}

// IsSet reports whether the marker exists. Any stat error other than
// "not exist" is treated as set so the reader reloads rather than serving
// stale rules.
func (s *Signal) IsSet() bool {
	if s.path == "" {
		return false
	}
	_, err := os.Stat(s.path)
	if err == nil {
		return true
	}
	return !errors.Is(err, fs.ErrNotExist)
}

// Clear removes the marker. Clearing an absent marker is not an error, so
// two racing readers may both clear it.
func (s *Signal) Clear() error {
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear reload flag: %w", err)
	}
	return nil
}
