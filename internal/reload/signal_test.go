package reload

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSignalLifecycle(t *testing.T) {
	t.Parallel()

	s := New(filepath.Join(t.TempDir(), "nested", "reload.flag"))
	if s.IsSet() {
		t.Fatal("new signal should not be set")
	}

	if err := s.Set(); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !s.IsSet() {
		t.Fatal("expected signal to be set")
	}

	info, err := os.Stat(s.Path())
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("expected zero-length marker, got %d bytes", info.Size())
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if s.IsSet() {
		t.Fatal("expected signal to be cleared")
	}
}

func TestSetIsIdempotent(t *testing.T) {
	t.Parallel()

	s := New(filepath.Join(t.TempDir(), "reload.flag"))
	for i := 0; i < 3; i++ {
		if err := s.Set(); err != nil {
			t.Fatalf("Set #%d: %v", i, err)
		}
	}
	if !s.IsSet() {
		t.Fatal("expected signal to be set")
	}
}

func TestClearIsIdempotent(t *testing.T) {
	t.Parallel()

	s := New(filepath.Join(t.TempDir(), "reload.flag"))
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear on absent flag: %v", err)
	}
	if err := s.Set(); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear (1): %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear (2): %v", err)
	}
}

func TestEmptyPath(t *testing.T) {
	t.Parallel()

	s := New("")
	if s.IsSet() {
		t.Fatal("empty path should never be set")
	}
	if err := s.Set(); err == nil {
		t.Fatal("expected Set to fail for empty path")
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
}
