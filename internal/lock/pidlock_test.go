package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquirePIDLockWritesPID(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "bot.pid")
	l, err := AcquirePIDLock(lockPath)
	if err != nil {
		t.Fatalf("AcquirePIDLock: %v", err)
	}
	t.Cleanup(func() { _ = l.Release() })

	pid, err := ReadPID(lockPath)
	if err != nil {
		t.Fatalf("ReadPID: %v", err)
	}
	if pid != os.Getpid() {
		t.Fatalf("expected pid %d, got %d", os.Getpid(), pid)
	}
}

func TestAcquirePIDLockIsExclusive(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "panel.lock")
	l, err := AcquirePIDLock(lockPath)
	if err != nil {
		t.Fatalf("AcquirePIDLock: %v", err)
	}
	t.Cleanup(func() { _ = l.Release() })

	// flock locks are per open file description, so a second open in the
	// same process conflicts too.
	if _, err := AcquirePIDLock(lockPath); err == nil {
		t.Fatal("expected second acquire to fail")
	}
}

func TestRemoveDeletesFile(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "bot.pid")
	l, err := AcquirePIDLock(lockPath)
	if err != nil {
		t.Fatalf("AcquirePIDLock: %v", err)
	}
	if err := l.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(lockPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected pid file to be gone, stat err=%v", err)
	}
	if _, err := ReadPID(lockPath); !errors.Is(err, ErrNoPIDFile) {
		t.Fatalf("expected ErrNoPIDFile, got %v", err)
	}
	// Second call is a no-op.
	if err := l.Remove(); err != nil {
		t.Fatalf("Remove (2): %v", err)
	}
}

func TestReleaseKeepsFile(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "panel.lock")
	l, err := AcquirePIDLock(lockPath)
	if err != nil {
		t.Fatalf("AcquirePIDLock: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(lockPath); err != nil {
		t.Fatalf("expected lock file to remain: %v", err)
	}
	l2, err := AcquirePIDLock(lockPath)
	if err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
	_ = l2.Release()
}

func TestReadPIDCorrupt(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"garbage":  "not-a-pid",
		"empty":    "",
		"zero":     "0",
		"negative": "-12",
	}
	for name, content := range cases {
		content := content
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "bot.pid")
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}
			if _, err := ReadPID(path); !errors.Is(err, ErrInvalidPID) {
				t.Fatalf("expected ErrInvalidPID, got %v", err)
			}
		})
	}
}

func TestReadPIDToleratesWhitespace(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bot.pid")
	if err := os.WriteFile(path, []byte(" 4242\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	pid, err := ReadPID(path)
	if err != nil {
		t.Fatalf("ReadPID: %v", err)
	}
	if pid != 4242 {
		t.Fatalf("expected 4242, got %d", pid)
	}
}

func TestHeldTracksLockHolder(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "bot.pid")
	if _, err := Held(lockPath); !errors.Is(err, ErrNoPIDFile) {
		t.Fatalf("missing file: expected ErrNoPIDFile, got %v", err)
	}

	l, err := AcquirePIDLock(lockPath)
	if err != nil {
		t.Fatalf("AcquirePIDLock: %v", err)
	}
	held, err := Held(lockPath)
	if err != nil || !held {
		t.Fatalf("while locked: held=%v err=%v", held, err)
	}

	// Release keeps the file, as a killed worker would.
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	held, err = Held(lockPath)
	if err != nil || held {
		t.Fatalf("after release: held=%v err=%v", held, err)
	}
}

func TestHeldDoesNotBlockAcquire(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "bot.pid")
	if err := os.WriteFile(lockPath, []byte("12345\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if held, err := Held(lockPath); err != nil || held {
		t.Fatalf("stale file: held=%v err=%v", held, err)
	}

	l, err := AcquirePIDLock(lockPath)
	if err != nil {
		t.Fatalf("AcquirePIDLock after probe: %v", err)
	}
	t.Cleanup(func() { _ = l.Release() })
}
