package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

var (
	// ErrNoPIDFile means no process has recorded itself at the path.
	ErrNoPIDFile = errors.New("pid file not found")
	// ErrInvalidPID means the pid file exists but does not hold a usable pid.
	ErrInvalidPID = errors.New("pid file is corrupt")
)

// PIDLock is a single-instance lock implemented via a PID file + flock(2).
// Keep the lock alive by keeping the file descriptor open.
//
// The panel holds one for itself; the bot takes one once it has connected,
// and that file doubles as the handle the supervisor reads.
type PIDLock struct {
	path string
	f    *os.File
}

// AcquirePIDLock acquires an exclusive non-blocking lock at lockPath, writes the
// current PID into the file, and returns a handle that must be released.
func AcquirePIDLock(lockPath string) (*PIDLock, error) {
	if lockPath == "" {
		return nil, fmt.Errorf("lock path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := flockExclusive(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	fail := func(step string, err error) (*PIDLock, error) {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", step, err)
	}
	if err := f.Truncate(0); err != nil {
		return fail("truncate lock file", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fail("seek lock file", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fail("write pid", err)
	}
	if err := f.Sync(); err != nil {
		return fail("sync lock file", err)
	}

	return &PIDLock{path: lockPath, f: f}, nil
}

func (l *PIDLock) Path() string { return l.path }

// Release drops the lock and leaves the file in place.
func (l *PIDLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}

// Remove unlinks the file while still holding the lock, then releases it.
// Readers see "not running" from this point on.
func (l *PIDLock) Remove() error {
	if l == nil || l.f == nil {
		return nil
	}
	rmErr := os.Remove(l.path)
	if errors.Is(rmErr, fs.ErrNotExist) {
		rmErr = nil
	}
	if err := l.Release(); err != nil {
		return err
	}
	if rmErr != nil {
		return fmt.Errorf("remove lock file: %w", rmErr)
	}
	return nil
}

// Held reports whether a process currently holds the lock at path. A PID
// file that exists but is unlocked was left behind by a worker that is gone,
// even if its pid has since been reused.
func Held(path string) (bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, ErrNoPIDFile
	}
	if err != nil {
		return false, fmt.Errorf("open lock file: %w", err)
	}
	defer f.Close()

	err = syscall.Flock(int(f.Fd()), syscall.LOCK_SH|syscall.LOCK_NB)
	if errors.Is(err, syscall.EWOULDBLOCK) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("probe lock: %w", err)
	}
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	return false, nil
}

// probeRetries covers the moment a Held probe has the file share-locked.
const (
	probeRetries = 5
	probeBackoff = 10 * time.Millisecond
)

func flockExclusive(f *os.File) error {
	var err error
	for i := 0; i < probeRetries; i++ {
		err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if !errors.Is(err, syscall.EWOULDBLOCK) {
			return err
		}
		time.Sleep(probeBackoff)
	}
	return err
}

// ReadPID returns the pid recorded at path. It never modifies the file.
func ReadPID(path string) (int, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, ErrNoPIDFile
	}
	if err != nil {
		return 0, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPID, strings.TrimSpace(string(b)))
	}
	return pid, nil
}
