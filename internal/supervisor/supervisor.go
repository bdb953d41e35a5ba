// Package supervisor starts, stops and inspects the bot worker process. The
// worker records itself in a locked PID file; that file, its lock and an OS
// liveness check are the only state shared between the panel and the worker.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/mattjoyce/botpanel/internal/lock"
	"github.com/mattjoyce/botpanel/internal/log"
)

// Result messages shown to operators.
const (
	MsgAlreadyRunning = "already running"
	MsgStarted        = "started"
	MsgStartFailed    = "failed to start bot; check the bot token and worker logs"
	MsgNotRunning     = "not running"
	MsgStopped        = "stopped"
	MsgStopTimeout    = "bot did not stop in time; try again"
)

// Default timings.
const (
	DefaultStartGrace  = 1 * time.Second
	DefaultStopTimeout = 4 * time.Second
	DefaultStopPoll    = 200 * time.Millisecond
)

// Result is the outcome of a control action. OK=false is a soft failure the
// operator can retry, not a Go error.
type Result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Status is a point-in-time view of the worker.
type Status struct {
	Running      bool   `json:"running"`
	PID          int    `json:"pid,omitempty"`
	PIDFile      string `json:"pid_file"`
	LastLaunchID string `json:"last_launch_id,omitempty"`
}

// Launcher spawns a detached worker process tagged with launchID.
type Launcher interface {
	Launch(ctx context.Context, launchID string) error
}

// Supervisor controls a single worker identified by its PID file.
type Supervisor struct {
	pidFile  string
	launcher Launcher

	alive  func(pid int) bool
	held   func(path string) (bool, error)
	signal func(pid int) error
	wait   func(ctx context.Context, d time.Duration) error
	newID  func() string
	logger *slog.Logger

	startGrace  time.Duration
	stopTimeout time.Duration
	stopPoll    time.Duration

	// mu serializes Start, Stop and Restart.
	mu sync.Mutex
	// lastLaunch is read by Status without waiting on mu.
	lastLaunch atomic.Value
}

type Option func(*Supervisor)

// WithTimings overrides the start grace, stop timeout and stop poll interval.
// Non-positive values keep the defaults.
func WithTimings(startGrace, stopTimeout, stopPoll time.Duration) Option {
	return func(s *Supervisor) {
		if startGrace > 0 {
			s.startGrace = startGrace
		}
		if stopTimeout > 0 {
			s.stopTimeout = stopTimeout
		}
		if stopPoll > 0 {
			s.stopPoll = stopPoll
		}
	}
}

// WithProbe replaces the OS liveness check.
func WithProbe(alive func(pid int) bool) Option {
	return func(s *Supervisor) {
		if alive != nil {
			s.alive = alive
		}
	}
}

// WithLockProbe replaces the check that a live worker holds the PID file lock.
func WithLockProbe(held func(path string) (bool, error)) Option {
	return func(s *Supervisor) {
		if held != nil {
			s.held = held
		}
	}
}

// WithSignaler replaces the graceful-termination signal.
func WithSignaler(signal func(pid int) error) Option {
	return func(s *Supervisor) {
		if signal != nil {
			s.signal = signal
		}
	}
}

// WithWaiter replaces the sleep used for the start grace and stop polling.
func WithWaiter(wait func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Supervisor) {
		if wait != nil {
			s.wait = wait
		}
	}
}

func WithLaunchIDs(newID func() string) Option {
	return func(s *Supervisor) {
		if newID != nil {
			s.newID = newID
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// New returns a Supervisor for the worker that records itself at pidFile.
func New(pidFile string, launcher Launcher, opts ...Option) *Supervisor {
	s := &Supervisor{
		pidFile:     pidFile,
		launcher:    launcher,
		alive:       pidAlive,
		held:        lock.Held,
		signal:      terminate,
		wait:        sleepCtx,
		newID:       uuid.NewString,
		logger:      log.WithComponent("supervisor"),
		startGrace:  DefaultStartGrace,
		stopTimeout: DefaultStopTimeout,
		stopPoll:    DefaultStopPoll,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PID returns the recorded pid when the worker is alive.
func (s *Supervisor) PID() (int, bool) {
	pid, err := lock.ReadPID(s.pidFile)
	if err != nil {
		if !errors.Is(err, lock.ErrNoPIDFile) {
			s.logger.Debug("pid file unreadable", "path", s.pidFile, "error", err)
		}
		return 0, false
	}
	if !s.alive(pid) {
		return 0, false
	}
	// The worker keeps its PID file flocked. An unlocked file names a pid
	// that may have been reused by an unrelated process.
	held, err := s.held(s.pidFile)
	if err != nil {
		s.logger.Debug("pid file lock probe failed", "path", s.pidFile, "error", err)
		return 0, false
	}
	if !held {
		s.logger.Debug("pid file is not locked by a worker", "path", s.pidFile, "pid", pid)
		return 0, false
	}
	return pid, true
}

// IsRunning reports whether the PID file names a live process that still
// holds the file's lock. A stale file is left in place.
func (s *Supervisor) IsRunning() bool {
	_, ok := s.PID()
	return ok
}

func (s *Supervisor) Status() Status {
	pid, ok := s.PID()
	last, _ := s.lastLaunch.Load().(string)
	return Status{Running: ok, PID: pid, PIDFile: s.pidFile, LastLaunchID: last}
}

// Start launches the worker unless one is already running, then waits the
// start grace and reports whether it came up.
func (s *Supervisor) Start(ctx context.Context) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx)
}

// Stop asks the worker to exit and waits up to the stop timeout. It never
// escalates to SIGKILL.
func (s *Supervisor) Stop(ctx context.Context) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(ctx)
}

// Restart stops then starts the worker. The start runs even when the stop
// failed; the stop message is then prefixed to the result.
func (s *Supervisor) Restart(ctx context.Context) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	stop := s.stopLocked(ctx)
	if !stop.OK {
		s.logger.Warn("restart: stop failed, starting anyway", "message", stop.Message)
	}
	start := s.startLocked(ctx)
	if !stop.OK {
		start.Message = stop.Message + "; " + start.Message
	}
	return start
}

func (s *Supervisor) startLocked(ctx context.Context) Result {
	if s.IsRunning() {
		return Result{OK: true, Message: MsgAlreadyRunning}
	}

	id := s.newID()
	logger := s.logger.With(slog.String("launch_id", id))
	if err := s.launcher.Launch(ctx, id); err != nil {
		logger.Error("bot launch failed", "error", err)
		return Result{OK: false, Message: fmt.Sprintf("failed to start bot: %v", err)}
	}
	s.lastLaunch.Store(id)

	if err := s.wait(ctx, s.startGrace); err != nil {
		logger.Warn("start wait interrupted", "error", err)
		return Result{OK: false, Message: fmt.Sprintf("start interrupted: %v", err)}
	}
	if pid, ok := s.PID(); ok {
		logger.Info("bot started", "pid", pid)
		return Result{OK: true, Message: MsgStarted}
	}
	logger.Warn("bot did not come up within start grace", "grace", s.startGrace.String())
	return Result{OK: false, Message: MsgStartFailed}
}

func (s *Supervisor) stopLocked(ctx context.Context) Result {
	pid, ok := s.PID()
	if !ok {
		return Result{OK: true, Message: MsgNotRunning}
	}

	if err := s.signal(pid); err != nil {
		if !s.IsRunning() {
			// Exited between the check and the signal.
			return Result{OK: true, Message: MsgStopped}
		}
		s.logger.Error("signal bot failed", "pid", pid, "error", err)
		return Result{OK: false, Message: fmt.Sprintf("failed to signal bot: %v", err)}
	}

	for waited := time.Duration(0); waited < s.stopTimeout; waited += s.stopPoll {
		if err := s.wait(ctx, s.stopPoll); err != nil {
			s.logger.Warn("stop wait interrupted", "pid", pid, "error", err)
			return Result{OK: false, Message: fmt.Sprintf("stop interrupted: %v", err)}
		}
		if !s.IsRunning() {
			s.logger.Info("bot stopped", "pid", pid)
			return Result{OK: true, Message: MsgStopped}
		}
	}
	s.logger.Warn("bot did not stop in time", "pid", pid, "timeout", s.stopTimeout.String())
	return Result{OK: false, Message: MsgStopTimeout}
}

func pidAlive(pid int) bool {
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}

func terminate(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Signal(syscall.SIGTERM)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
