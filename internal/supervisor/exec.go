package supervisor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"github.com/mattjoyce/botpanel/internal/config"
	"github.com/mattjoyce/botpanel/internal/log"
)

// ExecLauncher starts the worker as a child process in its own process
// group. The child is waited on in the background so an exited worker is
// reaped instead of lingering as a zombie that still looks alive.
type ExecLauncher struct {
	Binary string
	Args   []string
	// Env is appended to the panel's environment.
	Env    []string
	Dir    string
	Stdout io.Writer
	Stderr io.Writer
	// OnExit, when set, is called from the reaper after the child exits.
	OnExit func(pid int, err error)
	Logger *slog.Logger
}

// NewExecLauncher builds a launcher that runs "<binary> bot run" against the
// same config and state paths the panel uses.
func NewExecLauncher(cfg *config.Config) (*ExecLauncher, error) {
	bin := cfg.Bot.Binary
	if bin == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve bot binary: %w", err)
		}
		bin = self
	}

	args := []string{"bot", "run"}
	if cfg.SourcePath != "" {
		args = append(args, "--config", cfg.SourcePath)
	}
	return &ExecLauncher{
		Binary: bin,
		Args:   args,
		Env: []string{
			config.EnvDBPath + "=" + cfg.State.Path,
			config.EnvPIDFile + "=" + cfg.Bot.PIDFile,
			config.EnvReloadFlag + "=" + cfg.Bot.ReloadFlag,
		},
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}, nil
}

// Launch starts the child and returns once it has been spawned. The child is
// not bound to ctx; it must outlive the request that started it.
func (l *ExecLauncher) Launch(_ context.Context, launchID string) error {
	logger := l.Logger
	if logger == nil {
		logger = log.WithLaunch(launchID)
	}

	cmd := exec.Command(l.Binary, l.Args...)
	cmd.Dir = l.Dir
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.Env = append(cmd.Env, config.EnvLaunchID+"="+launchID)
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %s: %w", l.Binary, err)
	}
	pid := cmd.Process.Pid
	logger.Info("bot process spawned", "pid", pid, "binary", l.Binary)

	go func() {
		err := cmd.Wait()
		if err != nil {
			logger.Warn("bot process exited", "pid", pid, "error", err)
		} else {
			logger.Info("bot process exited", "pid", pid)
		}
		if l.OnExit != nil {
			l.OnExit(pid, err)
		}
	}()
	return nil
}
