package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mattjoyce/botpanel/internal/lock"
	"github.com/mattjoyce/botpanel/internal/log"
	"github.com/mattjoyce/botpanel/internal/state"
)

// ErrNoToken means no bot token has been saved in the panel yet.
var ErrNoToken = errors.New("bot token is not configured")

// Identity is the account the client connected as.
type Identity struct {
	ID   string
	Name string
}

// Client is a chat platform session.
type Client interface {
	// Connect opens the session. ready is called each time the platform
	// reports the session ready; h receives every inbound message.
	Connect(ctx context.Context, h Handler, ready func(Identity)) error
	Close() error
}

// ClientFactory builds a Client for a token.
type ClientFactory func(token string) (Client, error)

// SettingsReader is the part of the config store the worker needs.
type SettingsReader interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
}

// Runner is the worker lifecycle: read the token, connect, record the PID
// once ready, and remove the PID file on shutdown.
type Runner struct {
	settings  SettingsReader
	newClient ClientFactory
	handler   Handler
	pidFile   string
	logger    *slog.Logger
}

func NewRunner(settings SettingsReader, newClient ClientFactory, handler Handler, pidFile string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = log.WithComponent("bot")
	}
	return &Runner{
		settings:  settings,
		newClient: newClient,
		handler:   handler,
		pidFile:   pidFile,
		logger:    logger,
	}
}

// Run blocks until ctx is cancelled or the worker cannot continue. The PID
// file only exists while the client is connected.
func (r *Runner) Run(ctx context.Context) error {
	token, ok, err := r.settings.GetSetting(ctx, state.SettingBotToken)
	if err != nil {
		return fmt.Errorf("read bot token: %w", err)
	}
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return ErrNoToken
	}

	client, err := r.newClient(token)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	var (
		mu      sync.Mutex
		pidLock *lock.PIDLock
	)
	fatal := make(chan error, 1)

	ready := func(id Identity) {
		mu.Lock()
		defer mu.Unlock()
		if pidLock != nil {
			r.logger.Info("bot session resumed", "user", id.Name)
			return
		}
		l, err := lock.AcquirePIDLock(r.pidFile)
		if err != nil {
			select {
			case fatal <- fmt.Errorf("record pid: %w", err):
			default:
			}
			return
		}
		pidLock = l
		r.logger.Info("bot connected", "user", id.Name, "user_id", id.ID, "pid", os.Getpid(), "pid_file", r.pidFile)
	}

	if err := client.Connect(ctx, r.handler, ready); err != nil {
		_ = client.Close()
		return fmt.Errorf("connect: %w", err)
	}

	var runErr error
	select {
	case <-ctx.Done():
		r.logger.Info("bot shutting down")
	case runErr = <-fatal:
		r.logger.Error("bot cannot continue", "error", runErr)
	}

	if err := client.Close(); err != nil {
		r.logger.Warn("close client", "error", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if err := pidLock.Remove(); err != nil {
		r.logger.Warn("remove pid file", "error", err)
	}
	return runErr
}
