package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/botpanel/internal/api"
	"github.com/mattjoyce/botpanel/internal/auth"
	"github.com/mattjoyce/botpanel/internal/config"
	"github.com/mattjoyce/botpanel/internal/events"
	"github.com/mattjoyce/botpanel/internal/lock"
	"github.com/mattjoyce/botpanel/internal/log"
	"github.com/mattjoyce/botpanel/internal/supervisor"
	"github.com/mattjoyce/botpanel/internal/tui/watch"
)

// EnvPanelToken supplies the watch client's bearer token.
const EnvPanelToken = "BOTPANEL_TOKEN"

func (a *app) panelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "panel",
		Short: "Run or watch the control panel",
	}

	var autostart bool
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the control panel HTTP API in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return servePanel(ctx, cfg, autostart)
		},
	}
	serve.Flags().BoolVar(&autostart, "autostart", false, "Start the bot once the panel is up")

	var url, token string
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Live terminal view of a running panel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if token == "" {
				token = os.Getenv(EnvPanelToken)
			}
			_, err := tea.NewProgram(watch.New(url, token)).Run()
			return err
		},
	}
	watchCmd.Flags().StringVar(&url, "url", "http://"+config.Defaults().Panel.Listen, "Panel base URL")
	watchCmd.Flags().StringVar(&token, "token", "", "Bearer token (default $"+EnvPanelToken+")")

	cmd.AddCommand(serve, watchCmd)
	return cmd
}

// newSupervisor wires the worker launcher and timings from cfg. A nil hub
// skips exit notifications.
func newSupervisor(cfg *config.Config, hub *events.Hub) (*supervisor.Supervisor, *supervisor.ExecLauncher, error) {
	launcher, err := supervisor.NewExecLauncher(cfg)
	if err != nil {
		return nil, nil, err
	}
	if hub != nil {
		launcher.OnExit = func(pid int, err error) {
			data := map[string]any{"pid": pid}
			if err != nil {
				data["error"] = err.Error()
			}
			hub.Publish(events.BotExited, data)
		}
	}
	sup := supervisor.New(cfg.Bot.PIDFile, launcher,
		supervisor.WithTimings(cfg.Bot.StartGrace, cfg.Bot.StopTimeout, cfg.Bot.StopPoll),
		supervisor.WithLogger(log.WithComponent("supervisor")),
	)
	return sup, launcher, nil
}

func servePanel(ctx context.Context, cfg *config.Config, autostart bool) error {
	logger := log.WithComponent("panel")

	pidLock, err := lock.AcquirePIDLock(cfg.Panel.LockPath)
	if err != nil {
		return fmt.Errorf("another panel holds %s: %w", cfg.Panel.LockPath, err)
	}
	defer func() { _ = pidLock.Release() }()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	hub := events.NewHub(events.DefaultCapacity)
	sup, _, err := newSupervisor(cfg, hub)
	if err != nil {
		return err
	}

	tokens := make([]auth.TokenConfig, 0, len(cfg.Panel.Auth.Tokens))
	for _, t := range cfg.Panel.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{
			Token:  t.Token,
			Scopes: t.Scopes,
		})
	}
	server := api.New(api.Config{
		Listen:       cfg.Panel.Listen,
		APIKey:       cfg.Panel.Auth.APIKey,
		Tokens:       tokens,
		ControlRate:  cfg.Panel.ControlRate,
		ControlBurst: cfg.Panel.ControlBurst,
	}, sup, store, reloadSignal(cfg), hub, log.WithComponent("api"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})
	if autostart {
		g.Go(func() error {
			res := sup.Start(gctx)
			if res.OK {
				hub.Publish(events.BotStarted, map[string]any{"message": res.Message, "autostart": true})
			} else {
				logger.Warn("autostart failed", "message", res.Message)
			}
			return nil
		})
	}

	logger.Info("botpanel running (press Ctrl+C to stop)", "listen", cfg.Panel.Listen, "pid", os.Getpid())
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("panel failed", "error", err)
		return err
	}
	logger.Info("botpanel stopped")
	return nil
}
