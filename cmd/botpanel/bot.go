package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/botpanel/internal/bot"
	"github.com/mattjoyce/botpanel/internal/config"
	"github.com/mattjoyce/botpanel/internal/log"
	"github.com/mattjoyce/botpanel/internal/rules"
	"github.com/mattjoyce/botpanel/internal/supervisor"
)

func (a *app) botCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Run or control the bot worker",
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Run the bot worker in the foreground",
		Long: `Connects to the chat platform with the saved token and answers messages
from the rule table. This is what the panel starts; run it directly to debug.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			return runBot(cmd, cfg)
		},
	}

	control := func(use, short string, op func(*supervisor.Supervisor, *cobra.Command) supervisor.Result) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := a.loadConfig()
				if err != nil {
					return err
				}
				sup, launcher, err := newSupervisor(cfg, nil)
				if err != nil {
					return err
				}
				// The worker outlives this command, so it must not write to our terminal.
				launcher.Stdout, launcher.Stderr = nil, nil
				res := op(sup, cmd)
				fmt.Fprintln(cmd.OutOrStdout(), res.Message)
				if !res.OK {
					return errors.New(res.Message)
				}
				return nil
			},
		}
	}

	var jsonOut bool
	status := &cobra.Command{
		Use:   "status",
		Short: "Show whether the bot is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			st := supervisor.New(cfg.Bot.PIDFile, nil).Status()
			out := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			if st.Running {
				fmt.Fprintf(out, "running (pid %d)\n", st.PID)
			} else {
				fmt.Fprintln(out, "stopped")
			}
			return nil
		},
	}
	status.Flags().BoolVar(&jsonOut, "json", false, "Output status as JSON")

	cmd.AddCommand(
		run,
		control("start", "Start the bot", func(s *supervisor.Supervisor, c *cobra.Command) supervisor.Result {
			return s.Start(c.Context())
		}),
		control("stop", "Stop the bot", func(s *supervisor.Supervisor, c *cobra.Command) supervisor.Result {
			return s.Stop(c.Context())
		}),
		control("restart", "Stop then start the bot", func(s *supervisor.Supervisor, c *cobra.Command) supervisor.Result {
			return s.Restart(c.Context())
		}),
		status,
	)
	return cmd
}

func runBot(cmd *cobra.Command, cfg *config.Config) error {
	logger := log.WithLaunch(os.Getenv(config.EnvLaunchID))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	cache := rules.NewCache(store, reloadSignal(cfg),
		rules.WithTTL(cfg.Bot.CacheTTL),
		rules.WithLogger(log.WithComponent("rules")),
	)

	commands := bot.NewCommandRouter(cfg.Bot.CommandPrefix)
	commands.Register("rules", bot.RulesCommand(cache))
	commands.Register("uptime", bot.UptimeCommand(time.Now(), time.Now))

	dispatcher := bot.NewDispatcher(cache, commands, logger)
	runner := bot.NewRunner(store, bot.NewDiscordClient, dispatcher, cfg.Bot.PIDFile, logger)

	err = runner.Run(ctx)
	if errors.Is(err, bot.ErrNoToken) {
		logger.Error("no bot token saved; set one with 'botpanel settings set-token' or the panel")
	}
	return err
}
