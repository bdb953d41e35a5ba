// Package main is the botpanel command: the control panel server, the bot
// worker it supervises, and operator commands for rules and settings.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/botpanel/internal/config"
	"github.com/mattjoyce/botpanel/internal/log"
	"github.com/mattjoyce/botpanel/internal/reload"
	"github.com/mattjoyce/botpanel/internal/state"
	"github.com/mattjoyce/botpanel/internal/storage"
)

var (
	// Version info (set via ldflags)
	Version = "0.1.0"
	Commit  = "dev"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app carries the flags shared by every subcommand.
type app struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "botpanel",
		Short: "Control panel for a chat bot",
		Long: `botpanel runs a small HTTP control panel that starts and stops a chat bot
worker, stores its token, and manages the trigger/response rules it answers.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to config file or directory")

	root.AddCommand(
		a.panelCmd(),
		a.botCmd(),
		a.ruleCmd(),
		a.settingsCmd(),
		a.configCmd(),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "botpanel version %s (%s)\n", Version, Commit)
		},
	}
}

// loadConfig resolves the config and sets up logging from it.
func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(a.configPath)
	if err != nil {
		return nil, err
	}
	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	return cfg, nil
}

// openStore opens the shared panel database.
func openStore(ctx context.Context, cfg *config.Config) (*state.Store, func(), error) {
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open state: %w", err)
	}
	return state.NewStore(db), func() { _ = db.Close() }, nil
}

func reloadSignal(cfg *config.Config) *reload.Signal {
	return reload.New(cfg.Bot.ReloadFlag)
}
