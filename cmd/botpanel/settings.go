package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/botpanel/internal/api"
	"github.com/mattjoyce/botpanel/internal/config"
	"github.com/mattjoyce/botpanel/internal/state"
)

func (a *app) settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage bot settings",
	}

	setToken := &cobra.Command{
		Use:   "set-token <token>",
		Short: "Save the bot token",
		Long:  `Saves the chat platform token. A running bot keeps its old session until restarted.`,
		Args:  cobra.ExactArgs(1),
		RunE: a.withStore(func(cmd *cobra.Command, args []string, _ *config.Config, store *state.Store) error {
			token := strings.TrimSpace(args[0])
			if token == "" {
				return fmt.Errorf("token must not be empty")
			}
			if err := store.SetSetting(cmd.Context(), state.SettingBotToken, token); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Token saved. Restart the bot to apply it.")
			return nil
		}),
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show whether a token is saved",
		Args:  cobra.NoArgs,
		RunE: a.withStore(func(cmd *cobra.Command, _ []string, _ *config.Config, store *state.Store) error {
			token, ok, err := store.GetSetting(cmd.Context(), state.SettingBotToken)
			if err != nil {
				return err
			}
			if !ok || strings.TrimSpace(token) == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "token: not set")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token: %s\n", api.TokenHint(token))
			return nil
		}),
	}

	cmd.AddCommand(setToken, show)
	return cmd
}
