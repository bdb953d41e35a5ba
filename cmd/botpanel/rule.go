package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/botpanel/internal/config"
	"github.com/mattjoyce/botpanel/internal/log"
	"github.com/mattjoyce/botpanel/internal/state"
)

type ruleFlags struct {
	trigger  string
	response string
	channels string
	users    string
	disabled bool
}

func (f *ruleFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.trigger, "trigger", "", "Exact message text that fires the rule")
	cmd.Flags().StringVar(&f.response, "response", "", "Reply text")
	cmd.Flags().StringVar(&f.channels, "channels", "", "Comma-separated channel ids (empty = any)")
	cmd.Flags().StringVar(&f.users, "users", "", "Comma-separated user ids (empty = any)")
	cmd.Flags().BoolVar(&f.disabled, "disabled", false, "Store the rule disabled")
}

func (a *app) ruleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rule",
		Short: "Manage trigger/response rules",
	}

	var jsonOut bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List rules, newest first",
		Args:  cobra.NoArgs,
		RunE: a.withStore(func(cmd *cobra.Command, _ []string, _ *config.Config, store *state.Store) error {
			rs, err := store.ListRulesNewestFirst(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), rs)
			}
			printRules(cmd.OutOrStdout(), rs)
			return nil
		}),
	}
	list.Flags().BoolVar(&jsonOut, "json", false, "Output rules as JSON")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one rule",
		Args:  cobra.ExactArgs(1),
		RunE: a.withStore(func(cmd *cobra.Command, args []string, _ *config.Config, store *state.Store) error {
			id, err := parseRuleID(args[0])
			if err != nil {
				return err
			}
			r, err := store.GetRule(cmd.Context(), id)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), r)
		}),
	}

	var addFlags ruleFlags
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a rule",
		Args:  cobra.NoArgs,
		RunE: a.withStore(func(cmd *cobra.Command, _ []string, cfg *config.Config, store *state.Store) error {
			rec := state.RuleRecord{
				Trigger:         addFlags.trigger,
				Response:        addFlags.response,
				AllowedChannels: addFlags.channels,
				AllowedUsers:    addFlags.users,
				Enabled:         !addFlags.disabled,
			}
			if err := requireRuleText(rec); err != nil {
				return err
			}
			r, err := store.AddRule(cmd.Context(), rec)
			if err != nil {
				return err
			}
			signalRuleChange(cfg, r.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "Added rule %d.\n", r.ID)
			return nil
		}),
	}
	addFlags.bind(add)

	var updFlags ruleFlags
	var enable bool
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Change fields of a rule",
		Long:  `Only the flags given are changed. Use --enable or --disabled to toggle a rule.`,
		Args:  cobra.ExactArgs(1),
		RunE: a.withStore(func(cmd *cobra.Command, args []string, cfg *config.Config, store *state.Store) error {
			id, err := parseRuleID(args[0])
			if err != nil {
				return err
			}
			r, err := store.GetRule(cmd.Context(), id)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("trigger") {
				r.Trigger = updFlags.trigger
			}
			if flags.Changed("response") {
				r.Response = updFlags.response
			}
			if flags.Changed("channels") {
				r.AllowedChannels = updFlags.channels
			}
			if flags.Changed("users") {
				r.AllowedUsers = updFlags.users
			}
			if flags.Changed("disabled") {
				r.Enabled = !updFlags.disabled
			}
			if flags.Changed("enable") {
				r.Enabled = enable
			}
			if err := requireRuleText(r); err != nil {
				return err
			}
			if _, err := store.UpdateRule(cmd.Context(), r); err != nil {
				return err
			}
			signalRuleChange(cfg, id)
			fmt.Fprintf(cmd.OutOrStdout(), "Updated rule %d.\n", id)
			return nil
		}),
	}
	updFlags.bind(update)
	update.Flags().BoolVar(&enable, "enable", false, "Enable the rule")
	update.MarkFlagsMutuallyExclusive("enable", "disabled")

	del := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a rule",
		Args:    cobra.ExactArgs(1),
		RunE: a.withStore(func(cmd *cobra.Command, args []string, cfg *config.Config, store *state.Store) error {
			id, err := parseRuleID(args[0])
			if err != nil {
				return err
			}
			if err := store.DeleteRule(cmd.Context(), id); err != nil {
				return err
			}
			signalRuleChange(cfg, id)
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted rule %d.\n", id)
			return nil
		}),
	}

	cmd.AddCommand(list, show, add, update, del)
	return cmd
}

type storeRunE func(cmd *cobra.Command, args []string, cfg *config.Config, store *state.Store) error

// withStore loads config and opens the database around fn.
func (a *app) withStore(fn storeRunE) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := a.loadConfig()
		if err != nil {
			return err
		}
		store, closeStore, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeStore()
		return fn(cmd, args, cfg, store)
	}
}

// signalRuleChange raises the reload flag so a running bot picks up the edit.
// The edit is already saved, so a failure here is only logged.
func signalRuleChange(cfg *config.Config, id int64) {
	if err := reloadSignal(cfg).Set(); err != nil {
		log.WithRule(id).Warn("failed to signal rule reload", "error", err)
	}
}

func requireRuleText(r state.RuleRecord) error {
	if strings.TrimSpace(r.Trigger) == "" {
		return errors.New("--trigger is required")
	}
	if strings.TrimSpace(r.Response) == "" {
		return errors.New("--response is required")
	}
	return nil
}

func parseRuleID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid rule id %q", raw)
	}
	return id, nil
}

func printRules(w io.Writer, rs []state.RuleRecord) {
	if len(rs) == 0 {
		fmt.Fprintln(w, "No rules.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tON\tTRIGGER\tRESPONSE\tCHANNELS\tUSERS")
	for _, r := range rs {
		on := "no"
		if r.Enabled {
			on = "yes"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", r.ID, on, r.Trigger, r.Response, orAny(r.AllowedChannels), orAny(r.AllowedUsers))
	}
	_ = tw.Flush()
}

func orAny(s string) string {
	if s == "" {
		return "any"
	}
	return s
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
