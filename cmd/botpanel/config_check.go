package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/botpanel/internal/config"
	"github.com/mattjoyce/botpanel/internal/doctor"
)

var errConfigInvalid = errors.New("configuration has errors")

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect botpanel configuration",
	}

	var jsonOut bool
	check := &cobra.Command{
		Use:     "check",
		Aliases: []string{"doctor"},
		Short:   "Validate configuration and the shared file layout",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadOrDefault(a.configPath)
			if err != nil {
				return err
			}
			result := doctor.New(cfg).Validate()
			if jsonOut {
				out, err := doctor.FormatJSON(result)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
			} else {
				fmt.Fprint(cmd.OutOrStdout(), doctor.FormatHuman(result))
			}
			if !result.Valid {
				return errConfigInvalid
			}
			return nil
		},
	}
	check.Flags().BoolVar(&jsonOut, "json", false, "Output report as JSON")

	cmd.AddCommand(check)
	return cmd
}
