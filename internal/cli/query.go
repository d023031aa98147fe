// internal/cli/query.go
package cli

import (
	"fmt"

	"collectortrack/internal/circulation"

	"github.com/spf13/cobra"
)

func newStatusCommand(a *app) *cobra.Command {
	var history bool
	cmd := &cobra.Command{
		Use:   "status <device-id>",
		Short: "Show the derived state of a collector.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if remote := a.remote(); remote != nil {
				if history {
					return fmt.Errorf("--history reads the database and cannot be combined with --server")
				}
				state, err := remote.ResolveStatus(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), state)
			}

			store, err := a.openStore(cmd.Context(), a.cfg.MigrateOnStart)
			if err != nil {
				return err
			}
			defer store.Close()

			state, err := a.service(store).ResolveStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !history {
				return printJSON(cmd.OutOrStdout(), state)
			}
			movements, err := store.History(cmd.Context(), circulation.Normalize(args[0]))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"state":   state,
				"history": movements,
			})
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "include every recorded movement")
	return cmd
}

func newDefectsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "defects",
		Short: "List the defect catalog.",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context(), a.cfg.MigrateOnStart)
			if err != nil {
				return err
			}
			defer store.Close()

			choices, err := a.service(store).DefectChoices(cmd.Context())
			if err != nil {
				return err
			}
			for _, c := range choices {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
			return nil
		},
	}
}

func newTotalsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "totals",
		Short: "Count registered collectors per status.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if remote := a.remote(); remote != nil {
				totals, err := remote.Totals(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), totals)
			}

			store, err := a.openStore(cmd.Context(), a.cfg.MigrateOnStart)
			if err != nil {
				return err
			}
			defer store.Close()

			totals, err := a.service(store).Totals(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), totals)
		},
	}
}
