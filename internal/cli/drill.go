// internal/cli/drill.go
package cli

import (
	"fmt"
	"time"

	"collectortrack/internal/drill"

	"github.com/spf13/cobra"
)

func newDrillCommand(a *app) *cobra.Command {
	var cfg drill.DeliveryDrill
	var operators int
	cmd := &cobra.Command{
		Use:   "drill",
		Short: "Run the concurrent delivery drill against the configured database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context(), a.cfg.MigrateOnStart)
			if err != nil {
				return err
			}
			defer store.Close()

			for i := 1; i <= operators; i++ {
				cfg.Operators = append(cfg.Operators, fmt.Sprintf("DRILL-OP-%02d", i))
			}
			engine := drill.NewEngine(a.logger)
			result, err := engine.Run(cmd.Context(), drill.ConcurrentDelivery(a.service(store), store, cfg))
			if result != nil {
				if perr := printJSON(cmd.OutOrStdout(), result); perr != nil {
					return perr
				}
			}
			if err != nil {
				return err
			}
			if !result.HypothesisHeld {
				return fmt.Errorf("drill %s: hypothesis violated", result.Experiment)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.DeviceID, "device", "DRILL-001", "collector used by the drill")
	cmd.Flags().IntVar(&operators, "operators", 8, "number of concurrent operators")
	cmd.Flags().StringVar(&cfg.ResponsibleParty, "responsible", "drill", "responsible party recorded on drill movements")
	cmd.Flags().DurationVar(&cfg.Duration, "observe", 2*time.Second, "observation window")
	return cmd
}
