// internal/cli/process.go
package cli

import (
	"context"
	"errors"
	"fmt"

	"collectortrack/internal/circulation"

	"github.com/spf13/cobra"
)

// ErrNotRecorded is returned when process refused or failed to record.
var ErrNotRecorded = errors.New("movement not recorded")

func newProcessCommand(a *app) *cobra.Command {
	var req circulation.Request
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Validate and record one movement.",
		Example: `  collectortrack process --action ENTREGA --device 073 --operator 5501 --responsible "shift lead"
  collectortrack process --action ENVIO --device 73 --responsible lab --defect --defects "03 - Broken screen"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var svc interface {
				Process(ctx context.Context, req circulation.Request) (circulation.Confirmation, error)
			}
			if remote := a.remote(); remote != nil {
				svc = remote
			} else {
				store, err := a.openStore(cmd.Context(), a.cfg.MigrateOnStart)
				if err != nil {
					return err
				}
				defer store.Close()
				svc = a.service(store)
			}

			conf, err := svc.Process(cmd.Context(), req)
			ok, message := circulation.Outcome(conf, err)
			fmt.Fprintln(cmd.OutOrStdout(), message)
			if !ok {
				return fmt.Errorf("%w: %w", ErrNotRecorded, err)
			}
			return printJSON(cmd.OutOrStdout(), conf)
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.Action, "action", "", "movement label, e.g. ENTREGA or RETURN")
	f.StringVar(&req.DeviceID, "device", "", "collector id as scanned")
	f.StringVar(&req.OperatorID, "operator", "", "operator badge id")
	f.BoolVar(&req.TestPerformed, "test", false, "a functional test was performed")
	f.BoolVar(&req.DefectDetected, "defect", false, "a defect was detected")
	f.BoolVar(&req.FlagForRepair, "repair", false, "flag the collector for repair")
	f.StringVar(&req.Note, "note", "", "free text note")
	f.StringVar(&req.ResponsibleParty, "responsible", "", "who records the movement")
	f.StringVar(&req.RepairSentDate, "sent", "", "repair sent date, YYYY-MM-DD")
	f.StringVar(&req.RepairReturnDate, "returned", "", "repair return date, YYYY-MM-DD")
	f.StringVar(&req.TicketNumber, "ticket", "", "repair ticket number")
	f.StringSliceVar(&req.Defects, "defects", nil, `defect choices as "code - description"`)
	_ = cmd.MarkFlagRequired("action")
	return cmd
}
