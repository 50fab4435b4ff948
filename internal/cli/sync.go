package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/ukydev/fleet-reminders/internal/reconcile"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	var req reconcile.SyncRequest

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one reminder sync",
		Long: `Run one reminder sync against the configured database and print
the result. Scope the run with --program and --vehicle.

Exits non-zero when any pair failed.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, backend, err := rootOpts.open(ctx)
			if err != nil {
				return err
			}
			defer backend.close(ctx)

			engine := reconcile.NewEngine(backend.Stores, reconcile.Options{
				Workers:  cfg.SyncWorkers,
				Location: cfg.SyncLocation,
			})
			result, err := engine.Sync(ctx, req)
			if err != nil {
				return err
			}

			if err := output(cmd, rootOpts, result, func(w io.Writer) { printSyncResult(w, result) }); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("sync %s finished with %d pair error(s)", result.RunID, len(result.PairErrors))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&req.ProgramID, "program", "", "only sync schedules of this program")
	cmd.Flags().StringVar(&req.VehicleID, "vehicle", "", "only sync this vehicle")

	return cmd
}

func printSyncResult(w io.Writer, r reconcile.SyncResult) {
	fmt.Fprintf(w, "run %s: %d pair(s) in %dms\n", r.RunID, r.PairCount, r.DurationMS)
	fmt.Fprintf(w, "  generated %d, updated %d, removed %d\n", r.GeneratedCount, r.UpdatedCount, r.RemovedCount)
	for _, pe := range r.PairErrors {
		fmt.Fprintf(w, "  FAILED vehicle %s schedule %s (%s): %s\n", pe.VehicleID, pe.ScheduleID, pe.Kind, pe.Message)
	}
}
