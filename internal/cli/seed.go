package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/ukydev/fleet-reminders/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NewSeedCommand creates the seed command and its subcommands.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create programs and vehicles",
		Long: `Create maintenance programs and vehicles. Programs and vehicles are
owned by other systems in production; seeding is meant for local and
test deployments.`,
	}
	cmd.AddCommand(newSeedProgramCommand(rootOpts))
	cmd.AddCommand(newSeedVehicleCommand(rootOpts))
	return cmd
}

func newSeedProgramCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		name     string
		inactive bool
	)

	cmd := &cobra.Command{
		Use:          "program",
		Short:        "Create a maintenance program",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("--name must not be empty")
			}
			ctx := cmd.Context()
			_, backend, err := rootOpts.open(ctx)
			if err != nil {
				return err
			}
			defer backend.close(ctx)

			program := &models.Program{Name: name, IsActive: !inactive}
			if err := backend.Programs.InsertProgram(ctx, program); err != nil {
				return fmt.Errorf("insert program: %w", err)
			}
			return output(cmd, rootOpts, program, func(w io.Writer) {
				fmt.Fprintln(w, program.ID.Hex())
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "program name (required)")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "create the program inactive")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newSeedVehicleCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		programs    []string
		odometer    int64
		kind        string
		vehicleMake string
		model       string
		year        int
	)

	cmd := &cobra.Command{
		Use:          "vehicle",
		Short:        "Create an active vehicle assigned to programs",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if odometer < 0 || odometer > models.MaxDistanceKm {
				return fmt.Errorf("--odometer must be between 0 and %d", models.MaxDistanceKm)
			}
			programIDs := make([]primitive.ObjectID, 0, len(programs))
			for _, hex := range programs {
				id, err := primitive.ObjectIDFromHex(hex)
				if err != nil {
					return fmt.Errorf("--program %q is not a valid id", hex)
				}
				programIDs = append(programIDs, id)
			}

			ctx := cmd.Context()
			_, backend, err := rootOpts.open(ctx)
			if err != nil {
				return err
			}
			defer backend.close(ctx)

			for _, id := range programIDs {
				if _, err := backend.Stores.Programs.FindProgramByID(ctx, id); err != nil {
					return err
				}
			}

			vehicle := &models.Vehicle{
				Type:       kind,
				Make:       vehicleMake,
				Model:      model,
				Year:       year,
				Status:     models.VehicleActive,
				Odometer:   odometer,
				ProgramIDs: programIDs,
			}
			if err := backend.Vehicles.InsertVehicle(ctx, vehicle); err != nil {
				return fmt.Errorf("insert vehicle: %w", err)
			}
			return output(cmd, rootOpts, vehicle, func(w io.Writer) {
				fmt.Fprintln(w, vehicle.ID.Hex())
			})
		},
	}

	cmd.Flags().StringSliceVar(&programs, "program", nil, "program id to assign, repeatable")
	cmd.Flags().Int64Var(&odometer, "odometer", 0, "current odometer in km")
	cmd.Flags().StringVar(&kind, "type", "ICE", "ICE or EV")
	cmd.Flags().StringVar(&vehicleMake, "make", "", "vehicle make")
	cmd.Flags().StringVar(&model, "model", "", "vehicle model")
	cmd.Flags().IntVar(&year, "year", 0, "model year")

	return cmd
}
