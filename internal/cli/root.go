// Package cli implements remindersctl, the operator command line for the
// reminder service.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"github.com/ukydev/fleet-reminders/internal/config"
)

// RootOptions holds global flags and the dependencies shared by commands.
type RootOptions struct {
	Format string // "json" | "text"

	LoadConfig func() (*config.Config, error)
	Open       OpenFunc
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command backed by MongoDB.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{LoadConfig: config.Load, Open: OpenMongo})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remindersctl",
		Short: "Operate the fleet service reminder engine",
		Long: `Operate the fleet service reminder engine.

Mints service tokens, runs one-shot reminder syncs, prepares the
database and seeds programs and vehicles for testing.`,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))

	return cmd
}
