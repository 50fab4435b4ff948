package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/ukydev/fleet-reminders/internal/auth"
	"github.com/ukydev/fleet-reminders/internal/models"
)

type tokenOutput struct {
	Token     string      `json:"token"`
	Subject   string      `json:"subject"`
	Role      models.Role `json:"role"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		subject string
		role    string
		expiry  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a service token",
		Long: `Mint a signed service token for a caller of the HTTP API.

The token is signed with JWT_SECRET and expires after --expiry, or
JWT_EXPIRY when the flag is not given.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if expiry == 0 {
				expiry = cfg.JWTExpiry
			}
			if cfg.UsesDefaultSecret() {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: JWT_SECRET is not set, token is signed with the default secret")
			}

			service, err := auth.NewService(cfg.JWTSecret, expiry)
			if err != nil {
				return err
			}
			token, err := service.GenerateToken(subject, models.Role(role))
			if err != nil {
				return err
			}

			out := tokenOutput{
				Token:     token,
				Subject:   subject,
				Role:      models.Role(role),
				ExpiresAt: time.Now().Add(expiry).UTC().Truncate(time.Second),
			}
			return output(cmd, rootOpts, out, func(w io.Writer) {
				fmt.Fprintln(w, token)
			})
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "caller name carried in the token (required)")
	cmd.Flags().StringVar(&role, "role", string(models.RoleViewer), "role: admin, manager, operator or viewer")
	cmd.Flags().DurationVar(&expiry, "expiry", 0, "token lifetime (default JWT_EXPIRY)")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}
