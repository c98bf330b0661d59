package cli

import (
	"time"

	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authenticate and print the token validity",
	Long: `Runs the challenge, XAdES-signed token request and redeem steps against
the configured environment. Useful for checking that the signing credential
and context identifier are accepted. Tokens are not printed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		h, err := newClient(ctx, cfg)
		if err != nil {
			return err
		}
		defer h.Close(ctx)

		creds, err := h.EnsureAuthenticated(ctx)
		if err != nil {
			return err
		}
		out := struct {
			Context     string    `json:"context"`
			Timestamp   string    `json:"timestamp,omitempty"`
			ValidUntil  time.Time `json:"validUntil,omitzero"`
			Refreshable bool      `json:"refreshable"`
		}{
			Context:     cfg.Context.Type + ":" + cfg.Context.Value,
			Timestamp:   creds.Timestamp,
			ValidUntil:  creds.ValidUntil,
			Refreshable: creds.RefreshToken != "",
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}
