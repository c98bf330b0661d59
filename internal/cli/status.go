package cli

import (
	"github.com/spf13/cobra"
)

var statusInvoices bool

var statusCmd = &cobra.Command{
	Use:   "status <session-reference>",
	Short: "Show the processing status of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		h, err := newClient(ctx, cfg)
		if err != nil {
			return err
		}
		defer h.Close(ctx)

		m, err := h.NewSession(ctx)
		if err != nil {
			return err
		}
		st, err := m.Status(ctx, args[0])
		if err != nil {
			return err
		}
		if !statusInvoices {
			return printJSON(cmd.OutOrStdout(), st)
		}

		list, err := m.ListInvoices(ctx, args[0], 100)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"status":   st,
			"invoices": list.Invoices,
		})
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusInvoices, "invoices", false, "Include the invoice metadata of the session")
}
