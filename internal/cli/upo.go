package cli

import (
	"github.com/spf13/cobra"
)

var upoOut string

var upoCmd = &cobra.Command{
	Use:   "upo <session-reference> <ksef-number>",
	Short: "Download the official receipt of an invoice",
	Args:  cobra.ExactArgs(2),
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
		upo, err := m.DownloadUPO(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return writeOutput(upoOut, upo)
	},
}

func init() {
	upoCmd.Flags().StringVarP(&upoOut, "output", "o", "-", "Output file")
}
