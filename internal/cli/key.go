package cli

import (
	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-ksef/internal/keystore"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Inspect the configured signing credential",
}

var keyInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Describe the signing certificate",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := keystore.NewProvider(&cfg.Signing)
		if err != nil {
			return err
		}
		defer provider.Close()

		cred, err := provider.Credential(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), keystore.Describe(cred.Certificate()))
	},
}

func init() {
	keyCmd.AddCommand(keyInfoCmd)
}
