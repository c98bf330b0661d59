package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-ksef/pkg/session"
)

var certsCmd = &cobra.Command{
	Use:   "certs",
	Short: "List the authority's public key certificates",
	Long: `Lists the certificates published by the environment. The one marked with
* is what a new session would use to wrap its symmetric key.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		api, err := newTransport(cfg)
		if err != nil {
			return err
		}
		m := session.NewManager(api, "", session.DefaultConfig(), appLogger)
		list, err := m.Certificates(ctx)
		if err != nil {
			return err
		}

		now := time.Now()
		selected, err := session.SelectEncryptionCertificate(list, now)
		if err != nil {
			appLogger.Warn("no usable encryption certificate", "error", err)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "\tSUBJECT\tVALID FROM\tVALID TO\tUSAGE")
		for i := range list {
			c := &list[i]
			mark := ""
			if selected != nil && c.Certificate == selected.Certificate {
				mark = "*"
			}
			subject := "?"
			if x, err := c.X509(); err == nil {
				subject = x.Subject.String()
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", mark, subject,
				c.ValidFrom.Format(time.DateOnly), c.ValidTo.Format(time.DateOnly),
				strings.Join(c.Usage, ","))
		}
		return tw.Flush()
	},
}
