package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-ksef/internal/mockserver"
)

var (
	mockAddr   string
	mockReject bool
)

var mockServerCmd = &cobra.Command{
	Use:   "mock-server",
	Short: "Run a local fake KSeF authority",
	Long: `Serves the authentication and online session endpoints under /api/v2 so
that the client can be exercised without access to a KSeF environment.
Signatures are verified against the embedded certificate only.

Example:
  ksef mock-server --addr 127.0.0.1:8089 &
  ksef --base-url http://127.0.0.1:8089/api/v2 submit invoice.xml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mc := mockserver.DefaultConfig()
		mc.TokenTTL = cfg.MockServer.TokenTTL
		mc.Logger = appLogger

		srv, err := mockserver.New(mc)
		if err != nil {
			return err
		}
		if mockReject {
			srv.SetFaults(mockserver.Faults{RejectInvoices: true})
		}

		addr := cfg.MockServer.Addr
		if mockAddr != "" {
			addr = mockAddr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return srv.Start(ctx, addr)
	},
}

func init() {
	mockServerCmd.Flags().StringVar(&mockAddr, "addr", "", "Listen address (default from mockServer.addr)")
	mockServerCmd.Flags().BoolVar(&mockReject, "reject-invoices", false, "Reject every invoice upload")
}
