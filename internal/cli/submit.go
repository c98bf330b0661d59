package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-ksef/pkg/ksef"
)

var (
	submitOffline bool
	submitUPOOut  string
	submitQROut   string
	submitQRSize  int
)

var submitCmd = &cobra.Command{
	Use:   "submit <invoice.xml>",
	Short: "Submit an invoice in a new online session",
	Long: `Authenticates, opens an online session, sends the invoice encrypted,
closes the session and waits for the processing result. The result is
printed as JSON. A non-zero exit status means the invoice was not accepted.

Example:
  ksef submit --upo-out upo.xml --qr-out qr.png FV-1-2025.xml`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().BoolVar(&submitOffline, "offline", false, "Mark the invoice as issued in offline mode")
	submitCmd.Flags().StringVar(&submitUPOOut, "upo-out", "", "Write the UPO to this file")
	submitCmd.Flags().StringVar(&submitQROut, "qr-out", "", "Write the verification QR code (PNG) to this file")
	submitCmd.Flags().IntVar(&submitQRSize, "qr-size", 256, "QR code size in pixels")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	invoiceXML, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading invoice: %w", err)
	}

	h, err := newClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer h.Close(ctx)

	result, err := h.SubmitInvoice(ctx, invoiceXML, ksef.SubmitOptions{
		Offline:  submitOffline,
		FetchUPO: submitUPOOut != "",
		RenderQR: submitQROut != "",
		QRSize:   submitQRSize,
	})
	if err != nil {
		return err
	}

	if len(result.UPO) > 0 {
		if err := writeOutput(submitUPOOut, result.UPO); err != nil {
			return fmt.Errorf("writing UPO: %w", err)
		}
		appLogger.Info("UPO written", slog.String("path", submitUPOOut))
	}
	if len(result.QRCode) > 0 {
		if err := writeOutput(submitQROut, result.QRCode); err != nil {
			return fmt.Errorf("writing QR code: %w", err)
		}
		appLogger.Info("QR code written", slog.String("path", submitQROut))
	}

	// Keep the JSON readable; the files hold the binary payloads.
	printed := *result
	printed.UPO, printed.QRCode = nil, nil
	if err := printJSON(cmd.OutOrStdout(), printed); err != nil {
		return err
	}
	if result.Failed() {
		return fmt.Errorf("invoice rejected with status %d: %s", result.Status, result.Error)
	}
	return nil
}
