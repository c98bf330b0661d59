package cli

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-ksef/internal/keystore"
	"github.com/sirosfoundation/go-ksef/pkg/auth"
	"github.com/sirosfoundation/go-ksef/pkg/message"
)

// oidOrganizationIdentifier carries VATPL-<NIP> in seal certificates
var oidOrganizationIdentifier = asn1.ObjectIdentifier{2, 5, 4, 97}

var (
	keygenType     string
	keygenNIP      string
	keygenName     string
	keygenCertOut  string
	keygenKeyOut   string
	keygenValidity time.Duration
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a self-signed test credential",
	Long: `Generate a key pair and a self-signed certificate for the KSeF test
environment or the local mock server. Production requires a qualified
certificate or seal.

Example:
  ksef keygen --nip 5265877635 --cert-out seal.crt --key-out seal.key`,
	Args: cobra.NoArgs,
	RunE: runKeygen,
}

func init() {
	keygenCmd.Flags().StringVar(&keygenType, "type", "ec", "Key type (ec or rsa)")
	keygenCmd.Flags().StringVar(&keygenNIP, "nip", "", "Taxpayer NIP placed in the certificate subject")
	keygenCmd.Flags().StringVar(&keygenName, "name", "KSeF test seal", "Certificate common name")
	keygenCmd.Flags().StringVar(&keygenCertOut, "cert-out", "ksef.crt", "Certificate output path")
	keygenCmd.Flags().StringVar(&keygenKeyOut, "key-out", "ksef.key", "Private key output path")
	keygenCmd.Flags().DurationVar(&keygenValidity, "validity", 365*24*time.Hour, "Certificate validity")
	_ = keygenCmd.MarkFlagRequired("nip")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	if !auth.ValidNIP(keygenNIP) {
		return &message.ValidationError{Field: "nip", Value: keygenNIP, Err: fmt.Errorf("checksum mismatch")}
	}

	var key crypto.Signer
	var err error
	switch keygenType {
	case "ec":
		key, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case "rsa":
		key, err = rsa.GenerateKey(rand.Reader, 2048)
	default:
		return &message.ValidationError{Field: "type", Value: keygenType, Err: fmt.Errorf("want ec or rsa")}
	}
	if err != nil {
		return fmt.Errorf("generating key: %w", err)
	}

	subject := pkix.Name{
		CommonName:   keygenName,
		Organization: []string{keygenName},
		Country:      []string{"PL"},
		ExtraNames: []pkix.AttributeTypeAndValue{
			{Type: oidOrganizationIdentifier, Value: "VATPL-" + keygenNIP},
		},
	}
	// Backdated so that clock skew with the authority does not matter.
	cert, err := keystore.GenerateSelfSigned(key, subject, time.Now().Add(-time.Hour), keygenValidity)
	if err != nil {
		return err
	}
	if err := keystore.WritePEM(keygenCertOut, keygenKeyOut, cert, key); err != nil {
		return err
	}

	info := keystore.Describe(cert)
	appLogger.Info("credential generated",
		slog.String("certificate", keygenCertOut),
		slog.String("key", keygenKeyOut),
		slog.String("algorithm", info.Algorithm),
		slog.String("subject", info.CertificateSubject),
		slog.String("fingerprint", info.Fingerprint))
	return nil
}
