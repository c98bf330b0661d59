// Package keystore provides the signing credential for the KSeF
// authentication flow.
//
// The credential is a private key together with its X.509 certificate. It
// can be loaded from different backends:
//
//   - File: PEM certificate and key files
//   - PKCS#12: a password-protected .p12/.pfx bundle, the usual format of
//     qualified seals and KSeF test certificates
//   - PKCS#11: keys stored in hardware security modules (HSM) or smart cards
//
// The abstraction allows the XAdES signer to sign the AuthTokenRequest
// without knowing the underlying key storage mechanism.
package keystore

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"time"

	"github.com/sirosfoundation/go-ksef/pkg/security"
)

// Common errors
var (
	ErrKeyNotFound  = errors.New("signing key not found")
	ErrPINRequired  = errors.New("PIN required to unlock key")
	ErrNoPrivateKey = errors.New("bundle contains no private key")
)

// Provider loads the signing credential
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Credential returns the signing key and its certificate.
	Credential(ctx context.Context) (security.Credential, error)

	// Close releases any resources held by the provider.
	Close() error
}

// KeyInfo describes a signing certificate
type KeyInfo struct {
	// Algorithm is the key algorithm (e.g., "RSA", "EC")
	Algorithm string

	// KeySize is the key size in bits (e.g., 2048 for RSA, 256 for P-256)
	KeySize int

	// NotBefore is when the certificate becomes valid
	NotBefore time.Time

	// NotAfter is when the certificate expires
	NotAfter time.Time

	// CertificateSubject is the subject DN of the certificate
	CertificateSubject string

	// CertificateIssuer is the issuer DN of the certificate
	CertificateIssuer string

	// Fingerprint is the hex SHA-256 of the DER certificate, as used by
	// the certificateFingerprint subject identifier type
	Fingerprint string
}

// Describe summarizes a certificate
func Describe(cert *x509.Certificate) KeyInfo {
	sum := sha256.Sum256(cert.Raw)
	return KeyInfo{
		Algorithm:          keyAlgorithmName(cert.PublicKey),
		KeySize:            keySize(cert.PublicKey),
		NotBefore:          cert.NotBefore,
		NotAfter:           cert.NotAfter,
		CertificateSubject: cert.Subject.String(),
		CertificateIssuer:  cert.Issuer.String(),
		Fingerprint:        hex.EncodeToString(sum[:]),
	}
}

func keyAlgorithmName(pub crypto.PublicKey) string {
	switch pub.(type) {
	case *ecdsa.PublicKey:
		return "EC"
	case *rsa.PublicKey:
		return "RSA"
	default:
		return "Unknown"
	}
}

func keySize(pub crypto.PublicKey) int {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		return k.Curve.Params().BitSize
	case *rsa.PublicKey:
		return k.N.BitLen()
	default:
		return 0
	}
}
