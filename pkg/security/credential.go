package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"io"
)

// Credential is a signing key together with its certificate
type Credential interface {
	crypto.Signer
	Certificate() *x509.Certificate
}

// KeyPair is a Credential over an in-memory or delegated crypto.Signer
type KeyPair struct {
	key  crypto.Signer
	cert *x509.Certificate
}

// NewKeyPair creates a credential. The key must be RSA or ECDSA P-256.
func NewKeyPair(key crypto.Signer, cert *x509.Certificate) (*KeyPair, error) {
	if key == nil {
		return nil, fmt.Errorf("private key is required")
	}
	if cert == nil {
		return nil, ErrNoCertificate
	}
	if _, err := SignatureAlgorithm(cert.PublicKey); err != nil {
		return nil, err
	}
	return &KeyPair{key: key, cert: cert}, nil
}

func (k *KeyPair) Public() crypto.PublicKey {
	return k.key.Public()
}

func (k *KeyPair) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	return k.key.Sign(rand, digest, opts)
}

func (k *KeyPair) Certificate() *x509.Certificate {
	return k.cert
}

// SignatureAlgorithm maps a public key to its XML signature method URI.
func SignatureAlgorithm(pub crypto.PublicKey) (string, error) {
	switch key := pub.(type) {
	case *rsa.PublicKey:
		return AlgorithmRSASHA256, nil
	case *ecdsa.PublicKey:
		if key.Curve != elliptic.P256() {
			return "", fmt.Errorf("%w: ECDSA curve %s", ErrUnsupportedKey, key.Curve.Params().Name)
		}
		return AlgorithmECDSASHA256, nil
	}
	return "", fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
}

const selfCheckMessage = "ksef key/certificate consistency check"

// CheckKeyPair signs and verifies a fixed message to prove that the
// credential's key belongs to its certificate.
func CheckKeyPair(cred Credential) error {
	cert := cred.Certificate()
	if cert == nil {
		return ErrNoCertificate
	}

	digest := sha256.Sum256([]byte(selfCheckMessage))
	sig, err := cred.Sign(rand.Reader, digest[:], crypto.SHA256)
	if err != nil {
		return fmt.Errorf("%w: test signature failed: %v", ErrKeyCertificateMismatch, err)
	}

	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		if rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig) != nil {
			return ErrKeyCertificateMismatch
		}
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(pub, digest[:], sig) {
			return ErrKeyCertificateMismatch
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
	}
	return nil
}
