package keystore

import (
	"context"
	"crypto"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/pkcs12"

	"github.com/sirosfoundation/go-ksef/pkg/security"
)

// PKCS12Provider implements Provider over a PKCS#12 bundle holding one key
// and its leaf certificate
type PKCS12Provider struct {
	path     string
	password string

	mu   sync.Mutex
	cred *security.KeyPair
}

// NewPKCS12Provider creates a provider for the bundle at path
func NewPKCS12Provider(path, password string) (*PKCS12Provider, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("checking PKCS#12 bundle: %w", err)
	}
	return &PKCS12Provider{path: path, password: password}, nil
}

// Credential decodes the bundle on first use
func (p *PKCS12Provider) Credential(ctx context.Context) (security.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cred != nil {
		return p.cred, nil
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("reading PKCS#12 bundle: %w", err)
	}
	cred, err := DecodePKCS12(data, p.password)
	if err != nil {
		return nil, err
	}
	p.cred = cred
	return cred, nil
}

// Close drops the cached credential
func (p *PKCS12Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cred = nil
	return nil
}

// DecodePKCS12 extracts the key pair from a PKCS#12 bundle.
func DecodePKCS12(data []byte, password string) (*security.KeyPair, error) {
	key, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, fmt.Errorf("decoding PKCS#12 bundle: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok || signer == nil {
		return nil, ErrNoPrivateKey
	}
	return security.NewKeyPair(signer, cert)
}
