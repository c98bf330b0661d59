package keystore

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"sync"

	"github.com/sirosfoundation/go-ksef/pkg/security"
)

// FileProvider implements Provider using PEM files on disk
//
// The key file may hold a PKCS#1, SEC 1 or PKCS#8 private key. The
// credential is loaded on first use and cached.
type FileProvider struct {
	certPath string
	keyPath  string

	mu   sync.Mutex
	cred *security.KeyPair
}

// NewFileProvider creates a new file-based provider
func NewFileProvider(certPath, keyPath string) (*FileProvider, error) {
	for _, path := range []string{certPath, keyPath} {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("checking key material: %w", err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("key material path is a directory: %s", path)
		}
	}
	return &FileProvider{certPath: certPath, keyPath: keyPath}, nil
}

// Credential returns the key pair, loading it from disk on first use
func (p *FileProvider) Credential(ctx context.Context) (security.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cred != nil {
		return p.cred, nil
	}

	keyPEM, err := os.ReadFile(p.keyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	key, err := parsePrivateKey(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	cert, err := loadCertificate(p.certPath)
	if err != nil {
		return nil, fmt.Errorf("loading certificate: %w", err)
	}

	cred, err := security.NewKeyPair(key, cert)
	if err != nil {
		return nil, err
	}
	p.cred = cred
	return cred, nil
}

// Close drops the cached credential
func (p *FileProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cred = nil
	return nil
}

func parsePrivateKey(pemData []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("key is not a signer")
		}
		return signer, nil
	default:
		return nil, fmt.Errorf("unsupported key type: %s", block.Type)
	}
}

func loadCertificate(path string) (*x509.Certificate, error) {
	certPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading certificate file: %w", err)
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	return x509.ParseCertificate(block.Bytes)
}
