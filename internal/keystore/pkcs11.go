//go:build pkcs11

package keystore

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThalesGroup/crypto11"

	"github.com/sirosfoundation/go-ksef/pkg/security"
)

// PKCS11Provider implements Provider using a PKCS#11 token (HSM/smart card)
type PKCS11Provider struct {
	ctx      *crypto11.Context
	keyLabel string

	mu   sync.Mutex
	cred *security.KeyPair
}

// PKCS11Config holds configuration for the PKCS#11 provider
type PKCS11Config struct {
	// ModulePath is the path to the PKCS#11 library (.so/.dylib/.dll)
	ModulePath string

	// SlotID is the slot number to use (optional if SlotLabel is provided)
	SlotID *uint

	// SlotLabel is the token label to search for (optional if SlotID is provided)
	SlotLabel string

	// PIN is the user PIN for authentication
	PIN string

	// KeyLabel is the CKA_LABEL shared by the key pair and certificate
	KeyLabel string
}

// NewPKCS11Provider creates a new PKCS#11 provider
func NewPKCS11Provider(cfg *PKCS11Config) (*PKCS11Provider, error) {
	if cfg.PIN == "" {
		return nil, ErrPINRequired
	}

	config := &crypto11.Config{
		Path: cfg.ModulePath,
		Pin:  cfg.PIN,
	}

	if cfg.SlotID != nil {
		slotID := int(*cfg.SlotID)
		config.SlotNumber = &slotID
	}
	if cfg.SlotLabel != "" {
		config.TokenLabel = cfg.SlotLabel
	}

	ctx, err := crypto11.Configure(config)
	if err != nil {
		return nil, fmt.Errorf("configuring PKCS#11: %w", err)
	}

	label := cfg.KeyLabel
	if label == "" {
		label = "ksef-signing"
	}

	return &PKCS11Provider{ctx: ctx, keyLabel: label}, nil
}

// Credential finds the key pair and certificate by label
func (p *PKCS11Provider) Credential(ctx context.Context) (security.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cred != nil {
		return p.cred, nil
	}

	key, err := p.ctx.FindKeyPair(nil, []byte(p.keyLabel))
	if err != nil {
		return nil, fmt.Errorf("finding key pair: %w", err)
	}
	if key == nil {
		return nil, ErrKeyNotFound
	}

	cert, err := p.ctx.FindCertificate(nil, []byte(p.keyLabel), nil)
	if err != nil {
		return nil, fmt.Errorf("finding certificate: %w", err)
	}
	if cert == nil {
		return nil, fmt.Errorf("%w: no certificate labelled %q", ErrKeyNotFound, p.keyLabel)
	}

	cred, err := security.NewKeyPair(key, cert)
	if err != nil {
		return nil, err
	}
	p.cred = cred
	return cred, nil
}

// Close releases PKCS#11 resources
func (p *PKCS11Provider) Close() error {
	return p.ctx.Close()
}
