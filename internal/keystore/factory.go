package keystore

import (
	"fmt"

	"github.com/sirosfoundation/go-ksef/internal/config"
)

// NewProvider creates a Provider based on the configuration
func NewProvider(cfg *config.SigningConfig) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Mode {
	case "pkcs11":
		return newPKCS11Provider(cfg)
	case "pkcs12":
		return NewPKCS12Provider(cfg.PKCS12.File, cfg.PKCS12.Password)
	case "file":
		return NewFileProvider(cfg.File.CertFile, cfg.File.KeyFile)
	default:
		return nil, fmt.Errorf("unknown signing mode: %s", cfg.Mode)
	}
}

func newPKCS11Provider(cfg *config.SigningConfig) (Provider, error) {
	p11cfg := &PKCS11Config{
		ModulePath: cfg.PKCS11.ModulePath,
		SlotLabel:  cfg.PKCS11.SlotLabel,
		PIN:        cfg.PKCS11.PIN,
		KeyLabel:   cfg.PKCS11.KeyLabel,
	}
	if cfg.PKCS11.SlotID > 0 {
		slotID := cfg.PKCS11.SlotID
		p11cfg.SlotID = &slotID
	}
	return NewPKCS11Provider(p11cfg)
}
