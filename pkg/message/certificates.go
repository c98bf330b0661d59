package message

import (
	"bytes"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Certificate usages published by the authority
const (
	UsageSymmetricKeyEncryption = "SymmetricKeyEncryption"
	UsageKsefTokenEncryption    = "KsefTokenEncryption"
)

// PublicKeyCertificate is one entry of GET /security/public-key-certificates
type PublicKeyCertificate struct {
	Certificate string    `json:"certificate"`
	ValidFrom   time.Time `json:"validFrom"`
	ValidTo     time.Time `json:"validTo"`
	Usage       []string  `json:"usage"`
}

// HasUsage reports whether the certificate is published for the given usage.
func (c *PublicKeyCertificate) HasUsage(usage string) bool {
	return slices.Contains(c.Usage, usage)
}

// ValidAt reports whether t falls inside the validity window.
func (c *PublicKeyCertificate) ValidAt(t time.Time) bool {
	return !t.Before(c.ValidFrom) && !t.After(c.ValidTo)
}

// X509 decodes the base64 DER certificate.
func (c *PublicKeyCertificate) X509() (*x509.Certificate, error) {
	der, err := base64.StdEncoding.DecodeString(c.Certificate)
	if err != nil {
		return nil, &ValidationError{Field: "certificate", Err: err}
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key certificate: %w", err)
	}
	return cert, nil
}

// CertificateList is the normalized certificate list. It decodes a bare
// array as well as the items, certificates and publicKeyCertificates wrappers.
type CertificateList []PublicKeyCertificate

func (l *CertificateList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []PublicKeyCertificate
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		*l = items
		return nil
	}

	var wrapper struct {
		Items                 []PublicKeyCertificate `json:"items"`
		Certificates          []PublicKeyCertificate `json:"certificates"`
		PublicKeyCertificates []PublicKeyCertificate `json:"publicKeyCertificates"`
	}
	if err := json.Unmarshal(trimmed, &wrapper); err != nil {
		return err
	}

	switch {
	case wrapper.Items != nil:
		*l = wrapper.Items
	case wrapper.Certificates != nil:
		*l = wrapper.Certificates
	case wrapper.PublicKeyCertificates != nil:
		*l = wrapper.PublicKeyCertificates
	default:
		return &ProtocolError{Operation: "public key certificates", Field: "items"}
	}
	return nil
}
