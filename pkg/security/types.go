// Package security implements XAdES signatures and session encryption for KSeF
package security

import "errors"

// Algorithm URIs for XML signatures
const (
	// Signature algorithms
	AlgorithmRSASHA256   = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	AlgorithmECDSASHA256 = "http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha256"

	// Digest algorithms
	AlgorithmSHA256 = "http://www.w3.org/2001/04/xmlenc#sha256"

	// Transforms
	AlgorithmEnvelopedSignature = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
)

// Namespaces
const (
	NSXMLDSig = "http://www.w3.org/2000/09/xmldsig#"
	NSXAdES   = "http://uri.etsi.org/01903/v1.3.2#"

	// SignedPropertiesType is the Type of the reference to xades:SignedProperties
	SignedPropertiesType = "http://uri.etsi.org/01903#SignedProperties"
)

var (
	ErrKeyCertificateMismatch = errors.New("private key does not match certificate")
	ErrSignatureDecoding      = errors.New("malformed ECDSA signature")
	ErrUnsupportedKey         = errors.New("unsupported key type")
	ErrNoCertificate          = errors.New("credential has no certificate")
	ErrInvalidDocument        = errors.New("document has no root element")
	ErrSignatureNotFound      = errors.New("signature element not found")
	ErrDigestMismatch         = errors.New("reference digest mismatch")
	ErrSignatureInvalid       = errors.New("signature value does not verify")
	ErrInvalidPadding         = errors.New("invalid PKCS#7 padding")
)
