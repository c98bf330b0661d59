package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"

	"github.com/sirosfoundation/go-ksef/pkg/c14n"
)

// DefaultSigningTimeOffset backdates the XAdES signing time
const DefaultSigningTimeOffset = time.Minute

// XAdESSigner produces XAdES-BES enveloped signatures
type XAdESSigner struct {
	cred      Credential
	algorithm string
	offset    time.Duration
	now       func() time.Time
}

// Option configures an XAdESSigner
type Option func(*XAdESSigner)

// WithSigningTimeOffset sets how far the signing time is backdated
func WithSigningTimeOffset(d time.Duration) Option {
	return func(s *XAdESSigner) {
		s.offset = d
	}
}

// WithClock sets the time source for the signing time
func WithClock(now func() time.Time) Option {
	return func(s *XAdESSigner) {
		s.now = now
	}
}

// NewXAdESSigner creates a signer for an RSA or ECDSA P-256 credential
func NewXAdESSigner(cred Credential, opts ...Option) (*XAdESSigner, error) {
	if cred == nil {
		return nil, fmt.Errorf("credential is required")
	}
	cert := cred.Certificate()
	if cert == nil {
		return nil, ErrNoCertificate
	}
	algorithm, err := SignatureAlgorithm(cert.PublicKey)
	if err != nil {
		return nil, err
	}

	s := &XAdESSigner{
		cred:      cred,
		algorithm: algorithm,
		offset:    DefaultSigningTimeOffset,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Algorithm returns the signature method URI
func (s *XAdESSigner) Algorithm() string {
	return s.algorithm
}

// Sign returns document with a ds:Signature inserted before the closing tag
// of its root element. The rest of the document is left byte-for-byte intact.
func (s *XAdESSigner) Sign(document []byte) ([]byte, error) {
	if err := CheckKeyPair(s.cred); err != nil {
		return nil, err
	}
	cert := s.cred.Certificate()

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(document); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, ErrInvalidDocument
	}

	canonicalDoc, err := c14n.Exclusive(root)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize document: %w", err)
	}
	documentDigest := digestB64(canonicalDoc)

	sigID := "Signature-" + uuid.NewString()
	propsID := "SignedProperties-" + uuid.NewString()

	signature := root.CreateElement("ds:Signature")
	signature.CreateAttr("xmlns:ds", NSXMLDSig)
	signature.CreateAttr("Id", sigID)

	signedInfo := signature.CreateElement("ds:SignedInfo")
	signedInfo.CreateElement("ds:CanonicalizationMethod").CreateAttr("Algorithm", c14n.AlgorithmInclusive)
	signedInfo.CreateElement("ds:SignatureMethod").CreateAttr("Algorithm", s.algorithm)

	addReference(signedInfo, "", "", documentDigest, AlgorithmEnvelopedSignature, c14n.AlgorithmExclusive)
	propsDigest := addReference(signedInfo, "#"+propsID, SignedPropertiesType, "", c14n.AlgorithmExclusive)

	signatureValue := signature.CreateElement("ds:SignatureValue")

	x509Data := signature.CreateElement("ds:KeyInfo").CreateElement("ds:X509Data")
	x509Data.CreateElement("ds:X509Certificate").SetText(base64.StdEncoding.EncodeToString(cert.Raw))

	qualifying := signature.CreateElement("ds:Object").CreateElement("xades:QualifyingProperties")
	qualifying.CreateAttr("xmlns:xades", NSXAdES)
	qualifying.CreateAttr("Target", "#"+sigID)

	signedProps := qualifying.CreateElement("xades:SignedProperties")
	signedProps.CreateAttr("Id", propsID)
	sigProps := signedProps.CreateElement("xades:SignedSignatureProperties")
	sigProps.CreateElement("xades:SigningTime").SetText(s.now().Add(-s.offset).UTC().Format(time.RFC3339))

	certRef := sigProps.CreateElement("xades:SigningCertificate").CreateElement("xades:Cert")
	certDigest := certRef.CreateElement("xades:CertDigest")
	certDigest.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", AlgorithmSHA256)
	certDigest.CreateElement("ds:DigestValue").SetText(digestB64(cert.Raw))
	issuerSerial := certRef.CreateElement("xades:IssuerSerial")
	issuerSerial.CreateElement("ds:X509IssuerName").SetText(cert.Issuer.String())
	issuerSerial.CreateElement("ds:X509SerialNumber").SetText(cert.SerialNumber.String())

	canonicalProps, err := c14n.Exclusive(signedProps)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize SignedProperties: %w", err)
	}
	propsDigest.SetText(digestB64(canonicalProps))

	canonicalSignedInfo, err := c14n.Inclusive(signedInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize SignedInfo: %w", err)
	}

	value, err := s.signBytes(canonicalSignedInfo)
	if err != nil {
		return nil, err
	}
	signatureValue.SetText(base64.StdEncoding.EncodeToString(value))

	return splice(document, root, signature)
}

func (s *XAdESSigner) signBytes(data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	raw, err := s.cred.Sign(rand.Reader, digest[:], crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	if pub, ok := s.cred.Certificate().PublicKey.(*ecdsa.PublicKey); ok {
		return ECDSAToP1363(raw, pub.Curve)
	}
	return raw, nil
}

// addReference appends a ds:Reference and returns its DigestValue element.
func addReference(signedInfo *etree.Element, uri, refType, digest string, transforms ...string) *etree.Element {
	ref := signedInfo.CreateElement("ds:Reference")
	ref.CreateAttr("URI", uri)
	if refType != "" {
		ref.CreateAttr("Type", refType)
	}
	tr := ref.CreateElement("ds:Transforms")
	for _, alg := range transforms {
		tr.CreateElement("ds:Transform").CreateAttr("Algorithm", alg)
	}
	ref.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", AlgorithmSHA256)
	value := ref.CreateElement("ds:DigestValue")
	value.SetText(digest)
	return value
}

// splice serializes signature on its own and inserts it before the root
// closing tag of the original bytes.
func splice(document []byte, root, signature *etree.Element) ([]byte, error) {
	sigDoc := etree.NewDocument()
	sigDoc.SetRoot(signature.Copy())
	sigXML, err := sigDoc.WriteToString()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize signature: %w", err)
	}

	text := string(document)
	closing := "</" + root.FullTag()
	idx := strings.LastIndex(text, closing)
	if idx < 0 {
		return nil, fmt.Errorf("%w: root %s has no closing tag", ErrInvalidDocument, root.FullTag())
	}

	var b strings.Builder
	b.Grow(len(text) + len(sigXML))
	b.WriteString(text[:idx])
	b.WriteString(sigXML)
	b.WriteString(text[idx:])
	return []byte(b.String()), nil
}

func digestB64(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}
