package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/sirosfoundation/go-ksef/pkg/c14n"
)

// VerifyXAdES checks an enveloped signature produced by XAdESSigner and
// returns the signing certificate.
func VerifyXAdES(signed []byte) (*x509.Certificate, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(signed); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, ErrInvalidDocument
	}

	signature := childNS(root, NSXMLDSig, "Signature")
	if signature == nil {
		return nil, ErrSignatureNotFound
	}
	signedInfo := childNS(signature, NSXMLDSig, "SignedInfo")
	if signedInfo == nil {
		return nil, fmt.Errorf("%w: SignedInfo missing", ErrSignatureNotFound)
	}

	cert, err := embeddedCertificate(signature)
	if err != nil {
		return nil, err
	}

	for _, ref := range signedInfo.ChildElements() {
		if ref.Tag != "Reference" {
			continue
		}
		if err := verifyReference(root, signature, ref); err != nil {
			return nil, err
		}
	}

	if err := verifyCertDigest(signature, cert); err != nil {
		return nil, err
	}

	canonicalization := attrOf(childNS(signedInfo, NSXMLDSig, "CanonicalizationMethod"), "Algorithm")
	canonical, err := c14n.Canonicalize(canonicalization, signedInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize SignedInfo: %w", err)
	}

	valueEl := childNS(signature, NSXMLDSig, "SignatureValue")
	if valueEl == nil {
		return nil, fmt.Errorf("%w: SignatureValue missing", ErrSignatureNotFound)
	}
	value, err := base64.StdEncoding.DecodeString(compact(valueEl.Text()))
	if err != nil {
		return nil, fmt.Errorf("failed to decode SignatureValue: %w", err)
	}

	digest := sha256.Sum256(canonical)
	method := attrOf(childNS(signedInfo, NSXMLDSig, "SignatureMethod"), "Algorithm")
	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		if method != AlgorithmRSASHA256 {
			return nil, fmt.Errorf("%w: method %s for RSA key", ErrSignatureInvalid, method)
		}
		if rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], value) != nil {
			return nil, ErrSignatureInvalid
		}
	case *ecdsa.PublicKey:
		if method != AlgorithmECDSASHA256 {
			return nil, fmt.Errorf("%w: method %s for ECDSA key", ErrSignatureInvalid, method)
		}
		if !VerifyP1363(pub, digest[:], value) {
			return nil, ErrSignatureInvalid
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
	}
	return cert, nil
}

func verifyReference(root, signature, ref *etree.Element) error {
	uri := ref.SelectAttrValue("URI", "")

	var target *etree.Element
	switch {
	case uri == "":
		// enveloped-signature transform: digest the document without the signature
		target = root.Copy()
		for _, child := range target.ChildElements() {
			if child.Tag == "Signature" && child.SelectAttrValue("Id", "") == signature.SelectAttrValue("Id", "") {
				target.RemoveChild(child)
			}
		}
	case strings.HasPrefix(uri, "#"):
		target = findByID(signature, uri[1:])
	}
	if target == nil {
		return fmt.Errorf("%w: reference %q not resolvable", ErrDigestMismatch, uri)
	}

	algorithm := c14n.AlgorithmInclusive
	if transforms := childNS(ref, NSXMLDSig, "Transforms"); transforms != nil {
		for _, t := range transforms.ChildElements() {
			if alg := t.SelectAttrValue("Algorithm", ""); alg != AlgorithmEnvelopedSignature {
				algorithm = alg
			}
		}
	}

	canonical, err := c14n.Canonicalize(algorithm, target)
	if err != nil {
		return fmt.Errorf("failed to canonicalize reference %q: %w", uri, err)
	}
	want := compact(childText(ref, "DigestValue"))
	if got := digestB64(canonical); got != want {
		return fmt.Errorf("%w: reference %q", ErrDigestMismatch, uri)
	}
	return nil
}

func verifyCertDigest(signature *etree.Element, cert *x509.Certificate) error {
	certDigest := findByTag(signature, "CertDigest")
	if certDigest == nil {
		return nil
	}
	if compact(childText(certDigest, "DigestValue")) != digestB64(cert.Raw) {
		return fmt.Errorf("%w: signing certificate digest", ErrDigestMismatch)
	}
	return nil
}

func embeddedCertificate(signature *etree.Element) (*x509.Certificate, error) {
	el := findByTag(signature, "X509Certificate")
	if el == nil {
		return nil, fmt.Errorf("%w: X509Certificate missing", ErrSignatureNotFound)
	}
	der, err := base64.StdEncoding.DecodeString(compact(el.Text()))
	if err != nil {
		return nil, fmt.Errorf("failed to decode certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

func childNS(el *etree.Element, ns, tag string) *etree.Element {
	if el == nil {
		return nil
	}
	for _, c := range el.ChildElements() {
		if c.Tag == tag && c.NamespaceURI() == ns {
			return c
		}
	}
	return nil
}

func childText(el *etree.Element, tag string) string {
	for _, c := range el.ChildElements() {
		if c.Tag == tag {
			return c.Text()
		}
	}
	return ""
}

func attrOf(el *etree.Element, key string) string {
	if el == nil {
		return ""
	}
	return el.SelectAttrValue(key, "")
}

func findByID(el *etree.Element, id string) *etree.Element {
	if el.SelectAttrValue("Id", "") == id {
		return el
	}
	for _, c := range el.ChildElements() {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func findByTag(el *etree.Element, tag string) *etree.Element {
	if el.Tag == tag {
		return el
	}
	for _, c := range el.ChildElements() {
		if found := findByTag(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func compact(s string) string {
	return strings.Join(strings.Fields(s), "")
}
