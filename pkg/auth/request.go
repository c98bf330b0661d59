package auth

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/sirosfoundation/go-ksef/pkg/message"
)

// ContextIdentifierType names the kind of context the session acts for
type ContextIdentifierType string

const (
	ContextNip        ContextIdentifierType = "Nip"
	ContextInternalID ContextIdentifierType = "InternalId"
	ContextNipVatUe   ContextIdentifierType = "NipVatUe"
	ContextCustomID   ContextIdentifierType = "CustomId"
)

// SubjectIdentifierType selects how the authority identifies the signer
type SubjectIdentifierType string

const (
	SubjectCertificateSubject     SubjectIdentifierType = "certificateSubject"
	SubjectCertificateFingerprint SubjectIdentifierType = "certificateFingerprint"
)

// ParseSubjectIdentifierType validates a configured subject identifier type
func ParseSubjectIdentifierType(s string) (SubjectIdentifierType, error) {
	switch t := SubjectIdentifierType(s); t {
	case SubjectCertificateSubject, SubjectCertificateFingerprint:
		return t, nil
	}
	return "", &message.ValidationError{Field: "subject identifier type", Value: s}
}

// ContextIdentifier is the taxpayer context of the session
type ContextIdentifier struct {
	Type  ContextIdentifierType
	Value string
}

// ParseContextType validates a configured context identifier type
func ParseContextType(s string) (ContextIdentifierType, error) {
	for _, t := range []ContextIdentifierType{ContextNip, ContextInternalID, ContextNipVatUe, ContextCustomID} {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return "", &message.ValidationError{Field: "context identifier type", Value: s}
}

// Validate checks the identifier type and, for NIP contexts, the check digit.
func (c ContextIdentifier) Validate() error {
	_, err := c.normalize()
	return err
}

// normalize returns c with its type in canonical case, validated.
func (c ContextIdentifier) normalize() (ContextIdentifier, error) {
	t, err := ParseContextType(string(c.Type))
	if err != nil {
		return c, err
	}
	c.Type = t
	if strings.TrimSpace(c.Value) == "" {
		return c, &message.ValidationError{Field: "context identifier", Err: fmt.Errorf("empty value")}
	}
	if c.Type == ContextNip && !ValidNIP(c.Value) {
		return c, &message.ValidationError{Field: "NIP", Value: c.Value, Err: fmt.Errorf("checksum mismatch")}
	}
	return c, nil
}

var nipWeights = [9]int{6, 5, 7, 2, 3, 4, 5, 6, 7}

// ValidNIP reports whether s is a 10-digit Polish tax id with a valid check digit.
func ValidNIP(s string) bool {
	if len(s) != 10 {
		return false
	}
	sum := 0
	for i, r := range s {
		if r < '0' || r > '9' {
			return false
		}
		if i < 9 {
			sum += int(r-'0') * nipWeights[i]
		}
	}
	check := sum % 11
	return check != 10 && check == int(s[9]-'0')
}

// BuildAuthTokenRequest renders the unsigned AuthTokenRequest document.
func BuildAuthTokenRequest(challenge string, ctxID ContextIdentifier, subject SubjectIdentifierType) ([]byte, error) {
	if challenge == "" {
		return nil, &message.ValidationError{Field: "challenge", Err: fmt.Errorf("empty value")}
	}
	ctxID, err := ctxID.normalize()
	if err != nil {
		return nil, err
	}
	if _, err := ParseSubjectIdentifierType(string(subject)); err != nil {
		return nil, err
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)

	root := doc.CreateElement("AuthTokenRequest")
	root.CreateAttr("xmlns:xsi", message.NsXSI)
	root.CreateAttr("xmlns:xsd", message.NsXSD)
	root.CreateAttr("xmlns", message.NsAuthToken)

	root.CreateElement("Challenge").SetText(challenge)
	root.CreateElement("ContextIdentifier").CreateElement(string(ctxID.Type)).SetText(ctxID.Value)
	root.CreateElement("SubjectIdentifierType").SetText(string(subject))

	doc.Indent(2)
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize AuthTokenRequest: %w", err)
	}
	return out, nil
}
