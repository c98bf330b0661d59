package invoice

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
)

// IssueDateLayout is the date format of verification links
const IssueDateLayout = "02-01-2006"

// Meta holds the identifying fields of a submitted invoice
type Meta struct {
	SellerID        string          `json:"sellerId"`
	IssueDate       string          `json:"issueDate"`
	InvoiceNumber   string          `json:"invoiceNumber,omitempty"`
	GrossAmount     decimal.Decimal `json:"grossAmount"`
	HashBase64URL   string          `json:"hashBase64Url"`
	VerificationURL string          `json:"verificationUrl,omitempty"`
}

// Hash returns the unpadded base64url SHA-256 of the document bytes.
func Hash(document []byte) string {
	sum := sha256.Sum256(document)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ParseMeta extracts Meta from an invoice document. The hash is always set;
// the remaining fields are filled as far as the document allows and the
// first problem found is returned alongside.
func ParseMeta(document []byte) (Meta, error) {
	meta := Meta{HashBase64URL: Hash(document)}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(document); err != nil {
		return meta, fmt.Errorf("failed to parse invoice: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return meta, fmt.Errorf("invoice has no root element")
	}

	var firstErr error
	note := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	meta.SellerID = text(root, "./Podmiot1/DaneIdentyfikacyjne/NIP")
	if meta.SellerID == "" {
		note(fmt.Errorf("invoice has no seller NIP"))
	}

	meta.InvoiceNumber = text(root, "./Fa/P_2")

	if raw := text(root, "./Fa/P_1"); raw != "" {
		issued, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			note(fmt.Errorf("invalid issue date %q: %w", raw, err))
		} else {
			meta.IssueDate = issued.Format(IssueDateLayout)
		}
	} else {
		note(fmt.Errorf("invoice has no issue date"))
	}

	if raw := text(root, "./Fa/P_15"); raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			note(fmt.Errorf("invalid gross amount %q: %w", raw, err))
		} else {
			meta.GrossAmount = amount
		}
	}

	return meta, firstErr
}

// WithVerificationURL returns meta with its verification link set, or
// unchanged if the seller or issue date is unknown.
func (m Meta) WithVerificationURL(qrBase string) Meta {
	if m.SellerID != "" && m.IssueDate != "" {
		m.VerificationURL = VerificationURL(qrBase, m.SellerID, m.IssueDate, m.HashBase64URL)
	}
	return m
}

// VerificationURL builds {qrBase}/invoice/{nip}/{dd-mm-yyyy}/{hash}.
func VerificationURL(qrBase, nip, issueDate, hash string) string {
	return strings.TrimRight(qrBase, "/") + "/invoice/" + nip + "/" + issueDate + "/" + hash
}

func text(root *etree.Element, path string) string {
	el := root.FindElement(path)
	if el == nil {
		return ""
	}
	return strings.TrimSpace(el.Text())
}
