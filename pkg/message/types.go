// Package message provides the KSeF 2.0 request and response bodies.
package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// Namespace constants for XML documents exchanged with KSeF
const (
	NsAuthToken = "http://ksef.mf.gov.pl/auth/token/2.0"
	NsXSI       = "http://www.w3.org/2001/XMLSchema-instance"
	NsXSD       = "http://www.w3.org/2001/XMLSchema"
	NsFA3       = "http://crd.gov.pl/wzor/2025/06/25/13775/"
)

// FormCode identifies the schema of the documents sent in a session
type FormCode struct {
	SystemCode    string `json:"systemCode"`
	SchemaVersion string `json:"schemaVersion"`
	Value         string `json:"value"`
}

// FormCodeFA3 is the form code for FA(3) structured invoices
var FormCodeFA3 = FormCode{SystemCode: "FA (3)", SchemaVersion: "1-0E", Value: "FA"}

// ChallengeResponse is returned by POST /auth/challenge
type ChallengeResponse struct {
	Challenge   string `json:"challenge"`
	Timestamp   string `json:"timestamp"`
	TimestampMs int64  `json:"timestampMs,omitempty"`
}

// IssuedAt parses the server timestamp of the challenge.
func (c *ChallengeResponse) IssuedAt() (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, c.Timestamp)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "challenge timestamp", Value: c.Timestamp, Err: err}
	}
	return ts, nil
}

// TokenInfo is a bearer token with its validity
type TokenInfo struct {
	Token      string `json:"token"`
	ValidUntil string `json:"validUntil,omitempty"`
}

// AuthInitResponse is returned after submitting a signed AuthTokenRequest
type AuthInitResponse struct {
	ReferenceNumber     string     `json:"referenceNumber"`
	AuthenticationToken *TokenInfo `json:"authenticationToken"`
	Timestamp           string     `json:"timestamp,omitempty"`
}

// Validate checks the fields required to continue the authentication flow.
func (r *AuthInitResponse) Validate() error {
	if r.ReferenceNumber == "" {
		return &ProtocolError{Operation: "auth xades-signature", Field: "referenceNumber"}
	}
	if r.AuthenticationToken == nil || r.AuthenticationToken.Token == "" {
		return &ProtocolError{Operation: "auth xades-signature", Field: "authenticationToken.token"}
	}
	return nil
}

// StatusInfo is the embedded processing status used across the API
type StatusInfo struct {
	Code        int      `json:"code"`
	Description string   `json:"description,omitempty"`
	Details     []string `json:"details,omitempty"`
}

// ExceptionDetail is one entry of an exception payload
type ExceptionDetail struct {
	ExceptionCode        int      `json:"exceptionCode"`
	ExceptionDescription string   `json:"exceptionDescription"`
	Details              []string `json:"details,omitempty"`
}

// Exception is the error payload the authority embeds in some responses
type Exception struct {
	ServiceCode         string            `json:"serviceCode,omitempty"`
	ReferenceNumber     string            `json:"referenceNumber,omitempty"`
	ExceptionDetailList []ExceptionDetail `json:"exceptionDetailList"`
}

// AsStatusError converts the first exception detail into a StatusError.
func (e *Exception) AsStatusError() *StatusError {
	if e == nil || len(e.ExceptionDetailList) == 0 {
		return &StatusError{Code: 500, Description: "exception without details"}
	}
	d := e.ExceptionDetailList[0]
	return &StatusError{Code: d.ExceptionCode, Description: d.ExceptionDescription, Details: d.Details}
}

// AuthStatusResponse is returned by GET /auth/{referenceNumber}
type AuthStatusResponse struct {
	StartDate              string      `json:"startDate,omitempty"`
	AuthenticationMethod   string      `json:"authenticationMethod,omitempty"`
	Status                 *StatusInfo `json:"status,omitempty"`
	Upo                    string      `json:"upo,omitempty"`
	ElementReferenceNumber string      `json:"elementReferenceNumber,omitempty"`
	Exception              *Exception  `json:"exception,omitempty"`
}

// RedeemResponse is returned by POST /auth/token/redeem
type RedeemResponse struct {
	AccessToken  *TokenInfo `json:"accessToken"`
	RefreshToken *TokenInfo `json:"refreshToken,omitempty"`
}

// RefreshResponse is returned by POST /auth/token/refresh
type RefreshResponse struct {
	AccessToken *TokenInfo `json:"accessToken"`
}

// EncryptionInfo carries the wrapped session key
type EncryptionInfo struct {
	EncryptedSymmetricKey string `json:"encryptedSymmetricKey"`
	InitializationVector  string `json:"initializationVector"`
}

// OpenSessionRequest is the body of POST /sessions/online
type OpenSessionRequest struct {
	FormCode   FormCode       `json:"formCode"`
	Encryption EncryptionInfo `json:"encryption"`
}

// OpenSessionResponse is returned by POST /sessions/online
type OpenSessionResponse struct {
	ReferenceNumber string `json:"referenceNumber"`
	ValidUntil      string `json:"validUntil,omitempty"`
	Timestamp       string `json:"timestamp,omitempty"`
}

// SendInvoiceRequest is the body of POST /sessions/online/{ref}/invoices
type SendInvoiceRequest struct {
	InvoiceHash             string `json:"invoiceHash"`
	InvoiceSize             int64  `json:"invoiceSize"`
	EncryptedInvoiceHash    string `json:"encryptedInvoiceHash"`
	EncryptedInvoiceSize    int64  `json:"encryptedInvoiceSize"`
	EncryptedInvoiceContent string `json:"encryptedInvoiceContent"`
	OfflineMode             bool   `json:"offlineMode"`
}

// SendInvoiceResponse is returned by POST /sessions/online/{ref}/invoices
type SendInvoiceResponse struct {
	ReferenceNumber string `json:"referenceNumber"`
	Timestamp       string `json:"timestamp,omitempty"`
}

// UpoPage references one page of a session UPO
type UpoPage struct {
	ReferenceNumber string `json:"referenceNumber"`
	DownloadURL     string `json:"downloadUrl,omitempty"`
}

// UpoInfo lists the UPO pages of a closed session
type UpoInfo struct {
	Pages []UpoPage `json:"pages"`
}

// SessionStatus is the processing state of a session
type SessionStatus struct {
	Code                   int
	Description            string
	Details                []string
	InvoiceCount           *int
	SuccessfulInvoiceCount *int
	FailedInvoiceCount     *int
	Upo                    *UpoInfo
}

type sessionStatusWire struct {
	Status                 *StatusInfo `json:"status,omitempty"`
	Code                   *int        `json:"code,omitempty"`
	Description            string      `json:"description,omitempty"`
	Details                []string    `json:"details,omitempty"`
	InvoiceCount           *int        `json:"invoiceCount,omitempty"`
	SuccessfulInvoiceCount *int        `json:"successfulInvoiceCount,omitempty"`
	FailedInvoiceCount     *int        `json:"failedInvoiceCount,omitempty"`
	Upo                    *UpoInfo    `json:"upo,omitempty"`
}

// UnmarshalJSON accepts both the nested and the flat status shape.
func (s *SessionStatus) UnmarshalJSON(data []byte) error {
	var w sessionStatusWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	switch {
	case w.Status != nil:
		s.Code = w.Status.Code
		s.Description = w.Status.Description
		s.Details = w.Status.Details
	case w.Code != nil:
		s.Code = *w.Code
		s.Description = w.Description
		s.Details = w.Details
	default:
		return &ProtocolError{Operation: "session status", Field: "status.code"}
	}

	s.InvoiceCount = w.InvoiceCount
	s.SuccessfulInvoiceCount = w.SuccessfulInvoiceCount
	s.FailedInvoiceCount = w.FailedInvoiceCount
	s.Upo = w.Upo
	return nil
}

// MarshalJSON writes the nested shape used by the authority.
func (s SessionStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(sessionStatusWire{
		Status:                 &StatusInfo{Code: s.Code, Description: s.Description, Details: s.Details},
		InvoiceCount:           s.InvoiceCount,
		SuccessfulInvoiceCount: s.SuccessfulInvoiceCount,
		FailedInvoiceCount:     s.FailedInvoiceCount,
		Upo:                    s.Upo,
	})
}

func (s *SessionStatus) String() string {
	return fmt.Sprintf("%d %s", s.Code, s.Description)
}

// SessionInvoice is the metadata of one invoice within a session
type SessionInvoice struct {
	OrdinalNumber   int        `json:"ordinalNumber"`
	InvoiceNumber   string     `json:"invoiceNumber,omitempty"`
	KsefNumber      string     `json:"ksefNumber,omitempty"`
	ReferenceNumber string     `json:"referenceNumber"`
	InvoiceHash     string     `json:"invoiceHash,omitempty"`
	InvoicingDate   string     `json:"invoicingDate,omitempty"`
	Status          StatusInfo `json:"status"`
	UpoDownloadURL  string     `json:"upoDownloadUrl,omitempty"`
}

// SessionInvoicesResponse is returned by GET /sessions/{ref}/invoices
type SessionInvoicesResponse struct {
	Invoices          []SessionInvoice `json:"invoices"`
	ContinuationToken string           `json:"continuationToken,omitempty"`
}
