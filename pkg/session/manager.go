// Package session manages encrypted KSeF online sessions
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/sirosfoundation/go-ksef/pkg/message"
	"github.com/sirosfoundation/go-ksef/pkg/retry"
	"github.com/sirosfoundation/go-ksef/pkg/security"
)

var (
	ErrNoValidEncryptionCertificate = errors.New("no valid symmetric key encryption certificate")
	ErrSessionNotActive             = errors.New("session is not active")
	ErrNoSession                    = errors.New("no session has been opened")
)

// DefaultTerminalCodes are the session status codes after which no further
// transition happens
var DefaultTerminalCodes = []int{200, 405, 415, 420, 430, 435, 440, 445, 500}

// State is the lifecycle state of a Manager
type State int

const (
	StateClosed State = iota
	StateOpening
	StateActive
	StateClosing
	StateForceClosed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateForceClosed:
		return "force-closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// API is the subset of transport.Client used by the manager
type API interface {
	PostJSON(ctx context.Context, path, token string, in, out any) error
	GetJSON(ctx context.Context, path, token string, query url.Values, out any) error
	GetRaw(ctx context.Context, path, token, accept string) ([]byte, error)
}

// Config holds session settings
type Config struct {
	FormCode      message.FormCode
	TerminalCodes []int
	Cipher        security.Cipher
	Clock         retry.Clock
}

// DefaultConfig returns the FA(3) session defaults
func DefaultConfig() *Config {
	return &Config{
		FormCode:      message.FormCodeFA3,
		TerminalCodes: DefaultTerminalCodes,
		Cipher:        security.DefaultCipher{},
		Clock:         retry.SystemClock{},
	}
}

// EncryptedInvoice is an invoice ready for transmission
type EncryptedInvoice struct {
	Ciphertext []byte
	PlainHash  string
	PlainSize  int64
	CipherHash string
	CipherSize int64
}

// SentInvoice is the authority's acknowledgement of an invoice
type SentInvoice struct {
	ReferenceNumber string
	InvoiceHash     string
	InvoiceSize     int64
	Timestamp       string
}

// activeSession exists exactly while the manager is Active
type activeSession struct {
	referenceNumber string
	key             *security.SessionKey
}

// Manager drives one online session at a time. It is not safe for
// concurrent use.
type Manager struct {
	api      API
	token    string
	config   *Config
	terminal map[int]bool
	logger   *slog.Logger

	state  State
	active *activeSession
	// lastReference survives Close so the final status can be polled.
	lastReference string
}

// NewManager creates a manager bearing accessToken. Zero config fields take defaults.
func NewManager(api API, accessToken string, config *Config, logger *slog.Logger) *Manager {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.FormCode == (message.FormCode{}) {
		config.FormCode = defaults.FormCode
	}
	if len(config.TerminalCodes) == 0 {
		config.TerminalCodes = defaults.TerminalCodes
	}
	if config.Cipher == nil {
		config.Cipher = defaults.Cipher
	}
	if config.Clock == nil {
		config.Clock = defaults.Clock
	}
	if logger == nil {
		logger = slog.Default()
	}

	terminal := make(map[int]bool, len(config.TerminalCodes))
	for _, code := range config.TerminalCodes {
		terminal[code] = true
	}

	return &Manager{
		api:      api,
		token:    accessToken,
		config:   config,
		terminal: terminal,
		logger:   logger,
	}
}

// State returns the lifecycle state
func (m *Manager) State() State {
	return m.state
}

// ReferenceNumber returns the reference of the active session, or of the
// last session if none is active.
func (m *Manager) ReferenceNumber() string {
	if m.active != nil {
		return m.active.referenceNumber
	}
	return m.lastReference
}

// IsTerminal reports whether a status code ends processing
func (m *Manager) IsTerminal(code int) bool {
	return m.terminal[code]
}

// Certificates fetches the authority's public key certificates.
func (m *Manager) Certificates(ctx context.Context) (message.CertificateList, error) {
	var list message.CertificateList
	if err := m.api.GetJSON(ctx, "/security/public-key-certificates", m.token, nil, &list); err != nil {
		return nil, fmt.Errorf("failed to fetch public key certificates: %w", err)
	}
	return list, nil
}

// SelectEncryptionCertificate picks the symmetric key encryption certificate
// valid at now with the latest validFrom.
func SelectEncryptionCertificate(list message.CertificateList, now time.Time) (*message.PublicKeyCertificate, error) {
	var best *message.PublicKeyCertificate
	for i := range list {
		c := &list[i]
		if !c.HasUsage(message.UsageSymmetricKeyEncryption) || !c.ValidAt(now) {
			continue
		}
		if best == nil || c.ValidFrom.After(best.ValidFrom) {
			best = c
		}
	}
	if best == nil {
		return nil, ErrNoValidEncryptionCertificate
	}
	return best, nil
}

// Open opens an online session, or returns the active one.
func (m *Manager) Open(ctx context.Context) (string, error) {
	if m.state == StateActive {
		return m.active.referenceNumber, nil
	}

	m.state = StateOpening
	active, err := m.open(ctx)
	if err != nil {
		m.state = StateClosed
		return "", err
	}

	m.active = active
	m.lastReference = active.referenceNumber
	m.state = StateActive
	m.logger.Info("session opened", "session_reference", active.referenceNumber)
	return active.referenceNumber, nil
}

func (m *Manager) open(ctx context.Context) (*activeSession, error) {
	certs, err := m.Certificates(ctx)
	if err != nil {
		return nil, err
	}
	selected, err := SelectEncryptionCertificate(certs, m.config.Clock.Now())
	if err != nil {
		return nil, err
	}
	cert, err := selected.X509()
	if err != nil {
		return nil, err
	}

	key, err := m.config.Cipher.NewSessionKey()
	if err != nil {
		return nil, err
	}
	wrapped, err := m.config.Cipher.WrapKey(cert.PublicKey, key)
	if err != nil {
		key.Zero()
		return nil, err
	}

	req := &message.OpenSessionRequest{
		FormCode: m.config.FormCode,
		Encryption: message.EncryptionInfo{
			EncryptedSymmetricKey: base64.StdEncoding.EncodeToString(wrapped),
			InitializationVector:  base64.StdEncoding.EncodeToString(key.IV[:]),
		},
	}
	var resp message.OpenSessionResponse
	if err := m.api.PostJSON(ctx, "/sessions/online", m.token, req, &resp); err != nil {
		key.Zero()
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	if resp.ReferenceNumber == "" {
		key.Zero()
		return nil, &message.ProtocolError{Operation: "open session", Field: "referenceNumber"}
	}
	return &activeSession{referenceNumber: resp.ReferenceNumber, key: key}, nil
}

// EncryptInvoice encrypts an invoice with the active session key.
func (m *Manager) EncryptInvoice(invoiceXML []byte) (*EncryptedInvoice, error) {
	if m.state != StateActive {
		return nil, ErrSessionNotActive
	}
	ciphertext, err := m.config.Cipher.Encrypt(m.active.key, invoiceXML)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt invoice: %w", err)
	}
	plain := security.DigestOf(invoiceXML)
	enc := security.DigestOf(ciphertext)
	return &EncryptedInvoice{
		Ciphertext: ciphertext,
		PlainHash:  plain.Hash,
		PlainSize:  plain.Size,
		CipherHash: enc.Hash,
		CipherSize: enc.Size,
	}, nil
}

// SendInvoice encrypts and sends one invoice in the active session.
func (m *Manager) SendInvoice(ctx context.Context, invoiceXML []byte, offline bool) (*SentInvoice, error) {
	enc, err := m.EncryptInvoice(invoiceXML)
	if err != nil {
		return nil, err
	}

	req := &message.SendInvoiceRequest{
		InvoiceHash:             enc.PlainHash,
		InvoiceSize:             enc.PlainSize,
		EncryptedInvoiceHash:    enc.CipherHash,
		EncryptedInvoiceSize:    enc.CipherSize,
		EncryptedInvoiceContent: base64.StdEncoding.EncodeToString(enc.Ciphertext),
		OfflineMode:             offline,
	}
	path := "/sessions/online/" + url.PathEscape(m.active.referenceNumber) + "/invoices"
	var resp message.SendInvoiceResponse
	if err := m.api.PostJSON(ctx, path, m.token, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to send invoice: %w", err)
	}
	if resp.ReferenceNumber == "" {
		return nil, &message.ProtocolError{Operation: "send invoice", Field: "referenceNumber"}
	}

	m.logger.Info("invoice sent",
		"session_reference", m.active.referenceNumber,
		"invoice_reference", resp.ReferenceNumber,
		"invoice_size", enc.PlainSize)

	return &SentInvoice{
		ReferenceNumber: resp.ReferenceNumber,
		InvoiceHash:     enc.PlainHash,
		InvoiceSize:     enc.PlainSize,
		Timestamp:       resp.Timestamp,
	}, nil
}

// Close closes the active session and wipes the key material. If the
// authority rejects the close the session stays Active.
func (m *Manager) Close(ctx context.Context) error {
	if m.state != StateActive {
		return ErrSessionNotActive
	}

	m.state = StateClosing
	ref := m.active.referenceNumber
	path := "/sessions/online/" + url.PathEscape(ref) + "/close"
	if err := m.api.PostJSON(ctx, path, m.token, nil, nil); err != nil {
		m.state = StateActive
		return fmt.Errorf("failed to close session: %w", err)
	}

	m.active.key.Zero()
	m.active = nil
	m.state = StateClosed
	m.logger.Info("session closed", "session_reference", ref)
	return nil
}

// ForceClose wipes the key material without notifying the authority.
func (m *Manager) ForceClose() {
	if m.active != nil {
		m.active.key.Zero()
		m.logger.Warn("session force-closed", "session_reference", m.active.referenceNumber)
		m.active = nil
	}
	m.state = StateForceClosed
}

// Status fetches the status of a session.
func (m *Manager) Status(ctx context.Context, ref string) (*message.SessionStatus, error) {
	var st message.SessionStatus
	if err := m.api.GetJSON(ctx, "/sessions/"+url.PathEscape(ref), m.token, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// PollStatus polls the status of ref until it is terminal or the policy is
// exhausted. On exhaustion the last status seen is returned without error;
// if none was seen the timeout error is returned.
func (m *Manager) PollStatus(ctx context.Context, ref string, policy retry.Policy) (*message.SessionStatus, error) {
	if policy.Name == "" {
		policy.Name = "session status"
	}
	if policy.Logger == nil {
		policy.Logger = m.logger
	}
	status, err := retry.Poll(ctx, m.config.Clock, policy, func(ctx context.Context, attempt int) (*message.SessionStatus, bool, error) {
		st, err := m.Status(ctx, ref)
		if err != nil {
			return nil, false, err
		}
		m.logger.Debug("session status",
			"session_reference", ref,
			"attempt", attempt,
			"code", st.Code,
			"description", st.Description)
		return st, m.IsTerminal(st.Code), nil
	})
	if errors.Is(err, retry.ErrTimeout) && status != nil {
		return status, nil
	}
	return status, err
}

// PollUntilTerminal polls the last opened session with a wall-clock bound.
func (m *Manager) PollUntilTerminal(ctx context.Context, interval, timeout time.Duration) (*message.SessionStatus, error) {
	ref := m.ReferenceNumber()
	if ref == "" {
		return nil, ErrNoSession
	}
	return m.PollStatus(ctx, ref, retry.Policy{Interval: interval, MaxWait: timeout})
}

// ListInvoices fetches the invoice metadata of a session.
func (m *Manager) ListInvoices(ctx context.Context, ref string, pageSize int) (*message.SessionInvoicesResponse, error) {
	query := url.Values{}
	if pageSize > 0 {
		query.Set("pageSize", strconv.Itoa(pageSize))
	}
	var resp message.SessionInvoicesResponse
	if err := m.api.GetJSON(ctx, "/sessions/"+url.PathEscape(ref)+"/invoices", m.token, query, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FindInvoice returns the metadata entry with the given invoice reference.
func (m *Manager) FindInvoice(ctx context.Context, ref, invoiceRef string, pageSize int) (*message.SessionInvoice, error) {
	list, err := m.ListInvoices(ctx, ref, pageSize)
	if err != nil {
		return nil, err
	}
	idx := slices.IndexFunc(list.Invoices, func(inv message.SessionInvoice) bool {
		return inv.ReferenceNumber == invoiceRef
	})
	if idx < 0 {
		return nil, nil
	}
	return &list.Invoices[idx], nil
}

// DownloadUPO fetches the UPO of an invoice as XML.
func (m *Manager) DownloadUPO(ctx context.Context, ref, ksefNumber string) ([]byte, error) {
	path := "/sessions/" + url.PathEscape(ref) + "/invoices/ksef/" + url.PathEscape(ksefNumber) + "/upo"
	upo, err := m.api.GetRaw(ctx, path, m.token, "application/xml")
	if err != nil {
		return nil, err
	}
	return upo, nil
}
