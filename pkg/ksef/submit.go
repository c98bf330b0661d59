package ksef

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirosfoundation/go-ksef/pkg/invoice"
	"github.com/sirosfoundation/go-ksef/pkg/message"
	"github.com/sirosfoundation/go-ksef/pkg/retry"
	"github.com/sirosfoundation/go-ksef/pkg/security"
	"github.com/sirosfoundation/go-ksef/pkg/session"
	"github.com/sirosfoundation/go-ksef/pkg/transport"
)

// UnknownKsefNumber is reported when the metadata lookup ran out of
// attempts before the authority assigned a number.
const UnknownKsefNumber = "unknown"

// StatusSendFailed is the local status recorded when the upload fails
const StatusSendFailed = 500

// SubmitOptions selects the optional steps of a submission
type SubmitOptions struct {
	Offline  bool
	FetchUPO bool
	RenderQR bool
	QRSize   int
}

// SubmitResult is the outcome of one submission. Remote failures after the
// session was opened are reported here rather than returned as errors.
type SubmitResult struct {
	Status                 int          `json:"status"`
	Error                  string       `json:"error,omitempty"`
	InvoiceKsefNumber      string       `json:"invoiceKsefNumber"`
	InvoiceReferenceNumber string       `json:"invoiceReferenceNumber,omitempty"`
	SessionReferenceNumber string       `json:"sessionReferenceNumber"`
	InvoiceHash            string       `json:"invoiceHash"`
	InvoiceSize            int64        `json:"invoiceSize"`
	Meta                   invoice.Meta `json:"meta"`
	UPO                    []byte       `json:"upo,omitempty"`
	QRCode                 []byte       `json:"qrCode,omitempty"`
	SubmittedAt            time.Time    `json:"submittedAt"`
}

// Failed reports whether the aggregate status is an error
func (r *SubmitResult) Failed() bool {
	return r.Status >= 400
}

// MarshalJSON writes an unassigned KSeF number as null.
func (r SubmitResult) MarshalJSON() ([]byte, error) {
	type plain SubmitResult
	out := struct {
		plain
		InvoiceKsefNumber *string `json:"invoiceKsefNumber"`
	}{plain: plain(r)}
	if r.InvoiceKsefNumber != "" {
		out.InvoiceKsefNumber = &r.InvoiceKsefNumber
	}
	return json.Marshal(out)
}

// KsefNumberKnown reports whether the authority-issued number was found
func (r *SubmitResult) KsefNumberKnown() bool {
	return r.InvoiceKsefNumber != "" && r.InvoiceKsefNumber != UnknownKsefNumber
}

func (r *SubmitResult) setStatus(code int, description string) {
	r.Status = code
	if code >= 400 {
		r.Error = description
	} else {
		r.Error = ""
	}
}

// SubmitInvoice sends one invoice in a fresh online session. Only
// authentication and session-open failures are returned as errors.
func (c *Client) SubmitInvoice(ctx context.Context, invoiceXML []byte, opts SubmitOptions) (*SubmitResult, error) {
	digest := security.DigestOf(invoiceXML)
	result := &SubmitResult{
		InvoiceHash: digest.Hash,
		InvoiceSize: digest.Size,
		SubmittedAt: c.clock.Now().UTC(),
	}

	creds, err := c.EnsureAuthenticated(ctx)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	m := c.newManager(creds.AccessToken)
	ref, err := m.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	result.SessionReferenceNumber = ref

	sent, err := m.SendInvoice(ctx, invoiceXML, opts.Offline)
	if err != nil {
		c.logger.Warn("invoice send failed", "session_reference", ref, "error", err)
		result.setStatus(StatusSendFailed, err.Error())
	} else {
		result.InvoiceReferenceNumber = sent.ReferenceNumber
	}
	c.closeSession(ctx, m)

	c.pollSession(ctx, m, ref, result)

	if result.InvoiceReferenceNumber != "" {
		c.lookupKsefNumber(ctx, m, result)
	}

	meta, err := invoice.ParseMeta(invoiceXML)
	if err != nil {
		c.logger.Debug("invoice metadata incomplete", "error", err)
	}
	result.Meta = meta.WithVerificationURL(c.config.QRBaseURL)

	if !result.Failed() && result.KsefNumberKnown() {
		if opts.FetchUPO {
			result.UPO = c.fetchUPO(ctx, m, result)
		}
		if opts.RenderQR {
			result.QRCode = c.renderQR(result, opts.QRSize)
		}
	}

	c.logger.Info("invoice submitted",
		"session_reference", result.SessionReferenceNumber,
		"invoice_reference", result.InvoiceReferenceNumber,
		"ksef_number", result.InvoiceKsefNumber,
		"status", result.Status)

	if c.recorder != nil {
		if err := c.recorder.Record(ctx, result); err != nil {
			c.logger.Warn("failed to record submission", "session_reference", ref, "error", err)
		}
	}
	return result, nil
}

// closeSession closes the session, falling back to a local wipe.
func (c *Client) closeSession(ctx context.Context, m *session.Manager) {
	if err := m.Close(ctx); err != nil {
		c.logger.Warn("session close failed", "session_reference", m.ReferenceNumber(), "error", err)
		m.ForceClose()
	}
}

// pollSession waits for the terminal session status with an attempt bound.
// Transient failures count as attempts. A terminal or error status from the
// authority outranks a local send failure; a still-processing one does not.
func (c *Client) pollSession(ctx context.Context, m *session.Manager, ref string, result *SubmitResult) {
	policy := retry.Policy{
		Name:        "session status",
		Interval:    c.config.StatusInterval,
		MaxAttempts: c.config.StatusAttempts,
		Logger:      c.logger,
	}

	var seen *message.SessionStatus
	var lastErr error
	status, err := retry.Poll(ctx, c.clock, policy, func(ctx context.Context, attempt int) (*message.SessionStatus, bool, error) {
		st, err := m.Status(ctx, ref)
		if err != nil {
			if transport.IsRateLimited(err) || transport.IsNotFound(err) {
				return seen, false, err
			}
			c.logger.Debug("session status attempt failed", "session_reference", ref, "attempt", attempt, "error", err)
			lastErr = err
			return seen, false, nil
		}
		seen = st
		return st, m.IsTerminal(st.Code), nil
	})

	switch {
	case status != nil && (result.Status == 0 || status.Code >= 400 || m.IsTerminal(status.Code)):
		result.setStatus(status.Code, status.Description)
	case status != nil:
		c.logger.Warn("session still processing, keeping send failure",
			"session_reference", ref,
			"status", status.Code)
	case result.Status == 0:
		if lastErr == nil {
			lastErr = err
		}
		result.setStatus(StatusSendFailed, errorText(lastErr, "session status unavailable"))
	}
	if err != nil && !errors.Is(err, retry.ErrTimeout) {
		c.logger.Warn("session status polling stopped", "session_reference", ref, "error", err)
	}
}

// lookupKsefNumber finds the authority-issued number in the session's
// invoice metadata.
func (c *Client) lookupKsefNumber(ctx context.Context, m *session.Manager, result *SubmitResult) {
	policy := retry.Policy{
		Name:        "invoice metadata",
		Interval:    c.config.MetadataInterval,
		MaxAttempts: c.config.MetadataAttempts,
		Logger:      c.logger,
	}

	inv, err := retry.Poll(ctx, c.clock, policy, func(ctx context.Context, attempt int) (*message.SessionInvoice, bool, error) {
		inv, err := m.FindInvoice(ctx, result.SessionReferenceNumber, result.InvoiceReferenceNumber, c.config.PageSize)
		if err != nil {
			if transport.IsRateLimited(err) || transport.IsNotFound(err) {
				return nil, false, err
			}
			c.logger.Debug("invoice metadata attempt failed", "attempt", attempt, "error", err)
			return nil, false, nil
		}
		if inv == nil {
			return nil, false, nil
		}
		if inv.Status.Code >= 400 {
			return nil, false, message.NewStatusError(inv.Status)
		}
		return inv, inv.KsefNumber != "", nil
	})

	var statusErr *message.StatusError
	switch {
	case errors.As(err, &statusErr):
		result.setStatus(statusErr.Code, statusErr.Description)
	case err == nil && inv != nil:
		result.InvoiceKsefNumber = inv.KsefNumber
	default:
		c.logger.Warn("KSeF number not yet assigned",
			"invoice_reference", result.InvoiceReferenceNumber,
			"error", err)
		result.InvoiceKsefNumber = UnknownKsefNumber
	}
}

func (c *Client) fetchUPO(ctx context.Context, m *session.Manager, result *SubmitResult) []byte {
	policy := retry.Policy{
		Name:        "invoice upo",
		Interval:    c.config.MetadataInterval,
		MaxAttempts: c.config.UPOAttempts,
		Logger:      c.logger,
	}
	upo, err := retry.Poll(ctx, c.clock, policy, func(ctx context.Context, attempt int) ([]byte, bool, error) {
		upo, err := m.DownloadUPO(ctx, result.SessionReferenceNumber, result.InvoiceKsefNumber)
		if err != nil {
			return nil, false, err
		}
		return upo, len(upo) > 0, nil
	})
	if err != nil {
		c.logger.Warn("failed to fetch UPO", "ksef_number", result.InvoiceKsefNumber, "error", err)
		return nil
	}
	return upo
}

func (c *Client) renderQR(result *SubmitResult, size int) []byte {
	if result.Meta.VerificationURL == "" {
		c.logger.Warn("no verification link for QR code", "ksef_number", result.InvoiceKsefNumber)
		return nil
	}
	png, err := invoice.RenderQR(result.Meta.VerificationURL, size)
	if err != nil {
		c.logger.Warn("failed to render QR code", "error", err)
		return nil
	}
	return png
}

func errorText(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	return err.Error()
}
