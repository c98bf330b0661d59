package mockserver

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509/pkix"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-ksef/internal/keystore"
	"github.com/sirosfoundation/go-ksef/pkg/auth"
	"github.com/sirosfoundation/go-ksef/pkg/message"
	"github.com/sirosfoundation/go-ksef/pkg/retry"
	"github.com/sirosfoundation/go-ksef/pkg/security"
	"github.com/sirosfoundation/go-ksef/pkg/session"
	"github.com/sirosfoundation/go-ksef/pkg/transport"
)

const testNIP = "5265877635"

const sampleInvoice = `<?xml version="1.0" encoding="UTF-8"?>
<Faktura xmlns="http://crd.gov.pl/wzor/2025/06/25/13775/">
  <Podmiot1><DaneIdentyfikacyjne><NIP>5265877635</NIP></DaneIdentyfikacyjne></Podmiot1>
  <Fa><P_1>2025-03-01</P_1><P_2>FV/1/2025</P_2><P_15>123.00</P_15></Fa>
</Faktura>`

type harness struct {
	server *Server
	client *transport.Client
	clock  *retry.ManualClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	srv, err := New(nil)
	require.NoError(t, err)

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	client, err := transport.NewClient(&transport.Config{BaseURL: ts.URL + BasePath})
	require.NoError(t, err)

	return &harness{server: srv, client: client, clock: retry.NewManualClock(time.Now())}
}

func newSigner(t *testing.T) *security.XAdESSigner {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	cert, err := keystore.GenerateSelfSigned(key, pkix.Name{CommonName: "Jan Kowalski", SerialNumber: "TINPL-" + testNIP},
		time.Now().Add(-time.Hour), 24*time.Hour)
	require.NoError(t, err)
	cred, err := security.NewKeyPair(key, cert)
	require.NoError(t, err)
	signer, err := security.NewXAdESSigner(cred)
	require.NoError(t, err)
	return signer
}

func (h *harness) authenticate(t *testing.T) *auth.Result {
	t.Helper()
	a := auth.NewAuthenticator(h.client, newSigner(t), &auth.Config{
		Context: auth.ContextIdentifier{Type: auth.ContextNip, Value: testNIP},
	}, nil).WithClock(h.clock)

	result, err := a.Authenticate(context.Background())
	require.NoError(t, err)
	return result
}

func (h *harness) manager(token string) *session.Manager {
	return session.NewManager(h.client, token, &session.Config{Clock: h.clock}, nil)
}

func TestHealth(t *testing.T) {
	srv, err := New(nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAuthenticate_WithRealSignature(t *testing.T) {
	h := newHarness(t)
	result := h.authenticate(t)

	assert.NotEmpty(t, result.AccessToken)
	assert.NotEmpty(t, result.RefreshToken)
	assert.True(t, result.ValidUntil.After(time.Now()))
	assert.Equal(t, 1, h.server.Authentications())
	// one pending poll
	assert.Len(t, h.clock.Sleeps(), 1)
}

func TestAuthenticate_UnsignedRequestRejected(t *testing.T) {
	h := newHarness(t)

	var challenge message.ChallengeResponse
	require.NoError(t, h.client.PostJSON(context.Background(), "/auth/challenge", "", nil, &challenge))

	doc, err := auth.BuildAuthTokenRequest(challenge.Challenge,
		auth.ContextIdentifier{Type: auth.ContextNip, Value: testNIP}, auth.SubjectCertificateSubject)
	require.NoError(t, err)

	err = h.client.PostXML(context.Background(), "/auth/xades-signature", "", doc, nil)
	var apiErr *transport.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	require.NotNil(t, apiErr.Exception())
	assert.Equal(t, 21111, apiErr.Exception().AsStatusError().Code)
}

func TestAuthenticate_ChallengeIsSingleUse(t *testing.T) {
	h := newHarness(t)
	signer := newSigner(t)

	var challenge message.ChallengeResponse
	require.NoError(t, h.client.PostJSON(context.Background(), "/auth/challenge", "", nil, &challenge))
	doc, err := auth.BuildAuthTokenRequest(challenge.Challenge,
		auth.ContextIdentifier{Type: auth.ContextNip, Value: testNIP}, auth.SubjectCertificateSubject)
	require.NoError(t, err)
	signed, err := signer.Sign(doc)
	require.NoError(t, err)

	var first message.AuthInitResponse
	require.NoError(t, h.client.PostXML(context.Background(), "/auth/xades-signature", "", signed, &first))
	require.NoError(t, first.Validate())

	err = h.client.PostXML(context.Background(), "/auth/xades-signature", "", signed, nil)
	var apiErr *transport.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, 21112, apiErr.Exception().AsStatusError().Code)
}

func TestTokens_WrongKindRejected(t *testing.T) {
	h := newHarness(t)
	result := h.authenticate(t)

	// refresh token cannot open a session
	err := h.client.PostJSON(context.Background(), "/sessions/online", result.RefreshToken, &message.OpenSessionRequest{}, nil)
	var apiErr *transport.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	var refreshed message.RefreshResponse
	require.NoError(t, h.client.PostJSON(context.Background(), "/auth/token/refresh", result.RefreshToken, nil, &refreshed))
	require.NotNil(t, refreshed.AccessToken)
	assert.NotEmpty(t, refreshed.AccessToken.Token)
}

func TestSession_SendCloseAndFetchUPO(t *testing.T) {
	h := newHarness(t)
	result := h.authenticate(t)
	m := h.manager(result.AccessToken)
	ctx := context.Background()

	ref, err := m.Open(ctx)
	require.NoError(t, err)

	sent, err := m.SendInvoice(ctx, []byte(sampleInvoice), false)
	require.NoError(t, err)
	require.NoError(t, m.Close(ctx))

	status, err := m.PollUntilTerminal(ctx, time.Second, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 200, status.Code)
	require.NotNil(t, status.InvoiceCount)
	assert.Equal(t, 1, *status.InvoiceCount)

	received := h.server.Invoices()
	require.Len(t, received, 1)
	assert.Equal(t, sampleInvoice, string(received[0].Content))
	assert.Equal(t, ref, received[0].SessionReferenceNumber)
	assert.Equal(t, "FV/1/2025", received[0].InvoiceNumber)

	inv, err := m.FindInvoice(ctx, ref, sent.ReferenceNumber, 10)
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Equal(t, 200, inv.Status.Code)
	assert.True(t, strings.HasPrefix(inv.KsefNumber, testNIP+"-"))

	upo, err := m.DownloadUPO(ctx, ref, inv.KsefNumber)
	require.NoError(t, err)
	assert.Contains(t, string(upo), "<NumerKSeFDokumentu>"+inv.KsefNumber+"</NumerKSeFDokumentu>")
	assert.Contains(t, string(upo), "<NumerFaktury>FV/1/2025</NumerFaktury>")
}

func TestSession_InvoiceHiddenUntilProcessed(t *testing.T) {
	h := newHarness(t)
	m := h.manager(h.authenticate(t).AccessToken)
	ctx := context.Background()

	ref, err := m.Open(ctx)
	require.NoError(t, err)
	sent, err := m.SendInvoice(ctx, []byte(sampleInvoice), false)
	require.NoError(t, err)

	inv, err := m.FindInvoice(ctx, ref, sent.ReferenceNumber, 10)
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Equal(t, 150, inv.Status.Code)
	assert.Empty(t, inv.KsefNumber)

	status, err := m.Status(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 100, status.Code)
}

func TestFaults_RejectedInvoiceAndSessionStatus(t *testing.T) {
	h := newHarness(t)
	m := h.manager(h.authenticate(t).AccessToken)
	ctx := context.Background()

	h.server.SetFaults(Faults{
		RejectInvoices: true,
		SessionStatus:  &message.StatusInfo{Code: 450, Description: "rejected"},
		RateLimitPolls: 1,
	})

	ref, err := m.Open(ctx)
	require.NoError(t, err)
	_, err = m.SendInvoice(ctx, []byte(sampleInvoice), false)
	require.Error(t, err)
	require.NoError(t, m.Close(ctx))

	// 450 is not terminal, so the attempt bound ends the poll
	status, err := m.PollStatus(ctx, ref, retry.Policy{Interval: time.Second, MaxAttempts: 4})
	require.NoError(t, err)
	assert.Equal(t, 450, status.Code)
	assert.Equal(t, "rejected", status.Description)
	assert.Contains(t, h.clock.Sleeps(), time.Second)
	assert.Empty(t, h.server.Invoices())
}

func TestFaults_InvoiceStatus(t *testing.T) {
	h := newHarness(t)
	m := h.manager(h.authenticate(t).AccessToken)
	ctx := context.Background()

	h.server.SetFaults(Faults{InvoiceStatus: &message.StatusInfo{Code: 450, Description: "Błąd weryfikacji semantyki"}})

	ref, err := m.Open(ctx)
	require.NoError(t, err)
	sent, err := m.SendInvoice(ctx, []byte(sampleInvoice), false)
	require.NoError(t, err)

	inv, err := m.FindInvoice(ctx, ref, sent.ReferenceNumber, 10)
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Equal(t, 450, inv.Status.Code)
	assert.Empty(t, inv.KsefNumber)
}

func TestSession_OtherOwnerForbidden(t *testing.T) {
	h := newHarness(t)
	m := h.manager(h.authenticate(t).AccessToken)
	ref, err := m.Open(context.Background())
	require.NoError(t, err)

	token, _, err := h.server.tokens.issue(tokenAccess, "7740001454", time.Minute)
	require.NoError(t, err)

	_, err = h.manager(token).Status(context.Background(), ref)
	var apiErr *transport.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
}

func TestTokenIssuer_Expiry(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := &tokenIssuer{issuer: "test", secret: []byte("0123456789abcdef0123456789abcdef"), now: func() time.Time { return now }}

	token, exp, err := issuer.issue(tokenAccess, testNIP, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute), exp)

	claims, err := issuer.validate(token, tokenAccess)
	require.NoError(t, err)
	assert.Equal(t, testNIP, claims.Subject)

	_, err = issuer.validate(token, tokenRefresh)
	assert.ErrorIs(t, err, ErrWrongTokenType)

	_, err = issuer.validate("", tokenAccess)
	assert.ErrorIs(t, err, ErrNoToken)

	_, err = issuer.validate("not-a-jwt", tokenAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)

	now = now.Add(2 * time.Minute)
	_, err = issuer.validate(token, tokenAccess)
	assert.ErrorIs(t, err, ErrTokenExpired)
}
