package session

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-ksef/pkg/message"
	"github.com/sirosfoundation/go-ksef/pkg/retry"
	"github.com/sirosfoundation/go-ksef/pkg/security"
	"github.com/sirosfoundation/go-ksef/pkg/transport"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func generateEncryptionCert(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "KSeF symmetric key encryption"},
		NotBefore:    testNow.Add(-24 * time.Hour),
		NotAfter:     testNow.Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	return key, base64.StdEncoding.EncodeToString(der)
}

// fakeAuthority plays the session endpoints of the authority
type fakeAuthority struct {
	t        *testing.T
	key      *rsa.PrivateKey
	certs    []message.PublicKeyCertificate
	statuses []string

	openCalls  atomic.Int32
	closeCalls atomic.Int32
	closeFails bool
	polls      atomic.Int32

	sessionKey []byte
	sessionIV  []byte
	openReq    message.OpenSessionRequest
	plaintext  []byte
	sendReq    message.SendInvoiceRequest
	tokens     []string
}

func newFakeAuthority(t *testing.T) *fakeAuthority {
	key, cert := generateEncryptionCert(t)
	return &fakeAuthority{
		t:   t,
		key: key,
		certs: []message.PublicKeyCertificate{{
			Certificate: cert,
			ValidFrom:   testNow.Add(-24 * time.Hour),
			ValidTo:     testNow.Add(365 * 24 * time.Hour),
			Usage:       []string{message.UsageSymmetricKeyEncryption},
		}},
	}
}

func (f *fakeAuthority) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /security/public-key-certificates", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"items": f.certs})
	})
	mux.HandleFunc("POST /sessions/online", func(w http.ResponseWriter, r *http.Request) {
		f.openCalls.Add(1)
		f.tokens = append(f.tokens, r.Header.Get("Authorization"))
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&f.openReq))

		wrapped, err := base64.StdEncoding.DecodeString(f.openReq.Encryption.EncryptedSymmetricKey)
		require.NoError(f.t, err)
		f.sessionKey, err = security.UnwrapKey(f.key, wrapped)
		require.NoError(f.t, err)
		f.sessionIV, err = base64.StdEncoding.DecodeString(f.openReq.Encryption.InitializationVector)
		require.NoError(f.t, err)

		w.Write([]byte(`{"referenceNumber":"20250301-SO-1","validUntil":"2025-03-02T12:00:00Z"}`))
	})
	mux.HandleFunc("POST /sessions/online/{ref}/invoices", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, "20250301-SO-1", r.PathValue("ref"))
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&f.sendReq))

		ct, err := base64.StdEncoding.DecodeString(f.sendReq.EncryptedInvoiceContent)
		require.NoError(f.t, err)
		f.plaintext, err = security.Decrypt(f.sessionKey, f.sessionIV, ct)
		require.NoError(f.t, err)

		w.Write([]byte(`{"referenceNumber":"20250301-EE-1"}`))
	})
	mux.HandleFunc("POST /sessions/online/{ref}/close", func(w http.ResponseWriter, r *http.Request) {
		f.closeCalls.Add(1)
		if f.closeFails {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /sessions/{ref}", func(w http.ResponseWriter, r *http.Request) {
		n := int(f.polls.Add(1)) - 1
		if n >= len(f.statuses) {
			n = len(f.statuses) - 1
		}
		switch f.statuses[n] {
		case "404":
			w.WriteHeader(http.StatusNotFound)
		case "429":
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.Write([]byte(f.statuses[n]))
		}
	})
	mux.HandleFunc("GET /sessions/{ref}/invoices", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, "10", r.URL.Query().Get("pageSize"))
		w.Write([]byte(`{"invoices":[{"ordinalNumber":1,"referenceNumber":"20250301-EE-1","ksefNumber":"5265877635-20250301-0100A0B0C0D0-E1","status":{"code":200,"description":"ok"}}]}`))
	})
	mux.HandleFunc("GET /sessions/{ref}/invoices/ksef/{ksef}/upo", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, "application/xml", r.Header.Get("Accept"))
		w.Write([]byte("<Potwierdzenie/>"))
	})
	return mux
}

func newTestManager(t *testing.T, f *fakeAuthority) (*Manager, *retry.ManualClock) {
	t.Helper()
	server := httptest.NewServer(f.handler())
	t.Cleanup(server.Close)

	client, err := transport.NewClient(&transport.Config{BaseURL: server.URL})
	require.NoError(t, err)

	clock := retry.NewManualClock(testNow)
	return NewManager(client, "access", &Config{Clock: clock}, nil), clock
}

func TestSelectEncryptionCertificate(t *testing.T) {
	list := message.CertificateList{
		{Certificate: "expired", ValidFrom: testNow.Add(-48 * time.Hour), ValidTo: testNow.Add(-time.Hour), Usage: []string{message.UsageSymmetricKeyEncryption}},
		{Certificate: "token", ValidFrom: testNow.Add(-time.Hour), ValidTo: testNow.Add(time.Hour), Usage: []string{message.UsageKsefTokenEncryption}},
		{Certificate: "older", ValidFrom: testNow.Add(-10 * time.Hour), ValidTo: testNow.Add(time.Hour), Usage: []string{message.UsageSymmetricKeyEncryption}},
		{Certificate: "newer", ValidFrom: testNow.Add(-2 * time.Hour), ValidTo: testNow.Add(time.Hour), Usage: []string{message.UsageKsefTokenEncryption, message.UsageSymmetricKeyEncryption}},
		{Certificate: "future", ValidFrom: testNow.Add(time.Hour), ValidTo: testNow.Add(48 * time.Hour), Usage: []string{message.UsageSymmetricKeyEncryption}},
	}

	got, err := SelectEncryptionCertificate(list, testNow)
	require.NoError(t, err)
	assert.Equal(t, "newer", got.Certificate)

	_, err = SelectEncryptionCertificate(list[:2], testNow)
	assert.ErrorIs(t, err, ErrNoValidEncryptionCertificate)
}

func TestOpen_IsIdempotentWhileActive(t *testing.T) {
	f := newFakeAuthority(t)
	m, _ := newTestManager(t, f)

	ref, err := m.Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "20250301-SO-1", ref)
	assert.Equal(t, StateActive, m.State())

	again, err := m.Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ref, again)
	assert.Equal(t, int32(1), f.openCalls.Load())

	assert.Equal(t, message.FormCodeFA3, f.openReq.FormCode)
	assert.Equal(t, []string{"Bearer access"}, f.tokens)
	assert.Len(t, f.sessionKey, 32)
	assert.Equal(t, m.active.key.Key[:], f.sessionKey)
	assert.Equal(t, m.active.key.IV[:], f.sessionIV)
}

func TestOpen_NoValidCertificate(t *testing.T) {
	f := newFakeAuthority(t)
	f.certs[0].Usage = []string{message.UsageKsefTokenEncryption}
	m, _ := newTestManager(t, f)

	_, err := m.Open(context.Background())
	assert.ErrorIs(t, err, ErrNoValidEncryptionCertificate)
	assert.Equal(t, StateClosed, m.State())
	assert.Equal(t, int32(0), f.openCalls.Load())
}

func TestSendInvoice_EncryptsForSessionKey(t *testing.T) {
	f := newFakeAuthority(t)
	m, _ := newTestManager(t, f)
	invoice := []byte(`<Faktura><Fa><P_2>FV/1/2025</P_2></Fa></Faktura>`)

	_, err := m.SendInvoice(context.Background(), invoice, false)
	assert.ErrorIs(t, err, ErrSessionNotActive)

	_, err = m.Open(context.Background())
	require.NoError(t, err)

	sent, err := m.SendInvoice(context.Background(), invoice, true)
	require.NoError(t, err)
	assert.Equal(t, "20250301-EE-1", sent.ReferenceNumber)
	assert.Equal(t, invoice, f.plaintext)

	plain := security.DigestOf(invoice)
	assert.Equal(t, plain.Hash, f.sendReq.InvoiceHash)
	assert.Equal(t, plain.Hash, sent.InvoiceHash)
	assert.Equal(t, int64(len(invoice)), f.sendReq.InvoiceSize)
	assert.Equal(t, int64(64), f.sendReq.EncryptedInvoiceSize)
	assert.True(t, f.sendReq.OfflineMode)

	ct, _ := base64.StdEncoding.DecodeString(f.sendReq.EncryptedInvoiceContent)
	assert.Equal(t, security.DigestOf(ct).Hash, f.sendReq.EncryptedInvoiceHash)
}

func TestClose_WipesKeyMaterial(t *testing.T) {
	f := newFakeAuthority(t)
	m, _ := newTestManager(t, f)

	_, err := m.Open(context.Background())
	require.NoError(t, err)
	key := m.active.key

	require.NoError(t, m.Close(context.Background()))
	assert.Equal(t, StateClosed, m.State())
	assert.True(t, key.IsZero())
	assert.Nil(t, m.active)
	assert.Equal(t, "20250301-SO-1", m.ReferenceNumber())

	assert.ErrorIs(t, m.Close(context.Background()), ErrSessionNotActive)
	_, err = m.SendInvoice(context.Background(), []byte("<x/>"), false)
	assert.ErrorIs(t, err, ErrSessionNotActive)

	// A later Open uses fresh key material.
	_, err = m.Open(context.Background())
	require.NoError(t, err)
	assert.False(t, m.active.key.IsZero())
	assert.NotSame(t, key, m.active.key)
}

func TestClose_FailureKeepsSessionActive(t *testing.T) {
	f := newFakeAuthority(t)
	f.closeFails = true
	m, _ := newTestManager(t, f)

	_, err := m.Open(context.Background())
	require.NoError(t, err)
	key := m.active.key

	err = m.Close(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateActive, m.State())
	assert.False(t, key.IsZero())

	m.ForceClose()
	assert.Equal(t, StateForceClosed, m.State())
	assert.True(t, key.IsZero())
	assert.Equal(t, int32(1), f.closeCalls.Load())
}

func TestPollUntilTerminal_NotYetVisible(t *testing.T) {
	f := newFakeAuthority(t)
	f.statuses = []string{"404", "404", `{"status":{"code":200,"description":"Sesja przetworzona"},"invoiceCount":1,"successfulInvoiceCount":1}`}
	m, clock := newTestManager(t, f)

	_, err := m.Open(context.Background())
	require.NoError(t, err)

	st, err := m.PollUntilTerminal(context.Background(), 100*time.Millisecond, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 200, st.Code)
	assert.Equal(t, int32(3), f.polls.Load())
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, clock.Sleeps())
	assert.Equal(t, StateActive, m.State())
}

func TestPollUntilTerminal_RateLimited(t *testing.T) {
	f := newFakeAuthority(t)
	f.statuses = []string{"429", `{"status":{"code":440,"description":"Duplikat faktury"}}`}
	m, clock := newTestManager(t, f)
	m.lastReference = "20250301-SO-1"

	st, err := m.PollUntilTerminal(context.Background(), time.Second, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 440, st.Code)
	assert.Equal(t, []time.Duration{2 * time.Second}, clock.Sleeps())
}

func TestPollUntilTerminal_TimeoutReturnsLastStatus(t *testing.T) {
	f := newFakeAuthority(t)
	f.statuses = []string{`{"status":{"code":150,"description":"processing"}}`}
	m, _ := newTestManager(t, f)
	m.lastReference = "20250301-SO-1"

	st, err := m.PollUntilTerminal(context.Background(), 2*time.Second, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 150, st.Code)
	assert.False(t, m.IsTerminal(st.Code))
}

func TestPollUntilTerminal_TimeoutWithoutStatus(t *testing.T) {
	f := newFakeAuthority(t)
	f.statuses = []string{"404"}
	m, _ := newTestManager(t, f)
	m.lastReference = "20250301-SO-1"

	st, err := m.PollUntilTerminal(context.Background(), time.Second, 5*time.Second)
	assert.Nil(t, st)
	assert.ErrorIs(t, err, retry.ErrTimeout)
}

func TestPollUntilTerminal_NoSession(t *testing.T) {
	m := NewManager(nil, "access", nil, nil)
	_, err := m.PollUntilTerminal(context.Background(), time.Second, time.Second)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestIsTerminal(t *testing.T) {
	m := NewManager(nil, "access", nil, nil)
	for _, code := range []int{200, 405, 415, 420, 430, 435, 440, 445, 500} {
		assert.True(t, m.IsTerminal(code), "code %d", code)
	}
	for _, code := range []int{100, 150, 170, 404} {
		assert.False(t, m.IsTerminal(code), "code %d", code)
	}

	custom := NewManager(nil, "access", &Config{TerminalCodes: []int{200, 999}}, nil)
	assert.True(t, custom.IsTerminal(999))
	assert.False(t, custom.IsTerminal(440))
}

func TestListInvoicesAndUPO(t *testing.T) {
	f := newFakeAuthority(t)
	m, _ := newTestManager(t, f)

	inv, err := m.FindInvoice(context.Background(), "20250301-SO-1", "20250301-EE-1", 10)
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Equal(t, "5265877635-20250301-0100A0B0C0D0-E1", inv.KsefNumber)
	assert.Equal(t, 200, inv.Status.Code)

	missing, err := m.FindInvoice(context.Background(), "20250301-SO-1", "other", 10)
	require.NoError(t, err)
	assert.Nil(t, missing)

	upo, err := m.DownloadUPO(context.Background(), "20250301-SO-1", inv.KsefNumber)
	require.NoError(t, err)
	assert.Equal(t, "<Potwierdzenie/>", string(upo))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "force-closed", StateForceClosed.String())
}
