package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirosfoundation/go-ksef/pkg/message"
	"github.com/sirosfoundation/go-ksef/pkg/retry"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.MinTLSVersion != TLS12 {
		t.Errorf("expected MinTLSVersion TLS12, got %d", config.MinTLSVersion)
	}
	if config.MaxTLSVersion != TLS13 {
		t.Errorf("expected MaxTLSVersion TLS13, got %d", config.MaxTLSVersion)
	}
	if config.Timeout != 30*time.Second {
		t.Errorf("expected Timeout 30s, got %v", config.Timeout)
	}
	if config.BaseURL != "https://ksef-test.mf.gov.pl/api/v2" {
		t.Errorf("unexpected base URL %s", config.BaseURL)
	}
}

func TestRecommendedTLS12CipherSuites(t *testing.T) {
	for _, suite := range RecommendedTLS12CipherSuites {
		if tls.CipherSuiteName(suite) == "" {
			t.Errorf("unknown cipher suite: %d", suite)
		}
	}
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	_, err := NewClient(&Config{BaseURL: "not a url"})
	var ve *message.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestEnvironments(t *testing.T) {
	cases := map[string]struct {
		env Environment
		api string
		qr  string
	}{
		"prod":       {Production, "https://ksef.mf.gov.pl/api/v2", "https://qr.ksef.mf.gov.pl"},
		"Production": {Production, "https://ksef.mf.gov.pl/api/v2", "https://qr.ksef.mf.gov.pl"},
		"test":       {Test, "https://ksef-test.mf.gov.pl/api/v2", "https://qr-test.ksef.mf.gov.pl"},
		"demo":       {Demo, "https://ksef-demo.mf.gov.pl/api/v2", "https://qr-demo.ksef.mf.gov.pl"},
	}
	for in, want := range cases {
		env, err := ParseEnvironment(in)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", in, err)
		}
		if env != want.env || env.BaseURL() != want.api || env.QRBaseURL() != want.qr {
			t.Errorf("%s: got %s %s %s", in, env, env.BaseURL(), env.QRBaseURL())
		}
	}

	if _, err := ParseEnvironment("staging"); err == nil {
		t.Error("expected error for unknown environment")
	}
}

func TestClient_PostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/v2/sessions/online" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != ContentTypeJSON {
			t.Errorf("expected content-type %s, got %s", ContentTypeJSON, ct)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer access" {
			t.Errorf("unexpected authorization %q", auth)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID")
		}
		w.Header().Set("Content-Type", ContentTypeJSON)
		w.Write([]byte(`{"referenceNumber":"S-1","timestamp":"2024-01-01T00:00:00Z"}`))
	}))
	defer server.Close()

	client, err := NewClient(&Config{BaseURL: server.URL + "/api/v2/"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out message.OpenSessionResponse
	err = client.PostJSON(context.Background(), "/sessions/online", "access", &message.OpenSessionRequest{FormCode: message.FormCodeFA3}, &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ReferenceNumber != "S-1" {
		t.Errorf("unexpected reference %q", out.ReferenceNumber)
	}
}

func TestClient_PostXML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != ContentTypeXML {
			t.Errorf("expected content-type %s, got %s", ContentTypeXML, ct)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("expected no authorization header")
		}
		w.Write([]byte(`{"referenceNumber":"A-1","authenticationToken":{"token":"tmp"}}`))
	}))
	defer server.Close()

	client, _ := NewClient(&Config{BaseURL: server.URL})

	var out message.AuthInitResponse
	if err := client.PostXML(context.Background(), "/auth/xades-signature", "", []byte("<AuthTokenRequest/>"), &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.AuthenticationToken == nil || out.AuthenticationToken.Token != "tmp" {
		t.Errorf("unexpected token %+v", out.AuthenticationToken)
	}
}

func TestClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"exception":{"exceptionDetailList":[{"exceptionCode":9999,"exceptionDescription":"slow down"}]}}`))
	}))
	defer server.Close()

	client, _ := NewClient(&Config{BaseURL: server.URL})

	err := client.GetJSON(context.Background(), "/sessions/S-1", "access", nil, &struct{}{})
	if !IsRateLimited(err) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	if IsNotFound(err) {
		t.Error("429 must not be classified as not found")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatal("expected APIError")
	}
	if apiErr.RetryAfter != 12*time.Second {
		t.Errorf("expected retry after 12s, got %v", apiErr.RetryAfter)
	}
	if ex := apiErr.Exception(); ex == nil || ex.ExceptionDetailList[0].ExceptionCode != 9999 {
		t.Errorf("expected decoded exception, got %+v", ex)
	}

	var herr retry.HTTPError
	if !errors.As(err, &herr) || herr.HTTPStatus() != http.StatusTooManyRequests {
		t.Error("APIError must satisfy retry.HTTPError")
	}
}

func TestClient_PerCallTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client, _ := NewClient(&Config{BaseURL: server.URL, Timeout: 50 * time.Millisecond})

	_, err := client.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/slow"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, _ := NewClient(&Config{BaseURL: server.URL, RateLimit: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.Do(ctx, &Request{Method: http.MethodGet, Path: "/"}); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestClient_Query(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("pageSize"); got != "10" {
			t.Errorf("expected pageSize=10, got %q", got)
		}
		w.Write([]byte(`{"invoices":[]}`))
	}))
	defer server.Close()

	client, _ := NewClient(&Config{BaseURL: server.URL})
	var out message.SessionInvoicesResponse
	err := client.GetJSON(context.Background(), "/sessions/S-1/invoices", "t", map[string][]string{"pageSize": {"10"}}, &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if d := parseRetryAfter("5", now); d != 5*time.Second {
		t.Errorf("expected 5s, got %v", d)
	}
	if d := parseRetryAfter("", now); d != 0 {
		t.Errorf("expected 0, got %v", d)
	}
	date := now.Add(90 * time.Second).Format(http.TimeFormat)
	if d := parseRetryAfter(date, now); d != 90*time.Second {
		t.Errorf("expected 90s, got %v", d)
	}
	if d := parseRetryAfter("soon", now); d != 0 {
		t.Errorf("expected 0, got %v", d)
	}
}

func TestRedact(t *testing.T) {
	out := redact([]byte(`{"accessToken":{"token":"secret-jwt","validUntil":"x"}}`))
	if strings.Contains(out, "secret-jwt") {
		t.Errorf("token leaked: %s", out)
	}
	if !strings.Contains(out, `"validUntil":"x"`) {
		t.Errorf("unexpected redaction: %s", out)
	}
}
