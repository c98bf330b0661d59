// Package transport implements the HTTPS client for the KSeF API with TLS 1.2/1.3
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/sirosfoundation/go-ksef/pkg/message"
)

// TLS version constants
const (
	TLS12 = tls.VersionTLS12
	TLS13 = tls.VersionTLS13
)

// Content types
const (
	ContentTypeJSON = "application/json"
	ContentTypeXML  = "application/xml"
)

// Recommended TLS 1.2 cipher suites
var RecommendedTLS12CipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
}

// Config contains HTTPS client configuration
type Config struct {
	BaseURL string

	// Timeout is the deadline of a single call, including reading the body.
	Timeout         time.Duration
	IdleConnTimeout time.Duration

	MinTLSVersion uint16
	MaxTLSVersion uint16
	CipherSuites  []uint16
	RootCAs       *x509.CertPool

	// RateLimit is the number of requests per second; 0 disables limiting.
	RateLimit float64
	Burst     int

	UserAgent string
	Trace     bool
	Logger    *slog.Logger

	// HTTPClient replaces the client built from the TLS settings.
	HTTPClient *http.Client
}

// DefaultConfig returns a default client configuration for the test environment
func DefaultConfig() *Config {
	return &Config{
		BaseURL:         Test.BaseURL(),
		Timeout:         30 * time.Second,
		IdleConnTimeout: 90 * time.Second,
		MinTLSVersion:   TLS12,
		MaxTLSVersion:   TLS13,
		CipherSuites:    RecommendedTLS12CipherSuites,
		Burst:           1,
		UserAgent:       "go-ksef/1.0",
	}
}

// Client issues requests against one KSeF environment
type Client struct {
	client  *http.Client
	config  *Config
	baseURL *url.URL
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a new API client
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MinTLSVersion == 0 {
		config.MinTLSVersion = defaults.MinTLSVersion
	}
	if config.MaxTLSVersion == 0 {
		config.MaxTLSVersion = defaults.MaxTLSVersion
	}
	if config.CipherSuites == nil {
		config.CipherSuites = defaults.CipherSuites
	}
	if config.IdleConnTimeout <= 0 {
		config.IdleConnTimeout = defaults.IdleConnTimeout
	}
	if config.UserAgent == "" {
		config.UserAgent = defaults.UserAgent
	}

	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, &message.ValidationError{Field: "base URL", Value: config.BaseURL, Err: err}
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		tlsConfig := &tls.Config{
			MinVersion:   config.MinTLSVersion,
			MaxVersion:   config.MaxTLSVersion,
			CipherSuites: config.CipherSuites,
			RootCAs:      config.RootCAs,
		}
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				TLSClientConfig:     tlsConfig,
				IdleConnTimeout:     config.IdleConnTimeout,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
			},
		}
	}

	c := &Client{
		client:  httpClient,
		config:  config,
		baseURL: base,
		logger:  config.Logger,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if config.RateLimit > 0 {
		burst := config.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}
	return c, nil
}

// BaseURL returns the API root the client talks to
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Request describes one API call
type Request struct {
	Method string
	Path   string
	Query  url.Values
	// Token is sent as a bearer token when non-empty.
	Token string
	// JSON is marshalled as the body when non-nil.
	JSON any
	// XML is sent verbatim when non-nil.
	XML    []byte
	Accept string
}

// Response is a successful raw response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Do performs the request and returns the raw response. Non-2xx responses
// are returned as *APIError.
func (c *Client) Do(ctx context.Context, r *Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var body []byte
	contentType := ""
	switch {
	case r.XML != nil:
		body = r.XML
		contentType = ContentTypeXML
	case r.JSON != nil:
		data, err := json.Marshal(r.JSON)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = data
		contentType = ContentTypeJSON
	}

	endpoint := c.resolve(r.Path, r.Query)
	req, err := http.NewRequestWithContext(ctx, r.Method, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	requestID := uuid.NewString()
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	accept := r.Accept
	if accept == "" {
		accept = ContentTypeJSON
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("X-Request-ID", requestID)
	if r.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.Token)
	}

	if c.config.Trace {
		c.logger.Debug("ksef request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.Path,
			"body", redact(body))
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug("ksef response",
		"request_id", requestID,
		"method", r.Method,
		"path", r.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start))
	if c.config.Trace {
		c.logger.Debug("ksef response body", "request_id", requestID, "body", redact(respBody))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			Method:     r.Method,
			Path:       r.Path,
			StatusCode: resp.StatusCode,
			Body:       respBody,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			RequestID:  requestID,
		}
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: respBody}, nil
}

// DoJSON performs the request and decodes a JSON response into out.
// An empty body leaves out untouched.
func (c *Client) DoJSON(ctx context.Context, r *Request, out any) error {
	resp, err := c.Do(ctx, r)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("%s %s: failed to decode response: %w", r.Method, r.Path, err)
	}
	return nil
}

// GetJSON issues a GET and decodes the JSON response
func (c *Client) GetJSON(ctx context.Context, path, token string, query url.Values, out any) error {
	return c.DoJSON(ctx, &Request{Method: http.MethodGet, Path: path, Query: query, Token: token}, out)
}

// PostJSON issues a POST with an optional JSON body and decodes the JSON response
func (c *Client) PostJSON(ctx context.Context, path, token string, in, out any) error {
	return c.DoJSON(ctx, &Request{Method: http.MethodPost, Path: path, Token: token, JSON: in}, out)
}

// PostXML issues a POST with an XML body and decodes the JSON response
func (c *Client) PostXML(ctx context.Context, path, token string, body []byte, out any) error {
	return c.DoJSON(ctx, &Request{Method: http.MethodPost, Path: path, Token: token, XML: body}, out)
}

// GetRaw issues a GET and returns the response body unparsed
func (c *Client) GetRaw(ctx context.Context, path, token, accept string) ([]byte, error) {
	resp, err := c.Do(ctx, &Request{Method: http.MethodGet, Path: path, Token: token, Accept: accept})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) resolve(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

var tokenPattern = regexp.MustCompile(`("(?:token|accessToken|refreshToken|authenticationToken)"\s*:\s*)"[^"]*"`)

func redact(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	return tokenPattern.ReplaceAllString(string(body), `$1"[REDACTED]"`)
}
