package ksef

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/sirosfoundation/go-ksef/pkg/auth"
	"github.com/sirosfoundation/go-ksef/pkg/retry"
	"github.com/sirosfoundation/go-ksef/pkg/security"
	"github.com/sirosfoundation/go-ksef/pkg/session"
)

// API is the transport surface used by the orchestrator. transport.Client
// implements it.
type API interface {
	PostJSON(ctx context.Context, path, token string, in, out any) error
	PostXML(ctx context.Context, path, token string, body []byte, out any) error
	GetJSON(ctx context.Context, path, token string, query url.Values, out any) error
	GetRaw(ctx context.Context, path, token, accept string) ([]byte, error)
}

// Recorder persists submission results
type Recorder interface {
	Record(ctx context.Context, result *SubmitResult) error
}

// Config holds orchestration settings
type Config struct {
	Auth    *auth.Config
	Session *session.Config

	// QRBaseURL is the verification-link host of the environment.
	QRBaseURL string

	// TokenSkew renews the access token this long before it expires.
	TokenSkew time.Duration

	StatusInterval time.Duration
	StatusAttempts int

	MetadataInterval time.Duration
	MetadataAttempts int
	UPOAttempts      int
	PageSize         int
}

// DefaultConfig returns the orchestration defaults
func DefaultConfig() *Config {
	return &Config{
		Auth:             auth.DefaultConfig(),
		Session:          session.DefaultConfig(),
		TokenSkew:        time.Minute,
		StatusInterval:   2 * time.Second,
		StatusAttempts:   30,
		MetadataInterval: 2 * time.Second,
		MetadataAttempts: 10,
		UPOAttempts:      5,
		PageSize:         10,
	}
}

// Client submits invoices to KSeF. Like session.Manager it holds mutable
// credentials and must not be used by concurrent submissions.
type Client struct {
	api           API
	authenticator *auth.Authenticator
	config        *Config
	clock         retry.Clock
	cipher        security.Cipher
	recorder      Recorder
	logger        *slog.Logger

	credentials *auth.Result
}

// NewClient creates an orchestrator. Zero config fields take defaults.
func NewClient(api API, signer auth.DocumentSigner, config *Config, logger *slog.Logger) *Client {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.Auth == nil {
		config.Auth = defaults.Auth
	}
	if config.Session == nil {
		config.Session = defaults.Session
	}
	if config.TokenSkew < 0 {
		config.TokenSkew = 0
	}
	if config.StatusInterval <= 0 {
		config.StatusInterval = defaults.StatusInterval
	}
	if config.StatusAttempts <= 0 {
		config.StatusAttempts = defaults.StatusAttempts
	}
	if config.MetadataInterval <= 0 {
		config.MetadataInterval = defaults.MetadataInterval
	}
	if config.MetadataAttempts <= 0 {
		config.MetadataAttempts = defaults.MetadataAttempts
	}
	if config.UPOAttempts <= 0 {
		config.UPOAttempts = defaults.UPOAttempts
	}
	if config.PageSize <= 0 {
		config.PageSize = defaults.PageSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		api:           api,
		authenticator: auth.NewAuthenticator(api, signer, config.Auth, logger),
		config:        config,
		clock:         retry.SystemClock{},
		cipher:        security.DefaultCipher{},
		logger:        logger,
	}
}

// WithClock replaces the clock used for polling and token expiry
func (c *Client) WithClock(clock retry.Clock) *Client {
	c.clock = clock
	c.authenticator.WithClock(clock)
	return c
}

// WithRecorder stores every submission result
func (c *Client) WithRecorder(r Recorder) *Client {
	c.recorder = r
	return c
}

// WithCipher replaces the session crypto
func (c *Client) WithCipher(cipher security.Cipher) *Client {
	c.cipher = cipher
	return c
}

// Credentials returns the tokens currently held, or nil
func (c *Client) Credentials() *auth.Result {
	return c.credentials
}

// EnsureAuthenticated returns valid credentials, refreshing or
// re-authenticating when the access token is missing or about to expire.
func (c *Client) EnsureAuthenticated(ctx context.Context) (*auth.Result, error) {
	if !c.credentials.Expired(c.clock.Now(), c.config.TokenSkew) {
		return c.credentials, nil
	}

	if c.credentials != nil && c.credentials.RefreshToken != "" {
		refreshed, err := c.authenticator.Refresh(ctx, c.credentials.RefreshToken)
		if err == nil {
			c.logger.Debug("access token refreshed", "valid_until", refreshed.ValidUntil)
			c.credentials = refreshed
			return refreshed, nil
		}
		c.logger.Warn("token refresh failed, re-authenticating", "error", err)
	}

	c.credentials = nil
	result, err := c.authenticator.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	c.credentials = result
	return result, nil
}

// NewSession returns a session manager bearing a valid access token.
func (c *Client) NewSession(ctx context.Context) (*session.Manager, error) {
	creds, err := c.EnsureAuthenticated(ctx)
	if err != nil {
		return nil, err
	}
	return c.newManager(creds.AccessToken), nil
}

func (c *Client) newManager(token string) *session.Manager {
	cfg := *c.config.Session
	cfg.Clock = c.clock
	cfg.Cipher = c.cipher
	return session.NewManager(c.api, token, &cfg, c.logger)
}
