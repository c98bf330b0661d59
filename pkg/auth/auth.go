// Package auth provides the KSeF challenge/response authentication flow
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/sirosfoundation/go-ksef/pkg/message"
	"github.com/sirosfoundation/go-ksef/pkg/retry"
)

// Sentinel errors for authentication failures.
var (
	// ErrAuthenticationTimeout indicates the authority did not finish
	// processing the signed request within the configured wait.
	ErrAuthenticationTimeout = errors.New("authentication timed out")

	// ErrNoRefreshToken indicates Refresh was called without a refresh token.
	ErrNoRefreshToken = errors.New("no refresh token")
)

// State is the position of an Authenticator in the flow
type State int

const (
	StateIdle State = iota
	StateChallengeObtained
	StateRequestSigned
	StateSubmitted
	StatePolling
	StateAuthenticated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChallengeObtained:
		return "challenge-obtained"
	case StateRequestSigned:
		return "request-signed"
	case StateSubmitted:
		return "submitted"
	case StatePolling:
		return "polling"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// API is the subset of transport.Client used by the flow
type API interface {
	PostJSON(ctx context.Context, path, token string, in, out any) error
	PostXML(ctx context.Context, path, token string, body []byte, out any) error
	GetJSON(ctx context.Context, path, token string, query url.Values, out any) error
}

// DocumentSigner signs the AuthTokenRequest document
type DocumentSigner interface {
	Sign(document []byte) ([]byte, error)
}

// Config holds authentication settings
type Config struct {
	Context               ContextIdentifier
	SubjectIdentifierType SubjectIdentifierType
	PollInterval          time.Duration
	MaxWait               time.Duration
}

// DefaultConfig returns the default polling settings
func DefaultConfig() *Config {
	return &Config{
		SubjectIdentifierType: SubjectCertificateSubject,
		PollInterval:          1200 * time.Millisecond,
		MaxWait:               30 * time.Second,
	}
}

// Challenge is a parsed authentication challenge
type Challenge struct {
	Challenge  string
	IssuedAtMs int64
}

// Session is the authority's acknowledgement of a signed request
type Session struct {
	ReferenceNumber string
	TemporaryToken  string
	Timestamp       string
}

// Result holds the durable credentials of an authenticated client
type Result struct {
	AccessToken  string
	RefreshToken string
	// SessionToken mirrors AccessToken.
	SessionToken string
	Timestamp    string
	ValidUntil   time.Time
}

// Expired reports whether the access token expires within skew of now.
// Tokens without a known expiry never expire.
func (r *Result) Expired(now time.Time, skew time.Duration) bool {
	if r == nil || r.AccessToken == "" {
		return true
	}
	if r.ValidUntil.IsZero() {
		return false
	}
	return !now.Add(skew).Before(r.ValidUntil)
}

// Authenticator runs the authentication flow against one environment
type Authenticator struct {
	api    API
	signer DocumentSigner
	config *Config
	clock  retry.Clock
	logger *slog.Logger
	state  State
}

// NewAuthenticator creates an authenticator. Zero config fields take defaults.
func NewAuthenticator(api API, signer DocumentSigner, config *Config, logger *slog.Logger) *Authenticator {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.MaxWait <= 0 {
		config.MaxWait = defaults.MaxWait
	}
	if config.SubjectIdentifierType == "" {
		config.SubjectIdentifierType = defaults.SubjectIdentifierType
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		api:    api,
		signer: signer,
		config: config,
		clock:  retry.SystemClock{},
		logger: logger,
	}
}

// WithClock replaces the clock used for polling
func (a *Authenticator) WithClock(clock retry.Clock) *Authenticator {
	a.clock = clock
	return a
}

// State returns the current flow state
func (a *Authenticator) State() State {
	return a.state
}

// GetChallenge obtains a fresh challenge.
func (a *Authenticator) GetChallenge(ctx context.Context) (*Challenge, error) {
	var resp message.ChallengeResponse
	if err := a.api.PostJSON(ctx, "/auth/challenge", "", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}
	if resp.Challenge == "" {
		return nil, &message.ProtocolError{Operation: "auth challenge", Field: "challenge"}
	}
	issuedAt, err := resp.IssuedAt()
	if err != nil {
		return nil, err
	}
	return &Challenge{Challenge: resp.Challenge, IssuedAtMs: issuedAt.UnixMilli()}, nil
}

// BuildRequest renders the unsigned AuthTokenRequest for a challenge.
func (a *Authenticator) BuildRequest(challenge *Challenge) ([]byte, error) {
	return BuildAuthTokenRequest(challenge.Challenge, a.config.Context, a.config.SubjectIdentifierType)
}

// Submit sends a signed AuthTokenRequest.
func (a *Authenticator) Submit(ctx context.Context, signed []byte) (*Session, error) {
	var resp message.AuthInitResponse
	if err := a.api.PostXML(ctx, "/auth/xades-signature", "", signed, &resp); err != nil {
		return nil, fmt.Errorf("failed to submit signed request: %w", err)
	}
	if err := resp.Validate(); err != nil {
		return nil, err
	}
	return &Session{
		ReferenceNumber: resp.ReferenceNumber,
		TemporaryToken:  resp.AuthenticationToken.Token,
		Timestamp:       resp.Timestamp,
	}, nil
}

// WaitForCompletion polls the authentication status until it succeeds,
// fails, or MaxWait elapses.
func (a *Authenticator) WaitForCompletion(ctx context.Context, session *Session) (*message.AuthStatusResponse, error) {
	policy := retry.Policy{
		Name:     "auth status",
		Interval: a.config.PollInterval,
		MaxWait:  a.config.MaxWait,
		Logger:   a.logger,
	}
	path := "/auth/" + url.PathEscape(session.ReferenceNumber)

	status, err := retry.Poll(ctx, a.clock, policy, func(ctx context.Context, attempt int) (*message.AuthStatusResponse, bool, error) {
		var st message.AuthStatusResponse
		if err := a.api.GetJSON(ctx, path, session.TemporaryToken, nil, &st); err != nil {
			return nil, false, err
		}
		if st.Exception != nil {
			return nil, false, st.Exception.AsStatusError()
		}
		if st.Status != nil && st.Status.Code >= 400 {
			return nil, false, message.NewStatusError(*st.Status)
		}
		done := (st.Status != nil && st.Status.Code == 200) || st.Upo != "" || st.ElementReferenceNumber != ""
		return &st, done, nil
	})
	if errors.Is(err, retry.ErrTimeout) {
		return nil, fmt.Errorf("%w: %w", ErrAuthenticationTimeout, err)
	}
	return status, err
}

// Redeem exchanges the temporary token for durable tokens.
func (a *Authenticator) Redeem(ctx context.Context, session *Session) (*Result, error) {
	var resp message.RedeemResponse
	if err := a.api.PostJSON(ctx, "/auth/token/redeem", session.TemporaryToken, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to redeem token: %w", err)
	}
	if resp.AccessToken == nil || resp.AccessToken.Token == "" {
		return nil, &message.ProtocolError{Operation: "auth token redeem", Field: "accessToken.token"}
	}

	result := newResult(resp.AccessToken, session.Timestamp)
	if resp.RefreshToken != nil {
		result.RefreshToken = resp.RefreshToken.Token
	}
	return result, nil
}

// Authenticate runs the full flow from a fresh challenge.
func (a *Authenticator) Authenticate(ctx context.Context) (*Result, error) {
	a.state = StateIdle
	result, err := a.authenticate(ctx)
	if err != nil {
		a.state = StateFailed
		a.logger.Warn("authentication failed", "error", err)
		return nil, err
	}
	a.state = StateAuthenticated
	return result, nil
}

func (a *Authenticator) authenticate(ctx context.Context) (*Result, error) {
	challenge, err := a.GetChallenge(ctx)
	if err != nil {
		return nil, err
	}
	a.state = StateChallengeObtained

	request, err := a.BuildRequest(challenge)
	if err != nil {
		return nil, err
	}
	signed, err := a.signer.Sign(request)
	if err != nil {
		return nil, fmt.Errorf("failed to sign AuthTokenRequest: %w", err)
	}
	a.state = StateRequestSigned

	session, err := a.Submit(ctx, signed)
	if err != nil {
		return nil, err
	}
	a.state = StateSubmitted
	a.logger.Debug("authentication request accepted", "reference_number", session.ReferenceNumber)

	a.state = StatePolling
	if _, err := a.WaitForCompletion(ctx, session); err != nil {
		return nil, err
	}

	result, err := a.Redeem(ctx, session)
	if err != nil {
		return nil, err
	}
	a.logger.Info("authenticated",
		"reference_number", session.ReferenceNumber,
		"valid_until", result.ValidUntil)
	return result, nil
}

// Refresh obtains a new access token with a refresh token.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (*Result, error) {
	if refreshToken == "" {
		return nil, ErrNoRefreshToken
	}
	var resp message.RefreshResponse
	if err := a.api.PostJSON(ctx, "/auth/token/refresh", refreshToken, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	if resp.AccessToken == nil || resp.AccessToken.Token == "" {
		return nil, &message.ProtocolError{Operation: "auth token refresh", Field: "accessToken.token"}
	}
	result := newResult(resp.AccessToken, "")
	result.RefreshToken = refreshToken
	return result, nil
}

func newResult(token *message.TokenInfo, timestamp string) *Result {
	return &Result{
		AccessToken:  token.Token,
		SessionToken: token.Token,
		Timestamp:    timestamp,
		ValidUntil:   tokenExpiry(token),
	}
}

// tokenExpiry prefers the JWT exp claim and falls back to validUntil.
func tokenExpiry(token *message.TokenInfo) time.Time {
	if parsed, err := jwt.ParseInsecure([]byte(token.Token)); err == nil {
		if exp, ok := parsed.Expiration(); ok {
			return exp
		}
	}
	if token.ValidUntil != "" {
		if t, err := time.Parse(time.RFC3339Nano, token.ValidUntil); err == nil {
			return t
		}
	}
	return time.Time{}
}
