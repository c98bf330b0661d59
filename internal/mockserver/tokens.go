package mockserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

// Sentinel errors for bearer token failures.
var (
	// ErrNoToken indicates no Authorization header or Bearer token was provided.
	ErrNoToken = errors.New("no authorization token provided")

	// ErrInvalidToken indicates the token is malformed or has an invalid signature.
	ErrInvalidToken = errors.New("invalid authorization token")

	// ErrTokenExpired indicates the token's exp claim is in the past.
	ErrTokenExpired = errors.New("token has expired")

	// ErrWrongTokenType indicates a valid token used on the wrong endpoint,
	// e.g. a refresh token presented as an access token.
	ErrWrongTokenType = errors.New("wrong token type")
)

type tokenKind string

const (
	tokenAuthentication tokenKind = "authentication"
	tokenAccess         tokenKind = "access"
	tokenRefresh        tokenKind = "refresh"
)

const claimTokenType = "ksef_token_type"

// Claims are the fields the mock reads back from its own tokens
type Claims struct {
	Subject   string
	Kind      tokenKind
	ExpiresAt time.Time
}

// tokenIssuer signs and validates HS256 tokens with a per-process secret
type tokenIssuer struct {
	issuer string
	secret []byte
	now    func() time.Time
}

func (t *tokenIssuer) issue(kind tokenKind, subject string, ttl time.Duration) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(ttl)

	tok, err := jwt.NewBuilder().
		Issuer(t.issuer).
		Subject(subject).
		IssuedAt(now).
		Expiration(exp).
		JwtID(uuid.NewString()).
		Claim(claimTokenType, string(kind)).
		Build()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("building token: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256(), t.secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return string(signed), exp, nil
}

func (t *tokenIssuer) validate(raw string, kind tokenKind) (*Claims, error) {
	if raw == "" {
		return nil, ErrNoToken
	}

	tok, err := jwt.Parse([]byte(raw), jwt.WithKey(jwa.HS256(), t.secret), jwt.WithValidate(false))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	exp, ok := tok.Expiration()
	if !ok || !t.now().Before(exp) {
		return nil, ErrTokenExpired
	}

	var typ string
	if err := tok.Get(claimTokenType, &typ); err != nil || tokenKind(typ) != kind {
		return nil, ErrWrongTokenType
	}

	sub, _ := tok.Subject()
	return &Claims{Subject: sub, Kind: kind, ExpiresAt: exp}, nil
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

type contextKey string

const claimsContextKey contextKey = "mock_claims"

// ClaimsFromContext retrieves claims from context
func ClaimsFromContext(ctx context.Context) *Claims {
	if v, ok := ctx.Value(claimsContextKey).(*Claims); ok {
		return v
	}
	return nil
}

func contextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}
