package mockserver

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sirosfoundation/go-ksef/internal/keystore"
	"github.com/sirosfoundation/go-ksef/pkg/message"
)

// BasePath is the prefix every API route is mounted under
const BasePath = "/api/v2"

// Config tunes the behaviour of the mock authority
type Config struct {
	TokenTTL   time.Duration
	RefreshTTL time.Duration

	// AuthPendingPolls is the number of auth status polls answered with 100
	// before the authentication completes.
	AuthPendingPolls int

	// SessionPendingPolls is the number of status polls of a closed session
	// answered with 170 before the terminal status.
	SessionPendingPolls int

	Now    func() time.Time
	Logger *slog.Logger
}

// DefaultConfig returns the settings used by the mock-server command
func DefaultConfig() *Config {
	return &Config{
		TokenTTL:            15 * time.Minute,
		RefreshTTL:          24 * time.Hour,
		AuthPendingPolls:    1,
		SessionPendingPolls: 1,
	}
}

// Faults injects failures into subsequent requests
type Faults struct {
	// RejectInvoices answers every invoice upload with HTTP 400.
	RejectInvoices bool

	// SessionStatus replaces the terminal status of closed sessions.
	SessionStatus *message.StatusInfo

	// InvoiceStatus replaces the status of accepted invoices.
	InvoiceStatus *message.StatusInfo

	// RateLimitPolls answers that many session status polls with HTTP 429.
	RateLimitPolls int
}

// Server is an in-memory KSeF authority
type Server struct {
	config  *Config
	logger  *slog.Logger
	tokens  *tokenIssuer
	router  chi.Router
	httpSrv *http.Server

	encKey  *rsa.PrivateKey
	encCert *x509.Certificate

	mu         sync.Mutex
	faults     Faults
	challenges map[string]time.Time
	auths      map[string]*authAttempt
	sessions   map[string]*onlineSession
}

// New creates a mock authority with a fresh encryption key and token secret.
func New(cfg *Config) (*Server, error) {
	defaults := DefaultConfig()
	if cfg == nil {
		cfg = defaults
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaults.TokenTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = defaults.RefreshTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	encKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generating encryption key: %w", err)
	}
	encCert, err := keystore.GenerateSelfSigned(encKey,
		pkix.Name{CommonName: "KSeF mock symmetric key encryption", Organization: []string{"go-ksef"}},
		cfg.Now().Add(-24*time.Hour), 2*365*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("generating encryption certificate: %w", err)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generating token secret: %w", err)
	}

	s := &Server{
		config:     cfg,
		logger:     logger,
		tokens:     &tokenIssuer{issuer: "ksef-mock", secret: secret, now: cfg.Now},
		encKey:     encKey,
		encCert:    encCert,
		challenges: make(map[string]time.Time),
		auths:      make(map[string]*authAttempt),
		sessions:   make(map[string]*onlineSession),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)

	r.Route(BasePath, func(r chi.Router) {
		r.Post("/auth/challenge", s.handleChallenge)
		r.Post("/auth/xades-signature", s.handleXAdESSignature)
		r.Get("/security/public-key-certificates", s.handleCertificates)

		r.With(s.withToken(tokenAuthentication)).Get("/auth/{referenceNumber}", s.handleAuthStatus)
		r.With(s.withToken(tokenAuthentication)).Post("/auth/token/redeem", s.handleRedeem)
		r.With(s.withToken(tokenRefresh)).Post("/auth/token/refresh", s.handleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(s.withToken(tokenAccess))
			r.Post("/sessions/online", s.handleOpenSession)
			r.Post("/sessions/online/{referenceNumber}/invoices", s.handleSendInvoice)
			r.Post("/sessions/online/{referenceNumber}/close", s.handleCloseSession)
			r.Get("/sessions/{referenceNumber}", s.handleSessionStatus)
			r.Get("/sessions/{referenceNumber}/invoices", s.handleSessionInvoices)
			r.Get("/sessions/{referenceNumber}/invoices/ksef/{ksefNumber}/upo", s.handleInvoiceUPO)
		})
	})
	return r
}

// ServeHTTP makes the server usable with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.httpSrv = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting mock KSeF authority", "addr", ln.Addr().String(), "base_path", BasePath)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// SetFaults replaces the injected failures.
func (s *Server) SetFaults(f Faults) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = f
}

// EncryptionCertificate returns the certificate published for key wrapping
func (s *Server) EncryptionCertificate() *x509.Certificate {
	return s.encCert
}

// Authentications returns the number of completed signature submissions.
func (s *Server) Authentications() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.auths)
}

// Invoices returns copies of every invoice received, in arrival order.
func (s *Server) Invoices() []ReceivedInvoice {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ReceivedInvoice
	for _, sess := range s.sessionsByOpenOrder() {
		for _, inv := range sess.invoices {
			out = append(out, inv.received(sess.referenceNumber))
		}
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// withToken requires a bearer token of the given kind
func (s *Server) withToken(kind tokenKind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := s.tokens.validate(extractBearerToken(r), kind)
			if err != nil {
				s.logger.Debug("token rejected", "path", r.URL.Path, "kind", kind, "error", err)
				jsonException(w, http.StatusUnauthorized, 21301, "Brak autoryzacji", err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(contextWithClaims(r.Context(), claims)))
		})
	}
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// jsonException writes the authority's exception envelope
func jsonException(w http.ResponseWriter, status, code int, description string, details ...string) {
	jsonResponse(w, status, map[string]any{
		"exception": message.Exception{
			ServiceCode: "ksef-mock",
			ExceptionDetailList: []message.ExceptionDetail{{
				ExceptionCode:        code,
				ExceptionDescription: description,
				Details:              details,
			}},
		},
	})
}
