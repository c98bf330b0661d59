package cli

import (
	"context"
	"fmt"

	"github.com/sirosfoundation/go-ksef/internal/config"
	"github.com/sirosfoundation/go-ksef/internal/keystore"
	"github.com/sirosfoundation/go-ksef/internal/storage"
	"github.com/sirosfoundation/go-ksef/internal/storage/memory"
	"github.com/sirosfoundation/go-ksef/internal/storage/mongodb"
	"github.com/sirosfoundation/go-ksef/internal/version"
	"github.com/sirosfoundation/go-ksef/pkg/auth"
	"github.com/sirosfoundation/go-ksef/pkg/ksef"
	"github.com/sirosfoundation/go-ksef/pkg/security"
	"github.com/sirosfoundation/go-ksef/pkg/session"
	"github.com/sirosfoundation/go-ksef/pkg/transport"
)

// endpoints resolves the API root and verification-link host, letting
// explicit URLs override the environment.
func endpoints(c *config.Config) (api, qr string, err error) {
	env, err := transport.ParseEnvironment(c.Environment)
	if err != nil {
		return "", "", err
	}
	api, qr = env.BaseURL(), env.QRBaseURL()
	if c.BaseURL != "" {
		api = c.BaseURL
	}
	if c.QRBaseURL != "" {
		qr = c.QRBaseURL
	}
	return api, qr, nil
}

func newTransport(c *config.Config) (*transport.Client, error) {
	api, _, err := endpoints(c)
	if err != nil {
		return nil, err
	}
	tc := transport.DefaultConfig()
	tc.BaseURL = api
	tc.Timeout = c.Timeout
	tc.RateLimit = c.RateLimit
	tc.Burst = c.Burst
	tc.Trace = c.Trace
	tc.UserAgent = "go-ksef/" + version.Get().Version
	tc.Logger = appLogger
	return transport.NewClient(tc)
}

// newSigner loads the configured credential. The returned provider must be
// closed once signing is done.
func newSigner(ctx context.Context, c *config.Config) (*security.XAdESSigner, keystore.Provider, error) {
	provider, err := keystore.NewProvider(&c.Signing)
	if err != nil {
		return nil, nil, fmt.Errorf("loading signing credential: %w", err)
	}
	cred, err := provider.Credential(ctx)
	if err != nil {
		_ = provider.Close()
		return nil, nil, fmt.Errorf("loading signing credential: %w", err)
	}
	signer, err := security.NewXAdESSigner(cred, security.WithSigningTimeOffset(c.Signing.SigningTimeOffset))
	if err != nil {
		_ = provider.Close()
		return nil, nil, err
	}
	return signer, provider, nil
}

func clientConfig(c *config.Config) (*ksef.Config, error) {
	ctxType, err := auth.ParseContextType(c.Context.Type)
	if err != nil {
		return nil, err
	}
	subject, err := auth.ParseSubjectIdentifierType(c.SubjectIdentifierType)
	if err != nil {
		return nil, err
	}
	_, qr, err := endpoints(c)
	if err != nil {
		return nil, err
	}

	kc := ksef.DefaultConfig()
	kc.Auth = &auth.Config{
		Context:               auth.ContextIdentifier{Type: ctxType, Value: c.Context.Value},
		SubjectIdentifierType: subject,
		PollInterval:          c.Auth.PollInterval,
		MaxWait:               c.Auth.MaxWait,
	}
	if err := kc.Auth.Context.Validate(); err != nil {
		return nil, err
	}
	kc.Session = session.DefaultConfig()
	if len(c.Session.TerminalCodes) > 0 {
		kc.Session.TerminalCodes = c.Session.TerminalCodes
	}
	kc.QRBaseURL = qr
	kc.TokenSkew = c.Auth.TokenSkew
	kc.StatusInterval = c.Session.PollInterval
	kc.StatusAttempts = c.Session.PollAttempts
	kc.MetadataInterval = c.Session.MetadataInterval
	kc.MetadataAttempts = c.Session.MetadataAttempts
	kc.UPOAttempts = c.Session.UPOAttempts
	return kc, nil
}

// clientHandle bundles an orchestrator with the resources behind it
type clientHandle struct {
	*ksef.Client
	api      *transport.Client
	provider keystore.Provider
	store    storage.Store
}

func (h *clientHandle) Close(ctx context.Context) {
	if h.provider != nil {
		_ = h.provider.Close()
	}
	if h.store != nil {
		if err := h.store.Close(ctx); err != nil {
			appLogger.Warn("closing storage", "error", err)
		}
	}
}

func newClient(ctx context.Context, c *config.Config) (*clientHandle, error) {
	kc, err := clientConfig(c)
	if err != nil {
		return nil, err
	}
	api, err := newTransport(c)
	if err != nil {
		return nil, err
	}
	signer, provider, err := newSigner(ctx, c)
	if err != nil {
		return nil, err
	}
	h := &clientHandle{
		Client:   ksef.NewClient(api, signer, kc, appLogger),
		api:      api,
		provider: provider,
	}

	store, err := newStore(ctx, c)
	if err != nil {
		h.Close(ctx)
		return nil, err
	}
	if store != nil {
		h.store = store
		h.WithRecorder(storage.NewRecorder(store))
	}
	return h, nil
}

// newStore opens the configured submission store, or returns nil for "none".
func newStore(ctx context.Context, c *config.Config) (storage.Store, error) {
	switch c.Storage.Type {
	case "memory":
		return memory.NewStore(), nil
	case "mongodb":
		m := c.Storage.MongoDB
		return mongodb.NewStore(ctx, &mongodb.Config{
			URI:        m.URI,
			Database:   m.Database,
			Collection: m.Collection,
			Timeout:    m.Timeout,
		})
	}
	return nil, nil
}
