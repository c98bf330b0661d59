package mockserver

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/go-chi/chi/v5"

	"github.com/sirosfoundation/go-ksef/pkg/auth"
	"github.com/sirosfoundation/go-ksef/pkg/message"
	"github.com/sirosfoundation/go-ksef/pkg/security"
)

// challengeTTL bounds how long an issued challenge may be signed
const challengeTTL = 10 * time.Minute

const maxSignedRequestSize = 1 << 20

type authAttempt struct {
	referenceNumber string
	context         auth.ContextIdentifier
	subjectType     string
	certSubject     string
	polls           int
	redeemed        bool
	startedAt       time.Time
}

func (a *authAttempt) complete(pending int) bool {
	return a.polls > pending
}

// newReference builds a reference number in the authority's
// {date}-{kind}-{hex} shape.
func newReference(now time.Time, kind string) string {
	b := make([]byte, 5)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%s-%s-%s", now.UTC().Format("20060102"), kind, strings.ToUpper(hex.EncodeToString(b)))
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	now := s.config.Now().UTC()
	challenge := newReference(now, "CR")

	s.mu.Lock()
	for c, issued := range s.challenges {
		if now.Sub(issued) > challengeTTL {
			delete(s.challenges, c)
		}
	}
	s.challenges[challenge] = now
	s.mu.Unlock()

	jsonResponse(w, http.StatusOK, message.ChallengeResponse{
		Challenge:   challenge,
		Timestamp:   now.Format(time.RFC3339Nano),
		TimestampMs: now.UnixMilli(),
	})
}

// signedAuthRequest is what the mock reads back from a signed AuthTokenRequest
type signedAuthRequest struct {
	challenge   string
	context     auth.ContextIdentifier
	subjectType string
}

func parseAuthTokenRequest(data []byte) (*signedAuthRequest, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("parsing request: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "AuthTokenRequest" {
		return nil, fmt.Errorf("root element is not AuthTokenRequest")
	}
	if ns := root.NamespaceURI(); ns != message.NsAuthToken {
		return nil, fmt.Errorf("unexpected namespace %q", ns)
	}

	req := &signedAuthRequest{}
	if el := root.SelectElement("Challenge"); el != nil {
		req.challenge = strings.TrimSpace(el.Text())
	}
	if el := root.SelectElement("SubjectIdentifierType"); el != nil {
		req.subjectType = strings.TrimSpace(el.Text())
	}
	if el := root.SelectElement("ContextIdentifier"); el != nil {
		if children := el.ChildElements(); len(children) == 1 {
			req.context = auth.ContextIdentifier{
				Type:  auth.ContextIdentifierType(children[0].Tag),
				Value: strings.TrimSpace(children[0].Text()),
			}
		}
	}

	if req.challenge == "" {
		return nil, fmt.Errorf("missing Challenge")
	}
	if err := req.context.Validate(); err != nil {
		return nil, err
	}
	if _, err := auth.ParseSubjectIdentifierType(req.subjectType); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *Server) handleXAdESSignature(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedRequestSize))
	if err != nil {
		jsonException(w, http.StatusBadRequest, 21001, "Nieprawidłowe żądanie", err.Error())
		return
	}

	cert, err := security.VerifyXAdES(body)
	if err != nil {
		s.logger.Info("signature rejected", "error", err)
		jsonException(w, http.StatusBadRequest, 21111, "Nieprawidłowy podpis", err.Error())
		return
	}

	req, err := parseAuthTokenRequest(body)
	if err != nil {
		jsonException(w, http.StatusBadRequest, 21001, "Nieprawidłowe żądanie", err.Error())
		return
	}

	now := s.config.Now().UTC()

	s.mu.Lock()
	issued, ok := s.challenges[req.challenge]
	if ok {
		delete(s.challenges, req.challenge)
	}
	s.mu.Unlock()
	if !ok || now.Sub(issued) > challengeTTL {
		jsonException(w, http.StatusBadRequest, 21112, "Nieznane lub wygasłe wyzwanie", req.challenge)
		return
	}

	attempt := &authAttempt{
		referenceNumber: newReference(now, "AU"),
		context:         req.context,
		subjectType:     req.subjectType,
		certSubject:     cert.Subject.String(),
		startedAt:       now,
	}
	token, exp, err := s.tokens.issue(tokenAuthentication, attempt.referenceNumber, s.config.TokenTTL)
	if err != nil {
		jsonException(w, http.StatusInternalServerError, 500, "Błąd wewnętrzny", err.Error())
		return
	}

	s.mu.Lock()
	s.auths[attempt.referenceNumber] = attempt
	s.mu.Unlock()

	s.logger.Info("authentication started",
		"reference_number", attempt.referenceNumber,
		"context", req.context.Value,
		"certificate_subject", attempt.certSubject)

	jsonResponse(w, http.StatusAccepted, message.AuthInitResponse{
		ReferenceNumber: attempt.referenceNumber,
		AuthenticationToken: &message.TokenInfo{
			Token:      token,
			ValidUntil: exp.Format(time.RFC3339Nano),
		},
		Timestamp: now.Format(time.RFC3339Nano),
	})
}

// attemptFor resolves the attempt bound to the authentication token.
func (s *Server) attemptFor(r *http.Request) *authAttempt {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		return nil
	}
	return s.auths[claims.Subject]
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "referenceNumber")

	s.mu.Lock()
	attempt := s.attemptFor(r)
	if attempt == nil || attempt.referenceNumber != ref {
		s.mu.Unlock()
		jsonException(w, http.StatusNotFound, 21404, "Nie znaleziono uwierzytelnienia", ref)
		return
	}
	attempt.polls++
	done := attempt.complete(s.config.AuthPendingPolls)
	startedAt := attempt.startedAt
	s.mu.Unlock()

	status := &message.StatusInfo{Code: 100, Description: "Uwierzytelnianie w toku"}
	if done {
		status = &message.StatusInfo{Code: 200, Description: "Uwierzytelnianie zakończone sukcesem"}
	}
	jsonResponse(w, http.StatusOK, message.AuthStatusResponse{
		StartDate:            startedAt.Format(time.RFC3339Nano),
		AuthenticationMethod: "QualifiedSignature",
		Status:               status,
	})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	attempt := s.attemptFor(r)
	switch {
	case attempt == nil:
		s.mu.Unlock()
		jsonException(w, http.StatusNotFound, 21404, "Nie znaleziono uwierzytelnienia")
		return
	case !attempt.complete(s.config.AuthPendingPolls):
		s.mu.Unlock()
		jsonException(w, http.StatusBadRequest, 21301, "Uwierzytelnianie w toku")
		return
	case attempt.redeemed:
		s.mu.Unlock()
		jsonException(w, http.StatusBadRequest, 21302, "Token został już wykorzystany")
		return
	}
	attempt.redeemed = true
	subject := attempt.context.Value
	s.mu.Unlock()

	access, accessExp, err := s.tokens.issue(tokenAccess, subject, s.config.TokenTTL)
	if err != nil {
		jsonException(w, http.StatusInternalServerError, 500, "Błąd wewnętrzny", err.Error())
		return
	}
	refresh, refreshExp, err := s.tokens.issue(tokenRefresh, subject, s.config.RefreshTTL)
	if err != nil {
		jsonException(w, http.StatusInternalServerError, 500, "Błąd wewnętrzny", err.Error())
		return
	}

	jsonResponse(w, http.StatusOK, message.RedeemResponse{
		AccessToken:  &message.TokenInfo{Token: access, ValidUntil: accessExp.Format(time.RFC3339Nano)},
		RefreshToken: &message.TokenInfo{Token: refresh, ValidUntil: refreshExp.Format(time.RFC3339Nano)},
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	access, exp, err := s.tokens.issue(tokenAccess, claims.Subject, s.config.TokenTTL)
	if err != nil {
		jsonException(w, http.StatusInternalServerError, 500, "Błąd wewnętrzny", err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, message.RefreshResponse{
		AccessToken: &message.TokenInfo{Token: access, ValidUntil: exp.Format(time.RFC3339Nano)},
	})
}
