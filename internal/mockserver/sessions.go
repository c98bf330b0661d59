package mockserver

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sirosfoundation/go-ksef/pkg/invoice"
	"github.com/sirosfoundation/go-ksef/pkg/message"
	"github.com/sirosfoundation/go-ksef/pkg/security"
)

const sessionValidity = 12 * time.Hour

// Session status codes reported by the mock
var (
	statusOpen       = message.StatusInfo{Code: 100, Description: "Sesja interaktywna otwarta"}
	statusProcessing = message.StatusInfo{Code: 170, Description: "Sesja interaktywna zamknięta"}
	statusProcessed  = message.StatusInfo{Code: 200, Description: "Sesja interaktywna przetworzona pomyślnie"}

	invoiceProcessing = message.StatusInfo{Code: 150, Description: "Trwa przetwarzanie"}
	invoiceAccepted   = message.StatusInfo{Code: 200, Description: "Sukces"}
)

type onlineSession struct {
	referenceNumber string
	owner           string
	order           int
	formCode        message.FormCode
	key             []byte
	iv              []byte
	openedAt        time.Time
	closed          bool
	closedAt        time.Time
	statusPolls     int
	terminal        *message.StatusInfo
	invoices        []*storedInvoice
}

type storedInvoice struct {
	ordinal         int
	referenceNumber string
	ksefNumber      string
	invoiceNumber   string
	hash            string
	size            int64
	content         []byte
	offline         bool
	status          message.StatusInfo
	receivedAt      time.Time
}

// ReceivedInvoice is an invoice as decrypted by the mock
type ReceivedInvoice struct {
	SessionReferenceNumber string
	ReferenceNumber        string
	KsefNumber             string
	InvoiceNumber          string
	Hash                   string
	Content                []byte
	Offline                bool
	Status                 message.StatusInfo
	ReceivedAt             time.Time
}

func (i *storedInvoice) received(sessionRef string) ReceivedInvoice {
	return ReceivedInvoice{
		SessionReferenceNumber: sessionRef,
		ReferenceNumber:        i.referenceNumber,
		KsefNumber:             i.ksefNumber,
		InvoiceNumber:          i.invoiceNumber,
		Hash:                   i.hash,
		Content:                slices.Clone(i.content),
		Offline:                i.offline,
		Status:                 i.status,
		ReceivedAt:             i.receivedAt,
	}
}

func (s *Server) sessionsByOpenOrder() []*onlineSession {
	out := make([]*onlineSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	slices.SortFunc(out, func(a, b *onlineSession) int { return a.order - b.order })
	return out
}

// sessionFor looks up a session owned by the caller. Must hold s.mu.
func (s *Server) sessionFor(w http.ResponseWriter, r *http.Request) *onlineSession {
	ref := chi.URLParam(r, "referenceNumber")
	sess, ok := s.sessions[ref]
	if !ok {
		jsonException(w, http.StatusNotFound, 21404, "Nie znaleziono sesji", ref)
		return nil
	}
	if claims := ClaimsFromContext(r.Context()); claims == nil || claims.Subject != sess.owner {
		jsonException(w, http.StatusForbidden, 21303, "Brak uprawnień do sesji", ref)
		return nil
	}
	return sess
}

// newKsefNumber builds {nip}-{yyyymmdd}-{12 hex}-{2 hex}.
func newKsefNumber(nip string, now time.Time) string {
	b := make([]byte, 7)
	_, _ = rand.Read(b)
	h := strings.ToUpper(hex.EncodeToString(b))
	return fmt.Sprintf("%s-%s-%s-%s", nip, now.UTC().Format("20060102"), h[:12], h[12:])
}

func (s *Server) handleCertificates(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, []message.PublicKeyCertificate{{
		Certificate: base64.StdEncoding.EncodeToString(s.encCert.Raw),
		ValidFrom:   s.encCert.NotBefore.UTC(),
		ValidTo:     s.encCert.NotAfter.UTC(),
		Usage:       []string{message.UsageSymmetricKeyEncryption, message.UsageKsefTokenEncryption},
	}})
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req message.OpenSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonException(w, http.StatusBadRequest, 21001, "Nieprawidłowe żądanie", err.Error())
		return
	}
	if req.FormCode.SystemCode == "" || req.FormCode.Value == "" {
		jsonException(w, http.StatusBadRequest, 21001, "Brak kodu formularza")
		return
	}

	wrapped, err := base64.StdEncoding.DecodeString(req.Encryption.EncryptedSymmetricKey)
	if err != nil {
		jsonException(w, http.StatusBadRequest, 21405, "Nieprawidłowy klucz szyfrujący", err.Error())
		return
	}
	key, err := security.UnwrapKey(s.encKey, wrapped)
	if err != nil || len(key) != 32 {
		jsonException(w, http.StatusBadRequest, 21405, "Nieprawidłowy klucz szyfrujący")
		return
	}
	iv, err := base64.StdEncoding.DecodeString(req.Encryption.InitializationVector)
	if err != nil || len(iv) != 16 {
		jsonException(w, http.StatusBadRequest, 21405, "Nieprawidłowy wektor inicjujący")
		return
	}

	now := s.config.Now().UTC()
	claims := ClaimsFromContext(r.Context())

	s.mu.Lock()
	sess := &onlineSession{
		referenceNumber: newReference(now, "SO"),
		owner:           claims.Subject,
		order:           len(s.sessions),
		formCode:        req.FormCode,
		key:             key,
		iv:              iv,
		openedAt:        now,
	}
	s.sessions[sess.referenceNumber] = sess
	s.mu.Unlock()

	s.logger.Info("session opened", "reference_number", sess.referenceNumber, "form_code", req.FormCode.SystemCode)

	jsonResponse(w, http.StatusCreated, message.OpenSessionResponse{
		ReferenceNumber: sess.referenceNumber,
		ValidUntil:      now.Add(sessionValidity).Format(time.RFC3339Nano),
		Timestamp:       now.Format(time.RFC3339Nano),
	})
}

func (s *Server) handleSendInvoice(w http.ResponseWriter, r *http.Request) {
	var req message.SendInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonException(w, http.StatusBadRequest, 21001, "Nieprawidłowe żądanie", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sessionFor(w, r)
	if sess == nil {
		return
	}
	if sess.closed {
		jsonException(w, http.StatusBadRequest, 21180, "Sesja jest zamknięta", sess.referenceNumber)
		return
	}
	if s.faults.RejectInvoices {
		jsonException(w, http.StatusBadRequest, 21405, "Faktura odrzucona")
		return
	}

	ciphertext, err := base64.StdEncoding.DecodeString(req.EncryptedInvoiceContent)
	if err != nil {
		jsonException(w, http.StatusBadRequest, 21405, "Nieprawidłowa treść faktury", err.Error())
		return
	}
	if d := security.DigestOf(ciphertext); d.Hash != req.EncryptedInvoiceHash || d.Size != req.EncryptedInvoiceSize {
		jsonException(w, http.StatusBadRequest, 21406, "Niezgodny skrót zaszyfrowanej faktury")
		return
	}
	plaintext, err := security.Decrypt(sess.key, sess.iv, ciphertext)
	if err != nil {
		jsonException(w, http.StatusBadRequest, 21407, "Nie można odszyfrować faktury", err.Error())
		return
	}
	digest := security.DigestOf(plaintext)
	if digest.Hash != req.InvoiceHash || digest.Size != req.InvoiceSize {
		jsonException(w, http.StatusBadRequest, 21406, "Niezgodny skrót faktury")
		return
	}

	now := s.config.Now().UTC()
	meta, _ := invoice.ParseMeta(plaintext)
	nip := meta.SellerID
	if nip == "" {
		nip = sess.owner
	}

	inv := &storedInvoice{
		ordinal:         len(sess.invoices) + 1,
		referenceNumber: newReference(now, "EE"),
		ksefNumber:      newKsefNumber(nip, now),
		invoiceNumber:   meta.InvoiceNumber,
		hash:            digest.Hash,
		size:            digest.Size,
		content:         plaintext,
		offline:         req.OfflineMode,
		status:          invoiceAccepted,
		receivedAt:      now,
	}
	if s.faults.InvoiceStatus != nil {
		inv.status = *s.faults.InvoiceStatus
		inv.ksefNumber = ""
	}
	sess.invoices = append(sess.invoices, inv)

	s.logger.Info("invoice received",
		"session", sess.referenceNumber,
		"reference_number", inv.referenceNumber,
		"invoice_number", inv.invoiceNumber,
		"size", inv.size)

	jsonResponse(w, http.StatusAccepted, message.SendInvoiceResponse{
		ReferenceNumber: inv.referenceNumber,
		Timestamp:       now.Format(time.RFC3339Nano),
	})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sessionFor(w, r)
	if sess == nil {
		return
	}
	if sess.closed {
		jsonException(w, http.StatusBadRequest, 21180, "Sesja jest zamknięta", sess.referenceNumber)
		return
	}
	sess.closed = true
	sess.closedAt = s.config.Now().UTC()
	clear(sess.key)
	clear(sess.iv)

	s.logger.Info("session closed", "reference_number", sess.referenceNumber, "invoices", len(sess.invoices))
	w.WriteHeader(http.StatusNoContent)
}

// processed reports whether the closed session has reached its terminal
// status. Must hold s.mu.
func (s *Server) processed(sess *onlineSession) bool {
	return sess.terminal != nil
}

// advance moves a closed session toward its terminal status. Must hold s.mu.
func (s *Server) advance(sess *onlineSession) message.StatusInfo {
	switch {
	case !sess.closed:
		return statusOpen
	case sess.terminal != nil:
		return *sess.terminal
	}

	sess.statusPolls++
	if sess.statusPolls <= s.config.SessionPendingPolls {
		return statusProcessing
	}

	terminal := statusProcessed
	if s.faults.SessionStatus != nil {
		terminal = *s.faults.SessionStatus
	}
	sess.terminal = &terminal
	return terminal
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.faults.RateLimitPolls > 0 {
		s.faults.RateLimitPolls--
		w.Header().Set("Retry-After", "1")
		jsonException(w, http.StatusTooManyRequests, 429, "Przekroczono limit zapytań")
		return
	}

	sess := s.sessionFor(w, r)
	if sess == nil {
		return
	}

	status := s.advance(sess)
	total, ok, failed := len(sess.invoices), 0, 0
	for _, inv := range sess.invoices {
		if inv.status.Code >= 400 {
			failed++
		} else {
			ok++
		}
	}

	resp := message.SessionStatus{
		Code:                   status.Code,
		Description:            status.Description,
		Details:                status.Details,
		InvoiceCount:           &total,
		SuccessfulInvoiceCount: &ok,
		FailedInvoiceCount:     &failed,
	}
	if s.processed(sess) && status.Code == statusProcessed.Code {
		resp.Upo = &message.UpoInfo{Pages: []message.UpoPage{{
			ReferenceNumber: sess.referenceNumber + "-UPO-1",
			DownloadURL:     BasePath + "/sessions/" + sess.referenceNumber + "/upo/" + sess.referenceNumber + "-UPO-1",
		}}}
	}
	jsonResponse(w, http.StatusOK, resp)
}

// invoiceView is the metadata entry of an invoice as seen at this point.
// Must hold s.mu.
func (s *Server) invoiceView(sess *onlineSession, inv *storedInvoice) message.SessionInvoice {
	view := message.SessionInvoice{
		OrdinalNumber:   inv.ordinal,
		InvoiceNumber:   inv.invoiceNumber,
		ReferenceNumber: inv.referenceNumber,
		InvoiceHash:     inv.hash,
		Status:          inv.status,
	}
	if !s.processed(sess) && inv.status.Code < 400 {
		view.Status = invoiceProcessing
		return view
	}
	if inv.ksefNumber != "" {
		view.KsefNumber = inv.ksefNumber
		view.InvoicingDate = inv.receivedAt.Format(time.RFC3339Nano)
		view.UpoDownloadURL = BasePath + "/sessions/" + sess.referenceNumber + "/invoices/ksef/" + inv.ksefNumber + "/upo"
	}
	return view
}

func (s *Server) handleSessionInvoices(w http.ResponseWriter, r *http.Request) {
	pageSize := 10
	if raw := r.URL.Query().Get("pageSize"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			jsonException(w, http.StatusBadRequest, 21001, "Nieprawidłowy rozmiar strony", raw)
			return
		}
		pageSize = n
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sessionFor(w, r)
	if sess == nil {
		return
	}

	resp := message.SessionInvoicesResponse{Invoices: []message.SessionInvoice{}}
	for _, inv := range sess.invoices {
		if len(resp.Invoices) == pageSize {
			resp.ContinuationToken = strconv.Itoa(inv.ordinal)
			break
		}
		resp.Invoices = append(resp.Invoices, s.invoiceView(sess, inv))
	}
	jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) handleInvoiceUPO(w http.ResponseWriter, r *http.Request) {
	ksefNumber := chi.URLParam(r, "ksefNumber")

	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sessionFor(w, r)
	if sess == nil {
		return
	}

	for _, inv := range sess.invoices {
		if inv.ksefNumber != ksefNumber || !s.processed(sess) {
			continue
		}
		upo, err := buildInvoiceUPO(sess, inv)
		if err != nil {
			jsonException(w, http.StatusInternalServerError, 500, "Błąd wewnętrzny", err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(upo)
		return
	}
	jsonException(w, http.StatusNotFound, 21404, "Nie znaleziono UPO", ksefNumber)
}
