// Package exchangetest provides an in-process fake of the Exchange API for
// tests. It decrypts what clients send, so tests can assert on plaintext.
package exchangetest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
	"github.com/yndnr/ksefbridge-go/internal/exchange"
	"github.com/yndnr/ksefbridge-go/internal/exchange/governor"
	"github.com/yndnr/ksefbridge-go/pkg/crypto/envelope"
)

// Default tokens issued by the fake.
const (
	AuthToken    = "auth-token-1"
	AccessToken  = "access-token-1"
	RefreshToken = "refresh-token-1"
)

// Document is a remote document served by the query endpoints.
type Document struct {
	Subject  domain.SubjectType
	Metadata exchange.InvoiceMetadata
	Content  []byte
}

type onlineSession struct {
	ctx    *envelope.EncryptionContext
	closed bool
	sent   int
}

// Server is a scripted fake Exchange.
type Server struct {
	*httptest.Server

	Key     *rsa.PrivateKey
	CertDER []byte

	mu sync.Mutex
	// ExpectedToken, when set, makes authentication fail with status 450
	// for any other token.
	ExpectedToken string
	// ChallengeTimestamp is the raw JSON timestamp returned with challenges.
	ChallengeTimestamp string
	// RedeemBody overrides the token redeem response.
	RedeemBody string
	// AccessValidity is the lifetime of issued access tokens.
	AccessValidity time.Duration
	// DuplicateNumbers makes sessions containing these document numbers
	// finish with status 440.
	DuplicateNumbers map[string]bool

	authStatuses    []int
	sessionStatuses []int
	failures        map[string][]int
	calls           map[string]int
	authRefs        map[string]bool
	sessions        map[string]*onlineSession
	received        [][]byte
	documents       []Document
	refSeq          int
}

// New starts a fake Exchange that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "exchangetest"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}

	s := &Server{
		Key:                key,
		CertDER:            der,
		ChallengeTimestamp: `"` + time.Now().UTC().Format(time.RFC3339Nano) + `"`,
		AccessValidity:     15 * time.Minute,
		DuplicateNumbers:   map[string]bool{},
		authStatuses:       []int{200},
		sessionStatuses:    []int{200},
		failures:           map[string][]int{},
		calls:              map[string]int{},
		authRefs:           map[string]bool{},
		sessions:           map[string]*onlineSession{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /security/public-key-certificates", s.track(exchange.OpCertificates, s.handleCertificates))
	mux.HandleFunc("POST /auth/challenge", s.track(exchange.OpChallenge, s.handleChallenge))
	mux.HandleFunc("POST /auth/ksef-token", s.track(exchange.OpSubmitTokenAuth, s.handleTokenAuth))
	mux.HandleFunc("POST /auth/token/redeem", s.track(exchange.OpRedeemToken, s.handleRedeem))
	mux.HandleFunc("POST /auth/token/refresh", s.track(exchange.OpRefreshToken, s.handleRefresh))
	mux.HandleFunc("GET /auth/{ref}", s.track(exchange.OpAuthStatus, s.handleAuthStatus))
	mux.HandleFunc("POST /sessions/online", s.track(exchange.OpOpenSession, s.handleOpen))
	mux.HandleFunc("POST /sessions/online/{ref}/invoices", s.track(exchange.OpSendInvoice, s.handleSend))
	mux.HandleFunc("POST /sessions/online/{ref}/close", s.track(exchange.OpCloseSession, s.handleClose))
	mux.HandleFunc("GET /sessions/online/{ref}/status", s.track(exchange.OpSessionStatus, s.handleSessionStatus))
	mux.HandleFunc("GET /invoices/ksef/{number}", s.track(exchange.OpGetInvoice, s.handleGetInvoice))
	mux.HandleFunc("POST /invoices/query/metadata", s.track(exchange.OpQueryMetadata, s.handleQuery))
	mux.HandleFunc("POST /invoices/exports", s.track(exchange.OpStartExport, s.handleExport))

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// NewClient returns a client for the fake with a fast retry policy.
func (s *Server) NewClient(t testing.TB) *exchange.Client {
	t.Helper()
	gov := governor.New(governor.Config{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}, nil)
	c, err := exchange.NewClient(exchange.Config{BaseURL: s.URL, Environment: domain.EnvTest}, gov, nil)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// SetAuthStatuses scripts successive auth status codes; the last repeats.
func (s *Server) SetAuthStatuses(codes ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authStatuses = codes
}

// SetSessionStatuses scripts successive session status codes; the last repeats.
func (s *Server) SetSessionStatuses(codes ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionStatuses = codes
}

// Fail makes the next calls of operation answer with the given statuses.
func (s *Server) Fail(operation string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[operation] = append(s.failures[operation], statuses...)
}

// Calls returns how often operation was invoked.
func (s *Server) Calls(operation string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[operation]
}

// Received returns the decrypted payloads sent in sessions.
func (s *Server) Received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.received...)
}

// AddDocument publishes a remote document.
func (s *Server) AddDocument(d Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents = append(s.documents, d)
}

func (s *Server) track(operation string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[operation]++
		var status int
		if q := s.failures[operation]; len(q) > 0 {
			status, s.failures[operation] = q[0], q[1:]
		}
		s.mu.Unlock()

		if status != 0 {
			if status == http.StatusTooManyRequests {
				w.Header().Set("Retry-After", "0")
			}
			writeException(w, status, 9999, "scripted failure")
			return
		}
		h(w, r)
	}
}

func (s *Server) nextRef(prefix string) string {
	s.refSeq++
	return fmt.Sprintf("%s-%s-%04d", time.Now().UTC().Format("20060102"), prefix, s.refSeq)
}

func (s *Server) handleCertificates(w http.ResponseWriter, _ *http.Request) {
	cert := base64.StdEncoding.EncodeToString(s.CertDER)
	writeJSON(w, http.StatusOK, []exchange.PublicKeyCertificate{
		{Certificate: cert, ValidFrom: time.Now().Add(-time.Hour), ValidTo: time.Now().Add(24 * time.Hour), Usage: []string{exchange.UsageTokenEncryption}},
		{Certificate: cert, ValidFrom: time.Now().Add(-time.Hour), ValidTo: time.Now().Add(24 * time.Hour), Usage: []string{exchange.UsageSymmetricEncryption}},
	})
}

func (s *Server) handleChallenge(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	ts := s.ChallengeTimestamp
	ref := s.nextRef("CR")
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"challenge":%q,"timestamp":%s}`, ref, ts)
}

func (s *Server) handleTokenAuth(w http.ResponseWriter, r *http.Request) {
	var req exchange.TokenAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Challenge == "" || req.ContextIdentifier.Value == "" {
		writeException(w, http.StatusBadRequest, 21405, "invalid request")
		return
	}
	raw, err := base64.StdEncoding.DecodeString(req.EncryptedToken)
	if err != nil {
		writeException(w, http.StatusBadRequest, 21405, "encryptedToken is not base64")
		return
	}
	plain, err := rsa.DecryptOAEP(sha256.New(), nil, s.Key, raw, nil)
	if err != nil {
		writeException(w, http.StatusBadRequest, 21405, "cannot decrypt token")
		return
	}
	token, ms, ok := strings.Cut(string(plain), "|")
	if _, perr := strconv.ParseInt(ms, 10, 64); !ok || perr != nil {
		writeException(w, http.StatusBadRequest, 21405, "token must be token|timestampMs")
		return
	}

	s.mu.Lock()
	ref := s.nextRef("AU")
	s.authRefs[ref] = s.ExpectedToken == "" || s.ExpectedToken == token
	s.mu.Unlock()

	writeJSON(w, http.StatusAccepted, exchange.AuthInitResponse{
		ReferenceNumber:     ref,
		AuthenticationToken: exchange.TokenInfo{Token: AuthToken, ValidUntil: time.Now().Add(5 * time.Minute)},
	})
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	if !bearer(r, AuthToken) {
		writeException(w, http.StatusUnauthorized, 21301, "invalid authentication token")
		return
	}
	s.mu.Lock()
	valid, known := s.authRefs[r.PathValue("ref")]
	code := pop(&s.authStatuses)
	s.mu.Unlock()

	if !known {
		writeException(w, http.StatusNotFound, 21304, "unknown reference")
		return
	}
	if !valid {
		code = 450
	}
	writeJSON(w, http.StatusOK, exchange.AuthStatusResponse{
		StartDate:            time.Now().UTC(),
		AuthenticationMethod: "Token",
		Status:               exchange.StatusInfo{Code: code, Description: statusDescription(code)},
	})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	if !bearer(r, AuthToken) {
		writeException(w, http.StatusUnauthorized, 21301, "invalid authentication token")
		return
	}
	s.mu.Lock()
	body := s.RedeemBody
	validity := s.AccessValidity
	s.mu.Unlock()

	if body != "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
		return
	}
	writeJSON(w, http.StatusOK, map[string]exchange.TokenInfo{
		"accessToken":  {Token: AccessToken, ValidUntil: time.Now().Add(validity)},
		"refreshToken": {Token: RefreshToken, ValidUntil: time.Now().Add(7 * 24 * time.Hour)},
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !bearer(r, RefreshToken) {
		writeException(w, http.StatusUnauthorized, 21301, "invalid refresh token")
		return
	}
	s.mu.Lock()
	validity := s.AccessValidity
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]exchange.TokenInfo{
		"accessToken": {Token: AccessToken, ValidUntil: time.Now().Add(validity)},
	})
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	if !bearer(r, AccessToken) {
		writeException(w, http.StatusUnauthorized, 21301, "invalid access token")
		return
	}
	var req exchange.OpenSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FormCode.SystemCode == "" {
		writeException(w, http.StatusBadRequest, 21405, "invalid form code")
		return
	}
	ctx, err := s.unwrap(req.Encryption)
	if err != nil {
		writeException(w, http.StatusBadRequest, 21405, err.Error())
		return
	}

	s.mu.Lock()
	ref := s.nextRef("SO")
	s.sessions[ref] = &onlineSession{ctx: ctx}
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, exchange.OpenSessionResponse{ReferenceNumber: ref, ValidUntil: time.Now().Add(12 * time.Hour)})
}

func (s *Server) unwrap(enc exchange.Encryption) (*envelope.EncryptionContext, error) {
	wrapped, err := base64.StdEncoding.DecodeString(enc.EncryptedSymmetricKey)
	if err != nil {
		return nil, fmt.Errorf("encryptedSymmetricKey is not base64")
	}
	key, err := rsa.DecryptOAEP(sha256.New(), nil, s.Key, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot unwrap key")
	}
	iv, err := base64.StdEncoding.DecodeString(enc.InitializationVector)
	if err != nil {
		return nil, fmt.Errorf("initializationVector is not base64")
	}
	return envelope.NewEncryptionContext(key, iv)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if !bearer(r, AccessToken) {
		writeException(w, http.StatusUnauthorized, 21301, "invalid access token")
		return
	}
	var req exchange.SendInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeException(w, http.StatusBadRequest, 21405, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[r.PathValue("ref")]
	if !ok || sess.closed {
		writeException(w, http.StatusBadRequest, 21180, "session is not open")
		return
	}

	cipherText, err := base64.StdEncoding.DecodeString(req.EncryptedInvoiceContent)
	if err != nil {
		writeException(w, http.StatusBadRequest, 21405, "content is not base64")
		return
	}
	if d := envelope.ComputeDigest(cipherText); d.SHA256 != req.EncryptedInvoiceHash || d.Size != req.EncryptedInvoiceSize {
		writeException(w, http.StatusBadRequest, 21405, "encrypted digest mismatch")
		return
	}
	plain, err := envelope.DecryptPayload(cipherText, sess.ctx)
	if err != nil {
		writeException(w, http.StatusBadRequest, 21405, "cannot decrypt content")
		return
	}
	if d := envelope.ComputeDigest(plain); d.SHA256 != req.InvoiceHash || d.Size != req.InvoiceSize {
		writeException(w, http.StatusBadRequest, 21405, "plain digest mismatch")
		return
	}

	sess.sent++
	s.received = append(s.received, plain)
	for number := range s.DuplicateNumbers {
		if strings.Contains(string(plain), number) {
			s.sessionStatuses = []int{440}
		}
	}
	writeJSON(w, http.StatusAccepted, exchange.SendInvoiceResponse{ReferenceNumber: s.nextRef("EE")})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if !bearer(r, AccessToken) {
		writeException(w, http.StatusUnauthorized, 21301, "invalid access token")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[r.PathValue("ref")]
	if !ok || sess.closed {
		writeException(w, http.StatusBadRequest, 21180, "session is not open")
		return
	}
	sess.closed = true
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	if !bearer(r, AccessToken) {
		writeException(w, http.StatusUnauthorized, 21301, "invalid access token")
		return
	}
	ref := r.PathValue("ref")
	s.mu.Lock()
	sess, ok := s.sessions[ref]
	code := pop(&s.sessionStatuses)
	sent := 0
	if ok {
		sent = sess.sent
	}
	s.mu.Unlock()
	if !ok {
		writeException(w, http.StatusNotFound, 21304, "unknown session")
		return
	}

	resp := exchange.SessionStatusResponse{
		Status:       exchange.StatusInfo{Code: code, Description: statusDescription(code)},
		InvoiceCount: sent,
	}
	if code == 200 {
		resp.SuccessfulInvoiceCount = sent
		resp.UPO = &exchange.UPO{Pages: []exchange.UPOPage{{
			ReferenceNumber: ref + "-UPO",
			DownloadURL:     s.URL + "/sessions/" + ref + "/upo",
		}}}
	}
	if code >= 400 {
		resp.FailedInvoiceCount = sent
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	if !bearer(r, AccessToken) {
		writeException(w, http.StatusUnauthorized, 21301, "invalid access token")
		return
	}
	number := r.PathValue("number")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.documents {
		if d.Metadata.KsefNumber == number {
			w.Header().Set("Content-Type", "application/xml")
			_, _ = w.Write(d.Content)
			return
		}
	}
	writeException(w, http.StatusNotFound, 21164, "invoice not found")
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if !bearer(r, AccessToken) {
		writeException(w, http.StatusUnauthorized, 21301, "invalid access token")
		return
	}
	var f exchange.QueryFilters
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		writeException(w, http.StatusBadRequest, 21405, "invalid filters")
		return
	}
	if f.DateRange.To.Sub(f.DateRange.From) > 90*24*time.Hour {
		writeException(w, http.StatusBadRequest, 21405, "date range exceeds 3 months")
		return
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("pageOffset"))
	size, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if size <= 0 {
		size = 10
	}

	s.mu.Lock()
	var matched []exchange.InvoiceMetadata
	for _, d := range s.documents {
		ts := d.Metadata.PermanentStorageDate
		if d.Subject == f.SubjectType && !ts.Before(f.DateRange.From) && !ts.After(f.DateRange.To) {
			matched = append(matched, d.Metadata)
		}
	}
	s.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].PermanentStorageDate.Before(matched[j].PermanentStorageDate)
	})
	resp := exchange.QueryResponse{Invoices: []exchange.InvoiceMetadata{}}
	start := offset * size
	if start < len(matched) {
		end := min(start+size, len(matched))
		resp.Invoices = matched[start:end]
		resp.HasMore = end < len(matched)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if !bearer(r, AccessToken) {
		writeException(w, http.StatusUnauthorized, 21301, "invalid access token")
		return
	}
	var req exchange.ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeException(w, http.StatusBadRequest, 21405, "invalid body")
		return
	}
	if _, err := s.unwrap(req.Encryption); err != nil {
		writeException(w, http.StatusBadRequest, 21405, err.Error())
		return
	}
	s.mu.Lock()
	ref := s.nextRef("EX")
	s.mu.Unlock()
	writeJSON(w, http.StatusAccepted, exchange.ExportResponse{ReferenceNumber: ref})
}

func pop(seq *[]int) int {
	q := *seq
	if len(q) == 0 {
		return 200
	}
	code := q[0]
	if len(q) > 1 {
		*seq = q[1:]
	}
	return code
}

func bearer(r *http.Request, token string) bool {
	return r.Header.Get("Authorization") == "Bearer "+token
}

func statusDescription(code int) string {
	switch {
	case code == 100:
		return "Opened"
	case code == 170:
		return "Closed, processing"
	case code == 200:
		return "Processed"
	case code == 440:
		return "Duplicate invoice"
	case code >= 400:
		return "Failed"
	}
	return "In progress"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeException(w http.ResponseWriter, status, code int, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"exception":{"exceptionDetailList":[{"exceptionCode":%d,"exceptionDescription":%q}]}}`, code, description)
}
