// Package session drives one online session: open with a fresh encryption
// context, send encrypted documents, close and wait for processing.
package session

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
	"github.com/yndnr/ksefbridge-go/internal/exchange"
	"github.com/yndnr/ksefbridge-go/internal/exchange/certs"
	"github.com/yndnr/ksefbridge-go/pkg/crypto/envelope"
)

// Session status codes.
const (
	StatusOpened     = 100
	StatusProcessing = 170
	StatusProcessed  = 200
	StatusFailureMin = 400
	// StatusDuplicate means the Exchange already holds a document with the
	// same issuer, kind and number.
	StatusDuplicate = 440
)

// API is the subset of the Exchange client used here.
type API interface {
	certs.Fetcher
	Environment() domain.Environment
	OpenOnlineSession(ctx context.Context, accessToken string, req *exchange.OpenSessionRequest) (*exchange.OpenSessionResponse, error)
	SendInvoice(ctx context.Context, accessToken, sessionRef string, req *exchange.SendInvoiceRequest) (*exchange.SendInvoiceResponse, error)
	CloseOnlineSession(ctx context.Context, accessToken, sessionRef string) error
	SessionStatus(ctx context.Context, accessToken, sessionRef string) (*exchange.SessionStatusResponse, error)
}

// KeySource resolves the Exchange encryption keys.
type KeySource interface {
	PublicKey(ctx context.Context, env domain.Environment, f certs.Fetcher, usage certs.Usage) (*rsa.PublicKey, error)
}

// DocumentReference identifies a document accepted into a session.
type DocumentReference struct {
	ReferenceNumber string
	Digest          envelope.Digest
}

// Status is the processing state of a session.
type Status struct {
	Code                  int
	Description           string
	Details               []string
	ConfirmationReference string
	ConfirmationURL       string
	InvoiceCount          int
	SuccessfulCount       int
	FailedCount           int
}

// Terminal reports whether the status is final.
func (s *Status) Terminal() bool {
	return s.Code == StatusProcessed || s.Code >= StatusFailureMin
}

// Manager owns one session at a time. It is held by a single worker and is
// not safe for concurrent use; call Reset after every submission attempt.
type Manager struct {
	api    API
	keys   KeySource
	logger *slog.Logger
	now    func() time.Time

	state       domain.SessionState
	reference   string
	accessToken string
	enc         *envelope.EncryptionContext
	documents   []DocumentReference
}

// NewManager creates a manager in the Unopened state.
func NewManager(api API, keys KeySource, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		api:    api,
		keys:   keys,
		logger: logger,
		now:    time.Now,
		state:  domain.SessionUnopened,
	}
}

// State returns the session state.
func (m *Manager) State() domain.SessionState {
	return m.state
}

// Reference returns the session reference, empty before Open.
func (m *Manager) Reference() string {
	return m.reference
}

// Documents returns the documents accepted so far.
func (m *Manager) Documents() []DocumentReference {
	return append([]DocumentReference(nil), m.documents...)
}

// Open generates an encryption context and opens a session for form.
func (m *Manager) Open(ctx context.Context, pair *domain.AuthTokenPair, form domain.FormCode) (string, error) {
	if m.state != domain.SessionUnopened {
		return "", domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("session is %s; reset before opening another", m.state))
	}
	if !pair.AccessValid(m.now(), 0) {
		return "", domain.ErrUnauthenticated.WithDetails("access token missing or expired")
	}

	pub, err := m.keys.PublicKey(ctx, m.api.Environment(), m.api, certs.UsageSession)
	if err != nil {
		return "", err
	}
	enc, err := envelope.GenerateEncryptionContext(pub)
	if err != nil {
		return "", domain.ErrKeyWrap.WithCause(err)
	}

	resp, err := m.api.OpenOnlineSession(ctx, pair.AccessToken, &exchange.OpenSessionRequest{
		FormCode: form,
		Encryption: exchange.Encryption{
			EncryptedSymmetricKey: enc.WrappedKey,
			InitializationVector:  enc.IV(),
		},
	})
	if err != nil {
		enc.Destroy()
		m.state = domain.SessionFailed
		return "", err
	}
	if resp.ReferenceNumber == "" {
		enc.Destroy()
		m.state = domain.SessionFailed
		return "", domain.ErrUnexpectedResponse.WithDetails("session reference missing")
	}

	m.enc = enc
	m.accessToken = pair.AccessToken
	m.reference = resp.ReferenceNumber
	m.state = domain.SessionOpened
	m.logger.Debug("session opened", "session", m.reference, "form", form.SystemCode)
	return m.reference, nil
}

// Resume attaches the manager to a session opened earlier, possibly by
// another process, so its Status can be read. No documents can be sent.
func (m *Manager) Resume(pair *domain.AuthTokenPair, reference string) error {
	if m.state != domain.SessionUnopened {
		return domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("session is %s; reset before resuming another", m.state))
	}
	if reference == "" {
		return domain.ErrMissingArgument.WithDetails("session reference is required")
	}
	if !pair.AccessValid(m.now(), 0) {
		return domain.ErrUnauthenticated.WithDetails("access token missing or expired")
	}
	m.accessToken = pair.AccessToken
	m.reference = reference
	m.state = domain.SessionProcessing
	return nil
}

// Send encrypts and transmits one document. A failed send aborts the
// session; it is never retried because the Exchange may have accepted it.
func (m *Manager) Send(ctx context.Context, payload []byte) (*DocumentReference, error) {
	if !m.state.CanSend() {
		return nil, domain.ErrNoActiveSession.WithDetails(fmt.Sprintf("session is %s", m.state))
	}

	enc, err := envelope.EncryptPayload(payload, m.enc)
	if err != nil {
		m.state = domain.SessionFailed
		return nil, domain.ErrKeyWrap.WithCause(err)
	}

	resp, err := m.api.SendInvoice(ctx, m.accessToken, m.reference, &exchange.SendInvoiceRequest{
		InvoiceHash:             enc.PlainDigest.SHA256,
		InvoiceSize:             enc.PlainDigest.Size,
		EncryptedInvoiceHash:    enc.CipherDigest.SHA256,
		EncryptedInvoiceSize:    enc.CipherDigest.Size,
		EncryptedInvoiceContent: base64.StdEncoding.EncodeToString(enc.Ciphertext),
	})
	if err != nil {
		m.state = domain.SessionFailed
		return nil, err
	}

	ref := DocumentReference{ReferenceNumber: resp.ReferenceNumber, Digest: enc.PlainDigest}
	m.documents = append(m.documents, ref)
	m.state = domain.SessionDocumentSent
	return &ref, nil
}

// Close ends the session. No documents may be sent afterwards and the
// encryption context is destroyed.
func (m *Manager) Close(ctx context.Context) error {
	if !m.state.CanSend() {
		return domain.ErrNoActiveSession.WithDetails(fmt.Sprintf("session is %s", m.state))
	}
	err := m.api.CloseOnlineSession(ctx, m.accessToken, m.reference)
	m.enc.Destroy()
	if err != nil {
		m.state = domain.SessionFailed
		return err
	}
	m.state = domain.SessionClosed
	m.logger.Debug("session closed", "session", m.reference, "documents", len(m.documents))
	return nil
}

// Status reads the processing status and moves the state accordingly.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	if m.reference == "" {
		return nil, domain.ErrNoActiveSession
	}
	resp, err := m.api.SessionStatus(ctx, m.accessToken, m.reference)
	if err != nil {
		return nil, err
	}

	st := &Status{
		Code:            resp.Status.Code,
		Description:     resp.Status.Description,
		Details:         resp.Status.Details,
		InvoiceCount:    resp.InvoiceCount,
		SuccessfulCount: resp.SuccessfulInvoiceCount,
		FailedCount:     resp.FailedInvoiceCount,
	}
	if resp.UPO != nil && len(resp.UPO.Pages) > 0 {
		st.ConfirmationReference = resp.UPO.Pages[0].ReferenceNumber
		st.ConfirmationURL = resp.UPO.Pages[0].DownloadURL
	}

	switch {
	case st.Code == StatusProcessed:
		m.state = domain.SessionCompleted
	case st.Code >= StatusFailureMin:
		m.state = domain.SessionFailed
	case m.state == domain.SessionClosed:
		m.state = domain.SessionProcessing
	}
	return st, nil
}

// WaitForCompletion polls Status at most attempts times, delay apart,
// until processing finishes.
func (m *Manager) WaitForCompletion(ctx context.Context, attempts int, delay time.Duration) (*Status, error) {
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		st, err := m.Status(ctx)
		if err != nil {
			return nil, err
		}
		switch {
		case st.Code == StatusProcessed:
			return st, nil
		case st.Code == StatusDuplicate:
			return st, domain.ErrDuplicateSubmission.WithDetails(st.Description).WithCause(
				domain.ErrProcessingFailed.WithDetails(fmt.Sprintf("status %d", st.Code)))
		case st.Code >= StatusFailureMin:
			return st, domain.ErrProcessingFailed.WithDetails(fmt.Sprintf("status %d %s", st.Code, st.Description))
		}
		m.logger.Debug("session processing", "session", m.reference, "attempt", attempt, "status", st.Code)
	}
	return nil, domain.ErrPollTimeout.WithDetails(fmt.Sprintf("no terminal status after %d checks", attempts))
}

// Reset discards the session reference and destroys the encryption context
// so the next Open starts clean.
func (m *Manager) Reset() {
	m.enc.Destroy()
	m.enc = nil
	m.reference = ""
	m.accessToken = ""
	m.documents = nil
	m.state = domain.SessionUnopened
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
