package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
	"github.com/yndnr/ksefbridge-go/internal/core/validator"
	"github.com/yndnr/ksefbridge-go/internal/exchange/auth"
	"github.com/yndnr/ksefbridge-go/internal/exchange/session"
	"github.com/yndnr/ksefbridge-go/internal/invoicexml"
)

// SubmissionOptions tunes submissions.
type SubmissionOptions struct {
	Form                domain.FormCode
	Auth                auth.Options
	SessionPollAttempts int
	SessionPollInterval time.Duration
}

// DefaultSubmissionOptions matches the Exchange defaults.
func DefaultSubmissionOptions() SubmissionOptions {
	return SubmissionOptions{
		Form:                domain.DefaultFormCode(),
		Auth:                auth.DefaultOptions(),
		SessionPollAttempts: 30,
		SessionPollInterval: 2 * time.Second,
	}
}

// SubmitRequest carries one document to submit.
type SubmitRequest struct {
	Document     *domain.Document     `json:"document"`
	Issuer       domain.IssuerProfile `json:"issuer"`
	Counterparty domain.Counterparty  `json:"counterparty"`
	Credential   domain.Credential    `json:"-"`
	// WithAttachments raises the payload cap.
	WithAttachments bool `json:"with_attachments,omitempty"`
}

// SubmitResult is the outcome of SubmitDocument.
type SubmitResult struct {
	Success               bool               `json:"success"`
	ReferenceNumber       string             `json:"reference_number,omitempty"`
	SessionReference      string             `json:"session_reference,omitempty"`
	ConfirmationReference string             `json:"confirmation_reference,omitempty"`
	ConfirmationURL       string             `json:"confirmation_url,omitempty"`
	Errors                []domain.Violation `json:"errors,omitempty"`
	Warnings              []domain.Violation `json:"warnings,omitempty"`
}

// ConnectionResult is the outcome of TestConnection.
type ConnectionResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// SubmissionService submits documents to the Exchange.
type SubmissionService struct {
	exchanges ExchangeResolver
	keys      KeySource
	tokens    *auth.TokenCache
	dedup     *DuplicateDetector
	opts      SubmissionOptions
	logger    *slog.Logger
	now       func() time.Time
}

// NewSubmissionService creates a submission service.
func NewSubmissionService(
	exchanges ExchangeResolver,
	keys KeySource,
	tokens *auth.TokenCache,
	dedup *DuplicateDetector,
	opts SubmissionOptions,
	logger *slog.Logger,
) *SubmissionService {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultSubmissionOptions()
	if opts.Form.Value == "" {
		opts.Form = def.Form
	}
	if opts.SessionPollAttempts <= 0 {
		opts.SessionPollAttempts = def.SessionPollAttempts
	}
	return &SubmissionService{
		exchanges: exchanges,
		keys:      keys,
		tokens:    tokens,
		dedup:     dedup,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// Validate runs the offline document checks.
func (s *SubmissionService) Validate(req *SubmitRequest) validator.Result {
	if req.Document == nil {
		return validator.Result{Errors: []domain.Violation{{
			Code: validator.CodeDocumentNumberMissing, Field: "document", Message: "document is required",
		}}}
	}
	return validator.Validate(req.Document, req.Issuer, req.Counterparty)
}

// SubmitDocument validates, encrypts and submits one document and records
// it in the submission ledger. The returned result is never nil; on failure
// its Errors list every violation and err carries the classified cause.
func (s *SubmissionService) SubmitDocument(ctx context.Context, req *SubmitRequest) (*SubmitResult, error) {
	result := &SubmitResult{}

	// 1. Validate document and credential
	vr := s.Validate(req)
	result.Warnings = vr.Warnings
	if !vr.Valid {
		result.Errors = vr.Errors
		return result, vr.Err()
	}
	cred := req.Credential
	if err := cred.Validate(); err != nil {
		return result.fail(err)
	}
	if domain.NormalizeTaxID(cred.IssuerTaxID) != domain.NormalizeTaxID(req.Issuer.TaxID) {
		return result.fail(domain.ErrInvalidArgument.WithDetails("credential does not belong to the issuer"))
	}

	key := domain.NewSubmissionKey(req.Issuer.TaxID, req.Document)
	logger := s.logger.With("submission", key.String())

	// 2. Duplicate pre-check before any cryptographic work
	check, err := s.dedup.CheckDuplicate(ctx, key)
	if err != nil {
		return result.fail(err)
	}
	if check.IsDuplicate {
		return result.fail(&domain.DuplicateFailure{Key: key, ExistingReference: check.ExistingReference})
	}
	if check.Sent {
		if err := s.resolveSent(ctx, check.record, cred, logger); err != nil {
			return result.fail(err)
		}
	}

	// 3. Claim the key for this submitter
	claimID, err := s.dedup.Claim(ctx, key)
	if err != nil {
		return result.fail(err)
	}
	// Once the Exchange holds the document the record outlives this call.
	keep := false
	defer func() {
		if keep {
			return
		}
		s.release(ctx, key, claimID, logger)
	}()

	// 4. Build and check the payload
	payload, err := invoicexml.Build(req.Document, req.Issuer, req.Counterparty, s.opts.Form, s.now())
	if err != nil {
		return result.fail(err)
	}
	if pr := validator.ValidatePayload(payload, req.WithAttachments); !pr.Valid {
		result.Errors = pr.Errors
		return result, validator.PayloadErr(pr)
	}

	// 5. Authenticate
	if cred.Environment == "" {
		cred.Environment = s.exchanges.DefaultEnvironment()
	}
	api, err := s.exchanges.Exchange(cred.Environment)
	if err != nil {
		return result.fail(err)
	}
	orch := auth.NewOrchestrator(api, s.keys, s.opts.Auth, logger)
	pair, err := s.tokens.Acquire(ctx, orch, cred)
	if err != nil {
		return result.fail(err)
	}

	// 6. Open, send, close and wait
	sess := session.NewManager(api, s.keys, logger)
	defer sess.Reset()

	if _, err := sess.Open(ctx, pair, s.opts.Form); err != nil {
		if errors.Is(err, domain.ErrUnauthenticated) {
			s.tokens.Invalidate(cred)
		}
		return result.fail(err)
	}
	result.SessionReference = sess.Reference()

	ref, err := sess.Send(ctx, payload)
	if err != nil {
		return result.fail(err)
	}
	result.ReferenceNumber = ref.ReferenceNumber

	keep = true
	sent := &domain.SubmissionRecord{
		Key:                     key,
		ClaimID:                 claimID,
		ExchangeReferenceNumber: ref.ReferenceNumber,
		SessionReference:        result.SessionReference,
		Environment:             cred.Environment,
	}
	if err := s.dedup.MarkSent(ctx, sent); err != nil {
		// The pending claim still blocks resends until it expires.
		logger.Error("document sent but not recorded", "reference", ref.ReferenceNumber, "error", err)
		return result.fail(err)
	}

	if err := sess.Close(ctx); err != nil {
		logger.Warn("session close failed; submission awaits status check",
			"reference", ref.ReferenceNumber, "session", result.SessionReference, "error", err)
		return result.fail(err)
	}
	st, err := sess.WaitForCompletion(ctx, s.opts.SessionPollAttempts, s.opts.SessionPollInterval)
	if err != nil {
		if st == nil || !st.Terminal() {
			logger.Warn("submission outcome unknown; kept as sent",
				"reference", ref.ReferenceNumber, "session", result.SessionReference, "error", err)
			return result.fail(err)
		}
		// The Exchange rejected the document, so it may be sent again.
		s.release(ctx, key, claimID, logger)
		if errors.Is(err, domain.ErrDuplicateSubmission) {
			// Submitted outside this ledger; the Exchange does not say under which reference.
			err = &domain.DuplicateFailure{Key: key}
		}
		return result.fail(err)
	}
	result.ConfirmationReference = st.ConfirmationReference
	result.ConfirmationURL = st.ConfirmationURL

	// 7. Record the submission
	sent.ConfirmationReference = st.ConfirmationReference
	if err := s.dedup.MarkSubmitted(ctx, sent); err != nil {
		// The Exchange accepted the document; only the local ledger is behind.
		logger.Error("document accepted but not recorded", "reference", ref.ReferenceNumber, "error", err)
		return result.fail(err)
	}
	result.Success = true

	logger.Info("document submitted",
		"tax_id", key.IssuerTaxID,
		"reference", ref.ReferenceNumber,
		"session", result.SessionReference)
	return result, nil
}

// resolveSent asks the Exchange for the session status of a document that
// was transmitted but never confirmed. It returns nil only when the
// Exchange rejected that transmission and the record was released, so the
// document may be sent again.
func (s *SubmissionService) resolveSent(ctx context.Context, rec *domain.SubmissionRecord, cred domain.Credential, logger *slog.Logger) error {
	env := rec.Environment
	if env == "" {
		env = s.exchanges.DefaultEnvironment()
	}
	api, err := s.exchanges.Exchange(env)
	if err != nil {
		return err
	}
	cred.Environment = env
	orch := auth.NewOrchestrator(api, s.keys, s.opts.Auth, logger)
	pair, err := s.tokens.Acquire(ctx, orch, cred)
	if err != nil {
		return err
	}

	sess := session.NewManager(api, s.keys, logger)
	defer sess.Reset()
	if err := sess.Resume(pair, rec.SessionReference); err != nil {
		return err
	}
	st, err := sess.Status(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthenticated) {
			s.tokens.Invalidate(cred)
		}
		return err
	}

	switch {
	case st.Code == session.StatusProcessed:
		done := *rec
		done.ConfirmationReference = st.ConfirmationReference
		if err := s.dedup.MarkSubmitted(ctx, &done); err != nil {
			return err
		}
		logger.Info("earlier transmission confirmed", "reference", rec.ExchangeReferenceNumber, "session", rec.SessionReference)
		return &domain.DuplicateFailure{Key: rec.Key, ExistingReference: rec.ExchangeReferenceNumber}
	case st.Code == session.StatusDuplicate:
		s.release(ctx, rec.Key, rec.ClaimID, logger)
		return &domain.DuplicateFailure{Key: rec.Key}
	case st.Code >= session.StatusFailureMin:
		logger.Warn("earlier transmission rejected; sending again",
			"reference", rec.ExchangeReferenceNumber, "session", rec.SessionReference, "status", st.Code)
		s.release(ctx, rec.Key, rec.ClaimID, logger)
		return nil
	}
	return domain.ErrSubmissionConflict.WithDetails(fmt.Sprintf(
		"%s is still processing in session %s (status %d)", rec.Key, rec.SessionReference, st.Code))
}

func (s *SubmissionService) release(ctx context.Context, key domain.SubmissionKey, claimID string, logger *slog.Logger) {
	// The caller's context may be done already.
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.dedup.Release(releaseCtx, key, claimID); err != nil {
		logger.Error("failed to release submission claim", "claim_id", claimID, "error", err)
	}
}

// TestConnection runs the authentication flow for cred without opening a
// session.
func (s *SubmissionService) TestConnection(ctx context.Context, cred domain.Credential) (*ConnectionResult, error) {
	if err := cred.Validate(); err != nil {
		return connectionFailure(err), err
	}
	if cred.Environment == "" {
		cred.Environment = s.exchanges.DefaultEnvironment()
	}
	api, err := s.exchanges.Exchange(cred.Environment)
	if err != nil {
		return connectionFailure(err), err
	}

	orch := auth.NewOrchestrator(api, s.keys, s.opts.Auth, s.logger)
	if _, err := orch.Authenticate(ctx, cred); err != nil {
		s.logger.Warn("connection test failed", "tax_id", cred.IssuerTaxID, "env", cred.Environment, "error", err)
		return connectionFailure(err), err
	}
	return &ConnectionResult{Success: true}, nil
}

func connectionFailure(err error) *ConnectionResult {
	return &ConnectionResult{Error: err.Error(), Code: domain.GetErrorCode(err)}
}

func (r *SubmitResult) fail(err error) (*SubmitResult, error) {
	var vf *domain.ValidationFailure
	if errors.As(err, &vf) {
		r.Errors = append(r.Errors, vf.Errors...)
		return r, err
	}
	r.Errors = append(r.Errors, domain.Violation{
		Code:    domain.GetErrorCode(err),
		Message: err.Error(),
	})
	return r, err
}
