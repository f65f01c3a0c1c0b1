package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
	"github.com/yndnr/ksefbridge-go/internal/exchange"
	"github.com/yndnr/ksefbridge-go/internal/exchange/auth"
	"github.com/yndnr/ksefbridge-go/internal/invoicexml"
)

// ============================================================================
// Repository interfaces
// ============================================================================

// CursorStore persists sync high-water marks.
type CursorStore interface {
	Get(ctx context.Context, tenantID string, subject domain.SubjectType) (*domain.SyncCursor, error)
	Advance(ctx context.Context, c *domain.SyncCursor) (bool, error)
	Reset(ctx context.Context, tenantID string, subject domain.SubjectType, to time.Time) error
	List(ctx context.Context, tenantID string) ([]*domain.SyncCursor, error)
}

// MirrorStore persists mirrored documents. Put reports whether the
// document was new.
type MirrorStore interface {
	Put(ctx context.Context, doc *domain.MirroredDocument) (bool, error)
}

// CredentialSource resolves the Exchange credential of a tenant.
type CredentialSource interface {
	Credential(ctx context.Context, t *domain.Tenant) (domain.Credential, error)
}

// ============================================================================
// SyncService
// ============================================================================

// SyncOptions tunes incremental retrieval.
type SyncOptions struct {
	SubjectTypes    []domain.SubjectType
	InitialLookback time.Duration
	MaxWindow       time.Duration
	PageSize        int
	DownloadContent bool
	Auth            auth.Options
}

// DefaultSyncOptions pulls issued and received documents of the last 30 days.
func DefaultSyncOptions() SyncOptions {
	return SyncOptions{
		SubjectTypes:    []domain.SubjectType{domain.SubjectIssuer, domain.SubjectRecipient},
		InitialLookback: 30 * 24 * time.Hour,
		MaxWindow:       90 * 24 * time.Hour,
		PageSize:        100,
		DownloadContent: true,
		Auth:            auth.DefaultOptions(),
	}
}

// SyncService mirrors remote documents of one tenant at a time.
type SyncService struct {
	exchanges   ExchangeResolver
	keys        KeySource
	tokens      *auth.TokenCache
	credentials CredentialSource
	cursors     CursorStore
	mirror      MirrorStore
	opts        SyncOptions
	logger      *slog.Logger
	now         func() time.Time
}

// NewSyncService creates a sync service.
func NewSyncService(
	exchanges ExchangeResolver,
	keys KeySource,
	tokens *auth.TokenCache,
	credentials CredentialSource,
	cursors CursorStore,
	mirror MirrorStore,
	opts SyncOptions,
	logger *slog.Logger,
) *SyncService {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultSyncOptions()
	if len(opts.SubjectTypes) == 0 {
		opts.SubjectTypes = def.SubjectTypes
	}
	if opts.InitialLookback <= 0 {
		opts.InitialLookback = def.InitialLookback
	}
	if opts.MaxWindow <= 0 || opts.MaxWindow > def.MaxWindow {
		opts.MaxWindow = def.MaxWindow
	}
	if opts.PageSize <= 0 {
		opts.PageSize = def.PageSize
	}
	return &SyncService{
		exchanges:   exchanges,
		keys:        keys,
		tokens:      tokens,
		credentials: credentials,
		cursors:     cursors,
		mirror:      mirror,
		opts:        opts,
		logger:      logger,
		now:         time.Now,
	}
}

// SyncTenant pulls documents newer than each subject cursor of t. Subjects
// run sequentially; a failing subject is recorded in the result and the
// next one proceeds. The returned result is never nil.
func (s *SyncService) SyncTenant(ctx context.Context, runID string, t *domain.Tenant) *domain.SyncRunResult {
	result := domain.NewSyncRunResult(runID, t.ID)
	defer func() { result.FinishedAt = time.Now().UTC() }()

	logger := s.logger.With("tenant_id", t.ID, "run_id", runID)

	// 1. Authenticate once for all subjects
	api, pair, err := s.authenticate(ctx, t)
	if err != nil {
		result.AddError("", err)
		logger.Warn("tenant sync authentication failed", "error", err)
		return result
	}

	// 2. Subjects in order
	for _, subject := range s.opts.SubjectTypes {
		if ctx.Err() != nil {
			result.AddError(subject, ctx.Err())
			break
		}
		n, err := s.syncSubject(ctx, api, pair, t, subject)
		result.PerSubjectCounts[subject] = n
		if err != nil {
			if errors.Is(err, domain.ErrUnauthenticated) {
				cred, cerr := s.credentials.Credential(ctx, t)
				if cerr == nil {
					s.tokens.Invalidate(cred)
				}
			}
			result.AddError(subject, err)
			logger.Warn("subject sync failed", "subject", subject, "stored", n, "error", err)
			continue
		}
		logger.Debug("subject synced", "subject", subject, "stored", n)
	}
	return result
}

func (s *SyncService) authenticate(ctx context.Context, t *domain.Tenant) (ExchangeAPI, *domain.AuthTokenPair, error) {
	cred, err := s.credentials.Credential(ctx, t)
	if err != nil {
		return nil, nil, err
	}
	api, err := s.exchanges.Exchange(cred.Environment)
	if err != nil {
		return nil, nil, err
	}
	orch := auth.NewOrchestrator(api, s.keys, s.opts.Auth, s.logger)
	pair, err := s.tokens.Acquire(ctx, orch, cred)
	if err != nil {
		return nil, nil, err
	}
	return api, pair, nil
}

// syncSubject walks [cursor, now] in windows of at most MaxWindow. The
// cursor moves only after every document of a window has been stored.
func (s *SyncService) syncSubject(ctx context.Context, api ExchangeAPI, pair *domain.AuthTokenPair, t *domain.Tenant, subject domain.SubjectType) (int, error) {
	now := s.now().UTC()
	from, err := s.cursorStart(ctx, t.ID, subject, now)
	if err != nil {
		return 0, err
	}

	stored := 0
	for from.Before(now) {
		to := from.Add(s.opts.MaxWindow)
		if to.After(now) {
			to = now
		}

		n, newest, err := s.syncWindow(ctx, api, pair, t, subject, from, to)
		stored += n
		if err != nil {
			return stored, err
		}

		if !newest.IsZero() {
			if _, err := s.cursors.Advance(ctx, &domain.SyncCursor{
				TenantID:      t.ID,
				SubjectType:   subject,
				HighWaterMark: newest,
			}); err != nil {
				return stored, err
			}
		}
		from = to
	}
	return stored, nil
}

func (s *SyncService) cursorStart(ctx context.Context, tenantID string, subject domain.SubjectType, now time.Time) (time.Time, error) {
	c, err := s.cursors.Get(ctx, tenantID, subject)
	if errors.Is(err, domain.ErrNotFound) {
		return now.Add(-s.opts.InitialLookback), nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return c.HighWaterMark, nil
}

// syncWindow stores every document of one window and returns how many were
// new and the newest storage timestamp seen. A truncated result restarts
// the window from the newest timestamp of the truncated listing.
func (s *SyncService) syncWindow(ctx context.Context, api ExchangeAPI, pair *domain.AuthTokenPair, t *domain.Tenant, subject domain.SubjectType, from, to time.Time) (int, time.Time, error) {
	var (
		stored int
		newest time.Time
	)

	for {
		filters := &exchange.QueryFilters{
			SubjectType: subject,
			DateRange: exchange.DateRange{
				DateType: exchange.DateTypePermanentStorage,
				From:     from,
				To:       to,
			},
		}

		truncated := false
		for page := 0; ; page++ {
			resp, err := api.QueryMetadata(ctx, pair.AccessToken, filters, page, s.opts.PageSize)
			if err != nil {
				return stored, newest, err
			}
			for i := range resp.Invoices {
				md := &resp.Invoices[i]
				created, err := s.store(ctx, api, pair, t, subject, md)
				if err != nil {
					return stored, newest, err
				}
				if created {
					stored++
				}
				if md.PermanentStorageDate.After(newest) {
					newest = md.PermanentStorageDate
				}
			}
			if resp.IsTruncated {
				truncated = true
				break
			}
			if !resp.HasMore || len(resp.Invoices) == 0 {
				break
			}
		}

		if !truncated || !newest.After(from) {
			return stored, newest, nil
		}
		from = newest
	}
}

func (s *SyncService) store(ctx context.Context, api ExchangeAPI, pair *domain.AuthTokenPair, t *domain.Tenant, subject domain.SubjectType, md *exchange.InvoiceMetadata) (bool, error) {
	if md.KsefNumber == "" {
		return false, domain.ErrUnexpectedResponse.WithDetails("document without exchange number")
	}

	doc := &domain.MirroredDocument{
		TenantID:       t.ID,
		SubjectType:    subject,
		ExchangeNumber: md.KsefNumber,
		InvoiceNumber:  md.InvoiceNumber,
		SellerTaxID:    md.Seller.TaxID(),
		BuyerTaxID:     md.Buyer.TaxID(),
		IssueDate:      md.IssueDate,
		StoredAt:       md.PermanentStorageDate.UTC(),
		NetAmount:      md.NetAmount,
		GrossAmount:    md.GrossAmount,
		Currency:       md.Currency,
		MirroredAt:     s.now().UTC(),
	}
	if md.FormCode != nil {
		doc.FormCode = md.FormCode.SystemCode
	}

	if s.opts.DownloadContent {
		content, err := api.GetInvoice(ctx, pair.AccessToken, md.KsefNumber)
		if err != nil {
			return false, fmt.Errorf("download %s: %w", md.KsefNumber, err)
		}
		doc.Content = content
		fillFromHeader(doc, content, s.logger)
	}

	fp, err := fingerprint(md, doc.Content)
	if err != nil {
		return false, err
	}
	doc.Fingerprint = fp

	return s.mirror.Put(ctx, doc)
}

// fillFromHeader completes fields the metadata listing left empty.
func fillFromHeader(doc *domain.MirroredDocument, content []byte, logger *slog.Logger) {
	h, err := invoicexml.ParseHeader(content)
	if err != nil {
		logger.Debug("mirrored content is not a structured invoice", "exchange_number", doc.ExchangeNumber, "error", err)
		return
	}
	if doc.InvoiceNumber == "" {
		doc.InvoiceNumber = h.InvoiceNumber
	}
	if doc.IssueDate == "" {
		doc.IssueDate = h.IssueDate
	}
	if doc.SellerTaxID == "" {
		doc.SellerTaxID = h.SellerTaxID
	}
	if doc.BuyerTaxID == "" {
		doc.BuyerTaxID = h.BuyerTaxID
	}
	if doc.Currency == "" {
		doc.Currency = h.Currency
	}
	if doc.FormCode == "" {
		doc.FormCode = h.FormCode.SystemCode
	}
}

// fingerprint hashes the metadata and content of a document so an unchanged
// document is not rewritten on every run.
func fingerprint(md *exchange.InvoiceMetadata, content []byte) (string, error) {
	raw, err := json.Marshal(md)
	if err != nil {
		return "", domain.ErrInternal.WithCause(err)
	}
	h := murmur3.New128()
	h.Write(raw)
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil)), nil
}
