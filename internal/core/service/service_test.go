package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
	"github.com/yndnr/ksefbridge-go/internal/exchange/auth"
	"github.com/yndnr/ksefbridge-go/internal/exchange/certs"
	"github.com/yndnr/ksefbridge-go/internal/exchange/exchangetest"
	"github.com/yndnr/ksefbridge-go/internal/storage"
	"github.com/yndnr/ksefbridge-go/internal/storage/memory"
	"github.com/yndnr/ksefbridge-go/pkg/crypto/sealed"
)

const testTaxID = "1234563218"

type fixture struct {
	srv         *exchangetest.Server
	kv          *memory.Engine
	submissions *storage.SubmissionRepository
	cursors     *storage.CursorRepository
	mirror      *storage.MirrorRepository
	tokens      *auth.TokenCache

	dedup   *DuplicateDetector
	submit  *SubmissionService
	tenants *TenantService
	sync    *SyncService
}

func fastAuth() auth.Options {
	return auth.Options{PollAttempts: 3, PollInterval: time.Millisecond}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := exchangetest.New(t)
	kv := memory.New()
	t.Cleanup(func() { _ = kv.Close() })

	f := &fixture{
		srv:         srv,
		kv:          kv,
		submissions: storage.NewSubmissionRepository(kv),
		cursors:     storage.NewCursorRepository(kv),
		mirror:      storage.NewMirrorRepository(kv),
		tokens:      auth.NewTokenCache(0, nil),
	}
	exchanges := SingleExchange(srv.NewClient(t))
	keys := certs.NewStore(time.Hour, nil)

	sealer, err := sealed.NewSealer("a passphrase for service tests")
	require.NoError(t, err)

	f.dedup = NewDuplicateDetector(f.submissions, nil)
	f.submit = NewSubmissionService(exchanges, keys, f.tokens, f.dedup, SubmissionOptions{
		Form:                domain.DefaultFormCode(),
		Auth:                fastAuth(),
		SessionPollAttempts: 5,
		SessionPollInterval: time.Millisecond,
	}, nil)
	f.tenants = NewTenantService(storage.NewTenantRepository(kv), f.cursors, sealer, domain.EnvTest, nil)

	opts := DefaultSyncOptions()
	opts.Auth = fastAuth()
	f.sync = NewSyncService(exchanges, keys, f.tokens, f.tenants, f.cursors, f.mirror, opts, nil)
	return f
}

func testDocument(number string) *domain.Document {
	return &domain.Document{
		Kind:      domain.KindVAT,
		Number:    number,
		IssueDate: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Currency:  "PLN",
		Items:     []domain.LineItem{{Name: "Consulting", Unit: "h", Quantity: 2, UnitPrice: 100, VATRate: 23}},
		NetTotal:  200,
	}
}

func testRequest(number string) *SubmitRequest {
	return &SubmitRequest{
		Document: testDocument(number),
		Issuer: domain.IssuerProfile{
			TaxID:   testTaxID,
			Name:    "Seller Sp. z o.o.",
			Address: domain.Address{CountryCode: "PL", Line1: "ul. Prosta 1, 00-001 Warszawa"},
		},
		Counterparty: domain.Counterparty{
			TaxID:   "5261040828",
			Name:    "Buyer S.A.",
			Address: domain.Address{CountryCode: "PL", Line1: "ul. Krzywa 2, 30-001 Krakow"},
		},
		Credential: domain.Credential{IssuerTaxID: testTaxID, Token: "secret-token"},
	}
}
