package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
	"github.com/yndnr/ksefbridge-go/internal/core/validator"
	"github.com/yndnr/ksefbridge-go/internal/exchange"
)

func TestSubmitDocument_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := testRequest("FV/2025/03/001")

	res, err := f.submit.SubmitDocument(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.ReferenceNumber)
	assert.NotEmpty(t, res.SessionReference)
	assert.NotEmpty(t, res.ConfirmationReference)
	assert.NotEmpty(t, res.ConfirmationURL)
	assert.Empty(t, res.Errors)

	received := f.srv.Received()
	require.Len(t, received, 1)
	assert.Contains(t, string(received[0]), "FV/2025/03/001")
	assert.Equal(t, 1, f.srv.Calls(exchange.OpCloseSession))

	rec, err := f.submissions.Get(ctx, domain.NewSubmissionKey(testTaxID, req.Document))
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionSubmitted, rec.Status)
	assert.Equal(t, res.ReferenceNumber, rec.ExchangeReferenceNumber)
	assert.Equal(t, res.SessionReference, rec.SessionReference)
	assert.Equal(t, res.ConfirmationReference, rec.ConfirmationReference)
}

func TestSubmitDocument_DuplicateStopsBeforeAnyRemoteCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.submit.SubmitDocument(ctx, testRequest("FV/1"))
	require.NoError(t, err)
	challenges := f.srv.Calls(exchange.OpChallenge)
	opens := f.srv.Calls(exchange.OpOpenSession)

	res, err := f.submit.SubmitDocument(ctx, testRequest("FV/1"))
	var dup *domain.DuplicateFailure
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, first.ReferenceNumber, dup.ExistingReference)
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, domain.ErrDuplicateSubmission.Code, res.Errors[0].Code)

	assert.Equal(t, challenges, f.srv.Calls(exchange.OpChallenge))
	assert.Equal(t, opens, f.srv.Calls(exchange.OpOpenSession))
}

func TestSubmitDocument_ValidationListsEveryViolation(t *testing.T) {
	f := newFixture(t)
	req := testRequest("")
	req.Document.NetTotal = 150
	req.Document.Items[0].Quantity = 0

	res, err := f.submit.SubmitDocument(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
	assert.False(t, res.Success)

	var got []string
	for _, v := range res.Errors {
		got = append(got, v.Code)
	}
	assert.Contains(t, got, validator.CodeDocumentNumberMissing)
	assert.Contains(t, got, validator.CodeItemQuantityInvalid)
	assert.Contains(t, got, validator.CodeTotalsMismatch)
	assert.Zero(t, f.srv.Calls(exchange.OpChallenge))
}

func TestSubmitDocument_CredentialMustMatchIssuer(t *testing.T) {
	f := newFixture(t)
	req := testRequest("FV/1")
	req.Credential.IssuerTaxID = "5261040828"

	_, err := f.submit.SubmitDocument(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Zero(t, f.srv.Calls(exchange.OpChallenge))
}

func TestSubmitDocument_RemoteDuplicateReleasesClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := testRequest("FV/DUP/1")
	f.srv.DuplicateNumbers["FV/DUP/1"] = true

	res, err := f.submit.SubmitDocument(ctx, req)
	assert.ErrorIs(t, err, domain.ErrDuplicateSubmission)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.ReferenceNumber)

	check, err := f.dedup.CheckDuplicate(ctx, domain.NewSubmissionKey(testTaxID, req.Document))
	require.NoError(t, err)
	assert.False(t, check.IsDuplicate)
	assert.False(t, check.Pending)
}

func TestSubmitDocument_ProcessingFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.srv.SetSessionStatuses(170, 450)
	req := testRequest("FV/2")

	res, err := f.submit.SubmitDocument(ctx, req)
	assert.ErrorIs(t, err, domain.ErrProcessingFailed)
	assert.False(t, res.Success)

	check, err := f.dedup.CheckDuplicate(ctx, domain.NewSubmissionKey(testTaxID, req.Document))
	require.NoError(t, err)
	assert.False(t, check.Pending)

	// The claim was released so a corrected retry goes through.
	f.srv.SetSessionStatuses(200)
	res, err = f.submit.SubmitDocument(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestSubmitDocument_EmptyKindIsKeyedAsVAT(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := testRequest("FV/NOKIND/1")
	req.Document.Kind = ""

	res, err := f.submit.SubmitDocument(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Success)

	rec, err := f.submissions.Get(ctx, domain.SubmissionKey{
		IssuerTaxID: testTaxID, DocumentKind: domain.KindVAT, DocumentNumber: "FV/NOKIND/1",
	})
	require.NoError(t, err)
	assert.Equal(t, res.ReferenceNumber, rec.ExchangeReferenceNumber)

	_, err = f.submit.SubmitDocument(ctx, testRequest("FV/NOKIND/1"))
	assert.ErrorIs(t, err, domain.ErrDuplicateSubmission)
	assert.Len(t, f.srv.Received(), 1)
}

func TestSubmitDocument_TimeoutKeepsSentRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := testRequest("FV/SLOW/1")
	key := domain.NewSubmissionKey(testTaxID, req.Document)
	f.srv.SetSessionStatuses(170)

	first, err := f.submit.SubmitDocument(ctx, req)
	assert.ErrorIs(t, err, domain.ErrPollTimeout)
	assert.False(t, first.Success)
	require.NotEmpty(t, first.ReferenceNumber)

	check, err := f.dedup.CheckDuplicate(ctx, key)
	require.NoError(t, err)
	assert.True(t, check.Pending)
	assert.True(t, check.Sent)
	assert.Equal(t, first.ReferenceNumber, check.ExistingReference)

	// Still processing: the retry is refused without a second send.
	_, err = f.submit.SubmitDocument(ctx, testRequest("FV/SLOW/1"))
	assert.ErrorIs(t, err, domain.ErrSubmissionConflict)
	assert.Len(t, f.srv.Received(), 1)

	// Accepted in the meantime: the retry reports the original reference.
	f.srv.SetSessionStatuses(200)
	res, err := f.submit.SubmitDocument(ctx, testRequest("FV/SLOW/1"))
	var dup *domain.DuplicateFailure
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, first.ReferenceNumber, dup.ExistingReference)
	assert.False(t, res.Success)
	assert.Len(t, f.srv.Received(), 1)

	rec, err := f.submissions.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionSubmitted, rec.Status)
	assert.Equal(t, first.SessionReference, rec.SessionReference)
	assert.NotEmpty(t, rec.ConfirmationReference)
}

func TestSubmitDocument_RejectedAfterTimeoutIsSentAgain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.srv.SetSessionStatuses(170)

	_, err := f.submit.SubmitDocument(ctx, testRequest("FV/SLOW/2"))
	assert.ErrorIs(t, err, domain.ErrPollTimeout)

	// The status check sees the rejection, the new session succeeds.
	f.srv.SetSessionStatuses(450, 200)
	res, err := f.submit.SubmitDocument(ctx, testRequest("FV/SLOW/2"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Len(t, f.srv.Received(), 2)
}

func TestSubmitDocument_ReusesTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, number := range []string{"FV/10", "FV/11", "FV/12"} {
		_, err := f.submit.SubmitDocument(ctx, testRequest(number))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.srv.Calls(exchange.OpRedeemToken))
	assert.Equal(t, 3, f.srv.Calls(exchange.OpOpenSession))
	assert.Equal(t, 1, f.tokens.Len())
}

func TestSubmitDocument_ConcurrentSameDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const submitters = 4
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.submit.SubmitDocument(ctx, testRequest("FV/RACE"))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				assert.True(t, res.Success)
				return
			}
			assert.True(t,
				errors.Is(err, domain.ErrDuplicateSubmission) || errors.Is(err, domain.ErrSubmissionConflict),
				"unexpected error %v", err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	sent := 0
	for _, p := range f.srv.Received() {
		if strings.Contains(string(p), "FV/RACE") {
			sent++
		}
	}
	assert.Equal(t, 1, sent)
}

func TestTestConnection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cred := domain.Credential{IssuerTaxID: testTaxID, Token: "secret-token"}

	res, err := f.submit.TestConnection(ctx, cred)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Zero(t, f.srv.Calls(exchange.OpOpenSession))

	f.srv.ExpectedToken = "another-token"
	res, err = f.submit.TestConnection(ctx, cred)
	assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)
	assert.False(t, res.Success)
	assert.Equal(t, domain.ErrAuthenticationFailed.Code, res.Code)

	res, err = f.submit.TestConnection(ctx, domain.Credential{IssuerTaxID: testTaxID})
	assert.ErrorIs(t, err, domain.ErrMissingArgument)
	assert.False(t, res.Success)
}
