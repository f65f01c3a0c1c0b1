package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
	"github.com/yndnr/ksefbridge-go/internal/storage"
	"github.com/yndnr/ksefbridge-go/internal/storage/memory"
)

func newDetector(t *testing.T) *DuplicateDetector {
	t.Helper()
	kv := memory.New()
	t.Cleanup(func() { _ = kv.Close() })
	return NewDuplicateDetector(storage.NewSubmissionRepository(kv), nil)
}

func testKey(number string) domain.SubmissionKey {
	return domain.SubmissionKey{IssuerTaxID: testTaxID, DocumentKind: domain.KindVAT, DocumentNumber: number}
}

func TestDuplicateDetector_ClaimThenMark(t *testing.T) {
	d := newDetector(t)
	ctx := context.Background()
	key := testKey("FV/1")

	check, err := d.CheckDuplicate(ctx, key)
	require.NoError(t, err)
	assert.False(t, check.IsDuplicate)
	assert.False(t, check.Pending)

	claimID, err := d.Claim(ctx, key)
	require.NoError(t, err)
	assert.Contains(t, claimID, domain.ClaimIDPrefix)

	check, err = d.CheckDuplicate(ctx, key)
	require.NoError(t, err)
	assert.False(t, check.IsDuplicate)
	assert.True(t, check.Pending)

	require.NoError(t, d.MarkSubmitted(ctx, &domain.SubmissionRecord{
		Key:                     key,
		ClaimID:                 claimID,
		ExchangeReferenceNumber: "REF-1",
	}))

	check, err = d.CheckDuplicate(ctx, key)
	require.NoError(t, err)
	assert.True(t, check.IsDuplicate)
	assert.Equal(t, "REF-1", check.ExistingReference)
	assert.False(t, check.SubmittedAt.IsZero())
}

func TestDuplicateDetector_ClaimSubmittedKey(t *testing.T) {
	d := newDetector(t)
	ctx := context.Background()
	key := testKey("FV/2")
	require.NoError(t, d.MarkSubmitted(ctx, &domain.SubmissionRecord{Key: key, ExchangeReferenceNumber: "REF-2"}))

	_, err := d.Claim(ctx, key)
	var dup *domain.DuplicateFailure
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "REF-2", dup.ExistingReference)
	assert.ErrorIs(t, err, domain.ErrDuplicateSubmission)
}

func TestDuplicateDetector_LiveClaimConflicts(t *testing.T) {
	d := newDetector(t)
	ctx := context.Background()
	key := testKey("FV/3")

	_, err := d.Claim(ctx, key)
	require.NoError(t, err)
	_, err = d.Claim(ctx, key)
	assert.ErrorIs(t, err, domain.ErrSubmissionConflict)
}

func TestDuplicateDetector_StaleClaimIsOvertaken(t *testing.T) {
	d := newDetector(t)
	ctx := context.Background()
	key := testKey("FV/4")

	first, err := d.Claim(ctx, key)
	require.NoError(t, err)

	d.now = func() time.Time { return time.Now().Add(domain.ClaimTTL + time.Minute) }
	check, err := d.CheckDuplicate(ctx, key)
	require.NoError(t, err)
	assert.False(t, check.Pending)

	second, err := d.Claim(ctx, key)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	// The overtaken submitter can no longer record under its claim.
	d.now = time.Now
	err = d.MarkSubmitted(ctx, &domain.SubmissionRecord{Key: key, ClaimID: first, ExchangeReferenceNumber: "A"})
	assert.ErrorIs(t, err, domain.ErrSubmissionConflict)
	require.NoError(t, d.MarkSubmitted(ctx, &domain.SubmissionRecord{Key: key, ClaimID: second, ExchangeReferenceNumber: "B"}))
}

func TestDuplicateDetector_Release(t *testing.T) {
	d := newDetector(t)
	ctx := context.Background()
	key := testKey("FV/5")

	claimID, err := d.Claim(ctx, key)
	require.NoError(t, err)

	require.NoError(t, d.Release(ctx, key, "kbcl-someone-else"))
	check, err := d.CheckDuplicate(ctx, key)
	require.NoError(t, err)
	assert.True(t, check.Pending)

	require.NoError(t, d.Release(ctx, key, claimID))
	check, err = d.CheckDuplicate(ctx, key)
	require.NoError(t, err)
	assert.False(t, check.Pending)

	// Releasing never removes a submitted record.
	require.NoError(t, d.MarkSubmitted(ctx, &domain.SubmissionRecord{Key: key, ExchangeReferenceNumber: "REF"}))
	require.NoError(t, d.Release(ctx, key, claimID))
	check, err = d.CheckDuplicate(ctx, key)
	require.NoError(t, err)
	assert.True(t, check.IsDuplicate)
}

func TestDuplicateDetector_MarkSubmittedTwice(t *testing.T) {
	d := newDetector(t)
	ctx := context.Background()
	key := testKey("FV/6")

	require.NoError(t, d.MarkSubmitted(ctx, &domain.SubmissionRecord{Key: key, ExchangeReferenceNumber: "REF-A"}))
	err := d.MarkSubmitted(ctx, &domain.SubmissionRecord{Key: key, ExchangeReferenceNumber: "REF-B"})
	assert.ErrorIs(t, err, domain.ErrSubmissionConflict)

	check, err := d.CheckDuplicate(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "REF-A", check.ExistingReference)
}

func TestDuplicateDetector_ConcurrentMarkSubmitted(t *testing.T) {
	d := newDetector(t)
	ctx := context.Background()
	key := testKey("FV/7")

	const writers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := d.MarkSubmitted(ctx, &domain.SubmissionRecord{Key: key, ExchangeReferenceNumber: "REF"})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrSubmissionConflict)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)
}

func TestDuplicateDetector_InvalidKey(t *testing.T) {
	d := newDetector(t)
	ctx := context.Background()

	_, err := d.CheckDuplicate(ctx, domain.SubmissionKey{DocumentKind: domain.KindVAT, DocumentNumber: "X"})
	assert.ErrorIs(t, err, domain.ErrMissingArgument)
	_, err = d.Claim(ctx, domain.SubmissionKey{IssuerTaxID: testTaxID, DocumentKind: domain.KindVAT})
	assert.ErrorIs(t, err, domain.ErrMissingArgument)
	err = d.MarkSubmitted(ctx, &domain.SubmissionRecord{})
	assert.ErrorIs(t, err, domain.ErrMissingArgument)
}

func TestDuplicateDetector_SentRecordBlocksClaims(t *testing.T) {
	d := newDetector(t)
	ctx := context.Background()
	key := testKey("FV/SENT/1")

	claimID, err := d.Claim(ctx, key)
	require.NoError(t, err)
	require.NoError(t, d.MarkSent(ctx, &domain.SubmissionRecord{
		Key:                     key,
		ClaimID:                 claimID,
		ExchangeReferenceNumber: "REF-S",
		SessionReference:        "SESS-1",
		Environment:             domain.EnvTest,
	}))

	check, err := d.CheckDuplicate(ctx, key)
	require.NoError(t, err)
	assert.False(t, check.IsDuplicate)
	assert.True(t, check.Pending)
	assert.True(t, check.Sent)
	assert.Equal(t, "REF-S", check.ExistingReference)

	// Sent records never expire like pending claims do.
	d.now = func() time.Time { return time.Now().Add(2 * domain.ClaimTTL) }
	_, err = d.Claim(ctx, key)
	assert.ErrorIs(t, err, domain.ErrSubmissionConflict)

	require.NoError(t, d.MarkSubmitted(ctx, &domain.SubmissionRecord{
		Key: key, ClaimID: claimID, ExchangeReferenceNumber: "REF-S", SessionReference: "SESS-1",
	}))
	// A second confirmation under the same claim is a no-op.
	require.NoError(t, d.MarkSubmitted(ctx, &domain.SubmissionRecord{
		Key: key, ClaimID: claimID, ExchangeReferenceNumber: "REF-S",
	}))

	check, err = d.CheckDuplicate(ctx, key)
	require.NoError(t, err)
	assert.True(t, check.IsDuplicate)
	assert.Equal(t, "REF-S", check.ExistingReference)
}

func TestDuplicateDetector_MarkSentRequiresClaim(t *testing.T) {
	d := newDetector(t)
	ctx := context.Background()
	key := testKey("FV/SENT/2")

	err := d.MarkSent(ctx, &domain.SubmissionRecord{Key: key, ClaimID: "kbcl-other"})
	assert.ErrorIs(t, err, domain.ErrSubmissionConflict)

	claimID, err := d.Claim(ctx, key)
	require.NoError(t, err)
	err = d.MarkSent(ctx, &domain.SubmissionRecord{Key: key, ClaimID: "kbcl-other"})
	assert.ErrorIs(t, err, domain.ErrSubmissionConflict)

	require.NoError(t, d.MarkSent(ctx, &domain.SubmissionRecord{Key: key, ClaimID: claimID, SessionReference: "SESS-2"}))
	require.NoError(t, d.Release(ctx, key, claimID))

	check, err := d.CheckDuplicate(ctx, key)
	require.NoError(t, err)
	assert.False(t, check.Pending)
}
