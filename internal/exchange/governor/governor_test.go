package governor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
)

func newTestGovernor(attempts int) (*Governor, *[]time.Duration) {
	g := New(Config{
		MaxAttempts:       attempts,
		BaseDelay:         100 * time.Millisecond,
		MaxDelay:          time.Second,
		RequestsPerSecond: 0,
		Burst:             1,
	}, nil)
	g.jitter = func(d time.Duration) time.Duration { return d }
	var slept []time.Duration
	g.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return g, &slept
}

func TestDo_SuccessFirstAttempt(t *testing.T) {
	g, slept := newTestGovernor(3)
	calls := 0
	err := g.Do(context.Background(), Call{Operation: "op", Idempotent: true}, func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)
}

func TestDo_RetriesIdempotentWithBackoff(t *testing.T) {
	g, slept := newTestGovernor(4)
	calls := 0
	err := g.Do(context.Background(), Call{Operation: "status", Idempotent: true}, func(context.Context) error {
		calls++
		return &StatusError{StatusCode: http.StatusServiceUnavailable}
	})
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, *slept)
}

func TestDo_NeverRetriesNonIdempotent(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusBadGateway} {
		g, slept := newTestGovernor(5)
		calls := 0
		err := g.Do(context.Background(), Call{Operation: "send", Idempotent: false}, func(context.Context) error {
			calls++
			return &StatusError{StatusCode: status}
		})
		assert.True(t, domain.IsRetryable(err))
		assert.Equal(t, 1, calls, "status %d", status)
		assert.Empty(t, *slept)
	}
}

func TestDo_FatalNotRetried(t *testing.T) {
	g, _ := newTestGovernor(5)
	calls := 0
	err := g.Do(context.Background(), Call{Operation: "q", Idempotent: true}, func(context.Context) error {
		calls++
		return &StatusError{StatusCode: http.StatusBadRequest, Message: "bad filter"}
	})
	assert.ErrorIs(t, err, domain.ErrRemoteRejected)
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
	assert.Equal(t, 1, calls)
}

func TestDo_HonorsRetryAfter(t *testing.T) {
	g, slept := newTestGovernor(3)
	calls := 0
	err := g.Do(context.Background(), Call{Operation: "q", Idempotent: true}, func(context.Context) error {
		calls++
		if calls == 1 {
			return &StatusError{StatusCode: http.StatusTooManyRequests, RetryAfter: 7 * time.Second}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{7 * time.Second}, *slept)
}

func TestDo_CancelledDuringBackoff(t *testing.T) {
	g := New(Config{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- g.Do(ctx, Call{Operation: "q", Idempotent: true}, func(context.Context) error {
			calls++
			return &StatusError{StatusCode: http.StatusServiceUnavailable}
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancel")
	}
}

func TestDo_Metrics(t *testing.T) {
	g, _ := newTestGovernor(2)
	reg := prometheus.NewRegistry()
	g.RegisterMetrics(reg)

	_ = g.Do(context.Background(), Call{Operation: "status", Idempotent: true}, func(context.Context) error {
		return &StatusError{StatusCode: http.StatusInternalServerError}
	})

	assert.Equal(t, 2.0, testutil.ToFloat64(g.attempts.WithLabelValues("status", domain.ErrTransport.Code)))
	assert.Equal(t, 1.0, testutil.ToFloat64(g.retries.WithLabelValues("status")))
}

func TestBackoff_Capped(t *testing.T) {
	g, _ := newTestGovernor(10)
	assert.Equal(t, 100*time.Millisecond, g.Backoff(1))
	assert.Equal(t, 800*time.Millisecond, g.Backoff(4))
	assert.Equal(t, time.Second, g.Backoff(5))
	assert.Equal(t, time.Second, g.Backoff(9))
}

func TestDo_JittersBackoff(t *testing.T) {
	g, slept := newTestGovernor(6)
	g.jitter = equalJitter
	_ = g.Do(context.Background(), Call{Operation: "status", Idempotent: true}, func(context.Context) error {
		return &StatusError{StatusCode: http.StatusServiceUnavailable}
	})
	require.Len(t, *slept, 5)
	for i, d := range *slept {
		ceiling := g.Backoff(i + 1)
		assert.GreaterOrEqual(t, d, ceiling/2, "attempt %d", i+1)
		assert.LessOrEqual(t, d, ceiling, "attempt %d", i+1)
	}
}

func TestEqualJitter(t *testing.T) {
	assert.Zero(t, equalJitter(0))
	seen := map[time.Duration]bool{}
	for i := 0; i < 200; i++ {
		d := equalJitter(time.Second)
		require.True(t, d >= 500*time.Millisecond && d <= time.Second, "got %v", d)
		seen[d] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"429", &StatusError{StatusCode: 429}, domain.ErrRateLimited},
		{"500", &StatusError{StatusCode: 500}, domain.ErrTransport},
		{"503", &StatusError{StatusCode: 503}, domain.ErrTransport},
		{"401", &StatusError{StatusCode: 401}, domain.ErrUnauthenticated},
		{"403", &StatusError{StatusCode: 403}, domain.ErrUnauthenticated},
		{"404", &StatusError{StatusCode: 404}, domain.ErrRemoteRejected},
		{"3xx", &StatusError{StatusCode: 302}, domain.ErrProtocol},
		{"net", &net.OpError{Op: "dial", Err: errors.New("refused")}, domain.ErrTransport},
		{"domain passthrough", domain.ErrUnexpectedResponse, domain.ErrUnexpectedResponse},
		{"context", context.Canceled, context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, Classify(tt.err), tt.want)
		})
	}
	assert.NoError(t, Classify(nil))
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 30*time.Second, ParseRetryAfter("30", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("-1", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("soon", now))
	assert.Equal(t, 90*time.Second, ParseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
}
