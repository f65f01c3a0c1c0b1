// Package governor wraps every outbound Exchange call with the shared rate
// limit, error classification and bounded exponential backoff.
package governor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
)

// Config tunes the governor.
type Config struct {
	MaxAttempts       int           `koanf:"max_attempts"`
	BaseDelay         time.Duration `koanf:"base_delay"`
	MaxDelay          time.Duration `koanf:"max_delay"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Burst             int           `koanf:"burst"`
}

// DefaultConfig returns the default retry policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       5,
		BaseDelay:         500 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		RequestsPerSecond: 5,
		Burst:             5,
	}
}

// Call describes one logical outbound operation.
type Call struct {
	// Operation names the endpoint for logs and metrics.
	Operation string

	// Idempotent marks calls that may be repeated without a visible side
	// effect at the Exchange. Non-idempotent calls are never retried.
	Idempotent bool
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	StatusCode int
	RetryAfter time.Duration
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("exchange responded %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("exchange responded %d: %s", e.StatusCode, e.Message)
}

// Governor enforces the global outbound rate and retry policy.
type Governor struct {
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	jitter  func(d time.Duration) time.Duration

	attempts *prometheus.CounterVec
	retries  *prometheus.CounterVec
}

// New creates a governor. A nil logger uses slog.Default.
func New(cfg Config, logger *slog.Logger) *Governor {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Governor{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  logger,
		sleep:   sleepContext,
		jitter:  equalJitter,
	}
}

// RegisterMetrics registers attempt and retry counters.
func (g *Governor) RegisterMetrics(registry prometheus.Registerer) *Governor {
	g.attempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ksefbridge",
		Subsystem: "exchange",
		Name:      "calls_total",
		Help:      "Outbound Exchange call attempts by operation and outcome",
	}, []string{"operation", "outcome"})
	g.retries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ksefbridge",
		Subsystem: "exchange",
		Name:      "retries_total",
		Help:      "Outbound Exchange call retries by operation",
	}, []string{"operation"})
	registry.MustRegister(g.attempts, g.retries)
	return g
}

// Do runs fn under the rate limit and retry policy and returns the
// classified error of the last attempt.
func (g *Governor) Do(ctx context.Context, call Call, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if werr := g.limiter.Wait(ctx); werr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return domain.ErrRateLimited.WithCause(werr)
		}

		err = Classify(fn(ctx))
		g.observe(call.Operation, err)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !domain.IsRetryable(err) || !call.Idempotent || attempt >= g.cfg.MaxAttempts {
			return err
		}

		delay := g.jitter(g.Backoff(attempt))
		var se *StatusError
		if errors.As(err, &se) && se.RetryAfter > 0 {
			delay = se.RetryAfter
		}

		g.logger.Warn("exchange call failed, retrying",
			"operation", call.Operation,
			"attempt", attempt,
			"delay", delay,
			"error", err)
		if g.retries != nil {
			g.retries.WithLabelValues(call.Operation).Inc()
		}

		if serr := g.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
}

// Backoff returns the delay ceiling after the given failed attempt: base
// doubled per attempt and capped at MaxDelay. Do waits a random duration
// between half of it and all of it so tenant workers do not retry in step.
func (g *Governor) Backoff(attempt int) time.Duration {
	d := g.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= g.cfg.MaxDelay {
			return g.cfg.MaxDelay
		}
	}
	return d
}

func equalJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	half := d / 2
	return half + rand.N(d-half+1)
}

func (g *Governor) observe(operation string, err error) {
	if g.attempts == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = domain.GetErrorCode(err)
		if outcome == "" {
			outcome = "error"
		}
	}
	g.attempts.WithLabelValues(operation, outcome).Inc()
}

// Classify maps a raw call error to the domain taxonomy. Domain errors and
// context errors pass through unchanged; unknown errors are transport
// failures.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusTooManyRequests:
			return domain.ErrRateLimited.WithCause(se)
		case se.StatusCode >= 500:
			return domain.ErrTransport.WithCause(se)
		case se.StatusCode == http.StatusUnauthorized, se.StatusCode == http.StatusForbidden:
			return domain.ErrUnauthenticated.WithCause(se)
		case se.StatusCode >= 400:
			return domain.ErrRemoteRejected.WithCause(se)
		default:
			return domain.ErrProtocol.WithCause(se)
		}
	}

	var de *domain.DomainError
	if errors.As(err, &de) {
		return err
	}
	return domain.ErrTransport.WithCause(err)
}

// StatusCode extracts the HTTP status from a classified error, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// ParseRetryAfter reads a Retry-After header given as delay seconds or an
// HTTP date. Unparseable or past values yield 0.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
