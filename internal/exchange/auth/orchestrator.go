// Package auth runs the challenge based token authentication against the
// Exchange and caches the resulting token pairs.
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
	"github.com/yndnr/ksefbridge-go/internal/exchange"
	"github.com/yndnr/ksefbridge-go/internal/exchange/certs"
	"github.com/yndnr/ksefbridge-go/pkg/crypto/envelope"
)

// Status codes of an authentication.
const (
	StatusInProgress = 100
	StatusSuccess    = 200
	// StatusFailureMin and above are terminal failures.
	StatusFailureMin = 400
)

// Step names one stage of the flow.
type Step string

const (
	StepChallenge    Step = "challenge"
	StepEncryptToken Step = "encrypt_token"
	StepSubmit       Step = "submit_auth"
	StepPoll         Step = "poll_status"
	StepRedeem       Step = "redeem_token"
	StepRefresh      Step = "refresh_token"
)

// StepError identifies the step that aborted an authentication.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("authentication step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// API is the subset of the Exchange client used here.
type API interface {
	certs.Fetcher
	Environment() domain.Environment
	Challenge(ctx context.Context) (*exchange.ChallengeResponse, error)
	SubmitTokenAuth(ctx context.Context, req *exchange.TokenAuthRequest) (*exchange.AuthInitResponse, error)
	AuthStatus(ctx context.Context, reference, authToken string) (*exchange.AuthStatusResponse, error)
	RedeemToken(ctx context.Context, authToken string) (json.RawMessage, error)
	RefreshToken(ctx context.Context, refreshToken string) (json.RawMessage, error)
}

// KeySource resolves the Exchange encryption keys.
type KeySource interface {
	PublicKey(ctx context.Context, env domain.Environment, f certs.Fetcher, usage certs.Usage) (*rsa.PublicKey, error)
}

// Options tunes status polling.
type Options struct {
	PollAttempts int           `koanf:"poll_attempts"`
	PollInterval time.Duration `koanf:"poll_interval"`
}

// DefaultOptions polls 30 times, 2s apart.
func DefaultOptions() Options {
	return Options{PollAttempts: 30, PollInterval: 2 * time.Second}
}

// Orchestrator runs one authentication at a time. It is owned by a single
// worker and is not safe for concurrent use.
type Orchestrator struct {
	api    API
	keys   KeySource
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	state domain.AuthState
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(api API, keys KeySource, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = def.PollAttempts
	}
	if opts.PollInterval < 0 {
		opts.PollInterval = def.PollInterval
	}
	return &Orchestrator{
		api:    api,
		keys:   keys,
		opts:   opts,
		logger: logger,
		now:    time.Now,
		state:  domain.AuthIdle,
	}
}

// State returns the current flow state.
func (o *Orchestrator) State() domain.AuthState {
	return o.state
}

// Authenticate runs the whole flow. Any failing step aborts it with a
// *StepError; nothing is retried here.
func (o *Orchestrator) Authenticate(ctx context.Context, cred domain.Credential) (*domain.AuthTokenPair, error) {
	if err := cred.Validate(); err != nil {
		return nil, err
	}
	o.state = domain.AuthIdle
	logger := o.logger.With("tax_id", cred.IssuerTaxID, "environment", o.api.Environment())

	ch, err := o.GetChallenge(ctx)
	if err != nil {
		return nil, err
	}

	encrypted, err := o.EncryptToken(ctx, cred.Token, ch)
	if err != nil {
		return nil, err
	}

	init, err := o.SubmitAuth(ctx, ch, cred.IssuerTaxID, encrypted)
	if err != nil {
		return nil, err
	}
	logger.Debug("authentication submitted", "reference", init.ReferenceNumber)

	authToken := init.AuthenticationToken.Token
	if err := o.PollAuthStatus(ctx, init.ReferenceNumber, authToken, o.opts.PollAttempts, o.opts.PollInterval); err != nil {
		return nil, err
	}

	pair, err := o.RedeemToken(ctx, authToken)
	if err != nil {
		return nil, err
	}
	logger.Info("authenticated", "access_expiry", pair.AccessExpiry)
	return pair, nil
}

// GetChallenge requests a fresh challenge.
func (o *Orchestrator) GetChallenge(ctx context.Context) (*domain.Challenge, error) {
	o.state = domain.AuthChallengeRequested
	resp, err := o.api.Challenge(ctx)
	if err != nil {
		return nil, o.fail(StepChallenge, err)
	}
	if resp.Challenge == "" {
		return nil, o.fail(StepChallenge, domain.ErrUnexpectedResponse.WithDetails("empty challenge"))
	}

	ts, err := ParseChallengeTimestamp(resp.Timestamp, resp.TimestampMs)
	if err != nil {
		return nil, o.fail(StepChallenge, err)
	}
	return &domain.Challenge{
		Value:           resp.Challenge,
		Timestamp:       ts,
		TimestampMillis: ts.UnixMilli(),
	}, nil
}

// EncryptToken encrypts "token|timestampMillis" under the token encryption
// certificate.
func (o *Orchestrator) EncryptToken(ctx context.Context, token string, ch *domain.Challenge) (string, error) {
	pub, err := o.keys.PublicKey(ctx, o.api.Environment(), o.api, certs.UsageToken)
	if err != nil {
		return "", o.fail(StepEncryptToken, err)
	}
	plain := []byte(token + "|" + strconv.FormatInt(ch.TimestampMillis, 10))
	defer clear(plain)

	out, err := envelope.EncryptToken(plain, pub)
	if err != nil {
		return "", o.fail(StepEncryptToken, domain.ErrKeyWrap.WithCause(err))
	}
	o.state = domain.AuthTokenEncrypted
	return out, nil
}

// SubmitAuth submits the encrypted token and returns the authentication
// reference and short lived authentication token.
func (o *Orchestrator) SubmitAuth(ctx context.Context, ch *domain.Challenge, issuerTaxID, encryptedToken string) (*exchange.AuthInitResponse, error) {
	resp, err := o.api.SubmitTokenAuth(ctx, &exchange.TokenAuthRequest{
		Challenge:         ch.Value,
		ContextIdentifier: exchange.ContextIdentifier{Type: "Nip", Value: domain.NormalizeTaxID(issuerTaxID)},
		EncryptedToken:    encryptedToken,
	})
	if err != nil {
		return nil, o.fail(StepSubmit, err)
	}
	if resp.ReferenceNumber == "" || resp.AuthenticationToken.Token == "" {
		return nil, o.fail(StepSubmit, domain.ErrUnexpectedResponse.WithDetails("missing reference or authentication token"))
	}
	o.state = domain.AuthSubmitted
	return resp, nil
}

// PollAuthStatus checks the authentication status at most maxChecks times,
// delay apart, until it succeeds or fails.
func (o *Orchestrator) PollAuthStatus(ctx context.Context, reference, authToken string, maxChecks int, delay time.Duration) error {
	o.state = domain.AuthPolling
	for check := 1; check <= maxChecks; check++ {
		if check > 1 {
			if err := sleep(ctx, delay); err != nil {
				return o.fail(StepPoll, err)
			}
		}

		resp, err := o.api.AuthStatus(ctx, reference, authToken)
		if err != nil {
			return o.fail(StepPoll, err)
		}

		code := resp.Status.Code
		switch {
		case code == StatusSuccess:
			return nil
		case code >= StatusFailureMin:
			return o.fail(StepPoll, domain.ErrAuthenticationFailed.WithDetails(
				fmt.Sprintf("status %d %s", code, resp.Status.Description)))
		}
		o.logger.Debug("authentication pending", "reference", reference, "check", check, "status", code)
	}
	return o.fail(StepPoll, domain.ErrAuthTimeout.WithDetails(fmt.Sprintf("no terminal status after %d checks", maxChecks)))
}

// RedeemToken exchanges the authentication token for the token pair.
func (o *Orchestrator) RedeemToken(ctx context.Context, authToken string) (*domain.AuthTokenPair, error) {
	raw, err := o.api.RedeemToken(ctx, authToken)
	if err != nil {
		return nil, o.fail(StepRedeem, err)
	}
	pair, err := DecodeTokenPair(raw)
	if err != nil {
		return nil, o.fail(StepRedeem, err)
	}
	o.state = domain.AuthRedeemed
	return pair, nil
}

// Refresh obtains a new access token. The refresh token is kept unless the
// Exchange rotates it.
func (o *Orchestrator) Refresh(ctx context.Context, pair *domain.AuthTokenPair) (*domain.AuthTokenPair, error) {
	if !pair.RefreshValid(o.now()) {
		return nil, &StepError{Step: StepRefresh, Err: domain.ErrUnauthenticated.WithDetails("refresh token expired")}
	}
	raw, err := o.api.RefreshToken(ctx, pair.RefreshToken)
	if err != nil {
		return nil, &StepError{Step: StepRefresh, Err: err}
	}
	next, err := DecodeTokenPair(raw)
	if err != nil {
		return nil, &StepError{Step: StepRefresh, Err: err}
	}
	if next.RefreshToken == "" {
		next.RefreshToken = pair.RefreshToken
		next.RefreshExpiry = pair.RefreshExpiry
	}
	return next, nil
}

func (o *Orchestrator) fail(step Step, err error) error {
	o.state = domain.AuthFailed
	return &StepError{Step: step, Err: err}
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
