package domain

import (
	"fmt"
	"time"
)

// Environment names an Exchange deployment.
type Environment string

const (
	EnvTest Environment = "test"
	EnvDemo Environment = "demo"
	EnvProd Environment = "prod"
)

// Valid reports whether e is a known environment.
func (e Environment) Valid() bool {
	switch e {
	case EnvTest, EnvDemo, EnvProd:
		return true
	}
	return false
}

// Credential is supplied by the caller for a single operation.
// It must never be logged; String() hides the token.
type Credential struct {
	IssuerTaxID string      `json:"issuer_tax_id"`
	Token       string      `json:"token"`
	Environment Environment `json:"environment"`
}

// Validate checks the credential fields.
func (c Credential) Validate() error {
	if c.IssuerTaxID == "" {
		return ErrMissingArgument.WithDetails("issuer_tax_id is required")
	}
	if !ValidTaxID(NormalizeTaxID(c.IssuerTaxID)) {
		return ErrInvalidArgument.WithDetails("issuer_tax_id checksum is invalid")
	}
	if c.Token == "" {
		return ErrMissingArgument.WithDetails("token is required")
	}
	if c.Environment != "" && !c.Environment.Valid() {
		return ErrInvalidArgument.WithDetails(fmt.Sprintf("unknown environment %q", c.Environment))
	}
	return nil
}

// String implements fmt.Stringer without exposing the token.
func (c Credential) String() string {
	return fmt.Sprintf("Credential{tax_id=%s env=%s}", MaskTaxID(c.IssuerTaxID), c.Environment)
}

// Challenge is issued by the Exchange for one authentication attempt.
type Challenge struct {
	Value           string
	Timestamp       time.Time
	TimestampMillis int64
}

// AuthTokenPair holds the tokens obtained from a successful authentication.
type AuthTokenPair struct {
	AccessToken   string    `json:"-"`
	AccessExpiry  time.Time `json:"access_expiry"`
	RefreshToken  string    `json:"-"`
	RefreshExpiry time.Time `json:"refresh_expiry"`
}

// AccessValid reports whether the access token is usable at now, keeping
// skew in reserve so a token does not expire mid-call.
func (p *AuthTokenPair) AccessValid(now time.Time, skew time.Duration) bool {
	if p == nil || p.AccessToken == "" {
		return false
	}
	if p.AccessExpiry.IsZero() {
		return true
	}
	return now.Add(skew).Before(p.AccessExpiry)
}

// RefreshValid reports whether the refresh token is usable at now.
func (p *AuthTokenPair) RefreshValid(now time.Time) bool {
	if p == nil || p.RefreshToken == "" {
		return false
	}
	return p.RefreshExpiry.IsZero() || now.Before(p.RefreshExpiry)
}

// AuthState tracks the authentication flow.
type AuthState string

const (
	AuthIdle               AuthState = "idle"
	AuthChallengeRequested AuthState = "challenge_requested"
	AuthTokenEncrypted     AuthState = "token_encrypted"
	AuthSubmitted          AuthState = "auth_submitted"
	AuthPolling            AuthState = "polling"
	AuthRedeemed           AuthState = "redeemed"
	AuthFailed             AuthState = "failed"
)

// SessionState tracks an online session.
type SessionState string

const (
	SessionUnopened     SessionState = "unopened"
	SessionOpened       SessionState = "opened"
	SessionDocumentSent SessionState = "document_sent"
	SessionClosed       SessionState = "closed"
	SessionProcessing   SessionState = "processing"
	SessionCompleted    SessionState = "completed"
	SessionFailed       SessionState = "failed"
)

// CanSend reports whether documents may be sent in this state.
func (s SessionState) CanSend() bool {
	return s == SessionOpened || s == SessionDocumentSent
}

// Terminal reports whether no further transitions occur.
func (s SessionState) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// FormCode identifies the structured invoice schema used in a session.
type FormCode struct {
	SystemCode    string `json:"systemCode" koanf:"system_code"`
	SchemaVersion string `json:"schemaVersion" koanf:"schema_version"`
	Value         string `json:"value" koanf:"value"`
}

// DefaultFormCode is the current structured invoice schema.
func DefaultFormCode() FormCode {
	return FormCode{SystemCode: "FA (3)", SchemaVersion: "1-0E", Value: "FA"}
}
