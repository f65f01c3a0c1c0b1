package domain

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID prefixes.
const (
	TenantIDPrefix = "kbtn-"
	RunIDPrefix    = "kbrn-"
	ClaimIDPrefix  = "kbcl-"

	MaxTenantNameLength = 256
)

// Tenant is an account with an Exchange integration.
type Tenant struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	IssuerTaxID string      `json:"issuer_tax_id"`
	Environment Environment `json:"environment"`
	// SealedToken is the Exchange token encrypted at rest.
	SealedToken []byte    `json:"sealed_token"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewTenant creates an active tenant with a generated ID.
func NewTenant(name, issuerTaxID string, env Environment) (*Tenant, error) {
	id, err := NewID(TenantIDPrefix)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Tenant{
		ID:          id,
		Name:        name,
		IssuerTaxID: NormalizeTaxID(issuerTaxID),
		Environment: env,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Validate checks tenant fields.
func (t *Tenant) Validate() error {
	if t.Name == "" {
		return ErrMissingArgument.WithDetails("name is required")
	}
	if len(t.Name) > MaxTenantNameLength {
		return ErrInvalidArgument.WithDetails("name is too long")
	}
	if !ValidTaxID(t.IssuerTaxID) {
		return ErrInvalidArgument.WithDetails("issuer_tax_id checksum is invalid")
	}
	if !t.Environment.Valid() {
		return ErrInvalidArgument.WithDetails("unknown environment " + string(t.Environment))
	}
	return nil
}

// NewID generates a prefixed lowercase ULID.
func NewID(prefix string) (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", ErrInternal.WithCause(err)
	}
	return prefix + strings.ToLower(id.String()), nil
}
