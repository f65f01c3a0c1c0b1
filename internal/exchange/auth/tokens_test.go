package auth

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
)

func TestParseChallengeTimestamp(t *testing.T) {
	want := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		raw     string
		ms      int64
		wantErr bool
	}{
		{"rfc3339", `"2025-03-01T12:00:00Z"`, 0, false},
		{"rfc3339 offset", `"2025-03-01T13:00:00+01:00"`, 0, false},
		{"unix seconds", `1740830400`, 0, false},
		{"unix millis", `1740830400000`, 0, false},
		{"ms field wins", `"garbage"`, 1740830400000, false},
		{"garbage", `"yesterday"`, 0, true},
		{"missing", ``, 0, true},
		{"null", `null`, 0, true},
		{"negative", `-5`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseChallengeTimestamp(json.RawMessage(tt.raw), tt.ms)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrUnexpectedResponse)
				return
			}
			require.NoError(t, err)
			assert.True(t, want.Equal(got), "got %s", got)
		})
	}
}

func TestDecodeTokenPair_Nested(t *testing.T) {
	pair, err := DecodeTokenPair([]byte(`{
		"accessToken": {"token": "a1", "validUntil": "2025-03-01T12:15:00Z"},
		"refreshToken": {"token": "r1", "validUntil": "2025-03-08T12:00:00Z"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "a1", pair.AccessToken)
	assert.Equal(t, "r1", pair.RefreshToken)
	assert.Equal(t, time.Date(2025, 3, 1, 12, 15, 0, 0, time.UTC), pair.AccessExpiry)
	assert.Equal(t, time.Date(2025, 3, 8, 12, 0, 0, 0, time.UTC), pair.RefreshExpiry)
}

func TestDecodeTokenPair_Flat(t *testing.T) {
	pair, err := DecodeTokenPair([]byte(`{"access_token":"a2","access_token_valid_until":"2025-03-01T12:15:00Z","refresh_token":"r2"}`))
	require.NoError(t, err)
	assert.Equal(t, "a2", pair.AccessToken)
	assert.Equal(t, "r2", pair.RefreshToken)
	assert.Equal(t, time.Date(2025, 3, 1, 12, 15, 0, 0, time.UTC), pair.AccessExpiry)
	assert.True(t, pair.RefreshExpiry.IsZero())
}

func TestDecodeTokenPair_Unrecognized(t *testing.T) {
	inputs := []string{
		`{"token":"x"}`,
		`{"accessToken":"plain-string"}`,
		`{"accessToken":{"validUntil":"2025-03-01T12:15:00Z"}}`,
		`{"access_token":""}`,
		`[]`,
		`not json`,
	}
	for _, in := range inputs {
		_, err := DecodeTokenPair([]byte(in))
		assert.ErrorIs(t, err, domain.ErrUnexpectedResponse, in)
	}
}

func TestDecodeTokenPair_JWTExpiryFallback(t *testing.T) {
	exp := time.Now().Add(20 * time.Minute).Truncate(time.Second).UTC()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": exp.Unix(),
		"sub": "1234563218",
	}).SignedString([]byte("test-signing-key"))
	require.NoError(t, err)

	raw, _ := json.Marshal(map[string]any{"accessToken": map[string]string{"token": token}})
	pair, err := DecodeTokenPair(raw)
	require.NoError(t, err)
	assert.True(t, exp.Equal(pair.AccessExpiry), "got %s want %s", pair.AccessExpiry, exp)
}

func TestDecodeTokenPair_OpaqueTokenWithoutExpiry(t *testing.T) {
	pair, err := DecodeTokenPair([]byte(`{"accessToken":{"token":"opaque"}}`))
	require.NoError(t, err)
	assert.True(t, pair.AccessExpiry.IsZero())
}
