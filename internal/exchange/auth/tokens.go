package auth

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
)

// unixMillisThreshold separates Unix seconds from Unix milliseconds; second
// values stay below it until the year 33658.
const unixMillisThreshold = 1_000_000_000_000

// ParseChallengeTimestamp reads a challenge timestamp sent as an ISO-8601
// string, Unix seconds or Unix milliseconds, either as a JSON number or a
// numeric string. A positive ms takes precedence.
func ParseChallengeTimestamp(raw json.RawMessage, ms int64) (time.Time, error) {
	if ms > 0 {
		return time.UnixMilli(ms).UTC(), nil
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, domain.ErrUnexpectedResponse.WithDetails("challenge timestamp missing")
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return time.Time{}, domain.ErrUnexpectedResponse.WithCause(err)
		}
		text = strings.TrimSpace(text)
		if t, err := time.Parse(time.RFC3339Nano, text); err == nil {
			return t.UTC(), nil
		}
	}

	n, err := strconv.ParseFloat(text, 64)
	if err != nil || n <= 0 {
		return time.Time{}, domain.ErrUnexpectedResponse.WithDetails("unrecognized challenge timestamp " + strconv.Quote(text))
	}
	if n < unixMillisThreshold {
		return time.UnixMilli(int64(n * 1000)).UTC(), nil
	}
	return time.UnixMilli(int64(n)).UTC(), nil
}

// nestedTokens is the documented redeem shape.
type nestedTokens struct {
	AccessToken  *tokenInfo `json:"accessToken"`
	RefreshToken *tokenInfo `json:"refreshToken"`
}

type tokenInfo struct {
	Token      string `json:"token"`
	ValidUntil string `json:"validUntil"`
}

// flatTokens is the snake case shape some gateways return.
type flatTokens struct {
	AccessToken           string `json:"access_token"`
	ExpiresIn             int64  `json:"expires_in"`
	AccessTokenValidUntil string `json:"access_token_valid_until"`
	RefreshToken          string `json:"refresh_token"`
	RefreshExpiresIn      int64  `json:"refresh_expires_in"`
	RefreshValidUntil     string `json:"refresh_token_valid_until"`
}

// DecodeTokenPair normalizes a redeem or refresh response. The body must be
// either the nested shape (accessToken.token) or the flat shape
// (access_token); anything else is domain.ErrUnexpectedResponse. Missing
// expiries fall back to the JWT exp claim.
func DecodeTokenPair(raw []byte) (*domain.AuthTokenPair, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, domain.ErrUnexpectedResponse.WithDetails("token response is not an object").WithCause(err)
	}

	now := time.Now()
	var pair *domain.AuthTokenPair
	switch {
	case isObject(fields["accessToken"]):
		var n nestedTokens
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, domain.ErrUnexpectedResponse.WithCause(err)
		}
		pair = &domain.AuthTokenPair{
			AccessToken:  n.AccessToken.Token,
			AccessExpiry: parseTime(n.AccessToken.ValidUntil),
		}
		if n.RefreshToken != nil {
			pair.RefreshToken = n.RefreshToken.Token
			pair.RefreshExpiry = parseTime(n.RefreshToken.ValidUntil)
		}

	case fields["access_token"] != nil:
		var f flatTokens
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, domain.ErrUnexpectedResponse.WithCause(err)
		}
		pair = &domain.AuthTokenPair{
			AccessToken:   f.AccessToken,
			AccessExpiry:  expiry(f.AccessTokenValidUntil, f.ExpiresIn, now),
			RefreshToken:  f.RefreshToken,
			RefreshExpiry: expiry(f.RefreshValidUntil, f.RefreshExpiresIn, now),
		}

	default:
		return nil, domain.ErrUnexpectedResponse.WithDetails("unrecognized token response shape")
	}

	if pair.AccessToken == "" {
		return nil, domain.ErrUnexpectedResponse.WithDetails("access token missing")
	}
	if pair.AccessExpiry.IsZero() {
		pair.AccessExpiry = jwtExpiry(pair.AccessToken)
	}
	if pair.RefreshToken != "" && pair.RefreshExpiry.IsZero() {
		pair.RefreshExpiry = jwtExpiry(pair.RefreshToken)
	}
	return pair, nil
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func expiry(validUntil string, expiresIn int64, now time.Time) time.Time {
	if t := parseTime(validUntil); !t.IsZero() {
		return t
	}
	if expiresIn > 0 {
		return now.Add(time.Duration(expiresIn) * time.Second).UTC()
	}
	return time.Time{}
}

// jwtExpiry reads the exp claim without verifying the signature; the token
// came straight from the Exchange over TLS. Non-JWT tokens yield zero.
func jwtExpiry(token string) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time.UTC()
}
