// Package exchange is the typed HTTP client for the e-invoicing Exchange
// API. Every call runs through a governor.Governor.
package exchange

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
	"github.com/yndnr/ksefbridge-go/internal/exchange/governor"
	"github.com/yndnr/ksefbridge-go/internal/infra/buildinfo"
)

// maxResponseSize caps response bodies; the largest are invoice XML
// documents with attachments.
const maxResponseSize = 16 << 20

// Environment base URLs.
var environmentURLs = map[domain.Environment]string{
	domain.EnvTest: "https://ksef-test.mf.gov.pl/api/v2",
	domain.EnvDemo: "https://ksef-demo.mf.gov.pl/api/v2",
	domain.EnvProd: "https://ksef.mf.gov.pl/api/v2",
}

// BaseURL returns the API root of env.
func BaseURL(env domain.Environment) (string, error) {
	u, ok := environmentURLs[env]
	if !ok {
		return "", domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("unknown environment %q", env))
	}
	return u, nil
}

// Operations, also used as metric labels.
const (
	OpCertificates    = "certificates"
	OpChallenge       = "auth_challenge"
	OpSubmitTokenAuth = "auth_ksef_token"
	OpAuthStatus      = "auth_status"
	OpRedeemToken     = "auth_token_redeem"
	OpRefreshToken    = "auth_token_refresh"
	OpOpenSession     = "session_open"
	OpSendInvoice     = "session_send_invoice"
	OpCloseSession    = "session_close"
	OpSessionStatus   = "session_status"
	OpGetInvoice      = "invoice_get"
	OpQueryMetadata   = "invoice_query_metadata"
	OpStartExport     = "invoice_export"
)

// Config configures a Client.
type Config struct {
	// BaseURL overrides the environment URL when set.
	BaseURL     string
	Environment domain.Environment
	Timeout     time.Duration
	// RootCAs replaces the system roots when set.
	RootCAs *x509.CertPool
}

// Client talks to one Exchange environment.
type Client struct {
	baseURL string
	env     domain.Environment
	http    *http.Client
	gov     *governor.Governor
	logger  *slog.Logger
}

// NewClient creates a client. gov must not be nil.
func NewClient(cfg Config, gov *governor.Governor, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	base := cfg.BaseURL
	if base == "" {
		var err error
		if base, err = BaseURL(cfg.Environment); err != nil {
			return nil, err
		}
	}
	if _, err := url.Parse(base); err != nil {
		return nil, domain.ErrInvalidArgument.WithDetails("exchange base url").WithCause(err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.RootCAs != nil {
		transport.TLSClientConfig = &tls.Config{
			RootCAs:    cfg.RootCAs,
			MinVersion: tls.VersionTLS12,
		}
	}

	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		env:     cfg.Environment,
		http:    &http.Client{Timeout: cfg.Timeout, Transport: transport},
		gov:     gov,
		logger:  logger,
	}, nil
}

// Environment returns the environment the client was built for.
func (c *Client) Environment() domain.Environment {
	return c.env
}

// Certificates lists the Exchange public key certificates.
func (c *Client) Certificates(ctx context.Context) ([]PublicKeyCertificate, error) {
	var out []PublicKeyCertificate
	err := c.call(ctx, governor.Call{Operation: OpCertificates, Idempotent: true},
		http.MethodGet, "/security/public-key-certificates", "", nil, &out)
	return out, err
}

// Challenge requests an authentication challenge.
func (c *Client) Challenge(ctx context.Context) (*ChallengeResponse, error) {
	var out ChallengeResponse
	// A challenge is single-use but requesting another has no effect on
	// earlier ones, so it is safe to repeat.
	err := c.call(ctx, governor.Call{Operation: OpChallenge, Idempotent: true},
		http.MethodPost, "/auth/challenge", "", struct{}{}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitTokenAuth starts a token based authentication.
func (c *Client) SubmitTokenAuth(ctx context.Context, req *TokenAuthRequest) (*AuthInitResponse, error) {
	var out AuthInitResponse
	if err := c.call(ctx, governor.Call{Operation: OpSubmitTokenAuth},
		http.MethodPost, "/auth/ksef-token", "", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AuthStatus reads the state of an authentication.
func (c *Client) AuthStatus(ctx context.Context, reference, authToken string) (*AuthStatusResponse, error) {
	var out AuthStatusResponse
	if err := c.call(ctx, governor.Call{Operation: OpAuthStatus, Idempotent: true},
		http.MethodGet, "/auth/"+url.PathEscape(reference), authToken, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RedeemToken exchanges the authentication token for an access token pair.
// The raw body is returned because its shape varies between deployments.
func (c *Client) RedeemToken(ctx context.Context, authToken string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.call(ctx, governor.Call{Operation: OpRedeemToken},
		http.MethodPost, "/auth/token/redeem", authToken, nil, &out)
	return out, err
}

// RefreshToken obtains a new access token with a refresh token.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.call(ctx, governor.Call{Operation: OpRefreshToken},
		http.MethodPost, "/auth/token/refresh", refreshToken, nil, &out)
	return out, err
}

// OpenOnlineSession opens an interactive session.
func (c *Client) OpenOnlineSession(ctx context.Context, accessToken string, req *OpenSessionRequest) (*OpenSessionResponse, error) {
	var out OpenSessionResponse
	if err := c.call(ctx, governor.Call{Operation: OpOpenSession},
		http.MethodPost, "/sessions/online", accessToken, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendInvoice transmits one encrypted document.
func (c *Client) SendInvoice(ctx context.Context, accessToken, sessionRef string, req *SendInvoiceRequest) (*SendInvoiceResponse, error) {
	var out SendInvoiceResponse
	if err := c.call(ctx, governor.Call{Operation: OpSendInvoice},
		http.MethodPost, "/sessions/online/"+url.PathEscape(sessionRef)+"/invoices", accessToken, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CloseOnlineSession closes a session; processing continues server side.
func (c *Client) CloseOnlineSession(ctx context.Context, accessToken, sessionRef string) error {
	return c.call(ctx, governor.Call{Operation: OpCloseSession},
		http.MethodPost, "/sessions/online/"+url.PathEscape(sessionRef)+"/close", accessToken, nil, nil)
}

// SessionStatus reads the processing state of a session.
func (c *Client) SessionStatus(ctx context.Context, accessToken, sessionRef string) (*SessionStatusResponse, error) {
	var out SessionStatusResponse
	if err := c.call(ctx, governor.Call{Operation: OpSessionStatus, Idempotent: true},
		http.MethodGet, "/sessions/online/"+url.PathEscape(sessionRef)+"/status", accessToken, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetInvoice downloads the XML of a stored document.
func (c *Client) GetInvoice(ctx context.Context, accessToken, exchangeNumber string) ([]byte, error) {
	var out []byte
	err := c.call(ctx, governor.Call{Operation: OpGetInvoice, Idempotent: true},
		http.MethodGet, "/invoices/ksef/"+url.PathEscape(exchangeNumber), accessToken, nil, &out)
	return out, err
}

// QueryMetadata returns one page of document metadata.
func (c *Client) QueryMetadata(ctx context.Context, accessToken string, filters *QueryFilters, pageOffset, pageSize int) (*QueryResponse, error) {
	q := url.Values{}
	q.Set("pageOffset", strconv.Itoa(pageOffset))
	q.Set("pageSize", strconv.Itoa(pageSize))

	var out QueryResponse
	if err := c.call(ctx, governor.Call{Operation: OpQueryMetadata, Idempotent: true},
		http.MethodPost, "/invoices/query/metadata?"+q.Encode(), accessToken, filters, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartExport requests an asynchronous bulk export.
func (c *Client) StartExport(ctx context.Context, accessToken string, req *ExportRequest) (*ExportResponse, error) {
	var out ExportResponse
	if err := c.call(ctx, governor.Call{Operation: OpStartExport},
		http.MethodPost, "/invoices/exports", accessToken, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) call(ctx context.Context, call governor.Call, method, path, token string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return domain.ErrInternal.WithDetails("encode " + call.Operation).WithCause(err)
		}
	}

	return c.gov.Do(ctx, call, func(ctx context.Context) error {
		start := time.Now()
		err := c.roundTrip(ctx, method, path, token, body, out)
		c.logger.Debug("exchange call",
			"operation", call.Operation,
			"method", method,
			"duration", time.Since(start),
			"error", err)
		return err
	})
}

func (c *Client) roundTrip(ctx context.Context, method, path, token string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return domain.ErrInternal.WithDetails("create request").WithCause(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.ErrTransport.WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return domain.ErrTransport.WithDetails("read response").WithCause(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &governor.StatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: governor.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Message:    exceptionMessage(data),
		}
	}

	switch v := out.(type) {
	case nil:
		return nil
	case *[]byte:
		*v = data
		return nil
	case *json.RawMessage:
		*v = data
		return nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return domain.ErrUnexpectedResponse.WithDetails("empty response body")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return domain.ErrUnexpectedResponse.WithCause(err)
	}
	return nil
}

// exceptionMessage extracts a readable message from an error body.
func exceptionMessage(data []byte) string {
	var ex exceptionResponse
	if err := json.Unmarshal(data, &ex); err != nil {
		return truncate(strings.TrimSpace(string(data)), 200)
	}
	var parts []string
	for _, d := range ex.Exception.ExceptionDetailList {
		msg := fmt.Sprintf("%d %s", d.ExceptionCode, d.ExceptionDescription)
		if len(d.Details) > 0 {
			msg += " (" + strings.Join(d.Details, "; ") + ")"
		}
		parts = append(parts, msg)
	}
	if len(parts) == 0 {
		if ex.Detail != "" {
			return ex.Detail
		}
		return ex.Title
	}
	return strings.Join(parts, ", ")
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// IsStatus reports whether err is an Exchange response with the given code.
func IsStatus(err error, code int) bool {
	var se *governor.StatusError
	return errors.As(err, &se) && se.StatusCode == code
}
