package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yndnr/ksefbridge-go/internal/infra/buildinfo"
)

// HTTPClient talks to the ksefbridge daemon.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	apiKey  string
}

// NewHTTPClient creates a client. A server without a scheme gets http://.
func NewHTTPClient(server, apiKey string, timeout time.Duration) *HTTPClient {
	baseURL := strings.TrimRight(server, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Get performs a GET request.
func (c *HTTPClient) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	c.addHeaders(req)
	return c.client.Do(req)
}

// Post performs a POST request with a JSON body.
func (c *HTTPClient) Post(ctx context.Context, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	c.addHeaders(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.client.Do(req)
}

// GetJSON is Get followed by ParseResponse.
func (c *HTTPClient) GetJSON(ctx context.Context, path string, target any) error {
	resp, err := c.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return ParseResponse(resp, target)
}

// PostJSON is Post followed by ParseResponse.
func (c *HTTPClient) PostJSON(ctx context.Context, path string, body, target any) error {
	resp, err := c.Post(ctx, path, body)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return ParseResponse(resp, target)
}

func (c *HTTPClient) addHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "ksefbridge-cli/"+buildinfo.Version)
}

// BaseURL returns the base URL of the client.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// envelope mirrors the daemon response envelope.
type envelope struct {
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
	Details   json.RawMessage `json:"details"`
}

// APIError is a non-2xx daemon response.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
	// Details is the raw "details" member, if any.
	Details json.RawMessage
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// DecodeDetails unmarshals Details into v. It reports false when there
// are none.
func (e *APIError) DecodeDetails(v any) bool {
	if len(e.Details) == 0 || string(e.Details) == "null" {
		return false
	}
	return json.Unmarshal(e.Details, v) == nil
}

// ParseResponse closes the body and decodes the envelope "data" member
// into target. Status 400 and above returns *APIError.
func ParseResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	envErr := json.Unmarshal(body, &env)

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if envErr == nil {
			apiErr.Code = env.Code
			apiErr.Message = env.Message
			apiErr.RequestID = env.RequestID
			apiErr.Details = env.Details
		}
		return apiErr
	}

	if envErr != nil {
		return fmt.Errorf("parse response: %w", envErr)
	}
	if target != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, target); err != nil {
			return fmt.Errorf("parse response data: %w", err)
		}
	}
	return nil
}
