// Package backend is the HTTP client for the kiosk's OAuth-mediating
// backend: authorize, status, refresh and disconnect. The backend performs
// the code exchange with the payment platform; this client only sees opaque
// platform tokens.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const defaultRequestTimeout = 15 * time.Second

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client (primarily for testing).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func NewClient(baseURL string, options ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("[NewClient] baseURL is required")
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		logger:     zerolog.Nop(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Authorize requests a new authorization URL and CSRF state for the tenant.
func (c *Client) Authorize(ctx context.Context, tenantID string) (*AuthorizeResponse, error) {
	body := map[string]string{"tenant_id": tenantID}

	var resp AuthorizeResponse
	if err := c.postJSON(ctx, "/api/oauth/authorize", body, &resp); err != nil {
		return nil, errors.Wrap(err, "[Client.Authorize] postJSON")
	}
	if resp.AuthorizeURL == "" {
		return nil, errors.New("[Client.Authorize] response missing authorize_url")
	}
	return &resp, nil
}

// StatusQuery selects how the status endpoint is keyed: by tenant identifier
// (foreground checks) or by CSRF state (poll loop). Exactly one must be set.
type StatusQuery struct {
	TenantID string
	State    string
}

func ByTenant(tenantID string) StatusQuery { return StatusQuery{TenantID: tenantID} }
func ByState(state string) StatusQuery     { return StatusQuery{State: state} }

// Status queries connection status for a tenant id or a pending CSRF state.
func (c *Client) Status(ctx context.Context, query StatusQuery) (*StatusResponse, error) {
	if (query.TenantID == "") == (query.State == "") {
		return nil, errors.New("[Client.Status] exactly one of TenantID or State is required")
	}

	params := url.Values{}
	if query.TenantID != "" {
		params.Set("tenant_id", query.TenantID)
	} else {
		params.Set("state", query.State)
	}

	var resp StatusResponse
	if err := c.getJSON(ctx, "/api/oauth/status?"+params.Encode(), &resp); err != nil {
		return nil, errors.Wrap(err, "[Client.Status] getJSON")
	}
	return &resp, nil
}

// Refresh exchanges the refresh token for a fresh token set.
func (c *Client) Refresh(ctx context.Context, tenantID, refreshToken string) (*oauth2.Token, error) {
	body := map[string]string{
		"tenant_id":     tenantID,
		"refresh_token": refreshToken,
	}

	var resp refreshResponse
	if err := c.postJSON(ctx, "/api/oauth/refresh", body, &resp); err != nil {
		return nil, errors.Wrap(err, "[Client.Refresh] postJSON")
	}
	if resp.AccessToken == "" {
		return nil, errors.New("[Client.Refresh] response missing access_token")
	}
	return resp.token(), nil
}

// Disconnect asks the backend to revoke the server-side session. Best-effort
// from the caller's perspective; errors are reported but must not block a
// local logout.
func (c *Client) Disconnect(ctx context.Context, tenantID string) error {
	body := map[string]string{"tenant_id": tenantID}
	if err := c.postJSON(ctx, "/api/oauth/disconnect", body, nil); err != nil {
		return errors.Wrap(err, "[Client.Disconnect] postJSON")
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("backend request")

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, "read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp.StatusCode, raw)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

func decodeAPIError(status int, raw []byte) error {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	apiErr := &APIError{HTTPStatus: status}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		apiErr.Code = body.Error
		apiErr.Message = body.Message
	} else {
		apiErr.Code = http.StatusText(status)
	}
	return apiErr
}
