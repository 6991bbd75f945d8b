// Package api implements the client of the remote availability API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"tgtg_watcher/internal/model"
)

// Remote endpoints relative to the base URL.
const (
	pathAuthByEmail     = "auth/v3/authByEmail"
	pathAuthByPollingID = "auth/v3/authByRequestPollingId"
	pathRefreshToken    = "auth/v3/token/refresh"
	pathListItems       = "item/v8/"
)

const (
	favoritesRadius = 200
	maxBodySize     = 5 * 1024 * 1024
)

// ErrNoItems is returned when a favorites reply carries no item list.
var ErrNoItems = errors.New("response has no items")

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError reports a non-2xx reply.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// IsRetryable reports whether a failed call may succeed when repeated.
// Transport failures, timeouts included, and every non-2xx status are
// retryable; a reply that does not decode is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var de *decodeError
	return !errors.As(err, &de)
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "decode response: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

// Client talks to the remote API.
type Client struct {
	client     HTTPClient
	baseURL    string
	headers    map[string]string
	retries    uint64
	retryDelay time.Duration
}

// NewHTTPClient returns an HTTP client with a cookie jar, as the API keeps
// session cookies between calls.
func NewHTTPClient() *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{Jar: jar, Timeout: 30 * time.Second}
}

// New creates a Client for baseURL. headers override the default request headers.
func New(client HTTPClient, baseURL string, headers map[string]string) *Client {
	h := map[string]string{
		"User-Agent":      "TooGoodToGo/21.9.0 (813) (iPhone/iPhone 7 (GSM); iOS 15.1; Scale/2.00)",
		"Content-Type":    "application/json",
		"Accept":          "application/json",
		"Accept-Language": "en-US",
	}
	for k, v := range headers {
		h[k] = v
	}
	return &Client{
		client:     client,
		baseURL:    strings.TrimRight(baseURL, "/") + "/",
		headers:    h,
		retries:    2,
		retryDelay: time.Second,
	}
}

// SetRetry overrides the number of additional attempts and the delay between them.
func (c *Client) SetRetry(retries uint64, delay time.Duration) {
	if delay <= 0 {
		delay = time.Millisecond
	}
	c.retries = retries
	c.retryDelay = delay
}

// AuthByEmail asks the API to send a login email and returns its polling id.
func (c *Client) AuthByEmail(ctx context.Context, deviceType, email string) (*AuthByEmailResponse, error) {
	var out AuthByEmailResponse
	err := c.post(ctx, pathAuthByEmail, "", authByEmailRequest{DeviceType: deviceType, Email: email}, &out)
	if err != nil {
		return nil, fmt.Errorf("auth by email: %w", err)
	}
	return &out, nil
}

// AuthByRequestPollingID exchanges a confirmed polling id for a token pair.
func (c *Client) AuthByRequestPollingID(ctx context.Context, deviceType, email, pollingID string) (*LoginResponse, error) {
	var out LoginResponse
	err := c.post(ctx, pathAuthByPollingID, "", authByPollingIDRequest{
		DeviceType:       deviceType,
		Email:            email,
		RequestPollingID: pollingID,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("auth by polling id: %w", err)
	}
	return &out, nil
}

// RefreshToken exchanges a refresh token for a new access token.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	var out RefreshResponse
	if err := c.post(ctx, pathRefreshToken, "", refreshRequest{RefreshToken: refreshToken}, &out); err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	return &out, nil
}

// ListFavorites returns the favorite items around origin.
func (c *Client) ListFavorites(ctx context.Context, accessToken, userID string, o model.Origin) (model.Snapshot, error) {
	var out listFavoritesResponse
	err := c.post(ctx, pathListItems, accessToken, listFavoritesRequest{
		FavoritesOnly: true,
		Origin:        origin{Latitude: o.Latitude, Longitude: o.Longitude},
		Radius:        favoritesRadius,
		UserID:        userID,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	if out.Items == nil {
		return nil, fmt.Errorf("list favorites: %w", ErrNoItems)
	}

	snap := make(model.Snapshot, 0, len(*out.Items))
	for _, it := range *out.Items {
		snap = append(snap, it.toModel())
	}
	return snap, nil
}

func (c *Client) post(ctx context.Context, path, bearer string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	backoff := retry.WithMaxRetries(c.retries, retry.NewConstant(c.retryDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.do(ctx, path, bearer, body, out)
		if ctx.Err() == nil && IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (c *Client) do(ctx context.Context, path, bearer string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Body: truncate(string(data), 200)}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &decodeError{err: err}
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
