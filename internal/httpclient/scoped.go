package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/golang-jwt/jwt/v5"

	"github.com/stacklok/bimsync/internal/syncerr"
)

// ScopedClient is an HTTP client bound to one source base URL and one bearer credential.
// It holds no other state and performs no retries: only callers know whether an
// operation is idempotent.
type ScopedClient struct {
	baseURL    string
	credential string
	client     *http.Client
	now        func() time.Time
}

// ScopedOption configures a ScopedClient
type ScopedOption func(*ScopedClient)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(client *http.Client) ScopedOption {
	return func(c *ScopedClient) {
		if client != nil {
			c.client = client
		}
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(timeout time.Duration) ScopedOption {
	return func(c *ScopedClient) {
		if timeout > 0 {
			c.client = newHTTPClient(timeout)
		}
	}
}

// WithNow overrides the clock used for credential expiry checks
func WithNow(now func() time.Time) ScopedOption {
	return func(c *ScopedClient) {
		c.now = now
	}
}

// NewScopedClient creates a client for baseURL that authenticates with credential
func NewScopedClient(baseURL, credential string, opts ...ScopedOption) *ScopedClient {
	c := &ScopedClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		credential: credential,
		client:     newHTTPClient(DefaultTimeout),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the base URL the client is scoped to
func (c *ScopedClient) BaseURL() string {
	return c.baseURL
}

// Get performs an authenticated GET against path with the given query parameters.
// The status code is returned alongside classified errors for non-2xx responses.
func (c *ScopedClient) Get(ctx context.Context, path string, query url.Values) (int, []byte, error) {
	return c.do(ctx, http.MethodGet, path, query, nil)
}

// Post performs an authenticated POST with body encoded as JSON
func (c *ScopedClient) Post(ctx context.Context, path string, body any) (int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, nil, payload)
}

func (c *ScopedClient) do(
	ctx context.Context, method, path string, query url.Values, payload []byte,
) (int, []byte, error) {
	logger := logr.FromContextOrDiscard(ctx)

	if err := c.checkCredential(); err != nil {
		return 0, nil, err
	}

	target := c.baseURL + "/" + strings.TrimPrefix(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	op := method + " " + path

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.credential)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		logger.V(1).Info("Upstream request failed", "op", op, "error", err.Error())
		return 0, nil, transportError(op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	logger.V(1).Info("Upstream request", "op", op, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, nil, statusError(op, target, resp)
	}

	body, err := readBody(resp)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// checkCredential rejects empty credentials and JWTs whose exp claim has passed
// without touching the network. Opaque tokens are left to upstream to judge.
func (c *ScopedClient) checkCredential() error {
	if strings.TrimSpace(c.credential) == "" {
		return &syncerr.AuthError{Reason: "credential is empty"}
	}
	if credentialExpired(c.credential, c.now()) {
		return &syncerr.AuthError{Reason: "credential has expired"}
	}
	return nil
}

func credentialExpired(token string, now time.Time) bool {
	if strings.Count(token, ".") != 2 {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !now.Before(exp.Time)
}
