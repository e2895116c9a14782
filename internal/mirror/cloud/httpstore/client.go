// Package httpstore implements cloud.Store as a client of a `tm serve`
// document server.
//
// Routes:
//
//	GET    /healthz                         reachability (no auth)
//	GET    /v1/users/{uid}/{kind}           list documents
//	POST   /v1/users/{uid}/{kind}           add a document
//	DELETE /v1/users/{uid}/{kind}/{id}      delete a document
//	GET    /v1/users/{uid}/manifests/{kind} read the manifest
//	PUT    /v1/users/{uid}/manifests/{kind} replace the manifest
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/mschirtzinger/taskmirror/internal/mirror/cloud"
	"github.com/mschirtzinger/taskmirror/internal/mirror/schema"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the server root, e.g. http://localhost:8765.
	BaseURL string

	// Token is sent as a bearer token when non-empty.
	Token string

	// RateLimit caps requests per second. Zero means unlimited.
	RateLimit float64

	// Timeout bounds each request.
	Timeout time.Duration

	// HTTPClient overrides the transport (for testing). The bearer token
	// is layered on top of it.
	HTTPClient *http.Client
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *Config {
	return &Config{
		RateLimit: 20,
		Timeout:   30 * time.Second,
	}
}

// Document is the wire form of one stored record.
type Document struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// ListResponse is the response from GET /v1/users/{uid}/{kind}.
type ListResponse struct {
	Documents []Document `json:"documents"`
}

// AddResponse is the response from POST /v1/users/{uid}/{kind}.
type AddResponse struct {
	ID string `json:"id"`
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Client is an HTTP cloud.Store.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	closed  atomic.Bool
}

var _ cloud.ManifestStore = (*Client)(nil)

// New creates a client for the server at config.BaseURL.
func New(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	base := config.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: config.Timeout}
	}

	httpClient := base
	if config.Token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: config.Token,
			TokenType:   "Bearer",
		}))
		httpClient.Timeout = base.Timeout
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if config.RateLimit > 0 {
		burst := int(config.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		http:    httpClient,
		limiter: limiter,
	}, nil
}

// BaseURL returns the server root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func collectionPath(userID string, kind schema.Kind) string {
	return "/v1/users/" + url.PathEscape(userID) + "/" + url.PathEscape(string(kind))
}

func manifestPath(userID string, kind schema.Kind) string {
	return "/v1/users/" + url.PathEscape(userID) + "/manifests/" + url.PathEscape(string(kind))
}

// List implements cloud.Store.
func (c *Client) List(ctx context.Context, userID string, kind schema.Kind) ([]cloud.Document, error) {
	var resp ListResponse
	if err := c.do(ctx, http.MethodGet, collectionPath(userID, kind), nil, &resp); err != nil {
		return nil, err
	}

	docs := make([]cloud.Document, 0, len(resp.Documents))
	for _, d := range resp.Documents {
		r, err := schema.DecodeRecord(kind, d.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode document %s: %w", d.ID, err)
		}
		docs = append(docs, cloud.Document{ID: d.ID, Record: r})
	}
	return docs, nil
}

// Delete implements cloud.Store.
func (c *Client) Delete(ctx context.Context, userID string, kind schema.Kind, id string) error {
	err := c.do(ctx, http.MethodDelete, collectionPath(userID, kind)+"/"+url.PathEscape(id), nil, nil)
	if errors.Is(err, cloud.ErrNotFound) {
		return nil
	}
	return err
}

// Add implements cloud.Store.
func (c *Client) Add(ctx context.Context, userID string, kind schema.Kind, r schema.Record) (string, error) {
	if r == nil || r.Kind() != kind {
		return "", fmt.Errorf("record does not belong to %s", kind)
	}
	var resp AddResponse
	if err := c.do(ctx, http.MethodPost, collectionPath(userID, kind), r, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Ping implements cloud.Store by calling /healthz.
func (c *Client) Ping(ctx context.Context) error {
	var resp HealthResponse
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("server reported %q: %w", resp.Status, cloud.ErrUnavailable)
	}
	return nil
}

// Manifest implements cloud.ManifestStore.
func (c *Client) Manifest(ctx context.Context, userID string, kind schema.Kind) (cloud.Manifest, error) {
	var m cloud.Manifest
	if err := c.do(ctx, http.MethodGet, manifestPath(userID, kind), nil, &m); err != nil {
		return cloud.Manifest{}, err
	}
	return m, nil
}

// PutManifest implements cloud.ManifestStore.
func (c *Client) PutManifest(ctx context.Context, userID string, kind schema.Kind, m cloud.Manifest) error {
	return c.do(ctx, http.MethodPut, manifestPath(userID, kind), m, nil)
}

// Close marks the client closed and releases idle connections.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	if c.closed.Load() {
		return cloud.ErrClosed
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s %s: %w", method, path, ctxErr)
		}
		return fmt.Errorf("%s %s: %w: %w", method, path, cloud.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w: %w", cloud.ErrUnavailable, err)
	}

	if resp.StatusCode >= 400 {
		return statusError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// statusError maps an HTTP failure to the cloud sentinel errors.
func statusError(code int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var apiErr ErrorResponse
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		msg = apiErr.Error
	}

	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %s", cloud.ErrUnauthorized, msg)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", cloud.ErrNotFound, msg)
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", cloud.ErrUnavailable, code, msg)
	default:
		return fmt.Errorf("HTTP %d: %s", code, msg)
	}
}
