// Package api is the typed HTTP client for the club server. The server is a
// black box: JSON over REST plus a WebSocket push channel handled elsewhere.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/everhouse/clubsync/internal/model"
)

// ErrAborted marks a request cut off by the client's own timeout. Aborts
// are soft failures: they never count toward a resource's failure budget.
var ErrAborted = errors.New("api: request aborted by client timeout")

// Error is a server-rejected request: a non-2xx status with the message
// from the response's {"error": ...} body when one was present.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("api: server returned %d: %s", e.StatusCode, e.Message)
}

// ServerError reports whether the failure was on the server's side (5xx).
func (e *Error) ServerError() bool {
	return e.StatusCode >= 500
}

// Options configures a Client.
type Options struct {
	BaseURL        string
	RequestTimeout time.Duration // per-request abort deadline
	UserAgent      string
	Logger         *slog.Logger

	// RequestsPerSecond caps outbound calls; 0 disables the limiter.
	RequestsPerSecond float64
}

// Client issues requests against the club server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	userAgent  string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a Client from options.
func NewClient(opts Options) *Client {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "clubsync"
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), int(opts.RequestsPerSecond)+1)
	}

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		httpClient: &http.Client{
			// The transport timeout stays above the per-request deadline so
			// the context, not the client, decides when a request aborts.
			Timeout: opts.RequestTimeout * 2,
		},
		timeout:   opts.RequestTimeout,
		userAgent: opts.UserAgent,
		limiter:   limiter,
		logger:    opts.Logger,
	}
}

// SessionInfo is the server's answer to the session probe.
type SessionInfo struct {
	Authenticated bool                 `json:"authenticated"`
	Member        *model.MemberProfile `json:"member,omitempty"`
}

// ProbeSession asks the server who the current session belongs to.
func (c *Client) ProbeSession(ctx context.Context) (*SessionInfo, error) {
	var info SessionInfo
	if err := c.doJSON(ctx, http.MethodGet, "/session", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Login authenticates by email and returns the member profile.
func (c *Client) Login(ctx context.Context, email string) (*model.MemberProfile, error) {
	var resp struct {
		Member *model.MemberProfile `json:"member"`
	}
	body := map[string]string{"email": email}
	if err := c.doJSON(ctx, http.MethodPost, "/login", body, &resp); err != nil {
		return nil, err
	}
	if resp.Member == nil {
		return nil, &Error{StatusCode: http.StatusOK, Message: "login response missing member"}
	}
	return resp.Member, nil
}

// Logout ends the server session.
func (c *Client) Logout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/logout", nil, nil)
}

// ResourceResult is the outcome of a conditional resource fetch.
type ResourceResult struct {
	Data        []byte
	ETag        string
	NotModified bool
}

// resourcePaths maps sync resource keys to their REST endpoints.
var resourcePaths = map[string]string{
	model.ResourceEvents:        "/events",
	model.ResourceCafeMenu:      "/cafe-menu",
	model.ResourceAnnouncements: "/announcements",
	model.ResourceNotifications: "/notifications/counts",
	model.ResourceDirectory:     "/directory",
}

// FetchResource performs a conditional GET for a sync resource. A cached
// ETag may be passed for revalidation; a 304 comes back as NotModified.
func (c *Client) FetchResource(ctx context.Context, key, etag string) (*ResourceResult, error) {
	path, ok := resourcePaths[key]
	if !ok {
		return nil, fmt.Errorf("api: unknown resource %q", key)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classify(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotModified {
		return &ResourceResult{ETag: etag, NotModified: true}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.serverError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.classify(ctx, err)
	}

	return &ResourceResult{Data: data, ETag: resp.Header.Get("ETag")}, nil
}

// DismissedNotices fetches the member's dismissed announcement ids.
func (c *Client) DismissedNotices(ctx context.Context) ([]string, error) {
	var ids []string
	if err := c.doJSON(ctx, http.MethodGet, "/notifications/dismissed", nil, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// DismissNotice records a dismissal server-side.
func (c *Client) DismissNotice(ctx context.Context, noticeID string) error {
	body := map[string]string{"id": noticeID}
	return c.doJSON(ctx, http.MethodPost, "/notifications/dismissed", body, nil)
}

// doJSON performs a request with an optional JSON body, decoding a JSON
// response into out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.classify(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.serverError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// wait blocks on the outbound rate limiter when one is configured.
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return c.classify(ctx, err)
	}
	return nil
}

// classify separates the client's own timeout abort from genuine transport
// failures so callers can keep aborts out of the failure budget.
func (c *Client) classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrAborted, err)
	}
	return fmt.Errorf("api: request failed: %w", err)
}

// serverError reads the error body of a non-2xx response.
func (c *Client) serverError(resp *http.Response) error {
	apiErr := &Error{StatusCode: resp.StatusCode}

	var body struct {
		Error string `json:"error"`
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && json.Unmarshal(raw, &body) == nil {
		apiErr.Message = body.Error
	}

	return apiErr
}
