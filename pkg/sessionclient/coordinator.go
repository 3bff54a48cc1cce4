// Package sessionclient is the client side of the session lifecycle. A
// Coordinator sends requests with the cookie-held credentials, refreshes them
// at most once per expiry no matter how many requests fail together, and
// retries each failed request exactly once.
package sessionclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	refreshPath = "/api/auth/refresh-token"
	// cap on error bodies read to classify a 401
	maxErrorBody = 64 << 10
)

var errRefreshFailed = errors.New("session refresh failed")

// refreshCall is one in-flight refresh. done is closed when it completes.
type refreshCall struct {
	done chan struct{}
	err  error
}

type Coordinator struct {
	baseURL        *url.URL
	http           *http.Client
	refreshTimeout time.Duration

	mu sync.Mutex
	// inflight is non-nil while a refresh is running. It is set in the same
	// critical section that decides to refresh and cleared in the one that
	// publishes the result.
	inflight *refreshCall
	// generation counts completed refreshes. A request records it before
	// sending; if it moved by the time a 401 comes back, the request raced a
	// refresh and is retried without refreshing again.
	generation  uint64
	lastRefresh error
	view        View
}

type Option func(*Coordinator)

// WithHTTPClient sets the underlying client. A cookie jar is added if the
// client has none.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Coordinator) {
		if client != nil {
			c.http = client
		}
	}
}

// WithRefreshTimeout bounds a refresh. A refresh that exceeds it fails and
// leaves the client Anonymous.
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.refreshTimeout = d }
}

func New(baseURL string, opts ...Option) (*Coordinator, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}

	c := &Coordinator{baseURL: u, http: &http.Client{Timeout: 30 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}

	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		client := *c.http
		client.Jar = jar
		c.http = &client
	}

	return c, nil
}

// View returns a snapshot of the client-held session state.
func (c *Coordinator) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := c.view
	if v.User != nil {
		u := *v.User
		v.User = &u
	}
	return v
}

// Do sends req. If it fails with 401 and is eligible, Do joins or starts the
// single in-flight refresh and retries req once with the retry marker set. If
// the refresh fails the original 401 response is returned.
func (c *Coordinator) Do(req *http.Request) (*http.Response, error) {
	if err := rewindable(req); err != nil {
		return nil, err
	}

	// http.Client writes jar cookies into req.Header, so the retry is cloned
	// before the first send and picks up the rotated cookies from the jar.
	pristine := req.Clone(WithRetryMarker(req.Context()))

	gen := c.currentGeneration()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized || Retried(req.Context()) || skipsRefresh(req.URL.Path) {
		return resp, nil
	}

	switch peekErrorCode(resp) {
	case CodeReplayDetected, CodeInvalidCredentials:
		return resp, nil
	}

	if err := c.refreshSince(req.Context(), gen); err != nil {
		slog.DebugContext(req.Context(), "request not retried, refresh failed", "path", req.URL.Path, "error", err)
		return resp, nil
	}

	retry := pristine
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return resp, nil
		}
		retry.Body = body
	}

	drain(resp)
	return c.http.Do(retry)
}

// RefreshToken refreshes the session now, joining a refresh already in flight.
func (c *Coordinator) RefreshToken(ctx context.Context) error {
	c.mu.Lock()
	call := c.startOrJoinLocked()
	c.mu.Unlock()

	return c.wait(ctx, call)
}

func (c *Coordinator) currentGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// refreshSince makes sure a refresh has happened after generation gen.
func (c *Coordinator) refreshSince(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	if c.generation != gen && c.inflight == nil {
		err := c.lastRefresh
		c.mu.Unlock()
		return err
	}
	call := c.startOrJoinLocked()
	c.mu.Unlock()

	return c.wait(ctx, call)
}

func (c *Coordinator) startOrJoinLocked() *refreshCall {
	if c.inflight != nil {
		return c.inflight
	}

	call := &refreshCall{done: make(chan struct{})}
	c.inflight = call
	c.view.Refreshing = true
	go c.runRefresh(call)
	return call
}

func (c *Coordinator) wait(ctx context.Context, call *refreshCall) error {
	select {
	case <-call.done:
		return call.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runRefresh is detached from any single caller's context so one cancelled
// request cannot fail the refresh for everyone queued behind it.
func (c *Coordinator) runRefresh(call *refreshCall) {
	ctx := context.Background()
	if c.refreshTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.refreshTimeout)
		defer cancel()
	}

	user, err := c.postRefresh(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", errRefreshFailed, err)
	}

	c.mu.Lock()
	c.generation++
	c.lastRefresh = err
	c.inflight = nil
	c.view.Refreshing = false
	if err != nil {
		c.view.User = nil
		c.view.Error = "Session expired, please log in again"
	} else if user != nil {
		c.view.User = user
	}
	call.err = err
	close(call.done)
	c.mu.Unlock()
}

func (c *Coordinator) postRefresh(ctx context.Context) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(refreshPath), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload userPayload
	if err := decodeEnvelope(resp, &payload); err != nil {
		return nil, err
	}
	return payload.User, nil
}

func (c *Coordinator) endpoint(path string) string {
	return c.baseURL.String() + path
}

// skipsRefresh lists endpoints whose 401 is final: refreshing cannot help.
func skipsRefresh(path string) bool {
	for _, suffix := range []string{"/auth/refresh-token", "/auth/login", "/auth/logout"} {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

// rewindable makes sure the body of req can be replayed on retry.
func rewindable(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}

	raw, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return fmt.Errorf("buffer request body: %w", err)
	}

	req.Body = io.NopCloser(bytes.NewReader(raw))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(raw)), nil
	}
	return nil
}

type peekedBody struct {
	io.Reader
	io.Closer
}

// peekErrorCode reads the error code from resp and restores its body,
// including anything past the peeked prefix.
func peekErrorCode(resp *http.Response) string {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body = peekedBody{Reader: io.MultiReader(bytes.NewReader(raw), resp.Body), Closer: resp.Body}
	if err != nil {
		return ""
	}

	var env envelope
	if json.Unmarshal(raw, &env) != nil || env.Error == nil {
		return ""
	}
	return env.Error.Code
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
}

// decodeEnvelope turns a response into data or an *Error.
func decodeEnvelope(resp *http.Response, data any) error {
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		return &Error{Status: resp.StatusCode, Message: "malformed response"}
	}

	if resp.StatusCode >= http.StatusBadRequest || !env.Success {
		apiErr := &Error{Status: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}

	if data != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, data); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}
	return nil
}
