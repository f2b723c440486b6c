package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"sightline/internal/logging"
)

const maxResponseBytes = 4 << 20

// HTTPDoer describes the HTTP client used to reach the backend.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// CredentialProvider supplies bearer tokens. Token reports false when no
// valid credential is available; Refresh reports whether a new one was obtained.
type CredentialProvider interface {
	Token(ctx context.Context) (string, bool)
	Refresh(ctx context.Context) bool
}

// Options tune a single Send call.
type Options struct {
	// Deferred hands the request to the offline queue without attempting delivery.
	Deferred bool `json:"deferred,omitempty"`
	// DisableOffline transmits even when offline and never enqueues; failures are returned.
	DisableOffline bool `json:"-"`
	// Anonymous permits sending without a credential when none is available.
	Anonymous bool `json:"anonymous,omitempty"`
	// Headers are added to the outbound request.
	Headers map[string]string `json:"headers,omitempty"`
}

// Result is the outcome of Send. Queued requests carry no status or body.
type Result struct {
	Queued     bool
	StatusCode int
	Body       []byte
}

// Decode unmarshals the response body into dst.
func (r Result) Decode(dst any) error {
	if r.Queued {
		return errors.New("decode queued result: no response body")
	}
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return errors.New("decode result: empty response body")
	}
	if err := json.Unmarshal(r.Body, dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ClientConfig contains the backend location and per-request timeout.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Client sends requests to the backend and falls back to the offline queue.
type Client struct {
	baseURL string
	timeout time.Duration
	http    HTTPDoer
	creds   CredentialProvider
	queue   *Queue
	logger  *slog.Logger

	online atomic.Bool

	mu        sync.Mutex
	listeners []func(online bool)
}

// NewClient constructs a Client and binds it as the queue's replay sender.
// The client starts in the online state.
func NewClient(cfg ClientConfig, doer HTTPDoer, creds CredentialProvider, queue *Queue, logger *slog.Logger) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		timeout: cfg.Timeout,
		http:    doer,
		creds:   creds,
		queue:   queue,
		logger:  logging.NewComponentLogger(logger, "remote"),
	}
	c.online.Store(true)
	if queue != nil {
		queue.setSender(c)
	}
	return c
}

// Online reports the tracked connectivity flag.
func (c *Client) Online() bool {
	return c.online.Load()
}

// SetOnline updates the connectivity flag and notifies listeners on change.
func (c *Client) SetOnline(online bool) {
	if c.online.Swap(online) == online {
		return
	}
	if online {
		c.logger.Info("connectivity restored", logging.String(logging.FieldEventType, "connectivity_online"))
	} else {
		logging.WarnWithContext(c.logger, "connectivity lost", "connectivity_offline",
			logging.String(logging.FieldErrorHint, "requests are queued until the backend is reachable"),
			logging.String(logging.FieldImpact, "captures and analysis submissions are deferred"),
		)
	}
	c.mu.Lock()
	listeners := append([]func(bool){}, c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(online)
	}
}

// OnConnectivityChange registers fn to run after every flag transition.
func (c *Client) OnConnectivityChange(fn func(online bool)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Queue returns the offline queue bound to the client.
func (c *Client) Queue() *Queue {
	return c.queue
}

// Send issues method against endpoint with an optional JSON body. When offline
// or deferred the request is queued and Result.Queued is set.
func (c *Client) Send(ctx context.Context, method, endpoint string, body any, opts *Options) (Result, error) {
	var options Options
	if opts != nil {
		options = *opts
	}
	payload, err := encodeBody(body)
	if err != nil {
		return Result{}, err
	}
	req := Request{
		Method:   strings.ToUpper(strings.TrimSpace(method)),
		Endpoint: endpoint,
		Body:     payload,
		Options:  options,
	}

	if !options.DisableOffline && (options.Deferred || !c.Online()) {
		return c.enqueue(ctx, req)
	}
	result, err := c.transmit(ctx, req)
	if errors.Is(err, ErrConnectivityLost) {
		c.SetOnline(false)
		if !options.DisableOffline {
			return c.enqueue(ctx, req)
		}
	}
	return result, err
}

// replay delivers a queued request for the offline queue.
func (c *Client) replay(ctx context.Context, req Request) error {
	req.Options.DisableOffline = true
	req.Options.Deferred = false
	_, err := c.transmit(ctx, req)
	if errors.Is(err, ErrConnectivityLost) {
		c.SetOnline(false)
	}
	return err
}

func (c *Client) enqueue(ctx context.Context, req Request) (Result, error) {
	if c.queue == nil {
		return Result{}, Wrap(ErrConnectivityLost, "send", "offline queue unavailable", nil)
	}
	if err := c.queue.Enqueue(ctx, req); err != nil {
		logging.ErrorWithContext(c.logger, "offline queue persistence failed", "offline_persist_failed",
			logging.String("endpoint", req.Endpoint),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the state database; the request is held in memory only"),
		)
	}
	return Result{Queued: true}, nil
}

// transmit performs the request with credential attachment and one refresh on 401.
func (c *Client) transmit(ctx context.Context, req Request) (Result, error) {
	token, refreshed, err := c.credential(ctx, req.Options)
	if err != nil {
		return Result{}, err
	}

	result, err := c.do(ctx, req, token)
	if err != nil || result.StatusCode != http.StatusUnauthorized {
		return c.finish(req, result, err)
	}

	if refreshed || c.creds == nil || !c.creds.Refresh(ctx) {
		return Result{}, c.statusError(req, result)
	}
	c.logger.Debug("credential refreshed after 401", logging.String("endpoint", req.Endpoint))
	token, ok := c.creds.Token(ctx)
	if !ok {
		return Result{}, Wrap(ErrAuthenticationFailed, "refresh", "provider returned no credential", nil)
	}
	result, err = c.do(ctx, req, token)
	if err == nil && result.StatusCode == http.StatusUnauthorized {
		return Result{}, c.statusError(req, result)
	}
	return c.finish(req, result, err)
}

// credential returns the bearer token to attach. A missing credential triggers
// the single refresh allowed for the request. Without a provider every request
// is sent unauthenticated.
func (c *Client) credential(ctx context.Context, opts Options) (string, bool, error) {
	if c.creds == nil {
		return "", false, nil
	}
	if token, ok := c.creds.Token(ctx); ok {
		return token, false, nil
	}
	if opts.Anonymous {
		return "", false, nil
	}
	if c.creds.Refresh(ctx) {
		if token, ok := c.creds.Token(ctx); ok {
			return token, true, nil
		}
	}
	return "", true, Wrap(ErrAuthenticationFailed, "credential", "no valid credential", nil)
}

func (c *Client) finish(req Request, result Result, err error) (Result, error) {
	if err != nil {
		return Result{}, err
	}
	if result.StatusCode >= http.StatusBadRequest {
		return result, c.statusError(req, result)
	}
	return result, nil
}

func (c *Client) statusError(req Request, result Result) error {
	return &StatusError{
		Method:     req.Method,
		Endpoint:   req.Endpoint,
		StatusCode: result.StatusCode,
		Body:       string(result.Body),
	}
}

func (c *Client) do(ctx context.Context, req Request, token string) (Result, error) {
	attemptCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, c.url(req.Endpoint), body)
	if err != nil {
		return Result{}, Wrap(ErrBackendRejected, "build request", req.Endpoint, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	for key, value := range req.Options.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Result{}, c.transportError(ctx, req, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, c.transportError(ctx, req, err)
	}
	return Result{StatusCode: resp.StatusCode, Body: data}, nil
}

// transportError separates caller cancellation, per-request timeouts, and
// genuine connectivity loss.
func (c *Client) transportError(parent context.Context, req Request, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return Wrap(ErrBackendUnavailable, req.Method+" "+req.Endpoint, "request timed out", err)
	}
	return Wrap(ErrConnectivityLost, req.Method+" "+req.Endpoint, "", err)
}

func (c *Client) url(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return c.baseURL + endpoint
}

func encodeBody(body any) (json.RawMessage, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		return data, nil
	}
}
