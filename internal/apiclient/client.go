package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"taskpilot/cli/internal/logging"
	"taskpilot/cli/internal/metrics"
)

const maxResponseBytes = 4 << 20

// Authenticator supplies the credential to attach and receives authorization
// failures. generation identifies the session the credential belonged to, so
// that several requests failing at once expire that session exactly once.
type Authenticator interface {
	Credential() (tok *oauth2.Token, generation uint64)
	Expire(generation uint64)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Collectors

	mu   sync.RWMutex
	auth Authenticator
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			hc := *c.httpClient
			hc.Timeout = d
			c.httpClient = &hc
		}
	}
}

func WithLogger(lg *slog.Logger) Option {
	return func(c *Client) {
		if lg != nil {
			c.logger = lg
		}
	}
}

func WithMetrics(m *metrics.Collectors) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{},
		logger:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetAuthenticator installs the credential source. The session manager is
// built on top of the client, so it is bound after both exist.
func (c *Client) SetAuthenticator(a Authenticator) {
	c.mu.Lock()
	c.auth = a
	c.mu.Unlock()
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do sends body (JSON-encoded when non-nil) and decodes a successful response
// into out (when non-nil). Failures are reported as ErrSessionExpired,
// *RequestError or ErrNetwork.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.mu.RLock()
	auth := c.auth
	c.mu.RUnlock()
	var (
		generation uint64
		attached   bool
	)
	if auth != nil {
		tok, gen := auth.Credential()
		if tok != nil && tok.AccessToken != "" {
			tok.SetAuthHeader(req)
			generation = gen
			attached = true
		}
	}

	log := c.logger.With("method", method, "path", stripQuery(path), "request_id", requestID)
	res, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(method, "network_error")
		log.Warn("request failed without response", "err", err)
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.StatusCode == http.StatusUnauthorized && attached {
		c.metrics.ObserveRequest(method, "session_expired")
		log.Info("credential rejected, expiring session")
		auth.Expire(generation)
		return ErrSessionExpired
	}
	if res.StatusCode == http.StatusNoContent {
		c.metrics.ObserveRequest(method, "ok")
		log.Debug("request done", "status", res.StatusCode)
		return nil
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		c.metrics.ObserveRequest(method, "network_error")
		log.Warn("reading response body failed", "status", res.StatusCode, "err", err)
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		c.metrics.ObserveRequest(method, "request_failed")
		msg := detailMessage(raw)
		log.Debug("request rejected", "status", res.StatusCode, "detail", msg)
		return &RequestError{Status: res.StatusCode, Message: msg}
	}

	c.metrics.ObserveRequest(method, "ok")
	log.Debug("request done", "status", res.StatusCode)
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &RequestError{Status: res.StatusCode, Message: "invalid response from server", Err: err}
	}
	return nil
}

// detailMessage extracts the backend's structured error text. The detail
// field is either a string or a list of validation errors carrying "msg".
func detailMessage(raw []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || len(envelope.Detail) == 0 {
		return genericFailureMessage
	}
	var text string
	if err := json.Unmarshal(envelope.Detail, &text); err == nil {
		if strings.TrimSpace(text) != "" {
			return text
		}
		return genericFailureMessage
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(envelope.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if m := strings.TrimSpace(it.Msg); m != "" {
				msgs = append(msgs, m)
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}
	return genericFailureMessage
}

func stripQuery(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}
