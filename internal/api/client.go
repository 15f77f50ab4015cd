// Package api is the HTTP JSON client for the script review service. Every
// failure it returns is classified under the failure taxonomy.
package api

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
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"scriptdesk/internal/failure"
	"scriptdesk/internal/status"
)

// Credentials supplies the bearer token and is told when the backend rejects it.
type Credentials interface {
	Token() string
	Invalidate(ctx context.Context, reason string)
}

// Client talks to the script review service.
type Client struct {
	BaseURL     string
	HTTPClient  *http.Client
	Timeout     time.Duration
	Credentials Credentials
	// Statuses decodes wire status values. Strict decoding fails on values
	// the table does not map.
	Statuses *status.Mapping
	Strict   bool
	Limiter  *rate.Limiter
	Logger   *slog.Logger
}

// New creates a client with sane defaults.
func New(baseURL string, creds Credentials) *Client {
	return &Client{
		BaseURL:     baseURL,
		Credentials: creds,
		Timeout:     10 * time.Second,
		Statuses:    status.V2,
		Strict:      true,
	}
}

// APIError wraps non-2xx responses. It unwraps to the failure kind.
type APIError struct {
	StatusCode int
	Body       string
	Message    string
	RequestID  string
	kind       error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Body
	}
	return fmt.Sprintf("api error: status=%d: %s", e.StatusCode, msg)
}

func (e *APIError) Unwrap() error { return e.kind }

// KindForStatus classifies an HTTP status code.
func KindForStatus(code int) error {
	switch code {
	case http.StatusUnauthorized:
		return failure.ErrUnauthenticated
	case http.StatusForbidden:
		return failure.ErrForbidden
	case http.StatusNotFound:
		return failure.ErrNotFound
	case http.StatusConflict:
		return failure.ErrConflict
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return failure.ErrValidation
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return failure.ErrTransient
	default:
		return failure.ErrBackend
	}
}

type call struct {
	method   string
	endpoint string
	query    url.Values
	body     any
	out      any
}

type requestIDKey struct{}

// WithRequestID makes requests sent with ctx carry id as X-Request-Id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (c *Client) do(ctx context.Context, cl call) error {
	hc := c.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: c.Timeout}
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: rate limiter: %w", failure.ErrTransient, err)
		}
	}
	target := c.base() + "/" + strings.TrimLeft(cl.endpoint, "/")
	if len(cl.query) > 0 {
		target += "?" + cl.query.Encode()
	}
	var buf bytes.Buffer
	if cl.body != nil {
		if err := json.NewEncoder(&buf).Encode(cl.body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, target, &buf)
	if err != nil {
		return err
	}
	requestID := RequestIDFrom(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", requestID)
	authenticated := false
	if c.Credentials != nil {
		if tok := c.Credentials.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
			authenticated = true
		}
	}

	started := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		c.logger().Debug("api call failed", "method", cl.method, "endpoint", cl.endpoint, "request_id", requestID, "error", err)
		return fmt.Errorf("%w: %s %s: %w", failure.ErrTransient, cl.method, cl.endpoint, transportCause(err))
	}
	defer resp.Body.Close()
	c.logger().Debug("api call", "method", cl.method, "endpoint", cl.endpoint, "status", resp.StatusCode,
		"request_id", requestID, "elapsed", time.Since(started))

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(b)),
			Message:    errorMessage(b),
			RequestID:  requestID,
			kind:       KindForStatus(resp.StatusCode),
		}
		if resp.StatusCode == http.StatusUnauthorized && c.Credentials != nil {
			c.Credentials.Invalidate(ctx, "backend returned 401")
			c.logger().Warn("session rejected by backend", "endpoint", cl.endpoint, "authenticated", authenticated)
		}
		return apiErr
	}
	if cl.out != nil {
		if err := json.NewDecoder(resp.Body).Decode(cl.out); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: decode %s response: %w", failure.ErrBackend, cl.endpoint, err)
		}
	}
	return nil
}

func transportCause(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("timeout: %w", err)
	}
	return err
}

// errorMessage extracts a human message from the common error body shapes:
// {"message"}, {"detail"}, {"error":"..."} and {"error":{"message"}}.
func errorMessage(body []byte) string {
	var env struct {
		Message string          `json:"message"`
		Detail  string          `json:"detail"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return strings.TrimSpace(string(body))
	}
	if env.Message != "" {
		return env.Message
	}
	if env.Detail != "" {
		return env.Detail
	}
	if len(env.Error) > 0 {
		var s string
		if json.Unmarshal(env.Error, &s) == nil {
			return s
		}
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(env.Error, &nested) == nil {
			return nested.Message
		}
	}
	return ""
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Client) mapping() *status.Mapping {
	if c.Statuses != nil {
		return c.Statuses
	}
	return status.V2
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
