// Package supabase provides a client for Supabase (PostgREST + Auth + Storage).
// It is the default persistence backend for members, invoices, audit rows
// and profiles, and the gateway to Supabase Auth and the avatars bucket.
package supabase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gestor-ciclista/gestor-api/internal/domain"
	"github.com/gestor-ciclista/gestor-api/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

// Client wraps HTTP calls to the Supabase APIs.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	bulkhead       *resilience.Bulkhead
	cfg            resilience.Config
	logger         *zap.Logger
}

// NewClient creates a Supabase client.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 50
	}
	return &Client{
		httpClient:     httpClient,
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		cb:             cb,
		bulkhead:       resilience.NewBulkhead(maxConcurrency),
		cfg:            cfg,
		logger:         logger,
	}
}

// request describes one call to a Supabase API.
type request struct {
	method  string
	api     string // "rest/v1", "auth/v1", "storage/v1"
	path    string
	query   url.Values
	body    []byte
	headers map[string]string
	// bearer overrides the service-role key (user-scoped auth calls).
	bearer string
}

// response is what callers get back after a 2xx.
type response struct {
	status int
	body   []byte
	header http.Header
}

// statusError is a non-2xx answer from Supabase.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("supabase returned status %d: %s", e.status, e.body)
}

// execute runs req through the bulkhead, the circuit breaker and the retry loop.
// service names the call for error reporting.
func (c *Client) execute(ctx context.Context, service string, req request) (*response, error) {
	if err := c.bulkhead.Acquire(ctx); err != nil {
		return nil, &domain.ErrTimeout{Operation: service}
	}
	defer c.bulkhead.Release()

	retryCfg := c.cfg
	if !idempotent(req.method) {
		retryCfg.MaxRetries = 0
	}

	var resp *response
	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, retryCfg, func() error {
			r, err := c.do(ctx, req)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
	})
	if err == nil {
		return resp, nil
	}

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, &domain.ErrCircuitOpen{Service: service}
	case errors.Is(err, context.DeadlineExceeded):
		return nil, &domain.ErrTimeout{Operation: service}
	}

	var se *statusError
	if errors.As(err, &se) {
		switch se.status {
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return nil, &domain.ErrValidation{Field: "request", Message: se.body}
		case http.StatusNotFound:
			return nil, &domain.ErrNotFound{Resource: service, ID: req.path}
		case http.StatusUnauthorized:
			return nil, &domain.ErrUnauthorized{Message: "Credenciais inválidas"}
		case http.StatusForbidden:
			return nil, &domain.ErrForbidden{Action: service}
		case http.StatusConflict:
			return nil, &domain.ErrConflict{Message: "Registo já existe"}
		}
	}
	return nil, &domain.ErrExternalService{Service: service, Err: err}
}

// idempotent reports whether a failed call with this method may be replayed.
// A POST that timed out may already have inserted its row.
func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// do executes a single authenticated HTTP request.
func (c *Client) do(ctx context.Context, req request) (*response, error) {
	u := fmt.Sprintf("%s/%s/%s", c.baseURL, req.api, strings.TrimLeft(req.path, "/"))
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, body)
	if err != nil {
		c.logger.Error("supabase: failed to create request",
			zap.String("method", req.method),
			zap.String("path", req.path),
			zap.Error(err),
		)
		return nil, resilience.Permanent(err)
	}

	bearer := c.serviceRoleKey
	if req.bearer != "" {
		bearer = req.bearer
	}
	httpReq.Header.Set("apikey", c.apiKey)
	httpReq.Header.Set("Authorization", "Bearer "+bearer)
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("supabase: request failed",
			zap.String("method", req.method),
			zap.String("path", req.path),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error("supabase: failed to read response body",
			zap.String("method", req.method),
			zap.String("path", req.path),
			zap.Error(err),
		)
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: non-2xx response",
			zap.String("method", req.method),
			zap.String("path", req.path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(respBody)),
		)
		se := &statusError{status: resp.StatusCode, body: string(respBody)}
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, resilience.Permanent(se)
		}
		return nil, se
	}

	c.logger.Debug("supabase: request OK",
		zap.String("method", req.method),
		zap.String("path", req.path),
		zap.Int("status", resp.StatusCode),
	)

	return &response{status: resp.StatusCode, body: respBody, header: resp.Header}, nil
}
