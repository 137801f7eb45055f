// Package supabase provides a client for Supabase (PostgREST + GoTrue admin).
// It is the default data backend: tenants, profiles, roles, proposals, sales
// and the audit log all live behind PostgREST with the service-role key.
package supabase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/boddenberg/crm-consignado-go/internal/domain"
	"github.com/boddenberg/crm-consignado-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

// uniqueViolation is the Postgres SQLSTATE PostgREST forwards for duplicate keys.
const uniqueViolation = "23505"

// Client wraps HTTP calls to the Supabase REST and auth APIs.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	cfg            resilience.Config
	logger         *zap.Logger
}

// NewClient creates a Supabase client.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient:     httpClient,
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		cb:             cb,
		cfg:            cfg,
		logger:         logger,
	}
}

// apiError is a non-2xx answer from PostgREST or GoTrue.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("supabase returned status %d: %s", e.Status, e.Body)
}

// classify turns duplicate-key answers into domain.ErrConflict and leaves
// every other error untouched.
func classify(err error) error {
	var ae *apiError
	if !errors.As(err, &ae) {
		return err
	}
	if ae.Status == http.StatusConflict || strings.Contains(ae.Body, uniqueViolation) {
		return &domain.ErrConflict{Message: "registro já existe"}
	}
	if ae.Status == http.StatusUnprocessableEntity && strings.Contains(ae.Body, "email_exists") {
		return &domain.ErrConflict{Message: "e-mail já cadastrado"}
	}
	return err
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.serviceRoleKey))
	req.Header.Set("Content-Type", "application/json")
}

// doRequest executes an authenticated GET against PostgREST.
func (c *Client) doRequest(ctx context.Context, method, path string) ([]byte, error) {
	url := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		c.logger.Error("supabase: failed to create request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error("supabase: failed to read response body",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent {
		return nil, nil // no data
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: non-2xx response",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return nil, &apiError{Status: resp.StatusCode, Body: string(body)}
	}

	c.logger.Debug("supabase: request OK",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)

	return body, nil
}

// IsClientError reports whether err is a 4xx answer or a duplicate key.
// Those are caller mistakes or business outcomes, so the breaker ignores them
// and reads are not retried.
func IsClientError(err error) bool {
	var ce *domain.ErrConflict
	if errors.As(err, &ce) {
		return true
	}
	var ae *apiError
	return errors.As(err, &ae) && ae.Status >= 400 && ae.Status < 500
}

// read runs an idempotent call behind the breaker with retries.
func (c *Client) read(ctx context.Context, service string, fn func() error) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			err := fn()
			if IsClientError(err) {
				return resilience.Permanent(err)
			}
			return err
		})
	})
	return resilience.Classify(service, err)
}

// write runs a mutating call behind the breaker once.
func (c *Client) write(service string, fn func() error) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, classify(fn())
	})
	return resilience.Classify(service, err)
}

// Ping checks that PostgREST answers with the service-role key.
func (c *Client) Ping(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Supabase.Ping")
	defer span.End()

	_, err := c.doRequest(ctx, http.MethodGet, "companies?select=id&limit=1")
	return err
}
