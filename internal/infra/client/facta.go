// Package client holds HTTP clients for external lender APIs.
package client

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

	"github.com/boddenberg/crm-consignado-go/internal/domain"
	"github.com/boddenberg/crm-consignado-go/internal/infra/observability"
	"github.com/boddenberg/crm-consignado-go/internal/infra/resilience"
	"github.com/boddenberg/crm-consignado-go/internal/port"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("client/facta")

const factaService = "facta"

// maxLenderBody caps how much of a lender response is kept.
const maxLenderBody = 1 << 20

// FactaClient calls the FACTA proposal API. Submissions are never retried:
// a timed-out POST may still have created the proposal on the lender side.
type FactaClient struct {
	httpClient *http.Client
	username   string
	password   string
	cb         *gobreaker.CircuitBreaker
	bulkhead   *resilience.Bulkhead
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewFactaClient creates a FactaClient. credentials is "user:password".
func NewFactaClient(httpClient *http.Client, credentials string, cb *gobreaker.CircuitBreaker, bulkhead *resilience.Bulkhead, metrics *observability.Metrics, logger *zap.Logger) *FactaClient {
	user, pass, _ := strings.Cut(credentials, ":")
	return &FactaClient{
		httpClient: httpClient,
		username:   user,
		password:   pass,
		cb:         cb,
		bulkhead:   bulkhead,
		metrics:    metrics,
		logger:     logger,
	}
}

// SubmitProposal posts payload to {baseURL}/v2/propostas. Any HTTP answer is
// returned as a LenderReply; only transport failures and 5xx count against
// the circuit breaker.
func (c *FactaClient) SubmitProposal(ctx context.Context, baseURL string, payload *domain.FactaPayload) (*port.LenderReply, error) {
	ctx, span := tracer.Start(ctx, "FactaClient.SubmitProposal")
	defer span.End()
	span.SetAttributes(
		attribute.String("facta.tipo_operacao", payload.TipoOperacao),
		attribute.String("facta.codigo_integracao", payload.CodigoIntegracao),
	)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode facta payload: %w", err)
	}

	reply, err := c.call(ctx, http.MethodPost, baseURL+"/v2/propostas", body)
	if err != nil {
		return nil, err
	}
	if len(reply.Body) > 0 {
		if err := json.Unmarshal(reply.Body, &reply.Parsed); err != nil {
			c.logger.Warn("facta: non-JSON submit response",
				zap.Int("status", reply.StatusCode),
				zap.String("body", truncate(reply.Body)),
			)
			reply.Parsed = domain.FactaSubmitResponse{Erro: truncate(reply.Body)}
		}
	}
	span.SetAttributes(
		attribute.Int("http.status_code", reply.StatusCode),
		attribute.String("facta.protocolo", reply.Parsed.Protocolo),
	)
	return reply, nil
}

// GetStatus reads {baseURL}/v2/propostas/{protocolo}/status.
func (c *FactaClient) GetStatus(ctx context.Context, baseURL, protocolo string) (*domain.FactaStatusResponse, error) {
	ctx, span := tracer.Start(ctx, "FactaClient.GetStatus")
	defer span.End()
	span.SetAttributes(attribute.String("facta.protocolo", protocolo))

	reply, err := c.call(ctx, http.MethodGet, fmt.Sprintf("%s/v2/propostas/%s/status", baseURL, url.PathEscape(protocolo)), nil)
	if err != nil {
		return nil, err
	}
	if !reply.OK() {
		var parsed domain.FactaSubmitResponse
		_ = json.Unmarshal(reply.Body, &parsed)
		msg := parsed.Message()
		if msg == "" {
			msg = fmt.Sprintf("FACTA retornou status %d na consulta", reply.StatusCode)
		}
		return nil, &domain.ErrUpstream{Service: factaService, StatusCode: reply.StatusCode, Message: msg}
	}

	var status domain.FactaStatusResponse
	if err := json.Unmarshal(reply.Body, &status); err != nil {
		return nil, &domain.ErrExternalService{Service: factaService, Err: fmt.Errorf("decode status: %w", err)}
	}
	return &status, nil
}

// call performs one request through the bulkhead and circuit breaker.
func (c *FactaClient) call(ctx context.Context, method, endpoint string, body []byte) (*port.LenderReply, error) {
	if err := c.bulkhead.Acquire(ctx); err != nil {
		return nil, &domain.ErrExternalService{Service: factaService, Err: err}
	}
	defer c.bulkhead.Release()

	start := time.Now()
	defer func() { c.metrics.RecordRequestDuration("facta_"+strings.ToLower(method), time.Since(start)) }()

	var reply *port.LenderReply
	_, err := c.cb.Execute(func() (any, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(c.username, c.password)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxLenderBody))
		if err != nil {
			return nil, err
		}
		reply = &port.LenderReply{StatusCode: resp.StatusCode, Body: raw}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("facta returned status %d", resp.StatusCode)
		}
		return nil, nil
	})

	if err != nil {
		c.metrics.IncrExternalError(factaService)
		if resilience.IsOpen(err) {
			return nil, &domain.ErrCircuitOpen{Service: factaService}
		}
		// A 5xx still carries a lender message worth persisting.
		if reply != nil {
			c.logger.Warn("facta: server error",
				zap.String("endpoint", endpoint),
				zap.Int("status", reply.StatusCode),
			)
			return reply, nil
		}
		c.logger.Error("facta: request failed", zap.String("endpoint", endpoint), zap.Error(err))
		return nil, &domain.ErrExternalService{Service: factaService, Err: err}
	}

	c.logger.Debug("facta: request done",
		zap.String("method", method),
		zap.String("endpoint", endpoint),
		zap.Int("status", reply.StatusCode),
	)
	return reply, nil
}

func truncate(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit])
	}
	return string(b)
}
