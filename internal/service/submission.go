package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/boddenberg/crm-consignado-go/internal/domain"
	"github.com/boddenberg/crm-consignado-go/internal/infra/observability"
	"github.com/boddenberg/crm-consignado-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"
)

var submissionTracer = otel.Tracer("service/submission")

const lenderService = "facta"

// SubmissionService sends proposals to the FACTA lender API and keeps their
// bank status in sync.
type SubmissionService struct {
	proposals      port.ProposalStore
	lender         port.LenderAPI
	audit          port.AuditLogger
	idempotency    port.IdempotencyStore
	limiter        port.RateLimiter
	resolver       *CallerResolver
	defaultBaseURL string
	metrics        *observability.Metrics
	logger         *zap.Logger
	now            func() time.Time
}

// NewSubmissionService creates the submission orchestrator. defaultBaseURL is
// used when the bank row carries no api_base_url.
func NewSubmissionService(
	proposals port.ProposalStore,
	lender port.LenderAPI,
	audit port.AuditLogger,
	idempotency port.IdempotencyStore,
	limiter port.RateLimiter,
	resolver *CallerResolver,
	defaultBaseURL string,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *SubmissionService {
	return &SubmissionService{
		proposals:      proposals,
		lender:         lender,
		audit:          audit,
		idempotency:    idempotency,
		limiter:        limiter,
		resolver:       resolver,
		defaultBaseURL: strings.TrimRight(defaultBaseURL, "/"),
		metrics:        metrics,
		logger:         logger,
		now:            time.Now,
	}
}

// ============================================================
// Submit: POST /v1/proposals/submit
// ============================================================

const (
	submitDenied = "perfil sem permissão para enviar propostas"
	syncDenied   = "perfil sem permissão para sincronizar propostas"
)

// AuthorizeSubmit checks the caller may send proposals to the lender.
func (s *SubmissionService) AuthorizeSubmit(ctx context.Context, callerID string) (context.Context, error) {
	return s.resolver.authorize(ctx, callerID, domain.SubmitRoles, submitDenied)
}

// AuthorizeSync checks the caller may refresh a proposal's bank status.
func (s *SubmissionService) AuthorizeSync(ctx context.Context, callerID string) (context.Context, error) {
	return s.resolver.authorize(ctx, callerID, domain.SubmitRoles, syncDenied)
}

// Submit sends one proposal to the lender. idemKey is the optional
// Idempotency-Key header; a key seen before replays the stored result and a
// key still in flight is a conflict. Only one lender call per proposal runs
// at a time.
func (s *SubmissionService) Submit(ctx context.Context, callerID, idemKey string, req *domain.SubmitProposalRequest) (*domain.SubmissionResult, error) {
	ctx, span := submissionTracer.Start(ctx, "SubmissionService.Submit")
	defer span.End()

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration(observability.FlowSubmit, time.Since(start)) }()

	caller, err := s.resolver.require(ctx, callerID, domain.SubmitRoles, submitDenied)
	if err != nil {
		return nil, err
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("proposal.id", req.ProposalID))

	key := ""
	if idemKey = strings.TrimSpace(idemKey); idemKey != "" {
		key = idempotencyKey(caller.CompanyID, idemKey)
		prev, err := s.idempotency.Reserve(ctx, key, req.ProposalID)
		switch {
		case err != nil:
			s.logger.Warn("submit: idempotency reserve failed", zap.Error(err))
			key = ""
		case prev == nil:
			// Claimed; a completed submission replaces the reservation.
			defer func() {
				if key != "" {
					s.release(ctx, key)
				}
			}()
		case prev.ProposalID != req.ProposalID:
			return nil, &domain.ErrConflict{Message: "Idempotency-Key já utilizada para outra proposta"}
		case prev.Pending():
			return nil, &domain.ErrConflict{Message: "Requisição com esta Idempotency-Key em processamento"}
		default:
			s.metrics.IncrIdempotentReplay()
			s.logger.Info("submit: replayed",
				zap.String("proposal_id", prev.ProposalID),
				zap.String("protocolo", prev.Result.Protocolo),
			)
			replay := *prev.Result
			replay.Replayed = true
			return &replay, nil
		}
	}

	inflight := inflightKey(req.ProposalID)
	prev, err := s.idempotency.Reserve(ctx, inflight, req.ProposalID)
	switch {
	case err != nil:
		s.logger.Warn("submit: in-flight reserve failed", zap.Error(err))
	case prev != nil:
		return nil, &domain.ErrConflict{Message: "Proposta em processo de envio ao banco"}
	default:
		defer s.release(ctx, inflight)
	}

	proposal, err := s.loadScopedProposal(ctx, caller, req.ProposalID)
	if err != nil {
		return nil, err
	}
	if proposal.ProtocoloBanco != nil && *proposal.ProtocoloBanco != "" && proposal.BankStatus != domain.BankNaoEnviado {
		return nil, &domain.ErrConflict{
			Message: fmt.Sprintf("Proposta já enviada ao banco (protocolo %s, status %s)", *proposal.ProtocoloBanco, proposal.BankStatus),
		}
	}
	if proposal.BankID == nil || *proposal.BankID == "" {
		return nil, &domain.ErrBusinessRule{Rule: "bank_required", Message: "Proposta sem banco selecionado"}
	}

	var (
		client *domain.Client
		bank   *domain.Bank
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := s.proposals.GetClient(gCtx, proposal.ClientID)
		if err != nil {
			return fmt.Errorf("get client: %w", err)
		}
		if c == nil {
			return &domain.ErrNotFound{Resource: "client", ID: proposal.ClientID}
		}
		client = c
		return nil
	})
	g.Go(func() error {
		b, err := s.proposals.GetBank(gCtx, *proposal.BankID)
		if err != nil {
			return fmt.Errorf("get bank: %w", err)
		}
		if b == nil {
			return &domain.ErrNotFound{Resource: "bank", ID: *proposal.BankID}
		}
		bank = b
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if !strings.EqualFold(bank.Code, domain.FactaBankCode) || !bank.APIEnabled {
		return nil, &domain.ErrBusinessRule{
			Rule:    "bank_not_integrated",
			Message: fmt.Sprintf("Banco %s não possui integração via API habilitada", bank.Name),
		}
	}

	retryAfter, err := s.limiter.Allow(ctx, proposal.CompanyID)
	if err != nil {
		s.logger.Warn("submit: rate limiter unavailable", zap.Error(err))
	} else if retryAfter > 0 {
		return nil, &domain.ErrRateLimited{RetryAfterSeconds: int(math.Ceil(retryAfter.Seconds()))}
	}

	if !proposal.Modality.Known() {
		s.logger.Warn("submit: unknown modality, sending as generic operation",
			zap.String("proposal_id", proposal.ID),
			zap.String("modalidade", string(proposal.Modality)),
		)
	}
	payload := domain.BuildFactaPayload(*proposal, *client)
	sentAt := s.now().UTC()
	reply, callErr := s.lender.SubmitProposal(ctx, s.baseURL(bank), &payload)

	if callErr == nil && reply.OK() && reply.Parsed.Protocolo != "" {
		result, err := s.accept(ctx, caller, proposal, &payload, reply, sentAt, key)
		if err == nil {
			key = ""
		}
		return result, err
	}

	span.SetStatus(codes.Error, "lender rejected submission")
	return nil, s.reject(ctx, caller, proposal, &payload, reply, callErr, sentAt)
}

func (s *SubmissionService) accept(ctx context.Context, caller *domain.Caller, p *domain.Proposal, payload *domain.FactaPayload, reply *port.LenderReply, sentAt time.Time, key string) (*domain.SubmissionResult, error) {
	protocolo := reply.Parsed.Protocolo
	rec := &domain.SubmissionRecord{
		ProposalID:     p.ID,
		BankStatus:     domain.BankEmAnalise,
		ProtocoloBanco: &protocolo,
		PayloadEnviado: mustJSON(payload),
		RespostaBanco:  rawJSON(reply.Body),
		SentAt:         sentAt,
	}
	if err := s.proposals.SaveSubmission(ctx, rec); err != nil {
		// The lender already holds the proposal; surface the protocolo in logs
		// so it can be reconciled by hand.
		s.logger.Error("submit: accepted by lender but not persisted",
			zap.String("proposal_id", p.ID),
			zap.String("protocolo", protocolo),
			zap.Error(err),
		)
		return nil, fmt.Errorf("save submission: %w", err)
	}

	s.writeAudit(ctx, caller, p, domain.AuditSubmitFacta, map[string]any{
		"protocolo":   protocolo,
		"bank_status": domain.BankEmAnalise,
		"modalidade":  p.Modality,
	})

	result := &domain.SubmissionResult{
		ProposalID: p.ID,
		Protocolo:  protocolo,
		BankStatus: domain.BankEmAnalise,
	}
	if key != "" {
		if err := s.idempotency.Remember(context.WithoutCancel(ctx), key, result); err != nil {
			s.logger.Warn("submit: idempotency remember failed", zap.Error(err))
		}
	}

	s.metrics.IncrOutcome(observability.FlowSubmit, observability.OutcomeSuccess)
	s.logger.Info("proposal submitted",
		zap.String("proposal_id", p.ID),
		zap.String("company_id", p.CompanyID),
		zap.String("protocolo", protocolo),
		zap.String("modalidade", string(p.Modality)),
	)
	return result, nil
}

func (s *SubmissionService) reject(ctx context.Context, caller *domain.Caller, p *domain.Proposal, payload *domain.FactaPayload, reply *port.LenderReply, callErr error, sentAt time.Time) error {
	var (
		message string
		status  int
		body    json.RawMessage
		result  error
	)
	switch {
	case callErr != nil:
		message = callErr.Error()
		result = callErr
	default:
		status = reply.StatusCode
		body = rawJSON(reply.Body)
		message = reply.Parsed.Message()
		if message == "" && reply.OK() {
			message = "Resposta do banco sem protocolo"
		}
		if message == "" {
			message = fmt.Sprintf("Banco retornou status %d", status)
		}
		result = &domain.ErrUpstream{Service: lenderService, StatusCode: status, Message: message}
	}

	rec := &domain.SubmissionRecord{
		ProposalID:     p.ID,
		BankStatus:     domain.BankNaoEnviado,
		PayloadEnviado: mustJSON(payload),
		RespostaBanco:  body,
		ErroBanco:      &message,
		SentAt:         sentAt,
	}
	if err := s.proposals.SaveSubmission(ctx, rec); err != nil {
		s.logger.Error("submit: failed to persist lender error", zap.String("proposal_id", p.ID), zap.Error(err))
	}

	s.writeAudit(ctx, caller, p, domain.AuditSubmitFactaFail, map[string]any{
		"http_status": status,
		"erro":        message,
		"modalidade":  p.Modality,
	})

	s.metrics.IncrOutcome(observability.FlowSubmit, observability.OutcomeRejected)
	s.logger.Warn("proposal rejected by lender",
		zap.String("proposal_id", p.ID),
		zap.String("company_id", p.CompanyID),
		zap.Int("http_status", status),
		zap.String("erro", message),
	)
	return result
}

// ============================================================
// SyncStatus: POST /v1/proposals/status-sync
// ============================================================

func (s *SubmissionService) SyncStatus(ctx context.Context, callerID string, req *domain.SyncStatusRequest) (*domain.SyncResult, error) {
	ctx, span := submissionTracer.Start(ctx, "SubmissionService.SyncStatus")
	defer span.End()

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration(observability.FlowStatusSync, time.Since(start)) }()

	caller, err := s.resolver.require(ctx, callerID, domain.SubmitRoles, syncDenied)
	if err != nil {
		return nil, err
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("proposal.id", req.ProposalID))

	proposal, err := s.loadScopedProposal(ctx, caller, req.ProposalID)
	if err != nil {
		return nil, err
	}
	if proposal.ProtocoloBanco == nil || *proposal.ProtocoloBanco == "" {
		return nil, &domain.ErrBusinessRule{Rule: "not_submitted", Message: "Proposta ainda não foi enviada ao banco"}
	}
	protocolo := *proposal.ProtocoloBanco

	baseURL := s.defaultBaseURL
	if proposal.BankID != nil && *proposal.BankID != "" {
		bank, err := s.proposals.GetBank(ctx, *proposal.BankID)
		if err != nil {
			return nil, fmt.Errorf("get bank: %w", err)
		}
		if bank != nil {
			baseURL = s.baseURL(bank)
		}
	}

	status, err := s.lender.GetStatus(ctx, baseURL, protocolo)
	if err != nil {
		s.metrics.IncrOutcome(observability.FlowStatusSync, observability.OutcomeFailed)
		return nil, err
	}

	result := &domain.SyncResult{
		ProposalID:   proposal.ID,
		Protocolo:    protocolo,
		LenderStatus: status.Status,
		BankStatus:   proposal.BankStatus,
	}

	mapped, ok := domain.MapFactaStatus(status.Status)
	if !ok {
		s.metrics.IncrOutcome(observability.FlowStatusSync, observability.OutcomeNoop)
		s.logger.Info("status sync: unmapped lender status, keeping current",
			zap.String("proposal_id", proposal.ID),
			zap.String("lender_status", status.Status),
			zap.String("bank_status", string(proposal.BankStatus)),
		)
		return result, nil
	}
	if mapped == proposal.BankStatus {
		s.metrics.IncrOutcome(observability.FlowStatusSync, observability.OutcomeNoop)
		return result, nil
	}

	if err := s.proposals.UpdateBankStatus(ctx, proposal.ID, mapped); err != nil {
		s.metrics.IncrOutcome(observability.FlowStatusSync, observability.OutcomeFailed)
		return nil, fmt.Errorf("update bank status: %w", err)
	}
	result.BankStatus = mapped
	result.Updated = true

	s.writeAudit(ctx, caller, proposal, domain.AuditSyncFacta, map[string]any{
		"protocolo":     protocolo,
		"lender_status": status.Status,
		"bank_status":   mapped,
		"previous":      proposal.BankStatus,
	})

	s.metrics.IncrOutcome(observability.FlowStatusSync, observability.OutcomeSuccess)
	s.logger.Info("proposal status synchronized",
		zap.String("proposal_id", proposal.ID),
		zap.String("protocolo", protocolo),
		zap.String("bank_status", string(mapped)),
	)
	return result, nil
}

// ============================================================
// helpers
// ============================================================

// loadScopedProposal returns the proposal when it belongs to the caller's
// company. Platform super-admins see every tenant.
func (s *SubmissionService) loadScopedProposal(ctx context.Context, caller *domain.Caller, proposalID string) (*domain.Proposal, error) {
	p, err := s.proposals.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, fmt.Errorf("get proposal: %w", err)
	}
	if p == nil || (!caller.Role.IsSuperAdmin() && p.CompanyID != caller.CompanyID) {
		return nil, &domain.ErrNotFound{Resource: "proposal", ID: proposalID}
	}
	return p, nil
}

func (s *SubmissionService) baseURL(b *domain.Bank) string {
	if b.APIBaseURL != nil && strings.TrimSpace(*b.APIBaseURL) != "" {
		return strings.TrimRight(*b.APIBaseURL, "/")
	}
	return s.defaultBaseURL
}

func (s *SubmissionService) writeAudit(ctx context.Context, caller *domain.Caller, p *domain.Proposal, action string, data map[string]any) {
	companyID := p.CompanyID
	err := s.audit.InsertAuditLog(ctx, &domain.AuditEntry{
		UserID:       caller.UserID,
		CompanyID:    &companyID,
		Action:       action,
		ResourceType: "propostas",
		ResourceID:   p.ID,
		OldData:      mustJSON(map[string]any{"bank_status": p.BankStatus}),
		NewData:      mustJSON(data),
	})
	if err != nil {
		s.logger.Warn("audit log failed", zap.String("action", action), zap.String("proposal_id", p.ID), zap.Error(err))
	}
}

// release drops a reservation even when the request context is gone.
func (s *SubmissionService) release(ctx context.Context, key string) {
	if err := s.idempotency.Release(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn("submit: idempotency release failed", zap.Error(err))
	}
}

// inflightKey guards a proposal against concurrent lender calls.
func inflightKey(proposalID string) string {
	return "submit-inflight:" + proposalID
}

// idempotencyKey scopes a client key to the tenant and bounds its length.
func idempotencyKey(companyID, clientKey string) string {
	sum := blake2b.Sum256([]byte(companyID + "\x00" + clientKey))
	return "submit:" + hex.EncodeToString(sum[:])
}

// rawJSON keeps a lender body as JSON, quoting it when it is not valid JSON.
func rawJSON(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	return mustJSON(string(body))
}

