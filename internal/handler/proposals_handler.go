package handler

import (
	"net/http"
	"strings"

	"github.com/boddenberg/crm-consignado-go/internal/domain"
	"github.com/boddenberg/crm-consignado-go/internal/service"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Proposal Handlers: FACTA submission & status sync
// ============================================================

// idempotencyHeader carries the client key that guards lender resubmission.
const idempotencyHeader = "Idempotency-Key"

func submitProposalHandler(svc *service.SubmissionService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/proposals/submit")
		defer span.End()

		id, ok := IdentityFromContext(ctx)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Usuário não autenticado")
			return
		}

		ctx, err := svc.AuthorizeSubmit(ctx, id.UserID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		var req domain.SubmitProposalRequest
		if !decodeBody(w, r, &req) {
			return
		}
		span.SetAttributes(attribute.String("proposal.id", req.ProposalID))

		key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
		if len(key) > 255 {
			writeError(w, http.StatusBadRequest, "Idempotency-Key muito longa")
			return
		}

		result, err := svc.Submit(ctx, id.UserID, key, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		if result.Replayed {
			w.Header().Set("Idempotent-Replayed", "true")
		}
		writeJSON(w, http.StatusOK, domain.APIResponse{
			Success: true,
			Message: "Proposta enviada ao banco com sucesso",
			Data:    result,
		})
	}
}

func syncStatusHandler(svc *service.SubmissionService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/proposals/status-sync")
		defer span.End()

		id, ok := IdentityFromContext(ctx)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Usuário não autenticado")
			return
		}

		ctx, err := svc.AuthorizeSync(ctx, id.UserID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		var req domain.SyncStatusRequest
		if !decodeBody(w, r, &req) {
			return
		}
		span.SetAttributes(attribute.String("proposal.id", req.ProposalID))

		result, err := svc.SyncStatus(ctx, id.UserID, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeData(w, http.StatusOK, result)
	}
}
