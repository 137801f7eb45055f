package handler

import (
	"net/http"

	"github.com/boddenberg/crm-consignado-go/internal/domain"
	"github.com/boddenberg/crm-consignado-go/internal/service"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Provisioning Handler
// ============================================================

func provisionSelfHandler(svc *service.Provisioner, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/provisioning/self")
		defer span.End()

		id, ok := IdentityFromContext(ctx)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Usuário não autenticado")
			return
		}
		span.SetAttributes(attribute.String("user.id", id.UserID))

		result, err := svc.ProvisionSelf(ctx, id)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		if result.Status == domain.ProvisionAlreadyDone {
			writeJSON(w, http.StatusOK, domain.APIResponse{
				Success: true,
				Message: "Usuário já provisionado",
				Data:    result,
			})
			return
		}
		writeJSON(w, http.StatusCreated, domain.APIResponse{
			Success: true,
			Message: "Empresa e perfil criados com sucesso",
			Data:    result,
		})
	}
}
