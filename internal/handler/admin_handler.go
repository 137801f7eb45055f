package handler

import (
	"fmt"
	"net/http"

	"github.com/boddenberg/crm-consignado-go/internal/domain"
	"github.com/boddenberg/crm-consignado-go/internal/service"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Admin Handlers: users & companies
// ============================================================

func addUserHandler(svc *service.UserManager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/users")
		defer span.End()

		id, ok := IdentityFromContext(ctx)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Usuário não autenticado")
			return
		}

		ctx, err := svc.AuthorizeAddUser(ctx, id.UserID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		var req domain.AddUserRequest
		if !decodeBody(w, r, &req) {
			return
		}

		resp, err := svc.AddUser(ctx, id.UserID, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("created.user_id", resp.UserID))

		writeJSON(w, http.StatusCreated, domain.APIResponse{
			Success: true,
			Message: fmt.Sprintf("Usuário %s criado com sucesso com o papel %s", resp.Email, resp.Role),
			Data:    resp,
		})
	}
}

func removeUserHandler(svc *service.UserManager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/users/remove")
		defer span.End()

		id, ok := IdentityFromContext(ctx)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Usuário não autenticado")
			return
		}

		ctx, err := svc.AuthorizeRemoveUser(ctx, id.UserID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		var req domain.RemoveUserRequest
		if !decodeBody(w, r, &req) {
			return
		}
		span.SetAttributes(attribute.String("target.user_id", req.UserID))

		if err := svc.RemoveUser(ctx, id.UserID, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeMessage(w, http.StatusOK, "Usuário removido com sucesso")
	}
}

func createCompanyHandler(svc *service.CompanyOnboarding, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/companies")
		defer span.End()

		id, ok := IdentityFromContext(ctx)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Usuário não autenticado")
			return
		}

		ctx, err := svc.Authorize(ctx, id.UserID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		var req domain.CreateCompanyRequest
		if !decodeBody(w, r, &req) {
			return
		}

		resp, err := svc.CreateCompany(ctx, id.UserID, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("company.id", resp.Company.ID))

		writeJSON(w, http.StatusCreated, domain.APIResponse{
			Success: true,
			Message: "Empresa criada com sucesso",
			Data:    resp,
		})
	}
}
