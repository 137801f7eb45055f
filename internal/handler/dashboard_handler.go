package handler

import (
	"net/http"

	"github.com/boddenberg/crm-consignado-go/internal/service"

	"go.uber.org/zap"
)

func salesDashboardHandler(svc *service.DashboardService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/dashboard/sales")
		defer span.End()

		id, ok := IdentityFromContext(ctx)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Usuário não autenticado")
			return
		}

		dash, err := svc.SalesDashboard(ctx, id.UserID, r.URL.Query().Get("month"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeData(w, http.StatusOK, dash)
	}
}
