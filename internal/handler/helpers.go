package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/boddenberg/crm-consignado-go/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

// maxBodyBytes caps request bodies; every orchestration payload is small.
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, domain.APIResponse{Success: true, Data: data})
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, domain.APIResponse{Success: true, Message: msg})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, domain.APIResponse{Success: false, Error: msg})
}

// decodeBody reads a JSON body into dst. Unknown fields are rejected so a
// client cannot smuggle in company_id or role overrides unnoticed.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Corpo da requisição inválido")
		return false
	}
	return true
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var unauthorized *domain.ErrUnauthorized
	var forbidden *domain.ErrForbidden
	var inactive *domain.ErrCompanyInactive
	var validation *domain.ErrValidation
	var businessRule *domain.ErrBusinessRule
	var notFound *domain.ErrNotFound
	var conflict *domain.ErrConflict
	var upstream *domain.ErrUpstream
	var rateLimited *domain.ErrRateLimited
	var circuitOpen *domain.ErrCircuitOpen
	var external *domain.ErrExternalService

	switch {
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &forbidden):
		logger.Warn("forbidden access", zap.String("action", forbidden.Action))
		writeError(w, http.StatusForbidden, "Acesso negado")
	case errors.As(err, &inactive):
		logger.Warn("company inactive", zap.String("status", string(inactive.Status)))
		writeError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, validation.Message)
	case errors.As(err, &businessRule):
		logger.Info("business rule", zap.String("rule", businessRule.Rule))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &conflict):
		logger.Debug("conflict", zap.String("error", err.Error()))
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &upstream):
		logger.Warn("lender rejected request",
			zap.String("service", upstream.Service),
			zap.Int("status", upstream.StatusCode),
		)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &rateLimited):
		w.Header().Set("Retry-After", strconv.Itoa(rateLimited.RetryAfterSeconds))
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Serviço temporariamente indisponível")
	case errors.As(err, &external):
		logger.Error("external service failure", zap.Error(err))
		writeError(w, http.StatusBadGateway, "Falha ao comunicar com serviço externo")
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Erro interno do servidor")
	}
}
