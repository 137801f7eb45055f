package domain

import (
	"encoding/json"
	"time"
)

// Audit actions written by the orchestration handlers.
const (
	AuditCreateUser      = "criar_usuario"
	AuditRemoveUser      = "remover_usuario"
	AuditCreateCompany   = "criar_empresa"
	AuditSelfProvision   = "auto_provisionamento"
	AuditSubmitFacta     = "envio_facta"
	AuditSubmitFactaFail = "erro_envio_facta"
	AuditSyncFacta       = "sincronizar_status_facta"
)

// AuditEntry is an append-only record of a privileged action.
type AuditEntry struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	CompanyID    *string         `json:"company_id"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	OldData      json.RawMessage `json:"old_data,omitempty"`
	NewData      json.RawMessage `json:"new_data,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
