package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// OrchestrationMetrics is returned by GET /v1/metrics/orchestration.
type OrchestrationMetrics struct {
	ProvisionedTenants   int64   `json:"provisionedTenants"`
	AlreadyProvisioned   int64   `json:"alreadyProvisioned"`
	UsersCreated         int64   `json:"usersCreated"`
	UsersRemoved         int64   `json:"usersRemoved"`
	CompaniesCreated     int64   `json:"companiesCreated"`
	Compensations        int64   `json:"compensations"`
	SubmissionsAccepted  int64   `json:"submissionsAccepted"`
	SubmissionsRejected  int64   `json:"submissionsRejected"`
	SubmissionRejectRate float64 `json:"submissionRejectRate"`
	IdempotentReplays    int64   `json:"idempotentReplays"`
	Period               string  `json:"period"`
}

// APIResponse is the envelope of every orchestration response.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}
