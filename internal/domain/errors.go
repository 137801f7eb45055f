package domain

import "fmt"

// Error types for consistent error handling across the CRM API.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure talking to a collaborating platform
// (PostgREST, GoTrue, Redis). It is never the lender's business rejection;
// that is ErrUpstream.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input). Message may
// aggregate several field problems into one human-readable sentence.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrBusinessRule indicates a request that is well-formed but violates a
// tenant rule: seat limit, wrong bank, duplicate CNPJ, self-removal.
type ErrBusinessRule struct {
	Rule    string
	Message string
}

func (e *ErrBusinessRule) Error() string {
	return e.Message
}

// ErrCompanyInactive indicates the caller's company is suspended or canceled.
type ErrCompanyInactive struct {
	Status CompanyStatus
}

func (e *ErrCompanyInactive) Error() string {
	switch e.Status {
	case CompanySuspended:
		return "Empresa suspensa. Entre em contato com o suporte para regularizar o acesso"
	case CompanyCanceled:
		return "Empresa cancelada. Não é possível adicionar novos usuários"
	}
	return fmt.Sprintf("Empresa inativa: %s", e.Status)
}

// ErrForbidden indicates the user lacks permission for the operation.
type ErrForbidden struct {
	Action string
}

func (e *ErrForbidden) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Action)
}

// ErrUnauthorized indicates a missing, malformed or invalid bearer token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrConflict indicates the operation collides with existing state
// (e.g. a proposal already accepted by the lender).
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	return e.Message
}

// ErrUpstream indicates the lender API rejected or failed the request.
type ErrUpstream struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *ErrUpstream) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s returned status %d", e.Service, e.StatusCode)
}

// ErrRateLimited indicates the caller's company exceeded its submission quota.
type ErrRateLimited struct {
	RetryAfterSeconds int
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("Limite de envios atingido. Tente novamente em %d segundos", e.RetryAfterSeconds)
}
