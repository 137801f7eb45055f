// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations (Supabase, Postgres, FACTA, Redis).
package port

import (
	"context"
	"time"

	"github.com/boddenberg/crm-consignado-go/internal/domain"
)

// TenantStore reads and writes companies, profiles and role assignments.
// Lookups that find nothing return (nil, nil).
type TenantStore interface {
	GetProfileByUserID(ctx context.Context, userID string) (*domain.Profile, error)
	CreateProfile(ctx context.Context, p *domain.Profile) (*domain.Profile, error)
	UpdateProfile(ctx context.Context, userID string, updates map[string]any) error
	CountActiveProfiles(ctx context.Context, companyID string) (int, error)

	GetRole(ctx context.Context, userID string) (*domain.RoleAssignment, error)
	CreateRole(ctx context.Context, r *domain.RoleAssignment) error
	UpsertRole(ctx context.Context, r *domain.RoleAssignment) error
	DeleteRole(ctx context.Context, userID string) error

	GetCompany(ctx context.Context, companyID string) (*domain.Company, error)
	GetCompanyByCNPJ(ctx context.Context, cnpj string) (*domain.Company, error)
	CreateCompany(ctx context.Context, c *domain.NewCompany) (*domain.Company, error)
	DeleteCompany(ctx context.Context, companyID string) error
}

// TenantProvisioner creates a company, its owner profile and role as one unit.
// Implementations either use a database transaction or compensate on failure;
// a concurrent duplicate for the same user must surface as ErrConflict.
type TenantProvisioner interface {
	ProvisionTenant(ctx context.Context, bundle *domain.TenantBundle) (*domain.ProvisionedTenant, error)
}

// AuthAdmin is the identity provider's privileged user API.
type AuthAdmin interface {
	CreateUser(ctx context.Context, u *domain.NewAuthUser) (*domain.AuthUser, error)
	DeleteUser(ctx context.Context, userID string) error
	FindUserByEmail(ctx context.Context, email string) (*domain.AuthUser, error)
}

// ProposalStore reads proposals and persists lender outcomes.
type ProposalStore interface {
	GetProposal(ctx context.Context, proposalID string) (*domain.Proposal, error)
	GetClient(ctx context.Context, clientID string) (*domain.Client, error)
	GetBank(ctx context.Context, bankID string) (*domain.Bank, error)
	SaveSubmission(ctx context.Context, rec *domain.SubmissionRecord) error
	UpdateBankStatus(ctx context.Context, proposalID string, status domain.BankStatus) error
}

// SalesStore lists closed sales for the dashboard.
type SalesStore interface {
	ListSales(ctx context.Context, companyID string, from, to time.Time) ([]domain.Sale, error)
}

// AuditLogger appends audit entries.
type AuditLogger interface {
	InsertAuditLog(ctx context.Context, entry *domain.AuditEntry) error
}

// LenderAPI is the external loan-submission API (FACTA).
type LenderAPI interface {
	SubmitProposal(ctx context.Context, baseURL string, payload *domain.FactaPayload) (*LenderReply, error)
	GetStatus(ctx context.Context, baseURL, protocolo string) (*domain.FactaStatusResponse, error)
}

// LenderReply is the raw outcome of a lender submission.
type LenderReply struct {
	StatusCode int
	Body       []byte
	Parsed     domain.FactaSubmitResponse
}

// OK reports whether the HTTP status was 2xx.
func (r *LenderReply) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IdempotencyStore remembers results of side-effecting requests by key.
type IdempotencyStore interface {
	// Reserve atomically claims key for proposalID. It returns nil when the
	// claim succeeded and the record already holding the key otherwise.
	Reserve(ctx context.Context, key, proposalID string) (*domain.IdempotencyRecord, error)
	// Remember replaces the reservation with the final result.
	Remember(ctx context.Context, key string, result *domain.SubmissionResult) error
	// Release drops a reservation so the key can be retried.
	Release(ctx context.Context, key string) error
}

// RateLimiter throttles operations per key.
type RateLimiter interface {
	// Allow returns retryAfter > 0 when the key is over its quota.
	Allow(ctx context.Context, key string) (retryAfter time.Duration, err error)
}
