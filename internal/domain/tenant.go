package domain

import (
	"strings"
	"time"
)

// ============================================================
// Companies (tenants)
// ============================================================

// CompanyStatus is the lifecycle state of a tenant.
type CompanyStatus string

const (
	CompanyActive    CompanyStatus = "active"
	CompanySuspended CompanyStatus = "suspended"
	CompanyCanceled  CompanyStatus = "canceled"
)

// Valid reports whether s is a known company status.
func (s CompanyStatus) Valid() bool {
	switch s {
	case CompanyActive, CompanySuspended, CompanyCanceled:
		return true
	}
	return false
}

// Plan is the commercial plan of a tenant.
type Plan string

const (
	PlanBasico       Plan = "basico"
	PlanProfissional Plan = "profissional"
	PlanEnterprise   Plan = "enterprise"
)

// Valid reports whether p is a known plan.
func (p Plan) Valid() bool {
	switch p {
	case PlanBasico, PlanProfissional, PlanEnterprise:
		return true
	}
	return false
}

// DefaultMaxUsers is the seat count when the operator does not set one.
const DefaultMaxUsers = 2

// Company is the tenant boundary; every business row belongs to one.
type Company struct {
	ID        string        `json:"id" db:"id"`
	Name      string        `json:"name" db:"name"`
	CNPJ      *string       `json:"cnpj,omitempty" db:"cnpj"`
	Status    CompanyStatus `json:"status" db:"status"`
	Plan      Plan          `json:"plan" db:"plan"`
	MaxUsers  int           `json:"max_users" db:"max_users"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
}

// NewCompany is the insert shape for a company row.
type NewCompany struct {
	Name     string        `json:"name" db:"name"`
	CNPJ     *string       `json:"cnpj,omitempty" db:"cnpj"`
	Status   CompanyStatus `json:"status" db:"status"`
	Plan     Plan          `json:"plan" db:"plan"`
	MaxUsers int           `json:"max_users" db:"max_users"`
}

// ============================================================
// Profiles & role assignments
// ============================================================

// Profile is the per-identity account record. Removal sets IsActive=false.
type Profile struct {
	ID        string    `json:"id,omitempty" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	CompanyID *string   `json:"company_id" db:"company_id"`
	Email     string    `json:"email" db:"email"`
	FullName  string    `json:"full_name" db:"full_name"`
	Phone     *string   `json:"phone,omitempty" db:"phone"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at,omitempty" db:"created_at"`
}

// RoleAssignment links an identity to its single role.
type RoleAssignment struct {
	UserID    string  `json:"user_id" db:"user_id"`
	Role      Role    `json:"role" db:"role"`
	CompanyID *string `json:"company_id" db:"company_id"`
}

// TenantBundle is the company + profile + role triple created for a new tenant owner.
type TenantBundle struct {
	Company NewCompany
	Profile Profile
	Role    Role
}

// ProvisionedTenant is the result of provisioning a TenantBundle.
type ProvisionedTenant struct {
	Company Company
	Profile Profile
	Role    RoleAssignment
}

// Identity is a verified authentication subject (from the bearer token).
type Identity struct {
	UserID   string
	Email    string
	FullName string
}

// Caller is the server-side view of who is calling: identity plus the
// role and company looked up from the store on this request.
type Caller struct {
	UserID    string
	Email     string
	CompanyID string
	Role      Role
}

// AuthUser is an identity as seen by the identity provider admin API.
type AuthUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// NewAuthUser is the admin create-user request.
type NewAuthUser struct {
	Email    string
	Password string
	FullName string
	Phone    string
}

// OnlyDigits strips everything that is not an ASCII digit.
func OnlyDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// NormalizeCNPJ returns the digits-only form used for uniqueness checks.
func NormalizeCNPJ(cnpj string) string {
	return OnlyDigits(cnpj)
}

// CompanyNameFor derives a company name for a self-provisioned identity:
// the display name when present, otherwise the e-mail local part.
func CompanyNameFor(id Identity) string {
	if name := strings.TrimSpace(id.FullName); name != "" {
		return "Empresa de " + name
	}
	local := id.Email
	if at := strings.IndexByte(local, '@'); at > 0 {
		local = local[:at]
	}
	if local == "" {
		local = id.UserID
	}
	return "Empresa de " + local
}
