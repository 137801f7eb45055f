package domain

// ============================================================
// Administrative API: Request / Response types
// ============================================================

// AddUserRequest is the body for POST /v1/admin/users.
// There is deliberately no company_id: the caller's own company is used.
type AddUserRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	FullName string `json:"full_name" validate:"required,min=2,max=120"`
	Phone    string `json:"phone" validate:"omitempty,min=8,max=20"`
	Role     Role   `json:"role" validate:"required,oneof=vendedor administrador"`
}

// AddUserResponse is the data returned after a collaborator is created.
type AddUserResponse struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// RemoveUserRequest is the body for POST /v1/admin/users/remove.
type RemoveUserRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// CreateCompanyRequest is the body for POST /v1/admin/companies.
type CreateCompanyRequest struct {
	Company CompanyInput `json:"company" validate:"required"`
	Admin   AdminInput   `json:"admin" validate:"required"`

	// ConfirmAdminReassignment must be true to adopt an identity that
	// already exists (and move its role to the new company).
	ConfirmAdminReassignment bool `json:"confirm_admin_reassignment"`
}

// CompanyInput holds the tenant fields of CreateCompanyRequest.
type CompanyInput struct {
	Name     string `json:"name" validate:"required,min=2,max=150"`
	CNPJ     string `json:"cnpj" validate:"required,min=14,max=18"`
	Plan     Plan   `json:"plan" validate:"omitempty,oneof=basico profissional enterprise"`
	MaxUsers int    `json:"max_users" validate:"omitempty,min=1,max=100"`
}

// AdminInput holds the first administrator of CreateCompanyRequest.
type AdminInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	FullName string `json:"full_name" validate:"required,min=2,max=120"`
	Phone    string `json:"phone" validate:"omitempty,min=8,max=20"`
}

// CreateCompanyResponse is the data returned after tenant onboarding.
type CreateCompanyResponse struct {
	Company     Company `json:"company"`
	AdminUserID string  `json:"admin_user_id"`
	AdminEmail  string  `json:"admin_email"`
	AdminReused bool    `json:"admin_reused"`
}

// ProvisionResult is returned by POST /v1/provisioning/self.
type ProvisionResult struct {
	Status    string `json:"status"` // already_provisioned | provisioned
	CompanyID string `json:"company_id,omitempty"`
	Role      Role   `json:"role,omitempty"`
}

// Provisioning outcomes.
const (
	ProvisionAlreadyDone = "already_provisioned"
	ProvisionCreated     = "provisioned"
)
