package domain

// ============================================================
// Roles
// ============================================================

// Role is the closed set of access roles a user can hold.
type Role string

const (
	RoleVendedor      Role = "vendedor"
	RoleAdministrador Role = "administrador"
	RoleRaiz          Role = "raiz"
	RoleAdminGlobal   Role = "admin_global"
	RoleAdminEmpresa  Role = "admin_empresa"
	RoleGerente       Role = "gerente"
	RoleAuditor       Role = "auditor"
	RoleCompliance    Role = "compliance"
	RoleFinanceiro    Role = "financeiro"
	RoleOperacoes     Role = "operacoes"
)

var allRoles = []Role{
	RoleVendedor, RoleAdministrador, RoleRaiz, RoleAdminGlobal, RoleAdminEmpresa,
	RoleGerente, RoleAuditor, RoleCompliance, RoleFinanceiro, RoleOperacoes,
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	for _, known := range allRoles {
		if r == known {
			return true
		}
	}
	return false
}

// IsSuperAdmin reports whether r is a platform-wide role not scoped to a company.
func (r Role) IsSuperAdmin() bool {
	return r == RoleRaiz || r == RoleAdminGlobal
}

// RoleSet is an immutable membership set of roles.
type RoleSet map[Role]struct{}

// NewRoleSet builds a RoleSet.
func NewRoleSet(roles ...Role) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		s[r] = struct{}{}
	}
	return s
}

// Has reports whether r belongs to the set.
func (s RoleSet) Has(r Role) bool {
	_, ok := s[r]
	return ok
}

var (
	// AdminRoles may add collaborators to their own company.
	AdminRoles = NewRoleSet(RoleAdministrador, RoleAdminEmpresa, RoleRaiz, RoleAdminGlobal)

	// SuperAdminRoles may onboard new tenants.
	SuperAdminRoles = NewRoleSet(RoleRaiz, RoleAdminGlobal)

	// SubmitRoles may send proposals to a lender and sync their status.
	// Back-office roles (auditor, compliance) are read-only.
	SubmitRoles = NewRoleSet(
		RoleVendedor, RoleAdministrador, RoleRaiz, RoleAdminGlobal, RoleAdminEmpresa,
		RoleGerente, RoleFinanceiro, RoleOperacoes,
	)
)
