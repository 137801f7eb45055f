package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/boddenberg/crm-consignado-go/internal/domain"
	"github.com/boddenberg/crm-consignado-go/internal/infra/observability"
	"github.com/boddenberg/crm-consignado-go/internal/service"

	"go.uber.org/zap"
)

func newUserManager(store *memStore, auth *memAuth, metrics *observability.Metrics) *service.UserManager {
	return service.NewUserManager(store, auth, store, service.NewCallerResolver(store), metrics, zap.NewNop())
}

func validAddUser() *domain.AddUserRequest {
	return &domain.AddUserRequest{
		Email:    " Novo@Exemplo.com ",
		Password: "segredo123",
		FullName: "Novo Vendedor",
		Phone:    "11999998888",
		Role:     domain.RoleVendedor,
	}
}

// --- AddUser ---

func TestAddUser_Success(t *testing.T) {
	store := newMemStore()
	store.seedCompany("c-1", domain.CompanyActive, 5)
	store.seedUser("admin", "c-1", domain.RoleAdministrador)
	auth := newMemAuth()
	metrics := observability.NewMetrics()

	resp, err := newUserManager(store, auth, metrics).AddUser(context.Background(), "admin", validAddUser())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.Email != "novo@exemplo.com" {
		t.Errorf("expected normalized e-mail, got %s", resp.Email)
	}

	role, _ := store.GetRole(context.Background(), resp.UserID)
	if role == nil || role.Role != domain.RoleVendedor || role.CompanyID == nil || *role.CompanyID != "c-1" {
		t.Errorf("unexpected role: %+v", role)
	}
	profile, _ := store.GetProfileByUserID(context.Background(), resp.UserID)
	if profile == nil || !profile.IsActive || *profile.CompanyID != "c-1" {
		t.Errorf("unexpected profile: %+v", profile)
	}
	if actions := store.auditActions(); len(actions) != 1 || actions[0] != domain.AuditCreateUser {
		t.Errorf("expected create-user audit, got %v", actions)
	}
	if metrics.Snapshot().UsersCreated != 1 {
		t.Error("expected users-created counter to be 1")
	}
}

func TestAddUser_NonAdminForbidden(t *testing.T) {
	for _, role := range []domain.Role{domain.RoleVendedor, domain.RoleGerente, domain.RoleAuditor, domain.RoleCompliance, domain.RoleFinanceiro, domain.RoleOperacoes} {
		t.Run(string(role), func(t *testing.T) {
			store := newMemStore()
			store.seedCompany("c-1", domain.CompanyActive, 5)
			store.seedUser("caller", "c-1", role)
			auth := newMemAuth()

			_, err := newUserManager(store, auth, observability.NewMetrics()).AddUser(context.Background(), "caller", validAddUser())

			var forbidden *domain.ErrForbidden
			if !errors.As(err, &forbidden) {
				t.Fatalf("expected ErrForbidden, got %v", err)
			}
			if auth.calls != 0 || store.writes != 0 {
				t.Errorf("expected no backend writes, got auth=%d store=%d", auth.calls, store.writes)
			}
		})
	}
}

func TestAuthorizeAddUser(t *testing.T) {
	store := newMemStore()
	store.seedCompany("c-1", domain.CompanyActive, 5)
	store.seedUser("admin", "c-1", domain.RoleAdministrador)
	store.seedUser("seller", "c-1", domain.RoleVendedor)
	m := newUserManager(store, newMemAuth(), observability.NewMetrics())

	_, err := m.AuthorizeAddUser(context.Background(), "seller")
	var forbidden *domain.ErrForbidden
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected ErrForbidden for seller, got %v", err)
	}

	ctx, err := m.AuthorizeAddUser(context.Background(), "admin")
	if err != nil {
		t.Fatalf("expected admin to be authorized, got %v", err)
	}
	// The authorized caller travels on ctx and is not read again.
	store.mu.Lock()
	delete(store.roles, "admin")
	store.mu.Unlock()

	if _, err := m.AddUser(ctx, "admin", validAddUser()); err != nil {
		t.Fatalf("expected add with authorized context, got %v", err)
	}
	if _, err := m.AddUser(context.Background(), "admin", validAddUser()); err == nil {
		t.Error("expected a fresh context to resolve the caller again")
	}
}

func TestAddUser_SeatLimitReached(t *testing.T) {
	store := newMemStore()
	store.seedCompany("c-1", domain.CompanyActive, 2)
	store.seedUser("admin", "c-1", domain.RoleAdministrador)
	store.seedUser("seller", "c-1", domain.RoleVendedor)
	auth := newMemAuth()

	_, err := newUserManager(store, auth, observability.NewMetrics()).AddUser(context.Background(), "admin", validAddUser())

	var rule *domain.ErrBusinessRule
	if !errors.As(err, &rule) || rule.Rule != "seat_limit" {
		t.Fatalf("expected seat_limit rule, got %v", err)
	}
	if len(auth.created) != 0 {
		t.Errorf("expected no identity to be created, got %v", auth.created)
	}
}

func TestAddUser_InactiveCompanyRejected(t *testing.T) {
	for _, status := range []domain.CompanyStatus{domain.CompanySuspended, domain.CompanyCanceled} {
		t.Run(string(status), func(t *testing.T) {
			store := newMemStore()
			store.seedCompany("c-1", status, 10)
			store.seedUser("admin", "c-1", domain.RoleAdministrador)
			auth := newMemAuth()

			_, err := newUserManager(store, auth, observability.NewMetrics()).AddUser(context.Background(), "admin", validAddUser())

			var inactive *domain.ErrCompanyInactive
			if !errors.As(err, &inactive) || inactive.Status != status {
				t.Fatalf("expected ErrCompanyInactive(%s), got %v", status, err)
			}
			if auth.calls != 0 {
				t.Errorf("expected identity provider untouched, got %d calls", auth.calls)
			}
		})
	}
}

func TestAddUser_ValidationErrorsAggregated(t *testing.T) {
	store := newMemStore()
	store.seedCompany("c-1", domain.CompanyActive, 5)
	store.seedUser("admin", "c-1", domain.RoleAdministrador)

	req := &domain.AddUserRequest{Email: "not-an-email", Password: "123", FullName: "X", Role: "dono"}
	_, err := newUserManager(store, newMemAuth(), observability.NewMetrics()).AddUser(context.Background(), "admin", req)

	var validation *domain.ErrValidation
	if !errors.As(err, &validation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	for _, field := range []string{"email", "password", "full_name", "role"} {
		if !strings.Contains(validation.Message, field) {
			t.Errorf("expected message to mention %s, got %q", field, validation.Message)
		}
	}
}

func TestAddUser_RoleFailureDeletesIdentity(t *testing.T) {
	store := newMemStore()
	store.seedCompany("c-1", domain.CompanyActive, 5)
	store.seedUser("admin", "c-1", domain.RoleAdministrador)
	store.createRoleErr = errors.New("insert failed")
	auth := newMemAuth()
	metrics := observability.NewMetrics()

	_, err := newUserManager(store, auth, metrics).AddUser(context.Background(), "admin", validAddUser())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(auth.created) != 1 || len(auth.deleted) != 1 || auth.deleted[0] != auth.created[0] {
		t.Errorf("expected created identity to be compensated, created=%v deleted=%v", auth.created, auth.deleted)
	}
	if metrics.Snapshot().Compensations != 1 {
		t.Errorf("expected one compensation, got %d", metrics.Snapshot().Compensations)
	}
}

// --- RemoveUser ---

func TestRemoveUser_Success(t *testing.T) {
	store := newMemStore()
	store.seedCompany("c-1", domain.CompanyActive, 5)
	store.seedUser("admin", "c-1", domain.RoleAdministrador)
	store.seedUser("seller", "c-1", domain.RoleVendedor)
	auth := newMemAuth()

	err := newUserManager(store, auth, observability.NewMetrics()).RemoveUser(context.Background(), "admin", &domain.RemoveUserRequest{UserID: "seller"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if role, _ := store.GetRole(context.Background(), "seller"); role != nil {
		t.Errorf("expected role to be deleted, got %+v", role)
	}
	if p, _ := store.GetProfileByUserID(context.Background(), "seller"); p == nil || p.IsActive {
		t.Errorf("expected profile to be deactivated, got %+v", p)
	}
	if len(auth.deleted) != 1 || auth.deleted[0] != "seller" {
		t.Errorf("expected identity deletion, got %v", auth.deleted)
	}
	if actions := store.auditActions(); len(actions) != 1 || actions[0] != domain.AuditRemoveUser {
		t.Errorf("expected remove-user audit, got %v", actions)
	}
}

func TestRemoveUser_AdministratorTargetForbidden(t *testing.T) {
	store := newMemStore()
	store.seedCompany("c-1", domain.CompanyActive, 5)
	store.seedUser("admin", "c-1", domain.RoleAdministrador)
	store.seedUser("admin2", "c-1", domain.RoleAdministrador)
	auth := newMemAuth()

	err := newUserManager(store, auth, observability.NewMetrics()).RemoveUser(context.Background(), "admin", &domain.RemoveUserRequest{UserID: "admin2"})

	var forbidden *domain.ErrForbidden
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if store.writes != 0 || auth.calls != 0 {
		t.Errorf("expected no deletions, got store=%d auth=%d", store.writes, auth.calls)
	}
}

func TestRemoveUser_SelfRejected(t *testing.T) {
	store := newMemStore()
	store.seedCompany("c-1", domain.CompanyActive, 5)
	store.seedUser("admin", "c-1", domain.RoleAdministrador)

	err := newUserManager(store, newMemAuth(), observability.NewMetrics()).RemoveUser(context.Background(), "admin", &domain.RemoveUserRequest{UserID: "admin"})

	var rule *domain.ErrBusinessRule
	if !errors.As(err, &rule) || rule.Rule != "self_removal" {
		t.Fatalf("expected self_removal rule, got %v", err)
	}
}

func TestRemoveUser_OtherTenantNotFound(t *testing.T) {
	store := newMemStore()
	store.seedCompany("c-1", domain.CompanyActive, 5)
	store.seedCompany("c-2", domain.CompanyActive, 5)
	store.seedUser("admin", "c-1", domain.RoleAdministrador)
	store.seedUser("stranger", "c-2", domain.RoleVendedor)
	auth := newMemAuth()

	err := newUserManager(store, auth, observability.NewMetrics()).RemoveUser(context.Background(), "admin", &domain.RemoveUserRequest{UserID: "stranger"})

	var notFound *domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if store.writes != 0 || auth.calls != 0 {
		t.Error("expected no changes to another tenant")
	}
}

func TestRemoveUser_IdentityFailureRestoresState(t *testing.T) {
	store := newMemStore()
	store.seedCompany("c-1", domain.CompanyActive, 5)
	store.seedUser("admin", "c-1", domain.RoleAdministrador)
	store.seedUser("seller", "c-1", domain.RoleVendedor)
	auth := newMemAuth()
	auth.deleteErr = errors.New("gotrue unavailable")

	err := newUserManager(store, auth, observability.NewMetrics()).RemoveUser(context.Background(), "admin", &domain.RemoveUserRequest{UserID: "seller"})
	if err == nil {
		t.Fatal("expected error")
	}
	role, _ := store.GetRole(context.Background(), "seller")
	if role == nil || role.Role != domain.RoleVendedor {
		t.Errorf("expected role to be restored, got %+v", role)
	}
	if p, _ := store.GetProfileByUserID(context.Background(), "seller"); p == nil || !p.IsActive {
		t.Errorf("expected profile to be reactivated, got %+v", p)
	}
}
