package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/boddenberg/crm-consignado-go/internal/domain"
	"github.com/boddenberg/crm-consignado-go/internal/infra/observability"
	"github.com/boddenberg/crm-consignado-go/internal/service"

	"go.uber.org/zap"
)

func newOnboarding(store *memStore, auth *memAuth, metrics *observability.Metrics) *service.CompanyOnboarding {
	return service.NewCompanyOnboarding(store, auth, store, service.NewCallerResolver(store), metrics, zap.NewNop())
}

func validCreateCompany() *domain.CreateCompanyRequest {
	return &domain.CreateCompanyRequest{
		Company: domain.CompanyInput{Name: "Consignados Alfa", CNPJ: "44.555.666/0001-77"},
		Admin: domain.AdminInput{
			Email:    "dono@alfa.com.br",
			Password: "senhaforte1",
			FullName: "Dono Alfa",
		},
	}
}

// seedRoot creates a platform operator outside any tenant.
func seedRoot(store *memStore) {
	store.seedCompany("c-root", domain.CompanyActive, 5)
	store.seedUser("root", "c-root", domain.RoleRaiz)
}

func TestCreateCompany_Success(t *testing.T) {
	store := newMemStore()
	seedRoot(store)
	auth := newMemAuth()
	metrics := observability.NewMetrics()

	resp, err := newOnboarding(store, auth, metrics).CreateCompany(context.Background(), "root", validCreateCompany())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.AdminReused {
		t.Error("expected a fresh admin identity")
	}
	if resp.Company.Plan != domain.PlanBasico || resp.Company.MaxUsers != domain.DefaultMaxUsers {
		t.Errorf("expected default plan and seats, got %+v", resp.Company)
	}
	if resp.Company.CNPJ == nil || *resp.Company.CNPJ != "44555666000177" {
		t.Errorf("expected normalized cnpj, got %v", resp.Company.CNPJ)
	}

	role, _ := store.GetRole(context.Background(), resp.AdminUserID)
	if role == nil || role.Role != domain.RoleAdministrador || *role.CompanyID != resp.Company.ID {
		t.Errorf("unexpected admin role: %+v", role)
	}
	profile, _ := store.GetProfileByUserID(context.Background(), resp.AdminUserID)
	if profile == nil || *profile.CompanyID != resp.Company.ID {
		t.Errorf("unexpected admin profile: %+v", profile)
	}
	if metrics.Snapshot().CompaniesCreated != 1 {
		t.Error("expected companies-created counter to be 1")
	}
}

func TestCreateCompany_NonSuperAdminForbidden(t *testing.T) {
	for _, role := range []domain.Role{domain.RoleAdministrador, domain.RoleAdminEmpresa, domain.RoleVendedor, domain.RoleGerente} {
		t.Run(string(role), func(t *testing.T) {
			store := newMemStore()
			store.seedCompany("c-1", domain.CompanyActive, 5)
			store.seedUser("caller", "c-1", role)
			auth := newMemAuth()

			_, err := newOnboarding(store, auth, observability.NewMetrics()).CreateCompany(context.Background(), "caller", validCreateCompany())

			var forbidden *domain.ErrForbidden
			if !errors.As(err, &forbidden) {
				t.Fatalf("expected ErrForbidden, got %v", err)
			}
			if store.writes != 0 || auth.calls != 0 {
				t.Errorf("expected no records, got store=%d auth=%d", store.writes, auth.calls)
			}
		})
	}
}

func TestCreateCompany_DuplicateCNPJ(t *testing.T) {
	store := newMemStore()
	seedRoot(store)
	store.seedCompany("c-existing", domain.CompanyActive, 5)
	store.companies["c-existing"].CNPJ = strPtr("44555666000177")
	auth := newMemAuth()

	_, err := newOnboarding(store, auth, observability.NewMetrics()).CreateCompany(context.Background(), "root", validCreateCompany())

	var rule *domain.ErrBusinessRule
	if !errors.As(err, &rule) || rule.Rule != "duplicate_cnpj" {
		t.Fatalf("expected duplicate_cnpj rule, got %v", err)
	}
	if store.writes != 0 {
		t.Errorf("expected no company row, got %d writes", store.writes)
	}
	if auth.calls != 0 {
		t.Errorf("expected no identity calls, got %d", auth.calls)
	}
}

func TestCreateCompany_InvalidCNPJ(t *testing.T) {
	store := newMemStore()
	seedRoot(store)
	req := validCreateCompany()
	req.Company.CNPJ = "12.345.678/0001"

	_, err := newOnboarding(store, newMemAuth(), observability.NewMetrics()).CreateCompany(context.Background(), "root", req)

	var validation *domain.ErrValidation
	if !errors.As(err, &validation) || validation.Field != "company.cnpj" {
		t.Fatalf("expected cnpj validation error, got %v", err)
	}
}

func TestCreateCompany_ExistingAdminNeedsConfirmation(t *testing.T) {
	store := newMemStore()
	seedRoot(store)
	auth := newMemAuth()
	auth.users["dono@alfa.com.br"] = "existing-admin"

	_, err := newOnboarding(store, auth, observability.NewMetrics()).CreateCompany(context.Background(), "root", validCreateCompany())

	var rule *domain.ErrBusinessRule
	if !errors.As(err, &rule) || rule.Rule != "admin_exists" {
		t.Fatalf("expected admin_exists rule, got %v", err)
	}
	if store.writes != 0 || len(auth.created) != 0 {
		t.Error("expected nothing to be written before confirmation")
	}
}

func TestCreateCompany_ConfirmedReassignmentMovesRole(t *testing.T) {
	store := newMemStore()
	seedRoot(store)
	store.seedCompany("c-old", domain.CompanyActive, 5)
	store.seedUser("existing-admin", "c-old", domain.RoleVendedor)
	auth := newMemAuth()
	auth.users["dono@alfa.com.br"] = "existing-admin"

	req := validCreateCompany()
	req.ConfirmAdminReassignment = true
	resp, err := newOnboarding(store, auth, observability.NewMetrics()).CreateCompany(context.Background(), "root", req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !resp.AdminReused || resp.AdminUserID != "existing-admin" {
		t.Errorf("expected reused admin, got %+v", resp)
	}
	if len(auth.created) != 0 {
		t.Error("expected no new identity")
	}
	role, _ := store.GetRole(context.Background(), "existing-admin")
	if role.Role != domain.RoleAdministrador || *role.CompanyID != resp.Company.ID {
		t.Errorf("expected role moved to new company, got %+v", role)
	}
	profile, _ := store.GetProfileByUserID(context.Background(), "existing-admin")
	if *profile.CompanyID != resp.Company.ID {
		t.Errorf("expected profile moved to new company, got %s", *profile.CompanyID)
	}
}

func TestCreateCompany_IdentityFailureDeletesCompany(t *testing.T) {
	store := newMemStore()
	seedRoot(store)
	auth := newMemAuth()
	auth.createErr = errors.New("gotrue 500")
	metrics := observability.NewMetrics()

	_, err := newOnboarding(store, auth, metrics).CreateCompany(context.Background(), "root", validCreateCompany())
	if err == nil {
		t.Fatal("expected error")
	}
	if c, _ := store.GetCompanyByCNPJ(context.Background(), "44555666000177"); c != nil {
		t.Errorf("expected company to be compensated, found %+v", c)
	}
	if metrics.Snapshot().Compensations != 1 {
		t.Errorf("expected one compensation, got %d", metrics.Snapshot().Compensations)
	}
}
