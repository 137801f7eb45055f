package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/crm-consignado-go/internal/domain"
	"github.com/boddenberg/crm-consignado-go/internal/infra/observability"
	"github.com/boddenberg/crm-consignado-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var companiesTracer = otel.Tracer("service/companies")

// CompanyOnboarding lets platform operators create a tenant together with
// its first administrator.
type CompanyOnboarding struct {
	store    port.TenantStore
	auth     port.AuthAdmin
	audit    port.AuditLogger
	resolver *CallerResolver
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewCompanyOnboarding creates the onboarding service.
func NewCompanyOnboarding(store port.TenantStore, auth port.AuthAdmin, audit port.AuditLogger, resolver *CallerResolver, metrics *observability.Metrics, logger *zap.Logger) *CompanyOnboarding {
	return &CompanyOnboarding{
		store:    store,
		auth:     auth,
		audit:    audit,
		resolver: resolver,
		metrics:  metrics,
		logger:   logger,
	}
}

// ============================================================
// CreateCompany: POST /v1/admin/companies
// ============================================================

const createCompanyDenied = "apenas super administradores podem criar empresas"

// Authorize checks the caller may onboard companies.
func (o *CompanyOnboarding) Authorize(ctx context.Context, callerID string) (context.Context, error) {
	ctx, err := o.resolver.authorize(ctx, callerID, domain.SuperAdminRoles, createCompanyDenied)
	if err != nil {
		o.metrics.IncrOutcome(observability.FlowCreateCompany, observability.OutcomeRejected)
	}
	return ctx, err
}

func (o *CompanyOnboarding) CreateCompany(ctx context.Context, callerID string, req *domain.CreateCompanyRequest) (*domain.CreateCompanyResponse, error) {
	ctx, span := companiesTracer.Start(ctx, "CompanyOnboarding.CreateCompany")
	defer span.End()

	start := time.Now()
	defer func() { o.metrics.RecordRequestDuration(observability.FlowCreateCompany, time.Since(start)) }()

	caller, err := o.resolver.require(ctx, callerID, domain.SuperAdminRoles, createCompanyDenied)
	if err != nil {
		o.metrics.IncrOutcome(observability.FlowCreateCompany, observability.OutcomeRejected)
		return nil, err
	}

	req.Company.Name = strings.TrimSpace(req.Company.Name)
	req.Admin.Email = strings.ToLower(strings.TrimSpace(req.Admin.Email))
	req.Admin.FullName = strings.TrimSpace(req.Admin.FullName)
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	cnpj := domain.NormalizeCNPJ(req.Company.CNPJ)
	if len(cnpj) != 14 {
		return nil, &domain.ErrValidation{Field: "company.cnpj", Message: "CNPJ deve conter 14 dígitos"}
	}
	if req.Company.Plan == "" {
		req.Company.Plan = domain.PlanBasico
	}
	if req.Company.MaxUsers == 0 {
		req.Company.MaxUsers = domain.DefaultMaxUsers
	}
	if !req.Company.Plan.Valid() {
		return nil, &domain.ErrValidation{Field: "company.plan", Message: "Plano inválido"}
	}
	span.SetAttributes(attribute.String("company.cnpj", cnpj))

	dup, err := o.store.GetCompanyByCNPJ(ctx, cnpj)
	if err != nil {
		return nil, fmt.Errorf("check cnpj: %w", err)
	}
	if dup != nil {
		o.metrics.IncrOutcome(observability.FlowCreateCompany, observability.OutcomeRejected)
		return nil, &domain.ErrBusinessRule{
			Rule:    "duplicate_cnpj",
			Message: fmt.Sprintf("CNPJ já cadastrado para a empresa %s", dup.Name),
		}
	}

	// Look the admin up before any write so a refusal leaves nothing behind.
	existing, err := o.auth.FindUserByEmail(ctx, req.Admin.Email)
	if err != nil {
		return nil, fmt.Errorf("find admin identity: %w", err)
	}
	if existing != nil && !req.ConfirmAdminReassignment {
		o.metrics.IncrOutcome(observability.FlowCreateCompany, observability.OutcomeRejected)
		return nil, &domain.ErrBusinessRule{
			Rule: "admin_exists",
			Message: fmt.Sprintf("Já existe um usuário com o e-mail %s. Envie confirm_admin_reassignment=true para vinculá-lo à nova empresa",
				req.Admin.Email),
		}
	}

	sg := newSaga(observability.FlowCreateCompany, o.logger, func() { o.metrics.IncrCompensation(observability.FlowCreateCompany) })
	fail := func(step string, err error) (*domain.CreateCompanyResponse, error) {
		sg.rollback(ctx, err)
		o.metrics.IncrOutcome(observability.FlowCreateCompany, observability.OutcomeFailed)
		o.logger.Error("create company failed", zap.String("step", step), zap.String("cnpj", cnpj), zap.Error(err))
		return nil, fmt.Errorf("%s: %w", step, err)
	}

	company, err := o.store.CreateCompany(ctx, &domain.NewCompany{
		Name:     req.Company.Name,
		CNPJ:     &cnpj,
		Status:   domain.CompanyActive,
		Plan:     req.Company.Plan,
		MaxUsers: req.Company.MaxUsers,
	})
	if err != nil {
		return fail("create company", err)
	}
	sg.compensate("delete company", func(ctx context.Context) error { return o.store.DeleteCompany(ctx, company.ID) })

	adminID, reused := "", existing != nil
	if reused {
		adminID = existing.ID
	} else {
		user, err := o.auth.CreateUser(ctx, &domain.NewAuthUser{
			Email:    req.Admin.Email,
			Password: req.Admin.Password,
			FullName: req.Admin.FullName,
			Phone:    req.Admin.Phone,
		})
		if err != nil {
			return fail("create admin identity", err)
		}
		adminID = user.ID
		sg.compensate("delete admin identity", func(ctx context.Context) error { return o.auth.DeleteUser(ctx, adminID) })
	}

	previousRole, err := o.store.GetRole(ctx, adminID)
	if err != nil {
		return fail("read admin role", err)
	}
	companyID := company.ID
	if err := o.store.UpsertRole(ctx, &domain.RoleAssignment{UserID: adminID, Role: domain.RoleAdministrador, CompanyID: &companyID}); err != nil {
		return fail("assign admin role", err)
	}
	sg.compensate("restore admin role", func(ctx context.Context) error {
		if previousRole == nil {
			return o.store.DeleteRole(ctx, adminID)
		}
		return o.store.UpsertRole(ctx, previousRole)
	})

	if err := o.linkAdminProfile(ctx, adminID, companyID, &req.Admin); err != nil {
		return fail("link admin profile", err)
	}

	if err := o.audit.InsertAuditLog(ctx, &domain.AuditEntry{
		UserID:       caller.UserID,
		CompanyID:    &companyID,
		Action:       domain.AuditCreateCompany,
		ResourceType: "companies",
		ResourceID:   companyID,
		OldData:      mustJSON(map[string]any{"admin_previous_role": previousRole}),
		NewData: mustJSON(map[string]any{
			"company":      company,
			"admin_id":     adminID,
			"admin_email":  req.Admin.Email,
			"admin_reused": reused,
		}),
	}); err != nil {
		o.logger.Warn("create company: audit log failed", zap.Error(err))
	}

	o.metrics.IncrOutcome(observability.FlowCreateCompany, observability.OutcomeSuccess)
	o.logger.Info("company onboarded",
		zap.String("company_id", companyID),
		zap.String("admin_user_id", adminID),
		zap.Bool("admin_reused", reused),
		zap.String("created_by", caller.UserID),
	)

	return &domain.CreateCompanyResponse{
		Company:     *company,
		AdminUserID: adminID,
		AdminEmail:  req.Admin.Email,
		AdminReused: reused,
	}, nil
}

func (o *CompanyOnboarding) linkAdminProfile(ctx context.Context, userID, companyID string, admin *domain.AdminInput) error {
	profile, err := o.store.GetProfileByUserID(ctx, userID)
	if err != nil {
		return err
	}

	var phone *string
	if admin.Phone != "" {
		phone = &admin.Phone
	}

	if profile == nil {
		_, err := o.store.CreateProfile(ctx, &domain.Profile{
			UserID:    userID,
			CompanyID: &companyID,
			Email:     admin.Email,
			FullName:  admin.FullName,
			Phone:     phone,
			IsActive:  true,
		})
		return err
	}

	updates := map[string]any{
		"company_id": companyID,
		"is_active":  true,
	}
	if profile.FullName == "" {
		updates["full_name"] = admin.FullName
	}
	return o.store.UpdateProfile(ctx, userID, updates)
}
