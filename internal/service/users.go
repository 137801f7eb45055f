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

var usersTracer = otel.Tracer("service/users")

// removerRoles may remove collaborators.
var removerRoles = domain.NewRoleSet(domain.RoleAdministrador)

// UserManager lets company administrators add and remove collaborators.
type UserManager struct {
	store    port.TenantStore
	auth     port.AuthAdmin
	audit    port.AuditLogger
	resolver *CallerResolver
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewUserManager creates the administrative user manager.
func NewUserManager(store port.TenantStore, auth port.AuthAdmin, audit port.AuditLogger, resolver *CallerResolver, metrics *observability.Metrics, logger *zap.Logger) *UserManager {
	return &UserManager{
		store:    store,
		auth:     auth,
		audit:    audit,
		resolver: resolver,
		metrics:  metrics,
		logger:   logger,
	}
}

// ============================================================
// AddUser: POST /v1/admin/users
// ============================================================

const (
	addUserDenied    = "apenas administradores podem adicionar usuários"
	removeUserDenied = "apenas administradores podem remover usuários"
)

// AuthorizeAddUser checks the caller may add collaborators.
func (m *UserManager) AuthorizeAddUser(ctx context.Context, callerID string) (context.Context, error) {
	ctx, err := m.resolver.authorize(ctx, callerID, domain.AdminRoles, addUserDenied)
	if err != nil {
		m.metrics.IncrOutcome(observability.FlowAddUser, observability.OutcomeRejected)
	}
	return ctx, err
}

// AuthorizeRemoveUser checks the caller may remove collaborators.
func (m *UserManager) AuthorizeRemoveUser(ctx context.Context, callerID string) (context.Context, error) {
	ctx, err := m.resolver.authorize(ctx, callerID, removerRoles, removeUserDenied)
	if err != nil {
		m.metrics.IncrOutcome(observability.FlowRemoveUser, observability.OutcomeRejected)
	}
	return ctx, err
}

func (m *UserManager) AddUser(ctx context.Context, callerID string, req *domain.AddUserRequest) (*domain.AddUserResponse, error) {
	ctx, span := usersTracer.Start(ctx, "UserManager.AddUser")
	defer span.End()

	start := time.Now()
	defer func() { m.metrics.RecordRequestDuration(observability.FlowAddUser, time.Since(start)) }()

	caller, err := m.resolver.require(ctx, callerID, domain.AdminRoles, addUserDenied)
	if err != nil {
		m.metrics.IncrOutcome(observability.FlowAddUser, observability.OutcomeRejected)
		return nil, err
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.FullName = strings.TrimSpace(req.FullName)
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if caller.CompanyID == "" {
		return nil, &domain.ErrBusinessRule{Rule: "no_company", Message: "Usuário administrador sem empresa vinculada"}
	}
	span.SetAttributes(attribute.String("company.id", caller.CompanyID))

	company, err := m.store.GetCompany(ctx, caller.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("get company: %w", err)
	}
	if company == nil {
		return nil, &domain.ErrNotFound{Resource: "company", ID: caller.CompanyID}
	}
	if company.Status != domain.CompanyActive {
		if !company.Status.Valid() {
			m.logger.Warn("add user: unknown company status",
				zap.String("company_id", company.ID),
				zap.String("status", string(company.Status)),
			)
		}
		m.metrics.IncrOutcome(observability.FlowAddUser, observability.OutcomeRejected)
		return nil, &domain.ErrCompanyInactive{Status: company.Status}
	}

	active, err := m.store.CountActiveProfiles(ctx, company.ID)
	if err != nil {
		return nil, fmt.Errorf("count active profiles: %w", err)
	}
	if active >= company.MaxUsers {
		m.metrics.IncrOutcome(observability.FlowAddUser, observability.OutcomeRejected)
		m.logger.Info("add user: seat limit reached",
			zap.String("company_id", company.ID),
			zap.Int("active", active),
			zap.Int("max_users", company.MaxUsers),
		)
		return nil, &domain.ErrBusinessRule{
			Rule: "seat_limit",
			Message: fmt.Sprintf("Limite de %d usuários do plano %s atingido. Faça upgrade do plano para adicionar mais usuários",
				company.MaxUsers, company.Plan),
		}
	}

	sg := newSaga(observability.FlowAddUser, m.logger, func() { m.metrics.IncrCompensation(observability.FlowAddUser) })
	fail := func(step string, err error) (*domain.AddUserResponse, error) {
		sg.rollback(ctx, err)
		m.metrics.IncrOutcome(observability.FlowAddUser, observability.OutcomeFailed)
		m.logger.Error("add user failed", zap.String("step", step), zap.String("company_id", company.ID), zap.Error(err))
		return nil, fmt.Errorf("%s: %w", step, err)
	}

	user, err := m.auth.CreateUser(ctx, &domain.NewAuthUser{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
		Phone:    req.Phone,
	})
	if err != nil {
		return fail("create identity", err)
	}
	sg.compensate("delete identity", func(ctx context.Context) error { return m.auth.DeleteUser(ctx, user.ID) })

	companyID := company.ID
	if err := m.store.CreateRole(ctx, &domain.RoleAssignment{UserID: user.ID, Role: req.Role, CompanyID: &companyID}); err != nil {
		return fail("create role", err)
	}
	sg.compensate("delete role", func(ctx context.Context) error { return m.store.DeleteRole(ctx, user.ID) })

	if err := m.ensureProfile(ctx, user.ID, companyID, req); err != nil {
		return fail("ensure profile", err)
	}

	if err := m.audit.InsertAuditLog(ctx, &domain.AuditEntry{
		UserID:       caller.UserID,
		CompanyID:    &companyID,
		Action:       domain.AuditCreateUser,
		ResourceType: "profiles",
		ResourceID:   user.ID,
		NewData:      mustJSON(map[string]any{"email": req.Email, "full_name": req.FullName, "role": req.Role}),
	}); err != nil {
		m.logger.Warn("add user: audit log failed", zap.Error(err))
	}

	m.metrics.IncrOutcome(observability.FlowAddUser, observability.OutcomeSuccess)
	m.logger.Info("collaborator created",
		zap.String("user_id", user.ID),
		zap.String("company_id", companyID),
		zap.String("role", string(req.Role)),
		zap.String("created_by", caller.UserID),
	)

	return &domain.AddUserResponse{
		UserID:   user.ID,
		Email:    req.Email,
		FullName: req.FullName,
		Role:     req.Role,
	}, nil
}

// ensureProfile links the new identity's profile to the company. A database
// trigger usually creates the row on sign-up; when it did not, create it.
func (m *UserManager) ensureProfile(ctx context.Context, userID, companyID string, req *domain.AddUserRequest) error {
	existing, err := m.store.GetProfileByUserID(ctx, userID)
	if err != nil {
		return err
	}

	var phone *string
	if req.Phone != "" {
		phone = &req.Phone
	}

	if existing == nil {
		m.logger.Debug("add user: profile trigger did not fire, creating profile", zap.String("user_id", userID))
		_, err := m.store.CreateProfile(ctx, &domain.Profile{
			UserID:    userID,
			CompanyID: &companyID,
			Email:     req.Email,
			FullName:  req.FullName,
			Phone:     phone,
			IsActive:  true,
		})
		return err
	}

	return m.store.UpdateProfile(ctx, userID, map[string]any{
		"company_id": companyID,
		"full_name":  req.FullName,
		"phone":      phone,
		"is_active":  true,
	})
}

// ============================================================
// RemoveUser: POST /v1/admin/users/remove
// ============================================================

func (m *UserManager) RemoveUser(ctx context.Context, callerID string, req *domain.RemoveUserRequest) error {
	ctx, span := usersTracer.Start(ctx, "UserManager.RemoveUser")
	defer span.End()

	start := time.Now()
	defer func() { m.metrics.RecordRequestDuration(observability.FlowRemoveUser, time.Since(start)) }()

	caller, err := m.resolver.require(ctx, callerID, removerRoles, removeUserDenied)
	if err != nil {
		m.metrics.IncrOutcome(observability.FlowRemoveUser, observability.OutcomeRejected)
		return err
	}
	if err := validateStruct(req); err != nil {
		return err
	}
	span.SetAttributes(attribute.String("target.user_id", req.UserID))

	if req.UserID == caller.UserID {
		m.metrics.IncrOutcome(observability.FlowRemoveUser, observability.OutcomeRejected)
		return &domain.ErrBusinessRule{Rule: "self_removal", Message: "Você não pode remover a si mesmo"}
	}

	role, err := m.store.GetRole(ctx, req.UserID)
	if err != nil {
		return fmt.Errorf("get target role: %w", err)
	}
	profile, err := m.store.GetProfileByUserID(ctx, req.UserID)
	if err != nil {
		return fmt.Errorf("get target profile: %w", err)
	}
	if !sameCompany(caller.CompanyID, role, profile) {
		// Other tenants' users are reported as absent, not forbidden.
		return &domain.ErrNotFound{Resource: "user", ID: req.UserID}
	}
	if role != nil && role.Role == domain.RoleAdministrador {
		m.metrics.IncrOutcome(observability.FlowRemoveUser, observability.OutcomeRejected)
		return &domain.ErrForbidden{Action: "administradores não podem ser removidos"}
	}

	sg := newSaga(observability.FlowRemoveUser, m.logger, func() { m.metrics.IncrCompensation(observability.FlowRemoveUser) })

	if role != nil {
		if err := m.store.DeleteRole(ctx, req.UserID); err != nil {
			return fmt.Errorf("delete role: %w", err)
		}
		previous := *role
		sg.compensate("restore role", func(ctx context.Context) error { return m.store.CreateRole(ctx, &previous) })
	}

	if profile != nil && profile.IsActive {
		if err := m.store.UpdateProfile(ctx, req.UserID, map[string]any{"is_active": false}); err != nil {
			sg.rollback(ctx, err)
			return fmt.Errorf("deactivate profile: %w", err)
		}
		sg.compensate("reactivate profile", func(ctx context.Context) error {
			return m.store.UpdateProfile(ctx, req.UserID, map[string]any{"is_active": true})
		})
	}

	if err := m.auth.DeleteUser(ctx, req.UserID); err != nil {
		sg.rollback(ctx, err)
		m.metrics.IncrOutcome(observability.FlowRemoveUser, observability.OutcomeFailed)
		m.logger.Error("remove user: identity deletion failed, changes reverted",
			zap.String("user_id", req.UserID),
			zap.Error(err),
		)
		return fmt.Errorf("delete identity: %w", err)
	}

	companyID := caller.CompanyID
	if err := m.audit.InsertAuditLog(ctx, &domain.AuditEntry{
		UserID:       caller.UserID,
		CompanyID:    &companyID,
		Action:       domain.AuditRemoveUser,
		ResourceType: "profiles",
		ResourceID:   req.UserID,
		OldData:      mustJSON(map[string]any{"role": role, "profile": profile}),
	}); err != nil {
		m.logger.Warn("remove user: audit log failed", zap.Error(err))
	}

	m.metrics.IncrOutcome(observability.FlowRemoveUser, observability.OutcomeSuccess)
	m.logger.Info("collaborator removed",
		zap.String("user_id", req.UserID),
		zap.String("company_id", companyID),
		zap.String("removed_by", caller.UserID),
	)
	return nil
}

func sameCompany(companyID string, role *domain.RoleAssignment, profile *domain.Profile) bool {
	if role == nil && profile == nil {
		return false
	}
	if profile != nil && profile.CompanyID != nil {
		return *profile.CompanyID == companyID
	}
	return role != nil && role.CompanyID != nil && *role.CompanyID == companyID
}
