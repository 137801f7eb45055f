package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/crm-consignado-go/internal/domain"
	"github.com/boddenberg/crm-consignado-go/internal/infra/observability"
	"github.com/boddenberg/crm-consignado-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var provisionTracer = otel.Tracer("service/provisioning")

// Provisioner lazily creates the company, profile and vendedor role of an
// identity on its first authenticated access.
type Provisioner struct {
	store       port.TenantStore
	provisioner port.TenantProvisioner
	audit       port.AuditLogger
	metrics     *observability.Metrics
	logger      *zap.Logger

	// Collapses concurrent first-login calls for one user inside this
	// process. Across processes the unique index on profiles.user_id holds.
	inflight singleflight.Group
}

// NewProvisioner creates the self-service provisioner.
func NewProvisioner(store port.TenantStore, provisioner port.TenantProvisioner, audit port.AuditLogger, metrics *observability.Metrics, logger *zap.Logger) *Provisioner {
	return &Provisioner{
		store:       store,
		provisioner: provisioner,
		audit:       audit,
		metrics:     metrics,
		logger:      logger,
	}
}

// ============================================================
// ProvisionSelf: POST /v1/provisioning/self
// ============================================================

func (p *Provisioner) ProvisionSelf(ctx context.Context, id domain.Identity) (*domain.ProvisionResult, error) {
	ctx, span := provisionTracer.Start(ctx, "Provisioner.ProvisionSelf")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", id.UserID))

	start := time.Now()
	defer func() {
		p.metrics.RecordRequestDuration(observability.FlowSelfProvision, time.Since(start))
	}()

	// Shared work outlives any single caller's cancellation.
	v, err, shared := p.inflight.Do(id.UserID, func() (any, error) {
		return p.provision(context.WithoutCancel(ctx), id)
	})
	if err != nil {
		p.metrics.IncrOutcome(observability.FlowSelfProvision, observability.OutcomeFailed)
		return nil, err
	}
	res := v.(*domain.ProvisionResult)
	if shared {
		p.logger.Debug("provisioning: concurrent call collapsed", zap.String("user_id", id.UserID))
	}
	return res, nil
}

func (p *Provisioner) provision(ctx context.Context, id domain.Identity) (*domain.ProvisionResult, error) {
	existing, err := p.store.GetProfileByUserID(ctx, id.UserID)
	if err != nil {
		return nil, fmt.Errorf("check existing profile: %w", err)
	}
	if existing != nil {
		p.metrics.IncrOutcome(observability.FlowSelfProvision, observability.OutcomeNoop)
		return alreadyProvisioned(existing), nil
	}

	bundle := &domain.TenantBundle{
		Company: domain.NewCompany{
			Name:     domain.CompanyNameFor(id),
			Status:   domain.CompanyActive,
			Plan:     domain.PlanBasico,
			MaxUsers: domain.DefaultMaxUsers,
		},
		Profile: domain.Profile{
			UserID:   id.UserID,
			Email:    id.Email,
			FullName: id.FullName,
			IsActive: true,
		},
		Role: domain.RoleVendedor,
	}

	tenant, err := p.provisioner.ProvisionTenant(ctx, bundle)
	if err != nil {
		// Lost the race against another instance: the unique index on
		// profiles.user_id rejected our insert, so the other one won.
		var conflict *domain.ErrConflict
		if errors.As(err, &conflict) {
			winner, lookupErr := p.store.GetProfileByUserID(ctx, id.UserID)
			if lookupErr == nil && winner != nil {
				p.metrics.IncrOutcome(observability.FlowSelfProvision, observability.OutcomeNoop)
				return alreadyProvisioned(winner), nil
			}
		}
		p.logger.Error("provisioning failed",
			zap.String("user_id", id.UserID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("provision tenant: %w", err)
	}

	companyID := tenant.Company.ID
	if err := p.audit.InsertAuditLog(ctx, &domain.AuditEntry{
		UserID:       id.UserID,
		CompanyID:    &companyID,
		Action:       domain.AuditSelfProvision,
		ResourceType: "companies",
		ResourceID:   companyID,
		NewData:      mustJSON(tenant),
	}); err != nil {
		p.logger.Warn("provisioning: audit log failed", zap.String("user_id", id.UserID), zap.Error(err))
	}

	p.metrics.IncrOutcome(observability.FlowSelfProvision, observability.OutcomeSuccess)
	p.logger.Info("tenant self-provisioned",
		zap.String("user_id", id.UserID),
		zap.String("company_id", companyID),
		zap.String("company_name", tenant.Company.Name),
	)

	return &domain.ProvisionResult{
		Status:    domain.ProvisionCreated,
		CompanyID: companyID,
		Role:      tenant.Role.Role,
	}, nil
}

func alreadyProvisioned(p *domain.Profile) *domain.ProvisionResult {
	res := &domain.ProvisionResult{Status: domain.ProvisionAlreadyDone}
	if p.CompanyID != nil {
		res.CompanyID = *p.CompanyID
	}
	return res
}
