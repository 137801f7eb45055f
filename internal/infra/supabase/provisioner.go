package supabase

import (
	"context"
	"fmt"

	"github.com/boddenberg/crm-consignado-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ProvisionTenant creates company, profile and role in that order. PostgREST
// has no multi-request transaction, so each failure undoes the earlier rows.
// The unique index on profiles.user_id turns a concurrent duplicate into
// domain.ErrConflict.
func (c *Client) ProvisionTenant(ctx context.Context, bundle *domain.TenantBundle) (*domain.ProvisionedTenant, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ProvisionTenant")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", bundle.Profile.UserID))

	company, err := c.CreateCompany(ctx, &bundle.Company)
	if err != nil {
		return nil, fmt.Errorf("create company: %w", err)
	}
	undoCompany := func() {
		if err := c.DeleteCompany(context.WithoutCancel(ctx), company.ID); err != nil {
			c.logger.Error("supabase: provisioning compensation failed",
				zap.String("step", "delete company"),
				zap.String("company_id", company.ID),
				zap.Error(err),
			)
		}
	}

	profile := bundle.Profile
	profile.CompanyID = &company.ID
	createdProfile, err := c.CreateProfile(ctx, &profile)
	if err != nil {
		undoCompany()
		return nil, fmt.Errorf("create profile: %w", err)
	}

	role := domain.RoleAssignment{UserID: profile.UserID, Role: bundle.Role, CompanyID: &company.ID}
	if err := c.CreateRole(ctx, &role); err != nil {
		if derr := c.deleteProfile(context.WithoutCancel(ctx), profile.UserID); derr != nil {
			c.logger.Error("supabase: provisioning compensation failed",
				zap.String("step", "delete profile"),
				zap.String("user_id", profile.UserID),
				zap.Error(derr),
			)
		}
		undoCompany()
		return nil, fmt.Errorf("create role: %w", err)
	}

	return &domain.ProvisionedTenant{
		Company: *company,
		Profile: *createdProfile,
		Role:    role,
	}, nil
}
