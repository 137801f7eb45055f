package service

import (
	"context"
	"fmt"

	"github.com/boddenberg/crm-consignado-go/internal/domain"
	"github.com/boddenberg/crm-consignado-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var callerTracer = otel.Tracer("service/caller")

// CallerResolver turns a verified user id into a domain.Caller by reading
// the profile and role assignment from the store. Only a caller authorized
// earlier in the same request is reused.
type CallerResolver struct {
	store port.TenantStore
}

// NewCallerResolver creates a resolver.
func NewCallerResolver(store port.TenantStore) *CallerResolver {
	return &CallerResolver{store: store}
}

type callerCtxKey struct{}

// Resolve loads the caller's profile and role concurrently.
func (r *CallerResolver) Resolve(ctx context.Context, userID string) (*domain.Caller, error) {
	if c, ok := ctx.Value(callerCtxKey{}).(*domain.Caller); ok && c.UserID == userID {
		cp := *c
		return &cp, nil
	}

	ctx, span := callerTracer.Start(ctx, "CallerResolver.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	var (
		profile *domain.Profile
		role    *domain.RoleAssignment
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := r.store.GetProfileByUserID(gCtx, userID)
		if err != nil {
			return fmt.Errorf("get caller profile: %w", err)
		}
		profile = p
		return nil
	})
	g.Go(func() error {
		ra, err := r.store.GetRole(gCtx, userID)
		if err != nil {
			return fmt.Errorf("get caller role: %w", err)
		}
		role = ra
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if role == nil {
		return nil, &domain.ErrForbidden{Action: "usuário sem papel atribuído"}
	}
	if !role.Role.Valid() {
		return nil, &domain.ErrForbidden{Action: fmt.Sprintf("papel desconhecido %q", role.Role)}
	}
	if profile != nil && !profile.IsActive {
		return nil, &domain.ErrForbidden{Action: "usuário desativado"}
	}

	caller := &domain.Caller{UserID: userID, Role: role.Role}
	if profile != nil {
		caller.Email = profile.Email
		if profile.CompanyID != nil {
			caller.CompanyID = *profile.CompanyID
		}
	}
	if caller.CompanyID == "" && role.CompanyID != nil {
		caller.CompanyID = *role.CompanyID
	}
	span.SetAttributes(
		attribute.String("caller.role", string(caller.Role)),
		attribute.String("caller.company_id", caller.CompanyID),
	)
	return caller, nil
}

// require resolves the caller and checks its role against allowed.
func (r *CallerResolver) require(ctx context.Context, userID string, allowed domain.RoleSet, action string) (*domain.Caller, error) {
	caller, err := r.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !allowed.Has(caller.Role) {
		return nil, &domain.ErrForbidden{Action: action}
	}
	return caller, nil
}

// authorize is require for handlers that must reject a caller before reading
// the request body. The returned context carries the resolved caller.
func (r *CallerResolver) authorize(ctx context.Context, userID string, allowed domain.RoleSet, action string) (context.Context, error) {
	caller, err := r.require(ctx, userID, allowed, action)
	if err != nil {
		return ctx, err
	}
	return context.WithValue(ctx, callerCtxKey{}, caller), nil
}
