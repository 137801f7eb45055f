package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/boddenberg/crm-consignado-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// TenantStore implementation: companies, profiles, user_roles
// ============================================================

// --- Profiles ---

func (c *Client) GetProfileByUserID(ctx context.Context, userID string) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetProfileByUserID")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	var profile *domain.Profile
	err := c.read(ctx, "supabase/profiles", func() error {
		body, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("profiles?user_id=%s&limit=1", eq(userID)))
		if err != nil {
			return err
		}
		profile, err = decodeFirst[domain.Profile](body, "profiles")
		return err
	})
	return profile, err
}

// GetProfileByEmail is used to find an identity without listing GoTrue users.
func (c *Client) GetProfileByEmail(ctx context.Context, email string) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetProfileByEmail")
	defer span.End()

	var profile *domain.Profile
	err := c.read(ctx, "supabase/profiles", func() error {
		body, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("profiles?email=%s&limit=1", eq(strings.ToLower(email))))
		if err != nil {
			return err
		}
		profile, err = decodeFirst[domain.Profile](body, "profiles")
		return err
	})
	return profile, err
}

func (c *Client) CreateProfile(ctx context.Context, p *domain.Profile) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateProfile")
	defer span.End()

	row := map[string]any{
		"user_id":    p.UserID,
		"company_id": p.CompanyID,
		"email":      p.Email,
		"full_name":  p.FullName,
		"phone":      p.Phone,
		"is_active":  p.IsActive,
	}

	var created *domain.Profile
	err := c.write("supabase/profiles", func() error {
		body, err := c.doPost(ctx, "profiles", row)
		if err != nil {
			return err
		}
		created, err = decodeFirst[domain.Profile](body, "profiles")
		return err
	})
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, fmt.Errorf("create profile: empty representation")
	}
	return created, nil
}

func (c *Client) UpdateProfile(ctx context.Context, userID string, updates map[string]any) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateProfile")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	return c.write("supabase/profiles", func() error {
		return c.doPatch(ctx, fmt.Sprintf("profiles?user_id=%s", eq(userID)), updates)
	})
}

func (c *Client) deleteProfile(ctx context.Context, userID string) error {
	return c.write("supabase/profiles", func() error {
		return c.doDelete(ctx, fmt.Sprintf("profiles?user_id=%s", eq(userID)))
	})
}

func (c *Client) CountActiveProfiles(ctx context.Context, companyID string) (int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CountActiveProfiles")
	defer span.End()
	span.SetAttributes(attribute.String("company.id", companyID))

	var count int
	err := c.read(ctx, "supabase/profiles", func() error {
		path := fmt.Sprintf("profiles?select=user_id&company_id=%s&is_active=eq.true", eq(companyID))
		body, err := c.doRequest(ctx, http.MethodGet, path)
		if err != nil {
			return err
		}
		var rows []struct {
			UserID string `json:"user_id"`
		}
		if body != nil {
			if err := json.Unmarshal(body, &rows); err != nil {
				return fmt.Errorf("decode profiles: %w", err)
			}
		}
		count = len(rows)
		return nil
	})
	return count, err
}

// --- Role assignments ---

func (c *Client) GetRole(ctx context.Context, userID string) (*domain.RoleAssignment, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetRole")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	var role *domain.RoleAssignment
	err := c.read(ctx, "supabase/user_roles", func() error {
		body, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("user_roles?user_id=%s&limit=1", eq(userID)))
		if err != nil {
			return err
		}
		role, err = decodeFirst[domain.RoleAssignment](body, "user_roles")
		return err
	})
	return role, err
}

func (c *Client) CreateRole(ctx context.Context, r *domain.RoleAssignment) error {
	ctx, span := tracer.Start(ctx, "Supabase.CreateRole")
	defer span.End()

	return c.write("supabase/user_roles", func() error {
		_, err := c.doPost(ctx, "user_roles", r)
		return err
	})
}

func (c *Client) UpsertRole(ctx context.Context, r *domain.RoleAssignment) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpsertRole")
	defer span.End()

	return c.write("supabase/user_roles", func() error {
		_, err := c.doUpsert(ctx, "user_roles", "user_id", r)
		return err
	})
}

func (c *Client) DeleteRole(ctx context.Context, userID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteRole")
	defer span.End()

	return c.write("supabase/user_roles", func() error {
		return c.doDelete(ctx, fmt.Sprintf("user_roles?user_id=%s", eq(userID)))
	})
}

// --- Companies ---

func (c *Client) GetCompany(ctx context.Context, companyID string) (*domain.Company, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetCompany")
	defer span.End()
	span.SetAttributes(attribute.String("company.id", companyID))

	var company *domain.Company
	err := c.read(ctx, "supabase/companies", func() error {
		body, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("companies?id=%s&limit=1", eq(companyID)))
		if err != nil {
			return err
		}
		company, err = decodeFirst[domain.Company](body, "companies")
		return err
	})
	return company, err
}

func (c *Client) GetCompanyByCNPJ(ctx context.Context, cnpj string) (*domain.Company, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetCompanyByCNPJ")
	defer span.End()

	var company *domain.Company
	err := c.read(ctx, "supabase/companies", func() error {
		body, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("companies?cnpj=%s&limit=1", eq(cnpj)))
		if err != nil {
			return err
		}
		company, err = decodeFirst[domain.Company](body, "companies")
		return err
	})
	return company, err
}

func (c *Client) CreateCompany(ctx context.Context, nc *domain.NewCompany) (*domain.Company, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateCompany")
	defer span.End()
	span.SetAttributes(attribute.String("company.name", nc.Name))

	var created *domain.Company
	err := c.write("supabase/companies", func() error {
		body, err := c.doPost(ctx, "companies", nc)
		if err != nil {
			return err
		}
		created, err = decodeFirst[domain.Company](body, "companies")
		return err
	})
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, fmt.Errorf("create company: empty representation")
	}
	return created, nil
}

func (c *Client) DeleteCompany(ctx context.Context, companyID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteCompany")
	defer span.End()
	span.SetAttributes(attribute.String("company.id", companyID))

	return c.write("supabase/companies", func() error {
		return c.doDelete(ctx, fmt.Sprintf("companies?id=%s", eq(companyID)))
	})
}

