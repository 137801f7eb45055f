package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/boddenberg/crm-consignado-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// AuthAdmin implementation: GoTrue admin API
// ============================================================

const (
	adminUsersPerPage = 200
	adminUsersMaxPage = 25
)

type gotrueUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type gotrueUserList struct {
	Users []gotrueUser `json:"users"`
}

// doAuth executes an authenticated call against /auth/v1/admin.
func (c *Client) doAuth(ctx context.Context, method, path string, data any) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/auth/v1/admin/%s", c.baseURL, path)

	var reader *bytes.Reader
	if data != nil {
		jsonBody, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(jsonBody)
	}

	var (
		req *http.Request
		err error
	)
	if reader != nil {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, reader)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, nil)
	}
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: auth admin request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: auth admin non-2xx",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return nil, &apiError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// CreateUser creates a pre-confirmed identity.
func (c *Client) CreateUser(ctx context.Context, u *domain.NewAuthUser) (*domain.AuthUser, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateUser")
	defer span.End()

	metadata := map[string]any{"full_name": u.FullName}
	if u.Phone != "" {
		metadata["phone"] = u.Phone
	}
	payload := map[string]any{
		"email":         u.Email,
		"password":      u.Password,
		"email_confirm": true,
		"user_metadata": metadata,
	}

	var created gotrueUser
	err := c.write("supabase/auth", func() error {
		body, err := c.doAuth(ctx, http.MethodPost, "users", payload)
		if err != nil {
			return err
		}
		return json.Unmarshal(body, &created)
	})
	if err != nil {
		return nil, err
	}
	if created.ID == "" {
		return nil, &domain.ErrExternalService{Service: "supabase/auth", Err: fmt.Errorf("created user without id")}
	}
	span.SetAttributes(attribute.String("user.id", created.ID))

	c.logger.Info("supabase: identity created", zap.String("user_id", created.ID))
	return &domain.AuthUser{ID: created.ID, Email: created.Email}, nil
}

// DeleteUser removes an identity. A missing identity counts as deleted.
func (c *Client) DeleteUser(ctx context.Context, userID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteUser")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	return c.write("supabase/auth", func() error {
		_, err := c.doAuth(ctx, http.MethodDelete, "users/"+userID, nil)
		if ae, ok := err.(*apiError); ok && ae.Status == http.StatusNotFound {
			return nil
		}
		return err
	})
}

// FindUserByEmail resolves an identity by e-mail. Profiles are indexed by
// e-mail so they are tried first; GoTrue is paged only as a fallback for
// identities that never got a profile.
func (c *Client) FindUserByEmail(ctx context.Context, email string) (*domain.AuthUser, error) {
	ctx, span := tracer.Start(ctx, "Supabase.FindUserByEmail")
	defer span.End()

	email = strings.ToLower(strings.TrimSpace(email))
	if p, err := c.GetProfileByEmail(ctx, email); err != nil {
		return nil, err
	} else if p != nil {
		return &domain.AuthUser{ID: p.UserID, Email: p.Email}, nil
	}

	var found *domain.AuthUser
	err := c.read(ctx, "supabase/auth", func() error {
		for page := 1; page <= adminUsersMaxPage; page++ {
			body, err := c.doAuth(ctx, http.MethodGet, fmt.Sprintf("users?page=%d&per_page=%d", page, adminUsersPerPage), nil)
			if err != nil {
				return err
			}
			var list gotrueUserList
			if err := json.Unmarshal(body, &list); err != nil {
				return fmt.Errorf("decode auth users: %w", err)
			}
			for _, u := range list.Users {
				if strings.EqualFold(u.Email, email) {
					found = &domain.AuthUser{ID: u.ID, Email: u.Email}
					return nil
				}
			}
			if len(list.Users) < adminUsersPerPage {
				return nil
			}
		}
		return nil
	})
	return found, err
}
