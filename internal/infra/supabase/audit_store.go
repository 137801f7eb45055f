package supabase

import (
	"context"

	"github.com/boddenberg/crm-consignado-go/internal/domain"

	"github.com/google/uuid"
)

// InsertAuditLog appends one row to audit_logs.
func (c *Client) InsertAuditLog(ctx context.Context, entry *domain.AuditEntry) error {
	ctx, span := tracer.Start(ctx, "Supabase.InsertAuditLog")
	defer span.End()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	row := map[string]any{
		"id":            entry.ID,
		"user_id":       entry.UserID,
		"company_id":    entry.CompanyID,
		"action":        entry.Action,
		"resource_type": entry.ResourceType,
		"resource_id":   entry.ResourceID,
		"old_data":      entry.OldData,
		"new_data":      entry.NewData,
	}

	return c.write("supabase/audit_logs", func() error {
		_, err := c.doPost(ctx, "audit_logs", row)
		return err
	})
}
