package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/boddenberg/crm-consignado-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// SalesStore implementation: vendas
// ============================================================

type saleRow struct {
	ID            string  `json:"id"`
	CompanyID     string  `json:"company_id"`
	UserID        string  `json:"user_id"`
	Value         float64 `json:"valor"`
	CommissionPct float64 `json:"percentual_comissao"`
	SaleDate      string  `json:"data_venda"`
	Seller        *struct {
		FullName string `json:"full_name"`
	} `json:"profiles"`
}

// ListSales returns the company's sales with data_venda in [from, to).
func (c *Client) ListSales(ctx context.Context, companyID string, from, to time.Time) ([]domain.Sale, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListSales")
	defer span.End()
	span.SetAttributes(attribute.String("company.id", companyID))

	var sales []domain.Sale
	err := c.read(ctx, "supabase/vendas", func() error {
		path := fmt.Sprintf(
			"vendas?select=id,company_id,user_id,valor,percentual_comissao,data_venda,profiles(full_name)&company_id=%s&data_venda=gte.%s&data_venda=lt.%s&order=data_venda.asc",
			eq(companyID),
			url.QueryEscape(from.Format("2006-01-02")),
			url.QueryEscape(to.Format("2006-01-02")),
		)
		body, err := c.doRequest(ctx, http.MethodGet, path)
		if err != nil {
			return err
		}

		sales = []domain.Sale{}
		if body == nil || string(body) == "[]" {
			return nil
		}

		var rows []saleRow
		if err := json.Unmarshal(body, &rows); err != nil {
			return fmt.Errorf("decode vendas: %w", err)
		}
		for _, r := range rows {
			t, _ := time.Parse(time.RFC3339, r.SaleDate)
			if t.IsZero() {
				t, _ = time.Parse("2006-01-02", r.SaleDate)
			}
			sale := domain.Sale{
				ID:            r.ID,
				CompanyID:     r.CompanyID,
				UserID:        r.UserID,
				Value:         r.Value,
				CommissionPct: r.CommissionPct,
				SaleDate:      t,
			}
			if r.Seller != nil {
				sale.SellerName = r.Seller.FullName
			}
			sales = append(sales, sale)
		}
		return nil
	})
	return sales, err
}
