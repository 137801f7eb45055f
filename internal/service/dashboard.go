package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/boddenberg/crm-consignado-go/internal/domain"
	"github.com/boddenberg/crm-consignado-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var dashboardTracer = otel.Tracer("service/dashboard")

const monthLayout = "2006-01"

// DashboardService computes the monthly sales dashboard of a company.
type DashboardService struct {
	sales    port.SalesStore
	resolver *CallerResolver
	logger   *zap.Logger
	now      func() time.Time
}

// NewDashboardService creates a DashboardService.
func NewDashboardService(sales port.SalesStore, resolver *CallerResolver, logger *zap.Logger) *DashboardService {
	return &DashboardService{
		sales:    sales,
		resolver: resolver,
		logger:   logger,
		now:      time.Now,
	}
}

// SalesDashboard returns totals, projection and ranking for month (YYYY-MM,
// empty for the current month). Sellers only see their own ranking row.
func (s *DashboardService) SalesDashboard(ctx context.Context, callerID, month string) (*domain.SalesDashboard, error) {
	ctx, span := dashboardTracer.Start(ctx, "DashboardService.SalesDashboard")
	defer span.End()

	caller, err := s.resolver.Resolve(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if caller.CompanyID == "" {
		return nil, &domain.ErrBusinessRule{Rule: "no_company", Message: "Usuário sem empresa vinculada"}
	}

	now := s.now()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	if month != "" {
		from, err = time.ParseInLocation(monthLayout, month, now.Location())
		if err != nil {
			return nil, &domain.ErrValidation{Field: "month", Message: "month deve estar no formato YYYY-MM"}
		}
	}
	to := from.AddDate(0, 1, 0)
	span.SetAttributes(
		attribute.String("company.id", caller.CompanyID),
		attribute.String("month", from.Format(monthLayout)),
	)

	sales, err := s.sales.ListSales(ctx, caller.CompanyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}

	dash := buildDashboard(sales, from, to, now)
	if caller.Role == domain.RoleVendedor {
		dash.Ranking = ownRow(dash.Ranking, caller.UserID)
	}

	s.logger.Debug("sales dashboard computed",
		zap.String("company_id", caller.CompanyID),
		zap.String("month", dash.Month),
		zap.Int("sales", dash.Sales),
	)
	return dash, nil
}

// buildDashboard aggregates sales of the month [from, to). now decides
// whether the month is still running and needs a projection.
func buildDashboard(sales []domain.Sale, from, to, now time.Time) *domain.SalesDashboard {
	dash := &domain.SalesDashboard{
		Month:   from.Format(monthLayout),
		Ranking: []domain.SellerRanking{},
	}

	bySeller := make(map[string]*domain.SellerRanking)
	for _, sale := range sales {
		commission := sale.Commission()
		dash.Sales++
		dash.Gross += sale.Value
		dash.TotalCommission += commission

		row, ok := bySeller[sale.UserID]
		if !ok {
			row = &domain.SellerRanking{UserID: sale.UserID, SellerName: sale.SellerName}
			bySeller[sale.UserID] = row
		}
		row.Sales++
		row.Gross += sale.Value
		row.Commission += commission
	}

	for _, row := range bySeller {
		row.Gross = round2(row.Gross)
		row.Commission = round2(row.Commission)
		dash.Ranking = append(dash.Ranking, *row)
	}
	// Map iteration is random; UserID makes the order total.
	sort.SliceStable(dash.Ranking, func(i, j int) bool {
		a, b := dash.Ranking[i], dash.Ranking[j]
		if a.Gross != b.Gross {
			return a.Gross > b.Gross
		}
		if a.Sales != b.Sales {
			return a.Sales > b.Sales
		}
		if a.SellerName != b.SellerName {
			return a.SellerName < b.SellerName
		}
		return a.UserID < b.UserID
	})
	for i := range dash.Ranking {
		dash.Ranking[i].Position = i + 1
	}

	dash.Projection = dash.Gross
	if !now.Before(from) && now.Before(to) {
		daysInMonth := to.AddDate(0, 0, -1).Day()
		elapsed := now.Day()
		dash.Projection = dash.Gross * float64(daysInMonth) / float64(elapsed)
	}

	dash.Gross = round2(dash.Gross)
	dash.TotalCommission = round2(dash.TotalCommission)
	dash.Projection = round2(dash.Projection)
	return dash
}

func ownRow(ranking []domain.SellerRanking, userID string) []domain.SellerRanking {
	for _, row := range ranking {
		if row.UserID == userID {
			return []domain.SellerRanking{row}
		}
	}
	return []domain.SellerRanking{}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
