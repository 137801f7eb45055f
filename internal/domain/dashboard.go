package domain

import "time"

// ============================================================
// Sales dashboard
// ============================================================

// Sale is a closed deal credited to a seller.
type Sale struct {
	ID            string    `json:"id"`
	CompanyID     string    `json:"company_id"`
	UserID        string    `json:"user_id"`
	SellerName    string    `json:"seller_name"`
	Value         float64   `json:"valor"`
	CommissionPct float64   `json:"percentual_comissao"`
	SaleDate      time.Time `json:"data_venda"`
}

// Commission returns the commission earned on the sale.
func (s Sale) Commission() float64 {
	return s.Value * s.CommissionPct / 100
}

// SellerRanking is one row of the monthly ranking.
type SellerRanking struct {
	Position   int     `json:"position"`
	UserID     string  `json:"user_id"`
	SellerName string  `json:"seller_name"`
	Sales      int     `json:"sales"`
	Gross      float64 `json:"gross"`
	Commission float64 `json:"commission"`
}

// SalesDashboard is returned by GET /v1/dashboard/sales.
type SalesDashboard struct {
	Month           string          `json:"month"`
	Sales           int             `json:"sales"`
	Gross           float64         `json:"gross"`
	TotalCommission float64         `json:"total_commission"`
	Projection      float64         `json:"projection"`
	Ranking         []SellerRanking `json:"ranking"`
}
