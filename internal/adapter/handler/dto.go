package handler

import (
	"time"

	"github.com/samber/lo"

	"github.com/rl1809/oil-billing/internal/core/domain"
)

const dateLayout = "2006-01-02"

type ProviderResponse struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Address          string    `json:"address"`
	TaxID            string    `json:"tax_id"`
	HasBarrelsToBill bool      `json:"has_barrels_to_bill"`
	CreatedAt        time.Time `json:"created_at"`
}

type ProviderDetailResponse struct {
	ProviderResponse
	BilledBarrels []string `json:"billed_barrels"`
	BarrelsToBill []string `json:"barrels_to_bill"`
	LitersToBill  float64  `json:"liters_to_bill"`
}

type BarrelResponse struct {
	ID           string    `json:"id"`
	ProviderID   string    `json:"provider_id"`
	Number       string    `json:"number"`
	OilType      string    `json:"oil_type"`
	OilTypeLabel string    `json:"oil_type_label"`
	Liters       int       `json:"liters"`
	Billed       bool      `json:"billed"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type InvoiceResponse struct {
	ID         string    `json:"id"`
	InvoiceNo  string    `json:"invoice_no"`
	IssuedOn   string    `json:"issued_on"`
	ProviderID string    `json:"provider_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// LineResponse exposes the billed barrel by id only.
type LineResponse struct {
	ID          string `json:"id"`
	InvoiceID   string `json:"invoice_id"`
	BarrelID    string `json:"barrel_id"`
	Position    int    `json:"position"`
	Liters      int    `json:"liters"`
	Description string `json:"description"`
	UnitPrice   string `json:"unit_price"`
	Amount      string `json:"amount"`
}

type InvoiceDetailResponse struct {
	InvoiceResponse
	Lines       []LineResponse `json:"lines"`
	TotalAmount string         `json:"total_amount"`
}

func toProviderResponse(p domain.Provider, hasBarrelsToBill bool) ProviderResponse {
	return ProviderResponse{
		ID:               p.ID,
		Name:             p.Name,
		Address:          p.Address,
		TaxID:            p.TaxID,
		HasBarrelsToBill: hasBarrelsToBill,
		CreatedAt:        p.CreatedAt,
	}
}

func toProviderDetailResponse(s *domain.ProviderSummary) ProviderDetailResponse {
	return ProviderDetailResponse{
		ProviderResponse: toProviderResponse(s.Provider, s.HasBarrelsToBill),
		BilledBarrels:    lo.Ternary(s.BilledBarrels == nil, []string{}, s.BilledBarrels),
		BarrelsToBill:    lo.Ternary(s.BarrelsToBill == nil, []string{}, s.BarrelsToBill),
		LitersToBill:     s.LitersToBill,
	}
}

func toBarrelResponse(b domain.Barrel) BarrelResponse {
	return BarrelResponse{
		ID:           b.ID,
		ProviderID:   b.ProviderID,
		Number:       b.Number,
		OilType:      string(b.OilType),
		OilTypeLabel: b.OilType.Label(),
		Liters:       b.Liters,
		Billed:       b.Billed,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
}

func toInvoiceResponse(inv domain.Invoice) InvoiceResponse {
	return InvoiceResponse{
		ID:         inv.ID,
		InvoiceNo:  inv.InvoiceNo,
		IssuedOn:   inv.IssuedOn.Format(dateLayout),
		ProviderID: inv.ProviderID,
		CreatedAt:  inv.CreatedAt,
	}
}

func toLineResponse(l domain.InvoiceLine) LineResponse {
	return LineResponse{
		ID:          l.ID,
		InvoiceID:   l.InvoiceID,
		BarrelID:    l.BarrelID,
		Position:    l.Position,
		Liters:      l.Liters,
		Description: l.Description,
		UnitPrice:   l.UnitPrice.StringFixed(2),
		Amount:      l.Amount().StringFixed(2),
	}
}

func toInvoiceDetailResponse(d *domain.InvoiceDetail) InvoiceDetailResponse {
	return InvoiceDetailResponse{
		InvoiceResponse: toInvoiceResponse(d.Invoice),
		Lines:           lo.Map(d.Lines, func(l domain.InvoiceLine, _ int) LineResponse { return toLineResponse(l) }),
		TotalAmount:     d.TotalAmount.StringFixed(2),
	}
}
