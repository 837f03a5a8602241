package service

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/oil-billing/internal/core/domain"
)

type DemoData struct {
	Provider *domain.Provider
	Barrels  []*domain.Barrel
	Invoice  *domain.Invoice
	Line     *domain.InvoiceLine
}

// Seeder builds demo data through the same services as any other caller.
type Seeder struct {
	inventory *InventoryService
	invoices  *InvoiceService
	billing   *BillingService
	logger    *zap.Logger
}

func NewSeeder(inventory *InventoryService, invoices *InvoiceService, billing *BillingService, logger *zap.Logger) *Seeder {
	return &Seeder{
		inventory: inventory,
		invoices:  invoices,
		billing:   billing,
		logger:    logger.Named("seed"),
	}
}

// SeedDemo wipes every provider and recreates the Acme Oils demo set with
// barrel B-001 already billed on INV-0001.
func (s *Seeder) SeedDemo(ctx context.Context, today time.Time) (*DemoData, error) {
	existing, err := s.inventory.ListProviders(ctx, domain.ProviderFilter{})
	if err != nil {
		return nil, err
	}
	for _, p := range existing {
		if err := s.inventory.DeleteProvider(ctx, p.ID); err != nil {
			return nil, errors.Wrapf(err, "delete provider %s", p.ID)
		}
	}

	p, err := s.inventory.RegisterProvider(ctx, "Acme Oils", "123 Industrial Ave", "TAX-123")
	if err != nil {
		return nil, err
	}
	b1, err := s.inventory.ReceiveBarrel(ctx, ReceiveBarrelRequest{
		ProviderID: p.ID, Number: "B-001", OilType: domain.OilTypeVirgin, Liters: 200,
	})
	if err != nil {
		return nil, err
	}
	b2, err := s.inventory.ReceiveBarrel(ctx, ReceiveBarrelRequest{
		ProviderID: p.ID, Number: "B-002", OilType: domain.OilTypeExtraVirgin, Liters: 150,
	})
	if err != nil {
		return nil, err
	}

	inv, err := s.invoices.IssueInvoice(ctx, p.ID, "INV-0001", today)
	if err != nil {
		return nil, err
	}
	line, err := s.billing.BillBarrel(ctx, BillRequest{
		InvoiceID:   inv.ID,
		BarrelID:    b1.ID,
		Liters:      200,
		UnitPrice:   decimal.RequireFromString("3.50"),
		Description: "Olive oil barrel B-001",
	})
	if err != nil {
		return nil, err
	}
	b1.Billed = true

	s.logger.Info("demo data created", zap.Int("removed_providers", len(existing)))
	return &DemoData{
		Provider: p,
		Barrels:  []*domain.Barrel{b1, b2},
		Invoice:  inv,
		Line:     line,
	}, nil
}
