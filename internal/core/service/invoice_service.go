package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/oil-billing/internal/core/domain"
	"github.com/rl1809/oil-billing/internal/port"
)

type InvoiceService struct {
	store  port.Store
	logger *zap.Logger
}

func NewInvoiceService(store port.Store, logger *zap.Logger) *InvoiceService {
	return &InvoiceService{
		store:  store,
		logger: logger.Named("invoice"),
	}
}

func (s *InvoiceService) IssueInvoice(ctx context.Context, providerID, invoiceNo string, issuedOn time.Time) (*domain.Invoice, error) {
	inv, err := domain.NewInvoice(providerID, invoiceNo, issuedOn)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetProvider(ctx, providerID); err != nil {
		return nil, err
	}
	if err := s.store.CreateInvoice(ctx, *inv); err != nil {
		return nil, err
	}

	s.logger.Info("invoice issued",
		zap.String("invoice_id", inv.ID),
		zap.String("invoice_no", inv.InvoiceNo),
		zap.String("provider_id", providerID),
	)
	return inv, nil
}

func (s *InvoiceService) GetInvoice(ctx context.Context, id string) (*domain.InvoiceDetail, error) {
	inv, err := s.store.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	lines, err := s.store.ListLines(ctx, id)
	if err != nil {
		return nil, err
	}

	return &domain.InvoiceDetail{
		Invoice:     *inv,
		Lines:       lines,
		TotalAmount: domain.TotalAmount(lines),
	}, nil
}

func (s *InvoiceService) ListInvoices(ctx context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, error) {
	return s.store.ListInvoices(ctx, filter)
}

// Lines returns the invoice's lines in creation order.
func (s *InvoiceService) Lines(ctx context.Context, invoiceID string) ([]domain.InvoiceLine, error) {
	if _, err := s.store.GetInvoice(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.store.ListLines(ctx, invoiceID)
}

// TotalAmount is the exact sum of liters × unit price over the invoice's lines.
func (s *InvoiceService) TotalAmount(ctx context.Context, invoiceID string) (decimal.Decimal, error) {
	lines, err := s.Lines(ctx, invoiceID)
	if err != nil {
		return decimal.Zero, err
	}
	return domain.TotalAmount(lines), nil
}
