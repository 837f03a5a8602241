package port

import (
	"context"

	"github.com/rl1809/oil-billing/internal/core/domain"
)

type ProviderRepository interface {
	CreateProvider(ctx context.Context, provider domain.Provider) error

	// GetProvider returns domain.ErrNotFound for an unknown id
	GetProvider(ctx context.Context, id string) (*domain.Provider, error)

	ListProviders(ctx context.Context, filter domain.ProviderFilter) ([]domain.Provider, error)

	// DeleteProvider removes the provider with its barrels, invoices and lines
	DeleteProvider(ctx context.Context, id string) error
}

type BarrelRepository interface {
	// CreateBarrel returns domain.ErrAlreadyExists when (provider, number) is taken
	CreateBarrel(ctx context.Context, barrel domain.Barrel) error

	GetBarrel(ctx context.Context, id string) (*domain.Barrel, error)

	// GetBarrelForUpdate reads the barrel and locks it until the surrounding transaction ends
	GetBarrelForUpdate(ctx context.Context, id string) (*domain.Barrel, error)

	// ListBarrels returns barrels ordered by provider then number
	ListBarrels(ctx context.Context, filter domain.BarrelFilter) ([]domain.Barrel, error)

	// SumLiters sums liters of a provider's barrels in the given billed state
	SumLiters(ctx context.Context, providerID string, billed bool) (float64, error)

	// MarkBilled flips billed from false to true; domain.ErrAlreadyBilled if it was already set.
	// Only the billing transaction may call it.
	MarkBilled(ctx context.Context, id string) error

	// DeleteBarrel returns domain.ErrBarrelReferenced while an invoice line points at it
	DeleteBarrel(ctx context.Context, id string) error
}

type InvoiceRepository interface {
	// CreateInvoice returns domain.ErrAlreadyExists when the invoice number is taken
	CreateInvoice(ctx context.Context, invoice domain.Invoice) error

	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)

	// GetInvoiceForUpdate reads the invoice and locks it until the surrounding transaction ends
	GetInvoiceForUpdate(ctx context.Context, id string) (*domain.Invoice, error)

	ListInvoices(ctx context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, error)

	// AddLine persists a line; domain.ErrAlreadyBilled if the barrel already has one
	AddLine(ctx context.Context, line domain.InvoiceLine) error

	// ListLines returns the invoice's lines ordered by position
	ListLines(ctx context.Context, invoiceID string) ([]domain.InvoiceLine, error)

	CountLines(ctx context.Context, invoiceID string) (int, error)
}

type DatabaseRepository interface {
	ProviderRepository
	BarrelRepository
	InvoiceRepository
}

type TransactionScope interface {
	// Execute runs fn in one transaction. fn's error rolls everything back.
	Execute(ctx context.Context, fn func(repo DatabaseRepository) error) error
}

// Store is the injected persistence dependency of the services.
type Store interface {
	DatabaseRepository
	TransactionScope
}
