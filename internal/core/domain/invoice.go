package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	maxDescriptionLength = 255
	maxInvoiceNoLength   = 64
	priceScale           = 2
	priceDigits          = 12
)

// Unit prices are stored as DECIMAL(12,2).
var (
	minUnitPrice = decimal.New(1, -priceScale)
	maxUnitPrice = decimal.New(1, priceDigits-priceScale).Sub(minUnitPrice)
)

type Invoice struct {
	ID         string
	InvoiceNo  string
	IssuedOn   time.Time
	ProviderID string
	CreatedAt  time.Time
}

func NewInvoice(providerID, invoiceNo string, issuedOn time.Time) (*Invoice, error) {
	invoiceNo = strings.TrimSpace(invoiceNo)
	if providerID == "" {
		return nil, newValidationError(ErrInvalidInput, "provider", nil, "invoice provider is required")
	}
	if invoiceNo == "" || utf8.RuneCountInString(invoiceNo) > maxInvoiceNoLength {
		return nil, newValidationError(ErrInvalidInput, "invoice_no", nil,
			"invoice number must be 1 to %d characters", maxInvoiceNoLength)
	}
	if issuedOn.IsZero() {
		return nil, newValidationError(ErrInvalidInput, "issued_on", nil, "invoice issue date is required")
	}

	return &Invoice{
		ID:         uuid.NewString(),
		InvoiceNo:  invoiceNo,
		IssuedOn:   DateOf(issuedOn),
		ProviderID: providerID,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

func (inv Invoice) String() string {
	return inv.InvoiceNo
}

// InvoiceLine bills one whole barrel. It carries the barrel identifier only.
type InvoiceLine struct {
	ID          string
	InvoiceID   string
	BarrelID    string
	Position    int
	Liters      int
	Description string
	UnitPrice   decimal.Decimal
	CreatedAt   time.Time
}

// Amount is liters × unit price, exact.
func (l InvoiceLine) Amount() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Liters)))
}

// TotalAmount sums line amounts without rounding. An empty slice totals zero.
func TotalAmount(lines []InvoiceLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Amount())
	}
	return total
}

// LineRequest is the caller's stated intent for billing one barrel.
type LineRequest struct {
	Liters      int
	UnitPrice   decimal.Decimal
	Description string
}

// CheckBillable runs the billing preconditions in order and returns the first
// failure. owner is the invoice's provider and barrelOwner the barrel's; they
// are only used to name both sides of a mismatch and may be nil.
func (inv *Invoice) CheckBillable(owner, barrelOwner *Provider, barrel *Barrel, req LineRequest) error {
	details := map[string]string{
		"invoice_id":    inv.ID,
		"invoice_no":    inv.InvoiceNo,
		"barrel_id":     barrel.ID,
		"barrel_number": barrel.Number,
	}

	if barrel.ProviderID != inv.ProviderID {
		invoiceSide, barrelSide := providerName(owner, inv.ProviderID), providerName(barrelOwner, barrel.ProviderID)
		details["invoice_provider"] = invoiceSide
		details["barrel_provider"] = barrelSide
		return newValidationError(ErrProviderMismatch, "barrel", details,
			"cannot add barrel %s: it belongs to provider '%s', but the invoice is for '%s'",
			barrel.Number, barrelSide, invoiceSide)
	}

	if req.Liters <= 0 {
		return newValidationError(ErrInvalidQuantity, "liters", details, "liters must be > 0, got %d", req.Liters)
	}
	if int64(req.Liters) > MaxLiters {
		return newValidationError(ErrInvalidQuantity, "liters", details, "liters must be at most %d, got %d", MaxLiters, req.Liters)
	}

	if !req.UnitPrice.IsPositive() {
		return newValidationError(ErrInvalidPrice, "unit_price", details, "unit price must be > 0, got %s", req.UnitPrice)
	}
	if !req.UnitPrice.Equal(req.UnitPrice.Truncate(priceScale)) || req.UnitPrice.LessThan(minUnitPrice) {
		return newValidationError(ErrInvalidPrice, "unit_price", details,
			"unit price must be at least %s with at most %d decimal places, got %s",
			minUnitPrice.StringFixed(priceScale), priceScale, req.UnitPrice)
	}
	if req.UnitPrice.GreaterThan(maxUnitPrice) {
		return newValidationError(ErrInvalidPrice, "unit_price", details,
			"unit price must be at most %s, got %s", maxUnitPrice.StringFixed(priceScale), req.UnitPrice)
	}

	if barrel.Billed {
		return newValidationError(ErrAlreadyBilled, "barrel", details, "barrel %s is already billed", barrel.Number)
	}

	if req.Liters != barrel.Liters {
		details["barrel_liters"] = decimal.NewFromInt(int64(barrel.Liters)).String()
		return newValidationError(ErrPartialBillingNotAllowed, "liters", details,
			"liters must equal barrel liters to bill the full barrel: barrel %s holds %d, got %d",
			barrel.Number, barrel.Liters, req.Liters)
	}

	return nil
}

// BillBarrel validates the request, builds the line at the given position and
// marks the barrel billed. Both values must be persisted together.
func (inv *Invoice) BillBarrel(owner, barrelOwner *Provider, barrel *Barrel, req LineRequest, position int) (*InvoiceLine, error) {
	if err := inv.CheckBillable(owner, barrelOwner, barrel, req); err != nil {
		return nil, err
	}

	description := strings.TrimSpace(req.Description)
	if description == "" || utf8.RuneCountInString(description) > maxDescriptionLength {
		return nil, newValidationError(ErrInvalidInput, "description", nil,
			"description must be 1 to %d characters", maxDescriptionLength)
	}

	now := time.Now().UTC()
	line := &InvoiceLine{
		ID:          uuid.NewString(),
		InvoiceID:   inv.ID,
		BarrelID:    barrel.ID,
		Position:    position,
		Liters:      req.Liters,
		Description: description,
		UnitPrice:   req.UnitPrice,
		CreatedAt:   now,
	}
	barrel.markBilled(now)

	return line, nil
}

func providerName(p *Provider, fallback string) string {
	if p == nil || p.Name == "" {
		return fallback
	}
	return p.Name
}

// InvoiceFilter narrows invoice listings. InvoiceNo matches case-insensitively
// as a substring; the date bounds are inclusive.
type InvoiceFilter struct {
	InvoiceNo    string
	IssuedAfter  *time.Time
	IssuedBefore *time.Time
	ProviderID   string
}

// InvoiceDetail is an invoice with its ordered lines and total.
type InvoiceDetail struct {
	Invoice     Invoice
	Lines       []InvoiceLine
	TotalAmount decimal.Decimal
}

// DateOf truncates t to its calendar date in UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
