package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func acmeFixture(t *testing.T) (*Provider, *Barrel, *Invoice) {
	t.Helper()

	p, err := NewProvider("Acme Oils", "123 Industrial Ave", "TAX-123")
	require.NoError(t, err)
	b, err := NewBarrel(p.ID, "B-001", OilTypeVirgin, 200)
	require.NoError(t, err)
	inv, err := NewInvoice(p.ID, "INV-0001", time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	return p, b, inv
}

func TestInvoice_BillBarrel_Success(t *testing.T) {
	p, b, inv := acmeFixture(t)

	line, err := inv.BillBarrel(p, p, b, LineRequest{
		Liters:      200,
		UnitPrice:   decimal.RequireFromString("3.50"),
		Description: "Olive oil barrel B-001",
	}, 1)

	require.NoError(t, err)
	assert.Equal(t, inv.ID, line.InvoiceID)
	assert.Equal(t, b.ID, line.BarrelID)
	assert.Equal(t, 1, line.Position)
	assert.Equal(t, 200, line.Liters)
	assert.True(t, line.Amount().Equal(decimal.RequireFromString("700.00")))
	assert.True(t, b.Billed)
	assert.Equal(t, BarrelBilled, b.State())
}

func TestInvoice_CheckBillable_Order(t *testing.T) {
	p, _, inv := acmeFixture(t)
	other, err := NewProvider("Olivares del Sur", "Camino 4", "TAX-999")
	require.NoError(t, err)

	price := decimal.RequireFromString("3.50")

	tests := []struct {
		name   string
		barrel Barrel
		owner  *Provider
		req    LineRequest
		want   error
		field  string
	}{
		{
			name:   "provider mismatch wins over everything",
			barrel: Barrel{ID: "b1", ProviderID: other.ID, Number: "X-1", Liters: 100, Billed: true},
			owner:  other,
			req:    LineRequest{Liters: 0, UnitPrice: decimal.Zero},
			want:   ErrProviderMismatch,
			field:  "barrel",
		},
		{
			name:   "non-positive liters",
			barrel: Barrel{ID: "b2", ProviderID: p.ID, Number: "B-2", Liters: 100},
			owner:  p,
			req:    LineRequest{Liters: -1, UnitPrice: price},
			want:   ErrInvalidQuantity,
			field:  "liters",
		},
		{
			name:   "zero price",
			barrel: Barrel{ID: "b3", ProviderID: p.ID, Number: "B-3", Liters: 100},
			owner:  p,
			req:    LineRequest{Liters: 100, UnitPrice: decimal.Zero},
			want:   ErrInvalidPrice,
			field:  "unit_price",
		},
		{
			name:   "liters beyond storable range",
			barrel: Barrel{ID: "b7", ProviderID: p.ID, Number: "B-7", Liters: 100},
			owner:  p,
			req:    LineRequest{Liters: int(MaxLiters + 1), UnitPrice: price},
			want:   ErrInvalidQuantity,
			field:  "liters",
		},
		{
			name:   "price beyond storable range",
			barrel: Barrel{ID: "b8", ProviderID: p.ID, Number: "B-8", Liters: 100},
			owner:  p,
			req:    LineRequest{Liters: 100, UnitPrice: decimal.RequireFromString("10000000000.00")},
			want:   ErrInvalidPrice,
			field:  "unit_price",
		},
		{
			name:   "price with three decimals",
			barrel: Barrel{ID: "b4", ProviderID: p.ID, Number: "B-4", Liters: 100},
			owner:  p,
			req:    LineRequest{Liters: 100, UnitPrice: decimal.RequireFromString("3.505")},
			want:   ErrInvalidPrice,
			field:  "unit_price",
		},
		{
			name:   "already billed precedes quantity mismatch",
			barrel: Barrel{ID: "b5", ProviderID: p.ID, Number: "B-5", Liters: 200, Billed: true},
			owner:  p,
			req:    LineRequest{Liters: 150, UnitPrice: price},
			want:   ErrAlreadyBilled,
			field:  "barrel",
		},
		{
			name:   "partial billing",
			barrel: Barrel{ID: "b6", ProviderID: p.ID, Number: "B-6", Liters: 200},
			owner:  p,
			req:    LineRequest{Liters: 150, UnitPrice: price},
			want:   ErrPartialBillingNotAllowed,
			field:  "liters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			barrel := tt.barrel
			err := inv.CheckBillable(p, tt.owner, &barrel, tt.req)

			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, barrel.ID, verr.Details["barrel_id"])
			assert.Equal(t, tt.barrel.Billed, barrel.Billed, "validation must not mutate the barrel")
		})
	}
}

func TestInvoice_CheckBillable_MismatchNamesBothProviders(t *testing.T) {
	p, _, inv := acmeFixture(t)
	other, err := NewProvider("Olivares del Sur", "Camino 4", "TAX-999")
	require.NoError(t, err)
	b, err := NewBarrel(other.ID, "OS-7", OilTypePomace, 120)
	require.NoError(t, err)

	err = inv.CheckBillable(p, other, b, LineRequest{Liters: 120, UnitPrice: decimal.NewFromInt(2)})

	require.ErrorIs(t, err, ErrProviderMismatch)
	assert.Contains(t, err.Error(), "OS-7")
	assert.Contains(t, err.Error(), "Olivares del Sur")
	assert.Contains(t, err.Error(), "Acme Oils")
	assert.Equal(t, CodeProviderMismatch, CodeOf(err))
}

func TestInvoice_BillBarrel_RejectsBlankDescription(t *testing.T) {
	p, b, inv := acmeFixture(t)

	_, err := inv.BillBarrel(p, p, b, LineRequest{Liters: 200, UnitPrice: decimal.NewFromInt(3), Description: "  "}, 1)

	require.ErrorIs(t, err, ErrInvalidInput)
	assert.False(t, b.Billed)
}

func TestInvoice_BillBarrel_MaxUnitPrice(t *testing.T) {
	p, b, inv := acmeFixture(t)

	line, err := inv.BillBarrel(p, p, b, LineRequest{
		Liters:      200,
		UnitPrice:   decimal.RequireFromString("9999999999.99"),
		Description: "Premium lot",
	}, 1)

	require.NoError(t, err)
	assert.Equal(t, "1999999999998.00", line.Amount().StringFixed(2))
}

func TestInvoice_BillBarrel_DescriptionCountsCharacters(t *testing.T) {
	tests := []struct {
		name        string
		description string
		wantErr     bool
	}{
		{"multibyte within limit", strings.Repeat("ñ", 200), false},
		{"multibyte at limit", strings.Repeat("ó", maxDescriptionLength), false},
		{"multibyte over limit", strings.Repeat("ó", maxDescriptionLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, b, inv := acmeFixture(t)

			line, err := inv.BillBarrel(p, p, b, LineRequest{
				Liters: 200, UnitPrice: decimal.NewFromInt(3), Description: tt.description,
			}, 1)

			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidInput)
				assert.False(t, b.Billed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.description, line.Description)
			assert.True(t, b.Billed)
		})
	}
}

func TestTotalAmount(t *testing.T) {
	assert.True(t, TotalAmount(nil).Equal(decimal.Zero))

	lines := []InvoiceLine{
		{Liters: 200, UnitPrice: decimal.RequireFromString("3.50")},
		{Liters: 3, UnitPrice: decimal.RequireFromString("0.10")},
		{Liters: 7, UnitPrice: decimal.RequireFromString("0.01")},
	}
	// 700.00 + 0.30 + 0.07; binary floats would drift here.
	assert.Equal(t, "700.37", TotalAmount(lines).StringFixed(2))
}

func TestNewInvoice_TruncatesIssueDate(t *testing.T) {
	inv, err := NewInvoice("p1", " INV-9 ", time.Date(2026, 1, 2, 23, 59, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, "INV-9", inv.InvoiceNo)
	assert.Equal(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), inv.IssuedOn)
}

func TestNewInvoice_Validation(t *testing.T) {
	_, err := NewInvoice("", "INV-1", time.Now())
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewInvoice("p1", "", time.Now())
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewInvoice("p1", "INV-1", time.Time{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewInvoice("p1", strings.Repeat("Ñ", maxInvoiceNoLength), time.Now())
	assert.NoError(t, err)

	_, err = NewInvoice("p1", strings.Repeat("Ñ", maxInvoiceNoLength+1), time.Now())
	assert.ErrorIs(t, err, ErrInvalidInput)
}
