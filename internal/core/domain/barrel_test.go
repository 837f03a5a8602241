package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBarrel(t *testing.T) {
	b, err := NewBarrel("p1", " B-002 ", OilTypeExtraVirgin, 150)
	require.NoError(t, err)

	assert.NotEmpty(t, b.ID)
	assert.Equal(t, "B-002", b.Number)
	assert.False(t, b.Billed)
	assert.Equal(t, BarrelUnbilled, b.State())
	assert.Equal(t, "Extra Virgin Olive Oil", b.OilType.Label())
}

func TestNewBarrel_Validation(t *testing.T) {
	tests := []struct {
		name    string
		number  string
		oilType OilType
		liters  int
		want    error
	}{
		{"missing number", "", OilTypeVirgin, 10, ErrInvalidInput},
		{"unknown oil type", "B-1", OilType("SUNFLOWER"), 10, ErrInvalidInput},
		{"zero liters", "B-1", OilTypeVirgin, 0, ErrInvalidQuantity},
		{"liters beyond storable range", "B-1", OilTypeVirgin, int(MaxLiters + 1), ErrInvalidQuantity},
		{"number too long", strings.Repeat("ñ", maxBarrelNumberLength+1), OilTypeVirgin, 10, ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBarrel("p1", tt.number, tt.oilType, tt.liters)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewBarrel_Bounds(t *testing.T) {
	b, err := NewBarrel("p1", strings.Repeat("ñ", maxBarrelNumberLength), OilTypeVirgin, int(MaxLiters))
	require.NoError(t, err)
	assert.Equal(t, int(MaxLiters), b.Liters)
}

func TestUnbilledAndTotalLiters(t *testing.T) {
	barrels := []Barrel{
		{ID: "a", Liters: 200, Billed: true},
		{ID: "b", Liters: 150},
		{ID: "c", Liters: 75},
	}

	unbilled := Unbilled(barrels)
	require.Len(t, unbilled, 2)
	assert.Equal(t, "b", unbilled[0].ID)
	assert.Equal(t, 225.0, TotalLiters(unbilled))

	assert.Equal(t, 0.0, TotalLiters(Unbilled([]Barrel{{Liters: 10, Billed: true}})))
}

func TestNewProvider_Validation(t *testing.T) {
	p, err := NewProvider("Acme Oils", "123 Industrial Ave", "TAX-123")
	require.NoError(t, err)
	assert.Equal(t, "Acme Oils (TAX-123)", p.String())

	_, err = NewProvider(" ", "addr", "TAX-1")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewProvider("Name", "addr", "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewProvider(strings.Repeat("Ñ", maxProviderNameLength), "addr", strings.Repeat("Ñ", maxTaxIDLength))
	assert.NoError(t, err)

	_, err = NewProvider(strings.Repeat("Ñ", maxProviderNameLength+1), "addr", "TAX-1")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewProvider("Name", "addr", strings.Repeat("Ñ", maxTaxIDLength+1))
	assert.ErrorIs(t, err, ErrInvalidInput)
}
