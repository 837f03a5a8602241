package domain

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

type OilType string

const (
	OilTypeExtraVirgin OilType = "EVOO"
	OilTypeVirgin      OilType = "EVO"
	OilTypeRefined     OilType = "ROO"
	OilTypePomace      OilType = "OPO"
)

var oilTypeLabels = map[OilType]string{
	OilTypeExtraVirgin: "Extra Virgin Olive Oil",
	OilTypeVirgin:      "Virgin Olive Oil",
	OilTypeRefined:     "Refined Olive Oil",
	OilTypePomace:      "Olive Pomace Oil",
}

func (t OilType) Valid() bool {
	_, ok := oilTypeLabels[t]
	return ok
}

func (t OilType) Label() string {
	return oilTypeLabels[t]
}

// MaxLiters is the largest volume a barrel or line can hold (INT UNSIGNED).
const MaxLiters int64 = math.MaxUint32

const maxBarrelNumberLength = 64

type BarrelState string

const (
	BarrelUnbilled BarrelState = "unbilled"
	BarrelBilled   BarrelState = "billed"
)

// Barrel is a fixed volume of oil owned by one provider. Number is unique
// within the provider.
type Barrel struct {
	ID         string
	ProviderID string
	Number     string
	OilType    OilType
	Liters     int
	Billed     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func NewBarrel(providerID, number string, oilType OilType, liters int) (*Barrel, error) {
	number = strings.TrimSpace(number)
	if providerID == "" {
		return nil, newValidationError(ErrInvalidInput, "provider", nil, "barrel provider is required")
	}
	if number == "" || utf8.RuneCountInString(number) > maxBarrelNumberLength {
		return nil, newValidationError(ErrInvalidInput, "number", nil,
			"barrel number must be 1 to %d characters", maxBarrelNumberLength)
	}
	if !oilType.Valid() {
		return nil, newValidationError(ErrInvalidInput, "oil_type", map[string]string{"oil_type": string(oilType)},
			"unknown oil type %q", oilType)
	}
	if liters <= 0 || int64(liters) > MaxLiters {
		return nil, newValidationError(ErrInvalidQuantity, "liters", nil, "barrel liters must be 1 to %d", MaxLiters)
	}

	now := time.Now().UTC()
	return &Barrel{
		ID:         uuid.NewString(),
		ProviderID: providerID,
		Number:     number,
		OilType:    oilType,
		Liters:     liters,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (b Barrel) State() BarrelState {
	if b.Billed {
		return BarrelBilled
	}
	return BarrelUnbilled
}

func (b Barrel) String() string {
	return "Barrel " + b.Number + " (" + string(b.OilType) + ")"
}

// markBilled is the only transition of a barrel and it is one-way.
func (b *Barrel) markBilled(at time.Time) {
	b.Billed = true
	b.UpdatedAt = at
}

// Unbilled returns the barrels still waiting for an invoice line.
func Unbilled(barrels []Barrel) []Barrel {
	out := make([]Barrel, 0, len(barrels))
	for _, b := range barrels {
		if !b.Billed {
			out = append(out, b)
		}
	}
	return out
}

// TotalLiters sums liters over barrels.
func TotalLiters(barrels []Barrel) float64 {
	var total int64
	for _, b := range barrels {
		total += int64(b.Liters)
	}
	return float64(total)
}

// BarrelFilter narrows barrel listings; empty fields are ignored.
type BarrelFilter struct {
	ProviderID string
	Billed     *bool
}
