package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	maxProviderNameLength = 255
	maxTaxIDLength        = 64
)

type Provider struct {
	ID        string
	Name      string
	Address   string
	TaxID     string // unique in practice, not enforced
	CreatedAt time.Time
}

func NewProvider(name, address, taxID string) (*Provider, error) {
	name = strings.TrimSpace(name)
	taxID = strings.TrimSpace(taxID)
	if name == "" {
		return nil, newValidationError(ErrInvalidInput, "name", nil, "provider name is required")
	}
	if utf8.RuneCountInString(name) > maxProviderNameLength {
		return nil, newValidationError(ErrInvalidInput, "name", nil,
			"provider name must be at most %d characters", maxProviderNameLength)
	}
	if taxID == "" {
		return nil, newValidationError(ErrInvalidInput, "tax_id", nil, "provider tax id is required")
	}
	if utf8.RuneCountInString(taxID) > maxTaxIDLength {
		return nil, newValidationError(ErrInvalidInput, "tax_id", nil,
			"provider tax id must be at most %d characters", maxTaxIDLength)
	}

	return &Provider{
		ID:        uuid.NewString(),
		Name:      name,
		Address:   strings.TrimSpace(address),
		TaxID:     taxID,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (p Provider) String() string {
	return p.Name + " (" + p.TaxID + ")"
}

// ProviderFilter narrows provider listings. A nil HasBarrelsToBill means no
// filtering on billing state.
type ProviderFilter struct {
	HasBarrelsToBill *bool
}

// ProviderListing is a provider as listed, flagged with whether any of its
// barrels is still unbilled.
type ProviderListing struct {
	Provider
	HasBarrelsToBill bool
}

// ProviderSummary is the read model of a provider with its billing state.
type ProviderSummary struct {
	Provider         Provider
	HasBarrelsToBill bool
	BilledBarrels    []string
	BarrelsToBill    []string
	LitersToBill     float64
}
