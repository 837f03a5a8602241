package service

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/rl1809/oil-billing/internal/core/domain"
	"github.com/rl1809/oil-billing/internal/port"
)

type ReceiveBarrelRequest struct {
	ProviderID string
	Number     string
	OilType    domain.OilType
	Liters     int
}

// InventoryService owns providers and their barrels and answers the
// unbilled-liters aggregate.
type InventoryService struct {
	store  port.Store
	cache  port.CacheRepository
	logger *zap.Logger
}

func NewInventoryService(store port.Store, cache port.CacheRepository, logger *zap.Logger) *InventoryService {
	return &InventoryService{
		store:  store,
		cache:  cache,
		logger: logger.Named("inventory"),
	}
}

func (s *InventoryService) RegisterProvider(ctx context.Context, name, address, taxID string) (*domain.Provider, error) {
	p, err := domain.NewProvider(name, address, taxID)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateProvider(ctx, *p); err != nil {
		return nil, err
	}

	s.logger.Info("provider registered", zap.String("provider_id", p.ID), zap.String("tax_id", p.TaxID))
	return p, nil
}

func (s *InventoryService) GetProvider(ctx context.Context, id string) (*domain.Provider, error) {
	return s.store.GetProvider(ctx, id)
}

// ListProviders returns the providers matching filter, each flagged with
// whether it still has barrels to bill.
func (s *InventoryService) ListProviders(ctx context.Context, filter domain.ProviderFilter) ([]domain.ProviderListing, error) {
	providers, err := s.store.ListProviders(ctx, filter)
	if err != nil {
		return nil, err
	}

	toBill := map[string]bool{}
	if filter.HasBarrelsToBill != nil {
		for _, p := range providers {
			toBill[p.ID] = *filter.HasBarrelsToBill
		}
	} else {
		pending, err := s.store.ListProviders(ctx, domain.ProviderFilter{HasBarrelsToBill: lo.ToPtr(true)})
		if err != nil {
			return nil, err
		}
		toBill = lo.SliceToMap(pending, func(p domain.Provider) (string, bool) { return p.ID, true })
	}

	return lo.Map(providers, func(p domain.Provider, _ int) domain.ProviderListing {
		return domain.ProviderListing{Provider: p, HasBarrelsToBill: toBill[p.ID]}
	}), nil
}

// ProviderSummary reports a provider with its billed and unbilled barrel ids
// and the liters still to bill.
func (s *InventoryService) ProviderSummary(ctx context.Context, id string) (*domain.ProviderSummary, error) {
	p, err := s.store.GetProvider(ctx, id)
	if err != nil {
		return nil, err
	}
	barrels, err := s.store.ListBarrels(ctx, domain.BarrelFilter{ProviderID: id})
	if err != nil {
		return nil, err
	}

	unbilled := domain.Unbilled(barrels)
	billed := lo.Filter(barrels, func(b domain.Barrel, _ int) bool { return b.State() == domain.BarrelBilled })
	barrelID := func(b domain.Barrel, _ int) string { return b.ID }

	liters, err := s.TotalUnbilledLiters(ctx, id)
	if err != nil {
		return nil, err
	}

	return &domain.ProviderSummary{
		Provider:         *p,
		HasBarrelsToBill: len(unbilled) > 0,
		BilledBarrels:    lo.Map(billed, barrelID),
		BarrelsToBill:    lo.Map(unbilled, barrelID),
		LitersToBill:     liters,
	}, nil
}

// DeleteProvider removes the provider together with everything it owns.
func (s *InventoryService) DeleteProvider(ctx context.Context, id string) error {
	if err := s.store.DeleteProvider(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	s.logger.Info("provider deleted", zap.String("provider_id", id))
	return nil
}

func (s *InventoryService) ReceiveBarrel(ctx context.Context, req ReceiveBarrelRequest) (*domain.Barrel, error) {
	b, err := domain.NewBarrel(req.ProviderID, req.Number, req.OilType, req.Liters)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetProvider(ctx, req.ProviderID); err != nil {
		return nil, err
	}
	if err := s.store.CreateBarrel(ctx, *b); err != nil {
		return nil, err
	}
	s.invalidate(ctx, b.ProviderID)

	s.logger.Info("barrel received",
		zap.String("provider_id", b.ProviderID),
		zap.String("barrel_id", b.ID),
		zap.String("number", b.Number),
		zap.Int("liters", b.Liters),
	)
	return b, nil
}

func (s *InventoryService) GetBarrel(ctx context.Context, id string) (*domain.Barrel, error) {
	return s.store.GetBarrel(ctx, id)
}

func (s *InventoryService) ListBarrels(ctx context.Context, filter domain.BarrelFilter) ([]domain.Barrel, error) {
	return s.store.ListBarrels(ctx, filter)
}

// UnbilledBarrels returns the provider's barrels not yet on any invoice.
func (s *InventoryService) UnbilledBarrels(ctx context.Context, providerID string) ([]domain.Barrel, error) {
	return s.store.ListBarrels(ctx, domain.BarrelFilter{ProviderID: providerID, Billed: lo.ToPtr(false)})
}

// TotalUnbilledLiters sums liters of the provider's unbilled barrels; 0 when
// there are none. A recomputed sum is cached only if no barrel of the provider
// was billed, received or deleted while it was being taken.
func (s *InventoryService) TotalUnbilledLiters(ctx context.Context, providerID string) (float64, error) {
	var version int64
	if liters, v, ok, err := s.cache.GetUnbilledLiters(ctx, providerID); err != nil {
		s.logger.Warn("unbilled liters cache read failed", zap.String("provider_id", providerID), zap.Error(err))
	} else if ok {
		return liters, nil
	} else {
		version = v
	}

	if _, err := s.store.GetProvider(ctx, providerID); err != nil {
		return 0, err
	}
	liters, err := s.store.SumLiters(ctx, providerID, false)
	if err != nil {
		return 0, err
	}

	stored, err := s.cache.SetUnbilledLiters(ctx, providerID, liters, version)
	switch {
	case err != nil:
		s.logger.Warn("unbilled liters cache write failed", zap.String("provider_id", providerID), zap.Error(err))
	case !stored:
		s.logger.Debug("unbilled liters changed while summing, not cached", zap.String("provider_id", providerID))
	}
	return liters, nil
}

// DeleteBarrel fails with domain.ErrBarrelReferenced once the barrel is on an invoice.
func (s *InventoryService) DeleteBarrel(ctx context.Context, id string) error {
	b, err := s.store.GetBarrel(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteBarrel(ctx, id); err != nil {
		if errors.Is(err, domain.ErrBarrelReferenced) {
			s.logger.Info("barrel deletion blocked", zap.String("barrel_id", id))
		}
		return err
	}
	s.invalidate(ctx, b.ProviderID)
	return nil
}

func (s *InventoryService) invalidate(ctx context.Context, providerID string) {
	if err := s.cache.InvalidateUnbilledLiters(ctx, providerID); err != nil {
		s.logger.Warn("unbilled liters cache invalidation failed", zap.String("provider_id", providerID), zap.Error(err))
	}
}
