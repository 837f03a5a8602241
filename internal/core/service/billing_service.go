package service

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/oil-billing/internal/core/domain"
	"github.com/rl1809/oil-billing/internal/port"
)

var ErrDuplicateRequest = errors.New("duplicate request")

const idempotencyKeyPrefix = "billing:request:"

type BillRequest struct {
	RequestID   string // optional; repeats of a successful request are rejected
	InvoiceID   string
	BarrelID    string
	Liters      int
	UnitPrice   decimal.Decimal
	Description string
}

// BillingService is the only writer of invoice lines and of the barrel
// billed flag.
type BillingService struct {
	store  port.Store
	cache  port.CacheRepository
	logger *zap.Logger
}

func NewBillingService(store port.Store, cache port.CacheRepository, logger *zap.Logger) *BillingService {
	return &BillingService{
		store:  store,
		cache:  cache,
		logger: logger.Named("billing"),
	}
}

// BillBarrel appends a line for the barrel to the invoice and marks the barrel
// billed, both in one transaction. Invoice and barrel are re-read under lock so
// a concurrent loser sees the barrel billed and gets domain.ErrAlreadyBilled.
func (s *BillingService) BillBarrel(ctx context.Context, req BillRequest) (*domain.InvoiceLine, error) {
	log := s.logger.With(
		zap.String("invoice_id", req.InvoiceID),
		zap.String("barrel_id", req.BarrelID),
		zap.Int("liters", req.Liters),
		zap.String("unit_price", req.UnitPrice.String()),
	)

	if req.RequestID != "" {
		ok, err := s.cache.SetIdempotency(ctx, idempotencyKeyPrefix+req.RequestID)
		if err != nil {
			return nil, errors.Wrap(err, "idempotency check failed")
		}
		if !ok {
			log.Info("duplicate billing request", zap.String("request_id", req.RequestID))
			return nil, ErrDuplicateRequest
		}
	}

	var (
		line       *domain.InvoiceLine
		providerID string
	)
	err := s.store.Execute(ctx, func(repo port.DatabaseRepository) error {
		inv, err := repo.GetInvoiceForUpdate(ctx, req.InvoiceID)
		if err != nil {
			return err
		}
		barrel, err := repo.GetBarrelForUpdate(ctx, req.BarrelID)
		if err != nil {
			return err
		}

		owner, err := repo.GetProvider(ctx, inv.ProviderID)
		if err != nil {
			return err
		}
		barrelOwner := owner
		if barrel.ProviderID != inv.ProviderID {
			if barrelOwner, err = repo.GetProvider(ctx, barrel.ProviderID); err != nil {
				return err
			}
		}

		count, err := repo.CountLines(ctx, inv.ID)
		if err != nil {
			return err
		}

		line, err = inv.BillBarrel(owner, barrelOwner, barrel, domain.LineRequest{
			Liters:      req.Liters,
			UnitPrice:   req.UnitPrice,
			Description: req.Description,
		}, count+1)
		if err != nil {
			return err
		}

		if err := repo.AddLine(ctx, *line); err != nil {
			return err
		}
		if err := repo.MarkBilled(ctx, barrel.ID); err != nil {
			return err
		}
		providerID = barrel.ProviderID
		return nil
	})
	if err != nil {
		s.releaseRequest(ctx, req.RequestID, log)
		if domain.IsRejection(err) {
			log.Info("billing rejected", zap.String("code", domain.CodeOf(err)), zap.Error(err))
		} else {
			log.Error("billing failed", zap.Error(err))
		}
		return nil, err
	}

	if err := s.cache.DeductUnbilledLiters(ctx, providerID, line.Liters); err != nil {
		log.Warn("failed to update unbilled liters cache, invalidating", zap.Error(err))
		if err := s.cache.InvalidateUnbilledLiters(ctx, providerID); err != nil {
			log.Error("failed to invalidate unbilled liters cache", zap.String("provider_id", providerID), zap.Error(err))
		}
	}

	log.Info("barrel billed",
		zap.String("line_id", line.ID),
		zap.Int("position", line.Position),
		zap.String("amount", line.Amount().StringFixed(2)),
	)
	return line, nil
}

func (s *BillingService) releaseRequest(ctx context.Context, requestID string, log *zap.Logger) {
	if requestID == "" {
		return
	}
	if err := s.cache.ReleaseIdempotency(ctx, idempotencyKeyPrefix+requestID); err != nil {
		log.Warn("failed to release idempotency key", zap.String("request_id", requestID), zap.Error(err))
	}
}
