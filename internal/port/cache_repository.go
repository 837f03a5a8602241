package port

import "context"

type CacheRepository interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency frees a key so a rejected request can be resubmitted
	ReleaseIdempotency(ctx context.Context, key string) error

	// GetUnbilledLiters returns the cached aggregate and the version of the
	// provider's barrels it was read at; ok is false on a miss
	GetUnbilledLiters(ctx context.Context, providerID string) (liters float64, version int64, ok bool, err error)

	// SetUnbilledLiters stores a recomputed aggregate only if the version is
	// still the one returned by GetUnbilledLiters before the sum was taken
	SetUnbilledLiters(ctx context.Context, providerID string, liters float64, version int64) (stored bool, err error)

	// DeductUnbilledLiters bumps the version and lowers a cached aggregate,
	// dropping it if it would go negative
	DeductUnbilledLiters(ctx context.Context, providerID string, liters int) error

	// InvalidateUnbilledLiters bumps the version and drops the aggregate
	InvalidateUnbilledLiters(ctx context.Context, providerID string) error
}
