package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/oil-billing/internal/port"
)

const (
	unbilledKeyPrefix        = "unbilled_liters:"
	unbilledVersionKeyPrefix = "unbilled_liters_version:"
	defaultIdempotencyKeyTTL = 24 * time.Hour
	unbilledLitersTTL        = time.Hour
)

// Every write to a provider's barrels bumps its version key. A recomputed
// aggregate is stored only if the version has not moved since it was read.
var setLitersScript = redis.NewScript(`
local version = redis.call('GET', KEYS[2]) or '0'
if version ~= ARGV[2] then
	return 0
end

redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[3])
return 1
`)

// Lowers the cached aggregate in place. A missing key stays missing; a value
// that would go negative means the cache drifted, so it is dropped.
var deductLitersScript = redis.NewScript(`
local key = KEYS[1]
local liters = tonumber(ARGV[1])

redis.call('INCR', KEYS[2])

local current = redis.call('GET', key)
if not current then
	return 0
end

current = tonumber(current)
if current >= liters then
	redis.call('DECRBY', key, liters)
	return 1
end

redis.call('DEL', key)
return 0
`)

var invalidateLitersScript = redis.NewScript(`
redis.call('INCR', KEYS[2])
return redis.call('DEL', KEYS[1])
`)

// unbilledKeys returns the aggregate and version keys of a provider. The hash
// tag keeps both in one cluster slot.
func unbilledKeys(providerID string) []string {
	return []string{
		unbilledKeyPrefix + "{" + providerID + "}",
		unbilledVersionKeyPrefix + "{" + providerID + "}",
	}
}

type RedisAdapter struct {
	client         *redis.Client
	idempotencyTTL time.Duration
}

func NewRedisAdapter(client *redis.Client, idempotencyTTL time.Duration) *RedisAdapter {
	if idempotencyTTL <= 0 {
		idempotencyTTL = defaultIdempotencyKeyTTL
	}
	return &RedisAdapter{client: client, idempotencyTTL: idempotencyTTL}
}

var _ port.CacheRepository = (*RedisAdapter)(nil)

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, r.idempotencyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisAdapter) GetUnbilledLiters(ctx context.Context, providerID string) (float64, int64, bool, error) {
	values, err := r.client.MGet(ctx, unbilledKeys(providerID)...).Result()
	if err != nil {
		return 0, 0, false, err
	}

	var version int64
	if raw, ok := values[1].(string); ok {
		if version, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return 0, 0, false, err
		}
	}

	raw, ok := values[0].(string)
	if !ok {
		return 0, version, false, nil
	}
	liters, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, version, false, err
	}

	return float64(liters), version, true, nil
}

func (r *RedisAdapter) SetUnbilledLiters(ctx context.Context, providerID string, liters float64, version int64) (bool, error) {
	stored, err := setLitersScript.Run(ctx, r.client, unbilledKeys(providerID),
		int64(liters), version, int64(unbilledLitersTTL/time.Second)).Int()
	if err != nil {
		return false, err
	}

	return stored == 1, nil
}

func (r *RedisAdapter) DeductUnbilledLiters(ctx context.Context, providerID string, liters int) error {
	return deductLitersScript.Run(ctx, r.client, unbilledKeys(providerID), liters).Err()
}

func (r *RedisAdapter) InvalidateUnbilledLiters(ctx context.Context, providerID string) error {
	return invalidateLitersScript.Run(ctx, r.client, unbilledKeys(providerID)).Err()
}

// NopCache is used when Redis is disabled: every lookup misses and every
// idempotency key is accepted.
type NopCache struct{}

var _ port.CacheRepository = NopCache{}

func (NopCache) SetIdempotency(context.Context, string) (bool, error) { return true, nil }

func (NopCache) ReleaseIdempotency(context.Context, string) error { return nil }

func (NopCache) GetUnbilledLiters(context.Context, string) (float64, int64, bool, error) {
	return 0, 0, false, nil
}

func (NopCache) SetUnbilledLiters(context.Context, string, float64, int64) (bool, error) {
	return false, nil
}

func (NopCache) DeductUnbilledLiters(context.Context, string, int) error { return nil }

func (NopCache) InvalidateUnbilledLiters(context.Context, string) error { return nil }
