package storage

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

// warmUnbilled resets a provider's keys and caches liters at the current version.
func warmUnbilled(t *testing.T, client *redis.Client, adapter *RedisAdapter, providerID string, liters float64) {
	t.Helper()
	ctx := context.Background()

	client.Del(ctx, unbilledKeys(providerID)...)
	_, version, _, err := adapter.GetUnbilledLiters(ctx, providerID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored, err := adapter.SetUnbilledLiters(ctx, providerID, liters, version); err != nil || !stored {
		t.Fatalf("set: stored=%v err=%v", stored, err)
	}
}

func TestDeductUnbilledLiters_Success(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)
	warmUnbilled(t, client, adapter, "test-provider", 350)

	if err := adapter.DeductUnbilledLiters(ctx, "test-provider", 200); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	liters, version, ok, err := adapter.GetUnbilledLiters(ctx, "test-provider")
	if err != nil || !ok {
		t.Fatalf("expected cached value, got ok=%v err=%v", ok, err)
	}
	if liters != 150 {
		t.Errorf("expected 150 liters, got %v", liters)
	}
	if version != 1 {
		t.Errorf("expected version 1 after deduct, got %d", version)
	}
}

func TestDeductUnbilledLiters_DriftDropsKey(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)
	warmUnbilled(t, client, adapter, "drifted", 100)

	if err := adapter.DeductUnbilledLiters(ctx, "drifted", 150); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, _, ok, err := adapter.GetUnbilledLiters(ctx, "drifted")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected drifted aggregate to be dropped")
	}
}

func TestDeductUnbilledLiters_KeyNotExists(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)

	keys := unbilledKeys("nonexistent")
	client.Del(ctx, keys...)

	if err := adapter.DeductUnbilledLiters(ctx, "nonexistent", 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n, _ := client.Exists(ctx, keys[0]).Result(); n != 0 {
		t.Error("deduct must not create the aggregate key")
	}
	if v, _ := client.Get(ctx, keys[1]).Int64(); v != 1 {
		t.Errorf("expected version bumped to 1, got %d", v)
	}
}

func TestDeductUnbilledLiters_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)
	warmUnbilled(t, client, adapter, "concurrent-test", 1000)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := adapter.DeductUnbilledLiters(ctx, "concurrent-test", 20); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	liters, version, ok, _ := adapter.GetUnbilledLiters(ctx, "concurrent-test")
	if !ok || liters != 0 {
		t.Errorf("expected 0 liters cached, got %v (ok=%v)", liters, ok)
	}
	if version != 50 {
		t.Errorf("expected version 50, got %d", version)
	}
}

func TestInvalidateUnbilledLiters(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)
	warmUnbilled(t, client, adapter, "test-provider", 42)

	if err := adapter.InvalidateUnbilledLiters(ctx, "test-provider"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, _, ok, _ := adapter.GetUnbilledLiters(ctx, "test-provider"); ok {
		t.Error("expected cache miss after invalidation")
	}
}

func TestSetUnbilledLiters_RejectsSumReadBeforeWrite(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)
	client.Del(ctx, unbilledKeys("raced")...)

	// A reader misses and sums 350 L; a billing of 200 L commits before it writes back.
	_, version, ok, err := adapter.GetUnbilledLiters(ctx, "raced")
	if err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := adapter.DeductUnbilledLiters(ctx, "raced", 200); err != nil {
		t.Fatalf("deduct: %v", err)
	}

	stored, err := adapter.SetUnbilledLiters(ctx, "raced", 350, version)
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if stored {
		t.Error("expected sum taken before the billing to be discarded")
	}
	if _, _, ok, _ := adapter.GetUnbilledLiters(ctx, "raced"); ok {
		t.Error("expected aggregate to stay uncached")
	}

	// A fresh read at the new version is stored.
	_, version, _, _ = adapter.GetUnbilledLiters(ctx, "raced")
	if stored, _ := adapter.SetUnbilledLiters(ctx, "raced", 150, version); !stored {
		t.Error("expected sum at the current version to be stored")
	}
	if ttl, _ := client.TTL(ctx, unbilledKeys("raced")[0]).Result(); ttl <= 0 || ttl > unbilledLitersTTL {
		t.Errorf("expected ttl within %v, got %v", unbilledLitersTTL, ttl)
	}
}

func TestSetIdempotency_Success(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)

	client.Del(ctx, "test-idem-key")

	ok, err := adapter.SetIdempotency(ctx, "test-idem-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected first call to succeed")
	}

	ok, err = adapter.SetIdempotency(ctx, "test-idem-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected second call to fail")
	}

	// Released keys can be claimed again.
	if err := adapter.ReleaseIdempotency(ctx, "test-idem-key"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := adapter.SetIdempotency(ctx, "test-idem-key"); !ok {
		t.Error("expected claim after release to succeed")
	}
}

func TestSetIdempotency_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)

	client.Del(ctx, "concurrent-idem-key")

	var successCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := adapter.SetIdempotency(ctx, "concurrent-idem-key")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	if successCount.Load() != 1 {
		t.Errorf("expected exactly 1 success, got %d", successCount.Load())
	}
}

func TestNopCache(t *testing.T) {
	ctx := context.Background()
	var cache NopCache

	if ok, err := cache.SetIdempotency(ctx, "k"); !ok || err != nil {
		t.Errorf("expected every key accepted, got ok=%v err=%v", ok, err)
	}
	if _, _, ok, err := cache.GetUnbilledLiters(ctx, "p"); ok || err != nil {
		t.Errorf("expected miss, got ok=%v err=%v", ok, err)
	}
	if stored, err := cache.SetUnbilledLiters(ctx, "p", 10, 0); stored || err != nil {
		t.Errorf("expected nothing stored, got stored=%v err=%v", stored, err)
	}
}
