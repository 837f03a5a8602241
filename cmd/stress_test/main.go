package main

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/oil-billing/internal/adapter/storage"
	"github.com/rl1809/oil-billing/internal/config"
	"github.com/rl1809/oil-billing/internal/core/domain"
	"github.com/rl1809/oil-billing/internal/core/service"
	"github.com/rl1809/oil-billing/internal/port"
)

const (
	totalRequests = 50
	barrelLiters  = 200
)

func main() {
	ctx := context.Background()
	log := zap.NewNop()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		panic(err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	if err := db.PingContext(ctx); err != nil {
		panic(fmt.Sprintf("failed to connect mysql: %v", err))
	}
	if err := storage.Migrate(db, log); err != nil {
		panic(err)
	}

	var cache port.CacheRepository = storage.NopCache{}
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		cache = storage.NewRedisAdapter(rdb, cfg.Redis.IdempotencyTTL)
	}

	store := storage.NewMySQLAdapter(db)
	inventory := service.NewInventoryService(store, cache, log)
	invoices := service.NewInvoiceService(store, log)
	billing := service.NewBillingService(store, cache, log)

	// Fresh provider, barrel and invoice for every run
	suffix := uuid.NewString()[:8]
	provider, err := inventory.RegisterProvider(ctx, "Stress "+suffix, "Load Street 1", "TAX-"+suffix)
	if err != nil {
		panic(err)
	}
	defer inventory.DeleteProvider(ctx, provider.ID)

	barrel, err := inventory.ReceiveBarrel(ctx, service.ReceiveBarrelRequest{
		ProviderID: provider.ID, Number: "S-001", OilType: domain.OilTypeExtraVirgin, Liters: barrelLiters,
	})
	if err != nil {
		panic(err)
	}
	invoice, err := invoices.IssueInvoice(ctx, provider.ID, "STRESS-"+suffix, time.Now())
	if err != nil {
		panic(err)
	}

	// Counters
	var (
		successCount atomic.Int32
		billedCount  atomic.Int32
		otherCount   atomic.Int32
	)

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			_, err := billing.BillBarrel(ctx, service.BillRequest{
				RequestID:   uuid.NewString(),
				InvoiceID:   invoice.ID,
				BarrelID:    barrel.ID,
				Liters:      barrelLiters,
				UnitPrice:   decimal.RequireFromString("4.25"),
				Description: fmt.Sprintf("stress attempt %d", n),
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case domain.CodeOf(err) == domain.CodeAlreadyBilled:
				billedCount.Add(1)
			default:
				otherCount.Add(1)
				fmt.Printf("unexpected error: %v\n", err)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	billed := billedCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Billed:           %d\n", success)
	fmt.Printf("Already Billed:   %d\n", billed)
	fmt.Printf("Other Errors:     %d\n", otherCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success == 1 && billed == totalRequests-1 {
		fmt.Printf("PASS: exactly 1 request billed the barrel, %d were rejected\n", billed)
	} else {
		fmt.Printf("FAIL: expected 1/%d, got %d/%d\n", totalRequests-1, success, billed)
	}

	lines, err := invoices.Lines(ctx, invoice.ID)
	if err != nil {
		panic(err)
	}
	total := domain.TotalAmount(lines)
	fmt.Printf("Invoice Lines:    %d (total %s)\n", len(lines), total.StringFixed(2))

	if len(lines) == 1 {
		fmt.Println("PASS: invoice holds a single line")
	} else {
		fmt.Printf("FAIL: expected 1 line, got %d\n", len(lines))
	}
}
