package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/oil-billing/internal/adapter/storage"
	"github.com/rl1809/oil-billing/internal/config"
	"github.com/rl1809/oil-billing/internal/core/service"
	"github.com/rl1809/oil-billing/internal/logger"
	"github.com/rl1809/oil-billing/internal/port"
)

// seed wipes the configured database and loads the demo providers, barrels
// and invoice.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		log.Fatal("failed to open mysql", zap.Error(err))
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal("failed to ping mysql", zap.Error(err))
	}
	if err := storage.Migrate(db, log); err != nil {
		log.Fatal("failed to migrate", zap.Error(err))
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

	data, err := service.NewSeeder(inventory, invoices, billing, log).SeedDemo(ctx, time.Now())
	if err != nil {
		log.Fatal("seed failed", zap.Error(err))
	}

	fmt.Printf("Seeded demo data. Provider id: %s\n", data.Provider.ID)
	for _, b := range data.Barrels {
		fmt.Printf("  barrel %s (%s, %d L) billed=%v\n", b.Number, b.OilType, b.Liters, b.Billed)
	}
	fmt.Printf("  invoice %s total %s\n", data.Invoice.InvoiceNo, data.Line.Amount().StringFixed(2))
}
