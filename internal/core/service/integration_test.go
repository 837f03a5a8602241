package service_test

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/oil-billing/internal/adapter/storage"
	"github.com/rl1809/oil-billing/internal/core/domain"
	"github.com/rl1809/oil-billing/internal/core/service"
)

type integrationEnv struct {
	redis     *redis.Client
	mysql     *sql.DB
	inventory *service.InventoryService
	invoices  *service.InvoiceService
	billing   *service.BillingService
	cleanup   func()
}

func setupIntegrationEnv(t *testing.T) *integrationEnv {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "root:root@tcp(localhost:3306)/oil_billing?parseTime=true"
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	logger := zap.NewNop()
	if err := storage.Migrate(db, logger); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := storage.NewMySQLAdapter(db)
	cache := storage.NewRedisAdapter(rdb, time.Minute)

	return &integrationEnv{
		redis:     rdb,
		mysql:     db,
		inventory: service.NewInventoryService(store, cache, logger),
		invoices:  service.NewInvoiceService(store, logger),
		billing:   service.NewBillingService(store, cache, logger),
		cleanup: func() {
			rdb.Close()
			db.Close()
		},
	}
}

// newProvider registers a provider with one 200 L barrel and an empty invoice.
func (e *integrationEnv) newProvider(t *testing.T) (*domain.Provider, *domain.Barrel, *domain.Invoice) {
	ctx := context.Background()
	suffix := uuid.NewString()[:8]

	p, err := e.inventory.RegisterProvider(ctx, "Integration "+suffix, "Test Road", "TAX-"+suffix)
	if err != nil {
		t.Fatalf("register provider: %v", err)
	}
	t.Cleanup(func() { e.inventory.DeleteProvider(context.Background(), p.ID) })

	b, err := e.inventory.ReceiveBarrel(ctx, service.ReceiveBarrelRequest{
		ProviderID: p.ID, Number: "B-001", OilType: domain.OilTypeVirgin, Liters: 200,
	})
	if err != nil {
		t.Fatalf("receive barrel: %v", err)
	}

	inv, err := e.invoices.IssueInvoice(ctx, p.ID, "IT-"+suffix, time.Now())
	if err != nil {
		t.Fatalf("issue invoice: %v", err)
	}
	return p, b, inv
}

func TestIntegration_ConcurrentBillingSingleWinner(t *testing.T) {
	env := setupIntegrationEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	p, b, inv := env.newProvider(t)

	var (
		successCount atomic.Int32
		billedCount  atomic.Int32
		wg           sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.billing.BillBarrel(ctx, service.BillRequest{
				RequestID:   uuid.NewString(),
				InvoiceID:   inv.ID,
				BarrelID:    b.ID,
				Liters:      200,
				UnitPrice:   decimal.RequireFromString("3.50"),
				Description: "Olive oil barrel B-001",
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case domain.CodeOf(err) == domain.CodeAlreadyBilled:
				billedCount.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successCount.Load() != 1 {
		t.Errorf("expected exactly 1 success, got %d", successCount.Load())
	}
	if billedCount.Load() != 19 {
		t.Errorf("expected 19 already-billed rejections, got %d", billedCount.Load())
	}

	var lineCount int
	env.mysql.QueryRowContext(ctx, `SELECT COUNT(*) FROM invoice_lines WHERE barrel_id = ?`, b.ID).Scan(&lineCount)
	if lineCount != 1 {
		t.Errorf("expected 1 invoice line, got %d", lineCount)
	}

	total, err := env.invoices.TotalAmount(ctx, inv.ID)
	if err != nil {
		t.Fatalf("total amount: %v", err)
	}
	if total.StringFixed(2) != "700.00" {
		t.Errorf("expected total 700.00, got %s", total.StringFixed(2))
	}

	liters, err := env.inventory.TotalUnbilledLiters(ctx, p.ID)
	if err != nil {
		t.Fatalf("unbilled liters: %v", err)
	}
	if liters != 0 {
		t.Errorf("expected 0 unbilled liters, got %v", liters)
	}
}

func TestIntegration_RejectionLeavesStateUnchanged(t *testing.T) {
	env := setupIntegrationEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	p, b, inv := env.newProvider(t)

	_, err := env.billing.BillBarrel(ctx, service.BillRequest{
		InvoiceID:   inv.ID,
		BarrelID:    b.ID,
		Liters:      100,
		UnitPrice:   decimal.RequireFromString("3.50"),
		Description: "partial",
	})
	if domain.CodeOf(err) != domain.CodePartialBillingNotAllowed {
		t.Fatalf("expected partial billing rejection, got %v", err)
	}

	barrel, err := env.inventory.GetBarrel(ctx, b.ID)
	if err != nil {
		t.Fatalf("get barrel: %v", err)
	}
	if barrel.Billed {
		t.Error("barrel must stay unbilled after a rejection")
	}

	liters, _ := env.inventory.TotalUnbilledLiters(ctx, p.ID)
	if liters != 200 {
		t.Errorf("expected 200 unbilled liters, got %v", liters)
	}
}

func TestIntegration_IdempotencyPreventsDoubleBilling(t *testing.T) {
	env := setupIntegrationEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	_, b, inv := env.newProvider(t)
	req := service.BillRequest{
		RequestID:   "same-request-" + uuid.NewString(),
		InvoiceID:   inv.ID,
		BarrelID:    b.ID,
		Liters:      200,
		UnitPrice:   decimal.RequireFromString("3.50"),
		Description: "Olive oil barrel B-001",
	}

	if _, err := env.billing.BillBarrel(ctx, req); err != nil {
		t.Fatalf("first bill failed: %v", err)
	}
	if _, err := env.billing.BillBarrel(ctx, req); err != service.ErrDuplicateRequest {
		t.Errorf("expected ErrDuplicateRequest, got: %v", err)
	}
}
