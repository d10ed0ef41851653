package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/checkout/internal/adapter/storage"
	"github.com/rl1809/checkout/internal/config"
	"github.com/rl1809/checkout/internal/core/domain"
	"github.com/rl1809/checkout/internal/core/service"
)

const (
	productID     = 900001
	priceCents    = 1999
	initialStock  = 20
	quantity      = 1
	totalRequests = 50
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Initialize MySQL
	db, err := storage.OpenMySQL(ctx, cfg.MySQL.DSN, storage.PoolConfig{
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
	})
	if err != nil {
		log.Fatalf("failed to connect mysql: %v", err)
	}
	defer db.Close()

	if err := storage.RunMigrations(db); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	// Reset the load-test product
	adapter := storage.NewMySQLAdapter(db)
	err = adapter.SaveProduct(ctx, domain.Product{
		ID:         productID,
		PriceCents: priceCents,
		Stock:      initialStock,
		IsActive:   true,
	})
	if err != nil {
		log.Fatalf("failed to seed product: %v", err)
	}

	checkoutService := service.NewCheckoutService(service.Dependencies{
		Catalog: adapter,
		UoW:     adapter,
		Orders:  adapter,
		Logger:  zap.NewNop(),
		Timeout: cfg.Checkout.Timeout,
	})

	// Counters
	var successCount, conflictCount, failCount atomic.Int32

	// Spawn concurrent requests
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()

			_, err := checkoutService.Checkout(ctx, service.CheckoutCommand{
				UserID: userID,
				Items:  []domain.CartLineRequest{{ProductID: productID, Quantity: quantity}},
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrStockConflict):
				conflictCount.Add(1)
			default:
				failCount.Add(1)
				log.Printf("user %d: %v", userID, err)
			}
		}(int64(i + 1))
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	conflicts := conflictCount.Load()
	fail := failCount.Load()
	wantSuccess := int32(initialStock / quantity)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Stock Conflicts:  %d\n", conflicts)
	fmt.Printf("Failed:           %d\n", fail)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if success == wantSuccess && conflicts == totalRequests-wantSuccess {
		fmt.Printf("PASS: Exactly %d orders succeeded, %d conflicted\n", success, conflicts)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d conflict, got %d/%d (%d failed)\n",
			wantSuccess, totalRequests-wantSuccess, success, conflicts, fail)
	}

	// Verify final stock in MySQL
	p, err := adapter.GetProduct(ctx, productID)
	if err != nil || p == nil {
		log.Fatalf("failed to read final stock: %v", err)
	}
	fmt.Printf("Final MySQL Stock: %d\n", p.Stock)

	if want := initialStock - int(success)*quantity; p.Stock == want && p.Stock >= 0 {
		fmt.Printf("PASS: Stock is %d\n", p.Stock)
	} else {
		fmt.Printf("FAIL: Expected stock %d, got %d\n", want, p.Stock)
	}
}
