package memory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/crm/internal/domain"
	"github.com/vladislavdragonenkov/crm/internal/storage/memory"
)

func seedProduct(t *testing.T, ledger *memory.InventoryLedger, stock int64) domain.Product {
	t.Helper()
	product, err := ledger.CreateProduct(context.Background(), domain.Product{
		Name:  "Widget",
		Price: decimal.RequireFromString("3.00"),
		Stock: stock,
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	return product
}

func TestInventoryLedger_ReserveAndRelease(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewInventoryLedger()
	product := seedProduct(t, ledger, 5)

	reservation, err := ledger.Reserve(ctx, product.ID, 3)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if reservation.RemainingStock != 2 || reservation.Name != "Widget" || !reservation.UnitPrice.Equal(product.Price) {
		t.Fatalf("unexpected reservation: %+v", reservation)
	}

	_, err = ledger.Reserve(ctx, product.ID, 3)
	var shortage *domain.InsufficientStockError
	if !errors.As(err, &shortage) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if shortage.Available != 2 || shortage.Requested != 3 {
		t.Fatalf("unexpected shortage details: %+v", shortage)
	}

	stock, err := ledger.Release(ctx, product.ID, 3)
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if stock != 5 {
		t.Fatalf("expected stock 5 after release, got %d", stock)
	}

	if _, err := ledger.Reserve(ctx, "missing", 1); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
	if _, err := ledger.Reserve(ctx, product.ID, 0); !errors.Is(err, domain.ErrPiecesInvalid) {
		t.Fatalf("expected ErrPiecesInvalid, got %v", err)
	}
}

func TestInventoryLedger_ConcurrentReserveNeverOversells(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewInventoryLedger()
	product := seedProduct(t, ledger, 100)

	var (
		wg      sync.WaitGroup
		success atomic.Int64
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 4; j++ {
				if _, err := ledger.Reserve(ctx, product.ID, 1); err == nil {
					success.Add(1)
				} else if !errors.Is(err, domain.ErrInsufficientStock) {
					t.Errorf("unexpected error: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	snapshot, err := ledger.Product(ctx, product.ID)
	if err != nil {
		t.Fatalf("product failed: %v", err)
	}
	if success.Load() != 100 {
		t.Fatalf("expected exactly 100 successful reservations, got %d", success.Load())
	}
	if snapshot.Stock != 0 {
		t.Fatalf("expected stock 0, got %d", snapshot.Stock)
	}
}

func TestInventoryLedger_CreateProductValidation(t *testing.T) {
	ledger := memory.NewInventoryLedger()
	ctx := context.Background()

	if _, err := ledger.CreateProduct(ctx, domain.Product{Name: "", Price: decimal.NewFromInt(1)}); !errors.Is(err, domain.ErrProductNameRequired) {
		t.Fatalf("expected ErrProductNameRequired, got %v", err)
	}
	if _, err := ledger.CreateProduct(ctx, domain.Product{Name: "X", Price: decimal.NewFromInt(1), Stock: -1}); !errors.Is(err, domain.ErrStockNegative) {
		t.Fatalf("expected ErrStockNegative, got %v", err)
	}

	product := seedProduct(t, ledger, 1)
	if _, err := ledger.CreateProduct(ctx, product); !errors.Is(err, domain.ErrDuplicateProduct) {
		t.Fatalf("expected ErrDuplicateProduct, got %v", err)
	}
}

func TestInventoryLedger_UpdateProductRestockAndReprice(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewInventoryLedger()
	product := seedProduct(t, ledger, 2)

	price := decimal.RequireFromString("3.50")
	updated, err := ledger.UpdateProduct(ctx, domain.ProductUpdate{
		ProductID:  product.ID,
		Name:       "  Widget Pro ",
		Price:      &price,
		StockDelta: 8,
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Stock != 10 || updated.Name != "Widget Pro" || !updated.Price.Equal(price) {
		t.Fatalf("unexpected product after update: %+v", updated)
	}

	// Следующий резерв фиксирует уже новую цену
	reservation, err := ledger.Reserve(ctx, product.ID, 1)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if !reservation.UnitPrice.Equal(price) || reservation.Name != "Widget Pro" {
		t.Fatalf("reservation must capture the new price: %+v", reservation)
	}

	_, err = ledger.UpdateProduct(ctx, domain.ProductUpdate{ProductID: product.ID, StockDelta: -10})
	var stockErr *domain.InsufficientStockError
	if !errors.As(err, &stockErr) || stockErr.Available != 9 {
		t.Fatalf("expected insufficient stock with 9 available, got %v", err)
	}
	if got, _ := ledger.Product(ctx, product.ID); got.Stock != 9 {
		t.Fatalf("failed write-off must not change stock, got %d", got.Stock)
	}

	if _, err := ledger.UpdateProduct(ctx, domain.ProductUpdate{ProductID: "missing", StockDelta: 1}); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestInventoryLedger_WriteOffRacesReservations(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewInventoryLedger()
	product := seedProduct(t, ledger, 100)

	var (
		wg       sync.WaitGroup
		reserved atomic.Int64
		written  atomic.Int64
	)
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := ledger.Reserve(ctx, product.ID, 2); err == nil {
				reserved.Add(2)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := ledger.UpdateProduct(ctx, domain.ProductUpdate{ProductID: product.ID, StockDelta: -3}); err == nil {
				written.Add(3)
			}
		}()
	}
	wg.Wait()

	got, err := ledger.Product(ctx, product.ID)
	if err != nil {
		t.Fatalf("product: %v", err)
	}
	if got.Stock < 0 || got.Stock+reserved.Load()+written.Load() != 100 {
		t.Fatalf("stock not conserved: stock=%d reserved=%d written=%d", got.Stock, reserved.Load(), written.Load())
	}
}

func TestInventoryLedger_ListProductsByName(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewInventoryLedger()
	for _, name := range []string{"USB Cable", "Laptop", "usb hub"} {
		if _, err := ledger.CreateProduct(ctx, domain.Product{Name: name, Price: decimal.NewFromInt(1), Stock: 1}); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}

	all, err := ledger.ListProducts(ctx, domain.ProductFilter{})
	if err != nil || len(all) != 3 || all[0].Name != "Laptop" {
		t.Fatalf("unexpected full list: %+v err=%v", all, err)
	}

	usb, err := ledger.ListProducts(ctx, domain.ProductFilter{Name: "usb", Limit: 1})
	if err != nil || len(usb) != 1 || usb[0].Name != "USB Cable" {
		t.Fatalf("unexpected search result: %+v err=%v", usb, err)
	}
}
