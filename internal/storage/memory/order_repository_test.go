package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/crm/internal/domain"
	"github.com/vladislavdragonenkov/crm/internal/storage/memory"
)

func newOrder(sellerID, customerID string) domain.Order {
	items := []domain.LineItem{
		{ProductID: "product-1", Name: "Widget", UnitPrice: decimal.RequireFromString("2.50"), Pieces: 4},
	}
	return domain.Order{
		CustomerID: customerID,
		SellerID:   sellerID,
		Status:     domain.OrderStatusProcessing,
		Items:      items,
		Total:      domain.ComputeTotal(items),
	}
}

func TestOrderRepository_CreateGet(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	created, err := repo.Create(ctx, newOrder("seller-1", "customer-1"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.ID == "" || created.Version != 1 || created.CreatedAt.IsZero() {
		t.Fatalf("expected assigned id/version/timestamps, got %+v", created)
	}

	stored, err := repo.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !stored.Total.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected total 10, got %s", stored.Total)
	}

	// Изменение возвращённой копии не должно задевать хранилище.
	stored.Items[0].Pieces = 100
	again, _ := repo.Get(ctx, created.ID)
	if again.Items[0].Pieces != 4 {
		t.Fatalf("repository state leaked through returned copy")
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_ReplaceChecksVersion(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	created, err := repo.Create(ctx, newOrder("seller-1", "customer-1"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	update := created.Clone()
	update.Status = domain.OrderStatusComplete
	replaced, err := repo.Replace(ctx, update)
	if err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	if replaced.Version != 2 || replaced.Status != domain.OrderStatusComplete {
		t.Fatalf("unexpected replaced order: %+v", replaced)
	}

	// Повтор со старой версией проигрывает.
	if _, err := repo.Replace(ctx, update); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := repo.Delete(ctx, created.ID, created.Version); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict on stale delete, got %v", err)
	}
	if err := repo.Delete(ctx, created.ID, replaced.Version); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := repo.Delete(ctx, created.ID, replaced.Version); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_ListFilters(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	for _, o := range []domain.Order{
		newOrder("seller-1", "customer-1"),
		newOrder("seller-1", "customer-2"),
		newOrder("seller-2", "customer-3"),
	} {
		if _, err := repo.Create(ctx, o); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	bySeller, err := repo.List(ctx, domain.OrderFilter{SellerID: "seller-1"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(bySeller) != 2 {
		t.Fatalf("expected 2 orders for seller-1, got %d", len(bySeller))
	}

	byCustomer, _ := repo.List(ctx, domain.OrderFilter{SellerID: "seller-1", CustomerID: "customer-2"})
	if len(byCustomer) != 1 || byCustomer[0].CustomerID != "customer-2" {
		t.Fatalf("unexpected customer filter result: %+v", byCustomer)
	}

	limited, _ := repo.List(ctx, domain.OrderFilter{Limit: 1})
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}

	canceled, _ := repo.List(ctx, domain.OrderFilter{Status: domain.OrderStatusCanceled})
	if len(canceled) != 0 {
		t.Fatalf("expected no canceled orders, got %d", len(canceled))
	}
}
