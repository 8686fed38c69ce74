package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/crm/internal/domain"
	"github.com/vladislavdragonenkov/crm/internal/storage/memory"
)

func TestCustomerDirectory_ResolveOwner(t *testing.T) {
	ctx := context.Background()
	dir := memory.NewCustomerDirectory()

	customer, err := dir.CreateCustomer(ctx, domain.Customer{Name: "Ann", Email: " Ann@Example.com ", SellerID: "seller-1"})
	if err != nil {
		t.Fatalf("create customer failed: %v", err)
	}
	if customer.Email != "ann@example.com" {
		t.Fatalf("expected normalized email, got %q", customer.Email)
	}

	owner, err := dir.ResolveOwner(ctx, customer.ID)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if owner != "seller-1" {
		t.Fatalf("expected seller-1, got %s", owner)
	}

	if _, err := dir.ResolveOwner(ctx, "missing"); !errors.Is(err, domain.ErrCustomerNotFound) {
		t.Fatalf("expected ErrCustomerNotFound, got %v", err)
	}
	if _, err := dir.CreateCustomer(ctx, domain.Customer{Name: "Bob", Email: "ann@example.com", SellerID: "seller-2"}); !errors.Is(err, domain.ErrDuplicateCustomer) {
		t.Fatalf("expected ErrDuplicateCustomer, got %v", err)
	}
	if _, err := dir.CreateCustomer(ctx, domain.Customer{Name: "Eve", Email: "eve@example.com"}); !errors.Is(err, domain.ErrSellerRequired) {
		t.Fatalf("expected ErrSellerRequired, got %v", err)
	}
}

func TestCustomerDirectory_ListCustomersIsSellerScoped(t *testing.T) {
	ctx := context.Background()
	dir := memory.NewCustomerDirectory()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, c := range []domain.Customer{
		{ID: "c-late", Name: "Lee", Email: "lee@example.com", SellerID: "seller-1"},
		{ID: "c-other", Name: "Oda", Email: "oda@example.com", SellerID: "seller-2"},
		{ID: "c-early", Name: "Ann", Email: "ann@example.com", SellerID: "seller-1"},
	} {
		c.CreatedAt = base.Add(time.Duration(3-i) * time.Minute)
		if _, err := dir.CreateCustomer(ctx, c); err != nil {
			t.Fatalf("create %s: %v", c.ID, err)
		}
	}

	customers, err := dir.ListCustomers(ctx, "seller-1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(customers) != 2 || customers[0].ID != "c-early" || customers[1].ID != "c-late" {
		t.Fatalf("unexpected seller-1 customers: %+v", customers)
	}

	limited, _ := dir.ListCustomers(ctx, "seller-1", 1)
	if len(limited) != 1 || limited[0].ID != "c-early" {
		t.Fatalf("limit not applied: %+v", limited)
	}
	if none, _ := dir.ListCustomers(ctx, "seller-3", 10); len(none) != 0 {
		t.Fatalf("unknown seller must see nobody, got %+v", none)
	}
	if _, err := dir.ListCustomers(ctx, "", 10); !errors.Is(err, domain.ErrSellerRequired) {
		t.Fatalf("expected ErrSellerRequired, got %v", err)
	}
}
