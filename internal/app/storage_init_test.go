package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crm/internal/domain"
	"github.com/vladislavdragonenkov/crm/internal/storage/memory"
	redisstore "github.com/vladislavdragonenkov/crm/internal/storage/redis"
)

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
	}, log.WithField("test", "memory-storage"))
	if err != nil {
		t.Fatalf("initRuntimeDependencies(memory) failed: %v", err)
	}
	if deps.ledger == nil || deps.catalog == nil || deps.customers == nil {
		t.Fatal("ledger, catalog and customers must be set for memory storage")
	}
	if deps.repo == nil || deps.outboxRepo == nil || deps.timelineRepo == nil || deps.idempotencyRepo == nil {
		t.Fatalf("memory repositories must be initialized: %+v", deps)
	}
	if _, ok := deps.ledger.(*memory.InventoryLedger); !ok {
		t.Fatalf("expected memory ledger, got %T", deps.ledger)
	}
	if len(deps.checkers) != 0 {
		t.Fatalf("memory storage needs no health checkers, got %d checkers", len(deps.checkers))
	}
	if err := deps.close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestInitRuntimeDependencies_RedisInventory(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver:   StorageDriverMemory,
		InventoryDriver: InventoryDriverRedis,
		RedisAddr:       mr.Addr(),
	}, log.WithField("test", "redis-inventory"))
	if err != nil {
		t.Fatalf("initRuntimeDependencies(redis) failed: %v", err)
	}
	defer func() { _ = deps.close() }()

	if _, ok := deps.ledger.(*redisstore.InventoryLedger); !ok {
		t.Fatalf("expected redis ledger, got %T", deps.ledger)
	}
	if _, ok := deps.checkers["redis"]; !ok {
		t.Fatal("expected redis readiness checker")
	}

	product, err := deps.catalog.CreateProduct(context.Background(), domain.Product{
		Name:  "Widget",
		Price: decimal.RequireFromString("2.50"),
		Stock: 3,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if _, err := deps.ledger.Reserve(context.Background(), product.ID, 2); err != nil {
		t.Fatalf("reserve through redis ledger: %v", err)
	}
}

func TestInitRuntimeDependencies_PostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverPostgres,
	}, log.WithField("test", "postgres-missing-dsn"))
	if err == nil {
		t.Fatal("expected error when postgres driver is selected without DSN")
	}
}

func TestInitRuntimeDependencies_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	cases := []Config{
		{StorageDriver: "sqlite"},
		{StorageDriver: StorageDriverMemory, InventoryDriver: "etcd"},
	}
	for _, cfg := range cases {
		if _, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "unsupported-driver")); err == nil {
			t.Fatalf("expected error for %+v", cfg)
		}
	}
}
