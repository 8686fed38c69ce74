package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crm/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/crm/internal/health"
	grpcsvc "github.com/vladislavdragonenkov/crm/internal/service/grpc"
	"github.com/vladislavdragonenkov/crm/internal/storage/memory"
	"github.com/vladislavdragonenkov/crm/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/crm/internal/storage/redis"
)

// runtimeDependencies: хранилища, выбранные конфигурацией.
type runtimeDependencies struct {
	ledger          domain.InventoryLedger
	catalog         grpcsvc.Catalog
	customers       grpcsvc.Customers
	repo            domain.OrderRepository
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository

	checkers map[string]healthcheck.Checker
	closeFn  func() error
}

func (d *runtimeDependencies) addChecker(name string, checker healthcheck.Checker) {
	if d.checkers == nil {
		d.checkers = make(map[string]healthcheck.Checker)
	}
	d.checkers[name] = checker
}

func (d *runtimeDependencies) addCloser(closeFn func() error) {
	prev := d.closeFn
	if prev == nil {
		d.closeFn = closeFn
		return
	}
	d.closeFn = func() error {
		return errors.Join(closeFn(), prev())
	}
}

func (d *runtimeDependencies) close() error {
	if d == nil || d.closeFn == nil {
		return nil
	}
	return d.closeFn()
}

// initRuntimeDependencies поднимает хранилища по StorageDriver и InventoryDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{}

	switch strings.ToLower(strings.TrimSpace(cfg.StorageDriver)) {
	case "", StorageDriverMemory:
		ledger := memory.NewInventoryLedger()
		deps.ledger = ledger
		deps.catalog = ledger
		deps.customers = memory.NewCustomerDirectory()
		deps.repo = memory.NewOrderRepository()
		deps.outboxRepo = memory.NewOutboxRepository()
		deps.timelineRepo = memory.NewTimelineRepository()
		deps.idempotencyRepo = memory.NewIdempotencyRepository()
		logger.Info("using in-memory storage")
	case StorageDriverPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return nil, errors.New("postgres storage driver requires CRM_POSTGRES_DSN")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		}
		ledger := postgres.NewInventoryLedger(store)
		deps.ledger = ledger
		deps.catalog = ledger
		deps.customers = postgres.NewCustomerDirectory(store)
		deps.repo = postgres.NewOrderRepository(store)
		deps.outboxRepo = postgres.NewOutboxRepository(store)
		deps.timelineRepo = postgres.NewTimelineRepository(store)
		deps.idempotencyRepo = postgres.NewIdempotencyRepository(store)
		deps.addChecker("postgres", healthcheck.NewCritical("postgres", store.Ping))
		deps.addCloser(store.Close)
		logger.WithField("auto_migrate", cfg.PostgresAutoMigrate).Info("using postgres storage")
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.InventoryDriver)) {
	case "", InventoryDriverStorage:
	case InventoryDriverRedis:
		rdb, err := redisstore.NewClient(ctx, cfg.RedisAddr)
		if err != nil {
			_ = deps.close()
			return nil, err
		}
		ledger := redisstore.NewInventoryLedger(rdb)
		deps.ledger = ledger
		deps.catalog = ledger
		deps.addChecker("redis", healthcheck.NewCritical("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
		deps.addCloser(rdb.Close)
		logger.WithField("addr", cfg.RedisAddr).Info("using redis inventory ledger")
	default:
		_ = deps.close()
		return nil, fmt.Errorf("unsupported inventory driver %q", cfg.InventoryDriver)
	}

	return deps, nil
}
