package app

import (
	"time"

	"github.com/shopspring/decimal"
)

// Драйверы хранилища заказов, клиентов и служебных таблиц.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Драйверы склада: тот же backend, что и заказы, или Redis.
const (
	InventoryDriverStorage = "storage"
	InventoryDriverRedis   = "redis"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	InventoryDriver     string
	PostgresDSN         string
	PostgresAutoMigrate bool
	RedisAddr           string

	KafkaBrokers []string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyCleanupInterval   time.Duration
	IdempotencyCleanupBatchSize  int
	IdempotencyCleanupMaxBatches int

	// TotalTolerance: допустимое расхождение суммы клиента с расчётной.
	TotalTolerance      decimal.Decimal
	CompensationTimeout time.Duration

	OTLPEndpoint    string
	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает конфигурацию для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:                     ":50051",
		MetricsAddr:                  ":9090",
		StorageDriver:                StorageDriverMemory,
		InventoryDriver:              InventoryDriverStorage,
		PostgresAutoMigrate:          true,
		RedisAddr:                    "localhost:6379",
		OutboxPollInterval:           time.Second,
		OutboxBatchSize:              100,
		OutboxMaxAttempts:            3,
		OutboxRetryDelay:             50 * time.Millisecond,
		IdempotencyCleanupInterval:   10 * time.Minute,
		IdempotencyCleanupBatchSize:  500,
		IdempotencyCleanupMaxBatches: 20,
		TotalTolerance:               decimal.Zero,
		CompensationTimeout:          10 * time.Second,
		ShutdownTimeout:              5 * time.Second,
	}
}
