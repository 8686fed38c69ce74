package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crm/internal/app"
)

const (
	envGRPCAddr                    = "CRM_GRPC_ADDR"
	envMetricsAddr                 = "CRM_METRICS_ADDR"
	envStorageDriver               = "CRM_STORAGE_DRIVER"
	envInventoryDriver             = "CRM_INVENTORY_DRIVER"
	envPostgresDSN                 = "CRM_POSTGRES_DSN"
	envPostgresAutoMigrate         = "CRM_POSTGRES_AUTO_MIGRATE"
	envRedisAddr                   = "CRM_REDIS_ADDR"
	envKafkaBrokers                = "CRM_KAFKA_BROKERS"
	envOutboxPollInterval          = "CRM_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "CRM_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "CRM_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "CRM_OUTBOX_RETRY_DELAY"
	envIdempotencyCleanupInterval  = "CRM_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "CRM_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envIdempotencyCleanupBatches   = "CRM_IDEMPOTENCY_CLEANUP_MAX_BATCHES"
	envTotalTolerance              = "CRM_TOTAL_TOLERANCE"
	envCompensationTimeout         = "CRM_COMPENSATION_TIMEOUT"
	envOTLPEndpoint                = "CRM_OTLP_ENDPOINT"
	envLogLevel                    = "CRM_LOG_LEVEL"
)

type envLookup func(key string) (string, bool)

// readConfig формирует конфигурацию из окружения процесса.
func readConfig() (app.Config, []string) {
	return readConfigFromEnv(os.LookupEnv)
}

// readConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректное значение не роняет запуск: остаётся значение по умолчанию и пишется предупреждение.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	warn := func(key, value string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s=%q ignored: %v", key, value, err))
	}
	str := func(key string, target *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*target = strings.TrimSpace(v)
		}
	}

	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)
	str(envPostgresDSN, &cfg.PostgresDSN)
	str(envRedisAddr, &cfg.RedisAddr)
	str(envOTLPEndpoint, &cfg.OTLPEndpoint)

	if v, ok := lookup(envStorageDriver); ok && strings.TrimSpace(v) != "" {
		cfg.StorageDriver = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup(envInventoryDriver); ok && strings.TrimSpace(v) != "" {
		cfg.InventoryDriver = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup(envKafkaBrokers); ok {
		cfg.KafkaBrokers = splitList(v)
	}

	if v, ok := lookup(envPostgresAutoMigrate); ok {
		if parsed, err := parseBool(v); err != nil {
			warn(envPostgresAutoMigrate, v, err)
		} else {
			cfg.PostgresAutoMigrate = parsed
		}
	}

	positive := func(v int) bool { return v > 0 }
	intVar := func(key string, target *int) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		if parsed, err := parseInt(v, positive, "must be > 0"); err != nil {
			warn(key, v, err)
		} else {
			*target = parsed
		}
	}
	intVar(envOutboxBatchSize, &cfg.OutboxBatchSize)
	intVar(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts)
	intVar(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize)
	intVar(envIdempotencyCleanupBatches, &cfg.IdempotencyCleanupMaxBatches)

	durationVar := func(key string, target *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		if parsed, err := parseDuration(v, valid, rule); err != nil {
			warn(key, v, err)
		} else {
			*target = parsed
		}
	}
	positiveDuration := func(v time.Duration) bool { return v > 0 }
	nonNegativeDuration := func(v time.Duration) bool { return v >= 0 }
	durationVar(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	durationVar(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")
	durationVar(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	durationVar(envCompensationTimeout, &cfg.CompensationTimeout, positiveDuration, "must be > 0")

	if v, ok := lookup(envTotalTolerance); ok {
		if parsed, err := parseDecimal(v); err != nil {
			warn(envTotalTolerance, v, err)
		} else {
			cfg.TotalTolerance = parsed
		}
	}

	return cfg, warnings
}

// readLogLevel возвращает уровень логирования из CRM_LOG_LEVEL (по умолчанию info).
func readLogLevel(lookup envLookup) (log.Level, error) {
	v, ok := lookup(envLogLevel)
	if !ok || strings.TrimSpace(v) == "" {
		return log.InfoLevel, nil
	}
	return log.ParseLevel(strings.TrimSpace(v))
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", value)
	}
}

func parseInt(value string, valid func(int) bool, rule string) (int, error) {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", value)
	}
	if !valid(parsed) {
		return 0, fmt.Errorf("value %d %s", parsed, rule)
	}
	return parsed, nil
}

func parseDuration(value string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	if !valid(parsed) {
		return 0, fmt.Errorf("duration %s %s", parsed, rule)
	}
	return parsed, nil
}

func parseDecimal(value string) (decimal.Decimal, error) {
	parsed, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q", value)
	}
	if parsed.IsNegative() {
		return decimal.Zero, fmt.Errorf("decimal %s must be >= 0", parsed)
	}
	return parsed, nil
}

func splitList(value string) []string {
	var result []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}
