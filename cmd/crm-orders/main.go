package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crm/internal/app"
	"github.com/vladislavdragonenkov/crm/internal/version"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(level log.Level) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(level)
}

func main() {
	envFile := flag.String("env-file", ".env", "path to .env file (optional)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("failed to load env file")
	}

	level, err := readLogLevel(os.LookupEnv)
	if err != nil {
		log.WithError(err).Warn("invalid CRM_LOG_LEVEL, using info")
		level = log.InfoLevel
	}
	setupLogger(level)

	cfg, warnings := readConfig()
	for _, warning := range warnings {
		log.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"grpc_addr":        cfg.GRPCAddr,
		"metrics_addr":     cfg.MetricsAddr,
		"storage_driver":   cfg.StorageDriver,
		"inventory_driver": cfg.InventoryDriver,
		"kafka_enabled":    len(cfg.KafkaBrokers) > 0,
		"version":          version.GetVersion(),
	}).Info("запускаем crm-orders")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("crm-orders остановлен")
}
