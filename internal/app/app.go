package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/crm/internal/health"
	"github.com/vladislavdragonenkov/crm/internal/metrics"
	"github.com/vladislavdragonenkov/crm/internal/service/fulfillment"
	grpcsvc "github.com/vladislavdragonenkov/crm/internal/service/grpc"
	"github.com/vladislavdragonenkov/crm/internal/service/idempotency"
	"github.com/vladislavdragonenkov/crm/internal/service/outbox"
	"github.com/vladislavdragonenkov/crm/internal/version"
)

// Run поднимает gRPC API, HTTP-порт метрик и фоновые воркеры и работает до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	shutdownTracing, err := initTracing(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.WithError(err).Warn("tracing is disabled")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.WithError(err).Warn("failed to flush traces")
		}
	}()

	publishers, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, order events stay in outbox")
	}
	defer closeKafkaProducer(publishers, logger)

	engine := fulfillment.NewEngine(deps.ledger, deps.customers, deps.repo, fulfillment.Options{
		Outbox:              deps.outboxRepo,
		Timeline:            deps.timelineRepo,
		Metrics:             metrics.NewFulfillmentMetrics(),
		Logger:              logger.WithField("layer", "fulfillment"),
		TotalTolerance:      cfg.TotalTolerance,
		CompensationTimeout: cfg.CompensationTimeout,
	})

	serviceLogger := logger.WithField("layer", "grpc")
	orderService := grpcsvc.NewOrderService(engine, deps.timelineRepo, deps.idempotencyRepo, serviceLogger)
	catalogService := grpcsvc.NewCatalogService(deps.catalog, deps.customers, deps.idempotencyRepo, serviceLogger)

	grpcServer, grpcHealth := newGRPCServer(orderService, catalogService, logger)

	outboxCancel, outboxDone := startOutboxWorker(ctx, cfg, deps, publishers, logger)
	defer stopWorker(outboxCancel, outboxDone, logger)

	cleanupCancel, cleanupDone := startCleanupWorker(ctx, cfg, deps, logger)
	defer stopWorker(cleanupCancel, cleanupDone, logger)

	healthHandler := healthcheck.NewHandler(version.Service, version.GetVersion())
	for name, checker := range deps.checkers {
		healthHandler.RegisterChecker(name, checker)
	}
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	defer shutdownHTTP(metricsSrv, logger)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("gRPC сервер слушает %s", lis.Addr())
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем gRPC сервер")
		grpcHealth.Shutdown()
		stoppedCh := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stoppedCh)
		}()
		select {
		case <-stoppedCh:
		case <-time.After(shutdownTimeout(cfg)):
			logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
			grpcServer.Stop()
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// newGRPCServer регистрирует сервисы, метрики go-grpc-prometheus, grpc.health.v1
// и reflection по схеме crm/v1/crm.proto (для grpcurl).
func newGRPCServer(orders grpcsvc.OrderServiceServer, catalog grpcsvc.CatalogServiceServer, logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	grpcsvc.RegisterOrderServiceServer(grpcServer, orders)
	grpcsvc.RegisterCatalogServiceServer(grpcServer, catalog)
	grpcMetrics.InitializeMetrics(grpcServer)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcsvc.OrderServiceName, healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcsvc.CatalogServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	return grpcServer, healthServer
}

// startOutboxWorker запускает публикацию outbox, если настроена Kafka.
func startOutboxWorker(ctx context.Context, cfg Config, deps *runtimeDependencies, publishers *kafkaPublishers, logger *log.Entry) (context.CancelFunc, <-chan struct{}) {
	if publishers == nil {
		logger.Info("kafka is not configured, outbox worker is disabled")
		return nil, nil
	}

	worker := outbox.NewWorker(deps.outboxRepo, publishers.events,
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithMetrics(metrics.NewOutboxMetrics(prometheus.DefaultRegisterer)),
		outbox.WithDLQPublisher(publishers.dlq),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)
	return runBackground(ctx, worker.Run)
}

// startCleanupWorker запускает очистку просроченных idempotency-ключей.
func startCleanupWorker(ctx context.Context, cfg Config, deps *runtimeDependencies, logger *log.Entry) (context.CancelFunc, <-chan struct{}) {
	sweeper := idempotency.NewSweeper(deps.idempotencyRepo,
		idempotency.Config{
			Interval:   cfg.IdempotencyCleanupInterval,
			BatchSize:  cfg.IdempotencyCleanupBatchSize,
			MaxBatches: cfg.IdempotencyCleanupMaxBatches,
		},
		metrics.NewCleanupMetrics(prometheus.DefaultRegisterer),
		logger.WithField("component", "idempotency-sweeper"),
	)
	return runBackground(ctx, sweeper.Run)
}

func runBackground(ctx context.Context, run func(context.Context)) (context.CancelFunc, <-chan struct{}) {
	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		run(workerCtx)
	}()
	return cancel, done
}

// stopWorker останавливает фоновый воркер и ждёт его завершения.
func stopWorker(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel == nil {
		return
	}
	cancel()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warn("background worker did not stop in time")
	}
}

func shutdownTimeout(cfg Config) time.Duration {
	if cfg.ShutdownTimeout <= 0 {
		return 5 * time.Second
	}
	return cfg.ShutdownTimeout
}

// startMetricsServer запускает HTTP-порт с /metrics и health-пробами.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
