package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	grpcsvc "github.com/vladislavdragonenkov/crm/internal/service/grpc"
	"github.com/vladislavdragonenkov/crm/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/crm/internal/storage/memory"
)

func newRaceTarget(t *testing.T) orderAPI {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	entry := logger.WithField("component", "stockrace-test")

	ledger := memory.NewInventoryLedger()
	customers := memory.NewCustomerDirectory()
	timeline := memory.NewTimelineRepository()
	engine := fulfillment.NewEngine(ledger, customers, memory.NewOrderRepository(), fulfillment.Options{
		Outbox:   memory.NewOutboxRepository(),
		Timeline: timeline,
		Logger:   entry,
	})

	listener := bufconn.Listen(1024 * 1024)
	server := grpc.NewServer()
	grpcsvc.RegisterOrderServiceServer(server, grpcsvc.NewOrderService(engine, timeline, memory.NewIdempotencyRepository(), entry))
	grpcsvc.RegisterCatalogServiceServer(server, grpcsvc.NewCatalogService(ledger, customers, nil, entry))
	go func() { _ = server.Serve(listener) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return listener.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
		server.Stop()
	})

	return clientAdapter{grpcsvc.NewClient(conn)}
}

func testConfig() config {
	return config{
		seller:      "seller-race",
		products:    1,
		stock:       5,
		pieces:      3,
		price:       "2.00",
		requests:    2,
		concurrency: 2,
		timeout:     5 * time.Second,
		runID:       "test",
	}
}

func TestRunRace_TwoBuyersOneWinner(t *testing.T) {
	api := newRaceTarget(t)

	result, err := runRace(context.Background(), api, testConfig())
	require.NoError(t, err)

	require.Empty(t, result.Violations)
	require.EqualValues(t, 1, result.Accepted)
	require.EqualValues(t, 1, result.Rejected)
	require.Len(t, result.Products, 1)
	require.EqualValues(t, 2, result.Products[0].FinalStock)
	require.EqualValues(t, 1, result.Methods["SubmitOrder"].Codes[codes.FailedPrecondition.String()])
}

func TestRunRace_ManyBuyersNeverOversell(t *testing.T) {
	api := newRaceTarget(t)

	cfg := testConfig()
	cfg.products = 3
	cfg.stock = 20
	cfg.pieces = 3
	cfg.requests = 90
	cfg.concurrency = 32

	result, err := runRace(context.Background(), api, cfg)
	require.NoError(t, err)

	require.Empty(t, result.Violations)
	require.Zero(t, result.Errors)
	require.EqualValues(t, cfg.requests, result.Accepted+result.Rejected)
	for _, p := range result.Products {
		require.EqualValues(t, 6, p.Winners, "product %s", p.ProductID)
		require.EqualValues(t, 2, p.FinalStock, "product %s", p.ProductID)
	}
}

func TestRunRace_CancelRestoresStock(t *testing.T) {
	api := newRaceTarget(t)

	cfg := testConfig()
	cfg.stock = 9
	cfg.requests = 5
	cfg.concurrency = 5
	cfg.cancelRate = 100

	result, err := runRace(context.Background(), api, cfg)
	require.NoError(t, err)

	require.Empty(t, result.Violations)
	require.EqualValues(t, 3, result.Accepted)
	require.EqualValues(t, 3, result.Canceled)
	require.EqualValues(t, 9, result.Products[0].FinalStock)
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig([]string{"-stock", "7", "-pieces", "2", "-requests", "10"})
	require.NoError(t, err)
	require.EqualValues(t, 7, cfg.stock)
	require.EqualValues(t, 2, cfg.pieces)
	require.Equal(t, 10, cfg.requests)
	require.NotEmpty(t, cfg.runID)

	invalid := [][]string{
		{"-pieces", "0"},
		{"-requests", "0"},
		{"-stock", "-1"},
		{"-cancel-rate", "101"},
		{"-price", "cheap"},
		{"-seller", " "},
		{"-timeout", "0s"},
	}
	for _, args := range invalid {
		_, err := parseConfig(args)
		require.Error(t, err, "args %v", args)
	}
}

func TestShouldCancel(t *testing.T) {
	require.True(t, shouldCancel(5, 100))
	require.True(t, shouldCancel(10, 50))
	require.False(t, shouldCancel(60, 50))
	require.False(t, shouldCancel(0, 0))
}

func TestPercentile(t *testing.T) {
	values := []float64{1, 2, 3, 4}
	require.InDelta(t, 2.5, percentile(values, 50), 1e-9)
	require.InDelta(t, 4.0, percentile(values, 100), 1e-9)
	require.Zero(t, percentile(nil, 95))
}

func TestPrintReportShowsViolations(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, report{Requests: 2, Violations: []string{"product p: 3 orders accepted, capacity 1"}})
	require.True(t, strings.Contains(buf.String(), "VIOLATION: product p"))
}

func TestWriteJSONReport(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	require.NoError(t, writeJSONReport("report.json", report{Requests: 1}))
	data, err := os.ReadFile(filepath.Join(dir, "report.json"))
	require.NoError(t, err)
	require.Contains(t, string(data), `"requests": 1`)

	require.Error(t, writeJSONReport("../escape.json", report{}))
	require.Error(t, writeJSONReport(".", report{}))
}
