package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcsvc "github.com/vladislavdragonenkov/crm/internal/service/grpc"
)

type config struct {
	addr        string
	seller      string
	products    int
	stock       int64
	pieces      int64
	price       string
	requests    int
	concurrency int
	cancelRate  int
	timeout     time.Duration
	outputPath  string
	runID       string
}

func parseConfig(args []string) (config, error) {
	var cfg config
	fs := flag.NewFlagSet("stockrace", flag.ContinueOnError)

	fs.StringVar(&cfg.addr, "addr", "localhost:50051", "gRPC target address")
	fs.StringVar(&cfg.seller, "seller", "stockrace-seller", "seller id sent in x-seller-id")
	fs.IntVar(&cfg.products, "products", 1, "number of contended products")
	fs.Int64Var(&cfg.stock, "stock", 5, "initial stock of every product")
	fs.Int64Var(&cfg.pieces, "pieces", 3, "pieces requested by every order")
	fs.StringVar(&cfg.price, "price", "2.00", "unit price of every product")
	fs.IntVar(&cfg.requests, "requests", 2, "number of concurrent orders")
	fs.IntVar(&cfg.concurrency, "concurrency", 64, "max in-flight requests")
	fs.IntVar(&cfg.cancelRate, "cancel-rate", 0, "percent of accepted orders to cancel afterwards (0..100)")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-RPC timeout")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	switch {
	case strings.TrimSpace(cfg.seller) == "":
		return cfg, errors.New("seller is required")
	case cfg.products <= 0:
		return cfg, errors.New("products must be > 0")
	case cfg.stock < 0:
		return cfg, errors.New("stock must be >= 0")
	case cfg.pieces <= 0:
		return cfg, errors.New("pieces must be > 0")
	case cfg.requests <= 0:
		return cfg, errors.New("requests must be > 0")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.cancelRate < 0 || cfg.cancelRate > 100:
		return cfg, errors.New("cancel-rate must be between 0 and 100")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	}
	if _, err := decimal.NewFromString(cfg.price); err != nil {
		return cfg, fmt.Errorf("invalid price %q", cfg.price)
	}

	cfg.runID = fmt.Sprintf("%d-%d", time.Now().UnixNano(), os.Getpid())
	return cfg, nil
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(2)
	}

	conn, err := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to create grpc client connection: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	result, err := runRace(context.Background(), clientAdapter{grpcsvc.NewClient(conn)}, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "stockrace failed: %v\n", err)
		os.Exit(1)
	}

	printReport(os.Stdout, result)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if len(result.Violations) > 0 {
		os.Exit(1)
	}
}

// clientAdapter убирает variadic CallOption из сигнатур клиента.
type clientAdapter struct {
	client *grpcsvc.Client
}

func (a clientAdapter) RegisterProduct(ctx context.Context, req *grpcsvc.RegisterProductRequest) (*grpcsvc.RegisterProductResponse, error) {
	return a.client.RegisterProduct(ctx, req)
}

func (a clientAdapter) RegisterCustomer(ctx context.Context, req *grpcsvc.RegisterCustomerRequest) (*grpcsvc.RegisterCustomerResponse, error) {
	return a.client.RegisterCustomer(ctx, req)
}

func (a clientAdapter) SubmitOrder(ctx context.Context, req *grpcsvc.SubmitOrderRequest) (*grpcsvc.SubmitOrderResponse, error) {
	return a.client.SubmitOrder(ctx, req)
}

func (a clientAdapter) ChangeOrderStatus(ctx context.Context, req *grpcsvc.ChangeOrderStatusRequest) (*grpcsvc.ChangeOrderStatusResponse, error) {
	return a.client.ChangeOrderStatus(ctx, req)
}

func (a clientAdapter) GetProduct(ctx context.Context, req *grpcsvc.GetProductRequest) (*grpcsvc.GetProductResponse, error) {
	return a.client.GetProduct(ctx, req)
}

func printReport(w io.Writer, result report) {
	_, _ = fmt.Fprintln(w, "Stock race summary")
	_, _ = fmt.Fprintf(w, "requests=%d accepted=%d rejected=%d errors=%d canceled=%d duration=%.2fs\n",
		result.Requests, result.Accepted, result.Rejected, result.Errors, result.Canceled, result.DurationSeconds)
	for _, p := range result.Products {
		_, _ = fmt.Fprintf(w, "product=%s stock=%d->%d winners=%d/%d conserved=%t\n",
			p.ProductID, p.InitialStock, p.FinalStock, p.Winners, p.MaxWinners, p.Conserved)
	}

	names := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(w, "%s: calls=%d success=%d failed=%d p95=%.2fms\n",
			name, stats.Calls, stats.Success, stats.Failed, stats.LatencyMs.P95)
	}
	for _, violation := range result.Violations {
		_, _ = fmt.Fprintf(w, "VIOLATION: %s\n", violation)
	}
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}
