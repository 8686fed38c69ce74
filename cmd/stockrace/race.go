package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	grpcsvc "github.com/vladislavdragonenkov/crm/internal/service/grpc"
)

// productOutcome: итог гонки по одному товару.
type productOutcome struct {
	ProductID     string `json:"product_id"`
	InitialStock  int64  `json:"initial_stock"`
	Reserved      int64  `json:"reserved"`
	Restored      int64  `json:"restored"`
	FinalStock    int64  `json:"final_stock"`
	MaxWinners    int64  `json:"max_winners"`
	Winners       int64  `json:"winners"`
	Conserved     bool   `json:"conserved"`
	WinnersWithin bool   `json:"winners_within_capacity"`
}

type report struct {
	StartedAt       time.Time                `json:"started_at"`
	DurationSeconds float64                  `json:"duration_seconds"`
	Requests        int                      `json:"requests"`
	Accepted        int64                    `json:"accepted"`
	Rejected        int64                    `json:"rejected"`
	Errors          int64                    `json:"errors"`
	Canceled        int64                    `json:"canceled"`
	Products        []productOutcome         `json:"products"`
	Methods         map[string]methodReport `json:"methods"`
	Violations      []string                 `json:"violations,omitempty"`
}

// orderAPI: вызовы, которыми пользуется гонка.
type orderAPI interface {
	RegisterProduct(ctx context.Context, req *grpcsvc.RegisterProductRequest) (*grpcsvc.RegisterProductResponse, error)
	RegisterCustomer(ctx context.Context, req *grpcsvc.RegisterCustomerRequest) (*grpcsvc.RegisterCustomerResponse, error)
	SubmitOrder(ctx context.Context, req *grpcsvc.SubmitOrderRequest) (*grpcsvc.SubmitOrderResponse, error)
	ChangeOrderStatus(ctx context.Context, req *grpcsvc.ChangeOrderStatusRequest) (*grpcsvc.ChangeOrderStatusResponse, error)
	GetProduct(ctx context.Context, req *grpcsvc.GetProductRequest) (*grpcsvc.GetProductResponse, error)
}

type race struct {
	api orderAPI
	cfg config
	col *collector

	mu       sync.Mutex
	winners  map[string][]string
	accepted int64
	rejected int64
	errored  int64
}

// runRace заводит товары с ограниченным остатком и одновременно отправляет
// requests заказов по pieces штук. Потом сверяет остатки: сумма списанного
// и оставшегося должна совпасть с начальным остатком, а число принятых
// заказов не может превысить stock/pieces.
func runRace(ctx context.Context, api orderAPI, cfg config) (report, error) {
	r := &race{
		api:     api,
		cfg:     cfg,
		col:     newCollector(),
		winners: make(map[string][]string),
	}
	startedAt := time.Now()

	ctx = grpcsvc.WithSeller(ctx, cfg.seller)

	products, customerID, err := r.setup(ctx)
	if err != nil {
		return report{}, err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(cfg.concurrency)
	for i := 0; i < cfg.requests; i++ {
		productID := products[i%len(products)]
		group.Go(func() error {
			return r.submit(groupCtx, i, customerID, productID)
		})
	}
	if err := group.Wait(); err != nil {
		return report{}, err
	}

	canceled, err := r.cancelShare(ctx)
	if err != nil {
		return report{}, err
	}

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: time.Since(startedAt).Seconds(),
		Requests:        cfg.requests,
		Accepted:        r.accepted,
		Rejected:        r.rejected,
		Errors:          r.errored,
		Canceled:        canceled.total,
	}

	for _, productID := range products {
		outcome, err := r.verify(ctx, productID, canceled.byProduct[productID])
		if err != nil {
			return report{}, err
		}
		if !outcome.Conserved {
			result.Violations = append(result.Violations, fmt.Sprintf(
				"product %s: initial %d != final %d + reserved %d - restored %d",
				productID, outcome.InitialStock, outcome.FinalStock, outcome.Reserved, outcome.Restored))
		}
		if !outcome.WinnersWithin {
			result.Violations = append(result.Violations, fmt.Sprintf(
				"product %s: %d orders accepted, capacity %d", productID, outcome.Winners, outcome.MaxWinners))
		}
		result.Products = append(result.Products, outcome)
	}
	if r.errored > 0 {
		result.Violations = append(result.Violations, fmt.Sprintf("%d requests failed with unexpected codes", r.errored))
	}

	result.Methods = r.col.reports()
	return result, nil
}

func (r *race) setup(ctx context.Context) ([]string, string, error) {
	products := make([]string, 0, r.cfg.products)
	for i := 0; i < r.cfg.products; i++ {
		resp, err := r.api.RegisterProduct(ctx, &grpcsvc.RegisterProductRequest{
			Name:  fmt.Sprintf("stockrace-%s-%d", r.cfg.runID, i),
			Price: r.cfg.price,
			Stock: r.cfg.stock,
		})
		if err != nil {
			return nil, "", fmt.Errorf("register product: %w", err)
		}
		products = append(products, resp.Product.ID)
	}

	customer, err := r.api.RegisterCustomer(ctx, &grpcsvc.RegisterCustomerRequest{
		Name:  "stockrace",
		Email: fmt.Sprintf("stockrace-%s@example.com", r.cfg.runID),
	})
	if err != nil {
		return nil, "", fmt.Errorf("register customer: %w", err)
	}
	return products, customer.Customer.ID, nil
}

// submit отправляет один заказ. Отказ по остатку: ожидаемый исход, а не ошибка гонки.
func (r *race) submit(ctx context.Context, index int, customerID, productID string) error {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.timeout)
	defer cancel()
	callCtx = grpcsvc.WithIdempotencyKey(callCtx, fmt.Sprintf("stockrace-%s-%d", r.cfg.runID, index))

	start := time.Now()
	resp, err := r.api.SubmitOrder(callCtx, &grpcsvc.SubmitOrderRequest{
		CustomerID: customerID,
		Items:      []grpcsvc.LineItem{{ProductID: productID, Pieces: r.cfg.pieces}},
	})
	code := status.Code(err)
	r.col.record("SubmitOrder", time.Since(start), code)

	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case err == nil:
		r.accepted++
		r.winners[productID] = append(r.winners[productID], resp.Order.ID)
	case code == codes.FailedPrecondition:
		r.rejected++
	case errors.Is(ctx.Err(), context.Canceled):
		return ctx.Err()
	default:
		r.errored++
	}
	return nil
}

type cancelResult struct {
	total     int64
	byProduct map[string]int64
}

// cancelShare отменяет cancelRate процентов принятых заказов, проверяя возврат остатков.
func (r *race) cancelShare(ctx context.Context) (cancelResult, error) {
	result := cancelResult{byProduct: make(map[string]int64)}
	if r.cfg.cancelRate <= 0 {
		return result, nil
	}

	for productID, orders := range r.winners {
		for i, orderID := range orders {
			if !shouldCancel(i, r.cfg.cancelRate) {
				continue
			}
			start := time.Now()
			_, err := r.api.ChangeOrderStatus(ctx, &grpcsvc.ChangeOrderStatusRequest{OrderID: orderID, Status: "CANCELED"})
			r.col.record("ChangeOrderStatus", time.Since(start), status.Code(err))
			if err != nil {
				return result, fmt.Errorf("cancel order %s: %w", orderID, err)
			}
			result.total++
			result.byProduct[productID] += r.cfg.pieces
		}
	}
	return result, nil
}

func (r *race) verify(ctx context.Context, productID string, restored int64) (productOutcome, error) {
	resp, err := r.api.GetProduct(ctx, &grpcsvc.GetProductRequest{ProductID: productID})
	if err != nil {
		return productOutcome{}, fmt.Errorf("get product %s: %w", productID, err)
	}

	winners := int64(len(r.winners[productID]))
	outcome := productOutcome{
		ProductID:    productID,
		InitialStock: r.cfg.stock,
		Reserved:     winners * r.cfg.pieces,
		Restored:     restored,
		FinalStock:   resp.Product.Stock,
		MaxWinners:   r.cfg.stock / r.cfg.pieces,
		Winners:      winners,
	}
	outcome.Conserved = outcome.FinalStock >= 0 &&
		outcome.InitialStock == outcome.FinalStock+outcome.Reserved-outcome.Restored
	outcome.WinnersWithin = outcome.Winners <= outcome.MaxWinners
	return outcome, nil
}

func shouldCancel(index, cancelRate int) bool {
	if cancelRate >= 100 {
		return true
	}
	return index%100 < cancelRate
}
