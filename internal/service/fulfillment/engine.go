// Package fulfillment исполняет заказы: проверяет владельца клиента, резервирует
// товары на складе, считает сумму и сохраняет заказ. Любая ошибка посередине
// откатывает уже сделанные списания.
package fulfillment

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/crm/internal/domain"
	"github.com/vladislavdragonenkov/crm/internal/metrics"
)

const (
	tracerName = "github.com/vladislavdragonenkov/crm/internal/service/fulfillment"

	defaultCompensationTimeout = 10 * time.Second
)

// Операции движка для метрик и трейсов.
const (
	OpSubmitOrder  = "submit_order"
	OpReviseOrder  = "revise_order"
	OpRemoveOrder  = "remove_order"
	OpGetOrder     = "get_order"
	OpListOrders   = "list_orders"
	OpChangeStatus = "change_status"
)

// LineItemInput: позиция заказа в запросе.
type LineItemInput struct {
	ProductID string
	Pieces    int64
}

// SubmitOrderInput описывает новый заказ.
type SubmitOrderInput struct {
	CustomerID string
	Items      []LineItemInput
	// ExplicitTotal: сумма, посчитанная клиентом. Если задана, сверяется с расчётной.
	ExplicitTotal *decimal.Decimal
}

// ReviseOrderInput описывает изменение заказа. Пустые поля не меняются;
// Items == nil оставляет позиции как есть.
type ReviseOrderInput struct {
	CustomerID    string
	Items         []LineItemInput
	Status        domain.OrderStatus
	ExplicitTotal *decimal.Decimal
}

// Options задаёт необязательные зависимости движка.
type Options struct {
	Outbox   domain.OutboxRepository
	Timeline domain.TimelineRepository
	Metrics  *metrics.FulfillmentMetrics
	Logger   *log.Entry
	Retry    RetryConfig
	// TotalTolerance: допустимое расхождение переданной суммы с расчётной.
	TotalTolerance decimal.Decimal
	// CompensationTimeout ограничивает возврат остатков после отмены запроса.
	CompensationTimeout time.Duration
	Now                 func() time.Time
}

// Engine: единственная точка, которая меняет и склад, и заказы.
type Engine struct {
	ledger    domain.InventoryLedger
	customers domain.CustomerDirectory
	orders    domain.OrderRepository

	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	metrics  *metrics.FulfillmentMetrics
	logger   *log.Entry
	tracer   trace.Tracer

	retry               RetryConfig
	tolerance           decimal.Decimal
	compensationTimeout time.Duration
	now                 func() time.Time
}

// NewEngine собирает движок поверх склада, справочника клиентов и репозитория заказов.
func NewEngine(
	ledger domain.InventoryLedger,
	customers domain.CustomerDirectory,
	orders domain.OrderRepository,
	opts Options,
) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.New().WithField("component", "fulfillment")
	}
	timeout := opts.CompensationTimeout
	if timeout <= 0 {
		timeout = defaultCompensationTimeout
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	tolerance := opts.TotalTolerance
	if tolerance.IsNegative() {
		tolerance = decimal.Zero
	}

	return &Engine{
		ledger:              ledger,
		customers:           customers,
		orders:              orders,
		outbox:              opts.Outbox,
		timeline:            opts.Timeline,
		metrics:             opts.Metrics,
		logger:              logger,
		tracer:              otel.Tracer(tracerName),
		retry:               opts.Retry.normalized(),
		tolerance:           tolerance,
		compensationTimeout: timeout,
		now:                 now,
	}
}

// SubmitOrder проверяет, резервирует и сохраняет новый заказ в статусе PROCESSING.
func (e *Engine) SubmitOrder(ctx context.Context, sellerID string, in SubmitOrderInput) (order domain.Order, err error) {
	ctx, finish := e.begin(ctx, OpSubmitOrder,
		attribute.String("seller_id", sellerID),
		attribute.String("customer_id", in.CustomerID),
		attribute.Int("items", len(in.Items)),
	)
	defer func() { finish(err) }()

	if sellerID == "" {
		return domain.Order{}, domain.ErrSellerRequired
	}
	if in.CustomerID == "" {
		return domain.Order{}, domain.ErrCustomerRequired
	}
	requests, err := normalizeItems(in.Items)
	if err != nil {
		return domain.Order{}, err
	}
	if err := e.authorizeCustomer(ctx, sellerID, in.CustomerID); err != nil {
		return domain.Order{}, err
	}

	batch, err := e.reserve(ctx, requests)
	if err != nil {
		return domain.Order{}, err
	}

	items, err := e.priceItems(ctx, requests, batch.byProduct())
	if err != nil {
		return domain.Order{}, e.rollback(ctx, batch, err)
	}
	total := domain.ComputeTotal(items)
	if err := e.checkTotal(in.ExplicitTotal, total); err != nil {
		return domain.Order{}, e.rollback(ctx, batch, err)
	}

	draft := domain.Order{
		Items:      items,
		Total:      total,
		CustomerID: in.CustomerID,
		SellerID:   sellerID,
		Status:     domain.OrderStatusProcessing,
	}
	start := time.Now()
	created, err := e.orders.Create(ctx, draft)
	e.observeStep(domain.StepPersist, start)
	if err != nil {
		return domain.Order{}, e.rollback(ctx, batch, err)
	}

	e.logger.WithFields(log.Fields{
		"order_id":  created.ID,
		"seller_id": sellerID,
		"total":     created.Total.String(),
	}).Info("order submitted")
	e.emitEvent(created, domain.EventOrderSubmitted, "", orderPayload(created, nil))
	return created, nil
}

// ReviseOrder заменяет клиента, позиции и/или статус заказа. Остатки сверяются
// по разнице между старыми и новыми позициями: сначала резервируется прирост,
// затем сохраняется заказ, и только после этого возвращается излишек.
func (e *Engine) ReviseOrder(ctx context.Context, sellerID, orderID string, in ReviseOrderInput) (order domain.Order, err error) {
	ctx, finish := e.begin(ctx, OpReviseOrder,
		attribute.String("seller_id", sellerID),
		attribute.String("order_id", orderID),
	)
	defer func() { finish(err) }()

	if in.Status != "" && !in.Status.Valid() {
		return domain.Order{}, domain.ErrStatusInvalid
	}
	var requests []stockRequest
	if in.Items != nil {
		if requests, err = normalizeItems(in.Items); err != nil {
			return domain.Order{}, err
		}
	}

	current, err := e.loadOwned(ctx, sellerID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	customerID := in.CustomerID
	if customerID == "" {
		customerID = current.CustomerID
	}
	if err := e.authorizeCustomer(ctx, sellerID, customerID); err != nil {
		return domain.Order{}, err
	}

	next := current.Clone()
	next.CustomerID = customerID
	if in.Status != "" && in.Status != current.Status {
		if !current.Status.CanTransition(in.Status) {
			return domain.Order{}, transitionError(current.Status, in.Status)
		}
		next.Status = in.Status
	}

	held := accountedPieces(current)
	batch := newReservationBatch(e.ledger)
	if requests != nil {
		if current.Status != domain.OrderStatusProcessing {
			return domain.Order{}, domain.ErrOrderNotEditable
		}

		previous := domain.PiecesByProduct(current.Items)
		var increases []stockRequest
		for _, req := range requests {
			if delta := req.Pieces - previous[req.ProductID]; delta > 0 {
				increases = append(increases, stockRequest{ProductID: req.ProductID, Pieces: delta})
			}
		}
		if batch, err = e.reserve(ctx, increases); err != nil {
			return domain.Order{}, err
		}
		for _, r := range batch.reservations() {
			held[r.ProductID] += r.Pieces
		}

		items, err := e.priceItems(ctx, requests, batch.byProduct())
		if err != nil {
			return domain.Order{}, e.rollback(ctx, batch, err)
		}
		next.Items = items
		next.Total = domain.ComputeTotal(items)
	}
	if err := e.checkTotal(in.ExplicitTotal, next.Total); err != nil {
		return domain.Order{}, e.rollback(ctx, batch, err)
	}

	start := time.Now()
	updated, err := e.orders.Replace(ctx, next)
	e.observeStep(domain.StepPersist, start)
	if err != nil {
		return domain.Order{}, e.rollback(ctx, batch, err)
	}

	e.logger.WithFields(log.Fields{
		"order_id": updated.ID,
		"version":  updated.Version,
		"status":   updated.Status,
	}).Info("order revised")
	e.emitEvent(updated, domain.EventOrderRevised, "", orderPayload(updated, map[string]interface{}{
		"previous_version": current.Version,
	}))
	if updated.Status != current.Status {
		e.emitStatusEvent(updated, current.Status)
	}

	return updated, e.releaseCommitted(ctx, updated, surplus(held, accountedPieces(updated)))
}

// ChangeStatus переводит заказ из PROCESSING в COMPLETE или CANCELED.
// Отмена возвращает остатки на склад после сохранения статуса.
func (e *Engine) ChangeStatus(ctx context.Context, sellerID, orderID string, status domain.OrderStatus) (order domain.Order, err error) {
	ctx, finish := e.begin(ctx, OpChangeStatus,
		attribute.String("seller_id", sellerID),
		attribute.String("order_id", orderID),
		attribute.String("status", string(status)),
	)
	defer func() { finish(err) }()

	if !status.Valid() {
		return domain.Order{}, domain.ErrStatusInvalid
	}
	current, err := e.loadOwned(ctx, sellerID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !current.Status.CanTransition(status) {
		return domain.Order{}, transitionError(current.Status, status)
	}

	next := current.Clone()
	next.Status = status

	start := time.Now()
	updated, err := e.orders.Replace(ctx, next)
	e.observeStep(domain.StepPersist, start)
	if err != nil {
		return domain.Order{}, err
	}

	e.emitStatusEvent(updated, current.Status)
	return updated, e.releaseCommitted(ctx, updated, surplus(accountedPieces(current), accountedPieces(updated)))
}

// RemoveOrder удаляет заказ. Остатки заказа в PROCESSING возвращаются на склад.
func (e *Engine) RemoveOrder(ctx context.Context, sellerID, orderID string) (err error) {
	ctx, finish := e.begin(ctx, OpRemoveOrder,
		attribute.String("seller_id", sellerID),
		attribute.String("order_id", orderID),
	)
	defer func() { finish(err) }()

	current, err := e.loadOwned(ctx, sellerID, orderID)
	if err != nil {
		return err
	}
	if err := e.authorizeCustomer(ctx, sellerID, current.CustomerID); err != nil {
		return err
	}

	start := time.Now()
	err = e.orders.Delete(ctx, current.ID, current.Version)
	e.observeStep(domain.StepPersist, start)
	if err != nil {
		return err
	}

	e.logger.WithField("order_id", current.ID).Info("order removed")
	e.emitEvent(current, domain.EventOrderRemoved, "", orderPayload(current, nil))

	var releases []stockRequest
	if current.Status.HoldsStock() {
		releases = surplus(domain.PiecesByProduct(current.Items), nil)
	}
	return e.releaseCommitted(ctx, current, releases)
}

// GetOrder возвращает заказ продавца.
func (e *Engine) GetOrder(ctx context.Context, sellerID, orderID string) (order domain.Order, err error) {
	ctx, finish := e.begin(ctx, OpGetOrder,
		attribute.String("seller_id", sellerID),
		attribute.String("order_id", orderID),
	)
	defer func() { finish(err) }()

	return e.loadOwned(ctx, sellerID, orderID)
}

// ListOrders возвращает заказы продавца, новые первыми. SellerID фильтра
// всегда заменяется на sellerID.
func (e *Engine) ListOrders(ctx context.Context, sellerID string, filter domain.OrderFilter) (orders []domain.Order, err error) {
	ctx, finish := e.begin(ctx, OpListOrders, attribute.String("seller_id", sellerID))
	defer func() { finish(err) }()

	if sellerID == "" {
		return nil, domain.ErrSellerRequired
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.ErrStatusInvalid
	}
	filter.SellerID = sellerID
	return e.orders.List(ctx, filter)
}

func (e *Engine) begin(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := e.tracer.Start(ctx, "fulfillment."+operation, trace.WithAttributes(attrs...))
	done := e.metrics.StartOperation(operation)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
		}
		done(err)
		span.End()
	}
}

func (e *Engine) observeStep(step domain.FulfillmentStep, start time.Time) {
	e.metrics.RecordStepDuration(string(step), time.Since(start))
}

// loadOwned читает заказ и проверяет, что он принадлежит продавцу.
func (e *Engine) loadOwned(ctx context.Context, sellerID, orderID string) (domain.Order, error) {
	if sellerID == "" {
		return domain.Order{}, domain.ErrSellerRequired
	}
	order, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.SellerID != sellerID {
		return domain.Order{}, fmt.Errorf("%w: order %s", domain.ErrUnauthorized, orderID)
	}
	return order, nil
}

func (e *Engine) authorizeCustomer(ctx context.Context, sellerID, customerID string) error {
	start := time.Now()
	defer e.observeStep(domain.StepAuthorize, start)

	owner, err := e.customers.ResolveOwner(ctx, customerID)
	if err != nil {
		return err
	}
	if owner != sellerID {
		e.logger.WithFields(log.Fields{
			"seller_id":   sellerID,
			"customer_id": customerID,
		}).Warn("seller does not own customer")
		return fmt.Errorf("%w: customer %s", domain.ErrUnauthorized, customerID)
	}
	return nil
}

// reserve списывает позиции одним пакетом. При ошибке успешные списания уже возвращены.
func (e *Engine) reserve(ctx context.Context, requests []stockRequest) (*reservationBatch, error) {
	batch := newReservationBatch(e.ledger)
	if len(requests) == 0 {
		return batch, nil
	}

	start := time.Now()
	err := batch.reserveAll(ctx, requests)
	e.observeStep(domain.StepReserve, start)
	if err != nil {
		return nil, e.rollback(ctx, batch, err)
	}
	e.metrics.RecordReserved(batch.pieces())
	return batch, nil
}

// rollback возвращает все списания пакета и отдаёт исходную ошибку. Если
// вернуть не удалось, ошибка оборачивается в *domain.CompensationError.
func (e *Engine) rollback(ctx context.Context, batch *reservationBatch, cause error) error {
	requests := batch.releaseRequests()
	if len(requests) == 0 {
		return cause
	}

	e.metrics.RecordRollback()
	e.logger.WithError(cause).WithField("reservations", len(requests)).Warn("rolling back reservations")

	failures := e.releaseAll(ctx, domain.StepRollback, requests)
	if len(failures) == 0 {
		return cause
	}
	e.metrics.RecordCompensationFailure()
	return &domain.CompensationError{Cause: cause, Failures: failures}
}

// releaseCommitted возвращает остатки после того, как запись заказа уже сохранена.
func (e *Engine) releaseCommitted(ctx context.Context, order domain.Order, requests []stockRequest) error {
	if len(requests) == 0 {
		return nil
	}

	failures := e.releaseAll(ctx, domain.StepRelease, requests)
	var restored int64
	for _, req := range requests {
		restored += req.Pieces
	}
	if len(failures) == 0 {
		e.appendTimeline(order, domain.EventStockReleased, fmt.Sprintf("%d pieces restored", restored))
		return nil
	}

	e.metrics.RecordCompensationFailure()
	e.appendTimeline(order, domain.EventStockReleased, fmt.Sprintf("%d of %d releases failed", len(failures), len(requests)))
	return &domain.CompensationError{
		Cause:    fmt.Errorf("order %s: %w", order.ID, domain.ErrReleaseIncomplete),
		Failures: failures,
	}
}

// releaseAll возвращает остатки с повторами. Контекст отвязан от отмены
// запроса, но ограничен compensationTimeout.
func (e *Engine) releaseAll(ctx context.Context, step domain.FulfillmentStep, requests []stockRequest) []error {
	start := time.Now()
	defer e.observeStep(step, start)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.compensationTimeout)
	defer cancel()

	var failures []error
	for _, req := range requests {
		err := withRetry(ctx, e.retry, e.logger, string(step), func(ctx context.Context) error {
			_, err := e.ledger.Release(ctx, req.ProductID, req.Pieces)
			return err
		})
		if err != nil {
			e.logger.WithError(err).WithFields(log.Fields{
				"product_id": req.ProductID,
				"pieces":     req.Pieces,
				"step":       step,
			}).Error("stock release failed")
			failures = append(failures, fmt.Errorf("release %d pieces of %s: %w", req.Pieces, req.ProductID, err))
			continue
		}
		e.metrics.RecordReleased(req.Pieces)
	}
	return failures
}

// priceItems фиксирует название и цену позиций: из резерва, если товар только
// что списан, иначе текущие данные склада.
func (e *Engine) priceItems(ctx context.Context, requests []stockRequest, reserved map[string]domain.Reservation) ([]domain.LineItem, error) {
	items := make([]domain.LineItem, 0, len(requests))
	for _, req := range requests {
		item := domain.LineItem{ProductID: req.ProductID, Pieces: req.Pieces}
		if r, ok := reserved[req.ProductID]; ok {
			item.Name = r.Name
			item.UnitPrice = r.UnitPrice
		} else {
			product, err := e.ledger.Product(ctx, req.ProductID)
			if err != nil {
				return nil, err
			}
			item.Name = product.Name
			item.UnitPrice = product.Price
		}
		items = append(items, item)
	}
	return items, nil
}

func (e *Engine) checkTotal(explicit *decimal.Decimal, derived decimal.Decimal) error {
	if explicit == nil {
		return nil
	}
	if explicit.Sub(derived).Abs().GreaterThan(e.tolerance) {
		return fmt.Errorf("%w: got %s, items sum to %s", domain.ErrTotalMismatch, explicit.String(), derived.String())
	}
	return nil
}

func (e *Engine) emitStatusEvent(order domain.Order, previous domain.OrderStatus) {
	e.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"from":     previous,
		"to":       order.Status,
	}).Info("order status changed")
	e.emitEvent(order, domain.EventOrderStatusChanged, string(previous)+" -> "+string(order.Status),
		orderPayload(order, map[string]interface{}{"previous_status": previous}))
}

func transitionError(from, to domain.OrderStatus) error {
	return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidStatusTransition, from, to)
}

// normalizeItems проверяет позиции и сливает повторы одного товара,
// сохраняя порядок первого появления.
func normalizeItems(items []LineItemInput) ([]stockRequest, error) {
	if len(items) == 0 {
		return nil, domain.ErrItemsRequired
	}
	index := make(map[string]int, len(items))
	result := make([]stockRequest, 0, len(items))
	for _, item := range items {
		if item.ProductID == "" {
			return nil, domain.ErrProductRequired
		}
		if item.Pieces <= 0 {
			return nil, domain.ErrPiecesInvalid
		}
		if i, ok := index[item.ProductID]; ok {
			if result[i].Pieces > math.MaxInt64-item.Pieces {
				return nil, domain.ErrPiecesInvalid
			}
			result[i].Pieces += item.Pieces
			continue
		}
		index[item.ProductID] = len(result)
		result = append(result, stockRequest{ProductID: item.ProductID, Pieces: item.Pieces})
	}
	return result, nil
}

// accountedPieces: сколько единиц заказ держит списанными со склада.
// У отменённого заказа остатки уже возвращены.
func accountedPieces(order domain.Order) map[string]int64 {
	if order.Status == domain.OrderStatusCanceled {
		return map[string]int64{}
	}
	return domain.PiecesByProduct(order.Items)
}

// surplus возвращает, сколько единиц каждого товара из held больше не нужно.
func surplus(held, keep map[string]int64) []stockRequest {
	var result []stockRequest
	for productID, pieces := range held {
		if extra := pieces - keep[productID]; extra > 0 {
			result = append(result, stockRequest{ProductID: productID, Pieces: extra})
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ProductID < result[j].ProductID })
	return result
}
