package grpcsvc

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crm/internal/domain"
	"github.com/vladislavdragonenkov/crm/internal/service/fulfillment"
)

const defaultListOrdersLimit = 100

// Fulfillment: операции движка, которые публикует API.
type Fulfillment interface {
	SubmitOrder(ctx context.Context, sellerID string, in fulfillment.SubmitOrderInput) (domain.Order, error)
	ReviseOrder(ctx context.Context, sellerID, orderID string, in fulfillment.ReviseOrderInput) (domain.Order, error)
	RemoveOrder(ctx context.Context, sellerID, orderID string) error
	GetOrder(ctx context.Context, sellerID, orderID string) (domain.Order, error)
	ListOrders(ctx context.Context, sellerID string, filter domain.OrderFilter) ([]domain.Order, error)
	ChangeStatus(ctx context.Context, sellerID, orderID string, status domain.OrderStatus) (domain.Order, error)
}

// OrderService реализует crm.v1.OrderService поверх движка исполнения заказов.
type OrderService struct {
	engine   Fulfillment
	timeline domain.TimelineRepository
	idem     *idempotencyGuard
	logger   *log.Entry
}

var _ OrderServiceServer = (*OrderService)(nil)

// NewOrderService конструирует сервис с зависимостями. timeline и idemRepo необязательны.
func NewOrderService(
	engine Fulfillment,
	timeline domain.TimelineRepository,
	idemRepo domain.IdempotencyRepository,
	logger *log.Entry,
) *OrderService {
	if logger == nil {
		logger = log.New().WithField("component", "order-service")
	}
	return &OrderService{
		engine:   engine,
		timeline: timeline,
		idem: &idempotencyGuard{
			repo:   idemRepo,
			logger: logger,
			now:    func() time.Time { return time.Now().UTC() },
		},
		logger: logger,
	}
}

// SubmitOrder резервирует товары и создаёт заказ. Требует idempotency-key.
func (s *OrderService) SubmitOrder(ctx context.Context, req *SubmitOrderRequest) (*SubmitOrderResponse, error) {
	if req == nil {
		return nil, invalidArgument("request is required")
	}
	seller, err := sellerFromContext(ctx)
	if err != nil {
		return nil, err
	}

	return withIdempotency(ctx, s.idem, MethodSubmitOrder, req, true,
		func(ctx context.Context) (*SubmitOrderResponse, error) {
			total, err := parseAmount("total", req.Total)
			if err != nil {
				return nil, err
			}
			order, err := s.engine.SubmitOrder(ctx, seller, fulfillment.SubmitOrderInput{
				CustomerID:    req.CustomerID,
				Items:         toItemInputs(req.Items),
				ExplicitTotal: total,
			})
			if err != nil {
				return nil, s.fail(err, MethodSubmitOrder, "")
			}
			return &SubmitOrderResponse{Order: toAPIOrder(order)}, nil
		})
}

// ReviseOrder меняет клиента, позиции и/или статус заказа.
func (s *OrderService) ReviseOrder(ctx context.Context, req *ReviseOrderRequest) (*ReviseOrderResponse, error) {
	if req == nil || req.OrderID == "" {
		return nil, invalidArgument("order_id is required")
	}
	seller, err := sellerFromContext(ctx)
	if err != nil {
		return nil, err
	}

	return withIdempotency(ctx, s.idem, MethodReviseOrder, req, false,
		func(ctx context.Context) (*ReviseOrderResponse, error) {
			total, err := parseAmount("total", req.Total)
			if err != nil {
				return nil, err
			}
			in := fulfillment.ReviseOrderInput{
				CustomerID:    req.CustomerID,
				Status:        domain.OrderStatus(req.Status),
				ExplicitTotal: total,
			}
			if req.Items != nil {
				in.Items = toItemInputs(req.Items)
			}
			order, err := s.engine.ReviseOrder(ctx, seller, req.OrderID, in)
			if err != nil {
				return nil, s.fail(err, MethodReviseOrder, req.OrderID)
			}
			return &ReviseOrderResponse{Order: toAPIOrder(order)}, nil
		})
}

// RemoveOrder удаляет заказ и возвращает его остатки на склад.
func (s *OrderService) RemoveOrder(ctx context.Context, req *RemoveOrderRequest) (*RemoveOrderResponse, error) {
	if req == nil || req.OrderID == "" {
		return nil, invalidArgument("order_id is required")
	}
	seller, err := sellerFromContext(ctx)
	if err != nil {
		return nil, err
	}

	return withIdempotency(ctx, s.idem, MethodRemoveOrder, req, false,
		func(ctx context.Context) (*RemoveOrderResponse, error) {
			if err := s.engine.RemoveOrder(ctx, seller, req.OrderID); err != nil {
				return nil, s.fail(err, MethodRemoveOrder, req.OrderID)
			}
			return &RemoveOrderResponse{OrderID: req.OrderID}, nil
		})
}

// ChangeOrderStatus переводит заказ в COMPLETE или CANCELED.
func (s *OrderService) ChangeOrderStatus(ctx context.Context, req *ChangeOrderStatusRequest) (*ChangeOrderStatusResponse, error) {
	if req == nil || req.OrderID == "" {
		return nil, invalidArgument("order_id is required")
	}
	if req.Status == "" {
		return nil, invalidArgument("status is required")
	}
	seller, err := sellerFromContext(ctx)
	if err != nil {
		return nil, err
	}

	return withIdempotency(ctx, s.idem, MethodChangeOrderStatus, req, false,
		func(ctx context.Context) (*ChangeOrderStatusResponse, error) {
			order, err := s.engine.ChangeStatus(ctx, seller, req.OrderID, domain.OrderStatus(req.Status))
			if err != nil {
				return nil, s.fail(err, MethodChangeOrderStatus, req.OrderID)
			}
			return &ChangeOrderStatusResponse{Order: toAPIOrder(order)}, nil
		})
}

// GetOrder возвращает заказ продавца и таймлайн его событий.
func (s *OrderService) GetOrder(ctx context.Context, req *GetOrderRequest) (*GetOrderResponse, error) {
	if req == nil || req.OrderID == "" {
		return nil, invalidArgument("order_id is required")
	}
	seller, err := sellerFromContext(ctx)
	if err != nil {
		return nil, err
	}

	order, err := s.engine.GetOrder(ctx, seller, req.OrderID)
	if err != nil {
		return nil, s.fail(err, MethodGetOrder, req.OrderID)
	}
	return &GetOrderResponse{
		Order:    toAPIOrder(order),
		Timeline: s.buildTimeline(seller, order.ID),
	}, nil
}

// ListOrders возвращает заказы продавца, новые первыми.
func (s *OrderService) ListOrders(ctx context.Context, req *ListOrdersRequest) (*ListOrdersResponse, error) {
	if req == nil {
		req = &ListOrdersRequest{}
	}
	seller, err := sellerFromContext(ctx)
	if err != nil {
		return nil, err
	}

	limit := int(req.PageSize)
	if limit <= 0 {
		limit = defaultListOrdersLimit
	}

	orders, err := s.engine.ListOrders(ctx, seller, domain.OrderFilter{
		CustomerID: req.CustomerID,
		Status:     domain.OrderStatus(req.Status),
		Limit:      limit,
	})
	if err != nil {
		return nil, s.fail(err, MethodListOrders, "")
	}

	result := make([]*Order, 0, len(orders))
	for _, order := range orders {
		result = append(result, toAPIOrder(order))
	}
	return &ListOrdersResponse{Orders: result}, nil
}

// fail логирует ошибку движка и переводит её в gRPC-статус.
func (s *OrderService) fail(err error, method, orderID string) error {
	st := toStatus(err)
	entry := s.logger.WithError(err).WithFields(log.Fields{
		"method":   method,
		"order_id": orderID,
	})
	if isServerFault(st) {
		entry.Error("order operation failed")
	} else {
		entry.Debug("order operation rejected")
	}
	return st
}

func (s *OrderService) buildTimeline(sellerID, orderID string) []TimelineEvent {
	if s.timeline == nil {
		return nil
	}
	events, err := s.timeline.List(sellerID, orderID)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to list timeline events")
		return nil
	}
	result := make([]TimelineEvent, 0, len(events))
	for _, event := range events {
		result = append(result, TimelineEvent{
			Type:     event.Type,
			Reason:   event.Reason,
			UnixTime: event.Occurred.Unix(),
		})
	}
	return result
}

func toItemInputs(items []LineItem) []fulfillment.LineItemInput {
	result := make([]fulfillment.LineItemInput, 0, len(items))
	for _, item := range items {
		result = append(result, fulfillment.LineItemInput{ProductID: item.ProductID, Pieces: item.Pieces})
	}
	return result
}
