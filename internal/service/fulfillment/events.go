package fulfillment

import (
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crm/internal/domain"
)

// AggregateOrder: тип агрегата в outbox-сообщениях движка.
const AggregateOrder = "order"

// eventItem: позиция заказа в теле события.
type eventItem struct {
	ProductID string `json:"product_id"`
	Pieces    int64  `json:"pieces"`
	UnitPrice string `json:"unit_price"`
}

func orderPayload(order domain.Order, extra map[string]interface{}) map[string]interface{} {
	items := make([]eventItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, eventItem{
			ProductID: item.ProductID,
			Pieces:    item.Pieces,
			UnitPrice: domain.FormatAmount(item.UnitPrice),
		})
	}
	payload := map[string]interface{}{
		"seller_id":   order.SellerID,
		"customer_id": order.CustomerID,
		"status":      order.Status,
		"total":       domain.FormatAmount(order.Total),
		"version":     order.Version,
		"items":       items,
		"ts":          time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range extra {
		payload[k] = v
	}
	return payload
}

// emitEvent кладёт событие в outbox и timeline. Ошибки только логируются:
// изменение заказа к этому моменту уже сохранено.
func (e *Engine) emitEvent(order domain.Order, eventType, reason string, payload map[string]interface{}) {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["order_id"] = order.ID
	if reason != "" {
		payload["reason"] = reason
	}

	logger := e.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"event":    eventType,
	})

	data, err := json.Marshal(payload)
	if err != nil {
		logger.WithError(err).Error("marshal event failed")
		return
	}

	if e.outbox != nil {
		msg := domain.OutboxMessage{
			AggregateType: AggregateOrder,
			AggregateID:   order.ID,
			EventType:     eventType,
			Payload:       data,
		}
		if _, err := e.outbox.Enqueue(msg); err != nil {
			logger.WithError(err).Error("enqueue event failed")
		} else {
			e.metrics.RecordOutboxEvent()
		}
	}

	e.appendTimeline(order, eventType, reason)
}

func (e *Engine) appendTimeline(order domain.Order, eventType, reason string) {
	if e.timeline == nil {
		return
	}
	event := domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     eventType,
		Reason:   reason,
		SellerID: order.SellerID,
		Occurred: e.now(),
	}
	if err := e.timeline.Append(event); err != nil {
		e.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("append timeline failed")
		return
	}
	e.metrics.RecordTimelineEvent()
}
