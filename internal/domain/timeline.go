package domain

import "time"

// Типы событий жизненного цикла заказа.
const (
	EventOrderSubmitted     = "OrderSubmitted"
	EventOrderRevised       = "OrderRevised"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventOrderRemoved       = "OrderRemoved"
	EventStockReleased      = "StockReleased"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	SellerID string
	Occurred time.Time
}
