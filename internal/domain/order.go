package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusProcessing: заказ принят, товары зарезервированы на складе.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusComplete: заказ исполнен, резерв остаётся списанным.
	OrderStatusComplete OrderStatus = "COMPLETE"
	// OrderStatusCanceled: заказ отменён, резерв возвращён на склад.
	OrderStatusCanceled OrderStatus = "CANCELED"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusProcessing, OrderStatusComplete, OrderStatusCanceled:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что из статуса больше нет переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusComplete || s == OrderStatusCanceled
}

// HoldsStock сообщает, что за заказом в этом статусе числится резерв на складе.
func (s OrderStatus) HoldsStock() bool {
	return s == OrderStatusProcessing
}

// CanTransition проверяет допустимость перехода статуса.
// Разрешены только PROCESSING → COMPLETE и PROCESSING → CANCELED.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	if s != OrderStatusProcessing {
		return false
	}
	return to == OrderStatusComplete || to == OrderStatusCanceled
}

// LineItem представляет одну позицию заказа.
type LineItem struct {
	// ProductID: идентификатор товара в каталоге.
	ProductID string
	// Pieces: количество единиц, всегда > 0.
	Pieces int64
	// Name и UnitPrice фиксируются в момент коммита заказа.
	Name      string
	UnitPrice decimal.Decimal
}

// Subtotal возвращает стоимость позиции: UnitPrice * Pieces.
func (i LineItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(i.Pieces))
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID         string
	Items      []LineItem
	Total      decimal.Decimal
	CustomerID string
	SellerID   string
	Status     OrderStatus
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Clone возвращает копию заказа с независимым срезом позиций.
func (o Order) Clone() Order {
	dst := o
	dst.Items = append([]LineItem(nil), o.Items...)
	return dst
}

// ComputeTotal считает сумму заказа по зафиксированным ценам позиций.
func ComputeTotal(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// FormatAmount печатает сумму без округления, но не короче двух знаков
// после точки: 8 -> "8.00", 0.125 -> "0.125".
func FormatAmount(d decimal.Decimal) string {
	if d.Equal(d.Truncate(2)) {
		return d.StringFixed(2)
	}
	return d.String()
}

// PiecesByProduct сворачивает позиции в карту product_id → количество.
func PiecesByProduct(items []LineItem) map[string]int64 {
	result := make(map[string]int64, len(items))
	for _, item := range items {
		result[item.ProductID] += item.Pieces
	}
	return result
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.SellerID == "" {
		errs = append(errs, ErrSellerRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrStatusInvalid)
	}
	if o.Total.IsNegative() {
		errs = append(errs, ErrTotalNegative)
	}

	for _, item := range o.Items {
		if item.ProductID == "" {
			errs = append(errs, ErrProductRequired)
		}
		if item.Pieces <= 0 {
			errs = append(errs, ErrPiecesInvalid)
		}
		if item.UnitPrice.IsNegative() {
			errs = append(errs, ErrPriceInvalid)
		}
	}
	if !ComputeTotal(o.Items).Equal(o.Total) {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}
