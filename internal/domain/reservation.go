package domain

import "github.com/shopspring/decimal"

// Reservation описывает успешное списание остатка под позицию заказа.
type Reservation struct {
	ProductID string
	Name      string
	// UnitPrice: цена товара в момент резервирования.
	UnitPrice decimal.Decimal
	Pieces    int64
	// RemainingStock: остаток после списания.
	RemainingStock int64
}

// LineItem превращает резерв в позицию заказа с зафиксированной ценой.
func (r Reservation) LineItem() LineItem {
	return LineItem{
		ProductID: r.ProductID,
		Pieces:    r.Pieces,
		Name:      r.Name,
		UnitPrice: r.UnitPrice,
	}
}
