package grpcsvc

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/crm/internal/domain"
)

// LineItem: позиция заказа в API. Name и UnitPrice заполняются только в ответах.
type LineItem struct {
	ProductID string `json:"product_id"`
	Pieces    int64  `json:"pieces"`
	Name      string `json:"name,omitempty"`
	UnitPrice string `json:"unit_price,omitempty"`
}

// Order: заказ в API. Суммы передаются десятичной строкой.
type Order struct {
	ID         string     `json:"id"`
	CustomerID string     `json:"customer_id"`
	SellerID   string     `json:"seller_id"`
	Status     string     `json:"status"`
	Items      []LineItem `json:"items"`
	Total      string     `json:"total"`
	Version    int64      `json:"version"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type TimelineEvent struct {
	Type     string `json:"type"`
	Reason   string `json:"reason,omitempty"`
	UnixTime int64  `json:"unix_time"`
}

type SubmitOrderRequest struct {
	CustomerID string     `json:"customer_id"`
	Items      []LineItem `json:"items"`
	// Total необязателен; если задан, сверяется с суммой позиций.
	Total string `json:"total,omitempty"`
}

type SubmitOrderResponse struct {
	Order *Order `json:"order"`
}

// ReviseOrderRequest: пустые поля не меняются, отсутствующий items оставляет позиции.
type ReviseOrderRequest struct {
	OrderID    string     `json:"order_id"`
	CustomerID string     `json:"customer_id,omitempty"`
	Items      []LineItem `json:"items,omitempty"`
	Status     string     `json:"status,omitempty"`
	Total      string     `json:"total,omitempty"`
}

type ReviseOrderResponse struct {
	Order *Order `json:"order"`
}

type RemoveOrderRequest struct {
	OrderID string `json:"order_id"`
}

type RemoveOrderResponse struct {
	OrderID string `json:"order_id"`
}

type GetOrderRequest struct {
	OrderID string `json:"order_id"`
}

type GetOrderResponse struct {
	Order    *Order          `json:"order"`
	Timeline []TimelineEvent `json:"timeline,omitempty"`
}

type ListOrdersRequest struct {
	CustomerID string `json:"customer_id,omitempty"`
	Status     string `json:"status,omitempty"`
	PageSize   int32  `json:"page_size,omitempty"`
}

type ListOrdersResponse struct {
	Orders []*Order `json:"orders"`
}

type ChangeOrderStatusRequest struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type ChangeOrderStatusResponse struct {
	Order *Order `json:"order"`
}

// Product: товар каталога в API.
type Product struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Price     string    `json:"price"`
	Stock     int64     `json:"stock"`
	CreatedAt time.Time `json:"created_at"`
}

type RegisterProductRequest struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Price string `json:"price"`
	Stock int64  `json:"stock"`
}

type RegisterProductResponse struct {
	Product *Product `json:"product"`
}

type GetProductRequest struct {
	ProductID string `json:"product_id"`
}

type GetProductResponse struct {
	Product *Product `json:"product"`
}

// UpdateProductRequest: пустые name и price не меняются, stock_delta
// пополняет (> 0) или списывает (< 0) остаток.
type UpdateProductRequest struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name,omitempty"`
	Price      string `json:"price,omitempty"`
	StockDelta int64  `json:"stock_delta,omitempty"`
}

type UpdateProductResponse struct {
	Product *Product `json:"product"`
}

// ListProductsRequest: поиск товара по подстроке имени.
type ListProductsRequest struct {
	Name     string `json:"name,omitempty"`
	PageSize int32  `json:"page_size,omitempty"`
}

type ListProductsResponse struct {
	Products []*Product `json:"products"`
}

// Customer: клиент продавца в API.
type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	LastName  string    `json:"last_name,omitempty"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	Company   string    `json:"company,omitempty"`
	SellerID  string    `json:"seller_id"`
	CreatedAt time.Time `json:"created_at"`
}

type RegisterCustomerRequest struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	LastName string `json:"last_name,omitempty"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	Company  string `json:"company,omitempty"`
}

type RegisterCustomerResponse struct {
	Customer *Customer `json:"customer"`
}

type GetCustomerRequest struct {
	CustomerID string `json:"customer_id"`
}

type GetCustomerResponse struct {
	Customer *Customer `json:"customer"`
}

type ListCustomersRequest struct {
	PageSize int32 `json:"page_size,omitempty"`
}

type ListCustomersResponse struct {
	Customers []*Customer `json:"customers"`
}

func toAPIOrder(order domain.Order) *Order {
	items := make([]LineItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, LineItem{
			ProductID: item.ProductID,
			Pieces:    item.Pieces,
			Name:      item.Name,
			UnitPrice: domain.FormatAmount(item.UnitPrice),
		})
	}
	return &Order{
		ID:         order.ID,
		CustomerID: order.CustomerID,
		SellerID:   order.SellerID,
		Status:     string(order.Status),
		Items:      items,
		Total:      domain.FormatAmount(order.Total),
		Version:    order.Version,
		CreatedAt:  order.CreatedAt,
		UpdatedAt:  order.UpdatedAt,
	}
}

func toAPIProduct(p domain.Product) *Product {
	return &Product{
		ID:        p.ID,
		Name:      p.Name,
		Price:     p.Price.String(),
		Stock:     p.Stock,
		CreatedAt: p.CreatedAt,
	}
}

func toAPICustomer(c domain.Customer) *Customer {
	return &Customer{
		ID:        c.ID,
		Name:      c.Name,
		LastName:  c.LastName,
		Email:     c.Email,
		Phone:     c.Phone,
		Company:   c.Company,
		SellerID:  c.SellerID,
		CreatedAt: c.CreatedAt,
	}
}

// parseAmount разбирает необязательную сумму; пустая строка даёт nil.
func parseAmount(field, value string) (*decimal.Decimal, error) {
	if value == "" {
		return nil, nil
	}
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return nil, invalidArgument("%s must be a decimal number", field)
	}
	return &amount, nil
}
