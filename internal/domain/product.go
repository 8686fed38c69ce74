package domain

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Product: товар каталога. Остаток меняется только через InventoryLedger.
type Product struct {
	ID        string
	Name      string
	Price     decimal.Decimal
	Stock     int64
	CreatedAt time.Time
}

// Validate проверяет поля товара перед регистрацией в каталоге.
func (p *Product) Validate() []error {
	var errs []error

	if p.Name == "" {
		errs = append(errs, ErrProductNameRequired)
	}
	if p.Price.IsNegative() {
		errs = append(errs, ErrPriceInvalid)
	}
	if p.Stock < 0 {
		errs = append(errs, ErrStockNegative)
	}

	return errs
}

// DefaultProductSearchLimit ограничивает поиск товаров по имени.
const DefaultProductSearchLimit = 25

// ProductFilter выбирает товары каталога. Name ищется как подстрока без
// учёта регистра; пустое значение не фильтрует.
type ProductFilter struct {
	Name  string
	Limit int
}

// Matches проверяет товар по фильтру имени.
func (f ProductFilter) Matches(p Product) bool {
	query := strings.TrimSpace(f.Name)
	if query == "" {
		return true
	}
	return strings.Contains(strings.ToLower(p.Name), strings.ToLower(query))
}

// SelectProducts фильтрует товары, упорядочивает по имени и ID и обрезает
// до Limit (<= 0: без ограничения).
func (f ProductFilter) SelectProducts(products []Product) []Product {
	selected := make([]Product, 0, len(products))
	for _, p := range products {
		if f.Matches(p) {
			selected = append(selected, p)
		}
	}
	sort.Slice(selected, func(i, j int) bool {
		if selected[i].Name != selected[j].Name {
			return selected[i].Name < selected[j].Name
		}
		return selected[i].ID < selected[j].ID
	})
	if f.Limit > 0 && len(selected) > f.Limit {
		selected = selected[:f.Limit]
	}
	return selected
}

// ProductUpdate меняет карточку товара одним атомарным шагом: имя, цену и
// остаток. Пустое Name и nil Price оставляют поле как есть; StockDelta
// пополняет склад (> 0) или списывает (< 0) без заказа.
type ProductUpdate struct {
	ProductID  string
	Name       string
	Price      *decimal.Decimal
	StockDelta int64
}

// Validate проверяет изменение до обращения к складу.
func (u *ProductUpdate) Validate() []error {
	var errs []error

	if u.ProductID == "" {
		errs = append(errs, ErrProductRequired)
	}
	if u.Price != nil && u.Price.IsNegative() {
		errs = append(errs, ErrPriceInvalid)
	}
	if u.StockDelta == math.MinInt64 {
		errs = append(errs, ErrStockOverflow)
	}

	return errs
}

// NextStock применяет StockDelta к текущему остатку. Списание больше
// остатка даёт *InsufficientStockError, переполнение: ErrStockOverflow.
func (u ProductUpdate) NextStock(current int64) (int64, error) {
	switch {
	case u.StockDelta < 0 && current < -u.StockDelta:
		return 0, NewInsufficientStock(u.ProductID, -u.StockDelta, current)
	case u.StockDelta > 0 && current > math.MaxInt64-u.StockDelta:
		return 0, ErrStockOverflow
	}
	return current + u.StockDelta, nil
}

// Customer: клиент продавца. SellerID неизменен после создания.
type Customer struct {
	ID        string
	Name      string
	LastName  string
	Email     string
	Phone     string
	Company   string
	SellerID  string
	CreatedAt time.Time
}

// Validate проверяет обязательные поля клиента.
func (c *Customer) Validate() []error {
	var errs []error

	if c.Name == "" {
		errs = append(errs, ErrCustomerNameRequired)
	}
	if c.Email == "" {
		errs = append(errs, ErrCustomerEmailRequired)
	}
	if c.SellerID == "" {
		errs = append(errs, ErrSellerRequired)
	}

	return errs
}
