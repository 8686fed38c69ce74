package memory

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/crm/internal/domain"
)

// productAttrs: имя и цена товара. Заменяются целиком при UpdateProduct.
type productAttrs struct {
	name  string
	price decimal.Decimal
}

// stockSlot хранит атрибуты товара и атомарный счётчик остатка. update
// сериализует UpdateProduct; резервы его не берут.
type stockSlot struct {
	attrs     atomic.Pointer[productAttrs]
	createdAt time.Time
	stock     atomic.Int64
	update    sync.Mutex
}

// InventoryLedger: in-memory склад. Карта слотов защищена RWMutex только на
// время поиска; сами списания идут через compare-and-swap без блокировок.
type InventoryLedger struct {
	mu    sync.RWMutex
	slots map[string]*stockSlot
}

// NewInventoryLedger создаёт пустой in-memory склад.
func NewInventoryLedger() *InventoryLedger {
	return &InventoryLedger{slots: make(map[string]*stockSlot)}
}

// CreateProduct регистрирует товар с начальным остатком.
func (l *InventoryLedger) CreateProduct(_ context.Context, product domain.Product) (domain.Product, error) {
	product.Name = strings.TrimSpace(product.Name)
	if errs := product.Validate(); len(errs) > 0 {
		return domain.Product{}, errs[0]
	}
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.slots[product.ID]; exists {
		return domain.Product{}, domain.ErrDuplicateProduct
	}
	slot := &stockSlot{createdAt: product.CreatedAt}
	slot.attrs.Store(&productAttrs{name: product.Name, price: product.Price})
	slot.stock.Store(product.Stock)
	l.slots[product.ID] = slot

	return product, nil
}

// Reserve списывает pieces через CAS-цикл: конкурентные списания одного товара
// не могут оба увидеть устаревший остаток.
func (l *InventoryLedger) Reserve(_ context.Context, productID string, pieces int64) (domain.Reservation, error) {
	if pieces <= 0 {
		return domain.Reservation{}, domain.ErrPiecesInvalid
	}
	slot, ok := l.slot(productID)
	if !ok {
		return domain.Reservation{}, domain.ErrProductNotFound
	}

	for {
		current := slot.stock.Load()
		if current < pieces {
			return domain.Reservation{}, domain.NewInsufficientStock(productID, pieces, current)
		}
		if slot.stock.CompareAndSwap(current, current-pieces) {
			attrs := slot.attrs.Load()
			return domain.Reservation{
				ProductID:      productID,
				Name:           attrs.name,
				UnitPrice:      attrs.price,
				Pieces:         pieces,
				RemainingStock: current - pieces,
			}, nil
		}
	}
}

// Release возвращает pieces на склад.
func (l *InventoryLedger) Release(_ context.Context, productID string, pieces int64) (int64, error) {
	if pieces <= 0 {
		return 0, domain.ErrPiecesInvalid
	}
	slot, ok := l.slot(productID)
	if !ok {
		return 0, domain.ErrProductNotFound
	}
	return slot.stock.Add(pieces), nil
}

// UpdateProduct меняет остаток тем же CAS-циклом, что и Reserve, поэтому
// конкурентные списания не могут увести склад ниже нуля.
func (l *InventoryLedger) UpdateProduct(_ context.Context, upd domain.ProductUpdate) (domain.Product, error) {
	upd.Name = strings.TrimSpace(upd.Name)
	if errs := upd.Validate(); len(errs) > 0 {
		return domain.Product{}, errs[0]
	}
	slot, ok := l.slot(upd.ProductID)
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}

	slot.update.Lock()
	defer slot.update.Unlock()

	for {
		current := slot.stock.Load()
		next, err := upd.NextStock(current)
		if err != nil {
			return domain.Product{}, err
		}
		if slot.stock.CompareAndSwap(current, next) {
			break
		}
	}

	attrs := *slot.attrs.Load()
	if upd.Name != "" {
		attrs.name = upd.Name
	}
	if upd.Price != nil {
		attrs.price = *upd.Price
	}
	slot.attrs.Store(&attrs)

	return slot.snapshot(upd.ProductID), nil
}

// ListProducts отдаёт снимки товаров, подходящих под фильтр.
func (l *InventoryLedger) ListProducts(_ context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	l.mu.RLock()
	products := make([]domain.Product, 0, len(l.slots))
	for id, slot := range l.slots {
		products = append(products, slot.snapshot(id))
	}
	l.mu.RUnlock()

	return filter.SelectProducts(products), nil
}

// Product возвращает снимок товара.
func (l *InventoryLedger) Product(_ context.Context, productID string) (domain.Product, error) {
	slot, ok := l.slot(productID)
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return slot.snapshot(productID), nil
}

func (s *stockSlot) snapshot(productID string) domain.Product {
	attrs := s.attrs.Load()
	return domain.Product{
		ID:        productID,
		Name:      attrs.name,
		Price:     attrs.price,
		Stock:     s.stock.Load(),
		CreatedAt: s.createdAt,
	}
}

func (l *InventoryLedger) slot(productID string) (*stockSlot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	slot, ok := l.slots[productID]
	return slot, ok
}

var (
	_ domain.InventoryLedger = (*InventoryLedger)(nil)
	_ domain.ProductCatalog  = (*InventoryLedger)(nil)
)
