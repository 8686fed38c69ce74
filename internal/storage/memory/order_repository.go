package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/crm/internal/domain"
)

// orderRepositoryInMemory: простая in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Order
	now   func() time.Time
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items: make(map[string]domain.Order),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(_ context.Context, order domain.Order) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if _, exists := r.items[order.ID]; exists {
		return domain.Order{}, domain.ErrConflict
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusProcessing
	}
	now := r.now()
	order.CreatedAt = now
	order.UpdatedAt = now
	order.Version = 1

	// Храним копию, чтобы вызывающая сторона не мутировала состояние репозитория.
	r.items[order.ID] = order.Clone()
	return order.Clone(), nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// Replace перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepositoryInMemory) Replace(_ context.Context, order domain.Order) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[order.ID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.Order{}, domain.ErrConflict
	}

	next := current.Clone()
	next.Items = append([]domain.LineItem(nil), order.Items...)
	next.Total = order.Total
	next.CustomerID = order.CustomerID
	next.Status = order.Status
	next.Version = current.Version + 1
	next.UpdatedAt = r.now()

	r.items[order.ID] = next
	return next.Clone(), nil
}

// Delete удаляет заказ при совпадении версии.
func (r *orderRepositoryInMemory) Delete(_ context.Context, id string, version int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != version {
		return domain.ErrConflict
	}
	delete(r.items, id)
	return nil
}

// List возвращает заказы по фильтру, новые первыми; limit > 0 ограничивает выборку.
func (r *orderRepositoryInMemory) List(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		if filter.SellerID != "" && order.SellerID != filter.SellerID {
			continue
		}
		if filter.CustomerID != "" && order.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		result = append(result, order.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}

	return result, nil
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
