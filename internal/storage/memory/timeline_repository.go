package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/crm/internal/domain"
)

// orderHistory: события одного заказа, упорядоченные по Occurred.
type orderHistory []domain.TimelineEvent

// insert ставит событие после всех событий с тем же или более ранним временем.
func (h orderHistory) insert(event domain.TimelineEvent) orderHistory {
	at := sort.Search(len(h), func(i int) bool {
		return h[i].Occurred.After(event.Occurred)
	})
	h = append(h, domain.TimelineEvent{})
	copy(h[at+1:], h[at:])
	h[at] = event
	return h
}

// TimelineRepository: история заказов в памяти, разложенная по продавцам.
// Удаление заказа историю не трогает.
type TimelineRepository struct {
	mu      sync.RWMutex
	sellers map[string]map[string]orderHistory
	now     func() time.Time
}

// NewTimelineRepository создаёт пустую историю.
func NewTimelineRepository() *TimelineRepository {
	return &TimelineRepository{
		sellers: make(map[string]map[string]orderHistory),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *TimelineRepository) Append(event domain.TimelineEvent) error {
	switch {
	case event.OrderID == "":
		return domain.ErrOrderNotFound
	case event.SellerID == "":
		return domain.ErrSellerRequired
	}
	if event.Occurred.IsZero() {
		event.Occurred = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	orders, ok := r.sellers[event.SellerID]
	if !ok {
		orders = make(map[string]orderHistory)
		r.sellers[event.SellerID] = orders
	}
	orders[event.OrderID] = orders[event.OrderID].insert(event)
	return nil
}

// List отдаёт копию истории заказа, записанной от имени sellerID.
func (r *TimelineRepository) List(sellerID, orderID string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	history := r.sellers[sellerID][orderID]
	return append([]domain.TimelineEvent{}, history...), nil
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)
