package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/crm/internal/domain"
)

// CustomerDirectory хранит клиентов в памяти.
type CustomerDirectory struct {
	mu      sync.RWMutex
	byID    map[string]domain.Customer
	byEmail map[string]string
}

// NewCustomerDirectory создаёт пустой справочник клиентов.
func NewCustomerDirectory() *CustomerDirectory {
	return &CustomerDirectory{
		byID:    make(map[string]domain.Customer),
		byEmail: make(map[string]string),
	}
}

// CreateCustomer регистрирует клиента; email уникален.
func (d *CustomerDirectory) CreateCustomer(_ context.Context, customer domain.Customer) (domain.Customer, error) {
	customer.Email = strings.ToLower(strings.TrimSpace(customer.Email))
	if errs := customer.Validate(); len(errs) > 0 {
		return domain.Customer{}, errs[0]
	}
	if customer.ID == "" {
		customer.ID = uuid.NewString()
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.byID[customer.ID]; exists {
		return domain.Customer{}, domain.ErrDuplicateCustomer
	}
	if _, exists := d.byEmail[customer.Email]; exists {
		return domain.Customer{}, domain.ErrDuplicateCustomer
	}
	d.byID[customer.ID] = customer
	d.byEmail[customer.Email] = customer.ID

	return customer, nil
}

// ResolveOwner возвращает продавца, владеющего клиентом.
func (d *CustomerDirectory) ResolveOwner(ctx context.Context, customerID string) (string, error) {
	customer, err := d.Customer(ctx, customerID)
	if err != nil {
		return "", err
	}
	return customer.SellerID, nil
}

// Customer возвращает карточку клиента.
func (d *CustomerDirectory) Customer(_ context.Context, customerID string) (domain.Customer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	customer, ok := d.byID[customerID]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return customer, nil
}

// ListCustomers возвращает клиентов продавца по времени регистрации.
func (d *CustomerDirectory) ListCustomers(_ context.Context, sellerID string, limit int) ([]domain.Customer, error) {
	if sellerID == "" {
		return nil, domain.ErrSellerRequired
	}

	d.mu.RLock()
	result := make([]domain.Customer, 0)
	for _, customer := range d.byID {
		if customer.SellerID == sellerID {
			result = append(result, customer)
		}
	}
	d.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var (
	_ domain.CustomerDirectory = (*CustomerDirectory)(nil)
	_ domain.CustomerRegistry  = (*CustomerDirectory)(nil)
)
