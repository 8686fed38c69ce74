package domain

import (
	"context"
	"time"
)

// InventoryLedger владеет остатками товаров. Операции атомарны по товару.
type InventoryLedger interface {
	// Reserve атомарно проверяет остаток и списывает pieces.
	// Возвращает ErrProductNotFound или *InsufficientStockError.
	Reserve(ctx context.Context, productID string, pieces int64) (Reservation, error)
	// Release возвращает pieces на склад (компенсация) и отдаёт новый остаток.
	Release(ctx context.Context, productID string, pieces int64) (int64, error)
	// Product возвращает текущее состояние товара.
	Product(ctx context.Context, productID string) (Product, error)
}

// ProductCatalog ведёт карточки товаров вместе с остатком.
type ProductCatalog interface {
	CreateProduct(ctx context.Context, product Product) (Product, error)
	// UpdateProduct применяет ProductUpdate атомарно: остаток не уходит
	// ниже нуля, а новая цена действует для следующих резервов.
	UpdateProduct(ctx context.Context, update ProductUpdate) (Product, error)
	// ListProducts возвращает товары по имени, затем по ID.
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error)
}

// CustomerDirectory отвечает на вопрос «чей это клиент». Без кэширования.
type CustomerDirectory interface {
	ResolveOwner(ctx context.Context, customerID string) (string, error)
	Customer(ctx context.Context, customerID string) (Customer, error)
}

// CustomerRegistry регистрирует клиентов продавца.
type CustomerRegistry interface {
	CreateCustomer(ctx context.Context, customer Customer) (Customer, error)
	// ListCustomers возвращает клиентов продавца в порядке регистрации.
	ListCustomers(ctx context.Context, sellerID string, limit int) ([]Customer, error)
}

// OrderFilter ограничивает выборку заказов. Пустые поля не фильтруют.
type OrderFilter struct {
	SellerID   string
	CustomerID string
	Status     OrderStatus
	Limit      int
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла заказа. История
// разделена по продавцам: List видит только события, записанные от имени
// sellerID.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(sellerID, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, statusCode int) error
	MarkFailed(key string, responseBody []byte, statusCode int) error
	// Release освобождает ключ, пока запрос ещё processing, чтобы клиент мог
	// повторить его после временного сбоя. Записи с ответом не трогает.
	Release(key string) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// FulfillmentStep задаёт константы шагов для метрик/логов.
type FulfillmentStep string

const (
	StepAuthorize FulfillmentStep = "authorize"
	StepReserve   FulfillmentStep = "reserve"
	StepPersist   FulfillmentStep = "persist"
	StepRelease   FulfillmentStep = "release"
	StepRollback  FulfillmentStep = "rollback"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
