package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствующего идентификатора продавца.
	ErrSellerRequired = errors.New("seller_id is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка пустого product_id в позиции.
	ErrProductRequired = errors.New("item product_id is required")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrPiecesInvalid = errors.New("item pieces must be greater than zero")
	// Ошибка, если цена отрицательная.
	ErrPriceInvalid = errors.New("price must be non-negative")
	// Ошибка отрицательной суммы заказа.
	ErrTotalNegative = errors.New("total must be non-negative")
	// Ошибка неизвестного статуса заказа.
	ErrStatusInvalid = errors.New("order status is invalid")
	// Ошибка отрицательного остатка при регистрации товара.
	ErrStockNegative = errors.New("stock must be non-negative")
	// ErrStockOverflow: пополнение вывело бы остаток за пределы int64.
	ErrStockOverflow = errors.New("stock would overflow")
	// Ошибка пустого названия товара.
	ErrProductNameRequired = errors.New("product name is required")
	// Ошибки обязательных полей клиента.
	ErrCustomerNameRequired  = errors.New("customer name is required")
	ErrCustomerEmailRequired = errors.New("customer email is required")

	// ErrTotalMismatch: переданная вызывающей стороной сумма расходится с расчётной.
	ErrTotalMismatch = errors.New("order total does not match items sum")

	// ErrCustomerNotFound возвращается справочником клиентов.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrProductNotFound возвращается складом, если товара нет.
	ErrProductNotFound = errors.New("product not found")
	// ErrInsufficientStock: на складе меньше единиц, чем запрошено.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrUnauthorized: продавец не владеет клиентом или заказом.
	ErrUnauthorized = errors.New("seller is not allowed to act on this customer")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrConflict сигнализирует о конкурентном изменении заказа (optimistic locking).
	ErrConflict = errors.New("order was modified concurrently")
	// ErrPersistence: хранилище недоступно или вернуло инфраструктурную ошибку.
	ErrPersistence = errors.New("persistence failure")
	// ErrInvalidStatusTransition: переход статуса не разрешён.
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	// ErrOrderNotEditable: позиции можно менять только у заказа в статусе PROCESSING.
	ErrOrderNotEditable = errors.New("order items can only be revised while processing")
	// ErrReleaseIncomplete: изменение заказа сохранено, но часть резерва не вернулась на склад.
	ErrReleaseIncomplete = errors.New("order committed but stock release is incomplete")
	// ErrDuplicateProduct: товар с таким идентификатором уже зарегистрирован.
	ErrDuplicateProduct = errors.New("product already exists")
	// ErrDuplicateCustomer: клиент с таким идентификатором или email уже существует.
	ErrDuplicateCustomer = errors.New("customer already exists")

	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// Ошибки idempotency-хранилища.
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
)

// InsufficientStockError несёт подробности нехватки остатка по товару.
type InsufficientStockError struct {
	ProductID string
	Requested int64
	Available int64
}

// Shortfall возвращает, скольких единиц не хватило.
func (e *InsufficientStockError) Shortfall() int64 {
	return e.Requested - e.Available
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d, shortfall %d",
		e.ProductID, e.Requested, e.Available, e.Shortfall())
}

// Is позволяет сравнивать через errors.Is(err, ErrInsufficientStock).
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// NewInsufficientStock конструирует ошибку нехватки остатка. available
// может быть прочитан уже после неудачного списания, поэтому ограничивается
// сверху requested-1: нехватка всегда не меньше одной единицы.
func NewInsufficientStock(productID string, requested, available int64) error {
	if available >= requested {
		available = requested - 1
	}
	if available < 0 {
		available = 0
	}
	return &InsufficientStockError{ProductID: productID, Requested: requested, Available: available}
}

// PersistenceError оборачивает инфраструктурную ошибку хранилища.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrPersistence, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// Persistence оборачивает err как PersistenceError; nil остаётся nil.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// CompensationError возвращается, когда после исходной ошибки не удалось
// выполнить компенсирующие действия. Наружу видны обе причины.
type CompensationError struct {
	Cause    error
	Failures []error
}

func (e *CompensationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("%v; compensation failed: %s", e.Cause, strings.Join(parts, "; "))
}

func (e *CompensationError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+2)
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	errs = append(errs, ErrPersistence)
	return append(errs, e.Failures...)
}

// IsConflict проверяет, является ли ошибка конфликтом версий.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsIdempotencyConflict проверяет, что ключ идемпотентности уже использован.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
