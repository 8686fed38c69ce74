package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/crm/internal/domain"
)

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type orderRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{
		db:  store.DB(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusProcessing
	}
	now := r.now()
	order.CreatedAt, order.UpdatedAt, order.Version = now, now, 1

	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO orders (id, customer_id, seller_id, status, total, version, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`,
			order.ID, order.CustomerID, order.SellerID, string(order.Status),
			order.Total, order.Version, order.CreatedAt, order.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		return insertItems(ctx, tx, order.ID, order.Items)
	})
	if err != nil {
		return domain.Order{}, r.translate("create order", err)
	}
	return order.Clone(), nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var (
		order  domain.Order
		status string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, customer_id, seller_id, status, total, version, created_at, updated_at
		FROM orders
		WHERE id = $1
	`, id).Scan(
		&order.ID, &order.CustomerID, &order.SellerID, &status,
		&order.Total, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, classify("select order", err)
	}
	order.Status = domain.OrderStatus(status)

	items, err := loadItems(ctx, r.db, order.ID)
	if err != nil {
		return domain.Order{}, classify("load order items", err)
	}
	order.Items = items
	return order, nil
}

// Replace обновляет заказ при совпадении версии и целиком переписывает позиции.
// Продавец, ID и CreatedAt не меняются.
func (r *orderRepository) Replace(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var stored domain.Order
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			UPDATE orders
			SET customer_id = $1,
			    status = $2,
			    total = $3,
			    version = version + 1,
			    updated_at = $4
			WHERE id = $5 AND version = $6
			RETURNING seller_id, version, created_at, updated_at
		`,
			order.CustomerID, string(order.Status), order.Total, r.now(), order.ID, order.Version,
		).Scan(&stored.SellerID, &stored.Version, &stored.CreatedAt, &stored.UpdatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return missingOrStale(ctx, tx, order.ID)
		}
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, order.ID); err != nil {
			return fmt.Errorf("clear order items: %w", err)
		}
		return insertItems(ctx, tx, order.ID, order.Items)
	})
	if err != nil {
		return domain.Order{}, r.translate("replace order", err)
	}

	stored.ID = order.ID
	stored.CustomerID = order.CustomerID
	stored.Status = order.Status
	stored.Total = order.Total
	stored.Items = append([]domain.LineItem(nil), order.Items...)
	return stored, nil
}

func (r *orderRepository) Delete(ctx context.Context, id string, version int64) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE id = $1 AND version = $2`, id, version)
		if err != nil {
			return fmt.Errorf("delete order: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return missingOrStale(ctx, tx, id)
		}
		return nil
	})
	return r.translate("delete order", err)
}

func (r *orderRepository) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var (
		conds []string
		args  []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if filter.SellerID != "" {
		add("seller_id", filter.SellerID)
	}
	if filter.CustomerID != "" {
		add("customer_id", filter.CustomerID)
	}
	if filter.Status != "" {
		add("status", string(filter.Status))
	}

	query := `SELECT id, customer_id, seller_id, status, total, version, created_at, updated_at FROM orders`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	orders, err := scanOrders(ctx, r.db, query, args...)
	if err != nil {
		return nil, classify("list orders", err)
	}
	// Позиции подгружаются после закрытия курсора, чтобы не держать два соединения.
	for i := range orders {
		items, err := loadItems(ctx, r.db, orders[i].ID)
		if err != nil {
			return nil, classify("load order items", err)
		}
		orders[i].Items = items
	}
	return orders, nil
}

// translate превращает ограничения схемы в доменные ошибки.
func (r *orderRepository) translate(op string, err error) error {
	if err == nil {
		return nil
	}
	// Позиции хранят снимок имени и цены и не ссылаются на products:
	// при CRM_INVENTORY_DRIVER=redis таблица товаров пуста.
	switch {
	case isUniqueViolation(err):
		return domain.ErrConflict
	case isForeignKeyViolation(err):
		return domain.ErrCustomerNotFound
	}
	return classify(op, err)
}

func missingOrStale(ctx context.Context, tx *sql.Tx, orderID string) error {
	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return fmt.Errorf("check order exists: %w", err)
	}
	if !exists {
		return domain.ErrOrderNotFound
	}
	return domain.ErrConflict
}

func insertItems(ctx context.Context, tx *sql.Tx, orderID string, items []domain.LineItem) error {
	for i, item := range items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, position, product_id, name, unit_price, pieces)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, orderID, i, item.ProductID, item.Name, item.UnitPrice, item.Pieces); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

func scanOrders(ctx context.Context, q queryer, query string, args ...any) ([]domain.Order, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		var (
			order  domain.Order
			status string
		)
		if err := rows.Scan(
			&order.ID, &order.CustomerID, &order.SellerID, &status,
			&order.Total, &order.Version, &order.CreatedAt, &order.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		order.Status = domain.OrderStatus(status)
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	return orders, nil
}

func loadItems(ctx context.Context, q queryer, orderID string) ([]domain.LineItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT product_id, name, unit_price, pieces
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.LineItem, 0)
	for rows.Next() {
		var item domain.LineItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.UnitPrice, &item.Pieces); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
