package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/crm/internal/domain"
)

type inventoryLedger struct {
	db *sql.DB
}

// InventoryLedger объединяет порты склада и каталога для PostgreSQL.
type InventoryLedger interface {
	domain.InventoryLedger
	domain.ProductCatalog
}

// NewInventoryLedger создаёт склад поверх таблицы products.
// Атомарность списания обеспечивает одно условное UPDATE.
func NewInventoryLedger(store *Store) InventoryLedger {
	return &inventoryLedger{db: store.DB()}
}

func (l *inventoryLedger) CreateProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
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

	ctx, cancel := opContext(ctx)
	defer cancel()

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price, stock, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, product.ID, product.Name, product.Price, product.Stock, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Product{}, domain.ErrDuplicateProduct
		}
		return domain.Product{}, classify("create product", err)
	}
	return product, nil
}

func (l *inventoryLedger) Reserve(ctx context.Context, productID string, pieces int64) (domain.Reservation, error) {
	if pieces <= 0 {
		return domain.Reservation{}, domain.ErrPiecesInvalid
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	var (
		name      string
		price     decimal.Decimal
		remaining int64
	)
	err := l.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock - $1
		WHERE id = $2 AND stock >= $1
		RETURNING name, price, stock
	`, pieces, productID).Scan(&name, &price, &remaining)
	if err == nil {
		return domain.Reservation{
			ProductID:      productID,
			Name:           name,
			UnitPrice:      price,
			Pieces:         pieces,
			RemainingStock: remaining,
		}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Reservation{}, classify("reserve stock", err)
	}

	// Ни одна строка не обновлена: товара нет или остатка не хватило.
	// Повторное чтение идёт без блокировки, конкурентный Release мог уже
	// вернуть остаток; NewInsufficientStock держит нехватку положительной.
	product, err := l.Product(ctx, productID)
	if err != nil {
		return domain.Reservation{}, err
	}
	return domain.Reservation{}, domain.NewInsufficientStock(productID, pieces, product.Stock)
}

func (l *inventoryLedger) Release(ctx context.Context, productID string, pieces int64) (int64, error) {
	if pieces <= 0 {
		return 0, domain.ErrPiecesInvalid
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	var remaining int64
	err := l.db.QueryRowContext(ctx, `
		UPDATE products SET stock = stock + $1 WHERE id = $2 RETURNING stock
	`, pieces, productID).Scan(&remaining)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrProductNotFound
		}
		return 0, classify("release stock", err)
	}
	return remaining, nil
}

func (l *inventoryLedger) Product(ctx context.Context, productID string) (domain.Product, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	product := domain.Product{ID: productID}
	err := l.db.QueryRowContext(ctx, `
		SELECT name, price, stock, created_at FROM products WHERE id = $1
	`, productID).Scan(&product.Name, &product.Price, &product.Stock, &product.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, classify(fmt.Sprintf("load product %s", productID), err)
	}
	return product, nil
}

// UpdateProduct меняет имя, цену и остаток одним условным UPDATE: строка
// не обновится, если списание уведёт остаток ниже нуля.
func (l *inventoryLedger) UpdateProduct(ctx context.Context, upd domain.ProductUpdate) (domain.Product, error) {
	upd.Name = strings.TrimSpace(upd.Name)
	if errs := upd.Validate(); len(errs) > 0 {
		return domain.Product{}, errs[0]
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	var price any
	if upd.Price != nil {
		price = *upd.Price
	}

	product := domain.Product{ID: upd.ProductID}
	err := l.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock + $2,
		    name = COALESCE(NULLIF($3, ''), name),
		    price = COALESCE($4::NUMERIC, price)
		WHERE id = $1 AND stock + $2 >= 0
		RETURNING name, price, stock, created_at
	`, upd.ProductID, upd.StockDelta, upd.Name, price).Scan(
		&product.Name, &product.Price, &product.Stock, &product.CreatedAt,
	)
	switch {
	case err == nil:
		return product, nil
	case isNumericOutOfRange(err):
		return domain.Product{}, domain.ErrStockOverflow
	case !errors.Is(err, sql.ErrNoRows):
		return domain.Product{}, classify("update product", err)
	}

	current, err := l.Product(ctx, upd.ProductID)
	if err != nil {
		return domain.Product{}, err
	}
	return domain.Product{}, domain.NewInsufficientStock(upd.ProductID, -upd.StockDelta, current.Stock)
}

func (l *inventoryLedger) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	query := `SELECT id, name, price, stock, created_at FROM products`
	var args []any
	if name := strings.TrimSpace(filter.Name); name != "" {
		args = append(args, "%"+likeEscaper.Replace(name)+"%")
		query += ` WHERE name ILIKE $1`
	}
	query += ` ORDER BY name ASC, id ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list products", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

// likeEscaper экранирует метасимволы LIKE в поисковой строке.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

var _ InventoryLedger = (*inventoryLedger)(nil)
