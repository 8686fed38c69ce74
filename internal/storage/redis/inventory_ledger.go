// Package redis хранит остатки товаров в Redis. Проверка и списание
// выполняются одним Lua-скриптом, поэтому атомарны для каждого товара.
package redis

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/crm/internal/domain"
)

const defaultKeyPrefix = "crm:product:"

var (
	//go:embed scripts/reserve.lua
	reserveSource string
	//go:embed scripts/release.lua
	releaseSource string
	//go:embed scripts/create.lua
	createSource string
	//go:embed scripts/update.lua
	updateSource string
)

// InventoryLedger: склад поверх Redis-хэшей. Идентификаторы товаров
// дополнительно лежат в множестве-индексе для ListProducts.
type InventoryLedger struct {
	rdb     goredis.UniversalClient
	prefix  string
	reserve *goredis.Script
	release *goredis.Script
	create  *goredis.Script
	update  *goredis.Script
}

// Option настраивает InventoryLedger.
type Option func(*InventoryLedger)

// WithKeyPrefix задаёт префикс ключей товаров.
func WithKeyPrefix(prefix string) Option {
	return func(l *InventoryLedger) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// NewClient создаёт клиента и проверяет соединение.
func NewClient(ctx context.Context, addr string) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// NewInventoryLedger создаёт склад поверх переданного клиента.
func NewInventoryLedger(rdb goredis.UniversalClient, opts ...Option) *InventoryLedger {
	l := &InventoryLedger{
		rdb:     rdb,
		prefix:  defaultKeyPrefix,
		reserve: goredis.NewScript(reserveSource),
		release: goredis.NewScript(releaseSource),
		create:  goredis.NewScript(createSource),
		update:  goredis.NewScript(updateSource),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *InventoryLedger) key(productID string) string {
	return l.prefix + productID
}

// indexKey: "crm:product:" -> "crm:products".
func (l *InventoryLedger) indexKey() string {
	return strings.TrimSuffix(l.prefix, ":") + "s"
}

// CreateProduct регистрирует товар с начальным остатком.
func (l *InventoryLedger) CreateProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
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

	created, err := l.create.Run(ctx, l.rdb, []string{l.key(product.ID), l.indexKey()},
		product.Name, product.Price.String(), product.Stock, product.CreatedAt.UnixNano(), product.ID,
	).Int64()
	if err != nil {
		return domain.Product{}, domain.Persistence("create product", err)
	}
	if created == 0 {
		return domain.Product{}, domain.ErrDuplicateProduct
	}
	return product, nil
}

// Reserve атомарно проверяет и списывает остаток.
func (l *InventoryLedger) Reserve(ctx context.Context, productID string, pieces int64) (domain.Reservation, error) {
	if pieces <= 0 {
		return domain.Reservation{}, domain.ErrPiecesInvalid
	}

	raw, err := l.reserve.Run(ctx, l.rdb, []string{l.key(productID)}, pieces).Slice()
	if err != nil {
		return domain.Reservation{}, domain.Persistence("reserve stock", err)
	}
	if len(raw) == 0 {
		return domain.Reservation{}, domain.Persistence("reserve stock", fmt.Errorf("empty script reply"))
	}

	status, _ := raw[0].(int64)
	switch status {
	case -1:
		return domain.Reservation{}, domain.ErrProductNotFound
	case 0:
		available, _ := raw[1].(int64)
		return domain.Reservation{}, domain.NewInsufficientStock(productID, pieces, available)
	}

	if len(raw) < 4 {
		return domain.Reservation{}, domain.Persistence("reserve stock", fmt.Errorf("unexpected script reply %v", raw))
	}
	remaining, _ := raw[1].(int64)
	name, _ := raw[2].(string)
	price, err := decimal.NewFromString(fmt.Sprint(raw[3]))
	if err != nil {
		return domain.Reservation{}, domain.Persistence("reserve stock", fmt.Errorf("parse price: %w", err))
	}

	return domain.Reservation{
		ProductID:      productID,
		Name:           name,
		UnitPrice:      price,
		Pieces:         pieces,
		RemainingStock: remaining,
	}, nil
}

// Release возвращает pieces на склад.
func (l *InventoryLedger) Release(ctx context.Context, productID string, pieces int64) (int64, error) {
	if pieces <= 0 {
		return 0, domain.ErrPiecesInvalid
	}

	remaining, err := l.release.Run(ctx, l.rdb, []string{l.key(productID)}, pieces).Int64()
	if err != nil {
		return 0, domain.Persistence("release stock", err)
	}
	if remaining < 0 {
		return 0, domain.ErrProductNotFound
	}
	return remaining, nil
}

// UpdateProduct применяет изменение одним Lua-скриптом: проверка остатка,
// HINCRBY и запись имени с ценой не перемежаются с резервами.
func (l *InventoryLedger) UpdateProduct(ctx context.Context, upd domain.ProductUpdate) (domain.Product, error) {
	upd.Name = strings.TrimSpace(upd.Name)
	if errs := upd.Validate(); len(errs) > 0 {
		return domain.Product{}, errs[0]
	}
	price := ""
	if upd.Price != nil {
		price = upd.Price.String()
	}

	raw, err := l.update.Run(ctx, l.rdb, []string{l.key(upd.ProductID)}, upd.StockDelta, upd.Name, price).Slice()
	if err != nil {
		if strings.Contains(err.Error(), "overflow") {
			return domain.Product{}, domain.ErrStockOverflow
		}
		return domain.Product{}, domain.Persistence("update product", err)
	}
	if len(raw) == 0 {
		return domain.Product{}, domain.Persistence("update product", fmt.Errorf("empty script reply"))
	}

	status, _ := raw[0].(int64)
	switch status {
	case -1:
		return domain.Product{}, domain.ErrProductNotFound
	case 0:
		available, _ := raw[1].(int64)
		return domain.Product{}, domain.NewInsufficientStock(upd.ProductID, -upd.StockDelta, available)
	}
	if len(raw) < 5 {
		return domain.Product{}, domain.Persistence("update product", fmt.Errorf("unexpected script reply %v", raw))
	}

	stock, _ := raw[1].(int64)
	return parseProduct(upd.ProductID, map[string]string{
		"name":       fmt.Sprint(raw[2]),
		"price":      fmt.Sprint(raw[3]),
		"stock":      strconv.FormatInt(stock, 10),
		"created_at": replyString(raw[4]),
	})
}

// ListProducts читает товары из индекса одним пайплайном HGETALL.
func (l *InventoryLedger) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	ids, err := l.rdb.SMembers(ctx, l.indexKey()).Result()
	if err != nil {
		return nil, domain.Persistence("list products", err)
	}
	if len(ids) == 0 {
		return []domain.Product{}, nil
	}

	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	if _, err := l.rdb.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, l.key(id))
		}
		return nil
	}); err != nil {
		return nil, domain.Persistence("list products", err)
	}

	products := make([]domain.Product, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		product, err := parseProduct(ids[i], fields)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	return filter.SelectProducts(products), nil
}

// Product читает хэш товара целиком.
func (l *InventoryLedger) Product(ctx context.Context, productID string) (domain.Product, error) {
	fields, err := l.rdb.HGetAll(ctx, l.key(productID)).Result()
	if err != nil {
		return domain.Product{}, domain.Persistence("load product", err)
	}
	if len(fields) == 0 {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return parseProduct(productID, fields)
}

func parseProduct(productID string, fields map[string]string) (domain.Product, error) {
	price, err := decimal.NewFromString(fields["price"])
	if err != nil {
		return domain.Product{}, domain.Persistence("load product", fmt.Errorf("parse price: %w", err))
	}
	stock, err := strconv.ParseInt(fields["stock"], 10, 64)
	if err != nil {
		return domain.Product{}, domain.Persistence("load product", fmt.Errorf("parse stock: %w", err))
	}
	var createdAt time.Time
	if nanos, err := strconv.ParseInt(fields["created_at"], 10, 64); err == nil {
		createdAt = time.Unix(0, nanos).UTC()
	}

	return domain.Product{
		ID:        productID,
		Name:      fields["name"],
		Price:     price,
		Stock:     stock,
		CreatedAt: createdAt,
	}, nil
}

func replyString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

var (
	_ domain.InventoryLedger = (*InventoryLedger)(nil)
	_ domain.ProductCatalog  = (*InventoryLedger)(nil)
)
