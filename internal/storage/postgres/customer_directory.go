package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/crm/internal/domain"
)

type customerDirectory struct {
	db *sql.DB
}

// CustomerDirectory объединяет чтение и регистрацию клиентов.
type CustomerDirectory interface {
	domain.CustomerDirectory
	domain.CustomerRegistry
}

// NewCustomerDirectory создаёт PostgreSQL-справочник клиентов.
func NewCustomerDirectory(store *Store) CustomerDirectory {
	return &customerDirectory{db: store.DB()}
}

func (d *customerDirectory) CreateCustomer(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
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

	ctx, cancel := opContext(ctx)
	defer cancel()

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, last_name, email, phone, company, seller_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		customer.ID, customer.Name, customer.LastName, customer.Email,
		customer.Phone, customer.Company, customer.SellerID, customer.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Customer{}, domain.ErrDuplicateCustomer
		}
		return domain.Customer{}, classify("create customer", err)
	}
	return customer, nil
}

func (d *customerDirectory) ResolveOwner(ctx context.Context, customerID string) (string, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var sellerID string
	err := d.db.QueryRowContext(ctx, `SELECT seller_id FROM customers WHERE id = $1`, customerID).Scan(&sellerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrCustomerNotFound
		}
		return "", classify("resolve customer owner", err)
	}
	return sellerID, nil
}

func (d *customerDirectory) Customer(ctx context.Context, customerID string) (domain.Customer, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var c domain.Customer
	err := d.db.QueryRowContext(ctx, `
		SELECT id, name, last_name, email, phone, company, seller_id, created_at
		FROM customers WHERE id = $1
	`, customerID).Scan(&c.ID, &c.Name, &c.LastName, &c.Email, &c.Phone, &c.Company, &c.SellerID, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, domain.ErrCustomerNotFound
		}
		return domain.Customer{}, classify("load customer", err)
	}
	return c, nil
}

func (d *customerDirectory) ListCustomers(ctx context.Context, sellerID string, limit int) ([]domain.Customer, error) {
	if sellerID == "" {
		return nil, domain.ErrSellerRequired
	}
	if limit <= 0 {
		limit = math.MaxInt32
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, name, last_name, email, phone, company, seller_id, created_at
		FROM customers
		WHERE seller_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`, sellerID, limit)
	if err != nil {
		return nil, classify("list customers", err)
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.LastName, &c.Email, &c.Phone, &c.Company, &c.SellerID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate customers: %w", err)
	}
	return customers, nil
}

var _ CustomerDirectory = (*customerDirectory)(nil)
