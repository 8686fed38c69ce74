package grpcsvc

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crm/internal/domain"
)

// Catalog: склад с регистрацией товаров.
type Catalog interface {
	domain.ProductCatalog
	Product(ctx context.Context, productID string) (domain.Product, error)
}

// Customers: справочник клиентов с регистрацией.
type Customers interface {
	domain.CustomerRegistry
	domain.CustomerDirectory
}

const defaultListCustomersLimit = 100

// CatalogService реализует crm.v1.CatalogService: управление товарами и
// клиентами, нужное для работы с заказами.
type CatalogService struct {
	products  Catalog
	customers Customers
	idem      *idempotencyGuard
	logger    *log.Entry
}

var _ CatalogServiceServer = (*CatalogService)(nil)

// NewCatalogService конструирует сервис каталога. idemRepo необязателен и
// защищает UpdateProduct от двойного пополнения склада.
func NewCatalogService(products Catalog, customers Customers, idemRepo domain.IdempotencyRepository, logger *log.Entry) *CatalogService {
	if logger == nil {
		logger = log.New().WithField("component", "catalog-service")
	}
	return &CatalogService{
		products:  products,
		customers: customers,
		idem: &idempotencyGuard{
			repo:   idemRepo,
			logger: logger,
			now:    func() time.Time { return time.Now().UTC() },
		},
		logger: logger,
	}
}

// RegisterProduct регистрирует товар с начальным остатком.
func (s *CatalogService) RegisterProduct(ctx context.Context, req *RegisterProductRequest) (*RegisterProductResponse, error) {
	if req == nil {
		return nil, invalidArgument("request is required")
	}
	if _, err := sellerFromContext(ctx); err != nil {
		return nil, err
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		return nil, invalidArgument("price must be a decimal number")
	}

	product, err := s.products.CreateProduct(ctx, domain.Product{
		ID:    req.ID,
		Name:  req.Name,
		Price: price,
		Stock: req.Stock,
	})
	if err != nil {
		s.logger.WithError(err).WithField("product_id", req.ID).Warn("failed to register product")
		return nil, toStatus(err)
	}
	return &RegisterProductResponse{Product: toAPIProduct(product)}, nil
}

// GetProduct возвращает товар с текущим остатком.
func (s *CatalogService) GetProduct(ctx context.Context, req *GetProductRequest) (*GetProductResponse, error) {
	if req == nil || req.ProductID == "" {
		return nil, invalidArgument("product_id is required")
	}
	product, err := s.products.Product(ctx, req.ProductID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetProductResponse{Product: toAPIProduct(product)}, nil
}

// RegisterCustomer регистрирует клиента за продавцом из метаданных запроса.
func (s *CatalogService) RegisterCustomer(ctx context.Context, req *RegisterCustomerRequest) (*RegisterCustomerResponse, error) {
	if req == nil {
		return nil, invalidArgument("request is required")
	}
	seller, err := sellerFromContext(ctx)
	if err != nil {
		return nil, err
	}

	customer, err := s.customers.CreateCustomer(ctx, domain.Customer{
		ID:       req.ID,
		Name:     req.Name,
		LastName: req.LastName,
		Email:    req.Email,
		Phone:    req.Phone,
		Company:  req.Company,
		SellerID: seller,
	})
	if err != nil {
		s.logger.WithError(err).WithField("seller_id", seller).Warn("failed to register customer")
		return nil, toStatus(err)
	}
	return &RegisterCustomerResponse{Customer: toAPICustomer(customer)}, nil
}

// UpdateProduct пополняет или списывает остаток и меняет имя и цену одним
// шагом. Повтор с тем же idempotency-key не меняет склад второй раз.
func (s *CatalogService) UpdateProduct(ctx context.Context, req *UpdateProductRequest) (*UpdateProductResponse, error) {
	if req == nil || req.ProductID == "" {
		return nil, invalidArgument("product_id is required")
	}
	if _, err := sellerFromContext(ctx); err != nil {
		return nil, err
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		return nil, err
	}

	return withIdempotency(ctx, s.idem, MethodUpdateProduct, req, false,
		func(ctx context.Context) (*UpdateProductResponse, error) {
			product, err := s.products.UpdateProduct(ctx, domain.ProductUpdate{
				ProductID:  req.ProductID,
				Name:       req.Name,
				Price:      price,
				StockDelta: req.StockDelta,
			})
			if err != nil {
				s.logger.WithError(err).WithFields(log.Fields{
					"product_id":  req.ProductID,
					"stock_delta": req.StockDelta,
				}).Warn("failed to update product")
				return nil, toStatus(err)
			}
			return &UpdateProductResponse{Product: toAPIProduct(product)}, nil
		})
}

// ListProducts ищет товары по подстроке имени.
func (s *CatalogService) ListProducts(ctx context.Context, req *ListProductsRequest) (*ListProductsResponse, error) {
	if req == nil {
		req = &ListProductsRequest{}
	}
	limit := int(req.PageSize)
	if limit <= 0 {
		limit = domain.DefaultProductSearchLimit
	}

	products, err := s.products.ListProducts(ctx, domain.ProductFilter{Name: req.Name, Limit: limit})
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &ListProductsResponse{Products: make([]*Product, 0, len(products))}
	for _, p := range products {
		resp.Products = append(resp.Products, toAPIProduct(p))
	}
	return resp, nil
}

// GetCustomer возвращает клиента, только если он принадлежит продавцу.
func (s *CatalogService) GetCustomer(ctx context.Context, req *GetCustomerRequest) (*GetCustomerResponse, error) {
	if req == nil || req.CustomerID == "" {
		return nil, invalidArgument("customer_id is required")
	}
	seller, err := sellerFromContext(ctx)
	if err != nil {
		return nil, err
	}

	customer, err := s.customers.Customer(ctx, req.CustomerID)
	if err != nil {
		return nil, toStatus(err)
	}
	if customer.SellerID != seller {
		s.logger.WithFields(log.Fields{
			"seller_id":   seller,
			"customer_id": req.CustomerID,
		}).Warn("seller requested a foreign customer")
		return nil, toStatus(domain.ErrUnauthorized)
	}
	return &GetCustomerResponse{Customer: toAPICustomer(customer)}, nil
}

// ListCustomers возвращает клиентов продавца в порядке регистрации.
func (s *CatalogService) ListCustomers(ctx context.Context, req *ListCustomersRequest) (*ListCustomersResponse, error) {
	seller, err := sellerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	limit := defaultListCustomersLimit
	if req != nil && req.PageSize > 0 {
		limit = int(req.PageSize)
	}

	customers, err := s.customers.ListCustomers(ctx, seller, limit)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &ListCustomersResponse{Customers: make([]*Customer, 0, len(customers))}
	for _, c := range customers {
		resp.Customers = append(resp.Customers, toAPICustomer(c))
	}
	return resp, nil
}
