package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// Client: клиент crm.v1.OrderService и crm.v1.CatalogService.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient оборачивает соединение.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// WithSeller добавляет личность продавца в исходящие метаданные.
func WithSeller(ctx context.Context, sellerID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, sellerIDHeader, sellerID)
}

// WithIdempotencyKey добавляет idempotency-key в исходящие метаданные.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, idempotencyKeyHeader, key)
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := c.conn.Invoke(ctx, method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SubmitOrder(ctx context.Context, req *SubmitOrderRequest, opts ...grpc.CallOption) (*SubmitOrderResponse, error) {
	return invoke[SubmitOrderResponse](ctx, c, MethodSubmitOrder, req, opts...)
}

func (c *Client) ReviseOrder(ctx context.Context, req *ReviseOrderRequest, opts ...grpc.CallOption) (*ReviseOrderResponse, error) {
	return invoke[ReviseOrderResponse](ctx, c, MethodReviseOrder, req, opts...)
}

func (c *Client) RemoveOrder(ctx context.Context, req *RemoveOrderRequest, opts ...grpc.CallOption) (*RemoveOrderResponse, error) {
	return invoke[RemoveOrderResponse](ctx, c, MethodRemoveOrder, req, opts...)
}

func (c *Client) GetOrder(ctx context.Context, req *GetOrderRequest, opts ...grpc.CallOption) (*GetOrderResponse, error) {
	return invoke[GetOrderResponse](ctx, c, MethodGetOrder, req, opts...)
}

func (c *Client) ListOrders(ctx context.Context, req *ListOrdersRequest, opts ...grpc.CallOption) (*ListOrdersResponse, error) {
	return invoke[ListOrdersResponse](ctx, c, MethodListOrders, req, opts...)
}

func (c *Client) ChangeOrderStatus(ctx context.Context, req *ChangeOrderStatusRequest, opts ...grpc.CallOption) (*ChangeOrderStatusResponse, error) {
	return invoke[ChangeOrderStatusResponse](ctx, c, MethodChangeOrderStatus, req, opts...)
}

func (c *Client) RegisterProduct(ctx context.Context, req *RegisterProductRequest, opts ...grpc.CallOption) (*RegisterProductResponse, error) {
	return invoke[RegisterProductResponse](ctx, c, MethodRegisterProduct, req, opts...)
}

func (c *Client) RegisterCustomer(ctx context.Context, req *RegisterCustomerRequest, opts ...grpc.CallOption) (*RegisterCustomerResponse, error) {
	return invoke[RegisterCustomerResponse](ctx, c, MethodRegisterCustomer, req, opts...)
}

func (c *Client) GetProduct(ctx context.Context, req *GetProductRequest, opts ...grpc.CallOption) (*GetProductResponse, error) {
	return invoke[GetProductResponse](ctx, c, MethodGetProduct, req, opts...)
}

func (c *Client) UpdateProduct(ctx context.Context, req *UpdateProductRequest, opts ...grpc.CallOption) (*UpdateProductResponse, error) {
	return invoke[UpdateProductResponse](ctx, c, MethodUpdateProduct, req, opts...)
}

func (c *Client) ListProducts(ctx context.Context, req *ListProductsRequest, opts ...grpc.CallOption) (*ListProductsResponse, error) {
	return invoke[ListProductsResponse](ctx, c, MethodListProducts, req, opts...)
}

func (c *Client) GetCustomer(ctx context.Context, req *GetCustomerRequest, opts ...grpc.CallOption) (*GetCustomerResponse, error) {
	return invoke[GetCustomerResponse](ctx, c, MethodGetCustomer, req, opts...)
}

func (c *Client) ListCustomers(ctx context.Context, req *ListCustomersRequest, opts ...grpc.CallOption) (*ListCustomersResponse, error) {
	return invoke[ListCustomersResponse](ctx, c, MethodListCustomers, req, opts...)
}
