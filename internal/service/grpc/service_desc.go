package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
)

// Полные имена методов API.
const (
	OrderServiceName   = "crm.v1.OrderService"
	CatalogServiceName = "crm.v1.CatalogService"

	MethodSubmitOrder       = "/crm.v1.OrderService/SubmitOrder"
	MethodReviseOrder       = "/crm.v1.OrderService/ReviseOrder"
	MethodRemoveOrder       = "/crm.v1.OrderService/RemoveOrder"
	MethodGetOrder          = "/crm.v1.OrderService/GetOrder"
	MethodListOrders        = "/crm.v1.OrderService/ListOrders"
	MethodChangeOrderStatus = "/crm.v1.OrderService/ChangeOrderStatus"

	MethodRegisterProduct  = "/crm.v1.CatalogService/RegisterProduct"
	MethodRegisterCustomer = "/crm.v1.CatalogService/RegisterCustomer"
	MethodGetProduct       = "/crm.v1.CatalogService/GetProduct"
	MethodUpdateProduct    = "/crm.v1.CatalogService/UpdateProduct"
	MethodListProducts     = "/crm.v1.CatalogService/ListProducts"
	MethodGetCustomer      = "/crm.v1.CatalogService/GetCustomer"
	MethodListCustomers    = "/crm.v1.CatalogService/ListCustomers"
)

// OrderServiceServer: серверная часть crm.v1.OrderService.
type OrderServiceServer interface {
	SubmitOrder(context.Context, *SubmitOrderRequest) (*SubmitOrderResponse, error)
	ReviseOrder(context.Context, *ReviseOrderRequest) (*ReviseOrderResponse, error)
	RemoveOrder(context.Context, *RemoveOrderRequest) (*RemoveOrderResponse, error)
	GetOrder(context.Context, *GetOrderRequest) (*GetOrderResponse, error)
	ListOrders(context.Context, *ListOrdersRequest) (*ListOrdersResponse, error)
	ChangeOrderStatus(context.Context, *ChangeOrderStatusRequest) (*ChangeOrderStatusResponse, error)
}

// CatalogServiceServer: серверная часть crm.v1.CatalogService.
type CatalogServiceServer interface {
	RegisterProduct(context.Context, *RegisterProductRequest) (*RegisterProductResponse, error)
	RegisterCustomer(context.Context, *RegisterCustomerRequest) (*RegisterCustomerResponse, error)
	GetProduct(context.Context, *GetProductRequest) (*GetProductResponse, error)
	UpdateProduct(context.Context, *UpdateProductRequest) (*UpdateProductResponse, error)
	ListProducts(context.Context, *ListProductsRequest) (*ListProductsResponse, error)
	GetCustomer(context.Context, *GetCustomerRequest) (*GetCustomerResponse, error)
	ListCustomers(context.Context, *ListCustomersRequest) (*ListCustomersResponse, error)
}

// unaryHandler строит grpc.MethodHandler так же, как это делает protoc-gen-go-grpc.
func unaryHandler[S any, Req any, Resp any](fullMethod string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(S), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(S), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// OrderServiceDesc описывает crm.v1.OrderService для grpc.Server.
var OrderServiceDesc = grpc.ServiceDesc{
	ServiceName: OrderServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitOrder", Handler: unaryHandler(MethodSubmitOrder, OrderServiceServer.SubmitOrder)},
		{MethodName: "ReviseOrder", Handler: unaryHandler(MethodReviseOrder, OrderServiceServer.ReviseOrder)},
		{MethodName: "RemoveOrder", Handler: unaryHandler(MethodRemoveOrder, OrderServiceServer.RemoveOrder)},
		{MethodName: "GetOrder", Handler: unaryHandler(MethodGetOrder, OrderServiceServer.GetOrder)},
		{MethodName: "ListOrders", Handler: unaryHandler(MethodListOrders, OrderServiceServer.ListOrders)},
		{MethodName: "ChangeOrderStatus", Handler: unaryHandler(MethodChangeOrderStatus, OrderServiceServer.ChangeOrderStatus)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: schemaPath,
}

// CatalogServiceDesc описывает crm.v1.CatalogService для grpc.Server.
var CatalogServiceDesc = grpc.ServiceDesc{
	ServiceName: CatalogServiceName,
	HandlerType: (*CatalogServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RegisterProduct", Handler: unaryHandler(MethodRegisterProduct, CatalogServiceServer.RegisterProduct)},
		{MethodName: "RegisterCustomer", Handler: unaryHandler(MethodRegisterCustomer, CatalogServiceServer.RegisterCustomer)},
		{MethodName: "GetProduct", Handler: unaryHandler(MethodGetProduct, CatalogServiceServer.GetProduct)},
		{MethodName: "UpdateProduct", Handler: unaryHandler(MethodUpdateProduct, CatalogServiceServer.UpdateProduct)},
		{MethodName: "ListProducts", Handler: unaryHandler(MethodListProducts, CatalogServiceServer.ListProducts)},
		{MethodName: "GetCustomer", Handler: unaryHandler(MethodGetCustomer, CatalogServiceServer.GetCustomer)},
		{MethodName: "ListCustomers", Handler: unaryHandler(MethodListCustomers, CatalogServiceServer.ListCustomers)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: schemaPath,
}

// RegisterOrderServiceServer регистрирует реализацию OrderService на сервере.
func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&OrderServiceDesc, srv)
}

// RegisterCatalogServiceServer регистрирует реализацию CatalogService на сервере.
func RegisterCatalogServiceServer(s grpc.ServiceRegistrar, srv CatalogServiceServer) {
	s.RegisterService(&CatalogServiceDesc, srv)
}
