package app

import (
	"context"
	"net"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	reflectionpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/vladislavdragonenkov/crm/internal/service/fulfillment"
	grpcsvc "github.com/vladislavdragonenkov/crm/internal/service/grpc"
	"github.com/vladislavdragonenkov/crm/internal/storage/memory"
)

func dialTestServer(t *testing.T) *grpc.ClientConn {
	t.Helper()

	logger := log.WithField("test", t.Name())
	ledger := memory.NewInventoryLedger()
	customers := memory.NewCustomerDirectory()
	timeline := memory.NewTimelineRepository()
	engine := fulfillment.NewEngine(ledger, customers, memory.NewOrderRepository(), fulfillment.Options{
		Timeline: timeline,
		Logger:   logger,
	})
	idem := memory.NewIdempotencyRepository()

	server, _ := newGRPCServer(
		grpcsvc.NewOrderService(engine, timeline, idem, logger),
		grpcsvc.NewCatalogService(ledger, customers, idem, logger),
		logger,
	)
	listener := bufconn.Listen(1024 * 1024)
	go func() { _ = server.Serve(listener) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return listener.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		server.Stop()
	})
	return conn
}

func TestGRPCServer_ReflectionServesCRMSchema(t *testing.T) {
	conn := dialTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := reflectionpb.NewServerReflectionClient(conn).ServerReflectionInfo(ctx)
	if err != nil {
		t.Fatalf("open reflection stream: %v", err)
	}

	if err := stream.Send(&reflectionpb.ServerReflectionRequest{
		MessageRequest: &reflectionpb.ServerReflectionRequest_ListServices{},
	}); err != nil {
		t.Fatalf("send list services: %v", err)
	}
	resp, err := stream.Recv()
	if err != nil {
		t.Fatalf("recv list services: %v", err)
	}
	services := map[string]bool{}
	for _, svc := range resp.GetListServicesResponse().GetService() {
		services[svc.GetName()] = true
	}
	for _, name := range []string{grpcsvc.OrderServiceName, grpcsvc.CatalogServiceName, "grpc.health.v1.Health"} {
		if !services[name] {
			t.Fatalf("service %s is not listed: %v", name, services)
		}
	}

	if err := stream.Send(&reflectionpb.ServerReflectionRequest{
		MessageRequest: &reflectionpb.ServerReflectionRequest_FileContainingSymbol{
			FileContainingSymbol: grpcsvc.CatalogServiceName,
		},
	}); err != nil {
		t.Fatalf("send file request: %v", err)
	}
	resp, err = stream.Recv()
	if err != nil {
		t.Fatalf("recv file: %v", err)
	}
	files := resp.GetFileDescriptorResponse().GetFileDescriptorProto()
	if len(files) == 0 {
		t.Fatalf("no descriptor returned: %v", resp.GetErrorResponse())
	}
	var fd descriptorpb.FileDescriptorProto
	if err := proto.Unmarshal(files[0], &fd); err != nil {
		t.Fatalf("decode descriptor: %v", err)
	}
	if fd.GetName() != "crm/v1/crm.proto" || fd.GetPackage() != "crm.v1" {
		t.Fatalf("unexpected descriptor %s (%s)", fd.GetName(), fd.GetPackage())
	}
}

func TestGRPCServer_HealthAndCatalogShareDefaultCodec(t *testing.T) {
	conn := dialTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: grpcsvc.OrderServiceName})
	if err != nil || health.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("health check: %v %v", health, err)
	}

	client := grpcsvc.NewClient(conn)
	created, err := client.RegisterProduct(grpcsvc.WithSeller(ctx, "seller-1"), &grpcsvc.RegisterProductRequest{
		ID: "p-1", Name: "Widget", Price: "2.00", Stock: 3,
	})
	if err != nil {
		t.Fatalf("register product: %v", err)
	}
	if created.Product.Stock != 3 || created.Product.CreatedAt.IsZero() {
		t.Fatalf("unexpected product: %+v", created.Product)
	}
}
