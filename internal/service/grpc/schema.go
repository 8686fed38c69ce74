package grpcsvc

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const (
	schemaPath    = "crm/v1/crm.proto"
	schemaPackage = "crm.v1"
)

// apiMessages: сообщения crm/v1/crm.proto. Номер поля в схеме равен его
// позиции в структуре плюс один, поэтому новые поля добавляются только в
// конец структуры. Имя поля берётся из json-тега.
var apiMessages = []any{
	LineItem{},
	Order{},
	TimelineEvent{},
	SubmitOrderRequest{},
	SubmitOrderResponse{},
	ReviseOrderRequest{},
	ReviseOrderResponse{},
	RemoveOrderRequest{},
	RemoveOrderResponse{},
	GetOrderRequest{},
	GetOrderResponse{},
	ListOrdersRequest{},
	ListOrdersResponse{},
	ChangeOrderStatusRequest{},
	ChangeOrderStatusResponse{},
	Product{},
	RegisterProductRequest{},
	RegisterProductResponse{},
	GetProductRequest{},
	GetProductResponse{},
	UpdateProductRequest{},
	UpdateProductResponse{},
	ListProductsRequest{},
	ListProductsResponse{},
	Customer{},
	RegisterCustomerRequest{},
	RegisterCustomerResponse{},
	GetCustomerRequest{},
	GetCustomerResponse{},
	ListCustomersRequest{},
	ListCustomersResponse{},
}

var (
	timeType = reflect.TypeOf(time.Time{})

	// apiSchema: дескриптор crm/v1/crm.proto из protoregistry.GlobalFiles.
	apiSchema protoreflect.FileDescriptor
	// wireTypes сопоставляет структуру API с её сообщением в схеме.
	wireTypes map[reflect.Type]protoreflect.MessageDescriptor
)

func init() {
	file, err := buildSchema()
	if err != nil {
		panic(fmt.Sprintf("grpcsvc: build %s: %v", schemaPath, err))
	}
	if err := protoregistry.GlobalFiles.RegisterFile(file); err != nil {
		panic(fmt.Sprintf("grpcsvc: register %s: %v", schemaPath, err))
	}

	apiSchema = file
	wireTypes = make(map[reflect.Type]protoreflect.MessageDescriptor, len(apiMessages))
	for _, m := range apiMessages {
		t := reflect.TypeOf(m)
		wireTypes[t] = file.Messages().ByName(protoreflect.Name(t.Name()))
	}
}

// buildSchema собирает FileDescriptorProto из структур API и описаний
// сервисов. Сервер reflection отдаёт именно его.
func buildSchema() (protoreflect.FileDescriptor, error) {
	fdp := &descriptorpb.FileDescriptorProto{
		Name:       proto.String(schemaPath),
		Package:    proto.String(schemaPackage),
		Dependency: []string{timestamppb.File_google_protobuf_timestamp_proto.Path()},
		Syntax:     proto.String("proto3"),
		Options: &descriptorpb.FileOptions{
			GoPackage: proto.String("github.com/vladislavdragonenkov/crm/internal/service/grpc;grpcsvc"),
		},
	}

	for _, m := range apiMessages {
		msg, err := describeMessage(reflect.TypeOf(m))
		if err != nil {
			return nil, err
		}
		fdp.MessageType = append(fdp.MessageType, msg)
	}
	for _, sd := range []*grpc.ServiceDesc{&OrderServiceDesc, &CatalogServiceDesc} {
		fdp.Service = append(fdp.Service, describeService(sd))
	}

	return protodesc.NewFile(fdp, protoregistry.GlobalFiles)
}

func describeMessage(t reflect.Type) (*descriptorpb.DescriptorProto, error) {
	msg := &descriptorpb.DescriptorProto{Name: proto.String(t.Name())}

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return nil, fmt.Errorf("%s.%s: json tag is required", t.Name(), sf.Name)
		}

		field := &descriptorpb.FieldDescriptorProto{
			Name:   proto.String(name),
			Number: proto.Int32(int32(i + 1)), //nolint:gosec // message fields are few.
			Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		}

		ft := sf.Type
		if ft.Kind() == reflect.Slice {
			field.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
			ft = ft.Elem()
		}
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}

		switch {
		case ft == timeType:
			field.Type = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum()
			field.TypeName = proto.String("." + string((&timestamppb.Timestamp{}).ProtoReflect().Descriptor().FullName()))
		case ft.Kind() == reflect.Struct:
			field.Type = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum()
			field.TypeName = proto.String("." + schemaPackage + "." + ft.Name())
		case ft.Kind() == reflect.String:
			field.Type = descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum()
		case ft.Kind() == reflect.Int64:
			field.Type = descriptorpb.FieldDescriptorProto_TYPE_INT64.Enum()
		case ft.Kind() == reflect.Int32:
			field.Type = descriptorpb.FieldDescriptorProto_TYPE_INT32.Enum()
		case ft.Kind() == reflect.Bool:
			field.Type = descriptorpb.FieldDescriptorProto_TYPE_BOOL.Enum()
		default:
			return nil, fmt.Errorf("%s.%s: unsupported field type %s", t.Name(), sf.Name, sf.Type)
		}

		msg.Field = append(msg.Field, field)
	}
	return msg, nil
}

// describeService: методы вида Name(NameRequest) returns (NameResponse).
func describeService(sd *grpc.ServiceDesc) *descriptorpb.ServiceDescriptorProto {
	svc := &descriptorpb.ServiceDescriptorProto{
		Name: proto.String(strings.TrimPrefix(sd.ServiceName, schemaPackage+".")),
	}
	for _, m := range sd.Methods {
		svc.Method = append(svc.Method, &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(m.MethodName),
			InputType:  proto.String("." + schemaPackage + "." + m.MethodName + "Request"),
			OutputType: proto.String("." + schemaPackage + "." + m.MethodName + "Response"),
		})
	}
	return svc
}
