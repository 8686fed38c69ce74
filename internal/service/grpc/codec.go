package grpcsvc

import (
	"fmt"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/proto"
)

// codecName совпадает с кодеком grpc по умолчанию: клиенты без особых
// настроек шлют application/grpc и получают protobuf по crm/v1/crm.proto.
const codecName = "proto"

// wireCodec кодирует структуры API через сообщения схемы. Сгенерированные
// сообщения (health, reflection) идут через proto напрямую.
type wireCodec struct{}

func init() {
	encoding.RegisterCodec(wireCodec{})
}

func (wireCodec) Marshal(v any) ([]byte, error) {
	if m, ok := v.(proto.Message); ok {
		return proto.Marshal(m)
	}
	msg, err := toWire(v)
	if err != nil {
		return nil, fmt.Errorf("proto codec marshal: %w", err)
	}
	return proto.Marshal(msg)
}

func (wireCodec) Unmarshal(data []byte, v any) error {
	if m, ok := v.(proto.Message); ok {
		return proto.Unmarshal(data, m)
	}
	msg, _, err := newWire(v)
	if err != nil {
		return fmt.Errorf("proto codec unmarshal: %w", err)
	}
	if err := proto.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("proto codec unmarshal %T: %w", v, err)
	}
	return fromWire(msg, v)
}

func (wireCodec) Name() string {
	return codecName
}
