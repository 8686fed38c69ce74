package grpcsvc

import (
	"fmt"
	"reflect"
	"time"

	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// newWire создаёт пустое сообщение схемы под указатель на структуру API.
func newWire(v any) (*dynamicpb.Message, reflect.Value, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return nil, reflect.Value{}, fmt.Errorf("expected non-nil pointer to %s message, got %T", schemaPackage, v)
	}
	md, ok := wireTypes[rv.Elem().Type()]
	if !ok {
		return nil, reflect.Value{}, fmt.Errorf("%T is not a %s message", v, schemaPackage)
	}
	return dynamicpb.NewMessage(md), rv.Elem(), nil
}

// toWire переносит структуру API в сообщение схемы.
func toWire(v any) (*dynamicpb.Message, error) {
	msg, rv, err := newWire(v)
	if err != nil {
		return nil, err
	}
	encodeFields(msg, rv)
	return msg, nil
}

// fromWire заполняет структуру API из сообщения схемы.
func fromWire(msg protoreflect.Message, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("expected non-nil pointer to %s message, got %T", schemaPackage, v)
	}
	if want, ok := wireTypes[rv.Elem().Type()]; !ok || want.FullName() != msg.Descriptor().FullName() {
		return fmt.Errorf("cannot decode %s into %T", msg.Descriptor().FullName(), v)
	}
	decodeFields(msg, rv.Elem())
	return nil
}

func encodeFields(msg protoreflect.Message, rv reflect.Value) {
	fields := msg.Descriptor().Fields()
	for i := 0; i < rv.NumField(); i++ {
		fd := fields.ByNumber(protoreflect.FieldNumber(i + 1)) //nolint:gosec // see apiMessages.
		fv := rv.Field(i)

		switch {
		case fd.IsList():
			if fv.Len() == 0 {
				continue
			}
			list := msg.Mutable(fd).List()
			for j := 0; j < fv.Len(); j++ {
				elem := reflect.Indirect(fv.Index(j))
				if !elem.IsValid() {
					continue
				}
				item := list.NewElement()
				encodeFields(item.Message(), elem)
				list.Append(item)
			}
		case fd.Kind() == protoreflect.MessageKind:
			if fv.Type() == timeType {
				if ts := fv.Interface().(time.Time); !ts.IsZero() {
					setTimestamp(msg.Mutable(fd).Message(), ts)
				}
				continue
			}
			elem := reflect.Indirect(fv)
			if !elem.IsValid() {
				continue
			}
			encodeFields(msg.Mutable(fd).Message(), elem)
		case fd.Kind() == protoreflect.StringKind:
			if fv.String() != "" {
				msg.Set(fd, protoreflect.ValueOfString(fv.String()))
			}
		case fd.Kind() == protoreflect.Int64Kind:
			if fv.Int() != 0 {
				msg.Set(fd, protoreflect.ValueOfInt64(fv.Int()))
			}
		case fd.Kind() == protoreflect.Int32Kind:
			if fv.Int() != 0 {
				msg.Set(fd, protoreflect.ValueOfInt32(int32(fv.Int()))) //nolint:gosec // int32 field.
			}
		case fd.Kind() == protoreflect.BoolKind:
			if fv.Bool() {
				msg.Set(fd, protoreflect.ValueOfBool(true))
			}
		}
	}
}

func decodeFields(msg protoreflect.Message, rv reflect.Value) {
	fields := msg.Descriptor().Fields()
	for i := 0; i < rv.NumField(); i++ {
		fd := fields.ByNumber(protoreflect.FieldNumber(i + 1)) //nolint:gosec // see apiMessages.
		fv := rv.Field(i)

		switch {
		case fd.IsList():
			list := msg.Get(fd).List()
			if list.Len() == 0 {
				continue
			}
			slice := reflect.MakeSlice(fv.Type(), list.Len(), list.Len())
			for j := 0; j < list.Len(); j++ {
				decodeFields(list.Get(j).Message(), allocated(slice.Index(j)))
			}
			fv.Set(slice)
		case fd.Kind() == protoreflect.MessageKind:
			if !msg.Has(fd) {
				continue
			}
			if fv.Type() == timeType {
				fv.Set(reflect.ValueOf(timestampTime(msg.Get(fd).Message())))
				continue
			}
			decodeFields(msg.Get(fd).Message(), allocated(fv))
		case fd.Kind() == protoreflect.StringKind:
			fv.SetString(msg.Get(fd).String())
		case fd.Kind() == protoreflect.Int64Kind, fd.Kind() == protoreflect.Int32Kind:
			fv.SetInt(msg.Get(fd).Int())
		case fd.Kind() == protoreflect.BoolKind:
			fv.SetBool(msg.Get(fd).Bool())
		}
	}
}

// allocated разыменовывает указатель, создавая значение при nil.
func allocated(v reflect.Value) reflect.Value {
	if v.Kind() != reflect.Pointer {
		return v
	}
	if v.IsNil() {
		v.Set(reflect.New(v.Type().Elem()))
	}
	return v.Elem()
}

func setTimestamp(m protoreflect.Message, ts time.Time) {
	fields := m.Descriptor().Fields()
	m.Set(fields.ByName("seconds"), protoreflect.ValueOfInt64(ts.Unix()))
	if nanos := ts.Nanosecond(); nanos != 0 {
		m.Set(fields.ByName("nanos"), protoreflect.ValueOfInt32(int32(nanos))) //nolint:gosec // < 1e9.
	}
}

// timestampTime читает google.protobuf.Timestamp независимо от того,
// сгенерированное это сообщение или динамическое.
func timestampTime(m protoreflect.Message) time.Time {
	fields := m.Descriptor().Fields()
	seconds := m.Get(fields.ByName("seconds")).Int()
	nanos := m.Get(fields.ByName("nanos")).Int()
	return time.Unix(seconds, nanos).UTC()
}
