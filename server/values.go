package server

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/h2co3/sparkling/vm"
)

// stringField returns a string field of msg, or "" if absent.
func stringField(msg *structpb.Struct, name string) string {
	return msg.GetFields()[name].GetStringValue()
}

// newStruct builds a response message. Field values must be accepted by
// structpb.NewValue.
func newStruct(fields map[string]any) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("building response: %w", err)
	}
	return st, nil
}

// argsFromList converts RPC arguments to VM values owned by the caller.
// JSON numbers without a fractional part become integers.
func argsFromList(list *structpb.ListValue) ([]vm.Value, error) {
	args := make([]vm.Value, 0, len(list.GetValues()))
	for i, item := range list.GetValues() {
		arg, err := fromProto(item)
		if err != nil {
			releaseAll(args)
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		args = append(args, arg)
	}
	return args, nil
}

func fromProto(pv *structpb.Value) (vm.Value, error) {
	switch k := pv.GetKind().(type) {
	case *structpb.Value_NullValue, nil:
		return vm.Nil, nil
	case *structpb.Value_BoolValue:
		return vm.Bool(k.BoolValue), nil
	case *structpb.Value_NumberValue:
		n := k.NumberValue
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return vm.Int(int64(n)), nil
		}
		return vm.Float(n), nil
	case *structpb.Value_StringValue:
		return vm.NewString(k.StringValue), nil
	case *structpb.Value_ListValue:
		arr := vm.NewArray()
		for _, item := range k.ListValue.GetValues() {
			elem, err := fromProto(item)
			if err != nil {
				arr.Release()
				return vm.Nil, err
			}
			arr.AsArray().Push(elem)
		}
		return arr, nil
	case *structpb.Value_StructValue:
		h := vm.NewHashMap()
		for key, item := range k.StructValue.GetFields() {
			val, err := fromProto(item)
			if err != nil {
				h.Release()
				return vm.Nil, err
			}
			h.AsHashMap().Set(vm.NewString(key), val)
		}
		return h, nil
	}
	return vm.Nil, fmt.Errorf("unsupported value %v", pv)
}

// maxProtoDepth bounds container nesting in toProto.
const maxProtoDepth = 32

// toProto converts a VM value to its JSON-like form. Values without one,
// such as functions, are rendered as their display string.
func toProto(val vm.Value) any {
	return toProtoDepth(val, 0)
}

func toProtoDepth(val vm.Value, depth int) any {
	switch val.Kind() {
	case vm.KindNil:
		return nil
	case vm.KindBool:
		return val.AsBool()
	case vm.KindInt:
		return val.AsInt()
	case vm.KindFloat:
		return val.AsFloat()
	}
	if val.IsString() {
		return val.AsString()
	}
	if depth >= maxProtoDepth {
		return "<" + val.TypeName() + ">"
	}
	if a := val.AsArray(); a != nil {
		items := make([]any, a.Len())
		for i := range items {
			items[i] = toProtoDepth(a.Get(i), depth+1)
		}
		return items
	}
	if h := val.AsHashMap(); h != nil {
		fields := make(map[string]any, h.Len())
		h.Each(func(key, member vm.Value) {
			fields[key.String()] = toProtoDepth(member, depth+1)
		})
		return fields
	}
	return val.String()
}

func releaseAll(vals []vm.Value) {
	for _, v := range vals {
		v.Release()
	}
}
