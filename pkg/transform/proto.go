package transform

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ToProto returns the script as a structpb.Struct: its name, the failure mode, the argument handle and the
// list of statements with their input and output handles and attributes.
func (b *Builder) ToProto() (*structpb.Struct, error) {
	if b.main == nil {
		return nil, errors.Errorf("transform script %q has no main sequence", b.name)
	}
	statements := make([]any, 0, len(b.main.Statements))
	for _, stmt := range b.main.Statements {
		attrs := make(map[string]any, len(stmt.Attributes))
		for key, value := range stmt.Attributes {
			attrs[key] = attrToProto(value)
		}
		statements = append(statements, map[string]any{
			"op":         stmt.OpType.ToStatementName(),
			"inputs":     handleNames(stmt.Inputs),
			"outputs":    handleNames(stmt.Outputs),
			"attributes": attrs,
		})
	}
	st, err := structpb.NewStruct(map[string]any{
		"name":       b.name,
		"failures":   b.main.Mode.String(),
		"argument":   b.main.arg.String(),
		"statements": statements,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "converting transform script %q to proto", b.name)
	}
	return st, nil
}

// MarshalJSON implements json.Marshaler, with the JSON encoding of ToProto.
func (b *Builder) MarshalJSON() ([]byte, error) {
	st, err := b.ToProto()
	if err != nil {
		return nil, err
	}
	return protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(st)
}

func handleNames(handles []*Handle) []any {
	names := make([]any, len(handles))
	for i, h := range handles {
		names[i] = h.String()
	}
	return names
}

// attrToProto converts attribute values to the types accepted by structpb.NewValue.
func attrToProto(value any) any {
	switch v := value.(type) {
	case PatternsConfig:
		return toAnyList(v.Names(), func(s string) any { return s })
	case FailureMode:
		return v.String()
	case []string:
		return toAnyList(v, func(s string) any { return s })
	case []int:
		return toAnyList(v, func(i int) any { return i })
	case []bool:
		return toAnyList(v, func(b bool) any { return b })
	case []float64:
		return toAnyList(v, func(f float64) any { return f })
	case [][]int:
		return toAnyList(v, func(perm []int) any { return attrToProto(perm) })
	default:
		return v
	}
}

func toAnyList[T any](values []T, convert func(T) any) []any {
	list := make([]any, len(values))
	for i, v := range values {
		list[i] = convert(v)
	}
	return list
}
