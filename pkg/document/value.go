// ABOUTME: Schema-less field value model with a total order for index keys
// ABOUTME: Order-preserving key encoding and structpb conversion

package document

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"google.golang.org/protobuf/types/known/structpb"
)

// Kind identifies the type of a field value
type Kind uint8

const (
	KindNull Kind = iota + 1
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

// Value is the tagged union used for all document fields.
// Scalar kinds (Null, Bool, Number, String) are valid index keys;
// List and Map are container kinds and never appear in an index.
//
// Index keys order as: Null < Bool (false < true) < Number < String,
// with natural comparison within a kind. This order is deterministic
// and directly observable through query sort order.
type Value struct {
	Kind Kind
	Bool bool
	Num  float64
	Str  string
	List []Value
	Map  map[string]Value
}

// NewNullValue creates a null value
func NewNullValue() Value {
	return Value{Kind: KindNull}
}

// NewBoolValue creates a boolean value
func NewBoolValue(b bool) Value {
	return Value{Kind: KindBool, Bool: b}
}

// NewNumberValue creates a numeric value
func NewNumberValue(n float64) Value {
	return Value{Kind: KindNumber, Num: n}
}

// NewStringValue creates a string value
func NewStringValue(s string) Value {
	return Value{Kind: KindString, Str: s}
}

// NewListValue creates a list value
func NewListValue(items ...Value) Value {
	return Value{Kind: KindList, List: items}
}

// NewMapValue creates a nested map value
func NewMapValue(fields map[string]Value) Value {
	return Value{Kind: KindMap, Map: fields}
}

// IsKey reports whether the value is a valid index key. NaN is excluded:
// it has no position in the key order (every comparison against it is
// unordered), so it can never be indexed or used as a query bound.
func (v Value) IsKey() bool {
	switch v.Kind {
	case KindNull, KindBool, KindString:
		return true
	case KindNumber:
		return !math.IsNaN(v.Num)
	default:
		return false
	}
}

// Clone returns a deep copy of the value
func (v Value) Clone() Value {
	switch v.Kind {
	case KindList:
		items := make([]Value, len(v.List))
		for i, item := range v.List {
			items[i] = item.Clone()
		}
		return Value{Kind: KindList, List: items}
	case KindMap:
		fields := make(map[string]Value, len(v.Map))
		for name, field := range v.Map {
			fields[name] = field.Clone()
		}
		return Value{Kind: KindMap, Map: fields}
	default:
		return v
	}
}

// Equal reports deep equality of two values
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == other.Bool
	case KindNumber:
		return v.Num == other.Num
	case KindString:
		return v.Str == other.Str
	case KindList:
		if len(v.List) != len(other.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(other.List[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.Map) != len(other.Map) {
			return false
		}
		for name, field := range v.Map {
			of, ok := other.Map[name]
			if !ok || !field.Equal(of) {
				return false
			}
		}
		return true
	}
	return false
}

// Compare orders two index keys. Kinds order Null < Bool < Number < String;
// within a kind the comparison is natural. Container kinds compare only by
// kind tag since they never appear in an index. Only valid keys (IsKey)
// have a defined order; NaN in particular is unordered and never indexed.
func Compare(a, b Value) int {
	if a.Kind != b.Kind {
		if a.Kind < b.Kind {
			return -1
		}
		return 1
	}
	switch a.Kind {
	case KindBool:
		if a.Bool == b.Bool {
			return 0
		}
		if !a.Bool {
			return -1
		}
		return 1
	case KindNumber:
		if a.Num < b.Num {
			return -1
		}
		if a.Num > b.Num {
			return 1
		}
		return 0
	case KindString:
		switch {
		case a.Str < b.Str:
			return -1
		case a.Str > b.Str:
			return 1
		}
		return 0
	}
	return 0
}

// AppendKey appends the order-preserving encoding of an index key.
// byte-wise comparison of encodings matches Compare. Strings are escaped
// and null-terminated so no encoding is a prefix of another.
func AppendKey(dst []byte, v Value) []byte {
	dst = append(dst, byte(v.Kind))
	switch v.Kind {
	case KindNull:
		// tag only
	case KindBool:
		if v.Bool {
			dst = append(dst, 1)
		} else {
			dst = append(dst, 0)
		}
	case KindNumber:
		// Flip so negative floats order below positive ones
		bits := math.Float64bits(v.Num)
		if bits&(1<<63) != 0 {
			bits = ^bits
		} else {
			bits |= 1 << 63
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], bits)
		dst = append(dst, buf[:]...)
	case KindString:
		dst = append(dst, escapeKeyBytes([]byte(v.Str))...)
		dst = append(dst, 0)
	default:
		panic(fmt.Sprintf("document: kind %d is not an index key", v.Kind))
	}
	return dst
}

// EncodeKey encodes a single index key
func EncodeKey(v Value) []byte {
	return AppendKey(nil, v)
}

// SplitKey splits an encoded entry into the leading key encoding and the
// remaining suffix. Used by composite (key, id) index entries.
func SplitKey(data []byte) (key, rest []byte, err error) {
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("document: empty key encoding")
	}
	switch Kind(data[0]) {
	case KindNull:
		return data[:1], data[1:], nil
	case KindBool:
		if len(data) < 2 {
			return nil, nil, fmt.Errorf("document: truncated bool key")
		}
		return data[:2], data[2:], nil
	case KindNumber:
		if len(data) < 9 {
			return nil, nil, fmt.Errorf("document: truncated number key")
		}
		return data[:9], data[9:], nil
	case KindString:
		end := bytes.IndexByte(data[1:], 0)
		if end < 0 {
			return nil, nil, fmt.Errorf("document: unterminated string key")
		}
		n := 1 + end + 1
		return data[:n], data[n:], nil
	default:
		return nil, nil, fmt.Errorf("document: bad key tag %d", data[0])
	}
}

// escapeKeyBytes rewrites 0x00 as 0x01 0x02 and 0x01 as 0x01 0x03 so that
// encoded strings contain no raw null byte and byte order is preserved.
func escapeKeyBytes(s []byte) []byte {
	escapes := 0
	for _, b := range s {
		if b == 0 || b == 1 {
			escapes++
		}
	}
	if escapes == 0 {
		return s
	}

	out := make([]byte, 0, len(s)+escapes)
	for _, b := range s {
		switch b {
		case 0:
			out = append(out, 0x01, 0x02)
		case 0x01:
			out = append(out, 0x01, 0x03)
		default:
			out = append(out, b)
		}
	}
	return out
}

// ToProto converts a field map to a structpb.Struct for persistence
func ToProto(fields map[string]Value) *structpb.Struct {
	out := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(fields))}
	for name, field := range fields {
		out.Fields[name] = valueToProto(field)
	}
	return out
}

func valueToProto(v Value) *structpb.Value {
	switch v.Kind {
	case KindBool:
		return structpb.NewBoolValue(v.Bool)
	case KindNumber:
		return structpb.NewNumberValue(v.Num)
	case KindString:
		return structpb.NewStringValue(v.Str)
	case KindList:
		items := make([]*structpb.Value, len(v.List))
		for i, item := range v.List {
			items[i] = valueToProto(item)
		}
		return structpb.NewListValue(&structpb.ListValue{Values: items})
	case KindMap:
		return structpb.NewStructValue(ToProto(v.Map))
	default:
		return structpb.NewNullValue()
	}
}

// FromProto converts a persisted structpb.Struct back to a field map
func FromProto(s *structpb.Struct) map[string]Value {
	fields := make(map[string]Value, len(s.GetFields()))
	for name, field := range s.GetFields() {
		fields[name] = valueFromProto(field)
	}
	return fields
}

func valueFromProto(v *structpb.Value) Value {
	switch k := v.GetKind().(type) {
	case *structpb.Value_BoolValue:
		return NewBoolValue(k.BoolValue)
	case *structpb.Value_NumberValue:
		return NewNumberValue(k.NumberValue)
	case *structpb.Value_StringValue:
		return NewStringValue(k.StringValue)
	case *structpb.Value_ListValue:
		items := make([]Value, len(k.ListValue.GetValues()))
		for i, item := range k.ListValue.GetValues() {
			items[i] = valueFromProto(item)
		}
		return Value{Kind: KindList, List: items}
	case *structpb.Value_StructValue:
		return Value{Kind: KindMap, Map: FromProto(k.StructValue)}
	default:
		return NewNullValue()
	}
}

// ValueOf converts a decoded JSON value (bool, float64, string, nil,
// []interface{}, map[string]interface{}) into a Value
func ValueOf(v interface{}) Value {
	switch t := v.(type) {
	case nil:
		return NewNullValue()
	case bool:
		return NewBoolValue(t)
	case float64:
		return NewNumberValue(t)
	case int:
		return NewNumberValue(float64(t))
	case int64:
		return NewNumberValue(float64(t))
	case string:
		return NewStringValue(t)
	case []interface{}:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = ValueOf(item)
		}
		return Value{Kind: KindList, List: items}
	case map[string]interface{}:
		fields := make(map[string]Value, len(t))
		for name, field := range t {
			fields[name] = ValueOf(field)
		}
		return Value{Kind: KindMap, Map: fields}
	default:
		return NewNullValue()
	}
}

// Interface converts a Value back to a plain Go value for JSON output
func (v Value) Interface() interface{} {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Num
	case KindString:
		return v.Str
	case KindList:
		items := make([]interface{}, len(v.List))
		for i, item := range v.List {
			items[i] = item.Interface()
		}
		return items
	case KindMap:
		fields := make(map[string]interface{}, len(v.Map))
		for name, field := range v.Map {
			fields[name] = field.Interface()
		}
		return fields
	default:
		return nil
	}
}

// SortKeys sorts a key slice by the index key order
func SortKeys(keys []Value) {
	sort.Slice(keys, func(i, j int) bool {
		return Compare(keys[i], keys[j]) < 0
	})
}
