// Package attributes implements the ordered, loosely typed key/value bag used to tag jobs and to
// carry acknowledgment, report and result payloads.
package attributes

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

var (
	// ErrUnsupportedValue classifies host values that have no attribute representation.
	ErrUnsupportedValue = errors.New("attributes unsupported value")
	// ErrInvalidKey classifies keys that cannot be stored as document field names.
	ErrInvalidKey = errors.New("attributes invalid key")
)

// Kind identifies the variant held by a Value.
type Kind uint8

// Value kinds
const (
	KindInvalid Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindList
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	default:
		return "invalid"
	}
}

// Value is a closed tagged variant: a string, a number, a boolean or an ordered list of those
// scalars. The zero Value is invalid.
type Value struct {
	kind  Kind
	str   string
	num   int64
	float float64
	flag  bool
	items []Value
}

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Int returns an integer Value.
func Int(i int64) Value { return Value{kind: KindInt, num: i} }

// Float returns a floating point Value.
func Float(f float64) Value { return Value{kind: KindFloat, float: f} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, flag: b} }

// Strings returns a list Value holding the given strings.
func Strings(items ...string) Value {
	out := make([]Value, 0, len(items))
	for _, item := range items {
		out = append(out, String(item))
	}
	return Value{kind: KindList, items: out}
}

// List returns a list Value. Nested lists and invalid values are rejected.
func List(items ...Value) (Value, error) {
	out := make([]Value, 0, len(items))
	for idx, item := range items {
		switch item.kind {
		case KindInvalid:
			return Value{}, fmt.Errorf("%w: list item %d is invalid", ErrUnsupportedValue, idx)
		case KindList:
			return Value{}, fmt.Errorf("%w: list item %d is a nested list", ErrUnsupportedValue, idx)
		}
		out = append(out, item)
	}
	return Value{kind: KindList, items: out}, nil
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether v holds a value.
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// IsList reports whether v is an ordered list of scalars.
func (v Value) IsList() bool { return v.kind == KindList }

// IsNumber reports whether v is an int or a float.
func (v Value) IsNumber() bool { return v.kind == KindInt || v.kind == KindFloat }

// AsString returns the string held by v.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsInt returns the integer held by v.
func (v Value) AsInt() (int64, bool) { return v.num, v.kind == KindInt }

// AsFloat returns the number held by v as a float64. Integers are converted.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.float, true
	case KindInt:
		return float64(v.num), true
	default:
		return 0, false
	}
}

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) { return v.flag, v.kind == KindBool }

// Items returns a copy of the list items, or nil when v is not a list.
func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	out := make([]Value, len(v.items))
	copy(out, v.items)
	return out
}

// Native returns the representation handed to the document store.
func (v Value) Native() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return v.num
	case KindFloat:
		return v.float
	case KindBool:
		return v.flag
	case KindList:
		out := make(bson.A, 0, len(v.items))
		for _, item := range v.items {
			out = append(out, item.Native())
		}
		return out
	default:
		return nil
	}
}

// Equal compares two values. Numbers compare by numeric value regardless of int/float kind.
func (v Value) Equal(other Value) bool {
	if v.IsNumber() && other.IsNumber() {
		if v.kind == KindInt && other.kind == KindInt {
			return v.num == other.num
		}
		a, _ := v.AsFloat()
		b, _ := other.AsFloat()
		return a == b
	}
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == other.str
	case KindBool:
		return v.flag == other.flag
	case KindList:
		if len(v.items) != len(other.items) {
			return false
		}
		for idx := range v.items {
			if !v.items[idx].Equal(other.items[idx]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// String renders v for logs and CLI output.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return strconv.FormatInt(v.num, 10)
	case KindFloat:
		return strconv.FormatFloat(v.float, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.flag)
	case KindList:
		parts := make([]string, 0, len(v.items))
		for _, item := range v.items {
			parts = append(parts, item.String())
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return "<invalid>"
	}
}

// FromAny converts a host value into a Value. Text strings are always scalars even though they
// are sequences of characters; slices become lists.
func FromAny(input any) (Value, error) {
	switch t := input.(type) {
	case Value:
		if !t.IsValid() {
			return Value{}, fmt.Errorf("%w: invalid value", ErrUnsupportedValue)
		}
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case uint:
		return fromUint(uint64(t))
	case uint64:
		return fromUint(t)
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: number %q", ErrUnsupportedValue, t.String())
		}
		return Float(f), nil
	case []string:
		return Strings(t...), nil
	case []Value:
		return List(t...)
	case bson.A:
		return listFromAny([]any(t))
	case []any:
		return listFromAny(t)
	case nil:
		return Value{}, fmt.Errorf("%w: null", ErrUnsupportedValue)
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, input)
	}
}

func fromUint(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return Value{}, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedValue, u)
	}
	return Int(int64(u)), nil
}

func listFromAny(items []any) (Value, error) {
	out := make([]Value, 0, len(items))
	for idx, item := range items {
		value, err := FromAny(item)
		if err != nil {
			return Value{}, fmt.Errorf("list item %d: %w", idx, err)
		}
		out = append(out, value)
	}
	return List(out...)
}
