package attributes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Bag is an ordered mapping from string keys to Values. Key insertion order is preserved through
// every codec. The zero Bag is empty and ready to use.
type Bag struct {
	keys   []string
	values map[string]Value
}

// Of builds a Bag from alternating key/value arguments.
//
//	bag, err := attributes.Of("DataCenter", "CAL01", "Zones", []string{"a", "b"})
func Of(pairs ...any) (Bag, error) {
	if len(pairs)%2 != 0 {
		return Bag{}, fmt.Errorf("%w: odd number of key/value arguments", ErrUnsupportedValue)
	}
	var bag Bag
	for idx := 0; idx < len(pairs); idx += 2 {
		key, ok := pairs[idx].(string)
		if !ok {
			return Bag{}, fmt.Errorf("%w: argument %d is %T, want string key", ErrInvalidKey, idx, pairs[idx])
		}
		if err := bag.SetAny(key, pairs[idx+1]); err != nil {
			return Bag{}, err
		}
	}
	return bag, nil
}

// MustOf is like Of but panics on error. Intended for literals in tests and examples.
func MustOf(pairs ...any) Bag {
	bag, err := Of(pairs...)
	if err != nil {
		panic(err)
	}
	return bag
}

// ValidateKey checks that key can be stored as a document field name.
func ValidateKey(key string) error {
	switch {
	case strings.TrimSpace(key) == "":
		return fmt.Errorf("%w: key is empty", ErrInvalidKey)
	case strings.HasPrefix(key, "$"):
		return fmt.Errorf("%w: key %q starts with '$'", ErrInvalidKey, key)
	case strings.Contains(key, "."):
		return fmt.Errorf("%w: key %q contains '.'", ErrInvalidKey, key)
	}
	return nil
}

// Set stores value under key, replacing an existing entry in place.
func (b *Bag) Set(key string, value Value) {
	if b.values == nil {
		b.values = make(map[string]Value)
	}
	if _, exists := b.values[key]; !exists {
		b.keys = append(b.keys, key)
	}
	b.values[key] = value
}

// SetAny converts value with FromAny and stores it under key.
func (b *Bag) SetAny(key string, value any) error {
	converted, err := FromAny(value)
	if err != nil {
		return fmt.Errorf("attribute %q: %w", key, err)
	}
	b.Set(key, converted)
	return nil
}

// Delete removes key from the bag.
func (b *Bag) Delete(key string) {
	if _, exists := b.values[key]; !exists {
		return
	}
	delete(b.values, key)
	for idx, existing := range b.keys {
		if existing == key {
			b.keys = append(b.keys[:idx], b.keys[idx+1:]...)
			break
		}
	}
}

// Get returns the value stored under key.
func (b Bag) Get(key string) (Value, bool) {
	value, ok := b.values[key]
	return value, ok
}

// Len returns the number of entries.
func (b Bag) Len() int { return len(b.keys) }

// Keys returns the keys in insertion order.
func (b Bag) Keys() []string {
	out := make([]string, len(b.keys))
	copy(out, b.keys)
	return out
}

// Values returns the values in key insertion order.
func (b Bag) Values() []Value {
	out := make([]Value, 0, len(b.keys))
	for _, key := range b.keys {
		out = append(out, b.values[key])
	}
	return out
}

// Range calls fn for every entry in insertion order until fn returns false.
func (b Bag) Range(fn func(key string, value Value) bool) {
	for _, key := range b.keys {
		if !fn(key, b.values[key]) {
			return
		}
	}
}

// Clone returns a deep copy that shares no storage with b.
func (b Bag) Clone() Bag {
	out := Bag{
		keys:   make([]string, len(b.keys)),
		values: make(map[string]Value, len(b.values)),
	}
	copy(out.keys, b.keys)
	for key, value := range b.values {
		if value.kind == KindList {
			value = Value{kind: KindList, items: value.Items()}
		}
		out.values[key] = value
	}
	return out
}

// Equal reports whether both bags hold the same entries in the same order.
func (b Bag) Equal(other Bag) bool {
	if len(b.keys) != len(other.keys) {
		return false
	}
	for idx, key := range b.keys {
		if other.keys[idx] != key {
			return false
		}
		if !b.values[key].Equal(other.values[key]) {
			return false
		}
	}
	return true
}

// Validate checks every key with ValidateKey and rejects entries holding the zero Value.
func (b Bag) Validate() error {
	for _, key := range b.keys {
		if err := ValidateKey(key); err != nil {
			return err
		}
		if err := ValidateValue(b.values[key]); err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
	}
	return nil
}

// ValidateValue rejects the zero Value and lists carrying invalid or nested items.
func ValidateValue(value Value) error {
	if !value.IsValid() {
		return fmt.Errorf("%w: invalid value", ErrUnsupportedValue)
	}
	if !value.IsList() {
		return nil
	}
	for idx, item := range value.items {
		switch item.kind {
		case KindInvalid:
			return fmt.Errorf("%w: list item %d is invalid", ErrUnsupportedValue, idx)
		case KindList:
			return fmt.Errorf("%w: list item %d is a nested list", ErrUnsupportedValue, idx)
		}
	}
	return nil
}

// Document returns the ordered store representation of the bag.
func (b Bag) Document() bson.D {
	doc := make(bson.D, 0, len(b.keys))
	for _, key := range b.keys {
		doc = append(doc, bson.E{Key: key, Value: b.values[key].Native()})
	}
	return doc
}

// MarshalBSON encodes the bag as an embedded document preserving key order.
func (b Bag) MarshalBSON() ([]byte, error) {
	return bson.Marshal(b.Document())
}

// UnmarshalBSON decodes an embedded document. Scalars must be strings, 32/64-bit integers,
// doubles or booleans; arrays may only hold those scalars.
func (b *Bag) UnmarshalBSON(data []byte) error {
	elements, err := bson.Raw(data).Elements()
	if err != nil {
		return fmt.Errorf("decode attribute document: %w", err)
	}
	decoded := Bag{}
	for _, element := range elements {
		value, err := fromRawValue(element.Value())
		if err != nil {
			return fmt.Errorf("attribute %q: %w", element.Key(), err)
		}
		decoded.Set(element.Key(), value)
	}
	*b = decoded
	return nil
}

func fromRawValue(raw bson.RawValue) (Value, error) {
	switch raw.Type {
	case bson.TypeString:
		return String(raw.StringValue()), nil
	case bson.TypeInt32:
		return Int(int64(raw.Int32())), nil
	case bson.TypeInt64:
		return Int(raw.Int64()), nil
	case bson.TypeDouble:
		return Float(raw.Double()), nil
	case bson.TypeBoolean:
		return Bool(raw.Boolean()), nil
	case bson.TypeArray:
		rawItems, err := raw.Array().Values()
		if err != nil {
			return Value{}, err
		}
		items := make([]Value, 0, len(rawItems))
		for _, rawItem := range rawItems {
			if rawItem.Type == bson.TypeArray {
				return Value{}, fmt.Errorf("%w: nested array", ErrUnsupportedValue)
			}
			item, err := fromRawValue(rawItem)
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
		}
		return List(items...)
	default:
		return Value{}, fmt.Errorf("%w: bson type %s", ErrUnsupportedValue, raw.Type)
	}
}

// MarshalJSON encodes the bag as a JSON object preserving key order.
func (b Bag) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for idx, key := range b.keys {
		if idx > 0 {
			buf.WriteByte(',')
		}
		encodedKey, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(encodedKey)
		buf.WriteByte(':')
		encodedValue, err := json.Marshal(jsonNative(b.values[key]))
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", key, err)
		}
		buf.Write(encodedValue)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func jsonNative(value Value) any {
	if value.kind != KindList {
		return value.Native()
	}
	out := make([]any, 0, len(value.items))
	for _, item := range value.items {
		out = append(out, item.Native())
	}
	return out
}

// UnmarshalJSON decodes a JSON object, keeping the document order of its keys. Integers stay
// integers; null entries and nested objects are rejected. A JSON null leaves the bag untouched.
func (b *Bag) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decode attributes: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("%w: attributes must be a JSON object", ErrUnsupportedValue)
	}

	decoded := Bag{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decode attributes: %w", err)
		}
		key, _ := keyTok.(string)
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("attribute %q: %w", key, err)
		}
		if err := decoded.SetAny(key, raw); err != nil {
			return err
		}
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("decode attributes: %w", err)
	}
	*b = decoded
	return nil
}

// String renders the bag as "k=v" pairs in insertion order.
func (b Bag) String() string {
	parts := make([]string, 0, len(b.keys))
	for _, key := range b.keys {
		parts = append(parts, key+"="+b.values[key].String())
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
