// Package filter models job selection predicates as a small expression tree. Trees are built once,
// then translated to MongoDB query documents (ToBSON) or evaluated against decoded documents
// (Match), so the composition logic stays independent of the storage technology.
package filter

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

var (
	// ErrInvalidRaw classifies raw predicate documents that cannot be parsed.
	ErrInvalidRaw = errors.New("filter invalid raw predicate")
	// ErrUnsupportedOperator classifies raw operators the in-memory evaluator does not implement.
	ErrUnsupportedOperator = errors.New("filter unsupported operator")
)

// Expr is a node of the predicate tree.
type Expr interface {
	isExpr()
}

// AndExpr matches when every item matches. An empty AndExpr matches everything.
type AndExpr struct {
	Items []Expr
}

// OrExpr matches when at least one item matches. An empty OrExpr matches nothing.
type OrExpr struct {
	Items []Expr
}

// EqExpr matches when Field equals Value, or when Field is an array containing Value.
type EqExpr struct {
	Field string
	Value any
}

// InExpr matches when Field equals any of Values.
type InExpr struct {
	Field  string
	Values []any
}

// NullExpr matches when Field is null or missing.
type NullExpr struct {
	Field string
}

// NotExpr negates Inner.
type NotExpr struct {
	Inner Expr
}

// RawExpr is a caller supplied query document.
type RawExpr struct {
	Source string
	Doc    bson.D
}

// FalseExpr never matches.
type FalseExpr struct{}

func (AndExpr) isExpr()   {}
func (OrExpr) isExpr()    {}
func (EqExpr) isExpr()    {}
func (InExpr) isExpr()    {}
func (NullExpr) isExpr()  {}
func (NotExpr) isExpr()   {}
func (RawExpr) isExpr()   {}
func (FalseExpr) isExpr() {}

// And combines items conjunctively. Nil items are skipped and nested conjunctions are flattened.
func And(items ...Expr) Expr {
	out := make([]Expr, 0, len(items))
	for _, item := range items {
		switch typed := item.(type) {
		case nil:
			continue
		case AndExpr:
			out = append(out, typed.Items...)
		default:
			out = append(out, item)
		}
	}
	return AndExpr{Items: out}
}

// Or combines items disjunctively. Nil items are skipped. Or() with no items matches nothing.
func Or(items ...Expr) Expr {
	out := make([]Expr, 0, len(items))
	for _, item := range items {
		if item != nil {
			out = append(out, item)
		}
	}
	return OrExpr{Items: out}
}

// Eq builds an equality predicate.
func Eq(field string, value any) Expr {
	return EqExpr{Field: field, Value: value}
}

// In builds a set membership predicate.
func In(field string, values ...any) Expr {
	out := make([]any, len(values))
	copy(out, values)
	return InExpr{Field: field, Values: out}
}

// IsNull matches documents where field is null or missing.
func IsNull(field string) Expr {
	return NullExpr{Field: field}
}

// NotNull matches documents where field holds a value.
func NotNull(field string) Expr {
	return NotExpr{Inner: NullExpr{Field: field}}
}

// Not negates inner.
func Not(inner Expr) Expr {
	return NotExpr{Inner: inner}
}

// False returns a predicate that matches nothing.
func False() Expr {
	return FalseExpr{}
}

// Raw wraps an already parsed query document.
func Raw(doc bson.D) Expr {
	return RawExpr{Doc: doc}
}

// ParseRaw parses a MongoDB Extended JSON query document such as
// `{"attributes.Priority": {"$gte": 3}}`. The source must hold exactly one JSON object; anything
// after it other than whitespace is rejected.
func ParseRaw(source string) (Expr, error) {
	object, err := singleObject(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRaw, err)
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON(object, false, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRaw, err)
	}
	return RawExpr{Source: source, Doc: doc}, nil
}

func singleObject(source string) ([]byte, error) {
	trimmed := strings.TrimSpace(source)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, errors.New("top-level value must be a JSON object")
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	var object json.RawMessage
	if err := dec.Decode(&object); err != nil {
		return nil, err
	}
	if rest := strings.TrimSpace(trimmed[dec.InputOffset():]); rest != "" {
		return nil, fmt.Errorf("unexpected trailing input %q", truncate(rest, 32))
	}
	return object, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// String renders the tree in a compact, log friendly form.
func String(e Expr) string {
	switch typed := e.(type) {
	case nil:
		return "TRUE"
	case AndExpr:
		if len(typed.Items) == 0 {
			return "TRUE"
		}
		return "(" + joinExprs(typed.Items, " AND ") + ")"
	case OrExpr:
		if len(typed.Items) == 0 {
			return "FALSE"
		}
		return "(" + joinExprs(typed.Items, " OR ") + ")"
	case EqExpr:
		return fmt.Sprintf("%s == %v", typed.Field, typed.Value)
	case InExpr:
		return fmt.Sprintf("%s IN %v", typed.Field, typed.Values)
	case NullExpr:
		return typed.Field + " IS NULL"
	case NotExpr:
		return "NOT " + String(typed.Inner)
	case RawExpr:
		if typed.Source != "" {
			return "RAW " + typed.Source
		}
		return fmt.Sprintf("RAW %v", typed.Doc)
	case FalseExpr:
		return "FALSE"
	default:
		return fmt.Sprintf("%T", e)
	}
}

func joinExprs(items []Expr, sep string) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, String(item))
	}
	return strings.Join(parts, sep)
}
