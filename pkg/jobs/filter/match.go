package filter

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Match evaluates e against a decoded document using MongoDB query semantics: an array field
// equals a value when any element does, numbers compare across integer and floating point
// types, and null matches missing fields. Raw documents support the comparison, logical,
// $in/$nin, $exists, $size and $all operators; anything else fails with ErrUnsupportedOperator.
func Match(e Expr, doc map[string]any) (bool, error) {
	switch typed := e.(type) {
	case nil:
		return true, nil
	case AndExpr:
		for _, item := range typed.Items {
			ok, err := Match(item, doc)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case OrExpr:
		for _, item := range typed.Items {
			ok, err := Match(item, doc)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case EqExpr:
		actual, found := lookup(doc, typed.Field)
		return matchEq(actual, found, typed.Value), nil
	case InExpr:
		actual, found := lookup(doc, typed.Field)
		for _, value := range typed.Values {
			if matchEq(actual, found, value) {
				return true, nil
			}
		}
		return false, nil
	case NullExpr:
		actual, found := lookup(doc, typed.Field)
		return matchEq(actual, found, nil), nil
	case NotExpr:
		ok, err := Match(typed.Inner, doc)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case RawExpr:
		return evalDocument(typed.Doc, doc)
	case FalseExpr:
		return false, nil
	default:
		return false, fmt.Errorf("filter unknown expression %T", e)
	}
}

func evalDocument(query bson.D, doc map[string]any) (bool, error) {
	for _, elem := range query {
		var (
			ok  bool
			err error
		)
		switch elem.Key {
		case "$and", "$or", "$nor":
			ok, err = evalLogical(elem.Key, elem.Value, doc)
		default:
			if strings.HasPrefix(elem.Key, "$") {
				return false, fmt.Errorf("%w: %s", ErrUnsupportedOperator, elem.Key)
			}
			ok, err = evalField(elem.Key, elem.Value, doc)
		}
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func evalLogical(op string, arg any, doc map[string]any) (bool, error) {
	clauses, ok := asArray(arg)
	if !ok || len(clauses) == 0 {
		return false, fmt.Errorf("%w: %s needs a non-empty array", ErrInvalidRaw, op)
	}
	matched := 0
	for _, clause := range clauses {
		sub, ok := asDoc(clause)
		if !ok {
			return false, fmt.Errorf("%w: %s items must be documents", ErrInvalidRaw, op)
		}
		hit, err := evalDocument(sub, doc)
		if err != nil {
			return false, err
		}
		if hit {
			matched++
		}
	}
	switch op {
	case "$and":
		return matched == len(clauses), nil
	case "$or":
		return matched > 0, nil
	default:
		return matched == 0, nil
	}
}

func evalField(path string, cond any, doc map[string]any) (bool, error) {
	actual, found := lookup(doc, path)
	ops, isOps := operatorDoc(cond)
	if !isOps {
		return matchEq(actual, found, cond), nil
	}
	for _, op := range ops {
		ok, err := evalOperator(op.Key, op.Value, actual, found)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func evalOperator(op string, arg, actual any, found bool) (bool, error) {
	switch op {
	case "$eq":
		return matchEq(actual, found, arg), nil
	case "$ne":
		return !matchEq(actual, found, arg), nil
	case "$gt":
		return matchCompare(actual, found, arg, func(c int) bool { return c > 0 }), nil
	case "$gte":
		return matchCompare(actual, found, arg, func(c int) bool { return c >= 0 }), nil
	case "$lt":
		return matchCompare(actual, found, arg, func(c int) bool { return c < 0 }), nil
	case "$lte":
		return matchCompare(actual, found, arg, func(c int) bool { return c <= 0 }), nil
	case "$in", "$nin":
		candidates, ok := asArray(arg)
		if !ok {
			return false, fmt.Errorf("%w: %s needs an array", ErrInvalidRaw, op)
		}
		hit := false
		for _, candidate := range candidates {
			if matchEq(actual, found, candidate) {
				hit = true
				break
			}
		}
		if op == "$nin" {
			return !hit, nil
		}
		return hit, nil
	case "$exists":
		return truthy(arg) == found, nil
	case "$not":
		inner, ok := operatorDoc(arg)
		if !ok {
			return false, fmt.Errorf("%w: $not needs an operator document", ErrInvalidRaw)
		}
		for _, innerOp := range inner {
			hit, err := evalOperator(innerOp.Key, innerOp.Value, actual, found)
			if err != nil {
				return false, err
			}
			if !hit {
				return true, nil
			}
		}
		return false, nil
	case "$size":
		items, ok := asArray(actual)
		if !ok {
			return false, nil
		}
		want, _, isNumber := toNumber(arg)
		return isNumber && float64(len(items)) == want, nil
	case "$all":
		wanted, ok := asArray(arg)
		if !ok {
			return false, fmt.Errorf("%w: $all needs an array", ErrInvalidRaw)
		}
		if len(wanted) == 0 {
			return false, nil
		}
		for _, want := range wanted {
			if !matchEq(actual, found, want) {
				return false, nil
			}
		}
		return true, nil
	default:
		return false, fmt.Errorf("%w: %s", ErrUnsupportedOperator, op)
	}
}

// lookup resolves a dotted path. Non numeric segments applied to an array collect the field
// from every element that is a document.
func lookup(doc map[string]any, path string) (any, bool) {
	var current any = doc
	for _, segment := range strings.Split(path, ".") {
		next, ok := descend(current, segment)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

func descend(current any, segment string) (any, bool) {
	if sub, ok := asDoc(current); ok {
		for _, elem := range sub {
			if elem.Key == segment {
				return elem.Value, true
			}
		}
		return nil, false
	}
	items, ok := asArray(current)
	if !ok {
		return nil, false
	}
	if idx, err := strconv.Atoi(segment); err == nil {
		if idx < 0 || idx >= len(items) {
			return nil, false
		}
		return items[idx], true
	}
	var collected bson.A
	for _, item := range items {
		if value, ok := descend(item, segment); ok {
			collected = append(collected, value)
		}
	}
	if len(collected) == 0 {
		return nil, false
	}
	return collected, true
}

func matchEq(actual any, found bool, want any) bool {
	if isNull(want) {
		if !found || isNull(actual) {
			return true
		}
		if items, ok := asArray(actual); ok {
			for _, item := range items {
				if isNull(item) {
					return true
				}
			}
		}
		return false
	}
	if !found {
		return false
	}
	if valuesEqual(actual, want) {
		return true
	}
	if items, ok := asArray(actual); ok {
		for _, item := range items {
			if valuesEqual(item, want) {
				return true
			}
		}
	}
	return false
}

func matchCompare(actual any, found bool, want any, accept func(int) bool) bool {
	if !found {
		return false
	}
	if cmp, ok := compareValues(actual, want); ok && accept(cmp) {
		return true
	}
	if items, ok := asArray(actual); ok {
		for _, item := range items {
			if cmp, ok := compareValues(item, want); ok && accept(cmp) {
				return true
			}
		}
	}
	return false
}

func valuesEqual(a, b any) bool {
	if isNull(a) || isNull(b) {
		return isNull(a) && isNull(b)
	}
	if cmp, ok := compareValues(a, b); ok {
		return cmp == 0
	}
	if left, ok := asArray(a); ok {
		right, ok := asArray(b)
		if !ok || len(left) != len(right) {
			return false
		}
		for idx := range left {
			if !valuesEqual(left[idx], right[idx]) {
				return false
			}
		}
		return true
	}
	if left, ok := asDoc(a); ok {
		right, ok := asDoc(b)
		if !ok || len(left) != len(right) {
			return false
		}
		for idx := range left {
			if left[idx].Key != right[idx].Key || !valuesEqual(left[idx].Value, right[idx].Value) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders two scalars of the same type class.
func compareValues(a, b any) (int, bool) {
	if af, ai, ok := toNumber(a); ok {
		bf, bi, ok := toNumber(b)
		if !ok {
			return 0, false
		}
		if ai != nil && bi != nil {
			return compareOrdered(*ai, *bi), true
		}
		return compareOrdered(af, bf), true
	}
	switch left := a.(type) {
	case string:
		right, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(left, right), true
	case bool:
		right, ok := b.(bool)
		if !ok {
			return 0, false
		}
		return compareOrdered(boolRank(left), boolRank(right)), true
	}
	if left, ok := toMillis(a); ok {
		right, ok := toMillis(b)
		if !ok {
			return 0, false
		}
		return compareOrdered(left, right), true
	}
	return 0, false
}

func compareOrdered[T int | int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

// toNumber returns the value as float64 and, for integral types, as an exact int64.
func toNumber(v any) (float64, *int64, bool) {
	var i int64
	switch n := v.(type) {
	case int:
		i = int64(n)
	case int32:
		i = int64(n)
	case int64:
		i = n
	case float32:
		return float64(n), nil, true
	case float64:
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			i = int64(n)
			return n, &i, true
		}
		return n, nil, true
	default:
		return 0, nil, false
	}
	return float64(i), &i, true
}

func toMillis(v any) (int64, bool) {
	switch t := v.(type) {
	case primitive.DateTime:
		return int64(t), true
	case time.Time:
		return t.UnixMilli(), true
	default:
		return 0, false
	}
}

func truthy(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	if f, _, ok := toNumber(v); ok {
		return f != 0
	}
	return !isNull(v)
}

func isNull(v any) bool {
	switch v.(type) {
	case nil, primitive.Null, primitive.Undefined:
		return true
	default:
		return false
	}
}

func asArray(v any) ([]any, bool) {
	switch t := v.(type) {
	case bson.A:
		return []any(t), true
	case []any:
		return t, true
	default:
		return nil, false
	}
}

func asDoc(v any) (bson.D, bool) {
	switch t := v.(type) {
	case bson.D:
		return t, true
	case bson.M:
		return mapToDoc(t), true
	case map[string]any:
		return mapToDoc(t), true
	default:
		return nil, false
	}
}

func mapToDoc(m map[string]any) bson.D {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make(bson.D, 0, len(m))
	for _, key := range keys {
		out = append(out, bson.E{Key: key, Value: m[key]})
	}
	return out
}

func operatorDoc(v any) (bson.D, bool) {
	doc, ok := asDoc(v)
	if !ok || len(doc) == 0 || !strings.HasPrefix(doc[0].Key, "$") {
		return nil, false
	}
	return doc, true
}
