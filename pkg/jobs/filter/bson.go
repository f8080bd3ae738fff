package filter

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// matchNothing is the query document used for predicates that can never match.
// Every stored document has an _id and no _id is a member of the empty set.
func matchNothing() bson.D {
	return bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: bson.A{}}}}}
}

// ToBSON translates e into a MongoDB query document. A nil expression matches every document.
func ToBSON(e Expr) (bson.D, error) {
	switch typed := e.(type) {
	case nil:
		return bson.D{}, nil
	case AndExpr:
		if len(typed.Items) == 0 {
			return bson.D{}, nil
		}
		if len(typed.Items) == 1 {
			return ToBSON(typed.Items[0])
		}
		clauses, err := toBSONList(typed.Items)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: "$and", Value: clauses}}, nil
	case OrExpr:
		if len(typed.Items) == 0 {
			return matchNothing(), nil
		}
		if len(typed.Items) == 1 {
			return ToBSON(typed.Items[0])
		}
		clauses, err := toBSONList(typed.Items)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: "$or", Value: clauses}}, nil
	case EqExpr:
		if typed.Field == "" {
			return nil, fmt.Errorf("filter equality predicate without field")
		}
		return bson.D{{Key: typed.Field, Value: bson.D{{Key: "$eq", Value: typed.Value}}}}, nil
	case InExpr:
		if typed.Field == "" {
			return nil, fmt.Errorf("filter membership predicate without field")
		}
		values := make(bson.A, 0, len(typed.Values))
		values = append(values, typed.Values...)
		return bson.D{{Key: typed.Field, Value: bson.D{{Key: "$in", Value: values}}}}, nil
	case NullExpr:
		if typed.Field == "" {
			return nil, fmt.Errorf("filter null predicate without field")
		}
		return bson.D{{Key: typed.Field, Value: nil}}, nil
	case NotExpr:
		inner, err := ToBSON(typed.Inner)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: "$nor", Value: bson.A{inner}}}, nil
	case RawExpr:
		if typed.Doc == nil {
			return bson.D{}, nil
		}
		return typed.Doc, nil
	case FalseExpr:
		return matchNothing(), nil
	default:
		return nil, fmt.Errorf("filter unknown expression %T", e)
	}
}

func toBSONList(items []Expr) (bson.A, error) {
	out := make(bson.A, 0, len(items))
	for _, item := range items {
		doc, err := ToBSON(item)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}
