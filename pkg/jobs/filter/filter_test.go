package filter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func fixtureDoc(t *testing.T) map[string]any {
	t.Helper()
	raw, err := bson.Marshal(bson.D{
		{Key: "_id", Value: "job-1"},
		{Key: "queueId", Value: "emails"},
		{Key: "attributes", Value: bson.D{
			{Key: "DataCenter", Value: "CAL01"},
			{Key: "Priority", Value: int32(3)},
			{Key: "Weight", Value: 1.5},
			{Key: "Zones", Value: bson.A{"east", "west"}},
		}},
		{Key: "acknowledgment", Value: nil},
		{Key: "reports", Value: bson.A{
			bson.D{{Key: "Message", Value: "FooBar"}},
			bson.D{{Key: "Message", Value: "WizBang"}},
		}},
	})
	require.NoError(t, err)
	var doc bson.M
	require.NoError(t, bson.Unmarshal(raw, &doc))
	return doc
}

func TestMatch_Expressions(t *testing.T) {
	doc := fixtureDoc(t)
	tests := []struct {
		name string
		expr Expr
		want bool
	}{
		{name: "nil matches", expr: nil, want: true},
		{name: "empty and matches", expr: And(), want: true},
		{name: "empty or matches nothing", expr: Or(), want: false},
		{name: "false", expr: False(), want: false},
		{name: "scalar equality", expr: Eq("attributes.DataCenter", "CAL01"), want: true},
		{name: "scalar mismatch", expr: Eq("attributes.DataCenter", "CAL02"), want: false},
		{name: "int matches int32", expr: Eq("attributes.Priority", int64(3)), want: true},
		{name: "float matches int32", expr: Eq("attributes.Priority", 3.0), want: true},
		{name: "array element", expr: Eq("attributes.Zones", "west"), want: true},
		{name: "whole array", expr: Eq("attributes.Zones", bson.A{"east", "west"}), want: true},
		{name: "array order matters", expr: Eq("attributes.Zones", bson.A{"west", "east"}), want: false},
		{name: "missing field", expr: Eq("attributes.Nope", "x"), want: false},
		{name: "in", expr: In("queueId", "sms", "emails"), want: true},
		{name: "in empty", expr: In("queueId"), want: false},
		{name: "null field", expr: IsNull("acknowledgment"), want: true},
		{name: "missing counts as null", expr: IsNull("result"), want: true},
		{name: "not null", expr: NotNull("attributes"), want: true},
		{name: "nested array path", expr: Eq("reports.Message", "WizBang"), want: true},
		{name: "indexed path", expr: Eq("reports.0.Message", "FooBar"), want: true},
		{
			name: "conjunction",
			expr: And(Eq("queueId", "emails"), Eq("attributes.DataCenter", "CAL01"), IsNull("acknowledgment")),
			want: true,
		},
		{
			name: "disjunction",
			expr: Or(Eq("attributes.Zones", "north"), Eq("attributes.Zones", "east")),
			want: true,
		},
		{name: "negation", expr: Not(Eq("queueId", "emails")), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Match(tt.expr, doc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatch_RawDocuments(t *testing.T) {
	doc := fixtureDoc(t)
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{name: "empty", raw: `{}`, want: true},
		{name: "implicit equality", raw: `{"attributes.DataCenter": "CAL01"}`, want: true},
		{name: "gte", raw: `{"attributes.Priority": {"$gte": 3}}`, want: true},
		{name: "gt", raw: `{"attributes.Priority": {"$gt": 3}}`, want: false},
		{name: "range", raw: `{"attributes.Weight": {"$gt": 1, "$lt": 2}}`, want: true},
		{name: "ne on missing", raw: `{"attributes.Nope": {"$ne": 1}}`, want: true},
		{name: "nin", raw: `{"attributes.Zones": {"$nin": ["north"]}}`, want: true},
		{name: "exists", raw: `{"attributes.Weight": {"$exists": true}}`, want: true},
		{name: "not exists", raw: `{"result": {"$exists": false}}`, want: true},
		{name: "not", raw: `{"attributes.Priority": {"$not": {"$gt": 5}}}`, want: true},
		{name: "size", raw: `{"reports": {"$size": 2}}`, want: true},
		{name: "all", raw: `{"attributes.Zones": {"$all": ["west", "east"]}}`, want: true},
		{name: "or", raw: `{"$or": [{"queueId": "sms"}, {"attributes.Priority": 3}]}`, want: true},
		{name: "nor", raw: `{"$nor": [{"queueId": "emails"}]}`, want: false},
		{name: "and", raw: `{"$and": [{"queueId": "emails"}, {"attributes.Zones": "east"}]}`, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := ParseRaw(tt.raw)
			require.NoError(t, err)
			got, err := Match(expr, doc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatch_UnsupportedOperator(t *testing.T) {
	expr, err := ParseRaw(`{"$where": "this.a == 1"}`)
	require.NoError(t, err)
	_, err = Match(expr, fixtureDoc(t))
	assert.True(t, errors.Is(err, ErrUnsupportedOperator), "got %v", err)

	expr, err = ParseRaw(`{"attributes.DataCenter": {"$regex": "^CAL"}}`)
	require.NoError(t, err)
	_, err = Match(expr, fixtureDoc(t))
	assert.ErrorIs(t, err, ErrUnsupportedOperator)
}

func TestParseRaw_RejectsMalformedInput(t *testing.T) {
	for _, input := range []string{
		`{`,
		`not json`,
		`{"a": }`,
		`null`,
		`[]`,
		`[{"a": 1}]`,
		`"x"`,
		`1`,
		`true`,
		`{"attributes.DataCenter":"CAL01"} {"attributes.DataCenter":"NYC02"}`,
		`{"attributes.DataCenter":"NOPE"}}}garbage`,
		`{} x`,
	} {
		_, err := ParseRaw(input)
		assert.ErrorIs(t, err, ErrInvalidRaw, "input %q", input)
	}
}

func TestParseRaw_AcceptsSingleObjectWithSurroundingWhitespace(t *testing.T) {
	expr, err := ParseRaw("  \n{\"attributes.DataCenter\": \"CAL01\"}\t\n ")
	require.NoError(t, err)
	raw, ok := expr.(RawExpr)
	require.True(t, ok)
	assert.Equal(t, bson.D{{Key: "attributes.DataCenter", Value: "CAL01"}}, raw.Doc)

	expr, err = ParseRaw(`{}`)
	require.NoError(t, err)
	matched, err := Match(expr, fixtureDoc(t))
	require.NoError(t, err)
	assert.True(t, matched)
}

func TestToBSON(t *testing.T) {
	tests := []struct {
		name string
		expr Expr
		want bson.D
	}{
		{name: "nil", expr: nil, want: bson.D{}},
		{name: "empty and", expr: And(), want: bson.D{}},
		{name: "false", expr: False(), want: matchNothing()},
		{name: "empty or", expr: Or(), want: matchNothing()},
		{
			name: "eq",
			expr: Eq("queueId", "emails"),
			want: bson.D{{Key: "queueId", Value: bson.D{{Key: "$eq", Value: "emails"}}}},
		},
		{
			name: "single item and collapses",
			expr: And(IsNull("acknowledgment")),
			want: bson.D{{Key: "acknowledgment", Value: nil}},
		},
		{
			name: "not",
			expr: NotNull("result"),
			want: bson.D{{Key: "$nor", Value: bson.A{bson.D{{Key: "result", Value: nil}}}}},
		},
		{
			name: "and of two",
			expr: And(Eq("a", 1), In("b", "x")),
			want: bson.D{{Key: "$and", Value: bson.A{
				bson.D{{Key: "a", Value: bson.D{{Key: "$eq", Value: 1}}}},
				bson.D{{Key: "b", Value: bson.D{{Key: "$in", Value: bson.A{"x"}}}}},
			}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToBSON(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAnd_FlattensNestedConjunctions(t *testing.T) {
	expr := And(Eq("a", 1), nil, And(Eq("b", 2), Eq("c", 3)))
	and, ok := expr.(AndExpr)
	require.True(t, ok)
	assert.Len(t, and.Items, 3)
	assert.Equal(t, "(a == 1 AND b == 2 AND c == 3)", String(expr))
}
