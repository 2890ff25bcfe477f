package actions_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scalpel-replay/api/schemas"
	"github.com/xkilldash9x/scalpel-replay/internal/actions"
)

func cmp(op schemas.CompareOp, left, right interface{}) *schemas.Condition {
	return &schemas.Condition{
		Kind:  schemas.ConditionCompare,
		Op:    op,
		Left:  &schemas.Operand{Value: left},
		Right: &schemas.Operand{Value: right},
	}
}

func TestEvaluateCondition_Compare(t *testing.T) {
	tests := []struct {
		name string
		cond *schemas.Condition
		want bool
	}{
		{"eq numbers", cmp(schemas.OpEq, 3.0, 3), true},
		{"eq numeric text", cmp(schemas.OpEq, "42", 42.0), true},
		{"eq bool vs text", cmp(schemas.OpEq, true, "true"), true},
		{"eq bool vs other text", cmp(schemas.OpEq, false, "true"), false},
		{"neq", cmp(schemas.OpNeq, "a", "b"), true},
		{"gt", cmp(schemas.OpGt, 5.0, 3.0), true},
		{"gte equal", cmp(schemas.OpGte, 3.0, 3.0), true},
		{"lt strings", cmp(schemas.OpLt, "apple", "banana"), true},
		{"lte mixed types", cmp(schemas.OpLte, true, 3.0), false},
		{"contains substring", cmp(schemas.OpContains, "hello world", "world"), true},
		{"contains array", cmp(schemas.OpContains, []interface{}{"a", 2.0}, 2), true},
		{"contains key", cmp(schemas.OpContains, map[string]interface{}{"k": 1}, "k"), true},
		{"notContains", cmp(schemas.OpNotContains, "hello", "bye"), true},
		{"startsWith", cmp(schemas.OpStartsWith, "https://x", "https://"), true},
		{"endsWith", cmp(schemas.OpEndsWith, "report.pdf", ".csv"), false},
		{"regex", cmp(schemas.OpRegex, "order-1234", `^order-\d+$`), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := actions.EvaluateCondition(tt.cond, actions.VariableStore{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateCondition_Logic(t *testing.T) {
	vars := actions.VariableStore{
		"user":  map[string]interface{}{"name": "ada", "roles": []interface{}{"admin"}},
		"count": 0.0,
		"flag":  "false",
	}
	truthy := func(v string) schemas.Condition {
		return schemas.Condition{Kind: schemas.ConditionTruthy, Value: &schemas.Operand{Var: v}}
	}

	tests := []struct {
		name string
		cond schemas.Condition
		want bool
	}{
		{"nested var", truthy("user.name"), true},
		{"zero is falsy", truthy("count"), false},
		{"false text is falsy", truthy("flag"), false},
		{"missing is falsy", truthy("nope"), false},
		{"falsy", schemas.Condition{Kind: schemas.ConditionFalsy, Value: &schemas.Operand{Var: "count"}}, true},
		{"not", schemas.Condition{Kind: schemas.ConditionNot, Condition: &schemas.Condition{Kind: schemas.ConditionTruthy, Value: &schemas.Operand{Var: "count"}}}, true},
		{"and", schemas.Condition{Kind: schemas.ConditionAnd, Conditions: []schemas.Condition{truthy("user"), truthy("count")}}, false},
		{"or", schemas.Condition{Kind: schemas.ConditionOr, Conditions: []schemas.Condition{truthy("count"), truthy("user.roles")}}, true},
		{"empty and", schemas.Condition{Kind: schemas.ConditionAnd}, true},
		{"templated literal", schemas.Condition{
			Kind:  schemas.ConditionCompare,
			Op:    schemas.OpEq,
			Left:  &schemas.Operand{Value: "hi {{ user.name }}"},
			Right: &schemas.Operand{Value: "hi ada"},
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := actions.EvaluateCondition(&tt.cond, vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateCondition_Errors(t *testing.T) {
	_, err := actions.EvaluateCondition(nil, nil)
	assert.Error(t, err)

	_, err = actions.EvaluateCondition(&schemas.Condition{Kind: "xor"}, nil)
	assert.Error(t, err)

	_, err = actions.EvaluateCondition(cmp(schemas.OpRegex, "a", "("), nil)
	assert.Error(t, err)
}

func TestValidateCondition(t *testing.T) {
	assert.Empty(t, actions.ValidateCondition(cmp(schemas.OpEq, 1, 1), "c"))
	assert.Equal(t, []string{"c is required"}, actions.ValidateCondition(nil, "c"))

	errs := actions.ValidateCondition(&schemas.Condition{
		Kind: schemas.ConditionAnd,
		Conditions: []schemas.Condition{
			{Kind: schemas.ConditionCompare, Op: "~"},
			{Kind: schemas.ConditionTruthy},
		},
	}, "c")
	assert.ElementsMatch(t, []string{
		`c.conditions[0].op "~" is not supported`,
		"c.conditions[0].left is required",
		"c.conditions[0].right is required",
		"c.conditions[1].value is required",
	}, errs)
}

func TestResolveTemplates(t *testing.T) {
	vars := actions.VariableStore{
		"user":  map[string]interface{}{"name": "ada", "age": 36.0},
		"items": []interface{}{"first", "second"},
		"n":     3,
	}

	s, err := actions.ResolveString("Hello {{ user.name }}, {{items[1]}}!", vars)
	require.NoError(t, err)
	assert.Equal(t, "Hello ada, second!", s)

	s, err = actions.ResolveString("age={{ .user.age }} n={{ n }} missing=[{{ nope }}]", vars)
	require.NoError(t, err)
	assert.Equal(t, "age=36 n=3 missing=[]", s)

	v, err := actions.ResolveValue("{{ user.age }}", vars)
	require.NoError(t, err)
	assert.Equal(t, 36.0, v)

	v, err = actions.ResolveValue(map[string]interface{}{"list": []interface{}{"{{ items[0] }}", 1.0}}, vars)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"list": []interface{}{"first", 1.0}}, v)

	_, err = actions.ResolveString("{{ user[ }}", vars)
	assert.Error(t, err)
}

func TestVariableStore_CloneIsDeep(t *testing.T) {
	orig := actions.VariableStore{"m": map[string]interface{}{"k": []interface{}{1.0}}}
	clone := orig.Clone()
	clone["m"].(map[string]interface{})["k"].([]interface{})[0] = 2.0
	clone.Set("extra", true)

	assert.Equal(t, 1.0, orig["m"].(map[string]interface{})["k"].([]interface{})[0])
	_, ok := orig.Get("extra")
	assert.False(t, ok)
}
