// internal/actions/condition.go
package actions

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/xkilldash9x/scalpel-replay/api/schemas"
)

// EvaluateCondition evaluates a condition tree against vars.
func EvaluateCondition(cond *schemas.Condition, vars VariableStore) (bool, error) {
	if cond == nil {
		return false, fmt.Errorf("condition is missing")
	}
	switch cond.Kind {
	case schemas.ConditionCompare:
		left, err := operandValue(cond.Left, vars)
		if err != nil {
			return false, err
		}
		right, err := operandValue(cond.Right, vars)
		if err != nil {
			return false, err
		}
		return compareValues(cond.Op, left, right)
	case schemas.ConditionTruthy, schemas.ConditionFalsy:
		v, err := operandValue(cond.Value, vars)
		if err != nil {
			return false, err
		}
		if cond.Kind == schemas.ConditionFalsy {
			return !truthy(v), nil
		}
		return truthy(v), nil
	case schemas.ConditionNot:
		inner, err := EvaluateCondition(cond.Condition, vars)
		return !inner && err == nil, err
	case schemas.ConditionAnd:
		for i := range cond.Conditions {
			ok, err := EvaluateCondition(&cond.Conditions[i], vars)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case schemas.ConditionOr:
		for i := range cond.Conditions {
			ok, err := EvaluateCondition(&cond.Conditions[i], vars)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("unknown condition kind %q", cond.Kind)
	}
}

// ValidateCondition reports structural problems in a condition tree. path
// prefixes every message.
func ValidateCondition(cond *schemas.Condition, path string) []string {
	if cond == nil {
		return []string{path + " is required"}
	}
	var errs []string
	switch cond.Kind {
	case schemas.ConditionCompare:
		switch cond.Op {
		case schemas.OpEq, schemas.OpNeq, schemas.OpGt, schemas.OpGte, schemas.OpLt, schemas.OpLte,
			schemas.OpContains, schemas.OpNotContains, schemas.OpStartsWith, schemas.OpEndsWith, schemas.OpRegex:
		default:
			errs = append(errs, fmt.Sprintf("%s.op %q is not supported", path, cond.Op))
		}
		if cond.Left == nil {
			errs = append(errs, path+".left is required")
		}
		if cond.Right == nil {
			errs = append(errs, path+".right is required")
		}
		if cond.Op == schemas.OpRegex && cond.Right != nil && cond.Right.Var == "" {
			if pattern, ok := cond.Right.Value.(string); ok && !strings.Contains(pattern, "{{") {
				if _, err := regexp.Compile(pattern); err != nil {
					errs = append(errs, fmt.Sprintf("%s.right is not a valid pattern: %v", path, err))
				}
			}
		}
	case schemas.ConditionTruthy, schemas.ConditionFalsy:
		if cond.Value == nil {
			errs = append(errs, path+".value is required")
		}
	case schemas.ConditionNot:
		errs = append(errs, ValidateCondition(cond.Condition, path+".condition")...)
	case schemas.ConditionAnd, schemas.ConditionOr:
		for i := range cond.Conditions {
			errs = append(errs, ValidateCondition(&cond.Conditions[i], fmt.Sprintf("%s.conditions[%d]", path, i))...)
		}
	default:
		errs = append(errs, fmt.Sprintf("%s.kind %q is not supported", path, cond.Kind))
	}
	return errs
}

func operandValue(op *schemas.Operand, vars VariableStore) (interface{}, error) {
	if op == nil {
		return nil, nil
	}
	if op.Var != "" {
		return LookupVar(vars, op.Var)
	}
	return ResolveValue(op.Value, vars)
}

// truthy treats nil, false, zero, the empty string, "false", "0" and empty
// collections as false.
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		s := strings.TrimSpace(t)
		return s != "" && !strings.EqualFold(s, "false") && s != "0"
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	}
	if f, ok := toNumber(v); ok {
		return f != 0 && !math.IsNaN(f)
	}
	return true
}

// toNumber converts numeric values and numeric strings.
func toNumber(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func isNumber(v interface{}) bool {
	switch v.(type) {
	case float64, float32, int, int64, int32:
		return true
	}
	return false
}

// looseEqual compares JSON values. Numbers compare numerically even against
// numeric text, and a boolean compares against the text "true" or "false".
func looseEqual(a, b interface{}) bool {
	if isNumber(a) || isNumber(b) {
		fa, okA := toNumber(a)
		fb, okB := toNumber(b)
		if okA && okB {
			return fa == fb
		}
	}
	if ba, ok := a.(bool); ok {
		if sb, ok := b.(string); ok {
			return strings.EqualFold(strings.TrimSpace(sb), strconv.FormatBool(ba))
		}
	}
	if bb, ok := b.(bool); ok {
		if sa, ok := a.(string); ok {
			return strings.EqualFold(strings.TrimSpace(sa), strconv.FormatBool(bb))
		}
	}
	return reflect.DeepEqual(a, b)
}

func compareValues(op schemas.CompareOp, left, right interface{}) (bool, error) {
	switch op {
	case schemas.OpEq:
		return looseEqual(left, right), nil
	case schemas.OpNeq:
		return !looseEqual(left, right), nil
	case schemas.OpGt, schemas.OpGte, schemas.OpLt, schemas.OpLte:
		return orderCompare(op, left, right), nil
	case schemas.OpContains:
		return contains(left, right), nil
	case schemas.OpNotContains:
		return !contains(left, right), nil
	case schemas.OpStartsWith:
		return strings.HasPrefix(stringify(left), stringify(right)), nil
	case schemas.OpEndsWith:
		return strings.HasSuffix(stringify(left), stringify(right)), nil
	case schemas.OpRegex:
		re, err := regexp.Compile(stringify(right))
		if err != nil {
			return false, fmt.Errorf("invalid pattern %q: %w", stringify(right), err)
		}
		return re.MatchString(stringify(left)), nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

func orderCompare(op schemas.CompareOp, left, right interface{}) bool {
	var cmp int
	fl, okL := toNumber(left)
	fr, okR := toNumber(right)
	switch {
	case okL && okR:
		switch {
		case fl < fr:
			cmp = -1
		case fl > fr:
			cmp = 1
		}
	default:
		sl, isStrL := left.(string)
		sr, isStrR := right.(string)
		if !isStrL || !isStrR {
			return false
		}
		cmp = strings.Compare(sl, sr)
	}
	switch op {
	case schemas.OpGt:
		return cmp > 0
	case schemas.OpGte:
		return cmp >= 0
	case schemas.OpLt:
		return cmp < 0
	default:
		return cmp <= 0
	}
}

// contains is element membership for arrays, key presence for objects and
// substring search otherwise.
func contains(haystack, needle interface{}) bool {
	switch h := haystack.(type) {
	case nil:
		return false
	case []interface{}:
		for _, item := range h {
			if looseEqual(item, needle) {
				return true
			}
		}
		return false
	case map[string]interface{}:
		_, ok := h[stringify(needle)]
		return ok
	}
	return strings.Contains(stringify(haystack), stringify(needle))
}
