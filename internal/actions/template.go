// internal/actions/template.go
package actions

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/itchyny/gojq"
)

// templatePattern matches {{ expr }} placeholders.
var templatePattern = regexp.MustCompile(`\{\{\s*(.+?)\s*\}\}`)

// codeCache holds compiled jq programs keyed by their normalized source.
var codeCache sync.Map

// compileExpr compiles a variable expression. A leading dot is optional, so
// "user.name", ".user.name" and "items[0]" all work.
func compileExpr(expr string) (*gojq.Code, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty expression")
	}
	if !strings.HasPrefix(expr, ".") && !strings.HasPrefix(expr, "$") {
		expr = "." + expr
	}
	if cached, ok := codeCache.Load(expr); ok {
		return cached.(*gojq.Code), nil
	}
	q, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expr, err)
	}
	code, err := gojq.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("could not compile expression %q: %w", expr, err)
	}
	codeCache.Store(expr, code)
	return code, nil
}

// LookupVar evaluates a variable expression against vars. Plain names are a
// map lookup; anything else goes through jq. A missing variable is nil.
func LookupVar(vars VariableStore, expr string) (interface{}, error) {
	expr = strings.TrimSpace(expr)
	if isPlainName(expr) {
		return vars[expr], nil
	}
	code, err := compileExpr(expr)
	if err != nil {
		return nil, err
	}
	iter := code.Run(jqInput(vars))
	v, ok := iter.Next()
	if !ok {
		return nil, nil
	}
	if err, isErr := v.(error); isErr {
		return nil, fmt.Errorf("evaluating %q: %w", expr, err)
	}
	return v, nil
}

func isPlainName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// jqInput converts the store to the plain map gojq expects. Values that gojq
// cannot walk (typed slices, structs) are normalized through JSON.
func jqInput(vars VariableStore) interface{} {
	m := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		m[k] = jqValue(v)
	}
	return m
}

func jqValue(v interface{}) interface{} {
	switch t := v.(type) {
	case nil, bool, string, float64, int:
		return t
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = jqValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = jqValue(val)
		}
		return out
	case int64:
		return int(t)
	case int32:
		return int(t)
	case float32:
		return float64(t)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Sprint(v)
	}
	return out
}

// ResolveString replaces every {{ expr }} in s with the value of expr.
// Strings are inserted as is, nil as "", anything else as JSON.
func ResolveString(s string, vars VariableStore) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	var firstErr error
	out := templatePattern.ReplaceAllStringFunc(s, func(match string) string {
		expr := templatePattern.FindStringSubmatch(match)[1]
		v, err := LookupVar(vars, expr)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return match
		}
		return stringify(v)
	})
	return out, firstErr
}

// ResolveValue resolves templates inside v. A string that is exactly one
// template yields the raw value, so "{{ count }}" can stay a number. Maps and
// slices are resolved recursively.
func ResolveValue(v interface{}, vars VariableStore) (interface{}, error) {
	switch t := v.(type) {
	case string:
		trimmed := strings.TrimSpace(t)
		if loc := templatePattern.FindStringSubmatchIndex(trimmed); loc != nil && loc[0] == 0 && loc[1] == len(trimmed) {
			return LookupVar(vars, trimmed[loc[2]:loc[3]])
		}
		return ResolveString(t, vars)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			r, err := ResolveValue(val, vars)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			r, err := ResolveValue(val, vars)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}
