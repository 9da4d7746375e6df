// Package expr substitutes attribute and property references into step
// parameters. Strings containing "{{" are rendered as text templates with
// the sprig function set; strings prefixed with "expr:" are evaluated with
// expr-lang and keep their result type.
package expr

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/expr-lang/expr"
)

// Prefix marks a string as an expr-lang expression.
const Prefix = "expr:"

// Env is the data visible to templates and expressions.
type Env struct {
	// Attributes is the flattened attribute view of the current context.
	Attributes map[string]any
	Params     map[string]any
	Global     map[string]any
	Properties map[string]any
	// Extra entries win over everything else (e.g. "error" for expected-exception conditions).
	Extra map[string]any
}

// Map builds the lookup table. Attributes are reachable both at top level
// and under "attr".
func (e Env) Map() map[string]any {
	out := make(map[string]any, len(e.Attributes)+len(e.Extra)+4)
	for k, v := range e.Attributes {
		out[k] = v
	}
	out["attr"] = nonNil(e.Attributes)
	out["param"] = nonNil(e.Params)
	out["global"] = nonNil(e.Global)
	out["prop"] = nonNil(e.Properties)
	for k, v := range e.Extra {
		out[k] = v
	}
	return out
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// Resolve returns a copy of value with every string substituted. Maps and
// slices are rebuilt, never modified in place.
func Resolve(value any, env Env) (any, error) {
	return resolve(value, env.Map())
}

// ResolveParams substitutes every value of params into a new map.
func ResolveParams(params map[string]any, env Env) (map[string]any, error) {
	data := env.Map()
	out := make(map[string]any, len(params))
	for k, v := range params {
		resolved, err := resolve(v, data)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}

func resolve(value any, data map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		return resolveString(v, data)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			resolved, err := resolve(item, data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := resolve(item, data)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

func resolveString(s string, data map[string]any) (any, error) {
	if source, ok := strings.CutPrefix(s, Prefix); ok {
		return run(strings.TrimSpace(source), data)
	}
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	return render(s, data)
}

// Eval evaluates an expr-lang expression.
func Eval(source string, env Env) (any, error) {
	return run(strings.TrimSpace(strings.TrimPrefix(source, Prefix)), env.Map())
}

func run(source string, data map[string]any) (any, error) {
	program, err := expr.Compile(source, expr.Env(data), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", source, err)
	}
	out, err := expr.Run(program, data)
	if err != nil {
		return nil, fmt.Errorf("eval expression %q: %w", source, err)
	}
	return out, nil
}

// Render renders a template string.
func Render(tmpl string, env Env) (string, error) {
	return render(tmpl, env.Map())
}

func render(tmpl string, data map[string]any) (string, error) {
	t, err := template.New("value").Funcs(sprig.TxtFuncMap()).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}

// Condition evaluates a boolean condition. An empty condition holds.
// Template conditions are true when they render to a truthy string.
func Condition(source string, env Env) (bool, error) {
	source = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(source), Prefix))
	if source == "" {
		return true, nil
	}

	data := env.Map()
	if strings.Contains(source, "{{") {
		out, err := render(source, data)
		if err != nil {
			return false, err
		}
		return Truthy(strings.TrimSpace(out)), nil
	}

	program, err := expr.Compile(source, expr.Env(data), expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile condition %q: %w", source, err)
	}
	out, err := expr.Run(program, data)
	if err != nil {
		return false, fmt.Errorf("eval condition %q: %w", source, err)
	}
	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not return bool (got %T)", source, out)
	}
	return result, nil
}

// Truthy interprets values the way conditions and assert-true do: false,
// nil, zero numbers, empty collections and the strings "", "false", "0"
// and "<no value>" are false.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "", "false", "0", "no", "<no value>":
			return false
		}
		return true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}
