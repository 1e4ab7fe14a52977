// Package configvalue implements the "invoke:" configuration directive: a
// scalar in a component's component_config may be wrapped as
//
//	{invoke: {module, function, params: {positional?, keyword?}}}
//
// to defer its evaluation to load time (a plain deferred call) or to
// message time (when one of its params contains an
// "evaluate_expression(<expr>[, <cast>])" token, making the whole directive
// a closure re-evaluated per message). Modeled as the sum type the design
// notes call for: Static(v) | Closure(Message -> v).
package configvalue

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/flowbroker/connector/internal/message"
)

// Value is a resolved configuration value: either a plain static value or a
// per-message closure produced by an evaluate_expression(...) token nested
// inside an invoke: directive.
type Value struct {
	static  any
	closure func(msg *message.Message) (any, error)
}

// Static wraps a plain value with no deferred evaluation.
func Static(v any) Value { return Value{static: v} }

// Closure wraps a function resolved at message time.
func Closure(fn func(msg *message.Message) (any, error)) Value {
	return Value{closure: fn}
}

// IsClosure reports whether Resolve needs a live Message to produce a value.
func (v Value) IsClosure() bool { return v.closure != nil }

// Resolve returns the value, evaluating the closure against msg if present.
// msg may be nil only when IsClosure() is false.
func (v Value) Resolve(msg *message.Message) (any, error) {
	if v.closure != nil {
		return v.closure(msg)
	}
	return v.static, nil
}

// InvokeFunc is the registry of functions nameable from an invoke: directive's
// module+function pair. Registered at init time for the small set of pure
// helper functions components reference from transforms and config (e.g.
// arithmetic used by map/reduce processing functions).
type InvokeFunc func(positional []any, keyword map[string]any) (any, error)

var registry = map[string]InvokeFunc{}

// Register adds a callable invokable as {module: m, function: f}. Panics on
// duplicate registration.
func Register(module, function string, fn InvokeFunc) {
	key := module + "." + function
	if _, exists := registry[key]; exists {
		panic(fmt.Sprintf("configvalue: %s already registered", key))
	}
	registry[key] = fn
}

// Lookup finds a previously registered invoke target.
func Lookup(module, function string) (InvokeFunc, bool) {
	fn, ok := registry[module+"."+function]
	return fn, ok
}

// Directive mirrors the YAML shape of one invoke: block.
type Directive struct {
	Module   string         `yaml:"module"`
	Function string         `yaml:"function"`
	Params   DirectiveParam `yaml:"params"`
}

// DirectiveParam carries the positional/keyword arguments of an invoke:
// directive. Each argument is itself a raw YAML scalar/mapping/sequence that
// may contain an evaluate_expression(...) token.
type DirectiveParam struct {
	Positional []any          `yaml:"positional"`
	Keyword    map[string]any `yaml:"keyword"`
}

var evaluateExprRe = regexp.MustCompile(`^evaluate_expression\(\s*(.*?)\s*\)$`)

// Resolve walks raw (the decoded YAML value of a component_config entry) and
// returns a Value. raw is either a plain scalar/map/list (returned as
// Static), or a map with a single "invoke" key (an Directive), in which case
// Resolve recursively resolves every positional/keyword argument: if any
// argument string matches evaluate_expression(<expr>[, <cast>]), the whole
// Directive becomes a Closure re-evaluated per message; otherwise the
// function is called once, now, and the result is Static.
func Resolve(raw any) (Value, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return Static(raw), nil
	}
	inner, ok := m["invoke"]
	if !ok {
		return Static(raw), nil
	}
	directiveMap, ok := inner.(map[string]any)
	if !ok {
		return Value{}, fmt.Errorf("configvalue: invoke directive must be a mapping")
	}

	module, _ := directiveMap["module"].(string)
	function, _ := directiveMap["function"].(string)
	if module == "" || function == "" {
		return Value{}, fmt.Errorf("configvalue: invoke directive requires module and function")
	}

	var positional []any
	var keyword map[string]any
	if params, ok := directiveMap["params"].(map[string]any); ok {
		if p, ok := params["positional"].([]any); ok {
			positional = p
		}
		if k, ok := params["keyword"].(map[string]any); ok {
			keyword = k
		}
	}

	fn, found := Lookup(module, function)
	if !found {
		return Value{}, fmt.Errorf("configvalue: invoke target %s.%s is not registered", module, function)
	}

	hasExprArg := false
	for _, p := range positional {
		if expr, _, isExpr := parseEvaluateExpression(p); isExpr {
			_ = expr
			hasExprArg = true
		}
	}
	for _, v := range keyword {
		if expr, _, isExpr := parseEvaluateExpression(v); isExpr {
			_ = expr
			hasExprArg = true
		}
	}

	if !hasExprArg {
		result, err := fn(positional, keyword)
		if err != nil {
			return Value{}, fmt.Errorf("configvalue: invoke %s.%s: %w", module, function, err)
		}
		return Static(result), nil
	}

	return Closure(func(msg *message.Message) (any, error) {
		resolvedPositional := make([]any, len(positional))
		for i, p := range positional {
			v, err := resolveArg(msg, p)
			if err != nil {
				return nil, err
			}
			resolvedPositional[i] = v
		}
		resolvedKeyword := make(map[string]any, len(keyword))
		for k, v := range keyword {
			rv, err := resolveArg(msg, v)
			if err != nil {
				return nil, err
			}
			resolvedKeyword[k] = rv
		}
		return fn(resolvedPositional, resolvedKeyword)
	}), nil
}

// ResolveTree walks a decoded component_config mapping once at load time
// and resolves every invoke: directive found anywhere in it: a directive
// with no evaluate_expression argument is replaced by its computed value; a
// directive with one becomes a Value closure the component resolves per
// message via (Value).Resolve. Plain scalars, mappings, and sequences pass
// through unchanged.
func ResolveTree(raw map[string]any) (map[string]any, error) {
	resolved, err := resolveNode(raw)
	if err != nil {
		return nil, err
	}
	out, _ := resolved.(map[string]any)
	return out, nil
}

func resolveNode(raw any) (any, error) {
	switch node := raw.(type) {
	case map[string]any:
		if _, isDirective := node["invoke"]; isDirective {
			v, err := Resolve(node)
			if err != nil {
				return nil, err
			}
			if v.IsClosure() {
				return v, nil
			}
			return v.Resolve(nil)
		}
		out := make(map[string]any, len(node))
		for k, child := range node {
			resolved, err := resolveNode(child)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(node))
		for i, child := range node {
			resolved, err := resolveNode(child)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return raw, nil
	}
}

// resolveArg resolves one positional/keyword argument of an invoke:
// directive against msg, expanding an evaluate_expression(...) token via
// message.GetData and passing every other value through unchanged.
func resolveArg(msg *message.Message, raw any) (any, error) {
	expr, cast, isExpr := parseEvaluateExpression(raw)
	if !isExpr {
		return raw, nil
	}
	value, err := message.GetData(msg, expr)
	if err != nil {
		return nil, fmt.Errorf("evaluate_expression(%s): %w", expr, err)
	}
	if cast == "" {
		return value, nil
	}
	return message.GetData(msg, expr+", "+cast)
}

// parseEvaluateExpression recognizes the "evaluate_expression(<expr>[,
// <cast>])" token format. Only string-typed raw values are candidates.
func parseEvaluateExpression(raw any) (expr, cast string, ok bool) {
	s, isStr := raw.(string)
	if !isStr {
		return "", "", false
	}
	m := evaluateExprRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", "", false
	}
	body := m[1]
	if idx := strings.LastIndex(body, ","); idx >= 0 {
		candidate := strings.TrimSpace(body[idx+1:])
		switch candidate {
		case "int", "float", "bool", "string":
			return strings.TrimSpace(body[:idx]), candidate, true
		}
	}
	return body, "", true
}
