package configvalue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbroker/connector/internal/message"
)

func TestResolvePlainScalarIsStatic(t *testing.T) {
	v, err := Resolve("hello")
	require.NoError(t, err)
	assert.False(t, v.IsClosure())
	got, err := v.Resolve(nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestResolveInvokeWithoutExpressionArgsIsStaticAndCalledOnce(t *testing.T) {
	calls := 0
	Register("test_static_mod", "incr", func(positional []any, keyword map[string]any) (any, error) {
		calls++
		return 41, nil
	})

	raw := map[string]any{
		"invoke": map[string]any{
			"module":   "test_static_mod",
			"function": "incr",
		},
	}
	v, err := Resolve(raw)
	require.NoError(t, err)
	assert.False(t, v.IsClosure())

	got1, err := v.Resolve(nil)
	require.NoError(t, err)
	got2, err := v.Resolve(nil)
	require.NoError(t, err)
	assert.Equal(t, 41, got1)
	assert.Equal(t, 41, got2)
	assert.Equal(t, 1, calls, "a static invoke directive is evaluated once at load time, not per Resolve call")
}

func TestResolveInvokeWithEvaluateExpressionBecomesClosure(t *testing.T) {
	Register("test_closure_mod", "double", func(positional []any, keyword map[string]any) (any, error) {
		n, _ := positional[0].(float64)
		return n * 2, nil
	})

	raw := map[string]any{
		"invoke": map[string]any{
			"module":   "test_closure_mod",
			"function": "double",
			"params": map[string]any{
				"positional": []any{"evaluate_expression(user_data.temp:n, float)"},
			},
		},
	}
	v, err := Resolve(raw)
	require.NoError(t, err)
	require.True(t, v.IsClosure())

	msg := message.New(nil, "", nil)
	msg.UserData["temp"] = map[string]any{"n": 5.0}

	got, err := v.Resolve(msg)
	require.NoError(t, err)
	assert.Equal(t, 10.0, got)

	msg.UserData["temp"] = map[string]any{"n": 7.0}
	got2, err := v.Resolve(msg)
	require.NoError(t, err)
	assert.Equal(t, 14.0, got2, "a closure directive re-evaluates its expression args per call")
}

func TestResolveTreeResolvesNestedDirectives(t *testing.T) {
	Register("test_tree_mod", "three", func([]any, map[string]any) (any, error) {
		return 3, nil
	})

	raw := map[string]any{
		"plain": "value",
		"nested": map[string]any{
			"computed": map[string]any{
				"invoke": map[string]any{"module": "test_tree_mod", "function": "three"},
			},
		},
		"list": []any{
			map[string]any{"invoke": map[string]any{"module": "test_tree_mod", "function": "three"}},
			"untouched",
		},
	}

	resolved, err := ResolveTree(raw)
	require.NoError(t, err)
	assert.Equal(t, "value", resolved["plain"])
	assert.Equal(t, 3, resolved["nested"].(map[string]any)["computed"])
	assert.Equal(t, 3, resolved["list"].([]any)[0])
	assert.Equal(t, "untouched", resolved["list"].([]any)[1])
}

func TestResolveTreeLeavesClosureDirectivesAsValues(t *testing.T) {
	Register("test_tree_mod2", "echo", func(positional []any, _ map[string]any) (any, error) {
		return positional[0], nil
	})

	raw := map[string]any{
		"deferred": map[string]any{
			"invoke": map[string]any{
				"module":   "test_tree_mod2",
				"function": "echo",
				"params": map[string]any{
					"positional": []any{"evaluate_expression(input.topic:)"},
				},
			},
		},
	}

	resolved, err := ResolveTree(raw)
	require.NoError(t, err)

	v, ok := resolved["deferred"].(Value)
	require.True(t, ok, "a directive with expression args must stay a Value closure")
	require.True(t, v.IsClosure())

	got, err := v.Resolve(message.New(nil, "a/b", nil))
	require.NoError(t, err)
	assert.Equal(t, "a/b", got)
}

func TestResolveInvokeMissingModuleOrFunctionErrors(t *testing.T) {
	_, err := Resolve(map[string]any{"invoke": map[string]any{"module": "x"}})
	assert.Error(t, err)
}

func TestResolveInvokeUnregisteredTargetErrors(t *testing.T) {
	_, err := Resolve(map[string]any{"invoke": map[string]any{
		"module": "nope", "function": "nope",
	}})
	assert.Error(t, err)
}

func TestBuiltinAddFromPositional(t *testing.T) {
	fn, ok := Lookup("builtin", "add")
	require.True(t, ok)
	got, err := fn([]any{3.0, 2.0}, nil)
	require.NoError(t, err)
	assert.Equal(t, 5.0, got)
}

func TestBuiltinAddFromReduceKeywordArgs(t *testing.T) {
	fn, ok := Lookup("builtin", "add")
	require.True(t, ok)
	// Mirrors the reduce-sum scenario's keyword_args shape: accumulator +
	// current element.
	got, err := fn(nil, map[string]any{"accumulated_value": 10.0, "current_value": 5.0})
	require.NoError(t, err)
	assert.Equal(t, 15.0, got)
}

func TestParseEvaluateExpressionWithAndWithoutCast(t *testing.T) {
	expr, cast, ok := parseEvaluateExpression("evaluate_expression(previous:x)")
	require.True(t, ok)
	assert.Equal(t, "previous:x", expr)
	assert.Equal(t, "", cast)

	expr, cast, ok = parseEvaluateExpression("evaluate_expression(previous:x, int)")
	require.True(t, ok)
	assert.Equal(t, "previous:x", expr)
	assert.Equal(t, "int", cast)

	_, _, ok = parseEvaluateExpression("not an expression")
	assert.False(t, ok)

	_, _, ok = parseEvaluateExpression(42)
	assert.False(t, ok)
}
