package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbroker/connector/internal/message"
)

func TestReduceSum(t *testing.T) {
	m := message.New(map[string]any{"my_list": []any{1, 2, 3, 4, 5}}, "t", nil)

	chain, err := NewChain([]Config{{
		Type:                 "reduce",
		SourceListExpression: "input.payload:my_list",
		DestExpression:       "user_data.temp:my_val",
		InitialValue:         0,
		AccumulatorFunction: func(msg *message.Message) (any, error) {
			acc, _ := message.GetData(msg, "keyword_args:accumulated_value")
			cur, _ := message.GetData(msg, "keyword_args:current_value")
			return toInt(acc) + toInt(cur), nil
		},
	}})
	require.NoError(t, err)
	require.NoError(t, chain.Apply(m))

	v, err := message.GetData(m, "user_data.temp:my_val")
	require.NoError(t, err)
	assert.Equal(t, 15, v)
}

func TestMapPlusTwo(t *testing.T) {
	m := message.New(map[string]any{"my_list": []any{1, 2, 3, 4, 5}}, "t", nil)

	chain, err := NewChain([]Config{{
		Type:                 "map",
		SourceListExpression: "input.payload:my_list",
		DestListExpression:   "input.payload:mapped",
		ProcessingFunction: func(msg *message.Message) (any, error) {
			cur, _ := message.GetData(msg, "keyword_args:current_value")
			return toInt(cur) + 2, nil
		},
	}})
	require.NoError(t, err)
	require.NoError(t, chain.Apply(m))

	v, err := message.GetData(m, "input.payload:mapped")
	require.NoError(t, err)
	assert.Equal(t, []any{3, 4, 5, 6, 7}, v)
}

func TestFilterGreaterThanTwo(t *testing.T) {
	m := message.New(map[string]any{"my_list": []any{
		map[string]any{"my_val": 1},
		map[string]any{"my_val": 2},
		map[string]any{"my_val": 3},
		map[string]any{"my_val": 4},
	}}, "t", nil)

	chain, err := NewChain([]Config{{
		Type:                 "filter",
		SourceListExpression: "input.payload:my_list",
		DestListExpression:   "input.payload:filtered",
		FilterFunction: func(msg *message.Message) (any, error) {
			cur, _ := message.GetData(msg, "keyword_args:current_value")
			m := cur.(map[string]any)
			return toInt(m["my_val"]) > 2, nil
		},
	}})
	require.NoError(t, err)
	require.NoError(t, chain.Apply(m))

	v, err := message.GetData(m, "input.payload:filtered")
	require.NoError(t, err)
	assert.Equal(t, []any{
		map[string]any{"my_val": 3},
		map[string]any{"my_val": 4},
	}, v)
}

func TestCopyTransform(t *testing.T) {
	m := message.New(map[string]any{"x": 1}, "t", nil)

	chain, err := NewChain([]Config{{
		Type:             "copy",
		SourceExpression: "input.payload:x",
		DestExpression:   "user_data.temp:y",
	}})
	require.NoError(t, err)
	require.NoError(t, chain.Apply(m))

	v, err := message.GetData(m, "user_data.temp:y")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestAppendTransformMissingExpressionErrors(t *testing.T) {
	m := message.New(nil, "t", nil)
	chain, err := NewChain([]Config{{Type: "append", DestExpression: "input.payload:x"}})
	require.NoError(t, err)
	assert.Error(t, chain.Apply(m))
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
