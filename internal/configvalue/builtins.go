package configvalue

import "fmt"

// Built-in invoke targets under the "builtin" module, covering the common
// arithmetic processing/accumulator functions transform configs reference.
// Components that need richer behavior register additional targets under
// their own module name via Register.
func init() {
	Register("builtin", "add", func(positional []any, keyword map[string]any) (any, error) {
		a, err := toFloat(firstOf(positional, keyword, "accumulated_value", "current_value"))
		if err != nil {
			return nil, err
		}
		b, err := toFloat(secondOf(positional, keyword, "current_value"))
		if err != nil {
			return nil, err
		}
		return a + b, nil
	})
}

func firstOf(positional []any, keyword map[string]any, key string, fallbackKey string) any {
	if len(positional) > 0 {
		return positional[0]
	}
	if v, ok := keyword[key]; ok {
		return v
	}
	return keyword[fallbackKey]
}

func secondOf(positional []any, keyword map[string]any, key string) any {
	if len(positional) > 1 {
		return positional[1]
	}
	return keyword[key]
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("configvalue: cannot convert %T to number", v)
	}
}
