package message

import (
	"fmt"
	"strconv"
	"strings"
)

// Expressions address a sub-tree of a Message using the form
// "<root>:<dotted.path>[, cast]". Supported roots: input.payload,
// input.topic, input.topic_levels, input.user_properties, previous,
// user_data.<name>, invoke_data, item, index, keyword_args, static:<literal>,
// template:<string>.
//
// Resolved policy for a mid-path scalar (see DESIGN.md): GetData returns nil
// with no error; SetData returns an error, since silently overwriting a
// scalar the caller didn't expect to be a container is far more surprising
// than a silent miss on read.

// castKeywords are the recognized trailing-cast tokens.
var castKeywords = map[string]bool{"int": true, "float": true, "bool": true, "string": true}

// splitCast pulls a trailing ", cast" suffix off an expression, if present.
func splitCast(expression string) (base, cast string) {
	idx := strings.LastIndex(expression, ",")
	if idx < 0 {
		return expression, ""
	}
	candidate := strings.TrimSpace(expression[idx+1:])
	if castKeywords[candidate] {
		return strings.TrimSpace(expression[:idx]), candidate
	}
	return expression, ""
}

func applyCast(value any, cast string) (any, error) {
	if cast == "" || value == nil {
		return value, nil
	}
	switch cast {
	case "string":
		return fmt.Sprintf("%v", value), nil
	case "int":
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			return int(v), nil
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("cast %q to int: %w", value, err)
			}
			return n, nil
		case bool:
			if v {
				return 1, nil
			}
			return 0, nil
		default:
			return nil, fmt.Errorf("cannot cast %T to int", value)
		}
	case "float":
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("cast %q to float: %w", value, err)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("cannot cast %T to float", value)
		}
	case "bool":
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("cast %q to bool: %w", value, err)
			}
			return b, nil
		case int:
			return v != 0, nil
		default:
			return nil, fmt.Errorf("cannot cast %T to bool", value)
		}
	}
	return value, nil
}

// rootObject resolves the container addressed by an expression's root. The
// "static:" and "template:" roots are handled by the caller before reaching
// this function.
func (m *Message) rootObject(root string) any {
	switch {
	case root == "input.payload":
		return m.Payload
	case root == "input.topic":
		return m.Topic
	case root == "input.topic_levels":
		levels := m.TopicLevels()
		out := make([]any, len(levels))
		for i, l := range levels {
			out[i] = l
		}
		return out
	case root == "input.user_properties":
		return m.UserProperties
	case root == "previous":
		return m.Previous
	case root == "invoke_data":
		return m.InvokeData
	case root == "item":
		return m.IterationData["item"]
	case root == "index":
		return m.IterationData["index"]
	case root == "keyword_args":
		return m.KeywordArgs
	case strings.HasPrefix(root, "user_data."):
		name := strings.TrimPrefix(root, "user_data.")
		ns, _ := m.UserData[name].(map[string]any)
		return ns
	default:
		return nil
	}
}

// GetData resolves an expression against the message and returns the value
// found, or nil if any segment of the path is absent.
func GetData(m *Message, expression string) (any, error) {
	base, cast := splitCast(expression)

	if strings.HasPrefix(base, "static:") {
		return applyCast(strings.TrimPrefix(base, "static:"), cast)
	}
	if strings.HasPrefix(base, "template:") {
		rendered, err := RenderTemplate(m, strings.TrimPrefix(base, "template:"))
		if err != nil {
			return nil, err
		}
		return applyCast(rendered, cast)
	}

	colon := strings.Index(base, ":")
	if colon < 0 {
		return nil, fmt.Errorf("expression %q missing root:path separator", base)
	}
	root, path := base[:colon], base[colon+1:]

	obj := m.rootObject(root)
	if path == "" {
		return applyCast(obj, cast)
	}

	value, err := getByPath(obj, strings.Split(path, "."))
	if err != nil {
		return nil, err
	}
	return applyCast(value, cast)
}

func getByPath(current any, parts []string) (any, error) {
	for _, part := range parts {
		if current == nil {
			return nil, nil
		}
		switch v := current.(type) {
		case map[string]any:
			current = v[part]
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, nil
			}
			current = v[idx]
		default:
			// Mid-path scalar: resolved policy is to return nil on read.
			return nil, nil
		}
	}
	return current, nil
}

// SetData resolves an expression's root/path and writes value into it,
// materializing intermediate maps (or slices, when the next segment is
// numeric) along the way.
func SetData(m *Message, expression string, value any) error {
	base, _ := splitCast(expression)

	colon := strings.Index(base, ":")
	if colon < 0 {
		return fmt.Errorf("expression %q missing root:path separator", base)
	}
	root, path := base[:colon], base[colon+1:]
	if path == "" {
		return fmt.Errorf("expression %q has an empty path", base)
	}
	parts := strings.Split(path, ".")

	switch {
	case root == "input.payload":
		next, err := setByPath(m.Payload, parts, value)
		if err != nil {
			return err
		}
		m.Payload = next
	case root == "input.user_properties":
		if m.UserProperties == nil {
			m.UserProperties = map[string]any{}
		}
		next, err := setByPath(m.UserProperties, parts, value)
		if err != nil {
			return err
		}
		m.UserProperties, _ = next.(map[string]any)
	case root == "previous":
		next, err := setByPath(m.Previous, parts, value)
		if err != nil {
			return err
		}
		m.Previous = next
	case root == "invoke_data":
		next, err := setByPath(m.InvokeData, parts, value)
		if err != nil {
			return err
		}
		m.InvokeData = next
	case root == "keyword_args":
		if m.KeywordArgs == nil {
			m.KeywordArgs = map[string]any{}
		}
		next, err := setByPath(m.KeywordArgs, parts, value)
		if err != nil {
			return err
		}
		m.KeywordArgs, _ = next.(map[string]any)
	case strings.HasPrefix(root, "user_data."):
		name := strings.TrimPrefix(root, "user_data.")
		if m.UserData == nil {
			m.UserData = map[string]any{}
		}
		ns, _ := m.UserData[name].(map[string]any)
		if ns == nil {
			ns = map[string]any{}
		}
		next, err := setByPath(ns, parts, value)
		if err != nil {
			return err
		}
		m.UserData[name], _ = next.(map[string]any)
	default:
		return fmt.Errorf("expression root %q is not writable", root)
	}
	return nil
}

// setByPath writes value at parts within current, creating intermediate
// containers as needed, and returns the (possibly-replaced) root container.
func setByPath(current any, parts []string, value any) (any, error) {
	if len(parts) == 0 {
		return value, nil
	}

	part := parts[0]
	rest := parts[1:]
	nextIsIndex := len(rest) > 0
	var nextKeyIsDigit bool
	if nextIsIndex {
		_, err := strconv.Atoi(rest[0])
		nextKeyIsDigit = err == nil
	}

	if idx, err := strconv.Atoi(part); err == nil {
		list, ok := current.([]any)
		if !ok {
			if current != nil {
				return nil, fmt.Errorf("cannot set index %d: not a list (got %T)", idx, current)
			}
			list = nil
		}
		for len(list) <= idx {
			list = append(list, nil)
		}
		if len(rest) == 0 {
			list[idx] = value
		} else {
			child := list[idx]
			if child == nil {
				if nextKeyIsDigit {
					child = []any{}
				} else {
					child = map[string]any{}
				}
			}
			newChild, err := setByPath(child, rest, value)
			if err != nil {
				return nil, err
			}
			list[idx] = newChild
		}
		return list, nil
	}

	dict, ok := current.(map[string]any)
	if !ok {
		if current != nil {
			return nil, fmt.Errorf("cannot set key %q: not a map (got %T)", part, current)
		}
		dict = map[string]any{}
	}
	if len(rest) == 0 {
		dict[part] = value
		return dict, nil
	}
	child, exists := dict[part]
	if !exists || child == nil {
		if nextKeyIsDigit {
			child = []any{}
		} else {
			child = map[string]any{}
		}
	}
	newChild, err := setByPath(child, rest, value)
	if err != nil {
		return nil, err
	}
	dict[part] = newChild
	return dict, nil
}

// RemoveData removes the value addressed by expression, if present. Missing
// intermediate paths are a silent no-op.
func RemoveData(m *Message, expression string) error {
	colon := strings.Index(expression, ":")
	if colon < 0 {
		return fmt.Errorf("expression %q missing root:path separator", expression)
	}
	root, path := expression[:colon], expression[colon+1:]
	if path == "" {
		return fmt.Errorf("expression %q has an empty path", expression)
	}
	parts := strings.Split(path, ".")

	removeByPath(m.rootObject(root), parts)
	return nil
}

func removeByPath(current any, parts []string) {
	if len(parts) == 0 || current == nil {
		return
	}
	for _, part := range parts[:len(parts)-1] {
		switch v := current.(type) {
		case map[string]any:
			current = v[part]
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(v) {
				return
			}
			current = v[idx]
		default:
			return
		}
		if current == nil {
			return
		}
	}
	last := parts[len(parts)-1]
	switch v := current.(type) {
	case map[string]any:
		delete(v, last)
	case []any:
		// The slice header lives in the parent container, so the element is
		// nilled in place rather than the slice shortened.
		idx, err := strconv.Atoi(last)
		if err == nil && idx >= 0 && idx < len(v) {
			v[idx] = nil
		}
	}
}
