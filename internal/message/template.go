package message

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// RenderTemplate expands every "{{encoding://expression}}" placeholder in
// tmpl against the message, substituting the rendered text. encoding
// defaults to "text" when omitted (bare "{{expression}}").
func RenderTemplate(m *Message, tmpl string) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(tmpl) {
		start := strings.Index(tmpl[i:], "{{")
		if start < 0 {
			out.WriteString(tmpl[i:])
			break
		}
		start += i
		out.WriteString(tmpl[i:start])

		end := strings.Index(tmpl[start:], "}}")
		if end < 0 {
			return "", fmt.Errorf("unterminated template placeholder in %q", tmpl)
		}
		end += start

		inner := tmpl[start+2 : end]
		rendered, err := renderPlaceholder(m, inner)
		if err != nil {
			return "", err
		}
		out.WriteString(rendered)
		i = end + 2
	}
	return out.String(), nil
}

func renderPlaceholder(m *Message, inner string) (string, error) {
	encoding := "text"
	expr := inner
	if idx := strings.Index(inner, "://"); idx >= 0 {
		encoding = inner[:idx]
		expr = inner[idx+3:]
	}

	value, err := GetData(m, expr)
	if err != nil {
		return "", fmt.Errorf("template expression %q: %w", expr, err)
	}

	switch {
	case encoding == "text":
		return fmt.Sprintf("%v", value), nil
	case encoding == "json":
		b, err := json.Marshal(value)
		if err != nil {
			return "", fmt.Errorf("template json-encode %q: %w", expr, err)
		}
		return string(b), nil
	case encoding == "yaml":
		b, err := yaml.Marshal(value)
		if err != nil {
			return "", fmt.Errorf("template yaml-encode %q: %w", expr, err)
		}
		return strings.TrimRight(string(b), "\n"), nil
	case encoding == "base64":
		return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%v", value))), nil
	case strings.HasPrefix(encoding, "datauri:"):
		mime := strings.TrimPrefix(encoding, "datauri:")
		encoded := base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%v", value)))
		return fmt.Sprintf("data:%s;base64,%s", mime, encoded), nil
	default:
		return "", fmt.Errorf("unknown template encoding %q", encoding)
	}
}
