// Package codec implements the payload codec applied at the broker
// boundary: an outer byte encoding (utf-8, base64,
// gzip, none) wrapping an inner structured format (json, yaml, text,
// bytes) parsed on input and serialised on output.
package codec

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Encoding is the outer byte transform applied/removed before the format is
// parsed/serialised.
type Encoding string

const (
	EncodingUTF8   Encoding = "utf-8"
	EncodingBase64 Encoding = "base64"
	EncodingGzip   Encoding = "gzip"
	EncodingNone   Encoding = "none"
)

// Format is the inner structured shape of the decoded bytes.
type Format string

const (
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
	FormatText  Format = "text"
	FormatBytes Format = "bytes"
)

// Codec pairs an Encoding with a Format, matching one component's
// payload-handling configuration.
type Codec struct {
	Encoding Encoding
	Format   Format
}

// Decode reverses Encoding then parses Format, producing the value a
// Message's Payload field should hold.
func (c Codec) Decode(raw []byte) (any, error) {
	decoded, err := decodeBytes(c.Encoding, raw)
	if err != nil {
		return nil, fmt.Errorf("codec: decode encoding %s: %w", c.Encoding, err)
	}

	switch c.Format {
	case "", FormatBytes:
		return decoded, nil
	case FormatText:
		return string(decoded), nil
	case FormatJSON:
		var v any
		if err := json.Unmarshal(decoded, &v); err != nil {
			return nil, fmt.Errorf("codec: parse json: %w", err)
		}
		return v, nil
	case FormatYAML:
		var v any
		if err := yaml.Unmarshal(decoded, &v); err != nil {
			return nil, fmt.Errorf("codec: parse yaml: %w", err)
		}
		return normalizeYAML(v), nil
	default:
		return nil, fmt.Errorf("codec: unknown format %q", c.Format)
	}
}

// Encode serialises Format then applies Encoding, producing the bytes to
// hand the broker adapter.
func (c Codec) Encode(value any) ([]byte, error) {
	var serialized []byte
	var err error

	switch c.Format {
	case "", FormatBytes:
		b, ok := value.([]byte)
		if !ok {
			return nil, fmt.Errorf("codec: bytes format requires []byte payload, got %T", value)
		}
		serialized = b
	case FormatText:
		serialized = []byte(fmt.Sprintf("%v", value))
	case FormatJSON:
		serialized, err = json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("codec: marshal json: %w", err)
		}
	case FormatYAML:
		serialized, err = yaml.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("codec: marshal yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("codec: unknown format %q", c.Format)
	}

	return encodeBytes(c.Encoding, serialized)
}

func decodeBytes(enc Encoding, raw []byte) ([]byte, error) {
	switch enc {
	case "", EncodingNone, EncodingUTF8:
		return raw, nil
	case EncodingBase64:
		out := make([]byte, base64.StdEncoding.DecodedLen(len(raw)))
		n, err := base64.StdEncoding.Decode(out, raw)
		if err != nil {
			return nil, err
		}
		return out[:n], nil
	case EncodingGzip:
		r, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("unknown encoding %q", enc)
	}
}

func encodeBytes(enc Encoding, data []byte) ([]byte, error) {
	switch enc {
	case "", EncodingNone, EncodingUTF8:
		return data, nil
	case EncodingBase64:
		out := make([]byte, base64.StdEncoding.EncodedLen(len(data)))
		base64.StdEncoding.Encode(out, data)
		return out, nil
	case EncodingGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown encoding %q", enc)
	}
}

// normalizeYAML converts yaml.v3's map[string]interface{} (which it already
// produces for string keys) recursively so downstream expression code can
// rely on map[string]any/[]any uniformly, matching what encoding/json
// decodes into.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	default:
		return v
	}
}
