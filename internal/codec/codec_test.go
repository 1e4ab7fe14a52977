package codec

import "testing"

func TestJSONRoundTrip(t *testing.T) {
	c := Codec{Encoding: EncodingNone, Format: FormatJSON}

	raw, err := c.Encode(map[string]any{"a": float64(1)})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	decoded, err := c.Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	m, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("expected map[string]any, got %T", decoded)
	}
	if m["a"] != float64(1) {
		t.Fatalf("expected a=1, got %v", m["a"])
	}
}

func TestGzipBase64RoundTrip(t *testing.T) {
	c := Codec{Encoding: EncodingGzip, Format: FormatText}

	raw, err := c.Encode("hello world")
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	decoded, err := c.Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded != "hello world" {
		t.Fatalf("expected hello world, got %v", decoded)
	}

	c2 := Codec{Encoding: EncodingBase64, Format: FormatYAML}
	raw2, err := c2.Encode(map[string]any{"k": "v"})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	decoded2, err := c2.Decode(raw2)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	m, ok := decoded2.(map[string]any)
	if !ok {
		t.Fatalf("expected map[string]any, got %T", decoded2)
	}
	if m["k"] != "v" {
		t.Fatalf("expected k=v, got %v", m["k"])
	}
}

func TestUnknownFormatErrors(t *testing.T) {
	c := Codec{Format: "bogus"}
	if _, err := c.Encode("x"); err == nil {
		t.Fatal("expected error for unknown format")
	}
	if _, err := c.Decode([]byte("x")); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
