package harvest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Document is a decoded JSON object returned by the remote API. Numbers are
// kept as json.Number so timestamps survive without float rounding.
type Document map[string]any

// DecodeDocument parses a 2xx body. Anything other than a single JSON object
// is rejected.
func DecodeDocument(body []byte) (Document, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty body")
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if doc == nil {
		return nil, errors.New("document is not an object")
	}
	if dec.More() {
		return nil, errors.New("trailing data after document")
	}
	return doc, nil
}

// Lookup walks a dot-notation path ("last_action.timestamp") and returns the
// value found there.
func (d Document) Lookup(path string) (any, bool) {
	if d == nil {
		return nil, false
	}
	var current any = map[string]any(d)
	for _, part := range strings.Split(path, ".") {
		obj, ok := asObject(current)
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func asObject(v any) (map[string]any, bool) {
	switch obj := v.(type) {
	case map[string]any:
		return obj, true
	case Document:
		return obj, true
	default:
		return nil, false
	}
}

// asInt64 accepts JSON numbers that are exact integers. Strings, booleans and
// fractional values are rejected.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return floatToInt(f)
	case float64:
		return floatToInt(n)
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

func floatToInt(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}
