package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Field is a value extracted from a payload together with the path it came
// from. An empty Path means no candidate matched.
type Field struct {
	Value string
	Path  string
}

// Found reports whether any candidate path matched.
func (f Field) Found() bool {
	return f.Path != ""
}

// Payload is a decoded webhook body. Processors nest the same data
// differently across event types and API versions, so values are read by
// trying ordered candidate paths rather than through a fixed schema.
type Payload struct {
	root map[string]interface{}
}

// Decode parses body into a Payload. The body must be a JSON object.
func Decode(body []byte) (*Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var root map[string]interface{}
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if root == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrUnparseable)
	}
	return &Payload{root: root}, nil
}

// Lookup resolves a dot-separated path. Numeric segments index arrays.
func (p *Payload) Lookup(path string) (interface{}, bool) {
	return lookup(p.root, path)
}

func lookup(root map[string]interface{}, path string) (interface{}, bool) {
	var cur interface{} = root
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []interface{}:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// String returns the first candidate holding a non-empty string or number.
func (p *Payload) String(paths ...string) Field {
	return stringField(p.root, paths)
}

func stringField(root map[string]interface{}, paths []string) Field {
	for _, path := range paths {
		v, ok := lookup(root, path)
		if !ok {
			continue
		}
		if s, ok := coerceString(v); ok && s != "" {
			return Field{Value: s, Path: path}
		}
	}
	return Field{}
}

// Object returns the first candidate that is a JSON object.
func (p *Payload) Object(paths ...string) (map[string]interface{}, string) {
	for _, path := range paths {
		v, ok := p.Lookup(path)
		if !ok {
			continue
		}
		if obj, ok := v.(map[string]interface{}); ok {
			return obj, path
		}
	}
	return nil, ""
}

// Time returns the first candidate that parses as a timestamp.
func (p *Payload) Time(paths ...string) (*time.Time, string) {
	for _, path := range paths {
		v, ok := p.Lookup(path)
		if !ok {
			continue
		}
		if t, ok := coerceTime(v); ok {
			return &t, path
		}
	}
	return nil, ""
}

// Bool returns the first candidate that is a boolean (or "true"/"false").
func (p *Payload) Bool(paths ...string) (*bool, string) {
	for _, path := range paths {
		v, ok := p.Lookup(path)
		if !ok {
			continue
		}
		switch b := v.(type) {
		case bool:
			return &b, path
		case string:
			if parsed, err := strconv.ParseBool(strings.TrimSpace(b)); err == nil {
				return &parsed, path
			}
		}
	}
	return nil, ""
}

func coerceString(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s), true
	case json.Number:
		return s.String(), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(s), true
	default:
		return "", false
	}
}

// coerceInt accepts integral JSON numbers and base-10 strings.
func coerceInt(v interface{}) (int64, bool) {
	s, ok := coerceString(v)
	if !ok || s == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(f), true
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// coerceTime accepts RFC 3339 strings and unix timestamps in seconds or
// milliseconds.
func coerceTime(v interface{}) (time.Time, bool) {
	s, ok := coerceString(v)
	if !ok || s == "" {
		return time.Time{}, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n <= 0 {
			return time.Time{}, false
		}
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), true
		}
		return time.Unix(n, 0).UTC(), true
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
