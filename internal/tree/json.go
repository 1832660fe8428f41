package tree

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
)

// ParseJSON decodes a single JSON document, preserving object member order
// and the literal text of numbers.
func ParseJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := parseValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("trailing data after json document")
	}
	return v, nil
}

func parseValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := &Object{}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("unexpected object key %v", keyTok)
				}
				val, err := parseValue(dec)
				if err != nil {
					return nil, err
				}
				obj.Set(key, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return obj, nil
		case '[':
			arr := Array{}
			for dec.More() {
				val, err := parseValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %q", t)
	case json.Number:
		return Number(t), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case nil:
		return Null{}, nil
	}
	return nil, fmt.Errorf("unexpected token %v", tok)
}

// MarshalIndent renders v as JSON with two-space indentation and a trailing
// newline. Member order is emitted as stored.
func MarshalIndent(v Value) []byte {
	var buf bytes.Buffer
	writeValue(&buf, v, "  ", 0)
	buf.WriteByte('\n')
	return buf.Bytes()
}

// Marshal renders v as compact JSON.
func Marshal(v Value) []byte {
	var buf bytes.Buffer
	writeValue(&buf, v, "", 0)
	return buf.Bytes()
}

func writeValue(buf *bytes.Buffer, v Value, indent string, depth int) {
	switch x := v.(type) {
	case nil, Null:
		buf.WriteString("null")
	case Bool:
		buf.WriteString(strconv.FormatBool(bool(x)))
	case Number:
		if x == "" {
			buf.WriteString("0")
			return
		}
		buf.WriteString(string(x))
	case String:
		writeString(buf, string(x))
	case Array:
		if len(x) == 0 {
			buf.WriteString("[]")
			return
		}
		buf.WriteByte('[')
		for i, item := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			newline(buf, indent, depth+1)
			writeValue(buf, item, indent, depth+1)
		}
		newline(buf, indent, depth)
		buf.WriteByte(']')
	case *Object:
		if x.Len() == 0 {
			buf.WriteString("{}")
			return
		}
		buf.WriteByte('{')
		for i, m := range x.Members() {
			if i > 0 {
				buf.WriteByte(',')
			}
			newline(buf, indent, depth+1)
			writeString(buf, m.Key)
			buf.WriteByte(':')
			if indent != "" {
				buf.WriteByte(' ')
			}
			writeValue(buf, m.Value, indent, depth+1)
		}
		newline(buf, indent, depth)
		buf.WriteByte('}')
	}
}

func newline(buf *bytes.Buffer, indent string, depth int) {
	if indent == "" {
		return
	}
	buf.WriteByte('\n')
	for i := 0; i < depth; i++ {
		buf.WriteString(indent)
	}
}

// writeString escapes s without HTML escaping; report expressions are full of
// '<' and '&' and should stay readable.
func writeString(buf *bytes.Buffer, s string) {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s) // strings always encode
	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
}

// ToAny converts v into the plain Go representation (map[string]any, []any,
// float64/int64, string, bool, nil) used by JSONPath evaluation.
func ToAny(v Value) any {
	switch x := v.(type) {
	case nil, Null:
		return nil
	case Bool:
		return bool(x)
	case Number:
		if x.IsInteger() {
			if n, err := strconv.ParseInt(string(x), 10, 64); err == nil {
				return n
			}
		}
		f, err := x.Float64()
		if err != nil {
			return string(x)
		}
		return f
	case String:
		return string(x)
	case Array:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = ToAny(item)
		}
		return out
	case *Object:
		out := make(map[string]any, x.Len())
		for _, m := range x.Members() {
			out[m.Key] = ToAny(m.Value)
		}
		return out
	}
	return nil
}

// FromAny converts a plain Go value back into a Value. Map keys come out in
// unspecified order; callers canonicalize afterwards.
func FromAny(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null{}
	case bool:
		return Bool(x)
	case string:
		return String(x)
	case json.Number:
		return Number(x)
	case int:
		return Int(int64(x))
	case int64:
		return Int(x)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return Int(int64(x))
		}
		return Float(x)
	case []any:
		out := make(Array, len(x))
		for i, item := range x {
			out[i] = FromAny(item)
		}
		return out
	case map[string]any:
		obj := &Object{}
		for k, item := range x {
			obj.Set(k, FromAny(item))
		}
		return obj
	case Value:
		return x
	}
	return String(fmt.Sprint(v))
}
