// Package convert adapts raw package parts to tree values and back.
//
// Every converter is total over its wire format: an absent or empty part
// decodes to Absent, never to an error, so callers can skip optional
// artifacts without guessing what a nil value meant.
package convert

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	xtransform "golang.org/x/text/transform"

	"github.com/agentic-research/pbixproj/internal/tree"
)

// Converter decodes a part into a tree value and encodes it back.
type Converter interface {
	Decode(data []byte) (tree.Value, error)
	Encode(v tree.Value) ([]byte, error)
}

// absent embeds tree.Null to satisfy the sealed tree.Value interface while
// staying distinguishable from a real JSON null.
type absent struct{ tree.Null }

// Absent is returned by Decode for a missing or empty part.
var Absent tree.Value = absent{}

// IsAbsent reports whether v is the Absent sentinel (or nil).
func IsAbsent(v tree.Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(absent)
	return ok
}

// Encoding is the text encoding of a part.
type Encoding int

const (
	UTF8 Encoding = iota
	UTF16LE
)

func (e Encoding) String() string {
	if e == UTF16LE {
		return "utf-16le"
	}
	return "utf-8"
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// decodeText returns data as UTF-8. A byte order mark always wins; without
// one, enc decides, with a zero second byte taken as UTF-16LE.
func decodeText(data []byte, enc Encoding) ([]byte, error) {
	var fallback encoding.Encoding = unicode.UTF8
	if enc == UTF16LE || (len(data) >= 2 && data[0] != 0 && data[1] == 0) {
		fallback = utf16le
	}
	out, _, err := xtransform.Bytes(unicode.BOMOverride(fallback.NewDecoder()), data)
	if err != nil {
		return nil, fmt.Errorf("decode %s text: %w", enc, err)
	}
	return out, nil
}

func encodeText(text []byte, enc Encoding) ([]byte, error) {
	if enc != UTF16LE {
		return text, nil
	}
	out, _, err := xtransform.Bytes(utf16le.NewEncoder(), text)
	if err != nil {
		return nil, fmt.Errorf("encode utf-16le text: %w", err)
	}
	return out, nil
}

// JSON converts JSON parts.
type JSON struct {
	Encoding Encoding
}

func (c JSON) Decode(data []byte) (tree.Value, error) {
	if len(data) == 0 {
		return Absent, nil
	}
	text, err := decodeText(data, c.Encoding)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(text)) == 0 {
		return Absent, nil
	}
	v, err := tree.ParseJSON(text)
	if err != nil {
		return nil, fmt.Errorf("parse json part: %w", err)
	}
	return v, nil
}

func (c JSON) Encode(v tree.Value) ([]byte, error) {
	if IsAbsent(v) {
		return nil, nil
	}
	return encodeText(tree.Marshal(v), c.Encoding)
}

// Text converts plain text parts to String values.
type Text struct {
	Encoding Encoding
}

func (c Text) Decode(data []byte) (tree.Value, error) {
	if len(data) == 0 {
		return Absent, nil
	}
	text, err := decodeText(data, c.Encoding)
	if err != nil {
		return nil, err
	}
	return tree.String(text), nil
}

func (c Text) Encode(v tree.Value) ([]byte, error) {
	if IsAbsent(v) {
		return nil, nil
	}
	s, ok := v.(tree.String)
	if !ok {
		return nil, fmt.Errorf("text part: expected string, got %s", v.Kind())
	}
	return encodeText([]byte(s), c.Encoding)
}

// Bytes carries opaque parts as base64 strings.
type Bytes struct{}

func (Bytes) Decode(data []byte) (tree.Value, error) {
	if len(data) == 0 {
		return Absent, nil
	}
	return tree.String(base64.StdEncoding.EncodeToString(data)), nil
}

func (Bytes) Encode(v tree.Value) ([]byte, error) {
	if IsAbsent(v) {
		return nil, nil
	}
	s, ok := v.(tree.String)
	if !ok {
		return nil, fmt.Errorf("binary part: expected base64 string, got %s", v.Kind())
	}
	return base64.StdEncoding.DecodeString(string(s))
}
