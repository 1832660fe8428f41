package convert

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/agentic-research/pbixproj/internal/tree"
)

const (
	attrPrefix = "@"
	textKey    = "#text"
	xmlHeader  = `<?xml version="1.0" encoding="utf-8"?>`
)

// XML converts XML parts using a fixed convention: the document becomes
// {root: element}; attributes are "@name" members; text is "#text", or the
// element itself when it has neither attributes nor children; repeated
// children, and children named in ForceArray, become arrays. Elements with
// no content are null. Comments and processing instructions are dropped.
type XML struct {
	ForceArray []string
	Encoding   Encoding
}

type xmlElement struct {
	name  string
	obj   *tree.Object
	text  strings.Builder
	names []string
	kids  map[string][]tree.Value
}

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

func (c XML) Decode(data []byte) (tree.Value, error) {
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
	force := make(map[string]bool, len(c.ForceArray))
	for _, n := range c.ForceArray {
		force[n] = true
	}

	dec := xml.NewDecoder(bytes.NewReader(text))
	// Input is already UTF-8 whatever the declaration says.
	dec.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }

	var stack []*xmlElement
	var root tree.Value
	var rootName string
	for {
		tok, err := dec.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse xml part: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			el := &xmlElement{name: qualified(t.Name), obj: &tree.Object{}, kids: map[string][]tree.Value{}}
			for _, a := range t.Attr {
				el.obj.Set(attrPrefix+qualified(a.Name), tree.String(a.Value))
			}
			stack = append(stack, el)
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("parse xml part: unexpected end element %s", qualified(t.Name))
			}
			el := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			v := el.finish(force)
			if len(stack) == 0 {
				root, rootName = v, el.name
				continue
			}
			parent := stack[len(stack)-1]
			if _, seen := parent.kids[el.name]; !seen {
				parent.names = append(parent.names, el.name)
			}
			parent.kids[el.name] = append(parent.kids[el.name], v)
		}
	}
	if len(stack) != 0 {
		return nil, fmt.Errorf("parse xml part: unclosed element %s", stack[len(stack)-1].name)
	}
	if root == nil {
		return Absent, nil
	}
	return tree.NewObject(tree.Member{Key: rootName, Value: root}), nil
}

func (el *xmlElement) finish(force map[string]bool) tree.Value {
	for _, name := range el.names {
		kids := el.kids[name]
		if len(kids) == 1 && !force[name] {
			el.obj.Set(name, kids[0])
		} else {
			el.obj.Set(name, tree.Array(kids))
		}
	}
	text := el.text.String()
	hasText := strings.TrimSpace(text) != ""
	switch {
	case el.obj.Len() == 0 && hasText:
		return tree.String(text)
	case el.obj.Len() == 0:
		return tree.Null{}
	case hasText:
		el.obj.Set(textKey, tree.String(text))
	}
	return el.obj
}

func (c XML) Encode(v tree.Value) ([]byte, error) {
	if IsAbsent(v) {
		return nil, nil
	}
	doc, ok := v.(*tree.Object)
	if !ok || doc.Len() != 1 {
		return nil, fmt.Errorf("xml part: expected a single root element")
	}
	var buf bytes.Buffer
	buf.WriteString(xmlHeader)
	m := doc.Members()[0]
	if err := writeElement(&buf, m.Key, m.Value); err != nil {
		return nil, err
	}
	return encodeText(buf.Bytes(), c.Encoding)
}

func writeElement(buf *bytes.Buffer, name string, v tree.Value) error {
	switch x := v.(type) {
	case tree.Array:
		for _, item := range x {
			if err := writeElement(buf, name, item); err != nil {
				return err
			}
		}
		return nil
	case tree.Null:
		fmt.Fprintf(buf, "<%s/>", name)
		return nil
	case *tree.Object:
		buf.WriteString("<" + name)
		var children []tree.Member
		var text string
		for _, m := range x.Members() {
			switch {
			case strings.HasPrefix(m.Key, attrPrefix):
				buf.WriteString(" " + strings.TrimPrefix(m.Key, attrPrefix) + `="`)
				if err := xml.EscapeText(buf, []byte(scalarText(m.Value))); err != nil {
					return err
				}
				buf.WriteByte('"')
			case m.Key == textKey:
				text = scalarText(m.Value)
			default:
				children = append(children, m)
			}
		}
		if len(children) == 0 && text == "" {
			buf.WriteString("/>")
			return nil
		}
		buf.WriteByte('>')
		if err := xml.EscapeText(buf, []byte(text)); err != nil {
			return err
		}
		for _, child := range children {
			if err := writeElement(buf, child.Key, child.Value); err != nil {
				return err
			}
		}
		buf.WriteString("</" + name + ">")
		return nil
	default:
		buf.WriteString("<" + name + ">")
		if err := xml.EscapeText(buf, []byte(scalarText(x))); err != nil {
			return err
		}
		buf.WriteString("</" + name + ">")
		return nil
	}
}

func scalarText(v tree.Value) string {
	switch x := v.(type) {
	case tree.String:
		return string(x)
	case tree.Number:
		return string(x)
	case tree.Bool:
		if x {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}
