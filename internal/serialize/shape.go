package serialize

import (
	"fmt"
	"path"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/agentic-research/pbixproj/internal/project"
	"github.com/agentic-research/pbixproj/internal/tree"
)

// Form is how an extracted text file is re-attached.
type Form int

const (
	// FormString re-attaches the file content as one string.
	FormString Form = iota
	// FormLines re-attaches multi-line content as an array of lines and
	// single-line content as a string.
	FormLines
)

// RuleKind selects how a Rule extracts its field.
type RuleKind int

const (
	// KindEmbedded parses a string field holding serialized JSON and writes
	// it as <field>.json; the inverse re-serializes it into the string.
	KindEmbedded RuleKind = iota
	// KindText writes a formula or expression to a sibling text file.
	KindText
	// KindItems extracts an array of named objects, one entry per item.
	KindItems
	// KindJSON writes the field in place as <field>.json.
	KindJSON
)

// Placeholder names an item that carries none of its identifying fields.
const Placeholder = "_unnamed"

// OrderFile records the source order of items when it differs from the
// sorted order of their entry names.
const OrderFile = ".order"

// Shape describes how one object maps onto the file system. A shape with a
// Descriptor is a folder: the remaining object is written to that file. A
// shape without one is a file item written as <name>.json next to its text
// files; file items only support Text rules.
type Shape struct {
	Descriptor string
	Rules      []Rule
}

// Rule is one extraction rule. Field is a dotted path into the object.
type Rule struct {
	Kind  RuleKind
	Field string

	// Text rules.
	Form Form
	Exts []string
	Pick func(item *tree.Object) string

	// Items rules.
	Names   []string
	Ordinal int
	Dir     string
	Item    *Shape
}

// Embedded declares an embedded JSON string field.
func Embedded(field string) Rule {
	return Rule{Kind: KindEmbedded, Field: field}
}

// Text declares a text field written with the given extension.
func Text(field string, form Form, ext string) Rule {
	return Rule{Kind: KindText, Field: field, Form: form, Exts: []string{ext}}
}

// TextPick declares a text field whose extension depends on the item; pick
// returns one of exts.
func TextPick(field string, form Form, pick func(*tree.Object) string, exts ...string) Rule {
	return Rule{Kind: KindText, Field: field, Form: form, Exts: exts, Pick: pick}
}

// Items declares an array of named objects. names are tried in order.
func Items(field string, item Shape, names ...string) Rule {
	return Rule{Kind: KindItems, Field: field, Item: &item, Names: names}
}

// JSONFile declares a field written in place as <field>.json.
func JSONFile(field string) Rule {
	return Rule{Kind: KindJSON, Field: field}
}

// In overrides the directory items are written to.
func (r Rule) In(dir string) Rule {
	r.Dir = dir
	return r
}

// WithOrdinal prefixes entry names with a zero-padded index of width digits.
func (r Rule) WithOrdinal(digits int) Rule {
	r.Ordinal = digits
	return r
}

func leaf(field string) string {
	if i := strings.LastIndexByte(field, '.'); i >= 0 {
		return field[i+1:]
	}
	return field
}

func (r Rule) dir() string {
	if r.Dir != "" {
		return r.Dir
	}
	return leaf(r.Field)
}

func (r Rule) ext(item *tree.Object) string {
	if r.Pick != nil {
		if e := r.Pick(item); e != "" {
			return e
		}
	}
	return r.Exts[0]
}

// Newline joins lines written to text files.
var Newline = platformNewline()

func platformNewline() string {
	if runtime.GOOS == "windows" {
		return "\r\n"
	}
	return "\n"
}

var lineBreak = regexp.MustCompile(`\r?\n`)

// textOf returns the text held by a string or an array of strings.
func textOf(v tree.Value) (string, bool) {
	switch x := v.(type) {
	case tree.String:
		return string(x), true
	case tree.Array:
		lines := make([]string, len(x))
		for i, item := range x {
			s, ok := item.(tree.String)
			if !ok {
				return "", false
			}
			lines[i] = string(s)
		}
		return strings.Join(lines, Newline), true
	}
	return "", false
}

// textValue turns file content back into a field value.
func textValue(text string, form Form) tree.Value {
	if form == FormString {
		return tree.String(text)
	}
	lines := lineBreak.Split(text, -1)
	if len(lines) == 1 {
		return tree.String(lines[0])
	}
	arr := make(tree.Array, len(lines))
	for i, l := range lines {
		arr[i] = tree.String(l)
	}
	return arr
}

// itemsOf returns the array under field when every element is an object.
// Empty arrays and mixed arrays stay inline.
func itemsOf(obj *tree.Object, field string) (tree.Array, bool) {
	v, ok := tree.Lookup(obj, field)
	if !ok {
		return nil, false
	}
	arr, ok := v.(tree.Array)
	if !ok || len(arr) == 0 {
		return nil, false
	}
	for _, item := range arr {
		if _, ok := item.(*tree.Object); !ok {
			return nil, false
		}
	}
	return arr, true
}

// parseEmbedded parses a string field holding JSON.
func parseEmbedded(v tree.Value) (tree.Value, bool) {
	s, ok := v.(tree.String)
	if !ok || strings.TrimSpace(string(s)) == "" {
		return nil, false
	}
	parsed, err := tree.ParseJSON([]byte(s))
	if err != nil {
		return nil, false
	}
	return parsed, true
}

// itemName resolves an item's identifying name. primary reports whether the
// first name field supplied it.
func itemName(item *tree.Object, shape *Shape, names []string) (name string, primary bool) {
	view := tree.Value(item)
	if hasEmbedded(shape) {
		expanded := tree.Clone(item).(*tree.Object)
		for _, r := range shape.Rules {
			if r.Kind != KindEmbedded {
				continue
			}
			if v, ok := tree.Lookup(expanded, r.Field); ok {
				if parsed, ok := parseEmbedded(v); ok {
					tree.Put(expanded, r.Field, parsed)
				}
			}
		}
		view = expanded
	}
	for i, n := range names {
		v, ok := tree.Lookup(view, n)
		if !ok {
			continue
		}
		switch x := v.(type) {
		case tree.String:
			if x != "" {
				return string(x), i == 0
			}
		case tree.Number:
			return string(x), i == 0
		}
	}
	return Placeholder, false
}

func hasEmbedded(shape *Shape) bool {
	for _, r := range shape.Rules {
		if r.Kind == KindEmbedded {
			return true
		}
	}
	return false
}

// uniqueName appends -1, -2, ... until name is unused, comparing
// case-insensitively since common file systems do.
func uniqueName(used map[string]bool, name string) string {
	candidate := name
	for i := 1; used[strings.ToLower(candidate)]; i++ {
		candidate = fmt.Sprintf("%s-%d", name, i)
	}
	used[strings.ToLower(candidate)] = true
	return candidate
}

// ordinalOf parses the numeric prefix of an ordinal entry name.
func ordinalOf(entry string) (int, bool) {
	prefix, _, ok := strings.Cut(entry, "_")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(prefix)
	return n, err == nil
}

// sortEntries orders entry names for reading: by ordinal prefix, by the
// recorded order file, or lexically.
func sortEntries(entries []string, ordinal bool, order []string) []string {
	out := append([]string(nil), entries...)
	sort.Strings(out)
	if ordinal {
		sort.SliceStable(out, func(i, j int) bool {
			a, okA := ordinalOf(out[i])
			b, okB := ordinalOf(out[j])
			if okA && okB && a != b {
				return a < b
			}
			return okA && !okB
		})
		return out
	}
	if len(order) == 0 {
		return out
	}
	present := make(map[string]bool, len(out))
	for _, e := range out {
		present[e] = true
	}
	ordered := make([]string, 0, len(out))
	for _, e := range order {
		if present[e] {
			ordered = append(ordered, e)
			delete(present, e)
		}
	}
	for _, e := range out {
		if present[e] {
			ordered = append(ordered, e)
		}
	}
	return ordered
}

func readOrder(f *project.Folder) []string {
	data, err := f.ReadFile(OrderFile)
	if err != nil {
		return nil
	}
	var out []string
	for _, line := range lineBreak.Split(string(data), -1) {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// fileItemStem strips a known extension from a file item's file name.
func fileItemStem(name string, shape *Shape) (string, bool) {
	ext := path.Ext(name)
	if ext == "" {
		return "", false
	}
	if ext == ".json" {
		return strings.TrimSuffix(name, ext), true
	}
	for _, r := range shape.Rules {
		for _, e := range r.Exts {
			if e == ext {
				return strings.TrimSuffix(name, ext), true
			}
		}
	}
	return "", false
}
