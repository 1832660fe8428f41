// Package query evaluates JSONPath selectors against tree values.
package query

import (
	"fmt"

	"github.com/ohler55/ojg/jp"

	"github.com/agentic-research/pbixproj/internal/tree"
)

// Match is a single selector result.
type Match struct {
	value any
}

// Values returns the matched object's members, or the primitive under "value".
func (m Match) Values() map[string]any {
	switch v := m.value.(type) {
	case map[string]any:
		return v // preserve nesting
	default:
		return map[string]any{"value": v}
	}
}

// Raw returns the matched value in its plain Go form.
func (m Match) Raw() any {
	return m.value
}

// Tree converts the match back into a tree value.
func (m Match) Tree() tree.Value {
	return tree.FromAny(m.value)
}

// Select evaluates selector (e.g. "$.model.tables[*].name") against root.
func Select(root tree.Value, selector string) ([]Match, error) {
	x, err := jp.ParseString(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid jsonpath '%s': %w", selector, err)
	}
	results := x.Get(tree.ToAny(root))
	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{value: r}
	}
	return matches, nil
}

// Strings evaluates selector and keeps the string results only.
func Strings(root tree.Value, selector string) ([]string, error) {
	matches, err := Select(root, selector)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, m := range matches {
		if s, ok := m.value.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}
