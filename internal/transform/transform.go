// Package transform holds the canonicalizing transforms applied to every
// document before it is persisted. Each transform is pure: it returns a new
// value and never fails on missing targets.
package transform

import (
	"math"
	"sort"

	"github.com/agentic-research/pbixproj/internal/tree"
)

// Epsilon is the absolute tolerance under which a float is treated as the
// nearest whole number. Fixed; changing it changes the on-disk output.
const Epsilon = 1e-4

// Func is a single tree transform.
type Func func(tree.Value) tree.Value

// SortKeys orders object members lexicographically, recursively.
func SortKeys(v tree.Value) tree.Value {
	switch x := v.(type) {
	case tree.Array:
		out := make(tree.Array, len(x))
		for i, item := range x {
			out[i] = SortKeys(item)
		}
		return out
	case *tree.Object:
		members := append([]tree.Member(nil), x.Members()...)
		sort.SliceStable(members, func(i, j int) bool { return members[i].Key < members[j].Key })
		out := &tree.Object{}
		for _, m := range members {
			out.Set(m.Key, SortKeys(m.Value))
		}
		return out
	case nil:
		return tree.Null{}
	default:
		return x
	}
}

// NormalizeNumbers rewrites floating literals that sit within Epsilon of a
// whole number as integers, and every other float in its shortest form.
// Integer literals are left untouched so large ids keep full precision.
func NormalizeNumbers(v tree.Value) tree.Value {
	switch x := v.(type) {
	case tree.Number:
		return normalizeNumber(x)
	case tree.Array:
		out := make(tree.Array, len(x))
		for i, item := range x {
			out[i] = NormalizeNumbers(item)
		}
		return out
	case *tree.Object:
		out := &tree.Object{}
		for _, m := range x.Members() {
			out.Set(m.Key, NormalizeNumbers(m.Value))
		}
		return out
	case nil:
		return tree.Null{}
	default:
		return x
	}
}

func normalizeNumber(n tree.Number) tree.Number {
	if n.IsInteger() {
		return n
	}
	f, err := n.Float64()
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return n
	}
	whole := math.Round(f)
	if math.Abs(f-whole) < Epsilon && math.Abs(whole) < math.MaxInt64 {
		return tree.Int(int64(whole))
	}
	return tree.Float(f)
}

// StripProperties returns a transform removing every member named in names,
// at any depth.
func StripProperties(names ...string) Func {
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	var strip Func
	strip = func(v tree.Value) tree.Value {
		switch x := v.(type) {
		case tree.Array:
			out := make(tree.Array, len(x))
			for i, item := range x {
				out[i] = strip(item)
			}
			return out
		case *tree.Object:
			out := &tree.Object{}
			for _, m := range x.Members() {
				if _, ok := drop[m.Key]; ok {
					continue
				}
				out.Set(m.Key, strip(m.Value))
			}
			return out
		case nil:
			return tree.Null{}
		default:
			return x
		}
	}
	return strip
}

// Chain applies transforms left to right.
func Chain(fns ...Func) Func {
	return func(v tree.Value) tree.Value {
		for _, fn := range fns {
			v = fn(v)
		}
		return v
	}
}

// Canonicalize applies the fixed pipeline: sort keys, normalize numbers,
// strip the named volatile properties.
func Canonicalize(v tree.Value, strip ...string) tree.Value {
	fns := []Func{SortKeys, NormalizeNumbers}
	if len(strip) > 0 {
		fns = append(fns, StripProperties(strip...))
	}
	return Chain(fns...)(v)
}
