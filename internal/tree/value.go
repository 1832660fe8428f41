// Package tree defines the generic document value passed between part
// converters and structural serializers. Objects keep their member order and
// numbers keep their literal text so a decode/encode cycle is lossless.
package tree

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// Value is the tagged union: Null, Bool, Number, String, Array or *Object.
type Value interface {
	Kind() Kind
	sealed()
}

// Null is the JSON null.
type Null struct{}

// Bool is a JSON boolean.
type Bool bool

// Number holds the JSON literal text of a number, e.g. "200" or "200.22".
type Number string

// String is a JSON string.
type String string

// Array is an ordered sequence of values.
type Array []Value

func (Null) Kind() Kind    { return KindNull }
func (Bool) Kind() Kind    { return KindBool }
func (Number) Kind() Kind  { return KindNumber }
func (String) Kind() Kind  { return KindString }
func (Array) Kind() Kind   { return KindArray }
func (*Object) Kind() Kind { return KindObject }

func (Null) sealed()    {}
func (Bool) sealed()    {}
func (Number) sealed()  {}
func (String) sealed()  {}
func (Array) sealed()   {}
func (*Object) sealed() {}

// Int returns a Number for an integer.
func Int(n int64) Number { return Number(strconv.FormatInt(n, 10)) }

// Float returns a Number using the shortest representation that round-trips.
func Float(f float64) Number {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return Number("0")
	}
	return Number(strconv.FormatFloat(f, 'g', -1, 64))
}

// IsInteger reports whether the literal has integer syntax (no fraction or exponent).
func (n Number) IsInteger() bool {
	return !strings.ContainsAny(string(n), ".eE")
}

// Float64 parses the literal.
func (n Number) Float64() (float64, error) {
	return strconv.ParseFloat(string(n), 64)
}

// Member is one key/value pair of an Object.
type Member struct {
	Key   string
	Value Value
}

// Object is an ordered mapping with unique keys. The zero value is empty and
// ready to use.
type Object struct {
	members []Member
	index   map[string]int
}

// NewObject builds an object from alternating key/value pairs in order.
func NewObject(members ...Member) *Object {
	o := &Object{}
	for _, m := range members {
		o.Set(m.Key, m.Value)
	}
	return o
}

// Len returns the number of members.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.members)
}

// Members returns the members in order. The slice must not be modified.
func (o *Object) Members() []Member {
	if o == nil {
		return nil
	}
	return o.members
}

// Keys returns the keys in order.
func (o *Object) Keys() []string {
	keys := make([]string, 0, o.Len())
	for _, m := range o.Members() {
		keys = append(keys, m.Key)
	}
	return keys
}

func (o *Object) lookup(key string) (int, bool) {
	if o == nil {
		return 0, false
	}
	if o.index == nil {
		o.index = make(map[string]int, len(o.members))
		for i, m := range o.members {
			o.index[m.Key] = i
		}
	}
	i, ok := o.index[key]
	return i, ok
}

// Get returns the value stored under key.
func (o *Object) Get(key string) (Value, bool) {
	i, ok := o.lookup(key)
	if !ok {
		return nil, false
	}
	return o.members[i].Value, true
}

// Has reports whether key is present.
func (o *Object) Has(key string) bool {
	_, ok := o.lookup(key)
	return ok
}

// Set replaces the value under key in place, or appends a new member.
func (o *Object) Set(key string, v Value) {
	if v == nil {
		v = Null{}
	}
	if i, ok := o.lookup(key); ok {
		o.members[i].Value = v
		return
	}
	if o.index == nil {
		o.index = make(map[string]int)
	}
	o.index[key] = len(o.members)
	o.members = append(o.members, Member{Key: key, Value: v})
}

// Delete removes key and returns the removed value.
func (o *Object) Delete(key string) (Value, bool) {
	i, ok := o.lookup(key)
	if !ok {
		return nil, false
	}
	v := o.members[i].Value
	o.members = append(o.members[:i], o.members[i+1:]...)
	o.index = nil
	return v, true
}

// String helpers for the common "field is a string" lookups.

// GetString returns the string stored under key.
func (o *Object) GetString(key string) (string, bool) {
	v, ok := o.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(String)
	return string(s), ok
}

// GetObject returns the object stored under key.
func (o *Object) GetObject(key string) (*Object, bool) {
	v, ok := o.Get(key)
	if !ok {
		return nil, false
	}
	obj, ok := v.(*Object)
	return obj, ok
}

// Clone returns a deep copy of v.
func Clone(v Value) Value {
	switch x := v.(type) {
	case Array:
		out := make(Array, len(x))
		for i, item := range x {
			out[i] = Clone(item)
		}
		return out
	case *Object:
		out := &Object{members: make([]Member, 0, x.Len())}
		for _, m := range x.Members() {
			out.members = append(out.members, Member{Key: m.Key, Value: Clone(m.Value)})
		}
		return out
	case nil:
		return Null{}
	default:
		return x
	}
}

// Equal reports deep equality, including object member order.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch x := a.(type) {
	case Array:
		y := b.(Array)
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case *Object:
		y := b.(*Object)
		if x.Len() != y.Len() {
			return false
		}
		xm, ym := x.Members(), y.Members()
		for i := range xm {
			if xm[i].Key != ym[i].Key || !Equal(xm[i].Value, ym[i].Value) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// Lookup resolves a dotted path ("source.expression") through nested objects.
func Lookup(v Value, path string) (Value, bool) {
	cur := v
	for _, seg := range strings.Split(path, ".") {
		obj, ok := cur.(*Object)
		if !ok {
			return nil, false
		}
		cur, ok = obj.Get(seg)
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Remove deletes the value at a dotted path and returns it. Intermediate
// objects are left in place even when they become empty.
func Remove(v Value, path string) (Value, bool) {
	parent, key, ok := parentOf(v, path, false)
	if !ok {
		return nil, false
	}
	return parent.Delete(key)
}

// Put stores x at a dotted path, creating intermediate objects as needed.
func Put(v Value, path string, x Value) bool {
	parent, key, ok := parentOf(v, path, true)
	if !ok {
		return false
	}
	parent.Set(key, x)
	return true
}

func parentOf(v Value, path string, create bool) (*Object, string, bool) {
	segs := strings.Split(path, ".")
	obj, ok := v.(*Object)
	if !ok {
		return nil, "", false
	}
	for _, seg := range segs[:len(segs)-1] {
		next, ok := obj.Get(seg)
		if !ok {
			if !create {
				return nil, "", false
			}
			child := &Object{}
			obj.Set(seg, child)
			obj = child
			continue
		}
		child, ok := next.(*Object)
		if !ok {
			return nil, "", false
		}
		obj = child
	}
	return obj, segs[len(segs)-1], true
}
