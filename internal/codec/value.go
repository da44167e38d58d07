// Package codec implements the dynamic Value model and the JSON text codec
// used by the harvester for API responses and checkpoint files.
//
// Decode(Encode(v)) reproduces v whenever every string in v is valid UTF-8.
// Both directions replace invalid UTF-8 bytes with U+FFFD, so decoded values
// always round-trip.
package codec

import (
	"math"
)

// Kind identifies which variant a Value holds.
type Kind uint8

// Value kinds.
const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// String returns the lowercase kind name.
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
		return "unknown"
	}
}

// Value is a tagged union over every JSON-shaped datum. The zero Value is null.
type Value struct {
	kind    Kind
	b       bool
	i       int64
	f       float64
	isFloat bool
	s       string
	arr     []Value
	obj     *Object
}

// Null returns the null Value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps an integral number.
func Int(i int64) Value { return Value{kind: KindNumber, i: i} }

// Float wraps a floating-point number.
func Float(f float64) Value { return Value{kind: KindNumber, f: f, isFloat: true} }

// String wraps text.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array wraps an ordered sequence. A nil slice still yields an (empty) array.
func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindArray, arr: items}
}

// ObjectValue wraps an ordered mapping. A nil object yields an empty one.
func ObjectValue(o *Object) Value {
	if o == nil {
		o = NewObject()
	}
	return Value{kind: KindObject, obj: o}
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsFloat reports whether v is a number decoded or built as floating point.
func (v Value) IsFloat() bool { return v.kind == KindNumber && v.isFloat }

// AsBool returns the boolean and whether v is a boolean.
func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

// AsInt returns v as an int64. Floats are truncated; ok is false for non-numbers.
func (v Value) AsInt() (int64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	if v.isFloat {
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return 0, false
		}
		return int64(v.f), true
	}
	return v.i, true
}

// AsFloat returns v as a float64; ok is false for non-numbers.
func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	if v.isFloat {
		return v.f, true
	}
	return float64(v.i), true
}

// AsString returns the text and whether v is a string.
func (v Value) AsString() (string, bool) {
	return v.s, v.kind == KindString
}

// Items returns the elements of an array, or nil for any other kind.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	return v.arr
}

// Object returns the mapping held by v, or nil for any other kind.
func (v Value) Object() *Object {
	if v.kind != KindObject {
		return nil
	}
	return v.obj
}

// Field looks up key when v is an object. Missing keys and non-objects yield null.
func (v Value) Field(key string) Value {
	if v.kind != KindObject || v.obj == nil {
		return Null()
	}
	val, _ := v.obj.Get(key)
	return val
}

// Has reports whether v is an object containing key.
func (v Value) Has(key string) bool {
	if v.kind != KindObject || v.obj == nil {
		return false
	}
	_, ok := v.obj.Get(key)
	return ok
}

// IntOr returns the integral value of v or def.
func (v Value) IntOr(def int64) int64 {
	if i, ok := v.AsInt(); ok {
		return i
	}
	return def
}

// StringOr returns the text of v or def.
func (v Value) StringOr(def string) string {
	if s, ok := v.AsString(); ok {
		return s
	}
	return def
}

// BoolOr returns the boolean held by v or def.
func (v Value) BoolOr(def bool) bool {
	if b, ok := v.AsBool(); ok {
		return b
	}
	return def
}

// Equal reports deep equality. Numbers compare by representation: an int and
// a float holding the same quantity are not equal. Object key order matters.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		if a.isFloat != b.isFloat {
			return false
		}
		if a.isFloat {
			return a.f == b.f || (math.IsNaN(a.f) && math.IsNaN(b.f))
		}
		return a.i == b.i
	case KindString:
		return a.s == b.s
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		return a.obj.equal(b.obj)
	default:
		return false
	}
}

// Object is an insertion-ordered mapping with unique string keys.
type Object struct {
	keys  []string
	vals  []Value
	index map[string]int
}

// NewObject returns an empty Object.
func NewObject() *Object {
	return &Object{index: make(map[string]int)}
}

// Set stores val under key. An existing key keeps its position and takes the new value.
func (o *Object) Set(key string, val Value) *Object {
	if o.index == nil {
		o.index = make(map[string]int)
	}
	if pos, ok := o.index[key]; ok {
		o.vals[pos] = val
		return o
	}
	o.index[key] = len(o.keys)
	o.keys = append(o.keys, key)
	o.vals = append(o.vals, val)
	return o
}

// Get returns the value stored under key.
func (o *Object) Get(key string) (Value, bool) {
	if o == nil {
		return Null(), false
	}
	pos, ok := o.index[key]
	if !ok {
		return Null(), false
	}
	return o.vals[pos], true
}

// Len returns the number of keys.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Keys returns the keys in insertion order.
func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

// Range calls fn for each entry in insertion order until fn returns false.
func (o *Object) Range(fn func(key string, val Value) bool) {
	if o == nil {
		return
	}
	for i, k := range o.keys {
		if !fn(k, o.vals[i]) {
			return
		}
	}
}

func (o *Object) equal(other *Object) bool {
	if o.Len() != other.Len() {
		return false
	}
	for i := 0; i < o.Len(); i++ {
		if o.keys[i] != other.keys[i] || !Equal(o.vals[i], other.vals[i]) {
			return false
		}
	}
	return true
}
