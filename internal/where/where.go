// Package where implements the boolean filter language report sections use
// to select stories.
//
// An expression is a JSON array of clause objects, all of which must hold:
//
//	[
//	  {"equals": {"kind": "feature"}},
//	  {"not": [{"includes": {"labels": ["spike", "obsolete"]}}]},
//	  {"or": [{"equals": {"hasFlags": false}}, {"every": {"flagValues": true}}]}
//	]
//
// Expressions are compiled once by Parse into a closed set of clause types,
// so a misspelled command is reported when the configuration is loaded,
// before any story is evaluated.
package where

import (
	"reflect"
)

// Record is anything clauses can be evaluated against.
type Record interface {
	// Field returns the value of the named field and whether it exists.
	Field(name string) (any, bool)
}

// Clause is one of Equals, Includes, Some, Every, Or and Not. The set is
// closed: clause is unexported so no other package can add a variant.
type Clause interface {
	Match(r Record) bool
	clause()
}

// Expr is a conjunction of clauses. The empty Expr matches everything.
type Expr []Clause

// Pair is a field name and the value it is compared with.
type Pair struct {
	Field string
	Value any
}

// Equals holds when every field is strictly equal to its value.
type Equals struct{ Pairs []Pair }

// Includes holds when, for every pair, the field and the value share an
// element. Sequences and scalars are both accepted on either side.
type Includes struct{ Pairs []Pair }

// Some is Includes under another name.
type Some struct{ Pairs []Pair }

// Every holds when every element of each sequence field equals the value.
// A scalar field is compared directly.
type Every struct{ Pairs []Pair }

// Or holds when any branch holds.
type Or struct{ Branches []Expr }

// Not holds when Expr does not.
type Not struct{ Expr Expr }

func (Equals) clause()   {}
func (Includes) clause() {}
func (Some) clause()     {}
func (Every) clause()    {}
func (Or) clause()       {}
func (Not) clause()      {}

// Match reports whether every clause holds for r.
func (e Expr) Match(r Record) bool {
	for _, c := range e {
		if !c.Match(r) {
			return false
		}
	}

	return true
}

// Apply returns the items matching e in their original order. Items are not
// modified. The empty Expr returns items unchanged.
func Apply[T Record](items []T, e Expr) []T {
	if len(e) == 0 {
		return items
	}

	out := make([]T, 0, len(items))

	for _, item := range items {
		if e.Match(item) {
			out = append(out, item)
		}
	}

	return out
}

func (c Equals) Match(r Record) bool {
	return allPairs(r, c.Pairs, equal)
}

func (c Includes) Match(r Record) bool {
	return allPairs(r, c.Pairs, includes)
}

func (c Some) Match(r Record) bool {
	return allPairs(r, c.Pairs, includes)
}

func (c Every) Match(r Record) bool {
	return allPairs(r, c.Pairs, every)
}

func (c Or) Match(r Record) bool {
	for _, branch := range c.Branches {
		if branch.Match(r) {
			return true
		}
	}

	return false
}

func (c Not) Match(r Record) bool {
	return !c.Expr.Match(r)
}

// allPairs applies test to every pair. A missing field fails the pair.
func allPairs(r Record, pairs []Pair, test func(field, want any) bool) bool {
	for _, p := range pairs {
		v, ok := r.Field(p.Field)
		if !ok {
			return false
		}

		if !test(normalize(v), p.Value) {
			return false
		}
	}

	return true
}

func includes(field, want any) bool {
	fieldSeq, fieldIsSeq := field.([]any)

	if wantSeq, ok := want.([]any); ok {
		if !fieldIsSeq {
			return contains(wantSeq, field)
		}

		for _, v := range fieldSeq {
			if contains(wantSeq, v) {
				return true
			}
		}

		return false
	}

	if fieldIsSeq {
		return contains(fieldSeq, want)
	}

	return equal(field, want)
}

func every(field, want any) bool {
	seq, ok := field.([]any)
	if !ok {
		return equal(field, want)
	}

	for _, v := range seq {
		if !equal(v, want) {
			return false
		}
	}

	return true
}

func contains(seq []any, v any) bool {
	for _, item := range seq {
		if equal(item, v) {
			return true
		}
	}

	return false
}

// equal is strict equality of normalized scalars. Sequences and objects are
// never equal to anything.
func equal(a, b any) bool {
	if !scalar(a) || !scalar(b) {
		return false
	}

	return a == b
}

func scalar(v any) bool {
	if v == nil {
		return true
	}

	switch v.(type) {
	case []any, map[string]any:
		return false
	}

	return reflect.TypeOf(v).Comparable()
}

// normalize maps Go values onto the JSON value space: numbers become
// float64, slices become []any, pointers are followed.
func normalize(v any) any {
	switch v := v.(type) {
	case nil, bool, string, float64, []any:
		return v
	}

	rv := reflect.ValueOf(v)

	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalize(rv.Index(i).Interface())
		}

		return out
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}

		return normalize(rv.Elem().Interface())
	default:
		return v
	}
}
