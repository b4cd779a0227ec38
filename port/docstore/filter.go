package docstore

import (
	"fmt"
)

type Op string

const (
	OpEq     Op = "$eq"
	OpNe     Op = "$ne"
	OpGt     Op = "$gt"
	OpGte    Op = "$gte"
	OpLt     Op = "$lt"
	OpLte    Op = "$lte"
	OpIn     Op = "$in"
	OpNin    Op = "$nin"
	OpExists Op = "$exists"
)

// Condition is a single field predicate.
//
// Field may be a dotted path into embedded documents.
// Equality against a list field matches when any element of the list equals the value,
// and equality with nil matches documents where the field is absent or null.
type Condition struct {
	Field string
	Op    Op
	Value any
}

// Filter is the conjunction of its conditions. An empty Filter matches every document.
type Filter []Condition

func Eq(field string, value any) Condition { return Condition{Field: field, Op: OpEq, Value: value} }

func In(field string, values ...any) Condition {
	return Condition{Field: field, Op: OpIn, Value: values}
}

// ByID is a filter matching the document with the given identifier.
func ByID(id string) Filter { return Filter{Eq(IDKey, id)} }

// Normalize validates the filter and normalises its condition values.
func (f Filter) Normalize() (Filter, error) {
	out := make(Filter, 0, len(f))
	for _, c := range f {
		nc, err := c.normalize()
		if err != nil {
			return nil, err
		}
		out = append(out, nc)
	}
	return out, nil
}

func (c Condition) normalize() (Condition, error) {
	if c.Field == "" {
		return c, ErrInvalidQuery.F("condition without field name")
	}
	switch c.Op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		v, err := Normalize(c.Value)
		if err != nil {
			return c, ErrInvalidQuery.F("%s %s: %s", c.Field, c.Op, err)
		}
		c.Value = v
	case OpIn, OpNin:
		v, err := Normalize(c.Value)
		if err != nil {
			return c, ErrInvalidQuery.F("%s %s: %s", c.Field, c.Op, err)
		}
		if v == nil {
			v = []any{}
		}
		if _, ok := v.([]any); !ok {
			return c, ErrInvalidQuery.F("%s %s expects a list of values, got %T", c.Field, c.Op, c.Value)
		}
		c.Value = v
	case OpExists:
		if _, ok := c.Value.(bool); !ok {
			return c, ErrInvalidQuery.F("%s %s expects a bool, got %T", c.Field, c.Op, c.Value)
		}
	default:
		return c, ErrInvalidQuery.F("unknown operator: %q", c.Op)
	}
	return c, nil
}

// Match reports whether the document satisfies every condition of the filter.
// The filter is expected to be normalised.
func (f Filter) Match(doc Document) bool {
	for _, c := range f {
		if !c.Match(doc) {
			return false
		}
	}
	return true
}

// IDs returns the identifiers the normalised filter restricts the documents to,
// taken from its first $eq or $in condition on IDKey.
// Adapters use it to narrow their scan before matching the whole filter.
func (f Filter) IDs() ([]string, bool) {
	for _, c := range f {
		if c.Field != IDKey {
			continue
		}
		var vs []any
		switch c.Op {
		case OpEq:
			vs = []any{c.Value}
		case OpIn:
			vs = c.Value.([]any)
		default:
			continue
		}
		ids := make([]string, 0, len(vs))
		for _, v := range vs {
			if id, ok := v.(string); ok {
				ids = append(ids, id)
			}
		}
		return ids, true
	}
	return nil, false
}

func (c Condition) Match(doc Document) bool {
	v, present := doc.Lookup(c.Field)
	switch c.Op {
	case OpEq:
		return matchEq(v, present, c.Value)
	case OpNe:
		return !matchEq(v, present, c.Value)
	case OpIn:
		return matchIn(v, present, c.Value.([]any))
	case OpNin:
		return !matchIn(v, present, c.Value.([]any))
	case OpExists:
		return present == c.Value.(bool)
	case OpGt, OpGte, OpLt, OpLte:
		if !present {
			return false
		}
		return anyElem(v, func(e any) bool { return matchCmp(c.Op, e, c.Value) })
	default:
		panic(fmt.Sprintf("docstore: unknown operator %q", c.Op))
	}
}

func matchEq(v any, present bool, exp any) bool {
	if exp == nil {
		if !present || v == nil {
			return true
		}
		return anyElemOfList(v, func(e any) bool { return e == nil })
	}
	if !present {
		return false
	}
	if Equal(v, exp) {
		return true
	}
	return anyElemOfList(v, func(e any) bool { return Equal(e, exp) })
}

func matchIn(v any, present bool, exps []any) bool {
	for _, exp := range exps {
		if matchEq(v, present, exp) {
			return true
		}
	}
	return false
}

func matchCmp(op Op, v, exp any) bool {
	c, ok := Compare(v, exp)
	if !ok {
		return false
	}
	switch op {
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	default:
		return false
	}
}

// anyElem applies the predicate to the value itself, or to its elements when it is a list.
func anyElem(v any, fn func(any) bool) bool {
	if list, ok := v.([]any); ok {
		for _, e := range list {
			if fn(e) {
				return true
			}
		}
		return false
	}
	return fn(v)
}

func anyElemOfList(v any, fn func(any) bool) bool {
	list, ok := v.([]any)
	if !ok {
		return false
	}
	for _, e := range list {
		if fn(e) {
			return true
		}
	}
	return false
}
