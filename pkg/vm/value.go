package vm

import (
	"sort"

	"github.com/refinedb/refinedb/pkg/pathwalker"
	"github.com/refinedb/refinedb/pkg/value"
)

// Value is a runtime VM value. Values live within one execution;
// resident Table and Set handles become invalid after transaction end.
type Value interface {
	vmValue()
}

// Prim is a scalar value (including bools).
type Prim struct {
	P value.Primitive
}

// Null is a typed absent value.
type Null struct {
	T Type
}

// TableVal is a table value: either resident (a live reference into
// stored data, addressed by a path walker) or fresh (an in-transit
// record built by build_table).
type TableVal struct {
	TypeName string
	Resident *pathwalker.Walker
	Fresh    map[string]Value
}

// SetVal is a set value: resident, or fresh with members keyed by
// their encoded primary key.
type SetVal struct {
	Elem     Type
	Resident *pathwalker.Walker
	Fresh    map[string]Value
}

// MapVal is an unordered field bag. Maps are functional: m_insert and
// m_delete produce new maps.
type MapVal struct {
	Fields map[string]Value
}

// ListVal is an ephemeral singly-linked list.
type ListVal struct {
	Elem Type
	Node *ListNode
}

// ListNode is one cell of a ListVal.
type ListNode struct {
	Value Value
	Next  *ListNode
}

func (Prim) vmValue()      {}
func (Null) vmValue()      {}
func (*TableVal) vmValue() {}
func (*SetVal) vmValue()   {}
func (*MapVal) vmValue()   {}
func (*ListVal) vmValue()  {}

// Int64Value, StringValue etc. are conveniences for building params.
func Int64Value(v int64) Value    { return Prim{P: value.Int64(v)} }
func DoubleValue(v float64) Value { return Prim{P: value.Double(v)} }
func StringValue(v string) Value  { return Prim{P: value.String(v)} }
func BytesValue(v []byte) Value   { return Prim{P: value.Bytes(v)} }
func BoolValue(v bool) Value      { return Prim{P: value.Bool(v)} }

// IsNullValue reports whether v is a typed null.
func IsNullValue(v Value) bool {
	_, ok := v.(Null)
	return ok
}

// TypeOf returns the static type of a runtime value.
func TypeOf(v Value) Type {
	switch x := v.(type) {
	case Prim:
		if x.P.Kind == value.KindBool {
			return BoolType{}
		}
		return PrimType{Kind: x.P.Kind}
	case Null:
		return x.T
	case *TableVal:
		return TableType{Name: x.TypeName}
	case *SetVal:
		return SetType{Elem: x.Elem}
	case *ListVal:
		return ListType{Elem: x.Elem}
	case *MapVal:
		fields := make(map[string]Type, len(x.Fields))
		for name, fv := range x.Fields {
			fields[name] = TypeOf(fv)
		}
		return MapType{Fields: fields}
	default:
		return UnknownType{}
	}
}

// valuesEqual implements eq/ne. Scalars and nulls compare by value;
// everything else compares unequal.
func valuesEqual(a, b Value) bool {
	switch x := a.(type) {
	case Prim:
		y, ok := b.(Prim)
		return ok && x.P.Equal(y.P)
	case Null:
		_, ok := b.(Null)
		return ok
	default:
		return false
	}
}

// withField returns a copy of the map with one field replaced.
func (m *MapVal) withField(name string, v Value) *MapVal {
	out := make(map[string]Value, len(m.Fields)+1)
	for k, fv := range m.Fields {
		out[k] = fv
	}
	out[name] = v
	return &MapVal{Fields: out}
}

// withoutField returns a copy of the map with one field removed.
func (m *MapVal) withoutField(name string) *MapVal {
	out := make(map[string]Value, len(m.Fields))
	for k, fv := range m.Fields {
		if k != name {
			out[k] = fv
		}
	}
	return &MapVal{Fields: out}
}

// sortedFreshKeys returns a fresh set's member keys in ascending byte
// order, matching the scan order of resident sets.
func (s *SetVal) sortedFreshKeys() []string {
	keys := make([]string, 0, len(s.Fresh))
	for k := range s.Fresh {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
