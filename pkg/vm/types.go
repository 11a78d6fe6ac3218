// Package vm implements the TreeWalker virtual machine: the static
// type checker and the evaluator that reduces a graph against a KV
// transaction.
package vm

import (
	"sort"
	"strings"

	"github.com/refinedb/refinedb/pkg/asm"
	"github.com/refinedb/refinedb/pkg/rdberr"
	"github.com/refinedb/refinedb/pkg/schema"
	"github.com/refinedb/refinedb/pkg/value"
)

// Type is the static type of a VM value. Optionality is not a type in
// the VM: absence is a typed null, and every position is nullable at
// runtime.
type Type interface {
	vmType()
	String() string
}

// PrimType is one of int64, double, string, bytes.
type PrimType struct {
	Kind value.Kind
}

// BoolType is the boolean type, used for conditions and for schema
// `bool` fields.
type BoolType struct{}

// TableType references a specialised schema table by canonical name.
type TableType struct {
	Name string
}

// SetType is a set of tables.
type SetType struct {
	Elem Type
}

// ListType is a VM-only ephemeral list.
type ListType struct {
	Elem Type
}

// MapType is a VM-only field bag, the intermediate form consumed by
// build_table.
type MapType struct {
	Fields map[string]Type
}

// UnknownType is the placeholder for positions with no useful static
// type, such as the result of an effect operator.
type UnknownType struct{}

func (PrimType) vmType()    {}
func (BoolType) vmType()    {}
func (TableType) vmType()   {}
func (SetType) vmType()     {}
func (ListType) vmType()    {}
func (MapType) vmType()     {}
func (UnknownType) vmType() {}

func (t PrimType) String() string  { return t.Kind.String() }
func (BoolType) String() string    { return "bool" }
func (t TableType) String() string { return t.Name }
func (t SetType) String() string   { return "set<" + t.Elem.String() + ">" }
func (t ListType) String() string  { return "list<" + t.Elem.String() + ">" }
func (UnknownType) String() string { return "unknown" }

func (t MapType) String() string {
	names := make([]string, 0, len(t.Fields))
	for name := range t.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString("map {")
	for _, name := range names {
		b.WriteString(" " + name + ": " + t.Fields[name].String() + ",")
	}
	b.WriteString(" }")
	return b.String()
}

// TypeEqual reports structural equality of two VM types. UnknownType
// is equal to nothing but itself.
func TypeEqual(a, b Type) bool {
	switch x := a.(type) {
	case PrimType:
		y, ok := b.(PrimType)
		return ok && x.Kind == y.Kind
	case BoolType:
		_, ok := b.(BoolType)
		return ok
	case TableType:
		y, ok := b.(TableType)
		return ok && x.Name == y.Name
	case SetType:
		y, ok := b.(SetType)
		return ok && TypeEqual(x.Elem, y.Elem)
	case ListType:
		y, ok := b.(ListType)
		return ok && TypeEqual(x.Elem, y.Elem)
	case MapType:
		y, ok := b.(MapType)
		if !ok || len(x.Fields) != len(y.Fields) {
			return false
		}
		for name, xt := range x.Fields {
			yt, ok := y.Fields[name]
			if !ok || !TypeEqual(xt, yt) {
				return false
			}
		}
		return true
	case UnknownType:
		_, ok := b.(UnknownType)
		return ok
	default:
		return false
	}
}

// CovariantFrom reports whether a value of type `from` is acceptable
// where `to` is expected. Map types are covariant: a map with more
// fields satisfies a map type requiring fewer. Unknown accepts and is
// accepted by anything, as the placeholder of unfinished inference.
func CovariantFrom(to, from Type) bool {
	if _, ok := to.(UnknownType); ok {
		return true
	}
	if _, ok := from.(UnknownType); ok {
		return true
	}
	if TypeEqual(to, from) {
		return true
	}
	toMap, ok1 := to.(MapType)
	fromMap, ok2 := from.(MapType)
	if ok1 && ok2 {
		for name, want := range toMap.Fields {
			got, ok := fromMap.Fields[name]
			if !ok || !CovariantFrom(want, got) {
				return false
			}
		}
		return true
	}
	return false
}

// FromFieldType maps a schema field type to its VM type. Optionals are
// erased: the VM models absence as a typed null.
func FromFieldType(ft schema.FieldType) Type {
	switch x := ft.(type) {
	case schema.Optional:
		return FromFieldType(x.Inner)
	case schema.Primitive:
		if x.Kind == value.KindBool {
			return BoolType{}
		}
		return PrimType{Kind: x.Kind}
	case schema.Table:
		return TableType{Name: x.Name}
	case schema.Set:
		return SetType{Elem: FromFieldType(x.Elem)}
	default:
		return UnknownType{}
	}
}

// SchemaRootType is the type of the virtual schema root: a map from
// export name to export type.
func SchemaRootType(s *schema.Schema) MapType {
	fields := make(map[string]Type, len(s.Exports))
	for name, ft := range s.Exports {
		fields[name] = FromFieldType(ft)
	}
	return MapType{Fields: fields}
}

// setPrimaryKey resolves the primary-key field of a set's element
// table.
func setPrimaryKey(s *schema.Schema, elem Type) (string, schema.FieldType, bool) {
	table, ok := elem.(TableType)
	if !ok {
		return "", nil, false
	}
	spec, ok := s.Types[table.Name]
	if !ok {
		return "", nil, false
	}
	name, field, ok := spec.PrimaryKey()
	if !ok {
		return "", nil, false
	}
	return name, field.Type, ok
}

// resolveTypeRef maps an assembly type expression to a VM type,
// following type aliases and checking table names against the schema.
func resolveTypeRef(s *schema.Schema, aliases map[string]*asm.TypeRef, ref *asm.TypeRef) (Type, error) {
	switch ref.Kind {
	case asm.TypePrimitive:
		switch ref.Name {
		case "int64":
			return PrimType{Kind: value.KindInt64}, nil
		case "double":
			return PrimType{Kind: value.KindDouble}, nil
		case "string":
			return PrimType{Kind: value.KindString}, nil
		case "bytes":
			return PrimType{Kind: value.KindBytes}, nil
		}
		return nil, rdberr.NewAt(rdberr.TypeError, ref.Loc, "unknown primitive type `%s`", ref.Name)
	case asm.TypeBool:
		return BoolType{}, nil
	case asm.TypeSchema:
		return nil, rdberr.NewAt(rdberr.TypeError, ref.Loc, "`schema` is only valid as a parameter type")
	case asm.TypeSet:
		elem, err := resolveTypeRef(s, aliases, ref.Args[0])
		if err != nil {
			return nil, err
		}
		return SetType{Elem: elem}, nil
	case asm.TypeList:
		elem, err := resolveTypeRef(s, aliases, ref.Args[0])
		if err != nil {
			return nil, err
		}
		return ListType{Elem: elem}, nil
	case asm.TypeMap:
		fields := make(map[string]Type, len(ref.MapFields))
		for _, f := range ref.MapFields {
			ft, err := resolveTypeRef(s, aliases, f.Type)
			if err != nil {
				return nil, err
			}
			fields[f.Name] = ft
		}
		return MapType{Fields: fields}, nil
	case asm.TypeTable:
		if alias, ok := aliases[ref.Name]; ok && len(ref.Args) == 0 {
			return resolveTypeRef(s, aliases, alias)
		}
		name := ref.Name
		if len(ref.Args) > 0 {
			parts := make([]string, len(ref.Args))
			for i, arg := range ref.Args {
				at, err := resolveTypeRef(s, aliases, arg)
				if err != nil {
					return nil, err
				}
				parts[i] = at.String()
			}
			name = ref.Name + "<" + strings.Join(parts, ", ") + ">"
		}
		if _, ok := s.Types[name]; !ok {
			return nil, rdberr.NewAt(rdberr.TypeError, ref.Loc, "type `%s` not found in schema", name)
		}
		return TableType{Name: name}, nil
	default:
		return nil, rdberr.NewAt(rdberr.TypeError, ref.Loc, "unsupported type expression")
	}
}
