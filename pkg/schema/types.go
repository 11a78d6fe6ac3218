package schema

import (
	"sort"
	"strings"

	"github.com/refinedb/refinedb/pkg/value"
)

// FieldType is the type of a field (or export) after specialisation.
// It is one of Primitive, Table, Set, or Optional.
type FieldType interface {
	fieldType()
	String() string
}

// Primitive is one of int64, double, string, bytes, bool.
type Primitive struct {
	Kind value.Kind
}

// Table references a specialised table type by its canonical name,
// e.g. `Item<int64>`.
type Table struct {
	Name string
}

// Set is an unordered collection of tables keyed by primary key.
type Set struct {
	Elem FieldType
}

// Optional wraps any type; absence is represented by a typed null.
type Optional struct {
	Inner FieldType
}

func (Primitive) fieldType() {}
func (Table) fieldType()     {}
func (Set) fieldType()       {}
func (Optional) fieldType()  {}

func (p Primitive) String() string { return p.Kind.String() }
func (t Table) String() string     { return t.Name }
func (s Set) String() string       { return "set<" + s.Elem.String() + ">" }
func (o Optional) String() string  { return o.Inner.String() + "?" }

// Unwrap strips one level of Optional, if present.
func Unwrap(t FieldType) FieldType {
	if o, ok := t.(Optional); ok {
		return o.Inner
	}
	return t
}

// TypesEqual reports structural equality of two field types.
func TypesEqual(a, b FieldType) bool {
	switch x := a.(type) {
	case Primitive:
		y, ok := b.(Primitive)
		return ok && x.Kind == y.Kind
	case Table:
		y, ok := b.(Table)
		return ok && x.Name == y.Name
	case Set:
		y, ok := b.(Set)
		return ok && TypesEqual(x.Elem, y.Elem)
	case Optional:
		y, ok := b.(Optional)
		return ok && TypesEqual(x.Inner, y.Inner)
	default:
		return false
	}
}

// AnnotationKind discriminates an Annotation.
type AnnotationKind int

const (
	AnnPrimary AnnotationKind = iota
	AnnUnique
	AnnIndex
	AnnPacked
	AnnRenameFrom
)

// Annotation is a validated field annotation. Arg is only set for
// AnnRenameFrom.
type Annotation struct {
	Kind AnnotationKind
	Arg  string
}

// AnnotationList is the ordered annotations of one field.
type AnnotationList []Annotation

func (l AnnotationList) has(kind AnnotationKind) bool {
	for _, a := range l {
		if a.Kind == kind {
			return true
		}
	}
	return false
}

func (l AnnotationList) IsPrimary() bool { return l.has(AnnPrimary) }
func (l AnnotationList) IsUnique() bool  { return l.has(AnnUnique) }
func (l AnnotationList) IsIndex() bool   { return l.has(AnnIndex) }
func (l AnnotationList) IsPacked() bool  { return l.has(AnnPacked) }

// RenameSources returns the old field names recorded by @rename_from
// annotations, in declaration order.
func (l AnnotationList) RenameSources() []string {
	var out []string
	for _, a := range l {
		if a.Kind == AnnRenameFrom {
			out = append(out, a.Arg)
		}
	}
	return out
}

// Field is one field of a specialised table.
type Field struct {
	Type        FieldType
	Annotations AnnotationList
}

// SpecializedType is a table type after generic specialisation. Its
// canonical Name includes the argument tuple, e.g. `Pair<int64, string>`.
type SpecializedType struct {
	Name   string
	Fields map[string]*Field
}

// FieldNames returns the field names in canonical (sorted) order. All
// deterministic traversals - planning, table reification - use this
// order.
func (t *SpecializedType) FieldNames() []string {
	names := make([]string, 0, len(t.Fields))
	for name := range t.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PrimaryKey returns the table's @primary field, if any.
func (t *SpecializedType) PrimaryKey() (string, *Field, bool) {
	for _, name := range t.FieldNames() {
		if t.Fields[name].Annotations.IsPrimary() {
			return name, t.Fields[name], true
		}
	}
	return "", nil, false
}

// Schema is the validated, immutable output of Compile.
type Schema struct {
	// Types maps canonical names to specialised table types.
	Types map[string]*SpecializedType

	// Exports maps export names to their types. ExportNames preserves
	// declaration order.
	Exports     map[string]FieldType
	ExportNames []string
}

// String renders the schema in a normalised surface form.
func (s *Schema) String() string {
	var b strings.Builder
	typeNames := make([]string, 0, len(s.Types))
	for name := range s.Types {
		typeNames = append(typeNames, name)
	}
	sort.Strings(typeNames)
	for _, name := range typeNames {
		ty := s.Types[name]
		b.WriteString("type " + name + " {\n")
		for _, fieldName := range ty.FieldNames() {
			field := ty.Fields[fieldName]
			b.WriteString("  ")
			for _, ann := range field.Annotations {
				switch ann.Kind {
				case AnnPrimary:
					b.WriteString("@primary ")
				case AnnUnique:
					b.WriteString("@unique ")
				case AnnIndex:
					b.WriteString("@index ")
				case AnnPacked:
					b.WriteString("@packed ")
				case AnnRenameFrom:
					b.WriteString("@rename_from(\"" + ann.Arg + "\") ")
				}
			}
			b.WriteString(fieldName + ": " + field.Type.String() + ",\n")
		}
		b.WriteString("}\n")
	}
	for _, name := range s.ExportNames {
		b.WriteString("export " + s.Exports[name].String() + " " + name + ";\n")
	}
	return b.String()
}
