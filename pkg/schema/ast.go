// Package schema implements the schema surface of RefineDB: parsing
// type definitions and exports, resolving and specialising generics,
// validating annotations, and detecting illegal recursion.
//
// The output of Compile is an immutable *Schema that the storage
// planner and the TreeWalker VM consume.
package schema

import "github.com/refinedb/refinedb/pkg/rdberr"

// Source is the parse result of one schema document.
type Source struct {
	Types   []*TypeDef
	Exports []*ExportDef
}

// TypeDef is a `type Name<G1, ...> { fields }` declaration.
type TypeDef struct {
	Name     string
	Loc      rdberr.Location
	Generics []string
	Fields   []*FieldDef
}

// FieldDef is one field of a table definition.
type FieldDef struct {
	Name        string
	Loc         rdberr.Location
	Type        *TypeExpr
	Optional    bool
	Annotations []*AnnotationDef
}

// AnnotationDef is an `@name` or `@name("arg")` marker on a field.
type AnnotationDef struct {
	Name string
	Loc  rdberr.Location
	Args []string
}

// TypeExpr is a possibly-specialised type reference, e.g. `Item<int64>`.
type TypeExpr struct {
	Name string
	Loc  rdberr.Location
	Args []*TypeExpr
}

// ExportDef is an `export TypeExpr name;` declaration.
type ExportDef struct {
	Name string
	Loc  rdberr.Location
	Type *TypeExpr
}
