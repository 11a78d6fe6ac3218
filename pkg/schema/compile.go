package schema

import (
	"strings"

	"github.com/refinedb/refinedb/pkg/rdberr"
	"github.com/refinedb/refinedb/pkg/value"
)

var primitiveTypes = map[string]value.Kind{
	"int64":  value.KindInt64,
	"double": value.KindDouble,
	"string": value.KindString,
	"bytes":  value.KindBytes,
	"bool":   value.KindBool,
}

// Compile resolves, specialises, and validates a parsed schema source.
func Compile(src *Source) (*Schema, error) {
	ctx, err := newResolutionContext(src)
	if err != nil {
		return nil, err
	}

	out := &Schema{
		Types:   ctx.resolved,
		Exports: make(map[string]FieldType),
	}
	for _, ex := range src.Exports {
		if _, ok := out.Exports[ex.Name]; ok {
			return nil, rdberr.NewAt(rdberr.TypeError, ex.Loc, "duplicate export `%s`", ex.Name)
		}
		ty, err := ctx.resolveTypeExpr(nil, ex.Type)
		if err != nil {
			return nil, err
		}
		out.Exports[ex.Name] = ty
		out.ExportNames = append(out.ExportNames, ex.Name)
	}

	if err := checkPrimaryKeys(out); err != nil {
		return nil, err
	}
	if err := checkSetMembers(out); err != nil {
		return nil, err
	}
	if err := checkRecursion(out); err != nil {
		return nil, err
	}
	return out, nil
}

// CompileString parses and compiles a schema document in one step.
func CompileString(input string) (*Schema, error) {
	src, err := Parse(input)
	if err != nil {
		return nil, err
	}
	return Compile(src)
}

type resolutionContext struct {
	unresolved map[string]*TypeDef
	resolved   map[string]*SpecializedType
}

func newResolutionContext(src *Source) (*resolutionContext, error) {
	unresolved := make(map[string]*TypeDef, len(src.Types))
	for _, td := range src.Types {
		if _, ok := unresolved[td.Name]; ok {
			return nil, rdberr.NewAt(rdberr.TypeError, td.Loc, "duplicate type `%s`", td.Name)
		}
		unresolved[td.Name] = td
	}
	return &resolutionContext{
		unresolved: unresolved,
		resolved:   make(map[string]*SpecializedType),
	}, nil
}

// resolveTypeExpr resolves a type expression against the local context
// (the bindings of the enclosing definition's generic parameters).
// Specialisations are memoised by their canonical name, so each
// distinct instantiation produces exactly one type node.
func (ctx *resolutionContext) resolveTypeExpr(local map[string]FieldType, e *TypeExpr) (FieldType, error) {
	args := make([]FieldType, len(e.Args))
	for i, a := range e.Args {
		resolved, err := ctx.resolveTypeExpr(local, a)
		if err != nil {
			return nil, err
		}
		args[i] = resolved
	}

	if bound, ok := local[e.Name]; ok {
		if len(args) != 0 {
			return nil, rdberr.NewAt(rdberr.TypeError, e.Loc, "cannot specialize type parameter `%s`", e.Name)
		}
		return bound, nil
	}

	if kind, ok := primitiveTypes[e.Name]; ok {
		if len(args) != 0 {
			return nil, rdberr.NewAt(rdberr.TypeError, e.Loc, "cannot specialize primitive type `%s`", e.Name)
		}
		return Primitive{Kind: kind}, nil
	}

	if e.Name == "set" {
		if len(args) != 1 {
			return nil, rdberr.NewAt(rdberr.TypeError, e.Loc, "set takes exactly one type parameter")
		}
		if _, ok := args[0].(Table); !ok {
			return nil, rdberr.NewAt(rdberr.TypeError, e.Loc, "set element must be a table type, got `%s`", args[0])
		}
		return Set{Elem: args[0]}, nil
	}

	td, ok := ctx.unresolved[e.Name]
	if !ok {
		return nil, rdberr.NewAt(rdberr.TypeError, e.Loc, "missing type `%s`", e.Name)
	}
	if len(td.Generics) != len(args) {
		return nil, rdberr.NewAt(rdberr.TypeError, e.Loc,
			"expecting %d arguments on type `%s`, got %d", len(td.Generics), e.Name, len(args))
	}

	repr := canonicalName(e.Name, args)
	if _, ok := ctx.resolved[repr]; ok {
		return Table{Name: repr}, nil
	}

	// Insert a placeholder before resolving fields so recursive
	// references to this specialisation resolve to it.
	spec := &SpecializedType{Name: repr, Fields: make(map[string]*Field)}
	ctx.resolved[repr] = spec

	childLocal := make(map[string]FieldType, len(td.Generics))
	for i, g := range td.Generics {
		childLocal[g] = args[i]
	}

	for _, fd := range td.Fields {
		if _, ok := spec.Fields[fd.Name]; ok {
			return nil, rdberr.NewAt(rdberr.TypeError, fd.Loc, "duplicate field `%s` in type `%s`", fd.Name, td.Name)
		}
		fieldTy, err := ctx.resolveTypeExpr(childLocal, fd.Type)
		if err != nil {
			return nil, err
		}
		if fd.Optional {
			fieldTy = Optional{Inner: fieldTy}
		}
		annotations, err := resolveAnnotations(fd, repr)
		if err != nil {
			return nil, err
		}
		if err := checkFieldAnnotations(fd, fieldTy, annotations); err != nil {
			return nil, err
		}
		spec.Fields[fd.Name] = &Field{Type: fieldTy, Annotations: annotations}
	}

	primaryCount := 0
	for _, f := range spec.Fields {
		if f.Annotations.IsPrimary() {
			primaryCount++
		}
	}
	if primaryCount > 1 {
		return nil, rdberr.NewAt(rdberr.TypeError, td.Loc, "type `%s` has multiple primary keys", td.Name)
	}

	return Table{Name: repr}, nil
}

func canonicalName(name string, args []FieldType) string {
	if len(args) == 0 {
		return name
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	return name + "<" + strings.Join(parts, ", ") + ">"
}

func resolveAnnotations(fd *FieldDef, typeName string) (AnnotationList, error) {
	var out AnnotationList
	for _, ann := range fd.Annotations {
		switch {
		case ann.Name == "primary" && len(ann.Args) == 0:
			out = append(out, Annotation{Kind: AnnPrimary})
		case ann.Name == "unique" && len(ann.Args) == 0:
			out = append(out, Annotation{Kind: AnnUnique})
		case ann.Name == "index" && len(ann.Args) == 0:
			out = append(out, Annotation{Kind: AnnIndex})
		case ann.Name == "packed" && len(ann.Args) == 0:
			out = append(out, Annotation{Kind: AnnPacked})
		case ann.Name == "rename_from" && len(ann.Args) == 1:
			out = append(out, Annotation{Kind: AnnRenameFrom, Arg: ann.Args[0]})
		default:
			return nil, rdberr.NewAt(rdberr.TypeError, ann.Loc,
				"unknown annotation on field `%s` of type `%s`: `%s`", fd.Name, typeName, ann.Name)
		}
	}
	return out, nil
}

func checkFieldAnnotations(fd *FieldDef, ty FieldType, annotations AnnotationList) error {
	if annotations.IsPrimary() || annotations.IsUnique() || annotations.IsIndex() {
		if _, ok := Unwrap(ty).(Primitive); !ok && !annotations.IsPacked() {
			return rdberr.NewAt(rdberr.TypeError, fd.Loc,
				"field `%s`: indexes are only allowed on primitive or packed fields", fd.Name)
		}
	}
	if annotations.IsPrimary() {
		if _, ok := ty.(Optional); ok {
			return rdberr.NewAt(rdberr.TypeError, fd.Loc,
				"field `%s` is a primary key and cannot be optional", fd.Name)
		}
	}
	return nil
}

// checkPrimaryKeys verifies that every @primary field has a
// key-encodable primitive type (int64, string, bytes).
func checkPrimaryKeys(s *Schema) error {
	for _, ty := range s.Types {
		name, field, ok := ty.PrimaryKey()
		if !ok {
			continue
		}
		prim, isPrim := field.Type.(Primitive)
		if !isPrim || !prim.Kind.KeyEncodable() {
			return rdberr.New(rdberr.TypeError,
				"primary key field `%s` of type `%s` must be int64, string, or bytes, got `%s`",
				name, ty.Name, field.Type)
		}
	}
	return nil
}

// checkSetMembers verifies every set<T> position: T must be a table
// with a primary key.
func checkSetMembers(s *Schema) error {
	check := func(ft FieldType) error {
		var walk func(FieldType) error
		walk = func(t FieldType) error {
			switch x := t.(type) {
			case Optional:
				return walk(x.Inner)
			case Set:
				table := x.Elem.(Table)
				spec, ok := s.Types[table.Name]
				if !ok {
					return rdberr.New(rdberr.TypeError, "missing type `%s`", table.Name)
				}
				if _, _, ok := spec.PrimaryKey(); !ok {
					return rdberr.New(rdberr.TypeError,
						"set member type `%s` has no primary key", table.Name)
				}
				return walk(x.Elem)
			default:
				return nil
			}
		}
		return walk(ft)
	}
	for _, ty := range s.Types {
		for _, name := range ty.FieldNames() {
			if err := check(ty.Fields[name].Type); err != nil {
				return err
			}
		}
	}
	for _, name := range s.ExportNames {
		if err := check(s.Exports[name]); err != nil {
			return err
		}
	}
	return nil
}

// checkRecursion rejects cycles in the type dependency graph that are
// not broken by a set<> or optional edge. Such cycles would require an
// infinite unfolding of the storage tree.
func checkRecursion(s *Schema) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(s.Types))
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case gray:
			return rdberr.New(rdberr.RecursionError,
				"illegal recursion: cycle through `%s` is not broken by a set or optional (path: %s)",
				name, strings.Join(append(stack, name), " -> "))
		case black:
			return nil
		}
		color[name] = gray
		stack = append(stack, name)
		spec := s.Types[name]
		for _, fieldName := range spec.FieldNames() {
			// Only mandatory, direct table references force unfolding.
			if table, ok := spec.Fields[fieldName].Type.(Table); ok {
				if err := visit(table.Name); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
		return nil
	}

	for name := range s.Types {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}
