package plan

import (
	"strings"

	"github.com/refinedb/refinedb/pkg/rdberr"
	"github.com/refinedb/refinedb/pkg/schema"
)

// Generate plans newSchema against an existing plan. For a fresh
// deployment pass NewPlan() and a nil oldSchema.
//
// Every path present in both schemas reuses its old key (consulting
// @rename_from for renamed fields). Paths whose type changed are
// re-keyed: the old data stays on disk but is no longer addressed.
// Paths whose type is unchanged but whose storage structure must change
// (e.g. a table position becoming a recursive back-edge) fail with
// PlanMigrationConflict - re-keying them silently would strand data
// that the schema still claims to address.
func Generate(oldPlan *Plan, oldSchema *schema.Schema, newSchema *schema.Schema, ks KeySource) (*Plan, error) {
	if oldPlan == nil {
		oldPlan = NewPlan()
	}

	st := &planState{
		oldSchema:      oldSchema,
		usedKeys:       make(map[Key]struct{}),
		recursiveTypes: make(map[string]struct{}),
		setMemberTypes: make(map[string]struct{}),
		fieldsInStack:  make(map[string]Key),
		ks:             ks,
	}

	for _, name := range newSchema.ExportNames {
		if err := collectSpecialTypes(newSchema.Exports[name], newSchema,
			make(map[string]struct{}), st.recursiveTypes, st.setMemberTypes); err != nil {
			return nil, err
		}
	}

	// Deduplicate against keys used in the previous plan so a redrawn
	// key can never collide with live data.
	for _, node := range oldPlan.Nodes {
		collectKeys(node, st.usedKeys)
	}

	out := NewPlan()
	for _, exportName := range newSchema.ExportNames {
		exportTy := newSchema.Exports[exportName]
		var old *oldPoint
		if oldSchema != nil {
			if oldTy, ok := oldSchema.Exports[exportName]; ok {
				if oldNode, ok := oldPlan.Nodes[exportName]; ok {
					old = (&oldPoint{name: exportName, ty: oldTy, node: oldNode}).validateType(exportTy, nil)
				}
			}
		}
		node, err := st.generateField(newSchema, []string{exportName}, exportTy, nil, old)
		if err != nil {
			return nil, err
		}
		out.Nodes[exportName] = node
	}
	return out, nil
}

type planState struct {
	oldSchema      *schema.Schema
	usedKeys       map[Key]struct{}
	recursiveTypes map[string]struct{}
	setMemberTypes map[string]struct{}
	fieldsInStack  map[string]Key
	ks             KeySource
}

// oldPoint is a position in the old plan tree that matches the position
// currently being planned. A nil oldPoint means "new position, draw a
// fresh key".
type oldPoint struct {
	name        string
	ty          schema.FieldType
	annotations schema.AnnotationList
	node        *Node
}

// reduceOptional strips one optional layer from the old type, mirroring
// the planner's own push-down through optionals. An old mandatory field
// that became optional keeps matching.
func (o *oldPoint) reduceOptional() *oldPoint {
	if opt, ok := o.ty.(schema.Optional); ok {
		return &oldPoint{name: o.name, ty: opt.Inner, annotations: o.annotations, node: o.node}
	}
	return o
}

// reduceSet descends into the old set element sub-plan. Returns nil if
// the old field was not a set (previous value is not preserved).
func (o *oldPoint) reduceSet() *oldPoint {
	set, ok := o.ty.(schema.Set)
	if !ok || o.node.Set == nil {
		return nil
	}
	return &oldPoint{name: o.name, ty: set.Elem, node: o.node.Set}
}

// validateType keeps the old point only when its type still matches the
// new field (modulo mandatory-to-optional widening) and its packed-ness
// is unchanged. A dropped point re-keys the position: old data stays on
// disk but is no longer addressed.
func (o *oldPoint) validateType(expected schema.FieldType, expectedAnns schema.AnnotationList) *oldPoint {
	if o == nil {
		return nil
	}
	if !schema.TypesEqual(o.ty, expected) {
		widened := false
		if opt, ok := expected.(schema.Optional); ok {
			widened = schema.TypesEqual(o.ty, opt.Inner)
		}
		if !widened {
			return nil
		}
	}
	if o.annotations.IsPacked() != expectedAnns.IsPacked() {
		return nil
	}
	return o
}

// resolveSubfield finds the old point for a child field, trying each
// name in altnames (the current name plus any @rename_from sources).
func (o *oldPoint) resolveSubfield(st *planState, altnames []string) *oldPoint {
	if o == nil || st.oldSchema == nil {
		return nil
	}
	var childName string
	var childNode *Node
	for _, alt := range altnames {
		if n, ok := o.node.Children[alt]; ok {
			childName, childNode = alt, n
			break
		}
	}
	if childNode == nil {
		return nil
	}
	table, ok := o.ty.(schema.Table)
	if !ok {
		return nil
	}
	oldTy, ok := st.oldSchema.Types[table.Name]
	if !ok {
		return nil
	}
	oldField, ok := oldTy.Fields[childName]
	if !ok {
		return nil
	}
	return &oldPoint{
		name:        childName,
		ty:          oldField.Type,
		annotations: oldField.Annotations,
		node:        childNode,
	}
}

func (st *planState) reuseOrFreshKey(old *oldPoint) (Key, error) {
	if old != nil {
		st.usedKeys[old.node.Key] = struct{}{}
		return old.node.Key, nil
	}
	return st.freshKey()
}

func (st *planState) freshKey() (Key, error) {
	for {
		k, err := st.ks.NewKey()
		if err != nil {
			return Key{}, err
		}
		if _, used := st.usedKeys[k]; !used {
			st.usedKeys[k] = struct{}{}
			return k, nil
		}
	}
}

func migrationConflict(path []string, format string, args ...any) error {
	e := rdberr.New(rdberr.PlanMigrationConflict, format, args...)
	e.Message = "path `" + strings.Join(path, ".") + "`: " + e.Message
	return e
}

// generateField emits the plan node for one field position. The old
// point, when non-nil, has already been validated against the field's
// type.
func (st *planState) generateField(s *schema.Schema, path []string, field schema.FieldType, annotations schema.AnnotationList, old *oldPoint) (*Node, error) {
	switch ty := field.(type) {
	case schema.Optional:
		// Optionals have no storage footprint of their own. Push down.
		if old != nil {
			old = old.reduceOptional()
		}
		return st.generateField(s, path, ty.Inner, annotations, old)

	case schema.Primitive:
		key, err := st.reuseOrFreshKey(old)
		if err != nil {
			return nil, err
		}
		return &Node{Key: key}, nil

	case schema.Set:
		var oldElem *oldPoint
		if old != nil {
			oldElem = old.reduceSet().validateType(ty.Elem, nil)
		}
		elem, err := st.generateField(s, append(path, "<set_member>"), ty.Elem, nil, oldElem)
		if err != nil {
			return nil, err
		}
		key, err := st.reuseOrFreshKey(old)
		if err != nil {
			return nil, err
		}
		return &Node{Key: key, Set: elem}, nil

	case schema.Table:
		return st.generateTable(s, path, ty, annotations, old)

	default:
		return nil, rdberr.New(rdberr.TypeError, "unsupported field type `%s`", field)
	}
}

func (st *planState) generateTable(s *schema.Schema, path []string, ty schema.Table, annotations schema.AnnotationList, old *oldPoint) (*Node, error) {
	// Packed tables become a leaf node: a key and no children.
	if annotations.IsPacked() {
		key, err := st.reuseOrFreshKey(old)
		if err != nil {
			return nil, err
		}
		return &Node{Key: key, Packed: true}, nil
	}

	// A table already on the current path is a recursive back-edge:
	// reference the ancestor's subspace instead of unfolding further.
	if ancestorKey, onStack := st.fieldsInStack[ty.Name]; onStack {
		if old != nil && old.node.SubspaceReference == nil {
			return nil, migrationConflict(path,
				"field of type `%s` became a recursive back-edge; its stored subtree cannot be preserved", ty.Name)
		}
		key, err := st.reuseOrFreshKey(old)
		if err != nil {
			return nil, err
		}
		ref := ancestorKey
		return &Node{Key: key, SubspaceReference: &ref}, nil
	}
	if old != nil && old.node.SubspaceReference != nil {
		return nil, migrationConflict(path,
			"field of type `%s` is no longer a recursive back-edge; its referenced subspace cannot be split off", ty.Name)
	}

	spec, ok := s.Types[ty.Name]
	if !ok {
		return nil, rdberr.New(rdberr.TypeError, "missing type `%s`", ty.Name)
	}

	key, err := st.reuseOrFreshKey(old)
	if err != nil {
		return nil, err
	}

	_, isRecursive := st.recursiveTypes[ty.Name]
	if isRecursive {
		st.fieldsInStack[ty.Name] = key
		defer delete(st.fieldsInStack, ty.Name)
	}

	children := make(map[string]*Node, len(spec.Fields))
	for _, fieldName := range spec.FieldNames() {
		field := spec.Fields[fieldName]
		altnames := append([]string{fieldName}, field.Annotations.RenameSources()...)
		childOld := old.resolveSubfield(st, altnames).validateType(field.Type, field.Annotations)
		child, err := st.generateField(s, append(path, fieldName), field.Type, field.Annotations, childOld)
		if err != nil {
			return nil, err
		}
		children[fieldName] = child
	}

	// Tables flatten: the node keeps its key for identity, but the
	// children's keys apply directly at the parent's level. Flattening
	// is collision-safe because every child key is unique within the
	// plan and fixed-length.
	return &Node{Key: key, Flattened: true, Children: children}, nil
}

func collectKeys(n *Node, sink map[Key]struct{}) {
	sink[n.Key] = struct{}{}
	if n.Set != nil {
		collectKeys(n.Set, sink)
	}
	for _, child := range n.Children {
		collectKeys(child, sink)
	}
}

// collectSpecialTypes gathers the table types that are recursive
// (appear on their own unfolding path) or are set members, reachable
// from ty.
func collectSpecialTypes(ty schema.FieldType, s *schema.Schema, onPath map[string]struct{}, recursive, setMembers map[string]struct{}) error {
	switch x := ty.(type) {
	case schema.Optional:
		return collectSpecialTypes(x.Inner, s, onPath, recursive, setMembers)
	case schema.Set:
		if table, ok := x.Elem.(schema.Table); ok {
			setMembers[table.Name] = struct{}{}
		}
		return collectSpecialTypes(x.Elem, s, onPath, recursive, setMembers)
	case schema.Primitive:
		return nil
	case schema.Table:
		if _, seen := onPath[x.Name]; seen {
			recursive[x.Name] = struct{}{}
			return nil
		}
		spec, ok := s.Types[x.Name]
		if !ok {
			return rdberr.New(rdberr.TypeError, "missing type `%s`", x.Name)
		}
		onPath[x.Name] = struct{}{}
		for _, fieldName := range spec.FieldNames() {
			field := spec.Fields[fieldName]
			if field.Annotations.IsPacked() {
				continue
			}
			if err := collectSpecialTypes(field.Type, s, onPath, recursive, setMembers); err != nil {
				return err
			}
		}
		delete(onPath, x.Name)
		return nil
	default:
		return nil
	}
}
