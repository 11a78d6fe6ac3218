// Package pathwalker computes physical KV key paths from a storage
// plan during query execution.
//
// A Walker is an immutable cursor at one plan position; entering a
// field or a set member produces a child walker linked back to its
// parent. The physical key of a position is the concatenation of the
// key components of every non-flattened ancestor plus the position's
// own component; subspace references re-enter an ancestor's subspace
// under a fresh component, which is what keeps recursive types finite.
package pathwalker

import (
	"fmt"

	"github.com/refinedb/refinedb/pkg/plan"
	"github.com/refinedb/refinedb/pkg/value"
)

// MaxDepth bounds nesting; deeper paths indicate runaway recursion.
const MaxDepth = 64

// Subspace discriminators under a set node's key.
const (
	setDataSpace = 0x00 // data: [setKey] 0x00 [pk] 0x00 [leaf keys...]
	setScanSpace = 0x01 // fast scan: [setKey] 0x01 [pk]
)

// Walker is a position on a storage plan path.
type Walker struct {
	// node is the effective storage node, with subspace references
	// already resolved to their referent.
	node *plan.Node

	// key is this position's key component.
	key []byte

	parent *Walker
	depth  int

	// flatten marks components that contribute no bytes to descendant
	// paths. False for subspace-reference positions even when the
	// referent is flattened.
	flatten bool
}

// FromExport positions a walker at a plan's export root.
func FromExport(p *plan.Plan, exportName string) (*Walker, error) {
	node, ok := p.Nodes[exportName]
	if !ok {
		return nil, fmt.Errorf("export not found in plan: `%s`", exportName)
	}
	return &Walker{
		node:    node,
		key:     node.Key[:],
		depth:   1,
		flatten: node.Flattened,
	}, nil
}

// Node returns the effective plan node at this position.
func (w *Walker) Node() *plan.Node { return w.node }

// Key materialises the full physical key for this position: every
// non-flattened ancestor component, then this position's own component.
func (w *Walker) Key() []byte {
	var components [][]byte
	components = append(components, w.key)
	for p := w.parent; p != nil; p = p.parent {
		if !p.flatten {
			components = append(components, p.key)
		}
	}
	total := 0
	for _, c := range components {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for i := len(components) - 1; i >= 0; i-- {
		out = append(out, components[i]...)
	}
	return out
}

func (w *Walker) child(node *plan.Node, key []byte, flatten bool) (*Walker, error) {
	if w.depth >= MaxDepth {
		return nil, fmt.Errorf("path too deep (max %d)", MaxDepth)
	}
	return &Walker{node: node, key: key, parent: w, depth: w.depth + 1, flatten: flatten}, nil
}

// EnterField descends into a named field of a table position.
func (w *Walker) EnterField(fieldName string) (*Walker, error) {
	if w.node.Set != nil {
		return nil, fmt.Errorf("cannot enter field `%s` on a set position", fieldName)
	}
	node, ok := w.node.Children[fieldName]
	if !ok {
		return nil, fmt.Errorf("field not found in plan: `%s`", fieldName)
	}

	if node.SubspaceReference == nil {
		return w.child(node, node.Key[:], node.Flattened)
	}

	// Recursive back-edge: find the ancestor that owns the referenced
	// subspace and re-enter it under this field's own key component.
	for link := w; link != nil; link = link.parent {
		if link.node.Key == *node.SubspaceReference {
			return w.child(link.node, node.Key[:], false)
		}
	}
	return nil, fmt.Errorf("referenced subspace not found on path for field `%s`", fieldName)
}

// SetDataPrefix returns the data-space prefix of a set position.
func (w *Walker) SetDataPrefix() ([]byte, error) {
	if w.node.Set == nil {
		return nil, fmt.Errorf("not a set position")
	}
	return append(w.Key(), setDataSpace), nil
}

// SetScanPrefix returns the fast-scan prefix of a set position. Every
// member owns one presence entry [prefix][pk]; scans over this space
// yield members in ascending primary-key byte order.
func (w *Walker) SetScanPrefix() ([]byte, error) {
	if w.node.Set == nil {
		return nil, fmt.Errorf("not a set position")
	}
	return append(w.Key(), setScanSpace), nil
}

// EnterSetMember descends to the member of a set position with the
// given encoded primary key.
func (w *Walker) EnterSetMember(primaryKey []byte) (*Walker, error) {
	if w.node.Set == nil {
		return nil, fmt.Errorf("not a set position")
	}
	elem := w.node.Set

	dynamic := make([]byte, 0, len(primaryKey)+2)
	dynamic = append(dynamic, setDataSpace)
	dynamic = append(dynamic, primaryKey...)
	dynamic = append(dynamic, 0x00)

	// Two hops: the dynamic member component, then the element table's
	// own (flattened) component.
	intermediate, err := w.child(elem, dynamic, false)
	if err != nil {
		return nil, err
	}
	return intermediate.child(elem, elem.Key[:], true)
}

// EnterSetMemberValue is EnterSetMember for a primitive key value.
func (w *Walker) EnterSetMemberValue(pk value.Primitive) (*Walker, error) {
	raw, err := value.EncodeKeyComponent(nil, pk)
	if err != nil {
		return nil, err
	}
	return w.EnterSetMember(raw)
}
