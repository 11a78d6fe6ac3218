package plan

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"
)

// The wire form of a plan is a nested mapping from field name to node,
// JSON-encoded with base64 keys, then snappy-compressed for storage.
// The serialisation format is informational; the plan semantics are the
// contract.

type nodeWire struct {
	Key               string               `json:"key"`
	Flattened         bool                 `json:"flattened"`
	SubspaceReference string               `json:"subspace_reference,omitempty"`
	Packed            bool                 `json:"packed"`
	Set               *nodeWire            `json:"set,omitempty"`
	Children          map[string]*nodeWire `json:"children,omitempty"`
}

type planWire struct {
	Nodes map[string]*nodeWire `json:"nodes"`
}

func toWire(n *Node) *nodeWire {
	w := &nodeWire{
		Key:       base64.StdEncoding.EncodeToString(n.Key[:]),
		Flattened: n.Flattened,
		Packed:    n.Packed,
	}
	if n.SubspaceReference != nil {
		w.SubspaceReference = base64.StdEncoding.EncodeToString(n.SubspaceReference[:])
	}
	if n.Set != nil {
		w.Set = toWire(n.Set)
	}
	if len(n.Children) > 0 {
		w.Children = make(map[string]*nodeWire, len(n.Children))
		for name, child := range n.Children {
			w.Children[name] = toWire(child)
		}
	}
	return w
}

func decodeKey(s string) (Key, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Key{}, fmt.Errorf("malformed storage key %q: %w", s, err)
	}
	if len(raw) != KeyLen {
		return Key{}, fmt.Errorf("storage key must be %d bytes, got %d", KeyLen, len(raw))
	}
	var k Key
	copy(k[:], raw)
	return k, nil
}

func fromWire(w *nodeWire) (*Node, error) {
	key, err := decodeKey(w.Key)
	if err != nil {
		return nil, err
	}
	n := &Node{Key: key, Flattened: w.Flattened, Packed: w.Packed}
	if w.SubspaceReference != "" {
		ref, err := decodeKey(w.SubspaceReference)
		if err != nil {
			return nil, err
		}
		n.SubspaceReference = &ref
	}
	if w.Set != nil {
		n.Set, err = fromWire(w.Set)
		if err != nil {
			return nil, err
		}
	}
	if len(w.Children) > 0 {
		n.Children = make(map[string]*Node, len(w.Children))
		for name, child := range w.Children {
			n.Children[name], err = fromWire(child)
			if err != nil {
				return nil, err
			}
		}
	}
	return n, nil
}

// MarshalJSON renders the plan in its wire form.
func (p *Plan) MarshalJSON() ([]byte, error) {
	wire := planWire{Nodes: make(map[string]*nodeWire, len(p.Nodes))}
	for name, node := range p.Nodes {
		wire.Nodes[name] = toWire(node)
	}
	return json.Marshal(wire)
}

// UnmarshalJSON parses a plan from its wire form.
func (p *Plan) UnmarshalJSON(data []byte) error {
	var wire planWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("malformed plan: %w", err)
	}
	p.Nodes = make(map[string]*Node, len(wire.Nodes))
	for name, w := range wire.Nodes {
		node, err := fromWire(w)
		if err != nil {
			return err
		}
		p.Nodes[name] = node
	}
	return nil
}

// EncodeCompressed serialises the plan for storage: JSON wire form,
// snappy-compressed.
func (p *Plan) EncodeCompressed() ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize plan: %w", err)
	}
	return snappy.Encode(nil, raw), nil
}

// DecodeCompressed parses a plan produced by EncodeCompressed.
func DecodeCompressed(data []byte) (*Plan, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress plan: %w", err)
	}
	p := NewPlan()
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, err
	}
	return p, nil
}
