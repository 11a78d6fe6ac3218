package plan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refinedb/refinedb/pkg/rdberr"
	"github.com/refinedb/refinedb/pkg/schema"
)

func mustCompile(t *testing.T, src string) *schema.Schema {
	t.Helper()
	s, err := schema.CompileString(src)
	require.NoError(t, err)
	return s
}

func freshPlan(t *testing.T, src string) *Plan {
	t.Helper()
	p, err := Generate(nil, nil, mustCompile(t, src), &SequentialSource{})
	require.NoError(t, err)
	return p
}

const userSchema = `
type User {
	@primary id: string,
	karma: int64,
	profile: Profile,
}
type Profile {
	bio: string?,
	age: int64,
}
export set<User> users;
`

func TestGenerate_Determinism(t *testing.T) {
	a := freshPlan(t, userSchema)
	b := freshPlan(t, userSchema)
	assert.True(t, a.Equal(b), "planning with a fixed key source must be a pure function")
}

func TestGenerate_Shape(t *testing.T) {
	p := freshPlan(t, userSchema)

	users, ok := p.Nodes["users"]
	require.True(t, ok)
	assert.False(t, users.Flattened)
	require.NotNil(t, users.Set)

	// The set element table is flattened: membership keys interleave
	// the primary key, not the element's own component.
	elem := users.Set
	assert.True(t, elem.Flattened)
	require.Contains(t, elem.Children, "id")
	require.Contains(t, elem.Children, "karma")
	require.Contains(t, elem.Children, "profile")

	// Nested non-recursive tables flatten too; their leaves keep their
	// own keys.
	profile := elem.Children["profile"]
	assert.True(t, profile.Flattened)
	assert.False(t, profile.Children["age"].Flattened)
}

func TestGenerate_FlatteningSafety(t *testing.T) {
	// No two distinct leaf paths may share a final key sequence.
	p := freshPlan(t, userSchema)
	seen := make(map[string][]string)
	var walk func(prefix []byte, path []string, n *Node)
	walk = func(prefix []byte, path []string, n *Node) {
		key := prefix
		if !n.Flattened {
			key = append(append([]byte(nil), prefix...), n.Key[:]...)
		}
		if n.Set != nil {
			walk(key, append(path, "<set_member>"), n.Set)
			return
		}
		if len(n.Children) == 0 {
			prev, dup := seen[string(key)]
			assert.False(t, dup, "leaf paths %v and %v share key sequence", prev, path)
			seen[string(key)] = append([]string(nil), path...)
			return
		}
		for _, name := range n.ChildNames() {
			walk(key, append(path, name), n.Children[name])
		}
	}
	for _, name := range p.ExportNames() {
		walk(nil, []string{name}, p.Nodes[name])
	}
	assert.NotEmpty(t, seen)
}

func TestGenerate_RecursiveBackEdge(t *testing.T) {
	p := freshPlan(t, `
	type Tree {
		@primary id: string,
		left: Tree?,
		value: int64,
	}
	export Tree root;
	`)

	root := p.Nodes["root"]
	require.True(t, root.Flattened)
	left := root.Children["left"]
	require.NotNil(t, left.SubspaceReference, "recursive back-edge must reference the ancestor subspace")
	assert.Equal(t, root.Key, *left.SubspaceReference)
	assert.False(t, left.Flattened, "recursive nodes are never flattened")
	assert.Empty(t, left.Children)
}

func TestGenerate_MigrationPreservesKeys(t *testing.T) {
	oldSchema := mustCompile(t, userSchema)
	ks := &SequentialSource{}
	oldPlan, err := Generate(nil, nil, oldSchema, ks)
	require.NoError(t, err)

	newSchema := mustCompile(t, `
	type User {
		@primary id: string,
		karma: int64,
		profile: Profile,
		joined: int64?,
	}
	type Profile {
		bio: string?,
		age: int64,
	}
	export set<User> users;
	`)
	newPlan, err := Generate(oldPlan, oldSchema, newSchema, ks)
	require.NoError(t, err)

	oldElem := oldPlan.Nodes["users"].Set
	newElem := newPlan.Nodes["users"].Set
	assert.Equal(t, oldPlan.Nodes["users"].Key, newPlan.Nodes["users"].Key)
	for _, field := range []string{"id", "karma", "profile"} {
		assert.Equal(t, oldElem.Children[field].Key, newElem.Children[field].Key,
			"path users.<set_member>.%s must keep its key", field)
	}
	assert.Equal(t, oldElem.Children["profile"].Children["age"].Key,
		newElem.Children["profile"].Children["age"].Key)

	// The added field gets a fresh key, distinct from every old key.
	joined := newElem.Children["joined"]
	used := make(map[Key]struct{})
	oldPlan.Walk(func(path []string, n *Node) { used[n.Key] = struct{}{} })
	_, clash := used[joined.Key]
	assert.False(t, clash, "fresh keys must not collide with old keys")
}

func TestGenerate_TypeChangeRekeys(t *testing.T) {
	oldSchema := mustCompile(t, `type A { x: int64 } export A a;`)
	ks := &SequentialSource{}
	oldPlan, err := Generate(nil, nil, oldSchema, ks)
	require.NoError(t, err)

	newSchema := mustCompile(t, `type A { x: string } export A a;`)
	newPlan, err := Generate(oldPlan, oldSchema, newSchema, ks)
	require.NoError(t, err)

	assert.NotEqual(t, oldPlan.Nodes["a"].Children["x"].Key, newPlan.Nodes["a"].Children["x"].Key,
		"a type change must re-key the path, stranding old data")
}

func TestGenerate_MandatoryToOptionalKeepsKey(t *testing.T) {
	oldSchema := mustCompile(t, `type A { x: int64 } export A a;`)
	ks := &SequentialSource{}
	oldPlan, err := Generate(nil, nil, oldSchema, ks)
	require.NoError(t, err)

	newSchema := mustCompile(t, `type A { x: int64? } export A a;`)
	newPlan, err := Generate(oldPlan, oldSchema, newSchema, ks)
	require.NoError(t, err)

	assert.Equal(t, oldPlan.Nodes["a"].Children["x"].Key, newPlan.Nodes["a"].Children["x"].Key)
}

func TestGenerate_RenameFrom(t *testing.T) {
	oldSchema := mustCompile(t, `type A { x: int64 } export A a;`)
	ks := &SequentialSource{}
	oldPlan, err := Generate(nil, nil, oldSchema, ks)
	require.NoError(t, err)

	newSchema := mustCompile(t, `type A { @rename_from("x") y: int64 } export A a;`)
	newPlan, err := Generate(oldPlan, oldSchema, newSchema, ks)
	require.NoError(t, err)

	assert.Equal(t, oldPlan.Nodes["a"].Children["x"].Key, newPlan.Nodes["a"].Children["y"].Key,
		"@rename_from must carry the old key to the new name")
}

func TestGenerate_StructureConflict(t *testing.T) {
	// A stored plan whose structure disagrees with the position the new
	// schema assigns it (here: the plan records a recursive back-edge
	// where the schema wants a regular table) cannot be merged silently;
	// the migration must fail naming the path.
	oldSchema := mustCompile(t, `
	type A { b: B }
	type B { x: int64 }
	export A a;
	`)
	ks := &SequentialSource{}
	oldPlan, err := Generate(nil, nil, oldSchema, ks)
	require.NoError(t, err)

	ref := oldPlan.Nodes["a"].Key
	oldPlan.Nodes["a"].Children["b"] = &Node{
		Key:               oldPlan.Nodes["a"].Children["b"].Key,
		SubspaceReference: &ref,
	}

	_, err = Generate(oldPlan, oldSchema, oldSchema, ks)
	require.Error(t, err)
	assert.Equal(t, rdberr.PlanMigrationConflict, rdberr.KindOf(err))
	assert.True(t, strings.Contains(err.Error(), "a.b"),
		"conflict must name the offending path: %v", err)
}

func TestPlan_SerialisationRoundTrip(t *testing.T) {
	p := freshPlan(t, `
	type Tree {
		@primary id: string,
		left: Tree?,
		value: int64,
	}
	type Box { t: set<Tree> }
	export Box b;
	`)

	encoded, err := p.EncodeCompressed()
	require.NoError(t, err)
	back, err := DecodeCompressed(encoded)
	require.NoError(t, err)
	assert.True(t, p.Equal(back), "plan must survive serialisation:\n%s\nvs\n%s", p, back)
}

func TestUUIDSource_Unique(t *testing.T) {
	src := UUIDSource{}
	seen := make(map[Key]struct{})
	for i := 0; i < 1000; i++ {
		k, err := src.NewKey()
		require.NoError(t, err)
		_, dup := seen[k]
		require.False(t, dup, "duplicate key after %d draws", i)
		seen[k] = struct{}{}
	}
}
