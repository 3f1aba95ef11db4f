package datastore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyMergeRecurses(t *testing.T) {
	dst := NewContainer("config")
	dst.Put(&Node{Name: "system", Children: []*Node{NewLeaf("hostname", "a")}})

	src := NewContainer("config")
	src.Put(&Node{Name: "system", Children: []*Node{NewLeaf("domain", "example.com")}})

	require.NoError(t, Apply(dst, src, OpMerge))
	sys := dst.Child("system")
	assert.Equal(t, "a", sys.Child("hostname").Value, "hostname should survive merge")
	assert.Equal(t, "example.com", sys.Child("domain").Value, "domain should be merged in")
}

func TestApplyReplaceOverwritesSubtree(t *testing.T) {
	dst := NewContainer("config")
	dst.Put(&Node{Name: "system", Children: []*Node{NewLeaf("hostname", "a"), NewLeaf("domain", "old.com")}})

	src := NewContainer("config")
	src.Put(&Node{Name: "system", Op: OpReplace, Children: []*Node{NewLeaf("hostname", "b")}})

	require.NoError(t, Apply(dst, src, OpMerge))
	sys := dst.Child("system")
	assert.Equal(t, "b", sys.Child("hostname").Value, "hostname should be replaced")
	assert.Nil(t, sys.Child("domain"), "domain should be gone after replace")
}

func TestApplyCreateFailsIfExists(t *testing.T) {
	dst := NewContainer("config")
	dst.Put(NewLeaf("hostname", "a"))

	src := NewContainer("config")
	src.Put(&Node{Name: "hostname", Value: "b", IsLeaf: true, Op: OpCreate})

	assert.Error(t, Apply(dst, src, OpMerge), "creating an existing node should fail")
}

func TestApplyDeleteFailsIfAbsent(t *testing.T) {
	dst := NewContainer("config")
	src := NewContainer("config")
	src.Put(&Node{Name: "hostname", IsLeaf: true, Op: OpDelete})

	assert.Error(t, Apply(dst, src, OpMerge), "deleting an absent node should fail")
}

func TestApplyRemoveIsIdempotent(t *testing.T) {
	dst := NewContainer("config")
	src := NewContainer("config")
	src.Put(&Node{Name: "hostname", IsLeaf: true, Op: OpRemove})

	assert.NoError(t, Apply(dst, src, OpMerge), "remove of absent node should not error")
}

func TestApplyNoneRequiresPerChildTag(t *testing.T) {
	dst := NewContainer("config")
	src := NewContainer("config")
	src.Put(&Node{Name: "hostname", Value: "a", IsLeaf: true})

	assert.Error(t, Apply(dst, src, OpNone), "none-operation container with untagged child should fail")
}

func TestEqualIsOrderInsensitive(t *testing.T) {
	a := NewContainer("x")
	a.Put(NewLeaf("p", "1"))
	a.Put(NewLeaf("q", "2"))

	b := NewContainer("x")
	b.Put(NewLeaf("q", "2"))
	b.Put(NewLeaf("p", "1"))

	assert.True(t, Equal(a, b), "trees with swapped child order should compare equal")
}

func TestDiffReportsAddedDeletedChanged(t *testing.T) {
	old := NewContainer("config")
	old.Put(NewLeaf("keep", "1"))
	old.Put(NewLeaf("removed", "x"))
	old.Put(NewLeaf("changed", "before"))

	next := NewContainer("config")
	next.Put(NewLeaf("keep", "1"))
	next.Put(NewLeaf("changed", "after"))
	next.Put(NewLeaf("added", "y"))

	added, deleted, changed := Diff(old, next)
	require.Len(t, added, 1)
	assert.Equal(t, "added", added[0][0])
	require.Len(t, deleted, 1)
	assert.Equal(t, "removed", deleted[0][0])
	require.Len(t, changed, 1)
	assert.Equal(t, "changed", changed[0][0])
}
