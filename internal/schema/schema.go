// Package schema implements a reduced, hand-rolled schema registry: just
// enough structure (containers, lists, leafs, leaf-lists, a config/state
// flag, and a "secret" flag) to validate edit-config payloads and to
// tell the RPC dispatcher which nodes are state-only. The schema
// language itself — its grammar, compiler, and revision handling — is a
// named external collaborator (non-goal); this package exposes a
// pluggable Loader interface for it instead of parsing anything.
package schema

import (
	"fmt"
	"strings"

	"github.com/opencfgd/confd/internal/datastore"
	"github.com/opencfgd/confd/internal/mgmterror"
)

// Kind is the node kind within a schema tree.
type Kind int

const (
	KindContainer Kind = iota
	KindList
	KindLeaf
	KindLeafList
)

// Node describes one schema element.
type Node struct {
	Name     string
	Kind     Kind
	Key      string // list key leaf name, only meaningful for KindList
	State    bool   // config false
	Secret   bool   // value should be redacted from non-privileged reads
	Children map[string]*Node
}

func newNode(name string, kind Kind) *Node {
	return &Node{Name: name, Kind: kind, Children: map[string]*Node{}}
}

// Schema is a compiled, in-memory description of the configuration
// tree's shape, rooted at an implicit top-level container.
type Schema struct {
	root *Node
}

// Builder assembles a Schema declaratively. It stands in for the real
// schema compiler named as a non-goal collaborator.
type Builder struct {
	root *Node
}

// NewBuilder starts a schema with an empty root container.
func NewBuilder() *Builder {
	return &Builder{root: newNode("", KindContainer)}
}

// Container declares a (possibly nested) container path, returning a
// handle to attach further children to.
func (b *Builder) Container(path ...string) *NodeBuilder {
	return &NodeBuilder{s: b, n: b.descend(path, KindContainer)}
}

// List declares a list node keyed by key.
func (b *Builder) List(key string, path ...string) *NodeBuilder {
	n := b.descend(path, KindList)
	n.Key = key
	return &NodeBuilder{s: b, n: n}
}

// Leaf declares a config leaf.
func (b *Builder) Leaf(path ...string) *NodeBuilder {
	return &NodeBuilder{s: b, n: b.descend(path, KindLeaf)}
}

// StateLeaf declares a state-only (config false) leaf.
func (b *Builder) StateLeaf(path ...string) *NodeBuilder {
	n := b.descend(path, KindLeaf)
	n.State = true
	return &NodeBuilder{s: b, n: n}
}

func (b *Builder) descend(path []string, leafKind Kind) *Node {
	cur := b.root
	for i, elem := range path {
		kind := KindContainer
		if i == len(path)-1 {
			kind = leafKind
		}
		next, ok := cur.Children[elem]
		if !ok {
			next = newNode(elem, kind)
			cur.Children[elem] = next
		}
		cur = next
	}
	return cur
}

// NodeBuilder is a fluent handle onto one schema node.
type NodeBuilder struct {
	s *Builder
	n *Node
}

// Secret flags the node's value as sensitive (redact unless the reader
// is privileged), mirroring the teacher's "secrets group" concept.
func (nb *NodeBuilder) Secret() *NodeBuilder {
	nb.n.Secret = true
	return nb
}

// State flags the node (and implicitly everything under it) as
// config-false.
func (nb *NodeBuilder) State() *NodeBuilder {
	nb.n.State = true
	return nb
}

// Build finalizes the schema.
func (b *Builder) Build() *Schema {
	return &Schema{root: b.root}
}

// Lookup resolves path against the schema, returning the node
// describing it, or false if no such path is declared.
func (s *Schema) Lookup(path []string) (*Node, bool) {
	cur := s.root
	for _, elem := range path {
		next, ok := cur.Children[elem]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// IsStateOnly reports whether path (or an ancestor of it) is marked
// config-false.
func (s *Schema) IsStateOnly(path []string) bool {
	cur := s.root
	for _, elem := range path {
		next, ok := cur.Children[elem]
		if !ok {
			return false
		}
		if next.State {
			return true
		}
		cur = next
	}
	return false
}

// Validate walks payload against the schema starting at path, failing
// closed on any element the schema doesn't declare and on any element
// that is schema-marked as state-only — the edit-config rejection rule
// of spec §4.2 ("reject if any node in the payload is schema-marked as
// state-only"). A schema with no declared nodes at all accepts any
// payload.
func (s *Schema) Validate(path []string, payload *datastore.Node) error {
	if len(s.root.Children) == 0 {
		return nil
	}
	base, ok := s.Lookup(path)
	if !ok && len(path) > 0 {
		return mgmterror.NewUnknownElementApplicationError(strings.Join(path, "/"))
	}
	if base == nil {
		base = s.root
	}
	return validateChildren(path, base, payload)
}

func validateChildren(prefix []string, schemaNode *Node, dataNode *datastore.Node) error {
	if dataNode == nil {
		return nil
	}
	for _, child := range dataNode.Children {
		sn, ok := schemaNode.Children[child.Name]
		if !ok {
			return mgmterror.NewUnknownElementApplicationError(
				strings.Join(append(append([]string{}, prefix...), child.Name), "/"))
		}
		if sn.State {
			err := mgmterror.NewInvalidValueProtocolError()
			err.Message = fmt.Sprintf("State data not allowed: %s", strings.Join(
				append(append([]string{}, prefix...), child.Name), "/"))
			return err
		}
		if !child.IsLeaf {
			if err := validateChildren(append(append([]string{}, prefix...), child.Name), sn, child); err != nil {
				return err
			}
		}
	}
	return nil
}

// Loader is the pluggable collaborator a real schema compiler would
// satisfy; this repository ships only the Builder above, which callers
// use directly where a Loader would otherwise be wired in.
type Loader interface {
	Load() (*Schema, error)
}
