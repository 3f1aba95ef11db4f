// Package datastore implements the opaque, in-memory configuration tree
// and the named-datastore registry described in spec §3/§4.1. The wire
// encoding of a tree and the schema language used to validate it are
// named external collaborators (non-goals); this package only knows how
// to hold, merge, and diff a generic node tree.
package datastore

import (
	"fmt"
	"sort"
	"strings"
)

// Op is the per-node edit operation, mirroring NETCONF's
// nc:operation attribute (RFC 6241 section 7.2).
type Op int

const (
	OpUnset Op = iota
	OpMerge
	OpReplace
	OpCreate
	OpDelete
	OpRemove
	OpNone
)

func (o Op) String() string {
	switch o {
	case OpMerge:
		return "merge"
	case OpReplace:
		return "replace"
	case OpCreate:
		return "create"
	case OpDelete:
		return "delete"
	case OpRemove:
		return "remove"
	case OpNone:
		return "none"
	default:
		return "unset"
	}
}

// ParseOp maps a wire default-operation string to an Op, defaulting to
// Merge per spec §4.2 ("edit-config ... optional default-operation
// (defaults to MERGE)").
func ParseOp(s string) Op {
	switch strings.ToLower(s) {
	case "", "merge":
		return OpMerge
	case "replace":
		return OpReplace
	case "create":
		return OpCreate
	case "delete":
		return OpDelete
	case "remove":
		return OpRemove
	case "none":
		return OpNone
	}
	return OpMerge
}

// Node is one element of a configuration tree. A leaf carries Value and
// no Children; a container/list carries Children and an empty Value.
type Node struct {
	Name     string
	Value    string
	IsLeaf   bool
	Op       Op // explicit per-node operation tag, OpUnset => inherit default
	Children []*Node
}

// NewContainer creates an empty container node.
func NewContainer(name string) *Node {
	return &Node{Name: name}
}

// NewLeaf creates a leaf node with a value.
func NewLeaf(name, value string) *Node {
	return &Node{Name: name, Value: value, IsLeaf: true}
}

// Child returns the named immediate child, or nil.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Clone deep-copies a node and its descendants.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	cp := &Node{Name: n.Name, Value: n.Value, IsLeaf: n.IsLeaf, Op: n.Op}
	for _, c := range n.Children {
		cp.Children = append(cp.Children, c.Clone())
	}
	return cp
}

// Descendant walks path from n and returns the node found there.
func (n *Node) Descendant(path []string) (*Node, bool) {
	cur := n
	for _, elem := range path {
		cur = cur.Child(elem)
		if cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// Put inserts or replaces a direct child (by name), preserving order.
func (n *Node) Put(child *Node) {
	for i, c := range n.Children {
		if c.Name == child.Name {
			n.Children[i] = child
			return
		}
	}
	n.Children = append(n.Children, child)
}

// Remove deletes a direct child by name; reports whether it was present.
func (n *Node) Remove(name string) bool {
	for i, c := range n.Children {
		if c.Name == name {
			n.Children = append(n.Children[:i], n.Children[i+1:]...)
			return true
		}
	}
	return false
}

// Equal compares two trees structurally (order-insensitive for
// containers, since wire order is not semantically significant for
// config equality per spec §8 round-trip property).
func Equal(a, b *Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Name != b.Name || a.IsLeaf != b.IsLeaf {
		return false
	}
	if a.IsLeaf {
		return a.Value == b.Value
	}
	if len(a.Children) != len(b.Children) {
		return false
	}
	am := childMap(a)
	bm := childMap(b)
	for name, an := range am {
		bn, ok := bm[name]
		if !ok || !Equal(an, bn) {
			return false
		}
	}
	return true
}

func childMap(n *Node) map[string]*Node {
	m := make(map[string]*Node, len(n.Children))
	for _, c := range n.Children {
		m[c.Name] = c
	}
	return m
}

// Apply merges src's children into dst per the NETCONF-style operation
// semantics of spec §4.1: MERGE recursively combines, REPLACE
// substitutes, CREATE fails if the target exists, DELETE fails if the
// target is absent, REMOVE is idempotent-delete, and NONE requires each
// child of src to carry its own operation tag.
func Apply(dst *Node, src *Node, defaultOp Op) error {
	if src == nil {
		return nil
	}
	for _, child := range src.Children {
		op := child.Op
		if op == OpUnset {
			op = defaultOp
		}
		if op == OpNone && child.Op == OpUnset {
			return fmt.Errorf("node %q has no operation tag under a none-operation container", child.Name)
		}
		existing := dst.Child(child.Name)
		switch op {
		case OpCreate:
			if existing != nil {
				return fmt.Errorf("node %q already exists", child.Name)
			}
			dst.Put(child.Clone())
		case OpDelete:
			if existing == nil {
				return fmt.Errorf("node %q does not exist", child.Name)
			}
			dst.Remove(child.Name)
		case OpRemove:
			dst.Remove(child.Name)
		case OpReplace:
			dst.Put(child.Clone())
		case OpNone:
			if existing == nil {
				// NONE with no existing target and no further action is a no-op
				// unless the child itself carries nested operations to apply
				// against an empty container.
				fresh := NewContainer(child.Name)
				if err := Apply(fresh, child, defaultOp); err != nil {
					return err
				}
				if len(fresh.Children) > 0 {
					dst.Put(fresh)
				}
			} else if err := Apply(existing, child, defaultOp); err != nil {
				return err
			}
		case OpMerge:
			fallthrough
		default:
			if child.IsLeaf {
				dst.Put(child.Clone())
				continue
			}
			if existing == nil || existing.IsLeaf {
				dst.Put(child.Clone())
				continue
			}
			if err := Apply(existing, child, defaultOp); err != nil {
				return err
			}
		}
	}
	return nil
}

// Diff reports the set of top-level-and-below paths added, deleted, or
// changed between an old and a new tree, used to build the transaction
// object's diff in spec §4.3 step 2.
func Diff(oldT, newT *Node) (added, deleted, changed [][]string) {
	var walk func(prefix []string, o, n *Node)
	walk = func(prefix []string, o, n *Node) {
		om := map[string]*Node{}
		if o != nil {
			om = childMap(o)
		}
		nm := map[string]*Node{}
		if n != nil {
			nm = childMap(n)
		}
		names := map[string]struct{}{}
		for k := range om {
			names[k] = struct{}{}
		}
		for k := range nm {
			names[k] = struct{}{}
		}
		sorted := make([]string, 0, len(names))
		for k := range names {
			sorted = append(sorted, k)
		}
		sort.Strings(sorted)
		for _, name := range sorted {
			op, inOld := om[name]
			np, inNew := nm[name]
			path := append(append([]string{}, prefix...), name)
			switch {
			case !inOld && inNew:
				added = append(added, path)
			case inOld && !inNew:
				deleted = append(deleted, path)
			case inOld && inNew:
				if !Equal(op, np) {
					changed = append(changed, path)
					if !op.IsLeaf && !np.IsLeaf {
						walk(path, op, np)
					}
				}
			}
		}
	}
	walk(nil, oldT, newT)
	return
}
