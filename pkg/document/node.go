// Package document implements the nestable content tree that backs a live
// document. Each dynamic region of the rendered output is represented by its
// own Node; a node records content for every configured output format in
// strict append order, so rebuilding any format reproduces the exact
// interleaving of text and nested regions.
package document

import (
	"fmt"
	"sort"
	"time"
)

// Common output format identifiers.
const (
	FormatHTML     = "html"
	FormatMarkdown = "md"
	FormatText     = "txt"
	FormatConsole  = "console"
)

// AnchorFlag marks a node whose HTML rendering is wrapped in a container
// carrying the node's name as DOM id, so a browser can swap the subtree in
// place. Incremental pushes target the nearest anchored ancestor.
const AnchorFlag = "anchor"

// entry is one slot in a node's ordered content list. Exactly one of the two
// fields is set: either a per-format chunk map or a reference to a child
// node. Keeping a single ordered list (instead of one list per format)
// guarantees that text and nested regions keep their relative order across
// all formats without any cross-list synchronization.
type entry struct {
	chunks map[string][]byte
	child  *Node
}

// Node is a single element of the document tree.
//
// A node is created with a fixed set of output formats and appends raw
// chunks per format. Nested regions are added via AddSubElement and can be
// rebuilt individually while the rest of the tree stays untouched.
type Node struct {
	name    string
	parent  *Node
	formats map[string]struct{}

	entries  []entry
	children map[string]*Node

	lastDirectChange time.Time
	lastChildUpdate  time.Time
	directMods       int
	totalMods        int

	// Flags carries usage specific attachments such as the back-link from a
	// node to the widget or cell that owns it.
	Flags map[string]any
}

// Ref is a flattened reference to a node inside a tree, as produced by
// ListRecursive.
type Ref struct {
	// Name is the node's name relative to its parent.
	Name string
	// Path is the absolute dotted path starting at the tree root.
	Path string
	// Node is the referenced node.
	Node *Node
}

// NewNode creates a node supporting the given output formats. Sibling names
// should be unique; a repeated name shadows the earlier child in lookups
// while both keep their position in the ordered entry list.
func NewNode(name string, formats []string) *Node {
	now := time.Now()
	n := &Node{
		name:             name,
		formats:          make(map[string]struct{}, len(formats)),
		children:         make(map[string]*Node),
		lastDirectChange: now,
		lastChildUpdate:  now,
		Flags:            make(map[string]any),
	}
	for _, f := range formats {
		n.formats[f] = struct{}{}
	}
	return n
}

// Name returns the node's name, unique among its siblings.
func (n *Node) Name() string { return n.name }

// Parent returns the owning node, or nil for the tree root.
func (n *Node) Parent() *Node { return n.parent }

// Formats returns the node's declared output formats in sorted order.
func (n *Node) Formats() []string {
	out := make([]string, 0, len(n.formats))
	for f := range n.formats {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// HasFormat reports whether the node was configured for the given format.
func (n *Node) HasFormat(format string) bool {
	_, ok := n.formats[format]
	return ok
}

// LastDirectChange returns when this node's own content was last appended
// or cleared.
func (n *Node) LastDirectChange() time.Time { return n.lastDirectChange }

// LastChildUpdate returns when any descendant was last modified.
func (n *Node) LastChildUpdate() time.Time { return n.lastChildUpdate }

// LastUpdate returns the later of the direct and child update timestamps.
func (n *Node) LastUpdate() time.Time {
	if n.lastChildUpdate.After(n.lastDirectChange) {
		return n.lastChildUpdate
	}
	return n.lastDirectChange
}

// DirectModifications returns how often the node itself was changed.
func (n *Node) DirectModifications() int { return n.directMods }

// TotalModifications returns how often the node or any descendant changed.
func (n *Node) TotalModifications() int { return n.totalMods }

// AddData appends a raw chunk to the given format's stream of this node.
// Writing to a format the node was not configured for is a programming
// defect and returns an error; callers that want silent skipping filter
// against HasFormat first.
func (n *Node) AddData(format string, data []byte) error {
	if _, ok := n.formats[format]; !ok {
		return fmt.Errorf("node %q: format %q not configured", n.name, format)
	}
	now := time.Now()
	n.lastDirectChange = now
	n.directMods++
	n.totalMods++

	cur := n.tailChunks()
	cur[format] = append(cur[format], data...)

	if n.parent != nil {
		n.parent.childChanged(now)
	}
	return nil
}

// tailChunks returns the chunk map at the end of the entry list, appending a
// fresh one when the list is empty or ends in a child reference.
func (n *Node) tailChunks() map[string][]byte {
	if len(n.entries) > 0 {
		if last := &n.entries[len(n.entries)-1]; last.child == nil {
			return last.chunks
		}
	}
	n.entries = append(n.entries, entry{chunks: make(map[string][]byte)})
	return n.entries[len(n.entries)-1].chunks
}

// AddSubElement creates a named child node and splices a reference to it
// into every configured format at the current append position, so relative
// ordering stays consistent across formats. The returned child accepts
// writes of its own.
func (n *Node) AddSubElement(name string) *Node {
	child := NewNode(name, n.Formats())
	child.parent = n

	now := time.Now()
	n.lastDirectChange = now
	n.lastChildUpdate = now
	n.directMods++
	n.totalMods++
	if n.parent != nil {
		n.parent.childChanged(now)
	}

	n.entries = append(n.entries, entry{child: child})
	n.children[name] = child
	return child
}

// childChanged propagates a descendant modification up the parent chain.
func (n *Node) childChanged(at time.Time) {
	n.lastChildUpdate = at
	n.totalMods++
	if n.parent != nil {
		n.parent.childChanged(at)
	}
}

// Build concatenates the node's content for the given format, resolving
// child references recursively. It has no side effects and may be called
// repeatedly; an unconfigured format yields an empty result.
func (n *Node) Build(format string) []byte {
	var out []byte
	for i := range n.entries {
		e := &n.entries[i]
		if e.child != nil {
			out = append(out, e.child.Build(format)...)
			continue
		}
		out = append(out, e.chunks[format]...)
	}
	return out
}

// Clear empties all format streams and detaches the children while keeping
// the node's identity intact. A reference held to a former child keeps
// building the child's old content; the child is only unlinked from the
// tree, it is not emptied.
func (n *Node) Clear() {
	now := time.Now()
	n.lastDirectChange = now
	n.lastChildUpdate = now
	n.directMods++
	n.totalMods++
	n.entries = nil
	for name, child := range n.children {
		child.parent = nil
		delete(n.children, name)
	}
	n.Flags = make(map[string]any)
	if n.parent != nil {
		n.parent.childChanged(now)
	}
}

// Clone produces a deep copy of the subtree sharing no mutable state with
// the original. The copy is attached to the given parent, which may be nil
// for a standalone snapshot.
func (n *Node) Clone(parent *Node) *Node {
	cp := NewNode(n.name, n.Formats())
	cp.parent = parent
	cp.lastDirectChange = n.lastDirectChange
	cp.lastChildUpdate = n.lastChildUpdate
	cp.directMods = n.directMods
	cp.totalMods = n.totalMods
	for k, v := range n.Flags {
		cp.Flags[k] = v
	}
	cp.entries = make([]entry, 0, len(n.entries))
	for i := range n.entries {
		e := &n.entries[i]
		if e.child != nil {
			childCopy := e.child.Clone(cp)
			cp.children[childCopy.name] = childCopy
			cp.entries = append(cp.entries, entry{child: childCopy})
			continue
		}
		chunks := make(map[string][]byte, len(e.chunks))
		for f, data := range e.chunks {
			chunks[f] = append([]byte(nil), data...)
		}
		cp.entries = append(cp.entries, entry{chunks: chunks})
	}
	return cp
}

// Contains reports whether a direct child with the given name exists.
func (n *Node) Contains(name string) bool {
	_, ok := n.children[name]
	return ok
}

// Child returns the direct child with the given name, or nil.
func (n *Node) Child(name string) *Node {
	return n.children[name]
}

// ListRecursive flattens the subtree into hierarchical order: the node
// itself first, then each child subtree in creation order. The dotted Path
// of each reference starts at this node's name.
func (n *Node) ListRecursive() []Ref {
	var out []Ref
	n.listRecursive("", &out)
	return out
}

func (n *Node) listRecursive(prefix string, out *[]Ref) {
	path := prefix + n.name
	*out = append(*out, Ref{Name: n.name, Path: path, Node: n})
	for i := range n.entries {
		if child := n.entries[i].child; child != nil {
			child.listRecursive(path+".", out)
		}
	}
}
