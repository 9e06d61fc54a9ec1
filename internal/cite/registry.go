// Package cite keeps inline citation references consistent with the
// citation registry: document-order numbering, reference diffing for
// registry cleanup, and pure tree edits for inserting and removing the
// atomic citation nodes that carry only an opaque id.
package cite

import (
	"errors"
	"fmt"
	"sort"

	"marginalia/api/internal/doc"
)

// ErrInvalidSelection reports an insertion point outside the document.
var ErrInvalidSelection = errors.New("invalid citation selection")

// Number walks the tree in document order and returns citation ids in first
// appearance order. The visible reference number of an id is its 1-based
// position here; repeat references to an already seen id reuse that number.
// Numbers are derived on demand, never stored.
func Number(root *doc.Node) []string {
	seen := make(map[string]struct{})
	var order []string
	doc.Walk(root, func(n *doc.Node) bool {
		if n.Kind != doc.KindCitation {
			return true
		}
		id := n.Attr(doc.AttrCitationID)
		if id == "" {
			return true
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			order = append(order, id)
		}
		return true
	})
	return order
}

// Numbers returns the id -> reference number mapping derived by Number.
func Numbers(root *doc.Node) map[string]int {
	numbers := make(map[string]int)
	for i, id := range Number(root) {
		numbers[id] = i + 1
	}
	return numbers
}

// ReferencedIDs returns the set of citation ids referenced anywhere in the
// tree, counting every occurrence site once per id.
func ReferencedIDs(root *doc.Node) map[string]struct{} {
	ids := make(map[string]struct{})
	doc.Walk(root, func(n *doc.Node) bool {
		if n.Kind == doc.KindCitation {
			if id := n.Attr(doc.AttrCitationID); id != "" {
				ids[id] = struct{}{}
			}
		}
		return true
	})
	return ids
}

// Removed diffs two reference sets: ids present before but absent after are
// candidates for registry cleanup. Sorted for deterministic processing.
func Removed(before, after map[string]struct{}) []string {
	var removed []string
	for id := range before {
		if _, ok := after[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

// InsertNode returns a new tree with an atomic citation node placed at the
// selection [start, end); a non-empty selection is replaced. The node holds
// only the citation id, never a denormalized copy of the metadata.
func InsertNode(root *doc.Node, start, end int, citationID string) (*doc.Node, error) {
	length := doc.PlainTextLen(root)
	if start < 0 || end < start || end > length {
		return nil, fmt.Errorf("%w: [%d,%d) in text of length %d", ErrInvalidSelection, start, end, length)
	}

	tree := root.Clone()
	if start < end {
		var err error
		tree, err = deleteRange(tree, start, end)
		if err != nil {
			return nil, err
		}
	}

	node := doc.NewCitation(citationID)
	if !insertInlineAt(tree, start, node) {
		// Empty document or offset past all text: append a paragraph.
		tree.Children = append(tree.Children, &doc.Node{
			Kind:     doc.KindParagraph,
			Children: []*doc.Node{node},
		})
	}
	return tree, nil
}

// RemoveNodes returns a new tree with every citation node referencing the id
// removed, and the count removed. Used when a registry entry is deleted
// while still referenced: the node is cascade-removed rather than left to
// render as a silent blank.
func RemoveNodes(root *doc.Node, citationID string) (*doc.Node, int) {
	tree := root.Clone()
	removed := 0
	doc.Walk(tree, func(n *doc.Node) bool {
		if len(n.Children) == 0 {
			return true
		}
		kept := n.Children[:0]
		for _, child := range n.Children {
			if child.Kind == doc.KindCitation && child.Attr(doc.AttrCitationID) == citationID {
				removed++
				continue
			}
			kept = append(kept, child)
		}
		n.Children = kept
		return true
	})
	return tree, removed
}

// deleteRange removes the rune range [start, end) from text leaves. Atomic
// nodes fully inside the range are removed; partially covered atomic nodes
// cannot exist since they occupy a single rune.
func deleteRange(tree *doc.Node, start, end int) (*doc.Node, error) {
	type edit struct {
		parent      *doc.Node
		index       int
		replacement []*doc.Node
	}
	var edits []edit

	doc.VisitLeaves(tree, func(leaf doc.Leaf) {
		overlapStart := leaf.Start
		if start > overlapStart {
			overlapStart = start
		}
		overlapEnd := leaf.End
		if end < overlapEnd {
			overlapEnd = end
		}
		if overlapStart >= overlapEnd {
			return
		}
		if leaf.Node.Kind != doc.KindText {
			edits = append(edits, edit{parent: leaf.Parent, index: leaf.Index})
			return
		}
		runes := []rune(leaf.Node.Text)
		remain := string(runes[:overlapStart-leaf.Start]) + string(runes[overlapEnd-leaf.Start:])
		var replacement []*doc.Node
		if remain != "" {
			replacement = []*doc.Node{doc.NewText(remain, leaf.Node.Marks...)}
		}
		edits = append(edits, edit{parent: leaf.Parent, index: leaf.Index, replacement: replacement})
	})

	for i := len(edits) - 1; i >= 0; i-- {
		e := edits[i]
		children := e.parent.Children
		e.parent.Children = append(children[:e.index:e.index], append(e.replacement, children[e.index+1:]...)...)
	}
	return tree, nil
}

// insertInlineAt places node at the plain-text offset, splitting a text leaf
// when the offset falls inside one. Returns false when no anchor leaf exists
// at or before the offset.
func insertInlineAt(tree *doc.Node, offset int, node *doc.Node) bool {
	type insertion struct {
		parent *doc.Node
		index  int
		nodes  []*doc.Node
	}
	var found *insertion

	doc.VisitLeaves(tree, func(leaf doc.Leaf) {
		if found != nil {
			return
		}
		switch {
		case leaf.Node.Kind == doc.KindText && offset > leaf.Start && offset < leaf.End:
			runes := []rune(leaf.Node.Text)
			cut := offset - leaf.Start
			found = &insertion{parent: leaf.Parent, index: leaf.Index, nodes: []*doc.Node{
				doc.NewText(string(runes[:cut]), leaf.Node.Marks...),
				node,
				doc.NewText(string(runes[cut:]), leaf.Node.Marks...),
			}}
		case offset == leaf.Start:
			found = &insertion{parent: leaf.Parent, index: leaf.Index, nodes: []*doc.Node{node, leaf.Node}}
		case offset == leaf.End:
			found = &insertion{parent: leaf.Parent, index: leaf.Index, nodes: []*doc.Node{leaf.Node, node}}
		}
	})

	if found == nil {
		return false
	}
	children := found.parent.Children
	found.parent.Children = append(children[:found.index:found.index], append(found.nodes, children[found.index+1:]...)...)
	return true
}
