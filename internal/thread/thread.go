// Package thread assembles the flat comment rows stored per annotation into
// the reply tree the client renders. Assembly is tolerant: rows that point
// at a parent that no longer exists, or that form a reference cycle, surface
// as roots instead of disappearing.
package thread

import (
	"marginalia/api/internal/store"
)

// Node is one comment with its direct replies.
type Node struct {
	Comment store.Comment
	Replies []*Node
}

// Build arranges comments into a tree. Siblings keep the relative order of
// the input rows; the store already lists them by creation time. A comment
// whose ParentID is empty, unknown, or part of a cycle becomes a root.
func Build(comments []store.Comment) []*Node {
	nodes := make(map[string]*Node, len(comments))
	for _, comment := range comments {
		nodes[comment.ID] = &Node{Comment: comment}
	}

	var roots []*Node
	for _, comment := range comments {
		node := nodes[comment.ID]
		parent, ok := nodes[comment.ParentID]
		if comment.ParentID == "" || !ok || comment.ParentID == comment.ID || inCycle(nodes, comment.ID) {
			roots = append(roots, node)
			continue
		}
		parent.Replies = append(parent.Replies, node)
	}
	return roots
}

// inCycle reports whether following ParentID links from id loops back to id
// itself. A comment merely descending from a cycle is not itself in one and
// still attaches to its parent; only the cycle members get promoted. Chains
// are short in practice; the walk is bounded by the node count regardless.
func inCycle(nodes map[string]*Node, id string) bool {
	seen := map[string]struct{}{}
	current := id
	for {
		if _, ok := seen[current]; ok {
			return current == id
		}
		seen[current] = struct{}{}
		node, ok := nodes[current]
		if !ok || node.Comment.ParentID == "" {
			return false
		}
		if _, ok := nodes[node.Comment.ParentID]; !ok {
			return false
		}
		current = node.Comment.ParentID
	}
}

// CanonicalRoot picks the earliest-created comment of the forest, the
// stable anchor for reply links regardless of how the tree is shaped.
func CanonicalRoot(roots []*Node) *Node {
	var earliest *Node
	var walk func(*Node)
	walk = func(node *Node) {
		if earliest == nil ||
			node.Comment.CreatedAt.Before(earliest.Comment.CreatedAt) ||
			(node.Comment.CreatedAt.Equal(earliest.Comment.CreatedAt) && node.Comment.ID < earliest.Comment.ID) {
			earliest = node
		}
		for _, reply := range node.Replies {
			walk(reply)
		}
	}
	for _, root := range roots {
		walk(root)
	}
	return earliest
}

// Count returns the total number of comments in the forest.
func Count(roots []*Node) int {
	total := 0
	for _, root := range roots {
		total += 1 + Count(root.Replies)
	}
	return total
}
