package doc

import (
	"strings"
	"unicode/utf8"
)

// ObjectReplacement stands in for an atomic node in the plain-text
// projection, so atomic nodes occupy exactly one rune of offset space.
const ObjectReplacement = '￼'

// Leaf is one segment of the plain-text projection: a text run or an atomic
// node, with its half-open rune offset range [Start, End).
type Leaf struct {
	Node   *Node
	Parent *Node
	Index  int
	Start  int
	End    int
}

// PlainText returns the plain-text projection of the tree: text runs in
// document order, one newline between adjacent blocks, and one object
// replacement rune per atomic node. Annotation offsets are rune offsets
// into this projection.
func PlainText(root *Node) string {
	var b strings.Builder
	project(root, func(_ Leaf, text string) {
		b.WriteString(text)
	})
	return b.String()
}

// VisitLeaves walks the projection in document order, reporting every text
// and atomic leaf with offsets consistent with PlainText.
func VisitLeaves(root *Node, fn func(Leaf)) {
	project(root, func(leaf Leaf, _ string) {
		if leaf.Node != nil {
			fn(leaf)
		}
	})
}

// PlainTextLen returns the rune length of the projection.
func PlainTextLen(root *Node) int {
	length := 0
	project(root, func(_ Leaf, text string) {
		length += utf8.RuneCountInString(text)
	})
	return length
}

// Excerpt returns the projection slice for the rune range [start, end),
// clamped to the projection bounds.
func Excerpt(root *Node, start, end int) string {
	runes := []rune(PlainText(root))
	if start < 0 {
		start = 0
	}
	if end > len(runes) {
		end = len(runes)
	}
	if start >= end {
		return ""
	}
	return string(runes[start:end])
}

// project is the single source of truth for the projection. Every emitted
// chunk goes through fn; separator chunks carry a zero Leaf.
func project(root *Node, fn func(Leaf, string)) {
	if root == nil {
		return
	}
	w := &projector{fn: fn}
	w.walkChildren(root)
}

type projector struct {
	fn  func(Leaf, string)
	pos int
}

func (w *projector) walkChildren(n *Node) {
	for i, child := range n.Children {
		if i > 0 && (IsBlock(child.Kind) || IsBlock(n.Children[i-1].Kind)) {
			w.fn(Leaf{}, "\n")
			w.pos++
		}
		switch {
		case child.Kind == KindText:
			start := w.pos
			w.pos += utf8.RuneCountInString(child.Text)
			w.fn(Leaf{Node: child, Parent: n, Index: i, Start: start, End: w.pos}, child.Text)
		case IsAtomic(child.Kind):
			start := w.pos
			w.pos++
			w.fn(Leaf{Node: child, Parent: n, Index: i, Start: start, End: w.pos}, string(ObjectReplacement))
		case child.Kind == KindHardBreak:
			w.fn(Leaf{}, "\n")
			w.pos++
		default:
			w.walkChildren(child)
		}
	}
}
