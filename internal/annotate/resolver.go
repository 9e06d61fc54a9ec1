// Package annotate maintains the mapping between text selections and
// persisted annotations. All tree edits are pure: they take a tree and
// parameters and return a new tree, so the resolver stays host-editor
// agnostic and testable without a rendering surface.
package annotate

import (
	"errors"
	"fmt"
	"time"

	"marginalia/api/internal/doc"
)

// ErrInvalidRange reports a selection that cannot anchor an annotation.
var ErrInvalidRange = errors.New("invalid selection range")

// Anchor identifies one annotation mark instance.
type Anchor struct {
	ID        string
	UserID    string
	IsAuthor  bool
	CreatedAt time.Time
}

// Range is a half-open rune offset range in the plain-text projection.
type Range struct {
	Start int
	End   int
}

// Apply returns a new tree with the annotation mark applied across the rune
// range [start, end) of the plain-text projection, plus the selected excerpt.
// Overlapping annotations coexist: the mark is additive, each instance keyed
// by its annotation id. Atomic nodes inside the range are left untouched.
func Apply(root *doc.Node, start, end int, anchor Anchor) (*doc.Node, string, error) {
	length := doc.PlainTextLen(root)
	if start < 0 || end > length || start >= end {
		return nil, "", fmt.Errorf("%w: [%d,%d) in text of length %d", ErrInvalidRange, start, end, length)
	}

	tree := root.Clone()
	excerpt := doc.Excerpt(tree, start, end)
	mark := markFor(anchor)

	type edit struct {
		parent      *doc.Node
		index       int
		replacement []*doc.Node
	}
	var edits []edit
	covered := false

	doc.VisitLeaves(tree, func(leaf doc.Leaf) {
		if leaf.Node.Kind != doc.KindText {
			return
		}
		overlapStart := max(start, leaf.Start)
		overlapEnd := min(end, leaf.End)
		if overlapStart >= overlapEnd {
			return
		}
		covered = true
		if leaf.Node.HasMark(doc.MarkAnnotation, doc.AttrAnnotationID, anchor.ID) {
			return
		}

		runes := []rune(leaf.Node.Text)
		before := string(runes[:overlapStart-leaf.Start])
		middle := string(runes[overlapStart-leaf.Start : overlapEnd-leaf.Start])
		after := string(runes[overlapEnd-leaf.Start:])

		var replacement []*doc.Node
		if before != "" {
			replacement = append(replacement, doc.NewText(before, cloneMarks(leaf.Node.Marks)...))
		}
		replacement = append(replacement, doc.NewText(middle, append(cloneMarks(leaf.Node.Marks), mark.Clone())...))
		if after != "" {
			replacement = append(replacement, doc.NewText(after, cloneMarks(leaf.Node.Marks)...))
		}
		edits = append(edits, edit{parent: leaf.Parent, index: leaf.Index, replacement: replacement})
	})

	if !covered {
		return nil, "", fmt.Errorf("%w: selection contains no annotatable text", ErrInvalidRange)
	}

	// Apply per parent in reverse so earlier indices stay valid.
	for i := len(edits) - 1; i >= 0; i-- {
		e := edits[i]
		children := e.parent.Children
		e.parent.Children = append(children[:e.index:e.index], append(e.replacement, children[e.index+1:]...)...)
	}

	return tree, excerpt, nil
}

// Strip returns a new tree with every mark instance bearing the annotation
// id removed. The sweep covers the whole tree: an annotation's mark can
// appear in multiple disjoint ranges when content was duplicated, so no
// single-occurrence assumption is safe. The count of removed instances is
// returned for the caller's bookkeeping.
func Strip(root *doc.Node, annotationID string) (*doc.Node, int) {
	tree := root.Clone()
	removed := 0
	doc.Walk(tree, func(n *doc.Node) bool {
		if n.Kind != doc.KindText || len(n.Marks) == 0 {
			return true
		}
		kept := n.Marks[:0]
		for _, mark := range n.Marks {
			if mark.Kind == doc.MarkAnnotation && mark.Attrs[doc.AttrAnnotationID] == annotationID {
				removed++
				continue
			}
			kept = append(kept, mark)
		}
		if len(kept) == 0 {
			n.Marks = nil
		} else {
			n.Marks = kept
		}
		return true
	})
	return tree, removed
}

// Locate returns the current ranges carrying the annotation id. After edits
// the mark travels with the text, so these ranges, not the offsets stored at
// creation time, are authoritative for display. Adjacent marked leaves merge
// into one range; disjoint occurrences stay separate.
func Locate(root *doc.Node, annotationID string) []Range {
	var ranges []Range
	doc.VisitLeaves(root, func(leaf doc.Leaf) {
		if leaf.Node.Kind != doc.KindText {
			return
		}
		if !leaf.Node.HasMark(doc.MarkAnnotation, doc.AttrAnnotationID, annotationID) {
			return
		}
		if n := len(ranges); n > 0 && ranges[n-1].End == leaf.Start {
			ranges[n-1].End = leaf.End
			return
		}
		ranges = append(ranges, Range{Start: leaf.Start, End: leaf.End})
	})
	return ranges
}

// IsAuthor reports whether an annotation belongs to the statement's creator.
// Author vs reader is a pure predicate over creator ids, not a stored flag,
// so the partition stays correct if a statement changes hands.
func IsAuthor(annotationUserID, statementCreatorID string) bool {
	return annotationUserID != "" && annotationUserID == statementCreatorID
}

func markFor(anchor Anchor) doc.Mark {
	isAuthor := "false"
	if anchor.IsAuthor {
		isAuthor = "true"
	}
	return doc.Mark{Kind: doc.MarkAnnotation, Attrs: map[string]string{
		doc.AttrAnnotationID: anchor.ID,
		doc.AttrUserID:       anchor.UserID,
		doc.AttrIsAuthor:     isAuthor,
		doc.AttrCreatedAt:    anchor.CreatedAt.UTC().Format(time.RFC3339),
	}}
}

func cloneMarks(marks []doc.Mark) []doc.Mark {
	if len(marks) == 0 {
		return nil
	}
	copied := make([]doc.Mark, len(marks))
	for i, mark := range marks {
		copied[i] = mark.Clone()
	}
	return copied
}

