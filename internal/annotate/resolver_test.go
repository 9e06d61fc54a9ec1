package annotate

import (
	"errors"
	"strings"
	"testing"
	"time"

	"marginalia/api/internal/doc"
)

var testAnchor = Anchor{
	ID:        "ann_1",
	UserID:    "usr_7",
	IsAuthor:  true,
	CreatedAt: time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC),
}

func TestApplyMarksSelection(t *testing.T) {
	tree := doc.Parse(`<p>alpha beta gamma</p>`)

	marked, excerpt, err := Apply(tree, 6, 10, testAnchor)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if excerpt != "beta" {
		t.Fatalf("excerpt = %q, want %q", excerpt, "beta")
	}

	ranges := Locate(marked, "ann_1")
	if len(ranges) != 1 || ranges[0] != (Range{Start: 6, End: 10}) {
		t.Fatalf("Locate = %+v", ranges)
	}

	// The original tree is untouched: edits are pure.
	if got := Locate(tree, "ann_1"); len(got) != 0 {
		t.Fatalf("original tree mutated: %+v", got)
	}

	// The mark survives serialization with its identifying attributes.
	out := doc.Serialize(marked)
	for _, want := range []string{`data-annotation-id="ann_1"`, `data-user-id="usr_7"`, `data-is-author="true"`} {
		if !strings.Contains(out, want) {
			t.Errorf("serialized tree missing %q:\n%s", want, out)
		}
	}
	if got := doc.PlainText(marked); got != "alpha beta gamma" {
		t.Fatalf("plain text changed by annotation: %q", got)
	}
}

func TestApplyAcrossBlocks(t *testing.T) {
	tree := doc.Parse(`<p>one</p><p>two</p>`)
	// "e\ntw" spans the block boundary.
	marked, excerpt, err := Apply(tree, 2, 6, testAnchor)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if excerpt != "e\ntw" {
		t.Fatalf("excerpt = %q", excerpt)
	}
	ranges := Locate(marked, "ann_1")
	if len(ranges) != 2 {
		t.Fatalf("want two ranges split by the block separator, got %+v", ranges)
	}
}

func TestApplyOverlappingAnnotations(t *testing.T) {
	tree := doc.Parse(`<p>shared middle ground</p>`)

	first, _, err := Apply(tree, 0, 13, testAnchor)
	if err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	second, _, err := Apply(first, 7, 20, Anchor{ID: "ann_2", UserID: "usr_9", CreatedAt: testAnchor.CreatedAt})
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}

	if got := Locate(second, "ann_1"); len(got) != 1 || got[0] != (Range{0, 13}) {
		t.Fatalf("ann_1 ranges = %+v", got)
	}
	if got := Locate(second, "ann_2"); len(got) != 1 || got[0] != (Range{7, 20}) {
		t.Fatalf("ann_2 ranges = %+v", got)
	}
}

func TestApplyRejectsInvalidRanges(t *testing.T) {
	tree := doc.Parse(`<p>short</p>`)
	for _, tc := range [][2]int{{3, 3}, {4, 2}, {-1, 3}, {0, 99}} {
		if _, _, err := Apply(tree, tc[0], tc[1], testAnchor); !errors.Is(err, ErrInvalidRange) {
			t.Errorf("Apply(%d,%d) err = %v, want ErrInvalidRange", tc[0], tc[1], err)
		}
	}

	// A selection covering only an atomic node has no annotatable text.
	atomic := doc.Parse(`<p><sup data-type="citation" data-citation-id="c1"></sup></p>`)
	if _, _, err := Apply(atomic, 0, 1, testAnchor); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("atomic-only selection err = %v", err)
	}
}

func TestStripSweepsWholeTree(t *testing.T) {
	tree := doc.Parse(`<p>alpha beta</p><p>beta again</p>`)
	marked, _, err := Apply(tree, 0, 5, testAnchor)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	// Same id applied on a disjoint range, as content duplication would.
	marked, _, err = Apply(marked, 11, 15, testAnchor)
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if got := Locate(marked, "ann_1"); len(got) != 2 {
		t.Fatalf("setup: want two disjoint ranges, got %+v", got)
	}

	stripped, removed := Strip(marked, "ann_1")
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if got := Locate(stripped, "ann_1"); len(got) != 0 {
		t.Fatalf("marks remain after Strip: %+v", got)
	}
	if !strings.Contains(doc.PlainText(stripped), "alpha beta") {
		t.Fatal("Strip altered text content")
	}
}

func TestLocateAfterTextEdit(t *testing.T) {
	tree := doc.Parse(`<p>hello world</p>`)
	marked, _, err := Apply(tree, 6, 11, testAnchor)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// Simulate an edit inserting text before the annotation: the stored
	// offsets (6..11) go stale but the mark travels with the text.
	edited := doc.Parse(strings.Replace(doc.Serialize(marked), "hello", "hello there", 1))
	ranges := Locate(edited, "ann_1")
	if len(ranges) != 1 {
		t.Fatalf("ranges = %+v", ranges)
	}
	if got := doc.Excerpt(edited, ranges[0].Start, ranges[0].End); got != "world" {
		t.Fatalf("mark drifted to %q, want %q", got, "world")
	}
	if ranges[0].Start == 6 {
		t.Fatal("expected offsets to drift after the edit")
	}
}

func TestIsAuthorPartition(t *testing.T) {
	if !IsAuthor("usr_1", "usr_1") {
		t.Fatal("creator not recognized as author")
	}
	if IsAuthor("usr_2", "usr_1") || IsAuthor("", "") {
		t.Fatal("reader misclassified as author")
	}
}
