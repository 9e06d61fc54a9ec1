package cite

import (
	"reflect"
	"strings"
	"testing"

	"marginalia/api/internal/doc"
	"marginalia/api/internal/store"
)

func citedDoc() *doc.Node {
	return doc.NewDoc(
		&doc.Node{Kind: doc.KindParagraph, Children: []*doc.Node{
			doc.NewText("first claim"),
			doc.NewCitation("c2"),
			doc.NewText(" then another"),
			doc.NewCitation("c1"),
		}},
		&doc.Node{Kind: doc.KindParagraph, Children: []*doc.Node{
			doc.NewText("closing"),
			doc.NewCitation("c3"),
			doc.NewText(" restated"),
			doc.NewCitation("c2"),
		}},
	)
}

func TestNumberFirstSeenOrder(t *testing.T) {
	root := citedDoc()

	order := Number(root)
	want := []string{"c2", "c1", "c3"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("Number() = %v, want %v", order, want)
	}

	numbers := Numbers(root)
	if numbers["c2"] != 1 || numbers["c1"] != 2 || numbers["c3"] != 3 {
		t.Fatalf("Numbers() = %v", numbers)
	}
}

func TestRemovedDiff(t *testing.T) {
	before := ReferencedIDs(citedDoc())
	after, removed := RemoveNodes(citedDoc(), "c2")
	if removed != 2 {
		t.Fatalf("RemoveNodes removed %d nodes, want 2", removed)
	}

	gone := Removed(before, ReferencedIDs(after))
	if !reflect.DeepEqual(gone, []string{"c2"}) {
		t.Fatalf("Removed() = %v, want [c2]", gone)
	}
	if got := Number(after); !reflect.DeepEqual(got, []string{"c1", "c3"}) {
		t.Fatalf("Number after removal = %v", got)
	}
}

func TestRemovedEmptyWhenStillReferenced(t *testing.T) {
	root := citedDoc()
	if gone := Removed(ReferencedIDs(root), ReferencedIDs(root)); len(gone) != 0 {
		t.Fatalf("Removed() = %v, want empty", gone)
	}
}

func TestInsertNodeAtCaret(t *testing.T) {
	root := doc.NewDoc(&doc.Node{Kind: doc.KindParagraph, Children: []*doc.Node{
		doc.NewText("alpha beta"),
	}})

	tree, err := InsertNode(root, 5, 5, "c9")
	if err != nil {
		t.Fatalf("InsertNode: %v", err)
	}
	if got := Number(tree); !reflect.DeepEqual(got, []string{"c9"}) {
		t.Fatalf("Number = %v", got)
	}
	want := "alpha" + string(doc.ObjectReplacement) + " beta"
	if got := doc.PlainText(tree); got != want {
		t.Fatalf("PlainText = %q, want %q", got, want)
	}
	// Source tree stays untouched.
	if got := doc.PlainText(root); got != "alpha beta" {
		t.Fatalf("original mutated: %q", got)
	}
}

func TestInsertNodeReplacesSelection(t *testing.T) {
	root := doc.NewDoc(&doc.Node{Kind: doc.KindParagraph, Children: []*doc.Node{
		doc.NewText("keep DROP keep"),
	}})

	tree, err := InsertNode(root, 5, 9, "c1")
	if err != nil {
		t.Fatalf("InsertNode: %v", err)
	}
	want := "keep " + string(doc.ObjectReplacement) + " keep"
	if got := doc.PlainText(tree); got != want {
		t.Fatalf("PlainText = %q, want %q", got, want)
	}
}

func TestInsertNodeInvalidSelection(t *testing.T) {
	root := doc.NewDoc(&doc.Node{Kind: doc.KindParagraph, Children: []*doc.Node{
		doc.NewText("short"),
	}})
	if _, err := InsertNode(root, 3, 99, "c1"); err == nil {
		t.Fatal("expected error for out-of-range selection")
	}
	if _, err := InsertNode(root, -1, 0, "c1"); err == nil {
		t.Fatal("expected error for negative start")
	}
}

func TestInsertNodeEmptyDocument(t *testing.T) {
	tree, err := InsertNode(doc.NewDoc(), 0, 0, "c1")
	if err != nil {
		t.Fatalf("InsertNode: %v", err)
	}
	if got := Number(tree); !reflect.DeepEqual(got, []string{"c1"}) {
		t.Fatalf("Number = %v", got)
	}
}

func TestFootnotesNumberingOrder(t *testing.T) {
	registry := []store.Citation{
		{ID: "c1", Title: "Alpha Paper", AuthorNames: "A. Author"},
		{ID: "c2", Title: "Beta Paper", AuthorNames: "B. Author"},
		{ID: "c3", Title: "Gamma Paper", AuthorNames: "C. Author"},
	}

	notes := Footnotes(citedDoc(), registry)
	if len(notes) != 3 {
		t.Fatalf("got %d footnotes, want 3", len(notes))
	}
	if notes[0].Citation.ID != "c2" || notes[0].Number != 1 {
		t.Fatalf("first footnote = %s #%d", notes[0].Citation.ID, notes[0].Number)
	}
	if notes[1].Citation.ID != "c1" || notes[2].Citation.ID != "c3" {
		t.Fatalf("footnote order = %s, %s", notes[1].Citation.ID, notes[2].Citation.ID)
	}
}

func TestFootnotesSkipsUnregistered(t *testing.T) {
	notes := Footnotes(citedDoc(), []store.Citation{{ID: "c1", Title: "Only One"}})
	if len(notes) != 1 || notes[0].Citation.ID != "c1" {
		t.Fatalf("notes = %+v", notes)
	}
	// Number reflects document position even when earlier entries are missing.
	if notes[0].Number != 2 {
		t.Fatalf("number = %d, want 2", notes[0].Number)
	}
}

func TestFormatFootnoteFull(t *testing.T) {
	text := FormatFootnote(store.Citation{
		AuthorNames:      "J. Doe and R. Roe",
		Title:            "On Marginal Notes",
		TitlePublication: "Journal of Reading",
		Volume:           "12",
		Issue:            "3",
		PageStart:        101,
		PageEnd:          115,
		Publisher:        "Academic Press",
		Year:             2023,
		Month:            4,
		Day:              9,
		URL:              "https://example.org/notes",
	})

	want := `J. Doe and R. Roe. "On Marginal Notes." Journal of Reading, vol. 12, no. 3, pp. 101–115. Academic Press. April 9, 2023. https://example.org/notes`
	if text != want {
		t.Fatalf("FormatFootnote = %q\nwant %q", text, want)
	}
}

func TestFormatFootnoteOmitsAbsentFields(t *testing.T) {
	cases := []struct {
		name     string
		citation store.Citation
		want     string
	}{
		{
			name:     "title and url only",
			citation: store.Citation{Title: "Untethered", URL: "https://example.org"},
			want:     `"Untethered." https://example.org`,
		},
		{
			name:     "year without month",
			citation: store.Citation{AuthorNames: "A. Author", Year: 1999},
			want:     "A. Author. 1999.",
		},
		{
			name:     "single page",
			citation: store.Citation{Title: "Brief", PageStart: 7},
			want:     `"Brief." p. 7.`,
		},
		{
			name:     "empty",
			citation: store.Citation{},
			want:     "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := FormatFootnote(tc.citation)
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
			if strings.Contains(got, "  ") {
				t.Fatalf("double space in %q", got)
			}
		})
	}
}
