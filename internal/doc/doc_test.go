package doc

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseSerializeRoundTrip(t *testing.T) {
	serialized := `<h1>Fair Use</h1>` +
		`<p>Rate limits protect <strong>everyone</strong>, see ` +
		`<sup data-type="citation" data-citation-id="cit_9f2"></sup> and ` +
		`<a href="https://example.org/terms">the terms</a>.</p>` +
		`<div data-type="latexBlock" data-latex-id="ltx_77" data-latex="E = mc^2"></div>` +
		`<figure data-type="blockImage" data-image-id="img_41"><img src="/h.png" alt="header"></figure>` +
		`<ul><li><p>first</p></li><li><p>second</p></li></ul>`

	tree := Parse(serialized)
	again := Parse(Serialize(tree))
	if !reflect.DeepEqual(tree, again) {
		t.Fatalf("round trip not idempotent:\nfirst:  %#v\nsecond: %#v", tree, again)
	}

	out := Serialize(tree)
	for _, want := range []string{
		`data-citation-id="cit_9f2"`,
		`data-latex-id="ltx_77"`,
		`data-latex="E = mc^2"`,
		`data-image-id="img_41"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("serialized output missing %q:\n%s", want, out)
		}
	}
}

func TestParseAnnotationMarkRoundTrip(t *testing.T) {
	serialized := `<p>plain <span data-annotation-id="ann_1" data-user-id="usr_7" ` +
		`data-is-author="true" data-created-at="2026-01-05T10:00:00Z">marked text</span> tail</p>`

	tree := Parse(serialized)
	var marked *Node
	Walk(tree, func(n *Node) bool {
		if n.Kind == KindText && n.HasMark(MarkAnnotation, AttrAnnotationID, "ann_1") {
			marked = n
		}
		return true
	})
	if marked == nil {
		t.Fatal("annotation mark not parsed")
	}
	if marked.Text != "marked text" {
		t.Fatalf("marked text = %q", marked.Text)
	}

	mark := marked.Marks[0]
	if mark.Attrs[AttrUserID] != "usr_7" || mark.Attrs[AttrIsAuthor] != "true" {
		t.Fatalf("mark attrs = %#v", mark.Attrs)
	}

	again := Parse(Serialize(tree))
	if !reflect.DeepEqual(tree, again) {
		t.Fatal("annotation mark did not survive the round trip")
	}
}

func TestParseOverlappingAnnotationMarks(t *testing.T) {
	serialized := `<p><span data-annotation-id="ann_a" data-user-id="u1" data-is-author="true" data-created-at="t">one ` +
		`<span data-annotation-id="ann_b" data-user-id="u2" data-is-author="false" data-created-at="t">two</span></span></p>`

	tree := Parse(serialized)
	var overlap *Node
	Walk(tree, func(n *Node) bool {
		if n.Kind == KindText && n.Text == "two" {
			overlap = n
		}
		return true
	})
	if overlap == nil {
		t.Fatal("nested span text not found")
	}
	if !overlap.HasMark(MarkAnnotation, AttrAnnotationID, "ann_a") ||
		!overlap.HasMark(MarkAnnotation, AttrAnnotationID, "ann_b") {
		t.Fatalf("overlapping marks not both present: %#v", overlap.Marks)
	}
}

func TestParseDegradesGracefully(t *testing.T) {
	cases := []struct {
		name       string
		serialized string
		wantText   string
	}{
		{"citation without id", `<p><sup data-type="citation">stray</sup></p>`, "stray"},
		{"latex block without id", `<div data-type="latexBlock">x+y</div>`, "x+y"},
		{"unknown element", `<p><widget>inner</widget></p>`, "inner"},
		{"bare inline at top level", `loose text`, "loose text"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tree := Parse(tc.serialized)
			if got := PlainText(tree); !strings.Contains(got, tc.wantText) {
				t.Fatalf("plain text = %q, want contains %q", got, tc.wantText)
			}
		})
	}
}

func TestHeadingLevelDefault(t *testing.T) {
	n := &Node{Kind: KindHeading, Attrs: map[string]string{"level": "nope"}}
	if got := headingLevel(n); got != 2 {
		t.Fatalf("malformed level = %d, want default 2", got)
	}
	if !strings.Contains(Serialize(NewDoc(n)), "<h2>") {
		t.Fatal("serialization did not apply the default level")
	}
}

func TestPlainTextProjection(t *testing.T) {
	serialized := `<p>alpha <sup data-type="citation" data-citation-id="c1"></sup> beta</p><p>gamma</p>`
	tree := Parse(serialized)
	want := "alpha \uFFFC beta\ngamma"
	if got := PlainText(tree); got != want {
		t.Fatalf("PlainText = %q, want %q", got, want)
	}
	if got := PlainTextLen(tree); got != len([]rune(want)) {
		t.Fatalf("PlainTextLen = %d, want %d", got, len([]rune(want)))
	}
	if got := Excerpt(tree, 0, 5); got != "alpha" {
		t.Fatalf("Excerpt = %q", got)
	}
}

func TestVisitLeavesOffsets(t *testing.T) {
	tree := Parse(`<p>ab</p><p>cd<sup data-type="citation" data-citation-id="c1"></sup></p>`)
	text := []rune(PlainText(tree))
	VisitLeaves(tree, func(leaf Leaf) {
		if leaf.Node.Kind == KindText {
			if got := string(text[leaf.Start:leaf.End]); got != leaf.Node.Text {
				t.Fatalf("leaf offsets [%d,%d) = %q, node text %q", leaf.Start, leaf.End, got, leaf.Node.Text)
			}
		}
	})
}

func TestRenderLatex(t *testing.T) {
	if got := RenderLatex(`\frac{a}{b}`, true); !strings.Contains(got, "latex-display") {
		t.Fatalf("display render = %q", got)
	}
	if got := RenderLatex("x^2", false); !strings.Contains(got, "latex-inline") {
		t.Fatalf("inline render = %q", got)
	}
	for _, bad := range []string{"", `\frac{a}{b`, `\begin{align}x\end{aligned}`, `\begin{cases}x`} {
		if got := RenderLatex(bad, false); !strings.Contains(got, "latex-error") {
			t.Errorf("RenderLatex(%q) = %q, want error marker", bad, got)
		}
	}
	// Escaped braces do not count toward balance.
	if got := RenderLatex(`\{a\}`, false); strings.Contains(got, "latex-error") {
		t.Fatalf("escaped braces flagged as unbalanced: %q", got)
	}
}
