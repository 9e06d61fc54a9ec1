package export

import (
	"strings"
	"testing"
	"time"

	"marginalia/api/internal/cite"
	"marginalia/api/internal/doc"
)

func sampleTree() *doc.Node {
	return doc.Parse(`<h1>Tides</h1>` +
		`<p>The moon pulls the sea<sup data-type="citation" data-citation-id="c1"></sup> twice a day.</p>` +
		`<p><span data-annotation-id="ann_1" data-user-id="usr_2" data-is-author="false">Disputed claim</span>` +
		`<sup data-type="citation" data-citation-id="c2"></sup></p>`)
}

func TestRenderDisplayHTMLCitationsNumbered(t *testing.T) {
	tree := sampleTree()
	html := RenderDisplayHTML(tree, cite.Numbers(tree))

	if !strings.Contains(html, `<sup class="citation"><a href="#fn-1">[1]</a></sup>`) {
		t.Fatalf("first citation not numbered:\n%s", html)
	}
	if !strings.Contains(html, `<a href="#fn-2">[2]</a>`) {
		t.Fatalf("second citation not numbered:\n%s", html)
	}
	if !strings.Contains(html, `<span class="annotation" data-annotation-id="ann_1">Disputed claim</span>`) {
		t.Fatalf("annotation span missing:\n%s", html)
	}
}

func TestRenderDisplayHTMLUnregisteredCitationDropped(t *testing.T) {
	tree := sampleTree()
	// Numbering map missing c2: the reference renders as nothing.
	html := RenderDisplayHTML(tree, map[string]int{"c1": 1})
	if strings.Contains(html, "c2") || strings.Contains(html, "[2]") {
		t.Fatalf("unregistered citation leaked:\n%s", html)
	}
}

func TestRenderDisplayHTMLEscapesText(t *testing.T) {
	tree := doc.NewDoc(&doc.Node{Kind: doc.KindParagraph, Children: []*doc.Node{
		doc.NewText(`a < b & "c"`),
	}})
	html := RenderDisplayHTML(tree, nil)
	if !strings.Contains(html, "a &lt; b &amp;") {
		t.Fatalf("text not escaped:\n%s", html)
	}
}

func TestRenderDisplayHTMLLatex(t *testing.T) {
	tree := doc.Parse(`<div data-type="latexBlock" data-latex-id="lx_1" data-latex="E = mc^2"></div>`)
	html := RenderDisplayHTML(tree, nil)
	if !strings.Contains(html, `latex-display`) || !strings.Contains(html, `E = mc^2`) {
		t.Fatalf("latex block not rendered:\n%s", html)
	}
}

func TestRenderPage(t *testing.T) {
	published := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	page, err := RenderPage(TemplateData{
		Title:       "Tides",
		Subtitle:    "On lunar influence",
		Author:      "Ada",
		Version:     3,
		PublishedAt: &published,
		ContentHTML: "<p>Body</p>",
		Footnotes:   []TemplateFootnote{{Number: 1, Text: `J. Doe. "Sea Levels."`}},
		Comments: []TemplateComment{{
			Excerpt: "Disputed claim",
			Author:  "Grace",
			Body:    "Source?",
			Replies: []TemplateReply{{Author: "Ada", Body: "Added citation."}},
		}},
	})
	if err != nil {
		t.Fatalf("RenderPage: %v", err)
	}

	for _, want := range []string{
		"<title>Tides</title>",
		"Version 3",
		"Published May 4, 2026",
		`<li id="fn-1">`,
		"Disputed claim",
		"Added citation.",
	} {
		if !strings.Contains(page, want) {
			t.Fatalf("page missing %q:\n%s", want, page)
		}
	}
}

func TestRenderPageUnpublished(t *testing.T) {
	page, err := RenderPage(TemplateData{Title: "Draft only", Version: 1})
	if err != nil {
		t.Fatalf("RenderPage: %v", err)
	}
	if strings.Contains(page, "Published") {
		t.Fatalf("unpublished draft shows publish date:\n%s", page)
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"On the Motion of Tides": "On-the-Motion-of-Tides",
		"a/b\\c?":                "abc",
		"":                       "statement",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
