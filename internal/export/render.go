package export

import (
	"fmt"
	"html"
	"strings"

	"marginalia/api/internal/doc"
)

// RenderDisplayHTML renders a document tree as reader-facing HTML: citation
// nodes become numbered superscript references, latex nodes are rendered,
// and annotation marks become highlight spans. This is the display form, not
// the storage form; round-tripping goes through doc.Serialize.
func RenderDisplayHTML(root *doc.Node, numbers map[string]int) string {
	var b strings.Builder
	renderChildren(&b, root, numbers)
	return b.String()
}

func renderChildren(b *strings.Builder, n *doc.Node, numbers map[string]int) {
	for _, child := range n.Children {
		renderNode(b, child, numbers)
	}
}

func renderNode(b *strings.Builder, n *doc.Node, numbers map[string]int) {
	switch n.Kind {
	case doc.KindParagraph:
		b.WriteString("<p>")
		renderChildren(b, n, numbers)
		b.WriteString("</p>\n")
	case doc.KindHeading:
		level := headingLevel(n)
		fmt.Fprintf(b, "<h%d>", level)
		renderChildren(b, n, numbers)
		fmt.Fprintf(b, "</h%d>\n", level)
	case doc.KindBulletList:
		b.WriteString("<ul>\n")
		renderChildren(b, n, numbers)
		b.WriteString("</ul>\n")
	case doc.KindOrderedList:
		b.WriteString("<ol>\n")
		renderChildren(b, n, numbers)
		b.WriteString("</ol>\n")
	case doc.KindListItem:
		b.WriteString("<li>")
		renderChildren(b, n, numbers)
		b.WriteString("</li>\n")
	case doc.KindBlockquote:
		b.WriteString("<blockquote>\n")
		renderChildren(b, n, numbers)
		b.WriteString("</blockquote>\n")
	case doc.KindTable:
		b.WriteString("<table>\n")
		renderChildren(b, n, numbers)
		b.WriteString("</table>\n")
	case doc.KindTableRow:
		b.WriteString("<tr>")
		renderChildren(b, n, numbers)
		b.WriteString("</tr>\n")
	case doc.KindTableCell:
		b.WriteString("<td>")
		renderChildren(b, n, numbers)
		b.WriteString("</td>")
	case doc.KindHardBreak:
		b.WriteString("<br>")
	case doc.KindBlockImage:
		src := n.Attr("src")
		alt := n.Attr("alt")
		fmt.Fprintf(b, `<figure><img src="%s" alt="%s"></figure>`+"\n",
			html.EscapeString(src), html.EscapeString(alt))
	case doc.KindCitation:
		id := n.Attr(doc.AttrCitationID)
		if number, ok := numbers[id]; ok {
			fmt.Fprintf(b, `<sup class="citation"><a href="#fn-%d">[%d]</a></sup>`, number, number)
		}
		// Unregistered references render as nothing rather than a broken link.
	case doc.KindLatexBlock:
		b.WriteString(doc.RenderLatex(n.Attr(doc.AttrLatex), true))
		b.WriteString("\n")
	case doc.KindText:
		renderText(b, n)
	default:
		renderChildren(b, n, numbers)
	}
}

func renderText(b *strings.Builder, n *doc.Node) {
	// An inlineLatex mark replaces its carrier text with the rendered
	// formula.
	for _, mark := range n.Marks {
		if mark.Kind == doc.MarkInlineLatex {
			b.WriteString(doc.RenderLatex(mark.Attrs[doc.AttrLatex], false))
			return
		}
	}
	text := html.EscapeString(n.Text)
	for i := len(n.Marks) - 1; i >= 0; i-- {
		text = wrapDisplayMark(n.Marks[i], text)
	}
	b.WriteString(text)
}

func wrapDisplayMark(mark doc.Mark, inner string) string {
	switch mark.Kind {
	case doc.MarkBold:
		return "<strong>" + inner + "</strong>"
	case doc.MarkItalic:
		return "<em>" + inner + "</em>"
	case doc.MarkHighlight:
		return "<mark>" + inner + "</mark>"
	case doc.MarkLink:
		return fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(mark.Attrs["href"]), inner)
	case doc.MarkAnnotation:
		return fmt.Sprintf(`<span class="annotation" data-annotation-id="%s">%s</span>`,
			html.EscapeString(mark.Attrs[doc.AttrAnnotationID]), inner)
	default:
		return inner
	}
}

func headingLevel(n *doc.Node) int {
	switch n.Attr("level") {
	case "1":
		return 1
	case "3":
		return 3
	case "4":
		return 4
	case "5":
		return 5
	case "6":
		return 6
	default:
		return 2
	}
}
