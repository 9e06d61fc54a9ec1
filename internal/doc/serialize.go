package doc

import (
	"fmt"
	"html"
	"strconv"
	"strings"
)

// Serialize renders the document tree to its canonical HTML form. The
// round-trip Parse(Serialize(d)) is structurally idempotent: every node and
// mark id/attribute the application depends on survives verbatim.
func Serialize(root *Node) string {
	var b strings.Builder
	if root == nil {
		return ""
	}
	if root.Kind == KindDoc {
		for _, child := range root.Children {
			serializeNode(&b, child)
		}
		return b.String()
	}
	serializeNode(&b, root)
	return b.String()
}

func serializeNode(b *strings.Builder, n *Node) {
	switch n.Kind {
	case KindParagraph:
		b.WriteString("<p>")
		serializeInline(b, n.Children)
		b.WriteString("</p>")
	case KindHeading:
		level := headingLevel(n)
		fmt.Fprintf(b, "<h%d>", level)
		serializeInline(b, n.Children)
		fmt.Fprintf(b, "</h%d>", level)
	case KindBulletList:
		b.WriteString("<ul>")
		serializeChildren(b, n.Children)
		b.WriteString("</ul>")
	case KindOrderedList:
		b.WriteString("<ol>")
		serializeChildren(b, n.Children)
		b.WriteString("</ol>")
	case KindListItem:
		b.WriteString("<li>")
		serializeChildren(b, n.Children)
		b.WriteString("</li>")
	case KindBlockquote:
		b.WriteString("<blockquote>")
		serializeChildren(b, n.Children)
		b.WriteString("</blockquote>")
	case KindTable:
		b.WriteString("<table>")
		serializeChildren(b, n.Children)
		b.WriteString("</table>")
	case KindTableRow:
		b.WriteString("<tr>")
		serializeChildren(b, n.Children)
		b.WriteString("</tr>")
	case KindTableCell:
		b.WriteString("<td>")
		serializeChildren(b, n.Children)
		b.WriteString("</td>")
	case KindHardBreak:
		b.WriteString("<br>")
	case KindBlockImage:
		fmt.Fprintf(b, `<figure data-type="blockImage" %s=%s><img src=%s alt=%s></figure>`,
			AttrImageID, attrQuote(n.Attr(AttrImageID)), attrQuote(n.Attr("src")), attrQuote(n.Attr("alt")))
	case KindCitation:
		fmt.Fprintf(b, `<sup data-type="citation" %s=%s></sup>`, AttrCitationID, attrQuote(n.Attr(AttrCitationID)))
	case KindLatexBlock:
		fmt.Fprintf(b, `<div data-type="latexBlock" %s=%s %s=%s></div>`,
			AttrLatexID, attrQuote(n.Attr(AttrLatexID)), AttrLatex, attrQuote(n.Attr(AttrLatex)))
	case KindText:
		serializeText(b, n)
	default:
		serializeChildren(b, n.Children)
	}
}

func serializeChildren(b *strings.Builder, children []*Node) {
	for _, child := range children {
		serializeNode(b, child)
	}
}

func serializeInline(b *strings.Builder, children []*Node) {
	for _, child := range children {
		serializeNode(b, child)
	}
}

// serializeText wraps the escaped text in its marks, outermost first, in the
// order the marks are stored. Parsing rebuilds the same order, which keeps
// the round trip stable without a global mark ordering rule.
func serializeText(b *strings.Builder, n *Node) {
	inner := html.EscapeString(n.Text)
	for i := len(n.Marks) - 1; i >= 0; i-- {
		inner = wrapMark(n.Marks[i], inner)
	}
	b.WriteString(inner)
}

func wrapMark(mark Mark, inner string) string {
	switch mark.Kind {
	case MarkBold:
		return "<strong>" + inner + "</strong>"
	case MarkItalic:
		return "<em>" + inner + "</em>"
	case MarkLink:
		return fmt.Sprintf(`<a href=%s>%s</a>`, attrQuote(mark.Attrs["href"]), inner)
	case MarkHighlight:
		return "<mark>" + inner + "</mark>"
	case MarkInlineLatex:
		return fmt.Sprintf(`<span data-type="inlineLatex" %s=%s>%s</span>`, AttrLatex, attrQuote(mark.Attrs[AttrLatex]), inner)
	case MarkAnnotation:
		return fmt.Sprintf(`<span %s=%s %s=%s %s=%s %s=%s>%s</span>`,
			AttrAnnotationID, attrQuote(mark.Attrs[AttrAnnotationID]),
			AttrUserID, attrQuote(mark.Attrs[AttrUserID]),
			AttrIsAuthor, attrQuote(mark.Attrs[AttrIsAuthor]),
			AttrCreatedAt, attrQuote(mark.Attrs[AttrCreatedAt]),
			inner)
	default:
		return inner
	}
}

// attrQuote escapes a value for use inside a double-quoted HTML attribute.
func attrQuote(value string) string {
	return `"` + html.EscapeString(value) + `"`
}

func headingLevel(n *Node) int {
	level, err := strconv.Atoi(n.Attr("level"))
	if err != nil || level < 1 || level > 6 {
		return 2
	}
	return level
}
