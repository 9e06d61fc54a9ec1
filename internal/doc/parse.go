package doc

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Parse converts a serialized HTML string into a document tree. Parsing never
// fails for the document as a whole: unrecognized markup degrades to plain
// text or transparent structure, and malformed attribute values fall back to
// the schema defaults. The worst case for any one node is degradation to
// plain text.
func Parse(serialized string) *Node {
	body := &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	}
	fragments, err := html.ParseFragment(strings.NewReader(serialized), body)
	if err != nil {
		// ParseFragment only errors on reader failure; a string reader
		// cannot fail, but degrade to an empty document regardless.
		return NewDoc()
	}

	parser := &treeParser{}
	children := parser.parseBlocks(fragments, nil)
	return NewDoc(children...)
}

type treeParser struct{}

// parseBlocks parses a block container context. Inline content encountered
// directly at block level is gathered into an implicit paragraph.
func (p *treeParser) parseBlocks(nodes []*html.Node, marks []Mark) []*Node {
	var blocks []*Node
	var inline []*Node

	flush := func() {
		if len(inline) == 0 {
			return
		}
		blocks = append(blocks, &Node{Kind: KindParagraph, Children: inline})
		inline = nil
	}

	for _, node := range nodes {
		switch node.Type {
		case html.TextNode:
			p.appendText(&inline, node.Data, marks)
		case html.ElementNode:
			if parsed, ok := p.parseBlockElement(node, marks); ok {
				flush()
				blocks = append(blocks, parsed...)
				continue
			}
			p.parseInline(node, marks, &inline)
		}
	}
	flush()
	return blocks
}

// parseBlockElement handles one block-level element, returning the block
// nodes it contributes. The second return is false when the element is
// inline-level and must be handled by the caller's inline accumulator.
// Unrecognized block containers are transparent: their blocks splice into
// the parent sequence.
func (p *treeParser) parseBlockElement(node *html.Node, marks []Mark) ([]*Node, bool) {
	switch node.DataAtom {
	case atom.P:
		return []*Node{{Kind: KindParagraph, Children: p.parseInlineChildren(node, marks)}}, true
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		level := strings.TrimPrefix(node.Data, "h")
		return []*Node{{
			Kind:     KindHeading,
			Attrs:    map[string]string{"level": level},
			Children: p.parseInlineChildren(node, marks),
		}}, true
	case atom.Ul:
		return []*Node{{Kind: KindBulletList, Children: p.parseListItems(node, marks)}}, true
	case atom.Ol:
		return []*Node{{Kind: KindOrderedList, Children: p.parseListItems(node, marks)}}, true
	case atom.Blockquote:
		return []*Node{{Kind: KindBlockquote, Children: p.parseBlocks(childNodes(node), marks)}}, true
	case atom.Table:
		return []*Node{{Kind: KindTable, Children: p.parseTableRows(node, marks)}}, true
	case atom.Figure:
		if attrValue(node, "data-type") == "blockImage" {
			return []*Node{p.parseBlockImage(node)}, true
		}
		return p.parseBlocks(childNodes(node), marks), true
	case atom.Div:
		if attrValue(node, "data-type") == "latexBlock" {
			if block := p.parseLatexBlock(node); block != nil {
				return []*Node{block}, true
			}
			// Missing id: degrade to the textual content.
		}
		return p.parseBlocks(childNodes(node), marks), true
	case atom.Section, atom.Article, atom.Header, atom.Footer, atom.Main:
		return p.parseBlocks(childNodes(node), marks), true
	}
	return nil, false
}

func (p *treeParser) parseListItems(list *html.Node, marks []Mark) []*Node {
	var items []*Node
	for child := list.FirstChild; child != nil; child = child.NextSibling {
		if child.Type != html.ElementNode || child.DataAtom != atom.Li {
			continue
		}
		items = append(items, &Node{
			Kind:     KindListItem,
			Children: p.parseBlocks(childNodes(child), marks),
		})
	}
	return items
}

func (p *treeParser) parseTableRows(table *html.Node, marks []Mark) []*Node {
	var rows []*Node
	var visit func(*html.Node)
	visit = func(node *html.Node) {
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			if child.Type != html.ElementNode {
				continue
			}
			switch child.DataAtom {
			case atom.Thead, atom.Tbody, atom.Tfoot:
				visit(child)
			case atom.Tr:
				rows = append(rows, p.parseTableRow(child, marks))
			}
		}
	}
	visit(table)
	return rows
}

func (p *treeParser) parseTableRow(row *html.Node, marks []Mark) *Node {
	var cells []*Node
	for child := row.FirstChild; child != nil; child = child.NextSibling {
		if child.Type != html.ElementNode {
			continue
		}
		if child.DataAtom == atom.Td || child.DataAtom == atom.Th {
			cells = append(cells, &Node{
				Kind:     KindTableCell,
				Children: p.parseBlocks(childNodes(child), marks),
			})
		}
	}
	return &Node{Kind: KindTableRow, Children: cells}
}

func (p *treeParser) parseBlockImage(figure *html.Node) *Node {
	attrs := map[string]string{
		AttrImageID: attrValue(figure, AttrImageID),
		"src":       "",
		"alt":       "",
	}
	for child := figure.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode && child.DataAtom == atom.Img {
			attrs["src"] = attrValue(child, "src")
			attrs["alt"] = attrValue(child, "alt")
			break
		}
	}
	return &Node{Kind: KindBlockImage, Attrs: attrs}
}

func (p *treeParser) parseLatexBlock(div *html.Node) *Node {
	id := attrValue(div, AttrLatexID)
	if id == "" {
		return nil
	}
	return &Node{Kind: KindLatexBlock, Attrs: map[string]string{
		AttrLatexID: id,
		AttrLatex:   attrValue(div, AttrLatex),
	}}
}

// parseInlineChildren parses the children of an inline container (p, hN).
func (p *treeParser) parseInlineChildren(node *html.Node, marks []Mark) []*Node {
	var inline []*Node
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		p.parseInlineNode(child, marks, &inline)
	}
	return inline
}

func (p *treeParser) parseInlineNode(node *html.Node, marks []Mark, out *[]*Node) {
	switch node.Type {
	case html.TextNode:
		p.appendText(out, node.Data, marks)
	case html.ElementNode:
		p.parseInline(node, marks, out)
	}
}

// parseInline handles one inline-level element: marks push onto the stack and
// descent continues; atomic inline nodes append directly; anything else is
// transparent.
func (p *treeParser) parseInline(node *html.Node, marks []Mark, out *[]*Node) {
	switch node.DataAtom {
	case atom.Br:
		*out = append(*out, &Node{Kind: KindHardBreak})
		return
	case atom.Strong, atom.B:
		marks = pushMark(marks, Mark{Kind: MarkBold})
	case atom.Em, atom.I:
		marks = pushMark(marks, Mark{Kind: MarkItalic})
	case atom.A:
		marks = pushMark(marks, Mark{Kind: MarkLink, Attrs: map[string]string{"href": attrValue(node, "href")}})
	case atom.Mark:
		marks = pushMark(marks, Mark{Kind: MarkHighlight})
	case atom.Sup:
		if attrValue(node, "data-type") == "citation" {
			if id := attrValue(node, AttrCitationID); id != "" {
				*out = append(*out, NewCitation(id))
				return
			}
			// Citation without an id is invalid: degrade to its text.
		}
	case atom.Span:
		if attrValue(node, "data-type") == "inlineLatex" {
			marks = pushMark(marks, Mark{Kind: MarkInlineLatex, Attrs: map[string]string{
				AttrLatex: attrValue(node, AttrLatex),
			}})
			break
		}
		if id := attrValue(node, AttrAnnotationID); id != "" {
			marks = pushMark(marks, Mark{Kind: MarkAnnotation, Attrs: map[string]string{
				AttrAnnotationID: id,
				AttrUserID:       attrValue(node, AttrUserID),
				AttrIsAuthor:     normalizeBool(attrValue(node, AttrIsAuthor)),
				AttrCreatedAt:    attrValue(node, AttrCreatedAt),
			}})
		}
	}

	for child := node.FirstChild; child != nil; child = child.NextSibling {
		p.parseInlineNode(child, marks, out)
	}
}

func (p *treeParser) appendText(out *[]*Node, text string, marks []Mark) {
	if text == "" {
		return
	}
	// Collapse markup-only whitespace between blocks, keep everything else.
	if strings.TrimSpace(text) == "" && len(*out) == 0 {
		return
	}
	copied := make([]Mark, len(marks))
	for i, mark := range marks {
		copied[i] = mark.Clone()
	}
	if len(copied) == 0 {
		copied = nil
	}
	*out = append(*out, NewText(text, copied...))
}

// pushMark appends without aliasing the caller's slice backing array.
func pushMark(marks []Mark, mark Mark) []Mark {
	next := make([]Mark, len(marks), len(marks)+1)
	copy(next, marks)
	return append(next, mark)
}

func childNodes(node *html.Node) []*html.Node {
	var children []*html.Node
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		children = append(children, child)
	}
	return children
}

func attrValue(node *html.Node, name string) string {
	for _, attr := range node.Attr {
		if attr.Key == name {
			return attr.Val
		}
	}
	return ""
}

func normalizeBool(value string) string {
	if value == "true" {
		return "true"
	}
	return "false"
}
