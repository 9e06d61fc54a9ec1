// Package doc defines the document model: a tree of typed nodes and marks
// with a canonical HTML serialization and a plain-text projection.
package doc

// NodeKind identifies a node type in the document tree.
type NodeKind string

// MarkKind identifies an inline mark applied to a text run.
type MarkKind string

const (
	KindDoc         NodeKind = "doc"
	KindParagraph   NodeKind = "paragraph"
	KindHeading     NodeKind = "heading"
	KindBulletList  NodeKind = "bulletList"
	KindOrderedList NodeKind = "orderedList"
	KindListItem    NodeKind = "listItem"
	KindBlockquote  NodeKind = "blockquote"
	KindTable       NodeKind = "table"
	KindTableRow    NodeKind = "tableRow"
	KindTableCell   NodeKind = "tableCell"
	KindHardBreak   NodeKind = "hardBreak"
	KindText        NodeKind = "text"
	KindBlockImage  NodeKind = "blockImage"
	KindCitation    NodeKind = "citation"
	KindLatexBlock  NodeKind = "latexBlock"
)

const (
	MarkBold        MarkKind = "bold"
	MarkItalic      MarkKind = "italic"
	MarkLink        MarkKind = "link"
	MarkHighlight   MarkKind = "highlight"
	MarkInlineLatex MarkKind = "inlineLatex"
	MarkAnnotation  MarkKind = "annotation"
)

// Attribute names that external tooling must preserve verbatim.
const (
	AttrCitationID   = "data-citation-id"
	AttrImageID      = "data-image-id"
	AttrLatexID      = "data-latex-id"
	AttrLatex        = "data-latex"
	AttrAnnotationID = "data-annotation-id"
	AttrUserID       = "data-user-id"
	AttrIsAuthor     = "data-is-author"
	AttrCreatedAt    = "data-created-at"
)

// Mark is an inline annotation attribute on a text run.
type Mark struct {
	Kind  MarkKind
	Attrs map[string]string
}

// Node is one node in the document tree. Text is set only for KindText;
// Marks is set only for KindText; Children is empty for leaf kinds.
type Node struct {
	Kind     NodeKind
	Attrs    map[string]string
	Text     string
	Marks    []Mark
	Children []*Node
}

// NewDoc returns an empty document root.
func NewDoc(children ...*Node) *Node {
	return &Node{Kind: KindDoc, Children: children}
}

// NewText returns a text node carrying the given marks.
func NewText(text string, marks ...Mark) *Node {
	return &Node{Kind: KindText, Text: text, Marks: marks}
}

// NewCitation returns an atomic inline citation reference node.
func NewCitation(citationID string) *Node {
	return &Node{Kind: KindCitation, Attrs: map[string]string{AttrCitationID: citationID}}
}

// Clone returns a deep copy of the node. Tree edits operate on copies so
// callers keep a consistent view of the original tree.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	copied := &Node{Kind: n.Kind, Text: n.Text}
	if n.Attrs != nil {
		copied.Attrs = make(map[string]string, len(n.Attrs))
		for key, value := range n.Attrs {
			copied.Attrs[key] = value
		}
	}
	if n.Marks != nil {
		copied.Marks = make([]Mark, len(n.Marks))
		for i, mark := range n.Marks {
			copied.Marks[i] = mark.Clone()
		}
	}
	if n.Children != nil {
		copied.Children = make([]*Node, len(n.Children))
		for i, child := range n.Children {
			copied.Children[i] = child.Clone()
		}
	}
	return copied
}

// Clone returns a deep copy of the mark.
func (m Mark) Clone() Mark {
	copied := Mark{Kind: m.Kind}
	if m.Attrs != nil {
		copied.Attrs = make(map[string]string, len(m.Attrs))
		for key, value := range m.Attrs {
			copied.Attrs[key] = value
		}
	}
	return copied
}

// Attr returns the named attribute or the schema default when absent.
func (n *Node) Attr(name string) string {
	if n.Attrs != nil {
		if value, ok := n.Attrs[name]; ok && value != "" {
			return value
		}
	}
	if spec, ok := Lookup(n.Kind); ok {
		return spec.AttrDefaults[name]
	}
	return ""
}

// HasMark reports whether the text node carries a mark of the given kind
// with the given attribute value (empty attrValue matches any instance).
func (n *Node) HasMark(kind MarkKind, attrName, attrValue string) bool {
	for _, mark := range n.Marks {
		if mark.Kind != kind {
			continue
		}
		if attrName == "" {
			return true
		}
		if mark.Attrs[attrName] == attrValue {
			return true
		}
	}
	return false
}

// Walk visits every node in document order, parents before children.
// The visitor returning false prunes descent into that node's children.
func Walk(root *Node, visit func(*Node) bool) {
	if root == nil {
		return
	}
	if !visit(root) {
		return
	}
	for _, child := range root.Children {
		Walk(child, visit)
	}
}
