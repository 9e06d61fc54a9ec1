package doc

// NodeSpec declares structural facts about one node kind: whether it is a
// block, whether it is atomic (opaque, indivisible, carries an opaque id),
// and the attribute schema with defaults used when parsed markup is
// malformed or incomplete.
type NodeSpec struct {
	Block        bool
	Atomic       bool
	IDAttr       string
	AttrDefaults map[string]string
}

// The node kind set is closed: all kinds are registered here, in one table,
// rather than through a runtime extension mechanism.
var nodeSpecs = map[NodeKind]NodeSpec{
	KindDoc:         {Block: true},
	KindParagraph:   {Block: true},
	KindHeading:     {Block: true, AttrDefaults: map[string]string{"level": "2"}},
	KindBulletList:  {Block: true},
	KindOrderedList: {Block: true},
	KindListItem:    {Block: true},
	KindBlockquote:  {Block: true},
	KindTable:       {Block: true},
	KindTableRow:    {Block: true},
	KindTableCell:   {Block: true},
	KindHardBreak:   {},
	KindText:        {},
	KindBlockImage: {
		Block:        true,
		Atomic:       true,
		IDAttr:       AttrImageID,
		AttrDefaults: map[string]string{"src": "", "alt": ""},
	},
	KindCitation: {
		Atomic: true,
		IDAttr: AttrCitationID,
	},
	KindLatexBlock: {
		Block:        true,
		Atomic:       true,
		IDAttr:       AttrLatexID,
		AttrDefaults: map[string]string{AttrLatex: ""},
	},
}

// Lookup returns the spec for a node kind.
func Lookup(kind NodeKind) (NodeSpec, bool) {
	spec, ok := nodeSpecs[kind]
	return spec, ok
}

// IsBlock reports whether the kind is block-level.
func IsBlock(kind NodeKind) bool {
	spec, ok := nodeSpecs[kind]
	return ok && spec.Block
}

// IsAtomic reports whether the kind is atomic: treated as a single opaque
// unit carrying an opaque id, never edited inline.
func IsAtomic(kind NodeKind) bool {
	spec, ok := nodeSpecs[kind]
	return ok && spec.Atomic
}

// NodeID returns the opaque id of an atomic node, or "" for other kinds.
func NodeID(n *Node) string {
	spec, ok := nodeSpecs[n.Kind]
	if !ok || spec.IDAttr == "" {
		return ""
	}
	return n.Attr(spec.IDAttr)
}
