// Package htmltree implements the HTML<->Tree converter described by the
// spec: translating authored HTML into the CRDT's structured tree
// representation and back. It is built directly on golang.org/x/net/html,
// following the atom-keyed recursive-walk style of the hazyhaar-chrc pack
// repo's docpipe/html.go rather than a DOM-proxy (spec.md 9's narrow
// visitor interface is the set of small helpers over *html.Node in
// htmlnode.go: getAttr, hasAttr, childrenOf, isElem and the like). The
// Node type below is the structured tree the converter produces.
package htmltree

// NodeKind enumerates the schema's block/inline node kinds (spec.md 4.1).
type NodeKind string

const (
	KindDoc            NodeKind = "doc"
	KindParagraph      NodeKind = "paragraph"
	KindHeading        NodeKind = "heading"
	KindBulletList     NodeKind = "bullet_list"
	KindOrderedList    NodeKind = "ordered_list"
	KindListItem       NodeKind = "list_item"
	KindBlockquote     NodeKind = "blockquote"
	KindCodeBlock      NodeKind = "code_block"
	KindImage          NodeKind = "image"
	KindTable          NodeKind = "table"
	KindTableRow       NodeKind = "table_row"
	KindTableCell      NodeKind = "table_cell"
	KindDiffAdded      NodeKind = "da_diff_added"
	KindDiffDeleted    NodeKind = "da_diff_deleted"
	KindHorizontalRule NodeKind = "horizontal_rule"
	KindHardBreak      NodeKind = "hard_break"
	KindText           NodeKind = "text"
)

// MarkKind enumerates the schema's inline marks (spec.md 4.1).
type MarkKind string

const (
	MarkBold        MarkKind = "bold"
	MarkItalic      MarkKind = "italic"
	MarkStrike      MarkKind = "strike"
	MarkUnderline   MarkKind = "underline"
	MarkCode        MarkKind = "code"
	MarkLink        MarkKind = "link"
	MarkSuperscript MarkKind = "superscript"
	MarkSubscript   MarkKind = "subscript"
)

// Mark is a single inline annotation on a text node, e.g. a link carries
// href/title attrs.
type Mark struct {
	Kind  MarkKind          `json:"kind"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// Node is the structured-tree element stored in the CRDT's "prosemirror"
// slot (as a JSON-encoded register; see SPEC_FULL.md section 3).
type Node struct {
	Kind     NodeKind          `json:"kind"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Marks    []Mark            `json:"marks,omitempty"`
	Text     string            `json:"text,omitempty"`
	Children []*Node           `json:"children,omitempty"`
}

func newElement(kind NodeKind) *Node {
	return &Node{Kind: kind}
}

func (n *Node) appendChild(c *Node) {
	n.Children = append(n.Children, c)
}

// attr returns an attribute value, or "" if unset.
func (n *Node) attr(key string) string {
	if n.Attrs == nil {
		return ""
	}
	return n.Attrs[key]
}

func (n *Node) setAttr(key, val string) {
	if val == "" {
		return
	}
	if n.Attrs == nil {
		n.Attrs = map[string]string{}
	}
	n.Attrs[key] = val
}

// CanonicalEmptyHTML is the template substituted for empty/null input
// (spec.md 4.1.1 step 1 and the "boundary behaviors" empty-input law).
const CanonicalEmptyHTML = `<body><header></header><main><p></p></main><footer></footer></body>`
