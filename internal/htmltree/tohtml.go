package htmltree

import (
	"strings"

	"golang.org/x/net/html"
)

// FromTree implements spec.md 4.1.2: serialize the schema tree plus
// metadata map back into authored HTML, through the canonical
// body/header/main/footer envelope.
func FromTree(root *Node, metadata map[string]string) (string, error) {
	main := newElem("main")
	renderBlockSequence(main, root.Children)
	joinSections(main)

	if len(metadata) > 0 {
		appendChild(main, renderMetadataDiv(metadata))
	}

	body := newElem("body")
	appendChild(body, newElem("header"))
	appendChild(body, main)
	appendChild(body, newElem("footer"))

	return renderFragment([]*html.Node{body})
}

func renderMetadataDiv(metadata map[string]string) *html.Node {
	div := newElem("div")
	setAttr(div, "class", "da-metadata")
	// deterministic order for stable roundtrips
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sortStrings(keys)
	for _, k := range keys {
		row := newElem("div")
		keyCell := newElem("div")
		appendChild(keyCell, newText(k))
		valCell := newElem("div")
		appendChild(valCell, newText(metadata[k]))
		appendChild(row, keyCell)
		appendChild(row, valCell)
		appendChild(div, row)
	}
	return div
}

func sortStrings(ss []string) {
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && ss[j-1] > ss[j]; j-- {
			ss[j-1], ss[j] = ss[j], ss[j-1]
		}
	}
}

// renderBlockSequence appends the HTML rendering of each schema block node
// to parent, in order. Nodes that collapse to zero or several siblings
// (an unwrapped da-diff-added, an image-only paragraph) are expanded
// in place via renderBlockNodes.
func renderBlockSequence(parent *html.Node, nodes []*Node) {
	for _, n := range nodes {
		for _, el := range renderBlockNodes(n) {
			appendChild(parent, el)
		}
	}
}

// renderBlockNodes renders one schema node into zero, one, or several
// sibling html.Nodes.
func renderBlockNodes(n *Node) []*html.Node {
	switch n.Kind {
	case KindParagraph:
		return renderParagraph(n)
	case KindHeading:
		level := n.attr("level")
		if level == "" {
			level = "1"
		}
		h := newElem("h" + level)
		renderInlineSequence(h, n.Children)
		return []*html.Node{h}
	case KindBulletList:
		ul := newElem("ul")
		renderListItems(ul, n.Children)
		return []*html.Node{ul}
	case KindOrderedList:
		ol := newElem("ol")
		renderListItems(ol, n.Children)
		return []*html.Node{ol}
	case KindBlockquote:
		bq := newElem("blockquote")
		renderBlockSequence(bq, n.Children)
		return []*html.Node{bq}
	case KindCodeBlock:
		pre := newElem("pre")
		code := newElem("code")
		appendChild(code, newText(n.Text))
		appendChild(pre, code)
		return []*html.Node{pre}
	case KindHorizontalRule:
		return []*html.Node{newElem("hr")}
	case KindHardBreak:
		return []*html.Node{newElem("br")}
	case KindImage:
		return []*html.Node{renderImage(n)}
	case KindTable:
		return []*html.Node{renderTableAsBlockDiv(n)}
	case KindDiffAdded:
		// unwrapped per spec.md 4.1.2 step 4: inline children spliced
		// directly into the surrounding sequence, converting any inner
		// tables as usual.
		var out []*html.Node
		for _, c := range n.Children {
			out = append(out, renderBlockNodes(c)...)
		}
		return out
	case KindDiffDeleted:
		wrapper := newElem("da-diff-deleted")
		if mdast := n.attr("data-mdast"); mdast != "" {
			setAttr(wrapper, "data-mdast", mdast)
		}
		renderBlockSequence(wrapper, n.Children)
		return []*html.Node{wrapper}
	case KindText:
		return []*html.Node{renderInlineLeaf(n)}
	default:
		return nil
	}
}

// renderParagraph implements the two special-case collapses from spec.md
// 4.1.2 step 6: an image-only paragraph emits its image children directly,
// and otherwise renders a normal <p>.
func renderParagraph(n *Node) []*html.Node {
	if isImageOnly(n) {
		var out []*html.Node
		for _, c := range n.Children {
			if c.Kind == KindImage {
				out = append(out, renderImage(c))
			}
		}
		return out
	}
	p := newElem("p")
	renderInlineSequence(p, n.Children)
	return []*html.Node{p}
}

func isImageOnly(n *Node) bool {
	found := false
	for _, c := range n.Children {
		if c.Kind == KindImage {
			found = true
			continue
		}
		if c.Kind == KindText && strings.TrimSpace(c.Text) == "" {
			continue
		}
		return false
	}
	return found
}

// renderListItems implements the "<li> containing exactly one <p>" collapse
// from spec.md 4.1.2 step 6.
func renderListItems(parent *html.Node, items []*Node) {
	for _, item := range items {
		li := newElem("li")
		if len(item.Children) == 1 && item.Children[0].Kind == KindParagraph {
			renderInlineSequence(li, item.Children[0].Children)
		} else {
			renderBlockSequence(li, item.Children)
		}
		appendChild(parent, li)
	}
}

func renderInlineSequence(parent *html.Node, nodes []*Node) {
	for _, n := range nodes {
		if n.Kind == KindText {
			appendChild(parent, renderInlineLeaf(n))
		} else {
			for _, el := range renderBlockNodes(n) {
				appendChild(parent, el)
			}
		}
	}
}

// renderInlineLeaf wraps a text node's marks from the outside in, deepest
// mark last, so e.g. bold+italic nests <strong><em>text</em></strong>.
func renderInlineLeaf(n *Node) *html.Node {
	var cur *html.Node = newText(n.Text)
	for i := len(n.Marks) - 1; i >= 0; i-- {
		m := n.Marks[i]
		wrapper := markElem(m)
		appendChild(wrapper, cur)
		cur = wrapper
	}
	return cur
}

func markElem(m Mark) *html.Node {
	switch m.Kind {
	case MarkBold:
		return newElem("strong")
	case MarkItalic:
		return newElem("em")
	case MarkStrike:
		return newElem("s")
	case MarkUnderline:
		return newElem("u")
	case MarkCode:
		return newElem("code")
	case MarkSuperscript:
		return newElem("sup")
	case MarkSubscript:
		return newElem("sub")
	case MarkLink:
		a := newElem("a")
		if href, ok := m.Attrs["href"]; ok {
			setAttr(a, "href", href)
		}
		if title, ok := m.Attrs["title"]; ok {
			setAttr(a, "title", title)
		}
		return a
	default:
		return newElem("span")
	}
}

// renderImage implements spec.md 4.1.2 step 6's picture/source expansion
// and the href-hoist-to-wrapping-<a>.
func renderImage(n *Node) *html.Node {
	img := newElem("img")
	src := n.attr("src")
	setAttr(img, "src", src)
	if alt := n.attr("alt"); alt != "" {
		setAttr(img, "alt", alt)
	}
	setAttr(img, "loading", "lazy")

	var result *html.Node
	if src == "" {
		result = img
	} else {
		picture := newElem("picture")
		source1 := newElem("source")
		setAttr(source1, "srcset", src)
		source2 := newElem("source")
		setAttr(source2, "srcset", src)
		setAttr(source2, "media", "(min-width: 600px)")
		appendChild(picture, source1)
		appendChild(picture, source2)
		appendChild(picture, img)
		result = picture
	}

	href := n.attr("href")
	if href == "" {
		return result
	}
	a := newElem("a")
	setAttr(a, "href", href)
	if title := n.attr("title"); title != "" {
		setAttr(a, "title", title)
	}
	if n.attr("da-diff-added") != "" {
		setAttr(a, "da-diff-added", "")
	}
	appendChild(a, result)
	return a
}

// renderTableAsBlockDiv implements spec.md 4.1.2 step 3: every table node
// becomes a classed <div> whose data rows are nested <div>s holding one
// <div> per cell. Colspan is not written out; the HTML->Tree direction
// infers it again from the row widths.
func renderTableAsBlockDiv(table *Node) *html.Node {
	div := newElem("div")
	headerText := ""
	var dataRows []*Node
	if len(table.Children) > 0 {
		headerRow := table.Children[0]
		if len(headerRow.Children) > 0 {
			headerText = textContentOf(headerRow.Children[0])
		}
		dataRows = table.Children[1:]
	}
	setAttr(div, "class", toBlockCSSClassNames(headerText))
	if dataID := table.attr("data-id"); dataID != "" {
		setAttr(div, "data-id", dataID)
	}
	if table.attr("da-diff-added") != "" {
		setAttr(div, "da-diff-added", "")
	}
	for _, row := range dataRows {
		rowDiv := newElem("div")
		for _, cell := range row.Children {
			cellDiv := newElem("div")
			renderInlineSequence(cellDiv, cell.Children)
			appendChild(rowDiv, cellDiv)
		}
		appendChild(div, rowDiv)
	}
	return div
}

// joinSections implements spec.md 4.1.2 step 5: split the flat sequence at
// every <hr> into sibling <div> sections. Even a single section (no <hr>
// at all) is wrapped in one <div>, mirroring that spec.md 4.1.1 step 11
// only ever flattens the second and later top-level <main> divs — the
// first section's wrapping <div> always survives.
func joinSections(main *html.Node) {
	children := childrenOf(main)

	var sections [][]*html.Node
	cur := []*html.Node{}
	for _, c := range children {
		if isElem(c, "hr") {
			sections = append(sections, cur)
			cur = []*html.Node{}
			continue
		}
		cur = append(cur, c)
	}
	sections = append(sections, cur)

	for _, c := range children {
		main.RemoveChild(c)
	}
	for _, sec := range sections {
		div := newElem("div")
		for _, c := range sec {
			appendChild(div, c)
		}
		appendChild(main, div)
	}
}
