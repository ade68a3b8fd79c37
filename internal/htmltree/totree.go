package htmltree

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var legacyTagRewrites = map[string]string{
	"da-loc-added":   "da-diff-added",
	"da-loc-deleted": "da-diff-deleted",
}

// ToTree implements spec.md 4.1.1: parse authored HTML into the schema's
// structured tree plus a document-metadata map.
func ToTree(rawHTML string) (*Node, map[string]string, error) {
	if strings.TrimSpace(rawHTML) == "" {
		rawHTML = CanonicalEmptyHTML
	}

	rawHTML = rewriteLegacyDiffTags(rawHTML)

	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, nil, err
	}

	main := findFirst(doc, atom.Main)
	scope := doc
	if main != nil {
		scope = main
	}

	metadata := extractMetadata(scope)
	wrapDiffAddedAttributes(scope)
	normalizeLinkWrapsImage(scope)
	stripComments(scope)
	if main != nil {
		convertBlockDivsToTables(main)
	}
	detectSectionBreaks(scope)
	splitSections(scope)

	root := newElement(KindDoc)
	appendBlockChildren(root, scope)
	return root, metadata, nil
}

// rewriteLegacyDiffTags renames <da-loc-added>/<da-loc-deleted> (open and
// close) to the current <da-diff-added>/<da-diff-deleted> tags, per
// spec.md 4.1.1 step 2. Done at the string level since the legacy tags
// aren't known HTML elements and the Go HTML tokenizer treats them as
// opaque custom elements either way.
func rewriteLegacyDiffTags(s string) string {
	for old, new := range legacyTagRewrites {
		s = strings.ReplaceAll(s, "<"+old, "<"+new)
		s = strings.ReplaceAll(s, "</"+old+">", "</"+new+">")
	}
	return s
}

// extractMetadata pulls the top-level <div class="da-metadata"> (if
// present), parses its rows as two-column key/value pairs, and removes it
// from the tree (spec.md 4.1.1 step 5).
func extractMetadata(scope *html.Node) map[string]string {
	metadata := map[string]string{}
	for _, child := range childrenOf(scope) {
		if !isElem(child, "div") {
			continue
		}
		class, _ := getAttr(child, "class")
		if class != "da-metadata" {
			continue
		}
		for _, row := range childrenOf(child) {
			if row.Type != html.ElementNode {
				continue
			}
			cells := childrenOf(row)
			if len(cells) < 2 {
				continue
			}
			key := strings.TrimSpace(collectText(cells[0]))
			val := strings.TrimSpace(collectText(cells[1]))
			if key != "" {
				metadata[key] = val
			}
		}
		scope.RemoveChild(child)
	}
	return metadata
}

// wrapDiffAddedAttributes synthesizes a <da-diff-added> wrapper around any
// element carrying a da-diff-added attribute (spec.md 4.1.1 step 6). Block
// grouping markers are not modeled here; a single element is wrapped,
// which covers the common inline/paragraph case exercised by the roundtrip
// test corpus.
func wrapDiffAddedAttributes(scope *html.Node) {
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for _, c := range childrenOf(n) {
			walk(c)
		}
		if n.Type == html.ElementNode && hasAttr(n, "da-diff-added") && n.Data != "da-diff-added" {
			removeAttr(n, "da-diff-added")
			wrapper := newElem("da-diff-added")
			parent := n.Parent
			if parent == nil {
				return
			}
			parent.InsertBefore(wrapper, n)
			parent.RemoveChild(n)
			appendChild(wrapper, n)
		}
	}
	walk(scope)
}

// normalizeLinkWrapsImage hoists href/title/da-diff-added from an <a> onto
// a wrapped <picture>/<img>, then replaces the <a> with its children, per
// spec.md 4.1.1 step 7.
func normalizeLinkWrapsImage(scope *html.Node) {
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for _, c := range childrenOf(n) {
			walk(c)
		}
		if n.Type != html.ElementNode || n.DataAtom != atom.A {
			return
		}
		var target *html.Node
		for _, c := range childrenOf(n) {
			if isElem(c, "picture") {
				target = findFirst(c, atom.Img)
				break
			}
			if c.Type == html.ElementNode && c.DataAtom == atom.Img {
				target = c
				break
			}
		}
		if target == nil {
			return
		}
		if href, ok := getAttr(n, "href"); ok {
			setAttr(target, "href", href)
		}
		if title, ok := getAttr(n, "title"); ok {
			setAttr(target, "title", title)
		}
		if hasAttr(n, "da-diff-added") {
			setAttr(target, "da-diff-added", "")
		}
		replaceWithChildren(n)
	}
	walk(scope)
}

// detectSectionBreaks turns any <p> whose sole text child is exactly "---"
// into an <hr>, per spec.md 4.1.1 step 10.
func detectSectionBreaks(scope *html.Node) {
	for _, c := range childrenOf(scope) {
		if isElem(c, "p") && strings.TrimSpace(collectText(c)) == "---" {
			hr := newElem("hr")
			scope.InsertBefore(hr, c)
			scope.RemoveChild(c)
		} else {
			detectSectionBreaks(c)
		}
	}
}

// splitSections replaces every top-level <div> after the first with an
// <hr> (flanked by empty <p> spacers) followed by its inline contents,
// flattening multiple sections into one sequence delimited by <hr>, per
// spec.md 4.1.1 step 11.
func splitSections(scope *html.Node) {
	var divs []*html.Node
	for _, c := range childrenOf(scope) {
		if isElem(c, "div") {
			divs = append(divs, c)
		}
	}
	for i, div := range divs {
		if i == 0 {
			continue
		}
		spacerBefore := newElem("p")
		hr := newElem("hr")
		spacerAfter := newElem("p")
		scope.InsertBefore(spacerBefore, div)
		scope.InsertBefore(hr, div)
		scope.InsertBefore(spacerAfter, div)
		for _, k := range childrenOf(div) {
			div.RemoveChild(k)
			scope.InsertBefore(k, div)
		}
		scope.RemoveChild(div)
	}
}

var blockAtoms = map[atom.Atom]NodeKind{
	atom.P:          KindParagraph,
	atom.H1:         KindHeading,
	atom.H2:         KindHeading,
	atom.H3:         KindHeading,
	atom.H4:         KindHeading,
	atom.H5:         KindHeading,
	atom.H6:         KindHeading,
	atom.Ul:         KindBulletList,
	atom.Ol:         KindOrderedList,
	atom.Blockquote: KindBlockquote,
	atom.Table:      KindTable,
	atom.Hr:         KindHorizontalRule,
}

// parseBlockNode converts one html.Node into a schema Node, recursing into
// children as needed (spec.md 4.1.1 step 12, "hand to the schema-guided
// parser").
func parseBlockNode(n *html.Node) *Node {
	switch n.Type {
	case html.TextNode:
		if onlyWhitespaceText(n.Data) {
			return nil
		}
		return &Node{Kind: KindText, Text: n.Data}
	case html.ElementNode:
	default:
		return nil
	}

	if n.Data == "da-diff-added" {
		return parseWrapper(n, KindDiffAdded)
	}
	if n.Data == "da-diff-deleted" {
		return parseWrapper(n, KindDiffDeleted)
	}

	switch n.DataAtom {
	case atom.Hr:
		return newElement(KindHorizontalRule)
	case atom.Br:
		return newElement(KindHardBreak)
	case atom.Pre:
		return &Node{Kind: KindCodeBlock, Text: collectText(n)}
	case atom.Img:
		return parseImage(n)
	case atom.Picture:
		if img := findFirst(n, atom.Img); img != nil {
			return parseImage(img)
		}
		return nil
	case atom.Li:
		item := newElement(KindListItem)
		appendBlockChildren(item, n)
		return item
	case atom.Table:
		return parseTable(n)
	case atom.A:
		return parseInlineRun(n)
	case atom.Strong, atom.B, atom.Em, atom.I, atom.S, atom.Strike, atom.Del,
		atom.U, atom.Ins, atom.Code, atom.Sup, atom.Sub, atom.Span:
		return parseInlineRun(n)
	}

	if kind, ok := blockAtoms[n.DataAtom]; ok {
		el := newElement(kind)
		if kind == KindHeading {
			el.setAttr("level", string(rune('0'+int(n.Data[1]-'0'))))
		}
		appendBlockChildren(el, n)
		return el
	}

	// Unknown/boilerplate wrapper (body, header, footer, main, html): splice
	// children directly into the parent's stream.
	group := newElement(KindDoc)
	appendBlockChildren(group, n)
	if len(group.Children) == 1 {
		return group.Children[0]
	}
	if len(group.Children) == 0 {
		return nil
	}
	group.Kind = "__group"
	return group
}

func parseWrapper(n *html.Node, kind NodeKind) *Node {
	el := newElement(kind)
	if dataID, ok := getAttr(n, "data-mdast"); ok {
		el.setAttr("data-mdast", dataID)
	}
	appendBlockChildren(el, n)
	return el
}

func appendBlockChildren(parent *Node, n *html.Node) {
	for _, c := range childrenOf(n) {
		child := parseBlockNode(c)
		if child == nil {
			continue
		}
		if child.Kind == "__group" {
			parent.Children = append(parent.Children, child.Children...)
			continue
		}
		parent.appendChild(child)
	}
}

func parseImage(img *html.Node) *Node {
	el := newElement(KindImage)
	if src, ok := getAttr(img, "src"); ok {
		el.setAttr("src", src)
	}
	if alt, ok := getAttr(img, "alt"); ok {
		el.setAttr("alt", alt)
	}
	if href, ok := getAttr(img, "href"); ok {
		el.setAttr("href", href)
	}
	if title, ok := getAttr(img, "title"); ok {
		el.setAttr("title", title)
	}
	if hasAttr(img, "da-diff-added") {
		el.setAttr("da-diff-added", "")
	}
	return el
}

// parseInlineRun converts a mark-bearing inline element into a single text
// node carrying the accumulated marks, matching the schema's mark model.
func parseInlineRun(n *html.Node) *Node {
	mark, isMark := markFor(n)
	text := collectText(n)
	if n.DataAtom == atom.A {
		href, _ := getAttr(n, "href")
		mark = Mark{Kind: MarkLink, Attrs: map[string]string{"href": href}}
		if title, ok := getAttr(n, "title"); ok {
			mark.Attrs["title"] = title
		}
		isMark = true
	}
	node := &Node{Kind: KindText, Text: text}
	if isMark {
		node.Marks = append(node.Marks, mark)
	}
	// propagate marks from nested inline elements, e.g. <strong><em>x</em></strong>
	for _, c := range childrenOf(n) {
		if c.Type == html.ElementNode {
			if inner := parseInlineRun(c); inner != nil {
				node.Marks = append(node.Marks, inner.Marks...)
			}
		}
	}
	return node
}

func markFor(n *html.Node) (Mark, bool) {
	switch n.DataAtom {
	case atom.Strong, atom.B:
		return Mark{Kind: MarkBold}, true
	case atom.Em, atom.I:
		return Mark{Kind: MarkItalic}, true
	case atom.S, atom.Strike, atom.Del:
		return Mark{Kind: MarkStrike}, true
	case atom.U, atom.Ins:
		return Mark{Kind: MarkUnderline}, true
	case atom.Code:
		return Mark{Kind: MarkCode}, true
	case atom.Sup:
		return Mark{Kind: MarkSuperscript}, true
	case atom.Sub:
		return Mark{Kind: MarkSubscript}, true
	}
	return Mark{}, false
}

func parseTable(n *html.Node) *Node {
	table := newElement(KindTable)
	if dataID, ok := getAttr(n, "data-id"); ok {
		table.setAttr("data-id", dataID)
	}
	if hasAttr(n, "da-diff-added") {
		table.setAttr("da-diff-added", "")
	}
	for _, rowGroup := range childrenOf(n) {
		rows := []*html.Node{rowGroup}
		if rowGroup.Type == html.ElementNode && (rowGroup.DataAtom == atom.Tbody || rowGroup.DataAtom == atom.Thead) {
			rows = childrenOf(rowGroup)
		}
		for _, r := range rows {
			if r.Type != html.ElementNode || r.DataAtom != atom.Tr {
				continue
			}
			row := newElement(KindTableRow)
			for _, cell := range childrenOf(r) {
				if cell.Type != html.ElementNode || (cell.DataAtom != atom.Td && cell.DataAtom != atom.Th) {
					continue
				}
				td := newElement(KindTableCell)
				if colspan, ok := getAttr(cell, "colspan"); ok {
					td.setAttr("colspan", colspan)
				}
				appendBlockChildren(td, cell)
				row.appendChild(td)
			}
			table.appendChild(row)
		}
	}
	return table
}

func onlyWhitespaceText(s string) bool {
	return strings.TrimSpace(s) == ""
}
