package htmltree

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var nonAlphaNum = regexp.MustCompile(`[^a-z0-9]+`)

// toBlockCSSClassNames reverses a table's header text ("marquee (light)")
// back into the class list a block <div> originally carried
// ("marquee light"), per spec.md 4.1.2 step 3.
func toBlockCSSClassNames(header string) string {
	header = strings.TrimSpace(header)
	main := header
	rest := ""
	if idx := strings.Index(header, "("); idx >= 0 && strings.HasSuffix(header, ")") {
		main = strings.TrimSpace(header[:idx])
		rest = header[idx+1 : len(header)-1]
	}
	classes := []string{normalizeClassToken(main)}
	if rest != "" {
		for _, part := range strings.Split(rest, ",") {
			if c := normalizeClassToken(part); c != "" {
				classes = append(classes, c)
			}
		}
	}
	var out []string
	for _, c := range classes {
		if c != "" {
			out = append(out, c)
		}
	}
	return strings.Join(out, " ")
}

func normalizeClassToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonAlphaNum.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// blockHeaderName computes the table's first-row header text from a div's
// class list: "first-class (remaining, classes)", per spec.md 4.1.1 step 9.
func blockHeaderName(classes []string) string {
	if len(classes) == 0 {
		return ""
	}
	if len(classes) == 1 {
		return classes[0]
	}
	return fmt.Sprintf("%s (%s)", classes[0], strings.Join(classes[1:], ", "))
}

// convertBlockDivsToTables rewrites classed child <div>s of each top-level
// <div> inside <main> into <table>s, recursively descending into diff
// wrappers, per spec.md 4.1.1 step 9.
func convertBlockDivsToTables(main *html.Node) {
	for _, topDiv := range childrenOf(main) {
		if !isElem(topDiv, "div") {
			continue
		}
		convertBlockDivsInScope(topDiv)
	}
}

func convertBlockDivsInScope(scope *html.Node) {
	for _, child := range childrenOf(scope) {
		if child.Type == html.ElementNode && (child.DataAtom == atom.Div || child.Data == "da-diff-added" || child.Data == "da-diff-deleted") {
			classAttr, hasClass := getAttr(child, "class")
			if child.DataAtom == atom.Div && hasClass && strings.TrimSpace(classAttr) != "" {
				table := blockDivToTable(child)
				parent := child.Parent
				spacerBefore := newElem("p")
				spacerAfter := newElem("p")
				parent.InsertBefore(spacerBefore, child)
				parent.InsertBefore(table, child)
				parent.InsertBefore(spacerAfter, child)
				parent.RemoveChild(child)
			} else {
				convertBlockDivsInScope(child)
			}
		}
	}
}

func blockDivToTable(div *html.Node) *html.Node {
	classAttr, _ := getAttr(div, "class")
	classes := strings.Fields(classAttr)
	header := blockHeaderName(classes)

	table := newElem("table")
	if dataID, ok := getAttr(div, "data-id"); ok {
		setAttr(table, "data-id", dataID)
	}
	if hasAttr(div, "da-diff-added") {
		setAttr(table, "da-diff-added", "")
	}

	headerRow := newElem("tr")
	headerCell := newElem("td")
	setAttr(headerCell, "colspan", "0")
	appendChild(headerCell, newText(header))
	appendChild(headerRow, headerCell)
	appendChild(table, headerRow)

	rows := childrenOf(div)
	widest := 0
	var rowCells [][]*html.Node
	for _, r := range rows {
		if r.Type != html.ElementNode || r.DataAtom != atom.Div {
			continue
		}
		cells := childrenOf(r)
		if len(cells) > widest {
			widest = len(cells)
		}
		rowCells = append(rowCells, cells)
	}
	for _, cells := range rowCells {
		tr := newElem("tr")
		for i, cell := range cells {
			td := newElem("td")
			if i == len(cells)-1 && len(cells) < widest {
				setAttr(td, "colspan", strconv.Itoa(widest-len(cells)+1))
			}
			for _, gc := range childrenOf(cell) {
				appendChild(td, gc)
			}
			appendChild(tr, td)
		}
		appendChild(table, tr)
	}

	// headerCell spans the full table width once we know it.
	finalWidth := widest
	if finalWidth < 1 {
		finalWidth = 1
	}
	setAttr(headerCell, "colspan", strconv.Itoa(finalWidth))

	return table
}

func textContentOf(n *Node) string {
	if n.Kind == KindText {
		return n.Text
	}
	var sb strings.Builder
	for _, c := range n.Children {
		sb.WriteString(textContentOf(c))
	}
	return sb.String()
}
