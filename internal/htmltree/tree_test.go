package htmltree

import (
	"strings"
	"testing"
)

func TestToBlockCSSClassNames(t *testing.T) {
	cases := map[string]string{
		"marquee (light)":        "marquee light",
		"Marquee":                "marquee",
		"Call Out (Blue, Large)": "call-out blue large",
	}
	for header, want := range cases {
		got := toBlockCSSClassNames(header)
		if got != want {
			t.Errorf("toBlockCSSClassNames(%q) = %q, want %q", header, got, want)
		}
	}
}

func TestBlockHeaderNameRoundtrip(t *testing.T) {
	classes := []string{"marquee", "light"}
	header := blockHeaderName(classes)
	if header != "marquee (light)" {
		t.Fatalf("unexpected header: %q", header)
	}
	back := toBlockCSSClassNames(header)
	if back != "marquee light" {
		t.Fatalf("roundtrip mismatch: %q", back)
	}
}

func TestEmptyInputYieldsSingleEmptyParagraph(t *testing.T) {
	root, meta, err := ToTree("")
	if err != nil {
		t.Fatalf("ToTree: %v", err)
	}
	if len(meta) != 0 {
		t.Fatalf("expected no metadata, got %+v", meta)
	}
	if len(root.Children) == 0 {
		t.Fatal("expected at least one block node for empty input")
	}
}

func TestParagraphWithBoldRoundtrips(t *testing.T) {
	input := "<body><header></header><main><div><p>Hello <strong>world</strong></p></div></main><footer></footer></body>"
	root, meta, err := ToTree(input)
	if err != nil {
		t.Fatalf("ToTree: %v", err)
	}
	out, err := FromTree(root, meta)
	if err != nil {
		t.Fatalf("FromTree: %v", err)
	}
	if !strings.Contains(out, "<strong>world</strong>") {
		t.Fatalf("expected bold mark preserved, got: %s", out)
	}
	if !strings.Contains(out, "Hello") {
		t.Fatalf("expected text preserved, got: %s", out)
	}
}

func TestMetadataRoundtrips(t *testing.T) {
	input := `<body><header></header><main>
<div><p>Body</p></div>
<div class="da-metadata"><div><div>title</div><div>My Page</div></div></div>
</main><footer></footer></body>`
	root, meta, err := ToTree(input)
	if err != nil {
		t.Fatalf("ToTree: %v", err)
	}
	if meta["title"] != "My Page" {
		t.Fatalf("expected title metadata, got %+v", meta)
	}
	out, err := FromTree(root, meta)
	if err != nil {
		t.Fatalf("FromTree: %v", err)
	}
	if !strings.Contains(out, `class="da-metadata"`) {
		t.Fatalf("expected metadata div re-emitted, got: %s", out)
	}
	if !strings.Contains(out, "My Page") {
		t.Fatalf("expected metadata value preserved, got: %s", out)
	}
}

func TestImageRendersAsPicture(t *testing.T) {
	input := `<body><header></header><main><div><p><img src="/a.png" alt="A"></p></div></main><footer></footer></body>`
	root, meta, err := ToTree(input)
	if err != nil {
		t.Fatalf("ToTree: %v", err)
	}
	out, err := FromTree(root, meta)
	if err != nil {
		t.Fatalf("FromTree: %v", err)
	}
	if !strings.Contains(out, "<picture>") {
		t.Fatalf("expected picture wrapper, got: %s", out)
	}
	if !strings.Contains(out, `media="(min-width: 600px)"`) {
		t.Fatalf("expected responsive source, got: %s", out)
	}
	if !strings.Contains(out, `loading="lazy"`) {
		t.Fatalf("expected lazy loading default, got: %s", out)
	}
}

func TestLinkWrappingImageIsHoisted(t *testing.T) {
	input := `<body><header></header><main><div><p><a href="/target" title="T"><img src="/a.png"></a></p></div></main><footer></footer></body>`
	root, meta, err := ToTree(input)
	if err != nil {
		t.Fatalf("ToTree: %v", err)
	}
	out, err := FromTree(root, meta)
	if err != nil {
		t.Fatalf("FromTree: %v", err)
	}
	if !strings.Contains(out, `href="/target"`) {
		t.Fatalf("expected hoisted href, got: %s", out)
	}
	if !strings.Contains(out, "<picture>") {
		t.Fatalf("expected picture wrapper still produced, got: %s", out)
	}
}

func TestDiffAddedWrapsAndUnwraps(t *testing.T) {
	input := `<body><header></header><main><div><p da-diff-added="">New</p></div></main><footer></footer></body>`
	root, meta, err := ToTree(input)
	if err != nil {
		t.Fatalf("ToTree: %v", err)
	}
	foundDiffAdded := false
	for _, c := range root.Children {
		if c.Kind == KindDiffAdded {
			foundDiffAdded = true
		}
	}
	if !foundDiffAdded {
		t.Fatalf("expected a da_diff_added wrapper node, got: %+v", root.Children)
	}
	out, err := FromTree(root, meta)
	if err != nil {
		t.Fatalf("FromTree: %v", err)
	}
	if strings.Contains(out, "da-diff-added") {
		t.Fatalf("expected da-diff-added wrapper to be unwrapped on serialization, got: %s", out)
	}
	if !strings.Contains(out, "New") {
		t.Fatalf("expected inner text preserved, got: %s", out)
	}
}

func TestDiffDeletedPassesThrough(t *testing.T) {
	input := `<body><header></header><main><div><da-diff-deleted data-mdast="ignore"><p>Old</p></da-diff-deleted></div></main><footer></footer></body>`
	root, meta, err := ToTree(input)
	if err != nil {
		t.Fatalf("ToTree: %v", err)
	}
	out, err := FromTree(root, meta)
	if err != nil {
		t.Fatalf("FromTree: %v", err)
	}
	if !strings.Contains(out, "da-diff-deleted") {
		t.Fatalf("expected da-diff-deleted wrapper preserved, got: %s", out)
	}
	if !strings.Contains(out, "Old") {
		t.Fatalf("expected inner text preserved, got: %s", out)
	}
}

func TestBlockDivBecomesTableAndBack(t *testing.T) {
	input := `<body><header></header><main><div>` +
		`<div class="marquee light"><div><div>A</div><div>B</div></div></div>` +
		`</div></main><footer></footer></body>`
	root, meta, err := ToTree(input)
	if err != nil {
		t.Fatalf("ToTree: %v", err)
	}
	var table *Node
	var walk func(*Node)
	walk = func(n *Node) {
		if n.Kind == KindTable {
			table = n
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	if table == nil {
		t.Fatal("expected classed div to convert to a table node")
	}

	out, err := FromTree(root, meta)
	if err != nil {
		t.Fatalf("FromTree: %v", err)
	}
	if !strings.Contains(out, `class="marquee light"`) {
		t.Fatalf("expected block div with original class list restored, got: %s", out)
	}
}

func TestSectionSplitAndJoin(t *testing.T) {
	input := `<body><header></header><main>` +
		`<div><p>First</p></div>` +
		`<div><p>Second</p></div>` +
		`</main><footer></footer></body>`
	root, meta, err := ToTree(input)
	if err != nil {
		t.Fatalf("ToTree: %v", err)
	}
	foundHR := false
	for _, c := range root.Children {
		if c.Kind == KindHorizontalRule {
			foundHR = true
		}
	}
	if !foundHR {
		t.Fatal("expected second section to be flattened behind an <hr>")
	}

	out, err := FromTree(root, meta)
	if err != nil {
		t.Fatalf("FromTree: %v", err)
	}
	if strings.Count(out, "<div>") < 2 {
		t.Fatalf("expected two rejoined sections, got: %s", out)
	}
	if !strings.Contains(out, "First") || !strings.Contains(out, "Second") {
		t.Fatalf("expected both sections' content preserved, got: %s", out)
	}
}
