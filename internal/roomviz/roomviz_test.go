package roomviz

import (
	"bytes"
	"testing"

	"github.com/automerge/automerge-go"
)

func TestRenderToSVGProducesSVGWithHistory(t *testing.T) {
	doc := automerge.New()
	if err := doc.Path("prosemirror").Set(`{"type":"doc"}`); err != nil {
		t.Fatalf("set prosemirror: %v", err)
	}
	if _, err := doc.Commit("seed"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := doc.Path("daMetadata").Set(map[string]interface{}{"title": "Example"}); err != nil {
		t.Fatalf("set daMetadata: %v", err)
	}
	if _, err := doc.Commit("metadata"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	svg, err := RenderToSVG(doc)
	if err != nil {
		t.Fatalf("RenderToSVG: %v", err)
	}
	if !bytes.Contains(svg, []byte("<svg")) {
		t.Fatalf("expected SVG output, got: %s", svg)
	}
}

func TestRenderToSVGEmptyDoc(t *testing.T) {
	doc := automerge.New()
	svg, err := RenderToSVG(doc)
	if err != nil {
		t.Fatalf("RenderToSVG on empty doc: %v", err)
	}
	if !bytes.Contains(svg, []byte("<svg")) {
		t.Fatalf("expected SVG output even for an empty doc, got: %s", svg)
	}
}
