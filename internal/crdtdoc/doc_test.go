package crdtdoc

import "testing"

func TestApplyConvertedRoundtrip(t *testing.T) {
	sd := New()
	var updates int
	sd.OnUpdate(func(full []byte) { updates++ })

	if err := sd.ApplyConverted(`{"type":"doc"}`, map[string]string{"title": "Hello"}); err != nil {
		t.Fatalf("ApplyConverted: %v", err)
	}
	if updates == 0 {
		t.Fatal("expected at least one update observer call")
	}

	tree, err := sd.Prosemirror()
	if err != nil {
		t.Fatalf("Prosemirror: %v", err)
	}
	if tree != `{"type":"doc"}` {
		t.Fatalf("unexpected tree: %s", tree)
	}

	meta, err := sd.Metadata()
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta["title"] != "Hello" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
}

func TestSetErrorWithoutStack(t *testing.T) {
	sd := New()
	if err := sd.SetError("boom", "trace-here", false); err != nil {
		t.Fatalf("SetError: %v", err)
	}
}

func TestLoadRoundtrip(t *testing.T) {
	sd := New()
	if err := sd.ApplyConverted(`{"type":"doc"}`, nil); err != nil {
		t.Fatalf("ApplyConverted: %v", err)
	}
	raw := sd.EncodeState()

	reloaded, err := Load(raw)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tree, err := reloaded.Prosemirror()
	if err != nil {
		t.Fatalf("Prosemirror: %v", err)
	}
	if tree != `{"type":"doc"}` {
		t.Fatalf("unexpected tree after reload: %s", tree)
	}
}

func TestDestroyIdempotent(t *testing.T) {
	sd := New()
	sd.Destroy()
	sd.Destroy()
	if err := sd.SetError("after destroy", "", false); err == nil {
		t.Fatal("expected error after destroy")
	}
}
