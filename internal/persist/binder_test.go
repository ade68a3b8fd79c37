package persist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dalive/collabworker/internal/adminclient"
	"github.com/dalive/collabworker/internal/crdtdoc"
	"github.com/dalive/collabworker/internal/storage"
)

func alwaysOwner() bool { return true }

func TestBindRestoresFromNotModified(t *testing.T) {
	store := storage.NewMemStore()
	doc := crdtdoc.New()
	if err := doc.ApplyConverted(`{"kind":"doc"}`, map[string]string{"title": "seed"}); err != nil {
		t.Fatalf("seed ApplyConverted: %v", err)
	}
	if err := storage.Write(store, "doc-x", doc.EncodeState(), `"etag-1"`); err != nil {
		t.Fatalf("seed storage.Write: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") != `"etag-1"` {
			t.Errorf("expected If-None-Match, got %q", r.Header.Get("If-None-Match"))
		}
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	freshDoc := crdtdoc.New()
	b := New("doc-x", srv.URL, adminclient.New(), store, freshDoc, RoomHooks{StillOwner: alwaysOwner}, false)

	readOnly, err := b.Bind(context.Background(), "cred")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if readOnly {
		t.Fatal("expected not read-only on restore path")
	}

	meta, err := freshDoc.Metadata()
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta["title"] != "seed" {
		t.Fatalf("expected restored metadata, got %+v", meta)
	}
}

func TestBindSecondCallerAwaitsSameResult(t *testing.T) {
	store := storage.NewMemStore()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("X-da-actions", "read=allow,write=allow")
		w.Write([]byte("<body><header></header><main><div><p></p></div></main><footer></footer></body>"))
	}))
	defer srv.Close()

	doc := crdtdoc.New()
	b := New("doc-y", srv.URL, adminclient.New(), store, doc, RoomHooks{StillOwner: alwaysOwner}, false)

	ro1, err1 := b.Bind(context.Background(), "cred-a")
	ro2, err2 := b.Bind(context.Background(), "cred-b")
	if err1 != nil || err2 != nil {
		t.Fatalf("Bind errors: %v %v", err1, err2)
	}
	if ro1 != ro2 {
		t.Fatal("expected both callers to observe the same readOnly result")
	}
	if calls != 1 {
		t.Fatalf("expected admin GET called exactly once, got %d", calls)
	}
}

func TestWriteBackSkippedWhenAllReadOnly(t *testing.T) {
	store := storage.NewMemStore()
	putCalled := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			putCalled = true
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	doc := crdtdoc.New()
	hooks := RoomHooks{
		StillOwner:             alwaysOwner,
		NonReadOnlyCredentials: func() []string { return nil },
	}
	b := New("doc-z", srv.URL, adminclient.New(), store, doc, hooks, false)
	b.flushWriteBack()

	if putCalled {
		t.Fatal("expected PUT to be skipped when all connections are read-only")
	}
}

func TestWriteBackPutsOnChange(t *testing.T) {
	store := storage.NewMemStore()
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			gotAuth = r.Header.Get("Authorization")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	doc := crdtdoc.New()
	if err := doc.ApplyConverted(`{"kind":"doc"}`, nil); err != nil {
		t.Fatalf("ApplyConverted: %v", err)
	}
	hooks := RoomHooks{
		StillOwner:             alwaysOwner,
		NonReadOnlyCredentials: func() []string { return []string{"cred-a", "cred-a", "cred-b"} },
	}
	b := New("doc-w", srv.URL, adminclient.New(), store, doc, hooks, false)
	b.flushWriteBack()

	if gotAuth != "cred-a,cred-b" {
		t.Fatalf("unexpected Authorization header: %q", gotAuth)
	}
}

func TestDebouncerFiresOnceAfterQuiet(t *testing.T) {
	fired := 0
	d := newDebouncer(20*time.Millisecond, time.Second, func() { fired++ })
	d.Trigger()
	d.Trigger()
	time.Sleep(80 * time.Millisecond)
	if fired != 1 {
		t.Fatalf("expected exactly one fire, got %d", fired)
	}
}

func TestDebouncerMaxWaitCeiling(t *testing.T) {
	fired := 0
	d := newDebouncer(time.Hour, 30*time.Millisecond, func() { fired++ })
	d.Trigger()
	time.Sleep(70 * time.Millisecond)
	d.Trigger()
	if fired != 1 {
		t.Fatalf("expected max-wait ceiling to force exactly one fire, got %d", fired)
	}
}
