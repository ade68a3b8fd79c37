package room

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dalive/collabworker/internal/adminclient"
	"github.com/dalive/collabworker/internal/storage"
	"github.com/dalive/collabworker/internal/wireproto"
)

func TestSelectSubprotocol(t *testing.T) {
	if got := SelectSubprotocol("yjs"); got != "yjs" {
		t.Fatalf("expected yjs, got %q", got)
	}
	if got := SelectSubprotocol("yjs,token-abc"); got != "yjs" {
		t.Fatalf("expected yjs, got %q", got)
	}
	if got := SelectSubprotocol("other"); got != "" {
		t.Fatalf("expected no subprotocol, got %q", got)
	}
	if got := SelectSubprotocol(""); got != "" {
		t.Fatalf("expected no subprotocol for empty header, got %q", got)
	}
}

func TestRegistryGetOrCreateReturnsSameRoom(t *testing.T) {
	reg := NewRegistry()
	created := 0
	newRoom := func() *Room {
		created++
		return New(Config{DocName: "doc-a", Admin: adminclient.New(), Store: storage.NewMemStore(), Registry: reg})
	}
	r1 := reg.GetOrCreate("doc-a", newRoom)
	r2 := reg.GetOrCreate("doc-a", newRoom)
	if r1 != r2 {
		t.Fatal("expected the same Room to be returned")
	}
	if created != 1 {
		t.Fatalf("expected exactly one Room construction, got %d", created)
	}
}

func TestRegistryRemoveOnlyRemovesCurrentOwner(t *testing.T) {
	reg := NewRegistry()
	rm := New(Config{DocName: "doc-b", Admin: adminclient.New(), Store: storage.NewMemStore(), Registry: reg})
	reg.GetOrCreate("doc-b", func() *Room { return rm })
	if !reg.IsOwner(rm) {
		t.Fatal("expected rm to be the owner")
	}

	replacement := New(Config{DocName: "doc-b", Admin: adminclient.New(), Store: storage.NewMemStore(), Registry: reg})
	reg.rooms.Store("doc-b", replacement)

	reg.Remove(rm)
	if !reg.IsOwner(replacement) {
		t.Fatal("stale Remove should not have evicted the replacement Room")
	}
}

func TestServeUpgradesAndSendsInitialSyncStep1(t *testing.T) {
	adminSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("X-da-actions", "read=allow,write=allow")
		w.Write([]byte("<body><header></header><main><div><p></p></div></main><footer></footer></body>"))
	}))
	defer adminSrv.Close()

	reg := NewRegistry()
	rm := reg.GetOrCreate("doc-c", func() *Room {
		return New(Config{
			DocName:  "doc-c",
			AdminURL: adminSrv.URL,
			Admin:    adminclient.New(),
			Store:    storage.NewMemStore(),
			Registry: reg,
		})
	})

	wsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := rm.Serve(w, r, "cred-a", nil); err != nil {
			t.Errorf("Serve: %v", err)
		}
	}))
	defer wsSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(wsSrv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	frame, err := wireproto.Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if frame.Kind != wireproto.KindSync || frame.SyncKind != wireproto.SyncStep1 {
		t.Fatalf("expected initial Sync Step 1 frame, got kind=%v syncKind=%v", frame.Kind, frame.SyncKind)
	}
}
