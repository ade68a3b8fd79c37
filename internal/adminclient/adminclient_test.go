package adminclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseActionsReadOnly(t *testing.T) {
	cases := []struct {
		header   string
		readOnly bool
	}{
		{"read=allow,write=allow", false},
		{"read=allow,write=deny", false},
		{"read=deny,write=deny", true},
		{"", true},
	}
	for _, c := range cases {
		actions := ParseActions(c.header)
		if got := actions.ReadOnly(); got != c.readOnly {
			t.Errorf("ParseActions(%q).ReadOnly() = %v, want %v", c.header, got, c.readOnly)
		}
	}
}

func TestGetSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("X-da-actions", "read=allow,write=allow")
		w.Write([]byte("<body></body>"))
	}))
	defer srv.Close()

	c := New()
	res, err := c.Get(context.Background(), srv.URL, "token-a", "")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res.ETag != `"v1"` {
		t.Fatalf("unexpected etag: %q", res.ETag)
	}
	if string(res.Body) != "<body></body>" {
		t.Fatalf("unexpected body: %q", res.Body)
	}
	if res.Actions.ReadOnly() {
		t.Fatal("expected write access")
	}
}

func TestGetNotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") != `"v1"` {
			t.Errorf("expected If-None-Match header, got %q", r.Header.Get("If-None-Match"))
		}
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	c := New()
	res, err := c.Get(context.Background(), srv.URL, "", `"v1"`)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !res.NotModified {
		t.Fatal("expected NotModified result")
	}
}

func TestGetFatalStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New()
	_, err := c.Get(context.Background(), srv.URL, "", "")
	if err == nil {
		t.Fatal("expected fatal error for 403")
	}
}

func TestPutMultipartBody(t *testing.T) {
	var gotAuth, gotIfMatch, gotInitiator, gotData string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotIfMatch = r.Header.Get("If-Match")
		gotInitiator = r.Header.Get("X-DA-Initiator")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		f, _, err := r.FormFile("data")
		if err != nil {
			t.Fatalf("FormFile: %v", err)
		}
		b, _ := io.ReadAll(f)
		gotData = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New()
	res, err := c.Put(context.Background(), srv.URL, "<p>Hi!</p>", "token-a,token-b")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", res.StatusCode)
	}
	if gotAuth != "token-a,token-b" {
		t.Fatalf("unexpected authorization: %q", gotAuth)
	}
	if gotIfMatch != "*" {
		t.Fatalf("expected If-Match: *, got %q", gotIfMatch)
	}
	if gotInitiator != "collab" {
		t.Fatalf("expected X-DA-Initiator: collab, got %q", gotInitiator)
	}
	if !strings.Contains(gotData, "Hi!") {
		t.Fatalf("expected body data, got %q", gotData)
	}
}

func TestMergeAuthorizationDedup(t *testing.T) {
	got := MergeAuthorization([]string{"a", "b", "a", "", "c"})
	if got != "a,b,c" {
		t.Fatalf("unexpected merge: %q", got)
	}
}
