// Package dispatcher is the Edge Dispatcher boundary: it extracts the
// document name, credential, and action set from an inbound HTTP request
// and forwards the call to the right Room, modeled directly on the
// teacher's mux.NewRouter()/httpsnoop request-logging setup.
package dispatcher

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/dalive/collabworker/internal/adminclient"
	"github.com/dalive/collabworker/internal/room"
	"github.com/dalive/collabworker/internal/storage"
)

// Dispatcher wires the Room Registry to the outside world.
type Dispatcher struct {
	registry          *room.Registry
	admin             *adminclient.Client
	store             storage.KVStore
	sharedSecret      string
	returnStackTraces bool
}

// New constructs a Dispatcher. sharedSecret may be empty to disable the
// admin-endpoint bearer-token check.
func New(registry *room.Registry, admin *adminclient.Client, store storage.KVStore, sharedSecret string, returnStackTraces bool) *Dispatcher {
	return &Dispatcher{
		registry:          registry,
		admin:             admin,
		store:             store,
		sharedSecret:      sharedSecret,
		returnStackTraces: returnStackTraces,
	}
}

// Router builds the gorilla/mux router, logging every request the way
// cmd/four/server/main.go does with httpsnoop.CaptureMetrics.
func (d *Dispatcher) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, w, req)
			slog.Info("handled", "method", req.Method, "url", req.URL.String(), "duration", m.Duration, "status", m.Code)
		})
	})

	r.Methods(http.MethodGet).Path("/api/v1/ping").HandlerFunc(d.handlePing)
	r.Methods(http.MethodPost).Path("/api/v1/syncadmin").HandlerFunc(d.handleSyncAdmin)
	r.Methods(http.MethodPost).Path("/api/v1/deleteadmin").HandlerFunc(d.handleDeleteAdmin)
	r.PathPrefix("/").HandlerFunc(d.handleWebSocket)
	return r
}

func (d *Dispatcher) requireSharedSecret(w http.ResponseWriter, r *http.Request) bool {
	if d.sharedSecret == "" {
		return true
	}
	if r.Header.Get("Authorization") == "token "+d.sharedSecret {
		return true
	}
	w.WriteHeader(http.StatusUnauthorized)
	return false
}

func (d *Dispatcher) handlePing(w http.ResponseWriter, r *http.Request) {
	if !d.requireSharedSecret(w, r) {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":           "ok",
		"service_bindings": []string{"daadmin", "rooms"},
	})
}

func (d *Dispatcher) handleSyncAdmin(w http.ResponseWriter, r *http.Request) {
	if !d.requireSharedSecret(w, r) {
		return
	}
	docName := r.URL.Query().Get("doc")
	if docName == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	rm, ok := d.registry.Get(docName)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	rm.HandleAPICall(r.Context())
	w.WriteHeader(http.StatusOK)
}

func (d *Dispatcher) handleDeleteAdmin(w http.ResponseWriter, r *http.Request) {
	if !d.requireSharedSecret(w, r) {
		return
	}
	docName := r.URL.Query().Get("doc")
	if docName == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	rm, ok := d.registry.Get(docName)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	rm.HandleAPICall(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// handleWebSocket implements spec.md 4.6's serve preamble: reject non-
// upgrade requests, require a document name, then hand off to the Room.
func (d *Dispatcher) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	docName := documentName(r)
	if docName == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	credential := r.Header.Get("Authorization")
	actions := adminclient.ParseActions(r.Header.Get("X-auth-actions"))

	rm := d.registry.GetOrCreate(docName, func() *room.Room {
		return room.New(room.Config{
			DocName:           docName,
			AdminURL:          docName,
			Admin:             d.admin,
			Store:             d.store,
			Registry:          d.registry,
			ReturnStackTraces: d.returnStackTraces,
		})
	})

	if err := rm.Serve(w, r, credential, actions); err != nil {
		slog.Error("dispatcher: room serve failed", "room", docName, "err", err)
		if d.returnStackTraces {
			http.Error(w, "Internal Server Error: "+err.Error(), http.StatusInternalServerError)
		} else {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	}
}

// documentName resolves the document name per spec.md 6 from the
// X-collab-room header, then a "doc" query parameter, then the path, in
// that preference order since the header is what spec.md 4.6's serve
// operation requires.
func documentName(r *http.Request) string {
	if h := r.Header.Get("X-collab-room"); h != "" {
		return h
	}
	if q := r.URL.Query().Get("doc"); q != "" {
		return q
	}
	if p := strings.Trim(r.URL.Path, "/"); p != "" {
		return p
	}
	return ""
}
