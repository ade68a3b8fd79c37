// Package room implements the Room and Room Registry: one Room owns
// exactly one Shared Document, its connection map, and its Persistence
// Binder, and serializes all mutation of that state onto a single
// goroutine-with-mailbox, per the actor realization the concurrency model
// calls for.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/dalive/collabworker/internal/adminclient"
	"github.com/dalive/collabworker/internal/awareness"
	"github.com/dalive/collabworker/internal/crdtdoc"
	"github.com/dalive/collabworker/internal/persist"
	"github.com/dalive/collabworker/internal/storage"
	"github.com/dalive/collabworker/internal/wireproto"
)

// mailboxBuffer keeps the common case (a handful of in-flight messages)
// from blocking callers; the Room itself is still single-threaded, this
// just absorbs bursts.
const mailboxBuffer = 64

// Config is everything a Room needs to construct its Shared Document,
// Persistence Binder, and durable storage binding.
type Config struct {
	DocName           string
	AdminURL          string
	Admin             *adminclient.Client
	Store             storage.KVStore
	Registry          *Registry
	ReturnStackTraces bool
}

// Room is one live document plus its connections.
type Room struct {
	name              string
	doc               *crdtdoc.SharedDocument
	awareness         *awareness.Awareness
	binder            *persist.Binder
	registry          *Registry
	returnStackTraces bool

	mailbox chan func()
	stopped chan struct{}

	connMu      sync.RWMutex
	connections map[uint64]*Connection
	nextConnID  uint64
}

// New constructs a Room and starts its mailbox goroutine. It does not
// register the Room in cfg.Registry; callers (normally Registry.GetOrCreate)
// do that.
func New(cfg Config) *Room {
	doc := crdtdoc.New()
	aw := awareness.New()
	r := &Room{
		name:              cfg.DocName,
		doc:               doc,
		awareness:         aw,
		registry:          cfg.Registry,
		returnStackTraces: cfg.ReturnStackTraces,
		mailbox:           make(chan func(), mailboxBuffer),
		stopped:           make(chan struct{}),
		connections:       make(map[uint64]*Connection),
	}
	r.binder = persist.New(cfg.DocName, cfg.AdminURL, cfg.Admin, cfg.Store, doc, persist.RoomHooks{
		StillOwner:             func() bool { return r.registry.IsOwner(r) },
		NonReadOnlyCredentials: r.nonReadOnlyCredentials,
		CloseAllConnections:    r.closeAllConnectionsAsync,
		Deregister:             func() { r.registry.Remove(r) },
	}, cfg.ReturnStackTraces)

	aw.OnUpdate(func(changed map[awareness.ClientID]awareness.State) {
		r.post(func() { r.broadcastAwarenessChange(changed) })
	})

	go r.run()
	return r
}

func (r *Room) run() {
	for {
		select {
		case <-r.stopped:
			return
		case fn := <-r.mailbox:
			fn()
		}
	}
}

// post schedules fn on the Room's single goroutine. It never blocks
// indefinitely: if the Room has already stopped, fn is discarded.
func (r *Room) post(fn func()) {
	select {
	case r.mailbox <- fn:
	case <-r.stopped:
	}
}

// stop ends the mailbox goroutine. The mailbox itself is never closed, so a
// later post cannot send on a closed channel. Only called on the Room's own
// goroutine.
func (r *Room) stop() {
	select {
	case <-r.stopped:
	default:
		close(r.stopped)
	}
}

// Serve implements spec.md 4.6's serve operation: upgrades the request,
// binds persistence, and wires the connection's read/write pumps. Callers
// (the Dispatcher) have already validated the request is a WebSocket
// upgrade carrying a document name and extracted the credential/action set.
func (r *Room) Serve(w http.ResponseWriter, req *http.Request, credential string, preAuthActions adminclient.ActionSet) error {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		Subprotocols:    []string{"yjs"},
	}
	subprotocol := SelectSubprotocol(req.Header.Get("Sec-WebSocket-Protocol"))
	responseHeader := http.Header{}
	if subprotocol != "" {
		responseHeader.Set("Sec-WebSocket-Protocol", subprotocol)
	}

	ws, err := upgrader.Upgrade(w, req, responseHeader)
	if err != nil {
		return err
	}

	readOnly, err := r.binder.Bind(req.Context(), credential)
	if err != nil {
		slog.Error("room: bind failed", "room", r.name, "err", err)
		_ = ws.Close()
		return err
	}
	if !readOnly && preAuthActions != nil {
		readOnly = preAuthActions.ReadOnly()
	}

	done := make(chan struct{})
	r.post(func() {
		r.connMu.Lock()
		r.nextConnID++
		id := r.nextConnID
		r.connMu.Unlock()

		ss := r.doc.NewSyncState()
		conn := newConnection(id, ws, r, credential, readOnly, ss)

		r.connMu.Lock()
		r.connections[id] = conn
		r.connMu.Unlock()

		go conn.writePump()
		go conn.readPump()

		if msg, ok := r.doc.GenerateSyncMessage(ss); ok {
			conn.enqueue(wireproto.EncodeSyncStep1(msg))
		}
		if states := r.awareness.GetStates(); len(states) > 0 {
			if payload, err := json.Marshal(toAwarenessEntries(states)); err == nil {
				conn.enqueue(wireproto.EncodeAwareness(payload))
			}
		}
		close(done)
	})
	select {
	case <-done:
		return nil
	case <-r.stopped:
		_ = ws.Close()
		return errors.New("room: destroyed before connection could be registered")
	}
}

// handleInbound decodes and applies one inbound frame from c, on the
// Room's own goroutine.
func (r *Room) handleInbound(c *Connection, raw []byte) {
	frame, err := wireproto.Decode(raw)
	if err != nil {
		r.recordError("invalid message frame", err)
		return
	}

	switch frame.Kind {
	case wireproto.KindSync:
		r.handleSyncFrame(c, frame)
	case wireproto.KindAwareness:
		r.handleAwarenessFrame(c, frame.Payload)
	}
}

func (r *Room) handleSyncFrame(c *Connection, frame wireproto.Frame) {
	if frame.SyncKind != wireproto.SyncStep1 && c.readOnly {
		// Sync Step 2 and Update from a read-only connection are silently
		// dropped without applying, per spec.md 4.3.
		return
	}
	if err := r.doc.ReceiveSyncMessage(c.syncState, frame.Payload); err != nil {
		r.recordError("failed to apply sync message", err)
		return
	}
	r.syncAll()
}

// syncAll drains each connection's pending outgoing sync messages,
// generalizing the teacher's single-peer generate-and-write loop to
// broadcast fan-out across every live connection.
func (r *Room) syncAll() {
	r.connMu.RLock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, c := range r.connections {
		conns = append(conns, c)
	}
	r.connMu.RUnlock()

	for _, c := range conns {
		for {
			msg, ok := r.doc.GenerateSyncMessage(c.syncState)
			if !ok {
				break
			}
			c.enqueue(wireproto.EncodeUpdate(msg))
		}
	}
}

// awarenessEntry is the wire shape of one awareness frame's entries: this
// module's own simplified awareness relay format (a JSON array of
// client/state pairs), since the CRDT layer's awareness protocol internals
// are out of scope the same way the sync sub-kinds are.
type awarenessEntry struct {
	ClientID awareness.ClientID `json:"clientId"`
	State    json.RawMessage    `json:"state,omitempty"`
}

func toAwarenessEntries(states map[awareness.ClientID]awareness.State) []awarenessEntry {
	out := make([]awarenessEntry, 0, len(states))
	for id, st := range states {
		out = append(out, awarenessEntry{ClientID: id, State: st})
	}
	return out
}

func (r *Room) handleAwarenessFrame(c *Connection, payload []byte) {
	var entries []awarenessEntry
	if err := json.Unmarshal(payload, &entries); err != nil {
		r.recordError("invalid awareness frame", err)
		return
	}
	for _, e := range entries {
		c.trackAwareness(e.ClientID)
		r.awareness.SetLocalState(e.ClientID, e.State)
	}
	r.broadcastAwarenessRaw(c, payload)
}

func (r *Room) broadcastAwarenessRaw(origin *Connection, payload []byte) {
	frame := wireproto.EncodeAwareness(payload)
	r.connMu.RLock()
	defer r.connMu.RUnlock()
	for _, c := range r.connections {
		if c == origin {
			continue
		}
		c.enqueue(frame)
	}
}

func (r *Room) broadcastAwarenessChange(changed map[awareness.ClientID]awareness.State) {
	entries := make([]awarenessEntry, 0, len(changed))
	for id, st := range changed {
		entries = append(entries, awarenessEntry{ClientID: id, State: st})
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return
	}
	frame := wireproto.EncodeAwareness(payload)
	r.connMu.RLock()
	defer r.connMu.RUnlock()
	for _, c := range r.connections {
		c.enqueue(frame)
	}
}

func (r *Room) recordError(message string, err error) {
	stack := ""
	if r.returnStackTraces {
		stack = err.Error()
	}
	_ = r.doc.SetError(message, stack, r.returnStackTraces)
}

// removeConnection drops c from the connection map and its controlled
// awareness IDs, then destroys the Room if it was the last connection.
func (r *Room) removeConnection(c *Connection) {
	r.connMu.Lock()
	_, existed := r.connections[c.id]
	delete(r.connections, c.id)
	remaining := len(r.connections)
	r.connMu.Unlock()
	if !existed {
		return
	}

	r.awareness.Remove(c.controlledAwarenessIDs())
	c.Close()

	if remaining == 0 {
		r.destroy()
	}
}

// destroy tears down the Room: detaches the Document and Awareness, removes
// it from the Registry, and stops its mailbox goroutine.
func (r *Room) destroy() {
	r.registry.Remove(r)
	r.doc.Destroy()
	r.awareness.Destroy()
	r.stop()
}

// closeAllConnectionsAsync closes every connection of the Room. Posted to
// the Room's own goroutine so the connection map isn't mutated concurrently
// with message handling; called from the Persistence Binder's write-back
// goroutine (a suspension point per spec.md 5).
func (r *Room) closeAllConnectionsAsync() {
	r.post(func() {
		r.connMu.RLock()
		conns := make([]*Connection, 0, len(r.connections))
		for _, c := range r.connections {
			conns = append(conns, c)
		}
		r.connMu.RUnlock()
		for _, c := range conns {
			c.Close()
		}
	})
}

// nonReadOnlyCredentials returns the credential of every non-read-only
// connection, duplicates included, for the Persistence Binder's write-back
// Authorization header (adminclient.MergeAuthorization de-duplicates them).
// Safe to call from any goroutine.
func (r *Room) nonReadOnlyCredentials() []string {
	r.connMu.RLock()
	defer r.connMu.RUnlock()
	var creds []string
	for _, c := range r.connections {
		if !c.readOnly {
			creds = append(creds, c.credential)
		}
	}
	return creds
}

// HandleAPICall implements spec.md 4.6's handleApiCall: syncAdmin and
// deleteAdmin both invalidate the Room (close all connections); the only
// difference is the HTTP status the Dispatcher returns for "the Room
// existed". It always returns true: the Dispatcher answers 404 itself when
// no Room is registered for the name, and does not read this result.
func (r *Room) HandleAPICall(ctx context.Context) (ok bool) {
	r.post(func() {
		r.connMu.RLock()
		conns := make([]*Connection, 0, len(r.connections))
		for _, c := range r.connections {
			conns = append(conns, c)
		}
		r.connMu.RUnlock()
		for _, c := range conns {
			c.Close()
		}
	})
	return true
}

// SelectSubprotocol implements spec.md 4.6: echo "yjs" if offered, else none.
func SelectSubprotocol(offered string) string {
	for _, p := range splitAndTrim(offered, ',') {
		if p == "yjs" {
			return "yjs"
		}
	}
	return ""
}

func splitAndTrim(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == sep {
			part := trimSpace(s[start:i])
			if part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	return out
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}
