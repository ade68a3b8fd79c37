// Package crdtdoc wraps automerge-go's *automerge.Doc as the "Shared
// Document" described by the spec: a CRDT replica holding the structured
// content fragment, document metadata, and a server-error slot, with
// observers fired on every mutation.
//
// Awareness is intentionally not part of this package; see
// internal/awareness for the ephemeral, non-persisted presence state.
package crdtdoc

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/pkg/errors"
)

const (
	slotProsemirror = "prosemirror"
	slotMetadata    = "daMetadata"
	slotError       = "error"
)

// UpdateHandler is invoked after every successful local or remote mutation
// with the document's full current encoded state. automerge-go's observed
// surface exposes whole-document snapshots (Save/Load) rather than a
// discrete delta type, so the "update bytes" handed to observers are the
// full encoded state; callers that need a diff (write-back debounce, the
// durable snapshot observer) only ever need "the document changed, here is
// its current state", which this satisfies.
type UpdateHandler func(fullState []byte)

// SharedDocument is the CRDT replica for one Room.
type SharedDocument struct {
	mu        sync.Mutex
	doc       *automerge.Doc
	handlers  []UpdateHandler
	destroyed bool
}

// New constructs an empty Shared Document. Tombstone garbage collection is
// never enabled for the lifetime of a SharedDocument: it is constructed via
// automerge.New/automerge.Load and no compaction call is ever issued against
// it, which is the GC-disabled-by-construction posture the spec requires.
func New() *SharedDocument {
	return &SharedDocument{doc: automerge.New()}
}

// Load reconstructs a Shared Document from a previously saved encoding
// (either the durable room storage or a freshly-converted seed document).
func Load(raw []byte) (*SharedDocument, error) {
	doc, err := automerge.Load(raw)
	if err != nil {
		return nil, errors.Wrap(err, "crdtdoc: failed to load document")
	}
	return &SharedDocument{doc: doc}, nil
}

// NewSyncState starts a fresh per-connection sync handshake state against
// this document, mirroring automerge.NewSyncState(doc) as used by
// cmd/four/pkg/sync.go in the teacher, generalized to one SyncState per
// live connection instead of one per process.
func (sd *SharedDocument) NewSyncState() *automerge.SyncState {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	return automerge.NewSyncState(sd.doc)
}

// LoadSyncState resumes a previously-saved sync cookie against this
// document.
func (sd *SharedDocument) LoadSyncState(cookie []byte) (*automerge.SyncState, error) {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	ss, err := automerge.LoadSyncState(sd.doc, cookie)
	if err != nil {
		return nil, errors.Wrap(err, "crdtdoc: failed to load sync state")
	}
	return ss, nil
}

// ReceiveSyncMessage applies an inbound sync-protocol message (Sync Step 1,
// Step 2, or an incremental Update all carry the same underlying automerge
// sync-message format, per spec.md's license to treat the CRDT library's
// operational-transform internals as a black box) to this document via the
// given connection's SyncState, then fans the resulting state out to every
// registered update handler.
func (sd *SharedDocument) ReceiveSyncMessage(ss *automerge.SyncState, payload []byte) error {
	sd.mu.Lock()
	if sd.destroyed {
		sd.mu.Unlock()
		return errors.New("crdtdoc: document destroyed")
	}
	if _, err := ss.ReceiveMessage(payload); err != nil {
		sd.mu.Unlock()
		return errors.Wrap(err, "crdtdoc: failed to receive sync message")
	}
	full := sd.doc.Save()
	handlers := append([]UpdateHandler(nil), sd.handlers...)
	sd.mu.Unlock()

	for _, h := range handlers {
		h(full)
	}
	return nil
}

// GenerateSyncMessage asks a connection's SyncState for its next
// outstanding message against the current document state. The bool mirrors
// automerge's own GenerateMessage (valid == false means nothing pending).
func (sd *SharedDocument) GenerateSyncMessage(ss *automerge.SyncState) ([]byte, bool) {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	msg, valid := ss.GenerateMessage()
	if !valid || msg == nil {
		return nil, false
	}
	return msg.Bytes(), true
}

// ApplyConverted replaces the prosemirror fragment and daMetadata map in a
// single transaction; it is the write step of the Persistence Binder's
// rebuild. The "error" slot is not cleared: it keeps whatever it held
// before the call.
func (sd *SharedDocument) ApplyConverted(treeJSON string, metadata map[string]string) error {
	sd.mu.Lock()
	if sd.destroyed {
		sd.mu.Unlock()
		return errors.New("crdtdoc: document destroyed")
	}
	if err := sd.doc.Path(slotProsemirror).Set(treeJSON); err != nil {
		sd.mu.Unlock()
		return errors.Wrap(err, "crdtdoc: failed to set prosemirror slot")
	}
	metaIface := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		metaIface[k] = v
	}
	if err := sd.doc.Path(slotMetadata).Set(metaIface); err != nil {
		sd.mu.Unlock()
		return errors.Wrap(err, "crdtdoc: failed to set daMetadata slot")
	}
	if _, err := sd.doc.Commit("convert", automerge.CommitOptions{AllowEmpty: true}); err != nil {
		sd.mu.Unlock()
		return errors.Wrap(err, "crdtdoc: failed to commit conversion")
	}
	full := sd.doc.Save()
	handlers := append([]UpdateHandler(nil), sd.handlers...)
	sd.mu.Unlock()

	for _, h := range handlers {
		h(full)
	}
	return nil
}

// Replace swaps the document's entire state to a freshly-loaded encoding,
// used by the Persistence Binder to restore a Room from durable storage
// without discarding the SharedDocument a Room already holds references to.
func (sd *SharedDocument) Replace(raw []byte) error {
	doc, err := automerge.Load(raw)
	if err != nil {
		return errors.Wrap(err, "crdtdoc: failed to load replacement state")
	}
	sd.mu.Lock()
	if sd.destroyed {
		sd.mu.Unlock()
		return errors.New("crdtdoc: document destroyed")
	}
	sd.doc = doc
	full := sd.doc.Save()
	handlers := append([]UpdateHandler(nil), sd.handlers...)
	sd.mu.Unlock()

	for _, h := range handlers {
		h(full)
	}
	return nil
}

// Prosemirror returns the current structured-tree JSON fragment, or "" if
// unset.
func (sd *SharedDocument) Prosemirror() (string, error) {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	val, err := sd.doc.Path(slotProsemirror).Get()
	if err != nil {
		return "", errors.Wrap(err, "crdtdoc: failed to read prosemirror slot")
	}
	if val == nil {
		return "", nil
	}
	s, _ := val.Interface().(string)
	return s, nil
}

// Metadata returns the current daMetadata map.
func (sd *SharedDocument) Metadata() (map[string]string, error) {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	val, err := sd.doc.Path(slotMetadata).Get()
	if err != nil {
		return nil, errors.Wrap(err, "crdtdoc: failed to read daMetadata slot")
	}
	out := map[string]string{}
	if val == nil {
		return out, nil
	}
	raw, _ := val.Interface().(map[string]interface{})
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out, nil
}

// SetError records a server-side error into the "error" map in a single
// transaction, as spec.md 4.2/4.3/4.4/4.7 all require so clients observe
// failures through the CRDT itself.
func (sd *SharedDocument) SetError(message string, stack string, includeStack bool) error {
	sd.mu.Lock()
	if sd.destroyed {
		sd.mu.Unlock()
		return errors.New("crdtdoc: document destroyed")
	}
	entry := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"message":   message,
	}
	if includeStack && stack != "" {
		entry["stack"] = stack
	}
	if err := sd.doc.Path(slotError).Set(entry); err != nil {
		sd.mu.Unlock()
		return errors.Wrap(err, "crdtdoc: failed to set error slot")
	}
	if _, err := sd.doc.Commit("error", automerge.CommitOptions{AllowEmpty: true}); err != nil {
		sd.mu.Unlock()
		return errors.Wrap(err, "crdtdoc: failed to commit error")
	}
	full := sd.doc.Save()
	handlers := append([]UpdateHandler(nil), sd.handlers...)
	sd.mu.Unlock()

	for _, h := range handlers {
		h(full)
	}
	return nil
}

// EncodeState serializes the full document state, used both for the
// durable snapshot observer and for seeding a fresh replica on reconnect.
func (sd *SharedDocument) EncodeState() []byte {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	return sd.doc.Save()
}

// MarshalTreeJSON is a small helper so callers building the prosemirror
// fragment don't need to reach into encoding/json themselves.
func MarshalTreeJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "crdtdoc: failed to marshal tree")
	}
	return string(b), nil
}

// OnUpdate registers an observer fired on every mutation (local conversion,
// error write, or inbound sync receive) with the document's full encoded
// state.
func (sd *SharedDocument) OnUpdate(h UpdateHandler) {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	sd.handlers = append(sd.handlers, h)
}

// Destroy detaches all observers. Idempotent.
func (sd *SharedDocument) Destroy() {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	sd.destroyed = true
	sd.handlers = nil
}
