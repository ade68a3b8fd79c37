// Package awareness holds ephemeral, non-persisted per-client presence state
// (cursor, selection, online/offline) for a single Room. It is deliberately
// independent of the CRDT document: awareness state is never written to
// durable storage or the admin service.
package awareness

import (
	"encoding/json"
	"sync"
)

// ClientID identifies one awareness participant. A single Connection may
// control more than one ClientID (spec.md's Connection carries a set of
// awareness client-IDs it controls).
type ClientID uint64

// State is an opaque per-client awareness payload (cursor position,
// selection range, user name/color, etc). Callers treat it as JSON.
type State = json.RawMessage

// Handler is invoked whenever the awareness map changes, with the set of
// client IDs that changed in this update and their latest states (a nil
// entry means the client was removed).
type Handler func(changed map[ClientID]State)

// Awareness is the Shared Document's ephemeral presence sub-object.
type Awareness struct {
	mu        sync.Mutex
	states    map[ClientID]State
	handlers  []Handler
	destroyed bool
}

// New constructs an empty Awareness object.
func New() *Awareness {
	return &Awareness{states: make(map[ClientID]State)}
}

// SetLocalState installs or replaces the state for a client. Passing a nil
// state removes the client, mirroring disconnection semantics.
func (a *Awareness) SetLocalState(client ClientID, state State) {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return
	}
	if state == nil {
		delete(a.states, client)
	} else {
		a.states[client] = state
	}
	handlers := append([]Handler(nil), a.handlers...)
	a.mu.Unlock()

	changed := map[ClientID]State{client: state}
	for _, h := range handlers {
		h(changed)
	}
}

// Remove drops a set of client IDs at once, used when a Connection closes
// and all of its controlled awareness IDs must vanish atomically.
func (a *Awareness) Remove(clients []ClientID) {
	if len(clients) == 0 {
		return
	}
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return
	}
	changed := make(map[ClientID]State, len(clients))
	for _, c := range clients {
		delete(a.states, c)
		changed[c] = nil
	}
	handlers := append([]Handler(nil), a.handlers...)
	a.mu.Unlock()

	for _, h := range handlers {
		h(changed)
	}
}

// GetStates returns a snapshot copy of all known client states.
func (a *Awareness) GetStates() map[ClientID]State {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[ClientID]State, len(a.states))
	for k, v := range a.states {
		out[k] = v
	}
	return out
}

// OnUpdate registers an observer fired on every SetLocalState/Remove call.
func (a *Awareness) OnUpdate(h Handler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers = append(a.handlers, h)
}

// Destroy detaches all observers and clears state. Idempotent.
func (a *Awareness) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.destroyed = true
	a.handlers = nil
	a.states = make(map[ClientID]State)
}
