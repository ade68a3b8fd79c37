package room

import "sync"

// Registry is the process-wide document-name -> Room map, modeled on the
// teacher's server.cache *sync.Map in cmd/four/server/main.go, generalized
// from a bare automerge.Doc cache to a Room cache and made an injectable
// value rather than a package global.
type Registry struct {
	mu    sync.Mutex
	rooms sync.Map // document name -> *Room
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Get returns the Room currently registered for name, if any.
func (r *Registry) Get(name string) (*Room, bool) {
	v, ok := r.rooms.Load(name)
	if !ok {
		return nil, false
	}
	return v.(*Room), true
}

// GetOrCreate returns the existing Room for name, or creates and registers
// one using newRoom. Creation is serialized so two concurrent first
// connects never construct two Rooms for the same name.
func (r *Registry) GetOrCreate(name string, newRoom func() *Room) *Room {
	if existing, ok := r.Get(name); ok {
		return existing
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.Get(name); ok {
		return existing
	}
	rm := newRoom()
	r.rooms.Store(name, rm)
	return rm
}

// Remove unregisters a Room, but only if it is still the currently
// registered one for its name (a stale Remove from a torn-down Room must
// not evict a newer Room created for the same name).
func (r *Registry) Remove(rm *Room) {
	if existing, ok := r.Get(rm.name); ok && existing == rm {
		r.rooms.Delete(rm.name)
	}
}

// IsOwner reports whether rm is still the registered Room for its name,
// the "still registered" check suspension points must re-run on resume.
func (r *Registry) IsOwner(rm *Room) bool {
	existing, ok := r.Get(rm.name)
	return ok && existing == rm
}
