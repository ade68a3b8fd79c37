package storage

// MemStore is an in-memory KVStore fake for tests, per the
// PersistenceInterface substitution principle.
type MemStore struct {
	rooms map[string]map[string][]byte
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{rooms: map[string]map[string][]byte{}}
}

func (m *MemStore) Keys(room string) ([]string, error) {
	kv, ok := m.rooms[room]
	if !ok {
		return nil, nil
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *MemStore) Get(room, key string) ([]byte, bool, error) {
	kv, ok := m.rooms[room]
	if !ok {
		return nil, false, nil
	}
	v, ok := kv[key]
	return v, ok, nil
}

func (m *MemStore) Put(room, key string, value []byte) error {
	kv, ok := m.rooms[room]
	if !ok {
		kv = map[string][]byte{}
		m.rooms[room] = kv
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	kv[key] = cp
	return nil
}

func (m *MemStore) DeleteAll(room string) error {
	delete(m.rooms, room)
	return nil
}
