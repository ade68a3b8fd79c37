// Package storage implements the chunked durable record a Room uses to
// persist CRDT state between restarts, per the constraints of the
// underlying key-value store: at most 128 keys per record and at most
// 131072 bytes per value.
package storage

import (
	"fmt"
)

// maxValueBytes is the underlying store's per-value size limit.
const maxValueBytes = 131072

// maxChunks is the underlying store's per-record key-count ceiling. A
// state requiring chunks >= maxChunks cannot be stored at all.
const maxChunks = 128

// KVStore is the narrow persistence surface the codec needs, so tests can
// substitute an in-memory fake instead of a real database.
type KVStore interface {
	// Keys returns every key currently stored for room, or nil if none.
	Keys(room string) ([]string, error)
	// Get returns the value for key under room, or ok=false if absent.
	Get(room, key string) (value []byte, ok bool, err error)
	// Put writes key=value under room.
	Put(room, key string, value []byte) error
	// DeleteAll removes every key stored under room.
	DeleteAll(room string) error
}

// Record is the decoded shape of a stored document: either docstore or
// chunks/chunk_* is populated, never both.
type Record struct {
	DocName string
	State   []byte
	ETag    string
}

const (
	keyDoc      = "doc"
	keyDocstore = "docstore"
	keyChunks   = "chunks"
	keyETag     = "etag"
)

func chunkKey(i int) string {
	return fmt.Sprintf("chunk_%d", i)
}

// Write implements the §4.5 write algorithm: delete everything previously
// stored for docName, then write either a single docstore value or a
// chunked sequence, whichever the state size requires.
func Write(store KVStore, docName string, state []byte, etag string) error {
	if err := store.DeleteAll(docName); err != nil {
		return fmt.Errorf("storage: delete-all before write: %w", err)
	}

	if err := store.Put(docName, keyDoc, []byte(docName)); err != nil {
		return fmt.Errorf("storage: write doc tag: %w", err)
	}
	if etag != "" {
		if err := store.Put(docName, keyETag, []byte(etag)); err != nil {
			return fmt.Errorf("storage: write etag: %w", err)
		}
	}

	if len(state) <= maxValueBytes {
		if err := store.Put(docName, keyDocstore, state); err != nil {
			return fmt.Errorf("storage: write docstore: %w", err)
		}
		return nil
	}

	n := (len(state) + maxValueBytes - 1) / maxValueBytes
	if n >= maxChunks {
		return fmt.Errorf("storage: state requires %d chunks, limit is %d", n, maxChunks)
	}

	if err := store.Put(docName, keyChunks, []byte(fmt.Sprintf("%d", n))); err != nil {
		return fmt.Errorf("storage: write chunk count: %w", err)
	}
	for i := 0; i < n; i++ {
		start := i * maxValueBytes
		end := start + maxValueBytes
		if end > len(state) {
			end = len(state)
		}
		if err := store.Put(docName, chunkKey(i), state[start:end]); err != nil {
			return fmt.Errorf("storage: write %s: %w", chunkKey(i), err)
		}
	}
	return nil
}

// Read implements the §4.5 read algorithm. ok=false means the record was
// absent (or was wiped because its doc tag didn't match docName).
func Read(store KVStore, docName string) (rec Record, ok bool, err error) {
	keys, err := store.Keys(docName)
	if err != nil {
		return Record{}, false, fmt.Errorf("storage: list keys: %w", err)
	}
	if len(keys) == 0 {
		return Record{}, false, nil
	}

	docTag, hasDoc, err := store.Get(docName, keyDoc)
	if err != nil {
		return Record{}, false, fmt.Errorf("storage: read doc tag: %w", err)
	}
	if !hasDoc || string(docTag) != docName {
		if err := store.DeleteAll(docName); err != nil {
			return Record{}, false, fmt.Errorf("storage: wipe mismatched record: %w", err)
		}
		return Record{}, false, nil
	}

	etagBytes, hasETag, err := store.Get(docName, keyETag)
	if err != nil {
		return Record{}, false, fmt.Errorf("storage: read etag: %w", err)
	}
	etag := ""
	if hasETag {
		etag = string(etagBytes)
	}

	if docstore, hasDocstore, err := store.Get(docName, keyDocstore); err != nil {
		return Record{}, false, fmt.Errorf("storage: read docstore: %w", err)
	} else if hasDocstore {
		return Record{DocName: docName, State: docstore, ETag: etag}, true, nil
	}

	chunksRaw, hasChunks, err := store.Get(docName, keyChunks)
	if err != nil {
		return Record{}, false, fmt.Errorf("storage: read chunk count: %w", err)
	}
	if !hasChunks {
		return Record{}, false, nil
	}
	var n int
	if _, err := fmt.Sscanf(string(chunksRaw), "%d", &n); err != nil {
		return Record{}, false, fmt.Errorf("storage: parse chunk count: %w", err)
	}

	var state []byte
	for i := 0; i < n; i++ {
		chunk, ok, err := store.Get(docName, chunkKey(i))
		if err != nil {
			return Record{}, false, fmt.Errorf("storage: read %s: %w", chunkKey(i), err)
		}
		if !ok {
			return Record{}, false, fmt.Errorf("storage: missing %s of %d", chunkKey(i), n)
		}
		state = append(state, chunk...)
	}
	return Record{DocName: docName, State: state, ETag: etag}, true, nil
}
