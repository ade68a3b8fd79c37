package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the KVStore backing used outside of tests: one row per
// (room, key) pair in a single table, following the same database/sql +
// go-sqlite3 idiom the rest of this module's persistence uses elsewhere.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if necessary) a sqlite3 database at path
// and ensures the storage table exists.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS room_storage (
		room text not null,
		key text not null,
		value blob not null,
		primary key (room, key)
	)`)
	if err != nil {
		return fmt.Errorf("storage: create table: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Keys(room string) ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM room_storage WHERE room = $1`, room)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) Get(room, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRow(
		`SELECT value FROM room_storage WHERE room = $1 AND key = $2`, room, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *SQLiteStore) Put(room, key string, value []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO room_storage (room, key, value) VALUES ($1, $2, $3)
		 ON CONFLICT (room, key) DO UPDATE SET value = excluded.value`,
		room, key, value,
	)
	return err
}

func (s *SQLiteStore) DeleteAll(room string) error {
	_, err := s.db.Exec(`DELETE FROM room_storage WHERE room = $1`, room)
	return err
}
