package dictionary

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLite is an indexed dictionary backend for dictionaries too large to
// hold in memory. Keys are folded at insert time so lookups stay a single
// indexed query.
type SQLite struct {
	db          *sql.DB
	insensitive bool
	lookup      *sql.Stmt
	insert      *sql.Stmt
}

// OpenSQLite opens (and if needed initializes) a sqlite dictionary index
// at path.
func OpenSQLite(path string, caseInsensitive bool) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening dictionary index %s: %w", path, err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS dict_entries (
		layer TEXT NOT NULL,
		key   TEXT NOT NULL,
		zh    TEXT NOT NULL,
		PRIMARY KEY (layer, key)
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing dictionary index: %w", err)
	}
	insert, err := db.Prepare("INSERT OR IGNORE INTO dict_entries (layer, key, zh) VALUES (?, ?, ?)")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("preparing dictionary insert: %w", err)
	}
	lookup, err := db.Prepare("SELECT zh FROM dict_entries WHERE layer = ? AND key = ?")
	if err != nil {
		insert.Close()
		db.Close()
		return nil, fmt.Errorf("preparing dictionary lookup: %w", err)
	}
	return &SQLite{db: db, insensitive: caseInsensitive, lookup: lookup, insert: insert}, nil
}

func (s *SQLite) Add(layer, source, translation string) error {
	key := foldKey(source, s.insensitive)
	if key == "" || translation == "" {
		return nil
	}
	if _, err := s.insert.Exec(layer, key, translation); err != nil {
		return fmt.Errorf("indexing dictionary entry: %w", err)
	}
	return nil
}

func (s *SQLite) Lookup(layer, source string) (string, bool) {
	var zh string
	err := s.lookup.QueryRow(layer, foldKey(source, s.insensitive)).Scan(&zh)
	if err != nil {
		return "", false
	}
	return zh, true
}

func (s *SQLite) Len() int {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM dict_entries").Scan(&n); err != nil {
		return 0
	}
	return n
}

func (s *SQLite) Close() error {
	s.lookup.Close()
	s.insert.Close()
	return s.db.Close()
}
