package memory

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"
)

// store persists entries in sqlite. The engine holds the authoritative
// in-memory copy; the store exists so memory survives process restarts.
type store struct {
	db *sql.DB
}

const storeSchema = `
CREATE TABLE IF NOT EXISTS entries (
	id               TEXT PRIMARY KEY,
	text             TEXT NOT NULL,
	vector           BLOB NOT NULL,
	timestamp        INTEGER NOT NULL,
	role             TEXT NOT NULL DEFAULT '',
	type             TEXT NOT NULL,
	salience         REAL NOT NULL DEFAULT 0,
	recall_count     INTEGER NOT NULL DEFAULT 0,
	last_recalled_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_entries_timestamp ON entries(timestamp);
`

func openStore(path string) (*store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	// Single writer; sqlite handles its own locking poorly under Go's
	// connection pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init memory schema: %w", err)
	}
	return &store{db: db}, nil
}

func (s *store) insert(entry Entry) error {
	var lastRecalled any
	if entry.LastRecalledAt != nil {
		lastRecalled = entry.LastRecalledAt.UnixMilli()
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO entries
		 (id, text, vector, timestamp, role, type, salience, recall_count, last_recalled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Text, encodeVector(entry.Vector), entry.Timestamp.UnixMilli(),
		entry.Role, string(entry.Type), entry.Salience, entry.RecallCount, lastRecalled,
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

func (s *store) updateRecall(id string, recallCount int, lastRecalledAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE entries SET recall_count = ?, last_recalled_at = ? WHERE id = ?`,
		recallCount, lastRecalledAt.UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("update recall: %w", err)
	}
	return nil
}

func (s *store) loadAll() ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT id, text, vector, timestamp, role, type, salience, recall_count, last_recalled_at
		 FROM entries ORDER BY timestamp ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry        Entry
			vector       []byte
			tsMilli      int64
			entryType    string
			lastRecalled sql.NullInt64
		)
		if err := rows.Scan(&entry.ID, &entry.Text, &vector, &tsMilli, &entry.Role,
			&entryType, &entry.Salience, &entry.RecallCount, &lastRecalled); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entry.Vector = decodeVector(vector)
		entry.Timestamp = time.UnixMilli(tsMilli)
		entry.Type = EntryType(entryType)
		if lastRecalled.Valid {
			t := time.UnixMilli(lastRecalled.Int64)
			entry.LastRecalledAt = &t
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *store) clear() error {
	if _, err := s.db.Exec(`DELETE FROM entries`); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}
	return nil
}

func (s *store) close() error {
	return s.db.Close()
}

func encodeVector(vector []float32) []byte {
	buf := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	vector := make([]float32, len(buf)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vector
}
