package savestate

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	// ErrSlotNotFound indicates the requested slot holds no envelope.
	ErrSlotNotFound = errors.New("savestate: slot not found")
	// ErrRewindEmpty indicates there is nothing left to rewind to.
	ErrRewindEmpty = errors.New("savestate: rewind history is empty")
)

// SlotInfo describes a stored slot without its payload.
type SlotInfo struct {
	Slot    string
	ID      uuid.UUID
	Created time.Time
	Label   string
	Program uint64
	Size    int
}

// Store keeps envelopes in named slots and a rewind history bounded to
// a fixed depth.
type Store struct {
	db          *sql.DB
	rewindDepth int
	mu          sync.Mutex
}

// Open opens or creates the store at path. A rewindDepth of 0 disables
// the rewind history.
func Open(path string, rewindDepth int) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	stmts := []string{
		"PRAGMA busy_timeout = 5000",
		`CREATE TABLE IF NOT EXISTS slots (
			slot     TEXT PRIMARY KEY,
			id       TEXT NOT NULL,
			created  TEXT NOT NULL,
			label    TEXT NOT NULL,
			program  TEXT NOT NULL,
			size     INTEGER NOT NULL,
			envelope BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rewind (
			seq      INTEGER PRIMARY KEY AUTOINCREMENT,
			envelope BLOB NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("initializing store: %w", err)
		}
	}
	return &Store{db: db, rewindDepth: max(rewindDepth, 0)}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// digests are stored as hex text; database/sql rejects uint64 values with the
// high bit set.
func formatDigest(d uint64) string { return fmt.Sprintf("%016x", d) }

func parseDigest(s string) (uint64, error) { return strconv.ParseUint(s, 16, 64) }

// Save stores env in slot, replacing what was there.
func (s *Store) Save(slot string, env *Envelope) error {
	data, err := MarshalEnvelope(env)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO slots (slot, id, created, label, program, size, envelope) VALUES (?, ?, ?, ?, ?, ?, ?)",
		slot, env.ID.String(), env.Created.Format(time.RFC3339Nano), env.Label, formatDigest(env.Program), env.Size(), data,
	)
	if err != nil {
		return fmt.Errorf("saving slot %s: %w", slot, err)
	}
	log.Infof("saved %s to slot %s", env.ID, slot)
	return nil
}

// Load retrieves the envelope in slot.
func (s *Store) Load(slot string) (*Envelope, error) {
	var data []byte
	err := s.db.QueryRow("SELECT envelope FROM slots WHERE slot = ?", slot).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrSlotNotFound, slot)
		}
		return nil, fmt.Errorf("querying slot %s: %w", slot, err)
	}
	return UnmarshalEnvelope(data)
}

// List describes every slot in name order.
func (s *Store) List() ([]SlotInfo, error) {
	rows, err := s.db.Query("SELECT slot, id, created, label, program, size FROM slots ORDER BY slot")
	if err != nil {
		return nil, fmt.Errorf("listing slots: %w", err)
	}
	defer rows.Close()

	var out []SlotInfo
	for rows.Next() {
		var info SlotInfo
		var id, created, program string
		if err := rows.Scan(&info.Slot, &id, &created, &info.Label, &program, &info.Size); err != nil {
			return nil, fmt.Errorf("scanning slot: %w", err)
		}
		if info.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("slot %s: %w", info.Slot, err)
		}
		if info.Created, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("slot %s: %w", info.Slot, err)
		}
		if info.Program, err = parseDigest(program); err != nil {
			return nil, fmt.Errorf("slot %s: %w", info.Slot, err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Delete removes slot.
func (s *Store) Delete(slot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec("DELETE FROM slots WHERE slot = ?", slot)
	if err != nil {
		return fmt.Errorf("deleting slot %s: %w", slot, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSlotNotFound, slot)
	}
	return nil
}

// PushRewind appends env to the rewind history, dropping the oldest entries
// beyond the configured depth.
func (s *Store) PushRewind(env *Envelope) error {
	if s.rewindDepth == 0 {
		return nil
	}
	data, err := MarshalEnvelope(env)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("pushing rewind: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec("INSERT INTO rewind (envelope) VALUES (?)", data); err != nil {
		return fmt.Errorf("pushing rewind: %w", err)
	}
	_, err = tx.Exec(
		"DELETE FROM rewind WHERE seq NOT IN (SELECT seq FROM rewind ORDER BY seq DESC LIMIT ?)",
		s.rewindDepth,
	)
	if err != nil {
		return fmt.Errorf("trimming rewind: %w", err)
	}
	return tx.Commit()
}

// PopRewind removes and returns the newest rewind entry.
func (s *Store) PopRewind() (*Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("popping rewind: %w", err)
	}
	defer tx.Rollback()
	var seq int64
	var data []byte
	err = tx.QueryRow("SELECT seq, envelope FROM rewind ORDER BY seq DESC LIMIT 1").Scan(&seq, &data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRewindEmpty
		}
		return nil, fmt.Errorf("popping rewind: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM rewind WHERE seq = ?", seq); err != nil {
		return nil, fmt.Errorf("popping rewind: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return UnmarshalEnvelope(data)
}

// RewindLen returns the number of rewind entries held.
func (s *Store) RewindLen() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM rewind").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting rewind: %w", err)
	}
	return n, nil
}
