package gossip

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const schema = `
	CREATE TABLE IF NOT EXISTS gossip (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_path TEXT NOT NULL,
		original_text TEXT NOT NULL DEFAULT '',
		gossip_text TEXT NOT NULL DEFAULT '',
		created_at REAL NOT NULL,
		file_size_bytes INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_gossip_active ON gossip(is_active);
`

// Store provides access to the gossip database. Every method is a single
// short statement; the pool is limited to one connection so there is only
// ever one writer.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	log.Info().Str("path", path).Msg("gossip database initialized")
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert stores a new active record and returns its id. The file size is
// snapshotted now; a missing file is recorded as zero bytes.
func (s *Store) Insert(path, originalText, anonymizedText string) (int64, error) {
	if path == "" {
		return 0, errors.New("insert gossip: audio path is required")
	}
	var size int64
	if fi, err := os.Stat(path); err == nil {
		size = fi.Size()
	}

	res, err := s.db.Exec(`
		INSERT INTO gossip (file_path, original_text, gossip_text, created_at, file_size_bytes, is_active)
		VALUES (?, ?, ?, ?, ?, 1)
	`, path, originalText, anonymizedText, unixFromTime(s.now()), size)
	if err != nil {
		return 0, fmt.Errorf("insert gossip: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert gossip id: %w", err)
	}

	log.Info().Int64("id", id).Str("file", path).Msg("added gossip")
	return id, nil
}

// RandomActive returns a uniformly random active record, or nil if there is none.
func (s *Store) RandomActive() (*Record, error) {
	row := s.db.QueryRow(`
		SELECT id, file_path, original_text, gossip_text, created_at, file_size_bytes, is_active
		FROM gossip
		WHERE is_active = 1
		ORDER BY RANDOM()
		LIMIT 1
	`)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("random gossip: %w", err)
	}
	return r, nil
}

// All returns the active records, newest first.
func (s *Store) All() ([]Record, error) {
	rows, err := s.db.Query(`
		SELECT id, file_path, original_text, gossip_text, created_at, file_size_bytes, is_active
		FROM gossip
		WHERE is_active = 1
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query gossip: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan gossip: %w", err)
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// Get returns the record with the given id regardless of its active flag,
// or nil if it does not exist.
func (s *Store) Get(id int64) (*Record, error) {
	row := s.db.QueryRow(`
		SELECT id, file_path, original_text, gossip_text, created_at, file_size_bytes, is_active
		FROM gossip
		WHERE id = ?
	`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get gossip %d: %w", id, err)
	}
	return r, nil
}

// Deactivate retires a record. Deactivating an inactive record is a no-op.
func (s *Store) Deactivate(id int64) error {
	if _, err := s.db.Exec(`UPDATE gossip SET is_active = 0 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deactivate gossip %d: %w", id, err)
	}
	log.Info().Int64("id", id).Msg("deactivated gossip")
	return nil
}

// CountActive returns the number of active records.
func (s *Store) CountActive() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM gossip WHERE is_active = 1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count gossip: %w", err)
	}
	return n, nil
}

// Reconcile deactivates every active record whose audio file no longer
// exists and returns how many were deactivated. It never activates rows.
func (s *Store) Reconcile() (int, error) {
	rows, err := s.db.Query(`SELECT id, file_path FROM gossip WHERE is_active = 1`)
	if err != nil {
		return 0, fmt.Errorf("query active gossip: %w", err)
	}
	var missing []int64
	for rows.Next() {
		var id int64
		var path string
		if err := rows.Scan(&id, &path); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan active gossip: %w", err)
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			missing = append(missing, id)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	// The single connection must be released before issuing updates.
	rows.Close()

	for _, id := range missing {
		if _, err := s.db.Exec(`UPDATE gossip SET is_active = 0 WHERE id = ?`, id); err != nil {
			return 0, fmt.Errorf("deactivate gossip %d: %w", id, err)
		}
	}
	if len(missing) > 0 {
		log.Info().Int("count", len(missing)).Msg("cleaned up missing file entries")
	}
	return len(missing), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var r Record
	var createdAt float64
	var active int
	if err := sc.Scan(&r.ID, &r.AudioPath, &r.OriginalText, &r.AnonymizedText,
		&createdAt, &r.SizeBytes, &active); err != nil {
		return nil, err
	}
	r.CreatedAt = timeFromUnix(createdAt)
	r.Active = active != 0
	return &r, nil
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
