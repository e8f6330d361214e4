// Package selstore provides persistent storage for named selections using SQLite.
package selstore

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNameRequired is returned when a selection is saved without a name.
var ErrNameRequired = errors.New("selection name is required")

// Saved is one named snapshot of a selection. Samples are stored by their
// raw ids so a snapshot survives a reload of the data.
type Saved struct {
	ID        string    `json:"id"`
	DatasetID string    `json:"dataset_id"`
	Name      string    `json:"name"`
	SampleIDs []string  `json:"sample_ids"`
	Origin    string    `json:"origin"`
	Version   uint64    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// Store provides persistent storage for saved selections using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore creates a new SQLite-based selection store. ":memory:" keeps
// everything in memory.
func NewStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		// Ensure directory exists
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection would get its own empty database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS saved_selections (
		id TEXT PRIMARY KEY,
		dataset_id TEXT NOT NULL,
		name TEXT NOT NULL,
		sample_ids_json TEXT NOT NULL,
		origin TEXT DEFAULT '',
		version INTEGER DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_saved_selections_dataset ON saved_selections(dataset_id);
	CREATE INDEX IF NOT EXISTS idx_saved_selections_created ON saved_selections(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Create stores a new snapshot. ID and CreatedAt are filled in when empty.
func (s *Store) Create(sel *Saved) error {
	sel.Name = strings.TrimSpace(sel.Name)
	if sel.Name == "" {
		return ErrNameRequired
	}
	if sel.ID == "" {
		sel.ID = generateID()
	}
	if sel.CreatedAt.IsZero() {
		sel.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	if sel.SampleIDs == nil {
		sel.SampleIDs = []string{}
	}

	idsJSON, err := json.Marshal(sel.SampleIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal sample ids: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO saved_selections (id, dataset_id, name, sample_ids_json, origin, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		sel.ID,
		sel.DatasetID,
		sel.Name,
		string(idsJSON),
		sel.Origin,
		int64(sel.Version),
		sel.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// Get retrieves a snapshot by ID. It returns nil, nil when none exists.
func (s *Store) Get(id string) (*Saved, error) {
	row := s.db.QueryRow(`
		SELECT id, dataset_id, name, sample_ids_json, origin, version, created_at
		FROM saved_selections WHERE id = ?
	`, id)

	sel, err := scanSaved(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sel, err
}

// ListByDataset returns all snapshots of a dataset, newest first.
func (s *Store) ListByDataset(datasetID string) ([]*Saved, error) {
	rows, err := s.db.Query(`
		SELECT id, dataset_id, name, sample_ids_json, origin, version, created_at
		FROM saved_selections WHERE dataset_id = ?
		ORDER BY created_at DESC, name ASC
	`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*Saved{}
	for rows.Next() {
		sel, err := scanSaved(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sel)
	}
	return out, rows.Err()
}

// Delete deletes a snapshot. It reports whether one was deleted.
func (s *Store) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM saved_selections WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteExpired deletes snapshots older than retentionDays.
func (s *Store) DeleteExpired(retentionDays int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format(time.RFC3339)
	result, err := s.db.Exec(`
		DELETE FROM saved_selections WHERE created_at < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSaved(row scanner) (*Saved, error) {
	var sel Saved
	var idsJSON string
	var createdAtStr string
	var version int64

	err := row.Scan(
		&sel.ID,
		&sel.DatasetID,
		&sel.Name,
		&idsJSON,
		&sel.Origin,
		&version,
		&createdAtStr,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(idsJSON), &sel.SampleIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sample ids: %w", err)
	}
	sel.Version = uint64(version)
	sel.CreatedAt, _ = time.Parse(time.RFC3339, createdAtStr)
	return &sel, nil
}

func generateID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
