// Package statestore persists the view state string of each dataset using
// SQLite. Every write gets a new revision id; older revisions are kept as
// history until pruned.
package statestore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrNotFound is returned when a dataset has no stored state.
var ErrNotFound = errors.New("state not found")

// Record is one stored state revision.
type Record struct {
	DatasetID string    `json:"dataset_id"`
	Revision  string    `json:"revision"`
	State     string    `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store provides persistent storage for view state using SQLite.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *log.Logger
	now    func() time.Time
}

// NewStore opens (or creates) the database at dbPath. ":memory:" keeps the
// database in memory.
func NewStore(dbPath string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default()
	}
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
		// Each connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db, logger: logger.WithPrefix("statestore"), now: time.Now}
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
	CREATE TABLE IF NOT EXISTS view_state (
		dataset_id TEXT PRIMARY KEY,
		revision TEXT NOT NULL,
		state TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS view_state_history (
		revision TEXT PRIMARY KEY,
		dataset_id TEXT NOT NULL,
		state TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_dataset ON view_state_history(dataset_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Put stores state as the current revision of datasetID.
func (s *Store) Put(datasetID, state string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &Record{
		DatasetID: datasetID,
		Revision:  uuid.NewString(),
		State:     state,
		UpdatedAt: s.now().UTC(),
	}
	stamp := rec.UpdatedAt.Format(timeLayout)

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO view_state (dataset_id, revision, state, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(dataset_id) DO UPDATE SET
			revision = excluded.revision,
			state = excluded.state,
			updated_at = excluded.updated_at
	`, rec.DatasetID, rec.Revision, rec.State, stamp); err != nil {
		return nil, fmt.Errorf("failed to store state: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO view_state_history (revision, dataset_id, state, created_at)
		VALUES (?, ?, ?, ?)
	`, rec.Revision, rec.DatasetID, rec.State, stamp); err != nil {
		return nil, fmt.Errorf("failed to record history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.logger.Debug("stored state", "dataset", datasetID, "revision", rec.Revision)
	return rec, nil
}

// Get returns the current state of datasetID, or ErrNotFound.
func (s *Store) Get(datasetID string) (*Record, error) {
	row := s.db.QueryRow(`
		SELECT dataset_id, revision, state, updated_at
		FROM view_state WHERE dataset_id = ?
	`, datasetID)

	var rec Record
	var updatedAt string
	err := row.Scan(&rec.DatasetID, &rec.Revision, &rec.State, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return &rec, nil
}

// History returns up to limit revisions of datasetID, newest first.
func (s *Store) History(datasetID string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT dataset_id, revision, state, created_at
		FROM view_state_history WHERE dataset_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, datasetID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var rec Record
		var createdAt string
		if err := rows.Scan(&rec.DatasetID, &rec.Revision, &rec.State, &createdAt); err != nil {
			return nil, err
		}
		rec.UpdatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Delete removes the current state and history of datasetID.
func (s *Store) Delete(datasetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM view_state_history WHERE dataset_id = ?", datasetID); err != nil {
		return err
	}
	_, err := s.db.Exec("DELETE FROM view_state WHERE dataset_id = ?", datasetID)
	return err
}

// PruneHistory deletes history entries older than retention. Current states
// are never removed.
func (s *Store) PruneHistory(retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().UTC().Add(-retention).Format(timeLayout)
	res, err := s.db.Exec(`
		DELETE FROM view_state_history
		WHERE created_at < ? AND revision NOT IN (SELECT revision FROM view_state)
	`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("pruned state history", "deleted", n)
	}
	return n, nil
}
