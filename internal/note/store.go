package note

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ledgerline/recordtrail/internal/registry"
)

// InMemoryStore is an in-memory live store for notes. Used for testing and
// development. Thread-safe via RWMutex; returned notes are copies.
type InMemoryStore struct {
	mu    sync.RWMutex
	notes map[string]*Note
}

// NewInMemoryStore creates an empty in-memory note store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{notes: make(map[string]*Note)}
}

// Find retrieves a note by id.
func (s *InMemoryStore) Find(ctx context.Context, id string) (registry.Auditable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notes[id]
	if !ok {
		return nil, fmt.Errorf("%w: note %s", registry.ErrNotFound, id)
	}
	copied := *n
	return &copied, nil
}

// Create stores a new note.
func (s *InMemoryStore) Create(ctx context.Context, rec registry.Auditable) error {
	n, err := asNote(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *n
	copied.markPersisted()
	copied.CreatedAt = time.Now().UTC()
	copied.UpdatedAt = copied.CreatedAt
	s.notes[copied.ID] = &copied
	return nil
}

// Update overwrites an existing note.
func (s *InMemoryStore) Update(ctx context.Context, rec registry.Auditable) error {
	n, err := asNote(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notes[n.ID]; !ok {
		return fmt.Errorf("%w: note %s", registry.ErrNotFound, n.ID)
	}
	copied := *n
	copied.markPersisted()
	copied.UpdatedAt = time.Now().UTC()
	s.notes[copied.ID] = &copied
	return nil
}

// Delete removes a note; missing notes are a hard failure.
func (s *InMemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notes[id]; !ok {
		return fmt.Errorf("%w: note %s", registry.ErrNotFound, id)
	}
	delete(s.notes, id)
	return nil
}

// Count returns the number of live notes.
func (s *InMemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.notes)
}

func asNote(rec registry.Auditable) (*Note, error) {
	n, ok := rec.(*Note)
	if !ok {
		return nil, fmt.Errorf("note store received %T", rec)
	}
	return n, nil
}

// PostgresStore is the notes live store backed by a notes table.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger}
}

// Find retrieves a note by id.
func (s *PostgresStore) Find(ctx context.Context, id string) (registry.Auditable, error) {
	query := `SELECT id, title, body, status, created_at, updated_at FROM notes WHERE id = $1`
	var n Note
	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&n.ID, &n.Title, &n.Body, &n.Status, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: note %s", registry.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query note: %w", err)
	}
	n.markPersisted()
	return &n, nil
}

// Create inserts a new note row.
func (s *PostgresStore) Create(ctx context.Context, rec registry.Auditable) error {
	n, err := asNote(rec)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO notes (id, title, body, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
	`
	if _, err := s.db.ExecContext(ctx, query, n.ID, n.Title, n.Body, n.Status); err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	n.markPersisted()
	return nil
}

// Update overwrites an existing note row.
func (s *PostgresStore) Update(ctx context.Context, rec registry.Auditable) error {
	n, err := asNote(rec)
	if err != nil {
		return err
	}
	query := `UPDATE notes SET title = $2, body = $3, status = $4, updated_at = now() WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, n.ID, n.Title, n.Body, n.Status)
	if err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: note %s", registry.ErrNotFound, n.ID)
	}
	return nil
}

// Delete removes a note row; missing rows are a hard failure.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: note %s", registry.ErrNotFound, id)
	}
	return nil
}
