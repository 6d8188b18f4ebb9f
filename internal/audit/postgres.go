package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ledgerline/recordtrail/internal/attribution"
)

const uniqueViolation = "23505"

// PostgresRepository implements Repository against a change_records table.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger}
}

const changeRecordColumns = `id, auditable_type, auditable_id, associated_type, associated_id,
	actor, action, changes, version, comment, remote_address, request_id, created_at`

// Insert persists rec, assigning ID and CreatedAt. Version must already be
// stamped; the unique index on (auditable_type, auditable_id, version)
// rejects sequencer-race losers with ErrDuplicateVersion.
func (r *PostgresRepository) Insert(ctx context.Context, rec *ChangeRecord) (*ChangeRecord, error) {
	if !rec.Action.Valid() {
		return nil, ErrInvalidRecordAction
	}
	if rec.Version < 1 {
		return nil, ErrVersionNotSet
	}

	actorJSON, err := json.Marshal(rec.Actor)
	if err != nil {
		return nil, fmt.Errorf("encode actor: %w", err)
	}

	var assocType, assocID sql.NullString
	if rec.Associated != nil {
		assocType = sql.NullString{String: rec.Associated.Type, Valid: true}
		assocID = sql.NullString{String: rec.Associated.ID, Valid: true}
	}

	stored := *rec
	stored.ID = uuid.New().String()

	query := `
		INSERT INTO change_records (id, auditable_type, auditable_id, associated_type, associated_id,
			actor, action, changes, version, comment, remote_address, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
		RETURNING created_at
	`
	err = r.db.QueryRowContext(ctx, query,
		stored.ID, rec.Auditable.Type, rec.Auditable.ID, assocType, assocID,
		actorJSON, string(rec.Action), rec.Changes, rec.Version,
		nullable(rec.Comment), nullable(rec.RemoteAddress), nullable(rec.RequestID),
	).Scan(&stored.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			r.logger.Warn("concurrent writers raced on version assignment",
				slog.String("auditable", rec.Auditable.String()),
				slog.Int("version", rec.Version))
			return nil, fmt.Errorf("%w: %s v%d", ErrDuplicateVersion, rec.Auditable, rec.Version)
		}
		return nil, fmt.Errorf("insert change record: %w", err)
	}

	out := stored
	return &out, nil
}

// ForIdentity returns all records for identity ascending by version.
func (r *PostgresRepository) ForIdentity(ctx context.Context, identity Identity, limit int) ([]*ChangeRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM change_records
		WHERE auditable_type = $1 AND auditable_id = $2
		ORDER BY version ASC
	`, changeRecordColumns)
	args := []any{identity.Type, identity.ID}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query change records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Ancestors returns records with version <= upToVersion, ascending by version.
func (r *PostgresRepository) Ancestors(ctx context.Context, identity Identity, upToVersion int) ([]*ChangeRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM change_records
		WHERE auditable_type = $1 AND auditable_id = $2 AND version <= $3
		ORDER BY version ASC
	`, changeRecordColumns)

	rows, err := r.db.QueryContext(ctx, query, identity.Type, identity.ID, upToVersion)
	if err != nil {
		return nil, fmt.Errorf("query ancestors: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Latest returns the highest-version record for identity.
func (r *PostgresRepository) Latest(ctx context.Context, identity Identity) (*ChangeRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM change_records
		WHERE auditable_type = $1 AND auditable_id = $2
		ORDER BY version DESC
		LIMIT 1
	`, changeRecordColumns)

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, identity.Type, identity.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRecords
	}
	return rec, err
}

// ByVersion returns the record at exactly version for identity.
func (r *PostgresRepository) ByVersion(ctx context.Context, identity Identity, version int) (*ChangeRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM change_records
		WHERE auditable_type = $1 AND auditable_id = $2 AND version = $3
	`, changeRecordColumns)

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, identity.Type, identity.ID, version))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRecords
	}
	return rec, err
}

// MaxVersion returns the highest version recorded for identity, 0 when none.
func (r *PostgresRepository) MaxVersion(ctx context.Context, identity Identity) (int, error) {
	query := `
		SELECT COALESCE(MAX(version), 0) FROM change_records
		WHERE auditable_type = $1 AND auditable_id = $2
	`
	var max int
	if err := r.db.QueryRowContext(ctx, query, identity.Type, identity.ID).Scan(&max); err != nil {
		return 0, fmt.Errorf("query max version: %w", err)
	}
	return max, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*ChangeRecord, error) {
	var (
		rec        ChangeRecord
		assocType  sql.NullString
		assocID    sql.NullString
		actorJSON  []byte
		action     string
		comment    sql.NullString
		remoteAddr sql.NullString
		requestID  sql.NullString
		createdAt  time.Time
	)
	err := row.Scan(&rec.ID, &rec.Auditable.Type, &rec.Auditable.ID, &assocType, &assocID,
		&actorJSON, &action, &rec.Changes, &rec.Version, &comment, &remoteAddr, &requestID, &createdAt)
	if err != nil {
		return nil, err
	}

	if assocType.Valid && assocID.Valid {
		rec.Associated = &Identity{Type: assocType.String, ID: assocID.String}
	}
	if len(actorJSON) > 0 {
		var actor attribution.Actor
		if err := json.Unmarshal(actorJSON, &actor); err != nil {
			return nil, fmt.Errorf("decode actor: %w", err)
		}
		rec.Actor = actor
	}
	rec.Action = Action(action)
	rec.Comment = comment.String
	rec.RemoteAddress = remoteAddr.String
	rec.RequestID = requestID.String
	rec.CreatedAt = createdAt
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]*ChangeRecord, error) {
	var results []*ChangeRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan change record: %w", err)
		}
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate change records: %w", err)
	}
	return results, nil
}
