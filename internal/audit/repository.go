package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNoRecords is returned when a query expects at least one change
	// record for an identity and none exist.
	ErrNoRecords = errors.New("no change records for identity")
	// ErrVersionNotSet is returned when a record reaches Insert without a
	// stamped version.
	ErrVersionNotSet = errors.New("change record version not set")
	// ErrInvalidRecordAction is returned when a record carries an action
	// outside create/update/destroy at insert time.
	ErrInvalidRecordAction = errors.New("change record action is invalid")
	// ErrDuplicateVersion is returned when an insert loses the sequencer
	// race: another writer claimed the same version for the identity first.
	ErrDuplicateVersion = errors.New("version already taken for identity")
)

// Repository persists and queries change records. Records are append-only:
// no implementation updates or deletes a record after insertion.
type Repository interface {
	// Insert persists rec, assigning ID and CreatedAt. The caller stamps
	// Version beforehand (see Sequencer). Returns the stored record.
	Insert(ctx context.Context, rec *ChangeRecord) (*ChangeRecord, error)

	// ForIdentity returns all records for identity ascending by version.
	// limit caps the result when > 0.
	ForIdentity(ctx context.Context, identity Identity, limit int) ([]*ChangeRecord, error)

	// Ancestors returns records for identity with version <= upToVersion,
	// ascending by version.
	Ancestors(ctx context.Context, identity Identity, upToVersion int) ([]*ChangeRecord, error)

	// Latest returns the highest-version record for identity, or ErrNoRecords.
	Latest(ctx context.Context, identity Identity) (*ChangeRecord, error)

	// ByVersion returns the record for identity at exactly version, or
	// ErrNoRecords.
	ByVersion(ctx context.Context, identity Identity, version int) (*ChangeRecord, error)

	// MaxVersion returns the highest version recorded for identity, 0 when
	// none exist. Read immediately before insert by the sequencer; see the
	// race note on Sequencer.
	MaxVersion(ctx context.Context, identity Identity) (int, error)
}

// InMemoryRepository is an in-memory Repository for tests and development.
// Thread-safe via RWMutex. Returned records are copies. Like the SQL
// implementation's unique index, Insert rejects a version already taken for
// the identity with ErrDuplicateVersion.
type InMemoryRepository struct {
	mu      sync.RWMutex
	records map[Identity][]*ChangeRecord
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{records: make(map[Identity][]*ChangeRecord)}
}

// Insert persists rec, assigning ID and CreatedAt.
func (r *InMemoryRepository) Insert(ctx context.Context, rec *ChangeRecord) (*ChangeRecord, error) {
	if !rec.Action.Valid() {
		return nil, ErrInvalidRecordAction
	}
	if rec.Version < 1 {
		return nil, ErrVersionNotSet
	}

	stored := *rec
	stored.ID = uuid.New().String()
	stored.CreatedAt = time.Now().UTC()

	r.mu.Lock()
	for _, existing := range r.records[rec.Auditable] {
		if existing.Version == rec.Version {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: %s v%d", ErrDuplicateVersion, rec.Auditable, rec.Version)
		}
	}
	r.records[rec.Auditable] = append(r.records[rec.Auditable], &stored)
	// Keep the slice ordered by version so reads need no re-sort.
	recs := r.records[rec.Auditable]
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Version < recs[j].Version })
	r.mu.Unlock()

	out := stored
	return &out, nil
}

// ForIdentity returns all records for identity ascending by version.
func (r *InMemoryRepository) ForIdentity(ctx context.Context, identity Identity, limit int) ([]*ChangeRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*ChangeRecord
	for _, rec := range r.records[identity] {
		copied := *rec
		results = append(results, &copied)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

// Ancestors returns records with version <= upToVersion, ascending by version.
func (r *InMemoryRepository) Ancestors(ctx context.Context, identity Identity, upToVersion int) ([]*ChangeRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*ChangeRecord
	for _, rec := range r.records[identity] {
		if rec.Version > upToVersion {
			break
		}
		copied := *rec
		results = append(results, &copied)
	}
	return results, nil
}

// Latest returns the highest-version record for identity.
func (r *InMemoryRepository) Latest(ctx context.Context, identity Identity) (*ChangeRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recs := r.records[identity]
	if len(recs) == 0 {
		return nil, ErrNoRecords
	}
	copied := *recs[len(recs)-1]
	return &copied, nil
}

// ByVersion returns the record at exactly version for identity.
func (r *InMemoryRepository) ByVersion(ctx context.Context, identity Identity, version int) (*ChangeRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rec := range r.records[identity] {
		if rec.Version == version {
			copied := *rec
			return &copied, nil
		}
	}
	return nil, ErrNoRecords
}

// MaxVersion returns the highest version recorded for identity, 0 when none.
func (r *InMemoryRepository) MaxVersion(ctx context.Context, identity Identity) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recs := r.records[identity]
	if len(recs) == 0 {
		return 0, nil
	}
	return recs[len(recs)-1].Version, nil
}
