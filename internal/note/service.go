package note

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ledgerline/recordtrail/internal/audit"
	"github.com/ledgerline/recordtrail/internal/registry"
)

// Service performs live note mutations and fires the audit lifecycle hooks:
// every create, update, and delete produces exactly one change record. This
// is the host-framework boundary from the engine's point of view, made
// concrete so the full pipeline can be exercised.
type Service struct {
	store    registry.LiveStore
	recorder *audit.Recorder
}

// NewService wires a Service.
func NewService(store registry.LiveStore, recorder *audit.Recorder) *Service {
	return &Service{store: store, recorder: recorder}
}

// Get retrieves a live note by id.
func (s *Service) Get(ctx context.Context, id string) (*Note, error) {
	found, err := s.store.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	n, ok := found.(*Note)
	if !ok {
		return nil, fmt.Errorf("note service received %T", found)
	}
	return n, nil
}

// Create persists a new note and records a create event carrying the full
// attribute snapshot. Assigns an id when the note has none.
func (s *Service) Create(ctx context.Context, n *Note, comment string) (*Note, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if err := s.store.Create(ctx, n); err != nil {
		return nil, err
	}
	_, err := s.recorder.Record(ctx, audit.Event{
		Auditable: audit.Identity{Type: TypeTag, ID: n.ID},
		Action:    audit.ActionCreate,
		Changes:   audit.SnapshotChanges(n.Snapshot()),
		Comment:   comment,
	})
	if err != nil {
		return nil, fmt.Errorf("record note create: %w", err)
	}
	return n, nil
}

// Update overwrites an existing note and records an update event carrying
// the before/after diff. Unchanged saves write no record.
func (s *Service) Update(ctx context.Context, n *Note, comment string) (*Note, error) {
	before, err := s.store.Find(ctx, n.ID)
	if err != nil {
		return nil, err
	}
	prior, ok := before.(*Note)
	if !ok {
		return nil, fmt.Errorf("note service received %T", before)
	}

	changes := audit.DiffChanges(prior.Snapshot(), n.Snapshot())
	if err := s.store.Update(ctx, n); err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return n, nil
	}

	_, err = s.recorder.Record(ctx, audit.Event{
		Auditable: audit.Identity{Type: TypeTag, ID: n.ID},
		Action:    audit.ActionUpdate,
		Changes:   changes,
		Comment:   comment,
	})
	if err != nil {
		return nil, fmt.Errorf("record note update: %w", err)
	}
	return n, nil
}

// Delete removes a note and records a destroy event carrying the full
// pre-destroy snapshot.
func (s *Service) Delete(ctx context.Context, id string, comment string) error {
	existing, err := s.store.Find(ctx, id)
	if err != nil {
		return err
	}
	prior, ok := existing.(*Note)
	if !ok {
		return fmt.Errorf("note service received %T", existing)
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	_, err = s.recorder.Record(ctx, audit.Event{
		Auditable: audit.Identity{Type: TypeTag, ID: id},
		Action:    audit.ActionDestroy,
		Changes:   audit.SnapshotChanges(prior.Snapshot()),
		Comment:   comment,
	})
	if err != nil {
		return fmt.Errorf("record note destroy: %w", err)
	}
	return nil
}
