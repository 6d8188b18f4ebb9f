package audit

import (
	"context"
	"fmt"
)

// Sequencer assigns version numbers to change records. A create always gets
// version 1; anything else gets the current maximum for the identity plus one,
// read from the repository immediately before insert.
//
// This is a read-then-write sequence, not a transactional counter. Two
// concurrent mutations to the same identity can read the same maximum and
// collide on insert (the unique index rejects the loser). The sequencer does
// not serialize version assignment itself; callers that need strict
// serialization wrap the record-and-insert in an external per-identity
// exclusivity mechanism such as lock.IdentityLock.
type Sequencer struct {
	versions VersionSource
}

// VersionSource is the slice of Repository the sequencer needs.
type VersionSource interface {
	MaxVersion(ctx context.Context, identity Identity) (int, error)
}

// NewSequencer creates a Sequencer reading current maximums from src.
func NewSequencer(src VersionSource) *Sequencer {
	return &Sequencer{versions: src}
}

// Next returns the version to stamp on a new record for identity.
func (s *Sequencer) Next(ctx context.Context, identity Identity, action Action) (int, error) {
	if action == ActionCreate {
		return 1, nil
	}
	max, err := s.versions.MaxVersion(ctx, identity)
	if err != nil {
		return 0, fmt.Errorf("read max version for %s: %w", identity, err)
	}
	return max + 1, nil
}
