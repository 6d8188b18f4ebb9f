package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ledgerline/recordtrail/internal/attribution"
	"github.com/ledgerline/recordtrail/internal/middleware"
)

var (
	// ErrNilRepository is returned when a Recorder is built without a repository.
	ErrNilRepository = errors.New("audit repository cannot be nil")
	// ErrEmptyIdentity is returned when an event carries no auditable identity.
	ErrEmptyIdentity = errors.New("auditable identity cannot be empty")
)

// Event is what a lifecycle hook hands the Recorder: the audited identity,
// the action, and the field-level diff (or full snapshot for create/destroy),
// plus optional metadata.
type Event struct {
	Auditable  Identity
	Associated *Identity
	Action     Action
	Changes    Changes

	// Actor overrides context/ambient resolution when non-absent.
	Actor attribution.Actor

	Comment       string
	RemoteAddress string
	RequestID     string
}

// Recorder turns lifecycle events into persisted change records: it resolves
// the actor, fills request metadata from the context when the hook did not
// supply it, stamps the version, and inserts exactly one record per event.
type Recorder struct {
	repo      Repository
	sequencer *Sequencer
	resolver  *attribution.Resolver
	metrics   *Metrics
	logger    *slog.Logger
}

// NewRecorder wires a Recorder. resolver, metrics, and logger may be nil.
func NewRecorder(repo Repository, resolver *attribution.Resolver, metrics *Metrics, logger *slog.Logger) (*Recorder, error) {
	if repo == nil {
		return nil, ErrNilRepository
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		repo:      repo,
		sequencer: NewSequencer(repo),
		resolver:  resolver,
		metrics:   metrics,
		logger:    logger,
	}, nil
}

// Record persists one change record for the event and returns it. Failures
// from the repository propagate unchanged; nothing is retried here.
func (r *Recorder) Record(ctx context.Context, e Event) (*ChangeRecord, error) {
	if e.Auditable.Type == "" || e.Auditable.ID == "" {
		return nil, ErrEmptyIdentity
	}
	if !e.Action.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRecordAction, e.Action)
	}

	actor := e.Actor
	if actor.IsAbsent() {
		actor = r.resolver.Resolve(ctx)
	}

	requestID := e.RequestID
	if requestID == "" {
		requestID = middleware.GetRequestID(ctx)
	}
	remoteAddr := e.RemoteAddress
	if remoteAddr == "" {
		remoteAddr = middleware.GetRemoteAddress(ctx)
	}

	version, err := r.sequencer.Next(ctx, e.Auditable, e.Action)
	if err != nil {
		return nil, err
	}

	rec := &ChangeRecord{
		Auditable:     e.Auditable,
		Associated:    e.Associated,
		Actor:         actor,
		Action:        e.Action,
		Changes:       e.Changes,
		Version:       version,
		Comment:       e.Comment,
		RemoteAddress: remoteAddr,
		RequestID:     requestID,
	}

	stored, err := r.repo.Insert(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("insert change record for %s: %w", e.Auditable, err)
	}

	r.metrics.RecordWritten(stored.Action)
	r.logger.Debug("change record written",
		slog.String("auditable", stored.Auditable.String()),
		slog.String("action", string(stored.Action)),
		slog.Int("version", stored.Version))
	return stored, nil
}
