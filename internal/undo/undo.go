// Package undo inverts a single change record's effect against live storage.
// Undoing does not write a new change record; if the host's lifecycle hooks
// are still wired to the mutation path, they record the reversal themselves.
package undo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ledgerline/recordtrail/internal/audit"
	"github.com/ledgerline/recordtrail/internal/registry"
	"github.com/ledgerline/recordtrail/internal/revision"
)

// InvalidActionError reports an undo attempt on a record whose action is not
// create, update, or destroy. This is a data-integrity error, not a
// recoverable condition.
type InvalidActionError struct {
	Action string
}

func (e *InvalidActionError) Error() string {
	return fmt.Sprintf("invalid action given %s", e.Action)
}

// Engine applies the inverse of change records to live storage.
type Engine struct {
	registry *registry.Registry
	metrics  *audit.Metrics
	logger   *slog.Logger
}

// NewEngine wires an Engine. metrics and logger may be nil.
func NewEngine(reg *registry.Registry, metrics *audit.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{registry: reg, metrics: metrics, logger: logger}
}

// Undo reverses rec's effect: deleting what a create produced, recreating
// what a destroy removed, or restoring the old values of an update. The
// single live-record mutation is the only side effect. Storage failures,
// including the record no longer existing, propagate to the caller.
func (e *Engine) Undo(ctx context.Context, rec *audit.ChangeRecord) error {
	err := e.undo(ctx, rec)
	e.metrics.UndoAttempted(rec.Action, err)
	if err == nil {
		e.logger.Info("undid change record",
			slog.String("auditable", rec.Auditable.String()),
			slog.String("action", string(rec.Action)),
			slog.Int("version", rec.Version))
	}
	return err
}

func (e *Engine) undo(ctx context.Context, rec *audit.ChangeRecord) error {
	switch rec.Action {
	case audit.ActionCreate, audit.ActionUpdate, audit.ActionDestroy:
	default:
		return &InvalidActionError{Action: string(rec.Action)}
	}

	entry, err := e.registry.Lookup(rec.Auditable.Type)
	if err != nil {
		return err
	}
	if entry.Store == nil {
		return fmt.Errorf("no live store registered for type %s", rec.Auditable.Type)
	}

	switch rec.Action {
	case audit.ActionCreate:
		// Hard failure when the record is already gone; this delete is a
		// real destructive operation, not an idempotent one.
		if err := entry.Store.Delete(ctx, rec.Auditable.ID); err != nil {
			return fmt.Errorf("undo create of %s: %w", rec.Auditable, err)
		}
		return nil

	case audit.ActionDestroy:
		target := entry.New()
		target.SetAuditID(rec.Auditable.ID)
		target = revision.AssignRevisionAttributes(target, rec.Changes)
		if err := entry.Store.Create(ctx, target); err != nil {
			return fmt.Errorf("undo destroy of %s: %w", rec.Auditable, err)
		}
		return nil

	default: // audit.ActionUpdate
		live, err := entry.Store.Find(ctx, rec.Auditable.ID)
		if err != nil {
			return fmt.Errorf("undo update of %s: %w", rec.Auditable, err)
		}
		live = revision.AssignRevisionAttributes(live, rec.OldAttributes())
		if err := entry.Store.Update(ctx, live); err != nil {
			return fmt.Errorf("undo update of %s: %w", rec.Auditable, err)
		}
		return nil
	}
}
