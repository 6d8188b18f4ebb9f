package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ledgerline/recordtrail/internal/audit"
	"github.com/ledgerline/recordtrail/internal/middleware"
	"github.com/ledgerline/recordtrail/internal/registry"
	"github.com/ledgerline/recordtrail/internal/revision"
	"github.com/ledgerline/recordtrail/internal/tracing"
	"github.com/ledgerline/recordtrail/internal/undo"
)

// Handler serves the audit trail query surface.
type Handler struct {
	repo          audit.Repository
	reconstructor *revision.Reconstructor
	undoer        *undo.Engine
	registry      *registry.Registry
	logger        *slog.Logger
}

// NewHandler wires a Handler. logger may be nil.
func NewHandler(repo audit.Repository, rec *revision.Reconstructor, und *undo.Engine, reg *registry.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{repo: repo, reconstructor: rec, undoer: und, registry: reg, logger: logger}
}

// Routes registers the handler's routes on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/records/{type}/{id}", h.ListRecords)
	mux.HandleFunc("GET /v1/records/{type}/{id}/latest", h.LatestRecord)
	mux.HandleFunc("GET /v1/records/{type}/{id}/revision", h.Revision)
	mux.HandleFunc("POST /v1/records/{type}/{id}/undo", h.Undo)
	mux.HandleFunc("GET /v1/audited-types", h.AuditedTypes)
}

// changeRecordResponse is the wire form of a change record.
type changeRecordResponse struct {
	ID             string         `json:"id"`
	AuditableType  string         `json:"auditable_type"`
	AuditableID    string         `json:"auditable_id"`
	AssociatedType string         `json:"associated_type,omitempty"`
	AssociatedID   string         `json:"associated_id,omitempty"`
	Actor          any            `json:"actor,omitempty"`
	Action         string         `json:"action"`
	Changes        map[string]any `json:"changes"`
	Version        int            `json:"version"`
	Comment        string         `json:"comment,omitempty"`
	RemoteAddress  string         `json:"remote_address,omitempty"`
	RequestID      string         `json:"request_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

func toResponse(rec *audit.ChangeRecord) changeRecordResponse {
	resp := changeRecordResponse{
		ID:            rec.ID,
		AuditableType: rec.Auditable.Type,
		AuditableID:   rec.Auditable.ID,
		Action:        string(rec.Action),
		Changes:       rec.Changes,
		Version:       rec.Version,
		Comment:       rec.Comment,
		RemoteAddress: rec.RemoteAddress,
		RequestID:     rec.RequestID,
		CreatedAt:     rec.CreatedAt,
	}
	if rec.Associated != nil {
		resp.AssociatedType = rec.Associated.Type
		resp.AssociatedID = rec.Associated.ID
	}
	if !rec.Actor.IsAbsent() {
		resp.Actor = rec.Actor
	}
	return resp
}

func identityFromRequest(r *http.Request) audit.Identity {
	return audit.Identity{Type: r.PathValue("type"), ID: r.PathValue("id")}
}

// ListRecords returns all change records for an identity, ascending by
// version. Supports optional limit and max_version query parameters.
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	identity := identityFromRequest(r)
	ctx := r.Context()

	var (
		records []*audit.ChangeRecord
		err     error
	)
	if raw := r.URL.Query().Get("max_version"); raw != "" {
		maxVersion, parseErr := strconv.Atoi(raw)
		if parseErr != nil || maxVersion < 1 {
			ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "max_version must be a positive integer")
			return
		}
		records, err = h.repo.Ancestors(ctx, identity, maxVersion)
	} else {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err = strconv.Atoi(raw)
			if err != nil || limit < 0 {
				ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
				WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "limit must be a non-negative integer")
				return
			}
		}
		records, err = h.repo.ForIdentity(ctx, identity, limit)
	}
	if err != nil {
		h.logger.Error("failed to list change records", "error", err, "auditable", identity.String())
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to list change records")
		return
	}

	responses := make([]changeRecordResponse, 0, len(records))
	for _, rec := range records {
		responses = append(responses, toResponse(rec))
	}
	writeJSON(w, ctx, http.StatusOK, map[string]any{"records": responses})
}

// LatestRecord returns the highest-version change record for an identity.
func (h *Handler) LatestRecord(w http.ResponseWriter, r *http.Request) {
	identity := identityFromRequest(r)
	ctx := r.Context()

	rec, err := h.repo.Latest(ctx, identity)
	if errors.Is(err, audit.ErrNoRecords) {
		ctx = middleware.SetErrorCode(ctx, ErrCodeNoRecords)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNoRecords, "no change records for identity")
		return
	}
	if err != nil {
		h.logger.Error("failed to load latest change record", "error", err, "auditable", identity.String())
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to load latest change record")
		return
	}
	writeJSON(w, ctx, http.StatusOK, toResponse(rec))
}

// revisionResponse is the wire form of a reconstructed snapshot.
type revisionResponse struct {
	AuditableType string         `json:"auditable_type"`
	AuditableID   string         `json:"auditable_id"`
	Version       int            `json:"version"`
	Persisted     bool           `json:"persisted"`
	Attributes    map[string]any `json:"attributes"`
}

// Revision reconstructs the identity's state as of ?version=N (default: the
// latest version). A reconstructed-but-not-persisted result indicates the
// record was destroyed or never existed live.
func (h *Handler) Revision(w http.ResponseWriter, r *http.Request) {
	identity := identityFromRequest(r)
	ctx := r.Context()

	version := 0
	if raw := r.URL.Query().Get("version"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "version must be a positive integer")
			return
		}
		version = v
	}
	if version == 0 {
		latest, err := h.repo.Latest(ctx, identity)
		if errors.Is(err, audit.ErrNoRecords) {
			ctx = middleware.SetErrorCode(ctx, ErrCodeNoRecords)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNoRecords, "no change records for identity")
			return
		}
		if err != nil {
			h.logger.Error("failed to load latest change record", "error", err, "auditable", identity.String())
			ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to resolve latest version")
			return
		}
		version = latest.Version
	}

	spanCtx, endSpan := tracing.StartAuditSpan(ctx, tracing.OpReconstruct, identity.String())
	target, err := h.reconstructor.RevisionAt(spanCtx, identity, version)
	endSpan(err)
	switch {
	case errors.Is(err, registry.ErrUnknownType):
		ctx = middleware.SetErrorCode(ctx, ErrCodeUnknownType)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeUnknownType, "type is not registered for auditing")
		return
	case errors.Is(err, revision.ErrNoAncestors):
		ctx = middleware.SetErrorCode(ctx, ErrCodeNoRecords)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNoRecords, "no change records at or below requested version")
		return
	case err != nil:
		h.logger.Error("failed to reconstruct revision", "error", err, "auditable", identity.String())
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to reconstruct revision")
		return
	}

	attrs := make(map[string]any)
	for _, name := range target.AttributeNames() {
		if v, ok := target.Attribute(name); ok {
			attrs[name] = v
		}
	}
	writeJSON(w, ctx, http.StatusOK, revisionResponse{
		AuditableType: identity.Type,
		AuditableID:   identity.ID,
		Version:       revision.ReconstructedVersion(target, version),
		Persisted:     target.Persisted(),
		Attributes:    attrs,
	})
}

// undoRequest optionally names the version to undo; default is the latest.
type undoRequest struct {
	Version int `json:"version"`
}

// Undo reverses the latest (or a specific) change record for the identity
// against live storage.
func (h *Handler) Undo(w http.ResponseWriter, r *http.Request) {
	identity := identityFromRequest(r)
	ctx := r.Context()

	var req undoRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "malformed request body")
			return
		}
	}

	var (
		rec *audit.ChangeRecord
		err error
	)
	if req.Version > 0 {
		rec, err = h.repo.ByVersion(ctx, identity, req.Version)
	} else {
		rec, err = h.repo.Latest(ctx, identity)
	}
	if errors.Is(err, audit.ErrNoRecords) {
		ctx = middleware.SetErrorCode(ctx, ErrCodeNoRecords)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNoRecords, "no change record to undo")
		return
	}
	if err != nil {
		h.logger.Error("failed to load change record for undo", "error", err, "auditable", identity.String())
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to load change record")
		return
	}

	spanCtx, endSpan := tracing.StartAuditSpan(ctx, tracing.OpUndo, identity.String())
	err = h.undoer.Undo(spanCtx, rec)
	endSpan(err)
	var invalidAction *undo.InvalidActionError
	switch {
	case errors.As(err, &invalidAction):
		ctx = middleware.SetErrorCode(ctx, ErrCodeInvalidAction)
		WriteError(w, ctx, http.StatusUnprocessableEntity, ErrCodeInvalidAction, invalidAction.Error())
		return
	case errors.Is(err, registry.ErrUnknownType):
		ctx = middleware.SetErrorCode(ctx, ErrCodeUnknownType)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeUnknownType, "type is not registered for auditing")
		return
	case errors.Is(err, registry.ErrNotFound):
		ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "live record no longer exists")
		return
	case err != nil:
		h.logger.Error("undo failed", "error", err, "auditable", identity.String())
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "undo failed")
		return
	}

	writeJSON(w, ctx, http.StatusOK, map[string]any{
		"undone":  toResponse(rec),
		"message": "change record undone",
	})
}

// AuditedTypes enumerates the registered auditable type tags.
func (h *Handler) AuditedTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r.Context(), http.StatusOK, map[string]any{"types": h.registry.Types()})
}
