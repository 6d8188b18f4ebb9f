package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ledgerline/recordtrail/internal/audit"
	"github.com/ledgerline/recordtrail/internal/lock"
	"github.com/ledgerline/recordtrail/internal/middleware"
	"github.com/ledgerline/recordtrail/internal/note"
	"github.com/ledgerline/recordtrail/internal/registry"
)

// ErrCodeLockHeld indicates another writer holds the identity's lock.
const ErrCodeLockHeld = "lock_held"

// NoteHandler serves the note mutation surface, the concrete host-application
// side of the audit pipeline: every write here lands a change record.
type NoteHandler struct {
	service *note.Service
	locker  *lock.IdentityLock
	logger  *slog.Logger
}

// NewNoteHandler wires a NoteHandler. locker and logger may be nil; without a
// locker mutations run unserialized and version races surface as conflicts at
// insert time.
func NewNoteHandler(service *note.Service, locker *lock.IdentityLock, logger *slog.Logger) *NoteHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoteHandler{service: service, locker: locker, logger: logger}
}

// Routes registers the note routes on mux.
func (h *NoteHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/notes", h.Create)
	mux.HandleFunc("GET /v1/notes/{id}", h.Get)
	mux.HandleFunc("PUT /v1/notes/{id}", h.Update)
	mux.HandleFunc("DELETE /v1/notes/{id}", h.Delete)
}

type noteRequest struct {
	Title   string `json:"title"`
	Body    string `json:"body"`
	Status  string `json:"status"`
	Comment string `json:"comment,omitempty"`
}

type noteResponse struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Status string `json:"status"`
}

func toNoteResponse(n *note.Note) noteResponse {
	return noteResponse{ID: n.ID, Title: n.Title, Body: n.Body, Status: n.Status}
}

// acquire takes the per-identity lock when one is configured. The returned
// release is a no-op without a locker.
func (h *NoteHandler) acquire(w http.ResponseWriter, r *http.Request, id string) (func(), bool) {
	if h.locker == nil {
		return func() {}, true
	}
	identity := audit.Identity{Type: note.TypeTag, ID: id}
	release, err := h.locker.Acquire(r.Context(), identity)
	if errors.Is(err, lock.ErrLockHeld) {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeLockHeld)
		WriteError(w, ctx, http.StatusConflict, ErrCodeLockHeld, "another writer holds the lock for this record")
		return nil, false
	}
	if err != nil {
		h.logger.Error("failed to acquire identity lock", "error", err, "note_id", id)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to acquire lock")
		return nil, false
	}
	return release, true
}

// Create persists a new note and its create change record.
func (h *NoteHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "malformed request body")
		return
	}
	if req.Title == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "title is required")
		return
	}

	status := req.Status
	if status == "" {
		status = "draft"
	}
	created, err := h.service.Create(ctx, &note.Note{Title: req.Title, Body: req.Body, Status: status}, req.Comment)
	if err != nil {
		h.logger.Error("failed to create note", "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to create note")
		return
	}
	writeJSON(w, ctx, http.StatusCreated, toNoteResponse(created))
}

// Get returns a live note.
func (h *NoteHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	n, err := h.service.Get(ctx, id)
	if errors.Is(err, registry.ErrNotFound) {
		ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "note not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load note", "error", err, "note_id", id)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to load note")
		return
	}
	writeJSON(w, ctx, http.StatusOK, toNoteResponse(n))
}

// Update overwrites a note's fields, recording the diff as an update change
// record. Unchanged saves succeed without writing a record.
func (h *NoteHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "malformed request body")
		return
	}

	release, ok := h.acquire(w, r, id)
	if !ok {
		return
	}
	defer release()

	n, err := h.service.Get(ctx, id)
	if errors.Is(err, registry.ErrNotFound) {
		ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "note not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load note", "error", err, "note_id", id)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to load note")
		return
	}

	if req.Title != "" {
		n.Title = req.Title
	}
	if req.Body != "" {
		n.Body = req.Body
	}
	if req.Status != "" {
		n.Status = req.Status
	}

	updated, err := h.service.Update(ctx, n, req.Comment)
	if err != nil {
		h.logger.Error("failed to update note", "error", err, "note_id", id)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to update note")
		return
	}
	writeJSON(w, ctx, http.StatusOK, toNoteResponse(updated))
}

// Delete removes a note, recording a destroy change record with the full
// pre-destroy snapshot.
func (h *NoteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	release, ok := h.acquire(w, r, id)
	if !ok {
		return
	}
	defer release()

	var comment string
	if raw := r.URL.Query().Get("comment"); raw != "" {
		comment = raw
	}

	err := h.service.Delete(ctx, id, comment)
	if errors.Is(err, registry.ErrNotFound) {
		ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "note not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to delete note", "error", err, "note_id", id)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to delete note")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
