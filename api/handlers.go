/*
handlers.go - HTTP handlers for the note lifecycle engine

PURPOSE:
  Exposes the lifecycle engine via REST. Handlers parse and shape-check
  input, resolve the actor, delegate to the domain service, and map the
  typed error taxonomy to HTTP statuses. No business rule lives here.

ENDPOINTS:
  Notes:
    POST   /api/notes                   Create (-> Draft)
    GET    /api/notes                   List (filters: type, status, client_id, document_number)
    GET    /api/notes/{id}              Fetch one
    PUT    /api/notes/{id}              Update financial inputs (Draft only)
    POST   /api/notes/{id}/approve      Draft -> Approved
    POST   /api/notes/{id}/issue        Approved -> Issued (binds artifact)
    POST   /api/notes/{id}/regenerate   Re-render an Issued note's artifact
    GET    /api/notes/{id}/verify       Tamper check against the stored hash
    GET    /api/notes/{id}/artifact     Download stored artifact bytes
    POST   /api/notes/{id}/dispatch     Attempt delivery, record the outcome
    GET    /api/notes/{id}/audit        Audit trail

  Registry seeding (existence lookups need rows; full CRUD is elsewhere):
    POST   /api/registry/clients
    POST   /api/registry/insurers
    POST   /api/registry/policies

ERROR MAPPING:
  400 validation / malformed input
  401 missing or unknown actor
  404 client/policy/insurer/note/artifact not found
  409 invalid transition or lost concurrent race
  502 artifact renderer failure
  500 everything else

SEE ALSO:
  - dto.go: Request/response shapes
  - server.go: Router wiring
  - notes/lifecycle.go: The domain service behind every handler
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/archit2501/insurance-brokerage-system-sub000/notes"
	"github.com/archit2501/insurance-brokerage-system-sub000/store/sqlite"
)

// =============================================================================
// HANDLER
// =============================================================================

// Handler holds the dependencies for all HTTP handlers.
type Handler struct {
	Service  *notes.Service
	Store    *sqlite.Store
	Resolver ActorResolver

	validate *validator.Validate
}

// NewHandler wires a handler around the service and store.
func NewHandler(svc *notes.Service, store *sqlite.Store) *Handler {
	return &Handler{
		Service:  svc,
		Store:    store,
		Resolver: HeaderResolver{},
		validate: validator.New(),
	}
}

// =============================================================================
// NOTE HANDLERS
// =============================================================================

// CreateNote creates a new draft note.
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req CreateNoteRequest
	if !h.decode(w, r, &req) {
		return
	}

	note, err := h.Service.Create(r.Context(), actor, notes.CreateInput{
		Type:               notes.NoteType(req.NoteType),
		DocumentNumber:     req.DocumentNumber,
		ClientID:           req.ClientID,
		PolicyID:           req.PolicyID,
		InsurerID:          req.InsurerID,
		GrossPremium:       req.GrossPremium,
		BrokeragePct:       req.BrokeragePct,
		VatPct:             req.VatPct,
		AgentCommissionPct: req.AgentCommissionPct,
		Levies:             req.Levies.toDomain(),
		Shares:             shareInputs(req.Shares),
		Narration:          req.Narration,
	})
	if err != nil {
		h.domainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toNoteDTO(note))
}

// ListNotes lists notes, or resolves a single one by document number.
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// Document numbers contain slashes, so lookup goes through a query
	// parameter rather than a path segment.
	if docNum := q.Get("document_number"); docNum != "" {
		note, err := h.Service.GetNoteByNumber(r.Context(), docNum)
		if err != nil {
			h.domainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, []NoteDTO{toNoteDTO(note)})
		return
	}

	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	list, err := h.Service.ListNotes(r.Context(), notes.NoteFilter{
		Type:     notes.NoteType(q.Get("type")),
		Status:   notes.Status(q.Get("status")),
		ClientID: q.Get("client_id"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		h.domainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, lo.Map(list, func(n *notes.Note, _ int) NoteDTO {
		return toNoteDTO(n)
	}))
}

// GetNote fetches one note by id.
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	note, err := h.Service.GetNote(r.Context(), noteID(r))
	if err != nil {
		h.domainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toNoteDTO(note))
}

// UpdateNote rewrites a draft's financial inputs.
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req UpdateNoteRequest
	if !h.decode(w, r, &req) {
		return
	}

	note, err := h.Service.UpdateDraft(r.Context(), actor, noteID(r), notes.UpdateInput{
		DocumentNumber:     req.DocumentNumber,
		InsurerID:          req.InsurerID,
		GrossPremium:       req.GrossPremium,
		BrokeragePct:       req.BrokeragePct,
		VatPct:             req.VatPct,
		AgentCommissionPct: req.AgentCommissionPct,
		Levies:             req.Levies.toDomain(),
		Shares:             shareInputs(req.Shares),
		Narration:          req.Narration,
	})
	if err != nil {
		h.domainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toNoteDTO(note))
}

// ApproveNote moves Draft -> Approved.
func (h *Handler) ApproveNote(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Service.Approve)
}

// IssueNote moves Approved -> Issued.
func (h *Handler) IssueNote(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Service.Issue)
}

// RegenerateArtifact re-renders an issued note's artifact.
func (h *Handler) RegenerateArtifact(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Service.Regenerate)
}

// transition factors the approve/issue/regenerate handlers, which differ
// only in the service call.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request,
	op func(context.Context, notes.Actor, notes.NoteID) (*notes.Note, error)) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	note, err := op(r.Context(), actor, noteID(r))
	if err != nil {
		h.domainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toNoteDTO(note))
}

// VerifyArtifact re-renders and compares hashes without storing anything.
func (h *Handler) VerifyArtifact(w http.ResponseWriter, r *http.Request) {
	id := noteID(r)
	note, err := h.Service.GetNote(r.Context(), id)
	if err != nil {
		h.domainError(w, err)
		return
	}

	match, fresh, err := h.Service.VerifyArtifact(r.Context(), id)
	if err != nil {
		h.domainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, VerifyDTO{
		NoteID:     string(id),
		Match:      match,
		StoredHash: note.ArtifactHash,
		FreshHash:  fresh,
	})
}

// GetArtifact streams the stored artifact bytes. Reads never re-render.
func (h *Handler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	artifact, err := h.Service.GetArtifact(r.Context(), noteID(r))
	if err != nil {
		h.domainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Artifact-Hash", artifact.Hash)
	w.WriteHeader(http.StatusOK)
	w.Write(artifact.Content)
}

// DispatchNote attempts delivery and records the outcome.
func (h *Handler) DispatchNote(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req DispatchRequest
	if !h.decode(w, r, &req) {
		return
	}

	id := noteID(r)
	result, err := h.Service.RecordDispatch(r.Context(), actor, id, req.Recipients)
	if err != nil {
		// Transport failure is part of the recorded result; an error here
		// means the attempt could not be made or was never recorded.
		h.domainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, DispatchDTO{
		NoteID:     string(id),
		Recipients: result.Recipients,
		Delivered:  result.Delivered,
		Detail:     result.Detail,
	})
}

// GetAuditTrail returns the audit entries for a note, oldest first.
func (h *Handler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Service.AuditTrail(r.Context(), noteID(r))
	if err != nil {
		h.domainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, lo.Map(entries, func(e notes.AuditEntry, _ int) AuditEntryDTO {
		dto := AuditEntryDTO{
			ID:        e.ID,
			Table:     e.Table,
			RecordID:  e.RecordID,
			Action:    string(e.Action),
			ActorID:   e.ActorID,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		}
		if len(e.Before) > 0 {
			dto.Before = json.RawMessage(e.Before)
		}
		if len(e.After) > 0 {
			dto.After = json.RawMessage(e.After)
		}
		return dto
	}))
}

// =============================================================================
// REGISTRY SEED HANDLERS
// =============================================================================

// CreateClient seeds a client registry row.
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	h.createParty(w, r, h.Store.SaveClient)
}

// CreateInsurer seeds an insurer registry row.
func (h *Handler) CreateInsurer(w http.ResponseWriter, r *http.Request) {
	h.createParty(w, r, h.Store.SaveInsurer)
}

func (h *Handler) createParty(w http.ResponseWriter, r *http.Request,
	save func(context.Context, sqlite.Party) error) {
	var req CreatePartyRequest
	if !h.decode(w, r, &req) {
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	if err := save(r.Context(), sqlite.Party{ID: req.ID, Name: req.Name, Active: active}); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save party", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// CreatePolicy seeds a policy registry row.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req CreatePolicyRequest
	if !h.decode(w, r, &req) {
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	if err := h.Store.SavePolicy(r.Context(), sqlite.Policy{
		ID:          req.ID,
		ClientID:    req.ClientID,
		Description: req.Description,
		Active:      active,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save policy", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// =============================================================================
// HELPERS
// =============================================================================

func noteID(r *http.Request) notes.NoteID {
	return notes.NoteID(chi.URLParam(r, "id"))
}

func shareInputs(shares []ShareRequest) []notes.ShareInput {
	return lo.Map(shares, func(s ShareRequest, _ int) notes.ShareInput {
		return notes.ShareInput{InsurerID: s.InsurerID, Percentage: s.Percentage}
	})
}

// actor resolves the acting user or writes a 401.
func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (notes.Actor, bool) {
	actor, err := h.Resolver.Resolve(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "actor resolution failed", err)
		return notes.Actor{}, false
	}
	return actor, true
}

// decode parses and shape-validates a JSON request body.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "request validation failed", err)
		return false
	}
	return true
}

// domainError maps the typed error taxonomy onto HTTP statuses.
func (h *Handler) domainError(w http.ResponseWriter, err error) {
	switch {
	case notes.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not found", err)
	case errors.Is(err, notes.ErrValidation), errors.Is(err, notes.ErrInvalidCoInsuranceSplit),
		errors.Is(err, notes.ErrImmutableField):
		writeError(w, http.StatusBadRequest, "validation failed", err)
	case errors.Is(err, notes.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid transition", err)
	case errors.Is(err, notes.ErrConcurrencyConflict):
		writeError(w, http.StatusConflict, "concurrent modification", err)
	case errors.Is(err, notes.ErrRenderFailure):
		writeError(w, http.StatusBadGateway, "artifact render failed", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	dto := ErrorDTO{Error: msg}
	if err != nil {
		dto.Detail = err.Error()
	}
	writeJSON(w, status, dto)
}
