/*
lifecycle.go - Note lifecycle orchestration

PURPOSE:
  The Service is the only component that creates notes or moves them
  through Draft → Approved → Issued. It owns the ordering guarantees:
  sequence allocation inside the creating transaction, role gates ahead
  of every transition, commit-time status guards against lost updates,
  and artifact binding at exactly the allowed trigger points.

LIFECYCLE FLOW:

  Create ──▶ Draft ──(underwriting/admin)──▶ Approved ──(accounts/admin)──▶ Issued
               │                                 │
               │ financial fields editable       │ financial fields frozen,
               │ shares replaceable wholesale    │ render+hash bound on issue
               ▼                                 ▼
           best-effort artifact            mandatory artifact

  No skipping (Draft never jumps to Issued), no regression, and a second
  Approve or Issue on the same note is rejected, never silently repeated.

CONCURRENCY:
  Reads happen first, outside any transaction. Every mutation then commits
  through a status-guarded write: the row must still be in the expected
  status at commit time or the caller gets a ConflictError. Rendering is
  I/O-bound and therefore never runs while a transaction is open - Issue
  renders first, then commits (status, ref, hash) in one short transaction.
  A failed render leaves the note Approved so Issue can simply be retried.

ERROR RECOVERY:
  Sequence allocation retries a small bounded number of times on store
  contention and then surfaces a ConflictError. Every other failure is
  returned to the caller as a typed error with nothing partially written.

SEE ALSO:
  - store.go: Store/TxStore contract the service drives
  - artifact.go: Binder used at create, issue and regenerate
  - errors.go: The taxonomy every path resolves to
*/
package notes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// noteTable is the audit table name for note records.
const noteTable = "notes"

// allocationRetries bounds how often a creating transaction is retried on
// store contention before ConcurrencyConflict surfaces to the caller.
const allocationRetries = 3

// FormatDocumentNumber renders the immutable human-facing identifier:
// {CN|DN}/{4-digit year}/{6-digit zero-padded sequence}.
func FormatDocumentNumber(t NoteType, year int, seq int64) string {
	return fmt.Sprintf("%s/%04d/%06d", t, year, seq)
}

// =============================================================================
// SERVICE
// =============================================================================

// Service orchestrates the note lifecycle. It exclusively owns note
// transitions; handlers and jobs must go through it.
type Service struct {
	Store      TxStore
	Registry   Registry
	Binder     *Binder
	Dispatcher Dispatcher

	log *zap.SugaredLogger
	now func() time.Time
}

func NewService(store TxStore, reg Registry, binder *Binder, disp Dispatcher, log *zap.SugaredLogger) *Service {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{
		Store:      store,
		Registry:   reg,
		Binder:     binder,
		Dispatcher: disp,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the service clock. Tests use this to pin years so
// document numbers are stable.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// =============================================================================
// CREATE
// =============================================================================

// CreateInput is everything a caller may supply for a new note. The engine
// assigns the id, the document number and the status; submitting a document
// number is rejected rather than ignored.
type CreateInput struct {
	Type           NoteType
	DocumentNumber string // must be empty; present so the rejection is explicit

	ClientID  string
	PolicyID  string
	InsurerID string

	GrossPremium       decimal.Decimal
	BrokeragePct       decimal.Decimal
	VatPct             decimal.Decimal
	AgentCommissionPct decimal.Decimal
	Levies             Levies

	Shares    []ShareInput
	Narration string
}

// Create validates input, allocates the next document number and persists
// the note as a Draft - all financial figures computed, shares split, audit
// entry appended, in one transaction. The initial artifact render is best
// effort: a renderer failure is logged and leaves ref/hash unset.
func (s *Service) Create(ctx context.Context, actor Actor, in CreateInput) (*Note, error) {
	if !Permitted(OpCreate, actor.Role) {
		return nil, &TransitionError{Operation: OpCreate, Role: actor.Role}
	}
	if err := s.validateCreate(ctx, in); err != nil {
		return nil, err
	}

	breakdown := ComputeBreakdown(in.GrossPremium, in.BrokeragePct, in.VatPct, in.AgentCommissionPct, in.Levies)

	var shares []CoInsuranceShare
	if len(in.Shares) > 0 {
		var err error
		shares, err = SplitShares(in.GrossPremium, in.Shares)
		if err != nil {
			return nil, err
		}
	}

	now := s.now()
	note := &Note{
		ID:                 NoteID(uuid.NewString()),
		Type:               in.Type,
		ClientID:           in.ClientID,
		PolicyID:           in.PolicyID,
		InsurerID:          in.InsurerID,
		GrossPremium:       in.GrossPremium,
		BrokeragePct:       in.BrokeragePct,
		VatPct:             in.VatPct,
		AgentCommissionPct: in.AgentCommissionPct,
		Levies:             in.Levies,
		Breakdown:          breakdown,
		Shares:             shares,
		Status:             StatusDraft,
		Narration:          in.Narration,
		PreparedBy:         actor.ID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	// Counter bump, note insert and audit append commit together. A failed
	// transaction rolls the claimed sequence value back with it; a committed
	// one can never be observed twice. Retried a bounded number of times on
	// store contention only.
	year := now.Year()
	create := func() error {
		return s.Store.WithTx(ctx, func(tx Store) error {
			seq, err := tx.NextSequence(ctx, string(note.Type), year)
			if err != nil {
				return err
			}
			note.DocumentNumber = FormatDocumentNumber(note.Type, year, seq)
			if err := tx.InsertNote(ctx, note); err != nil {
				return err
			}
			return tx.AppendAudit(ctx, s.auditEntry(AuditCreate, note.ID, actor.ID, nil, note))
		})
	}
	err := backoff.Retry(func() error {
		if err := create(); err != nil {
			if errors.Is(err, ErrConcurrencyConflict) {
				return err // retryable contention
			}
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), allocationRetries), ctx))
	if err != nil {
		return nil, err
	}

	s.log.Infow("note created",
		"note_id", note.ID,
		"document_number", note.DocumentNumber,
		"type", note.Type,
		"net_amount_due", note.Breakdown.NetAmountDue.StringFixed(2))

	// Best-effort initial render. Failure does not block Draft creation;
	// ref and hash stay unset until a render succeeds.
	if ref, hash, err := s.Binder.Bind(ctx, note); err != nil {
		s.log.Warnw("initial artifact render failed", "note_id", note.ID, "error", err)
	} else if err := s.Store.SetArtifact(ctx, note.ID, ref, hash); err != nil {
		s.log.Warnw("failed to persist initial artifact reference", "note_id", note.ID, "error", err)
	} else {
		note.ArtifactRef = ref
		note.ArtifactHash = hash
	}

	return note, nil
}

func (s *Service) validateCreate(ctx context.Context, in CreateInput) error {
	if !in.Type.Valid() {
		return &FieldValidationError{Field: "note_type", Reason: "must be CN or DN"}
	}
	if in.DocumentNumber != "" {
		return &FieldValidationError{Field: "document_number", Reason: "assigned by the engine, must not be supplied"}
	}
	if in.ClientID == "" {
		return &FieldValidationError{Field: "client_id", Reason: "required"}
	}
	if in.PolicyID == "" {
		return &FieldValidationError{Field: "policy_id", Reason: "required"}
	}
	if err := ValidateFinancialInputs(in.GrossPremium, in.BrokeragePct, in.VatPct, in.AgentCommissionPct, in.Levies); err != nil {
		return err
	}

	switch in.Type {
	case TypeCreditNote:
		if in.InsurerID == "" && len(in.Shares) == 0 {
			return &FieldValidationError{Field: "insurer_id", Reason: "credit note requires an insurer or a co-insurance split"}
		}
	case TypeDebitNote:
		if len(in.Shares) > 0 {
			return &FieldValidationError{Field: "co_insurance_shares", Reason: "debit notes cannot carry co-insurance"}
		}
	}

	// Registry lookups are pre-validation reads, deliberately outside the
	// allocation transaction.
	if err := s.checkActive(ctx, "client", in.ClientID, s.Registry.ClientActive); err != nil {
		return err
	}
	if err := s.checkActive(ctx, "policy", in.PolicyID, s.Registry.PolicyActive); err != nil {
		return err
	}
	if in.InsurerID != "" {
		if err := s.checkActive(ctx, "insurer", in.InsurerID, s.Registry.InsurerActive); err != nil {
			return err
		}
	}
	for _, sh := range in.Shares {
		if err := s.checkActive(ctx, "insurer", sh.InsurerID, s.Registry.InsurerActive); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) checkActive(ctx context.Context, kind, id string, fn func(context.Context, string) (bool, error)) error {
	ok, err := fn(ctx, id)
	if err != nil {
		return fmt.Errorf("registry lookup for %s %s: %w", kind, id, err)
	}
	if !ok {
		return &NotFoundError{Kind: kind, ID: id}
	}
	return nil
}

// =============================================================================
// UPDATE (Draft only)
// =============================================================================

// UpdateInput carries the fields editable while a note is in Draft.
// Everything financial is recomputed; shares are replaced wholesale.
type UpdateInput struct {
	DocumentNumber string // must be empty; document numbers never change

	GrossPremium       decimal.Decimal
	BrokeragePct       decimal.Decimal
	VatPct             decimal.Decimal
	AgentCommissionPct decimal.Decimal
	Levies             Levies

	InsurerID string
	Shares    []ShareInput
	Narration string
}

// UpdateDraft rewrites a draft's financial inputs. Once a note is Approved
// its financial fields are frozen and the attempt fails as an invalid
// transition.
func (s *Service) UpdateDraft(ctx context.Context, actor Actor, id NoteID, in UpdateInput) (*Note, error) {
	if !Permitted(OpUpdate, actor.Role) {
		return nil, &TransitionError{NoteID: id, Operation: OpUpdate, Role: actor.Role}
	}
	if in.DocumentNumber != "" {
		return nil, &FieldValidationError{Field: "document_number", Reason: "immutable once assigned"}
	}

	before, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if before.Status != StatusDraft {
		return nil, &TransitionError{NoteID: id, Operation: OpUpdate, Status: before.Status,
			Reason: "financial fields are frozen after approval"}
	}

	if err := ValidateFinancialInputs(in.GrossPremium, in.BrokeragePct, in.VatPct, in.AgentCommissionPct, in.Levies); err != nil {
		return nil, err
	}
	if before.Type == TypeDebitNote && len(in.Shares) > 0 {
		return nil, &FieldValidationError{Field: "co_insurance_shares", Reason: "debit notes cannot carry co-insurance"}
	}
	if before.Type == TypeCreditNote && in.InsurerID == "" && len(in.Shares) == 0 {
		return nil, &FieldValidationError{Field: "insurer_id", Reason: "credit note requires an insurer or a co-insurance split"}
	}

	var shares []CoInsuranceShare
	if len(in.Shares) > 0 {
		shares, err = SplitShares(in.GrossPremium, in.Shares)
		if err != nil {
			return nil, err
		}
		for _, sh := range in.Shares {
			if err := s.checkActive(ctx, "insurer", sh.InsurerID, s.Registry.InsurerActive); err != nil {
				return nil, err
			}
		}
	}
	if in.InsurerID != "" && in.InsurerID != before.InsurerID {
		if err := s.checkActive(ctx, "insurer", in.InsurerID, s.Registry.InsurerActive); err != nil {
			return nil, err
		}
	}

	updated := *before
	updated.InsurerID = in.InsurerID
	updated.GrossPremium = in.GrossPremium
	updated.BrokeragePct = in.BrokeragePct
	updated.VatPct = in.VatPct
	updated.AgentCommissionPct = in.AgentCommissionPct
	updated.Levies = in.Levies
	updated.Breakdown = ComputeBreakdown(in.GrossPremium, in.BrokeragePct, in.VatPct, in.AgentCommissionPct, in.Levies)
	updated.Shares = shares
	updated.Narration = in.Narration
	updated.UpdatedAt = s.now()

	err = s.Store.WithTx(ctx, func(tx Store) error {
		if err := tx.UpdateDraft(ctx, OpUpdate, &updated); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, s.auditEntry(AuditUpdate, id, actor.ID, before, &updated))
	})
	if err != nil {
		return nil, err
	}

	s.log.Infow("draft updated", "note_id", id, "document_number", updated.DocumentNumber)
	return &updated, nil
}

// =============================================================================
// APPROVE
// =============================================================================

// Approve moves a Draft to Approved. Only underwriting/admin actors may
// approve; the approving actor is recorded as AuthorizedBy.
func (s *Service) Approve(ctx context.Context, actor Actor, id NoteID) (*Note, error) {
	if !Permitted(OpApprove, actor.Role) {
		return nil, &TransitionError{NoteID: id, Operation: OpApprove, Role: actor.Role}
	}

	before, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if before.Status != StatusDraft {
		return nil, &TransitionError{NoteID: id, Operation: OpApprove, Status: before.Status,
			Reason: "only drafts can be approved"}
	}

	after := *before
	after.Status = StatusApproved
	after.AuthorizedBy = actor.ID
	after.UpdatedAt = s.now()

	err = s.Store.WithTx(ctx, func(tx Store) error {
		if err := tx.TransitionStatus(ctx, OpApprove, id, StatusDraft, StatusApproved,
			TransitionUpdate{AuthorizedBy: actor.ID}); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, s.auditEntry(AuditApprove, id, actor.ID, before, &after))
	})
	if err != nil {
		return nil, err
	}

	s.log.Infow("note approved", "note_id", id, "document_number", after.DocumentNumber, "authorized_by", actor.ID)
	return &after, nil
}

// =============================================================================
// ISSUE
// =============================================================================

// Issue moves an Approved note to Issued. The artifact is rendered and
// hashed before the status commits, so a renderer failure leaves the note
// Approved and Issue can be retried. A second Issue is rejected; it never
// silently re-issues under a new hash.
func (s *Service) Issue(ctx context.Context, actor Actor, id NoteID) (*Note, error) {
	if !Permitted(OpIssue, actor.Role) {
		return nil, &TransitionError{NoteID: id, Operation: OpIssue, Role: actor.Role}
	}

	before, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if before.Status != StatusApproved {
		reason := "only approved notes can be issued"
		if before.Status == StatusIssued {
			reason = "note is already issued"
		}
		return nil, &TransitionError{NoteID: id, Operation: OpIssue, Status: before.Status, Reason: reason}
	}

	// Render outside any transaction; it is the slow part.
	ref, hash, err := s.Binder.Bind(ctx, before)
	if err != nil {
		return nil, err
	}

	after := *before
	after.Status = StatusIssued
	after.ArtifactRef = ref
	after.ArtifactHash = hash
	after.UpdatedAt = s.now()

	err = s.Store.WithTx(ctx, func(tx Store) error {
		if err := tx.TransitionStatus(ctx, OpIssue, id, StatusApproved, StatusIssued,
			TransitionUpdate{ArtifactRef: ref, ArtifactHash: hash}); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, s.auditEntry(AuditIssue, id, actor.ID, before, &after))
	})
	if err != nil {
		return nil, err
	}

	s.log.Infow("note issued",
		"note_id", id,
		"document_number", after.DocumentNumber,
		"artifact_ref", ref,
		"artifact_hash", hash)
	return &after, nil
}

// =============================================================================
// REGENERATE / VERIFY
// =============================================================================

// Regenerate re-renders an Issued note's artifact on explicit, authorized
// request. The fresh (ref, hash) pair replaces the stored one and the swap
// is audited with both hashes. Reads never trigger this.
func (s *Service) Regenerate(ctx context.Context, actor Actor, id NoteID) (*Note, error) {
	if !Permitted(OpRegenerate, actor.Role) {
		return nil, &TransitionError{NoteID: id, Operation: OpRegenerate, Role: actor.Role}
	}

	before, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if before.Status != StatusIssued {
		return nil, &TransitionError{NoteID: id, Operation: OpRegenerate, Status: before.Status,
			Reason: "only issued notes can be regenerated"}
	}

	ref, hash, err := s.Binder.Bind(ctx, before)
	if err != nil {
		return nil, err
	}

	after := *before
	after.ArtifactRef = ref
	after.ArtifactHash = hash
	after.UpdatedAt = s.now()

	err = s.Store.WithTx(ctx, func(tx Store) error {
		if err := tx.SetArtifact(ctx, id, ref, hash); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, s.auditEntry(AuditRegenerate, id, actor.ID, before, &after))
	})
	if err != nil {
		return nil, err
	}

	if hash != before.ArtifactHash {
		s.log.Warnw("regenerated artifact hash differs from issued hash",
			"note_id", id, "issued_hash", before.ArtifactHash, "fresh_hash", hash)
	}
	return &after, nil
}

// VerifyArtifact re-renders the note and reports whether the fresh hash
// still matches the one recorded at issuance. Nothing is stored.
func (s *Service) VerifyArtifact(ctx context.Context, id NoteID) (bool, string, error) {
	n, err := s.mustGet(ctx, id)
	if err != nil {
		return false, "", err
	}
	if n.ArtifactHash == "" {
		return false, "", &TransitionError{NoteID: id, Operation: OpRegenerate, Status: n.Status,
			Reason: "note has no bound artifact"}
	}
	return s.Binder.Verify(ctx, n)
}

// =============================================================================
// DISPATCH
// =============================================================================

// RecordDispatch drives the external transport for an Issued note's
// artifact and appends the outcome to the audit trail - success and
// failure alike. The engine records; the transport delivers. A transport
// failure is part of the recorded result (Delivered=false with Detail),
// not an error: a non-nil error means the attempt could not be made, or
// was made but its outcome could not be recorded, and must never be
// reported to the caller as a recorded dispatch.
func (s *Service) RecordDispatch(ctx context.Context, actor Actor, id NoteID, recipients []string) (DispatchResult, error) {
	if !Permitted(OpDispatch, actor.Role) {
		return DispatchResult{}, &TransitionError{NoteID: id, Operation: OpDispatch, Role: actor.Role}
	}
	if len(recipients) == 0 {
		return DispatchResult{}, &FieldValidationError{Field: "recipients", Reason: "required"}
	}

	n, err := s.mustGet(ctx, id)
	if err != nil {
		return DispatchResult{}, err
	}
	if n.Status != StatusIssued {
		return DispatchResult{}, &TransitionError{NoteID: id, Operation: OpDispatch, Status: n.Status,
			Reason: "only issued notes can be dispatched"}
	}

	artifact, err := s.Binder.Artifacts.GetArtifact(ctx, id)
	if err != nil {
		return DispatchResult{}, err
	}
	if artifact == nil {
		return DispatchResult{}, &NotFoundError{Kind: "artifact", ID: string(id)}
	}

	result, dispatchErr := s.Dispatcher.Dispatch(ctx, n, artifact, recipients)
	result.Recipients = recipients
	if dispatchErr != nil {
		result.Delivered = false
		if result.Detail == "" {
			result.Detail = dispatchErr.Error()
		}
		s.log.Warnw("dispatch attempt failed", "note_id", id, "error", dispatchErr)
	}

	payload, err := json.Marshal(result)
	if err != nil {
		// An empty After would be indistinguishable from a pure attempt.
		s.log.Warnw("failed to encode dispatch outcome", "note_id", id, "error", err)
	}
	entry := s.auditEntry(AuditDispatch, id, actor.ID, nil, nil)
	entry.After = payload
	if err := s.Store.AppendAudit(ctx, entry); err != nil {
		return result, fmt.Errorf("dispatch attempted but outcome not recorded: %w", err)
	}

	s.log.Infow("dispatch recorded",
		"note_id", id, "delivered", result.Delivered, "recipients", len(recipients))
	return result, nil
}

// =============================================================================
// READS
// =============================================================================

func (s *Service) GetNote(ctx context.Context, id NoteID) (*Note, error) {
	return s.mustGet(ctx, id)
}

func (s *Service) GetNoteByNumber(ctx context.Context, documentNumber string) (*Note, error) {
	n, err := s.Store.GetNoteByNumber(ctx, documentNumber)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, &NotFoundError{Kind: "note", ID: documentNumber}
	}
	return n, nil
}

func (s *Service) ListNotes(ctx context.Context, f NoteFilter) ([]*Note, error) {
	return s.Store.ListNotes(ctx, f)
}

func (s *Service) AuditTrail(ctx context.Context, id NoteID) ([]AuditEntry, error) {
	if _, err := s.mustGet(ctx, id); err != nil {
		return nil, err
	}
	return s.Store.AuditTrail(ctx, noteTable, string(id))
}

func (s *Service) GetArtifact(ctx context.Context, id NoteID) (*Artifact, error) {
	if _, err := s.mustGet(ctx, id); err != nil {
		return nil, err
	}
	a, err := s.Binder.Artifacts.GetArtifact(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, &NotFoundError{Kind: "artifact", ID: string(id)}
	}
	return a, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) mustGet(ctx context.Context, id NoteID) (*Note, error) {
	n, err := s.Store.GetNote(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, &NotFoundError{Kind: "note", ID: string(id)}
	}
	return n, nil
}

func (s *Service) auditEntry(action AuditAction, id NoteID, actorID string, before, after *Note) AuditEntry {
	e := AuditEntry{
		ID:        uuid.NewString(),
		Table:     noteTable,
		RecordID:  string(id),
		Action:    action,
		ActorID:   actorID,
		CreatedAt: s.now(),
	}
	var err error
	if before != nil {
		if e.Before, err = json.Marshal(before); err != nil {
			s.log.Warnw("failed to encode audit snapshot",
				"note_id", id, "action", action, "field", "before", "error", err)
		}
	}
	if after != nil {
		if e.After, err = json.Marshal(after); err != nil {
			s.log.Warnw("failed to encode audit snapshot",
				"note_id", id, "action", action, "field", "after", "error", err)
		}
	}
	return e
}
