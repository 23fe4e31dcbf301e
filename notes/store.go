/*
store.go - Persistence and external collaborator interfaces

PURPOSE:
  Defines the seams between the lifecycle engine and everything it does not
  implement itself: the backing store, the party registry, the artifact
  renderer, and the dispatch transport. The engine owns note transitions
  and counter mutation exclusively; no other component writes a document
  number or a status.

KEY INTERFACES:
  Store:      Note persistence, sequence allocation, audit append
  TxStore:    Store plus WithTx for atomic multi-write operations
  ArtifactStore: Rendered document bytes, addressed by note
  Registry:   Read-only existence checks for clients/policies/insurers
  Renderer:   note -> bytes, stateless, external by contract
  Dispatcher: artifact delivery attempts, outcome recorded in audit only

SEQUENCE ALLOCATION CONTRACT:
  NextSequence must be called on the Store handed to a WithTx closure, so
  the counter bump and the note insert that consumes it commit or roll back
  together. Two concurrent callers for the same (category, year) must never
  observe the same value. A rolled-back creation may waste a value; that gap
  is a documented property, not a bug.

AUDIT CONTRACT:
  Audit entries are append-only. Every mutating lifecycle operation and
  every dispatch attempt appends one; nothing updates or deletes them.

SEE ALSO:
  - store/sqlite: Production implementation of Store and ArtifactStore
  - lifecycle.go: The only caller of the mutating methods
*/
package notes

import (
	"context"
	"encoding/json"
	"time"
)

// =============================================================================
// STORE - Note persistence, sequencing, audit
// =============================================================================

// NoteFilter narrows ListNotes. Zero values mean "no filter".
type NoteFilter struct {
	Type     NoteType
	Status   Status
	ClientID string
	Limit    int
	Offset   int
}

// TransitionUpdate carries the fields written alongside a status change.
type TransitionUpdate struct {
	AuthorizedBy string // set on approve
	ArtifactRef  string // set on issue
	ArtifactHash string // set on issue
}

// Store is the persistence surface for notes. Implementations must make
// every method safe for concurrent callers.
type Store interface {
	// NextSequence claims the next value in the (category, year) counter,
	// creating the counter lazily at 1. Must run inside the same database
	// transaction as the insert that consumes the value.
	NextSequence(ctx context.Context, category string, year int) (int64, error)

	// InsertNote persists a note and its co-insurance shares.
	InsertNote(ctx context.Context, n *Note) error

	// GetNote returns the note or nil when it does not exist.
	GetNote(ctx context.Context, id NoteID) (*Note, error)

	// GetNoteByNumber looks a note up by its human-facing document number.
	GetNoteByNumber(ctx context.Context, documentNumber string) (*Note, error)

	// ListNotes returns notes matching the filter, newest first.
	ListNotes(ctx context.Context, f NoteFilter) ([]*Note, error)

	// UpdateDraft rewrites a draft's financial inputs, breakdown and shares.
	// Guarded: the write only applies while the row is still in Draft, and
	// reports a conflict otherwise. DocumentNumber and Status are never
	// touched by this method.
	UpdateDraft(ctx context.Context, op Operation, n *Note) error

	// TransitionStatus advances id from exactly `from` to `to`, writing the
	// accompanying fields. The status check happens at commit time: a row
	// no longer in `from` means the caller lost a race and the method fails
	// with a ConflictError, or a NotFoundError when the row is gone.
	TransitionStatus(ctx context.Context, op Operation, id NoteID, from, to Status, upd TransitionUpdate) error

	// SetArtifact records the rendered artifact reference and hash without
	// changing status. Used for the best-effort render after creation and
	// for authorized regeneration.
	SetArtifact(ctx context.Context, id NoteID, ref, hash string) error

	// AppendAudit appends an entry to the audit trail. Append-only.
	AppendAudit(ctx context.Context, e AuditEntry) error

	// AuditTrail returns the audit entries for one record, oldest first.
	AuditTrail(ctx context.Context, table string, recordID string) ([]AuditEntry, error)
}

// TxStore wraps Store with transaction support. WithTx executes fn against
// a transactional Store view; an error from fn rolls everything back,
// including any sequence value claimed inside.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// AUDIT ENTRIES
// =============================================================================

type AuditAction string

const (
	AuditCreate     AuditAction = "CREATE"
	AuditUpdate     AuditAction = "UPDATE"
	AuditApprove    AuditAction = "APPROVE"
	AuditIssue      AuditAction = "ISSUE"
	AuditRegenerate AuditAction = "REGENERATE"
	AuditDispatch   AuditAction = "DISPATCH"
)

// AuditEntry records who did what to which record, with before/after
// snapshots where a mutation occurred. Entries are never updated or deleted.
type AuditEntry struct {
	ID        string
	Table     string
	RecordID  string
	Action    AuditAction
	ActorID   string
	Before    json.RawMessage // nil for creations
	After     json.RawMessage // nil for pure attempts (e.g. failed dispatch)
	CreatedAt time.Time
}

// =============================================================================
// ARTIFACTS
// =============================================================================

// Artifact is the stored rendered representation of a note.
type Artifact struct {
	NoteID    NoteID
	Ref       string
	Hash      string
	Content   []byte
	CreatedAt time.Time
}

// ArtifactStore persists rendered bytes, addressed by note. Writing the
// same note again replaces the stored artifact; the note row keeps the
// authoritative (ref, hash) pair.
type ArtifactStore interface {
	PutArtifact(ctx context.Context, a Artifact) error
	GetArtifact(ctx context.Context, id NoteID) (*Artifact, error)
}

// =============================================================================
// EXTERNAL COLLABORATORS - consumed, never reimplemented
// =============================================================================

// Registry answers read-only existence/activity checks before a note may
// reference a party or policy. Registry CRUD lives elsewhere.
type Registry interface {
	ClientActive(ctx context.Context, id string) (bool, error)
	PolicyActive(ctx context.Context, id string) (bool, error)
	InsurerActive(ctx context.Context, id string) (bool, error)
}

// Renderer produces the distributable representation of a note. Stateless:
// rendering the same note twice must produce identical bytes, which is what
// makes the stored hash usable for tamper detection.
type Renderer interface {
	Render(ctx context.Context, n *Note) ([]byte, error)
}

// DispatchResult is what the transport reports back for the audit trail.
type DispatchResult struct {
	Recipients []string
	Delivered  bool
	Detail     string
}

// Dispatcher attempts delivery of an artifact. The engine records the
// outcome; it does not implement transport.
type Dispatcher interface {
	Dispatch(ctx context.Context, n *Note, a *Artifact, recipients []string) (DispatchResult, error)
}
