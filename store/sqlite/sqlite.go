/*
Package sqlite provides the SQLite-backed implementation of the engine's
storage interfaces.

PURPOSE:
  Implements notes.TxStore, notes.ArtifactStore and notes.Registry on
  SQLite. In production the same patterns apply to PostgreSQL - only minor
  SQL dialect differences (the sequence upsert uses the same
  ON CONFLICT ... RETURNING shape on both).

KEY TABLES:
  sequence_counters:   (category, year) -> last_value, upserted atomically
  notes:               One row per CN/DN, document_number UNIQUE
  co_insurance_shares: Per-insurer splits, replaced wholesale with their note
  audit_entries:       Append-only trail, never updated or deleted
  artifacts:           Rendered bytes, one per note, replaced on regenerate
  clients/insurers/policies: Minimal registry rows for existence checks

SEQUENCE ALLOCATION:
  NextSequence is a single upsert with RETURNING:

    INSERT INTO sequence_counters (category, year, last_value)
    VALUES (?, ?, 1)
    ON CONFLICT (category, year) DO UPDATE SET last_value = last_value + 1
    RETURNING last_value

  Run on the transaction handed out by WithTx, the increment commits or
  rolls back with the note insert that consumes it. Two transactions can
  never read the same pre-increment value; a rolled-back creation leaves a
  gap in the issued numbers, which is the documented trade-off.

STATUS GUARDS:
  Transitions are compare-and-swap updates:

    UPDATE notes SET status = ?, ... WHERE id = ? AND status = ?

  Zero rows affected means the caller lost a race (or the row is gone);
  the distinction is resolved with one follow-up existence check.

CONCURRENCY:
  sync.RWMutex serializes writers on top of SQLite's single-writer model;
  WAL mode keeps readers unblocked. Busy/locked errors are surfaced as
  notes.ErrConcurrencyConflict so the service's bounded retry can engage.

USAGE:
  store, err := sqlite.New("./data/brokerage.db")
  if err != nil { ... }
  defer store.Close()
  svc := notes.NewService(store, store, notes.NewBinder(renderer, store), dispatcher, logger)

SEE ALSO:
  - notes/store.go: Interface contracts this file implements
  - notes/lifecycle.go: The only caller of the mutating methods
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/archit2501/insurance-brokerage-system-sub000/notes"
)

// Store implements notes.TxStore, notes.ArtifactStore and notes.Registry.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: SQLite is single-writer, the mutex serializes access,
	// and a ":memory:" database must not be split across pool connections.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Document number counters, one row per (category, year), created lazily
	CREATE TABLE IF NOT EXISTS sequence_counters (
		category TEXT NOT NULL,
		year INTEGER NOT NULL,
		last_value INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (category, year)
	);

	-- Notes (credit and debit)
	CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		document_number TEXT NOT NULL UNIQUE,
		note_type TEXT NOT NULL,
		client_id TEXT NOT NULL,
		policy_id TEXT NOT NULL,
		insurer_id TEXT,
		gross_premium TEXT NOT NULL,
		brokerage_pct TEXT NOT NULL,
		vat_pct TEXT NOT NULL,
		agent_commission_pct TEXT NOT NULL,
		levy_niacom TEXT NOT NULL,
		levy_ncrib TEXT NOT NULL,
		levy_ed_tax TEXT NOT NULL,
		brokerage_amount TEXT NOT NULL,
		vat_on_brokerage TEXT NOT NULL,
		agent_commission_amount TEXT NOT NULL,
		net_brokerage TEXT NOT NULL,
		total_levies TEXT NOT NULL,
		net_amount_due TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'draft',
		artifact_ref TEXT,
		artifact_hash TEXT,
		narration TEXT,
		prepared_by TEXT NOT NULL,
		authorized_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_notes_status ON notes(status);
	CREATE INDEX IF NOT EXISTS idx_notes_type ON notes(note_type);
	CREATE INDEX IF NOT EXISTS idx_notes_client ON notes(client_id);
	CREATE INDEX IF NOT EXISTS idx_notes_created ON notes(created_at DESC);

	-- Co-insurance shares, owned by their note, replaced wholesale
	CREATE TABLE IF NOT EXISTS co_insurance_shares (
		note_id TEXT NOT NULL REFERENCES notes(id),
		position INTEGER NOT NULL,
		insurer_id TEXT NOT NULL,
		percentage TEXT NOT NULL,
		amount TEXT NOT NULL,
		PRIMARY KEY (note_id, position)
	);

	-- Audit trail (append-only: no UPDATE, no DELETE, ever)
	CREATE TABLE IF NOT EXISTS audit_entries (
		id TEXT PRIMARY KEY,
		table_name TEXT NOT NULL,
		record_id TEXT NOT NULL,
		action TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		before_json TEXT,
		after_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_record ON audit_entries(table_name, record_id, created_at);

	-- Rendered artifacts, one per note
	CREATE TABLE IF NOT EXISTS artifacts (
		note_id TEXT PRIMARY KEY REFERENCES notes(id),
		ref TEXT NOT NULL,
		hash TEXT NOT NULL,
		content BLOB NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Minimal registry rows; full registry CRUD lives outside this engine
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS insurers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS policies (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		description TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is the common surface of *sql.DB and *sql.Tx the helpers run on.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// SEQUENCE ALLOCATOR (notes.Store.NextSequence)
// =============================================================================

// NextSequence claims the next counter value for (category, year), creating
// the counter lazily at 1. Callers that need the claim to roll back with a
// failed insert must call this on the Store handed to WithTx.
func (s *Store) NextSequence(ctx context.Context, category string, year int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return nextSequence(ctx, s.db, category, year)
}

func nextSequence(ctx context.Context, db dbtx, category string, year int) (int64, error) {
	query := `
		INSERT INTO sequence_counters (category, year, last_value, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (category, year) DO UPDATE SET
			last_value = last_value + 1,
			updated_at = excluded.updated_at
		RETURNING last_value
	`

	var lastValue int64
	err := db.QueryRowContext(ctx, query, category, year, nowUTC()).Scan(&lastValue)
	if err != nil {
		return 0, translateBusy(fmt.Errorf("sequence allocation for %s/%d failed: %w", category, year, err))
	}
	return lastValue, nil
}

// PeekSequence returns the last allocated value without claiming one.
// Zero means no allocation has happened for that (category, year) yet.
func (s *Store) PeekSequence(ctx context.Context, category string, year int) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var lastValue int64
	err := s.db.QueryRowContext(ctx,
		"SELECT last_value FROM sequence_counters WHERE category = ? AND year = ?",
		category, year,
	).Scan(&lastValue)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return lastValue, err
}

// =============================================================================
// NOTE STORE (notes.Store)
// =============================================================================

// InsertNote persists a note and its shares.
func (s *Store) InsertNote(ctx context.Context, n *notes.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertNote(ctx, s.db, n)
}

func insertNote(ctx context.Context, db dbtx, n *notes.Note) error {
	query := `
		INSERT INTO notes
		(id, document_number, note_type, client_id, policy_id, insurer_id,
		 gross_premium, brokerage_pct, vat_pct, agent_commission_pct,
		 levy_niacom, levy_ncrib, levy_ed_tax,
		 brokerage_amount, vat_on_brokerage, agent_commission_amount,
		 net_brokerage, total_levies, net_amount_due,
		 status, artifact_ref, artifact_hash, narration,
		 prepared_by, authorized_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		n.ID, n.DocumentNumber, n.Type, n.ClientID, n.PolicyID, nullString(n.InsurerID),
		n.GrossPremium.String(), n.BrokeragePct.String(), n.VatPct.String(), n.AgentCommissionPct.String(),
		n.Levies.Niacom.String(), n.Levies.Ncrib.String(), n.Levies.EdTax.String(),
		n.Breakdown.BrokerageAmount.String(), n.Breakdown.VatOnBrokerage.String(),
		n.Breakdown.AgentCommissionAmount.String(), n.Breakdown.NetBrokerage.String(),
		n.Breakdown.TotalLevies.String(), n.Breakdown.NetAmountDue.String(),
		n.Status, nullString(n.ArtifactRef), nullString(n.ArtifactHash), nullString(n.Narration),
		n.PreparedBy, nullString(n.AuthorizedBy),
		n.CreatedAt.UTC().Format(time.RFC3339), n.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return translateBusy(fmt.Errorf("failed to insert note %s: %w", n.ID, err))
	}

	return insertShares(ctx, db, n.ID, n.Shares)
}

func insertShares(ctx context.Context, db dbtx, id notes.NoteID, shares []notes.CoInsuranceShare) error {
	for i, sh := range shares {
		_, err := db.ExecContext(ctx,
			"INSERT INTO co_insurance_shares (note_id, position, insurer_id, percentage, amount) VALUES (?, ?, ?, ?, ?)",
			id, i, sh.InsurerID, sh.Percentage.String(), sh.Amount.String(),
		)
		if err != nil {
			return translateBusy(fmt.Errorf("failed to insert share %d for note %s: %w", i, id, err))
		}
	}
	return nil
}

const noteColumns = `id, document_number, note_type, client_id, policy_id, insurer_id,
	gross_premium, brokerage_pct, vat_pct, agent_commission_pct,
	levy_niacom, levy_ncrib, levy_ed_tax,
	brokerage_amount, vat_on_brokerage, agent_commission_amount,
	net_brokerage, total_levies, net_amount_due,
	status, artifact_ref, artifact_hash, narration,
	prepared_by, authorized_by, created_at, updated_at`

// GetNote returns the note or nil when it does not exist.
func (s *Store) GetNote(ctx context.Context, id notes.NoteID) (*notes.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getNote(ctx, s.db, "id = ?", string(id))
}

// GetNoteByNumber looks a note up by its document number.
func (s *Store) GetNoteByNumber(ctx context.Context, documentNumber string) (*notes.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getNote(ctx, s.db, "document_number = ?", documentNumber)
}

func getNote(ctx context.Context, db dbtx, where string, arg any) (*notes.Note, error) {
	row := db.QueryRowContext(ctx, "SELECT "+noteColumns+" FROM notes WHERE "+where, arg)
	n, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	n.Shares, err = loadShares(ctx, db, n.ID)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func loadShares(ctx context.Context, db dbtx, id notes.NoteID) ([]notes.CoInsuranceShare, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT insurer_id, percentage, amount FROM co_insurance_shares WHERE note_id = ? ORDER BY position",
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load shares for %s: %w", id, err)
	}
	defer rows.Close()

	var shares []notes.CoInsuranceShare
	for rows.Next() {
		var sh notes.CoInsuranceShare
		var pct, amount string
		if err := rows.Scan(&sh.InsurerID, &pct, &amount); err != nil {
			return nil, err
		}
		sh.Percentage = parseDecimal(pct)
		sh.Amount = parseDecimal(amount)
		shares = append(shares, sh)
	}
	return shares, rows.Err()
}

// ListNotes returns notes matching the filter, newest first.
func (s *Store) ListNotes(ctx context.Context, f notes.NoteFilter) ([]*notes.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + noteColumns + " FROM notes"
	var conds []string
	var args []any
	if f.Type != "" {
		conds = append(conds, "note_type = ?")
		args = append(args, f.Type)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.ClientID != "" {
		conds = append(conds, "client_id = ?")
		args = append(args, f.ClientID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, document_number DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", f.Limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	var result []*notes.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, n := range result {
		n.Shares, err = loadShares(ctx, s.db, n.ID)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanNote(row scanner) (*notes.Note, error) {
	var (
		n                                     notes.Note
		insurerID, artifactRef, artifactHash  sql.NullString
		narration, authorizedBy               sql.NullString
		gross, brokeragePct, vatPct, agentPct string
		niacom, ncrib, edTax                  string
		brokerageAmt, vatAmt, agentAmt        string
		netBrokerage, totalLevies, netDue     string
		createdAt, updatedAt                  string
	)

	err := row.Scan(
		&n.ID, &n.DocumentNumber, &n.Type, &n.ClientID, &n.PolicyID, &insurerID,
		&gross, &brokeragePct, &vatPct, &agentPct,
		&niacom, &ncrib, &edTax,
		&brokerageAmt, &vatAmt, &agentAmt,
		&netBrokerage, &totalLevies, &netDue,
		&n.Status, &artifactRef, &artifactHash, &narration,
		&n.PreparedBy, &authorizedBy, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	n.InsurerID = insurerID.String
	n.ArtifactRef = artifactRef.String
	n.ArtifactHash = artifactHash.String
	n.Narration = narration.String
	n.AuthorizedBy = authorizedBy.String
	n.GrossPremium = parseDecimal(gross)
	n.BrokeragePct = parseDecimal(brokeragePct)
	n.VatPct = parseDecimal(vatPct)
	n.AgentCommissionPct = parseDecimal(agentPct)
	n.Levies = notes.Levies{Niacom: parseDecimal(niacom), Ncrib: parseDecimal(ncrib), EdTax: parseDecimal(edTax)}
	n.Breakdown = notes.Breakdown{
		BrokerageAmount:       parseDecimal(brokerageAmt),
		VatOnBrokerage:        parseDecimal(vatAmt),
		AgentCommissionAmount: parseDecimal(agentAmt),
		NetBrokerage:          parseDecimal(netBrokerage),
		TotalLevies:           parseDecimal(totalLevies),
		NetAmountDue:          parseDecimal(netDue),
	}
	n.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	n.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &n, nil
}

// UpdateDraft rewrites a draft's financial inputs and shares. The WHERE
// clause re-checks the status at commit time; losing that check is a
// conflict, not a silent overwrite.
func (s *Store) UpdateDraft(ctx context.Context, op notes.Operation, n *notes.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateDraft(ctx, s.db, op, n)
}

func updateDraft(ctx context.Context, db dbtx, op notes.Operation, n *notes.Note) error {
	query := `
		UPDATE notes SET
			insurer_id = ?,
			gross_premium = ?, brokerage_pct = ?, vat_pct = ?, agent_commission_pct = ?,
			levy_niacom = ?, levy_ncrib = ?, levy_ed_tax = ?,
			brokerage_amount = ?, vat_on_brokerage = ?, agent_commission_amount = ?,
			net_brokerage = ?, total_levies = ?, net_amount_due = ?,
			narration = ?, updated_at = ?
		WHERE id = ? AND status = 'draft'
	`

	res, err := db.ExecContext(ctx, query,
		nullString(n.InsurerID),
		n.GrossPremium.String(), n.BrokeragePct.String(), n.VatPct.String(), n.AgentCommissionPct.String(),
		n.Levies.Niacom.String(), n.Levies.Ncrib.String(), n.Levies.EdTax.String(),
		n.Breakdown.BrokerageAmount.String(), n.Breakdown.VatOnBrokerage.String(),
		n.Breakdown.AgentCommissionAmount.String(), n.Breakdown.NetBrokerage.String(),
		n.Breakdown.TotalLevies.String(), n.Breakdown.NetAmountDue.String(),
		nullString(n.Narration), n.UpdatedAt.UTC().Format(time.RFC3339),
		n.ID,
	)
	if err != nil {
		return translateBusy(fmt.Errorf("failed to update draft %s: %w", n.ID, err))
	}
	if err := requireAffected(ctx, db, res, op, n.ID); err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, "DELETE FROM co_insurance_shares WHERE note_id = ?", n.ID); err != nil {
		return fmt.Errorf("failed to replace shares for %s: %w", n.ID, err)
	}
	return insertShares(ctx, db, n.ID, n.Shares)
}

// TransitionStatus advances a note from exactly `from` to `to`.
func (s *Store) TransitionStatus(ctx context.Context, op notes.Operation, id notes.NoteID, from, to notes.Status, upd notes.TransitionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return transitionStatus(ctx, s.db, op, id, from, to, upd)
}

func transitionStatus(ctx context.Context, db dbtx, op notes.Operation, id notes.NoteID, from, to notes.Status, upd notes.TransitionUpdate) error {
	query := `
		UPDATE notes SET
			status = ?,
			authorized_by = COALESCE(NULLIF(?, ''), authorized_by),
			artifact_ref = COALESCE(NULLIF(?, ''), artifact_ref),
			artifact_hash = COALESCE(NULLIF(?, ''), artifact_hash),
			updated_at = ?
		WHERE id = ? AND status = ?
	`

	res, err := db.ExecContext(ctx, query,
		to, upd.AuthorizedBy, upd.ArtifactRef, upd.ArtifactHash, nowUTC(), id, from,
	)
	if err != nil {
		return translateBusy(fmt.Errorf("failed to transition %s to %s: %w", id, to, err))
	}
	return requireAffected(ctx, db, res, op, id)
}

// SetArtifact records (ref, hash) without touching status.
func (s *Store) SetArtifact(ctx context.Context, id notes.NoteID, ref, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setArtifact(ctx, s.db, id, ref, hash)
}

func setArtifact(ctx context.Context, db dbtx, id notes.NoteID, ref, hash string) error {
	res, err := db.ExecContext(ctx,
		"UPDATE notes SET artifact_ref = ?, artifact_hash = ?, updated_at = ? WHERE id = ?",
		ref, hash, nowUTC(), id,
	)
	if err != nil {
		return translateBusy(fmt.Errorf("failed to set artifact on %s: %w", id, err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &notes.NotFoundError{Kind: "note", ID: string(id)}
	}
	return nil
}

// requireAffected turns a zero-row guarded update into the right typed
// error: the row is gone (not found) or its status moved under us (conflict).
func requireAffected(ctx context.Context, db dbtx, res sql.Result, op notes.Operation, id notes.NoteID) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var exists int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notes WHERE id = ?", id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return &notes.NotFoundError{Kind: "note", ID: string(id)}
	}
	return &notes.ConflictError{NoteID: id, Operation: op}
}

// =============================================================================
// AUDIT LOG (append-only)
// =============================================================================

// AppendAudit appends an audit entry. There is no update or delete path.
func (s *Store) AppendAudit(ctx context.Context, e notes.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendAudit(ctx, s.db, e)
}

func appendAudit(ctx context.Context, db dbtx, e notes.AuditEntry) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO audit_entries (id, table_name, record_id, action, actor_id, before_json, after_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Table, e.RecordID, e.Action, e.ActorID,
		nullBytes(e.Before), nullBytes(e.After),
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return translateBusy(fmt.Errorf("failed to append audit entry: %w", err))
	}
	return nil
}

// AuditTrail returns the entries for one record, oldest first.
func (s *Store) AuditTrail(ctx context.Context, table, recordID string) ([]notes.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, table_name, record_id, action, actor_id, before_json, after_json, created_at
		 FROM audit_entries WHERE table_name = ? AND record_id = ? ORDER BY created_at ASC, rowid ASC`,
		table, recordID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trail: %w", err)
	}
	defer rows.Close()

	var entries []notes.AuditEntry
	for rows.Next() {
		var e notes.AuditEntry
		var before, after sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Table, &e.RecordID, &e.Action, &e.ActorID, &before, &after, &createdAt); err != nil {
			return nil, err
		}
		if before.Valid {
			e.Before = []byte(before.String)
		}
		if after.Valid {
			e.After = []byte(after.String)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// ARTIFACT STORE (notes.ArtifactStore)
// =============================================================================

// PutArtifact stores rendered bytes for a note, replacing any previous ones.
func (s *Store) PutArtifact(ctx context.Context, a notes.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (note_id, ref, hash, content, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (note_id) DO UPDATE SET
			ref = excluded.ref,
			hash = excluded.hash,
			content = excluded.content,
			created_at = excluded.created_at`,
		a.NoteID, a.Ref, a.Hash, a.Content, nowUTC(),
	)
	if err != nil {
		return translateBusy(fmt.Errorf("failed to store artifact for %s: %w", a.NoteID, err))
	}
	return nil
}

// GetArtifact returns the stored artifact or nil.
func (s *Store) GetArtifact(ctx context.Context, id notes.NoteID) (*notes.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var a notes.Artifact
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT note_id, ref, hash, content, created_at FROM artifacts WHERE note_id = ?",
		id,
	).Scan(&a.NoteID, &a.Ref, &a.Hash, &a.Content, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &a, nil
}

// =============================================================================
// REGISTRY (notes.Registry) - existence checks plus minimal seeding
// =============================================================================

// Party is a minimal registry row. Full party CRUD is another subsystem;
// the engine only needs existence and activity.
type Party struct {
	ID     string
	Name   string
	Active bool
}

// Policy is a minimal policy registry row.
type Policy struct {
	ID          string
	ClientID    string
	Description string
	Active      bool
}

func (s *Store) SaveClient(ctx context.Context, p Party) error {
	return s.saveParty(ctx, "clients", p)
}

func (s *Store) SaveInsurer(ctx context.Context, p Party) error {
	return s.saveParty(ctx, "insurers", p)
}

func (s *Store) saveParty(ctx context.Context, table string, p Party) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+table+` (id, name, active, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, active = excluded.active`,
		p.ID, p.Name, p.Active, nowUTC(),
	)
	return err
}

func (s *Store) SavePolicy(ctx context.Context, p Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO policies (id, client_id, description, active, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET client_id = excluded.client_id,
			description = excluded.description, active = excluded.active`,
		p.ID, p.ClientID, p.Description, p.Active, nowUTC(),
	)
	return err
}

func (s *Store) ClientActive(ctx context.Context, id string) (bool, error) {
	return s.activeIn(ctx, "clients", id)
}

func (s *Store) InsurerActive(ctx context.Context, id string) (bool, error) {
	return s.activeIn(ctx, "insurers", id)
}

func (s *Store) PolicyActive(ctx context.Context, id string) (bool, error) {
	return s.activeIn(ctx, "policies", id)
}

func (s *Store) activeIn(ctx context.Context, table, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active bool
	err := s.db.QueryRowContext(ctx, "SELECT active FROM "+table+" WHERE id = ?", id).Scan(&active)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return active, nil
}

// =============================================================================
// TRANSACTIONAL STORE (notes.TxStore)
// =============================================================================

// WithTx executes fn against a transactional view of the store. The write
// lock is held for the whole transaction, so a sequence claim and its
// consuming insert are never interleaved with another writer.
func (s *Store) WithTx(ctx context.Context, fn func(notes.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return translateBusy(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return translateBusy(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// txStore runs every operation on the open transaction. No locking here:
// the parent holds the write lock for the transaction's lifetime.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) NextSequence(ctx context.Context, category string, year int) (int64, error) {
	return nextSequence(ctx, ts.tx, category, year)
}

func (ts *txStore) InsertNote(ctx context.Context, n *notes.Note) error {
	return insertNote(ctx, ts.tx, n)
}

func (ts *txStore) GetNote(ctx context.Context, id notes.NoteID) (*notes.Note, error) {
	return getNote(ctx, ts.tx, "id = ?", string(id))
}

func (ts *txStore) GetNoteByNumber(ctx context.Context, documentNumber string) (*notes.Note, error) {
	return getNote(ctx, ts.tx, "document_number = ?", documentNumber)
}

func (ts *txStore) ListNotes(ctx context.Context, f notes.NoteFilter) ([]*notes.Note, error) {
	return nil, fmt.Errorf("ListNotes is not available inside a transaction")
}

func (ts *txStore) UpdateDraft(ctx context.Context, op notes.Operation, n *notes.Note) error {
	return updateDraft(ctx, ts.tx, op, n)
}

func (ts *txStore) TransitionStatus(ctx context.Context, op notes.Operation, id notes.NoteID, from, to notes.Status, upd notes.TransitionUpdate) error {
	return transitionStatus(ctx, ts.tx, op, id, from, to, upd)
}

func (ts *txStore) SetArtifact(ctx context.Context, id notes.NoteID, ref, hash string) error {
	return setArtifact(ctx, ts.tx, id, ref, hash)
}

func (ts *txStore) AppendAudit(ctx context.Context, e notes.AuditEntry) error {
	return appendAudit(ctx, ts.tx, e)
}

func (ts *txStore) AuditTrail(ctx context.Context, table, recordID string) ([]notes.AuditEntry, error) {
	return nil, fmt.Errorf("AuditTrail is not available inside a transaction")
}

// =============================================================================
// HELPERS
// =============================================================================

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// translateBusy maps SQLite write contention onto the engine's conflict
// error so the service's bounded retry can distinguish it from hard
// failures. Everything else passes through untouched.
func translateBusy(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked") {
		return fmt.Errorf("store contention: %w", notes.ErrConcurrencyConflict)
	}
	return err
}
