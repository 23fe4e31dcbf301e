/*
Package notes implements the financial document lifecycle engine for the
brokerage back office.

PURPOSE:
  This package contains the domain types and algorithms for Credit Notes
  (money owed by an insurer to the broker) and Debit Notes (money owed by
  a client to the broker): document numbering, the monetary breakdown,
  co-insurance splitting, the Draft → Approved → Issued state machine,
  and the artifact/audit binding that makes issued documents tamper-evident.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money:            decimal values rounded to 2dp, half away from zero
  - Note:             one CN or DN with its computed breakdown
  - CoInsuranceShare: per-insurer split of a co-insured CN
  - Levies:           statutory charges deducted from the amount due
  - Actor/Role:       who is performing a lifecycle operation

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for all money, never float64
  2. Immutability: document numbers and issued artifacts never change
  3. Forward-only: status advances Draft → Approved → Issued, never back
  4. Auditability: every mutation lands in the append-only audit log

USAGE:
  breakdown := notes.ComputeBreakdown(gross, brokeragePct, vatPct, agentPct, levies)
  note, err := svc.Create(ctx, actor, input)
  note, err = svc.Approve(ctx, actor, note.ID)
  note, err = svc.Issue(ctx, actor, note.ID)

SEE ALSO:
  - calculator.go: Breakdown computation with staged rounding
  - coinsurance.go: Share splitting
  - lifecycle.go: State machine and role gates
  - artifact.go: Render + hash binding
*/
package notes

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - 2dp decimals, rounded half away from zero
// =============================================================================

// Round2 rounds a monetary value to 2 decimal places, half away from zero.
// Every derived figure in a note is rounded at the point it is computed,
// not at the end, so generated notes match manually prepared ones line by
// line. decimal.Round implements exactly this rounding mode.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Pct applies a percentage to a base amount and rounds the result.
func Pct(base, percent decimal.Decimal) decimal.Decimal {
	return Round2(base.Mul(percent).Div(decimal.NewFromInt(100)))
}

// MustDecimal parses a decimal string, returning zero on failure.
// Intended for constants and test fixtures, not request input.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type NoteID string

// NoteType is the document category. It doubles as the sequence counter
// category, so CN and DN number independently within a year.
type NoteType string

const (
	TypeCreditNote NoteType = "CN"
	TypeDebitNote  NoteType = "DN"
)

func (t NoteType) Valid() bool {
	return t == TypeCreditNote || t == TypeDebitNote
}

// =============================================================================
// STATUS - Forward-only lifecycle
// =============================================================================

type Status string

const (
	StatusDraft    Status = "draft"
	StatusApproved Status = "approved"
	StatusIssued   Status = "issued"
)

// CanAdvanceTo reports whether a single forward step from s to next is legal.
// Draft cannot jump to Issued and no status ever regresses.
func (s Status) CanAdvanceTo(next Status) bool {
	switch s {
	case StatusDraft:
		return next == StatusApproved
	case StatusApproved:
		return next == StatusIssued
	default:
		return false
	}
}

// =============================================================================
// LEVIES - Statutory charges
// =============================================================================

// Levies are the fixed statutory/association charges deducted when computing
// the net amount due: the regulatory commission levy (NIACOM), the industry
// body levy (NCRIB), and education tax.
type Levies struct {
	Niacom decimal.Decimal `json:"niacom"`
	Ncrib  decimal.Decimal `json:"ncrib"`
	EdTax  decimal.Decimal `json:"ed_tax"`
}

// Total returns the rounded sum of all levies.
func (l Levies) Total() decimal.Decimal {
	return Round2(l.Niacom.Add(l.Ncrib).Add(l.EdTax))
}

// AnyNegative reports whether any levy is below zero. Negative levies are
// rejected upstream, never clamped.
func (l Levies) AnyNegative() bool {
	return l.Niacom.IsNegative() || l.Ncrib.IsNegative() || l.EdTax.IsNegative()
}

// =============================================================================
// BREAKDOWN - Computed monetary fields
// =============================================================================

// Breakdown holds every derived monetary figure of a note. All fields are
// already rounded; persisting and re-reading them must be loss-free.
type Breakdown struct {
	BrokerageAmount       decimal.Decimal `json:"brokerage_amount"`
	VatOnBrokerage        decimal.Decimal `json:"vat_on_brokerage"`
	AgentCommissionAmount decimal.Decimal `json:"agent_commission_amount"`
	NetBrokerage          decimal.Decimal `json:"net_brokerage"`
	TotalLevies           decimal.Decimal `json:"total_levies"`
	NetAmountDue          decimal.Decimal `json:"net_amount_due"`
}

// =============================================================================
// CO-INSURANCE
// =============================================================================

// ShareInput is the caller-supplied portion of a co-insurance split.
type ShareInput struct {
	InsurerID  string          `json:"insurer_id"`
	Percentage decimal.Decimal `json:"percentage"`
}

// CoInsuranceShare is one insurer's computed slice of a co-insured credit
// note. Shares belong to exactly one note, are created atomically with it,
// and are only ever replaced wholesale before issuance.
type CoInsuranceShare struct {
	InsurerID  string          `json:"insurer_id"`
	Percentage decimal.Decimal `json:"percentage"`
	Amount     decimal.Decimal `json:"amount"`
}

// =============================================================================
// NOTE
// =============================================================================

// Note is one credit or debit note.
//
// INVARIANTS:
//   - DocumentNumber is assigned exactly once at creation, format
//     {CN|DN}/{YYYY}/{NNNNNN}, and never mutated.
//   - Breakdown fields are always consistent with the inputs under the
//     staged 2dp rounding rule.
//   - Status only moves forward.
//   - ArtifactRef/ArtifactHash are set together or not at all.
type Note struct {
	ID             NoteID   `json:"id"`
	DocumentNumber string   `json:"document_number"`
	Type           NoteType `json:"note_type"`

	ClientID  string `json:"client_id"`
	PolicyID  string `json:"policy_id"`
	InsurerID string `json:"insurer_id,omitempty"` // required for CN unless co-insured

	GrossPremium       decimal.Decimal `json:"gross_premium"`
	BrokeragePct       decimal.Decimal `json:"brokerage_pct"`
	VatPct             decimal.Decimal `json:"vat_pct"`
	AgentCommissionPct decimal.Decimal `json:"agent_commission_pct"`
	Levies             Levies          `json:"levies"`

	Breakdown Breakdown          `json:"breakdown"`
	Shares    []CoInsuranceShare `json:"co_insurance_shares,omitempty"` // CN only

	Status       Status `json:"status"`
	ArtifactRef  string `json:"artifact_ref,omitempty"`
	ArtifactHash string `json:"artifact_hash,omitempty"`

	Narration    string `json:"narration,omitempty"`
	PreparedBy   string `json:"prepared_by"`
	AuthorizedBy string `json:"authorized_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CoInsured reports whether this note carries a co-insurance split.
func (n *Note) CoInsured() bool {
	return len(n.Shares) > 0
}

// =============================================================================
// ACTORS AND ROLES
// =============================================================================

// Role is the approval level the identity provider resolved for a request.
// The engine consumes roles, it never derives them.
type Role string

const (
	RoleClerk        Role = "clerk"        // prepares drafts
	RoleUnderwriting Role = "underwriting" // approves
	RoleAccounts     Role = "accounts"     // issues and dispatches
	RoleAdmin        Role = "admin"        // everything
)

// Actor identifies who is performing an operation.
type Actor struct {
	ID   string
	Role Role
}

// =============================================================================
// OPERATIONS - Capability table for lifecycle gates
// =============================================================================

// Operation names a role-gated lifecycle action.
type Operation string

const (
	OpCreate     Operation = "create"
	OpUpdate     Operation = "update"
	OpApprove    Operation = "approve"
	OpIssue      Operation = "issue"
	OpRegenerate Operation = "regenerate"
	OpDispatch   Operation = "dispatch"
)

// operationRoles is the single place that says who may do what. Keeping it
// as a table rather than inline conditionals makes the state machine and
// its guards reviewable as one unit.
var operationRoles = map[Operation][]Role{
	OpCreate:     {RoleClerk, RoleUnderwriting, RoleAccounts, RoleAdmin},
	OpUpdate:     {RoleClerk, RoleUnderwriting, RoleAccounts, RoleAdmin},
	OpApprove:    {RoleUnderwriting, RoleAdmin},
	OpIssue:      {RoleAccounts, RoleAdmin},
	OpRegenerate: {RoleAccounts, RoleAdmin},
	OpDispatch:   {RoleAccounts, RoleAdmin},
}

// Permitted reports whether role may perform op.
func Permitted(op Operation, role Role) bool {
	for _, r := range operationRoles[op] {
		if r == role {
			return true
		}
	}
	return false
}
