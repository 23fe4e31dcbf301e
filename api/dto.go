/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  domain model. Monetary fields travel as decimal strings in responses
  (StringFixed(2)) so clients never see float artifacts; requests accept
  either JSON numbers or strings via decimal.Decimal's unmarshaller.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Requests carry validator/v10 struct tags; handlers run the shared
  validator before touching domain logic. Domain rules (percent ranges,
  share sums, status gates) stay in the notes package - the tags only
  catch shape problems early.

SEE ALSO:
  - handlers.go: Uses these types
  - notes/types.go: The domain model these map onto
*/
package api

import (
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/archit2501/insurance-brokerage-system-sub000/notes"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// LeviesDTO mirrors notes.Levies on the wire.
type LeviesDTO struct {
	Niacom decimal.Decimal `json:"niacom"`
	Ncrib  decimal.Decimal `json:"ncrib"`
	EdTax  decimal.Decimal `json:"ed_tax"`
}

func (l LeviesDTO) toDomain() notes.Levies {
	return notes.Levies{Niacom: l.Niacom, Ncrib: l.Ncrib, EdTax: l.EdTax}
}

// ShareRequest is one co-insurance share in a create/update request.
type ShareRequest struct {
	InsurerID  string          `json:"insurer_id" validate:"required"`
	Percentage decimal.Decimal `json:"percentage" validate:"required"`
}

// CreateNoteRequest is the request to create a note. document_number is
// accepted in the payload only so the engine can reject it explicitly -
// numbers are assigned, never supplied.
type CreateNoteRequest struct {
	NoteType       string `json:"note_type" validate:"required,oneof=CN DN"`
	DocumentNumber string `json:"document_number,omitempty"`

	ClientID  string `json:"client_id" validate:"required"`
	PolicyID  string `json:"policy_id" validate:"required"`
	InsurerID string `json:"insurer_id,omitempty"`

	GrossPremium       decimal.Decimal `json:"gross_premium"`
	BrokeragePct       decimal.Decimal `json:"brokerage_pct"`
	VatPct             decimal.Decimal `json:"vat_pct"`
	AgentCommissionPct decimal.Decimal `json:"agent_commission_pct"`
	Levies             LeviesDTO       `json:"levies"`

	Shares    []ShareRequest `json:"co_insurance_shares,omitempty" validate:"dive"`
	Narration string         `json:"narration,omitempty"`
}

// UpdateNoteRequest rewrites a draft's financial inputs.
type UpdateNoteRequest struct {
	DocumentNumber string `json:"document_number,omitempty"`

	InsurerID          string          `json:"insurer_id,omitempty"`
	GrossPremium       decimal.Decimal `json:"gross_premium"`
	BrokeragePct       decimal.Decimal `json:"brokerage_pct"`
	VatPct             decimal.Decimal `json:"vat_pct"`
	AgentCommissionPct decimal.Decimal `json:"agent_commission_pct"`
	Levies             LeviesDTO       `json:"levies"`

	Shares    []ShareRequest `json:"co_insurance_shares,omitempty" validate:"dive"`
	Narration string         `json:"narration,omitempty"`
}

// DispatchRequest names the recipients for an artifact dispatch attempt.
type DispatchRequest struct {
	Recipients []string `json:"recipients" validate:"required,min=1,dive,required"`
}

// CreatePartyRequest seeds a registry row (client or insurer).
type CreatePartyRequest struct {
	ID     string `json:"id" validate:"required"`
	Name   string `json:"name" validate:"required"`
	Active *bool  `json:"active,omitempty"`
}

// CreatePolicyRequest seeds a policy registry row.
type CreatePolicyRequest struct {
	ID          string `json:"id" validate:"required"`
	ClientID    string `json:"client_id" validate:"required"`
	Description string `json:"description,omitempty"`
	Active      *bool  `json:"active,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ShareDTO is one co-insurance share in a response.
type ShareDTO struct {
	InsurerID  string `json:"insurer_id"`
	Percentage string `json:"percentage"`
	Amount     string `json:"amount"`
}

// BreakdownDTO carries the computed figures, fixed to 2dp strings.
type BreakdownDTO struct {
	BrokerageAmount       string `json:"brokerage_amount"`
	VatOnBrokerage        string `json:"vat_on_brokerage"`
	AgentCommissionAmount string `json:"agent_commission_amount"`
	NetBrokerage          string `json:"net_brokerage"`
	TotalLevies           string `json:"total_levies"`
	NetAmountDue          string `json:"net_amount_due"`
}

// NoteDTO is the full note representation.
type NoteDTO struct {
	ID             string `json:"id"`
	DocumentNumber string `json:"document_number"`
	NoteType       string `json:"note_type"`

	ClientID  string `json:"client_id"`
	PolicyID  string `json:"policy_id"`
	InsurerID string `json:"insurer_id,omitempty"`

	GrossPremium       string    `json:"gross_premium"`
	BrokeragePct       string    `json:"brokerage_pct"`
	VatPct             string    `json:"vat_pct"`
	AgentCommissionPct string    `json:"agent_commission_pct"`
	Levies             LeviesDTO `json:"levies"`

	Breakdown BreakdownDTO `json:"breakdown"`
	Shares    []ShareDTO   `json:"co_insurance_shares,omitempty"`

	Status       string `json:"status"`
	ArtifactRef  string `json:"artifact_ref,omitempty"`
	ArtifactHash string `json:"artifact_hash,omitempty"`

	Narration    string `json:"narration,omitempty"`
	PreparedBy   string `json:"prepared_by"`
	AuthorizedBy string `json:"authorized_by,omitempty"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func toNoteDTO(n *notes.Note) NoteDTO {
	return NoteDTO{
		ID:                 string(n.ID),
		DocumentNumber:     n.DocumentNumber,
		NoteType:           string(n.Type),
		ClientID:           n.ClientID,
		PolicyID:           n.PolicyID,
		InsurerID:          n.InsurerID,
		GrossPremium:       n.GrossPremium.StringFixed(2),
		BrokeragePct:       n.BrokeragePct.String(),
		VatPct:             n.VatPct.String(),
		AgentCommissionPct: n.AgentCommissionPct.String(),
		Levies: LeviesDTO{
			Niacom: n.Levies.Niacom,
			Ncrib:  n.Levies.Ncrib,
			EdTax:  n.Levies.EdTax,
		},
		Breakdown: BreakdownDTO{
			BrokerageAmount:       n.Breakdown.BrokerageAmount.StringFixed(2),
			VatOnBrokerage:        n.Breakdown.VatOnBrokerage.StringFixed(2),
			AgentCommissionAmount: n.Breakdown.AgentCommissionAmount.StringFixed(2),
			NetBrokerage:          n.Breakdown.NetBrokerage.StringFixed(2),
			TotalLevies:           n.Breakdown.TotalLevies.StringFixed(2),
			NetAmountDue:          n.Breakdown.NetAmountDue.StringFixed(2),
		},
		Shares: lo.Map(n.Shares, func(s notes.CoInsuranceShare, _ int) ShareDTO {
			return ShareDTO{
				InsurerID:  s.InsurerID,
				Percentage: s.Percentage.String(),
				Amount:     s.Amount.StringFixed(2),
			}
		}),
		Status:       string(n.Status),
		ArtifactRef:  n.ArtifactRef,
		ArtifactHash: n.ArtifactHash,
		Narration:    n.Narration,
		PreparedBy:   n.PreparedBy,
		AuthorizedBy: n.AuthorizedBy,
		CreatedAt:    n.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    n.UpdatedAt.Format(time.RFC3339),
	}
}

// AuditEntryDTO is one audit trail row.
type AuditEntryDTO struct {
	ID        string `json:"id"`
	Table     string `json:"table"`
	RecordID  string `json:"record_id"`
	Action    string `json:"action"`
	ActorID   string `json:"actor_id"`
	Before    any    `json:"before,omitempty"`
	After     any    `json:"after,omitempty"`
	CreatedAt string `json:"created_at"`
}

// VerifyDTO is the artifact verification result.
type VerifyDTO struct {
	NoteID     string `json:"note_id"`
	Match      bool   `json:"match"`
	StoredHash string `json:"stored_hash"`
	FreshHash  string `json:"fresh_hash"`
}

// DispatchDTO reports the recorded dispatch outcome.
type DispatchDTO struct {
	NoteID     string   `json:"note_id"`
	Recipients []string `json:"recipients"`
	Delivered  bool     `json:"delivered"`
	Detail     string   `json:"detail,omitempty"`
}

// ErrorDTO is the uniform error envelope.
type ErrorDTO struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}
