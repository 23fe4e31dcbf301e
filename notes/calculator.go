/*
calculator.go - Monetary breakdown of a note

PURPOSE:
  Pure computation of every derived figure on a note from its inputs:
  brokerage, VAT on brokerage, agent commission, net brokerage, total
  levies, and the net amount due.

ROUNDING RULE (load-bearing):
  Every derived value is rounded to 2dp, half away from zero, AT THE POINT
  IT IS COMPUTED - never once at the end:

    brokerageAmount       = round2(gross × brokeragePct / 100)
    vatOnBrokerage        = round2(brokerageAmount × vatPct / 100)
    agentCommissionAmount = round2(gross × agentCommissionPct / 100)
    netBrokerage          = round2(brokerageAmount − agentCommissionAmount)
    totalLevies           = round2(niacom + ncrib + edTax)
    netAmountDue          = round2(gross − brokerageAmount − vatOnBrokerage − totalLevies)

  The staged form is not associative, and that is the point: the output must
  match a manually prepared accounting note line by line. Do not "simplify".

PRECONDITIONS:
  Percentage inputs are validated to [0,100] and levies to ≥ 0 by the
  lifecycle service before this function runs. ComputeBreakdown itself
  never rejects; it is a total function over its documented domain.

SEE ALSO:
  - coinsurance.go: Per-insurer splitting of the gross amount
  - lifecycle.go: Input validation before computation
*/
package notes

import "github.com/shopspring/decimal"

// ComputeBreakdown derives all monetary fields of a note. Pure: same inputs,
// same outputs, no I/O. A zero gross premium yields an all-zero breakdown
// except for levies, which are charged regardless.
func ComputeBreakdown(gross, brokeragePct, vatPct, agentCommissionPct decimal.Decimal, levies Levies) Breakdown {
	brokerageAmount := Pct(gross, brokeragePct)
	vatOnBrokerage := Pct(brokerageAmount, vatPct)
	agentCommissionAmount := Pct(gross, agentCommissionPct)
	netBrokerage := Round2(brokerageAmount.Sub(agentCommissionAmount))
	totalLevies := levies.Total()
	netAmountDue := Round2(gross.Sub(brokerageAmount).Sub(vatOnBrokerage).Sub(totalLevies))

	return Breakdown{
		BrokerageAmount:       brokerageAmount,
		VatOnBrokerage:        vatOnBrokerage,
		AgentCommissionAmount: agentCommissionAmount,
		NetBrokerage:          netBrokerage,
		TotalLevies:           totalLevies,
		NetAmountDue:          netAmountDue,
	}
}

// ValidateFinancialInputs enforces the calculator's preconditions: gross
// premium non-negative, every percentage within [0,100], no negative levy.
// Out-of-range values are rejected here, before any computation or write.
func ValidateFinancialInputs(gross, brokeragePct, vatPct, agentCommissionPct decimal.Decimal, levies Levies) error {
	if gross.IsNegative() {
		return &FieldValidationError{Field: "gross_premium", Reason: "must not be negative"}
	}
	for _, p := range []struct {
		name string
		val  decimal.Decimal
	}{
		{"brokerage_pct", brokeragePct},
		{"vat_pct", vatPct},
		{"agent_commission_pct", agentCommissionPct},
	} {
		if p.val.IsNegative() || p.val.GreaterThan(decimal.NewFromInt(100)) {
			return &FieldValidationError{Field: p.name, Reason: "must be within [0, 100]"}
		}
	}
	if levies.AnyNegative() {
		return &FieldValidationError{Field: "levies", Reason: "must not be negative"}
	}
	return nil
}
