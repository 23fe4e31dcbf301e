/*
coinsurance.go - Per-insurer splitting of a co-insured premium

PURPOSE:
  When one risk is shared across multiple insurers, a credit note carries a
  list of (insurer, percentage) shares. This file turns those shares into
  monetary amounts that reconcile to the gross premium.

RECONCILIATION:
  Each amount is round2(gross × percentage / 100) independently. The sum of
  rounded amounts may therefore differ from round2(gross) by a few cents -
  one cent per share in the worst case. That residue is a documented,
  accepted property: the splitter never redistributes cents to force exact
  equality, because each insurer's statement must show the independently
  rounded figure. Tests assert the residue bound, not exact equality.

PRECONDITION:
  Percentages must sum to 100 within ±0.01. Violations are rejected with
  a SplitError, never silently normalized.

SEE ALSO:
  - calculator.go: Shares use the same Round2 as every other figure
  - lifecycle.go: Shares are created or replaced atomically with the note
*/
package notes

import "github.com/shopspring/decimal"

// splitTolerance is how far the percentage sum may drift from 100 before
// the split is rejected. Matches the 2dp precision of submitted shares.
var splitTolerance = decimal.NewFromFloat(0.01)

// SplitShares computes each insurer's monetary share of the gross premium.
// The returned slice preserves input order. The residue between the summed
// amounts and round2(gross) is bounded by one cent per share.
func SplitShares(gross decimal.Decimal, inputs []ShareInput) ([]CoInsuranceShare, error) {
	if len(inputs) == 0 {
		return nil, &SplitError{Total: "0", Reason: "at least one share required"}
	}

	total := decimal.Zero
	for _, in := range inputs {
		if in.InsurerID == "" {
			return nil, &SplitError{Total: total.String(), Reason: "share missing insurer id"}
		}
		if in.Percentage.IsNegative() || in.Percentage.GreaterThan(decimal.NewFromInt(100)) {
			return nil, &SplitError{Total: total.String(), Reason: "share percentage outside [0, 100]"}
		}
		total = total.Add(in.Percentage)
	}

	if total.Sub(decimal.NewFromInt(100)).Abs().GreaterThan(splitTolerance) {
		return nil, &SplitError{Total: total.String(), Reason: "percentages must sum to 100"}
	}

	shares := make([]CoInsuranceShare, len(inputs))
	for i, in := range inputs {
		shares[i] = CoInsuranceShare{
			InsurerID:  in.InsurerID,
			Percentage: in.Percentage,
			Amount:     Pct(gross, in.Percentage),
		}
	}
	return shares, nil
}
