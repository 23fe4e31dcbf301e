package notes_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archit2501/insurance-brokerage-system-sub000/notes"
)

// =============================================================================
// SPLIT TESTS
// =============================================================================

func TestSplitShares_ExactSplit(t *testing.T) {
	// GIVEN: A 60/40 split of 100,000
	// WHEN: Splitting
	// THEN: Amounts are exact and preserve input order

	shares, err := notes.SplitShares(dec("100000"), []notes.ShareInput{
		{InsurerID: "ins-lead", Percentage: dec("60")},
		{InsurerID: "ins-follow", Percentage: dec("40")},
	})
	require.NoError(t, err)
	require.Len(t, shares, 2)

	assert.Equal(t, "ins-lead", shares[0].InsurerID)
	assertMoney(t, "60000.00", shares[0].Amount, "lead share")
	assert.Equal(t, "ins-follow", shares[1].InsurerID)
	assertMoney(t, "40000.00", shares[1].Amount, "follower share")
}

func TestSplitShares_SumWithinTolerance(t *testing.T) {
	// GIVEN: Percentages summing to 99.99 and to 100.01
	// WHEN: Splitting
	// THEN: Both are accepted - the tolerance is ±0.01 inclusive

	for _, last := range []string{"33.33", "33.35"} {
		_, err := notes.SplitShares(dec("90000"), []notes.ShareInput{
			{InsurerID: "a", Percentage: dec("33.33")},
			{InsurerID: "b", Percentage: dec("33.33")},
			{InsurerID: "c", Percentage: dec(last)},
		})
		assert.NoError(t, err, "sum with last share %s should be within tolerance", last)
	}
}

func TestSplitShares_SumOutsideTolerance_Rejected(t *testing.T) {
	// GIVEN: Percentages summing to 99.9
	// WHEN: Splitting
	// THEN: Rejected with a SplitError - never silently normalized

	_, err := notes.SplitShares(dec("100000"), []notes.ShareInput{
		{InsurerID: "a", Percentage: dec("60")},
		{InsurerID: "b", Percentage: dec("39.9")},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, notes.ErrInvalidCoInsuranceSplit)

	var splitErr *notes.SplitError
	require.ErrorAs(t, err, &splitErr)
	assert.Equal(t, "99.9", splitErr.Total)
}

func TestSplitShares_EmptyInput_Rejected(t *testing.T) {
	_, err := notes.SplitShares(dec("100000"), nil)
	assert.ErrorIs(t, err, notes.ErrInvalidCoInsuranceSplit)
}

func TestSplitShares_MissingInsurer_Rejected(t *testing.T) {
	_, err := notes.SplitShares(dec("100000"), []notes.ShareInput{
		{InsurerID: "", Percentage: dec("100")},
	})
	assert.ErrorIs(t, err, notes.ErrInvalidCoInsuranceSplit)
}

func TestSplitShares_PercentageOutOfRange_Rejected(t *testing.T) {
	_, err := notes.SplitShares(dec("100000"), []notes.ShareInput{
		{InsurerID: "a", Percentage: dec("150")},
		{InsurerID: "b", Percentage: dec("-50")},
	})
	assert.ErrorIs(t, err, notes.ErrInvalidCoInsuranceSplit)
}

func TestSplitShares_ResidueBounded(t *testing.T) {
	// GIVEN: A three-way 33.33/33.33/33.34 split of 100.00
	// WHEN: Splitting
	// THEN: Each share is rounded independently, and the difference between
	//       the summed shares and the rounded gross stays under one cent
	//       per share. The splitter never redistributes cents.

	gross := dec("100.00")
	shares, err := notes.SplitShares(gross, []notes.ShareInput{
		{InsurerID: "a", Percentage: dec("33.33")},
		{InsurerID: "b", Percentage: dec("33.33")},
		{InsurerID: "c", Percentage: dec("33.34")},
	})
	require.NoError(t, err)

	assertMoney(t, "33.33", shares[0].Amount, "share a")
	assertMoney(t, "33.33", shares[1].Amount, "share b")
	assertMoney(t, "33.34", shares[2].Amount, "share c")

	sum := decimal.Zero
	for _, s := range shares {
		sum = sum.Add(s.Amount)
	}
	residue := sum.Sub(notes.Round2(gross)).Abs()
	bound := dec("0.01").Mul(decimal.NewFromInt(int64(len(shares))))
	assert.True(t, residue.LessThanOrEqual(bound),
		"residue %s must stay within one cent per share", residue)
}
