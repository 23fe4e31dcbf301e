package notes_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archit2501/insurance-brokerage-system-sub000/notes"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal {
	return notes.MustDecimal(s)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	assert.Equal(t, want, got.StringFixed(2), field)
}

// =============================================================================
// BREAKDOWN TESTS
// =============================================================================

func TestComputeBreakdown_StandardNote(t *testing.T) {
	// GIVEN: A typical credit note: 100,000 gross, 10% brokerage,
	//        7.5% VAT, 2% agent commission, levies 50 + 25 + 10
	// WHEN: Computing the breakdown
	// THEN: Every figure matches the manually prepared note line by line

	b := notes.ComputeBreakdown(
		dec("100000"), dec("10"), dec("7.5"), dec("2"),
		notes.Levies{Niacom: dec("50"), Ncrib: dec("25"), EdTax: dec("10")},
	)

	assertMoney(t, "10000.00", b.BrokerageAmount, "brokerage")
	assertMoney(t, "750.00", b.VatOnBrokerage, "vat on brokerage")
	assertMoney(t, "2000.00", b.AgentCommissionAmount, "agent commission")
	assertMoney(t, "8000.00", b.NetBrokerage, "net brokerage")
	assertMoney(t, "85.00", b.TotalLevies, "total levies")
	assertMoney(t, "89165.00", b.NetAmountDue, "net amount due")
}

func TestComputeBreakdown_ZeroGross(t *testing.T) {
	// GIVEN: Zero gross premium but non-zero levies
	// WHEN: Computing the breakdown
	// THEN: Percent-derived figures are zero; levies are still charged,
	//       driving the net amount due negative

	b := notes.ComputeBreakdown(
		decimal.Zero, dec("10"), dec("7.5"), dec("2"),
		notes.Levies{Niacom: dec("50"), Ncrib: dec("25"), EdTax: dec("10")},
	)

	assertMoney(t, "0.00", b.BrokerageAmount, "brokerage")
	assertMoney(t, "0.00", b.VatOnBrokerage, "vat on brokerage")
	assertMoney(t, "0.00", b.AgentCommissionAmount, "agent commission")
	assertMoney(t, "0.00", b.NetBrokerage, "net brokerage")
	assertMoney(t, "85.00", b.TotalLevies, "total levies")
	assertMoney(t, "-85.00", b.NetAmountDue, "net amount due")
}

func TestComputeBreakdown_AllRatesZero(t *testing.T) {
	// GIVEN: 50,000 gross with every percentage and levy at zero
	// WHEN: Computing the breakdown
	// THEN: The full gross flows through as the net amount due

	b := notes.ComputeBreakdown(
		dec("50000"), decimal.Zero, decimal.Zero, decimal.Zero, notes.Levies{},
	)

	assertMoney(t, "0.00", b.BrokerageAmount, "brokerage")
	assertMoney(t, "50000.00", b.NetAmountDue, "net amount due")
}

func TestComputeBreakdown_StagedRounding(t *testing.T) {
	// GIVEN: Inputs where intermediate products carry more than 2dp
	// WHEN: Computing the breakdown
	// THEN: Each figure is rounded where it is computed, and downstream
	//       figures consume the ROUNDED value, not the raw product

	// 333.33 × 12.5% = 41.66625 -> 41.67 (not 41.66)
	b := notes.ComputeBreakdown(
		dec("333.33"), dec("12.5"), dec("7.5"), decimal.Zero, notes.Levies{},
	)
	assertMoney(t, "41.67", b.BrokerageAmount, "brokerage rounds half away from zero")

	// VAT applies to the rounded 41.67, not to 41.66625:
	// 41.67 × 7.5% = 3.12525 -> 3.13
	assertMoney(t, "3.13", b.VatOnBrokerage, "vat consumes the rounded brokerage")

	// 333.33 − 41.67 − 3.13 = 288.53
	assertMoney(t, "288.53", b.NetAmountDue, "net amount due from rounded parts")
}

func TestComputeBreakdown_HalfAwayFromZero(t *testing.T) {
	// GIVEN: A product landing exactly on a half cent
	// WHEN: Rounding
	// THEN: It rounds away from zero, not to even

	// 100 × 2.345% = 2.345 -> 2.35
	b := notes.ComputeBreakdown(dec("100"), dec("2.345"), decimal.Zero, decimal.Zero, notes.Levies{})
	assertMoney(t, "2.35", b.BrokerageAmount, "half cent rounds up")
}

func TestComputeBreakdown_NegativeNetBrokerage(t *testing.T) {
	// GIVEN: Agent commission percentage exceeding the brokerage percentage
	// WHEN: Computing the breakdown
	// THEN: Net brokerage goes negative; the calculator never clamps

	b := notes.ComputeBreakdown(dec("10000"), dec("5"), decimal.Zero, dec("8"), notes.Levies{})
	assertMoney(t, "500.00", b.BrokerageAmount, "brokerage")
	assertMoney(t, "800.00", b.AgentCommissionAmount, "agent commission")
	assertMoney(t, "-300.00", b.NetBrokerage, "net brokerage may be negative")
}

// =============================================================================
// INPUT VALIDATION TESTS
// =============================================================================

func TestValidateFinancialInputs_Accepts(t *testing.T) {
	err := notes.ValidateFinancialInputs(
		dec("100000"), dec("10"), dec("7.5"), dec("2"),
		notes.Levies{Niacom: dec("50")},
	)
	require.NoError(t, err)

	// Boundaries are inclusive.
	err = notes.ValidateFinancialInputs(decimal.Zero, decimal.Zero, dec("100"), dec("100"), notes.Levies{})
	require.NoError(t, err)
}

func TestValidateFinancialInputs_Rejects(t *testing.T) {
	cases := []struct {
		name   string
		gross  string
		brok   string
		vat    string
		agent  string
		levies notes.Levies
		field  string
	}{
		{"negative gross", "-1", "10", "7.5", "2", notes.Levies{}, "gross_premium"},
		{"brokerage over 100", "1000", "100.01", "7.5", "2", notes.Levies{}, "brokerage_pct"},
		{"negative vat", "1000", "10", "-0.01", "2", notes.Levies{}, "vat_pct"},
		{"agent over 100", "1000", "10", "7.5", "101", notes.Levies{}, "agent_commission_pct"},
		{"negative levy", "1000", "10", "7.5", "2", notes.Levies{Ncrib: dec("-5")}, "levies"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := notes.ValidateFinancialInputs(
				dec(tc.gross), dec(tc.brok), dec(tc.vat), dec(tc.agent), tc.levies,
			)
			require.Error(t, err)
			assert.ErrorIs(t, err, notes.ErrValidation)

			var fieldErr *notes.FieldValidationError
			require.ErrorAs(t, err, &fieldErr)
			assert.Equal(t, tc.field, fieldErr.Field)
		})
	}
}
