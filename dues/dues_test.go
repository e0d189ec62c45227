package dues_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata/billing-engine/billing"
	"github.com/strata/billing-engine/dues"
	"github.com/strata/billing-engine/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func date(y int, m time.Month, d int) billing.Date {
	return billing.NewDate(y, m, d)
}

func testConfig(freq billing.Frequency) billing.ModuleConfig {
	return billing.ModuleConfig{
		Penalty: billing.PenaltyConfig{
			Rate:      decimal.RequireFromString("0.10"),
			GraceDays: 30,
		},
		FiscalYearStartMonth: time.January,
		BillingFrequency:     freq,
		LookAheadDays:        60,
		MaxLookbackYears:     3,
	}
}

func newSource(t *testing.T, freq billing.Frequency) (*dues.Source, *memory.Memory) {
	t.Helper()
	st := memory.New()
	src, err := dues.NewSource(st, testConfig(freq))
	require.NoError(t, err)
	return src, st
}

func put(t *testing.T, src *dues.Source, rec *dues.Record) {
	t.Helper()
	require.NoError(t, src.PutRecord(context.Background(), rec))
}

// settledRecord bills a year and marks every slot fully paid.
func settledRecord(unitID string, fy int, monthly int64) *dues.Record {
	rec := dues.NewRecord(unitID, fy, monthly, 1, time.January)
	for i := range rec.Slots {
		rec.Slots[i].BasePaid = rec.Slots[i].Billed
	}
	return rec
}

// =============================================================================
// RECORD SHAPE
// =============================================================================

func TestNewRecord_BillsTwelveMonthlySlots(t *testing.T) {
	rec := dues.NewRecord("unit-1", 2026, 50000, 15, time.January)

	assert.Equal(t, 2026, rec.FiscalYear)
	for i, slot := range rec.Slots {
		assert.Equal(t, int64(50000), slot.Billed)
		assert.Equal(t, date(2026, time.Month(i+1), 15), slot.DueDate)
	}
	assert.False(t, rec.BaseFullyPaid())
}

func TestNewRecord_FiscalYearStraddlesCalendarYears(t *testing.T) {
	// July fiscal start: slot 0 is July of the fiscal year, slot 6 is
	// January of the next calendar year.
	rec := dues.NewRecord("unit-1", 2026, 50000, 1, time.July)

	assert.Equal(t, date(2026, time.July, 1), rec.Slots[0].DueDate)
	assert.Equal(t, date(2027, time.January, 1), rec.Slots[6].DueDate)
}

func TestNewRecord_OutOfRangeDueDayFallsBackToFirst(t *testing.T) {
	// Day 31 does not exist in every month; keep due days universal.
	rec := dues.NewRecord("unit-1", 2026, 50000, 31, time.January)
	assert.Equal(t, date(2026, time.January, 1), rec.Slots[0].DueDate)
}

// =============================================================================
// OBLIGATION LOADING - MONTHLY
// =============================================================================

func TestLoadOpenObligations_MonthlySlotsWithRecomputedPenalties(t *testing.T) {
	// GIVEN: A billed 2026 with January two grace windows past due
	src, _ := newSource(t, billing.FrequencyMonthly)
	put(t, src, dues.NewRecord("unit-1", 2026, 50000, 1, time.January))

	// WHEN: Loading as of March 10
	obligations, err := src.LoadOpenObligations(context.Background(), "unit-1", date(2026, time.March, 10))
	require.NoError(t, err)

	// THEN: All 12 slots are open, oldest first, penalties derived from
	// elapsed windows (never stored)
	require.Len(t, obligations, 12)
	assert.Equal(t, "dues:2026-01", obligations[0].ID)
	assert.Equal(t, int64(10000), obligations[0].Penalty) // 68 days past, 2 windows
	assert.Equal(t, int64(5000), obligations[1].Penalty)  // 37 days past, 1 window
	assert.Equal(t, int64(0), obligations[2].Penalty)     // 9 days past, within grace
	assert.Equal(t, "dues:2026-12", obligations[11].ID)
}

func TestLoadOpenObligations_SkipsPaidSlots(t *testing.T) {
	src, _ := newSource(t, billing.FrequencyMonthly)
	rec := dues.NewRecord("unit-1", 2026, 50000, 1, time.January)
	rec.Slots[0].BasePaid = 50000
	put(t, src, rec)

	obligations, err := src.LoadOpenObligations(context.Background(), "unit-1", date(2026, time.February, 10))
	require.NoError(t, err)

	require.Len(t, obligations, 11)
	assert.Equal(t, "dues:2026-02", obligations[0].ID)
}

// =============================================================================
// LOOKBACK WALK
// =============================================================================

func TestLoadOpenObligations_StopsAtFirstSettledYear(t *testing.T) {
	// GIVEN: An open 2026, a settled 2025, and an unpaid 2024 behind it
	src, _ := newSource(t, billing.FrequencyMonthly)
	put(t, src, dues.NewRecord("unit-1", 2026, 50000, 1, time.January))
	put(t, src, settledRecord("unit-1", 2025, 50000))
	put(t, src, dues.NewRecord("unit-1", 2024, 50000, 1, time.January))

	// WHEN: Loading open obligations
	obligations, err := src.LoadOpenObligations(context.Background(), "unit-1", date(2026, time.February, 10))
	require.NoError(t, err)

	// THEN: The walk stops at the settled 2025; the stale 2024 debt is
	// beyond the slow-path horizon
	for _, o := range obligations {
		assert.Equal(t, "2026", string(o.Period)[:4])
	}
}

func TestLoadOpenObligations_PriorClosedEndsTheWalk(t *testing.T) {
	// GIVEN: 2026 promises all prior years are settled, yet an unpaid 2025
	// record exists (a mis-set flag)
	src, _ := newSource(t, billing.FrequencyMonthly)
	rec := dues.NewRecord("unit-1", 2026, 50000, 1, time.January)
	rec.PriorClosed = true
	put(t, src, rec)
	put(t, src, dues.NewRecord("unit-1", 2025, 50000, 1, time.January))

	// WHEN: Loading the open view and the reconciler view
	open, err := src.LoadOpenObligations(context.Background(), "unit-1", date(2026, time.February, 10))
	require.NoError(t, err)
	all, err := src.LoadObligations(context.Background(), "unit-1", date(2026, time.February, 10))
	require.NoError(t, err)

	// THEN: The fast path trusts the flag; the reconciler view ignores it
	// and still sees 2025
	require.Len(t, open, 12)
	assert.Equal(t, "dues:2026-01", open[0].ID)
	require.Len(t, all, 24)
	assert.Equal(t, "dues:2025-01", all[0].ID)
}

func TestLoadOpenObligations_NeverBilledYearsAreSkippedNotTerminal(t *testing.T) {
	// Only 2024 was ever billed; 2025 and 2026 have no records at all.
	src, _ := newSource(t, billing.FrequencyMonthly)
	put(t, src, dues.NewRecord("unit-1", 2024, 50000, 1, time.January))

	obligations, err := src.LoadOpenObligations(context.Background(), "unit-1", date(2026, time.February, 10))
	require.NoError(t, err)

	require.Len(t, obligations, 12)
	assert.Equal(t, "dues:2024-01", obligations[0].ID)
}

// =============================================================================
// QUARTERLY CONSOLIDATION
// =============================================================================

func TestLoadOpenObligations_QuarterlyConsolidatesThreeSlots(t *testing.T) {
	// GIVEN: Quarterly billing over a standard 12-slot record
	src, _ := newSource(t, billing.FrequencyQuarterly)
	put(t, src, dues.NewRecord("unit-1", 2026, 30000, 28, time.January))

	// WHEN: Loading early in the year
	obligations, err := src.LoadOpenObligations(context.Background(), "unit-1", date(2026, time.January, 5))
	require.NoError(t, err)

	// THEN: Four consolidated obligations, each the sum of its quarter,
	// keyed and dated by the quarter's first billed slot
	require.Len(t, obligations, 4)
	assert.Equal(t, "dues:2026-01", obligations[0].ID)
	assert.Equal(t, int64(90000), obligations[0].OriginalBase)
	assert.Equal(t, date(2026, time.January, 28), obligations[0].DueDate)
	assert.Equal(t, "dues:2026-04", obligations[1].ID)
	assert.Equal(t, "dues:2026-07", obligations[2].ID)
	assert.Equal(t, "dues:2026-10", obligations[3].ID)
}

// =============================================================================
// PAYMENT APPLICATION
// =============================================================================

func TestApplyPayment_MonthlyIncrementsOneSlot(t *testing.T) {
	// GIVEN: A billed year
	src, st := newSource(t, billing.FrequencyMonthly)
	put(t, src, dues.NewRecord("unit-1", 2026, 50000, 1, time.January))
	ctx := context.Background()

	// WHEN: Applying a penalty+base allocation to February
	ops, err := src.ApplyPayment(ctx, "unit-1", []billing.ObligationAllocation{{
		ObligationID:     "dues:2026-02",
		Module:           billing.ModuleRecurringDues,
		Period:           billing.PeriodKey("2026-02"),
		BaseAllocated:    20000,
		PenaltyAllocated: 5000,
	}})
	require.NoError(t, err)
	require.NoError(t, st.Apply(ctx, ops))

	// THEN: Only February's slot moved
	rec, err := src.GetRecord(ctx, "unit-1", 2026)
	require.NoError(t, err)
	assert.Equal(t, int64(20000), rec.Slots[1].BasePaid)
	assert.Equal(t, int64(5000), rec.Slots[1].PenaltyPaid)
	assert.Equal(t, int64(0), rec.Slots[0].BasePaid)
	assert.Equal(t, int64(0), rec.Slots[2].BasePaid)
}

func TestApplyPayment_TwoMonthsSameYearFoldIntoOneWrite(t *testing.T) {
	// GIVEN: One commit funding January and February of the same record
	src, st := newSource(t, billing.FrequencyMonthly)
	put(t, src, dues.NewRecord("unit-1", 2026, 50000, 1, time.January))
	ctx := context.Background()

	// WHEN: Applying both allocations in one batch
	ops, err := src.ApplyPayment(ctx, "unit-1", []billing.ObligationAllocation{
		{Period: billing.PeriodKey("2026-01"), Module: billing.ModuleRecurringDues, BaseAllocated: 50000, PenaltyAllocated: 5000},
		{Period: billing.PeriodKey("2026-02"), Module: billing.ModuleRecurringDues, BaseAllocated: 20000},
	})
	require.NoError(t, err)

	// THEN: One write carries both increments; neither clobbers the other
	require.Len(t, ops, 1)
	require.NoError(t, st.Apply(ctx, ops))
	rec, err := src.GetRecord(ctx, "unit-1", 2026)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), rec.Slots[0].BasePaid)
	assert.Equal(t, int64(5000), rec.Slots[0].PenaltyPaid)
	assert.Equal(t, int64(20000), rec.Slots[1].BasePaid)
}

func TestApplyPayment_QuarterlySplitsAcrossTheQuarter(t *testing.T) {
	// GIVEN: A quarterly-billed year
	src, st := newSource(t, billing.FrequencyQuarterly)
	put(t, src, dues.NewRecord("unit-1", 2026, 30000, 28, time.January))
	ctx := context.Background()

	// WHEN: Applying a partial 40000 base payment to Q1
	ops, err := src.ApplyPayment(ctx, "unit-1", []billing.ObligationAllocation{{
		ObligationID:  "dues:2026-01",
		Module:        billing.ModuleRecurringDues,
		Period:        billing.PeriodKey("2026-01"),
		BaseAllocated: 40000,
	}})
	require.NoError(t, err)
	require.NoError(t, st.Apply(ctx, ops))

	// THEN: The split is proportional to each slot's open base, floors
	// plus the remainder on the first slot, summing exactly to 40000
	rec, err := src.GetRecord(ctx, "unit-1", 2026)
	require.NoError(t, err)
	assert.Equal(t, int64(13334), rec.Slots[0].BasePaid)
	assert.Equal(t, int64(13333), rec.Slots[1].BasePaid)
	assert.Equal(t, int64(13333), rec.Slots[2].BasePaid)
	assert.Equal(t, int64(0), rec.Slots[3].BasePaid)
}

func TestApplyPayment_QuarterlyTopUpTargetsRemainingBase(t *testing.T) {
	// GIVEN: Q1 with only the first slot still owing
	src, st := newSource(t, billing.FrequencyQuarterly)
	rec := dues.NewRecord("unit-1", 2026, 30000, 28, time.January)
	rec.Slots[1].BasePaid = 30000
	rec.Slots[2].BasePaid = 30000
	put(t, src, rec)
	ctx := context.Background()

	// WHEN: Paying the rest of the quarter
	ops, err := src.ApplyPayment(ctx, "unit-1", []billing.ObligationAllocation{{
		ObligationID:  "dues:2026-01",
		Module:        billing.ModuleRecurringDues,
		Period:        billing.PeriodKey("2026-01"),
		BaseAllocated: 30000,
	}})
	require.NoError(t, err)
	require.NoError(t, st.Apply(ctx, ops))

	// THEN: Everything lands on the slot that still owes
	got, err := src.GetRecord(ctx, "unit-1", 2026)
	require.NoError(t, err)
	assert.Equal(t, int64(30000), got.Slots[0].BasePaid)
	assert.Equal(t, int64(30000), got.Slots[1].BasePaid)
	assert.Equal(t, int64(30000), got.Slots[2].BasePaid)
}

func TestApplyPayment_MissingRecordFails(t *testing.T) {
	src, _ := newSource(t, billing.FrequencyMonthly)

	_, err := src.ApplyPayment(context.Background(), "unit-1", []billing.ObligationAllocation{{
		Period:        billing.PeriodKey("2026-02"),
		BaseAllocated: 1000,
	}})
	require.Error(t, err)
	assert.True(t, billing.IsNotFound(err))
}

// =============================================================================
// PRIOR-CLOSED PROPAGATION
// =============================================================================

func TestApplyPayment_SettlingYearPropagatesPriorClosedForward(t *testing.T) {
	// GIVEN: 2025 has one slot left, its own prior years closed; 2026 does
	// not yet carry the hint
	src, st := newSource(t, billing.FrequencyMonthly)
	old := settledRecord("unit-1", 2025, 50000)
	old.Slots[11].BasePaid = 0
	old.PriorClosed = true
	put(t, src, old)
	put(t, src, dues.NewRecord("unit-1", 2026, 50000, 1, time.January))
	ctx := context.Background()

	// WHEN: The final payment settles 2025
	ops, err := src.ApplyPayment(ctx, "unit-1", []billing.ObligationAllocation{{
		ObligationID:  "dues:2025-12",
		Module:        billing.ModuleRecurringDues,
		Period:        billing.PeriodKey("2025-12"),
		BaseAllocated: 50000,
	}})
	require.NoError(t, err)
	require.Len(t, ops, 2)
	require.NoError(t, st.Apply(ctx, ops))

	// THEN: 2026 now carries the hint and the walk can stop there
	next, err := src.GetRecord(ctx, "unit-1", 2026)
	require.NoError(t, err)
	assert.True(t, next.PriorClosed)
}

func TestApplyPayment_NoPropagationWhileYearStillOpen(t *testing.T) {
	src, st := newSource(t, billing.FrequencyMonthly)
	old := dues.NewRecord("unit-1", 2025, 50000, 1, time.January)
	old.PriorClosed = true
	put(t, src, old)
	put(t, src, dues.NewRecord("unit-1", 2026, 50000, 1, time.January))
	ctx := context.Background()

	ops, err := src.ApplyPayment(ctx, "unit-1", []billing.ObligationAllocation{{
		Period:        billing.PeriodKey("2025-01"),
		Module:        billing.ModuleRecurringDues,
		BaseAllocated: 50000,
	}})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.NoError(t, st.Apply(ctx, ops))

	next, err := src.GetRecord(ctx, "unit-1", 2026)
	require.NoError(t, err)
	assert.False(t, next.PriorClosed)
}
