package billing_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata/billing-engine/billing"
	"github.com/strata/billing-engine/dues"
	"github.com/strata/billing-engine/metered"
	"github.com/strata/billing-engine/store"
	"github.com/strata/billing-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	store   *memory.Memory
	engine  *billing.Engine
	dues    *dues.Source
	metered *metered.Source
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()

	duesSrc, err := dues.NewSource(st, billing.ModuleConfig{
		Penalty:              penaltyCfg("0.10", 30),
		FiscalYearStartMonth: time.January,
		BillingFrequency:     billing.FrequencyMonthly,
		LookAheadDays:        60,
		MaxLookbackYears:     3,
	})
	require.NoError(t, err)

	meteredSrc, err := metered.NewSource(st, billing.ModuleConfig{
		Penalty:            penaltyCfg("0.05", 30),
		MaxLookbackPeriods: 24,
	})
	require.NoError(t, err)

	return &fixture{
		store:   st,
		engine:  billing.NewEngine(st, 60, duesSrc, meteredSrc),
		dues:    duesSrc,
		metered: meteredSrc,
	}
}

// billDuesYear bills a full fiscal year of monthly dues, due on the 1st.
func (f *fixture) billDuesYear(t *testing.T, unitID string, year int, monthly int64) {
	t.Helper()
	rec := dues.NewRecord(unitID, year, monthly, 1, time.January)
	require.NoError(t, f.dues.PutRecord(context.Background(), rec))
}

func (f *fixture) postReading(t *testing.T, unitID, period string, consumption, tariff int64, due billing.Date) {
	t.Helper()
	p, err := billing.ParsePeriod(period)
	require.NoError(t, err)
	require.NoError(t, f.metered.PutRecord(context.Background(), metered.NewRecord(unitID, p, consumption, tariff, due)))
}

// =============================================================================
// PREVIEW / COMMIT EQUIVALENCE
// =============================================================================

func TestEngine_PreviewAndCommit_ProduceIdenticalDistributions(t *testing.T) {
	// GIVEN: A unit with dues history and a meter bill
	f := newFixture(t)
	ctx := context.Background()
	f.billDuesYear(t, "unit-1", 2026, 50000)
	f.postReading(t, "unit-1", "2026-01", 120, 150, date(2026, time.January, 20))
	asOf := date(2026, time.February, 10)

	// WHEN: Previewing and then committing the same inputs
	preview, err := f.engine.PreviewPayment(ctx, "unit-1", 70000, asOf, 0, nil)
	require.NoError(t, err)

	receipt, err := f.engine.CommitPayment(ctx, "unit-1", 70000, asOf, 0, nil, preview.TotalApplied)
	require.NoError(t, err)

	// THEN: The commit recomputed the identical per-obligation allocations
	assert.Equal(t, preview.PerObligation, receipt.Result.PerObligation)
	assert.Equal(t, preview.TotalApplied, receipt.Result.TotalApplied)
	assert.NotEmpty(t, receipt.TransactionID)
}

func TestEngine_ObligationFilter_SameOnPreviewAndCommit(t *testing.T) {
	// The through-period bound is applied to the snapshot, so preview and
	// commit with the same filter see the same obligations.
	f := newFixture(t)
	ctx := context.Background()
	f.billDuesYear(t, "unit-1", 2026, 50000)
	asOf := date(2026, time.March, 10)
	filter := &billing.ObligationFilter{ThroughPeriod: billing.PeriodKey("2026-01")}

	preview, err := f.engine.PreviewPayment(ctx, "unit-1", 200000, asOf, 0, filter)
	require.NoError(t, err)

	// Only January participates; everything past it is out of this run.
	for _, alloc := range preview.PerObligation {
		assert.Equal(t, billing.PeriodKey("2026-01"), alloc.Period)
	}

	receipt, err := f.engine.CommitPayment(ctx, "unit-1", 200000, asOf, 0, filter, preview.TotalApplied)
	require.NoError(t, err)
	assert.Equal(t, preview.PerObligation, receipt.Result.PerObligation)
}

// =============================================================================
// COMMIT SIDE EFFECTS
// =============================================================================

func TestEngine_Commit_UpdatesRecordAndWritesTransaction(t *testing.T) {
	// GIVEN: January dues 40 days past due (one penalty window accrued)
	f := newFixture(t)
	ctx := context.Background()
	f.billDuesYear(t, "unit-1", 2026, 50000)
	asOf := date(2026, time.February, 10)

	// WHEN: Paying penalty + base for January exactly
	preview, err := f.engine.PreviewPayment(ctx, "unit-1", 55000, asOf, 0, nil)
	require.NoError(t, err)
	receipt, err := f.engine.CommitPayment(ctx, "unit-1", 55000, asOf, 0, nil, preview.TotalApplied)
	require.NoError(t, err)

	// THEN: January's slot carries the increments
	rec, err := f.dues.GetRecord(ctx, "unit-1", 2026)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), rec.Slots[0].BasePaid)
	assert.Equal(t, int64(5000), rec.Slots[0].PenaltyPaid)

	// AND: The transaction document exists with allocations summing to the
	// payment
	docs, err := f.store.ScanPrefix(ctx, "txn/unit-1/")
	require.NoError(t, err)
	require.Len(t, docs, 1)

	// AND: No credit moved
	balance, err := f.engine.Credit().Balance(ctx, "unit-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
	_ = receipt
}

func TestEngine_Commit_MultipleMonthsOfOneRecordAllPersist(t *testing.T) {
	// GIVEN: A payment large enough to fund three months of the same
	// fiscal-year record
	f := newFixture(t)
	ctx := context.Background()
	f.billDuesYear(t, "unit-1", 2026, 50000)
	asOf := date(2026, time.February, 10)

	// WHEN: Committing 110000 (Jan penalty+base, Feb base, partial Mar)
	preview, err := f.engine.PreviewPayment(ctx, "unit-1", 110000, asOf, 0, nil)
	require.NoError(t, err)
	_, err = f.engine.CommitPayment(ctx, "unit-1", 110000, asOf, 0, nil, preview.TotalApplied)
	require.NoError(t, err)

	// THEN: Every funded slot carries its increment
	rec, err := f.dues.GetRecord(ctx, "unit-1", 2026)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), rec.Slots[0].BasePaid)
	assert.Equal(t, int64(5000), rec.Slots[0].PenaltyPaid)
	assert.Equal(t, int64(50000), rec.Slots[1].BasePaid)
	assert.Equal(t, int64(5000), rec.Slots[2].BasePaid)
}

func TestEngine_Commit_OverpaymentAppendsCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.postReading(t, "unit-1", "2026-02", 100, 200, date(2026, time.February, 20))
	asOf := date(2026, time.February, 10)

	preview, err := f.engine.PreviewPayment(ctx, "unit-1", 30000, asOf, 0, nil)
	require.NoError(t, err)
	require.Equal(t, int64(20000), preview.TotalApplied)

	receipt, err := f.engine.CommitPayment(ctx, "unit-1", 30000, asOf, 0, nil, preview.TotalApplied)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), receipt.Result.CreditAdded)

	entries, err := f.engine.Credit().Entries(ctx, "unit-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, billing.CreditAdded, entries[0].Type)
	assert.Equal(t, int64(10000), entries[0].Amount)
	assert.Equal(t, receipt.TransactionID, entries[0].TransactionID)
}

func TestEngine_Commit_ShortfallConsumesCredit(t *testing.T) {
	// GIVEN: 30000 of floating credit and an 80000 past-due bill
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.AdjustCredit(ctx, "unit-1", 30000, "carryover")
	require.NoError(t, err)
	f.postReading(t, "unit-1", "2026-01", 400, 200, date(2026, time.January, 5))
	asOf := date(2026, time.January, 20)

	// WHEN: Paying 50000
	preview, err := f.engine.PreviewPayment(ctx, "unit-1", 50000, asOf, 30000, nil)
	require.NoError(t, err)
	require.Equal(t, int64(30000), preview.CreditUsed)

	_, err = f.engine.CommitPayment(ctx, "unit-1", 50000, asOf, 30000, nil, preview.TotalApplied)
	require.NoError(t, err)

	// THEN: The ledger folded back to zero, never negative
	balance, err := f.engine.Credit().Balance(ctx, "unit-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	entries, err := f.engine.Credit().Entries(ctx, "unit-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, billing.CreditUsed, entries[1].Type)
	assert.Equal(t, int64(-30000), entries[1].Amount)
}

// =============================================================================
// COMMIT VALIDATION
// =============================================================================

func TestEngine_Commit_RejectsStalePreviewTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.billDuesYear(t, "unit-1", 2026, 50000)
	asOf := date(2026, time.February, 10)

	_, err := f.engine.CommitPayment(ctx, "unit-1", 55000, asOf, 0, nil, 99999)
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrPreviewMismatch)
	assert.True(t, billing.IsClientError(err))

	// Nothing was written.
	docs, err := f.store.ScanPrefix(ctx, "txn/unit-1/")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestEngine_Commit_RejectsStaleCreditSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.billDuesYear(t, "unit-1", 2026, 50000)

	_, err := f.engine.CommitPayment(ctx, "unit-1", 50000, date(2026, time.February, 10), 12345, nil, 50000)
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrStaleCredit)
}

func TestEngine_Commit_VanishedRecordAbortsWholeBatch(t *testing.T) {
	// GIVEN: A source whose record disappears between preview and commit
	st := memory.New()
	ghost := &ghostSource{}
	engine := billing.NewEngine(st, 60, ghost)
	ctx := context.Background()

	// WHEN: Committing against the ghost obligation
	_, err := engine.CommitPayment(ctx, "unit-1", 10000, date(2026, time.February, 10), 0, nil, 10000)

	// THEN: The commit fails with not-found and nothing landed, including
	// the transaction document
	require.Error(t, err)
	assert.True(t, billing.IsNotFound(err))
	docs, scanErr := st.ScanPrefix(ctx, "txn/")
	require.NoError(t, scanErr)
	assert.Empty(t, docs)
}

// =============================================================================
// DEGRADED MODULE LOADS
// =============================================================================

func TestEngine_Preview_SurfacesModuleLoadFailure(t *testing.T) {
	// A broken module must not silently contribute "no bills owed".
	st := memory.New()
	broken := &brokenSource{err: errors.New("backing table offline")}
	engine := billing.NewEngine(st, 60, broken)

	_, err := engine.PreviewPayment(context.Background(), "unit-1", 10000, date(2026, time.February, 10), 0, nil)
	require.Error(t, err)

	var loadErr *billing.ModuleLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, billing.ModuleMeteredConsumption, loadErr.Module)
}

// =============================================================================
// CREDIT ADJUSTMENTS
// =============================================================================

func TestEngine_AdjustCredit_RejectsNegativeBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.AdjustCredit(ctx, "unit-1", -500, "typo fix")
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrNegativeCredit)

	balance, err := f.engine.Credit().Balance(ctx, "unit-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

// =============================================================================
// STUB SOURCES
// =============================================================================

// ghostSource serves an obligation whose backing record does not exist.
type ghostSource struct{}

func (g *ghostSource) Module() billing.ModuleType { return billing.ModuleRecurringDues }

func (g *ghostSource) LoadOpenObligations(_ context.Context, unitID string, _ billing.Date) ([]billing.Obligation, error) {
	p := billing.PeriodKey("2026-01")
	return []billing.Obligation{{
		ID:           billing.ObligationID(billing.ModuleRecurringDues, p),
		Module:       billing.ModuleRecurringDues,
		UnitID:       unitID,
		Period:       p,
		OriginalBase: 10000,
		DueDate:      billing.NewDate(2026, time.January, 1),
	}}, nil
}

func (g *ghostSource) LoadObligations(ctx context.Context, unitID string, asOf billing.Date) ([]billing.Obligation, error) {
	return g.LoadOpenObligations(ctx, unitID, asOf)
}

func (g *ghostSource) ApplyPayment(_ context.Context, unitID string, _ []billing.ObligationAllocation) ([]store.WriteOp, error) {
	key := fmt.Sprintf("dues/%s/2026", unitID)
	return []store.WriteOp{{Key: key, Data: []byte(`{}`), RequireExists: true}}, nil
}

// brokenSource fails every load.
type brokenSource struct{ err error }

func (b *brokenSource) Module() billing.ModuleType { return billing.ModuleMeteredConsumption }

func (b *brokenSource) LoadOpenObligations(context.Context, string, billing.Date) ([]billing.Obligation, error) {
	return nil, b.err
}

func (b *brokenSource) LoadObligations(context.Context, string, billing.Date) ([]billing.Obligation, error) {
	return nil, b.err
}

func (b *brokenSource) ApplyPayment(context.Context, string, []billing.ObligationAllocation) ([]store.WriteOp, error) {
	return nil, b.err
}
