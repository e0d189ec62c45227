/*
source.go - billing.BillSource implementation for recurring dues

SCAN STRATEGY:
  Records are keyed by fiscal year, so the source walks year records
  backward from the look-ahead year with point reads:

  - Fast path: a record with PriorClosed set ends the walk after its own
    open slots are collected.
  - Slow path: the walk ends at the first record with nothing left open, or
    at MaxLookbackYears. Years with no record (never billed) are skipped,
    not terminal.

  Obligations for future slots ARE returned; whether they participate in a
  run is the priority classifier's call, so the fast path can never change
  WHICH obligations exist - only how many reads it took to find them.
*/
package dues

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/strata/billing-engine/billing"
	"github.com/strata/billing-engine/store"
)

// Source adapts dues records into normalized obligations.
type Source struct {
	store store.Store
	cfg   billing.ModuleConfig
}

// NewSource validates the module config (failing fast on missing penalty
// fields) and returns the dues bill source.
func NewSource(st store.Store, cfg billing.ModuleConfig) (*Source, error) {
	if err := cfg.Validate(billing.ModuleRecurringDues); err != nil {
		return nil, err
	}
	return &Source{store: st, cfg: cfg}, nil
}

func (s *Source) Module() billing.ModuleType { return billing.ModuleRecurringDues }

// Config exposes the validated module config.
func (s *Source) Config() billing.ModuleConfig { return s.cfg }

// =============================================================================
// RECORD ACCESS
// =============================================================================

// GetRecord loads one fiscal-year record.
func (s *Source) GetRecord(ctx context.Context, unitID string, fiscalYear int) (*Record, error) {
	data, err := s.store.Get(ctx, Key(unitID, fiscalYear))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode dues record %s/%d: %w", unitID, fiscalYear, err)
	}
	return &rec, nil
}

// PutRecord writes a fiscal-year record (billing a year, or seeding).
func (s *Source) PutRecord(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode dues record: %w", err)
	}
	return s.store.Apply(ctx, []store.WriteOp{{Key: Key(rec.UnitID, rec.FiscalYear), Data: data}})
}

// =============================================================================
// OBLIGATION LOADING
// =============================================================================

func (s *Source) LoadOpenObligations(ctx context.Context, unitID string, asOf billing.Date) ([]billing.Obligation, error) {
	return s.load(ctx, unitID, asOf, false)
}

func (s *Source) LoadObligations(ctx context.Context, unitID string, asOf billing.Date) ([]billing.Obligation, error) {
	// The reconciler's view: full lookback, paid slots included, and the
	// PriorClosed hint deliberately ignored.
	return s.load(ctx, unitID, asOf, true)
}

func (s *Source) load(ctx context.Context, unitID string, asOf billing.Date, includePaid bool) ([]billing.Obligation, error) {
	startMonth := s.cfg.FiscalYearStartMonth
	currentFY := billing.FiscalYearOf(asOf, startMonth)

	var collected []billing.Obligation
	// The look-ahead window can cross into the next fiscal year, so the
	// walk starts one year ahead.
	for fy := currentFY + 1; fy >= currentFY-s.cfg.MaxLookbackYears; fy-- {
		rec, err := s.GetRecord(ctx, unitID, fy)
		if errors.Is(err, store.ErrNotFound) {
			continue // year never billed
		}
		if err != nil {
			return nil, err
		}

		obligations, err := s.obligationsFromRecord(rec, asOf)
		if err != nil {
			return nil, err
		}

		var open int
		for _, o := range obligations {
			if o.TotalRemaining() > 0 {
				open++
			}
			if includePaid || o.TotalRemaining() > 0 {
				collected = append(collected, o)
			}
		}

		if includePaid {
			continue
		}
		if open == 0 {
			break // settled year: nothing older can matter (slow path stop)
		}
		if rec.PriorClosed {
			break // fast path: record promises earlier years are settled
		}
	}

	// Oldest period first.
	for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
		collected[i], collected[j] = collected[j], collected[i]
	}
	return collected, nil
}

// obligationsFromRecord normalizes one record's slots, newest first, with
// penalties recomputed as of asOf. Quarterly billing consolidates three
// slots into one obligation.
func (s *Source) obligationsFromRecord(rec *Record, asOf billing.Date) ([]billing.Obligation, error) {
	var out []billing.Obligation

	appendObligation := func(period billing.PeriodKey, billed, basePaid, penaltyPaid int64, due billing.Date) error {
		// Penalty accrues only while the base charge is outstanding. A
		// settled slot stays settled no matter how far asOf advances.
		penalty := penaltyPaid
		if basePaid < billed {
			var err error
			penalty, err = billing.ComputePenalty(billed, due, asOf, s.cfg.Penalty, billing.ModuleRecurringDues)
			if err != nil {
				return err
			}
		}
		out = append(out, billing.Obligation{
			ID:           billing.ObligationID(billing.ModuleRecurringDues, period),
			Module:       billing.ModuleRecurringDues,
			UnitID:       rec.UnitID,
			Period:       period,
			OriginalBase: billed,
			Penalty:      penalty,
			BasePaid:     basePaid,
			PenaltyPaid:  penaltyPaid,
			DueDate:      due,
		})
		return nil
	}

	if s.cfg.BillingFrequency == billing.FrequencyQuarterly {
		for q := 3; q >= 0; q-- {
			var billed, basePaid, penaltyPaid int64
			var due billing.Date
			var period billing.PeriodKey
			for i := q * 3; i < q*3+3; i++ {
				slot := rec.Slots[i]
				basePaid += slot.BasePaid
				penaltyPaid += slot.PenaltyPaid
				if slot.Billed == 0 {
					continue
				}
				billed += slot.Billed
				if due.IsZero() {
					due = slot.DueDate
					y, m := billing.FiscalMonth(rec.FiscalYear, s.cfg.FiscalYearStartMonth, i)
					period = billing.NewPeriod(y, m)
				}
			}
			if billed == 0 {
				continue
			}
			if err := appendObligation(period, billed, basePaid, penaltyPaid, due); err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	for i := SlotsPerYear - 1; i >= 0; i-- {
		slot := rec.Slots[i]
		if slot.Billed == 0 {
			continue
		}
		y, m := billing.FiscalMonth(rec.FiscalYear, s.cfg.FiscalYearStartMonth, i)
		if err := appendObligation(billing.NewPeriod(y, m), slot.Billed, slot.BasePaid, slot.PenaltyPaid, slot.DueDate); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// =============================================================================
// PAYMENT APPLICATION
// =============================================================================

// ApplyPayment increments the paid fields on the slots behind one commit's
// allocations and returns the guarded write ops. Allocations landing in the
// same fiscal year fold into a single record write. For quarterly billing
// each consolidated amount is split back across the quarter's slots so the
// parts sum exactly to the allocation.
func (s *Source) ApplyPayment(ctx context.Context, unitID string, allocs []billing.ObligationAllocation) ([]store.WriteOp, error) {
	touched := make(map[int]*Record)
	load := func(fy int) (*Record, error) {
		if rec, ok := touched[fy]; ok {
			return rec, nil
		}
		rec, err := s.GetRecord(ctx, unitID, fy)
		if err != nil {
			return nil, err
		}
		touched[fy] = rec
		return rec, nil
	}

	for _, alloc := range allocs {
		fy, slot, err := billing.FiscalSlot(alloc.Period, s.cfg.FiscalYearStartMonth)
		if err != nil {
			return nil, err
		}
		rec, err := load(fy)
		if err != nil {
			return nil, err
		}

		if s.cfg.BillingFrequency == billing.FrequencyQuarterly {
			first := slot / 3 * 3

			baseWeights := make([]int64, 3)
			billedWeights := make([]int64, 3)
			for i := 0; i < 3; i++ {
				sl := rec.Slots[first+i]
				baseWeights[i] = clamp(sl.Billed - sl.BasePaid)
				billedWeights[i] = sl.Billed
			}

			baseParts := billing.SplitProportional(alloc.BaseAllocated, baseWeights)
			penaltyParts := billing.SplitProportional(alloc.PenaltyAllocated, billedWeights)
			for i := 0; i < 3; i++ {
				rec.Slots[first+i].BasePaid += baseParts[i]
				rec.Slots[first+i].PenaltyPaid += penaltyParts[i]
			}
		} else {
			rec.Slots[slot].BasePaid += alloc.BaseAllocated
			rec.Slots[slot].PenaltyPaid += alloc.PenaltyAllocated
		}
	}

	// Propagate the lookback hint forward before emitting ops: once a year
	// settles and its own prior years were settled, the following year's
	// scan can stop there.
	years := make([]int, 0, len(touched))
	for fy := range touched {
		years = append(years, fy)
	}
	sort.Ints(years)
	for _, fy := range years {
		rec := touched[fy]
		if !rec.PriorClosed || !rec.BaseFullyPaid() {
			continue
		}
		next, err := load(fy + 1)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		next.PriorClosed = true
	}

	years = years[:0]
	for fy := range touched {
		years = append(years, fy)
	}
	sort.Ints(years)

	ops := make([]store.WriteOp, 0, len(years))
	for _, fy := range years {
		data, err := json.Marshal(touched[fy])
		if err != nil {
			return nil, fmt.Errorf("encode dues record: %w", err)
		}
		ops = append(ops, store.WriteOp{Key: Key(unitID, fy), Data: data, RequireExists: true})
	}
	return ops, nil
}

func clamp(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
