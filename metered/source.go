/*
source.go - billing.BillSource implementation for metered consumption

SCAN STRATEGY:
  One ordered prefix scan returns the unit's metering history oldest first.
  The source then walks it backward from the newest record:

  - Fast path: a record with PriorClosed set ends the walk after it is
    collected.
  - Slow path: the walk ends at the first fully-settled record, or after
    MaxLookbackPeriods records.

  As with dues, the flag is purely a read-count optimization and the
  reconciler ignores it.
*/
package metered

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/strata/billing-engine/billing"
	"github.com/strata/billing-engine/store"
)

// Source adapts consumption records into normalized obligations.
type Source struct {
	store store.Store
	cfg   billing.ModuleConfig
}

// NewSource validates the module config (failing fast on missing penalty
// fields) and returns the metered bill source.
func NewSource(st store.Store, cfg billing.ModuleConfig) (*Source, error) {
	if err := cfg.Validate(billing.ModuleMeteredConsumption); err != nil {
		return nil, err
	}
	return &Source{store: st, cfg: cfg}, nil
}

func (s *Source) Module() billing.ModuleType { return billing.ModuleMeteredConsumption }

// Config exposes the validated module config.
func (s *Source) Config() billing.ModuleConfig { return s.cfg }

// =============================================================================
// RECORD ACCESS
// =============================================================================

// GetRecord loads one period record.
func (s *Source) GetRecord(ctx context.Context, unitID string, period billing.PeriodKey) (*Record, error) {
	data, err := s.store.Get(ctx, Key(unitID, period))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode meter record %s/%s: %w", unitID, period, err)
	}
	return &rec, nil
}

// PutRecord writes a period record (posting a reading, or seeding).
func (s *Source) PutRecord(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode meter record: %w", err)
	}
	return s.store.Apply(ctx, []store.WriteOp{{Key: Key(rec.UnitID, rec.Period), Data: data}})
}

// =============================================================================
// OBLIGATION LOADING
// =============================================================================

func (s *Source) LoadOpenObligations(ctx context.Context, unitID string, asOf billing.Date) ([]billing.Obligation, error) {
	return s.load(ctx, unitID, asOf, false)
}

func (s *Source) LoadObligations(ctx context.Context, unitID string, asOf billing.Date) ([]billing.Obligation, error) {
	return s.load(ctx, unitID, asOf, true)
}

func (s *Source) load(ctx context.Context, unitID string, asOf billing.Date, includePaid bool) ([]billing.Obligation, error) {
	docs, err := s.store.ScanPrefix(ctx, fmt.Sprintf("meter/%s/", unitID))
	if err != nil {
		return nil, fmt.Errorf("scan meter records for %s: %w", unitID, err)
	}

	var collected []billing.Obligation
	scanned := 0
	for i := len(docs) - 1; i >= 0; i-- {
		if scanned >= s.cfg.MaxLookbackPeriods {
			break
		}
		scanned++

		var rec Record
		if err := json.Unmarshal(docs[i].Data, &rec); err != nil {
			return nil, fmt.Errorf("decode meter record %s: %w", docs[i].Key, err)
		}

		o, err := s.obligationFromRecord(&rec, asOf)
		if err != nil {
			return nil, err
		}

		open := o.TotalRemaining() > 0
		if includePaid || open {
			collected = append(collected, o)
		}
		if includePaid {
			continue
		}
		if !open {
			break // settled period: slow path stop
		}
		if rec.PriorClosed {
			break // fast path
		}
	}

	// Oldest period first.
	for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
		collected[i], collected[j] = collected[j], collected[i]
	}
	return collected, nil
}

func (s *Source) obligationFromRecord(rec *Record, asOf billing.Date) (billing.Obligation, error) {
	// Penalty accrues only while the base charge is outstanding. A settled
	// record stays settled no matter how far asOf advances.
	penalty := rec.PenaltyPaid
	if rec.BasePaid < rec.Billed {
		var err error
		penalty, err = billing.ComputePenalty(rec.Billed, rec.DueDate, asOf, s.cfg.Penalty, billing.ModuleMeteredConsumption)
		if err != nil {
			return billing.Obligation{}, err
		}
	}
	return billing.Obligation{
		ID:           billing.ObligationID(billing.ModuleMeteredConsumption, rec.Period),
		Module:       billing.ModuleMeteredConsumption,
		UnitID:       rec.UnitID,
		Period:       rec.Period,
		OriginalBase: rec.Billed,
		Penalty:      penalty,
		BasePaid:     rec.BasePaid,
		PenaltyPaid:  rec.PenaltyPaid,
		DueDate:      rec.DueDate,
	}, nil
}

// =============================================================================
// PAYMENT APPLICATION
// =============================================================================

// ApplyPayment increments the paid fields behind one commit's allocations
// and returns the guarded write ops, one per touched period record,
// including the forward PriorClosed propagation when a period settles.
func (s *Source) ApplyPayment(ctx context.Context, unitID string, allocs []billing.ObligationAllocation) ([]store.WriteOp, error) {
	touched := make(map[billing.PeriodKey]*Record)
	load := func(p billing.PeriodKey) (*Record, error) {
		if rec, ok := touched[p]; ok {
			return rec, nil
		}
		rec, err := s.GetRecord(ctx, unitID, p)
		if err != nil {
			return nil, err
		}
		touched[p] = rec
		return rec, nil
	}

	for _, alloc := range allocs {
		rec, err := load(alloc.Period)
		if err != nil {
			return nil, err
		}
		rec.BasePaid += alloc.BaseAllocated
		rec.PenaltyPaid += alloc.PenaltyAllocated
	}

	// Propagate the lookback hint forward before emitting ops.
	periods := sortedPeriods(touched)
	for _, p := range periods {
		rec := touched[p]
		if !rec.PriorClosed || !rec.BaseFullyPaid() {
			continue
		}
		nextPeriod, err := p.Next()
		if err != nil {
			return nil, err
		}
		next, err := load(nextPeriod)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		next.PriorClosed = true
	}

	ops := make([]store.WriteOp, 0, len(touched))
	for _, p := range sortedPeriods(touched) {
		data, err := json.Marshal(touched[p])
		if err != nil {
			return nil, fmt.Errorf("encode meter record: %w", err)
		}
		ops = append(ops, store.WriteOp{Key: Key(unitID, p), Data: data, RequireExists: true})
	}
	return ops, nil
}

func sortedPeriods(touched map[billing.PeriodKey]*Record) []billing.PeriodKey {
	periods := make([]billing.PeriodKey, 0, len(touched))
	for p := range touched {
		periods = append(periods, p)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i] < periods[j] })
	return periods
}
