/*
engine.go - Public surface of the billing core

PURPOSE:
  The Engine wires the aggregator, distributor, formatter, commit
  coordinator, reconciler, and credit ledger together behind the three
  operations the rest of the system calls:

    PreviewPayment - pure computation, no side effects
    CommitPayment  - recomputes the preview, verifies it, writes atomically
    Reconcile      - read-only drift diagnostic

SCHEDULING MODEL:
  Request-scoped, single-threaded per request. Obligation reads are a
  snapshot (no cross-document read transaction); the commit is one atomic
  batch. Overlapping commits for the same unit should be serialized by the
  caller - one payment in flight per unit at a time.
*/
package billing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/strata/billing-engine/store"
)

// Engine is the payment distribution and reconciliation core.
type Engine struct {
	store   store.Store
	sources []BillSource
	credit  *CreditLedger

	lookAheadDays int

	// Seams for deterministic tests.
	now   func() time.Time
	newID func() string
}

// NewEngine builds an engine over the given store and bill sources.
// lookAheadDays bounds the prepayable recurring-dues window.
func NewEngine(st store.Store, lookAheadDays int, sources ...BillSource) *Engine {
	if lookAheadDays <= 0 {
		lookAheadDays = 60
	}
	return &Engine{
		store:         st,
		sources:       sources,
		credit:        NewCreditLedger(st),
		lookAheadDays: lookAheadDays,
		now:           time.Now,
		newID:         uuid.NewString,
	}
}

// Credit exposes the engine's credit ledger for read-only callers.
func (e *Engine) Credit() *CreditLedger { return e.credit }

// OpenObligations returns the unit's current open obligations in allocation
// order, penalties recomputed as of asOf.
func (e *Engine) OpenObligations(ctx context.Context, unitID string, asOf Date) ([]Obligation, error) {
	obs, err := e.aggregateOpen(ctx, unitID, asOf, nil)
	if err != nil {
		return nil, err
	}
	return ClassifyAndSort(obs, asOf, e.lookAheadDays), nil
}

// PreviewPayment computes how a payment of amount would be distributed as of
// asOf, given the caller's snapshot of the unit's credit balance. It has no
// side effects; committing the same inputs yields the identical result.
func (e *Engine) PreviewPayment(ctx context.Context, unitID string, amount int64, asOf Date, creditBalance int64, filter *ObligationFilter) (DistributionResult, error) {
	obligations, err := e.aggregateOpen(ctx, unitID, asOf, filter)
	if err != nil {
		return DistributionResult{}, err
	}

	result, err := Distribute(obligations, amount, creditBalance, asOf, e.lookAheadDays)
	if err != nil {
		return DistributionResult{}, err
	}
	result.UnitID = unitID
	return result, nil
}
