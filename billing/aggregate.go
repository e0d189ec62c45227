/*
aggregate.go - Cross-module bill aggregation

PURPOSE:
  Loads every open obligation for a unit across the registered billing
  modules and applies the caller's obligation filter. The filter is applied
  HERE, on the snapshot, so that a preview and its commit always see
  identical inputs; the distributor itself never filters.

DEGRADED LOADS:
  A module that fails to load does not silently contribute "no bills owed".
  Its failure surfaces as a ModuleLoadError so callers can tell an empty
  module apart from a broken one.
*/
package billing

import "context"

// ObligationFilter optionally bounds which obligations participate in a
// payment run. The same filter value must be passed to the preview and the
// commit of one payment.
type ObligationFilter struct {
	// ThroughPeriod drops obligations for periods after this one.
	// Empty means no bound.
	ThroughPeriod PeriodKey `json:"through_period,omitempty"`
}

func (f *ObligationFilter) keeps(o Obligation) bool {
	if f == nil || f.ThroughPeriod == "" {
		return true
	}
	// PeriodKey strings sort chronologically.
	return o.Period <= f.ThroughPeriod
}

// aggregateOpen collects open obligations from every source, in module
// arrival order, with the filter applied.
func (e *Engine) aggregateOpen(ctx context.Context, unitID string, asOf Date, filter *ObligationFilter) ([]Obligation, error) {
	var all []Obligation
	for _, src := range e.sources {
		obs, err := src.LoadOpenObligations(ctx, unitID, asOf)
		if err != nil {
			return nil, &ModuleLoadError{Module: src.Module(), Err: err}
		}
		for _, o := range obs {
			if filter.keeps(o) {
				all = append(all, o)
			}
		}
	}
	return all, nil
}

// aggregateAll collects every obligation (paid included) from every source,
// for the reconciler.
func (e *Engine) aggregateAll(ctx context.Context, unitID string, asOf Date) ([]Obligation, error) {
	var all []Obligation
	for _, src := range e.sources {
		obs, err := src.LoadObligations(ctx, unitID, asOf)
		if err != nil {
			return nil, &ModuleLoadError{Module: src.Module(), Err: err}
		}
		all = append(all, obs...)
	}
	return all, nil
}
