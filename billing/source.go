/*
source.go - BillSource capability implemented by each billing module

PURPOSE:
  The engine never reaches into a module's storage shape. Each module
  (recurring dues, metered consumption) implements BillSource once and is
  injected into the engine; cross-module coupling stays behind this
  interface instead of ad hoc lookups.
*/
package billing

import (
	"context"

	"github.com/strata/billing-engine/store"
)

// BillSource adapts one billing module's native records into normalized
// Obligations, and turns distribution allocations back into that module's
// own record updates.
type BillSource interface {
	// Module identifies which module this source serves.
	Module() ModuleType

	// LoadOpenObligations returns the unit's not-fully-paid obligations as
	// of asOf, penalties recomputed, ordered oldest period first.
	//
	// If the module's records carry a prior-period-closed flag the scan may
	// stop early (fast path); otherwise it scans backward until it finds a
	// fully-paid period or the configured maximum lookback (slow path). The
	// flag only changes how many reads are needed, never which obligations
	// come back.
	LoadOpenObligations(ctx context.Context, unitID string, asOf Date) ([]Obligation, error)

	// LoadObligations returns every obligation within the lookback window,
	// including fully-paid ones. Used by the reconciler.
	LoadObligations(ctx context.Context, unitID string, asOf Date) ([]Obligation, error)

	// ApplyPayment converts one commit's allocations for this module into
	// the write ops that record the paid-field increments on the module's
	// own records. Allocations sharing a backing record must fold into one
	// write. The ops carry existence guards so a vanished record aborts the
	// whole commit batch.
	ApplyPayment(ctx context.Context, unitID string, allocs []ObligationAllocation) ([]store.WriteOp, error)
}
