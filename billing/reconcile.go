/*
reconcile.go - Discrepancy reconciliation

PURPOSE:
  Independently re-derives "amount paid per bill" by summing every
  accounting-transaction allocation that targets each obligation, and
  compares it with the obligation's own stored paid fields. Any variance
  beyond a one-minor-unit tolerance is reported with a best-effort cause.

  The reconciler is also the safety net for the lookback fast path: the
  prior-period-closed flag is an optimization hint that can be set wrong by
  a manual data fix, and a periodic reconciliation pass catches what an
  under-scan would hide. This component NEVER writes.

TOLERANCE FOR PARTIAL HISTORY:
  Missing or unparseable transaction documents are skipped, not fatal: the
  reconciler always returns findings as data, never throws over history it
  cannot read.
*/
package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Reconcile compares every obligation's stored paid fields against the paid
// amounts its transaction history explains. A clean unit returns an empty
// slice. Read-only, callable at any time.
func (e *Engine) Reconcile(ctx context.Context, unitID string) ([]Discrepancy, error) {
	asOf := DateOf(e.now())

	obligations, err := e.aggregateAll(ctx, unitID, asOf)
	if err != nil {
		return nil, err
	}
	txns, err := e.loadTransactions(ctx, unitID)
	if err != nil {
		return nil, err
	}

	// Fold allocation history per obligation.
	type derived struct {
		paid   int64
		txnIDs []string
	}
	byObligation := make(map[string]*derived)
	for _, txn := range txns {
		seen := make(map[string]bool)
		for _, alloc := range txn.Allocations {
			if alloc.ObligationID == "" || alloc.Category == CategoryCredit {
				continue
			}
			d := byObligation[alloc.ObligationID]
			if d == nil {
				d = &derived{}
				byObligation[alloc.ObligationID] = d
			}
			d.paid += alloc.Amount
			if !seen[alloc.ObligationID] {
				d.txnIDs = append(d.txnIDs, txn.ID)
				seen[alloc.ObligationID] = true
			}
		}
	}

	var findings []Discrepancy
	for _, o := range obligations {
		storedPaid := o.BasePaid + o.PenaltyPaid
		d := byObligation[o.ID]

		var derivedPaid int64
		var related []string
		if d != nil {
			derivedPaid = d.paid
			related = d.txnIDs
		}

		delta := derivedPaid - storedPaid
		if delta >= -1 && delta <= 1 {
			continue // within tolerance
		}

		cause := CauseUnderReports
		switch {
		case d == nil || len(related) == 0:
			cause = CauseNoTransactions
		case delta < 0:
			cause = CauseOverReports
		}

		findings = append(findings, Discrepancy{
			ObligationID:                o.ID,
			ExpectedRemaining:           o.TotalRemaining(),
			TransactionDerivedRemaining: clampNonNegative(o.TotalDue() - derivedPaid),
			Delta:                       delta,
			SuspectedCause:              cause,
			RelatedTransactionIDs:       related,
		})
	}
	return findings, nil
}

// ReconcileAll sweeps every unit that has a billing record and returns the
// discrepancies per unit. Units that reconcile clean are omitted. Read-only.
func (e *Engine) ReconcileAll(ctx context.Context) (map[string][]Discrepancy, error) {
	units, err := e.listUnits(ctx)
	if err != nil {
		return nil, err
	}

	findings := make(map[string][]Discrepancy)
	for _, unitID := range units {
		unitFindings, err := e.Reconcile(ctx, unitID)
		if err != nil {
			return nil, fmt.Errorf("reconcile %s: %w", unitID, err)
		}
		if len(unitFindings) > 0 {
			findings[unitID] = unitFindings
		}
	}
	return findings, nil
}

// listUnits derives the known unit ids from the record keyspace
// ("dues/<unit>/..." and "meter/<unit>/...").
func (e *Engine) listUnits(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	for _, prefix := range []string{"dues/", "meter/"} {
		docs, err := e.store.ScanPrefix(ctx, prefix)
		if err != nil {
			return nil, fmt.Errorf("scan %s records: %w", prefix, err)
		}
		for _, doc := range docs {
			parts := strings.SplitN(strings.TrimPrefix(doc.Key, prefix), "/", 2)
			if len(parts) == 2 && parts[0] != "" {
				seen[parts[0]] = true
			}
		}
	}

	units := make([]string, 0, len(seen))
	for unitID := range seen {
		units = append(units, unitID)
	}
	sort.Strings(units)
	return units, nil
}

// loadTransactions scans a unit's committed transactions in chronological
// order, skipping documents it cannot decode.
func (e *Engine) loadTransactions(ctx context.Context, unitID string) ([]AccountingTransaction, error) {
	docs, err := e.store.ScanPrefix(ctx, fmt.Sprintf("txn/%s/", unitID))
	if err != nil {
		return nil, fmt.Errorf("scan transactions for %s: %w", unitID, err)
	}

	txns := make([]AccountingTransaction, 0, len(docs))
	for _, doc := range docs {
		var txn AccountingTransaction
		if err := json.Unmarshal(doc.Data, &txn); err != nil {
			// Partial history is a finding for the reconciler to work
			// around, not a reason to fail the diagnostic.
			continue
		}
		txns = append(txns, txn)
	}
	return txns, nil
}
