/*
credit.go - Append-only credit ledger

PURPOSE:
  Tracks each unit's floating overpayment balance as an append-only sequence
  of signed deltas. The running balance is ALWAYS computed by folding the
  history - there is no cached balance field to drift out of sync with it.

KEY LAYOUT:
  credit/<unit>/<zero-padded seq>

  Zero-padded sequence numbers make the store's ordered prefix scan return
  entries in append order.

INVARIANT:
  The running balance must never go negative after any commit. The commit
  coordinator checks the post-commit balance before assembling the batch.
*/
package billing

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/strata/billing-engine/store"
)

// CreditLedger reads and appends a unit's credit history.
type CreditLedger struct {
	store store.Store
}

func NewCreditLedger(st store.Store) *CreditLedger {
	return &CreditLedger{store: st}
}

func creditKey(unitID string, seq int) string {
	return fmt.Sprintf("credit/%s/%08d", unitID, seq)
}

// Entries returns the unit's full credit history in append order.
func (l *CreditLedger) Entries(ctx context.Context, unitID string) ([]CreditEntry, error) {
	docs, err := l.store.ScanPrefix(ctx, fmt.Sprintf("credit/%s/", unitID))
	if err != nil {
		return nil, fmt.Errorf("scan credit ledger for %s: %w", unitID, err)
	}

	entries := make([]CreditEntry, 0, len(docs))
	for _, doc := range docs {
		var e CreditEntry
		if err := json.Unmarshal(doc.Data, &e); err != nil {
			return nil, fmt.Errorf("decode credit entry %s: %w", doc.Key, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Balance folds the unit's history into its current balance.
func (l *CreditLedger) Balance(ctx context.Context, unitID string) (int64, error) {
	entries, err := l.Entries(ctx, unitID)
	if err != nil {
		return 0, err
	}
	var balance int64
	for _, e := range entries {
		balance += e.Amount
	}
	return balance, nil
}

// AppendOps builds the guarded write ops that append the given entries after
// the unit's current history. Sequence numbers continue from the existing
// tail; the absence guard makes a concurrent append fail the whole batch
// instead of overwriting an entry.
func (l *CreditLedger) AppendOps(ctx context.Context, unitID string, entries []CreditEntry) ([]store.WriteOp, error) {
	existing, err := l.Entries(ctx, unitID)
	if err != nil {
		return nil, err
	}

	ops := make([]store.WriteOp, 0, len(entries))
	next := len(existing) + 1
	for i := range entries {
		entries[i].Seq = next
		data, err := json.Marshal(entries[i])
		if err != nil {
			return nil, fmt.Errorf("encode credit entry: %w", err)
		}
		ops = append(ops, store.WriteOp{
			Key:           creditKey(unitID, next),
			Data:          data,
			RequireAbsent: true,
		})
		next++
	}
	return ops, nil
}
