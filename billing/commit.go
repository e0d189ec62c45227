/*
commit.go - Atomic commit coordination

PURPOSE:
  Applies one payment as a single indivisible write batch: the accounting
  transaction, every per-record paid-field increment, and the credit ledger
  appends. If any single write is invalid (for example a referenced record
  vanished between preview and commit), none of the writes land.

REPLAY SAFETY:
  The commit NEVER trusts a caller-supplied preview. It recomputes the full
  distribution from a fresh snapshot and aborts with a validation error if
  the caller's expected total no longer matches - a stale or tampered
  preview cannot be replayed into the ledger. The caller's credit balance
  snapshot is likewise re-verified against the folded ledger balance.

FAILURE MODEL:
  A failed commit simply never applies; prior state is untouched. There is
  no compensating-transaction logic anywhere in this core - the store's
  atomic batch is the only mechanism allowed to provide all-or-nothing.
  Retries belong to the caller and must re-run the full preview->commit
  cycle from a fresh snapshot.
*/
package billing

import (
	"context"
	"fmt"

	"github.com/strata/billing-engine/store"
)

// CommitReceipt is what a successful commit returns.
type CommitReceipt struct {
	TransactionID string             `json:"transaction_id"`
	Result        DistributionResult `json:"result"`
}

// CommitPayment distributes and durably applies a payment.
//
// expectedPreviewTotal must equal the TotalApplied of the preview the caller
// is acting on; a mismatch against the freshly recomputed distribution
// rejects the commit with ErrPreviewMismatch.
func (e *Engine) CommitPayment(ctx context.Context, unitID string, amount int64, asOf Date, creditBalance int64, filter *ObligationFilter, expectedPreviewTotal int64) (CommitReceipt, error) {
	// The caller's credit snapshot must still be the ledger's truth, or the
	// non-negative balance invariant cannot be guaranteed.
	ledgerBalance, err := e.credit.Balance(ctx, unitID)
	if err != nil {
		return CommitReceipt{}, err
	}
	if ledgerBalance != creditBalance {
		return CommitReceipt{}, &ValidationError{
			Field:   "credit_balance",
			Message: fmt.Sprintf("caller snapshot %d, ledger balance %d", creditBalance, ledgerBalance),
			Err:     ErrStaleCredit,
		}
	}

	// Recompute the distribution exactly as the preview did.
	result, err := e.PreviewPayment(ctx, unitID, amount, asOf, creditBalance, filter)
	if err != nil {
		return CommitReceipt{}, err
	}

	if result.TotalApplied != expectedPreviewTotal {
		return CommitReceipt{}, &ValidationError{
			Field:   "expected_preview_total",
			Message: fmt.Sprintf("expected %d, recomputed %d", expectedPreviewTotal, result.TotalApplied),
			Err:     ErrPreviewMismatch,
		}
	}
	// Defense in depth: the payment must be fully explained by what was
	// applied plus the net credit change.
	if amount != result.TotalApplied+result.NetCreditAdded() {
		return CommitReceipt{}, ErrFundsNotConserved
	}
	if result.NewCreditBalance < 0 {
		return CommitReceipt{}, ErrNegativeCredit
	}

	createdAt := e.now().UTC()
	txnID := e.newID()
	txn, err := BuildTransaction(unitID, txnID, result, createdAt)
	if err != nil {
		return CommitReceipt{}, err
	}

	ops, err := e.buildCommitOps(ctx, unitID, result, txn)
	if err != nil {
		return CommitReceipt{}, err
	}

	if err := e.store.Apply(ctx, ops); err != nil {
		return CommitReceipt{}, fmt.Errorf("commit payment for %s: %w", unitID, err)
	}
	return CommitReceipt{TransactionID: txnID, Result: result}, nil
}

// buildCommitOps assembles the single write batch for one payment: the
// transaction document, every module record update, and the credit appends.
func (e *Engine) buildCommitOps(ctx context.Context, unitID string, result DistributionResult, txn AccountingTransaction) ([]store.WriteOp, error) {
	var ops []store.WriteOp

	txnData, err := marshalTransaction(txn)
	if err != nil {
		return nil, err
	}
	ops = append(ops, store.WriteOp{
		Key:           TransactionKey(unitID, txn.ID, txn.CreatedAt),
		Data:          txnData,
		RequireAbsent: true,
	})

	// Group funded allocations per module so each source folds its whole
	// batch into one write per backing record.
	byModule := make(map[ModuleType][]ObligationAllocation)
	for _, alloc := range result.PerObligation {
		if alloc.BaseAllocated == 0 && alloc.PenaltyAllocated == 0 {
			continue
		}
		byModule[alloc.Module] = append(byModule[alloc.Module], alloc)
	}

	for _, src := range e.sources {
		allocs := byModule[src.Module()]
		if len(allocs) == 0 {
			continue
		}
		delete(byModule, src.Module())
		recordOps, err := src.ApplyPayment(ctx, unitID, allocs)
		if err != nil {
			return nil, fmt.Errorf("apply payment to module %s: %w", src.Module(), err)
		}
		ops = append(ops, recordOps...)
	}
	for module := range byModule {
		return nil, fmt.Errorf("module %s: %w", module, ErrUnknownModule)
	}

	var entries []CreditEntry
	if result.CreditUsed > 0 {
		entries = append(entries, CreditEntry{
			Amount:        -result.CreditUsed,
			TransactionID: txn.ID,
			Type:          CreditUsed,
			Timestamp:     txn.CreatedAt,
			Note:          "applied to outstanding bills",
		})
	}
	if result.CreditAdded > 0 {
		entries = append(entries, CreditEntry{
			Amount:        result.CreditAdded,
			TransactionID: txn.ID,
			Type:          CreditAdded,
			Timestamp:     txn.CreatedAt,
			Note:          "overpayment",
		})
	}
	if len(entries) > 0 {
		creditOps, err := e.credit.AppendOps(ctx, unitID, entries)
		if err != nil {
			return nil, err
		}
		ops = append(ops, creditOps...)
	}

	return ops, nil
}

// AdjustCredit appends a manual correction to the unit's credit ledger. The
// adjustment may not drive the running balance negative.
func (e *Engine) AdjustCredit(ctx context.Context, unitID string, amount int64, note string) (int64, error) {
	balance, err := e.credit.Balance(ctx, unitID)
	if err != nil {
		return 0, err
	}
	if balance+amount < 0 {
		return 0, &ValidationError{
			Field:   "amount",
			Message: fmt.Sprintf("adjustment %d would take balance %d negative", amount, balance),
			Err:     ErrNegativeCredit,
		}
	}

	ops, err := e.credit.AppendOps(ctx, unitID, []CreditEntry{{
		Amount:    amount,
		Type:      CreditAdjustment,
		Timestamp: e.now().UTC(),
		Note:      note,
	}})
	if err != nil {
		return 0, err
	}
	if err := e.store.Apply(ctx, ops); err != nil {
		return 0, fmt.Errorf("adjust credit for %s: %w", unitID, err)
	}
	return balance + amount, nil
}
