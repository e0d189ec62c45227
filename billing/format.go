/*
format.go - Ledger-delta formatting

PURPOSE:
  Turns a DistributionResult into the durable AccountingTransaction: one
  line item per (obligation, category) that received funds, plus a signed
  credit line item for the net credit change. The builder only READS the
  distribution result; it never mutates it.

CORRECTNESS CHECK:
  The sum of a transaction's allocation amounts must equal the transaction
  amount exactly. The builder asserts this before returning - a mismatch is
  a bug (ErrFundsNotConserved), not bad input.
*/
package billing

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// targetName renders a human-readable name for an allocation target.
func targetName(module ModuleType, period PeriodKey) string {
	switch module {
	case ModuleRecurringDues:
		return fmt.Sprintf("Recurring dues %s", period)
	case ModuleMeteredConsumption:
		return fmt.Sprintf("Metered consumption %s", period)
	default:
		return fmt.Sprintf("%s %s", module, period)
	}
}

// BuildTransaction formats a distribution result into the accounting
// transaction to be committed, with the given id and creation time.
func BuildTransaction(unitID, txnID string, result DistributionResult, createdAt time.Time) (AccountingTransaction, error) {
	txn := AccountingTransaction{
		ID:        txnID,
		UnitID:    unitID,
		Amount:    result.PaymentAmount,
		AsOf:      result.AsOf,
		Note:      BuildNote(result),
		CreatedAt: createdAt,
	}

	var sum int64
	for _, alloc := range result.PerObligation {
		if alloc.PenaltyAllocated > 0 {
			txn.Allocations = append(txn.Allocations, Allocation{
				ObligationID: alloc.ObligationID,
				Target:       targetName(alloc.Module, alloc.Period) + " penalty",
				Category:     CategoryPenalty,
				Amount:       alloc.PenaltyAllocated,
			})
			sum += alloc.PenaltyAllocated
		}
		if alloc.BaseAllocated > 0 {
			txn.Allocations = append(txn.Allocations, Allocation{
				ObligationID: alloc.ObligationID,
				Target:       targetName(alloc.Module, alloc.Period),
				Category:     CategoryBase,
				Amount:       alloc.BaseAllocated,
			})
			sum += alloc.BaseAllocated
		}
	}

	if net := result.NetCreditAdded(); net != 0 {
		txn.Allocations = append(txn.Allocations, Allocation{
			Target:   "Credit balance",
			Category: CategoryCredit,
			Amount:   net,
		})
		sum += net
	}

	// Line items must sum exactly to the transaction amount.
	if sum != txn.Amount {
		return AccountingTransaction{}, fmt.Errorf(
			"transaction %s: allocations sum to %d, amount is %d: %w",
			txnID, sum, txn.Amount, ErrFundsNotConserved)
	}
	return txn, nil
}

// BuildNote renders the human-readable payment description. It reads the
// distribution result and nothing else.
func BuildNote(result DistributionResult) string {
	var parts []string
	for _, alloc := range result.PerObligation {
		if alloc.BaseAllocated == 0 && alloc.PenaltyAllocated == 0 {
			continue
		}
		part := fmt.Sprintf("%s base %d", alloc.ObligationID, alloc.BaseAllocated)
		if alloc.PenaltyAllocated > 0 {
			part += fmt.Sprintf(" penalty %d", alloc.PenaltyAllocated)
		}
		parts = append(parts, part)
	}
	if result.CreditUsed > 0 {
		parts = append(parts, fmt.Sprintf("credit used %d", result.CreditUsed))
	}
	if result.CreditAdded > 0 {
		parts = append(parts, fmt.Sprintf("credit added %d", result.CreditAdded))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("payment %d: nothing applied", result.PaymentAmount)
	}
	return fmt.Sprintf("payment %d: %s", result.PaymentAmount, strings.Join(parts, "; "))
}

// TransactionKey is the store key for a committed transaction. The timestamp
// prefix keeps a unit's transactions in chronological scan order.
func TransactionKey(unitID, txnID string, createdAt time.Time) string {
	return fmt.Sprintf("txn/%s/%s-%s", unitID, createdAt.UTC().Format("20060102T150405"), txnID)
}

func marshalTransaction(txn AccountingTransaction) ([]byte, error) {
	data, err := json.Marshal(txn)
	if err != nil {
		return nil, fmt.Errorf("encode transaction %s: %w", txn.ID, err)
	}
	return data, nil
}
