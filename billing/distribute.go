/*
distribute.go - Multi-pass payment distribution

PURPOSE:
  The distributor is the core of the billing engine: a PURE function that
  consumes (payment + credit) funds and an obligation snapshot and produces
  a per-obligation allocation plus the residual credit delta.

ALGORITHM:
  1. Classify and sort the snapshot (priority.go). Excluded obligations do
     not participate.
  2. Walk priority classes in ascending order. Within a class, for each
     obligation in order, pay penalty-remaining first, then base-remaining,
     both clamped to what is owed, consuming from a single running funds
     pool. Unconsumed funds roll forward to the next class.
  3. After all classes: whatever the payment did not apply becomes credit
     (overpayment); whatever the payment fell short of was drawn from the
     unit's existing credit balance (credit used). Allocations are never
     negative.

CRITICAL INVARIANTS:
  - Determinism: identical inputs produce byte-identical output. Preview and
    commit both call this exact function; any caller-side filter (e.g.
    "apply only through month M") must be applied to the obligation snapshot
    on BOTH sides, never here.
  - Funds conservation: payment + creditUsed == totalApplied + creditAdded,
    exactly, in minor units. Violations surface as ErrFundsNotConserved and
    mean a bug.
  - Integer arithmetic only. When a lump amount must be split proportionally
    across consolidated periods, the remainder goes to the first period that
    receives a positive share so the parts always sum to the whole.

EDGE CASES:
  - Zero payment: a preview-only call; returns the same shape with every
    allocation zero and the credit balance untouched.
  - Payment exceeding everything visible: the entire remainder becomes
    credit.
  - Already-paid obligation in the snapshot: skipped without error.
*/
package billing

// Distribute allocates a payment (plus the unit's floating credit balance)
// across the obligation snapshot. It performs no I/O and never mutates its
// inputs.
func Distribute(obligations []Obligation, paymentAmount, creditBalance int64, asOf Date, lookAheadDays int) (DistributionResult, error) {
	if paymentAmount < 0 {
		return DistributionResult{}, &ValidationError{
			Field: "amount", Message: "payment amount may not be negative", Err: ErrInvalidAmount,
		}
	}
	if creditBalance < 0 {
		return DistributionResult{}, &ValidationError{
			Field: "credit_balance", Message: "credit balance may not be negative", Err: ErrInvalidAmount,
		}
	}
	if asOf.IsZero() {
		return DistributionResult{}, &ValidationError{
			Field: "as_of", Message: "as-of date is required", Err: ErrInvalidAmount,
		}
	}

	ordered := ClassifyAndSort(obligations, asOf, lookAheadDays)

	result := DistributionResult{
		AsOf:          asOf,
		PaymentAmount: paymentAmount,
		PerObligation: make([]ObligationAllocation, 0, len(ordered)),
	}
	if len(ordered) > 0 {
		result.UnitID = ordered[0].UnitID
	}

	// Zero-amount calls are preview-only: same shape, all allocations zero,
	// credit untouched.
	if paymentAmount == 0 {
		for _, o := range ordered {
			result.PerObligation = append(result.PerObligation, ObligationAllocation{
				ObligationID: o.ID,
				Module:       o.Module,
				Period:       o.Period,
				NewStatus:    o.Status(),
			})
		}
		result.NewCreditBalance = creditBalance
		return result, nil
	}

	// Payment and credit act as one pool; how much credit was actually
	// consumed falls out afterwards from what the payment alone could not
	// cover.
	pool := paymentAmount + creditBalance
	var totalApplied int64

	for _, o := range ordered {
		alloc := ObligationAllocation{
			ObligationID: o.ID,
			Module:       o.Module,
			Period:       o.Period,
		}

		// Penalty before base, both clamped to what is owed and to the pool.
		if penalty := o.PenaltyRemaining(); penalty > 0 && pool > 0 {
			alloc.PenaltyAllocated = minInt64(penalty, pool)
			pool -= alloc.PenaltyAllocated
		}
		if base := o.BaseRemaining(); base > 0 && pool > 0 {
			alloc.BaseAllocated = minInt64(base, pool)
			pool -= alloc.BaseAllocated
		}

		paid := Obligation{
			OriginalBase: o.OriginalBase,
			Penalty:      o.Penalty,
			BasePaid:     o.BasePaid + alloc.BaseAllocated,
			PenaltyPaid:  o.PenaltyPaid + alloc.PenaltyAllocated,
		}
		alloc.NewStatus = paid.Status()

		totalApplied += alloc.BaseAllocated + alloc.PenaltyAllocated
		result.PerObligation = append(result.PerObligation, alloc)
	}

	result.TotalApplied = totalApplied
	if totalApplied > paymentAmount {
		result.CreditUsed = totalApplied - paymentAmount
	} else {
		result.CreditAdded = paymentAmount - totalApplied
	}
	result.NewCreditBalance = creditBalance - result.CreditUsed + result.CreditAdded

	// Conservation: payment + creditUsed == totalApplied + creditAdded.
	if paymentAmount+result.CreditUsed != result.TotalApplied+result.CreditAdded {
		return DistributionResult{}, ErrFundsNotConserved
	}
	if result.NewCreditBalance < 0 {
		return DistributionResult{}, ErrNegativeCredit
	}

	return result, nil
}

// SplitProportional divides total across the given weights so that the parts
// sum to total exactly. Each part gets the floor of its proportional share;
// the remainder goes to the first part with a positive share (or the first
// positive weight when everything floors to zero).
//
// Used when a lump allocation against a consolidated obligation must be
// attributed back to its underlying periods.
func SplitProportional(total int64, weights []int64) []int64 {
	parts := make([]int64, len(weights))
	if total <= 0 || len(weights) == 0 {
		return parts
	}

	var sum int64
	for _, w := range weights {
		if w > 0 {
			sum += w
		}
	}
	if sum == 0 {
		parts[0] = total
		return parts
	}

	var allocated int64
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		parts[i] = total * w / sum
		allocated += parts[i]
	}

	if remainder := total - allocated; remainder > 0 {
		for i := range parts {
			if parts[i] > 0 {
				parts[i] += remainder
				return parts
			}
		}
		// Everything floored to zero: the first positive weight absorbs it.
		for i, w := range weights {
			if w > 0 {
				parts[i] += remainder
				break
			}
		}
	}
	return parts
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
