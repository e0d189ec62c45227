/*
Package billing provides the payment distribution and reconciliation core.

PURPOSE:
  This package contains the module-agnostic types and algorithms that take a
  single incoming payment (plus a unit's floating credit balance) and
  deterministically allocate it across outstanding obligations drawn from the
  billing modules (recurring dues, metered consumption), then commit the
  result atomically and diagnose drift between bill records and the
  transaction history that explains them.

KEY CONCEPTS IN THIS FILE (types.go):
  - Obligation: A single payable billing period, normalized across modules
  - DistributionResult: The pure output of the multi-pass distributor
  - AccountingTransaction / Allocation: The durable record of one payment
  - CreditEntry: One append-only credit ledger delta
  - Discrepancy: A reconciler finding (never persisted)

DESIGN PRINCIPLES:
  1. Integer money: All amounts are int64 minor units. No floating point
     ever touches a money path.
  2. Derived status: An obligation's status is always computed from its paid
     fields, never stored, so it cannot go stale.
  3. Purity: The distributor is a pure function of its snapshot; the same
     inputs always produce byte-identical output. Preview and commit run the
     exact same computation.
  4. Append-only history: Credit balance is folded from its ledger entries,
     never cached.

SEE ALSO:
  - source.go: BillSource capability implemented by each billing module
  - distribute.go: Multi-pass distribution algorithm
  - commit.go: Atomic commit coordinator
  - reconcile.go: Discrepancy reconciler
*/
package billing

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// MODULES
// =============================================================================

// ModuleType identifies which billing module owns an obligation.
type ModuleType string

const (
	ModuleRecurringDues      ModuleType = "dues"
	ModuleMeteredConsumption ModuleType = "meter"
)

// =============================================================================
// OBLIGATION - One payable billing period, normalized across modules
// =============================================================================

// Status of an obligation, always derived from its paid fields.
type Status string

const (
	StatusUnpaid  Status = "unpaid"
	StatusPartial Status = "partial"
	StatusPaid    Status = "paid"
)

// Obligation is a single payable unit of work. Its id is stable across
// recomputation: "<module>:<period>" (e.g. "dues:2026-03").
type Obligation struct {
	ID     string     `json:"id"`
	Module ModuleType `json:"module"`
	UnitID string     `json:"unit_id"`
	Period PeriodKey  `json:"period"`

	// OriginalBase is immutable once billed. Penalty is recomputed by the
	// penalty calculator; the paid fields only ever grow, and only through
	// the commit coordinator.
	OriginalBase int64 `json:"original_base"`
	Penalty      int64 `json:"penalty"`
	BasePaid     int64 `json:"base_paid"`
	PenaltyPaid  int64 `json:"penalty_paid"`

	DueDate Date `json:"due_date"`

	// PriorityClass is assigned transiently during distribution and never
	// persisted.
	PriorityClass int `json:"-"`
}

// ObligationID builds the stable composite id for a module + period.
func ObligationID(module ModuleType, period PeriodKey) string {
	return fmt.Sprintf("%s:%s", module, period)
}

// ParseObligationID splits a composite obligation id back into its parts.
func ParseObligationID(id string) (ModuleType, PeriodKey, error) {
	parts := strings.SplitN(id, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed obligation id %q", id)
	}
	period, err := ParsePeriod(parts[1])
	if err != nil {
		return "", "", err
	}
	return ModuleType(parts[0]), period, nil
}

func (o Obligation) TotalDue() int64 { return o.OriginalBase + o.Penalty }

func (o Obligation) BaseRemaining() int64 {
	return clampNonNegative(o.OriginalBase - o.BasePaid)
}

func (o Obligation) PenaltyRemaining() int64 {
	return clampNonNegative(o.Penalty - o.PenaltyPaid)
}

func (o Obligation) TotalRemaining() int64 {
	return clampNonNegative(o.TotalDue() - o.BasePaid - o.PenaltyPaid)
}

// Status derives the payment state from the paid fields. It is never stored
// independently of them.
func (o Obligation) Status() Status {
	switch {
	case o.TotalRemaining() == 0:
		return StatusPaid
	case o.BasePaid+o.PenaltyPaid > 0:
		return StatusPartial
	default:
		return StatusUnpaid
	}
}

func clampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// =============================================================================
// DISTRIBUTION RESULT - Pure output of the multi-pass distributor
// =============================================================================

// ObligationAllocation is the distributor's verdict for one obligation.
type ObligationAllocation struct {
	ObligationID     string     `json:"obligation_id"`
	Module           ModuleType `json:"module"`
	Period           PeriodKey  `json:"period"`
	BaseAllocated    int64      `json:"base_allocated"`
	PenaltyAllocated int64      `json:"penalty_allocated"`
	NewStatus        Status     `json:"new_status"`
}

// DistributionResult is the transient result of distributing one payment.
// It is never persisted as-is; the formatter turns it into a durable
// AccountingTransaction plus per-record update instructions.
type DistributionResult struct {
	UnitID        string    `json:"unit_id"`
	AsOf          Date      `json:"as_of"`
	PaymentAmount int64     `json:"payment_amount"`

	PerObligation []ObligationAllocation `json:"per_obligation"`

	TotalApplied     int64 `json:"total_applied"`
	CreditUsed       int64 `json:"credit_used"`
	CreditAdded      int64 `json:"credit_added"`
	NewCreditBalance int64 `json:"new_credit_balance"`
}

// NetCreditAdded is the signed change this distribution makes to the credit
// balance.
func (r DistributionResult) NetCreditAdded() int64 {
	return r.CreditAdded - r.CreditUsed
}

// =============================================================================
// ACCOUNTING TRANSACTION - Durable record of one payment event
// =============================================================================

// AllocationCategory tags what an allocation line item paid for.
type AllocationCategory string

const (
	CategoryBase    AllocationCategory = "base"
	CategoryPenalty AllocationCategory = "penalty"
	CategoryCredit  AllocationCategory = "credit"
)

// Allocation is one line item of an AccountingTransaction. The sum of a
// transaction's allocation amounts equals the transaction amount exactly.
type Allocation struct {
	ObligationID string             `json:"obligation_id,omitempty"`
	Target       string             `json:"target"`
	Category     AllocationCategory `json:"category"`
	Amount       int64              `json:"amount"`
}

// AccountingTransaction is created once per commit and immutable thereafter.
type AccountingTransaction struct {
	ID          string       `json:"id"`
	UnitID      string       `json:"unit_id"`
	Amount      int64        `json:"amount"`
	AsOf        Date         `json:"as_of"`
	Note        string       `json:"note"`
	Allocations []Allocation `json:"allocations"`
	CreatedAt   time.Time    `json:"created_at"`
}

// =============================================================================
// CREDIT LEDGER ENTRY
// =============================================================================

// CreditEntryType classifies a credit ledger delta.
type CreditEntryType string

const (
	CreditUsed       CreditEntryType = "used"       // balance consumed by a payment
	CreditAdded      CreditEntryType = "added"      // overpayment converted to credit
	CreditAdjustment CreditEntryType = "adjustment" // manual correction
)

// CreditEntry is one signed delta in a unit's append-only credit ledger.
type CreditEntry struct {
	Seq           int             `json:"seq"`
	Amount        int64           `json:"amount"` // signed minor units
	TransactionID string          `json:"transaction_id,omitempty"`
	Type          CreditEntryType `json:"type"`
	Timestamp     time.Time       `json:"timestamp"`
	Note          string          `json:"note,omitempty"`
}

// =============================================================================
// DISCREPANCY - Reconciler finding (ephemeral, recomputed on demand)
// =============================================================================

// DiscrepancyCause is the reconciler's best-effort classification.
type DiscrepancyCause string

const (
	// CauseUnderReports: transaction history shows more paid than the bill
	// record admits.
	CauseUnderReports DiscrepancyCause = "obligation_under_reports"

	// CauseOverReports: the bill record shows more paid than any transaction
	// explains.
	CauseOverReports DiscrepancyCause = "obligation_over_reports"

	// CauseNoTransactions: the record shows payments but no transaction
	// targets it at all.
	CauseNoTransactions DiscrepancyCause = "no_transactions_for_bill"
)

// Discrepancy reports one obligation whose stored paid fields disagree with
// the paid amount derivable from transaction allocations.
type Discrepancy struct {
	ObligationID                string           `json:"obligation_id"`
	ExpectedRemaining           int64            `json:"expected_remaining"`
	TransactionDerivedRemaining int64            `json:"transaction_derived_remaining"`
	Delta                       int64            `json:"delta"` // derived paid minus stored paid
	SuspectedCause              DiscrepancyCause `json:"suspected_cause"`
	RelatedTransactionIDs       []string         `json:"related_transaction_ids"`
}
