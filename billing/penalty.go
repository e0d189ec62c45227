/*
penalty.go - Late-penalty accrual

PURPOSE:
  Computes the penalty accrued on an obligation as of a given date. The
  computation is a pure function of (original base, due date, as-of date,
  penalty config): recomputing with the same inputs always yields the same
  value, so it is safe to call repeatedly and ahead of a backdated payment.

ACCRUAL RULE:
  Nothing accrues within the first grace window after the due date. Past
  that, each whole elapsed grace window adds rate * originalBase:

    daysPast <= graceDays            -> 0
    otherwise                        -> floor(daysPast / graceDays) * rate * base

  With a 30-day grace window and a 10% monthly rate, a bill 3 whole windows
  overdue carries 3 * 10% * base.

NUMERIC SEMANTICS:
  The rate is a decimal config value; the per-window charge is truncated to
  whole minor units before multiplying by the window count, so the result is
  an exact integer and identical across recomputations.
*/
package billing

import (
	"github.com/shopspring/decimal"
)

// ComputePenalty returns the penalty in minor units accrued on an obligation
// with the given original base and due date, as of asOf.
//
// The config is validated on every call: a missing rate or grace window is a
// ConfigError, never a silent zero.
func ComputePenalty(originalBase int64, dueDate, asOf Date, cfg PenaltyConfig, module ModuleType) (int64, error) {
	if err := cfg.Validate(module); err != nil {
		return 0, err
	}
	if originalBase <= 0 || dueDate.IsZero() || asOf.IsZero() {
		return 0, nil
	}

	daysPast := asOf.DaysSince(dueDate)
	if daysPast <= cfg.GraceDays {
		return 0, nil
	}

	windows := int64(daysPast / cfg.GraceDays)
	perWindow := decimal.NewFromInt(originalBase).Mul(cfg.Rate).IntPart()
	return perWindow * windows, nil
}
