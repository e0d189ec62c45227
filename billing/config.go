package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MODULE CONFIG - Per-module billing configuration
// =============================================================================

// Frequency is how often a module bills.
type Frequency string

const (
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
)

// PenaltyConfig drives late-penalty accrual. Both fields are required:
// a missing rate or grace window fails fast rather than silently skewing
// money.
type PenaltyConfig struct {
	// Rate is the penalty fraction of the original base charged per elapsed
	// grace window (e.g. 0.10 for 10%).
	Rate decimal.Decimal

	// GraceDays is the length of the grace window in days. Penalty is zero
	// within the first window after the due date.
	GraceDays int
}

// Validate rejects configs missing rate or grace days.
func (c PenaltyConfig) Validate(module ModuleType) error {
	if c.Rate.IsZero() || c.Rate.IsNegative() {
		return &ConfigError{Module: module, Field: "penalty rate"}
	}
	if c.GraceDays <= 0 {
		return &ConfigError{Module: module, Field: "grace days"}
	}
	return nil
}

// ModuleConfig is the full per-module billing configuration supplied by the
// tenant config provider.
type ModuleConfig struct {
	Penalty              PenaltyConfig
	FiscalYearStartMonth time.Month
	BillingFrequency     Frequency

	// LookAheadDays bounds the near-future window for prepayable recurring
	// dues (priority class 5). Irrelevant to metered consumption.
	LookAheadDays int

	// MaxLookbackYears bounds the slow-path backward scan through dues
	// history when no prior-period-closed flag is present.
	MaxLookbackYears int

	// MaxLookbackPeriods bounds the slow-path backward scan through metered
	// consumption history.
	MaxLookbackPeriods int
}

// Validate applies defaults for the structural fields and fails fast on the
// financial ones.
func (c *ModuleConfig) Validate(module ModuleType) error {
	if err := c.Penalty.Validate(module); err != nil {
		return err
	}
	if c.FiscalYearStartMonth < time.January || c.FiscalYearStartMonth > time.December {
		c.FiscalYearStartMonth = time.January
	}
	if c.BillingFrequency == "" {
		c.BillingFrequency = FrequencyMonthly
	}
	if c.LookAheadDays <= 0 {
		c.LookAheadDays = 60
	}
	if c.MaxLookbackYears <= 0 {
		c.MaxLookbackYears = 3
	}
	if c.MaxLookbackPeriods <= 0 {
		c.MaxLookbackPeriods = 24
	}
	return nil
}
