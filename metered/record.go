/*
Package metered implements the metered-consumption billing module.

PURPOSE:
  Metered consumption (water, gas, shared electricity) is billed per
  period: one record per unit per calendar month, created when the meter
  reading for that period is posted. The billed amount is consumption times
  tariff, fixed at reading time; penalty is recomputed on read, exactly as
  for recurring dues.

  A metered bill is payable the moment its record exists - there is no
  "future" metered obligation.

KEY LAYOUT:
  meter/<unit>/<YYYY-MM>

  Period keys sort chronologically, so one ordered prefix scan returns a
  unit's full metering history oldest first.
*/
package metered

import (
	"fmt"

	"github.com/strata/billing-engine/billing"
)

// Record is the native stored shape of one unit's consumption bill for one
// period.
type Record struct {
	UnitID string            `json:"unit_id"`
	Period billing.PeriodKey `json:"period"`

	// Consumption in meter units and the tariff in minor currency units per
	// meter unit. Billed = Consumption * Tariff, fixed when the reading is
	// posted.
	Consumption int64 `json:"consumption"`
	Tariff      int64 `json:"tariff"`
	Billed      int64 `json:"billed"`

	BasePaid    int64        `json:"base_paid"`
	PenaltyPaid int64        `json:"penalty_paid"`
	DueDate     billing.Date `json:"due_date"`

	// PriorClosed promises every earlier period is fully settled.
	PriorClosed bool `json:"prior_closed"`
}

// Key is the store key for a unit's period record.
func Key(unitID string, period billing.PeriodKey) string {
	return fmt.Sprintf("meter/%s/%s", unitID, period)
}

// NewRecord bills one period from a posted meter reading.
func NewRecord(unitID string, period billing.PeriodKey, consumption, tariff int64, dueDate billing.Date) *Record {
	return &Record{
		UnitID:      unitID,
		Period:      period,
		Consumption: consumption,
		Tariff:      tariff,
		Billed:      consumption * tariff,
		DueDate:     dueDate,
	}
}

// BaseFullyPaid reports whether the billed amount is covered.
func (r *Record) BaseFullyPaid() bool {
	return r.BasePaid >= r.Billed
}
