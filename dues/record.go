/*
Package dues implements the recurring-dues billing module.

PURPOSE:
  Recurring dues are billed on a fiscal-year record with 12 monthly slots.
  Each slot carries the billed base charge, the paid fields, and a due
  date; late penalty is never stored - it is recomputed from the charge,
  the due date, and the elapsed grace windows whenever the slot is read.

  The package adapts this native record shape into the engine's normalized
  Obligation and implements billing.BillSource, so the engine never touches
  the 12-slot layout directly.

KEY LAYOUT:
  dues/<unit>/<fiscal year>

LOOKBACK FAST PATH:
  A record whose PriorClosed flag is set promises that every earlier fiscal
  year is fully settled, letting the backward scan stop early. The flag is
  an optimization hint only: it changes how many records are read, never
  which obligations are returned, and the reconciler deliberately ignores
  it (a manually mis-set flag must not be able to hide drift).
*/
package dues

import (
	"fmt"
	"time"

	"github.com/strata/billing-engine/billing"
)

// SlotsPerYear is the number of monthly charge slots on one record.
const SlotsPerYear = 12

// Slot is one month's charge on a fiscal-year record.
type Slot struct {
	Billed      int64        `json:"billed"`
	BasePaid    int64        `json:"base_paid"`
	PenaltyPaid int64        `json:"penalty_paid"`
	DueDate     billing.Date `json:"due_date"`
}

// Record is the native stored shape of one unit's dues for one fiscal year.
type Record struct {
	UnitID     string              `json:"unit_id"`
	FiscalYear int                 `json:"fiscal_year"`
	Slots      [SlotsPerYear]Slot  `json:"slots"`

	// PriorClosed promises every earlier fiscal year is fully settled.
	PriorClosed bool `json:"prior_closed"`
}

// Key is the store key for a unit's fiscal-year record.
func Key(unitID string, fiscalYear int) string {
	return fmt.Sprintf("dues/%s/%04d", unitID, fiscalYear)
}

// NewRecord bills a full fiscal year of monthly charges. Each slot is due on
// dueDay of its calendar month.
func NewRecord(unitID string, fiscalYear int, monthlyCharge int64, dueDay int, startMonth time.Month) *Record {
	if dueDay < 1 || dueDay > 28 {
		dueDay = 1
	}
	rec := &Record{UnitID: unitID, FiscalYear: fiscalYear}
	for i := 0; i < SlotsPerYear; i++ {
		y, m := billing.FiscalMonth(fiscalYear, startMonth, i)
		rec.Slots[i] = Slot{
			Billed:  monthlyCharge,
			DueDate: billing.NewDate(y, m, dueDay),
		}
	}
	return rec
}

// BaseFullyPaid reports whether every billed slot's base charge is covered.
func (r *Record) BaseFullyPaid() bool {
	for _, s := range r.Slots {
		if s.BasePaid < s.Billed {
			return false
		}
	}
	return true
}
