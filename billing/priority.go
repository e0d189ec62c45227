/*
priority.go - Priority classification and allocation ordering

PURPOSE:
  Assigns every obligation an integer priority class (lower = paid first)
  using the fixed business ordering, then produces the total order the
  distributor consumes.

CLASSES:
  1  Past-due recurring dues
  2  Past-due metered consumption
  3  Current-period recurring dues
  4  Current-period metered consumption (a metered bill is never "future":
     if the record exists it is payable)
  5  Near-future recurring dues inside the look-ahead buffer (prepaid dues
     are allowed)
  0  Excluded from this payment run (dues beyond the look-ahead buffer)

Within a class the order is due date ascending, ties broken by obligation id
so the ordering is total and deterministic.
*/
package billing

import "sort"

// Priority class constants. Lower classes are funded first; classExcluded
// obligations do not participate in the run at all.
const (
	classExcluded = 0

	ClassPastDueDues    = 1
	ClassPastDueMetered = 2
	ClassCurrentDues    = 3
	ClassCurrentMetered = 4
	ClassNearFutureDues = 5
)

// ClassifyObligation returns the priority class for one obligation as of a
// date, with lookAheadDays bounding the prepayable-dues window.
func ClassifyObligation(o Obligation, asOf Date, lookAheadDays int) int {
	pastDue := o.DueDate.Before(asOf)

	switch o.Module {
	case ModuleMeteredConsumption:
		if pastDue {
			return ClassPastDueMetered
		}
		return ClassCurrentMetered

	case ModuleRecurringDues:
		if pastDue {
			return ClassPastDueDues
		}
		if o.DueDate.SameMonth(asOf) {
			return ClassCurrentDues
		}
		if o.DueDate.BeforeOrEqual(asOf.AddDays(lookAheadDays)) {
			return ClassNearFutureDues
		}
		return classExcluded

	default:
		return classExcluded
	}
}

// ClassifyAndSort assigns priority classes and returns the obligations that
// participate in this payment run, in allocation order. Excluded obligations
// are dropped entirely. The input slice is not modified.
func ClassifyAndSort(obligations []Obligation, asOf Date, lookAheadDays int) []Obligation {
	ordered := make([]Obligation, 0, len(obligations))
	for _, o := range obligations {
		o.PriorityClass = ClassifyObligation(o, asOf, lookAheadDays)
		if o.PriorityClass == classExcluded {
			continue
		}
		ordered = append(ordered, o)
	}

	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.PriorityClass != b.PriorityClass {
			return a.PriorityClass < b.PriorityClass
		}
		if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		return a.ID < b.ID
	})
	return ordered
}
