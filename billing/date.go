package billing

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// DATE - Day-granularity time point (billing never needs finer)
// =============================================================================

// Date is a calendar day in UTC. All due-date and as-of comparisons in the
// engine happen at day granularity.
type Date struct {
	t time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func Today() Date {
	return DateOf(time.Now().UTC())
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// Comparison
func (d Date) Before(other Date) bool        { return d.t.Before(other.t) }
func (d Date) After(other Date) bool         { return d.t.After(other.t) }
func (d Date) Equal(other Date) bool         { return d.t.Equal(other.t) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.After(other) }
func (d Date) AfterOrEqual(other Date) bool  { return !d.Before(other) }

// Arithmetic
func (d Date) AddDays(n int) Date   { return DateOf(d.t.AddDate(0, 0, n)) }
func (d Date) AddMonths(n int) Date { return DateOf(d.t.AddDate(0, n, 0)) }

// DaysSince returns the whole days elapsed from other to d (negative if d is
// earlier).
func (d Date) DaysSince(other Date) int {
	return int(d.t.Sub(other.t).Hours() / 24)
}

// Properties
func (d Date) Year() int         { return d.t.Year() }
func (d Date) Month() time.Month { return d.t.Month() }
func (d Date) Day() int          { return d.t.Day() }
func (d Date) IsZero() bool      { return d.t.IsZero() }

// SameMonth reports whether both dates fall in the same calendar month.
func (d Date) SameMonth(other Date) bool {
	return d.Year() == other.Year() && d.Month() == other.Month()
}

func (d Date) String() string { return d.t.Format("2006-01-02") }

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return json.Marshal("")
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// PERIOD KEY - "YYYY-MM" billing period identifier
// =============================================================================

// PeriodKey identifies one calendar billing month. The string form sorts
// chronologically, which the store's ordered prefix scans rely on.
type PeriodKey string

func PeriodOf(d Date) PeriodKey {
	return PeriodKey(fmt.Sprintf("%04d-%02d", d.Year(), int(d.Month())))
}

func NewPeriod(year int, month time.Month) PeriodKey {
	return PeriodKey(fmt.Sprintf("%04d-%02d", year, int(month)))
}

// ParsePeriod validates and returns a PeriodKey from its string form.
func ParsePeriod(s string) (PeriodKey, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return "", fmt.Errorf("invalid period %q: %w", s, err)
	}
	return PeriodOf(DateOf(t)), nil
}

// FirstDay returns the first calendar day of the period.
func (p PeriodKey) FirstDay() (Date, error) {
	t, err := time.Parse("2006-01", string(p))
	if err != nil {
		return Date{}, fmt.Errorf("invalid period %q: %w", p, err)
	}
	return DateOf(t), nil
}

// Next returns the following calendar month's period.
func (p PeriodKey) Next() (PeriodKey, error) {
	d, err := p.FirstDay()
	if err != nil {
		return "", err
	}
	return PeriodOf(d.AddMonths(1)), nil
}

// Prev returns the preceding calendar month's period.
func (p PeriodKey) Prev() (PeriodKey, error) {
	d, err := p.FirstDay()
	if err != nil {
		return "", err
	}
	return PeriodOf(d.AddMonths(-1)), nil
}

// =============================================================================
// FISCAL YEAR HELPERS
// =============================================================================

// FiscalYearOf returns the fiscal year containing d for a fiscal year that
// starts on the first day of startMonth. The fiscal year is named after its
// starting calendar year.
func FiscalYearOf(d Date, startMonth time.Month) int {
	if d.Month() >= startMonth {
		return d.Year()
	}
	return d.Year() - 1
}

// FiscalMonth returns the calendar (year, month) of slot index i (0-11) in
// fiscal year fy.
func FiscalMonth(fy int, startMonth time.Month, i int) (int, time.Month) {
	m := int(startMonth) + i
	y := fy
	for m > 12 {
		m -= 12
		y++
	}
	return y, time.Month(m)
}

// FiscalSlot returns the slot index (0-11) of period p within the fiscal year
// that starts on startMonth, and that fiscal year.
func FiscalSlot(p PeriodKey, startMonth time.Month) (fy int, slot int, err error) {
	d, err := p.FirstDay()
	if err != nil {
		return 0, 0, err
	}
	fy = FiscalYearOf(d, startMonth)
	slot = int(d.Month()) - int(startMonth)
	if slot < 0 {
		slot += 12
	}
	return fy, slot, nil
}
