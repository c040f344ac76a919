package core

import (
	"fmt"
	"time"
)

// Period identifies a calendar month. Month is 1-12.
type Period struct {
	Year  int
	Month int
}

// NewPeriod normalises out-of-range months, so NewPeriod(2024, 13) is 2025-01.
func NewPeriod(year, month int) Period {
	t := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return Period{Year: t.Year(), Month: int(t.Month())}
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: int(t.Month())}
}

// ParsePeriod parses "YYYY-MM".
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("parse period %q: %w", s, err)
	}
	return PeriodOf(t), nil
}

func (p Period) Validate() error {
	if p.Month < 1 || p.Month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

func (p Period) Next() Period {
	return NewPeriod(p.Year, p.Month+1)
}

func (p Period) Prev() Period {
	return NewPeriod(p.Year, p.Month-1)
}

// DaysIn returns the number of days in the month.
func (p Period) DaysIn() int {
	return time.Date(p.Year, time.Month(p.Month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ClampDay limits day to the last valid day of the month. Days below 1 become 1.
func (p Period) ClampDay(day int) int {
	if day < 1 {
		return 1
	}
	if last := p.DaysIn(); day > last {
		return last
	}
	return day
}

// Date returns the date for day in this month, clamped to the month length.
func (p Period) Date(day int) Date {
	return NewDate(p.Year, p.Month, p.ClampDay(day))
}

func (p Period) Contains(d Date) bool {
	return d.Year() == p.Year && d.Month() == p.Month
}

func (p Period) Before(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Month < o.Month
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// ResolveInvoicePeriod returns the billing cycle a card purchase belongs to.
// Purchases after the closing day roll into the following month's invoice.
// closingDay is not validated.
func ResolveInvoicePeriod(date Date, closingDay int) Period {
	own := date.Period()
	if date.Day() > closingDay {
		return own.Next()
	}
	return own
}
