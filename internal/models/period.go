package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Period is one calendar month used to bound a portal query
type Period struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// NewPeriod returns the period containing t
func NewPeriod(t time.Time) Period {
	return Period{Year: t.Year(), Month: int(t.Month())}
}

// ParsePeriod parses "MM-YYYY"
func ParsePeriod(s string) (Period, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 {
		return Period{}, fmt.Errorf("invalid period %q: expected MM-YYYY", s)
	}
	month, err := strconv.Atoi(parts[0])
	if err != nil {
		return Period{}, fmt.Errorf("invalid period month %q: %w", parts[0], err)
	}
	year, err := strconv.Atoi(parts[1])
	if err != nil {
		return Period{}, fmt.Errorf("invalid period year %q: %w", parts[1], err)
	}
	p := Period{Year: year, Month: month}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// Validate checks that the period is a real month
func (p Period) Validate() error {
	if p.Month < 1 || p.Month > 12 {
		return errors.New("period month must be between 1 and 12")
	}
	if p.Year < 1900 || p.Year > 9999 {
		return errors.New("period year must be between 1900 and 9999")
	}
	return nil
}

// Start returns the first day of the period
func (p Period) Start() time.Time {
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
}

// End returns the month reached 31 days after the start, truncated to
// month granularity. For every month this is the following month.
func (p Period) End() Period {
	return NewPeriod(p.Start().AddDate(0, 0, 31))
}

// Next returns the following calendar month
func (p Period) Next() Period {
	return NewPeriod(p.Start().AddDate(0, 1, 0))
}

// Before reports whether p is earlier than o
func (p Period) Before(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Month < o.Month
}

// YearString returns the zero-padded year
func (p Period) YearString() string {
	return fmt.Sprintf("%04d", p.Year)
}

// MonthString returns the zero-padded month
func (p Period) MonthString() string {
	return fmt.Sprintf("%02d", p.Month)
}

// String returns "MM-YYYY"
func (p Period) String() string {
	return p.MonthString() + "-" + p.YearString()
}

// PeriodRange returns every month from start to end, both included.
// It returns nil when end is before start.
func PeriodRange(start, end Period) []Period {
	var periods []Period
	for p := start; !end.Before(p); p = p.Next() {
		periods = append(periods, p)
	}
	return periods
}

// DailyPeriods returns the periods a scheduled run on day now should
// fetch: the current month, and on the first day of a month also the
// previous one so its last day is completed.
func DailyPeriods(now time.Time) []Period {
	current := NewPeriod(now)
	if now.Day() != 1 {
		return []Period{current}
	}
	previous := NewPeriod(now.AddDate(0, 0, -1))
	return []Period{previous, current}
}
