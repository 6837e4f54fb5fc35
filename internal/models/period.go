package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Period is the time bucket a ReadingSet belongs to: a calendar day, or an
// ISO (year, week) pair with its Monday..Sunday range.
type Period struct {
	Kind  Granularity `json:"kind"`
	Year  int         `json:"year"`
	Week  int         `json:"week,omitempty"`
	Start time.Time   `json:"start"`
	End   time.Time   `json:"end"`
}

// NewWeekPeriod builds the period for ISO week `week` of `year`
func NewWeekPeriod(year, week int) (Period, error) {
	if year < 2000 || year > 2100 {
		return Period{}, &ValidationError{Field: "year", Value: strconv.Itoa(year), Message: "year out of range"}
	}
	if week < 1 || week > WeeksInYear(year) {
		return Period{}, &ValidationError{
			Field:   "week",
			Value:   strconv.Itoa(week),
			Message: fmt.Sprintf("week must be between 1 and %d", WeeksInYear(year)),
		}
	}

	start := isoWeekStart(year).AddDate(0, 0, (week-1)*7)
	return Period{
		Kind:  GranularityWeek,
		Year:  year,
		Week:  week,
		Start: start,
		End:   start.AddDate(0, 0, 6),
	}, nil
}

// NewDayPeriod builds the period for the calendar day of t
func NewDayPeriod(t time.Time) Period {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return Period{
		Kind:  GranularityDay,
		Year:  day.Year(),
		Start: day,
		End:   day,
	}
}

// ParsePeriodKey parses "2025-W05" for weekly catalogs and "2025-03-14" for
// daily ones.
func ParsePeriodKey(kind Granularity, key string) (Period, error) {
	key = strings.TrimSpace(key)
	switch kind {
	case GranularityWeek:
		parts := strings.SplitN(strings.ToUpper(key), "-W", 2)
		if len(parts) != 2 {
			return Period{}, &ValidationError{Field: "period", Value: key, Message: "expected YYYY-Www"}
		}
		year, err := strconv.Atoi(parts[0])
		if err != nil {
			return Period{}, &ValidationError{Field: "period", Value: key, Message: "invalid year"}
		}
		week, err := strconv.Atoi(parts[1])
		if err != nil {
			return Period{}, &ValidationError{Field: "period", Value: key, Message: "invalid week"}
		}
		return NewWeekPeriod(year, week)
	case GranularityDay:
		day, err := time.Parse(dateLayout, key)
		if err != nil {
			return Period{}, &ValidationError{Field: "period", Value: key, Message: "expected YYYY-MM-DD"}
		}
		return NewDayPeriod(day), nil
	default:
		return Period{}, &ValidationError{Field: "granularity", Value: string(kind), Message: "unknown granularity"}
	}
}

// Key is the natural identifier of the period within its dataset
func (p Period) Key() string {
	if p.Kind == GranularityWeek {
		return fmt.Sprintf("%04d-W%02d", p.Year, p.Week)
	}
	return p.Start.Format(dateLayout)
}

// Previous returns the bucket diffed against. Week 1 has no previous week:
// weekly data lives in year-scoped datasets.
func (p Period) Previous() (Period, bool) {
	switch p.Kind {
	case GranularityWeek:
		if p.Week <= 1 {
			return Period{}, false
		}
		prev, err := NewWeekPeriod(p.Year, p.Week-1)
		if err != nil {
			return Period{}, false
		}
		return prev, true
	case GranularityDay:
		return NewDayPeriod(p.Start.AddDate(0, 0, -1)), true
	default:
		return Period{}, false
	}
}

// Label is the human readable form, e.g. "S5 2025" or "14/03/2025"
func (p Period) Label() string {
	if p.Kind == GranularityWeek {
		return fmt.Sprintf("S%d %d", p.Week, p.Year)
	}
	return p.Start.Format("02/01/2006")
}

// StartDate and EndDate are the storage representations of the range
func (p Period) StartDate() string { return p.Start.Format(dateLayout) }
func (p Period) EndDate() string   { return p.End.Format(dateLayout) }

// WeeksInYear returns 52 or 53
func WeeksInYear(year int) int {
	_, week := time.Date(year, 12, 28, 0, 0, 0, 0, time.UTC).ISOWeek()
	return week
}

// isoWeekStart returns the Monday of ISO week 1 of year
func isoWeekStart(year int) time.Time {
	jan4 := time.Date(year, 1, 4, 0, 0, 0, 0, time.UTC)
	offset := (int(jan4.Weekday()) + 6) % 7
	return jan4.AddDate(0, 0, -offset)
}
