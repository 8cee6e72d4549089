package export

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const dayLayout = "2006-01-02"

// ErrInvalidDay is returned for day selectors that are neither a keyword nor
// a YYYY-MM-DD date.
var ErrInvalidDay = errors.New("invalid day")

// Day is a calendar day in the reporting timezone.
type Day struct {
	Year  int
	Month time.Month
	Day   int
}

// DayOf returns the calendar day of t in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	y, m, d := t.In(loc).Date()
	return Day{Year: y, Month: m, Day: d}
}

// ParseDay accepts "today", "yesterday" or YYYY-MM-DD, relative to now in loc.
func ParseDay(s string, now time.Time, loc *time.Location) (Day, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "today":
		return DayOf(now, loc), nil
	case "yesterday":
		return DayOf(now, loc).AddDays(-1), nil
	}
	t, err := time.ParseInLocation(dayLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return Day{}, fmt.Errorf("%w %q: want today, yesterday or YYYY-MM-DD", ErrInvalidDay, s)
	}
	return DayOf(t, loc), nil
}

func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Start is local midnight of d.
func (d Day) Start(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// End is local midnight of the following day.
func (d Day) End(loc *time.Location) time.Time {
	return d.AddDays(1).Start(loc)
}

func (d Day) AddDays(n int) Day {
	return DayOf(time.Date(d.Year, d.Month, d.Day+n, 12, 0, 0, 0, time.UTC), time.UTC)
}

func (d Day) Before(o Day) bool { return d.String() < o.String() }
