// Package timeutil holds the calendar arithmetic shared by the scheduled
// jobs. All comparisons are done on civil dates in the scheduler's location
// so that time of day never changes which day a transaction belongs to.
package timeutil

import (
	"time"

	"cloud.google.com/go/civil"
)

// DateOf returns the calendar date of t in loc.
func DateOf(t time.Time, loc *time.Location) civil.Date {
	return civil.DateOf(t.In(loc))
}

// StartOfDay returns midnight of d in loc.
func StartOfDay(d civil.Date, loc *time.Location) time.Time {
	return d.In(loc)
}

// EndOfDay returns the last representable instant of d in loc.
func EndOfDay(d civil.Date, loc *time.Location) time.Time {
	return d.AddDays(1).In(loc).Add(-time.Nanosecond)
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// MonthDay returns day of the given month, clamped to the month's last day
// so that a rule on the 31st lands on the 30th (or 28th/29th) in shorter
// months instead of spilling into the next one.
func MonthDay(year int, month time.Month, day int) civil.Date {
	if day < 1 {
		day = 1
	}
	if last := DaysIn(year, month); day > last {
		day = last
	}
	return civil.Date{Year: year, Month: month, Day: day}
}

// NextMonth returns the year and month following the given one.
func NextMonth(year int, month time.Month) (int, time.Month) {
	if month == time.December {
		return year + 1, time.January
	}
	return year, month + 1
}

// DayKey formats d as YYYY-MM-DD for use in deterministic ids.
func DayKey(d civil.Date) string {
	return d.String()
}
