package timeutil

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
)

func TestMonthDay_Clamps(t *testing.T) {
	tests := []struct {
		year  int
		month time.Month
		day   int
		want  civil.Date
	}{
		{2025, time.January, 31, civil.Date{Year: 2025, Month: time.January, Day: 31}},
		{2025, time.February, 31, civil.Date{Year: 2025, Month: time.February, Day: 28}},
		{2024, time.February, 30, civil.Date{Year: 2024, Month: time.February, Day: 29}},
		{2025, time.April, 31, civil.Date{Year: 2025, Month: time.April, Day: 30}},
		{2025, time.May, 0, civil.Date{Year: 2025, Month: time.May, Day: 1}},
	}

	for _, tt := range tests {
		got := MonthDay(tt.year, tt.month, tt.day)
		if got != tt.want {
			t.Errorf("MonthDay(%d, %s, %d) = %s, want %s", tt.year, tt.month, tt.day, got, tt.want)
		}
	}
}

func TestNextMonth(t *testing.T) {
	if y, m := NextMonth(2025, time.December); y != 2026 || m != time.January {
		t.Errorf("NextMonth(Dec 2025) = %d-%s", y, m)
	}
	if y, m := NextMonth(2025, time.March); y != 2025 || m != time.April {
		t.Errorf("NextMonth(Mar 2025) = %d-%s", y, m)
	}
}

func TestDayBounds(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	// 22:30 UTC on the 9th is already the 10th in UTC+3.
	now := time.Date(2025, 3, 9, 22, 30, 0, 0, time.UTC)

	today := DateOf(now, loc)
	if today != (civil.Date{Year: 2025, Month: time.March, Day: 10}) {
		t.Fatalf("DateOf = %s, want 2025-03-10", today)
	}

	start := StartOfDay(today, loc)
	if !start.Equal(time.Date(2025, 3, 10, 0, 0, 0, 0, loc)) {
		t.Errorf("StartOfDay = %s", start)
	}

	end := EndOfDay(today.AddDays(1), loc)
	if !end.Before(time.Date(2025, 3, 12, 0, 0, 0, 0, loc)) || end.Before(time.Date(2025, 3, 11, 23, 59, 59, 0, loc)) {
		t.Errorf("EndOfDay(tomorrow) = %s", end)
	}

	if DayKey(today) != "2025-03-10" {
		t.Errorf("DayKey = %s", DayKey(today))
	}
}
