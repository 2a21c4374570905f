package storage

import "time"

// DayOf returns the calendar date of t, read in t's own location, as
// midnight UTC. Summaries use it as their day key so every backend renders
// the same date.
func DayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayBounds returns the first and last instant of t's calendar day in loc.
func DayBounds(t time.Time, loc *time.Location) (start, end time.Time) {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := t.In(loc).Date()
	start = time.Date(y, m, d, 0, 0, 0, 0, loc)
	end = start.AddDate(0, 0, 1).Add(-time.Nanosecond)
	return start, end
}

// Yesterday returns the calendar day before now in loc, as a DayOf value,
// together with its bounds in loc.
func Yesterday(now time.Time, loc *time.Location) (day, start, end time.Time) {
	todayStart, _ := DayBounds(now, loc)
	start, end = DayBounds(todayStart.AddDate(0, 0, -1), loc)
	return DayOf(start), start, end
}
