package tracker

import "time"

// DayWindow returns the inclusive bounds of the calendar day of t, in the location of t:
// local midnight and 23:59:59.999.
func DayWindow(t time.Time) (start, end time.Time) {
	y, m, d := t.Date()
	loc := t.Location()
	start = time.Date(y, m, d, 0, 0, 0, 0, loc)
	end = time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), loc)
	return start, end
}
