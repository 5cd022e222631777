// Package dates builds the trailing calendar-date windows used by the
// aggregator. All dates resolve in a fixed UTC+9 zone so the "today"
// boundary rolls over at that zone's midnight regardless of server locale.
package dates

import "time"

// Layout is the canonical date format for result and analytics rows.
const Layout = "2006-01-02"

// Zone is the fixed offset every window is resolved in.
var Zone = time.FixedZone("UTC+9", 9*60*60)

// Window returns n date strings covering [today-n+1, today] in Zone,
// chronological order. n <= 0 yields an empty slice.
func Window(today time.Time, n int) []string {
	if n <= 0 {
		return []string{}
	}
	day := today.In(Zone)
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, Zone)

	out := make([]string, 0, n)
	for i := n - 1; i >= 0; i-- {
		out = append(out, day.AddDate(0, 0, -i).Format(Layout))
	}
	return out
}

// WindowNow is Window anchored at the current instant.
func WindowNow(n int) []string {
	return Window(time.Now(), n)
}

// Reversed returns a most-recent-first copy of a window.
func Reversed(window []string) []string {
	out := make([]string, len(window))
	for i, d := range window {
		out[len(window)-1-i] = d
	}
	return out
}

// Today returns the current date string in Zone.
func Today() string {
	return time.Now().In(Zone).Format(Layout)
}
