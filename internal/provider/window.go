package provider

import "time"

// Window returns the inclusive date range a channel schedule is fetched for:
// from the day before ref up to the next week boundary (Sunday). When ref is
// itself a Sunday the window runs to the following Sunday rather than
// collapsing.
func Window(ref time.Time) (from, to time.Time) {
	ref = dateOf(ref)
	return ref.AddDate(0, 0, -1), LastDate(ref)
}

// LastDate is the final day of the fetch window for ref.
func LastDate(ref time.Time) time.Time {
	ref = dateOf(ref)
	// Monday is day 0 of the week.
	weekday := (int(ref.Weekday()) + 6) % 7
	days := 6 - weekday
	if days <= 0 {
		days = 7
	}
	return ref.AddDate(0, 0, days)
}

// Days enumerates every date from..to inclusive.
func Days(from, to time.Time) []time.Time {
	var days []time.Time
	for d := dateOf(from); !d.After(dateOf(to)); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
