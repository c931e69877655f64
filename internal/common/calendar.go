package common

import (
	"fmt"
	"time"
)

// DateLayout is the canonical as-of date format used in keys and JSON.
const DateLayout = "2006-01-02"

// DateOnly truncates t to midnight UTC of its calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD date into a UTC midnight time.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// IsTradingDay reports whether t falls on a weekday.
// Exchange holidays are not modelled; a missing holiday price is covered by carry-forward.
func IsTradingDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// PrevTradingDay returns the trading day strictly before t.
func PrevTradingDay(t time.Time) time.Time {
	d := DateOnly(t).AddDate(0, 0, -1)
	for !IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// LastTradingDay returns t if it is a trading day, otherwise the trading day before it.
func LastTradingDay(t time.Time) time.Time {
	d := DateOnly(t)
	if IsTradingDay(d) {
		return d
	}
	return PrevTradingDay(d)
}

// TradingDaysBetween lists trading days in [from, to] in ascending order.
func TradingDaysBetween(from, to time.Time) []time.Time {
	from, to = DateOnly(from), DateOnly(to)
	var days []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}

// LookbackDates returns the candidate dates for carry-forward: date itself,
// then up to window prior trading days, newest first.
func LookbackDates(date time.Time, window int) []time.Time {
	d := DateOnly(date)
	out := make([]time.Time, 0, window+1)
	out = append(out, d)
	for i := 0; i < window; i++ {
		d = PrevTradingDay(d)
		out = append(out, d)
	}
	return out
}
