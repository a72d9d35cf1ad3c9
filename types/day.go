// Package types provides common types used across rtp.
package types

import (
	"fmt"
	"strings"
	"time"
)

// JSTOffset is the fixed offset of the game's calendar (UTC+9).
// The offset is fixed; host-local time never affects day boundaries.
const JSTOffset = 9 * time.Hour

// JST is the fixed UTC+9 location used for every calendar computation.
var JST = time.FixedZone("JST", int(JSTOffset/time.Second))

const secondsPerDay = 24 * 60 * 60

// UnixDayJST returns the number of UTC+9 calendar days since the unix epoch
// for a unix timestamp in seconds: floor((t + 9h) / 24h).
func UnixDayJST(unixSec int64) int64 {
	shifted := unixSec + int64(JSTOffset/time.Second)
	day := shifted / secondsPerDay
	if shifted%secondsPerDay < 0 {
		day--
	}
	return day
}

// Day is a calendar date in UTC+9.
type Day struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDay parses "YYYY-MM-DD". The special value "today" resolves to the
// current UTC+9 date.
func ParseDay(s string) (Day, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "today") {
		return Today(), nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, JST)
	if err != nil {
		return Day{}, fmt.Errorf("types: parse day %q: %w", s, err)
	}
	return DayOf(t), nil
}

// Today returns the current UTC+9 date.
func Today() Day {
	return DayOf(time.Now())
}

// DayOf returns the UTC+9 date that contains t.
func DayOf(t time.Time) Day {
	y, m, d := t.In(JST).Date()
	return Day{Year: y, Month: m, Day: d}
}

// Start returns the first instant of the day in UTC+9.
func (d Day) Start() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, JST)
}

// End returns the first instant of the following day, i.e. the exclusive
// upper bound of the day.
func (d Day) End() time.Time {
	return d.Start().Add(24 * time.Hour)
}

// AddDays returns the date n days later (earlier for negative n).
func (d Day) AddDays(n int) Day {
	return DayOf(d.Start().AddDate(0, 0, n))
}

// String returns the date as "YYYY-MM-DD".
func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Label returns the date in the short "YYYY/M/D" form used in posted text.
func (d Day) Label() string {
	return fmt.Sprintf("%d/%d/%d", d.Year, int(d.Month), d.Day)
}

// IsZero reports whether d is the zero Day.
func (d Day) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}
