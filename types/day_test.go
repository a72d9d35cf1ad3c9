package types

import (
	"testing"
	"time"
)

func mustUnix(t *testing.T, s string) int64 {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts.Unix()
}

func TestUnixDayJST(t *testing.T) {
	d1 := UnixDayJST(mustUnix(t, "2024-01-01T00:00:00+09:00"))
	d2 := UnixDayJST(mustUnix(t, "2024-01-01T08:00:00+09:00"))
	d3 := UnixDayJST(mustUnix(t, "2024-01-01T23:59:59+09:00"))
	d4 := UnixDayJST(mustUnix(t, "2023-12-31T23:59:59+09:00"))

	if d1 != d2 || d1 != d3 {
		t.Errorf("same JST day grouped differently: %d %d %d", d1, d2, d3)
	}
	if d1 == d4 {
		t.Errorf("previous JST day grouped with next: %d == %d", d1, d4)
	}
	if d1-d4 != 1 {
		t.Errorf("expected consecutive days, got %d and %d", d4, d1)
	}
}

func TestUnixDayJSTBeforeEpoch(t *testing.T) {
	// 1970-01-01T08:59:59+09:00 is one second before the epoch.
	if got := UnixDayJST(-1); got != 0 {
		t.Errorf("UnixDayJST(-1) = %d, want 0", got)
	}
	if got := UnixDayJST(-9*3600 - 1); got != -1 {
		t.Errorf("UnixDayJST(-9h-1s) = %d, want -1", got)
	}
}

func TestParseDay(t *testing.T) {
	d, err := ParseDay("2024-02-14")
	if err != nil {
		t.Fatalf("ParseDay: %v", err)
	}
	if d.String() != "2024-02-14" {
		t.Errorf("String: got %s", d.String())
	}
	if d.Label() != "2024/2/14" {
		t.Errorf("Label: got %s", d.Label())
	}

	wantStart := mustUnix(t, "2024-02-14T00:00:00+09:00")
	if got := d.Start().Unix(); got != wantStart {
		t.Errorf("Start: got %d, want %d", got, wantStart)
	}
	if got := d.End().Unix() - d.Start().Unix(); got != 24*3600 {
		t.Errorf("End-Start: got %d seconds", got)
	}

	if _, err := ParseDay("2024/02/14"); err == nil {
		t.Error("expected error for malformed date")
	}
}

func TestParseDayToday(t *testing.T) {
	d, err := ParseDay("today")
	if err != nil {
		t.Fatalf("ParseDay(today): %v", err)
	}
	now := time.Now()
	if d != DayOf(now) && d != DayOf(now.Add(-time.Minute)) {
		t.Errorf("today resolved to %s, now is %s", d, now.In(JST))
	}
}

func TestDayAddDays(t *testing.T) {
	d := Day{Year: 2024, Month: time.March, Day: 1}
	if got := d.AddDays(-1).String(); got != "2024-02-29" {
		t.Errorf("AddDays(-1): got %s", got)
	}
}
