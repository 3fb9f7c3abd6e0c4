package market

import (
	"testing"
	"time"
)

func newTestClock(t *testing.T) *Clock {
	t.Helper()
	// Regular US equity session, 09:30-16:00 New York.
	c, err := NewClock("America/New_York", 9*60+30, 16*60)
	if err != nil {
		t.Fatalf("NewClock failed: %v", err)
	}
	return c
}

func nyTime(t *testing.T, value string) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", value, loc)
	if err != nil {
		t.Fatalf("parse %q: %v", value, err)
	}
	return ts
}

func TestIsOpen(t *testing.T) {
	c := newTestClock(t)

	cases := []struct {
		name string
		at   string
		want bool
	}{
		{"opening minute", "2026-08-24 09:30:00", true},
		{"closing minute", "2026-08-24 16:00:59", true},
		{"one before open", "2026-08-24 09:29:59", false},
		{"one after close", "2026-08-24 16:01:00", false},
		{"midday", "2026-08-26 12:15:00", true},
		{"saturday midday", "2026-08-22 12:00:00", false},
		{"sunday open minute", "2026-08-23 09:30:00", false},
		{"weekday midnight", "2026-08-25 00:00:00", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.IsOpen(nyTime(t, tc.at)); got != tc.want {
				t.Errorf("IsOpen(%s) = %v, want %v", tc.at, got, tc.want)
			}
		})
	}
}

func TestIsOpenUsesSessionTimezone(t *testing.T) {
	c := newTestClock(t)

	// 13:30 UTC on a weekday is 09:30 in New York during DST.
	utc := time.Date(2026, 8, 24, 13, 30, 0, 0, time.UTC)
	if !c.IsOpen(utc) {
		t.Errorf("IsOpen should evaluate in the session timezone, not the input zone")
	}
}

func TestTradingDay(t *testing.T) {
	c := newTestClock(t)

	// 01:00 UTC is still the previous civil day in New York.
	utc := time.Date(2026, 8, 25, 1, 0, 0, 0, time.UTC)
	if got := c.TradingDay(utc); got != "2026-08-24" {
		t.Errorf("TradingDay = %q, want 2026-08-24", got)
	}
}

func TestMinuteBucket(t *testing.T) {
	cases := []struct {
		epochMs int64
		want    int64
	}{
		{0, 0},
		{59_999, 0},
		{60_000, 1},
		{1_756_000_000_000, 29_266_666},
	}
	for _, tc := range cases {
		if got := MinuteBucket(tc.epochMs); got != tc.want {
			t.Errorf("MinuteBucket(%d) = %d, want %d", tc.epochMs, got, tc.want)
		}
	}
}

func TestMsUntilNextMinute(t *testing.T) {
	c := newTestClock(t)

	at := nyTime(t, "2026-08-24 10:15:30")
	if got := c.MsUntilNextMinute(at); got != 30_000 {
		t.Errorf("MsUntilNextMinute(+30s) = %d, want 30000", got)
	}

	boundary := nyTime(t, "2026-08-24 10:16:00")
	if got := c.MsUntilNextMinute(boundary); got != 60_000 {
		t.Errorf("MsUntilNextMinute(boundary) = %d, want 60000", got)
	}
}

func TestSetNowFunc(t *testing.T) {
	c := newTestClock(t)
	fixed := nyTime(t, "2026-08-24 10:00:00")
	c.SetNowFunc(func() time.Time { return fixed })

	if got := c.Now(); !got.Equal(fixed) {
		t.Errorf("Now = %v, want %v", got, fixed)
	}
}
