package market

import (
	"fmt"
	"time"
)

// Clock answers session-calendar questions in one fixed civil timezone,
// regardless of the host timezone. It has no side effects.
type Clock struct {
	loc         *time.Location
	startMinute int
	endMinute   int
	now         func() time.Time
}

// NewClock builds a Clock for the given IANA timezone and session window.
// Start and end are minutes past midnight; both boundaries count as open.
func NewClock(timezone string, startMinute, endMinute int) (*Clock, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load session timezone %q: %w", timezone, err)
	}
	return &Clock{loc: loc, startMinute: startMinute, endMinute: endMinute, now: time.Now}, nil
}

// Now returns the current instant in the session timezone.
func (c *Clock) Now() time.Time {
	return c.now().In(c.loc)
}

// SetNowFunc overrides the wall-clock source. Tests use it to pin the
// session clock to fixed instants.
func (c *Clock) SetNowFunc(now func() time.Time) {
	c.now = now
}

// IsOpen reports whether t falls inside the session window on a weekday.
// The window is a closed interval: a tick exactly at the opening or closing
// minute is in-session.
func (c *Clock) IsOpen(t time.Time) bool {
	local := t.In(c.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= c.startMinute && minutes <= c.endMinute
}

// TradingDay returns the civil date identifier for t in the session timezone.
func (c *Clock) TradingDay(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}

// MinuteBucket returns the epoch-minute index for the given epoch millis.
func MinuteBucket(epochMs int64) int64 {
	return epochMs / 60_000
}

// MsUntilNextMinute returns how many milliseconds remain until the next
// minute boundary after t. A tick exactly on a boundary waits a full minute.
func (c *Clock) MsUntilNextMinute(t time.Time) int64 {
	next := t.Truncate(time.Minute).Add(time.Minute)
	ms := next.Sub(t).Milliseconds()
	if ms <= 0 {
		ms = 60_000
	}
	return ms
}

// Location exposes the session timezone for local-time stamping of records.
func (c *Clock) Location() *time.Location {
	return c.loc
}
