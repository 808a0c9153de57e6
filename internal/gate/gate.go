// Package gate decides whether a job may act right now, based on local
// time-of-day windows and trading-day status.
package gate

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Clock is a local time-of-day with minute precision.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses a strict "HH:MM" string.
func ParseClock(value string) (Clock, error) {
	value = strings.TrimSpace(value)
	hh, mm, ok := strings.Cut(value, ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return Clock{}, fmt.Errorf("time %q: want HH:MM", value)
	}

	hour, err := strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return Clock{}, fmt.Errorf("time %q: hour out of range", value)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return Clock{}, fmt.Errorf("time %q: minute out of range", value)
	}

	return Clock{Hour: hour, Minute: minute}, nil
}

// MustClock is ParseClock for literals known to be valid.
func MustClock(value string) Clock {
	c, err := ParseClock(value)
	if err != nil {
		panic(err)
	}
	return c
}

// ClockOf extracts the time-of-day of t in t's own location.
func ClockOf(t time.Time) Clock {
	return Clock{Hour: t.Hour(), Minute: t.Minute()}
}

func (c Clock) minutes() int {
	return c.Hour*60 + c.Minute
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// WithinWindow reports whether now falls inside [start, end]. When start is
// after end the interval wraps midnight.
func WithinWindow(start, end, now Clock) bool {
	s, e, n := start.minutes(), end.minutes(), now.minutes()
	if s <= e {
		return s <= n && n <= e
	}
	return n >= s || n <= e
}

// Window is a configured interval. The zero value is disabled.
type Window struct {
	Start Clock
	End   Clock
	set   bool
}

// NewWindow builds an enabled window.
func NewWindow(start, end Clock) Window {
	return Window{Start: start, End: end, set: true}
}

// ParseWindow builds a window from two "HH:MM" strings; two empty strings
// yield a disabled window.
func ParseWindow(start, end string) (Window, error) {
	if strings.TrimSpace(start) == "" && strings.TrimSpace(end) == "" {
		return Window{}, nil
	}
	s, err := ParseClock(start)
	if err != nil {
		return Window{}, fmt.Errorf("window start: %w", err)
	}
	e, err := ParseClock(end)
	if err != nil {
		return Window{}, fmt.Errorf("window end: %w", err)
	}
	return NewWindow(s, e), nil
}

// Enabled reports whether the window was configured.
func (w Window) Enabled() bool {
	return w.set
}

// Contains reports whether t's local time-of-day is inside the window.
// A disabled window contains nothing.
func (w Window) Contains(t time.Time) bool {
	if !w.set {
		return false
	}
	return WithinWindow(w.Start, w.End, ClockOf(t))
}

func (w Window) String() string {
	if !w.set {
		return "disabled"
	}
	return w.Start.String() + "-" + w.End.String()
}

// Holidays is a set of local calendar dates on which the exchange is closed.
type Holidays map[string]struct{}

// ParseHolidays parses "YYYY-MM-DD" dates; any malformed entry is an error.
func ParseHolidays(values []string) (Holidays, error) {
	set := make(Holidays, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		d, err := time.Parse(dateLayout, v)
		if err != nil {
			return nil, fmt.Errorf("holiday %q: %w", v, err)
		}
		set[d.Format(dateLayout)] = struct{}{}
	}
	return set, nil
}

// Contains reports whether t's local calendar date is a holiday.
func (h Holidays) Contains(t time.Time) bool {
	_, ok := h[t.Format(dateLayout)]
	return ok
}

// IsTradingDay reports whether t falls on Monday-Friday and is not a holiday.
func IsTradingDay(t time.Time, holidays Holidays) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !holidays.Contains(t)
}
