// Package caltime provides a calendar date and a time-of-day value used for
// appointment keys. Appointments are booked on a (date, time) pair rather
// than an instant, so neither type carries a location.
package caltime

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var (
	ErrInvalidDate  = errors.New("date must be formatted as YYYY-MM-DD")
	ErrInvalidClock = errors.New("time must be formatted as HH:MM or HH:MM:SS")

	datePattern  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	clockPattern = regexp.MustCompile(`^(\d{2}):(\d{2})(?::(\d{2}))?$`)
)

type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate accepts exactly YYYY-MM-DD and rejects impossible days such as
// 2024-02-30.
func ParseDate(s string) (Date, error) {
	if !datePattern.MatchString(s) {
		return Date{}, ErrInvalidDate
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return DateOf(t), nil
}

func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) IsZero() bool {
	return d == Date{}
}

// In returns midnight at the start of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.In(time.UTC).AddDate(0, 0, n))
}

func (d Date) Before(o Date) bool {
	return d.In(time.UTC).Before(o.In(time.UTC))
}

// Clock is a time of day with second precision.
type Clock struct {
	Hour   int
	Minute int
	Second int
}

func ParseClock(s string) (Clock, error) {
	m := clockPattern.FindStringSubmatch(s)
	if m == nil {
		return Clock{}, ErrInvalidClock
	}
	var c Clock
	c.Hour, _ = strconv.Atoi(m[1])
	c.Minute, _ = strconv.Atoi(m[2])
	if m[3] != "" {
		c.Second, _ = strconv.Atoi(m[3])
	}
	if c.Hour > 23 || c.Minute > 59 || c.Second > 59 {
		return Clock{}, ErrInvalidClock
	}
	return c, nil
}

func ClockOf(t time.Time) Clock {
	h, m, s := t.Clock()
	return Clock{Hour: h, Minute: m, Second: s}
}

// String renders the canonical stored form HH:MM:SS.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", c.Hour, c.Minute, c.Second)
}

func (c Clock) HHMM() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// SameMinute reports whether c and o fall on the same hour and minute,
// ignoring seconds.
func (c Clock) SameMinute(o Clock) bool {
	return c.Hour == o.Hour && c.Minute == o.Minute
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
