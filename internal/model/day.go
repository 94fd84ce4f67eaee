package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

// DayLayout is the canonical calendar-day format.
const DayLayout = "2006-01-02"

// ErrInvalidDay is returned for any day string that is not YYYY-MM-DD.
var ErrInvalidDay = errors.New("model: invalid calendar day")

// Exchange is the timezone that maps instants onto trading days.
var Exchange = mustLoad("America/New_York")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("model: load %s: %v", name, err))
	}
	return loc
}

// Day is an exchange-calendar day in YYYY-MM-DD form. Valid days compare
// chronologically with plain string comparison.
type Day string

// ParseDay validates s and returns it as a Day.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(DayLayout, strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDay, s)
	}
	return Day(t.Format(DayLayout)), nil
}

// MustDay is like ParseDay but panics. Intended for tests and constants.
func MustDay(s string) Day {
	d, err := ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DayOf maps an instant onto its exchange day.
func DayOf(t time.Time) Day {
	return Day(t.In(Exchange).Format(DayLayout))
}

// Valid reports whether d parses as a calendar day.
func (d Day) Valid() bool {
	_, err := time.Parse(DayLayout, string(d))
	return err == nil
}

// Start returns midnight of d in the exchange timezone.
func (d Day) Start() time.Time {
	t, _ := time.ParseInLocation(DayLayout, string(d), Exchange)
	return t
}

// End returns the last representable instant of d in the exchange timezone.
func (d Day) End() time.Time {
	return d.AddDays(1).Start().Add(-time.Nanosecond)
}

// AddDays returns the day n calendar days after d.
func (d Day) AddDays(n int) Day {
	t, _ := time.Parse(DayLayout, string(d))
	return Day(t.AddDate(0, 0, n).Format(DayLayout))
}

// Weekday returns the day of the week.
func (d Day) Weekday() time.Weekday {
	t, _ := time.Parse(DayLayout, string(d))
	return t.Weekday()
}

func (d Day) Before(o Day) bool { return d < o }
func (d Day) After(o Day) bool  { return d > o }
func (d Day) String() string    { return string(d) }
