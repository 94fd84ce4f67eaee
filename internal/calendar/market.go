package calendar

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/atmx/pnl-engine/internal/model"
)

var (
	ErrInvalidRange = errors.New("calendar: invalid day range")
	ErrInvalidClock = errors.New("calendar: invalid clock time")
)

// maxRangeDays bounds Range so a typo cannot request centuries of records.
const maxRangeDays = 3660

// MarketCalendar answers whether the exchange traded on a day.
type MarketCalendar interface {
	IsTradingDay(day model.Day) bool
}

// WeekdayCalendar treats Monday through Friday as trading days, minus a
// fixed holiday set.
type WeekdayCalendar struct {
	Holidays map[model.Day]bool
}

// NewWeekdayCalendar returns a weekday calendar with the given holidays.
func NewWeekdayCalendar(holidays ...model.Day) WeekdayCalendar {
	c := WeekdayCalendar{Holidays: make(map[model.Day]bool, len(holidays))}
	for _, h := range holidays {
		c.Holidays[h] = true
	}
	return c
}

func (c WeekdayCalendar) IsTradingDay(day model.Day) bool {
	switch day.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.Holidays[day]
}

// Clock is a wall-clock time of day in the exchange timezone.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// On returns the instant of c on day.
func (c Clock) On(day model.Day) time.Time {
	return day.Start().Add(time.Duration(c.Hour)*time.Hour + time.Duration(c.Minute)*time.Minute)
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// Before reports whether c is earlier in the day than o.
func (c Clock) Before(o Clock) bool {
	return c.Hour < o.Hour || (c.Hour == o.Hour && c.Minute < o.Minute)
}

// Range lists every calendar day from from through to inclusive.
func Range(from, to string) ([]string, error) {
	f, err := model.ParseDay(from)
	if err != nil {
		return nil, err
	}
	t, err := model.ParseDay(to)
	if err != nil {
		return nil, err
	}
	if t.Before(f) {
		return nil, fmt.Errorf("%w: %s is after %s", ErrInvalidRange, f, t)
	}
	var days []string
	for d := f; !d.After(t); d = d.AddDays(1) {
		if len(days) >= maxRangeDays {
			return nil, fmt.Errorf("%w: more than %d days", ErrInvalidRange, maxRangeDays)
		}
		days = append(days, string(d))
	}
	return days, nil
}

// parseDays validates, sorts and de-duplicates day strings.
func parseDays(in []string) ([]model.Day, error) {
	seen := make(map[model.Day]bool, len(in))
	days := make([]model.Day, 0, len(in))
	for _, s := range in {
		d, err := model.ParseDay(s)
		if err != nil {
			return nil, err
		}
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days, nil
}
