package availability

import (
	"time"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

type Slot struct {
	Start time.Time
	End   time.Time
}

// Policy holds the studio's opening rules. Hours are wall-clock hours in Location.
type Policy struct {
	OpeningHour         int
	StandardClosingHour int // last regular start hour
	HardClosingHour     int // no session may run past this
	Step                time.Duration
	ClosedWeekday       time.Weekday
	SameDayMargin       time.Duration
	Location            *time.Location
}

func DefaultPolicy(loc *time.Location) Policy {
	if loc == nil {
		loc = time.Local
	}
	return Policy{
		OpeningHour:         9,
		StandardClosingHour: 21,
		HardClosingHour:     22,
		Step:                60 * time.Minute,
		ClosedWeekday:       time.Sunday,
		SameDayMargin:       2 * time.Hour,
		Location:            loc,
	}
}

// DayBounds returns local 00:00:00 and 23:59:59.999 of day.
func (p Policy) DayBounds(day time.Time) (time.Time, time.Time) {
	y, m, d := day.In(p.Location).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, p.Location)
	end := time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), p.Location)
	return start, end
}

// IsClosed reports whether no slot can exist on day regardless of bookings.
func (p Policy) IsClosed(day time.Time) bool {
	return day.In(p.Location).Weekday() == p.ClosedWeekday
}

// Slots returns the bookable slots of length duration on day, in ascending order.
// An empty result is not an error: closed weekday, nothing left today, or fully booked.
func (p Policy) Slots(day time.Time, duration time.Duration, busy []Interval, now time.Time) []Slot {
	if duration <= 0 || p.Step <= 0 || p.IsClosed(day) {
		return nil
	}

	y, m, d := day.In(p.Location).Date()
	at := func(hour, min int) time.Time {
		return time.Date(y, m, d, hour, min, 0, 0, p.Location)
	}

	hardClose := at(p.HardClosingHour, 0)
	lastStart := at(p.StandardClosingHour, 0)
	if latest := hardClose.Add(-duration); latest.Before(lastStart) {
		lastStart = latest
	}

	firstStart := at(p.OpeningHour, 0)
	localNow := now.In(p.Location)
	ny, nm, nd := localNow.Date()
	switch {
	case ny == y && nm == m && nd == d:
		earliest := at(localNow.Hour(), 0).Add(p.SameDayMargin)
		if earliest.After(firstStart) {
			firstStart = earliest
		}
	case at(0, 0).Before(time.Date(ny, nm, nd, 0, 0, 0, 0, p.Location)):
		return nil
	}
	if firstStart.After(lastStart) {
		return nil
	}

	var slots []Slot
	stepMinutes := int(p.Step / time.Minute)
	for i := 0; ; i++ {
		start := at(firstStart.Hour(), firstStart.Minute()+i*stepMinutes)
		if start.After(lastStart) {
			break
		}
		end := start.Add(duration)
		if end.After(hardClose) {
			continue
		}
		if overlapsAny(start, end, busy) {
			continue
		}
		slots = append(slots, Slot{Start: start, End: end})
	}
	return slots
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		// Half-open: touching endpoints do not conflict, so back-to-back sessions are allowed.
		if start.Before(b.End) && end.After(b.Start) {
			return true
		}
	}
	return false
}

// Overlaps reports whether [start,end) would conflict with any busy interval.
func Overlaps(start, end time.Time, busy []Interval) bool {
	return overlapsAny(start, end, busy)
}
