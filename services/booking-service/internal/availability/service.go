package availability

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	ErrInvalidDate     = errors.New("invalid date")
	ErrInvalidDuration = errors.New("invalid duration")
)

// MaxDurationHours caps requests; anything longer than a day cannot fit.
const MaxDurationHours = 24

// BusySource yields busy intervals touching [dayStart, dayEnd]. Implementations
// must return an error, never an empty set, when the source cannot be read.
type BusySource interface {
	BusyIntervals(ctx context.Context, dayStart, dayEnd time.Time) ([]Interval, error)
}

type Service struct {
	policy Policy
	busy   BusySource
	now    func() time.Time
}

func NewService(policy Policy, busy BusySource) *Service {
	return &Service{policy: policy, busy: busy, now: time.Now}
}

func (s *Service) Policy() Policy { return s.policy }

// ParseDate reads YYYY-MM-DD as a local calendar day in loc.
func ParseDate(raw string, loc *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(raw), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	return day, nil
}

// DurationFromHours converts an hour count (fractions allowed) to a duration.
func DurationFromHours(hours float64) (time.Duration, error) {
	if math.IsNaN(hours) || hours <= 0 || hours > MaxDurationHours {
		return 0, fmt.Errorf("%w: %v", ErrInvalidDuration, hours)
	}
	return time.Duration(hours * float64(time.Hour)), nil
}

// Available lists the free slots on date for a session of durationHours.
// Busy-source failures are returned as is so callers never see a falsely open day.
func (s *Service) Available(ctx context.Context, date string, durationHours float64) ([]Slot, error) {
	day, err := ParseDate(date, s.policy.Location)
	if err != nil {
		return nil, err
	}
	duration, err := DurationFromHours(durationHours)
	if err != nil {
		return nil, err
	}
	if s.policy.IsClosed(day) {
		return []Slot{}, nil
	}

	dayStart, dayEnd := s.policy.DayBounds(day)
	busy, err := s.busy.BusyIntervals(ctx, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}

	slots := s.policy.Slots(day, duration, busy, s.now())
	if slots == nil {
		slots = []Slot{}
	}
	return slots, nil
}
