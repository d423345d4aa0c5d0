package availability

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeBusy struct {
	intervals []Interval
	err       error
	calls     int
	gotStart  time.Time
	gotEnd    time.Time
}

func (f *fakeBusy) BusyIntervals(_ context.Context, dayStart, dayEnd time.Time) ([]Interval, error) {
	f.calls++
	f.gotStart, f.gotEnd = dayStart, dayEnd
	return f.intervals, f.err
}

func newTestService(busy BusySource) *Service {
	s := NewService(DefaultPolicy(testLoc), busy)
	s.now = farPast
	return s
}

func TestService_PropagatesBusySourceError(t *testing.T) {
	boom := errors.New("calendar down")
	s := newTestService(&fakeBusy{err: boom})
	slots, err := s.Available(context.Background(), "2026-03-04", 1)
	if !errors.Is(err, boom) {
		t.Fatalf("expected busy source error, got %v", err)
	}
	if slots != nil {
		t.Fatalf("expected no slots on error, got %v", slots)
	}
}

func TestService_ClosedDaySkipsCalendar(t *testing.T) {
	busy := &fakeBusy{}
	s := newTestService(busy)
	slots, err := s.Available(context.Background(), "2026-03-08", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if slots == nil || len(slots) != 0 {
		t.Fatalf("expected empty non-nil slots, got %v", slots)
	}
	if busy.calls != 0 {
		t.Fatalf("expected no calendar call on closed day")
	}
}

func TestService_ParsesDateAsLocalDay(t *testing.T) {
	busy := &fakeBusy{}
	s := newTestService(busy)
	if _, err := s.Available(context.Background(), "2026-03-04", 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if busy.gotStart.Format(time.RFC3339) != "2026-03-04T00:00:00+03:00" {
		t.Fatalf("unexpected day start %s", busy.gotStart.Format(time.RFC3339))
	}
	if busy.gotEnd.Format(time.RFC3339Nano) != "2026-03-04T23:59:59.999+03:00" {
		t.Fatalf("unexpected day end %s", busy.gotEnd.Format(time.RFC3339Nano))
	}
}

func TestService_InvalidInput(t *testing.T) {
	s := newTestService(&fakeBusy{})
	if _, err := s.Available(context.Background(), "04/03/2026", 1); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
	if _, err := s.Available(context.Background(), "2026-03-04", 0); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
	if _, err := s.Available(context.Background(), "2026-03-04", 25); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
}
