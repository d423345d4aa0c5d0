package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/availability"
)

// QueryMargin widens the provider query so zone differences cannot clip events.
const QueryMargin = 12 * time.Hour

// Extractor turns provider events into busy intervals for one studio day.
type Extractor struct {
	provider Provider
	loc      *time.Location
	logger   *slog.Logger
}

func NewExtractor(provider Provider, loc *time.Location, logger *slog.Logger) *Extractor {
	return &Extractor{provider: provider, loc: loc, logger: logger}
}

func (e *Extractor) BusyIntervals(ctx context.Context, dayStart, dayEnd time.Time) ([]availability.Interval, error) {
	events, err := e.provider.ListEvents(ctx, dayStart.Add(-QueryMargin), dayEnd.Add(QueryMargin))
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	busy := make([]availability.Interval, 0, len(events))
	for _, ev := range events {
		iv, ok := e.Interval(ev)
		if !ok {
			if e.logger != nil {
				e.logger.Warn("calendar event skipped", "event_id", ev.ID, "all_day", ev.AllDay)
			}
			continue
		}
		// Overlap, not containment: an event crossing midnight blocks both days.
		if !iv.Start.After(dayEnd) && !iv.End.Before(dayStart) {
			busy = append(busy, iv)
		}
	}
	return busy, nil
}

// Interval normalizes one event. All-day events cover local 00:00:00 of the
// start date through 23:59:59.999 of the day before the exclusive end date.
func (e *Extractor) Interval(ev Event) (availability.Interval, bool) {
	var iv availability.Interval
	if !ev.AllDay {
		iv = availability.Interval{Start: ev.Start, End: ev.End}
	} else {
		start, err := time.ParseInLocation("2006-01-02", ev.StartDate, e.loc)
		if err != nil {
			return availability.Interval{}, false
		}
		endExclusive := start.AddDate(0, 0, 1)
		if ev.EndDate != "" {
			endExclusive, err = time.ParseInLocation("2006-01-02", ev.EndDate, e.loc)
			if err != nil {
				return availability.Interval{}, false
			}
		}
		y, m, d := endExclusive.AddDate(0, 0, -1).Date()
		iv = availability.Interval{
			Start: start,
			End:   time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), e.loc),
		}
	}
	if iv.Start.IsZero() || !iv.End.After(iv.Start) {
		return availability.Interval{}, false
	}
	return iv, true
}
