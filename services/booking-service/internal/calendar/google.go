package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gcal "google.golang.org/api/calendar/v3"
)

// GoogleProvider reads and writes one Google calendar. Event times are sent
// as RFC3339 instants together with the studio's IANA zone name.
type GoogleProvider struct {
	svc        *gcal.Service
	calendarID string
	loc        *time.Location
	timeout    time.Duration
}

type GoogleConfig struct {
	CalendarID string
	Location   *time.Location
	Timeout    time.Duration
}

func NewGoogleProvider(ctx context.Context, cfg GoogleConfig, opts ...option.ClientOption) (*GoogleProvider, error) {
	if strings.TrimSpace(cfg.CalendarID) == "" {
		return nil, errors.New("calendar id is required")
	}
	if cfg.Location == nil {
		return nil, errors.New("calendar location is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google calendar client: %w", err)
	}
	return &GoogleProvider{svc: svc, calendarID: cfg.CalendarID, loc: cfg.Location, timeout: cfg.Timeout}, nil
}

func (p *GoogleProvider) ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]Event, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var out []Event
	call := p.svc.Events.List(p.calendarID).
		TimeMin(timeMin.Format(time.RFC3339)).
		TimeMax(timeMax.Format(time.RFC3339)).
		SingleEvents(true).
		ShowDeleted(false).
		MaxResults(250)
	err := call.Pages(ctx, func(page *gcal.Events) error {
		for _, item := range page.Items {
			if item.Status == "cancelled" || item.Start == nil || item.End == nil {
				continue
			}
			ev, err := fromGoogle(item)
			if err != nil {
				return err
			}
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list events: %v", ErrUnavailable, err)
	}
	return out, nil
}

func fromGoogle(item *gcal.Event) (Event, error) {
	ev := Event{ID: item.Id, Summary: item.Summary}
	if item.Start.DateTime == "" {
		ev.AllDay = true
		ev.StartDate = item.Start.Date
		ev.EndDate = item.End.Date
		return ev, nil
	}
	start, err := time.Parse(time.RFC3339, item.Start.DateTime)
	if err != nil {
		return Event{}, fmt.Errorf("event %s start: %w", item.Id, err)
	}
	end, err := time.Parse(time.RFC3339, item.End.DateTime)
	if err != nil {
		return Event{}, fmt.Errorf("event %s end: %w", item.Id, err)
	}
	ev.Start, ev.End = start, end
	return ev, nil
}

func (p *GoogleProvider) CreateEvent(ctx context.Context, in EventInput) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	zone := p.loc.String()
	created, err := p.svc.Events.Insert(p.calendarID, &gcal.Event{
		Id:          in.ID,
		Summary:     in.Summary,
		Description: in.Description,
		Start:       &gcal.EventDateTime{DateTime: in.Start.In(p.loc).Format(time.RFC3339), TimeZone: zone},
		End:         &gcal.EventDateTime{DateTime: in.End.In(p.loc).Format(time.RFC3339), TimeZone: zone},
	}).Context(ctx).Do()
	if err != nil {
		// A previous attempt already created this id.
		if in.ID != "" && googleStatus(err) == http.StatusConflict {
			return in.ID, nil
		}
		return "", fmt.Errorf("create event: %w", err)
	}
	return created.Id, nil
}

func (p *GoogleProvider) DeleteEvent(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.svc.Events.Delete(p.calendarID, id).Context(ctx).Do()
	switch googleStatus(err) {
	case 0:
		if err != nil {
			return fmt.Errorf("delete event: %w", err)
		}
		return nil
	case http.StatusNotFound, http.StatusGone:
		return nil
	default:
		return fmt.Errorf("delete event: %w", err)
	}
}

func googleStatus(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}

// EventIDForBooking derives a stable Google event id (base32hex alphabet).
func EventIDForBooking(bookingID string) string {
	return "booking" + strings.ToLower(strings.ReplaceAll(bookingID, "-", ""))
}
