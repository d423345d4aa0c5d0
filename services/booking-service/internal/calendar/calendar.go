package calendar

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable means the provider could not be read. Availability must fail
// closed on it rather than treat the day as free.
var ErrUnavailable = errors.New("calendar unavailable")

// Event is a provider event reduced to what busy-time extraction needs.
// Timed events carry Start/End; all-day events carry StartDate/EndDate
// (YYYY-MM-DD, EndDate exclusive).
type Event struct {
	ID        string
	Summary   string
	AllDay    bool
	Start     time.Time
	End       time.Time
	StartDate string
	EndDate   string
}

type EventInput struct {
	// ID, when set, is used as the provider event id so repeated inserts collapse.
	ID          string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

type Provider interface {
	ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]Event, error)
	CreateEvent(ctx context.Context, in EventInput) (string, error)
	DeleteEvent(ctx context.Context, id string) error
}
