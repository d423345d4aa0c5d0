package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	otelx "github.com/md-rashed-zaman/studiobook/libs/otel"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/bookings"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/notify"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/outbox"
)

// ErrSideEffectFailed marks a calendar or email failure after the payment was
// already persisted. Callers report it and never roll back.
var ErrSideEffectFailed = errors.New("downstream side effect failed")

const (
	EffectCalendar     = "calendar_event"
	EffectConfirmation = "confirmation_email"
	EffectCalendarDrop = "calendar_delete"
)

type SideEffectError struct {
	Effect    string
	BookingID string
	Err       error
}

func (e *SideEffectError) Error() string {
	return fmt.Sprintf("%s for booking %s: %v", e.Effect, e.BookingID, e.Err)
}

func (e *SideEffectError) Unwrap() error { return e.Err }

func (e *SideEffectError) Is(target error) bool { return target == ErrSideEffectFailed }

// runSideEffects creates the calendar event and sends the confirmation email
// for a confirmed booking, each at most once across all workers. The caller's
// cancellation does not abort work that already started.
func (r *Reconciler) runSideEffects(ctx context.Context, b model.Booking) (string, []error) {
	if b.Status != model.StatusConfirmed || !b.Deposit.Paid {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.SideEffectTimeout)
	defer cancel()

	var warnings []error
	eventID, err := r.ensureCalendarEvent(ctx, b)
	if err != nil {
		warnings = append(warnings, &SideEffectError{Effect: EffectCalendar, BookingID: b.ID, Err: err})
	}
	if err := r.ensureConfirmation(ctx, b); err != nil {
		warnings = append(warnings, &SideEffectError{Effect: EffectConfirmation, BookingID: b.ID, Err: err})
	}
	for _, w := range warnings {
		r.logger.Warn("booking side effect failed", "booking_id", b.ID, "err", w)
	}
	return eventID, warnings
}

func (r *Reconciler) ensureCalendarEvent(ctx context.Context, b model.Booking) (string, error) {
	if b.CalendarEventID != "" || r.calendar == nil {
		return "", nil
	}
	claimed, err := r.store.ClaimCalendarSync(ctx, b.ID, r.cfg.ClaimLease)
	if err != nil {
		return "", fmt.Errorf("claim calendar sync: %w", err)
	}
	if !claimed {
		return "", nil
	}

	start, end, err := b.Window()
	if err != nil {
		r.release(ctx, EffectCalendar, b.ID, r.store.ReleaseCalendarClaim)
		return "", fmt.Errorf("booking window: %w", err)
	}
	id, err := r.calendar.CreateEvent(ctx, calendar.EventInput{
		ID:          calendar.EventIDForBooking(b.ID),
		Summary:     "Studio booking: " + b.CustomerName,
		Description: fmt.Sprintf("Booking %s\nCustomer: %s <%s>\nDeposit payment: %s", b.ID, b.CustomerName, b.CustomerEmail, b.Deposit.PaymentID),
		Start:       start,
		End:         end,
	})
	if err != nil {
		r.release(ctx, EffectCalendar, b.ID, r.store.ReleaseCalendarClaim)
		return "", err
	}
	stored, err := r.store.SetCalendarEventID(ctx, b.ID, id)
	if err != nil {
		r.release(ctx, EffectCalendar, b.ID, r.store.ReleaseCalendarClaim)
		return "", fmt.Errorf("store calendar event id: %w", err)
	}
	if !stored {
		return r.dropOrphanEvent(ctx, b.ID, id)
	}
	r.logger.Info("calendar event created", "booking_id", b.ID, "event_id", id)
	return id, nil
}

// dropOrphanEvent handles an event id the store refused. A booking cancelled
// while the event was being created must not keep a calendar entry.
func (r *Reconciler) dropOrphanEvent(ctx context.Context, bookingID, eventID string) (string, error) {
	cur, err := r.store.Get(ctx, bookingID)
	if err != nil {
		return "", fmt.Errorf("reload booking: %w", err)
	}
	if cur.Status == model.StatusConfirmed {
		return cur.CalendarEventID, nil
	}
	if err := r.calendar.DeleteEvent(ctx, eventID); err != nil {
		return "", fmt.Errorf("delete event for %s booking: %w", cur.Status, err)
	}
	r.logger.Info("calendar event dropped", "booking_id", bookingID, "event_id", eventID, "status", string(cur.Status))
	return "", nil
}

func (r *Reconciler) ensureConfirmation(ctx context.Context, b model.Booking) error {
	if b.ConfirmationSentAt != nil || r.sender == nil {
		return nil
	}
	claimed, err := r.store.ClaimConfirmation(ctx, b.ID, r.cfg.ClaimLease)
	if err != nil {
		return fmt.Errorf("claim confirmation: %w", err)
	}
	if !claimed {
		return nil
	}

	msg, err := notify.ConfirmationMessage(r.cfg.StudioName, b)
	if err != nil {
		r.release(ctx, EffectConfirmation, b.ID, r.store.ReleaseConfirmationClaim)
		return err
	}
	if err := r.sender.Send(ctx, msg); err != nil {
		r.release(ctx, EffectConfirmation, b.ID, r.store.ReleaseConfirmationClaim)
		return err
	}
	// A failure here leaves the claim to expire; the email went out, so the
	// sweeper may send it once more after the lease.
	if err := r.store.MarkConfirmationSent(ctx, b.ID, r.now()); err != nil {
		return fmt.Errorf("mark confirmation sent: %w", err)
	}
	r.logger.Info("confirmation email sent", "booking_id", b.ID)
	return nil
}

func (r *Reconciler) release(ctx context.Context, effect, id string, fn func(context.Context, string) error) {
	if err := fn(ctx, id); err != nil {
		r.logger.Warn("release side effect claim failed", "booking_id", id, "effect", effect, "err", err)
	}
}

// CancelResult reports the outcome of an admin cancellation.
type CancelResult struct {
	Booking  model.Booking
	Changed  bool
	Warnings []error
}

// Cancel moves a booking to cancelled and removes its calendar event.
// Cancelling an already cancelled booking is a no-op.
func (r *Reconciler) Cancel(ctx context.Context, bookingID string) (res CancelResult, err error) {
	ctx, span := r.tracer.Start(ctx, "reconcile.cancel")
	defer func() { otelx.EndSpan(span, err) }()

	b, err := r.store.Get(ctx, bookingID)
	if err != nil {
		return CancelResult{}, err
	}
	next, changed, err := bookings.Cancel(b)
	if err != nil {
		return CancelResult{}, err
	}
	if !changed {
		return CancelResult{Booking: b}, nil
	}

	evt, err := outbox.NewBookingEvent(outbox.TypeBookingCancelled, b.ID, bookingCancelledEvent{
		BookingID:      b.ID,
		PreviousStatus: string(b.Status),
		CancelledAt:    r.now().UTC(),
	})
	if err != nil {
		return CancelResult{}, err
	}
	ok, err := r.store.Cancel(ctx, b.ID, b.Status, evt)
	if err != nil {
		return CancelResult{}, fmt.Errorf("store cancel: %w", err)
	}
	if !ok {
		cur, err := r.store.Get(ctx, bookingID)
		if err != nil {
			return CancelResult{}, err
		}
		if cur.Status == model.StatusCancelled {
			return CancelResult{Booking: cur}, nil
		}
		return CancelResult{}, fmt.Errorf("%w: booking %s", ErrConcurrentUpdate, bookingID)
	}
	r.logger.Info("booking cancelled", "booking_id", b.ID, "previous_status", string(b.Status))

	res = CancelResult{Booking: next, Changed: true}
	eventID := b.CalendarEventID
	if eventID == "" && b.Deposit.Paid {
		eventID = calendar.EventIDForBooking(b.ID)
	}
	if eventID != "" && r.calendar != nil {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.SideEffectTimeout)
		defer cancel()
		if err := r.calendar.DeleteEvent(dctx, eventID); err != nil {
			w := &SideEffectError{Effect: EffectCalendarDrop, BookingID: b.ID, Err: err}
			r.logger.Warn("booking side effect failed", "booking_id", b.ID, "err", w)
			res.Warnings = append(res.Warnings, w)
		}
	}
	return res, nil
}

type bookingCancelledEvent struct {
	BookingID      string    `json:"booking_id"`
	PreviousStatus string    `json:"previous_status"`
	CancelledAt    time.Time `json:"cancelled_at"`
}
