package bookings

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/model"
)

var ErrInvalidTransition = errors.New("invalid booking transition")

// Transition describes what ApplyPayment changed.
type Transition int

const (
	// TransitionNone: the leg was already paid with the same payment id.
	TransitionNone Transition = iota
	// TransitionConfirmed: deposit paid, pending -> confirmed.
	TransitionConfirmed
	// TransitionRemainingPaid: remaining balance paid, status unchanged.
	TransitionRemainingPaid
)

func (t Transition) String() string {
	switch t {
	case TransitionConfirmed:
		return "confirmed"
	case TransitionRemainingPaid:
		return "remaining_paid"
	default:
		return "none"
	}
}

type Payment struct {
	ID     string
	Method model.Method
	PaidAt time.Time
}

// ApplyPayment returns b with the leg marked paid. b itself is not modified.
func ApplyPayment(b model.Booking, leg model.Leg, p Payment) (model.Booking, Transition, error) {
	if strings.TrimSpace(p.ID) == "" {
		return b, TransitionNone, fmt.Errorf("%w: empty payment id", ErrInvalidTransition)
	}
	if b.Status == model.StatusCancelled {
		return b, TransitionNone, fmt.Errorf("%w: booking %s is cancelled", ErrInvalidTransition, b.ID)
	}

	lp := b.LegPayment(leg)
	if lp.Paid {
		if lp.PaymentID == p.ID {
			return b, TransitionNone, nil
		}
		return b, TransitionNone, fmt.Errorf("%w: %s already paid by another payment", ErrInvalidTransition, leg)
	}

	var tr Transition
	switch {
	case leg == model.LegDeposit && b.Status == model.StatusPending:
		b.Status = model.StatusConfirmed
		tr = TransitionConfirmed
	case leg == model.LegRemaining && b.Status == model.StatusConfirmed:
		tr = TransitionRemainingPaid
	default:
		return b, TransitionNone, fmt.Errorf("%w: %s payment on %s booking", ErrInvalidTransition, leg, b.Status)
	}

	paidAt := p.PaidAt.UTC()
	*b.LegPayment(leg) = model.LegPayment{
		Paid:      true,
		PaymentID: p.ID,
		Method:    p.Method,
		PaidAt:    &paidAt,
	}
	return b, tr, nil
}

// IsDuplicate reports whether leg was already settled by paymentID.
func IsDuplicate(b model.Booking, leg model.Leg, paymentID string) bool {
	lp := b.LegPayment(leg)
	return lp.Paid && lp.PaymentID == paymentID
}

// Cancel moves a pending or confirmed booking to cancelled. Cancelling twice is a no-op.
func Cancel(b model.Booking) (model.Booking, bool, error) {
	switch b.Status {
	case model.StatusCancelled:
		return b, false, nil
	case model.StatusPending, model.StatusConfirmed:
		b.Status = model.StatusCancelled
		return b, true, nil
	default:
		return b, false, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, b.Status)
	}
}

// NeedsSideEffects reports whether a confirmed booking still lacks its
// calendar event or confirmation email.
func NeedsSideEffects(b model.Booking) bool {
	if b.Status != model.StatusConfirmed || !b.Deposit.Paid {
		return false
	}
	return b.CalendarEventID == "" || b.ConfirmationSentAt == nil
}
