package bookings

import (
	"errors"
	"testing"
	"time"

	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/model"
)

var paidAt = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func pending() model.Booking {
	return model.Booking{ID: "b1", Status: model.StatusPending, StartTime: "14:00", DurationHours: 2}
}

func TestApplyPayment_DepositConfirms(t *testing.T) {
	b, tr, err := ApplyPayment(pending(), model.LegDeposit, Payment{ID: "pi_1", Method: model.MethodCard, PaidAt: paidAt})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr != TransitionConfirmed {
		t.Fatalf("expected confirmed transition, got %s", tr)
	}
	if b.Status != model.StatusConfirmed || !b.Deposit.Paid || b.Deposit.PaymentID != "pi_1" || b.Deposit.Method != model.MethodCard {
		t.Fatalf("unexpected booking: %+v", b)
	}
	if b.Deposit.PaidAt == nil || !b.Deposit.PaidAt.Equal(paidAt) {
		t.Fatalf("expected deposit date to be recorded")
	}
	if b.Remaining.Paid {
		t.Fatalf("remaining leg must be untouched")
	}
}

func TestApplyPayment_DoesNotMutateInput(t *testing.T) {
	in := pending()
	_, _, _ = ApplyPayment(in, model.LegDeposit, Payment{ID: "pi_1", PaidAt: paidAt})
	if in.Status != model.StatusPending || in.Deposit.Paid {
		t.Fatalf("input booking was modified: %+v", in)
	}
}

func TestApplyPayment_RemainingKeepsStatus(t *testing.T) {
	b, _, _ := ApplyPayment(pending(), model.LegDeposit, Payment{ID: "pi_1", PaidAt: paidAt})
	b, tr, err := ApplyPayment(b, model.LegRemaining, Payment{ID: "w_2", Method: model.MethodWallet, PaidAt: paidAt})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr != TransitionRemainingPaid {
		t.Fatalf("expected remaining_paid, got %s", tr)
	}
	if b.Status != model.StatusConfirmed || !b.Remaining.Paid || b.Remaining.PaymentID != "w_2" {
		t.Fatalf("unexpected booking: %+v", b)
	}
}

func TestApplyPayment_Duplicate(t *testing.T) {
	b, _, _ := ApplyPayment(pending(), model.LegDeposit, Payment{ID: "pi_1", PaidAt: paidAt})
	again, tr, err := ApplyPayment(b, model.LegDeposit, Payment{ID: "pi_1", PaidAt: paidAt.Add(time.Hour)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr != TransitionNone {
		t.Fatalf("expected no transition for duplicate, got %s", tr)
	}
	if !again.Deposit.PaidAt.Equal(paidAt) {
		t.Fatalf("duplicate must not change the recorded date")
	}
	if !IsDuplicate(again, model.LegDeposit, "pi_1") {
		t.Fatalf("expected IsDuplicate")
	}
}

func TestApplyPayment_Rejections(t *testing.T) {
	confirmed, _, _ := ApplyPayment(pending(), model.LegDeposit, Payment{ID: "pi_1", PaidAt: paidAt})
	cancelled := confirmed
	cancelled.Status = model.StatusCancelled

	cases := []struct {
		name string
		b    model.Booking
		leg  model.Leg
		id   string
	}{
		{"cancelled deposit", func() model.Booking { b := pending(); b.Status = model.StatusCancelled; return b }(), model.LegDeposit, "pi_1"},
		{"cancelled same id", cancelled, model.LegDeposit, "pi_1"},
		{"cancelled remaining", cancelled, model.LegRemaining, "pi_9"},
		{"other payment id", confirmed, model.LegDeposit, "pi_other"},
		{"remaining before deposit", pending(), model.LegRemaining, "pi_2"},
		{"empty id", pending(), model.LegDeposit, ""},
	}
	for _, tc := range cases {
		_, _, err := ApplyPayment(tc.b, tc.leg, Payment{ID: tc.id, PaidAt: paidAt})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s: expected ErrInvalidTransition, got %v", tc.name, err)
		}
	}
}

func TestCancel(t *testing.T) {
	b, changed, err := Cancel(pending())
	if err != nil || !changed || b.Status != model.StatusCancelled {
		t.Fatalf("expected cancel to succeed, got %+v changed=%v err=%v", b, changed, err)
	}
	_, changed, err = Cancel(b)
	if err != nil || changed {
		t.Fatalf("expected second cancel to be a no-op")
	}
}

func TestNeedsSideEffects(t *testing.T) {
	b, _, _ := ApplyPayment(pending(), model.LegDeposit, Payment{ID: "pi_1", PaidAt: paidAt})
	if !NeedsSideEffects(b) {
		t.Fatalf("expected fresh confirmation to need side effects")
	}
	b.CalendarEventID = "evt"
	now := time.Now()
	b.ConfirmationSentAt = &now
	if NeedsSideEffects(b) {
		t.Fatalf("expected completed booking to need nothing")
	}
	if NeedsSideEffects(pending()) {
		t.Fatalf("pending booking has no side effects")
	}
}
