package model

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

// Leg is one of the two payments a booking collects.
type Leg string

const (
	LegDeposit   Leg = "deposit"
	LegRemaining Leg = "remaining"
)

func ParseLeg(s string) (Leg, bool) {
	switch Leg(s) {
	case LegDeposit, LegRemaining:
		return Leg(s), true
	}
	return "", false
}

type Method string

const (
	MethodCard   Method = "card"
	MethodWallet Method = "wallet"
)

func ParseMethod(s string) (Method, bool) {
	switch Method(s) {
	case MethodCard, MethodWallet:
		return Method(s), true
	}
	return "", false
}

type LegPayment struct {
	Paid      bool
	PaymentID string
	Method    Method
	PaidAt    *time.Time
}

type Booking struct {
	ID            string
	Date          time.Time // local midnight of the booked day
	StartTime     string    // HH:MM
	DurationHours float64
	CustomerName  string
	CustomerEmail string
	Status        Status

	Deposit   LegPayment
	Remaining LegPayment

	CalendarEventID    string
	ConfirmationSentAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (b *Booking) LegPayment(leg Leg) *LegPayment {
	if leg == LegRemaining {
		return &b.Remaining
	}
	return &b.Deposit
}

// Window returns the booked [start, end) in the booking's day location.
func (b Booking) Window() (time.Time, time.Time, error) {
	clock, err := time.Parse("15:04", b.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	y, m, d := b.Date.Date()
	start := time.Date(y, m, d, clock.Hour(), clock.Minute(), 0, 0, b.Date.Location())
	end := start.Add(time.Duration(b.DurationHours * float64(time.Hour)))
	return start, end, nil
}
