package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/model"
)

var (
	// ErrUnverifiedPayment: the gateway does not corroborate the claimed payment.
	ErrUnverifiedPayment = errors.New("payment not verified by gateway")
	// ErrGatewayUnavailable: the gateway could not be asked; safe to retry.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrUnknownMethod      = errors.New("unknown payment method")
)

// Metadata keys every checkout must attach to the gateway payment.
const (
	MetaBookingID = "booking_id"
	MetaLeg       = "payment_leg"
)

// Status is the gateway's own view of a payment.
type Status struct {
	// PaymentID is the canonical id the booking stores for the leg.
	PaymentID string
	Succeeded bool
	Raw       string
	BookingID string
	Leg       model.Leg
	Amount    int64
	Currency  string
}

type Gateway interface {
	Method() model.Method
	PaymentStatus(ctx context.Context, paymentID string) (Status, error)
}

// Gateways maps a payment method to the gateway that settles it.
type Gateways map[model.Method]Gateway

func NewGateways(gws ...Gateway) Gateways {
	out := Gateways{}
	for _, g := range gws {
		if g != nil {
			out[g.Method()] = g
		}
	}
	return out
}

func (g Gateways) For(m model.Method) (Gateway, error) {
	gw, ok := g[m]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, m)
	}
	return gw, nil
}

// Verify checks that st is a settled payment for bookingID and leg. Metadata
// that is present must match; a missing leg is accepted.
func Verify(st Status, bookingID string, leg model.Leg) error {
	if !st.Succeeded {
		return fmt.Errorf("%w: gateway status %q", ErrUnverifiedPayment, st.Raw)
	}
	if st.BookingID != bookingID {
		return fmt.Errorf("%w: payment belongs to booking %q", ErrUnverifiedPayment, st.BookingID)
	}
	if st.Leg != "" && st.Leg != leg {
		return fmt.Errorf("%w: payment is for the %s leg", ErrUnverifiedPayment, st.Leg)
	}
	return nil
}

func legFromMetadata(raw string) model.Leg {
	leg, _ := model.ParseLeg(raw)
	return leg
}

// InferMethod guesses the method from a gateway id prefix, for callers that
// only know the id (e.g. a redirect query string).
func InferMethod(paymentID string) (model.Method, bool) {
	switch {
	case strings.HasPrefix(paymentID, "pi_"), strings.HasPrefix(paymentID, "cs_"):
		return model.MethodCard, true
	case strings.HasPrefix(paymentID, "chrg_"):
		return model.MethodWallet, true
	}
	return "", false
}
