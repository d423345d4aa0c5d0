package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/model"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// StripeGateway settles card payments. It accepts PaymentIntent ids (pi_) and
// Checkout Session ids (cs_); both resolve to the PaymentIntent id.
type StripeGateway struct {
	sc *client.API
}

func NewStripeGateway(secretKey string, backends *stripe.Backends) (*StripeGateway, error) {
	if strings.TrimSpace(secretKey) == "" {
		return nil, errors.New("stripe secret key is required")
	}
	return &StripeGateway{sc: client.New(secretKey, backends)}, nil
}

func (g *StripeGateway) Method() model.Method { return model.MethodCard }

func (g *StripeGateway) PaymentStatus(ctx context.Context, paymentID string) (Status, error) {
	paymentID = strings.TrimSpace(paymentID)
	if strings.HasPrefix(paymentID, "cs_") {
		return g.sessionStatus(ctx, paymentID)
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.sc.PaymentIntents.Get(paymentID, params)
	if err != nil {
		return Status{}, stripeErr(err)
	}
	return statusFromPaymentIntent(pi), nil
}

func (g *StripeGateway) sessionStatus(ctx context.Context, sessionID string) (Status, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := g.sc.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return Status{}, stripeErr(err)
	}
	return statusFromSession(sess), nil
}

func statusFromPaymentIntent(pi *stripe.PaymentIntent) Status {
	return Status{
		PaymentID: pi.ID,
		Succeeded: pi.Status == stripe.PaymentIntentStatusSucceeded,
		Raw:       string(pi.Status),
		BookingID: strings.TrimSpace(pi.Metadata[MetaBookingID]),
		Leg:       legFromMetadata(pi.Metadata[MetaLeg]),
		Amount:    pi.AmountReceived,
		Currency:  string(pi.Currency),
	}
}

func statusFromSession(sess *stripe.CheckoutSession) Status {
	st := Status{
		PaymentID: sess.ID,
		Succeeded: sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		Raw:       string(sess.PaymentStatus),
		BookingID: strings.TrimSpace(sess.Metadata[MetaBookingID]),
		Leg:       legFromMetadata(sess.Metadata[MetaLeg]),
		Amount:    sess.AmountTotal,
		Currency:  string(sess.Currency),
	}
	if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
		st.PaymentID = sess.PaymentIntent.ID
	}
	return st
}

// stripeErr maps "no such object" to ErrUnverifiedPayment so a forged id is
// rejected, and anything else to ErrGatewayUnavailable.
func stripeErr(err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) && serr.HTTPStatusCode == 404 {
		return fmt.Errorf("%w: %s", ErrUnverifiedPayment, serr.Msg)
	}
	return fmt.Errorf("%w: stripe: %v", ErrGatewayUnavailable, err)
}
