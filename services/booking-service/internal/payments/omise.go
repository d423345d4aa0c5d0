package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/model"
	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
)

// OmiseGateway settles wallet payments (PromptPay, TrueMoney and similar
// sources) through Omise charges.
type OmiseGateway struct {
	client *omise.Client
}

func NewOmiseGateway(publicKey, secretKey string) (*OmiseGateway, error) {
	c, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, err
	}
	return &OmiseGateway{client: c}, nil
}

func (g *OmiseGateway) Method() model.Method { return model.MethodWallet }

func (g *OmiseGateway) PaymentStatus(ctx context.Context, chargeID string) (Status, error) {
	ch := &omise.Charge{}
	op := &operations.RetrieveCharge{ChargeID: strings.TrimSpace(chargeID)}
	if err := g.do(ctx, func() error { return g.client.Do(ch, op) }); err != nil {
		return Status{}, omiseErr(err)
	}
	return statusFromCharge(ch), nil
}

// Event re-fetches a webhook event so its payload never has to be trusted.
func (g *OmiseGateway) Event(ctx context.Context, eventID string) (*omise.Event, error) {
	ev := &omise.Event{}
	op := &operations.RetrieveEvent{EventID: eventID}
	if err := g.do(ctx, func() error { return g.client.Do(ev, op) }); err != nil {
		return nil, err
	}
	return ev, nil
}

// EventKey re-fetches eventID and returns its key, e.g. "charge.complete".
func (g *OmiseGateway) EventKey(ctx context.Context, eventID string) (string, error) {
	ev, err := g.Event(ctx, strings.TrimSpace(eventID))
	if err != nil {
		return "", omiseErr(err)
	}
	return ev.Key, nil
}

// omiseErr maps a 404 from the API to ErrUnverifiedPayment and anything else,
// including transport failures and timeouts, to ErrGatewayUnavailable.
func omiseErr(err error) error {
	var oerr *omise.Error
	if errors.As(err, &oerr) && oerr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrUnverifiedPayment, oerr.Message)
	}
	return fmt.Errorf("%w: omise: %v", ErrGatewayUnavailable, err)
}

// do runs an Omise call; the client has no context support so the call is
// abandoned, not aborted, when ctx ends.
func (g *OmiseGateway) do(ctx context.Context, call func() error) error {
	done := make(chan error, 1)
	go func() { done <- call() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func statusFromCharge(ch *omise.Charge) Status {
	st := Status{
		PaymentID: ch.ID,
		Succeeded: string(ch.Status) == "successful",
		Raw:       string(ch.Status),
		Amount:    ch.Amount,
		Currency:  ch.Currency,
	}
	if v, ok := ch.Metadata[MetaBookingID].(string); ok {
		st.BookingID = strings.TrimSpace(v)
	}
	if v, ok := ch.Metadata[MetaLeg].(string); ok {
		st.Leg = legFromMetadata(v)
	}
	return st
}
