package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	otelx "github.com/md-rashed-zaman/studiobook/libs/otel"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/bookings"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/notify"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/payments"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrInvalidRequest = errors.New("invalid confirmation request")
	// ErrConcurrentUpdate: the row changed between read and write in a way
	// that is neither a duplicate nor an invalid transition. Retry.
	ErrConcurrentUpdate = errors.New("booking changed concurrently")
)

// Channel names the entry point a confirmation came through.
type Channel string

const (
	ChannelWebhook  Channel = "webhook"
	ChannelRedirect Channel = "redirect"
	ChannelPolling  Channel = "polling"
	ChannelSweeper  Channel = "sweeper"
)

type Confirmation struct {
	BookingID         string
	Leg               model.Leg
	ExternalPaymentID string
	Method            model.Method
	Channel           Channel
}

type Result struct {
	BookingID     string
	BookingStatus model.Status
	Leg           model.Leg
	PaymentID     string
	// Duplicate: the leg was already settled by this payment; nothing was applied.
	Duplicate    bool
	Transitioned bool
	// CalendarEventID is set when this call created the calendar event.
	CalendarEventID string
	// Warnings are side-effect failures. The payment stays applied.
	Warnings []error
}

// Store is the booking persistence the reconciler needs.
type Store interface {
	Get(ctx context.Context, id string) (model.Booking, error)
	ApplyPayment(ctx context.Context, next model.Booking, leg model.Leg, prevStatus model.Status, evt outbox.Event) (bool, error)
	Cancel(ctx context.Context, id string, prevStatus model.Status, evt outbox.Event) (bool, error)
	ClaimCalendarSync(ctx context.Context, id string, lease time.Duration) (bool, error)
	SetCalendarEventID(ctx context.Context, id, eventID string) (bool, error)
	ReleaseCalendarClaim(ctx context.Context, id string) error
	ClaimConfirmation(ctx context.Context, id string, lease time.Duration) (bool, error)
	MarkConfirmationSent(ctx context.Context, id string, at time.Time) error
	ReleaseConfirmationClaim(ctx context.Context, id string) error
	ListPendingSideEffects(ctx context.Context, limit int) ([]string, error)
}

type Config struct {
	StudioName string
	// ClaimLease bounds how long a crashed worker blocks a side effect.
	ClaimLease        time.Duration
	SideEffectTimeout time.Duration
	GatewayTimeout    time.Duration
}

// Reconciler applies payment confirmations at most once per (booking, leg)
// no matter how many channels deliver them, then drives the side effects.
type Reconciler struct {
	store    Store
	gateways payments.Gateways
	calendar calendar.Provider
	sender   notify.Sender
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
	tracer   trace.Tracer
}

func New(store Store, gateways payments.Gateways, cal calendar.Provider, sender notify.Sender, logger *slog.Logger, cfg Config) *Reconciler {
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = 2 * time.Minute
	}
	if cfg.SideEffectTimeout <= 0 {
		cfg.SideEffectTimeout = 15 * time.Second
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	if cfg.StudioName == "" {
		cfg.StudioName = "Studio"
	}
	return &Reconciler{
		store:    store,
		gateways: gateways,
		calendar: cal,
		sender:   sender,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
		tracer:   otelx.Tracer("booking-service/reconcile"),
	}
}

func (c Confirmation) validate() error {
	if strings.TrimSpace(c.BookingID) == "" {
		return fmt.Errorf("%w: booking id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(c.ExternalPaymentID) == "" {
		return fmt.Errorf("%w: payment id is required", ErrInvalidRequest)
	}
	if _, ok := model.ParseLeg(string(c.Leg)); !ok {
		return fmt.Errorf("%w: unknown payment leg %q", ErrInvalidRequest, c.Leg)
	}
	if _, ok := model.ParseMethod(string(c.Method)); !ok {
		return fmt.Errorf("%w: unknown payment method %q", ErrInvalidRequest, c.Method)
	}
	return nil
}

// Confirm is shared by the webhook, redirect and polling entry points.
func (r *Reconciler) Confirm(ctx context.Context, c Confirmation) (res Result, err error) {
	ctx, span := r.tracer.Start(ctx, "reconcile.confirm", trace.WithAttributes(
		attribute.String("booking.id", c.BookingID),
		attribute.String("payment.leg", string(c.Leg)),
		attribute.String("payment.channel", string(c.Channel)),
	))
	defer func() { otelx.EndSpan(span, err) }()

	if err := c.validate(); err != nil {
		return Result{}, err
	}
	log := r.logger.With("booking_id", c.BookingID, "leg", string(c.Leg), "channel", string(c.Channel))

	b, err := r.store.Get(ctx, c.BookingID)
	if err != nil {
		return Result{}, err
	}
	if b.Status == model.StatusCancelled {
		log.Warn("confirmation for cancelled booking rejected", "payment_id", c.ExternalPaymentID)
		return Result{}, fmt.Errorf("%w: booking %s is cancelled", bookings.ErrInvalidTransition, b.ID)
	}
	if bookings.IsDuplicate(b, c.Leg, c.ExternalPaymentID) {
		log.Info("duplicate payment confirmation", "payment_id", c.ExternalPaymentID)
		return r.finish(ctx, b, c, c.ExternalPaymentID, true), nil
	}

	st, err := r.verify(ctx, b, c)
	if err != nil {
		log.Warn("payment verification failed", "payment_id", c.ExternalPaymentID, "err", err)
		return Result{}, err
	}
	paymentID := st.PaymentID
	if bookings.IsDuplicate(b, c.Leg, paymentID) {
		log.Info("duplicate payment confirmation", "payment_id", paymentID)
		return r.finish(ctx, b, c, paymentID, true), nil
	}

	next, tr, err := bookings.ApplyPayment(b, c.Leg, bookings.Payment{ID: paymentID, Method: c.Method, PaidAt: r.now()})
	if err != nil {
		log.Warn("payment transition rejected", "payment_id", paymentID, "status", string(b.Status), "err", err)
		return Result{}, err
	}

	evt, err := outbox.NewBookingEvent(outbox.TypePaymentConfirmed, b.ID, paymentConfirmedEvent{
		BookingID:   b.ID,
		Leg:         string(c.Leg),
		PaymentID:   paymentID,
		Method:      string(c.Method),
		Status:      string(next.Status),
		Channel:     string(c.Channel),
		ConfirmedAt: r.now().UTC(),
	})
	if err != nil {
		return Result{}, err
	}

	applied, err := r.store.ApplyPayment(ctx, next, c.Leg, b.Status, evt)
	if err != nil {
		return Result{}, fmt.Errorf("store payment: %w", err)
	}
	if !applied {
		return r.afterLostRace(ctx, c, paymentID, log)
	}

	log.Info("booking payment applied", "payment_id", paymentID, "transition", tr.String(), "status", string(next.Status))
	res = r.finish(ctx, next, c, paymentID, false)
	res.Transitioned = true
	return res, nil
}

// afterLostRace re-reads the row after a failed compare-and-set.
func (r *Reconciler) afterLostRace(ctx context.Context, c Confirmation, paymentID string, log *slog.Logger) (Result, error) {
	cur, err := r.store.Get(ctx, c.BookingID)
	if err != nil {
		return Result{}, err
	}
	if bookings.IsDuplicate(cur, c.Leg, paymentID) && cur.Status != model.StatusCancelled {
		log.Info("concurrent confirmation already applied", "payment_id", paymentID)
		return r.finish(ctx, cur, c, paymentID, true), nil
	}
	if _, _, err := bookings.ApplyPayment(cur, c.Leg, bookings.Payment{ID: paymentID, Method: c.Method, PaidAt: r.now()}); err != nil {
		return Result{}, err
	}
	return Result{}, fmt.Errorf("%w: booking %s", ErrConcurrentUpdate, c.BookingID)
}

func (r *Reconciler) verify(ctx context.Context, b model.Booking, c Confirmation) (payments.Status, error) {
	gw, err := r.gateways.For(c.Method)
	if err != nil {
		return payments.Status{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	gctx, cancel := context.WithTimeout(ctx, r.cfg.GatewayTimeout)
	defer cancel()

	st, err := gw.PaymentStatus(gctx, c.ExternalPaymentID)
	if err != nil {
		return payments.Status{}, err
	}
	if err := payments.Verify(st, b.ID, c.Leg); err != nil {
		return payments.Status{}, err
	}
	if st.PaymentID == "" {
		st.PaymentID = c.ExternalPaymentID
	}
	return st, nil
}

func (r *Reconciler) finish(ctx context.Context, b model.Booking, c Confirmation, paymentID string, duplicate bool) Result {
	res := Result{
		BookingID:     b.ID,
		BookingStatus: b.Status,
		Leg:           c.Leg,
		PaymentID:     paymentID,
		Duplicate:     duplicate,
	}
	res.CalendarEventID, res.Warnings = r.runSideEffects(ctx, b)
	return res
}

// Recover retries missing side effects of an already confirmed booking.
func (r *Reconciler) Recover(ctx context.Context, bookingID string) (Result, error) {
	b, err := r.store.Get(ctx, bookingID)
	if err != nil {
		return Result{}, err
	}
	res := Result{BookingID: b.ID, BookingStatus: b.Status, Leg: model.LegDeposit, PaymentID: b.Deposit.PaymentID, Duplicate: true}
	res.CalendarEventID, res.Warnings = r.runSideEffects(ctx, b)
	return res, nil
}

// Lookup returns the stored booking without touching it.
func (r *Reconciler) Lookup(ctx context.Context, bookingID string) (model.Booking, error) {
	return r.store.Get(ctx, bookingID)
}

type paymentConfirmedEvent struct {
	BookingID   string    `json:"booking_id"`
	Leg         string    `json:"payment_leg"`
	PaymentID   string    `json:"payment_id"`
	Method      string    `json:"method"`
	Status      string    `json:"booking_status"`
	Channel     string    `json:"channel"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}
