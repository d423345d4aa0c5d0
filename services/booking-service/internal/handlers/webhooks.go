package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/bookings"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/payments"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/reconcile"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/storage"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

const maxWebhookBody = 1 << 20

// EventVerifier re-fetches a wallet gateway event by id.
type EventVerifier interface {
	EventKey(ctx context.Context, eventID string) (string, error)
}

type WebhookConfig struct {
	StripeSecret    string
	StripeTolerance time.Duration
}

// WebhookHandler receives gateway push notifications. There is no JWT on
// these routes; Stripe is authenticated by signature and Omise events are
// re-fetched from Omise before use.
type WebhookHandler struct {
	rec    Confirmer
	omise  EventVerifier
	cfg    WebhookConfig
	logger *slog.Logger
}

func NewWebhookHandler(rec Confirmer, omise EventVerifier, cfg WebhookConfig, logger *slog.Logger) *WebhookHandler {
	if cfg.StripeTolerance <= 0 {
		cfg.StripeTolerance = webhook.DefaultTolerance
	}
	return &WebhookHandler{rec: rec, omise: omise, cfg: cfg, logger: logger}
}

func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if strings.TrimSpace(h.cfg.StripeSecret) == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}
	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	evt, err := webhook.ConstructEventWithOptions(body, sigHeader, h.cfg.StripeSecret, webhook.ConstructEventOptions{
		Tolerance:                h.cfg.StripeTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}
	h.logger.Info("payment provider event received", "provider", "stripe", "provider_event_id", evt.ID, "event_type", string(evt.Type))

	var (
		paymentID string
		metadata  map[string]string
	)
	switch evt.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
			h.logger.Error("stripe: invalid payment intent payload", "err", err)
			http.Error(w, "invalid event payload", http.StatusBadRequest)
			return
		}
		paymentID, metadata = pi.ID, pi.Metadata
	case stripe.EventTypeCheckoutSessionCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &sess); err != nil {
			h.logger.Error("stripe: invalid checkout session payload", "err", err)
			http.Error(w, "invalid event payload", http.StatusBadRequest)
			return
		}
		// The session carries the booking metadata; the gateway resolves it
		// to its payment intent during verification.
		paymentID, metadata = sess.ID, sess.Metadata
	default:
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	bookingID := strings.TrimSpace(metadata[payments.MetaBookingID])
	if bookingID == "" {
		h.logger.Warn("stripe: missing booking_id metadata", "provider_event_id", evt.ID)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}
	h.handle(w, r, "stripe", bookingID, metadata[payments.MetaLeg], paymentID, model.MethodCard)
}

type omiseWebhookEvent struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Data struct {
		Object   string         `json:"object"`
		ID       string         `json:"id"`
		Metadata map[string]any `json:"metadata"`
	} `json:"data"`
}

const omiseChargeComplete = "charge.complete"

func (h *WebhookHandler) Omise(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.omise == nil {
		http.Error(w, "omise webhook not configured", http.StatusServiceUnavailable)
		return
	}
	var evt omiseWebhookEvent
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&evt); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(evt.ID) == "" {
		http.Error(w, "missing event id", http.StatusBadRequest)
		return
	}
	h.logger.Info("payment provider event received", "provider", "omise", "provider_event_id", evt.ID, "event_type", evt.Key)
	if evt.Key != omiseChargeComplete || evt.Data.Object != "charge" {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	key, err := h.omise.EventKey(r.Context(), evt.ID)
	if err != nil {
		if errors.Is(err, payments.ErrUnverifiedPayment) {
			h.logger.Warn("omise: event could not be re-fetched", "provider_event_id", evt.ID, "err", err)
			writeJSON(w, http.StatusOK, map[string]any{"status": "rejected"})
			return
		}
		h.logger.Error("omise: event lookup failed", "provider_event_id", evt.ID, "err", err)
		http.Error(w, "payment gateway unavailable", http.StatusServiceUnavailable)
		return
	}
	if key != omiseChargeComplete {
		h.logger.Warn("omise: event key mismatch", "provider_event_id", evt.ID, "claimed", evt.Key, "actual", key)
		writeJSON(w, http.StatusOK, map[string]any{"status": "rejected"})
		return
	}

	bookingID := metaString(evt.Data.Metadata, payments.MetaBookingID)
	if bookingID == "" {
		h.logger.Warn("omise: missing booking_id metadata", "provider_event_id", evt.ID)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}
	h.handle(w, r, "omise", bookingID, metaString(evt.Data.Metadata, payments.MetaLeg), evt.Data.ID, model.MethodWallet)
}

func metaString(m map[string]any, key string) string {
	if v, ok := m[key]; ok && v != nil {
		return strings.TrimSpace(fmt.Sprint(v))
	}
	return ""
}

// handle runs the shared reconciliation. Rejections answer 200 so the gateway
// stops retrying; transient failures answer 5xx so it retries.
func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request, provider, bookingID, leg, paymentID string, method model.Method) {
	c, msg := buildConfirmation(bookingID, paymentID, leg, string(method), reconcile.ChannelWebhook)
	if msg != "" {
		h.logger.Warn("webhook confirmation rejected", "provider", provider, "booking_id", bookingID, "reason", msg)
		writeJSON(w, http.StatusOK, map[string]any{"status": "rejected", "reason": msg})
		return
	}

	res, err := h.rec.Confirm(r.Context(), c)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"status":        "ok",
			"bookingStatus": string(res.BookingStatus),
			"duplicate":     res.Duplicate,
			"warnings":      warningStrings(res.Warnings),
		})
	case errors.Is(err, bookings.ErrInvalidTransition),
		errors.Is(err, payments.ErrUnverifiedPayment),
		errors.Is(err, reconcile.ErrInvalidRequest),
		errors.Is(err, storage.ErrNotFound):
		h.logger.Warn("webhook confirmation rejected", "provider", provider, "booking_id", bookingID, "payment_id", paymentID, "err", err)
		writeJSON(w, http.StatusOK, map[string]any{"status": "rejected", "reason": err.Error()})
	default:
		code := statusFor(err)
		if code < 500 {
			code = http.StatusServiceUnavailable
		}
		h.logger.Error("webhook confirmation failed", "provider", provider, "booking_id", bookingID, "payment_id", paymentID, "err", err)
		http.Error(w, errorMessage(code, err), code)
	}
}
