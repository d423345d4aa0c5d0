package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/payments"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/reconcile"
)

// Confirmer is the reconciler surface used by the payment entry points.
type Confirmer interface {
	Confirm(ctx context.Context, c reconcile.Confirmation) (reconcile.Result, error)
	Lookup(ctx context.Context, bookingID string) (model.Booking, error)
}

type PaymentHandler struct {
	rec    Confirmer
	logger *slog.Logger
}

func NewPaymentHandler(rec Confirmer, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{rec: rec, logger: logger}
}

type confirmRequest struct {
	BookingID         string `json:"bookingId"`
	ExternalPaymentID string `json:"externalPaymentId"`
	PaymentLeg        string `json:"paymentLeg"`
	Method            string `json:"method"`
}

type confirmResponse struct {
	Success         bool     `json:"success"`
	BookingID       string   `json:"bookingId"`
	BookingStatus   string   `json:"bookingStatus"`
	PaymentType     string   `json:"paymentType"`
	PaymentID       string   `json:"paymentId"`
	Duplicate       bool     `json:"duplicate"`
	CalendarEventID string   `json:"calendarEventId,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
}

type paymentStatusResponse struct {
	BookingID     string `json:"bookingId"`
	BookingStatus string `json:"bookingStatus"`
	PaymentType   string `json:"paymentType"`
	Paid          bool   `json:"paid"`
	PaymentID     string `json:"paymentId,omitempty"`
}

// buildConfirmation validates caller input. An empty leg means deposit and an
// empty method is inferred from the payment id prefix.
func buildConfirmation(bookingID, paymentID, leg, method string, ch reconcile.Channel) (reconcile.Confirmation, string) {
	bookingID = strings.TrimSpace(bookingID)
	paymentID = strings.TrimSpace(paymentID)
	if !validBookingID(bookingID) {
		return reconcile.Confirmation{}, "invalid bookingId"
	}
	if paymentID == "" {
		return reconcile.Confirmation{}, "externalPaymentId is required"
	}
	l := model.LegDeposit
	if raw := strings.TrimSpace(strings.ToLower(leg)); raw != "" {
		parsed, ok := model.ParseLeg(raw)
		if !ok {
			return reconcile.Confirmation{}, "invalid paymentLeg"
		}
		l = parsed
	}
	var m model.Method
	if raw := strings.TrimSpace(strings.ToLower(method)); raw != "" {
		parsed, ok := model.ParseMethod(raw)
		if !ok {
			return reconcile.Confirmation{}, "invalid method"
		}
		m = parsed
	} else {
		inferred, ok := payments.InferMethod(paymentID)
		if !ok {
			return reconcile.Confirmation{}, "method is required for this payment id"
		}
		m = inferred
	}
	return reconcile.Confirmation{BookingID: bookingID, Leg: l, ExternalPaymentID: paymentID, Method: m, Channel: ch}, ""
}

// Confirm handles the browser redirect after checkout.
func (h *PaymentHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	c, msg := buildConfirmation(req.BookingID, req.ExternalPaymentID, req.PaymentLeg, req.Method, reconcile.ChannelRedirect)
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}
	h.confirm(w, r, c)
}

// Status is the polling entry point. With externalPaymentId it reconciles;
// without it only reports the stored state of the leg.
func (h *PaymentHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	if strings.TrimSpace(q.Get("externalPaymentId")) != "" {
		c, msg := buildConfirmation(q.Get("bookingId"), q.Get("externalPaymentId"), q.Get("paymentLeg"), q.Get("method"), reconcile.ChannelPolling)
		if msg != "" {
			http.Error(w, msg, http.StatusBadRequest)
			return
		}
		h.confirm(w, r, c)
		return
	}

	bookingID := strings.TrimSpace(q.Get("bookingId"))
	if !validBookingID(bookingID) {
		http.Error(w, "invalid bookingId", http.StatusBadRequest)
		return
	}
	leg := model.LegDeposit
	if raw := strings.TrimSpace(q.Get("paymentLeg")); raw != "" {
		parsed, ok := model.ParseLeg(raw)
		if !ok {
			http.Error(w, "invalid paymentLeg", http.StatusBadRequest)
			return
		}
		leg = parsed
	}
	b, err := h.rec.Lookup(r.Context(), bookingID)
	if err != nil {
		code := statusFor(err)
		if code >= 500 {
			h.logger.Error("payment status lookup failed", "booking_id", bookingID, "err", err)
		}
		http.Error(w, errorMessage(code, err), code)
		return
	}
	lp := b.LegPayment(leg)
	writeJSON(w, http.StatusOK, paymentStatusResponse{
		BookingID:     b.ID,
		BookingStatus: string(b.Status),
		PaymentType:   string(leg),
		Paid:          lp.Paid,
		PaymentID:     lp.PaymentID,
	})
}

func (h *PaymentHandler) confirm(w http.ResponseWriter, r *http.Request, c reconcile.Confirmation) {
	res, err := h.rec.Confirm(r.Context(), c)
	if err != nil {
		code := statusFor(err)
		if code >= 500 {
			h.logger.Error("payment confirmation failed", "booking_id", c.BookingID, "channel", string(c.Channel), "err", err)
		}
		http.Error(w, errorMessage(code, err), code)
		return
	}
	writeJSON(w, http.StatusOK, confirmResponse{
		Success:         true,
		BookingID:       res.BookingID,
		BookingStatus:   string(res.BookingStatus),
		PaymentType:     string(res.Leg),
		PaymentID:       res.PaymentID,
		Duplicate:       res.Duplicate,
		CalendarEventID: res.CalendarEventID,
		Warnings:        warningStrings(res.Warnings),
	})
}
