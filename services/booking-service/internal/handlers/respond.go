package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/bookings"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/payments"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/reconcile"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/storage"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, availability.ErrInvalidDate),
		errors.Is(err, availability.ErrInvalidDuration),
		errors.Is(err, reconcile.ErrInvalidRequest),
		errors.Is(err, payments.ErrUnknownMethod):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, bookings.ErrInvalidTransition),
		errors.Is(err, reconcile.ErrConcurrentUpdate):
		return http.StatusConflict
	case errors.Is(err, payments.ErrUnverifiedPayment):
		return http.StatusPaymentRequired
	case errors.Is(err, payments.ErrGatewayUnavailable),
		errors.Is(err, calendar.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage keeps internal failures out of response bodies.
func errorMessage(code int, err error) string {
	switch code {
	case http.StatusInternalServerError:
		return "internal error"
	case http.StatusNotFound:
		return "booking not found"
	case http.StatusServiceUnavailable:
		switch {
		case errors.Is(err, calendar.ErrUnavailable):
			return "calendar unavailable"
		case errors.Is(err, payments.ErrGatewayUnavailable):
			return "payment gateway unavailable"
		}
		return "temporarily unavailable"
	}
	return err.Error()
}

func warningStrings(ws []error) []string {
	if len(ws) == 0 {
		return nil
	}
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Error())
	}
	return out
}

func validBookingID(raw string) bool {
	_, err := uuid.Parse(raw)
	return err == nil
}
