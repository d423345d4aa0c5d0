package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/availability"
)

type SlotFinder interface {
	Available(ctx context.Context, date string, durationHours float64) ([]availability.Slot, error)
}

type AvailabilityHandler struct {
	slots  SlotFinder
	logger *slog.Logger
}

func NewAvailabilityHandler(slots SlotFinder, logger *slog.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{slots: slots, logger: logger}
}

type slotItem struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type availabilityResponse struct {
	Date          string     `json:"date"`
	DurationHours float64    `json:"durationHours"`
	Slots         []slotItem `json:"slots"`
}

// Get answers GET /api/v1/availability?date=YYYY-MM-DD&duration=<hours>.
func (h *AvailabilityHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	date := strings.TrimSpace(q.Get("date"))
	if date == "" {
		http.Error(w, "date is required", http.StatusBadRequest)
		return
	}
	hours, err := strconv.ParseFloat(strings.TrimSpace(q.Get("duration")), 64)
	if err != nil {
		http.Error(w, "invalid duration", http.StatusBadRequest)
		return
	}

	slots, err := h.slots.Available(r.Context(), date, hours)
	if err != nil {
		code := statusFor(err)
		if code >= 500 {
			h.logger.Error("availability query failed", "date", date, "err", err)
		}
		http.Error(w, errorMessage(code, err), code)
		return
	}

	resp := availabilityResponse{Date: date, DurationHours: hours, Slots: make([]slotItem, 0, len(slots))}
	for _, s := range slots {
		resp.Slots = append(resp.Slots, slotItem{Start: s.Start.Format("15:04"), End: s.End.Format("15:04")})
	}
	writeJSON(w, http.StatusOK, resp)
}
