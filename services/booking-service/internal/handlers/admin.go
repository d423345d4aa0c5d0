package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/studiobook/libs/auth"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/reconcile"
)

type Canceller interface {
	Cancel(ctx context.Context, bookingID string) (reconcile.CancelResult, error)
}

type AdminHandler struct {
	creds  auth.Credentials
	issuer *auth.Issuer
	rec    Canceller
	logger *slog.Logger
}

func NewAdminHandler(creds auth.Credentials, issuer *auth.Issuer, rec Canceller, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{creds: creds, issuer: issuer, rec: rec, logger: logger}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
}

type cancelRequest struct {
	BookingID string `json:"bookingId"`
}

type cancelResponse struct {
	BookingID     string   `json:"bookingId"`
	BookingStatus string   `json:"bookingStatus"`
	Changed       bool     `json:"changed"`
	Warnings      []string `json:"warnings,omitempty"`
}

func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	username := strings.TrimSpace(req.Username)
	if err := h.creds.Check(username, req.Password); err != nil {
		h.logger.Warn("admin login failed", "username", username)
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	token, exp, err := h.issuer.Sign(username, auth.RoleAdmin)
	if err != nil {
		h.logger.Error("admin token signing failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: exp.UTC().Format(time.RFC3339)})
}

// Cancel must be mounted behind auth.RequireRole.
func (h *AdminHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	bookingID := strings.TrimSpace(req.BookingID)
	if !validBookingID(bookingID) {
		http.Error(w, "invalid bookingId", http.StatusBadRequest)
		return
	}

	res, err := h.rec.Cancel(r.Context(), bookingID)
	if err != nil {
		code := statusFor(err)
		if code >= 500 {
			h.logger.Error("booking cancel failed", "booking_id", bookingID, "err", err)
		}
		http.Error(w, errorMessage(code, err), code)
		return
	}
	actor := ""
	if c, ok := auth.ClaimsFromContext(r.Context()); ok {
		actor = c.Subject
	}
	h.logger.Info("admin cancel", "booking_id", bookingID, "actor", actor, "changed", res.Changed)
	writeJSON(w, http.StatusOK, cancelResponse{
		BookingID:     bookingID,
		BookingStatus: string(res.Booking.Status),
		Changed:       res.Changed,
		Warnings:      warningStrings(res.Warnings),
	})
}
