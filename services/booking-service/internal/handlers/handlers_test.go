package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/studiobook/libs/auth"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/bookings"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/payments"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/reconcile"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/storage"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

const testBookingID = "6f1c2a7e-2b7d-4c55-9d7e-0a1b2c3d4e5f"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSlots struct {
	slots []availability.Slot
	err   error
}

func (f fakeSlots) Available(context.Context, string, float64) ([]availability.Slot, error) {
	return f.slots, f.err
}

type fakeConfirmer struct {
	mu      sync.Mutex
	got     []reconcile.Confirmation
	err     error
	booking model.Booking
}

func (f *fakeConfirmer) Confirm(_ context.Context, c reconcile.Confirmation) (reconcile.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, c)
	if f.err != nil {
		return reconcile.Result{}, f.err
	}
	return reconcile.Result{
		BookingID:     c.BookingID,
		BookingStatus: model.StatusConfirmed,
		Leg:           c.Leg,
		PaymentID:     c.ExternalPaymentID,
		Duplicate:     len(f.got) > 1,
		Transitioned:  len(f.got) == 1,
	}, nil
}

func (f *fakeConfirmer) Lookup(_ context.Context, id string) (model.Booking, error) {
	if f.booking.ID != id {
		return model.Booking{}, storage.ErrNotFound
	}
	return f.booking, nil
}

func (f *fakeConfirmer) calls() []reconcile.Confirmation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]reconcile.Confirmation(nil), f.got...)
}

func TestAvailability(t *testing.T) {
	loc := time.FixedZone("EET", 2*60*60)
	slots := []availability.Slot{
		{Start: time.Date(2026, 3, 4, 9, 0, 0, 0, loc), End: time.Date(2026, 3, 4, 11, 0, 0, 0, loc)},
		{Start: time.Date(2026, 3, 4, 10, 0, 0, 0, loc), End: time.Date(2026, 3, 4, 12, 0, 0, 0, loc)},
	}
	h := NewAvailabilityHandler(fakeSlots{slots: slots}, discardLogger())

	rw := httptest.NewRecorder()
	h.Get(rw, httptest.NewRequest(http.MethodGet, "/api/v1/availability?date=2026-03-04&duration=2", nil))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	var resp availabilityResponse
	if err := json.NewDecoder(rw.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Slots) != 2 || resp.Slots[0].Start != "09:00" || resp.Slots[1].End != "12:00" {
		t.Fatalf("unexpected slots %+v", resp.Slots)
	}
}

func TestAvailability_EmptyIsArray(t *testing.T) {
	h := NewAvailabilityHandler(fakeSlots{slots: []availability.Slot{}}, discardLogger())
	rw := httptest.NewRecorder()
	h.Get(rw, httptest.NewRequest(http.MethodGet, "/api/v1/availability?date=2026-03-08&duration=1", nil))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	if !strings.Contains(rw.Body.String(), `"slots":[]`) {
		t.Fatalf("expected empty slots array, got %s", rw.Body.String())
	}
}

func TestAvailability_Errors(t *testing.T) {
	cases := []struct {
		name string
		url  string
		err  error
		code int
	}{
		{"missing date", "/api/v1/availability?duration=2", nil, http.StatusBadRequest},
		{"bad duration", "/api/v1/availability?date=2026-03-04&duration=x", nil, http.StatusBadRequest},
		{"invalid date", "/api/v1/availability?date=2026-13-04&duration=2", fmt.Errorf("%w: bad", availability.ErrInvalidDate), http.StatusBadRequest},
		{"calendar down", "/api/v1/availability?date=2026-03-04&duration=2", fmt.Errorf("%w: timeout", calendar.ErrUnavailable), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		h := NewAvailabilityHandler(fakeSlots{err: tc.err}, discardLogger())
		rw := httptest.NewRecorder()
		h.Get(rw, httptest.NewRequest(http.MethodGet, tc.url, nil))
		if rw.Code != tc.code {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.code, rw.Code)
		}
	}
}

func TestPaymentConfirm_InfersMethod(t *testing.T) {
	rec := &fakeConfirmer{}
	h := NewPaymentHandler(rec, discardLogger())

	body := `{"bookingId":"` + testBookingID + `","externalPaymentId":"chrg_test_1","paymentLeg":"deposit"}`
	rw := httptest.NewRecorder()
	h.Confirm(rw, httptest.NewRequest(http.MethodPost, "/api/v1/payments/confirm", strings.NewReader(body)))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	got := rec.calls()
	if len(got) != 1 {
		t.Fatalf("expected 1 confirmation, got %d", len(got))
	}
	if got[0].Method != model.MethodWallet || got[0].Channel != reconcile.ChannelRedirect || got[0].Leg != model.LegDeposit {
		t.Fatalf("unexpected confirmation %+v", got[0])
	}
	var resp confirmResponse
	if err := json.NewDecoder(rw.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.BookingStatus != "confirmed" || resp.PaymentType != "deposit" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestPaymentConfirm_BadInput(t *testing.T) {
	h := NewPaymentHandler(&fakeConfirmer{}, discardLogger())
	bodies := []string{
		`not json`,
		`{"bookingId":"nope","externalPaymentId":"pi_1"}`,
		`{"bookingId":"` + testBookingID + `","externalPaymentId":""}`,
		`{"bookingId":"` + testBookingID + `","externalPaymentId":"pi_1","paymentLeg":"tip"}`,
		`{"bookingId":"` + testBookingID + `","externalPaymentId":"unknown_1"}`,
	}
	for _, b := range bodies {
		rw := httptest.NewRecorder()
		h.Confirm(rw, httptest.NewRequest(http.MethodPost, "/api/v1/payments/confirm", strings.NewReader(b)))
		if rw.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", b, rw.Code)
		}
	}
}

func TestPaymentConfirm_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: nope", payments.ErrUnverifiedPayment), http.StatusPaymentRequired},
		{fmt.Errorf("%w: cancelled", bookings.ErrInvalidTransition), http.StatusConflict},
		{storage.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: stripe", payments.ErrGatewayUnavailable), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := NewPaymentHandler(&fakeConfirmer{err: tc.err}, discardLogger())
		body := `{"bookingId":"` + testBookingID + `","externalPaymentId":"pi_1","paymentLeg":"deposit","method":"card"}`
		rw := httptest.NewRecorder()
		h.Confirm(rw, httptest.NewRequest(http.MethodPost, "/api/v1/payments/confirm", strings.NewReader(body)))
		if rw.Code != tc.code {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.code, rw.Code)
		}
	}
}

func TestPaymentStatus(t *testing.T) {
	paidAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := &fakeConfirmer{booking: model.Booking{
		ID:      testBookingID,
		Status:  model.StatusConfirmed,
		Deposit: model.LegPayment{Paid: true, PaymentID: "pi_1", Method: model.MethodCard, PaidAt: &paidAt},
	}}
	h := NewPaymentHandler(rec, discardLogger())

	rw := httptest.NewRecorder()
	h.Status(rw, httptest.NewRequest(http.MethodGet, "/api/v1/payments/status?bookingId="+testBookingID, nil))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	var resp paymentStatusResponse
	if err := json.NewDecoder(rw.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Paid || resp.PaymentID != "pi_1" || resp.BookingStatus != "confirmed" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(rec.calls()) != 0 {
		t.Fatalf("lookup must not reconcile")
	}

	rw = httptest.NewRecorder()
	h.Status(rw, httptest.NewRequest(http.MethodGet, "/api/v1/payments/status?bookingId="+testBookingID+"&paymentLeg=remaining&externalPaymentId=pi_2", nil))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	got := rec.calls()
	if len(got) != 1 || got[0].Channel != reconcile.ChannelPolling || got[0].Leg != model.LegRemaining {
		t.Fatalf("expected one polling confirmation, got %+v", got)
	}

	rw = httptest.NewRecorder()
	h.Status(rw, httptest.NewRequest(http.MethodGet, "/api/v1/payments/status?bookingId=7e0b5d2c-1111-4c55-9d7e-0a1b2c3d4e5f", nil))
	if rw.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rw.Code)
	}
}

const testWebhookSecret = "whsec_test_secret"

func signedStripeRequest(t *testing.T, eventType string, object map[string]any, secret string) *http.Request {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_test_1",
		"object":      "event",
		"created":     time.Now().Unix(),
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": object},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

func paymentIntentObject() map[string]any {
	return map[string]any{
		"id":     "pi_test_1",
		"object": "payment_intent",
		"status": "succeeded",
		"metadata": map[string]any{
			payments.MetaBookingID: testBookingID,
			payments.MetaLeg:       "deposit",
		},
	}
}

func TestStripeWebhook_PaymentIntentSucceeded(t *testing.T) {
	rec := &fakeConfirmer{}
	h := NewWebhookHandler(rec, nil, WebhookConfig{StripeSecret: testWebhookSecret}, discardLogger())

	rw := httptest.NewRecorder()
	h.Stripe(rw, signedStripeRequest(t, "payment_intent.succeeded", paymentIntentObject(), testWebhookSecret))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	got := rec.calls()
	if len(got) != 1 {
		t.Fatalf("expected 1 confirmation, got %d", len(got))
	}
	c := got[0]
	if c.BookingID != testBookingID || c.ExternalPaymentID != "pi_test_1" || c.Method != model.MethodCard || c.Channel != reconcile.ChannelWebhook {
		t.Fatalf("unexpected confirmation %+v", c)
	}
}

func TestStripeWebhook_CheckoutSessionPassesSessionID(t *testing.T) {
	rec := &fakeConfirmer{}
	h := NewWebhookHandler(rec, nil, WebhookConfig{StripeSecret: testWebhookSecret}, discardLogger())

	obj := map[string]any{
		"id":             "cs_test_1",
		"object":         "checkout.session",
		"payment_intent": "pi_test_9",
		"metadata":       map[string]any{payments.MetaBookingID: testBookingID},
	}
	rw := httptest.NewRecorder()
	h.Stripe(rw, signedStripeRequest(t, "checkout.session.completed", obj, testWebhookSecret))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	got := rec.calls()
	if len(got) != 1 || got[0].ExternalPaymentID != "cs_test_1" {
		t.Fatalf("expected checkout session id, got %+v", got)
	}
}

func TestStripeWebhook_Rejections(t *testing.T) {
	rec := &fakeConfirmer{}
	h := NewWebhookHandler(rec, nil, WebhookConfig{StripeSecret: testWebhookSecret}, discardLogger())

	rw := httptest.NewRecorder()
	h.Stripe(rw, signedStripeRequest(t, "payment_intent.succeeded", paymentIntentObject(), "whsec_other"))
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad signature, got %d", rw.Code)
	}

	rw = httptest.NewRecorder()
	h.Stripe(rw, signedStripeRequest(t, "customer.created", map[string]any{"id": "cus_1", "object": "customer"}, testWebhookSecret))
	if rw.Code != http.StatusOK || !strings.Contains(rw.Body.String(), "ignored") {
		t.Fatalf("expected ignored event, got %d %s", rw.Code, rw.Body.String())
	}
	if len(rec.calls()) != 0 {
		t.Fatalf("expected no confirmations")
	}
}

func TestStripeWebhook_ErrorsDecideRetry(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: forged", payments.ErrUnverifiedPayment), http.StatusOK},
		{fmt.Errorf("%w: cancelled", bookings.ErrInvalidTransition), http.StatusOK},
		{storage.ErrNotFound, http.StatusOK},
		{fmt.Errorf("%w: timeout", payments.ErrGatewayUnavailable), http.StatusServiceUnavailable},
		{reconcile.ErrConcurrentUpdate, http.StatusServiceUnavailable},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := NewWebhookHandler(&fakeConfirmer{err: tc.err}, nil, WebhookConfig{StripeSecret: testWebhookSecret}, discardLogger())
		rw := httptest.NewRecorder()
		h.Stripe(rw, signedStripeRequest(t, "payment_intent.succeeded", paymentIntentObject(), testWebhookSecret))
		if rw.Code != tc.code {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.code, rw.Code)
		}
	}
}

type fakeVerifier struct {
	key string
	err error
}

func (f fakeVerifier) EventKey(context.Context, string) (string, error) { return f.key, f.err }

func omiseBody() string {
	return `{"object":"event","id":"evnt_test_1","key":"charge.complete","data":{"object":"charge","id":"chrg_test_1","metadata":{"booking_id":"` + testBookingID + `","payment_leg":"deposit"}}}`
}

func TestOmiseWebhook(t *testing.T) {
	rec := &fakeConfirmer{}
	h := NewWebhookHandler(rec, fakeVerifier{key: "charge.complete"}, WebhookConfig{}, discardLogger())

	rw := httptest.NewRecorder()
	h.Omise(rw, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/omise", strings.NewReader(omiseBody())))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	got := rec.calls()
	if len(got) != 1 || got[0].ExternalPaymentID != "chrg_test_1" || got[0].Method != model.MethodWallet {
		t.Fatalf("unexpected confirmations %+v", got)
	}
}

func TestOmiseWebhook_Refetch(t *testing.T) {
	cases := []struct {
		name     string
		verifier fakeVerifier
		code     int
	}{
		{"key mismatch", fakeVerifier{key: "charge.create"}, http.StatusOK},
		{"unknown event", fakeVerifier{err: fmt.Errorf("%w: 404", payments.ErrUnverifiedPayment)}, http.StatusOK},
		{"omise down", fakeVerifier{err: fmt.Errorf("%w: timeout", payments.ErrGatewayUnavailable)}, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		rec := &fakeConfirmer{}
		h := NewWebhookHandler(rec, tc.verifier, WebhookConfig{}, discardLogger())
		rw := httptest.NewRecorder()
		h.Omise(rw, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/omise", strings.NewReader(omiseBody())))
		if rw.Code != tc.code {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.code, rw.Code)
		}
		if len(rec.calls()) != 0 {
			t.Fatalf("%s: expected no confirmation", tc.name)
		}
	}
}

type fakeCanceller struct {
	calls int
}

func (f *fakeCanceller) Cancel(_ context.Context, id string) (reconcile.CancelResult, error) {
	f.calls++
	return reconcile.CancelResult{Booking: model.Booking{ID: id, Status: model.StatusCancelled}, Changed: f.calls == 1}, nil
}

func TestAdminLoginAndCancel(t *testing.T) {
	hash, err := auth.HashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	iss, err := auth.NewIssuer(strings.Repeat("k", 32), "studiobook", time.Hour)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	canceller := &fakeCanceller{}
	h := NewAdminHandler(auth.Credentials{Username: "owner", PasswordHash: []byte(hash)}, iss, canceller, discardLogger())

	rw := httptest.NewRecorder()
	h.Login(rw, httptest.NewRequest(http.MethodPost, "/api/v1/admin/login", strings.NewReader(`{"username":"owner","password":"wrong"}`)))
	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rw.Code)
	}

	rw = httptest.NewRecorder()
	h.Login(rw, httptest.NewRequest(http.MethodPost, "/api/v1/admin/login", strings.NewReader(`{"username":"owner","password":"s3cret-pass"}`)))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	var login loginResponse
	if err := json.NewDecoder(rw.Body).Decode(&login); err != nil || login.Token == "" {
		t.Fatalf("expected token, got %+v (%v)", login, err)
	}

	cancel := auth.RequireRole(iss, http.HandlerFunc(h.Cancel), auth.RoleAdmin)
	body := `{"bookingId":"` + testBookingID + `"}`

	rw = httptest.NewRecorder()
	cancel.ServeHTTP(rw, httptest.NewRequest(http.MethodPost, "/api/v1/admin/bookings/cancel", strings.NewReader(body)))
	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rw.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/bookings/cancel", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+login.Token)
	rw = httptest.NewRecorder()
	cancel.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	var resp cancelResponse
	if err := json.NewDecoder(rw.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.BookingStatus != "cancelled" || !resp.Changed {
		t.Fatalf("unexpected response %+v", resp)
	}
}
