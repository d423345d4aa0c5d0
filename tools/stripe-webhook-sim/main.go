package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

func main() {
	var (
		baseURL   = flag.String("base-url", getenv("BASE_URL", "http://localhost:8080"), "booking service base url")
		evtType   = flag.String("type", getenv("STRIPE_EVENT_TYPE", "payment_intent.succeeded"), "stripe event type")
		bookingID = flag.String("booking-id", getenv("BOOKING_ID", ""), "booking_id metadata")
		leg       = flag.String("leg", getenv("PAYMENT_LEG", "deposit"), "payment_leg metadata (deposit|remaining)")
		paymentID = flag.String("payment-id", getenv("PAYMENT_ID", ""), "payment intent id (default: random pi_test_...)")
		secret    = flag.String("secret", getenv("STRIPE_WEBHOOK_SECRET", ""), "stripe webhook signing secret (whsec_...)")
		repeat    = flag.Int("repeat", 1, "send the same event this many times")
	)
	flag.Parse()

	if strings.TrimSpace(*secret) == "" {
		fatal("STRIPE_WEBHOOK_SECRET is required")
	}
	if _, err := uuid.Parse(strings.TrimSpace(*bookingID)); err != nil {
		fatal("BOOKING_ID must be a uuid")
	}
	if *paymentID == "" {
		*paymentID = "pi_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
	}

	now := time.Now().UTC()
	eventID := fmt.Sprintf("evt_test_%d", now.UnixNano())
	payload, err := buildEventJSON(eventID, *evtType, now, *bookingID, *leg, *paymentID)
	if err != nil {
		fatal(err.Error())
	}

	for i := 0; i < *repeat; i++ {
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   payload,
			Secret:    *secret,
			Timestamp: time.Now(),
			Scheme:    "v1",
		})
		req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*baseURL, "/")+"/api/v1/webhooks/stripe", bytes.NewReader(payload))
		if err != nil {
			fatal(err.Error())
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Stripe-Signature", signed.Header)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			fatal(err.Error())
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		fmt.Printf("attempt=%d status=%d body=%s\n", i+1, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

func buildEventJSON(eventID, eventType string, t time.Time, bookingID, leg, paymentID string) ([]byte, error) {
	metadata := map[string]any{
		"booking_id":  bookingID,
		"payment_leg": leg,
	}
	var object map[string]any
	switch eventType {
	case "payment_intent.succeeded":
		object = map[string]any{
			"id":       paymentID,
			"object":   "payment_intent",
			"status":   "succeeded",
			"metadata": metadata,
		}
	case "checkout.session.completed":
		object = map[string]any{
			"id":             "cs_test_" + strings.TrimPrefix(paymentID, "pi_test_"),
			"object":         "checkout.session",
			"payment_status": "paid",
			"payment_intent": paymentID,
			"metadata":       metadata,
		}
	default:
		return nil, fmt.Errorf("unsupported event type: %s", eventType)
	}
	return json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"created":     t.Unix(),
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": object},
	})
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
