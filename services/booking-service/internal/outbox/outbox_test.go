package outbox

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/md-rashed-zaman/studiobook/libs/kafkax"
)

func TestNewBookingEvent(t *testing.T) {
	evt, err := NewBookingEvent(TypePaymentConfirmed, "b1", map[string]string{"leg": "deposit"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evt.AggregateType != AggregateBooking || evt.AggregateID != "b1" || evt.EventType != TypePaymentConfirmed {
		t.Fatalf("unexpected event %+v", evt)
	}
	var payload map[string]string
	if err := json.Unmarshal(evt.Payload, &payload); err != nil || payload["leg"] != "deposit" {
		t.Fatalf("unexpected payload %s", evt.Payload)
	}
}

func TestToMessage_RoutesByEventType(t *testing.T) {
	msg := toMessage(context.Background(), Record{
		EventID:       "e-1",
		AggregateType: AggregateBooking,
		AggregateID:   "b1",
		EventType:     TypeBookingCancelled,
		Payload:       []byte(`{}`),
	})
	if msg.Topic != TypeBookingCancelled || string(msg.Key) != "b1" {
		t.Fatalf("unexpected routing: topic=%s key=%s", msg.Topic, msg.Key)
	}
	if kafkax.HeaderValue(msg.Headers, "event_id") != "e-1" {
		t.Fatalf("expected event_id header")
	}
}
