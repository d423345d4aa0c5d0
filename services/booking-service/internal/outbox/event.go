package outbox

import "encoding/json"

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	AggregateBooking = "booking"

	TypePaymentConfirmed = "booking.payment.confirmed.v1"
	TypeBookingCancelled = "booking.cancelled.v1"
)

func NewBookingEvent(eventType, bookingID string, payload any) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: AggregateBooking,
		AggregateID:   bookingID,
		EventType:     eventType,
		Payload:       body,
	}, nil
}
