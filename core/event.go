package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Categories the backend and the manager emit. Any other string received
// in a frame's "type" field is dispatched under that string.
const (
	CategoryNotification     = "notification"
	CategoryBookingUpdate    = "booking_update"
	CategoryConnection       = "connection"
	CategoryError            = "error"
	CategoryNewBooking       = "new_booking"
	CategoryBookingConfirmed = "booking_confirmed"
)

// infoTimestampLayout matches JavaScript's Date.toISOString.
const infoTimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Event is what handlers receive. Data and Raw are set for frame-derived
// events, Connected for the connection category and Err for error.
type Event struct {
	Category   string
	Data       map[string]any
	Raw        []byte
	Connected  bool
	Err        error
	ReceivedAt time.Time
}

type Handler func(Event)

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if len(e.Raw) == 0 {
		return fmt.Errorf("%w: %s event has no payload", ErrUnexpectedPayload, e.Category)
	}
	return json.Unmarshal(e.Raw, v)
}

// classifyFrame turns an inbound frame into the event to dispatch. It never
// fails: anything that is not a JSON object becomes an info notification.
func classifyFrame(payload []byte, now time.Time) Event {
	trimmed := bytes.TrimSpace(payload)
	// Only objects are structured payloads. Scalars, arrays and null are
	// handed to listeners as text, like any other non-object frame.
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var data map[string]any
		if err := json.Unmarshal(trimmed, &data); err == nil && data != nil {
			category := CategoryNotification
			if t, ok := data["type"].(string); ok && t != "" {
				category = t
			}
			return Event{Category: category, Data: data, Raw: payload, ReceivedAt: now}
		}
	}

	data := map[string]any{
		"message":   string(payload),
		"type":      "info",
		"timestamp": now.UTC().Format(infoTimestampLayout),
	}
	raw, _ := json.Marshal(data)
	return Event{Category: CategoryNotification, Data: data, Raw: raw, ReceivedAt: now}
}
