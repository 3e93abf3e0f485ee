package core

import (
	"fmt"
)

// Booking is the booking summary the backend attaches to booking frames.
// new_booking carries every field, booking_confirmed only ID.
type Booking struct {
	ID      string  `json:"id"`
	Service string  `json:"service,omitempty"`
	Amount  float64 `json:"amount,omitempty"`
	User    string  `json:"user,omitempty"`
}

// Notice is the user-facing shape of a notification frame.
type Notice struct {
	Type      string   `json:"type"`
	Message   string   `json:"message"`
	Timestamp string   `json:"timestamp,omitempty"`
	Booking   *Booking `json:"data,omitempty"`
}

// DecodeNotice decodes a notification, booking_update, new_booking or
// booking_confirmed event, including synthesized info notices.
func DecodeNotice(ev Event) (Notice, error) {
	switch ev.Category {
	case CategoryConnection, CategoryError:
		return Notice{}, fmt.Errorf("%w: %s events carry no notice", ErrUnexpectedPayload, ev.Category)
	}

	var n Notice
	if err := ev.Decode(&n); err != nil {
		return Notice{}, fmt.Errorf("decode %s notice: %w", ev.Category, err)
	}
	if n.Type == "" {
		n.Type = ev.Category
	}
	return n, nil
}
