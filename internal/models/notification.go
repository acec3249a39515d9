package models

import "encoding/json"

// Notification event kinds.
const (
	EventBookingCreated    = "booking.created"
	EventSubscriberCreated = "subscriber.created"
	EventContactCreated    = "contact.created"
)

// NotificationEvent is what the dispatcher hands to the email collaborator,
// either directly or through the queue.
type NotificationEvent struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// BookingEmailRequest is the body accepted by the booking email function.
type BookingEmailRequest struct {
	Booking *BookingRequest `json:"booking"`
}

// SubscriptionEmailRequest is the body accepted by the welcome email function.
type SubscriptionEmailRequest struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

// ContactEmailRequest is the body accepted by the contact email function.
type ContactEmailRequest struct {
	Contact *ContactMessage `json:"contact"`
}
