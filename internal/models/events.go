package models

import "time"

// Event types
const (
	EventTypeRegistrationCreated       = "REGISTRATION_CREATED"
	EventTypeRegistrationCompleted     = "REGISTRATION_COMPLETED"
	EventTypeRegistrationExpired       = "REGISTRATION_EXPIRED"
	EventTypeRegistrationFailed        = "REGISTRATION_FAILED"
	EventTypeRegistrationPaymentFailed = "REGISTRATION_PAYMENT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// RegistrationCreatedEvent published when a checkout session is created
type RegistrationCreatedEvent struct {
	BaseEvent
	RegistrationID string `json:"registration_id"`
	SessionID      string `json:"session_id"`
	Email          string `json:"email"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
}

// RegistrationCompletedEvent published when a payment is reconciled as paid
type RegistrationCompletedEvent struct {
	BaseEvent
	RegistrationID   string `json:"registration_id"`
	SessionID        string `json:"session_id"`
	Email            string `json:"email"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	ConfirmationSent bool   `json:"confirmation_sent"`
}

// RegistrationExpiredEvent published when a checkout session expires unpaid
type RegistrationExpiredEvent struct {
	BaseEvent
	RegistrationID string `json:"registration_id"`
	SessionID      string `json:"session_id"`
}

// RegistrationFailedEvent published when a registration attempt fails
// before a session is created
type RegistrationFailedEvent struct {
	BaseEvent
	RegistrationID string `json:"registration_id"`
	Reason         string `json:"reason"`
}

// RegistrationPaymentFailedEvent published when the provider reports a
// failed payment attempt on an open session
type RegistrationPaymentFailedEvent struct {
	BaseEvent
	RegistrationID string `json:"registration_id"`
	SessionID      string `json:"session_id"`
	Reason         string `json:"reason"`
}
