package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Registration represents one checkout attempt and its lifecycle.
type Registration struct {
	ID           string `db:"id" json:"id"`
	Name         string `db:"name" json:"name"`
	Email        string `db:"email" json:"email"`
	Phone        string `db:"phone" json:"phone"`
	Organization string `db:"organization" json:"organization"`
	Role         string `db:"role" json:"role"`
	Country      string `db:"country" json:"country"`

	Amount        int64  `db:"amount" json:"amount"`
	Currency      string `db:"currency" json:"currency"`
	AmountDisplay string `db:"amount_display" json:"amount_display"`

	StripeSessionID *string `db:"stripe_session_id" json:"stripe_session_id,omitempty"`
	PaymentIntentID *string `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	CustomerID      *string `db:"customer_id" json:"customer_id,omitempty"`

	Status        string `db:"status" json:"status"`
	PaymentStatus string `db:"payment_status" json:"payment_status"`

	ConfirmationSent      bool       `db:"confirmation_sent" json:"confirmation_sent"`
	ConfirmationSentAt    *time.Time `db:"confirmation_sent_at" json:"confirmation_sent_at,omitempty"`
	LastNotificationError *string    `db:"last_notification_error" json:"last_notification_error,omitempty"`

	ClientIP     string     `db:"client_ip" json:"client_ip,omitempty"`
	UserAgent    string     `db:"user_agent" json:"user_agent,omitempty"`
	Metadata     Metadata   `db:"metadata" json:"metadata,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	ErrorDetail  *string    `db:"error_detail" json:"error_detail,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// Lifecycle statuses
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusExpired   = "expired"
	StatusCancelled = "cancelled"
)

// Payment statuses
const (
	PaymentStatusUnpaid = "unpaid"
	PaymentStatusPaid   = "paid"
	PaymentStatusFailed = "failed"
)

// IsTerminal reports whether the registration is in a terminal lifecycle
// state. No transition is permitted out of a terminal state.
func (r *Registration) IsTerminal() bool {
	switch r.Status {
	case StatusCompleted, StatusFailed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Metadata is a free-form string map stored as a jsonb column.
type Metadata map[string]string

// Value implements driver.Valuer for jsonb storage.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for jsonb storage.
func (m *Metadata) Scan(src interface{}) error {
	if src == nil {
		*m = nil
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata type %T", src)
	}
	return json.Unmarshal(b, m)
}

// ProcessedEvent records a handled webhook delivery for deduplication.
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

// StatusCounts aggregates registrations by lifecycle status.
type StatusCounts struct {
	Pending   int64 `db:"pending" json:"pending"`
	Completed int64 `db:"completed" json:"completed"`
	Failed    int64 `db:"failed" json:"failed"`
	Expired   int64 `db:"expired" json:"expired"`
	Cancelled int64 `db:"cancelled" json:"cancelled"`
	Total     int64 `db:"total" json:"total"`
}

// CurrencyTotal is the paid amount aggregated per currency.
type CurrencyTotal struct {
	Currency string `db:"currency" json:"currency"`
	Amount   int64  `db:"amount" json:"amount"`
	Count    int64  `db:"count" json:"count"`
}
