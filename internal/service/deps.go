package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"registration-service/internal/models"
	"registration-service/internal/payments"
)

// RegistrationStore is the persistence surface the service layer needs.
// Implemented by *store.Store.
type RegistrationStore interface {
	CreateRegistration(ctx context.Context, reg *models.Registration) error
	GetRegistrationByID(ctx context.Context, id string) (*models.Registration, error)
	GetRegistrationBySessionID(ctx context.Context, sessionID string) (*models.Registration, error)
	AttachSession(ctx context.Context, id, sessionID string) error
	CompleteRegistration(ctx context.Context, id string, paymentIntentID, customerID *string) (*models.Registration, error)
	ExpireRegistration(ctx context.Context, id string) (*models.Registration, error)
	MarkConfirmationSent(ctx context.Context, id string, sentAt time.Time) error
	RecordNotificationError(ctx context.Context, id, errMsg string) error
	RecordPaymentFailure(ctx context.Context, id, reason string) error
	RecordProviderError(ctx context.Context, id, errMsg, detail string) error
	ListRegistrations(ctx context.Context, status string, limit, offset int) ([]models.Registration, error)
	CountByStatus(ctx context.Context) (*models.StatusCounts, error)
	PaidTotalsByCurrency(ctx context.Context) ([]models.CurrencyTotal, error)
	AllRegistrations(ctx context.Context) ([]models.Registration, error)
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// SessionGateway is the checkout-session surface of the payment provider.
// Implemented by *payments.StripeGateway.
type SessionGateway interface {
	CreateSession(ctx context.Context, in payments.CreateSessionInput) (*payments.SessionInfo, error)
	GetSessionStatus(ctx context.Context, sessionID string) (*payments.SessionStatus, error)
	VerifyAndParseWebhook(payload []byte, sigHeader string) (*payments.WebhookEvent, error)
}

// Notifier sends the registration confirmation. Implemented by
// *mailer.Client.
type Notifier interface {
	Send(ctx context.Context, toEmail, participantName string) error
}

// Locker serializes reconciliation passes per registration id.
// Implemented by *redisclient.Client.
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// EventSink receives registration lifecycle events. Implemented by
// *broker.EventPublisher.
type EventSink interface {
	PublishRegistrationCreated(ctx context.Context, event *models.RegistrationCreatedEvent) error
	PublishRegistrationCompleted(ctx context.Context, event *models.RegistrationCompletedEvent) error
	PublishRegistrationExpired(ctx context.Context, event *models.RegistrationExpiredEvent) error
	PublishRegistrationFailed(ctx context.Context, event *models.RegistrationFailedEvent) error
	PublishRegistrationPaymentFailed(ctx context.Context, event *models.RegistrationPaymentFailedEvent) error
}

// ValidationError reports a creation request that failed boundary checks.
// The failed attempt is still persisted for audit before this surfaces.
type ValidationError struct {
	Message string
	Missing []string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Missing, ", "))
	}
	return e.Message
}
