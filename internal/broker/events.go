package broker

import (
	"context"
	"fmt"

	"registration-service/internal/models"
)

// EventPublisher handles publishing registration lifecycle events. All
// publishes are best-effort: callers log failures and move on, the event
// stream is not on the request's critical path.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishRegistrationCreated publishes RegistrationCreated event
func (ep *EventPublisher) PublishRegistrationCreated(ctx context.Context, event *models.RegistrationCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, eventKey(event.RegistrationID), event)
}

// PublishRegistrationCompleted publishes RegistrationCompleted event
func (ep *EventPublisher) PublishRegistrationCompleted(ctx context.Context, event *models.RegistrationCompletedEvent) error {
	return ep.producer.PublishEvent(ctx, eventKey(event.RegistrationID), event)
}

// PublishRegistrationExpired publishes RegistrationExpired event
func (ep *EventPublisher) PublishRegistrationExpired(ctx context.Context, event *models.RegistrationExpiredEvent) error {
	return ep.producer.PublishEvent(ctx, eventKey(event.RegistrationID), event)
}

// PublishRegistrationFailed publishes RegistrationFailed event
func (ep *EventPublisher) PublishRegistrationFailed(ctx context.Context, event *models.RegistrationFailedEvent) error {
	return ep.producer.PublishEvent(ctx, eventKey(event.RegistrationID), event)
}

// PublishRegistrationPaymentFailed publishes RegistrationPaymentFailed event
func (ep *EventPublisher) PublishRegistrationPaymentFailed(ctx context.Context, event *models.RegistrationPaymentFailedEvent) error {
	return ep.producer.PublishEvent(ctx, eventKey(event.RegistrationID), event)
}

func eventKey(registrationID string) string {
	return fmt.Sprintf("registration-%s", registrationID)
}
