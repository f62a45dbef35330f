package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"registration-service/internal/models"
	"registration-service/internal/payments"
	"registration-service/internal/store"
	"registration-service/internal/util"
)

// Reconciliation triggers. Both call sites run the same transition logic.
const (
	TriggerPoll    = "poll"
	TriggerWebhook = "webhook"
)

const reconcileLockTTL = 30 * time.Second

// Reconciler keeps registration records consistent with the provider-held
// session state. It is invoked from the client poll endpoint and from
// webhook deliveries; both paths converge on apply. Races between the two
// are resolved by the store's conditional pending->terminal updates: only
// the winning transition may trigger the confirmation mail.
type Reconciler struct {
	store    RegistrationStore
	gateway  SessionGateway
	notifier Notifier
	locks    Locker
	events   EventSink
	logger   *zap.Logger
}

// NewReconciler creates a new reconciliation engine
func NewReconciler(
	regStore RegistrationStore,
	gateway SessionGateway,
	notifier Notifier,
	locks Locker,
	events EventSink,
) *Reconciler {
	return &Reconciler{
		store:    regStore,
		gateway:  gateway,
		notifier: notifier,
		locks:    locks,
		events:   events,
		logger:   util.GetLogger(),
	}
}

// ReconcileSession is the poll trigger: it reads the provider state for a
// known session and applies the transition, returning the current record
// view. Terminal records are returned unchanged without a provider read.
func (r *Reconciler) ReconcileSession(ctx context.Context, sessionID string) (*models.Registration, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.ReconcileSession")
	defer span.End()

	start := time.Now()
	defer func() {
		util.ReconciliationLatency.Observe(time.Since(start).Seconds())
	}()

	reg, err := r.store.GetRegistrationBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if reg.IsTerminal() {
		util.ReconciliationsTotal.WithLabelValues(TriggerPoll, "noop").Inc()
		return reg, nil
	}

	acquired, lockErr := r.locks.AcquireLock(ctx, lockKey(reg.ID), reconcileLockTTL)
	if lockErr != nil {
		// Lock service unavailable. The conditional store updates still
		// guarantee single-winner transitions, so carry on.
		r.logger.Warn("Reconcile lock unavailable, relying on store CAS",
			zap.String("registration_id", reg.ID),
			zap.Error(lockErr))
	} else if !acquired {
		// Another reconciliation pass is in flight for this record;
		// report the current view instead of doubling the provider read.
		util.ReconciliationsTotal.WithLabelValues(TriggerPoll, "concurrent").Inc()
		return reg, nil
	} else {
		defer func() {
			if err := r.locks.ReleaseLock(context.WithoutCancel(ctx), lockKey(reg.ID)); err != nil {
				r.logger.Warn("Failed to release reconcile lock",
					zap.String("registration_id", reg.ID),
					zap.Error(err))
			}
		}()
	}

	status, err := r.gateway.GetSessionStatus(ctx, sessionID)
	if err != nil {
		if derr := r.store.RecordProviderError(ctx, reg.ID, "session status retrieval failed", err.Error()); derr != nil {
			r.logger.Error("Failed to record provider error",
				zap.String("registration_id", reg.ID),
				zap.Error(derr))
		}
		return nil, fmt.Errorf("failed to read session status: %w", err)
	}

	return r.apply(ctx, reg, status, TriggerPoll)
}

// ProcessWebhookEvent is the webhook trigger. The registration is resolved
// from the record id carried in session metadata, falling back to the
// session-id index. Duplicate deliveries are acknowledged without a pass.
func (r *Reconciler) ProcessWebhookEvent(ctx context.Context, evt *payments.WebhookEvent) error {
	ctx, span := util.StartSpan(ctx, "Reconciler.ProcessWebhookEvent")
	defer span.End()

	processed, err := r.store.IsEventProcessed(ctx, evt.ID)
	if err != nil {
		// Dedup bookkeeping failed; the terminal-state guard makes a
		// second pass harmless, so keep going.
		r.logger.Warn("Failed to check webhook dedup", zap.String("event_id", evt.ID), zap.Error(err))
	}
	if processed {
		r.logger.Info("Duplicate webhook delivery ignored",
			zap.String("event_id", evt.ID),
			zap.String("type", evt.Type))
		return nil
	}

	util.WebhookEventsTotal.WithLabelValues(evt.Type).Inc()

	switch evt.Type {
	case payments.EventCheckoutCompleted, payments.EventCheckoutExpired:
		if err := r.handleSessionEvent(ctx, evt); err != nil {
			return err
		}

	case payments.EventPaymentFailed:
		if err := r.handlePaymentFailed(ctx, evt); err != nil {
			return err
		}

	default:
		r.logger.Info("Unhandled webhook event type", zap.String("type", evt.Type))
	}

	if err := r.store.MarkEventProcessed(ctx, evt.ID, evt.Type); err != nil {
		r.logger.Error("Failed to mark webhook event processed",
			zap.String("event_id", evt.ID),
			zap.Error(err))
	}
	return nil
}

func (r *Reconciler) handleSessionEvent(ctx context.Context, evt *payments.WebhookEvent) error {
	reg, err := r.resolveRegistration(ctx, evt)
	if err != nil {
		return err
	}
	if reg == nil {
		r.logger.Warn("Webhook event references unknown registration",
			zap.String("event_id", evt.ID),
			zap.String("session_id", evt.SessionID))
		return nil
	}

	start := time.Now()
	defer func() {
		util.ReconciliationLatency.Observe(time.Since(start).Seconds())
	}()

	// The event payload embeds the full session object, so no provider
	// read is needed on this path.
	_, err = r.apply(ctx, reg, evt.Session, TriggerWebhook)
	return err
}

func (r *Reconciler) handlePaymentFailed(ctx context.Context, evt *payments.WebhookEvent) error {
	if evt.RegistrationID == "" {
		r.logger.Warn("Payment failure event without registration linkage",
			zap.String("event_id", evt.ID),
			zap.String("payment_intent_id", evt.PaymentIntentID))
		return nil
	}

	reason := evt.FailureMessage
	if reason == "" {
		reason = "payment attempt failed"
	}

	// Payment status is an independent axis: the session stays open and a
	// later attempt can still succeed, so the lifecycle is left pending.
	if err := r.store.RecordPaymentFailure(ctx, evt.RegistrationID, reason); err != nil {
		return fmt.Errorf("failed to record payment failure: %w", err)
	}

	r.logger.Info("Payment attempt failed",
		zap.String("registration_id", evt.RegistrationID),
		zap.String("reason", reason))

	event := &models.RegistrationPaymentFailedEvent{
		BaseEvent:      newBaseEvent(models.EventTypeRegistrationPaymentFailed),
		RegistrationID: evt.RegistrationID,
		SessionID:      evt.SessionID,
		Reason:         reason,
	}
	if err := r.events.PublishRegistrationPaymentFailed(ctx, event); err != nil {
		r.logger.Error("Failed to publish RegistrationPaymentFailed event", zap.Error(err))
	}
	return nil
}

func (r *Reconciler) resolveRegistration(ctx context.Context, evt *payments.WebhookEvent) (*models.Registration, error) {
	if evt.RegistrationID != "" {
		reg, err := r.store.GetRegistrationByID(ctx, evt.RegistrationID)
		if err == nil {
			return reg, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	if evt.SessionID != "" {
		reg, err := r.store.GetRegistrationBySessionID(ctx, evt.SessionID)
		if err == nil {
			return reg, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	return nil, nil
}

// apply is the single transition function shared by both triggers.
//
//  1. Terminal records are returned unchanged.
//  2. paid: complete the record via a conditional update; only the winner
//     of that compare-and-set attempts the confirmation mail. A delivery
//     failure is recorded on the record and never rolls back the payment.
//  3. expired session: the record expires.
//  4. Anything else leaves the record pending.
func (r *Reconciler) apply(ctx context.Context, reg *models.Registration, status *payments.SessionStatus, trigger string) (*models.Registration, error) {
	if reg.IsTerminal() {
		util.ReconciliationsTotal.WithLabelValues(trigger, "noop").Inc()
		return reg, nil
	}

	switch {
	case status.PaymentStatus == payments.PaymentStatusPaid:
		updated, err := r.store.CompleteRegistration(ctx, reg.ID,
			optional(status.PaymentIntentID), optional(status.CustomerID))
		if errors.Is(err, store.ErrNotFound) {
			// A concurrent transition won; report its outcome.
			util.ReconciliationsTotal.WithLabelValues(trigger, "lost_race").Inc()
			return r.store.GetRegistrationByID(ctx, reg.ID)
		}
		if err != nil {
			return nil, err
		}

		util.ReconciliationsTotal.WithLabelValues(trigger, "completed").Inc()
		r.logger.Info("Registration completed",
			zap.String("registration_id", updated.ID),
			zap.String("trigger", trigger))

		updated = r.sendConfirmation(ctx, updated, status)

		event := &models.RegistrationCompletedEvent{
			BaseEvent:        newBaseEvent(models.EventTypeRegistrationCompleted),
			RegistrationID:   updated.ID,
			SessionID:        status.SessionID,
			Email:            updated.Email,
			Amount:           updated.Amount,
			Currency:         updated.Currency,
			ConfirmationSent: updated.ConfirmationSent,
		}
		if err := r.events.PublishRegistrationCompleted(ctx, event); err != nil {
			r.logger.Error("Failed to publish RegistrationCompleted event", zap.Error(err))
		}
		return updated, nil

	case status.SessionState == payments.SessionStateExpired:
		updated, err := r.store.ExpireRegistration(ctx, reg.ID)
		if errors.Is(err, store.ErrNotFound) {
			util.ReconciliationsTotal.WithLabelValues(trigger, "lost_race").Inc()
			return r.store.GetRegistrationByID(ctx, reg.ID)
		}
		if err != nil {
			return nil, err
		}

		util.ReconciliationsTotal.WithLabelValues(trigger, "expired").Inc()
		r.logger.Info("Registration expired",
			zap.String("registration_id", updated.ID),
			zap.String("trigger", trigger))

		event := &models.RegistrationExpiredEvent{
			BaseEvent:      newBaseEvent(models.EventTypeRegistrationExpired),
			RegistrationID: updated.ID,
			SessionID:      status.SessionID,
		}
		if err := r.events.PublishRegistrationExpired(ctx, event); err != nil {
			r.logger.Error("Failed to publish RegistrationExpired event", zap.Error(err))
		}
		return updated, nil

	default:
		// Session still open and unpaid.
		util.ReconciliationsTotal.WithLabelValues(trigger, "pending").Inc()
		return reg, nil
	}
}

// sendConfirmation attempts the confirmation mail for a freshly completed
// registration. Only the CAS winner reaches this, so the mail fires at
// most once per record. Failures annotate the record without reverting it.
func (r *Reconciler) sendConfirmation(ctx context.Context, reg *models.Registration, status *payments.SessionStatus) *models.Registration {
	if reg.ConfirmationSent {
		return reg
	}

	email := reg.Email
	if email == "" {
		email = status.CustomerEmail
	}
	name := reg.Name
	if name == "" {
		name = status.CustomerName
	}
	if email == "" || name == "" {
		r.logger.Warn("Confirmation recipient unresolvable",
			zap.String("registration_id", reg.ID))
		return reg
	}

	if err := r.notifier.Send(ctx, email, name); err != nil {
		util.ConfirmationsFailedTotal.Inc()
		r.logger.Error("Confirmation delivery failed",
			zap.String("registration_id", reg.ID),
			zap.String("to", email),
			zap.Error(err))
		if derr := r.store.RecordNotificationError(ctx, reg.ID, err.Error()); derr != nil {
			r.logger.Error("Failed to record notification error",
				zap.String("registration_id", reg.ID),
				zap.Error(derr))
		}
		msg := err.Error()
		reg.LastNotificationError = &msg
		return reg
	}

	now := time.Now().UTC()
	if err := r.store.MarkConfirmationSent(ctx, reg.ID, now); err != nil {
		r.logger.Error("Failed to mark confirmation sent",
			zap.String("registration_id", reg.ID),
			zap.Error(err))
	}
	reg.ConfirmationSent = true
	reg.ConfirmationSentAt = &now
	reg.LastNotificationError = nil

	util.ConfirmationsSentTotal.Inc()
	r.logger.Info("Confirmation sent",
		zap.String("registration_id", reg.ID),
		zap.String("to", email))
	return reg
}

func lockKey(registrationID string) string {
	return fmt.Sprintf("registration:%s", registrationID)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
