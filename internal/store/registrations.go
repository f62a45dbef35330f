package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"registration-service/internal/models"
)

// ErrNotFound is returned when a registration lookup matches no row.
var ErrNotFound = errors.New("registration not found")

// CreateRegistration persists a new registration attempt. The caller sets
// ID, status and payment status; created_at/updated_at come from the
// database and are read back onto the record.
func (s *Store) CreateRegistration(ctx context.Context, reg *models.Registration) error {
	query := `
		INSERT INTO registrations (
			id, name, email, phone, organization, role, country,
			amount, currency, amount_display,
			status, payment_status,
			client_ip, user_agent, metadata, error_message, error_detail
		) VALUES (
			:id, :name, :email, :phone, :organization, :role, :country,
			:amount, :currency, :amount_display,
			:status, :payment_status,
			:client_ip, :user_agent, :metadata, :error_message, :error_detail
		)
		RETURNING created_at, updated_at`

	rows, err := s.db.NamedQueryContext(ctx, query, reg)
	if err != nil {
		return fmt.Errorf("failed to insert registration: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&reg.CreatedAt, &reg.UpdatedAt); err != nil {
			return fmt.Errorf("failed to scan registration timestamps: %w", err)
		}
	}
	return rows.Err()
}

// GetRegistrationByID retrieves a registration by its id.
func (s *Store) GetRegistrationByID(ctx context.Context, id string) (*models.Registration, error) {
	var reg models.Registration
	err := s.db.GetContext(ctx, &reg, "SELECT * FROM registrations WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

// GetRegistrationBySessionID retrieves a registration by its checkout
// session id.
func (s *Store) GetRegistrationBySessionID(ctx context.Context, sessionID string) (*models.Registration, error) {
	var reg models.Registration
	err := s.db.GetContext(ctx, &reg,
		"SELECT * FROM registrations WHERE stripe_session_id = $1", sessionID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

// AttachSession links a freshly created checkout session to a pending
// registration. The session id column carries a unique constraint, so a
// session can never be attached to two records.
func (s *Store) AttachSession(ctx context.Context, id, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE registrations
		SET stripe_session_id = $1, updated_at = NOW()
		WHERE id = $2 AND stripe_session_id IS NULL`,
		sessionID, id)
	if err != nil {
		return fmt.Errorf("failed to attach session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("registration %s already has a session attached", id)
	}
	return nil
}

// CompleteRegistration transitions a pending registration to completed/paid
// as a compare-and-set on the lifecycle status. It returns the updated row,
// or ErrNotFound when the registration is no longer pending, meaning a
// concurrent reconciliation won the transition.
func (s *Store) CompleteRegistration(ctx context.Context, id string, paymentIntentID, customerID *string) (*models.Registration, error) {
	var reg models.Registration
	err := s.db.GetContext(ctx, &reg, `
		UPDATE registrations
		SET status = $2,
		    payment_status = $3,
		    payment_intent_id = COALESCE($4, payment_intent_id),
		    customer_id = COALESCE($5, customer_id),
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND status = $6
		RETURNING *`,
		id, models.StatusCompleted, models.PaymentStatusPaid,
		paymentIntentID, customerID, models.StatusPending)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to complete registration: %w", err)
	}
	return &reg, nil
}

// ExpireRegistration transitions a pending registration to expired with the
// same compare-and-set semantics as CompleteRegistration.
func (s *Store) ExpireRegistration(ctx context.Context, id string) (*models.Registration, error) {
	var reg models.Registration
	err := s.db.GetContext(ctx, &reg, `
		UPDATE registrations
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
		RETURNING *`,
		id, models.StatusExpired, models.StatusPending)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to expire registration: %w", err)
	}
	return &reg, nil
}

// MarkConfirmationSent flips the confirmation flag exactly once. Zero rows
// affected means the confirmation was already recorded.
func (s *Store) MarkConfirmationSent(ctx context.Context, id string, sentAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE registrations
		SET confirmation_sent = TRUE,
		    confirmation_sent_at = $2,
		    last_notification_error = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND confirmation_sent = FALSE`,
		id, sentAt)
	if err != nil {
		return fmt.Errorf("failed to mark confirmation sent: %w", err)
	}
	return nil
}

// RecordNotificationError stores the last delivery failure without touching
// lifecycle or payment status.
func (s *Store) RecordNotificationError(ctx context.Context, id, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE registrations
		SET last_notification_error = $2, updated_at = NOW()
		WHERE id = $1`,
		id, errMsg)
	if err != nil {
		return fmt.Errorf("failed to record notification error: %w", err)
	}
	return nil
}

// RecordPaymentFailure annotates a registration with a failed payment
// attempt. The lifecycle status is left alone: the session may still be
// open and a later attempt can succeed.
func (s *Store) RecordPaymentFailure(ctx context.Context, id, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE registrations
		SET payment_status = $2, error_message = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4`,
		id, models.PaymentStatusFailed, reason, models.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to record payment failure: %w", err)
	}
	return nil
}

// RecordProviderError annotates a registration after a provider call failed.
func (s *Store) RecordProviderError(ctx context.Context, id, errMsg, detail string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE registrations
		SET error_message = $2, error_detail = $3, updated_at = NOW()
		WHERE id = $1`,
		id, errMsg, detail)
	if err != nil {
		return fmt.Errorf("failed to record provider error: %w", err)
	}
	return nil
}

// ListRegistrations returns registrations ordered newest first, optionally
// filtered by lifecycle status.
func (s *Store) ListRegistrations(ctx context.Context, status string, limit, offset int) ([]models.Registration, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	regs := []models.Registration{}
	if status != "" {
		err := s.db.SelectContext(ctx, &regs, `
			SELECT * FROM registrations
			WHERE status = $1
			ORDER BY created_at DESC
			LIMIT $2 OFFSET $3`,
			status, limit, offset)
		return regs, err
	}

	err := s.db.SelectContext(ctx, &regs, `
		SELECT * FROM registrations
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`,
		limit, offset)
	return regs, err
}

// CountByStatus returns aggregate registration counts per lifecycle status.
func (s *Store) CountByStatus(ctx context.Context) (*models.StatusCounts, error) {
	var counts models.StatusCounts
	err := s.db.GetContext(ctx, &counts, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending')   AS pending,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed,
			COUNT(*) FILTER (WHERE status = 'failed')    AS failed,
			COUNT(*) FILTER (WHERE status = 'expired')   AS expired,
			COUNT(*) FILTER (WHERE status = 'cancelled') AS cancelled,
			COUNT(*)                                     AS total
		FROM registrations`)
	if err != nil {
		return nil, err
	}
	return &counts, nil
}

// PaidTotalsByCurrency sums completed payment amounts per currency.
func (s *Store) PaidTotalsByCurrency(ctx context.Context) ([]models.CurrencyTotal, error) {
	totals := []models.CurrencyTotal{}
	err := s.db.SelectContext(ctx, &totals, `
		SELECT currency, COALESCE(SUM(amount), 0) AS amount, COUNT(*) AS count
		FROM registrations
		WHERE payment_status = $1
		GROUP BY currency
		ORDER BY currency`,
		models.PaymentStatusPaid)
	return totals, err
}

// AllRegistrations streams every registration for export, oldest first.
func (s *Store) AllRegistrations(ctx context.Context) ([]models.Registration, error) {
	regs := []models.Registration{}
	err := s.db.SelectContext(ctx, &regs,
		"SELECT * FROM registrations ORDER BY created_at ASC")
	return regs, err
}

// IsEventProcessed checks if a webhook event has already been handled.
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed records a webhook event as handled.
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
