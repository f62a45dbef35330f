package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"registration-service/internal/models"
	"registration-service/internal/payments"
	"registration-service/internal/util"
)

var emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)

// RegistrationService handles registration creation and the dashboard
// read paths. Reconciliation lives in Reconciler.
type RegistrationService struct {
	store      RegistrationStore
	gateway    SessionGateway
	events     EventSink
	reconciler *Reconciler
	logger     *zap.Logger
}

// NewRegistrationService creates a new registration service
func NewRegistrationService(
	store RegistrationStore,
	gateway SessionGateway,
	events EventSink,
	reconciler *Reconciler,
) *RegistrationService {
	return &RegistrationService{
		store:      store,
		gateway:    gateway,
		events:     events,
		reconciler: reconciler,
		logger:     util.GetLogger(),
	}
}

// CreateCheckoutRequest is the payload for starting a registration.
type CreateCheckoutRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	Organization string `json:"organization"`
	Role         string `json:"role"`
	Country      string `json:"country"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// RequestContext carries audit data captured at the HTTP boundary.
type RequestContext struct {
	ClientIP     string
	UserAgent    string
	RedirectBase string
}

// CreateCheckoutResponse is returned after a checkout session is created.
type CreateCheckoutResponse struct {
	URL            string `json:"url"`
	SessionID      string `json:"sessionId"`
	RegistrationID string `json:"registrationId"`
}

// CreateCheckout validates the attempt, persists a pending registration,
// creates the provider session and links the two. Invalid attempts are
// persisted as failed records before the error is reported upward.
func (s *RegistrationService) CreateCheckout(ctx context.Context, req *CreateCheckoutRequest, rc RequestContext) (*CreateCheckoutResponse, error) {
	ctx, span := util.StartSpan(ctx, "RegistrationService.CreateCheckout")
	defer span.End()

	if verr := validateCheckoutRequest(req); verr != nil {
		s.persistFailedAttempt(ctx, req, rc, verr.Error())
		util.RegistrationsFailedTotal.WithLabelValues("validation").Inc()
		return nil, verr
	}

	reg := &models.Registration{
		ID:            uuid.New().String(),
		Name:          req.Name,
		Email:         req.Email,
		Phone:         req.Phone,
		Organization:  req.Organization,
		Role:          req.Role,
		Country:       req.Country,
		Amount:        req.Amount,
		Currency:      req.Currency,
		AmountDisplay: models.FormatAmount(req.Amount, req.Currency),
		Status:        models.StatusPending,
		PaymentStatus: models.PaymentStatusUnpaid,
		ClientIP:      rc.ClientIP,
		UserAgent:     rc.UserAgent,
		Metadata: models.Metadata{
			"registration_date": time.Now().UTC().Format(time.RFC3339),
		},
	}

	if err := s.store.CreateRegistration(ctx, reg); err != nil {
		util.RegistrationsFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create registration: %w", err)
	}

	sess, err := s.gateway.CreateSession(ctx, payments.CreateSessionInput{
		RegistrationID: reg.ID,
		Name:           req.Name,
		Email:          req.Email,
		Phone:          req.Phone,
		Organization:   req.Organization,
		Role:           req.Role,
		Country:        req.Country,
		Amount:         req.Amount,
		Currency:       req.Currency,
		RedirectBase:   rc.RedirectBase,
	})
	if err != nil {
		if derr := s.store.RecordProviderError(ctx, reg.ID, "checkout session creation failed", err.Error()); derr != nil {
			s.logger.Error("Failed to record provider error", zap.String("registration_id", reg.ID), zap.Error(derr))
		}
		util.RegistrationsFailedTotal.WithLabelValues("provider_error").Inc()
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	if err := s.store.AttachSession(ctx, reg.ID, sess.SessionID); err != nil {
		return nil, fmt.Errorf("failed to link session to registration: %w", err)
	}

	util.RegistrationsCreatedTotal.Inc()
	s.logger.Info("Checkout session created",
		zap.String("registration_id", reg.ID),
		zap.String("session_id", sess.SessionID))

	event := &models.RegistrationCreatedEvent{
		BaseEvent:      newBaseEvent(models.EventTypeRegistrationCreated),
		RegistrationID: reg.ID,
		SessionID:      sess.SessionID,
		Email:          reg.Email,
		Amount:         reg.Amount,
		Currency:       reg.Currency,
	}
	if err := s.events.PublishRegistrationCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish RegistrationCreated event", zap.Error(err))
	}

	return &CreateCheckoutResponse{
		URL:            sess.RedirectURL,
		SessionID:      sess.SessionID,
		RegistrationID: reg.ID,
	}, nil
}

// persistFailedAttempt keeps an audit trail of rejected creation requests.
// Best-effort: a storage failure here is logged, the validation error
// still goes back to the caller.
func (s *RegistrationService) persistFailedAttempt(ctx context.Context, req *CreateCheckoutRequest, rc RequestContext, reason string) {
	reg := &models.Registration{
		ID:            uuid.New().String(),
		Name:          req.Name,
		Email:         req.Email,
		Phone:         req.Phone,
		Organization:  req.Organization,
		Role:          req.Role,
		Country:       req.Country,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Status:        models.StatusFailed,
		PaymentStatus: models.PaymentStatusUnpaid,
		ClientIP:      rc.ClientIP,
		UserAgent:     rc.UserAgent,
		ErrorMessage:  &reason,
	}
	if reg.Currency != "" {
		reg.AmountDisplay = models.FormatAmount(reg.Amount, reg.Currency)
	}

	if err := s.store.CreateRegistration(ctx, reg); err != nil {
		s.logger.Error("Failed to persist rejected attempt",
			zap.String("email", req.Email),
			zap.Error(err))
		return
	}

	s.logger.Info("Rejected registration attempt persisted",
		zap.String("registration_id", reg.ID),
		zap.String("reason", reason))

	event := &models.RegistrationFailedEvent{
		BaseEvent:      newBaseEvent(models.EventTypeRegistrationFailed),
		RegistrationID: reg.ID,
		Reason:         reason,
	}
	if err := s.events.PublishRegistrationFailed(ctx, event); err != nil {
		s.logger.Error("Failed to publish RegistrationFailed event", zap.Error(err))
	}
}

func validateCheckoutRequest(req *CreateCheckoutRequest) *ValidationError {
	missing := []string{}
	if req.Name == "" {
		missing = append(missing, "name")
	}
	if req.Email == "" {
		missing = append(missing, "email")
	}
	if req.Phone == "" {
		missing = append(missing, "phone")
	}
	if req.Organization == "" {
		missing = append(missing, "organization")
	}
	if req.Role == "" {
		missing = append(missing, "role")
	}
	if req.Country == "" {
		missing = append(missing, "country")
	}
	if req.Amount <= 0 {
		missing = append(missing, "amount")
	}
	if req.Currency == "" {
		missing = append(missing, "currency")
	}
	if len(missing) > 0 {
		return &ValidationError{Message: "Missing required fields", Missing: missing}
	}

	if !emailPattern.MatchString(req.Email) {
		return &ValidationError{Message: "Invalid email format"}
	}
	if len(req.Currency) != 3 {
		return &ValidationError{Message: "Currency must be a 3-letter code"}
	}
	return nil
}

// DashboardStats aggregates registration counts and paid totals.
type DashboardStats struct {
	Counts     *models.StatusCounts   `json:"counts"`
	PaidTotals []models.CurrencyTotal `json:"paid_totals"`
}

// Stats returns aggregate counts for the dashboard.
func (s *RegistrationService) Stats(ctx context.Context) (*DashboardStats, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count registrations: %w", err)
	}
	totals, err := s.store.PaidTotalsByCurrency(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to total paid registrations: %w", err)
	}
	return &DashboardStats{Counts: counts, PaidTotals: totals}, nil
}

// ListRegistrations returns a filtered, paginated registration listing.
func (s *RegistrationService) ListRegistrations(ctx context.Context, status string, limit, offset int) ([]models.Registration, error) {
	return s.store.ListRegistrations(ctx, status, limit, offset)
}

// ExportCSV writes every registration as CSV to w.
func (s *RegistrationService) ExportCSV(ctx context.Context, w io.Writer) error {
	regs, err := s.store.AllRegistrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to load registrations for export: %w", err)
	}

	cw := csv.NewWriter(w)
	header := []string{
		"id", "name", "email", "phone", "organization", "role", "country",
		"amount", "currency", "amount_display", "status", "payment_status",
		"confirmation_sent", "stripe_session_id", "payment_intent_id",
		"error_message", "created_at", "completed_at",
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for i := range regs {
		r := &regs[i]
		row := []string{
			r.ID, r.Name, r.Email, r.Phone, r.Organization, r.Role, r.Country,
			strconv.FormatInt(r.Amount, 10), r.Currency, r.AmountDisplay,
			r.Status, r.PaymentStatus,
			strconv.FormatBool(r.ConfirmationSent),
			strDeref(r.StripeSessionID), strDeref(r.PaymentIntentID),
			strDeref(r.ErrorMessage),
			r.CreatedAt.UTC().Format(time.RFC3339),
			timeDeref(r.CompletedAt),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

func strDeref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func timeDeref(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
