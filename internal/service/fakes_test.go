package service

import (
	"context"
	"sync"
	"time"

	"registration-service/internal/models"
	"registration-service/internal/payments"
	"registration-service/internal/store"
)

// fakeStore is an in-memory RegistrationStore with the same conditional
// update semantics as the postgres implementation.
type fakeStore struct {
	mu        sync.Mutex
	regs      map[string]*models.Registration
	processed map[string]string

	createErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		regs:      make(map[string]*models.Registration),
		processed: make(map[string]string),
	}
}

func (f *fakeStore) clone(r *models.Registration) *models.Registration {
	cp := *r
	return &cp
}

func (f *fakeStore) CreateRegistration(ctx context.Context, reg *models.Registration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	reg.CreatedAt = time.Now()
	reg.UpdatedAt = reg.CreatedAt
	f.regs[reg.ID] = f.clone(reg)
	return nil
}

func (f *fakeStore) GetRegistrationByID(ctx context.Context, id string) (*models.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.regs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return f.clone(reg), nil
}

func (f *fakeStore) GetRegistrationBySessionID(ctx context.Context, sessionID string) (*models.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, reg := range f.regs {
		if reg.StripeSessionID != nil && *reg.StripeSessionID == sessionID {
			return f.clone(reg), nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) AttachSession(ctx context.Context, id, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.regs[id]
	if !ok {
		return store.ErrNotFound
	}
	reg.StripeSessionID = &sessionID
	return nil
}

func (f *fakeStore) CompleteRegistration(ctx context.Context, id string, paymentIntentID, customerID *string) (*models.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.regs[id]
	if !ok || reg.Status != models.StatusPending {
		return nil, store.ErrNotFound
	}
	now := time.Now()
	reg.Status = models.StatusCompleted
	reg.PaymentStatus = models.PaymentStatusPaid
	if paymentIntentID != nil {
		reg.PaymentIntentID = paymentIntentID
	}
	if customerID != nil {
		reg.CustomerID = customerID
	}
	reg.CompletedAt = &now
	reg.UpdatedAt = now
	return f.clone(reg), nil
}

func (f *fakeStore) ExpireRegistration(ctx context.Context, id string) (*models.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.regs[id]
	if !ok || reg.Status != models.StatusPending {
		return nil, store.ErrNotFound
	}
	reg.Status = models.StatusExpired
	reg.UpdatedAt = time.Now()
	return f.clone(reg), nil
}

func (f *fakeStore) MarkConfirmationSent(ctx context.Context, id string, sentAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.regs[id]
	if !ok {
		return store.ErrNotFound
	}
	if !reg.ConfirmationSent {
		reg.ConfirmationSent = true
		reg.ConfirmationSentAt = &sentAt
		reg.LastNotificationError = nil
	}
	return nil
}

func (f *fakeStore) RecordNotificationError(ctx context.Context, id, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if reg, ok := f.regs[id]; ok {
		reg.LastNotificationError = &errMsg
	}
	return nil
}

func (f *fakeStore) RecordPaymentFailure(ctx context.Context, id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if reg, ok := f.regs[id]; ok && reg.Status == models.StatusPending {
		reg.PaymentStatus = models.PaymentStatusFailed
		reg.ErrorMessage = &reason
	}
	return nil
}

func (f *fakeStore) RecordProviderError(ctx context.Context, id, errMsg, detail string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if reg, ok := f.regs[id]; ok {
		reg.ErrorMessage = &errMsg
		reg.ErrorDetail = &detail
	}
	return nil
}

func (f *fakeStore) ListRegistrations(ctx context.Context, status string, limit, offset int) ([]models.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Registration{}
	for _, reg := range f.regs {
		if status == "" || reg.Status == status {
			out = append(out, *f.clone(reg))
		}
	}
	return out, nil
}

func (f *fakeStore) CountByStatus(ctx context.Context) (*models.StatusCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := &models.StatusCounts{}
	for _, reg := range f.regs {
		counts.Total++
		switch reg.Status {
		case models.StatusPending:
			counts.Pending++
		case models.StatusCompleted:
			counts.Completed++
		case models.StatusFailed:
			counts.Failed++
		case models.StatusExpired:
			counts.Expired++
		case models.StatusCancelled:
			counts.Cancelled++
		}
	}
	return counts, nil
}

func (f *fakeStore) PaidTotalsByCurrency(ctx context.Context) ([]models.CurrencyTotal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byCurrency := map[string]*models.CurrencyTotal{}
	for _, reg := range f.regs {
		if reg.PaymentStatus != models.PaymentStatusPaid {
			continue
		}
		t, ok := byCurrency[reg.Currency]
		if !ok {
			t = &models.CurrencyTotal{Currency: reg.Currency}
			byCurrency[reg.Currency] = t
		}
		t.Amount += reg.Amount
		t.Count++
	}
	out := []models.CurrencyTotal{}
	for _, t := range byCurrency {
		out = append(out, *t)
	}
	return out, nil
}

func (f *fakeStore) AllRegistrations(ctx context.Context) ([]models.Registration, error) {
	return f.ListRegistrations(ctx, "", 0, 0)
}

func (f *fakeStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.processed[eventID]
	return ok, nil
}

func (f *fakeStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed[eventID] = eventType
	return nil
}

// fakeGateway returns canned provider responses.
type fakeGateway struct {
	mu          sync.Mutex
	session     *payments.SessionInfo
	sessionErr  error
	status      *payments.SessionStatus
	statusErr   error
	createCalls int
	statusCalls int
}

func (f *fakeGateway) CreateSession(ctx context.Context, in payments.CreateSessionInput) (*payments.SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	return f.session, nil
}

func (f *fakeGateway) GetSessionStatus(ctx context.Context, sessionID string) (*payments.SessionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return f.status, nil
}

func (f *fakeGateway) VerifyAndParseWebhook(payload []byte, sigHeader string) (*payments.WebhookEvent, error) {
	return nil, nil
}

// fakeNotifier counts deliveries and can fail on demand.
type fakeNotifier struct {
	mu    sync.Mutex
	calls int
	err   error
	last  struct {
		email string
		name  string
	}
}

func (f *fakeNotifier) Send(ctx context.Context, toEmail, participantName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last.email = toEmail
	f.last.name = participantName
	return f.err
}

func (f *fakeNotifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeLocker mimics redis SetNX semantics in memory.
type fakeLocker struct {
	mu    sync.Mutex
	locks map[string]bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{locks: make(map[string]bool)}
}

func (f *fakeLocker) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locks[lockKey] {
		return false, nil
	}
	f.locks[lockKey] = true
	return true, nil
}

func (f *fakeLocker) ReleaseLock(ctx context.Context, lockKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.locks, lockKey)
	return nil
}

// fakeSink records published events.
type fakeSink struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeSink) record(eventType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
}

func (f *fakeSink) PublishRegistrationCreated(ctx context.Context, event *models.RegistrationCreatedEvent) error {
	f.record(event.EventType)
	return nil
}

func (f *fakeSink) PublishRegistrationCompleted(ctx context.Context, event *models.RegistrationCompletedEvent) error {
	f.record(event.EventType)
	return nil
}

func (f *fakeSink) PublishRegistrationExpired(ctx context.Context, event *models.RegistrationExpiredEvent) error {
	f.record(event.EventType)
	return nil
}

func (f *fakeSink) PublishRegistrationFailed(ctx context.Context, event *models.RegistrationFailedEvent) error {
	f.record(event.EventType)
	return nil
}

func (f *fakeSink) PublishRegistrationPaymentFailed(ctx context.Context, event *models.RegistrationPaymentFailedEvent) error {
	f.record(event.EventType)
	return nil
}

func (f *fakeSink) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.events...)
}
