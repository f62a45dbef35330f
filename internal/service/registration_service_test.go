package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"registration-service/internal/models"
	"registration-service/internal/payments"
)

func newTestService() (*RegistrationService, *fakeStore, *fakeGateway, *fakeSink) {
	st := newFakeStore()
	gw := &fakeGateway{
		session: &payments.SessionInfo{
			SessionID:   "cs_test_1",
			RedirectURL: "https://checkout.example.com/c/pay/cs_test_1",
		},
	}
	sink := &fakeSink{}
	rec := NewReconciler(st, gw, &fakeNotifier{}, newFakeLocker(), sink)
	return NewRegistrationService(st, gw, sink, rec), st, gw, sink
}

func validRequest() *CreateCheckoutRequest {
	return &CreateCheckoutRequest{
		Name:         "A. Bello",
		Email:        "a@b.com",
		Phone:        "+2348012345678",
		Organization: "Org",
		Role:         "Mgr",
		Country:      "NG",
		Amount:       5000000,
		Currency:     "NGN",
	}
}

func TestCreateCheckout_Success(t *testing.T) {
	svc, st, gw, sink := newTestService()

	resp, err := svc.CreateCheckout(context.Background(), validRequest(), RequestContext{
		ClientIP:     "203.0.113.9",
		UserAgent:    "test-agent",
		RedirectBase: "https://events.example.com",
	})
	require.NoError(t, err)

	assert.Equal(t, "cs_test_1", resp.SessionID)
	assert.NotEmpty(t, resp.RegistrationID)
	assert.Contains(t, resp.URL, "cs_test_1")

	reg, err := st.GetRegistrationByID(context.Background(), resp.RegistrationID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, reg.Status)
	assert.Equal(t, models.PaymentStatusUnpaid, reg.PaymentStatus)
	assert.Equal(t, "₦50,000", reg.AmountDisplay)
	require.NotNil(t, reg.StripeSessionID)
	assert.Equal(t, "cs_test_1", *reg.StripeSessionID)
	assert.Equal(t, "203.0.113.9", reg.ClientIP)
	assert.Equal(t, 1, gw.createCalls)
	assert.Contains(t, sink.types(), models.EventTypeRegistrationCreated)
}

func TestCreateCheckout_MissingFieldsPersistsFailedRecord(t *testing.T) {
	svc, st, gw, _ := newTestService()

	req := validRequest()
	req.Email = ""
	req.Phone = ""

	_, err := svc.CreateCheckout(context.Background(), req, RequestContext{})
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "Missing required fields", verr.Message)
	assert.ElementsMatch(t, []string{"email", "phone"}, verr.Missing)

	// The rejected attempt is kept for audit; no session was requested.
	failed, err := st.ListRegistrations(context.Background(), models.StatusFailed, 0, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.NotNil(t, failed[0].ErrorMessage)
	assert.Contains(t, *failed[0].ErrorMessage, "Missing required fields")
	assert.Equal(t, 0, gw.createCalls)
}

func TestCreateCheckout_InvalidEmail(t *testing.T) {
	svc, st, gw, _ := newTestService()

	req := validRequest()
	req.Email = "not-an-email"

	_, err := svc.CreateCheckout(context.Background(), req, RequestContext{})
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "Invalid email format", verr.Message)
	assert.Empty(t, verr.Missing)

	failed, err := st.ListRegistrations(context.Background(), models.StatusFailed, 0, 0)
	require.NoError(t, err)
	assert.Len(t, failed, 1)
	assert.Equal(t, 0, gw.createCalls)
}

func TestCreateCheckout_ProviderFailureAnnotatesRecord(t *testing.T) {
	svc, st, gw, _ := newTestService()
	gw.session = nil
	gw.sessionErr = errors.New("provider unavailable")

	_, err := svc.CreateCheckout(context.Background(), validRequest(), RequestContext{})
	require.Error(t, err)

	// The pending record exists and carries the provider error.
	pending, err := st.ListRegistrations(context.Background(), models.StatusPending, 0, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NotNil(t, pending[0].ErrorMessage)
	assert.Contains(t, *pending[0].ErrorDetail, "provider unavailable")
}

func TestExportCSV(t *testing.T) {
	svc, st, _, _ := newTestService()
	seedPending(t, st, "reg-1", "cs_1")

	var buf bytes.Buffer
	require.NoError(t, svc.ExportCSV(context.Background(), &buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "id,name,email"))
	assert.Contains(t, lines[1], "a@b.com")
	assert.Contains(t, lines[1], "₦50,000")
}

func TestStats(t *testing.T) {
	svc, st, _, _ := newTestService()
	seedPending(t, st, "reg-1", "cs_1")
	seedPending(t, st, "reg-2", "cs_2")

	_, err := st.CompleteRegistration(context.Background(), "reg-2", nil, nil)
	require.NoError(t, err)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Counts.Total)
	assert.Equal(t, int64(1), stats.Counts.Pending)
	assert.Equal(t, int64(1), stats.Counts.Completed)
	require.Len(t, stats.PaidTotals, 1)
	assert.Equal(t, "NGN", stats.PaidTotals[0].Currency)
	assert.Equal(t, int64(5000000), stats.PaidTotals[0].Amount)
}
