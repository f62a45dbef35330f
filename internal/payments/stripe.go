package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// ErrSignatureInvalid is returned when a webhook payload fails signature
// verification against the configured signing secret.
var ErrSignatureInvalid = errors.New("webhook signature verification failed")

// ErrInvalidSessionRequest is returned when a session-creation request
// carries a non-positive amount or a malformed currency code.
var ErrInvalidSessionRequest = errors.New("invalid session request")

// Webhook event types handled by the reconciliation engine.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventCheckoutExpired   = "checkout.session.expired"
	EventPaymentFailed     = "payment_intent.payment_failed"
)

// Checkout session states as reported by the provider.
const (
	SessionStateOpen     = "open"
	SessionStateComplete = "complete"
	SessionStateExpired  = "expired"
)

// Provider payment statuses.
const (
	PaymentStatusPaid   = "paid"
	PaymentStatusUnpaid = "unpaid"
)

// CreateSessionInput carries the validated attempt data used to build a
// hosted checkout session.
type CreateSessionInput struct {
	RegistrationID string
	Name           string
	Email          string
	Phone          string
	Organization   string
	Role           string
	Country        string
	Amount         int64
	Currency       string
	RedirectBase   string
}

// SessionInfo is the result of creating a checkout session.
type SessionInfo struct {
	SessionID   string
	RedirectURL string
}

// SessionStatus is the provider-held truth for a checkout session.
type SessionStatus struct {
	SessionID       string
	PaymentStatus   string
	SessionState    string
	CustomerEmail   string
	CustomerName    string
	AmountTotal     int64
	Currency        string
	PaymentIntentID string
	CustomerID      string
	Metadata        map[string]string
}

// WebhookEvent is a verified provider event, normalized for the engine.
// For checkout.session.* events Session is populated from the embedded
// session object; for payment failures only the intent fields are set.
type WebhookEvent struct {
	ID              string
	Type            string
	RegistrationID  string
	SessionID       string
	PaymentIntentID string
	FailureMessage  string
	Session         *SessionStatus
}

// StripeGateway talks to Stripe's checkout-session API. It is the only
// component permitted to reach the provider.
type StripeGateway struct {
	sc            *client.API
	webhookSecret string
}

// NewStripeGateway creates a gateway bound to the given API keys.
func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &StripeGateway{sc: sc, webhookSecret: webhookSecret}
}

// CreateSession creates a hosted checkout session for a registration
// attempt. The registration id travels in session and payment-intent
// metadata so both webhook shapes can be tied back to the record.
func (g *StripeGateway) CreateSession(ctx context.Context, in CreateSessionInput) (*SessionInfo, error) {
	if in.Amount <= 0 || len(strings.TrimSpace(in.Currency)) != 3 {
		return nil, fmt.Errorf("%w: amount=%d currency=%q", ErrInvalidSessionRequest, in.Amount, in.Currency)
	}

	baseURL := strings.TrimRight(in.RedirectBase, "/")
	metadata := map[string]string{
		"registration_id": in.RegistrationID,
		"name":            in.Name,
		"phone":           in.Phone,
		"organization":    in.Organization,
		"role":            in.Role,
		"country":         in.Country,
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(strings.ToLower(in.Currency)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String("Event Registration"),
						Description: stripe.String(fmt.Sprintf("%s - %s", in.Organization, in.Name)),
					},
					UnitAmount: stripe.Int64(in.Amount),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:               stripe.String(baseURL + "/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:                stripe.String(baseURL),
		CustomerEmail:            stripe.String(in.Email),
		ClientReferenceID:        stripe.String(in.Email),
		BillingAddressCollection: stripe.String("auto"),
		PhoneNumberCollection: &stripe.CheckoutSessionPhoneNumberCollectionParams{
			Enabled: stripe.Bool(true),
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"registration_id": in.RegistrationID},
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	sess, err := g.sc.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	return &SessionInfo{SessionID: sess.ID, RedirectURL: sess.URL}, nil
}

// GetSessionStatus retrieves the current provider state for a session.
func (g *StripeGateway) GetSessionStatus(ctx context.Context, sessionID string) (*SessionStatus, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")

	sess, err := g.sc.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve checkout session: %w", err)
	}

	return sessionStatusFrom(sess), nil
}

// VerifyAndParseWebhook verifies the payload signature and normalizes the
// event. Unverifiable payloads fail with ErrSignatureInvalid.
func (g *StripeGateway) VerifyAndParseWebhook(payload []byte, sigHeader string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, sigHeader, g.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	out := &WebhookEvent{ID: event.ID, Type: string(event.Type)}

	switch out.Type {
	case EventCheckoutCompleted, EventCheckoutExpired:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("failed to decode session payload: %w", err)
		}
		status := sessionStatusFrom(&sess)
		out.Session = status
		out.SessionID = status.SessionID
		out.RegistrationID = status.Metadata["registration_id"]
		out.PaymentIntentID = status.PaymentIntentID

	case EventPaymentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return nil, fmt.Errorf("failed to decode payment intent payload: %w", err)
		}
		out.PaymentIntentID = intent.ID
		out.RegistrationID = intent.Metadata["registration_id"]
		if intent.LastPaymentError != nil {
			out.FailureMessage = intent.LastPaymentError.Msg
		}
	}

	return out, nil
}

func sessionStatusFrom(sess *stripe.CheckoutSession) *SessionStatus {
	status := &SessionStatus{
		SessionID:     sess.ID,
		PaymentStatus: string(sess.PaymentStatus),
		SessionState:  string(sess.Status),
		CustomerEmail: sess.CustomerEmail,
		AmountTotal:   sess.AmountTotal,
		Currency:      strings.ToUpper(string(sess.Currency)),
		Metadata:      sess.Metadata,
	}
	if sess.CustomerDetails != nil {
		if sess.CustomerDetails.Email != "" {
			status.CustomerEmail = sess.CustomerDetails.Email
		}
		status.CustomerName = sess.CustomerDetails.Name
	}
	if sess.PaymentIntent != nil {
		status.PaymentIntentID = sess.PaymentIntent.ID
	}
	if sess.Customer != nil {
		status.CustomerID = sess.Customer.ID
	}
	return status
}
