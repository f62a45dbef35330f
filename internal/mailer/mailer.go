package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"registration-service/internal/util"
)

// ErrDeliveryFailed wraps the last transport error after both the primary
// and the fallback transport have been attempted.
var ErrDeliveryFailed = errors.New("confirmation delivery failed")

const defaultTimeout = 15 * time.Second

// Client posts confirmation emails to the mail relay endpoint. The relay
// sits behind a TLS setup that intermittently fails strict verification,
// so a permissive fallback transport is attempted when the primary one
// errors out. Each attempt gets its own timeout budget.
type Client struct {
	endpoint string
	from     string
	fromName string
	primary  *http.Client
	fallback *http.Client
	logger   *zap.Logger
}

type sendPayload struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Name    string `json:"fromName"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

// NewClient creates a mail client for the given relay endpoint.
func NewClient(endpoint, from, fromName string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		endpoint: endpoint,
		from:     from,
		fromName: fromName,
		primary:  &http.Client{Timeout: timeout},
		fallback: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		logger: util.GetLogger(),
	}
}

// Send delivers a registration confirmation to the participant. The
// fallback transport is only attempted after the primary transport fails;
// if both fail the last error is wrapped in ErrDeliveryFailed. Callers
// record the failure on the registration, they do not retry.
func (c *Client) Send(ctx context.Context, toEmail, participantName string) error {
	payload := sendPayload{
		To:      toEmail,
		From:    c.from,
		Name:    c.fromName,
		Subject: "Registration Confirmed",
		HTML:    htmlBody(participantName),
		Text:    textBody(participantName),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal mail payload: %w", err)
	}

	primaryErr := c.post(ctx, c.primary, body)
	if primaryErr == nil {
		return nil
	}
	c.logger.Warn("Primary mail transport failed, trying fallback",
		zap.String("to", toEmail),
		zap.Error(primaryErr))
	util.ConfirmationFallbacksTotal.Inc()

	if err := c.post(ctx, c.fallback, body); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, hc *http.Client, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mail endpoint returned %d: %s", resp.StatusCode, snippet)
	}
	return nil
}

func htmlBody(name string) string {
	return fmt.Sprintf(
		"<h1>Registration Confirmed</h1>"+
			"<p>Dear %s,</p>"+
			"<p>Your payment has been received and your registration is confirmed. "+
			"We look forward to seeing you at the event.</p>",
		name)
}

func textBody(name string) string {
	return fmt.Sprintf(
		"Registration Confirmed\n\nDear %s,\n\n"+
			"Your payment has been received and your registration is confirmed. "+
			"We look forward to seeing you at the event.\n",
		name)
}
