// Package notify sends customer SMS notifications through Africa's
// Talking. Notification delivery is best-effort: a failure here must
// never change payment state, so senders log and move on.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/simonpeter880/uganda-electronic-platform/internal/config"
)

const (
	sandboxBaseURL    = "https://api.sandbox.africastalking.com/version1"
	productionBaseURL = "https://api.africastalking.com/version1"

	maxSenderIDLen = 11
)

// Notifier is the outbound notification surface the payment flow uses.
type Notifier interface {
	PaymentConfirmed(ctx context.Context, msisdn, orderRef string, amount int64, currency string) error
	PaymentFailed(ctx context.Context, msisdn, orderRef, reason string) error
}

// SMSClient talks to the Africa's Talking messaging API.
type SMSClient struct {
	cfg     config.SMSCfg
	baseURL string
	http    *http.Client
}

func NewSMSClient(cfg config.SMSCfg) *SMSClient {
	base := productionBaseURL
	if cfg.Username == "sandbox" {
		base = sandboxBaseURL
	}
	return &SMSClient{
		cfg:     cfg,
		baseURL: base,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type recipient struct {
	StatusCode int    `json:"statusCode"`
	Number     string `json:"number"`
	Status     string `json:"status"`
	Cost       string `json:"cost"`
	MessageID  string `json:"messageId"`
}

type smsResponse struct {
	SMSMessageData struct {
		Message    string      `json:"Message"`
		Recipients []recipient `json:"Recipients"`
	} `json:"SMSMessageData"`
}

// Send delivers one message to a canonical 256XXXXXXXXX number.
func (c *SMSClient) Send(ctx context.Context, msisdn, message string) error {
	form := url.Values{
		"username": {c.cfg.Username},
		"to":       {msisdn},
		"message":  {message},
	}
	if c.cfg.SenderID != "" {
		sender := c.cfg.SenderID
		if len(sender) > maxSenderIDLen {
			sender = sender[:maxSenderIDLen]
		}
		form.Set("from", sender)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messaging", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("apiKey", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("send sms: unexpected status %d", resp.StatusCode)
	}

	var body smsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("send sms: decode response: %w", err)
	}
	if len(body.SMSMessageData.Recipients) == 0 {
		return fmt.Errorf("send sms: no recipient data in response")
	}
	r := body.SMSMessageData.Recipients[0]
	if r.Status != "Success" {
		return fmt.Errorf("send sms: delivery rejected with code %d for %s", r.StatusCode, r.Number)
	}

	log.Debug().
		Str("msisdn", msisdn).
		Str("message_id", r.MessageID).
		Str("cost", r.Cost).
		Msg("sms delivered to gateway")
	return nil
}

// PaymentConfirmed sends the payment-received confirmation.
func (c *SMSClient) PaymentConfirmed(ctx context.Context, msisdn, orderRef string, amount int64, currency string) error {
	msg := fmt.Sprintf("Payment of %s %d received for order #%s. Your order is being processed.", currency, amount, orderRef)
	return c.Send(ctx, msisdn, msg)
}

// PaymentFailed tells the customer the collection did not go through.
func (c *SMSClient) PaymentFailed(ctx context.Context, msisdn, orderRef, reason string) error {
	msg := fmt.Sprintf("Payment for order #%s failed: %s. Please try again via MTN/Airtel Mobile Money.", orderRef, reason)
	return c.Send(ctx, msisdn, msg)
}

// NopNotifier is used when SMS credentials are not configured.
type NopNotifier struct{}

func (NopNotifier) PaymentConfirmed(context.Context, string, string, int64, string) error {
	return nil
}

func (NopNotifier) PaymentFailed(context.Context, string, string, string) error {
	return nil
}
