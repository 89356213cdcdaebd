package notification

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"go.uber.org/ratelimit"
)

type TwilioConfig struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	From       string
	// PerSecond caps outbound messages. Zero disables throttling.
	PerSecond int
}

// TwilioSender sends SMS through a Twilio-compatible Messages API.
type TwilioSender struct {
	cfg     TwilioConfig
	client  *resty.Client
	limiter ratelimit.Limiter
}

func NewTwilioSender(cfg TwilioConfig) *TwilioSender {
	limiter := ratelimit.NewUnlimited()
	if cfg.PerSecond > 0 {
		limiter = ratelimit.New(cfg.PerSecond)
	}
	return &TwilioSender{
		cfg:     cfg,
		client:  resty.New().SetBaseURL(cfg.BaseURL).SetBasicAuth(cfg.AccountSID, cfg.AuthToken),
		limiter: limiter,
	}
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e twilioError) Error() string {
	return fmt.Sprintf("twilio error %d: %s", e.Code, e.Message)
}

func (s *TwilioSender) SendSMS(ctx context.Context, to, body string) error {
	s.limiter.Take()

	apiErr := &twilioError{}
	resp, err := s.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"To":   to,
			"From": s.cfg.From,
			"Body": body,
		}).
		SetError(apiErr).
		Post(fmt.Sprintf("/2010-04-01/Accounts/%s/Messages.json", s.cfg.AccountSID))
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	if resp.IsError() {
		if apiErr.Message == "" {
			return fmt.Errorf("send sms: unexpected status %d", resp.StatusCode())
		}
		return fmt.Errorf("send sms: %w", apiErr)
	}
	return nil
}
