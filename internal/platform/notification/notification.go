// Package notification delivers rendered messages over SMS, email and mobile
// push.
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Channel is the delivery medium for a notification.
type Channel string

const (
	ChannelSMS   Channel = "text"
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "app"
)

// ErrNoAddress is returned when the recipient has no address for a channel.
var ErrNoAddress = errors.New("recipient has no address for channel")

type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// PushSender delivers to a mobile device push token.
type PushSender interface {
	SendPush(ctx context.Context, deviceToken, title, body string) error
}

// Recipient holds the addresses for each channel. Empty fields mean the
// channel is unavailable.
type Recipient struct {
	Name        string
	Phone       string
	Email       string
	DeviceToken string
}

// Message is a rendered notification.
type Message struct {
	Subject string
	Body    string
}

// Result records the outcome of one delivery attempt.
type Result struct {
	Channel Channel    `json:"channel"`
	Address string     `json:"address"`
	Status  string     `json:"status"`
	Error   string     `json:"error,omitempty"`
	SentAt  *time.Time `json:"sent_at,omitempty"`
}

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Dispatcher routes a message to the sender for a channel. Failed deliveries
// are logged and reported in the Result; they are never retried.
type Dispatcher struct {
	email  EmailSender
	sms    SMSSender
	push   PushSender
	logger zerolog.Logger
	now    func() time.Time
}

func NewDispatcher(email EmailSender, sms SMSSender, push PushSender, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		email:  email,
		sms:    sms,
		push:   push,
		logger: logger.With().Str("component", "notification").Logger(),
		now:    time.Now,
	}
}

func (d *Dispatcher) Send(ctx context.Context, ch Channel, to Recipient, msg Message) Result {
	res := Result{Channel: ch}

	var err error
	switch ch {
	case ChannelSMS:
		res.Address = to.Phone
		err = d.deliver(to.Phone, d.sms != nil, func() error { return d.sms.SendSMS(ctx, to.Phone, msg.Body) })
	case ChannelEmail:
		res.Address = to.Email
		err = d.deliver(to.Email, d.email != nil, func() error { return d.email.SendEmail(ctx, to.Email, msg.Subject, msg.Body) })
	case ChannelPush:
		res.Address = to.DeviceToken
		err = d.deliver(to.DeviceToken, d.push != nil, func() error { return d.push.SendPush(ctx, to.DeviceToken, msg.Subject, msg.Body) })
	default:
		err = fmt.Errorf("unsupported channel: %s", ch)
	}

	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		d.logger.Warn().Err(err).Str("channel", string(ch)).Str("recipient", to.Name).Msg("notification failed")
		return res
	}
	sentAt := d.now().UTC()
	res.Status = StatusSent
	res.SentAt = &sentAt
	return res
}

func (d *Dispatcher) deliver(address string, configured bool, send func() error) error {
	if address == "" {
		return ErrNoAddress
	}
	if !configured {
		return errors.New("channel is not configured")
	}
	return send()
}
