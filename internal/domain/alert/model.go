package alert

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/careline/careline/internal/domain/patient"
	"github.com/careline/careline/internal/platform/notification"
)

var (
	ErrNotFound = errors.New("alert not found")
	ErrInvalid  = errors.New("invalid alert")
)

type RecipientKind string

const (
	RecipientProfessional RecipientKind = "professional"
	RecipientPatient      RecipientKind = "patient"
	RecipientCaregiver    RecipientKind = "caregiver"
)

var validKinds = map[RecipientKind]bool{
	RecipientProfessional: true, RecipientPatient: true, RecipientCaregiver: true,
}

// Type names the rule an alert watches. It doubles as the message template id.
type Type string

const (
	TypeReadingTooHigh Type = "reading_too_high"
	TypeReadingTooLow  Type = "reading_too_low"
	TypeMissedReadings Type = "missed_readings"
)

var validTypes = map[Type]bool{
	TypeReadingTooHigh: true, TypeReadingTooLow: true, TypeMissedReadings: true,
}

var validChannels = map[notification.Channel]bool{
	notification.ChannelSMS: true, notification.ChannelEmail: true, notification.ChannelPush: true,
}

// Alert maps to the alert table. For reading alerts Threshold is in mg/dL;
// for missed readings it is a number of days.
type Alert struct {
	ID              uuid.UUID              `db:"id" json:"id"`
	PatientID       uuid.UUID              `db:"patient_id" json:"patient_id"`
	RecipientKind   RecipientKind          `db:"recipient_kind" json:"recipient_kind"`
	RecipientID     string                 `db:"recipient_id" json:"recipient_id,omitempty"`
	RecipientName   string                 `db:"recipient_name" json:"recipient_name,omitempty"`
	Phone           string                 `db:"phone" json:"phone,omitempty"`
	Email           string                 `db:"email" json:"email,omitempty"`
	DeviceToken     string                 `db:"device_token" json:"device_token,omitempty"`
	AlertType       Type                   `db:"alert_type" json:"alert_type"`
	Threshold       int                    `db:"threshold" json:"threshold"`
	ContactMethods  []notification.Channel `db:"contact_methods" json:"contact_methods"`
	MessageOverride string                 `db:"message_override" json:"message_override,omitempty"`
	Active          bool                   `db:"active" json:"active"`
	CreatedAt       time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time              `db:"updated_at" json:"updated_at"`
}

// Matches reports whether a reading value trips a reading alert.
func (a *Alert) Matches(valueMgDL int) bool {
	switch a.AlertType {
	case TypeReadingTooHigh:
		return valueMgDL > a.Threshold
	case TypeReadingTooLow:
		return valueMgDL < a.Threshold
	}
	return false
}

// Recipient resolves where the alert is delivered. Patient alerts go to the
// patient's own contact details.
func (a *Alert) Recipient(p *patient.Patient) notification.Recipient {
	if a.RecipientKind == RecipientPatient {
		return p.Recipient()
	}
	return notification.Recipient{
		Name:        a.RecipientName,
		Phone:       a.Phone,
		Email:       a.Email,
		DeviceToken: a.DeviceToken,
	}
}

// Dispatch records one delivery attempt. It maps to the alert_dispatch table.
type Dispatch struct {
	ID        uuid.UUID            `db:"id" json:"id"`
	AlertID   uuid.UUID            `db:"alert_id" json:"alert_id"`
	PatientID uuid.UUID            `db:"patient_id" json:"patient_id"`
	ReadingID *uuid.UUID           `db:"reading_id" json:"reading_id,omitempty"`
	Channel   notification.Channel `db:"channel" json:"channel"`
	Address   string               `db:"address" json:"address,omitempty"`
	Subject   string               `db:"subject" json:"subject,omitempty"`
	Body      string               `db:"body" json:"body"`
	Status    string               `db:"status" json:"status"`
	Error     string               `db:"error" json:"error,omitempty"`
	SentAt    *time.Time           `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt time.Time            `db:"created_at" json:"created_at"`
}
