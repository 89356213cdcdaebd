package patient

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/careline/careline/internal/platform/carrier"
	"github.com/careline/careline/internal/platform/notification"
)

var (
	ErrNotFound        = errors.New("patient not found")
	ErrReadingNotFound = errors.New("reading not found")
)

// Thresholds configure the nursing queue rules for one patient. A nil
// rule field disables that rule.
type Thresholds struct {
	ReadingsTooHighThreshold        *int `json:"readings_too_high_threshold,omitempty"`
	ReadingsTooHighInterval         *int `json:"readings_too_high_interval,omitempty"`
	ReadingsTooHighLimit            *int `json:"readings_too_high_limit,omitempty"`
	ReadingsTooLowThreshold         *int `json:"readings_too_low_threshold,omitempty"`
	ReadingsTooLowInterval          *int `json:"readings_too_low_interval,omitempty"`
	ReadingsTooLowLimit             *int `json:"readings_too_low_limit,omitempty"`
	NotEnoughRecentReadingsInterval *int `json:"not_enough_recent_readings_interval,omitempty"`
	NotEnoughRecentReadingsMinimum  *int `json:"not_enough_recent_readings_minimum,omitempty"`
}

func (t Thresholds) TooHighConfigured() bool {
	return t.ReadingsTooHighThreshold != nil && t.ReadingsTooHighInterval != nil && t.ReadingsTooHighLimit != nil
}

func (t Thresholds) TooLowConfigured() bool {
	return t.ReadingsTooLowThreshold != nil && t.ReadingsTooLowInterval != nil && t.ReadingsTooLowLimit != nil
}

func (t Thresholds) NotEnoughConfigured() bool {
	return t.NotEnoughRecentReadingsInterval != nil && t.NotEnoughRecentReadingsMinimum != nil
}

// Patient maps to the patient table.
type Patient struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	FirstName      string     `db:"first_name" json:"first_name"`
	LastName       string     `db:"last_name" json:"last_name"`
	DateOfBirth    *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Phone          string     `db:"phone" json:"phone,omitempty"`
	Email          string     `db:"email" json:"email,omitempty"`
	DeviceToken    string     `db:"device_token" json:"device_token,omitempty"`
	Address1       string     `db:"address1" json:"address1,omitempty"`
	Address2       string     `db:"address2" json:"address2,omitempty"`
	City           string     `db:"city" json:"city,omitempty"`
	State          string     `db:"state" json:"state,omitempty"`
	Zip            string     `db:"zip" json:"zip,omitempty"`
	MEID           string     `db:"meid" json:"meid,omitempty"`
	Active         bool       `db:"active" json:"active"`
	NursingGroupID *uuid.UUID `db:"nursing_group_id" json:"nursing_group_id,omitempty"`
	Thresholds
	ReminderEnabled bool       `db:"reminder_enabled" json:"reminder_enabled"`
	WelcomeSentAt   *time.Time `db:"welcome_sent_at" json:"welcome_sent_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

func (p *Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// ShippingAddress returns the patient's address in carrier form.
func (p *Patient) ShippingAddress() carrier.Address {
	return carrier.Address{
		Name:     p.FullName(),
		Address1: p.Address1,
		Address2: p.Address2,
		City:     p.City,
		State:    p.State,
		Zip:      p.Zip,
		Country:  "US",
		Phone:    p.Phone,
	}
}

func (p *Patient) Recipient() notification.Recipient {
	return notification.Recipient{
		Name:        p.FullName(),
		Phone:       p.Phone,
		Email:       p.Email,
		DeviceToken: p.DeviceToken,
	}
}

// Reading maps to the reading table.
type Reading struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	ValueMgDL int       `db:"value_mgdl" json:"value_mgdl"`
	TakenAt   time.Time `db:"taken_at" json:"taken_at"`
	MEID      string    `db:"meid" json:"meid,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ReadingEvent is the payload of the reading evaluation job.
type ReadingEvent struct {
	ReadingID uuid.UUID `json:"reading_id"`
	PatientID uuid.UUID `json:"patient_id"`
}
