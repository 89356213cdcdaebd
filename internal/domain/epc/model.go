package epc

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound           = errors.New("epc record not found")
	ErrUnknownPatient     = errors.New("unknown partner patient")
	ErrInvalidCredentials = errors.New("invalid api credentials")
	ErrUsernameTaken      = errors.New("api username already exists")
	ErrInvalidPayload     = errors.New("invalid payload")
)

// Patient mirrors a partner patient record. It maps to the epc_patient table.
type Patient struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	PartnerPatientID string     `db:"partner_patient_id" json:"partner_patient_id"`
	PatientID        *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	FirstName        string     `db:"first_name" json:"first_name"`
	LastName         string     `db:"last_name" json:"last_name"`
	DateOfBirth      *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Phone            string     `db:"phone" json:"phone,omitempty"`
	Email            string     `db:"email" json:"email,omitempty"`
	Address1         string     `db:"address1" json:"address1,omitempty"`
	Address2         string     `db:"address2" json:"address2,omitempty"`
	City             string     `db:"city" json:"city,omitempty"`
	State            string     `db:"state" json:"state,omitempty"`
	Zip              string     `db:"zip" json:"zip,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// Order mirrors a partner order. It maps to the epc_order table.
type Order struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	PartnerOrderID string     `db:"partner_order_id" json:"partner_order_id"`
	EPCPatientID   uuid.UUID  `db:"epc_patient_id" json:"epc_patient_id"`
	OrderID        *uuid.UUID `db:"order_id" json:"order_id,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Change is one immutable snapshot of a partner order as received. Ordering
// starts at 0 and is unique per order.
type Change struct {
	ID                      uuid.UUID  `db:"id" json:"id"`
	EPCOrderID              uuid.UUID  `db:"epc_order_id" json:"epc_order_id"`
	Ordering                int        `db:"ordering" json:"ordering"`
	OrderType               string     `db:"order_type" json:"order_type"`
	MeterQuantity           int        `db:"meter_quantity" json:"meter_quantity"`
	StripQuantity           int        `db:"strip_quantity" json:"strip_quantity"`
	LancetQuantity          int        `db:"lancet_quantity" json:"lancet_quantity"`
	ControlSolutionQuantity int        `db:"control_solution_quantity" json:"control_solution_quantity"`
	ShippedMeterQuantity    int        `db:"shipped_meter_quantity" json:"shipped_meter_quantity"`
	ShippedStripQuantity    int        `db:"shipped_strip_quantity" json:"shipped_strip_quantity"`
	ShippedLancetQuantity   int        `db:"shipped_lancet_quantity" json:"shipped_lancet_quantity"`
	Status                  string     `db:"status" json:"status"`
	TrackingNumber          string     `db:"tracking_number" json:"tracking_number,omitempty"`
	RequestedShipDate       *time.Time `db:"requested_ship_date" json:"requested_ship_date,omitempty"`
	ShippedDate             *time.Time `db:"shipped_date" json:"shipped_date,omitempty"`
	APITransactionID        *uuid.UUID `db:"api_transaction_id" json:"api_transaction_id,omitempty"`
	CreatedAt               time.Time  `db:"created_at" json:"created_at"`
}

// Note is a human readable entry on a partner order, either generated from a
// change or written by staff. It maps to the epc_order_note table.
type Note struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	EPCOrderID uuid.UUID  `db:"epc_order_id" json:"epc_order_id"`
	ChangeID   *uuid.UUID `db:"change_id" json:"change_id,omitempty"`
	Ordering   int        `db:"ordering" json:"ordering"`
	Body       string     `db:"body" json:"body"`
	Author     string     `db:"author" json:"author,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// APIUser is a partner credential. It maps to the api_user table.
type APIUser struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	Username     string     `db:"username" json:"username"`
	PasswordHash string     `db:"password_hash" json:"-"`
	Active       bool       `db:"active" json:"active"`
	LastUsedAt   *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// Transaction is the audit record of one partner API call. It maps to the
// api_transaction table.
type Transaction struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	APIUserID    *uuid.UUID `db:"api_user_id" json:"api_user_id,omitempty"`
	Username     string     `db:"username" json:"username,omitempty"`
	Method       string     `db:"method" json:"method"`
	Endpoint     string     `db:"endpoint" json:"endpoint"`
	RequestBody  string     `db:"request_body" json:"request_body"`
	ResponseBody string     `db:"response_body" json:"response_body"`
	StatusCode   int        `db:"status_code" json:"status_code"`
	Success      bool       `db:"success" json:"success"`
	Error        string     `db:"error" json:"error,omitempty"`
	RemoteIP     string     `db:"remote_ip" json:"remote_ip,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// OrderDetail is the staff view of a partner order.
type OrderDetail struct {
	*Order
	Changes []*Change `json:"changes"`
	Notes   []*Note   `json:"notes"`
}
