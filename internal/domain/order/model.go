package order

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusOnHold             Status = "on_hold"
	StatusWaitingToBeShipped Status = "waiting_to_be_shipped"
	StatusInProgress         Status = "in_progress"
	StatusWaitingForRx       Status = "waiting_for_rx"
	StatusPartiallyShipped   Status = "partially_shipped"
	StatusShipped            Status = "shipped"
	StatusFulfilled          Status = "fulfilled"
	StatusProblem            Status = "problem"
	StatusCanceled           Status = "canceled"
)

var validStatuses = map[Status]bool{
	StatusOnHold: true, StatusWaitingToBeShipped: true, StatusInProgress: true,
	StatusWaitingForRx: true, StatusPartiallyShipped: true, StatusShipped: true,
	StatusFulfilled: true, StatusProblem: true, StatusCanceled: true,
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !validStatuses[st] {
		return "", errors.New("unknown order status: " + s)
	}
	return st, nil
}

type Type string

const (
	TypeManual Type = "manual"
	TypeBulk   Type = "bulk"
	TypeAPI    Type = "api"
	TypeRefill Type = "refill"
)

var validTypes = map[Type]bool{
	TypeManual: true, TypeBulk: true, TypeAPI: true, TypeRefill: true,
}

var (
	ErrNotFound            = errors.New("order not found")
	ErrInvalidTransition   = errors.New("invalid order transition")
	ErrAlreadyLockedByUser = errors.New("order is already locked by this user")
	ErrLockedByAnotherUser = errors.New("order is locked by another user")
	ErrNoOpenProblems      = errors.New("order has no open problems")
)

// LockTimeout is how long a lock is honored before CheckLock reclaims it.
const LockTimeout = 12 * time.Hour

// Order maps to the orders table.
type Order struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	OrderType     Type       `db:"order_type" json:"order_type"`
	Status        Status     `db:"status" json:"status"`
	ShippingClass string     `db:"shipping_class" json:"shipping_class,omitempty"`
	Notes         string     `db:"notes" json:"notes,omitempty"`
	LockedByID    *string    `db:"locked_by" json:"locked_by,omitempty"`
	LockedAt      *time.Time `db:"locked_at" json:"locked_at,omitempty"`
	HoldReason    string     `db:"hold_reason" json:"hold_reason,omitempty"`
	HeldBy        string     `db:"held_by" json:"held_by,omitempty"`
	HeldAt        *time.Time `db:"held_at" json:"held_at,omitempty"`
	CancelReason  string     `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CanceledBy    string     `db:"canceled_by" json:"canceled_by,omitempty"`
	CanceledAt    *time.Time `db:"canceled_at" json:"canceled_at,omitempty"`
	ShippedAt     *time.Time `db:"shipped_at" json:"shipped_at,omitempty"`
	FulfilledAt   *time.Time `db:"fulfilled_at" json:"fulfilled_at,omitempty"`
	CreatedBy     string     `db:"created_by" json:"created_by,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`

	Entries  []*Entry   `json:"entries,omitempty"`
	Problems []*Problem `json:"problems,omitempty"`
}

// Entry maps to the order_entry table.
type Entry struct {
	ID              uuid.UUID `db:"id" json:"id"`
	OrderID         uuid.UUID `db:"order_id" json:"order_id"`
	ProductCode     string    `db:"product_code" json:"product_code"`
	Quantity        int       `db:"quantity" json:"quantity"`
	ShippedQuantity int       `db:"shipped_quantity" json:"shipped_quantity"`
}

// Problem maps to the order_problem table.
type Problem struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	OrderID     uuid.UUID  `db:"order_id" json:"order_id"`
	Category    string     `db:"category" json:"category"`
	Description string     `db:"description" json:"description,omitempty"`
	ReportedBy  string     `db:"reported_by" json:"reported_by,omitempty"`
	ReportedAt  time.Time  `db:"reported_at" json:"reported_at"`
	Resolved    bool       `db:"resolved" json:"resolved"`
	Resolution  string     `db:"resolution" json:"resolution,omitempty"`
	ResolvedBy  string     `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}
