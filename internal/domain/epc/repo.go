package epc

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// UpsertPatient inserts or refreshes the mirror keyed by partner id and
	// reports whether it was new. The stored PatientID link is preserved.
	UpsertPatient(ctx context.Context, p *Patient) (bool, error)
	GetPatientByPartnerID(ctx context.Context, partnerPatientID string) (*Patient, error)
	LinkPatient(ctx context.Context, epcPatientID, patientID uuid.UUID) error

	// EnsureOrder loads the mirror keyed by partner order id, creating it when
	// absent, and row-locks it until the surrounding transaction ends.
	EnsureOrder(ctx context.Context, o *Order) (bool, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	LinkOrder(ctx context.Context, epcOrderID, orderID uuid.UUID) error

	// AppendChange assigns the next Ordering for the order and inserts c. It
	// returns the previous change, or nil for the first one. Must run inside
	// a transaction.
	AppendChange(ctx context.Context, c *Change) (*Change, error)
	ListChanges(ctx context.Context, epcOrderID uuid.UUID) ([]*Change, error)
	AddNote(ctx context.Context, n *Note) error
	ListNotes(ctx context.Context, epcOrderID uuid.UUID) ([]*Note, error)
}

type CredentialRepository interface {
	CreateAPIUser(ctx context.Context, u *APIUser) error
	GetAPIUserByUsername(ctx context.Context, username string) (*APIUser, error)
	TouchAPIUser(ctx context.Context, id uuid.UUID, at time.Time) error
	CreateTransaction(ctx context.Context, t *Transaction) error
	// CompleteTransaction stores the outcome of a transaction created earlier.
	CompleteTransaction(ctx context.Context, t *Transaction) error
	ListTransactions(ctx context.Context, limit, offset int) ([]*Transaction, int, error)
}
