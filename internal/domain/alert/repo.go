package alert

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Alert) error
	GetByID(ctx context.Context, id uuid.UUID) (*Alert, error)
	Update(ctx context.Context, a *Alert) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, activeOnly bool) ([]*Alert, error)
	ListActiveByType(ctx context.Context, t Type) ([]*Alert, error)

	CreateDispatch(ctx context.Context, d *Dispatch) error
	ListDispatches(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Dispatch, int, error)
	// LastDispatchAt returns the time of the alert's latest dispatch, or nil.
	LastDispatchAt(ctx context.Context, alertID uuid.UUID) (*time.Time, error)
}
