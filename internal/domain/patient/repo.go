package patient

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	List(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error)
	// ListInNursingGroups returns active patients assigned to a nursing group.
	ListInNursingGroups(ctx context.Context) ([]*Patient, error)
	ListWelcomePending(ctx context.Context) ([]*Patient, error)
	// ListWithoutReadingSince returns active patients with reminders enabled
	// and no reading taken at or after since.
	ListWithoutReadingSince(ctx context.Context, since time.Time) ([]*Patient, error)
	MarkWelcomeSent(ctx context.Context, id uuid.UUID, at time.Time) error
}

type ReadingRepository interface {
	Create(ctx context.Context, r *Reading) error
	GetByID(ctx context.Context, id uuid.UUID) (*Reading, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Reading, int, error)
	CountSince(ctx context.Context, patientID uuid.UUID, since time.Time) (int, error)
	CountAboveSince(ctx context.Context, patientID uuid.UUID, threshold int, since time.Time) (int, error)
	CountBelowSince(ctx context.Context, patientID uuid.UUID, threshold int, since time.Time) (int, error)
	LatestTakenAt(ctx context.Context, patientID uuid.UUID) (*time.Time, error)
}
