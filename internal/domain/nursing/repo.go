package nursing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	CreateGroup(ctx context.Context, g *Group) error
	GetGroup(ctx context.Context, id uuid.UUID) (*Group, error)
	ListGroups(ctx context.Context) ([]*Group, error)

	// CreateIfAbsent inserts e unless an entry of the same patient and type
	// was created at or after since. The check and insert are serialized per
	// (patient, type) and must run inside a transaction.
	CreateIfAbsent(ctx context.Context, e *Entry, since time.Time) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)
	Update(ctx context.Context, e *Entry) error
	List(ctx context.Context, params map[string]string, limit, offset int) ([]*Entry, int, error)
}
