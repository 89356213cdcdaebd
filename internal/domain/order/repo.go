package order

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Create inserts the order with its entries.
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	// GetForUpdate loads the order and row-locks it until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Order, error)
	Update(ctx context.Context, o *Order) error
	List(ctx context.Context, params map[string]string, limit, offset int) ([]*Order, int, error)
	AddProblem(ctx context.Context, p *Problem) error
	UpdateProblem(ctx context.Context, p *Problem) error
}
