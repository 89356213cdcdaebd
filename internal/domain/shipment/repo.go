package shipment

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, s *Shipment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Shipment, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Shipment, error)
	Update(ctx context.Context, s *Shipment) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*Shipment, error)
}
