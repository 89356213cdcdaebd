package order

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careline/careline/internal/domain/product"
	"github.com/careline/careline/internal/platform/db"
)

// Service applies lifecycle transitions. Each transition loads the order
// with a row lock, mutates it and writes it back in one transaction.
type Service struct {
	repo   Repository
	tx     db.TxRunner
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		tx:     tx,
		logger: logger.With().Str("component", "order").Logger(),
		now:    time.Now,
	}
}

func (s *Service) Create(ctx context.Context, o *Order) error {
	if o.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if o.OrderType == "" {
		o.OrderType = TypeManual
	}
	if !validTypes[o.OrderType] {
		return fmt.Errorf("invalid order_type: %s", o.OrderType)
	}
	if len(o.Entries) == 0 {
		return fmt.Errorf("at least one entry is required")
	}
	for _, e := range o.Entries {
		p, ok := product.Lookup(e.ProductCode)
		if !ok || !p.Orderable {
			return fmt.Errorf("invalid product_code: %s", e.ProductCode)
		}
		if e.Quantity <= 0 {
			return fmt.Errorf("quantity for %s must be positive", e.ProductCode)
		}
	}
	o.Status = StatusWaitingToBeShipped
	o.LockedByID = nil
	o.LockedAt = nil
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.repo.Create(ctx, o)
	})
}

// Get returns the order, reclaiming a stale lock on the way.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.IsLocked() || s.now().Sub(*o.LockedAt) <= LockTimeout {
		return o, nil
	}
	return s.transition(ctx, id, "check_lock", func(_ context.Context, o *Order) error {
		if o.CheckLock(s.now()) {
			s.logger.Info().Str("order_id", o.ID.String()).Msg("stale lock reclaimed")
		}
		return nil
	})
}

func (s *Service) List(ctx context.Context, params map[string]string, limit, offset int) ([]*Order, int, error) {
	return s.repo.List(ctx, params, limit, offset)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, action string, fn func(ctx context.Context, o *Order) error) (*Order, error) {
	var out *Order
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		o, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from := o.Status
		if err := fn(ctx, o); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, o); err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		if o.Status != from {
			s.logger.Info().Str("order_id", o.ID.String()).Str("action", action).
				Str("from", string(from)).Str("to", string(o.Status)).Msg("order transition")
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) Lock(ctx context.Context, id uuid.UUID, user string) (*Order, error) {
	return s.transition(ctx, id, "lock", func(_ context.Context, o *Order) error {
		o.CheckLock(s.now())
		return o.Lock(user, s.now())
	})
}

func (s *Service) Unlock(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.transition(ctx, id, "unlock", func(_ context.Context, o *Order) error {
		o.Unlock()
		return nil
	})
}

func (s *Service) Hold(ctx context.Context, id uuid.UUID, reason, user string) (*Order, error) {
	return s.transition(ctx, id, "hold", func(_ context.Context, o *Order) error {
		return o.Hold(reason, user, s.now())
	})
}

func (s *Service) Unhold(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.transition(ctx, id, "unhold", func(_ context.Context, o *Order) error {
		return o.Unhold()
	})
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason, user string) (*Order, error) {
	return s.transition(ctx, id, "cancel", func(_ context.Context, o *Order) error {
		return o.Cancel(reason, user, s.now())
	})
}

func (s *Service) AddProblem(ctx context.Context, id uuid.UUID, category, description, user string) (*Order, error) {
	return s.transition(ctx, id, "add_problem", func(ctx context.Context, o *Order) error {
		p, err := o.AddProblem(category, description, user, s.now())
		if err != nil {
			return err
		}
		return s.repo.AddProblem(ctx, p)
	})
}

func (s *Service) ResolveProblem(ctx context.Context, id uuid.UUID, resolution, user string) (*Order, error) {
	return s.transition(ctx, id, "resolve_problem", func(ctx context.Context, o *Order) error {
		p, err := o.ResolveProblem(resolution, user, s.now())
		if err != nil {
			return err
		}
		return s.repo.UpdateProblem(ctx, p)
	})
}

func (s *Service) CheckIfShipped(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.transition(ctx, id, "ship", func(_ context.Context, o *Order) error {
		return o.CheckIfShipped(s.now())
	})
}

func (s *Service) Fulfill(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.transition(ctx, id, "fulfill", func(_ context.Context, o *Order) error {
		return o.Fulfill(s.now())
	})
}

func (s *Service) AwaitRx(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.transition(ctx, id, "await_rx", func(_ context.Context, o *Order) error {
		return o.AwaitRx()
	})
}

func (s *Service) ReceiveRx(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.transition(ctx, id, "receive_rx", func(_ context.Context, o *Order) error {
		return o.ReceiveRx()
	})
}
