package shipment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careline/careline/internal/platform/db"
)

type shipmentRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &shipmentRepoPG{pool: pool}
}

func (r *shipmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const shipmentCols = `id, order_id, shipping_class, package_type, weight_oz, ship_date, rate,
	tracking_number, label_url, label_key, finalized, finalized_by, finalized_at, created_at, updated_at`

func (r *shipmentRepoPG) scanShipment(row pgx.Row) (*Shipment, error) {
	var s Shipment
	err := row.Scan(&s.ID, &s.OrderID, &s.ShippingClass, &s.PackageType, &s.WeightOz, &s.ShipDate, &s.Rate,
		&s.TrackingNumber, &s.LabelURL, &s.LabelKey, &s.Finalized, &s.FinalizedBy, &s.FinalizedAt, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &s, err
}

func (r *shipmentRepoPG) Create(ctx context.Context, s *Shipment) error {
	s.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO order_shipment (id, order_id, shipping_class, package_type, weight_oz, ship_date)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		s.ID, s.OrderID, s.ShippingClass, s.PackageType, s.WeightOz, s.ShipDate,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
}

func (r *shipmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Shipment, error) {
	return r.scanShipment(r.conn(ctx).QueryRow(ctx, `SELECT `+shipmentCols+` FROM order_shipment WHERE id = $1`, id))
}

func (r *shipmentRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Shipment, error) {
	return r.scanShipment(r.conn(ctx).QueryRow(ctx, `SELECT `+shipmentCols+` FROM order_shipment WHERE id = $1 FOR UPDATE`, id))
}

func (r *shipmentRepoPG) Update(ctx context.Context, s *Shipment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE order_shipment SET shipping_class=$2, package_type=$3, weight_oz=$4, ship_date=$5, rate=$6,
			tracking_number=$7, label_url=$8, label_key=$9, finalized=$10, finalized_by=$11, finalized_at=$12,
			updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.ShippingClass, s.PackageType, s.WeightOz, s.ShipDate, s.Rate,
		s.TrackingNumber, s.LabelURL, s.LabelKey, s.Finalized, s.FinalizedBy, s.FinalizedAt,
	).Scan(&s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *shipmentRepoPG) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*Shipment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+shipmentCols+` FROM order_shipment WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Shipment
	for rows.Next() {
		s, err := r.scanShipment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}
