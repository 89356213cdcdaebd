package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careline/careline/internal/platform/db"
)

type orderRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &orderRepoPG{pool: pool}
}

func (r *orderRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const orderCols = `id, patient_id, order_type, status, shipping_class, notes, locked_by, locked_at,
	hold_reason, held_by, held_at, cancel_reason, canceled_by, canceled_at,
	shipped_at, fulfilled_at, created_by, created_at, updated_at`

func (r *orderRepoPG) scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.PatientID, &o.OrderType, &o.Status, &o.ShippingClass, &o.Notes, &o.LockedByID, &o.LockedAt,
		&o.HoldReason, &o.HeldBy, &o.HeldAt, &o.CancelReason, &o.CanceledBy, &o.CanceledAt,
		&o.ShippedAt, &o.FulfilledAt, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &o, err
}

func (r *orderRepoPG) Create(ctx context.Context, o *Order) error {
	o.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO orders (id, patient_id, order_type, status, shipping_class, notes, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		o.ID, o.PatientID, o.OrderType, o.Status, o.ShippingClass, o.Notes, o.CreatedBy,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return err
	}
	for _, e := range o.Entries {
		e.ID = uuid.New()
		e.OrderID = o.ID
		if _, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO order_entry (id, order_id, product_code, quantity, shipped_quantity)
			VALUES ($1,$2,$3,$4,$5)`,
			e.ID, e.OrderID, e.ProductCode, e.Quantity, e.ShippedQuantity); err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}
	}
	return nil
}

func (r *orderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	return r.load(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1`, id)
}

func (r *orderRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Order, error) {
	return r.load(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *orderRepoPG) load(ctx context.Context, sql string, id uuid.UUID) (*Order, error) {
	o, err := r.scanOrder(r.conn(ctx).QueryRow(ctx, sql, id))
	if err != nil {
		return nil, err
	}
	if o.Entries, err = r.entries(ctx, o.ID); err != nil {
		return nil, err
	}
	if o.Problems, err = r.problems(ctx, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *orderRepoPG) entries(ctx context.Context, orderID uuid.UUID) ([]*Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, order_id, product_code, quantity, shipped_quantity
		FROM order_entry WHERE order_id = $1 ORDER BY product_code`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.OrderID, &e.ProductCode, &e.Quantity, &e.ShippedQuantity); err != nil {
			return nil, err
		}
		items = append(items, &e)
	}
	return items, rows.Err()
}

const problemCols = `id, order_id, category, description, reported_by, reported_at, resolved, resolution, resolved_by, resolved_at`

func (r *orderRepoPG) problems(ctx context.Context, orderID uuid.UUID) ([]*Problem, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+problemCols+` FROM order_problem WHERE order_id = $1 ORDER BY reported_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Problem
	for rows.Next() {
		var p Problem
		if err := rows.Scan(&p.ID, &p.OrderID, &p.Category, &p.Description, &p.ReportedBy, &p.ReportedAt,
			&p.Resolved, &p.Resolution, &p.ResolvedBy, &p.ResolvedAt); err != nil {
			return nil, err
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}

func (r *orderRepoPG) Update(ctx context.Context, o *Order) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE orders SET status=$2, shipping_class=$3, notes=$4, locked_by=$5, locked_at=$6,
			hold_reason=$7, held_by=$8, held_at=$9, cancel_reason=$10, canceled_by=$11, canceled_at=$12,
			shipped_at=$13, fulfilled_at=$14, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		o.ID, o.Status, o.ShippingClass, o.Notes, o.LockedByID, o.LockedAt,
		o.HoldReason, o.HeldBy, o.HeldAt, o.CancelReason, o.CanceledBy, o.CanceledAt,
		o.ShippedAt, o.FulfilledAt,
	).Scan(&o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *orderRepoPG) List(ctx context.Context, params map[string]string, limit, offset int) ([]*Order, int, error) {
	query := `SELECT ` + orderCols + ` FROM orders WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM orders WHERE 1=1`
	var args []interface{}
	idx := 1

	if v, ok := params["status"]; ok {
		query += fmt.Sprintf(` AND status = $%d`, idx)
		countQuery += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, v)
		idx++
	}
	if v, ok := params["patient_id"]; ok {
		query += fmt.Sprintf(` AND patient_id = $%d`, idx)
		countQuery += fmt.Sprintf(` AND patient_id = $%d`, idx)
		args = append(args, v)
		idx++
	}
	if v, ok := params["order_type"]; ok {
		query += fmt.Sprintf(` AND order_type = $%d`, idx)
		countQuery += fmt.Sprintf(` AND order_type = $%d`, idx)
		args = append(args, v)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Order
	for rows.Next() {
		o, err := r.scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, o)
	}
	return items, total, rows.Err()
}

func (r *orderRepoPG) AddProblem(ctx context.Context, p *Problem) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO order_problem (id, order_id, category, description, reported_by, reported_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		p.ID, p.OrderID, p.Category, p.Description, p.ReportedBy, p.ReportedAt)
	return err
}

func (r *orderRepoPG) UpdateProblem(ctx context.Context, p *Problem) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE order_problem SET resolved=$2, resolution=$3, resolved_by=$4, resolved_at=$5
		WHERE id = $1`,
		p.ID, p.Resolved, p.Resolution, p.ResolvedBy, p.ResolvedAt)
	return err
}
