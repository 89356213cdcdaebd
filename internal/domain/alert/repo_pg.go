package alert

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careline/careline/internal/platform/db"
	"github.com/careline/careline/internal/platform/notification"
)

type alertRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &alertRepoPG{pool: pool}
}

func (r *alertRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const alertCols = `id, patient_id, recipient_kind, recipient_id, recipient_name, phone, email, device_token,
	alert_type, threshold, contact_methods, message_override, active, created_at, updated_at`

func scanAlert(row pgx.Row) (*Alert, error) {
	var a Alert
	var methods []string
	err := row.Scan(&a.ID, &a.PatientID, &a.RecipientKind, &a.RecipientID, &a.RecipientName, &a.Phone, &a.Email, &a.DeviceToken,
		&a.AlertType, &a.Threshold, &methods, &a.MessageOverride, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	for _, m := range methods {
		a.ContactMethods = append(a.ContactMethods, notification.Channel(m))
	}
	return &a, nil
}

func methodStrings(methods []notification.Channel) []string {
	out := make([]string, 0, len(methods))
	for _, m := range methods {
		out = append(out, string(m))
	}
	return out
}

func (r *alertRepoPG) Create(ctx context.Context, a *Alert) error {
	a.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO alert (id, patient_id, recipient_kind, recipient_id, recipient_name, phone, email, device_token,
			alert_type, threshold, contact_methods, message_override, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.RecipientKind, a.RecipientID, a.RecipientName, a.Phone, a.Email, a.DeviceToken,
		a.AlertType, a.Threshold, methodStrings(a.ContactMethods), a.MessageOverride, a.Active,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *alertRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Alert, error) {
	return scanAlert(r.conn(ctx).QueryRow(ctx, `SELECT `+alertCols+` FROM alert WHERE id = $1`, id))
}

func (r *alertRepoPG) Update(ctx context.Context, a *Alert) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE alert SET recipient_kind=$2, recipient_id=$3, recipient_name=$4, phone=$5, email=$6, device_token=$7,
			alert_type=$8, threshold=$9, contact_methods=$10, message_override=$11, active=$12, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.RecipientKind, a.RecipientID, a.RecipientName, a.Phone, a.Email, a.DeviceToken,
		a.AlertType, a.Threshold, methodStrings(a.ContactMethods), a.MessageOverride, a.Active,
	).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *alertRepoPG) list(ctx context.Context, sql string, args ...interface{}) ([]*Alert, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *alertRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, activeOnly bool) ([]*Alert, error) {
	sql := `SELECT ` + alertCols + ` FROM alert WHERE patient_id = $1`
	if activeOnly {
		sql += ` AND active`
	}
	return r.list(ctx, sql+` ORDER BY created_at`, patientID)
}

func (r *alertRepoPG) ListActiveByType(ctx context.Context, t Type) ([]*Alert, error) {
	return r.list(ctx, `SELECT `+alertCols+` FROM alert WHERE alert_type = $1 AND active ORDER BY patient_id, created_at`, t)
}

func (r *alertRepoPG) CreateDispatch(ctx context.Context, d *Dispatch) error {
	d.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO alert_dispatch (id, alert_id, patient_id, reading_id, channel, address, subject, body, status, error, sent_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at`,
		d.ID, d.AlertID, d.PatientID, d.ReadingID, d.Channel, d.Address, d.Subject, d.Body, d.Status, d.Error, d.SentAt,
	).Scan(&d.CreatedAt)
}

func (r *alertRepoPG) ListDispatches(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Dispatch, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM alert_dispatch WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, alert_id, patient_id, reading_id, channel, address, subject, body, status, error, sent_at, created_at
		FROM alert_dispatch WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Dispatch
	for rows.Next() {
		var d Dispatch
		if err := rows.Scan(&d.ID, &d.AlertID, &d.PatientID, &d.ReadingID, &d.Channel, &d.Address, &d.Subject, &d.Body,
			&d.Status, &d.Error, &d.SentAt, &d.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &d)
	}
	return items, total, rows.Err()
}

func (r *alertRepoPG) LastDispatchAt(ctx context.Context, alertID uuid.UUID) (*time.Time, error) {
	var at *time.Time
	err := r.conn(ctx).QueryRow(ctx, `SELECT MAX(created_at) FROM alert_dispatch WHERE alert_id = $1`, alertID).Scan(&at)
	return at, err
}
