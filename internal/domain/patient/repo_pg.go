package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careline/careline/internal/platform/db"
)

// =========== Patient Repository ===========

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const patientCols = `id, first_name, last_name, date_of_birth, phone, email, device_token,
	address1, address2, city, state, zip, meid, active, nursing_group_id,
	too_high_threshold, too_high_interval_days, too_high_limit,
	too_low_threshold, too_low_interval_days, too_low_limit,
	not_enough_interval_days, not_enough_minimum,
	reminder_enabled, welcome_sent_at, created_at, updated_at`

func (r *patientRepoPG) scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &p.DateOfBirth, &p.Phone, &p.Email, &p.DeviceToken,
		&p.Address1, &p.Address2, &p.City, &p.State, &p.Zip, &p.MEID, &p.Active, &p.NursingGroupID,
		&p.ReadingsTooHighThreshold, &p.ReadingsTooHighInterval, &p.ReadingsTooHighLimit,
		&p.ReadingsTooLowThreshold, &p.ReadingsTooLowInterval, &p.ReadingsTooLowLimit,
		&p.NotEnoughRecentReadingsInterval, &p.NotEnoughRecentReadingsMinimum,
		&p.ReminderEnabled, &p.WelcomeSentAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (id, first_name, last_name, date_of_birth, phone, email, device_token,
			address1, address2, city, state, zip, meid, active, nursing_group_id,
			too_high_threshold, too_high_interval_days, too_high_limit,
			too_low_threshold, too_low_interval_days, too_low_limit,
			not_enough_interval_days, not_enough_minimum, reminder_enabled)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
		RETURNING created_at, updated_at`,
		p.ID, p.FirstName, p.LastName, p.DateOfBirth, p.Phone, p.Email, p.DeviceToken,
		p.Address1, p.Address2, p.City, p.State, p.Zip, p.MEID, p.Active, p.NursingGroupID,
		p.ReadingsTooHighThreshold, p.ReadingsTooHighInterval, p.ReadingsTooHighLimit,
		p.ReadingsTooLowThreshold, p.ReadingsTooLowInterval, p.ReadingsTooLowLimit,
		p.NotEnoughRecentReadingsInterval, p.NotEnoughRecentReadingsMinimum, p.ReminderEnabled,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET first_name=$2, last_name=$3, date_of_birth=$4, phone=$5, email=$6, device_token=$7,
			address1=$8, address2=$9, city=$10, state=$11, zip=$12, meid=$13, active=$14, nursing_group_id=$15,
			too_high_threshold=$16, too_high_interval_days=$17, too_high_limit=$18,
			too_low_threshold=$19, too_low_interval_days=$20, too_low_limit=$21,
			not_enough_interval_days=$22, not_enough_minimum=$23, reminder_enabled=$24, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.FirstName, p.LastName, p.DateOfBirth, p.Phone, p.Email, p.DeviceToken,
		p.Address1, p.Address2, p.City, p.State, p.Zip, p.MEID, p.Active, p.NursingGroupID,
		p.ReadingsTooHighThreshold, p.ReadingsTooHighInterval, p.ReadingsTooHighLimit,
		p.ReadingsTooLowThreshold, p.ReadingsTooLowInterval, p.ReadingsTooLowLimit,
		p.NotEnoughRecentReadingsInterval, p.NotEnoughRecentReadingsMinimum, p.ReminderEnabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *patientRepoPG) List(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	query := `SELECT ` + patientCols + ` FROM patient WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM patient WHERE 1=1`
	var args []interface{}
	idx := 1

	if v, ok := params["active"]; ok {
		query += fmt.Sprintf(` AND active = $%d`, idx)
		countQuery += fmt.Sprintf(` AND active = $%d`, idx)
		args = append(args, v == "true")
		idx++
	}
	if v, ok := params["nursing_group_id"]; ok {
		query += fmt.Sprintf(` AND nursing_group_id = $%d`, idx)
		countQuery += fmt.Sprintf(` AND nursing_group_id = $%d`, idx)
		args = append(args, v)
		idx++
	}
	if v, ok := params["name"]; ok {
		query += fmt.Sprintf(` AND (first_name ILIKE $%d OR last_name ILIKE $%d)`, idx, idx)
		countQuery += fmt.Sprintf(` AND (first_name ILIKE $%d OR last_name ILIKE $%d)`, idx, idx)
		args = append(args, "%"+strings.TrimSpace(v)+"%")
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY last_name, first_name LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	items, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *patientRepoPG) ListInNursingGroups(ctx context.Context) ([]*Patient, error) {
	return r.query(ctx, `SELECT `+patientCols+` FROM patient
		WHERE active AND nursing_group_id IS NOT NULL ORDER BY id`)
}

func (r *patientRepoPG) ListWelcomePending(ctx context.Context) ([]*Patient, error) {
	return r.query(ctx, `SELECT `+patientCols+` FROM patient
		WHERE active AND welcome_sent_at IS NULL AND phone <> '' ORDER BY created_at`)
}

func (r *patientRepoPG) ListWithoutReadingSince(ctx context.Context, since time.Time) ([]*Patient, error) {
	return r.query(ctx, `SELECT `+patientCols+` FROM patient p
		WHERE p.active AND p.reminder_enabled AND p.phone <> ''
		AND NOT EXISTS (SELECT 1 FROM reading rd WHERE rd.patient_id = p.id AND rd.taken_at >= $1)
		ORDER BY p.id`, since)
}

func (r *patientRepoPG) MarkWelcomeSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE patient SET welcome_sent_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
	return err
}

func (r *patientRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Patient, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := r.scanPatient(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// =========== Reading Repository ===========

type readingRepoPG struct{ pool *pgxpool.Pool }

func NewReadingRepoPG(pool *pgxpool.Pool) ReadingRepository {
	return &readingRepoPG{pool: pool}
}

func (r *readingRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const readingCols = `id, patient_id, value_mgdl, taken_at, meid, created_at`

func (r *readingRepoPG) scanReading(row pgx.Row) (*Reading, error) {
	var rd Reading
	err := row.Scan(&rd.ID, &rd.PatientID, &rd.ValueMgDL, &rd.TakenAt, &rd.MEID, &rd.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrReadingNotFound
	}
	return &rd, err
}

func (r *readingRepoPG) Create(ctx context.Context, rd *Reading) error {
	rd.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO reading (id, patient_id, value_mgdl, taken_at, meid)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		rd.ID, rd.PatientID, rd.ValueMgDL, rd.TakenAt, rd.MEID).Scan(&rd.CreatedAt)
}

func (r *readingRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Reading, error) {
	return r.scanReading(r.conn(ctx).QueryRow(ctx, `SELECT `+readingCols+` FROM reading WHERE id = $1`, id))
}

func (r *readingRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Reading, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM reading WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+readingCols+` FROM reading WHERE patient_id = $1
		ORDER BY taken_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Reading
	for rows.Next() {
		rd, err := r.scanReading(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rd)
	}
	return items, total, rows.Err()
}

func (r *readingRepoPG) CountSince(ctx context.Context, patientID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM reading WHERE patient_id = $1 AND taken_at >= $2`,
		patientID, since).Scan(&n)
	return n, err
}

func (r *readingRepoPG) CountAboveSince(ctx context.Context, patientID uuid.UUID, threshold int, since time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM reading
		WHERE patient_id = $1 AND taken_at >= $2 AND value_mgdl > $3`,
		patientID, since, threshold).Scan(&n)
	return n, err
}

func (r *readingRepoPG) CountBelowSince(ctx context.Context, patientID uuid.UUID, threshold int, since time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM reading
		WHERE patient_id = $1 AND taken_at >= $2 AND value_mgdl < $3`,
		patientID, since, threshold).Scan(&n)
	return n, err
}

func (r *readingRepoPG) LatestTakenAt(ctx context.Context, patientID uuid.UUID) (*time.Time, error) {
	var at *time.Time
	err := r.conn(ctx).QueryRow(ctx, `SELECT MAX(taken_at) FROM reading WHERE patient_id = $1`, patientID).Scan(&at)
	return at, err
}
