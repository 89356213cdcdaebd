package nursing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careline/careline/internal/platform/db"
)

var errNoTx = errors.New("nursing: entries must be created inside a transaction")

type nursingRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &nursingRepoPG{pool: pool}
}

func (r *nursingRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *nursingRepoPG) CreateGroup(ctx context.Context, g *Group) error {
	g.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx,
		`INSERT INTO nursing_group (id, name) VALUES ($1, $2) RETURNING created_at`, g.ID, g.Name,
	).Scan(&g.CreatedAt)
}

func (r *nursingRepoPG) GetGroup(ctx context.Context, id uuid.UUID) (*Group, error) {
	var g Group
	err := r.conn(ctx).QueryRow(ctx, `SELECT id, name, created_at FROM nursing_group WHERE id = $1`, id).
		Scan(&g.ID, &g.Name, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *nursingRepoPG) ListGroups(ctx context.Context) ([]*Group, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT id, name, created_at FROM nursing_group ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &g)
	}
	return items, rows.Err()
}

const entryCols = `id, nursing_group_id, patient_id, entry_type, due_date, completed, completed_by,
	completed_at, note, created_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.NursingGroupID, &e.PatientID, &e.EntryType, &e.DueDate, &e.Completed, &e.CompletedBy,
		&e.CompletedAt, &e.Note, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &e, err
}

func (r *nursingRepoPG) CreateIfAbsent(ctx context.Context, e *Entry, since time.Time) (bool, error) {
	tx := db.TxFromContext(ctx)
	if tx == nil {
		return false, errNoTx
	}
	// The advisory lock is released when the transaction ends.
	key := e.PatientID.String() + ":" + string(e.EntryType)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return false, fmt.Errorf("acquire dedup lock: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM nursing_queue_entry
			WHERE patient_id = $1 AND entry_type = $2 AND created_at >= $3
		)`, e.PatientID, e.EntryType, since,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check recent entries: %w", err)
	}
	if exists {
		return false, nil
	}

	e.ID = uuid.New()
	err := tx.QueryRow(ctx, `
		INSERT INTO nursing_queue_entry (id, nursing_group_id, patient_id, entry_type, due_date)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		e.ID, e.NursingGroupID, e.PatientID, e.EntryType, e.DueDate,
	).Scan(&e.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert entry: %w", err)
	}
	return true, nil
}

func (r *nursingRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return scanEntry(r.conn(ctx).QueryRow(ctx, `SELECT `+entryCols+` FROM nursing_queue_entry WHERE id = $1`, id))
}

func (r *nursingRepoPG) Update(ctx context.Context, e *Entry) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE nursing_queue_entry SET due_date=$2, completed=$3, completed_by=$4, completed_at=$5, note=$6
		WHERE id = $1`,
		e.ID, e.DueDate, e.Completed, e.CompletedBy, e.CompletedAt, e.Note)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *nursingRepoPG) List(ctx context.Context, params map[string]string, limit, offset int) ([]*Entry, int, error) {
	query := `SELECT ` + entryCols + ` FROM nursing_queue_entry WHERE 1=1`
	count := `SELECT COUNT(*) FROM nursing_queue_entry WHERE 1=1`
	var args []interface{}
	idx := 1

	if v, ok := params["nursing_group_id"]; ok {
		query += fmt.Sprintf(` AND nursing_group_id = $%d`, idx)
		count += fmt.Sprintf(` AND nursing_group_id = $%d`, idx)
		args = append(args, v)
		idx++
	}
	if v, ok := params["patient_id"]; ok {
		query += fmt.Sprintf(` AND patient_id = $%d`, idx)
		count += fmt.Sprintf(` AND patient_id = $%d`, idx)
		args = append(args, v)
		idx++
	}
	if v, ok := params["entry_type"]; ok {
		query += fmt.Sprintf(` AND entry_type = $%d`, idx)
		count += fmt.Sprintf(` AND entry_type = $%d`, idx)
		args = append(args, v)
		idx++
	}
	if v, ok := params["completed"]; ok {
		query += fmt.Sprintf(` AND completed = $%d`, idx)
		count += fmt.Sprintf(` AND completed = $%d`, idx)
		args = append(args, v == "true")
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, count, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY due_date, created_at LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}
