package epc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careline/careline/internal/platform/db"
)

var errNoTx = errors.New("epc: changes and notes must be written inside a transaction")

type epcRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &epcRepoPG{pool: pool}
}

func (r *epcRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const patientCols = `id, partner_patient_id, patient_id, first_name, last_name, date_of_birth,
	phone, email, address1, address2, city, state, zip, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.PartnerPatientID, &p.PatientID, &p.FirstName, &p.LastName, &p.DateOfBirth,
		&p.Phone, &p.Email, &p.Address1, &p.Address2, &p.City, &p.State, &p.Zip, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *epcRepoPG) UpsertPatient(ctx context.Context, p *Patient) (bool, error) {
	var created bool
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO epc_patient (id, partner_patient_id, first_name, last_name, date_of_birth,
			phone, email, address1, address2, city, state, zip)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (partner_patient_id) DO UPDATE SET
			first_name=EXCLUDED.first_name, last_name=EXCLUDED.last_name, date_of_birth=EXCLUDED.date_of_birth,
			phone=EXCLUDED.phone, email=EXCLUDED.email, address1=EXCLUDED.address1, address2=EXCLUDED.address2,
			city=EXCLUDED.city, state=EXCLUDED.state, zip=EXCLUDED.zip, updated_at=NOW()
		RETURNING id, patient_id, created_at, updated_at, (xmax = 0)`,
		uuid.New(), p.PartnerPatientID, p.FirstName, p.LastName, p.DateOfBirth,
		p.Phone, p.Email, p.Address1, p.Address2, p.City, p.State, p.Zip,
	).Scan(&p.ID, &p.PatientID, &p.CreatedAt, &p.UpdatedAt, &created)
	return created, err
}

func (r *epcRepoPG) GetPatientByPartnerID(ctx context.Context, partnerPatientID string) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM epc_patient WHERE partner_patient_id = $1`, partnerPatientID))
}

func (r *epcRepoPG) LinkPatient(ctx context.Context, epcPatientID, patientID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE epc_patient SET patient_id = $2, updated_at = NOW() WHERE id = $1`, epcPatientID, patientID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const orderCols = `id, partner_order_id, epc_patient_id, order_id, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.PartnerOrderID, &o.EPCPatientID, &o.OrderID, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &o, err
}

func (r *epcRepoPG) EnsureOrder(ctx context.Context, o *Order) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO epc_order (id, partner_order_id, epc_patient_id)
		VALUES ($1,$2,$3)
		ON CONFLICT (partner_order_id) DO NOTHING`,
		uuid.New(), o.PartnerOrderID, o.EPCPatientID)
	if err != nil {
		return false, err
	}
	got, err := scanOrder(r.conn(ctx).QueryRow(ctx,
		`SELECT `+orderCols+` FROM epc_order WHERE partner_order_id = $1 FOR UPDATE`, o.PartnerOrderID))
	if err != nil {
		return false, err
	}
	*o = *got
	return tag.RowsAffected() == 1, nil
}

func (r *epcRepoPG) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	return scanOrder(r.conn(ctx).QueryRow(ctx, `SELECT `+orderCols+` FROM epc_order WHERE id = $1`, id))
}

func (r *epcRepoPG) LinkOrder(ctx context.Context, epcOrderID, orderID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE epc_order SET order_id = $2, updated_at = NOW() WHERE id = $1`, epcOrderID, orderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const changeCols = `id, epc_order_id, ordering, order_type, meter_quantity, strip_quantity, lancet_quantity,
	control_solution_quantity, shipped_meter_quantity, shipped_strip_quantity, shipped_lancet_quantity,
	status, tracking_number, requested_ship_date, shipped_date, api_transaction_id, created_at`

func scanChange(row pgx.Row) (*Change, error) {
	var c Change
	err := row.Scan(&c.ID, &c.EPCOrderID, &c.Ordering, &c.OrderType, &c.MeterQuantity, &c.StripQuantity, &c.LancetQuantity,
		&c.ControlSolutionQuantity, &c.ShippedMeterQuantity, &c.ShippedStripQuantity, &c.ShippedLancetQuantity,
		&c.Status, &c.TrackingNumber, &c.RequestedShipDate, &c.ShippedDate, &c.APITransactionID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &c, err
}

func (r *epcRepoPG) AppendChange(ctx context.Context, c *Change) (*Change, error) {
	tx := db.TxFromContext(ctx)
	if tx == nil {
		return nil, errNoTx
	}
	var locked uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT id FROM epc_order WHERE id = $1 FOR UPDATE`, c.EPCOrderID).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock epc order: %w", err)
	}

	prev, err := scanChange(tx.QueryRow(ctx, `
		SELECT `+changeCols+` FROM epc_order_change
		WHERE epc_order_id = $1 ORDER BY ordering DESC LIMIT 1`, c.EPCOrderID))
	switch {
	case errors.Is(err, ErrNotFound):
		prev = nil
		c.Ordering = 0
	case err != nil:
		return nil, fmt.Errorf("load previous change: %w", err)
	default:
		c.Ordering = prev.Ordering + 1
	}

	c.ID = uuid.New()
	err = tx.QueryRow(ctx, `
		INSERT INTO epc_order_change (id, epc_order_id, ordering, order_type, meter_quantity, strip_quantity,
			lancet_quantity, control_solution_quantity, shipped_meter_quantity, shipped_strip_quantity,
			shipped_lancet_quantity, status, tracking_number, requested_ship_date, shipped_date, api_transaction_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING created_at`,
		c.ID, c.EPCOrderID, c.Ordering, c.OrderType, c.MeterQuantity, c.StripQuantity,
		c.LancetQuantity, c.ControlSolutionQuantity, c.ShippedMeterQuantity, c.ShippedStripQuantity,
		c.ShippedLancetQuantity, c.Status, c.TrackingNumber, c.RequestedShipDate, c.ShippedDate, c.APITransactionID,
	).Scan(&c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert change: %w", err)
	}
	return prev, nil
}

func (r *epcRepoPG) ListChanges(ctx context.Context, epcOrderID uuid.UUID) ([]*Change, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+changeCols+` FROM epc_order_change WHERE epc_order_id = $1 ORDER BY ordering`, epcOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Change
	for rows.Next() {
		c, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

// AddNote takes the parent order row lock before numbering the note, the same
// lock AppendChange holds.
func (r *epcRepoPG) AddNote(ctx context.Context, n *Note) error {
	tx := db.TxFromContext(ctx)
	if tx == nil {
		return errNoTx
	}
	var locked uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT id FROM epc_order WHERE id = $1 FOR UPDATE`, n.EPCOrderID).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock epc order: %w", err)
	}
	n.ID = uuid.New()
	return tx.QueryRow(ctx, `
		INSERT INTO epc_order_note (id, epc_order_id, change_id, ordering, body, author)
		SELECT $1, $2, $3, COALESCE(MAX(ordering) + 1, 0), $4, $5
		FROM epc_order_note WHERE epc_order_id = $2
		RETURNING ordering, created_at`,
		n.ID, n.EPCOrderID, n.ChangeID, n.Body, n.Author,
	).Scan(&n.Ordering, &n.CreatedAt)
}

func (r *epcRepoPG) ListNotes(ctx context.Context, epcOrderID uuid.UUID) ([]*Note, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, epc_order_id, change_id, ordering, body, author, created_at
		FROM epc_order_note WHERE epc_order_id = $1 ORDER BY ordering, created_at`, epcOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.EPCOrderID, &n.ChangeID, &n.Ordering, &n.Body, &n.Author, &n.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &n)
	}
	return items, rows.Err()
}

type credentialRepoPG struct{ pool *pgxpool.Pool }

func NewCredentialRepoPG(pool *pgxpool.Pool) CredentialRepository {
	return &credentialRepoPG{pool: pool}
}

func (r *credentialRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *credentialRepoPG) CreateAPIUser(ctx context.Context, u *APIUser) error {
	u.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO api_user (id, username, password_hash, active)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at`,
		u.ID, u.Username, u.PasswordHash, u.Active,
	).Scan(&u.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrUsernameTaken
	}
	return err
}

func (r *credentialRepoPG) GetAPIUserByUsername(ctx context.Context, username string) (*APIUser, error) {
	var u APIUser
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, username, password_hash, active, last_used_at, created_at
		FROM api_user WHERE username = $1`, username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Active, &u.LastUsedAt, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *credentialRepoPG) TouchAPIUser(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE api_user SET last_used_at = $2 WHERE id = $1`, id, at)
	return err
}

func (r *credentialRepoPG) CreateTransaction(ctx context.Context, t *Transaction) error {
	t.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO api_transaction (id, api_user_id, username, method, endpoint, request_body, response_body,
			status_code, success, error, remote_ip)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at`,
		t.ID, t.APIUserID, t.Username, t.Method, t.Endpoint, t.RequestBody, t.ResponseBody,
		t.StatusCode, t.Success, t.Error, t.RemoteIP,
	).Scan(&t.CreatedAt)
}

func (r *credentialRepoPG) CompleteTransaction(ctx context.Context, t *Transaction) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE api_transaction SET api_user_id=$2, username=$3, request_body=$4, response_body=$5,
			status_code=$6, success=$7, error=$8
		WHERE id = $1`,
		t.ID, t.APIUserID, t.Username, t.RequestBody, t.ResponseBody, t.StatusCode, t.Success, t.Error)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *credentialRepoPG) ListTransactions(ctx context.Context, limit, offset int) ([]*Transaction, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM api_transaction`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, api_user_id, username, method, endpoint, request_body, response_body,
			status_code, success, error, remote_ip, created_at
		FROM api_transaction ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.APIUserID, &t.Username, &t.Method, &t.Endpoint, &t.RequestBody, &t.ResponseBody,
			&t.StatusCode, &t.Success, &t.Error, &t.RemoteIP, &t.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &t)
	}
	return items, total, rows.Err()
}
