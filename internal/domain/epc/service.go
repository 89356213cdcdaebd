package epc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/careline/careline/internal/domain/order"
	"github.com/careline/careline/internal/domain/patient"
	"github.com/careline/careline/internal/domain/product"
	"github.com/careline/careline/internal/platform/db"
	"github.com/careline/careline/internal/platform/notification"
)

// Orders is the part of the order service driven by partner updates.
type Orders interface {
	Create(ctx context.Context, o *order.Order) error
	Get(ctx context.Context, id uuid.UUID) (*order.Order, error)
	Hold(ctx context.Context, id uuid.UUID, reason, user string) (*order.Order, error)
	Unhold(ctx context.Context, id uuid.UUID) (*order.Order, error)
	Cancel(ctx context.Context, id uuid.UUID, reason, user string) (*order.Order, error)
}

type Patients interface {
	CreatePatient(ctx context.Context, p *patient.Patient) error
	GetPatient(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
	UpdatePatient(ctx context.Context, p *patient.Patient) error
}

// Partner order statuses that drive the internal order lifecycle. Anything
// else is recorded without a transition.
const (
	PartnerStatusActive    = "active"
	PartnerStatusPending   = "pending"
	PartnerStatusOnHold    = "on_hold"
	PartnerStatusHold      = "hold"
	PartnerStatusCanceled  = "canceled"
	PartnerStatusCancelled = "cancelled"
)

// PatientRequest is the partner patient payload.
type PatientRequest struct {
	PatientID   string   `json:"patient_id"`
	FirstName   string   `json:"first_name"`
	LastName    string   `json:"last_name"`
	DateOfBirth FlexDate `json:"date_of_birth"`
	Phone       string   `json:"phone"`
	Email       string   `json:"email"`
	Address1    string   `json:"address1"`
	Address2    string   `json:"address2"`
	City        string   `json:"city"`
	State       string   `json:"state"`
	Zip         string   `json:"zip"`
}

type PatientResult struct {
	EPCPatientID uuid.UUID  `json:"epc_patient_id"`
	PatientID    *uuid.UUID `json:"patient_id,omitempty"`
	Created      bool       `json:"created"`
}

// OrderRequest is the partner order payload. Quantities and dates arrive in
// whatever shape the partner sends and are normalized on decode.
type OrderRequest struct {
	OrderID                 string   `json:"order_id"`
	PatientID               string   `json:"patient_id"`
	OrderType               string   `json:"order_type"`
	MeterQuantity           FlexInt  `json:"meter_quantity"`
	StripQuantity           FlexInt  `json:"strip_quantity"`
	LancetQuantity          FlexInt  `json:"lancet_quantity"`
	ControlSolutionQuantity FlexInt  `json:"control_solution_quantity"`
	ShippedMeterQuantity    FlexInt  `json:"shipped_meter_quantity"`
	ShippedStripQuantity    FlexInt  `json:"shipped_strip_quantity"`
	ShippedLancetQuantity   FlexInt  `json:"shipped_lancet_quantity"`
	Status                  string   `json:"status"`
	TrackingNumber          string   `json:"tracking_number"`
	RequestedShipDate       FlexDate `json:"requested_ship_date"`
	ShippedDate             FlexDate `json:"shipped_date"`
}

func (r *OrderRequest) change() *Change {
	return &Change{
		OrderType:               strings.TrimSpace(r.OrderType),
		MeterQuantity:           r.MeterQuantity.Int(),
		StripQuantity:           r.StripQuantity.Int(),
		LancetQuantity:          r.LancetQuantity.Int(),
		ControlSolutionQuantity: r.ControlSolutionQuantity.Int(),
		ShippedMeterQuantity:    r.ShippedMeterQuantity.Int(),
		ShippedStripQuantity:    r.ShippedStripQuantity.Int(),
		ShippedLancetQuantity:   r.ShippedLancetQuantity.Int(),
		Status:                  strings.ToLower(strings.TrimSpace(r.Status)),
		TrackingNumber:          strings.TrimSpace(r.TrackingNumber),
		RequestedShipDate:       r.RequestedShipDate.Ptr(),
		ShippedDate:             r.ShippedDate.Ptr(),
	}
}

type OrderResult struct {
	EPCOrderID  uuid.UUID    `json:"epc_order_id"`
	OrderID     *uuid.UUID   `json:"order_id,omitempty"`
	OrderStatus order.Status `json:"order_status,omitempty"`
	Ordering    int          `json:"ordering"`
	Note        string       `json:"note,omitempty"`
}

type Service struct {
	repo       Repository
	creds      CredentialRepository
	orders     Orders
	patients   Patients
	tx         db.TxRunner
	logger     zerolog.Logger
	now        func() time.Time
	bcryptCost int
}

func NewService(repo Repository, creds CredentialRepository, orders Orders, patients Patients, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		creds:      creds,
		orders:     orders,
		patients:   patients,
		tx:         tx,
		logger:     logger.With().Str("component", "epc").Logger(),
		now:        time.Now,
		bcryptCost: bcrypt.DefaultCost,
	}
}

// SyncPatient upserts the partner patient mirror and creates or refreshes the
// linked internal patient.
func (s *Service) SyncPatient(ctx context.Context, req *PatientRequest) (*PatientResult, error) {
	req.PatientID = strings.TrimSpace(req.PatientID)
	if req.PatientID == "" {
		return nil, fmt.Errorf("%w: patient_id is required", ErrInvalidPayload)
	}
	if strings.TrimSpace(req.LastName) == "" {
		return nil, fmt.Errorf("%w: last_name is required", ErrInvalidPayload)
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email != "" {
		if err := notification.CheckEmail(req.Email); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}

	mirror := &Patient{
		PartnerPatientID: req.PatientID,
		FirstName:        strings.TrimSpace(req.FirstName),
		LastName:         strings.TrimSpace(req.LastName),
		DateOfBirth:      req.DateOfBirth.Ptr(),
		Phone:            req.Phone,
		Email:            req.Email,
		Address1:         req.Address1,
		Address2:         req.Address2,
		City:             req.City,
		State:            strings.ToUpper(strings.TrimSpace(req.State)),
		Zip:              strings.TrimSpace(req.Zip),
	}

	var created bool
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if created, err = s.repo.UpsertPatient(ctx, mirror); err != nil {
			return fmt.Errorf("upsert epc patient: %w", err)
		}
		if mirror.PatientID == nil {
			p := &patient.Patient{}
			applyDemographics(p, mirror)
			if err := s.patients.CreatePatient(ctx, p); err != nil {
				return fmt.Errorf("create patient: %w", err)
			}
			if err := s.repo.LinkPatient(ctx, mirror.ID, p.ID); err != nil {
				return fmt.Errorf("link patient: %w", err)
			}
			mirror.PatientID = &p.ID
			return nil
		}
		p, err := s.patients.GetPatient(ctx, *mirror.PatientID)
		if err != nil {
			return fmt.Errorf("load patient: %w", err)
		}
		applyDemographics(p, mirror)
		return s.patients.UpdatePatient(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("partner_patient_id", mirror.PartnerPatientID).Bool("created", created).Msg("partner patient synced")
	return &PatientResult{EPCPatientID: mirror.ID, PatientID: mirror.PatientID, Created: created}, nil
}

func applyDemographics(p *patient.Patient, m *Patient) {
	p.FirstName = m.FirstName
	p.LastName = m.LastName
	p.DateOfBirth = m.DateOfBirth
	p.Phone = m.Phone
	p.Email = m.Email
	p.Address1 = m.Address1
	p.Address2 = m.Address2
	p.City = m.City
	p.State = m.State
	p.Zip = m.Zip
}

// SyncOrder records a partner order update as the next change of its mirror,
// writes the generated note and applies any status transition to the linked
// internal order. The whole update commits or rolls back together.
func (s *Service) SyncOrder(ctx context.Context, req *OrderRequest, user string) (*OrderResult, error) {
	req.OrderID = strings.TrimSpace(req.OrderID)
	req.PatientID = strings.TrimSpace(req.PatientID)
	if req.OrderID == "" {
		return nil, fmt.Errorf("%w: order_id is required", ErrInvalidPayload)
	}
	if req.PatientID == "" {
		return nil, fmt.Errorf("%w: patient_id is required", ErrInvalidPayload)
	}
	c := req.change()
	for name, q := range map[string]int{
		"meter_quantity":            c.MeterQuantity,
		"strip_quantity":            c.StripQuantity,
		"lancet_quantity":           c.LancetQuantity,
		"control_solution_quantity": c.ControlSolutionQuantity,
	} {
		if q < 0 {
			return nil, fmt.Errorf("%w: %s must not be negative", ErrInvalidPayload, name)
		}
	}
	c.APITransactionID = TransactionIDFromContext(ctx)

	res := &OrderResult{}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		mirror, err := s.repo.GetPatientByPartnerID(ctx, req.PatientID)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownPatient, req.PatientID)
		}
		if err != nil {
			return err
		}

		eo := &Order{PartnerOrderID: req.OrderID, EPCPatientID: mirror.ID}
		if _, err := s.repo.EnsureOrder(ctx, eo); err != nil {
			return fmt.Errorf("ensure epc order: %w", err)
		}

		c.EPCOrderID = eo.ID
		prev, err := s.repo.AppendChange(ctx, c)
		if err != nil {
			return err
		}
		if body := c.NoteMessage(prev); body != "" {
			changeID := c.ID
			n := &Note{EPCOrderID: eo.ID, ChangeID: &changeID, Body: body, Author: user}
			if err := s.repo.AddNote(ctx, n); err != nil {
				return fmt.Errorf("add note: %w", err)
			}
			res.Note = body
		}

		created := false
		if eo.OrderID == nil && mirror.PatientID != nil {
			o, err := s.createInternalOrder(ctx, c, *mirror.PatientID, user)
			if err != nil {
				return err
			}
			if o != nil {
				if err := s.repo.LinkOrder(ctx, eo.ID, o.ID); err != nil {
					return fmt.Errorf("link order: %w", err)
				}
				eo.OrderID = &o.ID
				created = true
			}
		}

		// A freshly opened order still owes the partner status it was created under.
		if eo.OrderID != nil && (created || prev == nil || prev.Status != c.Status) {
			o, err := s.applyStatus(ctx, *eo.OrderID, c.Status, user)
			if err != nil {
				return err
			}
			res.OrderStatus = o.Status
		}

		res.EPCOrderID = eo.ID
		res.OrderID = eo.OrderID
		res.Ordering = c.Ordering
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("partner_order_id", req.OrderID).
		Int("ordering", res.Ordering).
		Str("status", c.Status).
		Msg("partner order change recorded")
	return res, nil
}

// createInternalOrder opens the fulfilment order for a partner order. It
// returns nil when the change carries nothing to ship.
func (s *Service) createInternalOrder(ctx context.Context, c *Change, patientID uuid.UUID, user string) (*order.Order, error) {
	o := &order.Order{PatientID: patientID, OrderType: order.TypeAPI, CreatedBy: user}
	for _, item := range []struct {
		code string
		qty  int
	}{
		{product.CodeMeter, c.MeterQuantity},
		{product.CodeStrips, c.StripQuantity},
		{product.CodeLancets, c.LancetQuantity},
		{product.CodeControlSolution, c.ControlSolutionQuantity},
	} {
		if item.qty > 0 {
			o.Entries = append(o.Entries, &order.Entry{ProductCode: item.code, Quantity: item.qty})
		}
	}
	if len(o.Entries) == 0 {
		return nil, nil
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return o, nil
}

func (s *Service) applyStatus(ctx context.Context, orderID uuid.UUID, status, user string) (*order.Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch status {
	case PartnerStatusOnHold, PartnerStatusHold:
		if o.Status == order.StatusOnHold {
			return o, nil
		}
		return s.orders.Hold(ctx, orderID, "held by partner", user)
	case PartnerStatusActive, PartnerStatusPending:
		if o.Status != order.StatusOnHold {
			return o, nil
		}
		return s.orders.Unhold(ctx, orderID)
	case PartnerStatusCanceled, PartnerStatusCancelled:
		if o.Status == order.StatusCanceled {
			return o, nil
		}
		return s.orders.Cancel(ctx, orderID, "canceled by partner", user)
	}
	return o, nil
}

// GetOrder returns a partner order with its full change and note history.
func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (*OrderDetail, error) {
	eo, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	changes, err := s.repo.ListChanges(ctx, id)
	if err != nil {
		return nil, err
	}
	notes, err := s.repo.ListNotes(ctx, id)
	if err != nil {
		return nil, err
	}
	return &OrderDetail{Order: eo, Changes: changes, Notes: notes}, nil
}

// AddNote appends a staff-authored note to a partner order.
func (s *Service) AddNote(ctx context.Context, epcOrderID uuid.UUID, body, author string) (*Note, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("%w: body is required", ErrInvalidPayload)
	}
	n := &Note{EPCOrderID: epcOrderID, Body: body, Author: author}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.repo.GetOrder(ctx, epcOrderID); err != nil {
			return err
		}
		return s.repo.AddNote(ctx, n)
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

// CreateAPIUser registers partner credentials.
func (s *Service) CreateAPIUser(ctx context.Context, username, password string) (*APIUser, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidPayload)
	}
	if len(password) < 12 {
		return nil, fmt.Errorf("%w: password must be at least 12 characters", ErrInvalidPayload)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &APIUser{Username: username, PasswordHash: string(hash), Active: true}
	if err := s.creds.CreateAPIUser(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info().Str("username", username).Msg("api user created")
	return u, nil
}

// Authenticate checks partner credentials against the stored bcrypt hash.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*APIUser, error) {
	u, err := s.creds.GetAPIUserByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !u.Active {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	now := s.now()
	if err := s.creds.TouchAPIUser(ctx, u.ID, now); err != nil {
		s.logger.Warn().Err(err).Str("username", username).Msg("failed to record api user activity")
	}
	u.LastUsedAt = &now
	return u, nil
}

func (s *Service) ListTransactions(ctx context.Context, limit, offset int) ([]*Transaction, int, error) {
	return s.creds.ListTransactions(ctx, limit, offset)
}
