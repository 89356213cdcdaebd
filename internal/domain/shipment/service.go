package shipment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/careline/careline/internal/domain/order"
	"github.com/careline/careline/internal/domain/patient"
	"github.com/careline/careline/internal/platform/blobstore"
	"github.com/careline/careline/internal/platform/carrier"
	"github.com/careline/careline/internal/platform/db"
)

// Orders is the part of order.Service shipments drive.
type Orders interface {
	Get(ctx context.Context, id uuid.UUID) (*order.Order, error)
	CheckIfShipped(ctx context.Context, id uuid.UUID) (*order.Order, error)
}

type Patients interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

type Config struct {
	From           carrier.Address
	EnabledClasses []string
}

type Service struct {
	repo     Repository
	orders   Orders
	patients Patients
	carrier  carrier.Client
	labels   blobstore.BlobStore
	tx       db.TxRunner
	cfg      Config
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService builds the shipment service. labels may be nil, in which case
// purchased labels are not archived.
func NewService(repo Repository, orders Orders, patients Patients, client carrier.Client,
	labels blobstore.BlobStore, tx db.TxRunner, cfg Config, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		orders:   orders,
		patients: patients,
		carrier:  client,
		labels:   labels,
		tx:       tx,
		cfg:      cfg,
		logger:   logger.With().Str("component", "shipment").Logger(),
		now:      time.Now,
	}
}

func (s *Service) classEnabled(class string) bool {
	for _, c := range s.cfg.EnabledClasses {
		if c == class {
			return true
		}
	}
	return false
}

func (s *Service) Create(ctx context.Context, sh *Shipment) error {
	if sh.OrderID == uuid.Nil {
		return fmt.Errorf("order_id is required")
	}
	o, err := s.orders.Get(ctx, sh.OrderID)
	if err != nil {
		return err
	}
	if o.IsTerminal() {
		return fmt.Errorf("%w: cannot add a shipment to a %s order", order.ErrInvalidTransition, o.Status)
	}
	if sh.ShippingClass == "" {
		sh.ShippingClass = o.ShippingClass
	}
	if sh.ShippingClass == "" && len(s.cfg.EnabledClasses) > 0 {
		sh.ShippingClass = s.cfg.EnabledClasses[0]
	}
	if !s.classEnabled(sh.ShippingClass) {
		return fmt.Errorf("shipping_class %q is not enabled", sh.ShippingClass)
	}
	if sh.PackageType == "" {
		sh.PackageType = DefaultPackageType
	}
	if !sh.WeightOz.IsPositive() {
		return fmt.Errorf("weight_oz must be positive")
	}
	if sh.ShipDate.IsZero() {
		y, m, d := s.now().Date()
		sh.ShipDate = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	sh.Finalized = false
	sh.Rate = decimal.NullDecimal{}
	return s.repo.Create(ctx, sh)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Shipment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*Shipment, error) {
	return s.repo.ListByOrder(ctx, orderID)
}

func (s *Service) rateRequest(ctx context.Context, sh *Shipment) (carrier.RateRequest, error) {
	o, err := s.orders.Get(ctx, sh.OrderID)
	if err != nil {
		return carrier.RateRequest{}, err
	}
	p, err := s.patients.GetPatient(ctx, o.PatientID)
	if err != nil {
		return carrier.RateRequest{}, fmt.Errorf("get patient: %w", err)
	}
	return carrier.RateRequest{
		From: s.cfg.From.Normalize(),
		To:   p.ShippingAddress().Normalize(),
		Package: carrier.Package{
			WeightOz:    sh.WeightOz,
			PackageType: sh.PackageType,
			ShipDate:    sh.ShipDate,
		},
	}, nil
}

// Rates returns carrier rates for the shipment's class, or for every enabled
// class when chooseAll is set. A carrier failure yields nil rates and
// ErrRatesUnavailable.
func (s *Service) Rates(ctx context.Context, id uuid.UUID, chooseAll bool) ([]carrier.Rate, error) {
	sh, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	req, err := s.rateRequest(ctx, sh)
	if err != nil {
		return nil, err
	}
	rates, err := s.carrier.Rates(ctx, req)
	if err != nil {
		s.logger.Error().Err(err).Str("shipment_id", id.String()).Msg("carrier rates failed")
		return nil, fmt.Errorf("%w: %v", ErrRatesUnavailable, err)
	}
	if chooseAll {
		return carrier.FilterRates(rates, s.cfg.EnabledClasses...), nil
	}
	return carrier.FilterRates(rates, sh.ShippingClass), nil
}

// Finalize buys the postage label and marks the parent order shipped. The
// order must be locked for packing (in_progress) before a label is bought.
func (s *Service) Finalize(ctx context.Context, id uuid.UUID, user string) (*Shipment, error) {
	sh, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sh.Finalized {
		return nil, ErrAlreadyFinalized
	}
	o, err := s.orders.Get(ctx, sh.OrderID)
	if err != nil {
		return nil, err
	}
	if !o.CanBeShipped() {
		return nil, fmt.Errorf("%w: order must be in progress to finalize a shipment, got %s",
			order.ErrInvalidTransition, o.Status)
	}

	req, err := s.rateRequest(ctx, sh)
	if err != nil {
		return nil, err
	}
	if err := req.To.Validate(); err != nil {
		return nil, err
	}
	cleansed, err := s.carrier.CleanseAddress(ctx, req.To)
	if err != nil {
		s.logger.Warn().Err(err).Str("shipment_id", id.String()).Msg("address cleanse failed")
		return nil, fmt.Errorf("%w: %v", carrier.ErrInvalidAddress, err)
	}
	req.To = cleansed

	rates, err := s.carrier.Rates(ctx, req)
	if err != nil {
		s.logger.Error().Err(err).Str("shipment_id", id.String()).Msg("carrier rates failed")
		return nil, fmt.Errorf("%w: %v", ErrRatesUnavailable, err)
	}
	rate, err := carrier.PickRate(rates, sh.ShippingClass)
	if err != nil {
		return nil, err
	}

	label, err := s.carrier.CreateLabel(ctx, carrier.LabelRequest{
		RateRequest:   req,
		ShippingClass: sh.ShippingClass,
		Reference:     sh.OrderID.String(),
	})
	if err != nil {
		s.logger.Error().Err(err).Str("shipment_id", id.String()).Msg("create label failed")
		return nil, fmt.Errorf("%w: %v", ErrLabelUnavailable, err)
	}
	sh.LabelKey = s.archive(ctx, sh, label)

	amount := rate.Amount
	if !label.Amount.IsZero() {
		amount = label.Amount
	}
	at := s.now().UTC()
	sh.Rate = decimal.NewNullDecimal(amount)
	sh.TrackingNumber = label.TrackingNumber
	sh.LabelURL = label.LabelURL
	sh.Finalized = true
	sh.FinalizedBy = user
	sh.FinalizedAt = &at

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		current, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.Finalized {
			return ErrAlreadyFinalized
		}
		if err := s.repo.Update(ctx, sh); err != nil {
			return fmt.Errorf("update shipment: %w", err)
		}
		_, err = s.orders.CheckIfShipped(ctx, sh.OrderID)
		return err
	})
	if err != nil {
		// Label already purchased; the tracking number is needed to void it.
		s.logger.Error().Err(err).Str("shipment_id", id.String()).
			Str("tracking_number", label.TrackingNumber).Msg("finalize failed after label purchase")
		return nil, err
	}

	s.logger.Info().Str("shipment_id", id.String()).Str("order_id", sh.OrderID.String()).
		Str("tracking_number", sh.TrackingNumber).Str("rate", amount.StringFixed(2)).Msg("shipment finalized")
	return sh, nil
}

// archive stores the label PDF and returns its key, or "" when the label
// could not be archived.
func (s *Service) archive(ctx context.Context, sh *Shipment, label *carrier.Label) string {
	if s.labels == nil || label.LabelURL == "" {
		return ""
	}
	body, err := s.carrier.DownloadLabel(ctx, label.LabelURL)
	if err != nil {
		s.logger.Warn().Err(err).Str("shipment_id", sh.ID.String()).Msg("label download failed")
		return ""
	}
	key := blobstore.LabelKey(sh.ID.String(), label.TrackingNumber)
	if _, err := s.labels.Put(ctx, key, "application/pdf", body); err != nil {
		s.logger.Warn().Err(err).Str("shipment_id", sh.ID.String()).Msg("label archive failed")
		return ""
	}
	return key
}

// Label returns the archived label PDF for a finalized shipment.
func (s *Service) Label(ctx context.Context, id uuid.UUID) ([]byte, error) {
	sh, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sh.LabelKey == "" || s.labels == nil {
		return nil, ErrNoArchivedLabel
	}
	body, _, err := s.labels.Get(ctx, sh.LabelKey)
	if errors.Is(err, blobstore.ErrBlobNotFound) {
		return nil, ErrNoArchivedLabel
	}
	return body, err
}
