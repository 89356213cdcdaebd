package shipment

import (
	"context"
	"errors"
	"testing"
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

// -- Fakes --

type mockRepo struct {
	records map[uuid.UUID]*Shipment
}

func newMockRepo() *mockRepo {
	return &mockRepo{records: make(map[uuid.UUID]*Shipment)}
}

func (m *mockRepo) Create(_ context.Context, s *Shipment) error {
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	s.UpdatedAt = time.Now()
	c := *s
	m.records[s.ID] = &c
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Shipment, error) {
	s, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *s
	return &c, nil
}

func (m *mockRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Shipment, error) {
	return m.GetByID(ctx, id)
}

func (m *mockRepo) Update(_ context.Context, s *Shipment) error {
	if _, ok := m.records[s.ID]; !ok {
		return ErrNotFound
	}
	c := *s
	m.records[s.ID] = &c
	return nil
}

func (m *mockRepo) ListByOrder(_ context.Context, orderID uuid.UUID) ([]*Shipment, error) {
	var result []*Shipment
	for _, s := range m.records {
		if s.OrderID == orderID {
			result = append(result, s)
		}
	}
	return result, nil
}

type fakeOrders struct {
	orders map[uuid.UUID]*order.Order
}

func (f *fakeOrders) Get(_ context.Context, id uuid.UUID) (*order.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (f *fakeOrders) CheckIfShipped(_ context.Context, id uuid.UUID) (*order.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, o.CheckIfShipped(time.Now())
}

type fakePatients struct {
	patients map[uuid.UUID]*patient.Patient
}

func (f *fakePatients) GetPatient(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, ok := f.patients[id]
	if !ok {
		return nil, patient.ErrNotFound
	}
	return p, nil
}

type testEnv struct {
	svc     *Service
	repo    *mockRepo
	orders  *fakeOrders
	patient *patient.Patient
	order   *order.Order
	carrier *carrier.Fake
	labels  *blobstore.InMemoryBlobStore
}

func newTestEnv() *testEnv {
	p := &patient.Patient{
		ID: uuid.New(), FirstName: "Ada", LastName: "Lovelace",
		Address1: "1 Main St", City: "Austin", State: "tx", Zip: "78701",
	}
	o := &order.Order{ID: uuid.New(), PatientID: p.ID, Status: order.StatusWaitingToBeShipped}
	orders := &fakeOrders{orders: map[uuid.UUID]*order.Order{o.ID: o}}
	patients := &fakePatients{patients: map[uuid.UUID]*patient.Patient{p.ID: p}}
	fake := &carrier.Fake{RateList: []carrier.Rate{
		{ShippingClass: "usps_first_class", Amount: decimal.RequireFromString("4.85")},
		{ShippingClass: "usps_first_class", Amount: decimal.RequireFromString("5.10")},
		{ShippingClass: "usps_priority", Amount: decimal.RequireFromString("8.70")},
		{ShippingClass: "ups_ground", Amount: decimal.RequireFromString("11.20")},
	}}
	labels := blobstore.NewInMemoryBlobStore()
	cfg := Config{
		From:           carrier.Address{Name: "Careline", Address1: "500 Ship Way", City: "Dallas", State: "TX", Zip: "75201"},
		EnabledClasses: []string{"usps_first_class", "usps_priority"},
	}
	repo := newMockRepo()
	svc := NewService(repo, orders, patients, fake, labels, db.NoTx{}, cfg, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC) }
	return &testEnv{svc: svc, repo: repo, orders: orders, patient: p, order: o, carrier: fake, labels: labels}
}

func (env *testEnv) createShipment(t *testing.T) *Shipment {
	t.Helper()
	sh := &Shipment{OrderID: env.order.ID, WeightOz: decimal.RequireFromString("7.5")}
	if err := env.svc.Create(context.Background(), sh); err != nil {
		t.Fatalf("create shipment: %v", err)
	}
	return sh
}

// -- Tests --

func TestService_Create_Defaults(t *testing.T) {
	env := newTestEnv()
	sh := env.createShipment(t)
	if sh.ShippingClass != "usps_first_class" {
		t.Errorf("expected first enabled class, got %s", sh.ShippingClass)
	}
	if sh.PackageType != DefaultPackageType {
		t.Errorf("expected default package type, got %s", sh.PackageType)
	}
	if !sh.ShipDate.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected ship date today, got %v", sh.ShipDate)
	}
}

func TestService_Create_Validation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	if err := env.svc.Create(ctx, &Shipment{WeightOz: decimal.NewFromInt(1)}); err == nil {
		t.Error("expected error for missing order_id")
	}
	if err := env.svc.Create(ctx, &Shipment{OrderID: env.order.ID}); err == nil {
		t.Error("expected error for zero weight")
	}
	err := env.svc.Create(ctx, &Shipment{OrderID: env.order.ID, ShippingClass: "ups_ground", WeightOz: decimal.NewFromInt(1)})
	if err == nil {
		t.Error("expected error for disabled class")
	}
	if err := env.svc.Create(ctx, &Shipment{OrderID: uuid.New(), WeightOz: decimal.NewFromInt(1)}); !errors.Is(err, order.ErrNotFound) {
		t.Errorf("expected order.ErrNotFound, got %v", err)
	}
}

func TestService_Rates_FilteredToClass(t *testing.T) {
	env := newTestEnv()
	sh := env.createShipment(t)

	rates, err := env.svc.Rates(context.Background(), sh.ID, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rates) != 2 {
		t.Fatalf("expected 2 first class rates, got %d", len(rates))
	}
	req := env.carrier.RateCalls[0]
	if req.To.State != "TX" || req.From.Name != "Careline" {
		t.Errorf("expected normalized addresses, got %+v", req)
	}
}

func TestService_Rates_ChooseAll(t *testing.T) {
	env := newTestEnv()
	sh := env.createShipment(t)

	rates, err := env.svc.Rates(context.Background(), sh.ID, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rates) != 3 {
		t.Errorf("expected rates for enabled classes only, got %d", len(rates))
	}
}

func TestService_Rates_CarrierFailure(t *testing.T) {
	env := newTestEnv()
	sh := env.createShipment(t)
	env.carrier.RatesErr = errors.New("timeout")

	rates, err := env.svc.Rates(context.Background(), sh.ID, false)
	if rates != nil {
		t.Errorf("expected nil rates, got %v", rates)
	}
	if !errors.Is(err, ErrRatesUnavailable) {
		t.Errorf("expected ErrRatesUnavailable, got %v", err)
	}
}

func TestService_Finalize(t *testing.T) {
	env := newTestEnv()
	sh := env.createShipment(t)
	env.order.Lock("packer", time.Now())

	got, err := env.svc.Finalize(context.Background(), sh.ID, "packer")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Finalized || got.FinalizedBy != "packer" || got.FinalizedAt == nil {
		t.Errorf("unexpected finalized state: %+v", got)
	}
	if got.TrackingNumber == "" || got.LabelURL == "" {
		t.Error("expected tracking number and label url")
	}
	if !got.Rate.Valid || got.Rate.Decimal.StringFixed(2) != "4.85" {
		t.Errorf("expected cheapest first class rate 4.85, got %v", got.Rate)
	}
	if env.order.Status != order.StatusShipped {
		t.Errorf("expected order shipped, got %s", env.order.Status)
	}
	if got.LabelKey == "" {
		t.Fatal("expected archived label key")
	}
	body, err := env.svc.Label(context.Background(), sh.ID)
	if err != nil || len(body) == 0 {
		t.Errorf("expected archived label bytes, got %v", err)
	}
	if len(env.carrier.LabelCalls) != 1 || env.carrier.LabelCalls[0].Reference != env.order.ID.String() {
		t.Errorf("unexpected label calls: %+v", env.carrier.LabelCalls)
	}
}

func TestService_Finalize_Twice(t *testing.T) {
	env := newTestEnv()
	sh := env.createShipment(t)
	env.order.Lock("packer", time.Now())
	env.svc.Finalize(context.Background(), sh.ID, "packer")

	if _, err := env.svc.Finalize(context.Background(), sh.ID, "packer"); !errors.Is(err, ErrAlreadyFinalized) {
		t.Errorf("expected ErrAlreadyFinalized, got %v", err)
	}
	if len(env.carrier.LabelCalls) != 1 {
		t.Errorf("expected one label purchase, got %d", len(env.carrier.LabelCalls))
	}
}

func TestService_Finalize_RequiresInProgressOrder(t *testing.T) {
	env := newTestEnv()
	sh := env.createShipment(t)

	if _, err := env.svc.Finalize(context.Background(), sh.ID, "packer"); !errors.Is(err, order.ErrInvalidTransition) {
		t.Errorf("expected order.ErrInvalidTransition, got %v", err)
	}
	if len(env.carrier.LabelCalls) != 0 {
		t.Error("expected no label purchase for an unlocked order")
	}
}

func TestService_Finalize_InvalidAddress(t *testing.T) {
	env := newTestEnv()
	sh := env.createShipment(t)
	env.order.Lock("packer", time.Now())
	env.patient.Zip = "abc"

	if _, err := env.svc.Finalize(context.Background(), sh.ID, "packer"); !errors.Is(err, carrier.ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestService_Finalize_CleanseFailure(t *testing.T) {
	env := newTestEnv()
	sh := env.createShipment(t)
	env.order.Lock("packer", time.Now())
	env.carrier.CleanseErr = errors.New("undeliverable")

	if _, err := env.svc.Finalize(context.Background(), sh.ID, "packer"); !errors.Is(err, carrier.ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestService_Finalize_LabelFailure(t *testing.T) {
	env := newTestEnv()
	sh := env.createShipment(t)
	env.order.Lock("packer", time.Now())
	env.carrier.LabelErr = errors.New("postage account empty")

	if _, err := env.svc.Finalize(context.Background(), sh.ID, "packer"); !errors.Is(err, ErrLabelUnavailable) {
		t.Errorf("expected ErrLabelUnavailable, got %v", err)
	}
	stored, _ := env.repo.GetByID(context.Background(), sh.ID)
	if stored.Finalized {
		t.Error("expected shipment to stay unfinalized")
	}
	if env.order.Status != order.StatusInProgress {
		t.Errorf("expected order to stay in progress, got %s", env.order.Status)
	}
}

func TestService_Finalize_NoRateForClass(t *testing.T) {
	env := newTestEnv()
	sh := env.createShipment(t)
	env.order.Lock("packer", time.Now())
	env.carrier.RateList = env.carrier.RateList[2:]

	if _, err := env.svc.Finalize(context.Background(), sh.ID, "packer"); !errors.Is(err, carrier.ErrNoRate) {
		t.Errorf("expected ErrNoRate, got %v", err)
	}
}

func TestService_Finalize_WithoutLabelStore(t *testing.T) {
	env := newTestEnv()
	env.svc.labels = nil
	sh := env.createShipment(t)
	env.order.Lock("packer", time.Now())

	got, err := env.svc.Finalize(context.Background(), sh.ID, "packer")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.LabelKey != "" {
		t.Errorf("expected no label key, got %s", got.LabelKey)
	}
	if _, err := env.svc.Label(context.Background(), sh.ID); !errors.Is(err, ErrNoArchivedLabel) {
		t.Errorf("expected ErrNoArchivedLabel, got %v", err)
	}
}
