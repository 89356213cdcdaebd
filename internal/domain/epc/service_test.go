package epc

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/careline/careline/internal/domain/order"
	"github.com/careline/careline/internal/domain/patient"
)

// -- Fakes --

type mockRepo struct {
	patients map[string]*Patient
	orders   map[string]*Order
	changes  map[uuid.UUID][]*Change
	notes    map[uuid.UUID][]*Note
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		patients: make(map[string]*Patient),
		orders:   make(map[string]*Order),
		changes:  make(map[uuid.UUID][]*Change),
		notes:    make(map[uuid.UUID][]*Note),
	}
}

func (m *mockRepo) UpsertPatient(_ context.Context, p *Patient) (bool, error) {
	if existing, ok := m.patients[p.PartnerPatientID]; ok {
		p.ID = existing.ID
		p.PatientID = existing.PatientID
		p.CreatedAt = existing.CreatedAt
		c := *p
		m.patients[p.PartnerPatientID] = &c
		return false, nil
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	c := *p
	m.patients[p.PartnerPatientID] = &c
	return true, nil
}

func (m *mockRepo) GetPatientByPartnerID(_ context.Context, partnerPatientID string) (*Patient, error) {
	p, ok := m.patients[partnerPatientID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *p
	return &c, nil
}

func (m *mockRepo) LinkPatient(_ context.Context, epcPatientID, patientID uuid.UUID) error {
	for _, p := range m.patients {
		if p.ID == epcPatientID {
			id := patientID
			p.PatientID = &id
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockRepo) EnsureOrder(_ context.Context, o *Order) (bool, error) {
	if existing, ok := m.orders[o.PartnerOrderID]; ok {
		*o = *existing
		return false, nil
	}
	o.ID = uuid.New()
	o.CreatedAt = time.Now()
	c := *o
	m.orders[o.PartnerOrderID] = &c
	return true, nil
}

func (m *mockRepo) GetOrder(_ context.Context, id uuid.UUID) (*Order, error) {
	for _, o := range m.orders {
		if o.ID == id {
			c := *o
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) LinkOrder(_ context.Context, epcOrderID, orderID uuid.UUID) error {
	for _, o := range m.orders {
		if o.ID == epcOrderID {
			id := orderID
			o.OrderID = &id
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockRepo) AppendChange(_ context.Context, c *Change) (*Change, error) {
	list := m.changes[c.EPCOrderID]
	var prev *Change
	if len(list) > 0 {
		prev = list[len(list)-1]
	}
	c.ID = uuid.New()
	c.Ordering = len(list)
	c.CreatedAt = time.Now()
	stored := *c
	m.changes[c.EPCOrderID] = append(list, &stored)
	return prev, nil
}

func (m *mockRepo) ListChanges(_ context.Context, epcOrderID uuid.UUID) ([]*Change, error) {
	return m.changes[epcOrderID], nil
}

func (m *mockRepo) AddNote(ctx context.Context, n *Note) error {
	if ctx.Value(inTxKey{}) == nil {
		return errNoTx
	}
	n.ID = uuid.New()
	n.Ordering = len(m.notes[n.EPCOrderID])
	n.CreatedAt = time.Now()
	c := *n
	m.notes[n.EPCOrderID] = append(m.notes[n.EPCOrderID], &c)
	return nil
}

func (m *mockRepo) ListNotes(_ context.Context, epcOrderID uuid.UUID) ([]*Note, error) {
	return m.notes[epcOrderID], nil
}

type inTxKey struct{}

// markingTx stands in for db.Transactor and tags the context like a real
// transaction would.
type markingTx struct{}

func (markingTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(context.WithValue(ctx, inTxKey{}, true))
}

type mockCredentials struct {
	mu           sync.Mutex
	users        map[string]*APIUser
	transactions []*Transaction
	touched      int
}

func newMockCredentials() *mockCredentials {
	return &mockCredentials{users: make(map[string]*APIUser)}
}

func (m *mockCredentials) CreateAPIUser(_ context.Context, u *APIUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.Username]; ok {
		return ErrUsernameTaken
	}
	u.ID = uuid.New()
	u.CreatedAt = time.Now()
	c := *u
	m.users[u.Username] = &c
	return nil
}

func (m *mockCredentials) GetAPIUserByUsername(_ context.Context, username string) (*APIUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	c := *u
	return &c, nil
}

func (m *mockCredentials) TouchAPIUser(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched++
	return nil
}

func (m *mockCredentials) CreateTransaction(_ context.Context, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = uuid.New()
	t.CreatedAt = time.Now()
	c := *t
	m.transactions = append(m.transactions, &c)
	return nil
}

func (m *mockCredentials) CompleteTransaction(_ context.Context, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.transactions {
		if existing.ID == t.ID {
			c := *t
			m.transactions[i] = &c
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockCredentials) ListTransactions(_ context.Context, limit, offset int) ([]*Transaction, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := len(m.transactions)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return m.transactions[offset:end], total, nil
}

func (m *mockCredentials) all() []*Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Transaction(nil), m.transactions...)
}

// fakeOrders applies the real order state machine to in-memory orders.
type fakeOrders struct {
	orders map[uuid.UUID]*order.Order
	calls  []string
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{orders: make(map[uuid.UUID]*order.Order)}
}

func (f *fakeOrders) Create(_ context.Context, o *order.Order) error {
	o.ID = uuid.New()
	o.Status = order.StatusWaitingToBeShipped
	f.orders[o.ID] = o
	f.calls = append(f.calls, "create")
	return nil
}

func (f *fakeOrders) Get(_ context.Context, id uuid.UUID) (*order.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (f *fakeOrders) Hold(_ context.Context, id uuid.UUID, reason, user string) (*order.Order, error) {
	f.calls = append(f.calls, "hold")
	o := f.orders[id]
	return o, o.Hold(reason, user, time.Now())
}

func (f *fakeOrders) Unhold(_ context.Context, id uuid.UUID) (*order.Order, error) {
	f.calls = append(f.calls, "unhold")
	o := f.orders[id]
	return o, o.Unhold()
}

func (f *fakeOrders) Cancel(_ context.Context, id uuid.UUID, reason, user string) (*order.Order, error) {
	f.calls = append(f.calls, "cancel")
	o := f.orders[id]
	return o, o.Cancel(reason, user, time.Now())
}

type fakePatients struct {
	patients map[uuid.UUID]*patient.Patient
	updates  int
}

func newFakePatients() *fakePatients {
	return &fakePatients{patients: make(map[uuid.UUID]*patient.Patient)}
}

func (f *fakePatients) CreatePatient(_ context.Context, p *patient.Patient) error {
	p.ID = uuid.New()
	p.Active = true
	c := *p
	f.patients[p.ID] = &c
	return nil
}

func (f *fakePatients) GetPatient(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, ok := f.patients[id]
	if !ok {
		return nil, patient.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (f *fakePatients) UpdatePatient(_ context.Context, p *patient.Patient) error {
	c := *p
	f.patients[p.ID] = &c
	f.updates++
	return nil
}

type testEnv struct {
	svc      *Service
	repo     *mockRepo
	creds    *mockCredentials
	orders   *fakeOrders
	patients *fakePatients
}

func newTestEnv() *testEnv {
	env := &testEnv{
		repo:     newMockRepo(),
		creds:    newMockCredentials(),
		orders:   newFakeOrders(),
		patients: newFakePatients(),
	}
	env.svc = NewService(env.repo, env.creds, env.orders, env.patients, markingTx{}, zerolog.Nop())
	env.svc.bcryptCost = bcrypt.MinCost
	return env
}

func (env *testEnv) syncPatient(t *testing.T, partnerID string) *PatientResult {
	t.Helper()
	res, err := env.svc.SyncPatient(context.Background(), &PatientRequest{
		PatientID: partnerID,
		FirstName: "Ada",
		LastName:  "Lovelace",
		City:      "Boston",
		State:     "ma",
		Zip:       "02110",
	})
	if err != nil {
		t.Fatalf("sync patient: %v", err)
	}
	return res
}

func baseOrder() *OrderRequest {
	return &OrderRequest{
		OrderID:        "EPC-100",
		PatientID:      "P-1",
		OrderType:      "supplies",
		MeterQuantity:  1,
		StripQuantity:  100,
		LancetQuantity: 100,
		Status:         "active",
	}
}

// -- Patients --

func TestService_SyncPatient_CreatesAndLinks(t *testing.T) {
	env := newTestEnv()
	res := env.syncPatient(t, "P-1")

	if !res.Created {
		t.Error("expected first sync to report created")
	}
	if res.PatientID == nil {
		t.Fatal("expected internal patient to be linked")
	}
	p := env.patients.patients[*res.PatientID]
	if p == nil || p.LastName != "Lovelace" || p.State != "MA" {
		t.Errorf("unexpected internal patient: %+v", p)
	}
	if env.repo.patients["P-1"].PatientID == nil {
		t.Error("expected mirror to store the link")
	}
}

func TestService_SyncPatient_UpdatesExisting(t *testing.T) {
	env := newTestEnv()
	first := env.syncPatient(t, "P-1")

	res, err := env.svc.SyncPatient(context.Background(), &PatientRequest{
		PatientID: "P-1", FirstName: "Ada", LastName: "King", City: "Boston", State: "MA",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Created {
		t.Error("expected second sync to be an update")
	}
	if *res.PatientID != *first.PatientID {
		t.Error("expected the same internal patient")
	}
	if env.patients.updates != 1 || env.patients.patients[*res.PatientID].LastName != "King" {
		t.Error("expected internal patient to be refreshed")
	}
	if len(env.patients.patients) != 1 {
		t.Errorf("expected 1 internal patient, got %d", len(env.patients.patients))
	}
}

func TestService_SyncPatient_Validation(t *testing.T) {
	env := newTestEnv()
	_, err := env.svc.SyncPatient(context.Background(), &PatientRequest{LastName: "X"})
	if !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload, got %v", err)
	}
	_, err = env.svc.SyncPatient(context.Background(), &PatientRequest{PatientID: "P-1"})
	if !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload for missing last name, got %v", err)
	}
	_, err = env.svc.SyncPatient(context.Background(), &PatientRequest{PatientID: "P-1", LastName: "X", Email: "x@example.com\nBcc: spy@evil.com"})
	if !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload for bad email, got %v", err)
	}
}

// -- Orders --

func TestService_SyncOrder_UnknownPatient(t *testing.T) {
	env := newTestEnv()
	_, err := env.svc.SyncOrder(context.Background(), baseOrder(), "partner")
	if !errors.Is(err, ErrUnknownPatient) {
		t.Fatalf("expected ErrUnknownPatient, got %v", err)
	}
	if len(env.repo.orders) != 0 {
		t.Error("expected no epc order to be created")
	}
}

func TestService_SyncOrder_FirstChange(t *testing.T) {
	env := newTestEnv()
	env.syncPatient(t, "P-1")

	res, err := env.svc.SyncOrder(context.Background(), baseOrder(), "partner")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Ordering != 0 {
		t.Errorf("expected ordering 0, got %d", res.Ordering)
	}
	if res.Note != CreatedNote {
		t.Errorf("expected %q, got %q", CreatedNote, res.Note)
	}
	if res.OrderID == nil {
		t.Fatal("expected internal order to be created")
	}
	o := env.orders.orders[*res.OrderID]
	if o.OrderType != order.TypeAPI || o.CreatedBy != "partner" {
		t.Errorf("unexpected order: %+v", o)
	}
	if len(o.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(o.Entries))
	}
	if o.Entries[1].ProductCode != "strips" || o.Entries[1].Quantity != 100 {
		t.Errorf("unexpected strip entry: %+v", o.Entries[1])
	}

	notes := env.repo.notes[res.EPCOrderID]
	if len(notes) != 1 || notes[0].ChangeID == nil || notes[0].Author != "partner" {
		t.Errorf("unexpected notes: %+v", notes)
	}
}

func TestService_SyncOrder_DiffNotes(t *testing.T) {
	env := newTestEnv()
	env.syncPatient(t, "P-1")
	ctx := context.Background()

	if _, err := env.svc.SyncOrder(ctx, baseOrder(), "partner"); err != nil {
		t.Fatalf("first change: %v", err)
	}

	next := baseOrder()
	next.StripQuantity = 150
	next.TrackingNumber = "9400100000000000000000"
	res, err := env.svc.SyncOrder(ctx, next, "partner")
	if err != nil {
		t.Fatalf("second change: %v", err)
	}
	if res.Ordering != 1 {
		t.Errorf("expected ordering 1, got %d", res.Ordering)
	}
	want := "Strip quantity changed from 100 to 150.\nTracking number changed from none to 9400100000000000000000."
	if res.Note != want {
		t.Errorf("unexpected note:\n%s", res.Note)
	}

	// Resending the same payload records a change without a note.
	res, err = env.svc.SyncOrder(ctx, next, "partner")
	if err != nil {
		t.Fatalf("third change: %v", err)
	}
	if res.Ordering != 2 || res.Note != "" {
		t.Errorf("expected silent change at ordering 2, got %d %q", res.Ordering, res.Note)
	}
	if n := len(env.repo.notes[res.EPCOrderID]); n != 2 {
		t.Errorf("expected 2 notes, got %d", n)
	}
	if n := len(env.orders.orders); n != 1 {
		t.Errorf("expected a single internal order, got %d", n)
	}
}

func TestService_SyncOrder_StatusTransitions(t *testing.T) {
	env := newTestEnv()
	env.syncPatient(t, "P-1")
	ctx := context.Background()

	req := baseOrder()
	res, err := env.svc.SyncOrder(ctx, req, "partner")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	req.Status = "On_Hold"
	res, err = env.svc.SyncOrder(ctx, req, "partner")
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if res.OrderStatus != order.StatusOnHold {
		t.Errorf("expected on_hold, got %s", res.OrderStatus)
	}

	req.Status = "active"
	res, err = env.svc.SyncOrder(ctx, req, "partner")
	if err != nil {
		t.Fatalf("unhold: %v", err)
	}
	if res.OrderStatus != order.StatusWaitingToBeShipped {
		t.Errorf("expected waiting_to_be_shipped, got %s", res.OrderStatus)
	}

	req.Status = "cancelled"
	res, err = env.svc.SyncOrder(ctx, req, "partner")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.OrderStatus != order.StatusCanceled {
		t.Errorf("expected canceled, got %s", res.OrderStatus)
	}

	want := []string{"create", "hold", "unhold", "cancel"}
	if strings.Join(env.orders.calls, ",") != strings.Join(want, ",") {
		t.Errorf("unexpected calls: %v", env.orders.calls)
	}
}

func TestService_SyncOrder_IllegalTransition(t *testing.T) {
	env := newTestEnv()
	env.syncPatient(t, "P-1")
	ctx := context.Background()

	req := baseOrder()
	res, err := env.svc.SyncOrder(ctx, req, "partner")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	env.orders.orders[*res.OrderID].Status = order.StatusShipped

	req.Status = "hold"
	_, err = env.svc.SyncOrder(ctx, req, "partner")
	if !errors.Is(err, order.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestService_SyncOrder_NothingToShip(t *testing.T) {
	env := newTestEnv()
	env.syncPatient(t, "P-1")

	res, err := env.svc.SyncOrder(context.Background(), &OrderRequest{OrderID: "EPC-7", PatientID: "P-1"}, "partner")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.OrderID != nil {
		t.Error("expected no internal order without quantities")
	}
}

func TestService_SyncOrder_LateQuantitiesKeepPartnerStatus(t *testing.T) {
	for _, status := range []string{"on_hold", "canceled", "cancelled"} {
		t.Run(status, func(t *testing.T) {
			env := newTestEnv()
			env.syncPatient(t, "P-1")
			ctx := context.Background()

			req := &OrderRequest{OrderID: "EPC-9", PatientID: "P-1", Status: status}
			res, err := env.svc.SyncOrder(ctx, req, "partner")
			if err != nil {
				t.Fatalf("first change: %v", err)
			}
			if res.OrderID != nil {
				t.Fatal("expected no internal order without quantities")
			}

			req.MeterQuantity = 1
			req.StripQuantity = 100
			req.LancetQuantity = 100
			res, err = env.svc.SyncOrder(ctx, req, "partner")
			if err != nil {
				t.Fatalf("second change: %v", err)
			}
			if res.OrderID == nil {
				t.Fatal("expected internal order once quantities arrive")
			}

			want := order.StatusOnHold
			if status != "on_hold" {
				want = order.StatusCanceled
			}
			if got := env.orders.orders[*res.OrderID].Status; got != want {
				t.Errorf("expected %s, got %s", want, got)
			}
			if res.OrderStatus != want {
				t.Errorf("expected result status %s, got %s", want, res.OrderStatus)
			}
		})
	}
}

func TestService_SyncOrder_Validation(t *testing.T) {
	env := newTestEnv()
	req := baseOrder()
	req.LancetQuantity = -1
	_, err := env.svc.SyncOrder(context.Background(), req, "partner")
	if !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestService_AddNote(t *testing.T) {
	env := newTestEnv()
	env.syncPatient(t, "P-1")
	ctx := context.Background()
	res, err := env.svc.SyncOrder(ctx, baseOrder(), "partner")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	n, err := env.svc.AddNote(ctx, res.EPCOrderID, "  Called patient to confirm address. ", "nurse-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Body != "Called patient to confirm address." || n.ChangeID != nil {
		t.Errorf("unexpected note: %+v", n)
	}

	detail, err := env.svc.GetOrder(ctx, res.EPCOrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if len(detail.Changes) != 1 || len(detail.Notes) != 2 {
		t.Errorf("expected 1 change and 2 notes, got %d and %d", len(detail.Changes), len(detail.Notes))
	}

	if detail.Notes[1].Ordering != 1 {
		t.Errorf("expected staff note ordering 1, got %d", detail.Notes[1].Ordering)
	}

	if err := env.repo.AddNote(ctx, &Note{EPCOrderID: res.EPCOrderID, Body: "outside"}); !errors.Is(err, errNoTx) {
		t.Errorf("expected notes outside a transaction to be refused, got %v", err)
	}

	if _, err := env.svc.AddNote(ctx, uuid.New(), "x", "nurse-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := env.svc.AddNote(ctx, res.EPCOrderID, " ", "nurse-1"); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload, got %v", err)
	}
}

// -- Credentials --

func TestService_APIUsers(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	u, err := env.svc.CreateAPIUser(ctx, "partner", "correct-horse-battery")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.PasswordHash == "correct-horse-battery" || !u.Active {
		t.Error("expected active user with hashed password")
	}
	if _, err := env.svc.CreateAPIUser(ctx, "partner", "correct-horse-battery"); !errors.Is(err, ErrUsernameTaken) {
		t.Errorf("expected ErrUsernameTaken, got %v", err)
	}
	if _, err := env.svc.CreateAPIUser(ctx, "other", "short"); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload for short password, got %v", err)
	}

	got, err := env.svc.Authenticate(ctx, "partner", "correct-horse-battery")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.LastUsedAt == nil || env.creds.touched != 1 {
		t.Error("expected last use to be recorded")
	}

	if _, err := env.svc.Authenticate(ctx, "partner", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := env.svc.Authenticate(ctx, "nobody", "correct-horse-battery"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}

	env.creds.users["partner"].Active = false
	if _, err := env.svc.Authenticate(ctx, "partner", "correct-horse-battery"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for inactive user, got %v", err)
	}
}
