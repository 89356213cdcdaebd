package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careline/careline/internal/platform/db"
)

// -- Mock Repository --

// mockRepo hands out copies so a failed transition leaves stored state
// untouched, as a rolled back transaction would.
type mockRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*Order
	updates int
}

func newMockRepo() *mockRepo {
	return &mockRepo{records: make(map[uuid.UUID]*Order)}
}

func clone(o *Order) *Order {
	c := *o
	c.Entries = nil
	for _, e := range o.Entries {
		ec := *e
		c.Entries = append(c.Entries, &ec)
	}
	c.Problems = nil
	for _, p := range o.Problems {
		pc := *p
		c.Problems = append(c.Problems, &pc)
	}
	return &c
}

func (m *mockRepo) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.ID = uuid.New()
	o.CreatedAt = time.Now()
	o.UpdatedAt = time.Now()
	for _, e := range o.Entries {
		e.ID = uuid.New()
		e.OrderID = o.ID
	}
	m.records[o.ID] = clone(o)
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(o), nil
}

func (m *mockRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Order, error) {
	return m.GetByID(ctx, id)
}

func (m *mockRepo) Update(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[o.ID]; !ok {
		return ErrNotFound
	}
	o.UpdatedAt = time.Now()
	m.records[o.ID] = clone(o)
	m.updates++
	return nil
}

func (m *mockRepo) List(_ context.Context, params map[string]string, limit, offset int) ([]*Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Order
	for _, o := range m.records {
		if v, ok := params["status"]; ok && string(o.Status) != v {
			continue
		}
		result = append(result, clone(o))
	}
	return result, len(result), nil
}

func (m *mockRepo) AddProblem(_ context.Context, p *Problem) error {
	return nil
}

func (m *mockRepo) UpdateProblem(_ context.Context, p *Problem) error {
	return nil
}

type fixedClock struct{ t time.Time }

func (c *fixedClock) now() time.Time { return c.t }

func newTestEnv() (*Service, *mockRepo, *fixedClock) {
	repo := newMockRepo()
	clock := &fixedClock{t: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
	svc := NewService(repo, db.NoTx{}, zerolog.Nop())
	svc.now = clock.now
	return svc, repo, clock
}

func newTestService() *Service {
	svc, _, _ := newTestEnv()
	return svc
}

func createOrder(t *testing.T, svc *Service) *Order {
	t.Helper()
	o := &Order{
		PatientID: uuid.New(),
		Entries:   []*Entry{{ProductCode: "strips", Quantity: 100}},
	}
	if err := svc.Create(context.Background(), o); err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

// -- Tests --

func TestService_Create(t *testing.T) {
	svc := newTestService()
	o := createOrder(t, svc)
	if o.Status != StatusWaitingToBeShipped {
		t.Errorf("expected waiting_to_be_shipped, got %s", o.Status)
	}
	if o.OrderType != TypeManual {
		t.Errorf("expected default manual type, got %s", o.OrderType)
	}
}

func TestService_Create_Validation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	cases := map[string]*Order{
		"missing patient": {Entries: []*Entry{{ProductCode: "strips", Quantity: 1}}},
		"no entries":      {PatientID: uuid.New()},
		"bad product":     {PatientID: uuid.New(), Entries: []*Entry{{ProductCode: "unicorn", Quantity: 1}}},
		"not orderable":   {PatientID: uuid.New(), Entries: []*Entry{{ProductCode: "battery", Quantity: 1}}},
		"zero quantity":   {PatientID: uuid.New(), Entries: []*Entry{{ProductCode: "strips"}}},
		"bad type":        {PatientID: uuid.New(), OrderType: "rush", Entries: []*Entry{{ProductCode: "strips", Quantity: 1}}},
	}
	for name, o := range cases {
		if err := svc.Create(ctx, o); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestService_Lock_Conflicts(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	o := createOrder(t, svc)

	if _, err := svc.Lock(ctx, o.ID, "u1"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := svc.Lock(ctx, o.ID, "u1"); !errors.Is(err, ErrAlreadyLockedByUser) {
		t.Errorf("expected ErrAlreadyLockedByUser, got %v", err)
	}
	if _, err := svc.Lock(ctx, o.ID, "u2"); !errors.Is(err, ErrLockedByAnotherUser) {
		t.Errorf("expected ErrLockedByAnotherUser, got %v", err)
	}
}

func TestService_Lock_ReclaimsStaleLock(t *testing.T) {
	svc, _, clock := newTestEnv()
	ctx := context.Background()
	o := createOrder(t, svc)

	svc.Lock(ctx, o.ID, "u1")
	clock.t = clock.t.Add(13 * time.Hour)
	got, err := svc.Lock(ctx, o.ID, "u2")
	if err != nil {
		t.Fatalf("expected stale lock to be reclaimed: %v", err)
	}
	if *got.LockedByID != "u2" {
		t.Errorf("expected u2 to hold the lock, got %s", *got.LockedByID)
	}
}

func TestService_Get_ReclaimsStaleLock(t *testing.T) {
	svc, repo, clock := newTestEnv()
	ctx := context.Background()
	o := createOrder(t, svc)
	svc.Lock(ctx, o.ID, "u1")

	clock.t = clock.t.Add(11 * time.Hour)
	got, _ := svc.Get(ctx, o.ID)
	if !got.IsLocked() {
		t.Error("expected lock kept under 12h")
	}

	clock.t = clock.t.Add(2 * time.Hour)
	got, err := svc.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.IsLocked() || got.Status != StatusWaitingToBeShipped {
		t.Errorf("expected reclaimed lock, got %+v", got)
	}
	stored, _ := repo.GetByID(ctx, o.ID)
	if stored.IsLocked() {
		t.Error("expected reclaimed lock to be persisted")
	}
}

func TestService_Get_NotFound(t *testing.T) {
	svc := newTestService()
	if _, err := svc.Get(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_FailedTransitionDoesNotPersist(t *testing.T) {
	svc, repo, _ := newTestEnv()
	ctx := context.Background()
	o := createOrder(t, svc)
	before := repo.updates

	if _, err := svc.Unhold(ctx, o.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if repo.updates != before {
		t.Error("expected no write for a rejected transition")
	}
}

func TestService_HoldUnholdCancelScenario(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	o := createOrder(t, svc)

	got, err := svc.Hold(ctx, o.ID, "insurance", "u1")
	if err != nil || got.Status != StatusOnHold {
		t.Fatalf("hold: %v %v", got, err)
	}
	got, err = svc.Unhold(ctx, o.ID)
	if err != nil || got.Status != StatusWaitingToBeShipped {
		t.Fatalf("unhold: %v %v", got, err)
	}
	svc.Hold(ctx, o.ID, "insurance", "u1")
	got, err = svc.Cancel(ctx, o.ID, "patient request", "u1")
	if err != nil || got.Status != StatusCanceled {
		t.Fatalf("cancel: %v %v", got, err)
	}
	if _, err := svc.Lock(ctx, o.ID, "u1"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected lock after cancel to fail, got %v", err)
	}
}

func TestService_ProblemLifecycle(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	o := createOrder(t, svc)
	svc.Lock(ctx, o.ID, "u1")

	got, err := svc.AddProblem(ctx, o.ID, "damaged", "meter cracked", "u1")
	if err != nil {
		t.Fatalf("add problem: %v", err)
	}
	if got.Status != StatusProblem || got.IsLocked() || len(got.Problems) != 1 {
		t.Errorf("unexpected state after problem: %+v", got)
	}
	got, err = svc.ResolveProblem(ctx, o.ID, "replaced meter", "u2")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Status != StatusWaitingToBeShipped || !got.Problems[0].Resolved {
		t.Errorf("unexpected state after resolve: %+v", got)
	}
	if _, err := svc.ResolveProblem(ctx, o.ID, "", "u2"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected resolve outside problem status to fail, got %v", err)
	}
}

func TestService_ShipAndFulfill(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	o := createOrder(t, svc)

	if _, err := svc.CheckIfShipped(ctx, o.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ship without lock to fail, got %v", err)
	}
	svc.Lock(ctx, o.ID, "u1")
	got, err := svc.CheckIfShipped(ctx, o.ID)
	if err != nil || got.Status != StatusShipped {
		t.Fatalf("ship: %v %v", got, err)
	}
	got, err = svc.Fulfill(ctx, o.ID)
	if err != nil || got.Status != StatusFulfilled {
		t.Fatalf("fulfill: %v %v", got, err)
	}
}

func TestService_RxFlow(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	o := createOrder(t, svc)

	got, err := svc.AwaitRx(ctx, o.ID)
	if err != nil || got.Status != StatusWaitingForRx {
		t.Fatalf("await rx: %v %v", got, err)
	}
	got, err = svc.ReceiveRx(ctx, o.ID)
	if err != nil || got.Status != StatusWaitingToBeShipped {
		t.Fatalf("receive rx: %v %v", got, err)
	}
}

func TestService_Unlock(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	o := createOrder(t, svc)
	svc.Lock(ctx, o.ID, "u1")

	got, err := svc.Unlock(ctx, o.ID)
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if got.IsLocked() || got.Status != StatusWaitingToBeShipped {
		t.Errorf("unexpected state: %+v", got)
	}
}
