package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/clinic-api/internal/domain/inventory"
	"github.com/clinicore/clinic-api/internal/platform/versioned"
)

type mockRepo struct {
	mu    sync.Mutex
	appts map[uuid.UUID]*Appointment
}

func newMockRepo() *mockRepo {
	return &mockRepo{appts: make(map[uuid.UUID]*Appointment)}
}

func (m *mockRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.Version = 1
	a.CreatedAt = time.Now().UTC()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockRepo) List(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Appointment
	for _, a := range m.appts {
		if patientID != uuid.Nil && a.PatientID != patientID {
			continue
		}
		cp := *a
		all = append(all, &cp)
	}
	return all, len(all), nil
}

func (m *mockRepo) UpdateStatus(_ context.Context, id uuid.UUID, expectedVersion int, status Status) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || a.Version != expectedVersion {
		return nil, versioned.ErrConflict
	}
	a.Status = status
	a.Version++
	a.UpdatedAt = time.Now().UTC()
	cp := *a
	return &cp, nil
}

// mockDispenser records batch requests and can be set to fail or to
// hold each call open for a while.
type mockDispenser struct {
	mu    sync.Mutex
	calls []inventory.PrescriptionRequest
	err   error
	delay time.Duration
}

func (d *mockDispenser) DispenseBatch(_ context.Context, req inventory.PrescriptionRequest, _ *string) ([]*inventory.StockItem, error) {
	d.mu.Lock()
	d.calls = append(d.calls, req)
	d.mu.Unlock()
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if d.err != nil {
		return nil, d.err
	}
	return nil, nil
}

func (d *mockDispenser) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func seedAppointment(t *testing.T, repo *mockRepo, status Status) *Appointment {
	t.Helper()
	a := &Appointment{
		PatientID:        uuid.New(),
		PractitionerName: "Dr. Jones",
		ScheduledAt:      time.Now().Add(24 * time.Hour),
		Status:           status,
	}
	if err := repo.Create(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	return a
}

func TestBook_Validation(t *testing.T) {
	svc := NewService(newMockRepo(), &mockDispenser{})
	ctx := context.Background()

	if err := svc.Book(ctx, &Appointment{ScheduledAt: time.Now()}); err == nil {
		t.Error("expected error for missing patient_id")
	}
	if err := svc.Book(ctx, &Appointment{PatientID: uuid.New()}); err == nil {
		t.Error("expected error for missing scheduled_at")
	}

	a := &Appointment{PatientID: uuid.New(), ScheduledAt: time.Now().Add(time.Hour)}
	if err := svc.Book(ctx, a); err != nil {
		t.Fatalf("book: %v", err)
	}
	if a.Status != StatusBooked {
		t.Errorf("expected default status booked, got %s", a.Status)
	}
	if a.Version != 1 {
		t.Errorf("expected version 1, got %d", a.Version)
	}
}

func TestComplete_DispensesAndFulfills(t *testing.T) {
	repo := newMockRepo()
	dispenser := &mockDispenser{}
	svc := NewService(repo, dispenser)
	a := seedAppointment(t, repo, StatusBooked)

	medID := uuid.New()
	result, err := svc.Complete(context.Background(), a.ID, inventory.PrescriptionRequest{
		{MedicineID: medID, Quantity: 2},
	}, nil)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if result.Status != StatusFulfilled {
		t.Errorf("expected fulfilled, got %s", result.Status)
	}
	if len(dispenser.calls) != 1 {
		t.Fatalf("expected one batch dispense, got %d", len(dispenser.calls))
	}
	entry := dispenser.calls[0][0]
	if entry.AppointmentID == nil || *entry.AppointmentID != a.ID {
		t.Error("expected prescription entries linked to the appointment")
	}
}

func TestComplete_DispenseFailureKeepsBooked(t *testing.T) {
	repo := newMockRepo()
	dispenser := &mockDispenser{err: &inventory.InsufficientStockError{ItemName: "Insulin", Requested: 5, InStock: 1}}
	svc := NewService(repo, dispenser)
	a := seedAppointment(t, repo, StatusBooked)

	_, err := svc.Complete(context.Background(), a.ID, inventory.PrescriptionRequest{
		{MedicineID: uuid.New(), Quantity: 5},
	}, nil)
	if !errors.Is(err, inventory.ErrInsufficientStock) {
		t.Fatalf("expected insufficiency to propagate, got %v", err)
	}

	got, _ := repo.GetByID(context.Background(), a.ID)
	if got.Status != StatusBooked {
		t.Errorf("expected appointment reverted to booked, got %s", got.Status)
	}

	// The revert restored a completable state, so a retry with enough
	// stock succeeds.
	dispenser.err = nil
	result, err := svc.Complete(context.Background(), a.ID, inventory.PrescriptionRequest{
		{MedicineID: uuid.New(), Quantity: 1},
	}, nil)
	if err != nil {
		t.Fatalf("retry after restock: %v", err)
	}
	if result.Status != StatusFulfilled {
		t.Errorf("expected fulfilled on retry, got %s", result.Status)
	}
}

func TestComplete_ConcurrentCompletionsDispenseOnce(t *testing.T) {
	repo := newMockRepo()
	dispenser := &mockDispenser{delay: 20 * time.Millisecond}
	svc := NewService(repo, dispenser)
	a := seedAppointment(t, repo, StatusBooked)

	prescriptions := inventory.PrescriptionRequest{{MedicineID: uuid.New(), Quantity: 2}}
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := svc.Complete(context.Background(), a.ID, prescriptions, nil)
			errs <- err
		}()
	}

	var failures []error
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			failures = append(failures, err)
		}
	}
	if len(failures) != 1 {
		t.Fatalf("expected exactly one completion to win, got %d failures: %v", len(failures), failures)
	}
	if !errors.Is(failures[0], ErrInvalidTransition) && !errors.Is(failures[0], versioned.ErrConflict) {
		t.Errorf("expected the loser to see an invalid transition or conflict, got %v", failures[0])
	}
	if got := dispenser.callCount(); got != 1 {
		t.Errorf("expected the prescription batch dispensed once, got %d", got)
	}
	final, _ := repo.GetByID(context.Background(), a.ID)
	if final.Status != StatusFulfilled {
		t.Errorf("expected fulfilled, got %s", final.Status)
	}
}

func TestComplete_WithoutPrescriptions(t *testing.T) {
	repo := newMockRepo()
	dispenser := &mockDispenser{}
	svc := NewService(repo, dispenser)
	a := seedAppointment(t, repo, StatusBooked)

	result, err := svc.Complete(context.Background(), a.ID, nil, nil)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if result.Status != StatusFulfilled {
		t.Errorf("expected fulfilled, got %s", result.Status)
	}
	if len(dispenser.calls) != 0 {
		t.Error("expected no dispense call for an empty prescription")
	}
}

func TestComplete_InvalidTransitions(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, &mockDispenser{})
	ctx := context.Background()

	fulfilled := seedAppointment(t, repo, StatusFulfilled)
	if _, err := svc.Complete(ctx, fulfilled.ID, nil, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("fulfilled: expected ErrInvalidTransition, got %v", err)
	}

	cancelled := seedAppointment(t, repo, StatusCancelled)
	if _, err := svc.Complete(ctx, cancelled.ID, nil, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("cancelled: expected ErrInvalidTransition, got %v", err)
	}

	if _, err := svc.Complete(ctx, uuid.New(), nil, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown: expected ErrNotFound, got %v", err)
	}
}

func TestUpcoming(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, &mockDispenser{})
	ctx := context.Background()
	patient := uuid.New()

	future := &Appointment{PatientID: patient, ScheduledAt: time.Now().Add(48 * time.Hour), Status: StatusBooked}
	past := &Appointment{PatientID: patient, ScheduledAt: time.Now().Add(-time.Hour), Status: StatusBooked}
	cancelled := &Appointment{PatientID: patient, ScheduledAt: time.Now().Add(24 * time.Hour), Status: StatusCancelled}
	other := &Appointment{PatientID: uuid.New(), ScheduledAt: time.Now().Add(24 * time.Hour), Status: StatusBooked}
	for _, a := range []*Appointment{future, past, cancelled, other} {
		if err := repo.Create(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	appts, total, err := svc.Upcoming(ctx, patient, 100, 0)
	if err != nil {
		t.Fatalf("upcoming: %v", err)
	}
	if total != 1 || len(appts) != 1 {
		t.Fatalf("expected one upcoming appointment, got %d (total %d)", len(appts), total)
	}
	if appts[0].ID != future.ID {
		t.Error("expected only the future booked appointment")
	}

	appts, total, err = svc.Upcoming(ctx, uuid.Nil, 100, 0)
	if err != nil {
		t.Fatalf("upcoming all: %v", err)
	}
	if total != 2 || len(appts) != 2 {
		t.Errorf("expected upcoming across patients, got %d (total %d)", len(appts), total)
	}
}

func TestCancel(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, &mockDispenser{})
	ctx := context.Background()

	a := seedAppointment(t, repo, StatusBooked)
	result, err := svc.Cancel(ctx, a.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if result.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", result.Status)
	}
	if result.Version != 2 {
		t.Errorf("expected version 2, got %d", result.Version)
	}

	if _, err := svc.Cancel(ctx, a.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on double cancel, got %v", err)
	}
}
