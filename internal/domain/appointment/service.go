package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/clinic-api/internal/domain/inventory"
	"github.com/clinicore/clinic-api/internal/platform/versioned"
)

// BatchDispenser deducts a prescription's stock transactionally; the
// inventory service implements it.
type BatchDispenser interface {
	DispenseBatch(ctx context.Context, req inventory.PrescriptionRequest, actor *string) ([]*inventory.StockItem, error)
}

type Service struct {
	repo      Repository
	dispenser BatchDispenser
	logger    zerolog.Logger
}

func NewService(repo Repository, dispenser BatchDispenser) *Service {
	return &Service{repo: repo, dispenser: dispenser, logger: zerolog.Nop()}
}

func (s *Service) SetLogger(logger zerolog.Logger) {
	s.logger = logger
}

func (s *Service) Book(ctx context.Context, a *Appointment) error {
	if a.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if a.ScheduledAt.IsZero() {
		return fmt.Errorf("scheduled_at is required")
	}
	if a.Status == "" {
		a.Status = StatusBooked
	}
	if !a.Status.Valid() {
		return fmt.Errorf("invalid status: %s", a.Status)
	}
	return s.repo.Create(ctx, a)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.List(ctx, patientID, limit, offset)
}

// Cancel moves a booked appointment to cancelled. Fulfilled appointments
// stay fulfilled; their stock has already been dispensed.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	var result *Appointment
	err := versioned.Retry(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if a.Status != StatusBooked {
			return fmt.Errorf("%w: cannot cancel a %s appointment", ErrInvalidTransition, a.Status)
		}
		result, err = s.repo.UpdateStatus(ctx, a.ID, a.Version, StatusCancelled)
		return err
	})
	return result, err
}

// Complete dispenses the consultation's prescriptions and marks the
// appointment fulfilled. The versioned booked-to-fulfilled transition runs
// first and admits exactly one winner, so two racing completions cannot
// both deduct the prescription's stock. When the deduction then fails, the
// appointment is reverted to booked so completion can be retried after a
// restock or a corrected prescription.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, prescriptions inventory.PrescriptionRequest, actor *string) (*Appointment, error) {
	var claimed *Appointment
	err := versioned.Retry(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if a.Status != StatusBooked {
			return fmt.Errorf("%w: cannot complete a %s appointment", ErrInvalidTransition, a.Status)
		}
		claimed, err = s.repo.UpdateStatus(ctx, a.ID, a.Version, StatusFulfilled)
		return err
	})
	if err != nil {
		return nil, err
	}

	if len(prescriptions) > 0 {
		for i := range prescriptions {
			if prescriptions[i].AppointmentID == nil {
				prescriptions[i].AppointmentID = &claimed.ID
			}
		}
		if _, err := s.dispenser.DispenseBatch(ctx, prescriptions, actor); err != nil {
			s.revertToBooked(ctx, claimed)
			return nil, fmt.Errorf("dispense prescriptions: %w", err)
		}
	}

	s.logger.Info().
		Str("appointment_id", id.String()).
		Int("prescriptions", len(prescriptions)).
		Time("scheduled_at", claimed.ScheduledAt).
		Msg("appointment completed")
	return claimed, nil
}

// revertToBooked undoes a claimed completion after its dispense failed.
// The claim's version is still current (nothing else writes a fulfilled
// appointment), so a conflict here indicates an external writer and is
// only logged.
func (s *Service) revertToBooked(ctx context.Context, a *Appointment) {
	if _, err := s.repo.UpdateStatus(ctx, a.ID, a.Version, StatusBooked); err != nil {
		s.logger.Error().Err(err).
			Str("appointment_id", a.ID.String()).
			Msg("failed to revert appointment after dispense failure")
	}
}

// Upcoming lists booked appointments scheduled after now, optionally
// narrowed to one patient.
func (s *Service) Upcoming(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	appts, _, err := s.repo.List(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	now := time.Now()
	var upcoming []*Appointment
	for _, a := range appts {
		if a.Status == StatusBooked && a.ScheduledAt.After(now) {
			upcoming = append(upcoming, a)
		}
	}
	return upcoming, len(upcoming), nil
}
