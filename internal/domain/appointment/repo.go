package appointment

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("appointment not found")

	// ErrInvalidTransition means the requested status change is not allowed
	// from the appointment's current state.
	ErrInvalidTransition = errors.New("invalid status transition")
)

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	List(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error)

	// UpdateStatus conditionally moves the appointment to the given status,
	// keyed on the version observed by the caller's read. A missed match
	// returns versioned.ErrConflict.
	UpdateStatus(ctx context.Context, id uuid.UUID, expectedVersion int, status Status) (*Appointment, error)
}
