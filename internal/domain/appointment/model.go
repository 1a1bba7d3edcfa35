package appointment

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusBooked    Status = "booked"
	StatusFulfilled Status = "fulfilled"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusBooked, StatusFulfilled, StatusCancelled:
		return true
	}
	return false
}

// Appointment maps to the appointment table. Version guards status
// transitions against concurrent completion and cancellation.
type Appointment struct {
	ID               uuid.UUID `db:"id" json:"id"`
	PatientID        uuid.UUID `db:"patient_id" json:"patient_id"`
	PractitionerName string    `db:"practitioner_name" json:"practitioner_name"`
	ScheduledAt      time.Time `db:"scheduled_at" json:"scheduled_at"`
	Status           Status    `db:"status" json:"status"`
	Notes            *string   `db:"notes" json:"notes,omitempty"`
	Version          int       `db:"version" json:"version"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

func (a *Appointment) GetVersionID() int  { return a.Version }
func (a *Appointment) SetVersionID(v int) { a.Version = v }
