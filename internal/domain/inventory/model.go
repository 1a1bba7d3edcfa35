package inventory

import (
	"time"

	"github.com/google/uuid"
)

// Source identifies which path created a dispense record.
type Source string

const (
	SourceManual       Source = "manual"
	SourceConsultation Source = "consultation"
)

// Label returns the human-readable form used by reporting.
func (s Source) Label() string {
	switch s {
	case SourceManual:
		return "Manual dispense"
	case SourceConsultation:
		return "Consultation"
	default:
		return string(s)
	}
}

// DispenseRecord is one entry of a stock item's append-only dispense
// history. It is created exactly once, at the moment its parent deduction
// commits, and never edited or removed afterwards.
type DispenseRecord struct {
	Quantity          int        `json:"quantity"`
	DispensedAt       time.Time  `json:"dispensed_at"`
	DispensedBy       *string    `json:"dispensed_by,omitempty"`
	Source            Source     `json:"source"`
	RecipientName     string     `json:"recipient_name,omitempty"`
	LinkedAppointment *uuid.UUID `json:"linked_appointment,omitempty"`
}

// StockItem maps to the stock_item table. Available is derived from
// QuantityInStock inside the same write that changes the quantity and is
// never set independently. Version increases by exactly one per committed
// mutation; DispenseHistory is stored as an appended JSONB array.
type StockItem struct {
	ID              uuid.UUID        `db:"id" json:"id"`
	Name            string           `db:"name" json:"name"`
	Unit            string           `db:"unit" json:"unit"`
	ExpiryDate      time.Time        `db:"expiry_date" json:"expiry_date"`
	QuantityInStock int              `db:"quantity_in_stock" json:"quantity_in_stock"`
	Available       bool             `db:"available" json:"available"`
	Version         int              `db:"version" json:"version"`
	DispenseHistory []DispenseRecord `db:"dispense_history" json:"dispense_history"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
}

// GetVersionID returns the current version.
func (s *StockItem) GetVersionID() int { return s.Version }

// SetVersionID sets the current version.
func (s *StockItem) SetVersionID(v int) { s.Version = v }

// PrescriptionEntry is one line of a batch dispense request.
type PrescriptionEntry struct {
	MedicineID    uuid.UUID  `json:"medicine_id"`
	Quantity      int        `json:"quantity"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
}

// PrescriptionRequest is the transient input to the batch dispenser: a
// non-empty ordered list of deductions that must commit or fail together.
type PrescriptionRequest []PrescriptionEntry

// AuditEntry is one row of the flattened, time-ordered dispense history
// across all stock items, with the display fields reporting consumes.
type AuditEntry struct {
	ItemID            uuid.UUID  `json:"item_id"`
	ItemName          string     `json:"item_name"`
	Unit              string     `json:"unit"`
	Quantity          int        `json:"quantity"`
	DispensedAt       time.Time  `json:"dispensed_at"`
	DispensedBy       *string    `json:"dispensed_by,omitempty"`
	Source            Source     `json:"source"`
	SourceLabel       string     `json:"source_label"`
	RecipientName     string     `json:"recipient_name"`
	LinkedAppointment *uuid.UUID `json:"linked_appointment,omitempty"`
}

// AuditFilter narrows the audit view. Zero values mean "no constraint".
type AuditFilter struct {
	From     time.Time
	To       time.Time
	ItemName string
}
