package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for stock items. Conditional
// mutations (ApplyDeduction, ApplyRestock) are keyed on the version
// observed by the caller's read and return versioned.ErrConflict when a
// concurrent writer won the race; the service re-runs the whole
// read-modify-write cycle through versioned.Retry.
type Repository interface {
	Create(ctx context.Context, item *StockItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*StockItem, error)
	// GetForUpdate reads an item while holding a row write lock for the
	// duration of the surrounding transaction. Only valid inside InTx.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*StockItem, error)
	FindByNameAndExpiryDay(ctx context.Context, name string, expiry time.Time) (*StockItem, error)
	List(ctx context.Context, limit, offset int) ([]*StockItem, int, error)

	// ApplyDeduction conditionally sets the new quantity, recomputes
	// availability, bumps the version and appends the dispense record,
	// all in one write. Returns the post-update item.
	ApplyDeduction(ctx context.Context, id uuid.UUID, expectedVersion, newQuantity int, rec DispenseRecord) (*StockItem, error)

	// ApplyRestock conditionally sets the new quantity, recomputes
	// availability and bumps the version. Returns the post-update item.
	ApplyRestock(ctx context.Context, id uuid.UUID, expectedVersion, newQuantity int) (*StockItem, error)

	Delete(ctx context.Context, id uuid.UUID) error

	// ResolveRecipient follows an appointment reference to the patient's
	// full name. Returns "" when the appointment or patient is unknown.
	ResolveRecipient(ctx context.Context, appointmentID uuid.UUID) (string, error)

	// InTx runs fn inside one transaction scope; every repository call
	// made with the ctx passed to fn shares that scope and its commit
	// point. fn returning an error rolls everything back.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	// ListAudit returns the flattened dispense history across all items,
	// sorted descending by dispense time, with display fields resolved.
	ListAudit(ctx context.Context, f AuditFilter) ([]*AuditEntry, error)
}
