package inventory

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrInvalidRequest marks malformed input (non-positive quantity,
	// empty batch). Rejected before any write; the caller can correct
	// the input and retry.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotFound means the referenced stock item does not exist. Raised
	// by the single-item path only; the batch path skips unknown
	// references instead.
	ErrNotFound = errors.New("stock item not found")

	// ErrInsufficientStock means the requested quantity exceeds the
	// available stock at commit time. Not retryable without a restock.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrDuplicateRequest means an idempotency key was already claimed
	// for an equivalent submission.
	ErrDuplicateRequest = errors.New("duplicate request")
)

// InsufficientStockError names the item that could not satisfy a deduction.
// In batch mode it identifies which entry forced the rollback.
type InsufficientStockError struct {
	ItemID    uuid.UUID
	ItemName  string
	Requested int
	InStock   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, have %d", e.ItemName, e.Requested, e.InStock)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
