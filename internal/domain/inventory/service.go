package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/clinic-api/internal/platform/events"
	"github.com/clinicore/clinic-api/internal/platform/metrics"
	"github.com/clinicore/clinic-api/internal/platform/versioned"
)

// IdempotencyGuard claims a submission key; false means duplicate.
type IdempotencyGuard interface {
	SetIdempotency(ctx context.Context, key string) (bool, error)
}

type Service struct {
	repo         Repository
	bus          *events.Bus
	idem         IdempotencyGuard
	logger       zerolog.Logger
	lowThreshold int
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, logger: zerolog.Nop()}
}

// SetLogger attaches a structured logger.
func (s *Service) SetLogger(logger zerolog.Logger) {
	s.logger = logger
}

// SetEvents attaches an optional event bus; stock transitions are published
// after their mutation commits.
func (s *Service) SetEvents(bus *events.Bus) {
	s.bus = bus
}

// SetIdempotency attaches an optional duplicate-submission guard.
func (s *Service) SetIdempotency(g IdempotencyGuard) {
	s.idem = g
}

// SetLowStockThreshold sets the level at or below which a dispense publishes
// a low-stock event. Zero disables the alert.
func (s *Service) SetLowStockThreshold(n int) {
	s.lowThreshold = n
}

func (s *Service) Create(ctx context.Context, item *StockItem) error {
	if item.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	if item.Unit == "" {
		return fmt.Errorf("%w: unit is required", ErrInvalidRequest)
	}
	if item.QuantityInStock < 0 {
		return fmt.Errorf("%w: quantity_in_stock must not be negative", ErrInvalidRequest)
	}
	return s.repo.Create(ctx, item)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*StockItem, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*StockItem, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// Delete removes a stock item together with its dispense history. Admin only;
// enforced at the route layer.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// Dispense deducts quantity from one stock item using optimistic locking.
// The read, the stock check and the conditional write form one attempt;
// losing the version race re-runs the whole attempt against fresh state, so
// a quantity that was sufficient at first read is re-verified before every
// write. appointmentID optionally links the record to a consultation so
// reporting can resolve the recipient through it. idemKey may be empty;
// when set and already claimed, the request is rejected as a duplicate
// before any read.
func (s *Service) Dispense(ctx context.Context, id uuid.UUID, quantity int, actor *string, recipient string, appointmentID *uuid.UUID, idemKey string) (*StockItem, error) {
	if quantity <= 0 {
		metrics.DispenseTotal.WithLabelValues("single", "invalid_request").Inc()
		return nil, fmt.Errorf("%w: quantity must be greater than 0", ErrInvalidRequest)
	}
	if idemKey != "" && s.idem != nil {
		fresh, err := s.idem.SetIdempotency(ctx, idemKey)
		if err != nil {
			s.logger.Warn().Err(err).Str("item_id", id.String()).Msg("idempotency check unavailable, proceeding")
		} else if !fresh {
			metrics.DispenseTotal.WithLabelValues("single", "duplicate").Inc()
			return nil, ErrDuplicateRequest
		}
	}

	var updated *StockItem
	err := versioned.Retry(ctx, func(ctx context.Context) error {
		item, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if item.QuantityInStock < quantity {
			return &InsufficientStockError{
				ItemID:    item.ID,
				ItemName:  item.Name,
				Requested: quantity,
				InStock:   item.QuantityInStock,
			}
		}
		rec := DispenseRecord{
			Quantity:          quantity,
			DispensedAt:       time.Now().UTC(),
			DispensedBy:       actor,
			Source:            SourceManual,
			RecipientName:     recipient,
			LinkedAppointment: appointmentID,
		}
		updated, err = s.repo.ApplyDeduction(ctx, item.ID, item.Version, item.QuantityInStock-quantity, rec)
		return err
	})
	if err != nil {
		metrics.DispenseTotal.WithLabelValues("single", outcomeLabel(err)).Inc()
		return nil, err
	}

	metrics.DispenseTotal.WithLabelValues("single", "success").Inc()
	s.logger.Info().
		Str("item_id", updated.ID.String()).
		Str("item_name", updated.Name).
		Int("quantity", quantity).
		Int("remaining", updated.QuantityInStock).
		Msg("stock dispensed")
	s.publishAfterDeduction(updated)
	return updated, nil
}

// DispenseBatch deducts every prescription entry in one transaction: all
// deductions commit together or none do. Items are read under row write
// locks, so batch entries do not race each other or single dispenses on the
// same rows. Unknown medicine references are skipped and logged rather than
// failing the prescription; an insufficient entry aborts the whole batch.
func (s *Service) DispenseBatch(ctx context.Context, req PrescriptionRequest, actor *string) ([]*StockItem, error) {
	if len(req) == 0 {
		metrics.DispenseTotal.WithLabelValues("batch", "invalid_request").Inc()
		return nil, fmt.Errorf("%w: prescription must contain at least one entry", ErrInvalidRequest)
	}
	for i, entry := range req {
		if entry.Quantity <= 0 {
			metrics.DispenseTotal.WithLabelValues("batch", "invalid_request").Inc()
			return nil, fmt.Errorf("%w: entry %d: quantity must be greater than 0", ErrInvalidRequest, i)
		}
	}

	var updated []*StockItem
	err := s.repo.InTx(ctx, func(ctx context.Context) error {
		for _, entry := range req {
			item, err := s.repo.GetForUpdate(ctx, entry.MedicineID)
			if errors.Is(err, ErrNotFound) {
				s.logger.Warn().
					Str("medicine_id", entry.MedicineID.String()).
					Msg("prescription references unknown stock item, skipping")
				continue
			}
			if err != nil {
				return err
			}
			if item.QuantityInStock < entry.Quantity {
				return &InsufficientStockError{
					ItemID:    item.ID,
					ItemName:  item.Name,
					Requested: entry.Quantity,
					InStock:   item.QuantityInStock,
				}
			}

			var recipient string
			if entry.AppointmentID != nil {
				recipient, err = s.repo.ResolveRecipient(ctx, *entry.AppointmentID)
				if err != nil {
					return err
				}
			}
			rec := DispenseRecord{
				Quantity:          entry.Quantity,
				DispensedAt:       time.Now().UTC(),
				DispensedBy:       actor,
				Source:            SourceConsultation,
				RecipientName:     recipient,
				LinkedAppointment: entry.AppointmentID,
			}
			// The row lock held since GetForUpdate makes the version
			// match certain; a conflict here would mean a write path
			// bypassed the lock.
			after, err := s.repo.ApplyDeduction(ctx, item.ID, item.Version, item.QuantityInStock-entry.Quantity, rec)
			if err != nil {
				return err
			}
			updated = append(updated, after)
		}
		return nil
	})
	if err != nil {
		metrics.DispenseTotal.WithLabelValues("batch", outcomeLabel(err)).Inc()
		return nil, err
	}

	metrics.DispenseTotal.WithLabelValues("batch", "success").Inc()
	s.logger.Info().Int("entries", len(req)).Int("applied", len(updated)).Msg("prescription dispensed")
	for _, item := range updated {
		s.publishAfterDeduction(item)
	}
	return updated, nil
}

// Restock adds quantity to the stock line matching name and expiry calendar
// day, creating the line when none exists. The merge write is conditional on
// the observed version, so concurrent deliveries of the same line both land.
// Two racing first deliveries collide on the unique (name, expiry day) index;
// the loser's attempt re-runs, finds the winner's line and merges into it.
func (s *Service) Restock(ctx context.Context, name, unit string, expiry time.Time, quantity int) (*StockItem, error) {
	if name == "" {
		metrics.RestockTotal.WithLabelValues("invalid_request").Inc()
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	if quantity <= 0 {
		metrics.RestockTotal.WithLabelValues("invalid_request").Inc()
		return nil, fmt.Errorf("%w: quantity must be greater than 0", ErrInvalidRequest)
	}

	var result *StockItem
	err := versioned.Retry(ctx, func(ctx context.Context) error {
		item, err := s.repo.FindByNameAndExpiryDay(ctx, name, expiry)
		if errors.Is(err, ErrNotFound) {
			item = &StockItem{
				Name:            name,
				Unit:            unit,
				ExpiryDate:      expiry,
				QuantityInStock: quantity,
			}
			if err := s.repo.Create(ctx, item); err != nil {
				return err
			}
			result = item
			return nil
		}
		if err != nil {
			return err
		}
		result, err = s.repo.ApplyRestock(ctx, item.ID, item.Version, item.QuantityInStock+quantity)
		return err
	})
	if err != nil {
		metrics.RestockTotal.WithLabelValues(outcomeLabel(err)).Inc()
		return nil, err
	}

	metrics.RestockTotal.WithLabelValues("success").Inc()
	s.logger.Info().
		Str("item_id", result.ID.String()).
		Str("item_name", result.Name).
		Int("added", quantity).
		Int("quantity_in_stock", result.QuantityInStock).
		Msg("stock restocked")
	if s.bus != nil {
		s.bus.Publish(events.StockEvent{
			Kind:            events.KindRestocked,
			ItemID:          result.ID,
			ItemName:        result.Name,
			QuantityInStock: result.QuantityInStock,
			Available:       result.Available,
		})
	}
	return result, nil
}

func (s *Service) publishAfterDeduction(item *StockItem) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.StockEvent{
		Kind:            events.KindDispensed,
		ItemID:          item.ID,
		ItemName:        item.Name,
		QuantityInStock: item.QuantityInStock,
		Available:       item.Available,
	})
	if item.QuantityInStock == 0 {
		s.bus.Publish(events.StockEvent{
			Kind:     events.KindOutOfStock,
			ItemID:   item.ID,
			ItemName: item.Name,
		})
	} else if s.lowThreshold > 0 && item.QuantityInStock <= s.lowThreshold {
		s.bus.Publish(events.StockEvent{
			Kind:            events.KindLowStock,
			ItemID:          item.ID,
			ItemName:        item.Name,
			QuantityInStock: item.QuantityInStock,
			Available:       item.Available,
		})
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, versioned.ErrConflict):
		return "version_conflict"
	case errors.Is(err, ErrDuplicateRequest):
		return "duplicate"
	default:
		return "error"
	}
}
