// Package events carries stock-change notifications from the inventory core
// to interested collaborators (alerting, reporting) without any process-wide
// shared state: the bus is constructed in main and injected where needed.
package events

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Kind identifies the stock transition an event describes.
type Kind string

const (
	KindDispensed  Kind = "dispensed"
	KindRestocked  Kind = "restocked"
	KindLowStock   Kind = "low_stock"
	KindOutOfStock Kind = "out_of_stock"
)

// StockEvent is published after a stock mutation has committed. It is a
// post-commit announcement only; subscribers cannot veto or roll back.
type StockEvent struct {
	Kind            Kind
	ItemID          uuid.UUID
	ItemName        string
	QuantityInStock int
	Available       bool
}

// Handler receives published stock events.
type Handler func(StockEvent)

// Bus is a synchronous fan-out of stock events to registered handlers.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	logger   zerolog.Logger
}

func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{logger: logger}
}

// Subscribe registers a handler. Handlers must be fast; slow consumers
// should hand off to their own queue.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish delivers the event to every handler. A panicking handler is
// logged and does not prevent delivery to the rest.
func (b *Bus) Publish(e StockEvent) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error().
						Str("item_id", e.ItemID.String()).
						Str("kind", string(e.Kind)).
						Interface("panic", r).
						Msg("stock event handler panicked")
				}
			}()
			h(e)
		}()
	}
}
