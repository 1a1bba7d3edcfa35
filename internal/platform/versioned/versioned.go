// Package versioned provides the optimistic-concurrency primitive shared by
// every record type that carries a version counter. Repositories perform the
// conditional write (UPDATE ... WHERE id = $1 AND version = $2) and report a
// missed match as ErrConflict; Retry re-runs the caller's read-modify-write
// cycle against the now-current record until the attempt budget is spent.
package versioned

import (
	"context"
	"errors"
	"time"
)

// ErrConflict is returned when a conditional write misses its version match,
// i.e. a concurrent writer won the race. Callers receiving it from Retry
// may retry the whole operation; it is a transient failure, distinct from
// a not-found or an insufficiency.
var ErrConflict = errors.New("version conflict")

const (
	// DefaultAttempts is the retry budget for a conditional update cycle.
	DefaultAttempts = 3
	// BackoffBase is multiplied by the attempt number between retries.
	BackoffBase = 100 * time.Millisecond
)

// Resource is implemented by domain models that support versioning.
type Resource interface {
	GetVersionID() int
	SetVersionID(v int)
}

// Retry runs fn up to DefaultAttempts times, retrying only when fn returns
// ErrConflict. Between attempts it sleeps attempt x BackoffBase so that a
// contended record has time to settle. Any other error, and success, return
// immediately. If the budget is exhausted the last ErrConflict is returned.
func Retry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= DefaultAttempts; attempt++ {
		err = fn(ctx)
		if !errors.Is(err, ErrConflict) {
			return err
		}
		if attempt == DefaultAttempts {
			break
		}
		select {
		case <-time.After(time.Duration(attempt) * BackoffBase):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
