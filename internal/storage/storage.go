// internal/storage/storage.go
package storage

import (
	"context"
	"errors"

	"github.com/sonder-map/sonder/pkg/core"
)

// ErrNotFound is returned when an entry does not exist.
var ErrNotFound = errors.New("entry not found")

// ChangeFunc receives change stream deliveries in order.
type ChangeFunc func(core.Change)

// ErrorFunc receives stream-level failures.
type ErrorFunc func(error)

// Unsubscribe stops a subscription. Safe to call more than once.
type Unsubscribe func()

// Querier runs one-shot queries against the entries collection.
type Querier interface {
	Query(ctx context.Context, q Query) ([]core.Entry, error)
}

// Subscriber delivers the current collection as added changes, then every
// later change, on a single goroutine per subscription.
type Subscriber interface {
	Subscribe(ctx context.Context, onChange ChangeFunc, onError ErrorFunc) (Unsubscribe, error)
}

// Writer mutates the entries collection.
type Writer interface {
	// Create stores e and returns its assigned ID. A zero timestamp is
	// replaced by the store's clock.
	Create(ctx context.Context, e core.Entry) (string, error)
	Delete(ctx context.Context, id string) error
	BatchDelete(ctx context.Context, ids []string) error
}

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	Querier
	Subscriber
	Writer
}
