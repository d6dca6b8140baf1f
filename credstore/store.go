// Package credstore provides durable opaque key-value storage for tokens,
// identity and pending-authorization state. Implementations hold no business
// logic; stored values round-trip byte-identical.
package credstore

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("credential not found")

// Store is the persistence boundary for everything the session layer needs to
// survive a process restart. Keys are stable strings owned by the callers.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// Clear removes every stored entry, the device identity included.
	// This is a factory reset; logout deletes only the keys it owns so
	// the device id survives.
	Clear(ctx context.Context) error
}
