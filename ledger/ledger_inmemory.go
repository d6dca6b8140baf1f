package ledger

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	key       string
	createdAt time.Time
}

// InMemoryLedger is a thread-safe in-memory implementation of the Ledger
// interface for tests.
type InMemoryLedger struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry

	// NowTime is injectable for purge tests.
	NowTime func() time.Time
}

var _ Ledger = (*InMemoryLedger)(nil)

func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{
		entries: make(map[string]memoryEntry),
		NowTime: time.Now,
	}
}

func (l *InMemoryLedger) Get(_ context.Context, transactionID string) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entry, ok := l.entries[transactionID]
	if !ok {
		return "", ErrNotFound
	}
	return entry.key, nil
}

func (l *InMemoryLedger) Put(_ context.Context, transactionID, idempotencyKey string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[transactionID] = memoryEntry{key: idempotencyKey, createdAt: l.NowTime()}
	return nil
}

func (l *InMemoryLedger) Delete(_ context.Context, transactionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.entries, transactionID)
	return nil
}

func (l *InMemoryLedger) PurgeOlderThan(_ context.Context, age time.Duration) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.NowTime().Add(-age)
	var removed int64
	for id, entry := range l.entries {
		if entry.createdAt.Before(cutoff) {
			delete(l.entries, id)
			removed++
		}
	}
	return removed, nil
}
