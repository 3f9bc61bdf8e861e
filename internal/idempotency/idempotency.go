// Package idempotency remembers the receipts of purchases made with a
// client supplied idempotency key, so a retried purchase returns the first
// outcome instead of charging again.
package idempotency

import (
	"context"
	"sync"
	"time"

	"marketplace/internal/models"
)

// Store maps an idempotency key to the receipt it produced.
type Store interface {
	// Get returns the receipt stored for key, or ok=false.
	Get(ctx context.Context, key string) (receipt *models.Receipt, ok bool, err error)
	// Put records the receipt for key.
	Put(ctx context.Context, key string, receipt *models.Receipt) error
}

// Memory is an in-process Store. Entries expire after a fixed TTL, the
// same way Redis keys do.
type Memory struct {
	mu       sync.Mutex
	ttl      time.Duration
	receipts map[string]entry
	now      func() time.Time
}

type entry struct {
	receipt   models.Receipt
	expiresAt time.Time
}

// NewMemory returns an empty in-memory store whose receipts are kept for
// ttl. A non-positive ttl uses DefaultTTL.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{ttl: ttl, receipts: make(map[string]entry), now: time.Now}
}

// Get returns a copy of the receipt stored for key. Expired entries are
// dropped and reported as absent.
func (m *Memory) Get(ctx context.Context, key string) (*models.Receipt, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.receipts[key]
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.receipts, key)
		return nil, false, nil
	}
	receipt := e.receipt
	return &receipt, true, nil
}

// Put stores the receipt unless a live entry already holds the key; the
// first receipt for a key wins. Expired entries are swept on the way.
func (m *Memory) Put(ctx context.Context, key string, receipt *models.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, e := range m.receipts {
		if !now.Before(e.expiresAt) {
			delete(m.receipts, k)
		}
	}
	if _, taken := m.receipts[key]; taken {
		return nil
	}
	m.receipts[key] = entry{receipt: *receipt, expiresAt: now.Add(m.ttl)}
	return nil
}
