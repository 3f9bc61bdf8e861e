// Package lock provides per-key mutual exclusion with bounded waits.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"marketplace/internal/models"

	"golang.org/x/sync/semaphore"
)

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// Keyed hands out one binary semaphore per key. Entries are reference
// counted and dropped once no holder or waiter remains.
type Keyed struct {
	mu      sync.Mutex
	entries map[string]*entry
	timeout time.Duration
}

// NewKeyed returns a Keyed whose acquisitions give up after timeout.
func NewKeyed(timeout time.Duration) *Keyed {
	return &Keyed{entries: make(map[string]*entry), timeout: timeout}
}

func (k *Keyed) ref(key string) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		k.entries[key] = e
	}
	e.refs++
	return e
}

func (k *Keyed) unref(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e := k.entries[key]
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
}

// Acquire locks every key in ascending order and returns a function that
// releases them all. Duplicate keys are locked once. If any key cannot be
// locked within the timeout, the keys already held are released and the
// error wraps models.ErrBusy; a cancelled ctx returns ctx.Err().
func (k *Keyed) Acquire(ctx context.Context, keys ...string) (func(), error) {
	sorted := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		sorted = append(sorted, key)
	}
	sort.Strings(sorted)

	waitCtx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	type holding struct {
		key string
		e   *entry
	}
	held := make([]holding, 0, len(sorted))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].e.sem.Release(1)
			k.unref(held[i].key)
		}
	}

	for _, key := range sorted {
		e := k.ref(key)
		if err := e.sem.Acquire(waitCtx, 1); err != nil {
			k.unref(key)
			release()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("lock %q: waited %s: %w", key, k.timeout, models.ErrBusy)
			}
			return nil, err
		}
		held = append(held, holding{key: key, e: e})
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}
