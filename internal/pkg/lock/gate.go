package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"marketplace/internal/models"

	"golang.org/x/sync/semaphore"
)

// Gate admits one holder at a time. Waits are bounded the same way as
// Keyed acquisitions.
type Gate struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

// NewGate returns an open Gate whose waits give up after timeout.
func NewGate(timeout time.Duration) *Gate {
	return &Gate{sem: semaphore.NewWeighted(1), timeout: timeout}
}

// Enter waits for the gate and returns the function that leaves it.
// A timeout wraps models.ErrBusy; a cancelled ctx returns ctx.Err().
func (g *Gate) Enter(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.sem.Acquire(waitCtx, 1); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("gate: waited %s: %w", g.timeout, models.ErrBusy)
		}
		return nil, err
	}

	var once sync.Once
	return func() { once.Do(func() { g.sem.Release(1) }) }, nil
}
