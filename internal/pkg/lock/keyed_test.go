package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"marketplace/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyed_ExcludesSameKey(t *testing.T) {
	k := NewKeyed(time.Second)
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := k.Acquire(ctx, "alice")
			require.NoError(t, err)
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Empty(t, k.entries, "entries are dropped once released")
}

func TestKeyed_TimesOutAsBusy(t *testing.T) {
	k := NewKeyed(20 * time.Millisecond)
	ctx := context.Background()

	release, err := k.Acquire(ctx, "bob")
	require.NoError(t, err)
	defer release()

	_, err = k.Acquire(ctx, "bob", "alice")
	assert.ErrorIs(t, err, models.ErrBusy)

	// alice was taken before bob timed out and must have been given back.
	releaseAlice, err := k.Acquire(ctx, "alice")
	require.NoError(t, err)
	releaseAlice()
}

func TestKeyed_CancelledContext(t *testing.T) {
	k := NewKeyed(time.Second)

	release, err := k.Acquire(context.Background(), "alice")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = k.Acquire(ctx, "alice")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKeyed_OppositeOrderDoesNotDeadlock(t *testing.T) {
	k := NewKeyed(time.Second)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			release, err := k.Acquire(ctx, "alice", "bob")
			require.NoError(t, err)
			release()
		}()
		go func() {
			defer wg.Done()
			release, err := k.Acquire(ctx, "bob", "alice")
			require.NoError(t, err)
			release()
		}()
	}
	wg.Wait()
}

func TestKeyed_DuplicateKeysAndDoubleRelease(t *testing.T) {
	k := NewKeyed(50 * time.Millisecond)
	ctx := context.Background()

	release, err := k.Acquire(ctx, "alice", "alice")
	require.NoError(t, err)
	release()
	release()

	release, err = k.Acquire(ctx, "alice")
	require.NoError(t, err)
	release()
}
