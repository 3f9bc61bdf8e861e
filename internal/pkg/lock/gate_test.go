package lock

import (
	"context"
	"testing"
	"time"

	"marketplace/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_TimesOutAsBusy(t *testing.T) {
	g := NewGate(20 * time.Millisecond)
	ctx := context.Background()

	leave, err := g.Enter(ctx)
	require.NoError(t, err)

	start := time.Now()
	_, err = g.Enter(ctx)
	assert.ErrorIs(t, err, models.ErrBusy)
	assert.Less(t, time.Since(start), time.Second)

	leave()
	leave()
	leave, err = g.Enter(ctx)
	require.NoError(t, err)
	leave()
}

func TestGate_CancelledContext(t *testing.T) {
	g := NewGate(time.Second)

	leave, err := g.Enter(context.Background())
	require.NoError(t, err)
	defer leave()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Enter(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
