package credentials

import (
	"context"
	"errors"
	"testing"

	"marketplace/internal/models"
	"marketplace/internal/pkg/logger"
	"marketplace/internal/storage"
	"marketplace/internal/storage/mocks"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndVerify(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.NewFileStorage(dir, logger.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	registry, err := New(ctx, db, logger.Nop())
	require.NoError(t, err)
	assert.False(t, registry.Exists("alice"))

	require.NoError(t, registry.Register(ctx, "alice", "secret"))
	assert.True(t, registry.Exists("alice"))
	assert.NoError(t, registry.Verify("alice", "secret"))
	assert.ErrorIs(t, registry.Verify("alice", "wrong"), ErrMismatchedPassword)
	assert.ErrorIs(t, registry.Verify("bob", "secret"), models.ErrNotFound)

	assert.ErrorIs(t, registry.Register(ctx, "alice", "other"), models.ErrAlreadyExists)
	assert.ErrorIs(t, registry.Register(ctx, " ", "other"), models.ErrInvalidInput)
	assert.ErrorIs(t, registry.Register(ctx, "bob", ""), models.ErrInvalidInput)

	restarted, err := New(ctx, db, logger.Nop())
	require.NoError(t, err)
	assert.NoError(t, restarted.Verify("alice", "secret"))
}

func TestRegistry_PersistenceFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockDB := mocks.NewMockStorage(ctrl)
	mockDB.EXPECT().LoadSnapshot(gomock.Any(), storage.KindCredentials).Return(nil, storage.ErrAbsent)
	mockDB.EXPECT().SaveSnapshot(gomock.Any(), storage.KindCredentials, gomock.Any()).Return(errors.New("disk full"))

	registry, err := New(context.Background(), mockDB, logger.Nop())
	require.NoError(t, err)

	err = registry.Register(context.Background(), "alice", "secret")
	assert.ErrorIs(t, err, models.ErrIOFailure)
	assert.False(t, registry.Exists("alice"))
}

func TestRegistry_RefusesCorruptSnapshot(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockDB := mocks.NewMockStorage(ctrl)
	mockDB.EXPECT().LoadSnapshot(gomock.Any(), storage.KindCredentials).Return([]byte(`["alice"]`), nil)

	_, err := New(context.Background(), mockDB, logger.Nop())
	assert.ErrorIs(t, err, models.ErrIOCorrupt)
}
