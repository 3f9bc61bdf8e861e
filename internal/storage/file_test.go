package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileStorage(t *testing.T) (*FileStorage, string) {
	dir := t.TempDir()
	fs, err := NewFileStorage(dir, logger.Nop())
	require.NoError(t, err)
	return fs, dir
}

func TestFileStorage_LoadAbsent(t *testing.T) {
	fs, _ := newTestFileStorage(t)

	_, err := fs.LoadSnapshot(context.Background(), KindAccounts)
	assert.ErrorIs(t, err, ErrAbsent)
}

func TestFileStorage_SaveThenLoad(t *testing.T) {
	fs, dir := newTestFileStorage(t)
	ctx := context.Background()

	require.NoError(t, fs.SaveSnapshot(ctx, KindAccounts, []byte(`{"accounts":{"alice":100}}`)))
	require.NoError(t, fs.SaveSnapshot(ctx, KindAccounts, []byte(`{"accounts": {"alice": 70, "bob": 30}}`)))

	data, err := fs.LoadSnapshot(ctx, KindAccounts)
	require.NoError(t, err)
	assert.JSONEq(t, `{"accounts":{"alice":70,"bob":30}}`, string(data))

	// Kinds are independent.
	_, err = fs.LoadSnapshot(ctx, KindItems)
	assert.ErrorIs(t, err, ErrAbsent)

	// No temp files survive a successful save.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "accounts.json", entries[0].Name())
}

func TestFileStorage_DirSyncFailureAfterRenameIsCommitted(t *testing.T) {
	fs, _ := newTestFileStorage(t)
	ctx := context.Background()

	require.NoError(t, fs.SaveSnapshot(ctx, KindAccounts, []byte(`{"accounts":{"alice":100}}`)))

	original := syncDir
	syncDir = func(string) error { return errors.New("input/output error") }
	t.Cleanup(func() { syncDir = original })

	require.NoError(t, fs.SaveSnapshot(ctx, KindAccounts, []byte(`{"accounts":{"alice":70}}`)))

	data, err := fs.LoadSnapshot(ctx, KindAccounts)
	require.NoError(t, err)
	assert.JSONEq(t, `{"accounts":{"alice":70}}`, string(data))
}

func TestWriteContext(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	writeCtx, release := WriteContext(parent)
	defer release()

	cancel()
	assert.NoError(t, writeCtx.Err())
	deadline, ok := writeCtx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(WriteTimeout), deadline, time.Second)
}

func TestFileStorage_PreservesHTMLCharacters(t *testing.T) {
	fs, _ := newTestFileStorage(t)
	ctx := context.Background()

	require.NoError(t, fs.SaveSnapshot(ctx, KindItems, []byte(`{"name":"<b>mug</b> & tea"}`)))

	data, err := fs.LoadSnapshot(ctx, KindItems)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"<b>mug</b> & tea"}`, string(data))
}

func TestFileStorage_RejectsInvalidJSON(t *testing.T) {
	fs, _ := newTestFileStorage(t)

	err := fs.SaveSnapshot(context.Background(), KindAccounts, []byte(`{"accounts":`))
	assert.ErrorIs(t, err, models.ErrIOFailure)
}

func TestFileStorage_DetectsCorruption(t *testing.T) {
	testCases := []struct {
		name    string
		corrupt func(t *testing.T, path string)
	}{
		{
			name: "truncated file",
			corrupt: func(t *testing.T, path string) {
				raw, err := os.ReadFile(path)
				require.NoError(t, err)
				require.NoError(t, os.WriteFile(path, raw[:len(raw)/2], 0o600))
			},
		},
		{
			name: "tampered data",
			corrupt: func(t *testing.T, path string) {
				raw, err := os.ReadFile(path)
				require.NoError(t, err)
				tampered := strings.Replace(string(raw), `"alice":77`, `"alice":99`, 1)
				require.NotEqual(t, string(raw), tampered)
				require.NoError(t, os.WriteFile(path, []byte(tampered), 0o600))
			},
		},
		{
			name: "garbage",
			corrupt: func(t *testing.T, path string) {
				require.NoError(t, os.WriteFile(path, []byte("not json at all"), 0o600))
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fs, dir := newTestFileStorage(t)
			ctx := context.Background()
			require.NoError(t, fs.SaveSnapshot(ctx, KindAccounts, []byte(`{"accounts":{"alice":77}}`)))

			tc.corrupt(t, filepath.Join(dir, "accounts.json"))

			_, err := fs.LoadSnapshot(ctx, KindAccounts)
			assert.ErrorIs(t, err, models.ErrIOCorrupt)
		})
	}
}

func TestFileStorage_WrongKind(t *testing.T) {
	fs, dir := newTestFileStorage(t)
	ctx := context.Background()
	require.NoError(t, fs.SaveSnapshot(ctx, KindAccounts, []byte(`{}`)))

	raw, err := os.ReadFile(filepath.Join(dir, "accounts.json"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "items.json"), raw, 0o600))

	_, err = fs.LoadSnapshot(ctx, KindItems)
	assert.ErrorIs(t, err, models.ErrIOCorrupt)
}

func TestFileStorage_IgnoresLeftoverTempFiles(t *testing.T) {
	fs, dir := newTestFileStorage(t)
	ctx := context.Background()
	require.NoError(t, fs.SaveSnapshot(ctx, KindItems, []byte(`{"last_id":1}`)))

	// A crash between write and rename leaves a temp file behind.
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".items-123.tmp"), []byte(`{"last_id":`), 0o600))

	data, err := fs.LoadSnapshot(ctx, KindItems)
	require.NoError(t, err)
	assert.JSONEq(t, `{"last_id":1}`, string(data))
}
