package upload

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveAndDiscard(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	store, err := NewStore(dir)
	require.NoError(t, err)

	first, err := store.Save(strings.NewReader("image bytes"), "../../etc/Cat.PNG")
	require.NoError(t, err)
	second, err := store.Save(strings.NewReader("other bytes"), "cat.png")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.True(t, strings.HasPrefix(first, URLPrefix))
	assert.Equal(t, ".png", path.Ext(first))

	data, err := os.ReadFile(filepath.Join(dir, path.Base(first)))
	require.NoError(t, err)
	assert.Equal(t, "image bytes", string(data))

	require.NoError(t, store.Discard(first))
	_, err = os.Stat(filepath.Join(dir, path.Base(first)))
	assert.ErrorIs(t, err, os.ErrNotExist)

	assert.Error(t, store.Discard(filepath.Join(t.TempDir(), "elsewhere.png")))
	assert.Error(t, store.Discard(URLPrefix+"../"+path.Base(second)))
	_, err = os.Stat(filepath.Join(dir, path.Base(second)))
	assert.NoError(t, err)
}

func TestStore_Handler(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ref, err := store.Save(strings.NewReader("image bytes"), "cat.png")
	require.NoError(t, err)

	server := httptest.NewServer(store.Handler())
	defer server.Close()

	testCases := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{name: "stored file", path: ref, wantStatus: http.StatusOK, wantBody: "image bytes"},
		{name: "unknown file", path: URLPrefix + "missing.png", wantStatus: http.StatusNotFound},
		{name: "directory listing", path: URLPrefix, wantStatus: http.StatusNotFound},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Get(server.URL + tc.path)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tc.wantStatus, resp.StatusCode)
			if tc.wantBody != "" {
				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)
				assert.Equal(t, tc.wantBody, string(body))
			}
		})
	}
}
