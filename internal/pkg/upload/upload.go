// Package upload stores item images received by the HTTP layer, returns
// the content reference the catalog records, and serves the stored files
// under that reference.
package upload

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// URLPrefix is the path under which stored uploads are served. Every content
// reference returned by Save starts with it.
const URLPrefix = "/uploads/"

// Store writes uploads into one directory.
type Store struct {
	dir string
}

// NewStore creates dir if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("upload: create dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save copies r into a new file named after a fresh uuid, keeping the
// extension of originalName, and returns its content reference
// URLPrefix + name.
func (store *Store) Save(r io.Reader, originalName string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	name := uuid.NewString() + ext
	path := filepath.Join(store.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("upload: create file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("upload: write file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("upload: close file: %w", err)
	}
	return URLPrefix + name, nil
}

// Discard removes a stored upload whose item was never created.
func (store *Store) Discard(ref string) error {
	name, ok := fileName(ref)
	if !ok {
		return fmt.Errorf("upload: %q is not a stored upload", ref)
	}
	return os.Remove(filepath.Join(store.dir, name))
}

// Handler serves stored uploads by their content reference. Directory
// listings are not served.
func (store *Store) Handler() http.Handler {
	files := http.StripPrefix(URLPrefix, http.FileServer(http.Dir(store.dir)))
	return http.HandlerFunc(func(res http.ResponseWriter, req *http.Request) {
		if _, ok := fileName(req.URL.Path); !ok {
			http.NotFound(res, req)
			return
		}
		files.ServeHTTP(res, req)
	})
}

// fileName extracts the file name from a content reference.
func fileName(ref string) (string, bool) {
	name, found := strings.CutPrefix(ref, URLPrefix)
	if !found || name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", false
	}
	return name, true
}
