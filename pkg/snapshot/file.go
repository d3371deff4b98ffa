package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileStore keeps snapshots as files under a base directory.
type FileStore struct {
	baseDir string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("snapshot dir is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &StoreError{Op: "Open", Backend: BackendFile, Key: dir, Err: err}
	}
	return &FileStore{baseDir: filepath.Clean(dir)}, nil
}

// Dir returns the base directory.
func (s *FileStore) Dir() string { return s.baseDir }

func (s *FileStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(key, "/")))
	if clean == "." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(s.baseDir, clean), nil
}

// Put writes body atomically (temp file + rename).
func (s *FileStore) Put(ctx context.Context, key string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(key)
	if err != nil {
		return &StoreError{Op: "Put", Backend: BackendFile, Key: key, Err: err}
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return s.wrapError("Put", key, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(p)+".tmp.*")
	if err != nil {
		return s.wrapError("Put", key, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		return s.wrapError("Put", key, err)
	}
	if err := tmp.Close(); err != nil {
		return s.wrapError("Put", key, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		return s.wrapError("Put", key, err)
	}
	return nil
}

// Get reads a snapshot.
func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(key)
	if err != nil {
		return nil, &StoreError{Op: "Get", Backend: BackendFile, Key: key, Err: err}
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, s.wrapError("Get", key, err)
	}
	return b, nil
}

// List returns keys under prefix, sorted. Temp files are skipped.
func (s *FileStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.baseDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.Contains(d.Name(), ".tmp.") {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, s.wrapError("List", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) wrapError(op, key string, err error) error {
	wrapped := &StoreError{Op: op, Backend: BackendFile, Key: key, Err: err}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		wrapped.Err = ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		wrapped.Err = ErrAccessDenied
	}
	return wrapped
}
