package blob

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/parcelforge/conveyor/errors"
)

// FileStore is a filesystem-backed object store rooted at a directory.
// It is the single-node deployment backend and the test double for the
// log-capture upload path.
type FileStore struct {
	root string
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("blob store root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create blob root %s", root)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", errors.Newf("invalid blob key: %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *FileStore) Exists(ctx context.Context, key string) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "failed to stat blob %s", key)
	}
	return true, nil
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	body, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(errors.ErrNotFound, "blob %s", key)
		}
		return nil, errors.Wrapf(err, "failed to read blob %s", key)
	}
	return body, nil
}

func (s *FileStore) Put(ctx context.Context, key, contentType string, body []byte) (string, error) {
	p, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create blob directory for %s", key)
	}

	// Write-then-rename so readers never observe a partial artifact
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return "", errors.Wrapf(err, "failed to write blob %s", key)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return "", errors.Wrapf(err, "failed to finalize blob %s", key)
	}

	u := url.URL{Scheme: "file", Path: filepath.ToSlash(p)}
	return u.String(), nil
}
