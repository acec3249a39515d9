package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps objects on the local filesystem, for development.
type LocalStore struct {
	baseDir   string // e.g. "./uploads"
	urlPrefix string // e.g. "/uploads"
}

// NewLocalStore creates a LocalStore rooted at baseDir and served under urlPrefix.
func NewLocalStore(baseDir, urlPrefix string) *LocalStore {
	return &LocalStore{baseDir: baseDir, urlPrefix: strings.TrimRight(urlPrefix, "/")}
}

var _ Store = (*LocalStore)(nil)

func (s *LocalStore) Upload(_ context.Context, bucket, path, _ string, data []byte) error {
	dest := filepath.Join(s.baseDir, bucket, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("storage: object %s/%s already exists", bucket, path)
		}
		return fmt.Errorf("storage: create: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("storage: write: %w", err)
	}
	return nil
}

func (s *LocalStore) PublicURL(bucket, path string) string {
	return s.urlPrefix + "/" + bucket + "/" + path
}
