package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
)

// MediaURLPrefix is the HTTP path LocalStore files are served under.
const MediaURLPrefix = "/media/"

// LocalStore keeps media on the local filesystem, served by the API.
type LocalStore struct {
	dir    string
	prefix string
}

// NewLocalStore creates a local filesystem media store rooted at dir.
func NewLocalStore(dir, prefix string) *LocalStore {
	return &LocalStore{dir: dir, prefix: prefix}
}

func (s *LocalStore) Upload(ctx context.Context, key, localPath, contentType string) (string, error) {
	rel := path.Join(s.prefix, key)
	dest := filepath.Join(s.dir, filepath.FromSlash(rel))
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	// Atomic write: temp file + rename
	tmp, err := os.CreateTemp(dir, ".media-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename: %w", err)
	}
	return MediaURLPrefix + rel, nil
}

func (s *LocalStore) Type() string { return "local" }

// Dir returns the media root directory.
func (s *LocalStore) Dir() string { return s.dir }
