package resource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FSStore is a Store rooted in a local directory. Layout is
// <root>/<bucket>/<entry-id>/<path>.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create resource root: %w", err)
	}
	return &FSStore{root: root}, nil
}

// Read implements Store.
func (s *FSStore) Read(_ context.Context, bucket Bucket, entryID, path string) ([]byte, error) {
	full, err := s.resolve(bucket, entryID, path)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s/%s", ErrNotFound, bucket, entryID, path)
		}
		return nil, fmt.Errorf("read resource: %w", err)
	}
	return content, nil
}

// Download implements Store.
func (s *FSStore) Download(ctx context.Context, bucket Bucket, entryID, path, destination string) error {
	content, err := s.Read(ctx, bucket, entryID, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}
	if err := os.WriteFile(destination, content, 0o644); err != nil {
		return fmt.Errorf("write destination: %w", err)
	}
	return nil
}

// Write implements Store.
func (s *FSStore) Write(_ context.Context, bucket Bucket, entryID, path string, content []byte) error {
	full, err := s.resolve(bucket, entryID, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create resource directory: %w", err)
	}
	if err := os.WriteFile(full, content, 0o644); err != nil {
		return fmt.Errorf("write resource: %w", err)
	}
	return nil
}

// resolve joins the path segments and rejects escapes above the root.
func (s *FSStore) resolve(bucket Bucket, entryID, path string) (string, error) {
	full := filepath.Join(s.root, string(bucket), entryID, filepath.FromSlash(path))
	rel, err := filepath.Rel(s.root, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("resource path %q escapes store root", path)
	}
	return full, nil
}
