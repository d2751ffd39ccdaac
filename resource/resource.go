// Package resource provides blob storage addressed by service-template or
// service-instance id. Entries live in one of two buckets: blueprint
// (template-scoped) and deployment (instance-scoped). Lookups that should
// fall through from deployment to blueprint use ErrNotFound as the signal.
package resource

import (
	"context"
	"errors"
	"fmt"
)

// Bucket names the two resource scopes.
type Bucket string

const (
	BucketBlueprint  Bucket = "blueprint"
	BucketDeployment Bucket = "deployment"
)

// ErrNotFound is returned when a resource path does not exist.
var ErrNotFound = errors.New("resource not found")

// Store reads and writes resources under bucket/entry/path.
type Store interface {
	// Read returns the resource content.
	Read(ctx context.Context, bucket Bucket, entryID, path string) ([]byte, error)

	// Download copies the resource to a local destination file.
	Download(ctx context.Context, bucket Bucket, entryID, path, destination string) error

	// Write stores content at bucket/entry/path, replacing any previous
	// content.
	Write(ctx context.Context, bucket Bucket, entryID, path string, content []byte) error
}

// ReadWithFallback reads from the deployment bucket first and falls back to
// the blueprint bucket when the deployment copy does not exist.
func ReadWithFallback(ctx context.Context, store Store, instanceID, templateID, path string) ([]byte, error) {
	content, err := store.Read(ctx, BucketDeployment, instanceID, path)
	if err == nil {
		return content, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	content, err = store.Read(ctx, BucketBlueprint, templateID, path)
	if err != nil {
		return nil, fmt.Errorf("read %s (after deployment fallback): %w", path, err)
	}
	return content, nil
}
