package resource

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
)

// Object store bucket names.
const (
	objBucketBlueprint  = "ARIA_RESOURCES_BLUEPRINT"
	objBucketDeployment = "ARIA_RESOURCES_DEPLOYMENT"
)

// ObjectStore is a Store backed by NATS JetStream object stores, one per
// bucket. Object names are <entry-id>/<path>.
type ObjectStore struct {
	blueprint  jetstream.ObjectStore
	deployment jetstream.ObjectStore
}

// NewObjectStore creates an ObjectStore, creating the buckets if needed.
func NewObjectStore(ctx context.Context, js jetstream.JetStream) (*ObjectStore, error) {
	blueprint, err := getOrCreateObjectBucket(ctx, js, objBucketBlueprint)
	if err != nil {
		return nil, fmt.Errorf("create blueprint bucket: %w", err)
	}
	deployment, err := getOrCreateObjectBucket(ctx, js, objBucketDeployment)
	if err != nil {
		return nil, fmt.Errorf("create deployment bucket: %w", err)
	}
	return &ObjectStore{blueprint: blueprint, deployment: deployment}, nil
}

func getOrCreateObjectBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.ObjectStore, error) {
	obj, err := js.ObjectStore(ctx, name)
	if err == nil {
		return obj, nil
	}
	return js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Aria %s resources", strings.ToLower(name)),
	})
}

// Read implements Store.
func (s *ObjectStore) Read(ctx context.Context, bucket Bucket, entryID, resourcePath string) ([]byte, error) {
	obj, err := s.bucket(bucket)
	if err != nil {
		return nil, err
	}
	content, err := obj.GetBytes(ctx, objectName(entryID, resourcePath))
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s/%s/%s", ErrNotFound, bucket, entryID, resourcePath)
		}
		return nil, fmt.Errorf("get object: %w", err)
	}
	return content, nil
}

// Download implements Store.
func (s *ObjectStore) Download(ctx context.Context, bucket Bucket, entryID, resourcePath, destination string) error {
	obj, err := s.bucket(bucket)
	if err != nil {
		return err
	}
	if err := obj.GetFile(ctx, objectName(entryID, resourcePath), destination); err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return fmt.Errorf("%w: %s/%s/%s", ErrNotFound, bucket, entryID, resourcePath)
		}
		return fmt.Errorf("download object: %w", err)
	}
	return nil
}

// Write implements Store.
func (s *ObjectStore) Write(ctx context.Context, bucket Bucket, entryID, resourcePath string, content []byte) error {
	obj, err := s.bucket(bucket)
	if err != nil {
		return err
	}
	if _, err := obj.PutBytes(ctx, objectName(entryID, resourcePath), content); err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

func (s *ObjectStore) bucket(bucket Bucket) (jetstream.ObjectStore, error) {
	switch bucket {
	case BucketBlueprint:
		return s.blueprint, nil
	case BucketDeployment:
		return s.deployment, nil
	}
	return nil, fmt.Errorf("unknown resource bucket %q", bucket)
}

func objectName(entryID, resourcePath string) string {
	return path.Join(entryID, resourcePath)
}
