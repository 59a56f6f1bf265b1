/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/pgpitr/internal/config"
)

// GCSBackend implements Backend for Google Cloud Storage
type GCSBackend struct {
	client *gcs.Client
	bucket string
	prefix string
}

// NewGCSBackend creates a new GCS storage backend. An empty credentials file
// falls back to application default credentials.
func NewGCSBackend(ctx context.Context, gcsConfig *config.GCSConfig) (*GCSBackend, error) {
	if gcsConfig.Bucket == "" {
		return nil, fmt.Errorf("GCS bucket name is required")
	}

	var opts []option.ClientOption
	if gcsConfig.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(gcsConfig.CredentialsFile))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSBackend{
		client: client,
		bucket: gcsConfig.Bucket,
		prefix: strings.Trim(gcsConfig.Prefix, "/"),
	}, nil
}

// buildKey creates the full object name including prefix
func (b *GCSBackend) buildKey(objectPath string) string {
	if b.prefix == "" {
		return objectPath
	}
	return path.Join(b.prefix, objectPath)
}

// Write writes data to GCS at the specified path. The object becomes visible
// only when the writer closes successfully, which gives atomic replacement.
func (b *GCSBackend) Write(ctx context.Context, objectPath string, reader io.Reader) error {
	obj := b.client.Bucket(b.bucket).Object(b.buildKey(objectPath))
	w := obj.NewWriter(ctx)

	if _, err := io.Copy(w, reader); err != nil {
		w.Close()
		return fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize GCS object: %w", err)
	}
	return nil
}

// Read reads data from GCS at the specified path
func (b *GCSBackend) Read(ctx context.Context, objectPath string) (io.ReadCloser, error) {
	r, err := b.client.Bucket(b.bucket).Object(b.buildKey(objectPath)).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read from GCS: %w", err)
	}
	return r, nil
}

// Delete deletes the object at the specified path
func (b *GCSBackend) Delete(ctx context.Context, objectPath string) error {
	err := b.client.Bucket(b.bucket).Object(b.buildKey(objectPath)).Delete(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete GCS object: %w", err)
	}
	return nil
}

// Exists checks if an object exists at the specified path
func (b *GCSBackend) Exists(ctx context.Context, objectPath string) (bool, error) {
	_, err := b.client.Bucket(b.bucket).Object(b.buildKey(objectPath)).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return true, nil
}

// List lists objects with the specified prefix
func (b *GCSBackend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	it := b.client.Bucket(b.bucket).Objects(ctx, &gcs.Query{
		Prefix: b.buildKey(prefix),
	})

	var objects []ObjectInfo
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		relativePath := attrs.Name
		if b.prefix != "" {
			relativePath = strings.TrimPrefix(relativePath, b.prefix+"/")
		}
		objects = append(objects, ObjectInfo{
			Path:         relativePath,
			Size:         attrs.Size,
			LastModified: attrs.Updated.Unix(),
		})
	}
	return objects, nil
}

// GetSize returns the size of the object at the specified path
func (b *GCSBackend) GetSize(ctx context.Context, objectPath string) (int64, error) {
	attrs, err := b.client.Bucket(b.bucket).Object(b.buildKey(objectPath)).Attrs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get object metadata: %w", err)
	}
	return attrs.Size, nil
}

// Close closes the GCS client
func (b *GCSBackend) Close() error {
	return b.client.Close()
}
