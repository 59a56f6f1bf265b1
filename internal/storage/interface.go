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
	"io"
)

// Backend is the backup destination abstraction shared by the shipper, the
// backup producer and the backup set manager. Implementations must make Write
// atomic: a concurrent reader sees either the previous object or the complete
// new one, never a partial write under the final name. Object stores get this
// from PUT semantics; the filesystem backend uses write-to-temp-then-rename.
type Backend interface {
	// Write stores the data read from reader at the specified path, replacing
	// any existing object atomically.
	Write(ctx context.Context, path string, reader io.Reader) error

	// Read returns a reader for the object at the specified path.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the object at the specified path. Deleting a missing
	// object is not an error.
	Delete(ctx context.Context, path string) error

	// Exists checks whether an object exists at the specified path.
	Exists(ctx context.Context, path string) (bool, error)

	// List lists objects whose path starts with the given prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// GetSize returns the size of the object at the specified path.
	GetSize(ctx context.Context, path string) (int64, error)

	// Close releases backend resources.
	Close() error
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	// Path is the object path relative to the destination root.
	Path string

	// Size is the size in bytes.
	Size int64

	// LastModified is the last modification time as Unix timestamp.
	LastModified int64
}
