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
	"fmt"

	"github.com/pgpitr/internal/config"
)

// NewBackend creates a storage backend for the configured destination.
func NewBackend(ctx context.Context, dest *config.DestinationConfig) (Backend, error) {
	if dest == nil {
		return nil, fmt.Errorf("destination configuration is required")
	}

	switch dest.Type {
	case config.DestinationFilesystem:
		if dest.Filesystem == nil {
			return nil, fmt.Errorf("filesystem configuration is required for filesystem destination")
		}
		return NewFilesystemBackend(dest.Filesystem)

	case config.DestinationS3:
		if dest.S3 == nil {
			return nil, fmt.Errorf("S3 configuration is required for S3 destination")
		}
		return NewS3Backend(ctx, dest.S3)

	case config.DestinationGCS:
		if dest.GCS == nil {
			return nil, fmt.Errorf("GCS configuration is required for GCS destination")
		}
		return NewGCSBackend(ctx, dest.GCS)

	case config.DestinationAzure:
		if dest.Azure == nil {
			return nil, fmt.Errorf("Azure configuration is required for Azure destination")
		}
		return NewAzureBackend(ctx, dest.Azure)

	default:
		return nil, fmt.Errorf("unsupported destination type: %s", dest.Type)
	}
}
