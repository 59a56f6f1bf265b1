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
	"io"
	"path"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/pgpitr/internal/config"
)

// AzureBackend implements Backend for Azure Blob Storage
type AzureBackend struct {
	client        *azblob.Client
	containerName string
	prefix        string
}

// NewAzureBackend creates a new Azure Blob storage backend using shared key
// credentials from the agent configuration.
func NewAzureBackend(ctx context.Context, azureConfig *config.AzureConfig) (*AzureBackend, error) {
	if azureConfig.Container == "" {
		return nil, fmt.Errorf("Azure container name is required")
	}
	if azureConfig.StorageAccount == "" {
		return nil, fmt.Errorf("Azure storage account is required")
	}
	if azureConfig.AccountKey == "" {
		return nil, fmt.Errorf("Azure account key is required")
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", azureConfig.StorageAccount)

	cred, err := azblob.NewSharedKeyCredential(azureConfig.StorageAccount, azureConfig.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	return &AzureBackend{
		client:        client,
		containerName: azureConfig.Container,
		prefix:        strings.Trim(azureConfig.Prefix, "/"),
	}, nil
}

// buildKey creates the full blob name including prefix
func (b *AzureBackend) buildKey(objectPath string) string {
	if b.prefix == "" {
		return objectPath
	}
	return path.Join(b.prefix, objectPath)
}

// Write writes data to Azure Blob Storage at the specified path. Blob commit
// is atomic; readers never see a partially uploaded blob.
func (b *AzureBackend) Write(ctx context.Context, objectPath string, reader io.Reader) error {
	_, err := b.client.UploadStream(ctx, b.containerName, b.buildKey(objectPath), reader, nil)
	if err != nil {
		return fmt.Errorf("failed to upload to Azure: %w", err)
	}
	return nil
}

// Read reads data from Azure Blob Storage at the specified path
func (b *AzureBackend) Read(ctx context.Context, objectPath string) (io.ReadCloser, error) {
	resp, err := b.client.DownloadStream(ctx, b.containerName, b.buildKey(objectPath), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download from Azure: %w", err)
	}
	return resp.Body, nil
}

// Delete deletes the blob at the specified path
func (b *AzureBackend) Delete(ctx context.Context, objectPath string) error {
	_, err := b.client.DeleteBlob(ctx, b.containerName, b.buildKey(objectPath), nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete Azure blob: %w", err)
	}
	return nil
}

// Exists checks if a blob exists at the specified path
func (b *AzureBackend) Exists(ctx context.Context, objectPath string) (bool, error) {
	blobClient := b.client.ServiceClient().
		NewContainerClient(b.containerName).
		NewBlobClient(b.buildKey(objectPath))

	_, err := blobClient.GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check blob existence: %w", err)
	}
	return true, nil
}

// List lists blobs with the specified prefix
func (b *AzureBackend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	fullPrefix := b.buildKey(prefix)

	pager := b.client.NewListBlobsFlatPager(b.containerName, &container.ListBlobsFlatOptions{
		Prefix: &fullPrefix,
	})

	var objects []ObjectInfo
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list blobs: %w", err)
		}

		for _, item := range page.Segment.BlobItems {
			relativePath := *item.Name
			if b.prefix != "" {
				relativePath = strings.TrimPrefix(relativePath, b.prefix+"/")
			}
			info := ObjectInfo{Path: relativePath}
			if item.Properties != nil {
				if item.Properties.ContentLength != nil {
					info.Size = *item.Properties.ContentLength
				}
				if item.Properties.LastModified != nil {
					info.LastModified = item.Properties.LastModified.Unix()
				}
			}
			objects = append(objects, info)
		}
	}
	return objects, nil
}

// GetSize returns the size of the blob at the specified path
func (b *AzureBackend) GetSize(ctx context.Context, objectPath string) (int64, error) {
	blobClient := b.client.ServiceClient().
		NewContainerClient(b.containerName).
		NewBlobClient(b.buildKey(objectPath))

	props, err := blobClient.GetProperties(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get blob metadata: %w", err)
	}
	if props.ContentLength == nil {
		return 0, fmt.Errorf("blob %s has no content length", objectPath)
	}
	return *props.ContentLength, nil
}

// Close closes the Azure backend (no-op)
func (b *AzureBackend) Close() error {
	return nil
}
