// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/google/uuid"
)

// AzureConfig configures an Azure Blob Storage backend.
type AzureConfig struct {
	// ServiceURL is the account or container blob endpoint, e.g.
	// "https://<account>.blob.core.windows.net/".
	ServiceURL string
	Container  string
	Prefix     string

	// AccountName/AccountKey enable shared-key auth; when empty the
	// client is built without credentials, so access relies on the
	// container allowing anonymous access or on a SAS token in ServiceURL.
	AccountName string
	AccountKey  string
}

// Azure is an objectstore.Transport backed by an Azure Blob Storage
// container.
type Azure struct {
	client    *azblob.Client
	container string
	prefix    string
}

// NewAzure builds an Azure backend from cfg.
func NewAzure(cfg AzureConfig) (*Azure, error) {
	var client *azblob.Client
	var err error

	if cfg.AccountName != "" && cfg.AccountKey != "" {
		cred, credErr := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if credErr != nil {
			return nil, fmt.Errorf("objectstore: azure shared key credential: %w", credErr)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(cfg.ServiceURL, cred, nil)
	} else {
		client, err = azblob.NewClientWithNoCredential(cfg.ServiceURL, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("objectstore: azure client: %w", err)
	}

	return &Azure{client: client, container: cfg.Container, prefix: cfg.Prefix}, nil
}

func (a *Azure) blobName() Key {
	return Key(a.prefix + uuid.New().String())
}

// Upload uploads archive's content as a block blob under a fresh name.
func (a *Azure) Upload(ctx context.Context, archive io.Reader) (Key, error) {
	key := a.blobName()
	_, err := a.client.UploadStream(ctx, a.container, string(key), archive, &azblob.UploadStreamOptions{})
	if err != nil {
		return "", fmt.Errorf("objectstore: azure upload %q: %w", key, err)
	}
	return key, nil
}

// Download fetches the blob stored under key.
func (a *Azure) Download(ctx context.Context, key Key) (io.ReadCloser, error) {
	resp, err := a.client.DownloadStream(ctx, a.container, string(key), nil)
	if err != nil {
		return nil, fmt.Errorf("objectstore: azure download %q: %w", key, err)
	}
	return resp.Body, nil
}

// Delete removes the blob stored under key.
func (a *Azure) Delete(ctx context.Context, key Key) error {
	_, err := a.client.DeleteBlob(ctx, a.container, string(key), nil)
	if err != nil {
		return fmt.Errorf("objectstore: azure delete %q: %w", key, err)
	}
	return nil
}
