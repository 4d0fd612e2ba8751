package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"go.uber.org/zap"

	"github.com/jittakal/kaftimeline/internal/config/dto"
	"github.com/jittakal/kaftimeline/pkg/encoder"
)

// azureUploader uploads blobs into one container.
type azureUploader struct {
	client    *azblob.Client
	container string
}

// azureServiceURL returns the blob service URL for cfg.
func azureServiceURL(cfg dto.AzureConfig) string {
	if cfg.Endpoint != "" {
		return cfg.Endpoint
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
}

// NewAzureWriter creates a writer that uploads to Azure Blob Storage using
// a shared key when one is configured.
func NewAzureWriter(cfg dto.AzureConfig, enc encoder.Encoder, logger *zap.Logger, metrics MetricsCollector) (*ObjectWriter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	serviceURL := azureServiceURL(cfg)

	var (
		client *azblob.Client
		err    error
	)
	if cfg.AccountKey != "" {
		cred, credErr := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if credErr != nil {
			return nil, fmt.Errorf("failed to create Azure credential: %w", credErr)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	} else {
		client, err = azblob.NewClientWithNoCredential(serviceURL, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	logger.Info("Azure writer created",
		zap.String("container", cfg.Container),
		zap.String("account", cfg.AccountName),
		zap.Bool("shared_key", cfg.AccountKey != ""),
	)

	store := &azureUploader{client: client, container: cfg.Container}
	return newObjectWriter("azure", "wasbs", store, enc, logger, metrics), nil
}

func (u *azureUploader) upload(ctx context.Context, key string, file *os.File, contentType string) error {
	_, err := u.client.UploadFile(ctx, u.container, key, file, &azblob.UploadFileOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return fmt.Errorf("failed to upload to Azure Blob: %w", err)
	}
	return nil
}

func (u *azureUploader) location(key string) string {
	return "wasbs://" + u.container + "/" + key
}

func (u *azureUploader) close() error {
	return nil
}
