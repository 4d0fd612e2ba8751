package storage

import (
	"context"
	"fmt"
	"io"
	"os"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/jittakal/kaftimeline/internal/config/dto"
	"github.com/jittakal/kaftimeline/pkg/encoder"
)

// gcsUploader streams files into a Google Cloud Storage bucket.
type gcsUploader struct {
	client *gcs.Client
	bucket string
}

// gcsClientOptions selects the credential source: explicit JSON, then a
// credentials file, then Application Default Credentials.
func gcsClientOptions(cfg dto.GCSConfig, logger *zap.Logger) []option.ClientOption {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
		logger.Info("using GCS endpoint without authentication", zap.String("endpoint", cfg.Endpoint))
		return opts
	}

	switch {
	case cfg.UseDefaultCredential:
		logger.Info("using default GCP credentials")
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
		logger.Info("using GCP credentials from JSON string")
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		logger.Info("using GCP credentials from file", zap.String("file", cfg.CredentialsFile))
	default:
		logger.Info("no explicit credentials provided, using default GCP credentials")
	}
	return opts
}

// NewGCSWriter creates a writer that uploads to Google Cloud Storage.
func NewGCSWriter(ctx context.Context, cfg dto.GCSConfig, enc encoder.Encoder, logger *zap.Logger, metrics MetricsCollector) (*ObjectWriter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := gcs.NewClient(ctx, gcsClientOptions(cfg, logger)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	logger.Info("GCS writer created",
		zap.String("bucket", cfg.Bucket),
		zap.String("project_id", cfg.ProjectID),
	)

	store := &gcsUploader{client: client, bucket: cfg.Bucket}
	return newObjectWriter("gcs", "gs", store, enc, logger, metrics), nil
}

func (u *gcsUploader) upload(ctx context.Context, key string, file *os.File, contentType string) error {
	w := u.client.Bucket(u.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, file); err != nil {
		w.Close()
		return fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize GCS object: %w", err)
	}
	return nil
}

func (u *gcsUploader) location(key string) string {
	return "gs://" + u.bucket + "/" + key
}

func (u *gcsUploader) close() error {
	return u.client.Close()
}
