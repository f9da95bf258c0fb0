// Package blob uploads finished recording artifacts to S3-compatible
// object storage.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sethvargo/go-retry"

	"github.com/ACSHKESL2020/acseventgridpstn-api/internal/metrics"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/core/recording"
)

// Uploader pushes recording artifacts to a bucket under recordings/.
type Uploader struct {
	bucket   string
	uploader *manager.Uploader
	logger   *slog.Logger
}

// NewUploader builds an uploader using the ambient AWS credential chain.
func NewUploader(ctx context.Context, bucket, region string, logger *slog.Logger) (*Uploader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &Uploader{
		bucket:   bucket,
		uploader: manager.NewUploader(client),
		logger:   logger,
	}, nil
}

// Upload streams the artifact file to the bucket, filling in ContentHash
// and UploadedURL on the artifact. Transient failures are retried with
// fibonacci backoff.
func (u *Uploader) Upload(ctx context.Context, art *recording.Artifact) error {
	hash, err := fileSHA256(art.Path)
	if err != nil {
		return fmt.Errorf("hash artifact: %w", err)
	}
	key := path.Join("recordings", path.Base(art.Path))

	backoff := retry.WithMaxRetries(4, retry.NewFibonacci(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		f, err := os.Open(art.Path)
		if err != nil {
			return err // unreadable file will not heal with retries
		}
		defer f.Close()

		_, err = u.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: &u.bucket,
			Key:    &key,
			Body:   f,
		})
		if err != nil {
			u.logger.Warn("artifact upload attempt failed", "key", key, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		metrics.ArtifactUploads.WithLabelValues("error").Inc()
		return fmt.Errorf("upload artifact %s: %w", key, err)
	}

	art.ContentHash = hash
	art.UploadedURL = fmt.Sprintf("s3://%s/%s", u.bucket, key)
	metrics.ArtifactUploads.WithLabelValues("ok").Inc()
	u.logger.Info("artifact uploaded",
		"session_id", art.SessionID, "key", key, "bytes", art.SizeBytes)
	return nil
}

func fileSHA256(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
