package archive

import (
	"context"
	"io"

	appErr "runbox/pkg/errors"

	"github.com/klauspost/compress/zstd"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig holds object storage settings for the hosted-file mirror.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSSL"`
	Bucket    string `yaml:"bucket"`
}

// Enabled reports whether the config block is filled in.
func (c MinIOConfig) Enabled() bool {
	return c.Endpoint != ""
}

// MinIOArchive implements ObjectStorage against an S3-compatible endpoint.
// Uploads are zstd-compressed; the object key carries a .zst suffix.
type MinIOArchive struct {
	client *minio.Client
	bucket string
}

// NewMinIOArchive validates the config and builds a client.
func NewMinIOArchive(cfg MinIOConfig) (*MinIOArchive, error) {
	if cfg.Endpoint == "" {
		return nil, appErr.Newf(appErr.ArchiveError, "minio endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, appErr.Newf(appErr.ArchiveError, "minio credentials are required")
	}
	if cfg.Bucket == "" {
		return nil, appErr.Newf(appErr.ArchiveError, "minio bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ArchiveError, "create minio client failed")
	}
	return &MinIOArchive{client: client, bucket: cfg.Bucket}, nil
}

func (a *MinIOArchive) PutObject(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error {
	pr, pw := io.Pipe()
	go func() {
		zw, err := zstd.NewWriter(pw)
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(zw, reader); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.CloseWithError(zw.Close())
	}()

	// Compressed length is unknown, so the size hint is -1 and minio falls
	// back to a streaming multipart put.
	_, err := a.client.PutObject(ctx, a.bucket, objectKey+".zst", pr, -1, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return appErr.Wrapf(err, appErr.ArchiveError, "put object %s failed", objectKey)
	}
	return nil
}

func (a *MinIOArchive) RemoveObject(ctx context.Context, objectKey string) error {
	err := a.client.RemoveObject(ctx, a.bucket, objectKey+".zst", minio.RemoveObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return nil
		}
		return appErr.Wrapf(err, appErr.ArchiveError, "remove object %s failed", objectKey)
	}
	return nil
}

func (a *MinIOArchive) StatObject(ctx context.Context, objectKey string) (int64, error) {
	info, err := a.client.StatObject(ctx, a.bucket, objectKey+".zst", minio.StatObjectOptions{})
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.ArchiveError, "stat object %s failed", objectKey)
	}
	return info.Size, nil
}
