// Package minio provides a MinIO-backed snapshot.Store, for deployments
// where exported database buffers must survive the local machine.
package minio

import (
	"bytes"
	"context"
	"errors"
	"io"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dbglass/dbglass/internal/errs"
	"github.com/dbglass/dbglass/internal/snapshot"
)

// Config holds the settings for the MinIO snapshot backend.
type Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSSL"`
	Bucket    string `yaml:"bucket"`
}

// Driver is a MinIO implementation of snapshot.Store.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	client *miniogo.Client
	bucket string
}

// New connects to MinIO using cfg and verifies the bucket is reachable
// before returning.
func New(ctx context.Context, cfg *Config) (*Driver, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create minio client", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to reach snapshot bucket", err)
	}
	if !exists {
		return nil, errs.Newf(errs.ErrKindNotFound, "snapshot bucket %q does not exist", cfg.Bucket)
	}

	return &Driver{client: client, bucket: cfg.Bucket}, nil
}

// --- snapshot.Store implementation ---

func (d *Driver) Put(ctx context.Context, path string, data []byte) error {
	key := snapshot.Key(path)
	if key == "" {
		return errs.New(errs.ErrKindInvalidInput, "snapshot path is empty")
	}

	_, err := d.client.PutObject(ctx, d.bucket, key, bytes.NewReader(data), int64(len(data)),
		miniogo.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return mapError(err, "failed to store snapshot")
	}
	return nil
}

func (d *Driver) Get(ctx context.Context, path string) ([]byte, error) {
	key := snapshot.Key(path)
	if key == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "snapshot path is empty")
	}

	obj, err := d.client.GetObject(ctx, d.bucket, key, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, mapError(err, "failed to fetch snapshot")
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapError(err, "failed to read snapshot")
	}
	return data, nil
}

// mapError translates MinIO native errors into *errs.Error.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	resp := miniogo.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	case "AccessDenied":
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	}

	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}
