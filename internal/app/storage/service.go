/*
Package storage keeps canvas snapshots in S3-compatible object storage.

The Snapshotter periodically uploads the board as raw palette indexes, one
byte per cell in row-major order, under a timestamped key and under a stable
"latest" key that the HTTP API hands out through presigned links.
*/
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrObjectNotFound is returned when a requested key does not exist.
var ErrObjectNotFound = errors.New("storage: object not found")

// ServiceConfig holds the configuration required to connect to the storage service.
type ServiceConfig struct {
	S3BucketName      string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
}

// ObjectStore is the subset of object storage the snapshotter and the API use.
type ObjectStore interface {
	// Put uploads body under key.
	Put(ctx context.Context, key, contentType string, body []byte) error

	// PresignDownload generates a pre-signed URL for downloading key.
	PresignDownload(ctx context.Context, key string, duration time.Duration) (string, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
}

// NewObjectStore returns the S3-backed ObjectStore for cfg.
func NewObjectStore(ctx context.Context, cfg ServiceConfig) (ObjectStore, error) {
	return newS3Client(ctx, cfg)
}
