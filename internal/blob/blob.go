// Package blob abstracts the object storage that holds test-case bundles,
// grading outputs, compiled binaries and artifact archives. The production
// implementation is S3; tests use the in-memory store.
package blob

import (
	"context"
	"time"
)

// Part identifies one uploaded chunk of a multipart upload together with the
// integrity token the storage returned for it.
type Part struct {
	Number int32  `json:"part_number"`
	ETag   string `json:"etag"`
}

type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error

	// PresignGet returns a time-limited download URL for the object.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// MultipartStore additionally supports chunked uploads where clients push
// parts directly to storage through presigned URLs.
type MultipartStore interface {
	Store

	CreateMultipart(ctx context.Context, key string) (uploadID string, err error)
	PresignUploadPart(ctx context.Context, key, uploadID string, partNumber int32, ttl time.Duration) (string, error)
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []Part) error
	AbortMultipart(ctx context.Context, key, uploadID string) error
}
