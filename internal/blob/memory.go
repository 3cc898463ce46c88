package blob

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// MemoryStore is an in-process MultipartStore used by tests and local runs.
// ETags follow the S3 convention of a quoted MD5 hex digest.
type MemoryStore struct {
	objects *xsync.MapOf[string, []byte]
	uploads *xsync.MapOf[string, *memUpload]
}

type memUpload struct {
	key   string
	parts *xsync.MapOf[int32, memPart]
}

type memPart struct {
	etag string
	data []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: xsync.NewMapOf[string, []byte](),
		uploads: xsync.NewMapOf[string, *memUpload](),
	}
}

func (m *MemoryStore) Put(_ context.Context, key string, data []byte) error {
	m.objects.Store(key, append([]byte(nil), data...))
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := m.objects.Load(key)
	if !ok {
		return nil, fmt.Errorf("object %s does not exist", key)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.objects.Load(key)
	return ok, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.objects.Delete(key)
	return nil
}

func (m *MemoryStore) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	expires := time.Now().Add(ttl).Unix()
	return fmt.Sprintf("memory://objects/%s?expires=%d", key, expires), nil
}

func (m *MemoryStore) CreateMultipart(_ context.Context, key string) (string, error) {
	uploadID := uuid.NewString()
	m.uploads.Store(uploadID, &memUpload{
		key:   key,
		parts: xsync.NewMapOf[int32, memPart](),
	})
	return uploadID, nil
}

func (m *MemoryStore) PresignUploadPart(_ context.Context, key, uploadID string, partNumber int32, ttl time.Duration) (string, error) {
	if _, ok := m.uploads.Load(uploadID); !ok {
		return "", fmt.Errorf("upload %s does not exist", uploadID)
	}
	expires := time.Now().Add(ttl).Unix()
	return fmt.Sprintf("memory://uploads/%s/%s?part=%d&expires=%d", uploadID, key, partNumber, expires), nil
}

// UploadPart simulates a client pushing one chunk through its presigned URL
// and returns the ETag the storage would respond with.
func (m *MemoryStore) UploadPart(_ context.Context, uploadID string, partNumber int32, data []byte) (string, error) {
	up, ok := m.uploads.Load(uploadID)
	if !ok {
		return "", fmt.Errorf("upload %s does not exist", uploadID)
	}
	etag := fmt.Sprintf("%q", fmt.Sprintf("%x", md5.Sum(data)))
	up.parts.Store(partNumber, memPart{etag: etag, data: append([]byte(nil), data...)})
	return etag, nil
}

func (m *MemoryStore) CompleteMultipart(_ context.Context, key, uploadID string, parts []Part) error {
	up, ok := m.uploads.Load(uploadID)
	if !ok {
		return fmt.Errorf("upload %s does not exist", uploadID)
	}
	sorted := append([]Part(nil), parts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })

	var buf bytes.Buffer
	for _, p := range sorted {
		stored, ok := up.parts.Load(p.Number)
		if !ok {
			return fmt.Errorf("part %d of upload %s was never uploaded", p.Number, uploadID)
		}
		if stored.etag != p.ETag {
			return fmt.Errorf("part %d of upload %s has etag %s, want %s", p.Number, uploadID, stored.etag, p.ETag)
		}
		buf.Write(stored.data)
	}
	m.objects.Store(key, buf.Bytes())
	m.uploads.Delete(uploadID)
	return nil
}

func (m *MemoryStore) AbortMultipart(_ context.Context, _, uploadID string) error {
	m.uploads.Delete(uploadID)
	return nil
}
