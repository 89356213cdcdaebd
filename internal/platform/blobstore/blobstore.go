// Package blobstore archives binary documents such as postage labels.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrInvalidKey         = errors.New("invalid blob key")
)

// MaxFileSize is the maximum blob size in bytes (20 MB).
const MaxFileSize = 20 * 1024 * 1024

var AllowedContentTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/gif":       true,
	"text/plain":      true,
	"application/zpl": true,
}

type Object struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	SHA256      string    `json:"sha256"`
	CreatedAt   time.Time `json:"created_at"`
}

type BlobStore interface {
	Put(ctx context.Context, key, contentType string, body []byte) (*Object, error)
	Get(ctx context.Context, key string) ([]byte, *Object, error)
	Delete(ctx context.Context, key string) error
}

func validate(key, contentType string, body []byte) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if !AllowedContentTypes[contentType] {
		return fmt.Errorf("%w: %s", ErrInvalidContentType, contentType)
	}
	if len(body) > MaxFileSize {
		return ErrFileTooLarge
	}
	return nil
}

func describe(key, contentType string, body []byte, now time.Time) *Object {
	sum := sha256.Sum256(body)
	return &Object{
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(body)),
		SHA256:      hex.EncodeToString(sum[:]),
		CreatedAt:   now.UTC(),
	}
}

// LabelKey is the archive key for a shipment's postage label.
func LabelKey(shipmentID, trackingNumber string) string {
	return fmt.Sprintf("labels/%s/%s.pdf", shipmentID, trackingNumber)
}

type storedBlob struct {
	obj  Object
	body []byte
}

// InMemoryBlobStore is a thread-safe BlobStore for tests and development.
type InMemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
}

func NewInMemoryBlobStore() *InMemoryBlobStore {
	return &InMemoryBlobStore{blobs: make(map[string]*storedBlob)}
}

func (s *InMemoryBlobStore) Put(_ context.Context, key, contentType string, body []byte) (*Object, error) {
	if err := validate(key, contentType, body); err != nil {
		return nil, err
	}
	obj := describe(key, contentType, body, time.Now())
	cp := make([]byte, len(body))
	copy(cp, body)

	s.mu.Lock()
	s.blobs[key] = &storedBlob{obj: *obj, body: cp}
	s.mu.Unlock()
	return obj, nil
}

func (s *InMemoryBlobStore) Get(_ context.Context, key string) ([]byte, *Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[key]
	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	obj := b.obj
	return append([]byte(nil), b.body...), &obj, nil
}

func (s *InMemoryBlobStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, key)
	return nil
}
