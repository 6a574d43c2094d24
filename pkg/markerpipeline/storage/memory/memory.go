// Package memory provides an in-memory blob store for tests and
// development. With signed URLs enabled it issues HMAC-signed transfer
// URLs served by the presigned handlers, so the capability-mediated
// access contract holds even without a real object store.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/pixeltrack/marker-pipeline/pkg/markerpipeline"
	"github.com/pixeltrack/marker-pipeline/pkg/markerpipeline/presigned"
)

type object struct {
	data      []byte
	updatedAt time.Time
}

// Store is an in-memory BlobStore.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object

	baseURL *url.URL
	signer  *presigned.Signer
	ttl     time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithSignedURLs enables signed URL issuance. baseURL is the external
// address the presigned handlers are reachable at, including any mount
// prefix. An unparsable baseURL leaves issuance disabled.
func WithSignedURLs(baseURL string, signer *presigned.Signer) Option {
	return func(s *Store) {
		s.EnableSignedURLs(baseURL, signer)
	}
}

// WithSignedURLTTL sets the expiry for issued upload URLs.
func WithSignedURLTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// New creates an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		objects: make(map[string]object),
		ttl:     time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnableSignedURLs turns on signed URL issuance after construction.
// Useful in tests where the handler address is only known once the
// server is listening.
func (s *Store) EnableSignedURLs(baseURL string, signer *presigned.Signer) {
	u, err := url.Parse(baseURL)
	if err != nil || signer == nil {
		return
	}
	s.mu.Lock()
	s.baseURL = u
	s.signer = signer
	s.mu.Unlock()
}

func (s *Store) GetUploadURL(ctx context.Context, objectKey string, expiresIn time.Duration) (string, error) {
	if expiresIn <= 0 {
		expiresIn = s.ttl
	}
	return s.signedURL(http.MethodPut, "upload", objectKey, expiresIn)
}

func (s *Store) GetDownloadURL(ctx context.Context, objectKey string, expiresIn time.Duration) (string, error) {
	if expiresIn <= 0 {
		expiresIn = s.ttl
	}
	return s.signedURL(http.MethodGet, "download", objectKey, expiresIn)
}

func (s *Store) signedURL(method, segment, objectKey string, ttl time.Duration) (string, error) {
	s.mu.RLock()
	base, signer := s.baseURL, s.signer
	s.mu.RUnlock()
	if base == nil || signer == nil {
		return "", fmt.Errorf("memory store: %w", markerpipeline.ErrPresignUnsupported)
	}
	signedPath := signer.Sign(method, path.Join("/", base.Path, segment, objectKey), ttl)
	return base.Scheme + "://" + base.Host + signedPath, nil
}

func (s *Store) Upload(ctx context.Context, objectKey string, reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read object body: %w", err)
	}
	s.mu.Lock()
	s.objects[objectKey] = object{data: data, updatedAt: time.Now().UTC()}
	s.mu.Unlock()
	return nil
}

func (s *Store) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	s.mu.RLock()
	obj, ok := s.objects[objectKey]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", markerpipeline.ErrObjectNotFound, objectKey)
	}
	buf := make([]byte, len(obj.data))
	copy(buf, obj.data)
	return io.NopCloser(bytes.NewReader(buf)), nil
}

func (s *Store) Delete(ctx context.Context, objectKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[objectKey]; !ok {
		return fmt.Errorf("%w: %s", markerpipeline.ErrObjectNotFound, objectKey)
	}
	delete(s.objects, objectKey)
	return nil
}

func (s *Store) GetObjectMeta(ctx context.Context, objectKey string) (*markerpipeline.ObjectMeta, error) {
	s.mu.RLock()
	obj, ok := s.objects[objectKey]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", markerpipeline.ErrObjectNotFound, objectKey)
	}
	return &markerpipeline.ObjectMeta{
		Key:       objectKey,
		Size:      int64(len(obj.data)),
		UpdatedAt: obj.updatedAt,
	}, nil
}
