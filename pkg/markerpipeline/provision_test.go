package markerpipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedStore fails URL issuance a configured number of times before
// succeeding, or always fails with a fixed error.
type scriptedStore struct {
	failures      int32
	failWith      error
	alwaysErr     error
	calls         atomic.Int32
	lastUploadTTL atomic.Int64
}

func (s *scriptedStore) GetUploadURL(ctx context.Context, objectKey string, expiresIn time.Duration) (string, error) {
	s.lastUploadTTL.Store(int64(expiresIn))
	return s.issue(objectKey)
}

func (s *scriptedStore) GetDownloadURL(ctx context.Context, objectKey string, expiresIn time.Duration) (string, error) {
	return s.issue(objectKey)
}

func (s *scriptedStore) issue(objectKey string) (string, error) {
	n := s.calls.Add(1)
	if s.alwaysErr != nil {
		return "", s.alwaysErr
	}
	if n <= s.failures {
		return "", s.failWith
	}
	return "https://storage.test/" + objectKey, nil
}

func (s *scriptedStore) Upload(ctx context.Context, objectKey string, reader io.Reader) error {
	return nil
}

func (s *scriptedStore) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	return nil, ErrObjectNotFound
}

func (s *scriptedStore) Delete(ctx context.Context, objectKey string) error {
	return nil
}

func (s *scriptedStore) GetObjectMeta(ctx context.Context, objectKey string) (*ObjectMeta, error) {
	return nil, ErrObjectNotFound
}

func newTestProvisioner(store BlobStore) *Provisioner {
	return NewProvisioner("test", store,
		WithAttempts(3),
		WithRetryDelay(time.Millisecond),
	)
}

func TestGrantWriteRetriesTransientFailures(t *testing.T) {
	store := &scriptedStore{failures: 2, failWith: Transient(errors.New("control plane hiccup"))}
	p := newTestProvisioner(store)

	grant, err := p.GrantWrite(context.Background(), "owner/sub/image.png")
	require.NoError(t, err)
	assert.Equal(t, int32(3), store.calls.Load())
	assert.Equal(t, OperationWrite, grant.Operation)
	assert.Equal(t, "owner/sub/image.png", grant.Key)
	assert.Contains(t, grant.URL, "owner/sub/image.png")
	assert.True(t, grant.ExpiresAt.After(time.Now()))
}

func TestGrantWriteExhaustsAttemptCeiling(t *testing.T) {
	store := &scriptedStore{alwaysErr: Transient(errors.New("still down"))}
	p := newTestProvisioner(store)

	_, err := p.GrantWrite(context.Background(), "owner/sub/image.png")
	require.Error(t, err)
	// Exactly the ceiling, never more.
	assert.Equal(t, int32(3), store.calls.Load())

	var stErr *StorageError
	require.ErrorAs(t, err, &stErr)
	assert.Equal(t, "grant_write", stErr.Op)
}

func TestGrantWritePermanentFailureNotRetried(t *testing.T) {
	store := &scriptedStore{alwaysErr: Permanent(errors.New("access denied"))}
	p := newTestProvisioner(store)

	_, err := p.GrantWrite(context.Background(), "owner/sub/video.mp4")
	require.Error(t, err)
	assert.Equal(t, int32(1), store.calls.Load())
	assert.Equal(t, FailurePermanent, ClassifyError(err))
}

func TestGrantWriteTTLReachesBackend(t *testing.T) {
	store := &scriptedStore{}
	p := NewProvisioner("test", store, WithWriteTTL(45*time.Minute))

	grant, err := p.GrantWrite(context.Background(), "owner/sub/image.png")
	require.NoError(t, err)

	// The signed URL and the grant's ExpiresAt are derived from the same
	// TTL, so the grant never misreports when the URL stops working.
	assert.Equal(t, 45*time.Minute, time.Duration(store.lastUploadTTL.Load()))
	assert.WithinDuration(t, time.Now().Add(45*time.Minute), grant.ExpiresAt, time.Minute)
}

func TestGrantReadUsesDefaultTTL(t *testing.T) {
	store := &scriptedStore{}
	p := NewProvisioner("test", store, WithDefaultReadTTL(30*time.Minute))

	grant, err := p.GrantRead(context.Background(), "owner/sub/marker.marker", 0)
	require.NoError(t, err)
	assert.Equal(t, OperationRead, grant.Operation)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), grant.ExpiresAt, time.Minute)
}

func TestGrantRespectsContextBetweenAttempts(t *testing.T) {
	store := &scriptedStore{alwaysErr: Transient(errors.New("blip"))}
	p := NewProvisioner("test", store,
		WithAttempts(5),
		WithRetryDelay(time.Hour),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.GrantWrite(ctx, "owner/sub/image.png")
		done <- err
	}()

	// First attempt fires immediately; cancel during the first delay.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, int32(1), store.calls.Load())
	case <-time.After(2 * time.Second):
		t.Fatal("issuance did not observe cancellation")
	}
}

func TestReadURLOrKeyFallsBack(t *testing.T) {
	store := &scriptedStore{alwaysErr: Permanent(errors.New("signing broken"))}
	p := newTestProvisioner(store)

	got := p.ReadURLOrKey(context.Background(), "owner/sub/image.png")
	assert.Equal(t, "owner/sub/image.png", got)

	assert.Empty(t, p.ReadURLOrKey(context.Background(), ""))
}

func TestReadURLOrKeyReturnsSignedURL(t *testing.T) {
	store := &scriptedStore{}
	p := newTestProvisioner(store)

	got := p.ReadURLOrKey(context.Background(), "owner/sub/image.png")
	assert.Equal(t, "https://storage.test/owner/sub/image.png", got)
}

func TestGrantReadDistinctDerivations(t *testing.T) {
	store := &scriptedStore{}
	p := newTestProvisioner(store)

	a, err := p.GrantRead(context.Background(), "owner/sub/image.png", 10*time.Minute)
	require.NoError(t, err)
	b, err := p.GrantRead(context.Background(), "owner/sub/image.png", 20*time.Minute)
	require.NoError(t, err)

	// Two derivations are distinct values resolving the same key.
	assert.Equal(t, a.Key, b.Key)
	assert.False(t, a.ExpiresAt.Equal(b.ExpiresAt), fmt.Sprintf("expected distinct expiries, got %v", a.ExpiresAt))
}
