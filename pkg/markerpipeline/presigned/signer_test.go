package presigned

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestFor(t *testing.T, method, signedPath string) *http.Request {
	t.Helper()
	u, err := url.Parse(signedPath)
	require.NoError(t, err)
	return httptest.NewRequest(method, u.String(), nil)
}

func TestSignValidateRoundTrip(t *testing.T) {
	s := NewSigner("secret")

	signed := s.Sign(http.MethodPut, "/upload/owner/sub/image.png", time.Minute)
	assert.Contains(t, signed, "expires=")
	assert.Contains(t, signed, "signature=")

	err := s.Validate(requestFor(t, http.MethodPut, signed))
	assert.NoError(t, err)
}

func TestValidateRejectsTampering(t *testing.T) {
	s := NewSigner("secret")
	signed := s.Sign(http.MethodGet, "/download/owner/sub/video.mp4", time.Minute)

	t.Run("wrong method", func(t *testing.T) {
		err := s.Validate(requestFor(t, http.MethodPut, signed))
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("wrong path", func(t *testing.T) {
		tampered := strings.Replace(signed, "video.mp4", "other.mp4", 1)
		err := s.Validate(requestFor(t, http.MethodGet, tampered))
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewSigner("different")
		err := other.Validate(requestFor(t, http.MethodGet, signed))
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("stretched expiry", func(t *testing.T) {
		u, err := url.Parse(signed)
		require.NoError(t, err)
		q := u.Query()
		q.Set("expires", "9999999999")
		u.RawQuery = q.Encode()
		err = s.Validate(httptest.NewRequest(http.MethodGet, u.String(), nil))
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})
}

func TestValidateMissingSignature(t *testing.T) {
	s := NewSigner("secret")
	err := s.Validate(httptest.NewRequest(http.MethodGet, "/download/key", nil))
	assert.ErrorIs(t, err, ErrMissingSignature)
}

func TestValidateExpiredSignature(t *testing.T) {
	now := time.Now()
	s := NewSigner("secret", WithClock(func() time.Time { return now }))

	signed := s.Sign(http.MethodGet, "/download/key", time.Minute)

	// Move the clock past the expiry.
	later := NewSigner("secret", WithClock(func() time.Time { return now.Add(2 * time.Minute) }))
	err := later.Validate(requestFor(t, http.MethodGet, signed))
	assert.ErrorIs(t, err, ErrSignatureExpired)
	assert.True(t, IsAuthError(err))
}

func TestSignUsesDefaultTTL(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := NewSigner("secret",
		WithClock(func() time.Time { return now }),
		WithDefaultTTL(10*time.Minute),
	)

	signed := s.Sign(http.MethodGet, "/download/key", 0)
	assert.Contains(t, signed, "expires=1700000600")
}
