package markerpipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// UploadCoordinator transfers one asset's bytes to a previously issued
// write grant. It reports fractional progress as the transport drains
// the body and aborts at the transport layer when the context is
// cancelled. It never retries: a half-completed large transfer must not
// be blindly repeated, so the retry budget lives with grant issuance
// and the caller decides whether to re-provision and restart.
type UploadCoordinator struct {
	httpClient *http.Client
}

// UploadCoordinatorOption configures an UploadCoordinator.
type UploadCoordinatorOption func(*UploadCoordinator)

// WithUploadHTTPClient sets a custom HTTP client.
func WithUploadHTTPClient(client *http.Client) UploadCoordinatorOption {
	return func(u *UploadCoordinator) {
		if client != nil {
			u.httpClient = client
		}
	}
}

// NewUploadCoordinator creates an upload coordinator. The default client
// carries a long timeout to accommodate multi-minute video transfers.
func NewUploadCoordinator(opts ...UploadCoordinatorOption) *UploadCoordinator {
	u := &UploadCoordinator{
		httpClient: &http.Client{Timeout: 30 * time.Minute},
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload PUTs data to the grant's URL. onProgress receives percentages
// in [0,100] and may be nil. The returned error carries a failure
// class: cancelled when ctx was cancelled mid-transfer, permanent on
// 4xx or grant misuse, transient on network failures and 5xx.
func (u *UploadCoordinator) Upload(ctx context.Context, grant *Grant, data []byte, contentType string, onProgress func(percent float64)) error {
	if grant == nil {
		return Permanent(errors.New("nil grant"))
	}
	if grant.Operation != OperationWrite {
		return Permanent(fmt.Errorf("%w: have %q, need %q", ErrGrantOperationMismatch, grant.Operation, OperationWrite))
	}
	if grant.Expired(time.Now()) {
		return Permanent(fmt.Errorf("%w: %s", ErrGrantExpired, grant.Key))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	body := &progressReader{
		reader:     bytes.NewReader(data),
		total:      int64(len(data)),
		onProgress: onProgress,
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, grant.URL, body)
	if err != nil {
		return Permanent(fmt.Errorf("build upload request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = int64(len(data))

	resp, err := u.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return &ClassifiedError{Class: FailureCancelled, Err: ctx.Err()}
		}
		return Transient(fmt.Errorf("transfer failed: %w", err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if onProgress != nil {
			onProgress(100)
		}
		return nil
	case resp.StatusCode == 429 || resp.StatusCode >= 500:
		return Transient(fmt.Errorf("transfer rejected with status %s", resp.Status))
	default:
		return Permanent(fmt.Errorf("transfer rejected with status %s", resp.Status))
	}
}

// progressReader reports fractional progress as the transport reads the
// body. Each chunk boundary is also a cancellation yield point since
// the transport checks the request context between reads.
type progressReader struct {
	reader     io.Reader
	total      int64
	read       int64
	onProgress func(float64)
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	pr.read += int64(n)
	if pr.onProgress != nil && n > 0 && pr.total > 0 {
		pct := float64(pr.read) / float64(pr.total) * 100
		if pct > 100 {
			pct = 100
		}
		pr.onProgress(pct)
	}
	return n, err
}
