package markerpipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	defaultProvisionAttempts = 3
	defaultProvisionDelay    = 200 * time.Millisecond
	defaultGrantTTL          = time.Hour
)

// Provisioner issues capability grants for storage keys, masking the
// transient unreliability of the storage control plane behind a bounded
// retry. Grants are computed per call and never cached; a stored key is
// a location, not a capability.
type Provisioner struct {
	backend   string
	store     BlobStore
	writeTTL  time.Duration
	readTTL   time.Duration
	attempts  int
	baseDelay time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// ProvisionerOption configures a Provisioner.
type ProvisionerOption func(*Provisioner)

// WithAttempts sets the total attempt ceiling per issuance. Only errors
// classified as transient consume additional attempts.
func WithAttempts(n int) ProvisionerOption {
	return func(p *Provisioner) {
		if n > 0 {
			p.attempts = n
		}
	}
}

// WithRetryDelay sets the base delay between attempts. The delay grows
// linearly with the attempt number.
func WithRetryDelay(d time.Duration) ProvisionerOption {
	return func(p *Provisioner) {
		if d > 0 {
			p.baseDelay = d
		}
	}
}

// WithWriteTTL sets the lifetime of write grants.
func WithWriteTTL(d time.Duration) ProvisionerOption {
	return func(p *Provisioner) {
		if d > 0 {
			p.writeTTL = d
		}
	}
}

// WithDefaultReadTTL sets the read-grant lifetime used when a caller
// does not specify one.
func WithDefaultReadTTL(d time.Duration) ProvisionerOption {
	return func(p *Provisioner) {
		if d > 0 {
			p.readTTL = d
		}
	}
}

// WithProvisionerLogger sets the logger for retry and fallback warnings.
func WithProvisionerLogger(logger *slog.Logger) ProvisionerOption {
	return func(p *Provisioner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func withProvisionerClock(now func() time.Time) ProvisionerOption {
	return func(p *Provisioner) {
		p.now = now
	}
}

// NewProvisioner creates a provisioner over the named backend.
func NewProvisioner(backend string, store BlobStore, opts ...ProvisionerOption) *Provisioner {
	p := &Provisioner{
		backend:   backend,
		store:     store,
		writeTTL:  defaultGrantTTL,
		readTTL:   defaultGrantTTL,
		attempts:  defaultProvisionAttempts,
		baseDelay: defaultProvisionDelay,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GrantWrite issues a write capability for key. The provisioner's
// write TTL is passed down to the backend so the grant's ExpiresAt and
// the signed URL's expiry agree.
func (p *Provisioner) GrantWrite(ctx context.Context, key string) (*Grant, error) {
	url, err := p.issue(ctx, "grant_write", key, func(ctx context.Context) (string, error) {
		return p.store.GetUploadURL(ctx, key, p.writeTTL)
	})
	if err != nil {
		return nil, err
	}
	return &Grant{
		Key:       key,
		Operation: OperationWrite,
		URL:       url,
		ExpiresAt: p.now().UTC().Add(p.writeTTL),
	}, nil
}

// GrantRead issues a read capability for key valid for ttl. A
// non-positive ttl falls back to the provisioner default.
func (p *Provisioner) GrantRead(ctx context.Context, key string, ttl time.Duration) (*Grant, error) {
	if ttl <= 0 {
		ttl = p.readTTL
	}
	url, err := p.issue(ctx, "grant_read", key, func(ctx context.Context) (string, error) {
		return p.store.GetDownloadURL(ctx, key, ttl)
	})
	if err != nil {
		return nil, err
	}
	return &Grant{
		Key:       key,
		Operation: OperationRead,
		URL:       url,
		ExpiresAt: p.now().UTC().Add(ttl),
	}, nil
}

// ReadURLOrKey derives a read URL for key, degrading to the raw key when
// issuance fails. A listing of recorded assets never hard-fails because
// one URL could not be re-signed; the condition is logged as a warning.
func (p *Provisioner) ReadURLOrKey(ctx context.Context, key string) string {
	if key == "" {
		return ""
	}
	grant, err := p.GrantRead(ctx, key, p.readTTL)
	if err != nil {
		p.logger.Warn("falling back to raw object key",
			"backend", p.backend,
			"key", key,
			"error", err)
		return key
	}
	return grant.URL
}

// issue runs fn under the bounded retry policy: up to p.attempts tries,
// linearly increasing delay, retrying only transient failures. A
// permanent failure is surfaced immediately so it does not waste the
// attempt budget.
func (p *Provisioner) issue(ctx context.Context, op, key string, fn func(context.Context) (string, error)) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(p.baseDelay * time.Duration(attempt-1)):
			}
		}

		url, err := fn(ctx)
		if err == nil {
			return url, nil
		}
		lastErr = err

		if ClassifyError(err) != FailureTransient {
			return "", &StorageError{Backend: p.backend, Key: key, Op: op, Err: err}
		}
		p.logger.Warn("capability issuance failed, retrying",
			"backend", p.backend,
			"op", op,
			"key", key,
			"attempt", attempt,
			"error", err)
	}
	return "", &StorageError{
		Backend: p.backend,
		Key:     key,
		Op:      op,
		Err:     fmt.Errorf("after %d attempts: %w", p.attempts, lastErr),
	}
}
