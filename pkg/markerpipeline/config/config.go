// Package config assembles the server-side services from declarative
// configuration.
package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pixeltrack/marker-pipeline/pkg/markerpipeline"
	"github.com/pixeltrack/marker-pipeline/pkg/markerpipeline/presigned"
	memoryrepo "github.com/pixeltrack/marker-pipeline/pkg/markerpipeline/repo/memory"
	postgresrepo "github.com/pixeltrack/marker-pipeline/pkg/markerpipeline/repo/postgres"
	memorystorage "github.com/pixeltrack/marker-pipeline/pkg/markerpipeline/storage/memory"
	s3storage "github.com/pixeltrack/marker-pipeline/pkg/markerpipeline/storage/s3"
)

// StorageBackendConfig describes one storage backend.
type StorageBackendConfig struct {
	Name   string
	Type   string // "memory" or "s3"
	Config map[string]interface{}
}

// ServerConfig is the full server-side configuration.
type ServerConfig struct {
	Port        string
	Environment string

	DatabaseType string // "memory" or "postgres"
	DatabaseURL  string
	DBSchema     string

	DefaultStorageBackend string
	StorageBackends       []StorageBackendConfig

	// PresignSecret signs local transfer URLs for backends without
	// native presigning. TransferBaseURL is the external address those
	// transfer endpoints are reachable at.
	PresignSecret   string
	TransferBaseURL string

	GrantWriteTTL     time.Duration
	GrantReadTTL      time.Duration
	ProvisionAttempts int
}

// Option mutates a ServerConfig during Load.
type Option func(*ServerConfig) error

// Load builds a ServerConfig from defaults plus the given options.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *ServerConfig {
	return &ServerConfig{
		Port:                  "8080",
		Environment:           "development",
		DatabaseType:          "memory",
		DBSchema:              "markerpipeline",
		DefaultStorageBackend: "memory",
		StorageBackends: []StorageBackendConfig{
			{Name: "memory", Type: "memory", Config: map[string]interface{}{}},
		},
		PresignSecret:     "dev-presign-secret",
		TransferBaseURL:   "http://localhost:8080/transfer",
		GrantWriteTTL:     time.Hour,
		GrantReadTTL:      time.Hour,
		ProvisionAttempts: 3,
	}
}

// WithPort sets the listen port.
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port != "" {
			c.Port = port
		}
		return nil
	}
}

// WithPresignSecret sets the local transfer URL signing secret.
func WithPresignSecret(secret string) Option {
	return func(c *ServerConfig) error {
		if secret != "" {
			c.PresignSecret = secret
		}
		return nil
	}
}

// WithTransferBaseURL sets the external transfer endpoint address.
func WithTransferBaseURL(baseURL string) Option {
	return func(c *ServerConfig) error {
		if baseURL != "" {
			c.TransferBaseURL = baseURL
		}
		return nil
	}
}

// WithGrantTTLs sets write and read grant lifetimes.
func WithGrantTTLs(write, read time.Duration) Option {
	return func(c *ServerConfig) error {
		if write > 0 {
			c.GrantWriteTTL = write
		}
		if read > 0 {
			c.GrantReadTTL = read
		}
		return nil
	}
}

// Validate checks the configuration for internal consistency.
func (c *ServerConfig) Validate() error {
	switch c.DatabaseType {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("postgres database requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unsupported database type: %q", c.DatabaseType)
	}

	if len(c.StorageBackends) == 0 {
		return errors.New("at least one storage backend is required")
	}
	found := false
	for _, b := range c.StorageBackends {
		switch b.Type {
		case "memory", "s3":
		default:
			return fmt.Errorf("unsupported storage backend type: %q", b.Type)
		}
		if b.Name == c.DefaultStorageBackend {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("default storage backend %q is not configured", c.DefaultStorageBackend)
	}

	if c.ProvisionAttempts <= 0 {
		return errors.New("provision attempts must be positive")
	}
	return nil
}

// BuildRepository creates the configured submission repository.
func (c *ServerConfig) BuildRepository(ctx context.Context) (markerpipeline.Repository, error) {
	switch c.DatabaseType {
	case "memory":
		return memoryrepo.New(), nil
	case "postgres":
		pool, err := c.buildPool(ctx)
		if err != nil {
			return nil, err
		}
		return postgresrepo.NewWithPool(pool), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %q", c.DatabaseType)
	}
}

func (c *ServerConfig) buildPool(ctx context.Context) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(c.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if c.DBSchema != "" {
		schema := c.DBSchema
		poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %q", schema))
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return pool, nil
}

// BuildBlobStore creates one storage backend.
func (c *ServerConfig) BuildBlobStore(ctx context.Context, backend StorageBackendConfig) (markerpipeline.BlobStore, error) {
	switch backend.Type {
	case "memory":
		signer := presigned.NewSigner(c.PresignSecret, presigned.WithDefaultTTL(c.GrantWriteTTL))
		return memorystorage.New(
			memorystorage.WithSignedURLs(c.TransferBaseURL, signer),
			memorystorage.WithSignedURLTTL(c.GrantWriteTTL),
		), nil
	case "s3":
		s3cfg := s3storage.Config{
			Region:          stringValue(backend.Config, "region"),
			Bucket:          stringValue(backend.Config, "bucket"),
			AccessKeyID:     stringValue(backend.Config, "access_key_id"),
			SecretAccessKey: stringValue(backend.Config, "secret_access_key"),
			Endpoint:        stringValue(backend.Config, "endpoint"),
			UsePathStyle:    boolValue(backend.Config, "use_path_style"),
			PresignDuration: c.GrantWriteTTL,
		}
		return s3storage.New(ctx, s3cfg)
	default:
		return nil, fmt.Errorf("unsupported storage backend type: %q", backend.Type)
	}
}

// BuildServices assembles the record service and the provisioner over
// the default storage backend.
func (c *ServerConfig) BuildServices(ctx context.Context) (markerpipeline.Service, *markerpipeline.Provisioner, markerpipeline.BlobStore, error) {
	repo, err := c.BuildRepository(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	var store markerpipeline.BlobStore
	for _, backend := range c.StorageBackends {
		if backend.Name != c.DefaultStorageBackend {
			continue
		}
		store, err = c.BuildBlobStore(ctx, backend)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	if store == nil {
		return nil, nil, nil, fmt.Errorf("default storage backend %q is not configured", c.DefaultStorageBackend)
	}

	provisioner := markerpipeline.NewProvisioner(c.DefaultStorageBackend, store,
		markerpipeline.WithAttempts(c.ProvisionAttempts),
		markerpipeline.WithWriteTTL(c.GrantWriteTTL),
		markerpipeline.WithDefaultReadTTL(c.GrantReadTTL),
	)

	svc, err := markerpipeline.New(
		markerpipeline.WithRepository(repo),
		markerpipeline.WithProvisioner(provisioner),
	)
	if err != nil {
		return nil, nil, nil, err
	}
	return svc, provisioner, store, nil
}

func stringValue(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func boolValue(m map[string]interface{}, key string) bool {
	if m == nil {
		return false
	}
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}
