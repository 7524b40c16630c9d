package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/YubinShin/creverse/pkg/storage")

// SignatureSkew backdates signed URL validity to tolerate clock drift between
// this host and the storage service.
const SignatureSkew = 5 * time.Minute

var (
	// ErrLocalFileMissing is returned when the file to upload does not exist.
	ErrLocalFileMissing = errors.New("local file missing")
	// ErrUnsupportedDriver is returned for unknown storage drivers.
	ErrUnsupportedDriver = errors.New("unsupported storage driver")
)

// Store is the object storage port.
type Store interface {
	// EnsureContainer creates the target container or bucket when missing.
	EnsureContainer(ctx context.Context) error
	// UploadFile writes a local file to remotePath, overwriting existing content.
	UploadFile(ctx context.Context, remotePath, localPath, contentType string) error
	// SignReadURL returns a read-only URL for remotePath valid for ttl.
	SignReadURL(ctx context.Context, remotePath string, ttl time.Duration) (string, error)
}

// Config selects and configures a Store implementation.
type Config struct {
	Driver string

	AzureConnectionString string
	AzureAccountName      string
	AzureAccountKey       string
	AzureServiceURL       string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool
	MinioRegion    string

	Container string
	Retry     bool
}

// New builds the configured Store, optionally wrapped with retries.
func New(cfg Config) (Store, error) {
	var (
		store Store
		err   error
	)

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "azure":
		if cfg.AzureConnectionString != "" {
			store, err = NewAzureStoreFromConnectionString(cfg.AzureConnectionString, cfg.Container)
		} else {
			store, err = NewAzureStore(cfg.AzureAccountName, cfg.AzureAccountKey, cfg.AzureServiceURL, cfg.Container)
		}
	case "minio", "s3":
		store, err = NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL, cfg.MinioRegion, cfg.Container)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Retry {
		store = NewRetryStore(store)
	}
	return store, nil
}
