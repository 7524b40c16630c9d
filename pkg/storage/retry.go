package storage

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/codes"
)

var _ Store = (*RetryStore)(nil)

// RetryStore wraps store operations in backoff loops. Missing local files are
// never retried.
type RetryStore struct {
	store   Store
	backoff func() retry.Backoff
}

// NewRetryStoreBackoff wraps store using a custom backoff factory.
func NewRetryStoreBackoff(store Store, backoff func() retry.Backoff) *RetryStore {
	return &RetryStore{store: store, backoff: backoff}
}

// NewRetryStore retries for up to 30 seconds with exponential backoff, which
// stays well inside a job timeout.
func NewRetryStore(store Store) *RetryStore {
	return &RetryStore{
		store: store,
		backoff: func() retry.Backoff {
			b := retry.NewExponential(500 * time.Millisecond)
			b = retry.WithMaxDuration(30*time.Second, b)
			return b
		},
	}
}

func (r *RetryStore) EnsureContainer(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "RetryStore.EnsureContainer")
	defer span.End()

	err := retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		return retryable(r.store.EnsureContainer(ctx))
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to ensure container")
		return err
	}

	span.SetStatus(codes.Ok, "container ready")
	return nil
}

func (r *RetryStore) UploadFile(ctx context.Context, remotePath, localPath, contentType string) error {
	ctx, span := tracer.Start(ctx, "RetryStore.UploadFile")
	defer span.End()

	err := retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		return retryable(r.store.UploadFile(ctx, remotePath, localPath, contentType))
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload")
		return err
	}

	span.SetStatus(codes.Ok, "uploaded")
	return nil
}

func (r *RetryStore) SignReadURL(ctx context.Context, remotePath string, ttl time.Duration) (string, error) {
	ctx, span := tracer.Start(ctx, "RetryStore.SignReadURL")
	defer span.End()

	var signed string
	err := retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		var err error
		signed, err = r.store.SignReadURL(ctx, remotePath, ttl)
		return retryable(err)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to sign")
		return "", err
	}

	span.SetStatus(codes.Ok, "signed")
	return signed, nil
}

func retryable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrLocalFileMissing) || errors.Is(err, os.ErrNotExist) {
		return err
	}
	return retry.RetryableError(err)
}
