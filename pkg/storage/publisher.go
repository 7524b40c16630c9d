package storage

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
)

// Publisher uploads local files and returns signed read URLs.
type Publisher struct {
	store  Store
	logger zerolog.Logger

	mu      sync.Mutex
	ensured bool
}

// NewPublisher binds a publisher to a store.
func NewPublisher(store Store, logger zerolog.Logger) *Publisher {
	return &Publisher{
		store:  store,
		logger: logger.With().Str("component", "blob_publisher").Logger(),
	}
}

// UploadAndSign ensures the container exists, uploads localPath to
// remotePath and returns a read URL valid for ttl. An empty contentType is
// sniffed from the file.
func (p *Publisher) UploadAndSign(ctx context.Context, remotePath, localPath, contentType string, ttl time.Duration) (string, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrLocalFileMissing, localPath)
		}
		return "", fmt.Errorf("stat %s: %w", localPath, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrLocalFileMissing, localPath)
	}

	if err := p.ensureContainer(ctx); err != nil {
		return "", fmt.Errorf("ensure container: %w", err)
	}

	if contentType == "" {
		mtype, err := mimetype.DetectFile(localPath)
		if err != nil {
			return "", fmt.Errorf("detect content type: %w", err)
		}
		contentType = mtype.String()
	}

	start := time.Now()
	if err := p.store.UploadFile(ctx, remotePath, localPath, contentType); err != nil {
		return "", fmt.Errorf("upload %s: %w", remotePath, err)
	}

	signed, err := p.store.SignReadURL(ctx, remotePath, ttl)
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", remotePath, err)
	}

	p.logger.Info().
		Str("remote_path", remotePath).
		Str("content_type", contentType).
		Int64("bytes", info.Size()).
		Dur("ttl", ttl).
		Int64("latency_ms", time.Since(start).Milliseconds()).
		Msg("blob uploaded and signed")

	return signed, nil
}

func (p *Publisher) ensureContainer(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ensured {
		return nil
	}
	if err := p.store.EnsureContainer(ctx); err != nil {
		return err
	}
	p.ensured = true
	return nil
}
