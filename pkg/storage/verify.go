package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Verifier checks that a signed URL is reachable.
type Verifier interface {
	Verify(ctx context.Context, signedURL string) error
}

// UnreachableError reports a non-2xx answer to a reachability check.
type UnreachableError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("HEAD %s returned %s", e.URL, e.Status)
}

// HTTPVerifier issues HEAD requests, retrying only transport failures.
type HTTPVerifier struct {
	client *retryablehttp.Client
}

// NewHTTPVerifier builds a verifier with a per-attempt timeout.
func NewHTTPVerifier(timeout time.Duration, retries int, logger zerolog.Logger) *HTTPVerifier {
	client := retryablehttp.NewClient()
	client.RetryMax = retries
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = timeout
	client.Logger = leveledLogger{logger: logger.With().Str("component", "blob_verifier").Logger()}
	client.CheckRetry = func(ctx context.Context, _ *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return err != nil, nil
	}

	return &HTTPVerifier{client: client}
}

func (v *HTTPVerifier) Verify(ctx context.Context, signedURL string) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, signedURL, nil)
	if err != nil {
		return fmt.Errorf("build HEAD request: %w", err)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		// url.Error repeats the signed URL, so keep only the cause.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return fmt.Errorf("HEAD %s: %w", redact(signedURL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &UnreachableError{URL: redact(signedURL), StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return nil
}

// VerifyAll checks every URL concurrently and returns the first failure.
func VerifyAll(ctx context.Context, verifier Verifier, urls ...string) error {
	group, ctx := errgroup.WithContext(ctx)
	for _, u := range urls {
		group.Go(func() error {
			return verifier.Verify(ctx, u)
		})
	}
	return group.Wait()
}

// redact drops the query string so signatures never reach logs or lastError.
func redact(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.String()
}

type leveledLogger struct {
	logger zerolog.Logger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Trace().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}
