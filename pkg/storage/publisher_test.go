package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type uploadCall struct {
	remotePath  string
	localPath   string
	contentType string
}

type fakeStore struct {
	mu          sync.Mutex
	ensureCalls int
	ensureErr   error
	uploads     []uploadCall
	uploadErrs  []error
	signTTLs    []time.Duration
}

func (s *fakeStore) EnsureContainer(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureCalls++
	return s.ensureErr
}

func (s *fakeStore) UploadFile(_ context.Context, remotePath, localPath, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, uploadCall{remotePath, localPath, contentType})
	if len(s.uploadErrs) > 0 {
		err := s.uploadErrs[0]
		s.uploadErrs = s.uploadErrs[1:]
		return err
	}
	return nil
}

func (s *fakeStore) SignReadURL(_ context.Context, remotePath string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signTTLs = append(s.signTTLs, ttl)
	return "https://blob.example/" + remotePath + "?sig=abc", nil
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestUploadAndSignReturnsSignedURL(t *testing.T) {
	store := &fakeStore{}
	publisher := NewPublisher(store, zerolog.Nop())
	local := writeTempFile(t, "video.mp4", "data")

	url, err := publisher.UploadAndSign(context.Background(), "submissions/1/video.mp4", local, "video/mp4", time.Hour)
	require.NoError(t, err)
	require.Equal(t, "https://blob.example/submissions/1/video.mp4?sig=abc", url)
	require.Equal(t, []uploadCall{{"submissions/1/video.mp4", local, "video/mp4"}}, store.uploads)
	require.Equal(t, []time.Duration{time.Hour}, store.signTTLs)

	_, err = publisher.UploadAndSign(context.Background(), "submissions/1/audio.mp3", local, "audio/mpeg", time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, store.ensureCalls)
}

func TestUploadAndSignRejectsMissingLocalFile(t *testing.T) {
	store := &fakeStore{}
	publisher := NewPublisher(store, zerolog.Nop())

	_, err := publisher.UploadAndSign(context.Background(), "x", filepath.Join(t.TempDir(), "nope.mp4"), "video/mp4", time.Minute)
	require.ErrorIs(t, err, ErrLocalFileMissing)
	require.Empty(t, store.uploads)
	require.Zero(t, store.ensureCalls)
}

func TestUploadAndSignDetectsContentType(t *testing.T) {
	store := &fakeStore{}
	publisher := NewPublisher(store, zerolog.Nop())
	local := writeTempFile(t, "notes.txt", "plain words only")

	_, err := publisher.UploadAndSign(context.Background(), "notes.txt", local, "", time.Minute)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(store.uploads[0].contentType, "text/plain"))
}

func TestUploadAndSignRetriesEnsureAfterFailure(t *testing.T) {
	store := &fakeStore{ensureErr: errors.New("forbidden")}
	publisher := NewPublisher(store, zerolog.Nop())
	local := writeTempFile(t, "video.mp4", "data")

	_, err := publisher.UploadAndSign(context.Background(), "v", local, "video/mp4", time.Minute)
	require.ErrorContains(t, err, "forbidden")

	store.ensureErr = nil
	_, err = publisher.UploadAndSign(context.Background(), "v", local, "video/mp4", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 2, store.ensureCalls)
}
