package storage

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Well-known development storage key; signing happens locally.
const devAccountKey = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="

func TestAzureSignReadURLBackdatesStart(t *testing.T) {
	store, err := NewAzureStore("devstoreaccount1", devAccountKey, "https://devstoreaccount1.blob.core.windows.net/", "media")
	require.NoError(t, err)

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	signed, err := store.SignReadURL(context.Background(), "submissions/1/video.mp4", 60*time.Minute)
	require.NoError(t, err)

	parsed, err := url.Parse(signed)
	require.NoError(t, err)
	require.Equal(t, "/media/submissions/1/video.mp4", parsed.Path)

	query := parsed.Query()
	require.Equal(t, "r", query.Get("sp"))

	start, err := time.Parse(time.RFC3339, query.Get("st"))
	require.NoError(t, err)
	require.Equal(t, fixed.Add(-5*time.Minute), start)

	expiry, err := time.Parse(time.RFC3339, query.Get("se"))
	require.NoError(t, err)
	require.Equal(t, fixed.Add(time.Hour), expiry)
}

func TestMinioSignReadURLCapsExpiry(t *testing.T) {
	store, err := NewMinioStore("localhost:9000", "minio", "minio123", false, "", "media")
	require.NoError(t, err)

	signed, err := store.SignReadURL(context.Background(), "submissions/1/audio.mp3", 30*24*time.Hour)
	require.NoError(t, err)

	parsed, err := url.Parse(signed)
	require.NoError(t, err)
	require.Equal(t, "/media/submissions/1/audio.mp3", parsed.Path)
	require.Equal(t, "604800", parsed.Query().Get("X-Amz-Expires"))
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(Config{Driver: "ftp", Container: "media"})
	require.ErrorIs(t, err, ErrUnsupportedDriver)
}
