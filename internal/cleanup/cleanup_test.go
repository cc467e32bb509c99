package cleanup_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/cleanup"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/history"
)

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))

	return path
}

func TestDeleteExpiredFiles(t *testing.T) {
	dir := t.TempDir()

	expired := writeFile(t, dir, "old.flac")
	fresh := writeFile(t, dir, "new.flac")

	records := []history.Record{
		{Key: "a", FilePath: expired, DownloadedAt: time.Now().Add(-48 * time.Hour).Format(time.RFC3339)},
		{Key: "b", FilePath: fresh, DownloadedAt: time.Now().Format(time.RFC3339)},
	}

	require.NoError(t, cleanup.DeleteExpiredFiles(context.Background(), records, 24*time.Hour))

	_, err := os.Stat(expired)
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}

func TestDeleteExpiredFilesSkipsMissing(t *testing.T) {
	records := []history.Record{
		{Key: "gone", FilePath: filepath.Join(t.TempDir(), "missing.mp3"), DownloadedAt: time.Now().Format(time.RFC3339)},
		{Key: "empty"},
	}

	assert.NoError(t, cleanup.DeleteExpiredFiles(context.Background(), records, time.Hour))
}

func TestDeleteExpiredFilesFallsBackToModTime(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "stale.ogg")

	stale := time.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(path, stale, stale))

	records := []history.Record{{Key: "c", FilePath: path, DownloadedAt: "not-a-time"}}

	require.NoError(t, cleanup.DeleteExpiredFiles(context.Background(), records, 24*time.Hour))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
