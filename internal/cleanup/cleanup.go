// Package cleanup removes downloaded files once their retention window
// expires.
package cleanup

import (
	"context"
	"os"
	"time"

	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/history"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/logctx"
)

// DeleteExpiredFiles deletes files older than keepDuration based on the
// recorded download time, falling back to the file's mod time when the record
// is unparseable.
func DeleteExpiredFiles(ctx context.Context, records []history.Record, keepDuration time.Duration) error {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	for _, rec := range records {
		if rec.FilePath == "" {
			continue
		}

		info, err := os.Stat(rec.FilePath)
		if err != nil {
			if os.IsNotExist(err) {
				continue // already deleted
			}

			logger.Error("failed to stat file", "file", rec.FilePath, "err", err)

			return err
		}

		downloadedAt, err := time.Parse(time.RFC3339, rec.DownloadedAt)
		if err != nil {
			logger.Warn("failed to parse download time, using file mod time", "file", rec.FilePath, "err", err)

			downloadedAt = info.ModTime()
		}

		if now.Sub(downloadedAt) > keepDuration {
			if err := os.Remove(rec.FilePath); err != nil && !os.IsNotExist(err) {
				logger.Error("failed to delete expired file", "file", rec.FilePath, "err", err)

				return err
			}

			logger.Info("deleted expired file", "file", rec.FilePath)
		}
	}

	return nil
}
