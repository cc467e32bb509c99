// Package fetch downloads item content over HTTP into the library directory.
// It implements the pipeline's Transferer contract: incremental progress,
// chunk-boundary cancellation, and no partial output visible under a final
// name on failure.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/fetch/progress"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/logctx"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/media"
)

const (
	dirPerm = 0755

	// progressInterval is how many bytes pass between progress callbacks.
	progressInterval = 256 * 1024
)

// Client fetches item content over HTTP.
type Client struct {
	downloadDir string
	httpClient  *http.Client
}

// NewClient returns a transfer client writing under downloadDir.
func NewClient(downloadDir string, timeout time.Duration) *Client {
	return &Client{
		downloadDir: downloadDir,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// Transfer downloads the item's URL. Content is written to a .part file and
// renamed into place only after the body is fully consumed, so a failed
// transfer never leaves partial output under the final name.
func (c *Client) Transfer(ctx context.Context, item *media.Item, onProgress func(written, total int64) error) (string, error) {
	logger := logctx.LoggerFromContext(ctx).With("key", item.Key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.URL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", item.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: unexpected status %d", item.URL, resp.StatusCode)
	}

	target := filepath.Join(c.downloadDir, targetName(item))
	if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return "", fmt.Errorf("create target directory: %w", err)
	}

	logger.Info("downloading file",
		"target", target,
		"size", humanize.Bytes(uint64(max64(resp.ContentLength, 0))))

	part := target + ".part"
	if err := c.writeFile(part, resp.Body, resp.ContentLength, onProgress); err != nil {
		if removeErr := os.Remove(part); removeErr != nil && !os.IsNotExist(removeErr) {
			logger.Warn("failed to remove partial file", "path", part, "err", removeErr)
		}
		return "", err
	}

	if err := os.Rename(part, target); err != nil {
		_ = os.Remove(part)
		return "", fmt.Errorf("finalize %s: %w", target, err)
	}

	return target, nil
}

func (c *Client) writeFile(path string, body io.Reader, total int64, onProgress func(written, total int64) error) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create partial file: %w", err)
	}
	defer out.Close()

	pr := progress.NewReader(body, total, progressInterval, onProgress)
	if _, err := io.Copy(out, pr); err != nil {
		return fmt.Errorf("copy body: %w", err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("flush partial file: %w", err)
	}
	return nil
}

// targetName derives the on-disk file name from the item's metadata, falling
// back to the URL path and finally the item key.
func targetName(item *media.Item) string {
	ext := ""
	if u, err := url.Parse(item.URL); err == nil {
		ext = path.Ext(u.Path)
	}

	name := strings.TrimSpace(item.Name)
	if name != "" && strings.TrimSpace(item.By) != "" {
		name = item.By + " - " + name
	}
	if name == "" {
		if u, err := url.Parse(item.URL); err == nil {
			if base := path.Base(u.Path); base != "/" && base != "." && base != "" {
				return sanitize(base)
			}
		}
		name = item.Key
	}
	return sanitize(name + ext)
}

// sanitize strips path separators and characters that upset common
// filesystems.
func sanitize(name string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	return replacer.Replace(name)
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
