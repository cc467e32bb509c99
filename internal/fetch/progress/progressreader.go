// Package progress wraps readers to report byte progress at a configurable
// interval.
package progress

import "io"

// Reader wraps an io.Reader and reports progress via a callback. A non-nil
// error from the callback aborts the read, which gives downloads a
// cancellation point at chunk-boundary granularity.
type Reader struct {
	reader         io.Reader
	total          int64
	onProgress     func(written, total int64) error
	totalRead      int64 // cumulative total
	sinceReport    int64 // bytes since last report
	reportInterval int64 // bytes
}

// NewReader returns a progress-reporting reader. The callback fires whenever
// interval bytes have passed since the last report, and once more at EOF.
func NewReader(r io.Reader, total, interval int64, cb func(written, total int64) error) *Reader {
	return &Reader{
		reader:         r,
		total:          total,
		onProgress:     cb,
		reportInterval: interval,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.totalRead += int64(n)
		pr.sinceReport += int64(n)
		if pr.sinceReport >= pr.reportInterval || err == io.EOF {
			if cbErr := pr.onProgress(pr.totalRead, pr.total); cbErr != nil {
				return n, cbErr
			}
			pr.sinceReport = 0
		}
	}
	return n, err
}
