package media

import "strings"

// Status represents the lifecycle of a download-stage record.
type Status string

const (
	StatusWaiting     Status = "Waiting"
	StatusDownloading Status = "Downloading"
	StatusDownloaded  Status = "Downloaded"
	StatusFailed      Status = "Failed"
	StatusCancelled   Status = "Cancelled"
	StatusUnavailable Status = "Unavailable"
	StatusDeleted     Status = "Deleted"
)

var allStatuses = []Status{
	StatusWaiting,
	StatusDownloading,
	StatusDownloaded,
	StatusFailed,
	StatusCancelled,
	StatusUnavailable,
	StatusDeleted,
}

// Terminal reports whether the status ends the record's lifetime. Failed and
// Cancelled are not terminal: the retry sweeper or a manual retry moves them
// back to Waiting.
func (s Status) Terminal() bool {
	switch s {
	case StatusDownloaded, StatusUnavailable, StatusDeleted:
		return true
	}
	return false
}

// Retryable reports whether the record can be reset to Waiting.
func (s Status) Retryable() bool {
	return s == StatusFailed || s == StatusCancelled
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	trimmed := strings.TrimSpace(value)
	for _, status := range allStatuses {
		if strings.EqualFold(trimmed, string(status)) {
			return status, true
		}
	}
	return "", false
}
