package pipeline

import (
	"errors"
	"fmt"
)

// ErrCancelled aborts a transfer when the record's status flips to Cancelled
// mid-download. Checked at chunk-boundary granularity by the progress
// callback.
var ErrCancelled = errors.New("download cancelled")

// ResolutionError marks a raw input that could not be turned into item
// descriptors. Treated as non-transient: the item is logged and dropped.
type ResolutionError struct {
	Input string // The raw URL or search input that failed to resolve
	Err   error  // Underlying error, if any
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve %q", e.Input)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// MetadataError marks a failed metadata fetch. Treated as transient: the
// enricher requeues the item until the attempt bound is hit.
type MetadataError struct {
	Service string // Service tag of the item
	ItemID  string // Item identifier within the service
	Err     error  // Underlying error, if any
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("failed to fetch metadata for %s item %s", e.Service, e.ItemID)
}

func (e *MetadataError) Unwrap() error {
	return e.Err
}

// TransferError marks a failed download. The record is left Failed and
// available; the retry sweeper or a manual retry moves it back to Waiting.
type TransferError struct {
	Key string // Stage-queue key of the record
	Err error  // Underlying error, if any
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer failed for item %s", e.Key)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}
