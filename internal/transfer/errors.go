package transfer

import (
	"errors"
	"fmt"
)

// StopReason records why an active transfer was deliberately stopped.
type StopReason string

const (
	StopPause  StopReason = "pause"
	StopCancel StopReason = "cancel"
)

// CanceledError marks a transfer that stopped because it was asked to, not
// because of an I/O failure. The executor must suppress the failure status
// write when it sees this error: on cancel the record has already been
// deleted, and writing 'failed' would resurrect it.
type CanceledError struct {
	Reason StopReason // why the stop was requested
	Err    error      // underlying context error, if any
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("transfer stopped on %s request", e.Reason)
}

func (e *CanceledError) Unwrap() error {
	return e.Err
}

// IsCanceled reports whether err is a deliberate transfer stop.
func IsCanceled(err error) bool {
	var ce *CanceledError

	return errors.As(err, &ce)
}

// HTTPStatusError represents a non-2xx response from the remote asset host.
type HTTPStatusError struct {
	URL        string // the remote URL that was requested
	StatusCode int    // HTTP status code of the response
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d fetching %s", e.StatusCode, e.URL)
}

// StorageError represents a local disk failure while receiving a transfer,
// such as a failed directory creation or file write.
type StorageError struct {
	Path string // the local path being written
	Op   string // the operation that failed (e.g. "create", "copy")
	Err  error  // underlying error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s of %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
