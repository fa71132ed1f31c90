package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coursecache/coursecache/internal/transfer/progress"
)

const defaultProgressInterval = 256 * 1024 // bytes between progress reports

// Transfer is one active byte-stream copying a remote asset to local storage.
// Pause and Cancel are cooperative: they may race with natural completion,
// and asking a finished transfer to stop is a harmless no-op.
//
// This implementation has no byte-range resumption: a paused transfer
// restarts from zero when the record is resumed.
type Transfer interface {
	// Pause stops the transfer, leaving partial bytes on disk.
	Pause()
	// Cancel stops the transfer; the caller is expected to delete the
	// partial file.
	Cancel()
	// Done is closed when the transfer has fully wound down.
	Done() <-chan struct{}
	// Err is valid after Done: nil on success, *CanceledError on a
	// deliberate stop, anything else is a genuine transfer failure.
	Err() error
	// Written returns the bytes received so far.
	Written() int64
}

// Client performs plain HTTP(S) GET transfers against remote asset URLs.
type Client struct {
	http             *http.Client
	timeout          time.Duration
	progressInterval int64
}

// NewClient builds a transfer client. A zero timeout disables the
// per-transfer deadline.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		http:             &http.Client{},
		timeout:          timeout,
		progressInterval: defaultProgressInterval,
	}
}

// Start begins streaming remoteURL into destPath and returns a handle for the
// in-flight transfer. expectedSize is a best-effort hint used for progress
// when the server sends no Content-Length; zero means unknown. onProgress
// receives cumulative written bytes and the total (0 when unknown).
func (c *Client) Start(ctx context.Context, remoteURL, destPath string, expectedSize int64, onProgress func(written, total int64)) (Transfer, error) {
	var cancel context.CancelFunc
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		cancel()

		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()

		return nil, fmt.Errorf("failed to fetch %s: %w", remoteURL, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		resp.Body.Close()
		cancel()

		return nil, &HTTPStatusError{URL: remoteURL, StatusCode: resp.StatusCode}
	}

	total := expectedSize
	if resp.ContentLength > 0 {
		total = resp.ContentLength
	}

	out, err := os.Create(destPath)
	if err != nil {
		resp.Body.Close()
		cancel()

		return nil, &StorageError{Path: destPath, Op: "create", Err: err}
	}

	t := &httpTransfer{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go t.run(resp.Body, out, destPath, total, c.progressInterval, onProgress)

	return t, nil
}

type httpTransfer struct {
	cancel  context.CancelFunc
	done    chan struct{}
	written atomic.Int64

	mu         sync.Mutex
	stopReason StopReason
	err        error
}

func (t *httpTransfer) run(body io.ReadCloser, out *os.File, destPath string, total, interval int64, onProgress func(written, total int64)) {
	// Release the per-transfer context even on natural completion, or the
	// parent keeps tracking it (and its timeout timer) for the process
	// lifetime.
	defer close(t.done)
	defer t.cancel()
	defer out.Close()
	defer body.Close()

	pr := progress.NewReader(body, total, interval, func(written, total int64) {
		t.written.Store(written)

		if onProgress != nil {
			onProgress(written, total)
		}
	})

	written, err := io.Copy(out, pr)
	t.written.Store(written)

	if err == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopReason != "" {
		t.err = &CanceledError{Reason: t.stopReason, Err: err}

		return
	}

	t.err = fmt.Errorf("failed to stream into %s: %w", destPath, err)
}

func (t *httpTransfer) stop(reason StopReason) {
	t.mu.Lock()
	if t.stopReason == "" {
		t.stopReason = reason
	}
	t.mu.Unlock()

	t.cancel()
}

func (t *httpTransfer) Pause()  { t.stop(StopPause) }
func (t *httpTransfer) Cancel() { t.stop(StopCancel) }

func (t *httpTransfer) Done() <-chan struct{} {
	return t.done
}

func (t *httpTransfer) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.err
}

func (t *httpTransfer) Written() int64 {
	return t.written.Load()
}
