package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/coursecache/coursecache/internal/logctx"
	"github.com/coursecache/coursecache/internal/storage"
	"github.com/coursecache/coursecache/internal/telemetry"
	"github.com/coursecache/coursecache/internal/transfer"
	"github.com/coursecache/coursecache/internal/transfer/progress"
	"github.com/dustin/go-humanize"
)

const dirPerm = 0755

// TransferStarter abstracts the transfer client so the executor can be
// exercised with a fake in tests.
type TransferStarter interface {
	Start(ctx context.Context, remoteURL, destPath string, expectedSize int64, onProgress func(written, total int64)) (transfer.Transfer, error)
}

// Executor performs one binary transfer for one record: it prepares the
// destination path, streams bytes, forwards incremental progress, and
// finalizes or marks failure. It owns at most one active transfer per record
// id, tracked in an in-memory handle map so pause and cancel can reach it.
type Executor struct {
	catalog     storage.Catalog
	client      TransferStarter
	events      *Events
	tel         *telemetry.Telemetry
	offlineRoot string

	mu     sync.Mutex
	active map[string]transfer.Transfer
}

func NewExecutor(catalog storage.Catalog, client TransferStarter, events *Events, tel *telemetry.Telemetry, offlineRoot string) *Executor {
	return &Executor{
		catalog:     catalog,
		client:      client,
		events:      events,
		tel:         tel,
		offlineRoot: offlineRoot,
		active:      make(map[string]transfer.Transfer),
	}
}

// DestPath composes the destination as {offlineRoot}/{contentType}/{id}.{ext}.
func (e *Executor) DestPath(rec *storage.DownloadRecord) string {
	return filepath.Join(e.offlineRoot, string(rec.ContentType),
		rec.ID+"."+fileExt(rec.RemoteURL, rec.ContentType))
}

// Run executes the full transfer for one record and blocks until it reaches
// an outcome. A record that disappeared from the catalog while queued (a
// cancel raced the admission) returns storage.ErrNotFound.
func (e *Executor) Run(ctx context.Context, id string) error {
	logger := logctx.LoggerFromContext(ctx).With("record_id", id)

	rec, err := e.catalog.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load record: %w", err)
	}

	if rec == nil {
		logger.Debug("record removed before admission, skipping")

		return storage.ErrNotFound
	}

	if rec.Status != storage.StatusPending {
		logger.Debug("record no longer pending, skipping", "status", string(rec.Status))

		return nil
	}

	destPath := e.DestPath(rec)
	if err := os.MkdirAll(filepath.Dir(destPath), dirPerm); err != nil {
		e.fail(ctx, id, logger, fmt.Errorf("failed to create content directory: %w", err))

		return err
	}

	if err := e.catalog.SetStatus(ctx, id, storage.StatusDownloading); err != nil {
		return fmt.Errorf("failed to mark record downloading: %w", err)
	}

	e.events.publishStatus(StatusEvent{ID: id, Status: storage.StatusDownloading})

	logger.Info("starting transfer",
		"remote_url", rec.RemoteURL,
		"dest", destPath,
		"expected_size", humanize.Bytes(uint64(max(rec.ExpectedFileSize, 0))))

	start := time.Now()

	e.tel.IncrementActiveDownloads()
	defer e.tel.DecrementActiveDownloads()

	tr, err := e.client.Start(ctx, rec.RemoteURL, destPath, rec.ExpectedFileSize, func(written, total int64) {
		pct := progress.Percent(written, total)

		if err := e.catalog.SetProgress(ctx, id, pct); err != nil {
			logger.Error("failed to persist progress", "err", err)
		}

		e.events.publishProgress(ProgressEvent{ID: id, Percent: pct})
	})
	if err != nil {
		e.fail(ctx, id, logger, err)
		e.tel.RecordDownload("error", time.Since(start))

		return err
	}

	e.mu.Lock()
	e.active[id] = tr
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.active, id)
		e.mu.Unlock()
	}()

	// A cancel may have deleted the record between Start and the handle
	// registration above; it had no handle to stop, so stop the transfer
	// ourselves and clean up the partial file the cancel path never saw.
	if rec, err := e.catalog.Get(ctx, id); err == nil && rec == nil {
		tr.Cancel()

		<-tr.Done()

		if err := os.Remove(destPath); err != nil && !os.IsNotExist(err) {
			logger.Error("failed to remove partial file", "path", destPath, "err", err)
		}

		e.tel.RecordDownload("stopped", time.Since(start))

		return storage.ErrNotFound
	}

	<-tr.Done()

	switch err := tr.Err(); {
	case err == nil:
		e.finalize(ctx, id, destPath, rec.ExpectedFileSize, logger)
		e.tel.RecordDownload("success", time.Since(start))
		e.tel.RecordDownloadedBytes(tr.Written())

		return nil
	case transfer.IsCanceled(err):
		// Deliberate stop: on cancel the record is already gone, on pause
		// the manager has set the status. Writing 'failed' here would
		// resurrect a deleted record.
		logger.Debug("transfer stopped on request", "reason", err.Error())
		e.tel.RecordDownload("stopped", time.Since(start))

		return nil
	default:
		e.fail(ctx, id, logger, err)
		e.tel.RecordDownload("error", time.Since(start))

		return err
	}
}

// PauseActive asks the in-flight transfer for id to pause. Reports whether a
// handle existed.
func (e *Executor) PauseActive(id string) bool {
	e.mu.Lock()
	tr, ok := e.active[id]
	e.mu.Unlock()

	if ok {
		tr.Pause()
	}

	return ok
}

// CancelActive asks the in-flight transfer for id to stop. Stopping a
// transfer that already finished is a harmless no-op.
func (e *Executor) CancelActive(id string) bool {
	e.mu.Lock()
	tr, ok := e.active[id]
	e.mu.Unlock()

	if ok {
		tr.Cancel()
	}

	return ok
}

func (e *Executor) finalize(ctx context.Context, id, destPath string, expectedSize int64, logger *slog.Logger) {
	if err := e.catalog.MarkCompleted(ctx, id, destPath); err != nil {
		logger.Error("failed to mark record completed", "err", err)

		return
	}

	// Size estimates from the lesson service are unreliable; once the real
	// size is on disk, accounting uses the measured value.
	if info, err := os.Stat(destPath); err == nil && info.Size() != expectedSize {
		if err := e.catalog.SetFileSize(ctx, id, info.Size()); err != nil {
			logger.Error("failed to correct file size", "err", err)
		}
	}

	e.events.publishStatus(StatusEvent{ID: id, Status: storage.StatusCompleted})

	logger.Info("transfer completed", "dest", destPath)
}

func (e *Executor) fail(ctx context.Context, id string, logger *slog.Logger, cause error) {
	logger.Error("transfer failed", "err", cause)

	if err := e.catalog.SetStatus(ctx, id, storage.StatusFailed); err != nil {
		logger.Error("failed to mark record failed", "err", err)

		return
	}

	e.events.publishStatus(StatusEvent{ID: id, Status: storage.StatusFailed})
}

// fileExt derives the destination extension from the remote URL's path when
// it is a recognized media extension, else falls back to the content-type
// default.
func fileExt(remoteURL string, contentType storage.ContentType) string {
	if u, err := url.Parse(remoteURL); err == nil {
		ext := strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), ".")
		switch ext {
		case "mp4", "mp3", "pdf", "webm", "mov", "m4a", "aac", "wav":
			return ext
		}
	}

	switch contentType {
	case storage.ContentAudio:
		return "mp3"
	case storage.ContentPDF:
		return "pdf"
	default:
		return "mp4"
	}
}
