package downloader

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/coursecache/coursecache/internal/logctx"
	"github.com/coursecache/coursecache/internal/storage"
	"golang.org/x/sync/errgroup"
)

// StartParams describes one unit of cacheable content handed over by the
// course/lesson service. Titles are denormalized display fields and are never
// re-fetched.
type StartParams struct {
	LessonID         string
	CourseID         string
	CourseTitle      string
	LessonTitle      string
	ContentType      storage.ContentType
	RemoteURL        string
	ExpectedFileSize int64
}

// CourseLesson is one lesson row from the course service; any of the three
// asset URLs may be empty.
type CourseLesson struct {
	LessonID    string
	LessonTitle string
	VideoURL    string
	AudioURL    string
	PDFURL      string
}

// CourseParams describes a whole-course download request.
type CourseParams struct {
	CourseID    string
	CourseTitle string
	Lessons     []CourseLesson
}

// Usage is the aggregate storage accounting over completed records.
type Usage struct {
	TotalBytes     int64
	CompletedCount int
}

// Manager is the façade the rest of the app talks to. It mutates the catalog
// and drives the scheduler; it is the only component with public download
// operations.
type Manager struct {
	catalog storage.Catalog
	exec    *Executor
	sched   *Scheduler
	events  *Events
}

func NewManager(catalog storage.Catalog, exec *Executor, sched *Scheduler, events *Events) *Manager {
	return &Manager{
		catalog: catalog,
		exec:    exec,
		sched:   sched,
		events:  events,
	}
}

// Events exposes the observation bridge for subscribers.
func (m *Manager) Events() *Events {
	return m.events
}

// StartDownload creates or resets the record for (lessonID, contentType) and
// admits it to the queue. Start is idempotent: a record that is already
// downloading or completed is left alone and its id returned.
func (m *Manager) StartDownload(ctx context.Context, p StartParams) (string, error) {
	if !p.ContentType.Valid() {
		return "", fmt.Errorf("invalid content type %q", p.ContentType)
	}

	if p.LessonID == "" || p.RemoteURL == "" {
		return "", fmt.Errorf("lesson id and remote url are required")
	}

	id := storage.RecordID(p.LessonID, p.ContentType)

	existing, err := m.catalog.Get(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to look up record: %w", err)
	}

	if existing != nil {
		switch existing.Status {
		case storage.StatusCompleted, storage.StatusDownloading:
			return id, nil
		case storage.StatusPending:
			// Already queued; make sure it is admitted.
			m.sched.Enqueue(id)

			return id, nil
		}
	}

	rec := &storage.DownloadRecord{
		ID:               id,
		LessonID:         p.LessonID,
		CourseID:         p.CourseID,
		CourseTitle:      p.CourseTitle,
		LessonTitle:      p.LessonTitle,
		ContentType:      p.ContentType,
		RemoteURL:        p.RemoteURL,
		ExpectedFileSize: p.ExpectedFileSize,
		Status:           storage.StatusPending,
		CreatedAt:        time.Now(),
	}

	if err := m.catalog.Upsert(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to persist record: %w", err)
	}

	m.events.publishStatus(StatusEvent{ID: id, Status: storage.StatusPending})
	m.sched.Enqueue(id)

	return id, nil
}

// PauseDownload pauses an actively downloading record. Pausing anything else
// is a no-op. The concurrency slot frees as soon as the stopped transfer
// winds down.
func (m *Manager) PauseDownload(ctx context.Context, id string) error {
	rec, err := m.catalog.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to look up record: %w", err)
	}

	if rec == nil || rec.Status != storage.StatusDownloading {
		return nil
	}

	m.exec.PauseActive(id)

	if err := m.catalog.SetStatus(ctx, id, storage.StatusPaused); err != nil {
		return fmt.Errorf("failed to mark record paused: %w", err)
	}

	m.events.publishStatus(StatusEvent{ID: id, Status: storage.StatusPaused})

	return nil
}

// ResumeDownload re-admits a paused record. Resuming a non-paused record is
// a no-op. The transfer restarts from zero.
func (m *Manager) ResumeDownload(ctx context.Context, id string) error {
	rec, err := m.catalog.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to look up record: %w", err)
	}

	if rec == nil || rec.Status != storage.StatusPaused {
		return nil
	}

	if err := m.catalog.SetStatus(ctx, id, storage.StatusPending); err != nil {
		return fmt.Errorf("failed to mark record pending: %w", err)
	}

	m.events.publishStatus(StatusEvent{ID: id, Status: storage.StatusPending})
	m.sched.Enqueue(id)

	return nil
}

// CancelDownload stops any active transfer, deletes the backing file if one
// exists, and removes the catalog row. Cancellation is destructive and
// idempotent; cancelling an absent id does nothing.
func (m *Manager) CancelDownload(ctx context.Context, id string) error {
	logger := logctx.LoggerFromContext(ctx)

	// Best effort: the transfer may have just finished on its own.
	m.exec.CancelActive(id)
	m.sched.Remove(id)

	rec, err := m.catalog.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to look up record: %w", err)
	}

	if rec == nil {
		return nil
	}

	for _, path := range []string{rec.LocalFileURI, m.exec.DestPath(rec)} {
		if path == "" {
			continue
		}

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Error("failed to remove cached file", "record_id", id, "path", path, "err", err)
		}
	}

	if err := m.catalog.DeleteByID(ctx, id); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}

	m.events.publishStatus(StatusEvent{ID: id, Removed: true})

	return nil
}

// DownloadAllCourse issues an independent start per present asset URL of
// every lesson: a course with N lessons each carrying a video and a PDF
// yields 2N queue entries, not one grouped unit. Returns the started ids.
func (m *Manager) DownloadAllCourse(ctx context.Context, p CourseParams) ([]string, error) {
	var ids []string

	for _, lesson := range p.Lessons {
		for _, asset := range []struct {
			contentType storage.ContentType
			url         string
		}{
			{storage.ContentVideo, lesson.VideoURL},
			{storage.ContentAudio, lesson.AudioURL},
			{storage.ContentPDF, lesson.PDFURL},
		} {
			if asset.url == "" {
				continue
			}

			id, err := m.StartDownload(ctx, StartParams{
				LessonID:    lesson.LessonID,
				CourseID:    p.CourseID,
				CourseTitle: p.CourseTitle,
				LessonTitle: lesson.LessonTitle,
				ContentType: asset.contentType,
				RemoteURL:   asset.url,
			})
			if err != nil {
				return ids, fmt.Errorf("failed to start %s for lesson %s: %w", asset.contentType, lesson.LessonID, err)
			}

			ids = append(ids, id)
		}
	}

	return ids, nil
}

// ClearCourseDownloads removes every record for the course and deletes the
// backing files the catalog reported, tolerating files already gone.
func (m *Manager) ClearCourseDownloads(ctx context.Context, courseID string) error {
	records, err := m.catalog.GetByCourse(ctx, courseID)
	if err != nil {
		return fmt.Errorf("failed to list course records: %w", err)
	}

	for _, rec := range records {
		if rec.Status == storage.StatusDownloading || rec.Status == storage.StatusPending {
			m.exec.CancelActive(rec.ID)
			m.sched.Remove(rec.ID)
		}
	}

	uris, err := m.catalog.DeleteByCourse(ctx, courseID)
	if err != nil {
		return fmt.Errorf("failed to delete course records: %w", err)
	}

	wg, _ := errgroup.WithContext(ctx)

	for _, uri := range uris {
		wg.Go(func() error {
			if err := os.Remove(uri); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove %s: %w", uri, err)
			}

			return nil
		})
	}

	if err := wg.Wait(); err != nil {
		return err
	}

	for _, rec := range records {
		m.events.publishStatus(StatusEvent{ID: rec.ID, Removed: true})
	}

	return nil
}

// GetOfflineURI returns a usable local path only when the record is completed
// and the file still exists. A completed record whose file was removed
// out-of-band is self-healed to 'failed' so stale state does not persist.
func (m *Manager) GetOfflineURI(ctx context.Context, lessonID string, contentType storage.ContentType) (string, error) {
	id := storage.RecordID(lessonID, contentType)

	rec, err := m.catalog.Get(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to look up record: %w", err)
	}

	if rec == nil || rec.Status != storage.StatusCompleted || rec.LocalFileURI == "" {
		return "", nil
	}

	if _, err := os.Stat(rec.LocalFileURI); err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to stat cached file: %w", err)
		}

		if err := m.catalog.SetStatus(ctx, id, storage.StatusFailed); err != nil {
			return "", fmt.Errorf("failed to mark stale record failed: %w", err)
		}

		m.events.publishStatus(StatusEvent{ID: id, Status: storage.StatusFailed})

		return "", nil
	}

	return rec.LocalFileURI, nil
}

// GetDownload returns the record for id, or nil when it does not exist.
func (m *Manager) GetDownload(ctx context.Context, id string) (*storage.DownloadRecord, error) {
	return m.catalog.Get(ctx, id)
}

// ListDownloads returns every record, newest first.
func (m *Manager) ListDownloads(ctx context.Context) ([]storage.DownloadRecord, error) {
	return m.catalog.GetAll(ctx)
}

// ListCourseDownloads returns the records of one course, newest first.
func (m *Manager) ListCourseDownloads(ctx context.Context, courseID string) ([]storage.DownloadRecord, error) {
	return m.catalog.GetByCourse(ctx, courseID)
}

// StorageUsage reports total bytes and completed count. Aggregates degrade to
// zero instead of erroring when the catalog is briefly unavailable.
func (m *Manager) StorageUsage(ctx context.Context) Usage {
	logger := logctx.LoggerFromContext(ctx)

	var usage Usage

	bytes, err := m.catalog.SumCompletedFileSize(ctx)
	if err != nil {
		logger.Error("failed to sum completed file sizes", "err", err)

		return usage
	}

	count, err := m.catalog.CountCompleted(ctx)
	if err != nil {
		logger.Error("failed to count completed records", "err", err)

		return usage
	}

	usage.TotalBytes = bytes
	usage.CompletedCount = count

	return usage
}

// Reconcile demotes records orphaned in transient states by an unclean
// shutdown to 'paused', so the user can resume them. Run once at startup
// before any download is admitted.
func (m *Manager) Reconcile(ctx context.Context) (int64, error) {
	demoted, err := m.catalog.DemoteActive(ctx, storage.StatusPaused)
	if err != nil {
		return 0, fmt.Errorf("failed to demote orphaned records: %w", err)
	}

	if demoted > 0 {
		logctx.LoggerFromContext(ctx).Info("demoted orphaned downloads to paused", "count", demoted)
	}

	return demoted, nil
}
