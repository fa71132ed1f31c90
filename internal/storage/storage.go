package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by write operations that target a missing record.
// Read paths return empty results instead.
var ErrNotFound = errors.New("download record not found")

// ContentType identifies the kind of lesson asset a record caches.
type ContentType string

const (
	ContentVideo ContentType = "video"
	ContentAudio ContentType = "audio"
	ContentPDF   ContentType = "pdf"
)

func (c ContentType) Valid() bool {
	switch c {
	case ContentVideo, ContentAudio, ContentPDF:
		return true
	}

	return false
}

// Status is the lifecycle state of a download record.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusPaused      Status = "paused"
)

// RecordID materializes the composite key (lessonID, contentType) as the
// single string id used everywhere: "{lessonId}_{contentType}".
func RecordID(lessonID string, contentType ContentType) string {
	return lessonID + "_" + string(contentType)
}

// DownloadRecord is one unit of cacheable lesson content. Exactly one record
// exists per (lessonID, contentType) pair.
type DownloadRecord struct {
	ID               string
	LessonID         string
	CourseID         string
	CourseTitle      string
	LessonTitle      string
	ContentType      ContentType
	RemoteURL        string
	LocalFileURI     string // empty until completed
	ExpectedFileSize int64  // best effort, 0 when unknown
	Status           Status
	ProgressPercent  float64
	CreatedAt        time.Time
}

// CatalogReader defines read-only access to the download catalog.
type CatalogReader interface {
	Get(ctx context.Context, id string) (*DownloadRecord, error)
	GetByCourse(ctx context.Context, courseID string) ([]DownloadRecord, error)
	GetAll(ctx context.Context) ([]DownloadRecord, error)
	SumCompletedFileSize(ctx context.Context) (int64, error)
	CountCompleted(ctx context.Context) (int, error)
}

// CatalogWriter defines the mutations the download manager performs. Every
// mutation is a single row operation; durability failures propagate unmodified.
type CatalogWriter interface {
	Upsert(ctx context.Context, rec *DownloadRecord) error
	SetProgress(ctx context.Context, id string, percent float64) error
	SetStatus(ctx context.Context, id string, status Status) error
	MarkCompleted(ctx context.Context, id, fileURI string) error
	SetFileSize(ctx context.Context, id string, size int64) error
	DeleteByID(ctx context.Context, id string) error
	DeleteByCourse(ctx context.Context, courseID string) ([]string, error)
	DemoteActive(ctx context.Context, to Status) (int64, error)
}

// Catalog aggregates read and write access to download records.
type Catalog interface {
	CatalogReader
	CatalogWriter
}
