package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/coursecache/coursecache/internal/storage"
)

const recordColumns = `id, lesson_id, course_id, course_title, lesson_title,
	content_type, remote_url, local_file_uri, expected_file_size, status,
	progress_percent, created_at`

// Catalog stores download records in SQLite. It is the single source of
// truth for record lifecycle; it never touches the filesystem.
type Catalog struct {
	db *sql.DB
}

func NewCatalog(dbConn *sql.DB) *Catalog {
	return &Catalog{db: dbConn}
}

// Upsert inserts or fully replaces the record by id. Acts as create-or-reset.
func (c *Catalog) Upsert(ctx context.Context, rec *storage.DownloadRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO downloads (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			lesson_id = excluded.lesson_id,
			course_id = excluded.course_id,
			course_title = excluded.course_title,
			lesson_title = excluded.lesson_title,
			content_type = excluded.content_type,
			remote_url = excluded.remote_url,
			local_file_uri = excluded.local_file_uri,
			expected_file_size = excluded.expected_file_size,
			status = excluded.status,
			progress_percent = excluded.progress_percent,
			created_at = excluded.created_at
	`, rec.ID, rec.LessonID, rec.CourseID, rec.CourseTitle, rec.LessonTitle,
		string(rec.ContentType), rec.RemoteURL, nullableURI(rec.LocalFileURI),
		rec.ExpectedFileSize, string(rec.Status), rec.ProgressPercent,
		rec.CreatedAt.Format(time.RFC3339))

	return err
}

// SetProgress updates the progress percentage and forces status to
// 'downloading'. Progress reports only arrive while a transfer is active, so
// the conflation is deliberate. A missing id is a no-op, and so is a record
// no longer pending or downloading: a report that lands after a pause or
// failure must not flip the record back.
func (c *Catalog) SetProgress(ctx context.Context, id string, percent float64) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE downloads SET progress_percent = ?, status = ? WHERE id = ? AND status IN (?, ?)`,
		percent, string(storage.StatusDownloading), id,
		string(storage.StatusPending), string(storage.StatusDownloading))

	return err
}

// SetStatus updates the status of a record. A missing id is a no-op, which
// keeps a late failure write from resurrecting a cancelled record.
func (c *Catalog) SetStatus(ctx context.Context, id string, status storage.Status) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE downloads SET status = ? WHERE id = ?`, string(status), id)

	return err
}

// MarkCompleted transitions a record to 'completed', recording the local file
// location and forcing progress to 100.
func (c *Catalog) MarkCompleted(ctx context.Context, id, fileURI string) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE downloads SET status = ?, local_file_uri = ?, progress_percent = 100 WHERE id = ?`,
		string(storage.StatusCompleted), fileURI, id)

	return err
}

// SetFileSize corrects the stored size once the real on-disk size is known.
func (c *Catalog) SetFileSize(ctx context.Context, id string, size int64) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE downloads SET expected_file_size = ? WHERE id = ?`, size, id)

	return err
}

// Get returns the record for id, or nil when no such record exists.
func (c *Catalog) Get(ctx context.Context, id string) (*storage.DownloadRecord, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM downloads WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return rec, nil
}

// GetByCourse returns every record belonging to a course, newest first.
func (c *Catalog) GetByCourse(ctx context.Context, courseID string) ([]storage.DownloadRecord, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM downloads WHERE course_id = ? ORDER BY created_at DESC`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectRecords(rows)
}

// GetAll returns every record in the catalog, newest first.
func (c *Catalog) GetAll(ctx context.Context) ([]storage.DownloadRecord, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM downloads ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectRecords(rows)
}

// SumCompletedFileSize returns the total bytes accounted to completed records.
func (c *Catalog) SumCompletedFileSize(ctx context.Context) (int64, error) {
	var total int64

	err := c.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(expected_file_size), 0) FROM downloads WHERE status = ?`,
		string(storage.StatusCompleted)).Scan(&total)

	return total, err
}

// CountCompleted returns the number of completed records.
func (c *Catalog) CountCompleted(ctx context.Context) (int, error) {
	var count int

	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM downloads WHERE status = ?`,
		string(storage.StatusCompleted)).Scan(&count)

	return count, err
}

// DeleteByID removes the row. Deleting the backing file is the caller's job.
func (c *Catalog) DeleteByID(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM downloads WHERE id = ?`, id)

	return err
}

// DeleteByCourse removes all rows for a course and returns the local file
// URIs that existed, so the caller can delete the files afterwards.
func (c *Catalog) DeleteByCourse(ctx context.Context, courseID string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT local_file_uri FROM downloads WHERE course_id = ? AND local_file_uri IS NOT NULL AND local_file_uri != ''`,
		courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uris []string

	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, err
		}

		uris = append(uris, uri)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := c.db.ExecContext(ctx, `DELETE FROM downloads WHERE course_id = ?`, courseID); err != nil {
		return nil, err
	}

	return uris, nil
}

// DemoteActive moves every record left in 'downloading' or 'pending' to the
// given status. Run once at startup to reconcile rows orphaned by an unclean
// shutdown. Returns the number of demoted rows.
func (c *Catalog) DemoteActive(ctx context.Context, to storage.Status) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`UPDATE downloads SET status = ? WHERE status IN (?, ?)`,
		string(to), string(storage.StatusDownloading), string(storage.StatusPending))
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*storage.DownloadRecord, error) {
	var (
		rec         storage.DownloadRecord
		contentType string
		status      string
		fileURI     sql.NullString
		createdAt   string
	)

	err := row.Scan(&rec.ID, &rec.LessonID, &rec.CourseID, &rec.CourseTitle,
		&rec.LessonTitle, &contentType, &rec.RemoteURL, &fileURI,
		&rec.ExpectedFileSize, &status, &rec.ProgressPercent, &createdAt)
	if err != nil {
		return nil, err
	}

	rec.ContentType = storage.ContentType(contentType)
	rec.Status = storage.Status(status)

	if fileURI.Valid {
		rec.LocalFileURI = fileURI.String
	}

	if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
		rec.CreatedAt = ts
	}

	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]storage.DownloadRecord, error) {
	var records []storage.DownloadRecord

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		records = append(records, *rec)
	}

	return records, rows.Err()
}

func nullableURI(uri string) any {
	if uri == "" {
		return nil
	}

	return uri
}
