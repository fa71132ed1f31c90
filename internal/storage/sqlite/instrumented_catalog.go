package sqlite

import (
	"context"
	"database/sql"

	"github.com/coursecache/coursecache/internal/storage"
	"github.com/coursecache/coursecache/internal/telemetry"
)

// InstrumentedCatalog wraps Catalog with telemetry around every operation.
type InstrumentedCatalog struct {
	catalog   *Catalog
	telemetry *telemetry.Telemetry
}

// NewInstrumentedCatalog creates a new instrumented catalog.
func NewInstrumentedCatalog(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedCatalog {
	return &InstrumentedCatalog{
		catalog:   NewCatalog(dbConn),
		telemetry: tel,
	}
}

func (c *InstrumentedCatalog) Upsert(ctx context.Context, rec *storage.DownloadRecord) error {
	return c.telemetry.InstrumentDBOperation(ctx, "upsert", func(ctx context.Context) error {
		return c.catalog.Upsert(ctx, rec)
	})
}

func (c *InstrumentedCatalog) SetProgress(ctx context.Context, id string, percent float64) error {
	return c.telemetry.InstrumentDBOperation(ctx, "set_progress", func(ctx context.Context) error {
		return c.catalog.SetProgress(ctx, id, percent)
	})
}

func (c *InstrumentedCatalog) SetStatus(ctx context.Context, id string, status storage.Status) error {
	return c.telemetry.InstrumentDBOperation(ctx, "set_status", func(ctx context.Context) error {
		return c.catalog.SetStatus(ctx, id, status)
	})
}

func (c *InstrumentedCatalog) MarkCompleted(ctx context.Context, id, fileURI string) error {
	return c.telemetry.InstrumentDBOperation(ctx, "mark_completed", func(ctx context.Context) error {
		return c.catalog.MarkCompleted(ctx, id, fileURI)
	})
}

func (c *InstrumentedCatalog) SetFileSize(ctx context.Context, id string, size int64) error {
	return c.telemetry.InstrumentDBOperation(ctx, "set_file_size", func(ctx context.Context) error {
		return c.catalog.SetFileSize(ctx, id, size)
	})
}

func (c *InstrumentedCatalog) Get(ctx context.Context, id string) (*storage.DownloadRecord, error) {
	var rec *storage.DownloadRecord

	err := c.telemetry.InstrumentDBOperation(ctx, "get", func(ctx context.Context) error {
		var err error
		rec, err = c.catalog.Get(ctx, id)

		return err
	})

	return rec, err
}

func (c *InstrumentedCatalog) GetByCourse(ctx context.Context, courseID string) ([]storage.DownloadRecord, error) {
	var records []storage.DownloadRecord

	err := c.telemetry.InstrumentDBOperation(ctx, "get_by_course", func(ctx context.Context) error {
		var err error
		records, err = c.catalog.GetByCourse(ctx, courseID)

		return err
	})

	return records, err
}

func (c *InstrumentedCatalog) GetAll(ctx context.Context) ([]storage.DownloadRecord, error) {
	var records []storage.DownloadRecord

	err := c.telemetry.InstrumentDBOperation(ctx, "get_all", func(ctx context.Context) error {
		var err error
		records, err = c.catalog.GetAll(ctx)

		return err
	})

	return records, err
}

func (c *InstrumentedCatalog) SumCompletedFileSize(ctx context.Context) (int64, error) {
	var total int64

	err := c.telemetry.InstrumentDBOperation(ctx, "sum_completed_file_size", func(ctx context.Context) error {
		var err error
		total, err = c.catalog.SumCompletedFileSize(ctx)

		return err
	})

	return total, err
}

func (c *InstrumentedCatalog) CountCompleted(ctx context.Context) (int, error) {
	var count int

	err := c.telemetry.InstrumentDBOperation(ctx, "count_completed", func(ctx context.Context) error {
		var err error
		count, err = c.catalog.CountCompleted(ctx)

		return err
	})

	return count, err
}

func (c *InstrumentedCatalog) DeleteByID(ctx context.Context, id string) error {
	return c.telemetry.InstrumentDBOperation(ctx, "delete_by_id", func(ctx context.Context) error {
		return c.catalog.DeleteByID(ctx, id)
	})
}

func (c *InstrumentedCatalog) DeleteByCourse(ctx context.Context, courseID string) ([]string, error) {
	var uris []string

	err := c.telemetry.InstrumentDBOperation(ctx, "delete_by_course", func(ctx context.Context) error {
		var err error
		uris, err = c.catalog.DeleteByCourse(ctx, courseID)

		return err
	})

	return uris, err
}

func (c *InstrumentedCatalog) DemoteActive(ctx context.Context, to storage.Status) (int64, error) {
	var demoted int64

	err := c.telemetry.InstrumentDBOperation(ctx, "demote_active", func(ctx context.Context) error {
		var err error
		demoted, err = c.catalog.DemoteActive(ctx, to)

		return err
	})

	return demoted, err
}
