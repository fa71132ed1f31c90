package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/coursecache/coursecache/internal/storage"
	"github.com/coursecache/coursecache/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepStaleCompleted(t *testing.T) {
	dir := t.TempDir()

	db, err := sqlite.InitDB(filepath.Join(dir, "downloads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	catalog := sqlite.NewCatalog(db)
	ctx := context.Background()

	presentFile := filepath.Join(dir, "present.mp4")
	require.NoError(t, os.WriteFile(presentFile, []byte("bytes"), 0o644))

	seed := func(lessonID string, status storage.Status, fileURI string) string {
		id := storage.RecordID(lessonID, storage.ContentVideo)
		require.NoError(t, catalog.Upsert(ctx, &storage.DownloadRecord{
			ID:           id,
			LessonID:     lessonID,
			CourseID:     "course-1",
			ContentType:  storage.ContentVideo,
			RemoteURL:    "https://cdn.example.com/" + lessonID,
			LocalFileURI: fileURI,
			Status:       status,
		}))

		return id
	}

	intact := seed("L1", storage.StatusCompleted, presentFile)
	stale := seed("L2", storage.StatusCompleted, filepath.Join(dir, "gone.mp4"))
	paused := seed("L3", storage.StatusPaused, "")

	demoted, err := SweepStaleCompleted(ctx, catalog)
	require.NoError(t, err)
	assert.Equal(t, 1, demoted)

	status := func(id string) storage.Status {
		rec, err := catalog.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, rec)

		return rec.Status
	}

	assert.Equal(t, storage.StatusCompleted, status(intact))
	assert.Equal(t, storage.StatusFailed, status(stale))
	assert.Equal(t, storage.StatusPaused, status(paused))
}

func TestSweepWithEmptyCatalog(t *testing.T) {
	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "downloads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	demoted, err := SweepStaleCompleted(context.Background(), sqlite.NewCatalog(db))
	require.NoError(t, err)
	assert.Zero(t, demoted)
}
