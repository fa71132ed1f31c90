package downloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coursecache/coursecache/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileExt(t *testing.T) {
	tests := []struct {
		name        string
		remoteURL   string
		contentType storage.ContentType
		want        string
	}{
		{name: "mp4 from url", remoteURL: "https://cdn.example.com/a.mp4", contentType: storage.ContentVideo, want: "mp4"},
		{name: "uppercase extension", remoteURL: "https://cdn.example.com/a.MP4", contentType: storage.ContentVideo, want: "mp4"},
		{name: "query string ignored", remoteURL: "https://cdn.example.com/a.webm?token=abc", contentType: storage.ContentVideo, want: "webm"},
		{name: "m4a from url", remoteURL: "https://cdn.example.com/a.m4a", contentType: storage.ContentAudio, want: "m4a"},
		{name: "unknown extension falls back video", remoteURL: "https://cdn.example.com/stream.bin", contentType: storage.ContentVideo, want: "mp4"},
		{name: "no extension falls back audio", remoteURL: "https://cdn.example.com/stream", contentType: storage.ContentAudio, want: "mp3"},
		{name: "no extension falls back pdf", remoteURL: "https://cdn.example.com/doc", contentType: storage.ContentPDF, want: "pdf"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, fileExt(tc.remoteURL, tc.contentType))
		})
	}
}

func TestDestPathLayout(t *testing.T) {
	h := newHarness(t, 2)

	rec := &storage.DownloadRecord{
		ID:          "L1_video",
		ContentType: storage.ContentVideo,
		RemoteURL:   "https://cdn.example.com/a.mp4",
	}

	assert.Equal(t, filepath.Join(h.root, "video", "L1_video.mp4"), h.exec.DestPath(rec))
}

func TestRunMissingRecordReturnsNotFound(t *testing.T) {
	h := newHarness(t, 2)

	err := h.exec.Run(context.Background(), "ghost_video")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Zero(t, h.starter.startCount())
}

func TestRunSkipsNonPendingRecord(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()

	rec := &storage.DownloadRecord{
		ID:          storage.RecordID("L1", storage.ContentVideo),
		LessonID:    "L1",
		CourseID:    "course-1",
		ContentType: storage.ContentVideo,
		RemoteURL:   "https://cdn.example.com/a.mp4",
		Status:      storage.StatusPaused,
	}
	require.NoError(t, h.catalog.Upsert(ctx, rec))

	require.NoError(t, h.exec.Run(ctx, rec.ID))
	assert.Zero(t, h.starter.startCount())
	assert.Equal(t, storage.StatusPaused, h.status(t, rec.ID))
}

func TestRunPersistsProgress(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()

	id, err := h.mgr.StartDownload(ctx, videoParams("L1", "https://cdn.example.com/a.mp4"))
	require.NoError(t, err)

	tr := h.starter.waitStarted(t)
	tr.reportProgress(250, 1000)

	require.Eventually(t, func() bool {
		rec, err := h.catalog.Get(ctx, id)
		require.NoError(t, err)

		return rec != nil && rec.ProgressPercent == 25
	}, waitFor, 10*time.Millisecond)

	tr.completeWithBytes(t, 1000)
}

func TestCancelDuringAdmissionRemovesPartialFile(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()

	destPaths := make(chan string, 1)

	// Cancel while the transfer is starting: no handle is registered yet and
	// no file exists for the cancel to remove, so when the partial file shows
	// up afterwards the executor has to stop the transfer and delete it.
	h.starter.onStart = func(destPath string) {
		require.NoError(t, h.mgr.CancelDownload(ctx, "L1_video"))
		require.NoError(t, os.WriteFile(destPath, []byte("partial"), 0o644))
		destPaths <- destPath
	}

	_, err := h.mgr.StartDownload(ctx, videoParams("L1", "https://cdn.example.com/a.mp4"))
	require.NoError(t, err)

	destPath := <-destPaths

	require.Eventually(t, func() bool {
		return h.sched.ActiveCount() == 0
	}, waitFor, 10*time.Millisecond)

	assert.NoFileExists(t, destPath)
	assert.False(t, h.hasActiveHandle("L1_video"))

	rec, err := h.catalog.Get(ctx, "L1_video")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestPauseActiveReportsMissingHandle(t *testing.T) {
	h := newHarness(t, 2)

	assert.False(t, h.exec.PauseActive("nobody_video"))
	assert.False(t, h.exec.CancelActive("nobody_video"))
}
