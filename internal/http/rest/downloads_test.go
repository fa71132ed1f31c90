package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coursecache/coursecache/internal/downloader"
	"github.com/coursecache/coursecache/internal/storage/sqlite"
	"github.com/coursecache/coursecache/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 5 * time.Second

// newTestAPI wires a full manager behind the REST routes, with an httptest
// asset host standing in for the remote CDN.
func newTestAPI(t *testing.T) (http.Handler, *httptest.Server) {
	t.Helper()

	assets := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("asset-bytes"))
	}))
	t.Cleanup(assets.Close)

	dir := t.TempDir()

	db, err := sqlite.InitDB(filepath.Join(dir, "downloads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	catalog := sqlite.NewCatalog(db)
	events := downloader.NewEvents()
	exec := downloader.NewExecutor(catalog, transfer.NewClient(0), events, nil, filepath.Join(dir, "offline"))
	sched := downloader.NewScheduler(context.Background(), exec.Run, nil, 2)
	mgr := downloader.NewManager(catalog, exec, sched, events)

	return NewDownloadHandler(mgr).Routes(), assets
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	return rec
}

func startBody(assetURL string) string {
	return fmt.Sprintf(`{
		"lessonId": "L1",
		"courseId": "course-1",
		"courseTitle": "Intro to Go",
		"lessonTitle": "Lesson One",
		"contentType": "video",
		"remoteUrl": %q
	}`, assetURL)
}

func waitForStatus(t *testing.T, handler http.Handler, id, want string) downloadItem {
	t.Helper()

	var item downloadItem

	require.Eventually(t, func() bool {
		rec := doJSON(t, handler, http.MethodGet, "/downloads/"+id, "")
		if rec.Code != http.StatusOK {
			return false
		}

		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))

		return item.Status == want
	}, waitFor, 10*time.Millisecond)

	return item
}

func TestStartAndGetDownload(t *testing.T) {
	handler, assets := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodPost, "/downloads", startBody(assets.URL+"/a.mp4"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "L1_video", created["id"])

	item := waitForStatus(t, handler, "L1_video", "completed")
	assert.Equal(t, "L1", item.LessonID)
	assert.Equal(t, float64(100), item.ProgressPercent)
	assert.NotEmpty(t, item.LocalFileURI)
	assert.Equal(t, int64(len("asset-bytes")), item.FileSize)
}

func TestStartRejectsBadInput(t *testing.T) {
	handler, _ := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodPost, "/downloads", `{"lessonId": "L1"`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/downloads",
		`{"lessonId": "L1", "contentType": "exe", "remoteUrl": "http://x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetUnknownDownloadIs404(t *testing.T) {
	handler, _ := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodGet, "/downloads/missing_video", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelDownload(t *testing.T) {
	handler, assets := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodPost, "/downloads", startBody(assets.URL+"/a.mp4"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	waitForStatus(t, handler, "L1_video", "completed")

	rec = doJSON(t, handler, http.MethodDelete, "/downloads/L1_video", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/downloads/L1_video", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCourseRoutes(t *testing.T) {
	handler, assets := newTestAPI(t)

	body := fmt.Sprintf(`{
		"courseTitle": "Intro to Go",
		"lessons": [
			{"lessonId": "L1", "lessonTitle": "One", "videoUrl": %q, "pdfUrl": %q},
			{"lessonId": "L2", "lessonTitle": "Two", "audioUrl": %q}
		]
	}`, assets.URL+"/1.mp4", assets.URL+"/1.pdf", assets.URL+"/2.mp3")

	rec := doJSON(t, handler, http.MethodPost, "/courses/course-1/downloads", body)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.ElementsMatch(t, []string{"L1_video", "L1_pdf", "L2_audio"}, created["ids"])

	require.Eventually(t, func() bool {
		rec := doJSON(t, handler, http.MethodGet, "/courses/course-1/downloads", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var items []downloadItem
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))

		if len(items) != 3 {
			return false
		}

		for _, item := range items {
			if item.Status != "completed" {
				return false
			}
		}

		return true
	}, waitFor, 10*time.Millisecond)

	rec = doJSON(t, handler, http.MethodDelete, "/courses/course-1/downloads", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/courses/course-1/downloads", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestOfflineURIRoute(t *testing.T) {
	handler, assets := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodGet, "/lessons/L1/avi/uri", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/lessons/L1/video/uri", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"uri": null}`, rec.Body.String())

	rec = doJSON(t, handler, http.MethodPost, "/downloads", startBody(assets.URL+"/a.mp4"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	waitForStatus(t, handler, "L1_video", "completed")

	rec = doJSON(t, handler, http.MethodGet, "/lessons/L1/video/uri", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["uri"])
}

func TestUsageRoute(t *testing.T) {
	handler, assets := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodGet, "/downloads/usage", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"totalBytes": 0, "completedCount": 0}`, rec.Body.String())

	rec = doJSON(t, handler, http.MethodPost, "/downloads", startBody(assets.URL+"/a.mp4"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	waitForStatus(t, handler, "L1_video", "completed")

	rec = doJSON(t, handler, http.MethodGet, "/downloads/usage", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var usage usageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &usage))
	assert.Equal(t, int64(len("asset-bytes")), usage.TotalBytes)
	assert.Equal(t, 1, usage.CompletedCount)
}
