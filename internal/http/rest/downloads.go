package rest

import (
	"encoding/json"
	"net/http"

	"github.com/coursecache/coursecache/internal/downloader"
	"github.com/coursecache/coursecache/internal/logctx"
	"github.com/coursecache/coursecache/internal/storage"
	"github.com/go-chi/chi/v5"
)

// DownloadHandler exposes the download manager to the app layers over REST.
type DownloadHandler struct {
	mgr *downloader.Manager
}

func NewDownloadHandler(mgr *downloader.Manager) *DownloadHandler {
	return &DownloadHandler{mgr: mgr}
}

func (h *DownloadHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/downloads", h.list)
	r.Post("/downloads", h.start)
	r.Get("/downloads/usage", h.usage)
	r.Get("/downloads/{id}", h.get)
	r.Delete("/downloads/{id}", h.cancel)
	r.Post("/downloads/{id}/pause", h.pause)
	r.Post("/downloads/{id}/resume", h.resume)

	r.Get("/courses/{courseID}/downloads", h.listCourse)
	r.Post("/courses/{courseID}/downloads", h.startCourse)
	r.Delete("/courses/{courseID}/downloads", h.clearCourse)

	r.Get("/lessons/{lessonID}/{contentType}/uri", h.offlineURI)

	return r
}

type startRequest struct {
	LessonID         string `json:"lessonId"`
	CourseID         string `json:"courseId"`
	CourseTitle      string `json:"courseTitle"`
	LessonTitle      string `json:"lessonTitle"`
	ContentType      string `json:"contentType"`
	RemoteURL        string `json:"remoteUrl"`
	ExpectedFileSize int64  `json:"expectedFileSize"`
}

type courseRequest struct {
	CourseTitle string `json:"courseTitle"`
	Lessons     []struct {
		LessonID    string `json:"lessonId"`
		LessonTitle string `json:"lessonTitle"`
		VideoURL    string `json:"videoUrl"`
		AudioURL    string `json:"audioUrl"`
		PDFURL      string `json:"pdfUrl"`
	} `json:"lessons"`
}

type downloadItem struct {
	ID              string  `json:"id"`
	LessonID        string  `json:"lessonId"`
	CourseID        string  `json:"courseId"`
	CourseTitle     string  `json:"courseTitle"`
	LessonTitle     string  `json:"lessonTitle"`
	ContentType     string  `json:"contentType"`
	Status          string  `json:"status"`
	ProgressPercent float64 `json:"progressPercent"`
	LocalFileURI    string  `json:"localFileUri,omitempty"`
	FileSize        int64   `json:"fileSize"`
}

type usageResponse struct {
	TotalBytes     int64 `json:"totalBytes"`
	CompletedCount int   `json:"completedCount"`
}

func toItem(rec *storage.DownloadRecord) downloadItem {
	return downloadItem{
		ID:              rec.ID,
		LessonID:        rec.LessonID,
		CourseID:        rec.CourseID,
		CourseTitle:     rec.CourseTitle,
		LessonTitle:     rec.LessonTitle,
		ContentType:     string(rec.ContentType),
		Status:          string(rec.Status),
		ProgressPercent: rec.ProgressPercent,
		LocalFileURI:    rec.LocalFileURI,
		FileSize:        rec.ExpectedFileSize,
	}
}

func (h *DownloadHandler) start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	id, err := h.mgr.StartDownload(r.Context(), downloader.StartParams{
		LessonID:         req.LessonID,
		CourseID:         req.CourseID,
		CourseTitle:      req.CourseTitle,
		LessonTitle:      req.LessonTitle,
		ContentType:      storage.ContentType(req.ContentType),
		RemoteURL:        req.RemoteURL,
		ExpectedFileSize: req.ExpectedFileSize,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (h *DownloadHandler) list(w http.ResponseWriter, r *http.Request) {
	records, err := h.mgr.ListDownloads(r.Context())
	if err != nil {
		h.serverError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, itemList(records))
}

func (h *DownloadHandler) get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.mgr.GetDownload(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.serverError(w, r, err)

		return
	}

	if rec == nil {
		http.Error(w, "download not found", http.StatusNotFound)

		return
	}

	writeJSON(w, http.StatusOK, toItem(rec))
}

func (h *DownloadHandler) pause(w http.ResponseWriter, r *http.Request) {
	if err := h.mgr.PauseDownload(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.serverError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *DownloadHandler) resume(w http.ResponseWriter, r *http.Request) {
	if err := h.mgr.ResumeDownload(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.serverError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *DownloadHandler) cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.mgr.CancelDownload(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.serverError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *DownloadHandler) startCourse(w http.ResponseWriter, r *http.Request) {
	var req courseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	params := downloader.CourseParams{
		CourseID:    chi.URLParam(r, "courseID"),
		CourseTitle: req.CourseTitle,
	}

	for _, lesson := range req.Lessons {
		params.Lessons = append(params.Lessons, downloader.CourseLesson{
			LessonID:    lesson.LessonID,
			LessonTitle: lesson.LessonTitle,
			VideoURL:    lesson.VideoURL,
			AudioURL:    lesson.AudioURL,
			PDFURL:      lesson.PDFURL,
		})
	}

	ids, err := h.mgr.DownloadAllCourse(r.Context(), params)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"ids": ids})
}

func (h *DownloadHandler) listCourse(w http.ResponseWriter, r *http.Request) {
	records, err := h.mgr.ListCourseDownloads(r.Context(), chi.URLParam(r, "courseID"))
	if err != nil {
		h.serverError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, itemList(records))
}

func (h *DownloadHandler) clearCourse(w http.ResponseWriter, r *http.Request) {
	if err := h.mgr.ClearCourseDownloads(r.Context(), chi.URLParam(r, "courseID")); err != nil {
		h.serverError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *DownloadHandler) offlineURI(w http.ResponseWriter, r *http.Request) {
	contentType := storage.ContentType(chi.URLParam(r, "contentType"))
	if !contentType.Valid() {
		http.Error(w, "invalid content type", http.StatusBadRequest)

		return
	}

	uri, err := h.mgr.GetOfflineURI(r.Context(), chi.URLParam(r, "lessonID"), contentType)
	if err != nil {
		h.serverError(w, r, err)

		return
	}

	if uri == "" {
		writeJSON(w, http.StatusOK, map[string]any{"uri": nil})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"uri": uri})
}

func (h *DownloadHandler) usage(w http.ResponseWriter, r *http.Request) {
	usage := h.mgr.StorageUsage(r.Context())

	writeJSON(w, http.StatusOK, usageResponse{
		TotalBytes:     usage.TotalBytes,
		CompletedCount: usage.CompletedCount,
	})
}

func (h *DownloadHandler) serverError(w http.ResponseWriter, r *http.Request, err error) {
	logctx.LoggerFromContext(r.Context()).Error("request failed",
		"path", r.URL.Path, "err", err)

	http.Error(w, "internal error", http.StatusInternalServerError)
}

func itemList(records []storage.DownloadRecord) []downloadItem {
	items := make([]downloadItem, 0, len(records))

	for i := range records {
		items = append(items, toItem(&records[i]))
	}

	return items
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}
