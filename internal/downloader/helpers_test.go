package downloader

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/coursecache/coursecache/internal/storage"
	"github.com/coursecache/coursecache/internal/storage/sqlite"
	"github.com/coursecache/coursecache/internal/transfer"
	"github.com/stretchr/testify/require"
)

// fakeTransfer is a controllable in-flight transfer handle.
type fakeTransfer struct {
	destPath   string
	onProgress func(written, total int64)

	mu      sync.Mutex
	done    chan struct{}
	err     error
	written int64
	closed  bool
}

func newFakeTransfer(destPath string, onProgress func(written, total int64)) *fakeTransfer {
	return &fakeTransfer{
		destPath:   destPath,
		onProgress: onProgress,
		done:       make(chan struct{}),
	}
}

func (t *fakeTransfer) finish(written int64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}

	t.closed = true
	t.written = written
	t.err = err
	close(t.done)
}

func (t *fakeTransfer) Pause() {
	t.finish(t.written, &transfer.CanceledError{Reason: transfer.StopPause})
}

func (t *fakeTransfer) Cancel() {
	t.finish(t.written, &transfer.CanceledError{Reason: transfer.StopCancel})
}

func (t *fakeTransfer) Done() <-chan struct{} { return t.done }

func (t *fakeTransfer) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.err
}

func (t *fakeTransfer) Written() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.written
}

// reportProgress drives the executor's progress callback.
func (t *fakeTransfer) reportProgress(written, total int64) {
	t.mu.Lock()
	t.written = written
	t.mu.Unlock()

	if t.onProgress != nil {
		t.onProgress(written, total)
	}
}

// completeWithBytes writes size bytes to the destination and finishes the
// transfer successfully.
func (t *fakeTransfer) completeWithBytes(tb testing.TB, size int) {
	tb.Helper()

	require.NoError(tb, os.WriteFile(t.destPath, make([]byte, size), 0o644))
	t.finish(int64(size), nil)
}

// failWith finishes the transfer with a genuine error.
func (t *fakeTransfer) failWith(err error) {
	t.finish(t.written, err)
}

// fakeStarter hands out fakeTransfers keyed by record destination path.
type fakeStarter struct {
	mu       sync.Mutex
	started  chan *fakeTransfer
	byURL    map[string]*fakeTransfer
	startErr error
	starts   int

	// onStart, when set, runs inside Start before it returns, so tests can
	// interleave work between the transfer starting and the executor
	// registering its handle.
	onStart func(destPath string)
}

func newFakeStarter() *fakeStarter {
	return &fakeStarter{
		started: make(chan *fakeTransfer, 16),
		byURL:   make(map[string]*fakeTransfer),
	}
}

func (s *fakeStarter) Start(_ context.Context, remoteURL, destPath string, _ int64, onProgress func(written, total int64)) (transfer.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.starts++

	if s.startErr != nil {
		return nil, s.startErr
	}

	tr := newFakeTransfer(destPath, onProgress)
	s.byURL[remoteURL] = tr
	s.started <- tr

	if s.onStart != nil {
		s.onStart(destPath)
	}

	return tr, nil
}

func (s *fakeStarter) startCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.starts
}

// waitStarted blocks until the next transfer is admitted.
func (s *fakeStarter) waitStarted(tb testing.TB) *fakeTransfer {
	tb.Helper()

	select {
	case tr := <-s.started:
		return tr
	case <-time.After(5 * time.Second):
		tb.Fatal("timed out waiting for a transfer to start")

		return nil
	}
}

// harness bundles a manager wired to a real sqlite catalog and fake transfers.
type harness struct {
	catalog *sqlite.Catalog
	starter *fakeStarter
	exec    *Executor
	sched   *Scheduler
	mgr     *Manager
	root    string
}

func newHarness(tb testing.TB, maxActive int) *harness {
	tb.Helper()

	dir := tb.TempDir()

	db, err := sqlite.InitDB(filepath.Join(dir, "downloads.db"))
	require.NoError(tb, err)
	tb.Cleanup(func() { db.Close() })

	catalog := sqlite.NewCatalog(db)
	starter := newFakeStarter()
	events := NewEvents()
	root := filepath.Join(dir, "offline")

	exec := NewExecutor(catalog, starter, events, nil, root)
	sched := NewScheduler(context.Background(), exec.Run, nil, maxActive)
	mgr := NewManager(catalog, exec, sched, events)

	return &harness{
		catalog: catalog,
		starter: starter,
		exec:    exec,
		sched:   sched,
		mgr:     mgr,
		root:    root,
	}
}

func (h *harness) hasActiveHandle(id string) bool {
	h.exec.mu.Lock()
	defer h.exec.mu.Unlock()

	_, ok := h.exec.active[id]

	return ok
}

func (h *harness) status(tb testing.TB, id string) storage.Status {
	tb.Helper()

	rec, err := h.catalog.Get(context.Background(), id)
	require.NoError(tb, err)

	if rec == nil {
		return ""
	}

	return rec.Status
}

func videoParams(lessonID, url string) StartParams {
	return StartParams{
		LessonID:    lessonID,
		CourseID:    "course-1",
		CourseTitle: "Intro to Go",
		LessonTitle: "Lesson " + lessonID,
		ContentType: storage.ContentVideo,
		RemoteURL:   url,
	}
}
