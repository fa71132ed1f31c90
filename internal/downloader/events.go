package downloader

import (
	"sync"

	"github.com/coursecache/coursecache/internal/storage"
)

// ProgressEvent is pushed whenever a record's progress percentage changes.
// Consumers refresh their own view of the catalog; the event carries only
// what a progress bar needs.
type ProgressEvent struct {
	ID      string
	Percent float64
}

// StatusEvent is pushed whenever a record changes lifecycle state. Removed is
// set when the record was cancelled out of existence; Status is then empty.
type StatusEvent struct {
	ID      string
	Status  storage.Status
	Removed bool
}

// Events broadcasts progress and status changes to any number of
// subscribers. Handlers run synchronously on the publishing goroutine and
// must return quickly.
type Events struct {
	mu       sync.Mutex
	nextID   int
	progress map[int]func(ProgressEvent)
	status   map[int]func(StatusEvent)
}

func NewEvents() *Events {
	return &Events{
		progress: make(map[int]func(ProgressEvent)),
		status:   make(map[int]func(StatusEvent)),
	}
}

// SubscribeProgress registers a progress listener and returns its
// unsubscribe function.
func (e *Events) SubscribeProgress(fn func(ProgressEvent)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID
	e.nextID++
	e.progress[id] = fn

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()

		delete(e.progress, id)
	}
}

// SubscribeStatus registers a status listener and returns its unsubscribe
// function.
func (e *Events) SubscribeStatus(fn func(StatusEvent)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID
	e.nextID++
	e.status[id] = fn

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()

		delete(e.status, id)
	}
}

func (e *Events) publishProgress(ev ProgressEvent) {
	e.mu.Lock()
	listeners := make([]func(ProgressEvent), 0, len(e.progress))

	for _, fn := range e.progress {
		listeners = append(listeners, fn)
	}
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

func (e *Events) publishStatus(ev StatusEvent) {
	e.mu.Lock()
	listeners := make([]func(StatusEvent), 0, len(e.status))

	for _, fn := range e.status {
		listeners = append(listeners, fn)
	}
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}
