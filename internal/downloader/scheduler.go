package downloader

import (
	"context"
	"sync"

	"github.com/coursecache/coursecache/internal/logctx"
	"github.com/coursecache/coursecache/internal/storage"
	"github.com/coursecache/coursecache/internal/telemetry"
)

// runFunc executes the transfer for one record id. It is the Executor's Run
// in production and a stub in tests.
type runFunc func(ctx context.Context, id string) error

// Scheduler admits pending record ids into execution up to a fixed
// concurrency ceiling. Ids wait in FIFO order; every finished run triggers
// another drain pass, so the pipeline sustains itself without polling.
type Scheduler struct {
	ctx       context.Context
	run       runFunc
	tel       *telemetry.Telemetry
	maxActive int

	mu     sync.Mutex
	queue  []string
	queued map[string]struct{}
	active int
}

// NewScheduler builds a scheduler bound to ctx; transfers admitted by the
// scheduler run on that context, not on the context of the request that
// enqueued them.
func NewScheduler(ctx context.Context, run runFunc, tel *telemetry.Telemetry, maxActive int) *Scheduler {
	if maxActive < 1 {
		maxActive = 1
	}

	return &Scheduler{
		ctx:       ctx,
		run:       run,
		tel:       tel,
		maxActive: maxActive,
		queued:    make(map[string]struct{}),
	}
}

// Enqueue appends the id to the admission queue and triggers a drain pass.
// An id already waiting in the queue is not added twice.
func (s *Scheduler) Enqueue(id string) {
	s.mu.Lock()
	if _, ok := s.queued[id]; ok {
		s.mu.Unlock()

		return
	}

	s.queue = append(s.queue, id)
	s.queued[id] = struct{}{}
	depth := len(s.queue)
	s.mu.Unlock()

	s.tel.SetQueueDepth(int64(depth))
	s.drain()
}

// Remove drops a waiting id from the queue. An id already admitted is
// unaffected; cancellation of an active transfer goes through the executor.
func (s *Scheduler) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.queued[id]; !ok {
		return false
	}

	delete(s.queued, id)

	for i, queued := range s.queue {
		if queued == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)

			break
		}
	}

	return true
}

// QueueDepth returns the number of ids waiting for admission.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.queue)
}

// ActiveCount returns the number of admitted, still-running transfers.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.active
}

func (s *Scheduler) drain() {
	for {
		s.mu.Lock()
		if s.active >= s.maxActive || len(s.queue) == 0 {
			s.mu.Unlock()

			return
		}

		id := s.queue[0]
		s.queue = s.queue[1:]
		delete(s.queued, id)
		s.active++
		depth := len(s.queue)
		s.mu.Unlock()

		s.tel.SetQueueDepth(int64(depth))

		go func(id string) {
			logger := logctx.LoggerFromContext(s.ctx)

			if err := s.run(s.ctx, id); err != nil && err != storage.ErrNotFound {
				logger.Error("transfer run finished with error", "record_id", id, "err", err)
			}

			s.mu.Lock()
			s.active--
			s.mu.Unlock()

			s.drain()
		}(id)
	}
}
