package withdrawal

import (
	"context"
	"log/slog"
	"sync"
)

// Queue is a strictly serialized FIFO processor for withdrawal identifiers.
// One worker drains it: each job runs to full completion, success or terminal
// failure, before the next starts. That bounds worst-case contention on the
// ledger store to one active withdrawal per process, which is the point --
// UTXO selection across concurrent withdrawals is the primary correctness
// hazard.
//
// The queue is an injected value owned by process startup, not a package
// global.
type Queue struct {
	mu       sync.Mutex
	pending  []string
	queued   map[string]struct{}
	inflight map[string]struct{}

	wake    chan struct{}
	process func(ctx context.Context, id string)
	logger  *slog.Logger
}

// NewQueue builds a queue that runs process for each accepted id.
func NewQueue(process func(ctx context.Context, id string), logger *slog.Logger) *Queue {
	return &Queue{
		queued:   make(map[string]struct{}),
		inflight: make(map[string]struct{}),
		wake:     make(chan struct{}, 1),
		process:  process,
		logger:   logger,
	}
}

// Add appends id unless it is already pending or in flight. Returns whether
// the id was accepted.
func (q *Queue) Add(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, dup := q.queued[id]; dup {
		return false
	}
	if _, dup := q.inflight[id]; dup {
		return false
	}
	q.pending = append(q.pending, id)
	q.queued[id] = struct{}{}

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Len reports how many ids wait in the queue.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) next() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return "", false
	}
	id := q.pending[0]
	q.pending = q.pending[1:]
	delete(q.queued, id)
	q.inflight[id] = struct{}{}
	return id, true
}

func (q *Queue) done(id string) {
	q.mu.Lock()
	delete(q.inflight, id)
	q.mu.Unlock()
}

// Run drains the queue until ctx is cancelled. It is the single consumer;
// callers start it once from process startup.
func (q *Queue) Run(ctx context.Context) {
	for {
		id, ok := q.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		q.logger.Info("processing withdrawal", "transaction_id", id, "queued", q.Len())
		q.process(ctx, id)
		q.done(id)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
