package outbox

import (
	"sync"
	"sync/atomic"
)

// Queue is a bounded in-memory task queue. Enqueue never blocks.
type Queue struct {
	ch        chan *Task
	capacity  int
	dropped   uint64
	closed    int32
	enqSeq    uint64
	enqWg     sync.WaitGroup
	closeOnce sync.Once

	mu      sync.Mutex
	pending map[string]struct{}
}

// NewQueue creates a queue of the given capacity (>0).
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		panic("outbox.NewQueue: capacity must be > 0; ensure config.ValidateConfig() applied defaults")
	}
	return &Queue{
		ch:       make(chan *Task, capacity),
		capacity: capacity,
		pending:  make(map[string]struct{}),
	}
}

// Enqueue hands t to the workers without blocking.
func (q *Queue) Enqueue(t *Task) error {
	if atomic.LoadInt32(&q.closed) == 1 {
		return ErrQueueClosed
	}
	q.enqWg.Add(1)
	defer q.enqWg.Done()
	if atomic.LoadInt32(&q.closed) == 1 {
		return ErrQueueClosed
	}

	if t.Durable {
		k := t.Key()
		q.mu.Lock()
		if _, ok := q.pending[k]; ok {
			q.mu.Unlock()
			return ErrAlreadyQueued
		}
		q.pending[k] = struct{}{}
		q.mu.Unlock()
	}

	t.EnqSeq = atomic.AddUint64(&q.enqSeq, 1)
	select {
	case q.ch <- t:
		return nil
	default:
		atomic.AddUint64(&q.dropped, 1)
		q.release(t)
		return ErrQueueFull
	}
}

func (q *Queue) release(t *Task) {
	if !t.Durable {
		return
	}
	q.mu.Lock()
	delete(q.pending, t.Key())
	q.mu.Unlock()
}

// RunWorker consumes tasks one by one until stop closes or the queue is
// closed and drained.
func (q *Queue) RunWorker(stop <-chan struct{}, handler func(*Task) error) {
	for {
		select {
		case t, ok := <-q.ch:
			if !ok {
				return
			}
			func() {
				defer q.release(t)
				_ = handler(t)
			}()
		case <-stop:
			return
		}
	}
}

// Close rejects further enqueues and waits for in-flight ones. Tasks
// already queued remain readable by workers.
func (q *Queue) Close() error {
	if !atomic.CompareAndSwapInt32(&q.closed, 0, 1) {
		return nil
	}
	q.enqWg.Wait()
	q.closeOnce.Do(func() { close(q.ch) })
	return nil
}

func (q *Queue) Len() int        { return len(q.ch) }
func (q *Queue) Cap() int        { return q.capacity }
func (q *Queue) Dropped() uint64 { return atomic.LoadUint64(&q.dropped) }
