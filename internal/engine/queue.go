package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
)

var ErrQueueClosed = errors.New("queue is closed")

type Task func(ctx context.Context) error

type QueueEventType string

const (
	QueueEnqueued QueueEventType = "enqueued"
	QueueStarted  QueueEventType = "started"
	QueueFinished QueueEventType = "finished"
	QueueDropped  QueueEventType = "dropped"
)

type QueueEvent struct {
	Type    QueueEventType
	Key     string
	Running int
	Pending int
}

type QueueOption func(*Queue)

// WithObserver registers fn for every lifecycle event. It may be given
// more than once.
func WithObserver(fn func(QueueEvent)) QueueOption {
	return func(q *Queue) {
		q.observers = append(q.observers, fn)
	}
}

// WithErrorHandler receives every task error and recovered panic.
func WithErrorHandler(fn func(key string, err error)) QueueOption {
	return func(q *Queue) {
		q.onError = fn
	}
}

// Queue runs tasks in FIFO order per key with at most limit tasks of
// the same key in flight. Keys never wait on each other.
type Queue struct {
	limit     int
	observers []func(QueueEvent)
	onError   func(key string, err error)

	mu      sync.Mutex
	closed  bool
	running map[string]int
	pending map[string][]queuedTask
	wg      sync.WaitGroup
}

type queuedTask struct {
	ctx  context.Context
	task Task
}

func NewQueue(limit int, opts ...QueueOption) *Queue {
	if limit < 1 {
		limit = 1
	}
	q := &Queue{
		limit:   limit,
		running: make(map[string]int),
		pending: make(map[string][]queuedTask),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue accepts task under key and returns without waiting for it.
// It returns ErrQueueClosed once Close has been called.
func (q *Queue) Enqueue(ctx context.Context, key string, task Task) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.wg.Add(1)
	q.pending[key] = append(q.pending[key], queuedTask{ctx: ctx, task: task})
	ev := q.eventLocked(QueueEnqueued, key)
	q.mu.Unlock()

	q.emit(ev)
	q.advance(key)
	return nil
}

// Close stops the queue from starting tasks and discards those still
// pending. Running tasks are left to finish. It returns the number of
// discarded tasks.
func (q *Queue) Close() int {
	q.mu.Lock()
	q.closed = true
	dropped := 0
	var events []QueueEvent
	for key, items := range q.pending {
		dropped += len(items)
		delete(q.pending, key)
		events = append(events, q.eventLocked(QueueDropped, key))
	}
	q.mu.Unlock()

	for _, ev := range events {
		q.emit(ev)
	}
	for range dropped {
		q.wg.Done()
	}
	return dropped
}

// Stats reports the running and pending counts for key.
func (q *Queue) Stats(key string) (running, pending int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running[key], len(q.pending[key])
}

// Wait blocks until every accepted task has finished.
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) advance(key string) {
	for {
		q.mu.Lock()
		queue := q.pending[key]
		if q.closed || q.running[key] >= q.limit || len(queue) == 0 {
			q.mu.Unlock()
			return
		}
		next := queue[0]
		queue[0] = queuedTask{}
		if len(queue) == 1 {
			delete(q.pending, key)
		} else {
			q.pending[key] = queue[1:]
		}
		q.running[key]++
		ev := q.eventLocked(QueueStarted, key)
		q.mu.Unlock()

		q.emit(ev)
		go q.run(key, next)
	}
}

func (q *Queue) run(key string, item queuedTask) {
	defer q.wg.Done()

	err := invoke(item)

	q.mu.Lock()
	q.running[key]--
	if q.running[key] <= 0 {
		delete(q.running, key)
	}
	ev := q.eventLocked(QueueFinished, key)
	q.mu.Unlock()

	q.emit(ev)
	if err != nil && q.onError != nil {
		q.onError(key, err)
	}
	q.advance(key)
}

func invoke(item queuedTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return item.task(item.ctx)
}

func (q *Queue) eventLocked(typ QueueEventType, key string) QueueEvent {
	return QueueEvent{Type: typ, Key: key, Running: q.running[key], Pending: len(q.pending[key])}
}

func (q *Queue) emit(ev QueueEvent) {
	for _, fn := range q.observers {
		fn(ev)
	}
}
