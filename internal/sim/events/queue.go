// Package events provides the deferred notification queue used by the
// simulation state to deliver change events outside of the mutation path.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/signalsfoundry/animat-simulator/internal/logging"
)

// ErrQueueDisposed is returned by InvokeLater once the queue is disposed.
var ErrQueueDisposed = errors.New("event queue disposed")

// Queue runs tasks later, one at a time, in the order they were enqueued.
//
// Every task runs while holding the shared lock the queue was built with, so a
// task never races the mutations that lock guards and always observes their
// committed result. Because the lock is taken by the queue's own worker,
// InvokeLater never blocks the caller, and callers may (and normally do) hold
// the lock while enqueueing.
//
// Tasks must not call anything that takes the shared lock themselves; sync.Mutex
// is not reentrant.
//
// Disposal policy: once Dispose is called, tasks still pending are dropped and
// further InvokeLater calls are rejected with ErrQueueDisposed. A task already
// handed to the worker still runs.
type Queue struct {
	lock sync.Locker
	log  logging.Logger

	mu       sync.Mutex
	tasks    []func()
	disposed bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

// NewQueue starts a queue whose tasks run under lock.
func NewQueue(lock sync.Locker, log logging.Logger) *Queue {
	if log == nil {
		log = logging.Noop()
	}
	q := &Queue{
		lock: lock,
		log:  log,
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

// InvokeLater appends task to the queue.
func (q *Queue) InvokeLater(task func()) error {
	if task == nil {
		return nil
	}
	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return ErrQueueDisposed
	}
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the number of tasks not yet handed to the worker.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Flush blocks until every task enqueued before the call has run. It must not
// be called while holding the queue's lock.
func (q *Queue) Flush(ctx context.Context) error {
	reached := make(chan struct{})
	if err := q.InvokeLater(func() { close(reached) }); err != nil {
		return err
	}
	select {
	case <-reached:
		return nil
	case <-q.done:
		return ErrQueueDisposed
	case <-ctx.Done():
		return fmt.Errorf("flush event queue: %w", ctx.Err())
	}
}

// Dispose stops the queue. It does not wait for the worker, so it is safe to
// call while holding the queue's lock. Calling it again is a no-op.
func (q *Queue) Dispose() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.disposed {
		return
	}
	q.disposed = true
	q.tasks = nil
	close(q.quit)
}

// Done is closed when the worker has exited after Dispose.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		task, ok := q.next()
		if !ok {
			select {
			case <-q.wake:
				continue
			case <-q.quit:
				return
			}
		}
		q.execute(task)
	}
}

// next pops the oldest task. It reports false when the queue is empty or has
// been disposed.
func (q *Queue) next() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.disposed || len(q.tasks) == 0 {
		return nil, false
	}
	task := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return task, true
}

func (q *Queue) execute(task func()) {
	q.lock.Lock()
	defer q.lock.Unlock()
	defer func() {
		if r := recover(); r != nil {
			q.log.Error(context.Background(), "event listener panicked", logging.Any("panic", r))
		}
	}()
	task()
}
