package watch

import (
	"context"
	"sync"
)

// Queue is a FIFO of change events deduplicated by file path.
//
// An event for a file that is already queued replaces the queued one. An event for
// a file that is being processed is held back until Done is called for it.
type Queue struct {
	mu sync.Mutex

	// queue holds events in FIFO order
	queue []ChangeEvent

	// processing tracks files currently being processed
	processing map[string]bool

	// dirty tracks files that changed again while being processed
	dirty map[string]ChangeEvent

	// cond is used for blocking Get operations
	cond *sync.Cond

	shuttingDown bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	q := &Queue{
		processing: make(map[string]bool),
		dirty:      make(map[string]ChangeEvent),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Add adds or updates the event for a file.
func (q *Queue) Add(event ChangeEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shuttingDown {
		return
	}

	key := event.FilePath

	if q.processing[key] {
		q.dirty[key] = event
		return
	}

	for i, existing := range q.queue {
		if existing.FilePath == key {
			q.queue[i] = event
			return
		}
	}

	q.queue = append(q.queue, event)
	q.cond.Signal()
}

// Get returns the next event, blocking until one is available. It returns false once
// ctx is done or the queue is shut down and drained.
func (q *Queue) Get(ctx context.Context) (ChangeEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.queue) == 0 && !q.shuttingDown {
		if ctx.Err() != nil {
			return ChangeEvent{}, false
		}

		// Wake the cond when ctx is cancelled. done stops the helper on a normal wakeup.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				q.mu.Lock()
				q.cond.Broadcast()
				q.mu.Unlock()
			case <-done:
			}
		}()

		q.cond.Wait()
		close(done)

		if ctx.Err() != nil {
			return ChangeEvent{}, false
		}
	}

	if len(q.queue) == 0 {
		return ChangeEvent{}, false
	}

	event := q.queue[0]
	q.queue = q.queue[1:]
	q.processing[event.FilePath] = true

	return event, true
}

// Done marks the event's file as processed and requeues a change that arrived
// meanwhile.
func (q *Queue) Done(event ChangeEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := event.FilePath
	delete(q.processing, key)

	if dirtyEvent, ok := q.dirty[key]; ok {
		delete(q.dirty, key)
		if q.shuttingDown {
			return
		}
		q.queue = append(q.queue, dirtyEvent)
		q.cond.Signal()
	}
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Shutdown stops accepting events and wakes all waiting callers.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shuttingDown = true
	q.cond.Broadcast()
}
