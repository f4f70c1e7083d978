package engine

import "sync"

// outcome is the reply to one submitted command.
type outcome struct {
	resp *Response
	err  error
}

// work pairs a command with the channel its reply goes to. The reply
// channel is buffered so the run loop never blocks on a caller that
// gave up.
type work struct {
	cmd   Command
	reply chan outcome
}

// commandQueue is a thread-safe FIFO feeding the runtime's single
// writer loop.
//
// The queue is unbounded: a burst of commands must not block the
// callers that produce them. Signaling goes through a buffered
// channel of size one, coalescing wake-ups, so the run loop can wait
// with a select against its context.
type commandQueue struct {
	mu     sync.Mutex
	items  []work
	closed bool
	signal chan struct{}
}

func newCommandQueue() *commandQueue {
	return &commandQueue{
		items:  make([]work, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// enqueue adds work to the back of the queue. Safe from any
// goroutine. Returns false when the queue is closed.
func (q *commandQueue) enqueue(w work) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, w)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// tryDequeue pops the front item without blocking.
func (q *commandQueue) tryDequeue() (work, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return work{}, false
	}
	w := q.items[0]
	q.items[0] = work{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return w, true
}

// wait returns the signal channel for select-based waiting. The
// channel closes when the queue closes, waking every waiter.
func (q *commandQueue) wait() <-chan struct{} {
	return q.signal
}

func (q *commandQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// close marks the queue closed and drains nothing: items already
// queued are still served by the run loop's shutdown pass.
func (q *commandQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
