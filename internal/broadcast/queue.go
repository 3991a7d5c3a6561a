package broadcast

import (
	"sync"
)

// Queue is a bounded per-client send buffer. A writer goroutine drains
// [Queue.C]; producers call [Queue.Send], which never blocks and drops the
// frame when the buffer is full or the queue is closed.
type Queue struct {
	id string
	ch chan []byte

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewQueue returns a Queue holding up to size frames.
func NewQueue(id string, size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{id: id, ch: make(chan []byte, size), done: make(chan struct{})}
}

// ID implements [Client].
func (q *Queue) ID() string { return q.id }

// Send implements [Client].
func (q *Queue) Send(frame []byte) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- frame:
		return true
	default:
		return false
	}
}

// C returns the channel the writer drains.
func (q *Queue) C() <-chan []byte { return q.ch }

// Done is closed once [Queue.Close] ran.
func (q *Queue) Done() <-chan struct{} { return q.done }

// Close rejects further frames. Buffered frames stay readable from C.
// Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

var _ Client = (*Queue)(nil)
